package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	PredictionQueue = "ml_tasks"
	RetryDelay      = 5 * time.Second
	MaxConnectRetry = 5
	DefaultPrefetch = 1
)

type Task interface {
	Type() string

	Payload() []byte

	// Redelivered reports whether the broker handed this message out before.
	Redelivered() bool

	Ack() error

	// Nack returns the message to the queue for another attempt.
	Nack() error

	// Reject discards the message without requeueing it.
	Reject() error
}

// PredictionTaskPayload is the queue message for one submitted task. It only
// routes work: the worker always reloads the task row as the source of truth.
type PredictionTaskPayload struct {
	TaskId     uuid.UUID `json:"task_id"`
	UserId     uuid.UUID `json:"user_id"`
	ModelId    uuid.UUID `json:"model_id"`
	InputData  string    `json:"input_data"`
	InputType  string    `json:"input_type"`
	OutputType string    `json:"output_type"`
}

type Publisher interface {
	PublishPredictionTask(ctx context.Context, payload PredictionTaskPayload) error

	Close()
}

type Receiver interface {
	Tasks() <-chan Task

	Close()
}
