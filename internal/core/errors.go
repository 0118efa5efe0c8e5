package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const (
	ReasonUnknownModel        = "unknown model"
	ReasonUnknownUser         = "unknown user"
	ReasonInsufficientBalance = "insufficient balance"
	ReasonInvalidInput        = "invalid input"
)

// AdmissionError is returned by Submit when a request is refused before any
// task row is written.
type AdmissionError struct {
	Reason string
	Err    error
}

func (e *AdmissionError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// PublishError means the task was created but could not be enqueued. The task
// has already been moved to failed when this is returned.
type PublishError struct {
	TaskId uuid.UUID
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("failed to enqueue task %s: %v", e.TaskId, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

const (
	StageInput         = "input"
	StageTranscription = "transcription"
	StageGeneration    = "generation"
	StageSynthesis     = "synthesis"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func IsStage(err error, stage string) bool {
	var stageErr *StageError
	return errors.As(err, &stageErr) && stageErr.Stage == stage
}
