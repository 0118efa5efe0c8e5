package messaging

import (
	"context"
	"sync"
)

type inMemoryTask struct {
	queue       *InMemoryQueue
	payload     []byte
	redelivered bool
}

func (t *inMemoryTask) Type() string {
	return PredictionQueue
}

func (t *inMemoryTask) Payload() []byte {
	return t.payload
}

func (t *inMemoryTask) Redelivered() bool {
	return t.redelivered
}

func (t *inMemoryTask) Ack() error {
	return nil
}

func (t *inMemoryTask) Nack() error {
	t.queue.requeue(&inMemoryTask{queue: t.queue, payload: t.payload, redelivered: true})
	return nil
}

func (t *inMemoryTask) Reject() error {
	return nil
}

// InMemoryQueue is a single-process Publisher and Receiver used by the local
// runner and tests. Messages do not survive a restart; the local runner
// republishes pending tasks from the database on startup.
type InMemoryQueue struct {
	tasks     chan Task
	done      chan struct{}
	closeOnce sync.Once
}

var (
	_ Publisher = (*InMemoryQueue)(nil)
	_ Receiver  = (*InMemoryQueue)(nil)
)

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		tasks: make(chan Task, 100),
		done:  make(chan struct{}),
	}
}

func (q *InMemoryQueue) PublishPredictionTask(ctx context.Context, payload PredictionTaskPayload) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return q.PublishRaw(ctx, data)
}

// PublishRaw enqueues data as is, without validating it as a payload.
func (q *InMemoryQueue) PublishRaw(ctx context.Context, data []byte) error {
	select {
	case q.tasks <- &inMemoryTask{queue: q, payload: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InMemoryQueue) requeue(task *inMemoryTask) {
	go func() {
		select {
		case q.tasks <- task:
		case <-q.done:
		}
	}()
}

func (q *InMemoryQueue) Tasks() <-chan Task {
	return q.tasks
}

func (q *InMemoryQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}
