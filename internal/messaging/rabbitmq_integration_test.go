//go:build integration

package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/domospb/whoisalice/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func setupRabbitMQContainer(t *testing.T, ctx context.Context) string {
	container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine")
	require.NoError(t, err, "Failed to start RabbitMQ container")

	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()), "Failed to terminate RabbitMQ container")
	})

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err, "Failed to get RabbitMQ AMQP URL")

	return url
}

func receiveTask(t *testing.T, receiver messaging.Receiver) messaging.Task {
	select {
	case task := <-receiver.Tasks():
		return task
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for task")
		return nil
	}
}

func TestRabbitMQ(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	url := setupRabbitMQContainer(t, ctx)

	publisher, err := messaging.NewRabbitMQPublisher(url)
	require.NoError(t, err)
	defer publisher.Close()

	receiver, err := messaging.NewRabbitMQReceiver(url, 1)
	require.NoError(t, err)
	defer receiver.Close()

	t.Run("PublishAndAck", func(t *testing.T) {
		payload := messaging.PredictionTaskPayload{TaskId: uuid.New(), UserId: uuid.New(), ModelId: uuid.New(), InputData: "hi", InputType: "text", OutputType: "text"}
		require.NoError(t, publisher.PublishPredictionTask(ctx, payload))

		task := receiveTask(t, receiver)
		assert.Equal(t, messaging.PredictionQueue, task.Type())

		decoded, err := messaging.DecodePayload(task.Payload())
		require.NoError(t, err)
		assert.Equal(t, payload, decoded)
		require.NoError(t, task.Ack())
	})

	t.Run("NackRedelivers", func(t *testing.T) {
		payload := messaging.PredictionTaskPayload{TaskId: uuid.New(), InputType: "text", OutputType: "text"}
		require.NoError(t, publisher.PublishPredictionTask(ctx, payload))

		first := receiveTask(t, receiver)
		assert.False(t, first.Redelivered())
		require.NoError(t, first.Nack())

		second := receiveTask(t, receiver)
		assert.True(t, second.Redelivered())
		assert.Equal(t, first.Payload(), second.Payload())
		require.NoError(t, second.Ack())
	})

	t.Run("RejectDiscards", func(t *testing.T) {
		payload := messaging.PredictionTaskPayload{TaskId: uuid.New(), InputType: "text", OutputType: "text"}
		require.NoError(t, publisher.PublishPredictionTask(ctx, payload))

		require.NoError(t, receiveTask(t, receiver).Reject())

		select {
		case task := <-receiver.Tasks():
			t.Fatalf("rejected task was redelivered: %s", task.Payload())
		case <-time.After(2 * time.Second):
		}
	})
}
