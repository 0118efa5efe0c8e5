package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/domospb/whoisalice/internal/messaging"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadWireFormat(t *testing.T) {
	payload := messaging.PredictionTaskPayload{
		TaskId:     uuid.MustParse("7f1c2a4e-5b6d-4c3e-9a8b-1d2e3f405162"),
		UserId:     uuid.MustParse("0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"),
		ModelId:    uuid.MustParse("11111111-2222-4333-8444-555555555555"),
		InputData:  "Привет, Алиса",
		InputType:  "text",
		OutputType: "audio",
	}

	data, err := messaging.EncodePayload(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"task_id": "7f1c2a4e-5b6d-4c3e-9a8b-1d2e3f405162",
		"user_id": "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d",
		"model_id": "11111111-2222-4333-8444-555555555555",
		"input_data": "Привет, Алиса",
		"input_type": "text",
		"output_type": "audio"
	}`, string(data))

	decoded, err := messaging.DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodeMalformedPayload(t *testing.T) {
	for name, body := range map[string]string{
		"NotJSON":       `not json at all`,
		"MissingTaskId": `{"user_id": "0a1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d", "input_type": "text"}`,
		"BadUUID":       `{"task_id": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := messaging.DecodePayload([]byte(body))
			assert.ErrorIs(t, err, messaging.ErrMalformedPayload)
		})
	}
}

func TestInMemoryQueueRequeuesOnNack(t *testing.T) {
	queue := messaging.NewInMemoryQueue()
	defer queue.Close()

	payload := messaging.PredictionTaskPayload{TaskId: uuid.New(), InputType: "text", OutputType: "text"}
	require.NoError(t, queue.PublishPredictionTask(context.Background(), payload))

	receive := func() messaging.Task {
		select {
		case task := <-queue.Tasks():
			return task
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for task")
			return nil
		}
	}

	first := receive()
	assert.Equal(t, messaging.PredictionQueue, first.Type())
	assert.False(t, first.Redelivered())
	require.NoError(t, first.Nack())

	second := receive()
	assert.True(t, second.Redelivered())
	decoded, err := messaging.DecodePayload(second.Payload())
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
	require.NoError(t, second.Ack())

	select {
	case task := <-queue.Tasks():
		t.Fatalf("unexpected task after ack: %s", task.Payload())
	case <-time.After(100 * time.Millisecond):
	}
}
