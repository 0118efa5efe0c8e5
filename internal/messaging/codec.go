package messaging

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

var ErrMalformedPayload = errors.New("malformed task payload")

// EncodePayload renders payload with encoding/json compatible output so
// consumers written against the standard library read the same bytes.
func EncodePayload(payload PredictionTaskPayload) ([]byte, error) {
	data, err := sonic.ConfigStd.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task payload: %w", err)
	}
	return data, nil
}

func DecodePayload(data []byte) (PredictionTaskPayload, error) {
	var payload PredictionTaskPayload
	if err := sonic.ConfigStd.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if payload.TaskId == uuid.Nil {
		return payload, fmt.Errorf("%w: missing task_id", ErrMalformedPayload)
	}
	return payload, nil
}
