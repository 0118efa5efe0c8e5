package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictionJSONShape(t *testing.T) {
	data, err := EncodePrediction(&PartialPrediction{
		Transcription: "привет",
		Output:        "здравствуй",
		Error:         "synthesis failed: boom",
		Model:         "ElevenLabs TTS",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"transcription": "привет",
		"output": "здравствуй",
		"error": "synthesis failed: boom",
		"partial": true,
		"model": "ElevenLabs TTS"
	}`, string(data))

	data, err = EncodePrediction(&TextPrediction{Input: "hi", Output: "hello", Model: "GPT-4 TTS"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"input": "hi", "output": "hello", "model": "GPT-4 TTS"}`, string(data))
}

func TestDecodePrediction(t *testing.T) {
	cases := []struct {
		name     string
		data     string
		expected Prediction
	}{
		{
			name:     "text",
			data:     `{"input": "hi", "output": "hello", "model": "m"}`,
			expected: &TextPrediction{Input: "hi", Output: "hello", Model: "m"},
		},
		{
			name:     "audio",
			data:     `{"transcription": "hi", "output": "hello", "model": "m", "worker": "w1", "audio_result": "results/x_result.ogg"}`,
			expected: &AudioPrediction{Transcription: "hi", Output: "hello", Model: "m", Worker: "w1", AudioResult: "results/x_result.ogg"},
		},
		{
			name:     "partial",
			data:     `{"transcription": "hi", "output": "hello", "error": "e", "partial": true, "model": "m"}`,
			expected: &PartialPrediction{Transcription: "hi", Output: "hello", Error: "e", Partial: true, Model: "m"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := DecodePrediction([]byte(tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, p)
		})
	}

	_, err := DecodePrediction([]byte(`{"foo": 1}`))
	assert.ErrorIs(t, err, ErrUnknownPrediction)

	_, err = DecodePrediction([]byte(`nope`))
	assert.Error(t, err)
}

func TestStageError(t *testing.T) {
	err := error(&StageError{Stage: StageSynthesis, Err: assert.AnError})
	assert.True(t, IsStage(err, StageSynthesis))
	assert.False(t, IsStage(err, StageGeneration))
	assert.ErrorIs(t, err, assert.AnError)
}
