package inference

import (
	"context"
	"fmt"
	"path/filepath"
)

// Mock backends let the whole pipeline run without credentials.

type MockTranscriber struct{}

func (MockTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("Mock transcription of audio file: %s", filepath.Base(audioPath)), nil
}

type MockGenerator struct{}

func (MockGenerator) Generate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	runes := []rune(text)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return fmt.Sprintf("Mock response to: %s", string(runes)), nil
}

type MockSynthesizer struct{}

func (MockSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	return Audio{Data: []byte("OggS"), Ext: DefaultAudioExt}, nil
}
