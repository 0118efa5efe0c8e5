package inference

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

var ErrUnsupportedAudioFormat = errors.New("unsupported audio format")

// SherpaTranscriber runs a whisper model locally through onnxruntime. The
// recognizer is not safe for concurrent decoding, so calls are serialized.
type SherpaTranscriber struct {
	recognizer *sherpa.OfflineRecognizer
	mu         sync.Mutex
}

func NewSherpaTranscriber(modelDir, language string, numThreads int) (*SherpaTranscriber, error) {
	cfg := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{SampleRate: 16000, FeatureDim: 80},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  filepath.Join(modelDir, "encoder.onnx"),
				Decoder:  filepath.Join(modelDir, "decoder.onnx"),
				Language: language,
				Task:     "transcribe",
			},
			Tokens:     filepath.Join(modelDir, "tokens.txt"),
			NumThreads: numThreads,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&cfg)
	if recognizer == nil {
		return nil, fmt.Errorf("failed to load whisper model from %s", modelDir)
	}
	return &SherpaTranscriber{recognizer: recognizer}, nil
}

func (t *SherpaTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if ext := strings.ToLower(filepath.Ext(audioPath)); ext != ".wav" {
		return "", fmt.Errorf("local whisper accepts wav input, got %q: %w", ext, ErrUnsupportedAudioFormat)
	}

	wave := sherpa.ReadWave(audioPath)
	if wave == nil {
		return "", fmt.Errorf("unable to read wav file %s", filepath.Base(audioPath))
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stream := sherpa.NewOfflineStream(t.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(wave.SampleRate, wave.Samples)
	t.recognizer.Decode(stream)

	return strings.TrimSpace(stream.GetResult().Text), nil
}

func (t *SherpaTranscriber) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(t.recognizer)
		t.recognizer = nil
	}
}
