package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/domospb/whoisalice/internal/config"
)

type Transcriber interface {
	// audioPath must point to a local file for the duration of the call.
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

type Audio struct {
	Data []byte
	// Extension including the dot, e.g. ".ogg".
	Ext string
}

const DefaultAudioExt = ".ogg"

const (
	BackendMock        = "mock"
	BackendOpenAI      = "openai"
	BackendHuggingFace = "huggingface"
	BackendSherpa      = "sherpa"
	BackendLangChain   = "langchain"
	BackendGemini      = "gemini"
)

// Backends bundles the three inference stages used by the worker pipeline.
type Backends struct {
	STT  Transcriber
	Chat Generator
	TTS  Synthesizer

	closers []func()
}

func (b *Backends) Close() {
	for _, c := range b.closers {
		c()
	}
}

func chatOptions(cfg config.InferenceConfig) ChatOptions {
	return ChatOptions{
		SystemPrompt: cfg.SystemPrompt,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		TopP:         cfg.TopP,
	}
}

type ChatOptions struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  float64
	TopP         float64
}

// credentialed falls back to the mock backend when the selected one needs
// an api token that is not configured.
func credentialed(stage, backend string, cfg config.InferenceConfig) string {
	var token string
	switch backend {
	case BackendOpenAI:
		token = cfg.OpenAIAPIKey
	case BackendHuggingFace, BackendLangChain:
		token = cfg.HuggingFaceToken
	case BackendGemini:
		token = cfg.GeminiAPIKey
	default:
		return backend
	}
	if token == "" {
		slog.Warn("no api token configured, using mock backend", "stage", stage, "backend", backend)
		return BackendMock
	}
	return backend
}

func NewBackends(ctx context.Context, cfg config.InferenceConfig) (*Backends, error) {
	b := &Backends{}

	cfg.STTBackend = credentialed("stt", cfg.STTBackend, cfg)
	cfg.ChatBackend = credentialed("chat", cfg.ChatBackend, cfg)
	cfg.TTSBackend = credentialed("tts", cfg.TTSBackend, cfg)

	switch cfg.STTBackend {
	case BackendMock, "":
		b.STT = MockTranscriber{}
	case BackendOpenAI:
		b.STT = NewOpenAITranscriber(newOpenAIClient(cfg), cfg.OpenAISTTModel, cfg.Language)
	case BackendHuggingFace:
		b.STT = NewHFTranscriber(cfg.HuggingFaceBaseURL, cfg.HuggingFaceToken, cfg.HFSTTModel)
	case BackendSherpa:
		stt, err := NewSherpaTranscriber(cfg.WhisperModelDir, cfg.Language, cfg.WhisperNumThreads)
		if err != nil {
			return nil, err
		}
		b.STT = stt
		b.closers = append(b.closers, stt.Close)
	default:
		return nil, fmt.Errorf("unknown STT backend %q", cfg.STTBackend)
	}

	switch cfg.ChatBackend {
	case BackendMock, "":
		b.Chat = MockGenerator{}
	case BackendOpenAI:
		b.Chat = NewOpenAIGenerator(newOpenAIClient(cfg), cfg.OpenAIChatModel, chatOptions(cfg))
	case BackendLangChain:
		gen, err := NewLangChainGenerator(cfg.HuggingFaceBaseURL+"/v1", cfg.HuggingFaceToken, cfg.HFChatModel, chatOptions(cfg))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Chat = gen
	case BackendGemini:
		gen, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, chatOptions(cfg))
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Chat = gen
	default:
		b.Close()
		return nil, fmt.Errorf("unknown chat backend %q", cfg.ChatBackend)
	}

	switch cfg.TTSBackend {
	case BackendMock, "":
		b.TTS = MockSynthesizer{}
	case BackendOpenAI:
		b.TTS = NewOpenAISynthesizer(newOpenAIClient(cfg), cfg.OpenAITTSModel, cfg.OpenAITTSVoice)
	case BackendHuggingFace:
		b.TTS = NewHFSynthesizer(cfg.HuggingFaceBaseURL, cfg.HuggingFaceToken, cfg.HFTTSModel)
	default:
		b.Close()
		return nil, fmt.Errorf("unknown TTS backend %q", cfg.TTSBackend)
	}

	return b, nil
}
