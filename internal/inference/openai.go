package inference

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/domospb/whoisalice/internal/config"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

func newOpenAIClient(cfg config.InferenceConfig) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
	if cfg.OpenAIBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
	}
	return openai.NewClient(opts...)
}

type OpenAITranscriber struct {
	client   openai.Client
	model    string
	language string
}

func NewOpenAITranscriber(client openai.Client, model, language string) *OpenAITranscriber {
	return &OpenAITranscriber{client: client, model: model, language: language}
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("error opening audio file: %w", err)
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  file,
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}

	res, err := t.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", WrapModelError("stt", t.model, err)
	}
	return res.Text, nil
}

type OpenAIGenerator struct {
	client openai.Client
	model  string
	opts   ChatOptions
}

func NewOpenAIGenerator(client openai.Client, model string, opts ChatOptions) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, model: model, opts: opts}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, text string) (string, error) {
	res, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(g.opts.SystemPrompt),
			openai.UserMessage(text),
		},
		Model:       g.model,
		Temperature: openai.Float(g.opts.Temperature),
		TopP:        openai.Float(g.opts.TopP),
		MaxTokens:   openai.Int(int64(g.opts.MaxTokens)),
	})
	if err != nil {
		return "", WrapModelError("chat", g.model, err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("chat model %s returned no choices", g.model)
	}
	return res.Choices[0].Message.Content, nil
}

type OpenAISynthesizer struct {
	client openai.Client
	model  string
	voice  string
}

func NewOpenAISynthesizer(client openai.Client, model, voice string) *OpenAISynthesizer {
	return &OpenAISynthesizer{client: client, model: model, voice: voice}
}

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	res, err := s.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(s.model),
		Voice:          openai.AudioSpeechNewParamsVoice(s.voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatOpus,
	})
	if err != nil {
		return Audio{}, WrapModelError("tts", s.model, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("error reading speech response: %w", err)
	}
	return Audio{Data: data, Ext: DefaultAudioExt}, nil
}
