package inference

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
)

func newHFClient(baseURL, token string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetAuthToken(token)
}

func hfModelEndpoint(model string) string {
	return "/hf-inference/models/" + model
}

type HFTranscriber struct {
	client *resty.Client
	model  string
}

func NewHFTranscriber(baseURL, token, model string) *HFTranscriber {
	return &HFTranscriber{client: newHFClient(baseURL, token), model: model}
}

type hfTranscriptionResponse struct {
	Text string `json:"text"`
}

func (t *HFTranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return "", fmt.Errorf("error reading audio file: %w", err)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(audioPath)))
	if contentType == "" {
		contentType = "audio/ogg"
	}

	res, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(audio).
		Post(hfModelEndpoint(t.model))
	if err != nil {
		return "", WrapModelError("stt", t.model, err)
	}
	if !res.IsSuccess() {
		slog.Error("huggingface stt returned error", "status_code", res.StatusCode(), "body", res.String())
		return "", WrapModelError("stt", t.model, fmt.Errorf("status %d: %s", res.StatusCode(), res.String()))
	}

	var parsed hfTranscriptionResponse
	if err := sonic.ConfigStd.Unmarshal(res.Body(), &parsed); err != nil {
		return "", fmt.Errorf("error parsing stt response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

type HFSynthesizer struct {
	client *resty.Client
	model  string
}

func NewHFSynthesizer(baseURL, token, model string) *HFSynthesizer {
	return &HFSynthesizer{client: newHFClient(baseURL, token), model: model}
}

func (s *HFSynthesizer) Synthesize(ctx context.Context, text string) (Audio, error) {
	res, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"inputs": text}).
		Post(hfModelEndpoint(s.model))
	if err != nil {
		return Audio{}, WrapModelError("tts", s.model, err)
	}
	if !res.IsSuccess() {
		slog.Error("huggingface tts returned error", "status_code", res.StatusCode(), "body", res.String())
		return Audio{}, WrapModelError("tts", s.model, fmt.Errorf("status %d: %s", res.StatusCode(), res.String()))
	}

	return Audio{Data: res.Body(), Ext: extForContentType(res.Header().Get("Content-Type"))}, nil
}

func extForContentType(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return DefaultAudioExt
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	default:
		return DefaultAudioExt
	}
}

