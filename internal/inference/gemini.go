package inference

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

type GeminiGenerator struct {
	client *genai.Client
	model  string
	opts   ChatOptions
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string, opts ChatOptions) (*GeminiGenerator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model, opts: opts}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, text string) (string, error) {
	result, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(text), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(g.opts.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(g.opts.Temperature)),
		TopP:              genai.Ptr(float32(g.opts.TopP)),
		MaxOutputTokens:   int32(g.opts.MaxTokens),
	})
	if err != nil {
		return "", WrapModelError("chat", g.model, err)
	}
	return result.Text(), nil
}
