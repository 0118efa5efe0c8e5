package inference

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangChainGenerator talks to any OpenAI compatible chat endpoint, by default
// the Hugging Face router.
type LangChainGenerator struct {
	llm   llms.Model
	model string
	opts  ChatOptions
}

func NewLangChainGenerator(baseURL, token, model string, opts ChatOptions) (*LangChainGenerator, error) {
	llm, err := openai.New(
		openai.WithToken(token),
		openai.WithModel(model),
		openai.WithBaseURL(baseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating langchain client: %w", err)
	}
	return &LangChainGenerator{llm: llm, model: model, opts: opts}, nil
}

func (g *LangChainGenerator) Generate(ctx context.Context, text string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, g.opts.SystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	resp, err := g.llm.GenerateContent(ctx, messages,
		llms.WithMaxTokens(g.opts.MaxTokens),
		llms.WithTemperature(g.opts.Temperature),
		llms.WithTopP(g.opts.TopP),
	)
	if err != nil {
		return "", WrapModelError("chat", g.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat model %s returned no choices", g.model)
	}
	return resp.Choices[0].Content, nil
}
