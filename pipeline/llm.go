package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
)

// ErrLLMUnavailable signals that no model backend is configured.
var ErrLLMUnavailable = errors.New("llm backend unavailable")

// LLMClient is the model interaction surface the pipeline needs: one system
// prompt, one user message, one text completion.
type LLMClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// LangChainClient adapts a langchaingo model to LLMClient.
type LangChainClient struct {
	Model     llms.Model
	MaxTokens int
}

func NewLangChainClient(model llms.Model, maxTokens int) *LangChainClient {
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	return &LangChainClient{Model: model, MaxTokens: maxTokens}
}

func (c *LangChainClient) Complete(ctx context.Context, system, user string) (string, error) {
	if c == nil || c.Model == nil {
		return "", ErrLLMUnavailable
	}

	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	resp, err := c.Model.GenerateContent(ctx, messages, llms.WithMaxTokens(c.MaxTokens))
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	text := resp.Choices[0].Content
	if strings.TrimSpace(text) == "" {
		return "", errors.New("model returned empty content")
	}
	return text, nil
}
