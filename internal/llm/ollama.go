package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

// DefaultOllamaModel is used when no model is configured.
const DefaultOllamaModel = "deepseek-r1:14b"

// OllamaClient runs prompts against an Ollama server through langchaingo.
type OllamaClient struct {
	model llms.Model
}

func NewOllamaClient(serverURL, model string) (*OllamaClient, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return &OllamaClient{model: m}, nil
}

func (c *OllamaClient) Complete(ctx context.Context, req Request) (string, error) {
	var opts []llms.CallOption
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}
	completion, err := llms.GenerateFromSinglePrompt(ctx, c.model, req.Prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return completion, nil
}
