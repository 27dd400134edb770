package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// GenerateClient talks to a plain "generate" endpoint that accepts
// {model, prompt, stream, max_tokens} and answers {response}.
type GenerateClient struct {
	url        string
	model      string
	httpClient *http.Client
}

func NewGenerateClient(url, model string) *GenerateClient {
	return &GenerateClient{
		url:        url,
		model:      model,
		httpClient: &http.Client{},
	}
}

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	Stream    bool   `json:"stream"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Response *string `json:"response"`
	Error    string  `json:"error,omitempty"`
}

func (c *GenerateClient) Complete(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:     c.model,
		Prompt:    req.Prompt,
		Stream:    false,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{Provider: "generate", StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var out generateResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("generate error: %s", out.Error)
	}
	if out.Response == nil {
		return "", fmt.Errorf("generate response has no %q field", "response")
	}
	return *out.Response, nil
}

// Close releases idle connections.
func (c *GenerateClient) Close() {
	c.httpClient.CloseIdleConnections()
}
