package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
)

// Provider names accepted by New.
const (
	ProviderGenerate  = "generate"
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Options selects and tunes a backend.
type Options struct {
	Provider       string
	Model          string
	URL            string
	APIKey         string
	Timeout        time.Duration // Per call; zero means no deadline.
	MaxConcurrent  int           // Shared across sessions; zero means unlimited.
	MaxPromptChars int           // Prompts longer than this are clipped; zero disables.
	MaxRetries     int           // Extra attempts after a retryable failure.
	StatsWindow    time.Duration
}

// Client wraps a backend with a per-call timeout, a concurrency limit,
// latency stats and logging.
type Client struct {
	backend  Completer
	provider string
	model    string
	opts     Options
	sem      *semaphore.Weighted
	log      *slog.Logger
	backoff  func(attempt int) time.Duration

	Stats *Stats
}

// New builds the backend named by opts.Provider and wraps it.
func New(opts Options, log *slog.Logger) (*Client, error) {
	var backend Completer
	switch strings.ToLower(opts.Provider) {
	case "", ProviderGenerate:
		opts.Provider = ProviderGenerate
		if opts.URL == "" {
			return nil, fmt.Errorf("generate provider needs a url")
		}
		backend = NewGenerateClient(opts.URL, opts.Model)
	case ProviderAnthropic:
		backend = NewAnthropicClient(opts.APIKey, opts.Model, opts.URL)
	case ProviderOpenAI:
		backend = NewOpenAIClient(opts.APIKey, opts.Model, opts.URL)
	case ProviderOllama:
		c, err := NewOllamaClient(opts.URL, opts.Model)
		if err != nil {
			return nil, err
		}
		backend = c
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
	return NewClient(backend, opts, log), nil
}

// NewClient wraps an existing backend.
func NewClient(backend Completer, opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		backend:  backend,
		provider: opts.Provider,
		model:    opts.Model,
		opts:     opts,
		log:      log.With("component", "llm", "provider", opts.Provider),
		Stats:    NewStats(opts.StatsWindow),
		backoff:  Backoff,
	}
	if opts.MaxConcurrent > 0 {
		c.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return c
}

func (c *Client) Provider() string { return c.provider }
func (c *Client) Model() string    { return c.model }

// Complete runs one backend call, retrying rate limits and server errors
// up to MaxRetries times. The timeout covers all attempts and is reported
// like any other failure.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return "", fmt.Errorf("wait for llm slot: %w", err)
		}
		defer c.sem.Release(1)
	}

	req.Prompt = clip(req.Prompt, c.opts.MaxPromptChars)

	start := time.Now()
	out, err := c.attempt(ctx, req)
	elapsed := time.Since(start)

	if err != nil {
		c.log.Error("llm call failed",
			"max_tokens", req.MaxTokens,
			"prompt_chars", len(req.Prompt),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return "", err
	}
	c.log.Debug("llm call",
		"max_tokens", req.MaxTokens,
		"prompt_chars", len(req.Prompt),
		"response_chars", len(out),
		"duration_ms", elapsed.Milliseconds(),
	)
	return out, nil
}

func (c *Client) attempt(ctx context.Context, req Request) (string, error) {
	for attempt := 0; ; attempt++ {
		start := time.Now()
		out, err := c.backend.Complete(ctx, req)
		c.Stats.Record(time.Since(start), err != nil)
		if err == nil || attempt >= c.opts.MaxRetries || !IsRetryable(err) {
			return out, err
		}
		c.log.Warn("retryable llm error", "attempt", attempt, "error", err)
		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return "", err
		}
	}
}

// Close releases idle connections held by HTTP-backed providers.
func (c *Client) Close() {
	if cl, ok := c.backend.(interface{ Close() }); ok {
		cl.Close()
	}
}
