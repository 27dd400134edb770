package llm

import (
	"context"
	"fmt"
)

// Request is a single text completion request.
type Request struct {
	Prompt    string
	MaxTokens int
}

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StatusError is a non-success response from an inference backend.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, truncate(e.Message, 200))
}

// Placeholder renders a backend failure as the text shown in place of the
// expected output.
func Placeholder(err error) string {
	return fmt.Sprintf("Error while contacting the language model. Details: %v", err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// clip keeps at most n runes of s. n <= 0 disables clipping.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
