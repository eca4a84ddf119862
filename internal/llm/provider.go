// Package llm defines the provider boundary agents use to run subtask
// prompts and critique passes. Providers are interchangeable backends;
// the retry and fallback wrappers in this package give callers a single
// resilient entry point.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete runs one prompt and returns the model output.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai", "ollama").
	Name() string
}

// Request is one completion call. Role selects the persona system prompt
// (builder, critic, orchestrator) configured per deployment.
type Request struct {
	Role      string
	System    string
	Prompt    string
	MaxTokens int
}

// Response is the model output plus accounting.
type Response struct {
	Text  string
	Model string
	Usage Usage
}

// Usage tracks token consumption for cost accounting.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ErrNoProviders is returned when a fallback chain is built empty.
var ErrNoProviders = errors.New("no llm providers configured")

// TransientError marks a failure worth retrying: rate limits, upstream
// 5xx, timeouts. Content errors (bad request, auth) are permanent and
// surface immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
