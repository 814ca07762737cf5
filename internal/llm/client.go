// Package llm provides the chat capability used by the search pipeline.
//
// Every provider (Anthropic, OpenAI, Google Gemini) implements the same Client
// interface and normalizes its own failures into a ServiceError carrying one
// of a fixed set of kinds, so callers never branch on the provider. The
// Router selects a provider per call, honoring caller-supplied credentials
// carried in the context (bring-your-own-key).
//
// Example usage:
//
//	router, err := llm.NewRouter(cfg)
//	resp, err := router.Chat(ctx, llm.Request{
//		System:     "You translate paper titles.",
//		User:       "1. Semaglutide in obesity",
//		MaxTokens:  512,
//		Operation:  "translate_titles",
//	})
package llm

import (
	"context"
	"fmt"
	"time"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

// DefaultMaxTokens is used when a Request leaves MaxTokens unset.
const DefaultMaxTokens = 1024

// Request is a single system+user chat exchange.
type Request struct {
	// System is the fixed instruction set.
	System string

	// User is the user message.
	User string

	// ExpectJSON asks the provider for a JSON object response where the
	// provider supports it.
	ExpectJSON bool

	// MaxTokens bounds the response length. Defaults to DefaultMaxTokens.
	MaxTokens int

	// Operation labels the call for metrics and logs (e.g. "rank").
	Operation string
}

func (r Request) maxTokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Response is the model's reply.
type Response struct {
	Text         string
	Provider     string
	Model        string
	InputTokens  int
	OutputTokens int
}

// Client is the chat capability consumed by the pipeline.
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Provider is a Client bound to one vendor API and model.
type Provider interface {
	Client

	// Name returns the provider name.
	Name() string

	// Model returns the model identifier being used.
	Model() string
}

// withRetries runs call until it succeeds, fails permanently, or maxRetries
// transient failures have been retried. Backoff doubles from retryDelay.
func withRetries(ctx context.Context, provider string, maxRetries int, retryDelay time.Duration, call func() (*Response, error)) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay * time.Duration(1<<(attempt-1))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%s: context cancelled during retry: %w", provider, ctx.Err())
			case <-timer.C:
			}
		}

		resp, err := call()
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
