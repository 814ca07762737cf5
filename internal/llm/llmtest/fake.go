// Package llmtest provides a scriptable llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/helixir/paper-search-service/internal/llm"
)

// HandlerFunc answers one chat request.
type HandlerFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

// Client is a fake llm.Client. Every call is recorded; the reply comes from
// Handler, or an empty text response when Handler is nil.
type Client struct {
	Handler HandlerFunc

	mu    sync.Mutex
	calls []llm.Request
}

var _ llm.Client = (*Client)(nil)

// New returns a Client that answers with handler.
func New(handler HandlerFunc) *Client {
	return &Client{Handler: handler}
}

// Text returns a Client that always answers with text.
func Text(text string) *Client {
	return New(func(context.Context, llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, Provider: "fake", Model: "fake"}, nil
	})
}

// Failing returns a Client whose every call fails with err.
func Failing(err error) *Client {
	return New(func(context.Context, llm.Request) (*llm.Response, error) {
		return nil, err
	})
}

// Chat records req and delegates to Handler.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	handler := c.Handler
	c.mu.Unlock()

	if handler == nil {
		return &llm.Response{Provider: "fake", Model: "fake"}, nil
	}
	return handler(ctx, req)
}

// Calls returns a copy of the recorded requests.
func (c *Client) Calls() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Request(nil), c.calls...)
}

// CallCount returns the number of recorded requests.
func (c *Client) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// CallsFor returns the recorded requests with the given operation label.
func (c *Client) CallsFor(operation string) []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []llm.Request
	for _, req := range c.calls {
		if req.Operation == operation {
			out = append(out, req)
		}
	}
	return out
}

// Reply builds a successful response carrying text.
func Reply(text string) *llm.Response {
	return &llm.Response{Text: text, Provider: "fake", Model: "fake"}
}
