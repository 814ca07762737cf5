package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ Provider = (*OpenAIProvider)(nil)

func newOpenAITestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "sk-test", Model: "gpt-test", BaseURL: srv.URL}, 0.3, 5*time.Second, 2)
	p.retryDelay = 10 * time.Millisecond
	return p
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	t.Parallel()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k"}, 0, 0, -1)
	assert.Equal(t, defaultOpenAIBaseURL, p.baseURL)
	assert.Equal(t, defaultOpenAIModel, p.Model())
	assert.Equal(t, 60*time.Second, p.httpClient.Timeout)
	assert.Equal(t, 0, p.maxRetries)
	assert.Equal(t, ProviderOpenAI, p.Name())
}

func TestOpenAIProvider_Chat(t *testing.T) {
	t.Parallel()

	t.Run("sends system and user messages with json format", func(t *testing.T) {
		t.Parallel()

		p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-test", req.Model)
			require.Len(t, req.Messages, 2)
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "sys", req.Messages[0].Content)
			assert.Equal(t, "user", req.Messages[1].Role)
			assert.Equal(t, "usr", req.Messages[1].Content)
			require.NotNil(t, req.ResponseFormat)
			assert.Equal(t, "json_object", req.ResponseFormat.Type)
			assert.Equal(t, 800, req.MaxTokens)

			json.NewEncoder(w).Encode(chatResponse{
				Model:   "gpt-test-0001",
				Choices: []chatChoice{{Message: chatMessage{Role: "assistant", Content: `{"a":1}`}}},
				Usage:   chatUsage{PromptTokens: 12, CompletionTokens: 3},
			})
		})

		resp, err := p.Chat(context.Background(), Request{System: "sys", User: "usr", ExpectJSON: true, MaxTokens: 800})
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, resp.Text)
		assert.Equal(t, "gpt-test-0001", resp.Model)
		assert.Equal(t, 12, resp.InputTokens)
		assert.Equal(t, 3, resp.OutputTokens)
	})

	t.Run("plain text requests omit response format", func(t *testing.T) {
		t.Parallel()

		p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Nil(t, req.ResponseFormat)
			json.NewEncoder(w).Encode(chatResponse{Choices: []chatChoice{{Message: chatMessage{Content: "hello"}}}})
		})

		resp, err := p.Chat(context.Background(), Request{User: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "hello", resp.Text)
		assert.Equal(t, "gpt-test", resp.Model)
	})

	t.Run("empty choices is an unknown failure", func(t *testing.T) {
		t.Parallel()

		p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(chatResponse{})
		})

		_, err := p.Chat(context.Background(), Request{User: "hi"})
		svcErr, ok := AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, KindUnknown, svcErr.Kind)
	})
}

func TestOpenAIProvider_Chat_APIError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		code       string
		message    string
		wantKind   ErrorKind
		wantCalls  int32
	}{
		{"invalid key", http.StatusUnauthorized, "invalid_api_key", "Incorrect API key provided", KindInvalidKey, 1},
		{"insufficient quota", http.StatusTooManyRequests, "insufficient_quota", "You exceeded your current quota", KindBilling, 1},
		{"model not found", http.StatusNotFound, "model_not_found", "The model `gpt-9` does not exist", KindConfigError, 1},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_exceeded", "Rate limit reached", KindRateLimit, 3},
		{"server error", http.StatusBadGateway, "", "bad gateway", KindOverloaded, 3},
		{"bad request", http.StatusBadRequest, "", "messages is required", KindUnknown, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			p := newOpenAITestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.statusCode)
				json.NewEncoder(w).Encode(openAIErrorResponse{Error: openAIErrorDetail{Message: tt.message, Code: tt.code, Type: "error"}})
			})

			_, err := p.Chat(context.Background(), Request{User: "hi"})
			require.Error(t, err)

			svcErr, ok := AsServiceError(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, svcErr.Kind)
			assert.Equal(t, tt.code, svcErr.Code)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestOpenAIProvider_Chat_NetworkError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "k", BaseURL: url}, 0, time.Second, 0)
	_, err := p.Chat(context.Background(), Request{User: "hi"})

	svcErr, ok := AsServiceError(err)
	require.True(t, ok)
	assert.Equal(t, KindOverloaded, svcErr.Kind)
	assert.True(t, svcErr.IsTransient())
}
