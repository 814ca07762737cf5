package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

func TestRequestID_PropagatesToContextAndResponse(t *testing.T) {
	var seen string
	s := newTestServer(&mockSearcher{detailFn: func(ctx context.Context, paperID, _ string) (*domain.PaperDetail, error) {
		seen = observability.RequestIDFromContext(ctx)
		return &domain.PaperDetail{Paper: domain.Paper{ID: paperID}}, nil
	}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/papers/s2-1", nil)
	req.Header.Set(headerRequestID, "req-123")
	rr := do(t, s, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rr.Header().Get(headerRequestID))
}

func TestRequestID_GeneratedWhenMissing(t *testing.T) {
	s := newTestServer(&mockSearcher{})

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.NotEmpty(t, rr.Header().Get(headerRequestID))
}

func TestCredentialsMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    llm.Credentials
		present bool
	}{
		{
			name:    "full credentials",
			headers: map[string]string{headerLLMProvider: "OpenAI", headerLLMAPIKey: "sk-user", headerLLMModel: "gpt-4o"},
			want:    llm.Credentials{Provider: llm.ProviderOpenAI, APIKey: "sk-user", Model: "gpt-4o"},
			present: true,
		},
		{
			name:    "key only uses default provider",
			headers: map[string]string{headerLLMAPIKey: " key "},
			want:    llm.Credentials{APIKey: "key"},
			present: true,
		},
		{
			name:    "provider without key is ignored",
			headers: map[string]string{headerLLMProvider: "gemini"},
		},
		{
			name: "no headers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got llm.Credentials
			var present bool
			h := credentialsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, present = llm.CredentialsFromContext(r.Context())
				w.WriteHeader(http.StatusNoContent)
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			require.Equal(t, http.StatusNoContent, rr.Code)
			assert.Equal(t, tt.present, present)
			if tt.present {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestCredentialsMiddleware_UnsupportedProvider(t *testing.T) {
	called := false
	h := credentialsMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(headerLLMProvider, "mistral")
	req.Header.Set(headerLLMAPIKey, "k")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, codeInvalidInput, decodeError(t, rr).Code)
}

func TestCORS(t *testing.T) {
	s := NewServer(Config{CORSAllowedOrigins: []string{"https://app.example.org"}}, &mockSearcher{}, testLogger())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/search", nil)
	req.Header.Set("Origin", "https://app.example.org")
	rr := do(t, s, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.org", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), headerLLMAPIKey)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = do(t, s, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Wildcard(t *testing.T) {
	s := NewServer(Config{CORSAllowedOrigins: []string{"*"}}, &mockSearcher{}, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://anything.test")
	rr := do(t, s, req)

	assert.Equal(t, "https://anything.test", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	s := newTestServer(&mockSearcher{})

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestReadyz(t *testing.T) {
	s := newTestServer(&mockSearcher{},
		WithReadinessCheck("cache", func(context.Context) error { return nil }),
		WithReadinessCheck("nil", nil),
	)

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, map[string]string{"cache": "ok"}, resp.Checks)
}

func TestReadyz_FailingCheck(t *testing.T) {
	s := newTestServer(&mockSearcher{},
		WithReadinessCheck("cache", func(context.Context) error { return errors.New("dial tcp: connection refused") }),
		WithReadinessCheck("events", func(context.Context) error { return nil }),
	)

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var resp readinessResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "dial tcp: connection refused", resp.Checks["cache"])
	assert.Equal(t, "ok", resp.Checks["events"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("http_test", reg)
	metrics.RecordSearchStarted()

	s := newTestServer(&mockSearcher{}, WithMetricsHandler("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rr.Body.String(), "http_test_searches_started_total 1")
}

func TestMetricsEndpoint_DisabledByDefault(t *testing.T) {
	s := newTestServer(&mockSearcher{})

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
