package httpserver

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

// Bring-your-own-key headers.
const (
	headerLLMProvider = "X-LLM-Provider"
	headerLLMAPIKey   = "X-LLM-API-Key"
	headerLLMModel    = "X-LLM-Model"

	headerRequestID = "X-Request-ID"
)

// requestIDMiddleware copies chi's request ID into the observability context
// and echoes it back to the caller.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := middleware.GetReqID(r.Context())
		if requestID == "" {
			requestID = r.Header.Get(headerRequestID)
		}
		if requestID == "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set(headerRequestID, requestID)
		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		event := s.logger.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			event = s.logger.Warn()
		}
		event.
			Str("request_id", observability.RequestIDFromContext(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// credentialsMiddleware attaches caller-supplied LLM credentials to the
// request context. The key itself is never logged.
func credentialsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := strings.ToLower(strings.TrimSpace(r.Header.Get(headerLLMProvider)))
		apiKey := strings.TrimSpace(r.Header.Get(headerLLMAPIKey))
		if apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		switch provider {
		case "", llm.ProviderAnthropic, llm.ProviderOpenAI, llm.ProviderGemini:
		default:
			writeError(w, http.StatusBadRequest, codeInvalidInput, "unsupported LLM provider "+provider)
			return
		}

		ctx := llm.WithCredentials(r.Context(), llm.Credentials{
			Provider: provider,
			APIKey:   apiKey,
			Model:    strings.TrimSpace(r.Header.Get(headerLLMModel)),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware allows the listed origins; "*" allows any.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")
	allowHeaders := strings.Join([]string{"Content-Type", headerRequestID, headerLLMProvider, headerLLMAPIKey, headerLLMModel}, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || slices.Contains(origins, origin)) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", allowHeaders)
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// jsonContentTypeMiddleware sets Content-Type: application/json for all responses.
func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
