package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
	maxPaperIDLength   = 256

	// statusClientClosedRequest is the nginx convention for a request the
	// client abandoned.
	statusClientClosedRequest = 499
)

// handleSearch handles POST /api/v1/search.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "failed to read request body")
		return
	}
	if len(body) > maxRequestBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, codeInvalidInput, "request body too large")
		return
	}

	var req domain.SearchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid JSON request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidInput, validationMessage(err))
		return
	}
	if f := req.Filters; f != nil && f.YearFrom != nil && f.YearTo != nil && *f.YearFrom > *f.YearTo {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "filters.year_from must not be after filters.year_to")
		return
	}

	resp, err := s.searcher.Search(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePaperDetail handles GET /api/v1/papers/{paperID}.
func (s *Server) handlePaperDetail(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}

	detail, err := s.searcher.PaperDetail(r.Context(), paperID, r.URL.Query().Get("language"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// handleFulltext handles GET /api/v1/papers/{paperID}/fulltext.
func (s *Server) handleFulltext(w http.ResponseWriter, r *http.Request) {
	paperID, ok := paperIDParam(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	result, err := s.searcher.Fulltext(r.Context(), paperID, q.Get("language"), q.Get("difficulty"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// paperIDParam reads the paperID path parameter, writing a 400 error
// response if it is unusable.
func paperIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(chi.URLParam(r, "paperID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, codeInvalidInput, "paper id is required")
		return "", false
	}
	if len(id) > maxPaperIDLength {
		writeError(w, http.StatusBadRequest, codeInvalidInput, fmt.Sprintf("paper id must be at most %d characters", maxPaperIDLength))
		return "", false
	}
	return id, true
}

// writeDomainError maps pipeline errors to HTTP responses. Provider error
// text is logged, never returned.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	logger := observability.WithRequestContext(r.Context(), s.logger)

	if se, ok := llm.AsServiceError(err); ok {
		logger.Warn().Str("provider", se.Provider).Str("kind", string(se.Kind)).Int("status", se.StatusCode).
			Msg("llm service error")
		switch se.Kind {
		case llm.KindInvalidKey:
			writeError(w, http.StatusUnauthorized, codeAuthenticationRequired, "the LLM provider rejected the API key")
		case llm.KindBilling:
			writeError(w, http.StatusPaymentRequired, codeInsufficientCredits, "the LLM provider account has insufficient credits")
		case llm.KindRateLimit:
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: "the LLM provider is rate limiting requests", Code: codeServiceUnavailable, Reason: string(se.Kind),
			})
		default:
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{
				Error: "the LLM provider is unavailable", Code: codeServiceUnavailable, Reason: string(se.Kind),
			})
		}
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, codeInvalidInput, ve.Field+": "+ve.Message)
		} else {
			writeError(w, http.StatusBadRequest, codeInvalidInput, "invalid input")
		}
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "paper not found")
	case errors.Is(err, domain.ErrNoPDF):
		writeError(w, http.StatusNotFound, codeNoPDF, "no open-access PDF is available for this paper")
	case errors.Is(err, domain.ErrNoExtractableText):
		writeError(w, http.StatusUnprocessableEntity, codeNoExtractableText, "the PDF contains no extractable text")
	case errors.Is(err, domain.ErrRateLimited):
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			logger.Warn().Str("source", rl.Source).Dur("retry_after", rl.RetryAfter).Msg("upstream rate limited")
			if rl.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
			}
		}
		writeError(w, http.StatusTooManyRequests, codeServiceUnavailable, "an upstream service is rate limiting requests")
	case errors.Is(err, domain.ErrServiceUnavailable):
		logger.Warn().Err(err).Msg("upstream unavailable")
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "an upstream service is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, codeTimeout, "request timed out")
	case errors.Is(err, context.Canceled):
		logger.Debug().Msg("request canceled by client")
		writeError(w, statusClientClosedRequest, codeTimeout, "request canceled")
	default:
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}

// validationMessage renders the first validator failure using JSON field names.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "SearchRequest.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", field, fe.Tag())
	}
}

// jsonTagName makes validator report fields by their JSON names.
func jsonTagName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}
