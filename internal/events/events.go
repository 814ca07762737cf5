// Package events publishes usage events for the paid search operations.
//
// Every search, paper-detail and fulltext call emits one UsageEvent when it
// finishes. The credit-metering service consumes them to settle or refund the
// caller's balance, so an event must say whether the operation failed and,
// for LLM failures, which kind of failure it was.
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

// Operations.
const (
	OperationSearch      = "search"
	OperationPaperDetail = "paper_detail"
	OperationFulltext    = "fulltext"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeEmpty   = "empty"
	OutcomeFailed  = "failed"
)

// Error categories for failed operations that are not LLM service errors.
const (
	ErrorNotFound         = "not_found"
	ErrorInvalidInput     = "invalid_input"
	ErrorNoPDF            = "no_pdf"
	ErrorNoText           = "no_extractable_text"
	ErrorCanceled         = "canceled"
	ErrorRateLimited      = "rate_limited"
	ErrorUnavailable      = "unavailable"
	ErrorInternal         = "internal"
	ErrorLLMPrefix        = "llm_"
	defaultServiceName    = "paper-search-service"
	usageEventContentType = "application/json"
)

// UsageEvent records the outcome of one paid operation.
type UsageEvent struct {
	ID         string    `json:"id"`
	SearchID   string    `json:"search_id"`
	RequestID  string    `json:"request_id,omitempty"`
	Service    string    `json:"service"`
	Operation  string    `json:"operation"`
	Outcome    string    `json:"outcome"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Cached     bool      `json:"cached"`
	BYOK       bool      `json:"byok"`
	Provider   string    `json:"provider,omitempty"`
	Language   string    `json:"language,omitempty"`
	PaperID    string    `json:"paper_id,omitempty"`
	Results    int       `json:"results"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Validate reports whether the event carries the fields consumers key on.
func (e UsageEvent) Validate() error {
	switch {
	case e.ID == "":
		return errors.New("id is required")
	case e.SearchID == "":
		return errors.New("search_id is required")
	case e.Operation == "":
		return errors.New("operation is required")
	case e.Outcome == "":
		return errors.New("outcome is required")
	}
	return nil
}

// Publisher delivers usage events.
type Publisher interface {
	Publish(ctx context.Context, event UsageEvent) error
	Close() error
}

// NewUsageEvent starts an event for operation, filling identifiers, the
// request ID and the BYOK flag from ctx. searchID may be empty, in which case
// the event ID is used.
func NewUsageEvent(ctx context.Context, operation, searchID string) UsageEvent {
	id := uuid.NewString()
	if searchID == "" {
		searchID = id
	}
	e := UsageEvent{
		ID:         id,
		SearchID:   searchID,
		RequestID:  observability.RequestIDFromContext(ctx),
		Service:    defaultServiceName,
		Operation:  operation,
		OccurredAt: time.Now().UTC(),
	}
	if creds, ok := llm.CredentialsFromContext(ctx); ok {
		e.BYOK = creds.APIKey != ""
		e.Provider = creds.Provider
	}
	return e
}

// Finish sets the outcome, error kind and duration from err and start.
func (e UsageEvent) Finish(start time.Time, err error) UsageEvent {
	e.DurationMS = time.Since(start).Milliseconds()
	if err == nil {
		if e.Outcome == "" {
			e.Outcome = OutcomeSuccess
		}
		return e
	}
	e.Outcome = OutcomeFailed
	e.ErrorKind = ErrorKind(err)
	return e
}

// ErrorKind classifies err for metering. LLM service errors keep their kind
// with an "llm_" prefix so consumers can tell a bad caller key from a
// degraded provider.
func ErrorKind(err error) string {
	if svcErr, ok := llm.AsServiceError(err); ok {
		return ErrorLLMPrefix + string(svcErr.Kind)
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return ErrorNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return ErrorInvalidInput
	case errors.Is(err, domain.ErrNoExtractableText):
		return ErrorNoText
	case errors.Is(err, domain.ErrNoPDF):
		return ErrorNoPDF
	case errors.Is(err, domain.ErrRateLimited):
		return ErrorRateLimited
	case errors.Is(err, domain.ErrServiceUnavailable):
		return ErrorUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorCanceled
	default:
		return ErrorInternal
	}
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, UsageEvent) error { return nil }
func (NopPublisher) Close() error                              { return nil }

// LogPublisher writes events to a logger. Useful in development.
type LogPublisher struct {
	logger zerolog.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(logger zerolog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With().Str("component", "usage_events").Logger()}
}

// Publish logs event at info level.
func (p *LogPublisher) Publish(_ context.Context, event UsageEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid usage event: %w", err)
	}
	p.logger.Info().
		Str("event_id", event.ID).
		Str("search_id", event.SearchID).
		Str("operation", event.Operation).
		Str("outcome", event.Outcome).
		Str("error_kind", event.ErrorKind).
		Bool("cached", event.Cached).
		Bool("byok", event.BYOK).
		Int("results", event.Results).
		Int64("duration_ms", event.DurationMS).
		Msg("usage event")
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }
