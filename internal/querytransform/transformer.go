// Package querytransform turns a free-text question in any supported language
// into English bibliographic search queries.
package querytransform

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

const (
	// Operation labels LLM calls made by the transformer.
	Operation = "query_transform"

	// MaxAcademicQueries caps the number of queries kept from a response.
	MaxAcademicQueries = 3

	maxTokens = 1024

	// maxAttempts bounds LLM calls per transform; only malformed JSON is
	// retried.
	maxAttempts = 2
)

// evidenceQualifiers are appended to the query when the LLM is unavailable.
var evidenceQualifiers = []string{"systematic review", "meta-analysis", "randomized controlled trial"}

var errNoQueries = errors.New("response contains no academic queries")

// Transformer produces QueryTransformResults. Results are cached without
// expiry under the lowercased sanitized query, whatever the input language.
type Transformer struct {
	client  llm.Client
	cache   cache.Cache
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(t *Transformer) {
		t.cache = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transformer) {
		t.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Transformer) {
		t.metrics = m
	}
}

// New creates a Transformer backed by client.
func New(client llm.Client, opts ...Option) *Transformer {
	t := &Transformer{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("component", "query_transform").Logger()
	return t
}

// Transform returns search queries for query. It never fails: an empty
// sanitized query yields EmptyQueryFallback and an LLM failure yields
// QualifierFallback.
func (t *Transformer) Transform(ctx context.Context, query, language string) *domain.QueryTransformResult {
	sanitized := Sanitize(query)
	if sanitized == "" {
		return EmptyQueryFallback()
	}

	key := cache.QueryTransformKey(sanitized)
	if t.cache != nil {
		var cached domain.QueryTransformResult
		if err := cache.GetJSON(ctx, t.cache, key, &cached); err == nil {
			t.recordCache(true)
			return &cached
		}
		t.recordCache(false)
	}

	result, err := t.callLLM(ctx, sanitized, language)
	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("query", sanitized).
			Msg("query transform failed, using qualifier fallback")
		return QualifierFallback(sanitized)
	}

	if t.cache != nil {
		if err := cache.SetJSON(ctx, t.cache, key, result, cache.QueryTransformTTL); err != nil {
			t.logger.Warn().Err(err).Msg("failed to cache query transform")
		}
	}
	return result
}

func (t *Transformer) callLLM(ctx context.Context, sanitized, language string) (*domain.QueryTransformResult, error) {
	req := llm.Request{
		System:     systemPrompt,
		User:       buildUserPrompt(sanitized, language),
		ExpectJSON: true,
		MaxTokens:  maxTokens,
		Operation:  Operation,
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := t.client.Chat(ctx, req)
		if err != nil {
			return nil, err
		}

		result, err := parseResult(resp.Text, sanitized)
		if err == nil {
			return result, nil
		}
		lastErr = err
		t.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Msg("malformed query transform response")
	}
	return nil, lastErr
}

// rawResult mirrors the expected response. Every field is optional.
type rawResult struct {
	OriginalQuery     string   `json:"original_query"`
	InterpretedIntent string   `json:"interpreted_intent"`
	AcademicQueries   []string `json:"academic_queries"`
	MeshTerms         []string `json:"mesh_terms"`
	KeyConcepts       struct {
		Conditions    []string `json:"conditions"`
		Interventions []string `json:"interventions"`
		Outcomes      []string `json:"outcomes"`
	} `json:"key_concepts"`
}

func parseResult(text, sanitized string) (*domain.QueryTransformResult, error) {
	var raw rawResult
	if err := llm.ExtractJSON(text, &raw); err != nil {
		return nil, err
	}

	queries := cleanList(raw.AcademicQueries)
	if len(queries) == 0 {
		return nil, errNoQueries
	}
	if len(queries) > MaxAcademicQueries {
		queries = queries[:MaxAcademicQueries]
	}

	original := strings.TrimSpace(raw.OriginalQuery)
	if original == "" {
		original = sanitized
	}

	return &domain.QueryTransformResult{
		OriginalQuery:     original,
		InterpretedIntent: strings.TrimSpace(raw.InterpretedIntent),
		AcademicQueries:   queries,
		MeshTerms:         cleanList(raw.MeshTerms),
		KeyConcepts: domain.KeyConcepts{
			Conditions:    cleanList(raw.KeyConcepts.Conditions),
			Interventions: cleanList(raw.KeyConcepts.Interventions),
			Outcomes:      cleanList(raw.KeyConcepts.Outcomes),
		},
	}, nil
}

// cleanList trims entries and drops blanks. It never returns nil.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// EmptyQueryFallback is returned when nothing searchable survives
// sanitization.
func EmptyQueryFallback() *domain.QueryTransformResult {
	return &domain.QueryTransformResult{
		OriginalQuery:     "",
		InterpretedIntent: "General medical research",
		AcademicQueries:   append([]string(nil), evidenceQualifiers...),
		MeshTerms:         []string{},
		KeyConcepts:       emptyConcepts(),
	}
}

// QualifierFallback builds queries by appending evidence-level qualifiers to
// the sanitized query.
func QualifierFallback(sanitized string) *domain.QueryTransformResult {
	queries := make([]string, len(evidenceQualifiers))
	for i, q := range evidenceQualifiers {
		queries[i] = sanitized + " " + q
	}
	return &domain.QueryTransformResult{
		OriginalQuery:     sanitized,
		InterpretedIntent: sanitized,
		AcademicQueries:   queries,
		MeshTerms:         []string{},
		KeyConcepts:       emptyConcepts(),
	}
}

func emptyConcepts() domain.KeyConcepts {
	return domain.KeyConcepts{
		Conditions:    []string{},
		Interventions: []string{},
		Outcomes:      []string{},
	}
}

func (t *Transformer) recordCache(hit bool) {
	if t.metrics == nil {
		return
	}
	if hit {
		t.metrics.RecordCacheHit("query_transform")
		return
	}
	t.metrics.RecordCacheMiss("query_transform")
}
