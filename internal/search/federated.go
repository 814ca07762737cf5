// Package search composes the pipeline stages into the search, paper-detail
// and fulltext operations.
package search

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
)

// DefaultLimitPerQuery is the per-source result limit for one query.
const DefaultLimitPerQuery = 20

// Federated runs every academic query against every enabled source.
type Federated struct {
	registry *papersources.Registry
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

// FederatedOption configures a Federated searcher.
type FederatedOption func(*Federated)

// WithFederatedLogger sets the logger.
func WithFederatedLogger(logger zerolog.Logger) FederatedOption {
	return func(f *Federated) {
		f.logger = logger
	}
}

// WithFederatedMetrics sets the metrics sink.
func WithFederatedMetrics(m *observability.Metrics) FederatedOption {
	return func(f *Federated) {
		f.metrics = m
	}
}

// NewFederated creates a Federated searcher over the sources in registry.
func NewFederated(registry *papersources.Registry, opts ...FederatedOption) *Federated {
	f := &Federated{
		registry: registry,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "federated_search").Logger()
	return f
}

type queryResult struct {
	index   int
	results []papersources.SourceResult
}

// SearchAllSources issues one call per (academic query, source) pair, all
// concurrently, and concatenates what succeeds. Failed or panicking calls are
// logged and contribute nothing; if every call fails the result is empty.
// Results are ordered by query, then by source type, so the same upstream
// answers always produce the same candidate order.
func (f *Federated) SearchAllSources(ctx context.Context, transform *domain.QueryTransformResult, yearFrom, yearTo *int, limitPerQuery int) []*domain.Paper {
	if transform == nil || len(transform.AcademicQueries) == 0 {
		return nil
	}
	if limitPerQuery <= 0 {
		limitPerQuery = DefaultLimitPerQuery
	}

	queries := transform.AcademicQueries
	ch := make(chan queryResult, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			ch <- queryResult{
				index: i,
				results: f.registry.SearchAll(ctx, papersources.SearchParams{
					Query:      q,
					YearFrom:   yearFrom,
					YearTo:     yearTo,
					MaxResults: limitPerQuery,
				}),
			}
		}(i, q)
	}
	go func() {
		wg.Wait()
		close(ch)
	}()

	byQuery := make([][]papersources.SourceResult, len(queries))
	for r := range ch {
		byQuery[r.index] = r.results
	}

	var (
		papers   []*domain.Paper
		failures int
		calls    int
	)
	for i, results := range byQuery {
		sort.Slice(results, func(a, b int) bool { return results[a].Source < results[b].Source })
		for _, r := range results {
			calls++
			if r.Error != nil {
				failures++
				f.logger.Warn().
					Err(r.Error).
					Str("source", string(r.Source)).
					Str("query", queries[i]).
					Msg("source search failed")
				continue
			}
			if r.Result == nil {
				continue
			}
			if f.metrics != nil {
				f.metrics.RecordPapersDiscovered(string(r.Source), len(r.Result.Papers))
			}
			for _, p := range r.Result.Papers {
				if p != nil {
					papers = append(papers, p)
				}
			}
		}
	}

	f.logger.Debug().
		Int("queries", len(queries)).
		Int("calls", calls).
		Int("failures", failures).
		Int("papers", len(papers)).
		Msg("federated search completed")
	return papers
}
