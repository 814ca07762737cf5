// Package papersources provides clients for the bibliographic APIs the search
// pipeline draws candidates from.
//
// Each API (Semantic Scholar, PubMed) implements PaperSource and converts its
// native schema into domain.Paper. Clients swallow transient upstream
// failures: a non-2xx response is logged and yields an empty result so that
// one failing source never aborts a federated search.
//
// Example usage:
//
//	source := semanticscholar.New(cfg, httpClient, paperCache, logger)
//	result, err := source.Search(ctx, papersources.SearchParams{
//		Query:      "semaglutide weight loss",
//		MaxResults: 20,
//	})
package papersources

import (
	"context"
	"time"

	"github.com/helixir/paper-search-service/internal/domain"
)

// SearchParams defines the parameters for searching academic papers.
type SearchParams struct {
	// Query is the search query string (required).
	Query string

	// YearFrom and YearTo bound the publication year, inclusive.
	// A nil bound is open.
	YearFrom *int
	YearTo   *int

	// MaxResults limits the number of papers returned.
	// A value of 0 uses the source's default limit.
	MaxResults int
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers returned by the search. Empty, never an
	// error, when the upstream API answered with a non-2xx status.
	Papers []*domain.Paper

	// TotalResults is the total reported by the source API, which may be an
	// estimate.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source clients implement.
type PaperSource interface {
	// Search queries the source. Errors are reserved for conditions the
	// client cannot recover from locally, such as a canceled context.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// SourceType returns the type identifier for this paper source.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logging and metrics.
	Name() string

	// IsEnabled returns whether this source is available for searches.
	IsEnabled() bool
}
