package papersources

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/helixir/paper-search-service/internal/domain"
)

// SourceResult holds the result of a search from one source.
type SourceResult struct {
	// Source identifies which paper source provided the result.
	Source domain.SourceType

	// Result contains the search results if the search succeeded.
	// Will be nil if Error is non-nil.
	Result *SearchResult

	// Error contains the error if the search failed, including a recovered
	// panic from the source client.
	Error error
}

// Registry manages paper sources and coordinates concurrent searches.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	sources map[domain.SourceType]PaperSource
}

// NewRegistry creates a new source registry with an empty source map.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[domain.SourceType]PaperSource),
	}
}

// Register adds a source to the registry, replacing any source of the same
// type.
func (r *Registry) Register(source PaperSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[source.SourceType()] = source
}

// Get returns a source by type, or nil if not found.
func (r *Registry) Get(sourceType domain.SourceType) PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[sourceType]
}

// EnabledSources returns a snapshot of the enabled sources, ordered by type.
func (r *Registry) EnabledSources() []PaperSource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]PaperSource, 0, len(r.sources))
	for _, source := range r.sources {
		if source.IsEnabled() {
			sources = append(sources, source)
		}
	}
	sort.Slice(sources, func(i, j int) bool {
		return sources[i].SourceType() < sources[j].SourceType()
	})
	return sources
}

// SearchAll searches all enabled sources concurrently and returns one result
// per source, in completion order. A failure or panic in one source is
// captured in its SourceResult and never cancels its siblings.
func (r *Registry) SearchAll(ctx context.Context, params SearchParams) []SourceResult {
	sources := r.EnabledSources()
	if len(sources) == 0 {
		return nil
	}

	resultChan := make(chan SourceResult, len(sources))
	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)
		go func(s PaperSource) {
			defer wg.Done()
			resultChan <- searchOne(ctx, s, params)
		}(source)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	results := make([]SourceResult, 0, len(sources))
	for result := range resultChan {
		results = append(results, result)
	}

	return results
}

func searchOne(ctx context.Context, s PaperSource, params SearchParams) (res SourceResult) {
	res.Source = s.SourceType()
	defer func() {
		if p := recover(); p != nil {
			res.Result = nil
			res.Error = fmt.Errorf("%s search panicked: %v", s.Name(), p)
		}
	}()

	res.Result, res.Error = s.Search(ctx, params)
	return res
}
