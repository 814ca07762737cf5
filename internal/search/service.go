package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/querytransform"
	"github.com/helixir/paper-search-service/internal/ranking"
	"github.com/helixir/paper-search-service/internal/summarize"
)

// Defaults for Config fields left zero.
const (
	DefaultPerPage         = 50
	DefaultMaxPerPage      = 100
	DefaultTaskTimeout     = 15 * time.Second
	DefaultPrecacheTopN    = 5
	DefaultPrecacheTimeout = 3 * time.Minute

	maxConcurrentSections = 4
)

// PaperFetcher loads a single paper by ID. It returns (nil, nil) when the
// paper is unavailable.
type PaperFetcher interface {
	FetchPaper(ctx context.Context, id string) (*domain.Paper, error)
}

// TextFetcher downloads a PDF and returns its text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Config tunes the orchestrator.
type Config struct {
	DefaultLanguage string
	// Languages are precached for the top results of every search.
	Languages       []string
	DefaultPerPage  int
	MaxPerPage      int
	LimitPerQuery   int
	TaskTimeout     time.Duration
	PrecacheTopN    int
	PrecacheTimeout time.Duration
	MaxSections     int
	MaxSectionRunes int
}

func (c *Config) applyDefaults() {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = domain.DefaultLanguage
	}
	if len(c.Languages) == 0 {
		c.Languages = domain.SupportedLanguages
	}
	if c.DefaultPerPage <= 0 {
		c.DefaultPerPage = DefaultPerPage
	}
	if c.MaxPerPage <= 0 {
		c.MaxPerPage = DefaultMaxPerPage
	}
	if c.LimitPerQuery <= 0 {
		c.LimitPerQuery = DefaultLimitPerQuery
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.PrecacheTopN <= 0 {
		c.PrecacheTopN = DefaultPrecacheTopN
	}
	if c.PrecacheTimeout <= 0 {
		c.PrecacheTimeout = DefaultPrecacheTimeout
	}
}

// Deps are the pipeline stages the Service composes.
type Deps struct {
	Cache       cache.Cache
	Transformer *querytransform.Transformer
	Federated   *Federated
	Ranker      *ranking.Ranker
	Summarizer  *summarize.Summarizer
	Papers      PaperFetcher
	PDFs        TextFetcher
}

// Service is the search orchestrator.
type Service struct {
	cache       cache.Cache
	transformer *querytransform.Transformer
	federated   *Federated
	ranker      *ranking.Ranker
	summarizer  *summarize.Summarizer
	papers      PaperFetcher
	pdfs        TextFetcher

	cfg       Config
	publisher events.Publisher
	logger    zerolog.Logger
	metrics   *observability.Metrics

	background sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher sets the usage event publisher.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// NewService creates a Service.
func NewService(deps Deps, cfg Config, opts ...Option) *Service {
	cfg.applyDefaults()
	s := &Service{
		cache:       deps.Cache,
		transformer: deps.Transformer,
		federated:   deps.Federated,
		ranker:      deps.Ranker,
		summarizer:  deps.Summarizer,
		papers:      deps.Papers,
		pdfs:        deps.PDFs,
		cfg:         cfg,
		publisher:   events.NopPublisher{},
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "search_service").Logger()
	return s
}

// Wait blocks until background precache work has finished.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) language(code string) string {
	if strings.TrimSpace(code) == "" {
		return s.cfg.DefaultLanguage
	}
	return domain.NormalizeLanguage(code)
}

func (s *Service) pageParams(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = s.cfg.DefaultPerPage
	}
	if perPage > s.cfg.MaxPerPage {
		perPage = s.cfg.MaxPerPage
	}
	return page, perPage
}

func (s *Service) publish(ctx context.Context, event events.UsageEvent, start time.Time, err error) {
	event = event.Finish(start, err)
	if perr := s.publisher.Publish(ctx, event); perr != nil {
		s.logger.Warn().
			Err(perr).
			Str("operation", event.Operation).
			Str("event_id", event.ID).
			Msg("usage event not published")
	}
}

func (s *Service) recordCache(kind string, hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.RecordCacheHit(kind)
	} else {
		s.metrics.RecordCacheMiss(kind)
	}
}

// Paginate returns the [start, end) bounds of page (1-based) of n items
// with perPage items per page. Pages past the end are empty.
func Paginate(n, page, perPage int) (int, int) {
	if n <= 0 || perPage <= 0 {
		return 0, 0
	}
	if page < 1 {
		page = 1
	}
	if page-1 > (n-1)/perPage {
		return n, n
	}
	start := (page - 1) * perPage
	end := start + perPage
	if end > n {
		end = n
	}
	return start, end
}

// raceTimeout runs fn and waits up to d for its result. On timeout it
// returns "" and false without cancelling fn; a late result is discarded.
func raceTimeout(ctx context.Context, d time.Duration, fn func(context.Context) string) (string, bool) {
	done := make(chan string, 1)
	go func() {
		done <- fn(ctx)
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case text := <-done:
		return text, true
	case <-timer.C:
		return "", false
	case <-ctx.Done():
		return "", false
	}
}
