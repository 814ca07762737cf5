// Package app assembles the search pipeline from configuration. The HTTP
// server and the searchctl CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/config"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
	"github.com/helixir/paper-search-service/internal/papersources/pubmed"
	"github.com/helixir/paper-search-service/internal/papersources/semanticscholar"
	"github.com/helixir/paper-search-service/internal/pdf"
	"github.com/helixir/paper-search-service/internal/querytransform"
	"github.com/helixir/paper-search-service/internal/ranking"
	"github.com/helixir/paper-search-service/internal/search"
	"github.com/helixir/paper-search-service/internal/summarize"
)

const userAgent = "paper-search-service/1.0 (+https://github.com/helixir/paper-search-service)"

// ReadinessCheck is a named dependency health check.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// App holds the assembled pipeline and the resources it owns.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Registry  *prometheus.Registry
	Metrics   *observability.Metrics
	Cache     cache.Cache
	Publisher events.Publisher
	Service   *search.Service

	checks  []ReadinessCheck
	closers []func() error
}

// Option configures New.
type Option func(*options)

type options struct {
	publisher events.Publisher
}

// WithPublisher overrides the publisher chosen from configuration.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) {
		o.publisher = p
	}
}

// New builds every component from cfg. On error, resources opened so far are
// released.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (a *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = a.closeResources()
			a = nil
		}
	}()

	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = observability.NewMetrics(cfg.Metrics.Namespace, a.Registry)

	if err := a.openCache(ctx); err != nil {
		return a, err
	}

	if o.publisher != nil {
		a.Publisher = o.publisher
	} else if err := a.openPublisher(); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.Publisher.Close)

	router, err := llm.NewRouter(routerConfig(cfg.LLM),
		llm.WithRouterLogger(logger),
		llm.WithRouterMetrics(a.Metrics),
	)
	if err != nil {
		return a, fmt.Errorf("create llm router: %w", err)
	}

	registry, s2 := a.buildSources()

	fetcher := pdf.NewFetcher(
		pdf.NewDownloader(pdf.Config{
			Timeout:              cfg.Fulltext.DownloadTimeout,
			MaxSize:              cfg.Fulltext.MaxSizeBytes,
			AllowPrivateNetworks: cfg.Fulltext.AllowPrivateNetworks,
		}),
		pdf.NewExtractor(cfg.Fulltext.MaxPages),
		pdf.WithLogger(logger),
	)

	a.Service = search.NewService(search.Deps{
		Cache: a.Cache,
		Transformer: querytransform.New(router,
			querytransform.WithCache(a.Cache),
			querytransform.WithLogger(logger),
			querytransform.WithMetrics(a.Metrics),
		),
		Federated: search.NewFederated(registry,
			search.WithFederatedLogger(logger),
			search.WithFederatedMetrics(a.Metrics),
		),
		Ranker: ranking.New(router,
			ranking.WithLogger(logger),
			ranking.WithMetrics(a.Metrics),
			ranking.WithMaxCandidates(cfg.Search.RankCandidates),
		),
		Summarizer: summarize.New(router, summarize.WithLogger(logger)),
		Papers:     s2,
		PDFs:       fetcher,
	}, search.Config{
		DefaultLanguage: cfg.Search.DefaultLanguage,
		Languages:       cfg.Search.Languages,
		DefaultPerPage:  cfg.Search.DefaultPerPage,
		MaxPerPage:      cfg.Search.MaxPerPage,
		LimitPerQuery:   cfg.Search.LimitPerQuery,
		TaskTimeout:     cfg.Search.SummaryTimeout,
		PrecacheTopN:    cfg.Search.PrecacheTopN,
		PrecacheTimeout: cfg.Search.PrecacheTimeout,
		MaxSections:     cfg.Fulltext.MaxSections,
		MaxSectionRunes: cfg.Fulltext.MaxSectionRunes,
	},
		search.WithLogger(logger),
		search.WithMetrics(a.Metrics),
		search.WithPublisher(a.Publisher),
	)

	logger.Info().
		Str("cache", cfg.Cache.Backend).
		Str("llm_provider", cfg.LLM.Provider).
		Int("sources", len(registry.EnabledSources())).
		Bool("events", cfg.Events.Enabled).
		Msg("search pipeline assembled")

	return a, nil
}

func (a *App) openCache(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case config.CacheBackendRedis:
		rc := a.Config.Cache.Redis
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.Cache = r
		a.closers = append(a.closers, r.Close)
		a.checks = append(a.checks, ReadinessCheck{Name: "redis", Check: r.Ping})
		a.Logger.Info().Str("addr", rc.Addr).Msg("redis cache connected")
	default:
		a.Cache = cache.NewMemory()
	}
	return nil
}

func (a *App) openPublisher() error {
	ec := a.Config.Events
	if !ec.Enabled {
		a.Publisher = events.NewLogPublisher(a.Logger)
		return nil
	}
	p, err := events.NewKafkaPublisher(KafkaConfig(ec), a.Logger)
	if err != nil {
		return fmt.Errorf("create kafka publisher: %w", err)
	}
	a.Publisher = p
	return nil
}

func (a *App) buildSources() (*papersources.Registry, *semanticscholar.Client) {
	sc := a.Config.PaperSources.SemanticScholar
	s2 := semanticscholar.NewClient(semanticscholar.Config{
		BaseURL:     sc.BaseURL,
		APIKey:      sc.APIKey,
		Timeout:     sc.Timeout,
		RateLimit:   sc.RateLimit,
		MaxAttempts: sc.MaxAttempts,
		RetryDelay:  sc.RetryDelay,
		Enabled:     sc.Enabled,
	}, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Timeout:      sc.Timeout,
		RateLimit:    sc.RateLimit,
		BurstSize:    1,
		MaxAttempts:  sc.MaxAttempts,
		RetryDelay:   sc.RetryDelay,
		UserAgent:    userAgent,
		APIKey:       sc.APIKey,
		APIKeyHeader: "x-api-key",
		Source:       string(domain.SourceTypeSemanticScholar),
	}),
		semanticscholar.WithCache(a.Cache),
		semanticscholar.WithLogger(a.Logger),
		semanticscholar.WithMetrics(a.Metrics),
	)

	pc := a.Config.PaperSources.PubMed
	pm := pubmed.New(pubmed.Config{
		BaseURL:     pc.BaseURL,
		APIKey:      pc.APIKey,
		Timeout:     pc.Timeout,
		RateLimit:   pc.RateLimit,
		MaxAttempts: pc.MaxAttempts,
		RetryDelay:  pc.RetryDelay,
		Enabled:     pc.Enabled,
	},
		pubmed.WithLogger(a.Logger),
		pubmed.WithMetrics(a.Metrics),
	)

	registry := papersources.NewRegistry()
	registry.Register(s2)
	registry.Register(pm)
	return registry, s2
}

// ReadinessChecks returns the checks of the external dependencies in use.
func (a *App) ReadinessChecks() []ReadinessCheck {
	return a.checks
}

// Close waits up to timeout for background precaching, then releases every
// resource.
func (a *App) Close(timeout time.Duration) error {
	if a.Service != nil {
		done := make(chan struct{})
		go func() {
			a.Service.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			a.Logger.Warn().Dur("timeout", timeout).Msg("background precache still running at shutdown")
		}
	}
	return a.closeResources()
}

func (a *App) closeResources() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// KafkaConfig converts the events section to a Kafka client config.
func KafkaConfig(ec config.EventsConfig) events.KafkaConfig {
	return events.KafkaConfig{
		Brokers:      ec.Brokers,
		Topic:        ec.Topic,
		GroupID:      ec.GroupID,
		WriteTimeout: ec.WriteTimeout,
	}
}

func routerConfig(c config.LLMConfig) llm.RouterConfig {
	return llm.RouterConfig{
		DefaultProvider: c.Provider,
		Temperature:     c.Temperature,
		Timeout:         c.Timeout,
		MaxRetries:      c.MaxRetries,
		Anthropic:       llm.AnthropicConfig{APIKey: c.Anthropic.APIKey, Model: c.Anthropic.Model, BaseURL: c.Anthropic.BaseURL},
		OpenAI:          llm.OpenAIConfig{APIKey: c.OpenAI.APIKey, Model: c.OpenAI.Model, BaseURL: c.OpenAI.BaseURL},
		Gemini:          llm.GeminiConfig{APIKey: c.Gemini.APIKey, Model: c.Gemini.Model, BaseURL: c.Gemini.BaseURL},
	}
}
