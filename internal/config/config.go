// Package config provides configuration management for the paper search service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PAPERSEARCH"

// Config holds all configuration for the paper search service.
type Config struct {
	// Server contains HTTP server settings.
	Server ServerConfig `mapstructure:"server"`
	// Logging contains structured logging settings.
	Logging LoggingConfig `mapstructure:"logging"`
	// Metrics contains Prometheus metrics exposure settings.
	Metrics MetricsConfig `mapstructure:"metrics"`
	// Cache selects and configures the result cache backend.
	Cache CacheConfig `mapstructure:"cache"`
	// LLM contains chat provider settings.
	LLM LLMConfig `mapstructure:"llm"`
	// PaperSources contains paper source API configurations.
	PaperSources PaperSourcesConfig `mapstructure:"paper_sources"`
	// Search tunes the search pipeline.
	Search SearchConfig `mapstructure:"search"`
	// Fulltext bounds PDF download and section translation.
	Fulltext FulltextConfig `mapstructure:"fulltext"`
	// Events configures the usage event feed.
	Events EventsConfig `mapstructure:"events"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Host is the address to bind the server to (default: 0.0.0.0).
	Host string `mapstructure:"host"`
	// HTTPPort is the HTTP server port (default: 8080).
	HTTPPort int `mapstructure:"http_port"`
	// ReadTimeout is the maximum duration for reading request body.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout is the maximum duration for writing response. Full-text
	// translation of a long paper can take minutes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CORSAllowedOrigins lists origins allowed to call the API. Empty disables CORS headers.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level (trace, debug, info, warn, error, fatal, panic).
	Level string `mapstructure:"level"`
	// Format is the log format (json, console).
	Format string `mapstructure:"format"`
	// Output is the log output destination (stdout, stderr).
	Output string `mapstructure:"output"`
	// AddSource adds source file and line to log output.
	AddSource bool `mapstructure:"add_source"`
	// TimeFormat is the timestamp format.
	TimeFormat string `mapstructure:"time_format"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	// Enabled enables metrics collection and exposure.
	Enabled bool `mapstructure:"enabled"`
	// Path is the HTTP path for metrics endpoint.
	Path string `mapstructure:"path"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	// Backend is "memory" (per process) or "redis" (shared).
	Backend string `mapstructure:"backend"`
	// Redis contains Redis connection settings.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `mapstructure:"addr"`
	// Password is loaded from PAPERSEARCH_CACHE_REDIS_PASSWORD only.
	Password string `mapstructure:"-"`
	// DB is the Redis database number.
	DB int `mapstructure:"db"`
	// KeyPrefix namespaces every key.
	KeyPrefix string `mapstructure:"key_prefix"`
}

// LLMConfig holds LLM client configuration.
type LLMConfig struct {
	// Provider is the default provider (anthropic, openai, gemini).
	Provider string `mapstructure:"provider"`
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int `mapstructure:"max_retries"`
	// Temperature is the LLM temperature setting.
	Temperature float64 `mapstructure:"temperature"`
	// OpenAI contains OpenAI-specific settings.
	OpenAI ProviderConfig `mapstructure:"openai"`
	// Anthropic contains Anthropic-specific settings.
	Anthropic ProviderConfig `mapstructure:"anthropic"`
	// Gemini contains Google Gemini-specific settings.
	Gemini ProviderConfig `mapstructure:"gemini"`
}

// ProviderConfig holds the settings of one LLM provider.
type ProviderConfig struct {
	// APIKey is loaded from PAPERSEARCH_LLM_<PROVIDER>_API_KEY only.
	APIKey string `mapstructure:"-"`
	// Model is the model to use.
	Model string `mapstructure:"model"`
	// BaseURL is the API base URL (for custom endpoints).
	BaseURL string `mapstructure:"base_url"`
}

// PaperSourcesConfig holds configuration for all paper source APIs.
type PaperSourcesConfig struct {
	// SemanticScholar contains Semantic Scholar API settings.
	SemanticScholar PaperSourceConfig `mapstructure:"semantic_scholar"`
	// PubMed contains PubMed API settings.
	PubMed PaperSourceConfig `mapstructure:"pubmed"`
}

// PaperSourceConfig holds configuration for a single paper source API.
type PaperSourceConfig struct {
	// Enabled controls whether this source is used.
	Enabled bool `mapstructure:"enabled"`
	// APIKey is loaded from environment variables only, e.g. PAPERSEARCH_PAPER_SOURCES_PUBMED_API_KEY.
	APIKey string `mapstructure:"-"`
	// BaseURL is the API base URL.
	BaseURL string `mapstructure:"base_url"`
	// Timeout is the timeout for API calls.
	Timeout time.Duration `mapstructure:"timeout"`
	// RateLimit is the maximum requests per second.
	RateLimit float64 `mapstructure:"rate_limit"`
	// MaxAttempts bounds attempts on 429 responses.
	MaxAttempts int `mapstructure:"max_attempts"`
	// RetryDelay is the base backoff delay.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// SearchConfig tunes the search pipeline.
type SearchConfig struct {
	// DefaultLanguage is used when a request names none.
	DefaultLanguage string `mapstructure:"default_language"`
	// Languages are the supported response languages; the top results of
	// every search are precached in each.
	Languages []string `mapstructure:"languages"`
	// DefaultPerPage is the page size when a request names none.
	DefaultPerPage int `mapstructure:"default_per_page"`
	// MaxPerPage caps the requested page size.
	MaxPerPage int `mapstructure:"max_per_page"`
	// LimitPerQuery is the per-source result limit for one academic query.
	LimitPerQuery int `mapstructure:"limit_per_query"`
	// RankCandidates bounds the papers sent to the ranking model.
	RankCandidates int `mapstructure:"rank_candidates"`
	// SummaryTimeout bounds each summary and the overview.
	SummaryTimeout time.Duration `mapstructure:"summary_timeout"`
	// PrecacheTopN is the number of top results precached per language.
	PrecacheTopN int `mapstructure:"precache_top_n"`
	// PrecacheTimeout bounds the background precache job.
	PrecacheTimeout time.Duration `mapstructure:"precache_timeout"`
}

// FulltextConfig bounds PDF handling.
type FulltextConfig struct {
	// DownloadTimeout bounds one PDF download.
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	// MaxSizeBytes rejects larger PDFs.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
	// MaxPages caps the pages read from one PDF.
	MaxPages int `mapstructure:"max_pages"`
	// MaxSections caps the sections translated.
	MaxSections int `mapstructure:"max_sections"`
	// MaxSectionRunes truncates each section.
	MaxSectionRunes int `mapstructure:"max_section_runes"`
	// AllowPrivateNetworks permits PDF URLs resolving to private addresses.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// EventsConfig configures the usage event feed.
type EventsConfig struct {
	// Enabled publishes usage events to Kafka. When false, events are logged.
	Enabled bool `mapstructure:"enabled"`
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `mapstructure:"brokers"`
	// Topic is the Kafka topic usage events are written to.
	Topic string `mapstructure:"topic"`
	// GroupID is the consumer group used by searchctl events tail.
	GroupID string `mapstructure:"group_id"`
	// WriteTimeout bounds one publish.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// HTTPAddress returns the HTTP server address.
func (c *ServerConfig) HTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// Load loads configuration from environment variables and config files.
func Load() (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if present
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/paper-search-service")

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we'll use env vars and defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// List values set through the environment arrive as one string.
	cfg.Search.Languages = splitList(cfg.Search.Languages)
	cfg.Events.Brokers = splitList(cfg.Events.Brokers)
	cfg.Server.CORSAllowedOrigins = splitList(cfg.Server.CORSAllowedOrigins)

	// Load secrets exclusively from environment variables.
	// These fields use mapstructure:"-" to prevent loading from config files.
	loadSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadSecrets populates secret fields exclusively from environment variables.
func loadSecrets(cfg *Config) {
	cfg.LLM.OpenAI.APIKey = os.Getenv(EnvPrefix + "_LLM_OPENAI_API_KEY")
	cfg.LLM.Anthropic.APIKey = os.Getenv(EnvPrefix + "_LLM_ANTHROPIC_API_KEY")
	cfg.LLM.Gemini.APIKey = os.Getenv(EnvPrefix + "_LLM_GEMINI_API_KEY")

	cfg.PaperSources.SemanticScholar.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_SEMANTIC_SCHOLAR_API_KEY")
	cfg.PaperSources.PubMed.APIKey = os.Getenv(EnvPrefix + "_PAPER_SOURCES_PUBMED_API_KEY")

	cfg.Cache.Redis.Password = os.Getenv(EnvPrefix + "_CACHE_REDIS_PASSWORD")
}

// splitList expands comma-separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors_allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.namespace", "paper_search")

	// Cache defaults
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key_prefix", "papersearch:")

	// LLM defaults
	// API keys are loaded exclusively from environment variables (see loadSecrets).
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("llm.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("llm.openai.model", "gpt-4o-mini")
	v.SetDefault("llm.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")
	v.SetDefault("llm.gemini.base_url", "")

	// Paper sources defaults - Semantic Scholar
	v.SetDefault("paper_sources.semantic_scholar.enabled", true)
	v.SetDefault("paper_sources.semantic_scholar.base_url", "https://api.semanticscholar.org/graph/v1")
	v.SetDefault("paper_sources.semantic_scholar.timeout", "10s")
	v.SetDefault("paper_sources.semantic_scholar.rate_limit", 1.0) // unauthenticated shared pool
	v.SetDefault("paper_sources.semantic_scholar.max_attempts", 3)
	v.SetDefault("paper_sources.semantic_scholar.retry_delay", "1s")

	// Paper sources defaults - PubMed
	v.SetDefault("paper_sources.pubmed.enabled", true)
	v.SetDefault("paper_sources.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils")
	v.SetDefault("paper_sources.pubmed.timeout", "10s")
	v.SetDefault("paper_sources.pubmed.rate_limit", 3.0) // NCBI recommends max 3 req/sec without API key
	v.SetDefault("paper_sources.pubmed.max_attempts", 3)
	v.SetDefault("paper_sources.pubmed.retry_delay", "1s")

	// Search defaults
	v.SetDefault("search.default_language", "ja")
	v.SetDefault("search.languages", []string{"ja", "en", "zh", "ko", "es", "fr", "de"})
	v.SetDefault("search.default_per_page", 50)
	v.SetDefault("search.max_per_page", 100)
	v.SetDefault("search.limit_per_query", 20)
	v.SetDefault("search.rank_candidates", 20)
	v.SetDefault("search.summary_timeout", "15s")
	v.SetDefault("search.precache_top_n", 5)
	v.SetDefault("search.precache_timeout", "3m")

	// Fulltext defaults
	v.SetDefault("fulltext.download_timeout", "30s")
	v.SetDefault("fulltext.max_size_bytes", 20*1024*1024)
	v.SetDefault("fulltext.max_pages", 60)
	v.SetDefault("fulltext.max_sections", 12)
	v.SetDefault("fulltext.max_section_runes", 6000)
	v.SetDefault("fulltext.allow_private_networks", false)

	// Events defaults
	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{"localhost:9092"})
	v.SetDefault("events.topic", "events.usage.paper_search_service")
	v.SetDefault("events.group_id", "paper-search-service-tail")
	v.SetDefault("events.write_timeout", "5s")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// Validate server ports
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	// Validate cache backend
	switch strings.ToLower(c.Cache.Backend) {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("invalid cache backend: %q", c.Cache.Backend)
	}

	// Validate that the configured LLM provider has its required API key set.
	// Callers may still bring their own key per request, but the service
	// needs a working default.
	switch strings.ToLower(c.LLM.Provider) {
	case "anthropic":
		if c.LLM.Anthropic.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_ANTHROPIC_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_OPENAI_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("LLM provider %q requires %s_LLM_GEMINI_API_KEY to be set", c.LLM.Provider, EnvPrefix)
		}
	default:
		return fmt.Errorf("unsupported LLM provider: %q", c.LLM.Provider)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("LLM max_retries must not be negative")
	}

	// Validate search tuning
	if len(c.Search.Languages) == 0 {
		return fmt.Errorf("search languages must not be empty")
	}
	if !containsFold(c.Search.Languages, c.Search.DefaultLanguage) {
		return fmt.Errorf("search default language %q is not in languages %v", c.Search.DefaultLanguage, c.Search.Languages)
	}
	if c.Search.DefaultPerPage <= 0 || c.Search.MaxPerPage < c.Search.DefaultPerPage {
		return fmt.Errorf("search per-page settings invalid: default %d, max %d", c.Search.DefaultPerPage, c.Search.MaxPerPage)
	}
	if c.Search.SummaryTimeout <= 0 {
		return fmt.Errorf("search summary_timeout must be positive")
	}

	// Validate fulltext bounds
	if c.Fulltext.MaxSizeBytes <= 0 {
		return fmt.Errorf("fulltext max_size_bytes must be positive")
	}

	// Validate events
	if c.Events.Enabled {
		if len(c.Events.Brokers) == 0 {
			return fmt.Errorf("events brokers are required when events are enabled")
		}
		if c.Events.Topic == "" {
			return fmt.Errorf("events topic is required when events are enabled")
		}
	}

	return nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
