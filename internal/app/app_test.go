package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/config"
	"github.com/helixir/paper-search-service/internal/events"
)

func testConfig() *config.Config {
	return &config.Config{
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics", Namespace: "app_test"},
		Cache:   config.CacheConfig{Backend: config.CacheBackendMemory},
		LLM: config.LLMConfig{
			Provider:  "anthropic",
			Timeout:   time.Second,
			Anthropic: config.ProviderConfig{APIKey: "sk-test"},
		},
		PaperSources: config.PaperSourcesConfig{
			SemanticScholar: config.PaperSourceConfig{Enabled: true, BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
			PubMed:          config.PaperSourceConfig{Enabled: false},
		},
		Search: config.SearchConfig{DefaultLanguage: "ja", Languages: []string{"ja", "en"}},
	}
}

type closeTracker struct {
	events.NopPublisher
	closed int
}

func (c *closeTracker) Close() error {
	c.closed++
	return nil
}

func TestNew_MemoryCache(t *testing.T) {
	a, err := New(context.Background(), testConfig(), zerolog.Nop())
	require.NoError(t, err)

	assert.IsType(t, &cache.Memory{}, a.Cache)
	assert.IsType(t, &events.LogPublisher{}, a.Publisher)
	assert.NotNil(t, a.Service)
	assert.NotNil(t, a.Metrics)
	assert.Empty(t, a.ReadinessChecks())

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)

	require.NoError(t, a.Close(time.Second))
}

func TestNew_RedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Cache = config.CacheConfig{
		Backend: config.CacheBackendRedis,
		Redis:   config.RedisConfig{Addr: mr.Addr(), KeyPrefix: "papersearch:"},
	}

	a, err := New(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.IsType(t, &cache.Redis{}, a.Cache)
	checks := a.ReadinessChecks()
	require.Len(t, checks, 1)
	assert.Equal(t, "redis", checks[0].Name)
	assert.NoError(t, checks[0].Check(context.Background()))

	require.NoError(t, a.Close(time.Second))
}

func TestNew_RedisUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.Cache = config.CacheConfig{
		Backend: config.CacheBackendRedis,
		Redis:   config.RedisConfig{Addr: "127.0.0.1:1"},
	}

	a, err := New(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Nil(t, a)
}

func TestNew_UnsupportedProviderReleasesResources(t *testing.T) {
	cfg := testConfig()
	cfg.LLM.Provider = "mistral"
	pub := &closeTracker{}

	a, err := New(context.Background(), cfg, zerolog.Nop(), WithPublisher(pub))

	require.Error(t, err)
	assert.Nil(t, a)
	assert.Equal(t, 1, pub.closed)
}

func TestNew_KafkaRequiresBrokers(t *testing.T) {
	cfg := testConfig()
	cfg.Events = config.EventsConfig{Enabled: true, Topic: "usage"}

	_, err := New(context.Background(), cfg, zerolog.Nop())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker")
}

func TestClose_ClosesPublisherOnce(t *testing.T) {
	pub := &closeTracker{}
	a, err := New(context.Background(), testConfig(), zerolog.Nop(), WithPublisher(pub))
	require.NoError(t, err)
	assert.Same(t, pub, a.Publisher)

	require.NoError(t, a.Close(time.Second))
	require.NoError(t, a.Close(time.Second))
	assert.Equal(t, 1, pub.closed)
}

func TestKafkaConfig(t *testing.T) {
	kc := KafkaConfig(config.EventsConfig{
		Brokers:      []string{"k1:9092", "k2:9092"},
		Topic:        "events.usage",
		GroupID:      "tail",
		WriteTimeout: 3 * time.Second,
	})

	assert.Equal(t, events.KafkaConfig{
		Brokers:      []string{"k1:9092", "k2:9092"},
		Topic:        "events.usage",
		GroupID:      "tail",
		WriteTimeout: 3 * time.Second,
	}, kc)
}
