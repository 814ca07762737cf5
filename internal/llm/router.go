package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/observability"
)

// RouterConfig holds the parameters needed to build the provider set.
// This is defined in the llm package to avoid importing the config package,
// keeping the llm package free of infrastructure dependencies.
type RouterConfig struct {
	// DefaultProvider is used when the caller supplies no credentials
	// ("anthropic", "openai" or "gemini").
	DefaultProvider string
	// Temperature is the LLM temperature setting.
	Temperature float64
	// Timeout is the timeout for LLM API calls.
	Timeout time.Duration
	// MaxRetries is the maximum number of retries for transient failures.
	MaxRetries int
	// Anthropic contains Anthropic-specific settings.
	Anthropic AnthropicConfig
	// OpenAI contains OpenAI-specific settings.
	OpenAI OpenAIConfig
	// Gemini contains Gemini-specific settings.
	Gemini GeminiConfig
}

// Credentials are caller-supplied provider settings (bring-your-own-key).
type Credentials struct {
	// Provider selects the provider; empty means the router default.
	Provider string
	// APIKey replaces the service key.
	APIKey string
	// Model optionally replaces the configured model.
	Model string
}

type credentialsKey struct{}

// WithCredentials returns a context carrying caller-supplied credentials.
// Credentials without an API key are ignored.
func WithCredentials(ctx context.Context, creds Credentials) context.Context {
	if creds.APIKey == "" {
		return ctx
	}
	return context.WithValue(ctx, credentialsKey{}, creds)
}

// WithoutCredentials returns a context that carries ctx's values except the
// caller's credentials, so calls made with it use the configured default.
func WithoutCredentials(ctx context.Context) context.Context {
	if _, ok := CredentialsFromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, credentialsKey{}, nil)
}

// CredentialsFromContext returns the credentials set by WithCredentials.
func CredentialsFromContext(ctx context.Context) (Credentials, bool) {
	creds, ok := ctx.Value(credentialsKey{}).(Credentials)
	return creds, ok
}

// credentialed is implemented by providers that can be rebound to a
// caller's key and model.
type credentialed interface {
	Provider
	withCredentials(apiKey, model string) Provider
}

// Router is the Client used by the pipeline. It dispatches each call to the
// caller's provider when credentials are present in the context, and to the
// configured default otherwise.
type Router struct {
	defaultProvider string
	providers       map[string]credentialed
	logger          zerolog.Logger
	metrics         *observability.Metrics
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger zerolog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithRouterMetrics sets the metrics sink.
func WithRouterMetrics(m *observability.Metrics) RouterOption {
	return func(r *Router) {
		r.metrics = m
	}
}

// Compile-time check that Router implements Client.
var _ Client = (*Router)(nil)

// NewRouter builds every provider from cfg. Returns an error for an
// unsupported or empty default provider.
func NewRouter(cfg RouterConfig, opts ...RouterOption) (*Router, error) {
	r := &Router{
		defaultProvider: cfg.DefaultProvider,
		providers: map[string]credentialed{
			ProviderAnthropic: NewAnthropicProvider(cfg.Anthropic, cfg.Temperature, cfg.Timeout, cfg.MaxRetries),
			ProviderOpenAI:    NewOpenAIProvider(cfg.OpenAI, cfg.Temperature, cfg.Timeout, cfg.MaxRetries),
			ProviderGemini:    NewGeminiProvider(cfg.Gemini, cfg.Temperature, cfg.Timeout, cfg.MaxRetries),
		},
		logger: zerolog.Nop(),
	}
	if _, ok := r.providers[cfg.DefaultProvider]; !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.DefaultProvider)
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "llm").Logger()
	return r, nil
}

// Chat resolves the provider for ctx and forwards the request.
func (r *Router) Chat(ctx context.Context, req Request) (*Response, error) {
	provider, err := r.resolve(ctx)
	if err != nil {
		r.recordFailure(req.Operation, "unresolved", err)
		return nil, err
	}

	start := time.Now()
	resp, err := provider.Chat(ctx, req)
	if r.metrics != nil {
		r.metrics.RecordLLMRequest(req.Operation, provider.Name(), time.Since(start).Seconds())
	}
	if err != nil {
		r.recordFailure(req.Operation, provider.Name(), err)
		r.logger.Debug().
			Err(err).
			Str("operation", req.Operation).
			Str("provider", provider.Name()).
			Msg("llm call failed")
		return nil, err
	}
	return resp, nil
}

// resolve picks the provider for a call. Caller credentials win over the
// service key; an unknown caller provider is a config error.
func (r *Router) resolve(ctx context.Context) (Provider, error) {
	creds, ok := CredentialsFromContext(ctx)
	if !ok {
		return r.providers[r.defaultProvider], nil
	}

	name := creds.Provider
	if name == "" {
		name = r.defaultProvider
	}
	base, found := r.providers[name]
	if !found {
		return nil, &ServiceError{
			Kind:     KindConfigError,
			Provider: name,
			Message:  "unsupported provider",
		}
	}
	return base.withCredentials(creds.APIKey, creds.Model), nil
}

func (r *Router) recordFailure(operation, provider string, err error) {
	if r.metrics == nil {
		return
	}
	kind := "error"
	if svcErr, ok := AsServiceError(err); ok {
		kind = string(svcErr.Kind)
	}
	r.metrics.RecordLLMRequestFailed(operation, provider, kind)
}
