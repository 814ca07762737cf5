package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiConfig holds the parameters needed to create a Gemini provider.
type GeminiConfig struct {
	// APIKey is the Gemini API key.
	APIKey string
	// Model is the model identifier (e.g., "gemini-2.5-flash").
	Model string
	// BaseURL overrides the API endpoint (empty means default).
	BaseURL string
}

// GeminiProvider implements Provider on the Google Gen AI SDK against the
// Gemini API backend. The SDK client is created on first use.
type GeminiProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider(cfg GeminiConfig, temperature float64, timeout time.Duration, maxRetries int) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &GeminiProvider{
		httpClient:  &http.Client{Timeout: timeout},
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     cfg.BaseURL,
		temperature: temperature,
		maxRetries:  maxRetries,
		retryDelay:  time.Second,
	}
}

// Chat sends one system+user exchange through GenerateContent.
func (p *GeminiProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	client, err := p.genaiClient(ctx)
	if err != nil {
		return nil, err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(p.temperature)),
		MaxOutputTokens: int32(req.maxTokens()),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.ExpectJSON {
		cfg.ResponseMIMEType = "application/json"
	}

	return withRetries(ctx, ProviderGemini, p.maxRetries, p.retryDelay, func() (*Response, error) {
		resp, err := client.Models.GenerateContent(ctx, p.model, genai.Text(req.User), cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gemini: %w", ctx.Err())
			}
			return nil, mapGeminiError(err)
		}

		text := resp.Text()
		if text == "" {
			return nil, malformedResponseError(ProviderGemini, "response contains no text")
		}

		out := &Response{
			Text:     text,
			Provider: ProviderGemini,
			Model:    p.model,
		}
		if resp.UsageMetadata != nil {
			out.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		return out, nil
	})
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return ProviderGemini
}

// Model returns the model identifier being used.
func (p *GeminiProvider) Model() string {
	return p.model
}

func (p *GeminiProvider) withCredentials(apiKey, model string) Provider {
	if model == "" {
		model = p.model
	}
	cp := &GeminiProvider{
		httpClient:  p.httpClient,
		apiKey:      apiKey,
		model:       model,
		baseURL:     p.baseURL,
		temperature: p.temperature,
		maxRetries:  p.maxRetries,
		retryDelay:  p.retryDelay,
	}
	return cp
}

func (p *GeminiProvider) genaiClient(ctx context.Context) (*genai.Client, error) {
	if p.apiKey == "" {
		return nil, missingKeyError(ProviderGemini)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  p.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: p.baseURL},
	})
	if err != nil {
		return nil, &ServiceError{
			Kind:     KindConfigError,
			Provider: ProviderGemini,
			Message:  err.Error(),
		}
	}
	p.client = client
	return client, nil
}

// mapGeminiError maps SDK errors to a ServiceError. The Gemini API reports
// a bad key as 400 INVALID_ARGUMENT, so the message is inspected first.
func mapGeminiError(err error) *ServiceError {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return networkError(ProviderGemini, err)
	}

	svcErr := &ServiceError{
		Provider:   ProviderGemini,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		Type:       apiErr.Status,
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case strings.Contains(msg, "api key not valid") || strings.Contains(msg, "api_key_invalid"):
		svcErr.Kind = KindInvalidKey
	case apiErr.Status == "PERMISSION_DENIED" || apiErr.Status == "UNAUTHENTICATED":
		svcErr.Kind = KindInvalidKey
	case apiErr.Status == "RESOURCE_EXHAUSTED" && !strings.Contains(msg, "billing"):
		svcErr.Kind = KindRateLimit
	case apiErr.Status == "NOT_FOUND":
		svcErr.Kind = KindConfigError
	case apiErr.Status == "UNAVAILABLE" || apiErr.Status == "INTERNAL":
		svcErr.Kind = KindOverloaded
	default:
		svcErr.Kind = classifyStatus(apiErr.Code, apiErr.Message)
	}

	return svcErr
}
