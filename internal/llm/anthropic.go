package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// anthropicAPIVersion is the Anthropic API version header value.
	anthropicAPIVersion = "2023-06-01"

	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-sonnet-latest"

	// anthropicJSONInstruction is appended to the system prompt when JSON is
	// expected; the Messages API has no response format switch.
	anthropicJSONInstruction = "\n\nRespond with a single valid JSON value and no other text."
)

// messagesRequest is the request body for the Anthropic Messages API.
type messagesRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
}

// anthropicMessage represents a single message in the Anthropic Messages API.
type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// contentBlock represents a content block in the Anthropic Messages API response.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// messagesResponse is the response body from the Anthropic Messages API.
type messagesResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	Model      string         `json:"model"`
	StopReason string         `json:"stop_reason"`
	Usage      anthropicUsage `json:"usage"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicAPIErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type anthropicErrorResponse struct {
	Type  string                  `json:"type"`
	Error anthropicAPIErrorDetail `json:"error"`
}

// AnthropicConfig holds the parameters needed to create an Anthropic provider.
// This is defined in the llm package to avoid importing the config package.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key.
	APIKey string
	// Model is the model identifier.
	Model string
	// BaseURL is the API base URL (empty means default).
	BaseURL string
}

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	httpClient  *http.Client
	apiKey      string
	model       string
	baseURL     string
	temperature float64
	maxRetries  int
	retryDelay  time.Duration
}

// NewAnthropicProvider creates a new AnthropicProvider with the given configuration.
// The timeout parameter controls the HTTP client timeout for API calls.
// The maxRetries parameter controls how many times transient errors are retried.
func NewAnthropicProvider(cfg AnthropicConfig, temperature float64, timeout time.Duration, maxRetries int) *AnthropicProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAnthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	return &AnthropicProvider{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		temperature: temperature,
		maxRetries:  maxRetries,
		retryDelay:  time.Second,
	}
}

// Chat sends one system+user exchange to the Messages API and returns the
// first text content block.
//
// Transient errors (rate limit, overload, 5xx and network failures) are
// retried up to maxRetries times with exponential backoff.
func (p *AnthropicProvider) Chat(ctx context.Context, req Request) (*Response, error) {
	if p.apiKey == "" {
		return nil, missingKeyError(ProviderAnthropic)
	}

	system := req.System
	if req.ExpectJSON {
		system += anthropicJSONInstruction
	}

	apiReq := messagesRequest{
		Model:     p.model,
		MaxTokens: req.maxTokens(),
		System:    system,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.User},
		},
		Temperature: p.temperature,
	}

	return withRetries(ctx, ProviderAnthropic, p.maxRetries, p.retryDelay, func() (*Response, error) {
		return p.sendRequest(ctx, apiReq)
	})
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// Model returns the model identifier being used.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// withCredentials returns a copy using the given key and, when set, model.
// The HTTP client is shared.
func (p *AnthropicProvider) withCredentials(apiKey, model string) Provider {
	cp := *p
	cp.apiKey = apiKey
	if model != "" {
		cp.model = model
	}
	return &cp
}

func (p *AnthropicProvider) sendRequest(ctx context.Context, apiReq messagesRequest) (*Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("anthropic: %w", ctx.Err())
		}
		return nil, networkError(ProviderAnthropic, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, networkError(ProviderAnthropic, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseAnthropicAPIError(httpResp.StatusCode, respBody)
	}

	var resp messagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, malformedResponseError(ProviderAnthropic, "failed to unmarshal response: "+err.Error())
	}

	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != "" {
			model := resp.Model
			if model == "" {
				model = p.model
			}
			return &Response{
				Text:         block.Text,
				Provider:     ProviderAnthropic,
				Model:        model,
				InputTokens:  resp.Usage.InputTokens,
				OutputTokens: resp.Usage.OutputTokens,
			}, nil
		}
	}

	return nil, malformedResponseError(ProviderAnthropic, "response contains no text content blocks")
}

// parseAnthropicAPIError maps an Anthropic error response to a ServiceError.
func parseAnthropicAPIError(statusCode int, body []byte) *ServiceError {
	svcErr := &ServiceError{
		Provider:   ProviderAnthropic,
		StatusCode: statusCode,
		Message:    string(body),
	}

	var errResp anthropicErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		svcErr.Message = errResp.Error.Message
		svcErr.Type = errResp.Error.Type
	}

	switch svcErr.Type {
	case "authentication_error", "permission_error":
		svcErr.Kind = KindInvalidKey
	case "overloaded_error", "api_error":
		svcErr.Kind = KindOverloaded
	case "rate_limit_error":
		svcErr.Kind = KindRateLimit
	case "not_found_error":
		svcErr.Kind = KindConfigError
	default:
		svcErr.Kind = classifyStatus(statusCode, svcErr.Message)
	}

	return svcErr
}
