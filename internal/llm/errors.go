package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the provider-independent classification of an LLM failure.
type ErrorKind string

const (
	// KindInvalidKey means the credential was rejected.
	KindInvalidKey ErrorKind = "invalid_key"
	// KindBilling means the account has no credit or quota left.
	KindBilling ErrorKind = "billing"
	// KindRateLimit means the provider throttled the request.
	KindRateLimit ErrorKind = "rate_limit"
	// KindOverloaded covers provider 5xx, overload and network failures.
	KindOverloaded ErrorKind = "overloaded"
	// KindConfigError means the request could not be served as configured
	// (unknown model, missing key, unknown provider).
	KindConfigError ErrorKind = "config_error"
	// KindUnknown is everything else.
	KindUnknown ErrorKind = "unknown"
)

// ServiceError is an LLM failure normalized into the shared taxonomy.
type ServiceError struct {
	// Kind is the normalized classification.
	Kind ErrorKind
	// Provider is the name of the LLM provider (e.g., "openai", "anthropic").
	Provider string
	// StatusCode is the HTTP status code returned by the API, 0 when no
	// response was received.
	StatusCode int
	// Message is the error message from the API. It is never shown to end users.
	Message string
	// Type is the error type classification from the API.
	Type string
	// Code is the provider-specific error code (if available).
	Code string
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("%s: %s (status %d, type %s): %s", e.Provider, e.Kind, e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
}

// IsTransient reports whether the failure may succeed on retry.
func (e *ServiceError) IsTransient() bool {
	return e.Kind == KindRateLimit || e.Kind == KindOverloaded
}

// AsServiceError returns the ServiceError in err's chain, if any.
func AsServiceError(err error) (*ServiceError, bool) {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr, true
	}
	return nil, false
}

// isTransientError checks if an error is a transient ServiceError.
func isTransientError(err error) bool {
	svcErr, ok := AsServiceError(err)
	return ok && svcErr.IsTransient()
}

// classifyStatus maps the status and message shared by most providers to a
// kind. Providers refine the result with their own error codes.
func classifyStatus(statusCode int, message string) ErrorKind {
	msg := strings.ToLower(message)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return KindInvalidKey
	case statusCode == http.StatusPaymentRequired:
		return KindBilling
	case containsAny(msg, "credit balance", "billing", "insufficient_quota", "insufficient credit"):
		return KindBilling
	case statusCode == http.StatusTooManyRequests:
		return KindRateLimit
	case statusCode == 0 || statusCode >= 500:
		return KindOverloaded
	case statusCode == http.StatusNotFound:
		return KindConfigError
	case statusCode == http.StatusBadRequest && strings.Contains(msg, "model"):
		return KindConfigError
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func missingKeyError(provider string) *ServiceError {
	return &ServiceError{
		Kind:     KindConfigError,
		Provider: provider,
		Message:  "no API key configured",
	}
}

func networkError(provider string, err error) *ServiceError {
	return &ServiceError{
		Kind:     KindOverloaded,
		Provider: provider,
		Message:  fmt.Sprintf("request failed: %v", err),
		Type:     "network_error",
	}
}

func malformedResponseError(provider, message string) *ServiceError {
	return &ServiceError{
		Kind:       KindUnknown,
		Provider:   provider,
		StatusCode: http.StatusOK,
		Message:    message,
	}
}
