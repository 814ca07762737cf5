package httpserver

// Error codes returned in errorResponse.Code.
const (
	codeInvalidInput           = "invalid_input"
	codeNotFound               = "not_found"
	codeNoPDF                  = "no_pdf"
	codeNoExtractableText      = "no_extractable_text"
	codeAuthenticationRequired = "authentication_required"
	codeInsufficientCredits    = "insufficient_credits"
	codeServiceUnavailable     = "service_unavailable"
	codeTimeout                = "timeout"
	codeInternal               = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Reason is the LLM failure kind behind a service_unavailable code.
	Reason string `json:"reason,omitempty"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
