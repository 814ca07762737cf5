// Package semanticscholar provides a client for the Semantic Scholar Graph API,
// the general scholarly-graph source of the search pipeline.
//
// API Documentation: https://api.semanticscholar.org/api-docs/
package semanticscholar

// SearchResponse represents the response from the paper search endpoint.
type SearchResponse struct {
	// Total is the total number of papers matching the query.
	Total int `json:"total"`

	// Offset is the current offset in the result set.
	Offset int `json:"offset"`

	// Data contains the list of papers returned by the search.
	Data []PaperResult `json:"data"`
}

// PaperResult represents a single paper in the Semantic Scholar API response.
// Nullable fields are pointers; the API returns null for unknown years,
// abstracts withheld by publishers and absent journals.
type PaperResult struct {
	PaperID          string         `json:"paperId"`
	Title            string         `json:"title"`
	Abstract         *string        `json:"abstract"`
	Year             *int           `json:"year"`
	Venue            string         `json:"venue"`
	Journal          *Journal       `json:"journal,omitempty"`
	Authors          []Author       `json:"authors"`
	CitationCount    *int           `json:"citationCount"`
	IsOpenAccess     bool           `json:"isOpenAccess"`
	OpenAccessPDF    *OpenAccessPDF `json:"openAccessPdf,omitempty"`
	ExternalIDs      *ExternalIDs   `json:"externalIds,omitempty"`
	PublicationTypes []string       `json:"publicationTypes"`
}

// ExternalIDs contains cross-reference identifiers for a paper.
type ExternalIDs struct {
	DOI           string `json:"DOI,omitempty"`
	ArXiv         string `json:"ArXiv,omitempty"`
	PubMed        string `json:"PubMed,omitempty"`
	PubMedCentral string `json:"PubMedCentral,omitempty"`
}

// Journal contains journal-specific information.
type Journal struct {
	Name   string `json:"name,omitempty"`
	Volume string `json:"volume,omitempty"`
	Pages  string `json:"pages,omitempty"`
}

// Author represents a paper author.
type Author struct {
	AuthorID string `json:"authorId,omitempty"`
	Name     string `json:"name"`
}

// OpenAccessPDF contains information about an open access PDF.
type OpenAccessPDF struct {
	URL    string `json:"url,omitempty"`
	Status string `json:"status,omitempty"`
}

// ErrorResponse represents an error response from the Semantic Scholar API.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
