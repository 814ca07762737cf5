package domain

import (
	"strings"
)

// Paper is the unified record for one academic paper, normalized from a
// source payload and merged across sources by the deduplicator.
//
// Missing-field policy: an empty string means the value is absent, a nil
// Year means the publication year is unknown, and CitationCount is 0 when the
// source does not report it.
type Paper struct {
	// ID is source-namespaced and stable for the lifetime of the process:
	// a Semantic Scholar paper ID or "pmid:<n>" for PubMed records.
	ID string `json:"id"`

	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Journal string   `json:"journal,omitempty"`
	Year    *int     `json:"year,omitempty"`
	DOI     string   `json:"doi,omitempty"`
	PMID    string   `json:"pmid,omitempty"`

	CitationCount int  `json:"citation_count"`
	IsOpenAccess  bool `json:"is_open_access"`

	PDFURL   string `json:"pdf_url,omitempty"`
	Abstract string `json:"abstract,omitempty"`

	// Source names the origin of the surviving record after merge.
	Source SourceType `json:"source"`

	// Venue and PublicationTypes are reported by Semantic Scholar only.
	Venue            string   `json:"venue,omitempty"`
	PublicationTypes []string `json:"publication_types,omitempty"`
}

// HasDOI reports whether the paper carries a non-blank DOI.
func (p *Paper) HasDOI() bool {
	return strings.TrimSpace(p.DOI) != ""
}

// YearValue returns the publication year, or 0 when unknown.
func (p *Paper) YearValue() int {
	if p.Year == nil {
		return 0
	}
	return *p.Year
}

// Clone returns a deep copy of the paper.
func (p *Paper) Clone() *Paper {
	if p == nil {
		return nil
	}
	c := *p
	if p.Year != nil {
		y := *p.Year
		c.Year = &y
	}
	if p.Authors != nil {
		c.Authors = append([]string(nil), p.Authors...)
	}
	if p.PublicationTypes != nil {
		c.PublicationTypes = append([]string(nil), p.PublicationTypes...)
	}
	return &c
}

// NormalizeDOI lowercases and trims a DOI and strips common resolver prefixes.
func NormalizeDOI(doi string) string {
	doi = strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "doi:"} {
		doi = strings.TrimPrefix(doi, prefix)
	}
	return doi
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
