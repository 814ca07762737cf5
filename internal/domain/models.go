// Package domain provides the data model shared by the paper search pipeline.
package domain

import (
	"math"
	"strings"
)

// SourceType identifies the bibliographic API that produced a paper record.
type SourceType string

const (
	SourceTypeSemanticScholar SourceType = "semantic_scholar"
	SourceTypePubMed          SourceType = "pubmed"
)

// String returns the string representation of the source type.
func (s SourceType) String() string {
	return string(s)
}

// EvidenceLevel is a coarse grade of study-design strength.
type EvidenceLevel string

const (
	EvidenceLevelHigh     EvidenceLevel = "high"
	EvidenceLevelModerate EvidenceLevel = "moderate"
	EvidenceLevelLow      EvidenceLevel = "low"
)

// ParseEvidenceLevel maps free text to an EvidenceLevel, defaulting to moderate.
func ParseEvidenceLevel(s string) EvidenceLevel {
	switch EvidenceLevel(s) {
	case EvidenceLevelHigh, EvidenceLevelModerate, EvidenceLevelLow:
		return EvidenceLevel(s)
	default:
		return EvidenceLevelModerate
	}
}

// StudyType classifies the design of a study.
type StudyType string

const (
	StudyTypeMetaAnalysis     StudyType = "meta-analysis"
	StudyTypeSystematicReview StudyType = "systematic-review"
	StudyTypeRCT              StudyType = "RCT"
	StudyTypeCohort           StudyType = "cohort"
	StudyTypeCaseSeries       StudyType = "case-series"
	StudyTypeCaseReport       StudyType = "case-report"
	StudyTypeBasicResearch    StudyType = "basic-research"
	StudyTypeReview           StudyType = "review"
	StudyTypeOther            StudyType = "other"
)

var studyTypes = map[StudyType]struct{}{
	StudyTypeMetaAnalysis:     {},
	StudyTypeSystematicReview: {},
	StudyTypeRCT:              {},
	StudyTypeCohort:           {},
	StudyTypeCaseSeries:       {},
	StudyTypeCaseReport:       {},
	StudyTypeBasicResearch:    {},
	StudyTypeReview:           {},
	StudyTypeOther:            {},
}

// ParseStudyType maps free text to a StudyType, defaulting to other.
// Matching ignores case and treats spaces and underscores as hyphens.
func ParseStudyType(s string) StudyType {
	if _, ok := studyTypes[StudyType(s)]; ok {
		return StudyType(s)
	}
	norm := strings.NewReplacer(" ", "-", "_", "-").Replace(strings.ToLower(strings.TrimSpace(s)))
	for st := range studyTypes {
		if strings.ToLower(string(st)) == norm {
			return st
		}
	}
	return StudyTypeOther
}

// RankedPaper is the scoring record the ranker produces for one paper.
// RelevanceScore is intended to fall in [0, 1] but is not clamped.
type RankedPaper struct {
	ID             string        `json:"id"`
	RelevanceScore float64       `json:"relevance_score"`
	EvidenceLevel  EvidenceLevel `json:"evidence_level"`
	StudyType      StudyType     `json:"study_type"`
	Reason         string        `json:"reason"`
}

// ScoreLess orders two relevance scores descending, with NaN sorting last.
func ScoreLess(a, b float64) bool {
	switch {
	case math.IsNaN(a):
		return false
	case math.IsNaN(b):
		return true
	default:
		return a > b
	}
}

// KeyConcepts groups the clinical concepts extracted from a query.
type KeyConcepts struct {
	Conditions    []string `json:"conditions"`
	Interventions []string `json:"interventions"`
	Outcomes      []string `json:"outcomes"`
}

// QueryTransformResult is the output of the query transformer.
// Missing fields decode as empty slices; OriginalQuery is the sanitized input.
type QueryTransformResult struct {
	OriginalQuery     string      `json:"original_query"`
	InterpretedIntent string      `json:"interpreted_intent"`
	AcademicQueries   []string    `json:"academic_queries"`
	MeshTerms         []string    `json:"mesh_terms"`
	KeyConcepts       KeyConcepts `json:"key_concepts"`
}

// SearchFilters are optional constraints on a search.
// StudyType and OpenAccessOnly are accepted and echoed but not enforced.
type SearchFilters struct {
	YearFrom       *int   `json:"year_from,omitempty" validate:"omitempty,gte=1800,lte=2200"`
	YearTo         *int   `json:"year_to,omitempty" validate:"omitempty,gte=1800,lte=2200"`
	StudyType      string `json:"study_type,omitempty"`
	OpenAccessOnly bool   `json:"open_access_only,omitempty"`
}

// SearchRequest is the input of a search.
type SearchRequest struct {
	Query    string         `json:"query" validate:"required,max=2000"`
	Language string         `json:"language,omitempty" validate:"omitempty,max=8"`
	Page     int            `json:"page,omitempty" validate:"omitempty,gte=1"`
	PerPage  int            `json:"per_page,omitempty" validate:"omitempty,gte=1,lte=100"`
	Filters  *SearchFilters `json:"filters,omitempty"`
}

// AISummary is the cross-paper overview attached to a search response.
type AISummary struct {
	Text        string   `json:"text"`
	Language    string   `json:"language"`
	QueriesUsed []string `json:"queries_used"`
}

// PaperResult is one entry of a search response: the unified paper plus its
// ranking fields, per-language summaries and translated title.
type PaperResult struct {
	Paper

	RelevanceScore  float64           `json:"relevance_score"`
	EvidenceLevel   EvidenceLevel     `json:"evidence_level,omitempty"`
	StudyType       StudyType         `json:"study_type,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	Ranked          bool              `json:"ranked"`
	Summary         map[string]string `json:"summary"`
	TranslatedTitle string            `json:"translated_title,omitempty"`
}

// SearchResponse is the result of a search.
type SearchResponse struct {
	AISummary    AISummary             `json:"ai_summary"`
	Papers       []PaperResult         `json:"papers"`
	TotalResults int                   `json:"total_results"`
	Page         int                   `json:"page"`
	PerPage      int                   `json:"per_page"`
	Cached       bool                  `json:"cached"`
	Query        *QueryTransformResult `json:"query_transform,omitempty"`
}

// AbstractTranslations holds an abstract rendered at each difficulty level.
type AbstractTranslations struct {
	Expert    string `json:"expert"`
	Layperson string `json:"layperson"`
	Children  string `json:"children"`
}

// PaperDetail is the per-paper, per-language projection served by the detail
// operation.
type PaperDetail struct {
	Paper

	Language             string               `json:"language"`
	TranslatedTitle      string               `json:"translated_title"`
	Summary              string               `json:"summary"`
	AbstractTranslations AbstractTranslations `json:"abstract_translations"`
}

// FulltextSection is one translated section of a paper's full text.
type FulltextSection struct {
	Name       string `json:"name"`
	Original   string `json:"original"`
	Translated string `json:"translated"`
}

// FulltextTranslation is the result of translating a paper's open-access PDF.
type FulltextTranslation struct {
	PaperID         string            `json:"paper_id"`
	Title           string            `json:"title"`
	TranslatedTitle string            `json:"translated_title,omitempty"`
	Language        string            `json:"language"`
	Difficulty      Difficulty        `json:"difficulty"`
	PDFURL          string            `json:"pdf_url"`
	Sections        []FulltextSection `json:"sections"`
}
