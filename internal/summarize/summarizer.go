// Package summarize produces reader-facing summaries and translations of
// papers with an LLM.
//
// Every operation builds a fixed system prompt, embeds the target language
// and the source text in the user message and makes one LLM call. Failures
// are logged and yield an empty string (or the untranslated input for
// titles). The Strict variants return the LLM error instead, for callers that
// have no fallback content to show.
package summarize

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
)

// Operation labels for LLM calls.
const (
	OpSummary             = "summary"
	OpTitleTranslation    = "title_translation"
	OpAbstractTranslation = "abstract_translation"
	OpSectionTranslation  = "fulltext_translation"
	OpOverview            = "overview"
)

const (
	// MaxOverviewPapers bounds the papers an overview is built from.
	MaxOverviewPapers = 5

	overviewPreviewRunes = 300

	summaryMaxTokens  = 400
	titlesMaxTokens   = 2048
	abstractMaxTokens = 2048
	sectionMaxTokens  = 4096
	overviewMaxTokens = 800
)

// numberedLine matches the "N. " or "N) " prefix of a numbered line.
var numberedLine = regexp.MustCompile(`^\s*(\d+)\s*[.)．:：]\s*`)

// Summarizer runs the summary and translation operations.
type Summarizer struct {
	client llm.Client
	logger zerolog.Logger
}

// Option configures a Summarizer.
type Option func(*Summarizer)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Summarizer) {
		s.logger = logger
	}
}

// New creates a Summarizer backed by client.
func New(client llm.Client, opts ...Option) *Summarizer {
	s := &Summarizer{
		client: client,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "summarizer").Logger()
	return s
}

// GeneratePaperSummary returns a 150-250 character summary of a paper in
// language, or "" when the paper has no abstract or the call fails.
func (s *Summarizer) GeneratePaperSummary(ctx context.Context, abstract, language, title string) string {
	if strings.TrimSpace(abstract) == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(targetLine(language))
	fmt.Fprintf(&sb, "Title: %s\n\nAbstract:\n%s", title, abstract)

	text, err := s.chat(ctx, llm.Request{
		System:    summarySystemPrompt,
		User:      sb.String(),
		MaxTokens: summaryMaxTokens,
		Operation: OpSummary,
	})
	if err != nil {
		s.logFailure(err, OpSummary, language)
		return ""
	}
	return text
}

// TranslateTitlesBatch translates all titles with one LLM call. The result
// always has len(titles) entries: a title the model did not return, or every
// title when the call fails, is kept untranslated. English is returned
// unchanged without a call.
func (s *Summarizer) TranslateTitlesBatch(ctx context.Context, titles []string, language string) []string {
	out := append([]string(nil), titles...)
	if len(titles) == 0 || domain.IsEnglish(language) {
		return out
	}

	var sb strings.Builder
	sb.WriteString(targetLine(language))
	sb.WriteString("\nTitles:\n")
	for i, t := range titles {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, strings.Join(strings.Fields(t), " "))
	}

	text, err := s.chat(ctx, llm.Request{
		System:    titlesSystemPrompt,
		User:      sb.String(),
		MaxTokens: titlesMaxTokens,
		Operation: OpTitleTranslation,
	})
	if err != nil {
		s.logFailure(err, OpTitleTranslation, language)
		return out
	}

	translated, received := parseNumberedLines(text, len(titles))
	if received != len(titles) {
		s.logger.Warn().
			Int("expected", len(titles)).
			Int("received", received).
			Msg("title translation count mismatch, padding with originals")
	}
	for i, t := range translated {
		if t != "" {
			out[i] = t
		}
	}
	return out
}

// parseNumberedLines splits a numbered list into n entries with the
// numbering stripped, and reports how many entries it filled. When any line
// carries a number in 1..n only numbered lines are used, placed by number, so
// a preamble or trailing note cannot shift the list. With no numbered line at
// all the lines are taken in order. Unfilled entries are "".
func parseNumberedLines(text string, n int) ([]string, int) {
	type line struct {
		num  int
		text string
	}

	var lines []line
	numbered := false
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		num := 0
		if m := numberedLine.FindStringSubmatch(raw); m != nil {
			num, _ = strconv.Atoi(m[1])
			raw = strings.TrimSpace(raw[len(m[0]):])
		}
		if num >= 1 && num <= n {
			numbered = true
		}
		lines = append(lines, line{num: num, text: raw})
	}

	out := make([]string, n)
	filled := 0
	for i, l := range lines {
		switch {
		case numbered:
			if l.num < 1 || l.num > n || out[l.num-1] != "" || l.text == "" {
				continue
			}
			out[l.num-1] = l.text
			filled++
		case i < n:
			out[i] = l.text
			filled++
		}
	}
	return out, filled
}

// TranslateAbstract renders abstract in language at difficulty. English at
// expert level returns the abstract unchanged. Failures yield "".
func (s *Summarizer) TranslateAbstract(ctx context.Context, abstract, language string, difficulty domain.Difficulty, title string) string {
	text, err := s.TranslateAbstractStrict(ctx, abstract, language, difficulty, title)
	if err != nil {
		s.logFailure(err, OpAbstractTranslation, language)
		return ""
	}
	return text
}

// TranslateAbstractStrict is TranslateAbstract that returns LLM errors.
func (s *Summarizer) TranslateAbstractStrict(ctx context.Context, abstract, language string, difficulty domain.Difficulty, title string) (string, error) {
	if strings.TrimSpace(abstract) == "" {
		return "", nil
	}
	if domain.IsEnglish(language) && difficulty == domain.DifficultyExpert {
		return abstract, nil
	}

	var sb strings.Builder
	sb.WriteString(targetLine(language))
	if title != "" {
		fmt.Fprintf(&sb, "Paper title: %s\n", title)
	}
	fmt.Fprintf(&sb, "\nAbstract:\n%s", abstract)

	return s.chat(ctx, llm.Request{
		System:    abstractSystemPrompt(difficulty),
		User:      sb.String(),
		MaxTokens: abstractMaxTokens,
		Operation: OpAbstractTranslation,
	})
}

// TranslateFulltextSection renders one full-text section in language at
// difficulty, keeping figure, table and citation references verbatim.
// Failures yield "".
func (s *Summarizer) TranslateFulltextSection(ctx context.Context, text, language string, difficulty domain.Difficulty, sectionName string) string {
	out, err := s.TranslateFulltextSectionStrict(ctx, text, language, difficulty, sectionName)
	if err != nil {
		s.logFailure(err, OpSectionTranslation, language)
		return ""
	}
	return out
}

// TranslateFulltextSectionStrict is TranslateFulltextSection that returns
// LLM errors. English at expert level returns text unchanged.
func (s *Summarizer) TranslateFulltextSectionStrict(ctx context.Context, text, language string, difficulty domain.Difficulty, sectionName string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	if domain.IsEnglish(language) && difficulty == domain.DifficultyExpert {
		return text, nil
	}

	var sb strings.Builder
	sb.WriteString(targetLine(language))
	fmt.Fprintf(&sb, "Section: %s\n\n%s", sectionName, text)

	return s.chat(ctx, llm.Request{
		System:    sectionSystemPrompt(difficulty),
		User:      sb.String(),
		MaxTokens: sectionMaxTokens,
		Operation: OpSectionTranslation,
	})
}

// GenerateAIOverview writes a cross-paper overview of the first
// MaxOverviewPapers papers for userQuery. The text always ends with the
// disclaimer for language. Failures, or no papers, yield "".
func (s *Summarizer) GenerateAIOverview(ctx context.Context, userQuery, language string, papers []*domain.Paper) string {
	if len(papers) == 0 {
		return ""
	}
	if len(papers) > MaxOverviewPapers {
		papers = papers[:MaxOverviewPapers]
	}

	disclaimer := DisclaimerFor(language)

	var sb strings.Builder
	sb.WriteString(targetLine(language))
	fmt.Fprintf(&sb, "User question: %s\n\nPapers:\n", userQuery)
	for i, p := range papers {
		year := "n.d."
		if p.Year != nil {
			year = strconv.Itoa(*p.Year)
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, p.Title, year)
		if p.Abstract != "" {
			fmt.Fprintf(&sb, "   %s\n", preview(p.Abstract, overviewPreviewRunes))
		}
	}

	text, err := s.chat(ctx, llm.Request{
		System:    fmt.Sprintf(overviewSystemPrompt, disclaimer),
		User:      sb.String(),
		MaxTokens: overviewMaxTokens,
		Operation: OpOverview,
	})
	if err != nil {
		s.logFailure(err, OpOverview, language)
		return ""
	}
	return EnsureDisclaimer(text, disclaimer)
}

// EnsureDisclaimer returns text ending with disclaimer, moving it to the end
// if the model placed it elsewhere.
func EnsureDisclaimer(text, disclaimer string) string {
	text = strings.TrimSpace(text)
	if strings.HasSuffix(text, disclaimer) {
		return text
	}
	text = strings.TrimSpace(strings.Replace(text, disclaimer, "", 1))
	if text == "" {
		return disclaimer
	}
	return text + "\n\n" + disclaimer
}

func (s *Summarizer) chat(ctx context.Context, req llm.Request) (string, error) {
	resp, err := s.client.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (s *Summarizer) logFailure(err error, operation, language string) {
	s.logger.Warn().
		Err(err).
		Str("operation", operation).
		Str("language", language).
		Msg("llm call failed")
}

func preview(s string, n int) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
