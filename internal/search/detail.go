package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/pdf"
)

// PaperDetail returns a paper with its summary, translated title and the
// abstract rendered at every difficulty level, all in language. Abstract
// translations are cached without expiry. LLM service errors from the
// abstract translations are returned so the caller can report them.
func (s *Service) PaperDetail(ctx context.Context, paperID, language string) (detail *domain.PaperDetail, err error) {
	start := time.Now()
	event := events.NewUsageEvent(ctx, events.OperationPaperDetail, "")
	defer func() { s.publish(ctx, event, start, err) }()

	language = s.language(language)
	event.PaperID, event.Language = paperID, language

	paper, err := s.fetchPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	logger := observability.WithRequestContext(ctx, observability.WithPaperContext(s.logger, paper.ID, language))

	detail = &domain.PaperDetail{
		Paper:           *paper,
		Language:        language,
		TranslatedTitle: paper.Title,
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	wg.Add(2 + len(domain.Difficulties))
	go func() {
		defer wg.Done()
		detail.Summary = s.paperSummary(ctx, paper, language)
	}()
	go func() {
		defer wg.Done()
		if t, ok := s.translateTitles(ctx, []*domain.Paper{paper}, language)[paper.ID]; ok {
			detail.TranslatedTitle = t
		}
	}()
	for _, d := range domain.Difficulties {
		go func(d domain.Difficulty) {
			defer wg.Done()
			text, terr := s.abstractTranslation(ctx, paper, language, d)
			if terr != nil {
				logger.Warn().Err(terr).Str("difficulty", string(d)).Msg("abstract translation failed")
				mu.Lock()
				if firstErr == nil {
					firstErr = terr
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			setAbstract(&detail.AbstractTranslations, d, text)
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return detail, nil
}

func (s *Service) abstractTranslation(ctx context.Context, p *domain.Paper, language string, d domain.Difficulty) (string, error) {
	key := cache.AbstractKey(p.ID, language, string(d))
	if text, ok := cache.GetString(ctx, s.cache, key); ok {
		s.recordCache("abstract", true)
		return text, nil
	}
	s.recordCache("abstract", false)

	text, err := s.summarizer.TranslateAbstractStrict(ctx, p.Abstract, language, d, p.Title)
	if err != nil {
		return "", err
	}
	if text != "" {
		_ = cache.SetJSON(ctx, s.cache, key, text, cache.AbstractTTL)
	}
	return text, nil
}

func setAbstract(t *domain.AbstractTranslations, d domain.Difficulty, text string) {
	switch d {
	case domain.DifficultyExpert:
		t.Expert = text
	case domain.DifficultyLayperson:
		t.Layperson = text
	case domain.DifficultyChildren:
		t.Children = text
	}
}

// Fulltext downloads the paper's open-access PDF, splits it into sections
// and translates every section in parallel at difficulty, which normalizes
// to layperson when unrecognised. A section whose translation fails is
// returned with an empty translation; only when every section fails is the
// error returned.
func (s *Service) Fulltext(ctx context.Context, paperID, language, difficulty string) (result *domain.FulltextTranslation, err error) {
	start := time.Now()
	event := events.NewUsageEvent(ctx, events.OperationFulltext, "")
	defer func() { s.publish(ctx, event, start, err) }()

	language = s.language(language)
	d := domain.NormalizeDifficulty(difficulty)
	event.PaperID, event.Language = paperID, language

	paper, err := s.fetchPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(paper.PDFURL) == "" {
		return nil, fmt.Errorf("paper %s: %w", paper.ID, domain.ErrNoPDF)
	}
	logger := observability.WithRequestContext(ctx, observability.WithPaperContext(s.logger, paper.ID, language))

	text, err := s.pdfs.FetchText(ctx, paper.PDFURL)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNoExtractableText),
		errors.Is(err, domain.ErrRateLimited),
		errors.Is(err, domain.ErrServiceUnavailable):
		return nil, err
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("%w: %w", domain.ErrNoPDF, err)
	}

	sections := pdf.SplitSections(text, pdf.Limits{
		MaxSections:     s.cfg.MaxSections,
		MaxSectionRunes: s.cfg.MaxSectionRunes,
	})
	if len(sections) == 0 {
		return nil, domain.ErrNoExtractableText
	}

	result = &domain.FulltextTranslation{
		PaperID:    paper.ID,
		Title:      paper.Title,
		Language:   language,
		Difficulty: d,
		PDFURL:     paper.PDFURL,
		Sections:   make([]domain.FulltextSection, len(sections)),
	}
	errs := make([]error, len(sections))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		result.TranslatedTitle = s.translateTitles(ctx, []*domain.Paper{paper}, language)[paper.ID]
	}()

	sem := make(chan struct{}, maxConcurrentSections)
	for i, sec := range sections {
		wg.Add(1)
		go func(i int, sec pdf.Section) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			translated, terr := s.summarizer.TranslateFulltextSectionStrict(ctx, sec.Text, language, d, sec.Name)
			if terr != nil {
				logger.Warn().Err(terr).Str("section", sec.Name).Msg("section translation failed")
				errs[i] = terr
			}
			result.Sections[i] = domain.FulltextSection{
				Name:       sec.Name,
				Original:   sec.Text,
				Translated: translated,
			}
		}(i, sec)
	}
	wg.Wait()

	if err := allFailed(errs); err != nil {
		return nil, err
	}
	return result, nil
}

// allFailed returns an error when every entry of errs is non-nil,
// preferring an LLM service error.
func allFailed(errs []error) error {
	var first error
	for _, err := range errs {
		if err == nil {
			return nil
		}
		if first == nil {
			first = err
		}
	}
	for _, err := range errs {
		if _, ok := llm.AsServiceError(err); ok {
			return err
		}
	}
	return first
}

// fetchPaper loads a paper, mapping "unavailable" to a not-found error.
func (s *Service) fetchPaper(ctx context.Context, paperID string) (*domain.Paper, error) {
	id := strings.TrimSpace(paperID)
	if id == "" {
		return nil, domain.NewValidationError("paper_id", "must not be empty")
	}
	paper, err := s.papers.FetchPaper(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch paper %s: %w", id, err)
	}
	if paper == nil {
		return nil, domain.NewNotFoundError("paper", id)
	}
	return paper, nil
}
