package search

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/dedup"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/ranking"
)

// Search runs the search pipeline: cache check, query transform, federated
// retrieval, deduplication, ranking alongside title translation, ordering,
// pagination, then summaries alongside the overview for the page. Upstream
// failures degrade the response instead of failing it; no candidates at all
// yields an empty response. The top results' summaries are precached in every
// configured language in the background.
func (s *Service) Search(ctx context.Context, req domain.SearchRequest) (resp *domain.SearchResponse, err error) {
	start := time.Now()
	event := events.NewUsageEvent(ctx, events.OperationSearch, "")
	defer func() {
		if resp != nil {
			event.Results = len(resp.Papers)
			event.Cached = resp.Cached
		}
		s.publish(ctx, event, start, err)
	}()

	query := strings.Join(strings.Fields(req.Query), " ")
	if query == "" {
		return nil, domain.NewValidationError("query", "must not be empty")
	}
	language := s.language(req.Language)
	page, perPage := s.pageParams(req.Page, req.PerPage)
	var yearFrom, yearTo *int
	if req.Filters != nil {
		yearFrom, yearTo = req.Filters.YearFrom, req.Filters.YearTo
	}
	event.Language = language

	logger := observability.WithRequestContext(ctx, observability.WithSearchContext(s.logger, query, language)).
		With().Str("search_id", event.SearchID).Logger()
	if s.metrics != nil {
		s.metrics.RecordSearchStarted()
	}

	key := cache.SearchKey(cacheQuery(query, yearFrom, yearTo), page, perPage, language)
	var cached domain.SearchResponse
	if cerr := cache.GetJSON(ctx, s.cache, key, &cached); cerr == nil {
		s.recordCache("search", true)
		s.recordCompleted("cached", start)
		cached.Cached = true
		logger.Debug().Msg("search served from cache")
		return &cached, nil
	}
	s.recordCache("search", false)

	transform := s.transformer.Transform(ctx, query, language)
	candidates := s.federated.SearchAllSources(ctx, transform, yearFrom, yearTo, s.cfg.LimitPerQuery)
	papers, stats := dedup.DeduplicateWithStats(candidates)
	if s.metrics != nil {
		s.metrics.RecordPaperDuplicates(stats.Merged())
	}
	logger.Info().
		Int("candidates", stats.Input).
		Int("unique", stats.Output).
		Int("doi_merges", stats.DOIMerges).
		Int("title_merges", stats.TitleMerges).
		Int("suspect_title_merges", stats.SuspectTitleMerges).
		Msg("candidates deduplicated")

	if err := ctx.Err(); err != nil {
		s.recordFailed(start)
		return nil, err
	}

	if len(papers) == 0 {
		event.Outcome = events.OutcomeEmpty
		s.recordCompleted("empty", start)
		logger.Info().Msg("no candidates found")
		return &domain.SearchResponse{
			AISummary: domain.AISummary{Language: language, QueriesUsed: transform.AcademicQueries},
			Papers:    []domain.PaperResult{},
			Page:      page,
			PerPage:   perPage,
			Query:     transform,
		}, nil
	}

	ranked, titles := s.rankAndTranslate(ctx, query, transform.InterpretedIntent, papers, language)
	ordered := ranking.Order(papers, ranked)
	from, to := Paginate(len(ordered), page, perPage)
	pageItems := ordered[from:to]

	pagePapers := make([]*domain.Paper, len(pageItems))
	for i, o := range pageItems {
		pagePapers[i] = o.Paper
	}
	summaries, overview := s.summarizePage(ctx, query, language, pagePapers, logger)

	results := make([]domain.PaperResult, len(pageItems))
	for i, o := range pageItems {
		results[i] = toPaperResult(o, language, summaries[i], titles[o.Paper.ID])
	}

	resp = &domain.SearchResponse{
		AISummary: domain.AISummary{
			Text:        overview,
			Language:    language,
			QueriesUsed: transform.AcademicQueries,
		},
		Papers:       results,
		TotalResults: len(ordered),
		Page:         page,
		PerPage:      perPage,
		Query:        transform,
	}

	if cerr := cache.SetJSON(ctx, s.cache, key, resp, cache.SearchTTL); cerr != nil {
		logger.Warn().Err(cerr).Msg("failed to cache search response")
	}

	s.precacheSummaries(ctx, pagePapers, logger)
	s.recordCompleted("ok", start)
	logger.Info().
		Int("total_results", resp.TotalResults).
		Int("page_results", len(results)).
		Dur("duration", time.Since(start)).
		Msg("search completed")
	return resp, nil
}

// rankAndTranslate runs the ranker and the title translation concurrently.
// Both fail soft.
func (s *Service) rankAndTranslate(ctx context.Context, query, intent string, papers []*domain.Paper, language string) ([]domain.RankedPaper, map[string]string) {
	var (
		wg     sync.WaitGroup
		ranked []domain.RankedPaper
		titles map[string]string
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		ranked = s.ranker.Rank(ctx, query, intent, papers)
	}()
	go func() {
		defer wg.Done()
		titles = s.translateTitles(ctx, papers, language)
	}()
	wg.Wait()
	return ranked, titles
}

// translateTitles returns translated titles by paper ID, reading and filling
// the title cache. Titles the model left unchanged are omitted.
func (s *Service) translateTitles(ctx context.Context, papers []*domain.Paper, language string) map[string]string {
	out := make(map[string]string, len(papers))
	if domain.IsEnglish(language) {
		return out
	}

	var missing []*domain.Paper
	for _, p := range papers {
		if t, ok := cache.GetString(ctx, s.cache, cache.TitleKey(p.ID, language)); ok {
			s.recordCache("title", true)
			out[p.ID] = t
			continue
		}
		s.recordCache("title", false)
		missing = append(missing, p)
	}
	if len(missing) == 0 {
		return out
	}

	originals := make([]string, len(missing))
	for i, p := range missing {
		originals[i] = p.Title
	}
	translated := s.summarizer.TranslateTitlesBatch(ctx, originals, language)
	for i, p := range missing {
		if translated[i] == "" || translated[i] == p.Title {
			continue
		}
		out[p.ID] = translated[i]
		_ = cache.SetJSON(ctx, s.cache, cache.TitleKey(p.ID, language), translated[i], cache.TitleTTL)
	}
	return out
}

// summarizePage generates per-paper summaries and the overview concurrently,
// each bounded by the task timeout. A task that misses its deadline yields "".
func (s *Service) summarizePage(ctx context.Context, query, language string, papers []*domain.Paper, logger zerolog.Logger) ([]string, string) {
	summaries := make([]string, len(papers))
	var overview string
	if len(papers) == 0 {
		return summaries, overview
	}

	var wg sync.WaitGroup
	for i, p := range papers {
		wg.Add(1)
		go func(i int, p *domain.Paper) {
			defer wg.Done()
			text, ok := raceTimeout(ctx, s.cfg.TaskTimeout, func(ctx context.Context) string {
				return s.paperSummary(ctx, p, language)
			})
			if !ok {
				s.recordTimeout("summary")
				logger.Warn().Str("paper_id", p.ID).Msg("summary timed out")
			}
			summaries[i] = text
		}(i, p)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		text, ok := raceTimeout(ctx, s.cfg.TaskTimeout, func(ctx context.Context) string {
			return s.summarizer.GenerateAIOverview(ctx, query, language, papers)
		})
		if !ok {
			s.recordTimeout("overview")
			logger.Warn().Msg("overview timed out")
		}
		overview = text
	}()

	wg.Wait()
	return summaries, overview
}

// paperSummary reads the summary cache, generating and storing the summary
// on a miss. Empty summaries are not cached.
func (s *Service) paperSummary(ctx context.Context, p *domain.Paper, language string) string {
	key := cache.SummaryKey(p.ID, language)
	if text, ok := cache.GetString(ctx, s.cache, key); ok {
		s.recordCache("summary", true)
		return text
	}
	s.recordCache("summary", false)

	text := s.summarizer.GeneratePaperSummary(ctx, p.Abstract, language, p.Title)
	if text != "" {
		if err := cache.SetJSON(ctx, s.cache, key, text, cache.SummaryTTL); err != nil {
			s.logger.Warn().Err(err).Str("paper_id", p.ID).Msg("failed to cache summary")
		}
	}
	return text
}

// precacheSummaries fills the summary cache for the top papers in every
// configured language. It runs detached from the request with its own
// deadline and on the service's own LLM credentials, never the caller's;
// failures are only logged.
func (s *Service) precacheSummaries(ctx context.Context, papers []*domain.Paper, logger zerolog.Logger) {
	var top []*domain.Paper
	for _, p := range papers {
		if len(top) == s.cfg.PrecacheTopN {
			break
		}
		if p.Abstract != "" {
			top = append(top, p)
		}
	}
	if len(top) == 0 {
		return
	}

	bgCtx, cancel := context.WithTimeout(llm.WithoutCredentials(context.WithoutCancel(ctx)), s.cfg.PrecacheTimeout)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer cancel()

		var wg sync.WaitGroup
		for _, lang := range s.cfg.Languages {
			wg.Add(1)
			go func(lang string) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						logger.Error().Str("language", lang).Str("panic", fmt.Sprint(r)).Msg("summary precache panicked")
					}
				}()
				s.precacheLanguage(bgCtx, top, lang, logger)
			}(lang)
		}
		wg.Wait()
	}()
}

func (s *Service) precacheLanguage(ctx context.Context, papers []*domain.Paper, language string, logger zerolog.Logger) {
	for _, p := range papers {
		if ctx.Err() != nil {
			logger.Warn().Str("language", language).Msg("summary precache deadline reached")
			return
		}
		key := cache.SummaryKey(p.ID, language)
		if _, ok := cache.GetString(ctx, s.cache, key); ok {
			continue
		}
		text := s.summarizer.GeneratePaperSummary(ctx, p.Abstract, language, p.Title)
		if text == "" {
			continue
		}
		if err := cache.SetJSON(ctx, s.cache, key, text, cache.SummaryTTL); err != nil {
			logger.Warn().Err(err).Str("paper_id", p.ID).Str("language", language).Msg("failed to precache summary")
			continue
		}
		if s.metrics != nil {
			s.metrics.RecordPrecacheSummary()
		}
	}
}

func toPaperResult(o ranking.Ordered, language, summary, title string) domain.PaperResult {
	r := domain.PaperResult{
		Paper:           *o.Paper,
		Summary:         map[string]string{language: summary},
		TranslatedTitle: title,
	}
	if o.Ranking != nil {
		r.Ranked = true
		r.RelevanceScore = o.Ranking.RelevanceScore
		r.EvidenceLevel = o.Ranking.EvidenceLevel
		r.StudyType = o.Ranking.StudyType
		r.Reason = o.Ranking.Reason
	}
	return r
}

// cacheQuery folds year filters into the cache key so that filtered and
// unfiltered searches do not share entries.
func cacheQuery(query string, yearFrom, yearTo *int) string {
	if yearFrom == nil && yearTo == nil {
		return query
	}
	bound := func(y *int) string {
		if y == nil {
			return ""
		}
		return fmt.Sprint(*y)
	}
	return fmt.Sprintf("%s\x00years:%s-%s", query, bound(yearFrom), bound(yearTo))
}

func (s *Service) recordCompleted(outcome string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSearchCompleted(outcome, time.Since(start).Seconds())
	}
}

func (s *Service) recordFailed(start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordSearchFailed(time.Since(start).Seconds())
	}
}

func (s *Service) recordTimeout(task string) {
	if s.metrics != nil {
		s.metrics.RecordSummaryTimeout(task)
	}
}
