// Package ranking scores deduplicated candidates for relevance and evidence
// quality.
//
// A hybrid citation/recency heuristic first bounds the candidate set, then an
// LLM grades the survivors. When the LLM is unavailable the ranker falls back
// to a citation ratio that has the same shape as an LLM ranking.
package ranking

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/observability"
)

const (
	// MaxCandidates is the default bound on the papers sent to the LLM.
	MaxCandidates = 20

	// Operation labels LLM calls made by the ranker.
	Operation = "rank"

	citationWeight     = 0.6
	recencyWeight      = 0.4
	recencyWindowYears = 20.0

	// FallbackReason is the reason attached to heuristic rankings.
	FallbackReason = "Ranked by citation count (fallback)."

	maxTokens = 4096
)

var errEmptyRanking = errors.New("ranking response contains no known paper ids")

// Ranker produces RankedPapers.
type Ranker struct {
	client  llm.Client
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	maxCandidates int
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Ranker) {
		r.logger = logger
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(r *Ranker) {
		r.metrics = m
	}
}

// WithClock overrides the clock used for recency.
func WithClock(now func() time.Time) Option {
	return func(r *Ranker) {
		r.now = now
	}
}

// WithMaxCandidates overrides MaxCandidates. Values below one are ignored.
func WithMaxCandidates(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.maxCandidates = n
		}
	}
}

// New creates a Ranker backed by client.
func New(client llm.Client, opts ...Option) *Ranker {
	r := &Ranker{
		client: client,
		logger: zerolog.Nop(),
		now:    time.Now,

		maxCandidates: MaxCandidates,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With().Str("component", "ranker").Logger()
	return r
}

// Rank scores at most the configured candidate cap of papers, chosen by HybridScore. It never
// fails: any LLM error or unusable response yields Fallback over the same
// candidates. Papers outside the candidate set are not scored.
func (r *Ranker) Rank(ctx context.Context, userQuery, intent string, papers []*domain.Paper) []domain.RankedPaper {
	if len(papers) == 0 {
		return nil
	}

	candidates := SelectCandidates(papers, r.now().Year(), r.maxCandidates)

	resp, err := r.client.Chat(ctx, llm.Request{
		System:     systemPrompt,
		User:       buildUserPrompt(userQuery, intent, candidates),
		ExpectJSON: true,
		MaxTokens:  maxTokens,
		Operation:  Operation,
	})
	if err == nil {
		var ranked []domain.RankedPaper
		ranked, err = parseRankings(resp.Text, candidates)
		if err == nil {
			return ranked
		}
	}

	r.logger.Warn().
		Err(err).
		Int("candidates", len(candidates)).
		Msg("llm ranking failed, using citation fallback")
	if r.metrics != nil {
		r.metrics.RecordRankingFallback()
	}
	return Fallback(candidates)
}

// HybridScore is 0.6 x citations normalized by maxCitations plus 0.4 x
// recency, where recency decays linearly from 1 in currentYear to 0 twenty
// years earlier. A paper of unknown year has zero recency.
func HybridScore(p *domain.Paper, maxCitations, currentYear int) float64 {
	citations := 0.0
	if maxCitations > 0 {
		citations = float64(p.CitationCount) / float64(maxCitations)
	}

	recency := 0.0
	if p.Year != nil {
		age := float64(currentYear - *p.Year)
		recency = math.Min(1, math.Max(0, 1-age/recencyWindowYears))
	}

	return citationWeight*citations + recencyWeight*recency
}

// SelectCandidates returns the n papers with the highest HybridScore, best
// first. Ties keep input order.
func SelectCandidates(papers []*domain.Paper, currentYear, n int) []*domain.Paper {
	maxCitations := maxCitationCount(papers)

	type scored struct {
		paper *domain.Paper
		score float64
	}
	all := make([]scored, len(papers))
	for i, p := range papers {
		all[i] = scored{paper: p, score: HybridScore(p, maxCitations, currentYear)}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].score > all[j].score
	})

	if len(all) > n {
		all = all[:n]
	}
	out := make([]*domain.Paper, len(all))
	for i, s := range all {
		out[i] = s.paper
	}
	return out
}

// Fallback ranks candidates by citation ratio, rounded to two decimals, with
// moderate evidence and study type other.
func Fallback(candidates []*domain.Paper) []domain.RankedPaper {
	maxCitations := maxCitationCount(candidates)

	out := make([]domain.RankedPaper, len(candidates))
	for i, p := range candidates {
		score := 0.0
		if maxCitations > 0 {
			score = math.Round(float64(p.CitationCount)/float64(maxCitations)*100) / 100
		}
		out[i] = domain.RankedPaper{
			ID:             p.ID,
			RelevanceScore: score,
			EvidenceLevel:  domain.EvidenceLevelModerate,
			StudyType:      domain.StudyTypeOther,
			Reason:         FallbackReason,
		}
	}
	return out
}

func maxCitationCount(papers []*domain.Paper) int {
	m := 0
	for _, p := range papers {
		if p.CitationCount > m {
			m = p.CitationCount
		}
	}
	return m
}

// rawRanking mirrors one entry of the LLM response.
type rawRanking struct {
	ID             string   `json:"id"`
	RelevanceScore *float64 `json:"relevance_score"`
	EvidenceLevel  string   `json:"evidence_level"`
	StudyType      string   `json:"study_type"`
	Reason         string   `json:"reason"`
}

// parseRankings accepts {"rankings": [...]} or a bare array. Entries for
// unknown or repeated ids are dropped; a missing score counts as 0.
func parseRankings(text string, candidates []*domain.Paper) ([]domain.RankedPaper, error) {
	var entries []rawRanking

	var wrapped struct {
		Rankings []rawRanking `json:"rankings"`
	}
	if err := llm.ExtractJSON(text, &wrapped); err == nil && wrapped.Rankings != nil {
		entries = wrapped.Rankings
	} else if err := llm.ExtractJSON(text, &entries); err != nil {
		return nil, err
	}

	known := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		known[c.ID] = struct{}{}
	}

	out := make([]domain.RankedPaper, 0, len(entries))
	for _, e := range entries {
		id := strings.TrimSpace(e.ID)
		if _, ok := known[id]; !ok {
			continue
		}
		delete(known, id)

		score := 0.0
		if e.RelevanceScore != nil {
			score = *e.RelevanceScore
		}
		out = append(out, domain.RankedPaper{
			ID:             id,
			RelevanceScore: score,
			EvidenceLevel:  domain.ParseEvidenceLevel(strings.ToLower(strings.TrimSpace(e.EvidenceLevel))),
			StudyType:      domain.ParseStudyType(strings.TrimSpace(e.StudyType)),
			Reason:         strings.TrimSpace(e.Reason),
		})
	}

	if len(out) == 0 {
		return nil, errEmptyRanking
	}
	return out, nil
}
