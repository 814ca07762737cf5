package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helixir/paper-search-service/internal/cache"
	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/events"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/llm/llmtest"
	"github.com/helixir/paper-search-service/internal/observability"
	"github.com/helixir/paper-search-service/internal/papersources"
	"github.com/helixir/paper-search-service/internal/querytransform"
	"github.com/helixir/paper-search-service/internal/ranking"
	"github.com/helixir/paper-search-service/internal/summarize"
)

type fakeSource struct {
	typ    domain.SourceType
	search func(params papersources.SearchParams) (*papersources.SearchResult, error)

	mu     sync.Mutex
	params []papersources.SearchParams
}

func (f *fakeSource) Search(_ context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	f.mu.Lock()
	f.params = append(f.params, params)
	f.mu.Unlock()
	return f.search(params)
}

func (f *fakeSource) SourceType() domain.SourceType { return f.typ }
func (f *fakeSource) Name() string                  { return string(f.typ) }
func (f *fakeSource) IsEnabled() bool               { return true }

func (f *fakeSource) calls() []papersources.SearchParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]papersources.SearchParams(nil), f.params...)
}

func returning(typ domain.SourceType, papers ...*domain.Paper) *fakeSource {
	return &fakeSource{typ: typ, search: func(papersources.SearchParams) (*papersources.SearchResult, error) {
		out := make([]*domain.Paper, len(papers))
		for i, p := range papers {
			out[i] = p.Clone()
		}
		return &papersources.SearchResult{Papers: out, Source: typ}, nil
	}}
}

type fakePapers map[string]*domain.Paper

func (f fakePapers) FetchPaper(_ context.Context, id string) (*domain.Paper, error) {
	if p, ok := f[id]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

type fakeText struct {
	text string
	err  error
}

func (f fakeText) FetchText(context.Context, string) (string, error) {
	return f.text, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.UsageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []events.UsageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.UsageEvent(nil), p.events...)
}

var numbered = regexp.MustCompile(`(?m)^(\d+)\. (.*)$`)

// pipelineLLM answers every operation of the pipeline with deterministic
// text derived from the prompt.
func pipelineLLM(overrides map[string]llmtest.HandlerFunc) *llmtest.Client {
	return llmtest.New(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		if h, ok := overrides[req.Operation]; ok {
			return h(ctx, req)
		}
		switch req.Operation {
		case querytransform.Operation:
			return llmtest.Reply(`{"original_query": "q", "interpreted_intent": "effect of semaglutide on weight",
				"academic_queries": ["semaglutide weight loss", "ozempic obesity"], "mesh_terms": ["Semaglutide"],
				"key_concepts": {"conditions": ["obesity"], "interventions": ["semaglutide"], "outcomes": ["weight"]}}`), nil
		case ranking.Operation:
			return llmtest.Reply(`{"rankings": [
				{"id": "s2-statins", "relevance_score": 0.9, "evidence_level": "high", "study_type": "meta-analysis", "reason": "pooled"},
				{"id": "pmid:111", "relevance_score": 0.7, "evidence_level": "moderate", "study_type": "RCT", "reason": "trial"}
			]}`), nil
		case summarize.OpTitleTranslation:
			var lines []string
			for _, m := range numbered.FindAllStringSubmatch(req.User, -1) {
				lines = append(lines, fmt.Sprintf("%s. 訳:%s", m[1], m[2]))
			}
			return llmtest.Reply(strings.Join(lines, "\n")), nil
		case summarize.OpSummary:
			return llmtest.Reply(fmt.Sprintf("summary[%s] %s", languageOf(req.User), lineValue(req.User, "Title: "))), nil
		case summarize.OpOverview:
			return llmtest.Reply("Evidence overview."), nil
		case summarize.OpAbstractTranslation, summarize.OpSectionTranslation:
			return llmtest.Reply("translated[" + languageOf(req.User) + "]"), nil
		}
		return nil, fmt.Errorf("unexpected operation %q", req.Operation)
	})
}

func lineValue(text, prefix string) string {
	for _, line := range strings.Split(text, "\n") {
		if v, ok := strings.CutPrefix(line, prefix); ok {
			return v
		}
	}
	return ""
}

func languageOf(user string) string {
	return lineValue(user, "Target language: ")
}

// Candidate papers. The PubMed and Semantic Scholar records of the
// semaglutide trial share a DOI.
var (
	s2Semaglutide = &domain.Paper{
		ID: "s2-sema", Title: "Semaglutide and weight loss", DOI: "10.1056/nejmoa2032183",
		Year: domain.IntPtr(2021), CitationCount: 100, Abstract: "Adults lost 14.9% of body weight.",
		Source: domain.SourceTypeSemanticScholar, IsOpenAccess: true, PDFURL: "https://example.org/sema.pdf",
	}
	s2Statins = &domain.Paper{
		ID: "s2-statins", Title: "Statins in the elderly", Year: domain.IntPtr(2019), CitationCount: 40,
		Abstract: "Statins reduced events.", Source: domain.SourceTypeSemanticScholar,
	}
	pmSemaglutide = &domain.Paper{
		ID: "pmid:111", PMID: "111", Title: "Semaglutide and weight loss", DOI: "10.1056/NEJMoa2032183",
		Year: domain.IntPtr(2021), CitationCount: 5, Abstract: "Adults lost weight.", Source: domain.SourceTypePubMed,
	}
	pmVitaminD = &domain.Paper{
		ID: "pmid:333", PMID: "333", Title: "Vitamin D and falls", Year: domain.IntPtr(2010), Source: domain.SourceTypePubMed,
	}
)

type fixture struct {
	service   *Service
	llm       *llmtest.Client
	cache     *cache.Memory
	publisher *recordingPublisher
	metrics   *observability.Metrics
	s2        *fakeSource
	pubmed    *fakeSource
}

func newFixture(client *llmtest.Client, cfg Config, text TextFetcher, sources ...*fakeSource) *fixture {
	if text == nil {
		text = fakeText{}
	}
	if len(sources) == 0 {
		sources = []*fakeSource{
			returning(domain.SourceTypeSemanticScholar, s2Semaglutide, s2Statins),
			returning(domain.SourceTypePubMed, pmSemaglutide, pmVitaminD),
		}
	}
	registry := papersources.NewRegistry()
	for _, src := range sources {
		registry.Register(src)
	}

	if cfg.Languages == nil {
		cfg.Languages = []string{"ja", "en"}
	}
	mem := cache.NewMemory()
	pub := &recordingPublisher{}
	metrics := observability.NewMetrics("test_search", prometheus.NewRegistry())
	now := func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	svc := NewService(Deps{
		Cache:       mem,
		Transformer: querytransform.New(client),
		Federated:   NewFederated(registry),
		Ranker:      ranking.New(client, ranking.WithClock(now)),
		Summarizer:  summarize.New(client),
		Papers: fakePapers{
			"s2-sema":    s2Semaglutide,
			"s2-statins": s2Statins,
		},
		PDFs: text,
	}, cfg, WithPublisher(pub), WithMetrics(metrics))

	f := &fixture{service: svc, llm: client, cache: mem, publisher: pub, metrics: metrics}
	for _, src := range sources {
		switch src.typ {
		case domain.SourceTypeSemanticScholar:
			f.s2 = src
		case domain.SourceTypePubMed:
			f.pubmed = src
		}
	}
	return f
}
