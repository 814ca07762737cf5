package ranking

import (
	"context"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/llm/llmtest"
	"github.com/helixir/paper-search-service/internal/observability"
)

var fixedNow = func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) }

func paper(id string, citations int, year int) *domain.Paper {
	p := &domain.Paper{ID: id, Title: "Title " + id, CitationCount: citations, Abstract: strings.Repeat("x", 300)}
	if year > 0 {
		p.Year = domain.IntPtr(year)
	}
	return p
}

func TestHybridScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		paper *domain.Paper
		max   int
		want  float64
	}{
		{"most cited this year", paper("a", 100, 2025), 100, 1.0},
		{"half cited ten years old", paper("b", 50, 2015), 100, 0.6*0.5 + 0.4*0.5},
		{"older than window", paper("c", 0, 1990), 100, 0},
		{"unknown year", paper("d", 100, 0), 100, 0.6},
		{"no citations anywhere", paper("e", 0, 2025), 0, 0.4},
		{"future year capped", paper("f", 0, 2027), 10, 0.4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, HybridScore(tt.paper, tt.max, 2025), 1e-9)
		})
	}
}

func TestSelectCandidates(t *testing.T) {
	t.Parallel()

	papers := []*domain.Paper{
		paper("old", 10, 1980),
		paper("cited", 1000, 2010),
		paper("tie1", 0, 2025),
		paper("tie2", 0, 2025),
	}

	got := SelectCandidates(papers, 2025, 3)

	require.Len(t, got, 3)
	assert.Equal(t, "cited", got[0].ID)
	assert.Equal(t, "tie1", got[1].ID)
	assert.Equal(t, "tie2", got[2].ID)
}

func TestRank_BoundsPromptToTop20(t *testing.T) {
	t.Parallel()

	var papers []*domain.Paper
	for i := range 30 {
		papers = append(papers, paper(fmt.Sprintf("p%02d", i), i*10, 2000+i%20))
	}

	client := llmtest.New(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		// Score every listed id.
		var entries []string
		for _, line := range strings.Split(req.User, "\n") {
			if id, ok := strings.CutPrefix(line, "id: "); ok {
				id = strings.SplitN(id, " ", 2)[0]
				entries = append(entries, fmt.Sprintf(`{"id": %q, "relevance_score": 0.5, "evidence_level": "low", "study_type": "cohort", "reason": "r"}`, id))
			}
		}
		return llmtest.Reply(`{"rankings": [` + strings.Join(entries, ",") + `]}`), nil
	})
	r := New(client, WithClock(fixedNow))

	ranked := r.Rank(context.Background(), "q", "intent", papers)

	require.Equal(t, 1, client.CallCount())
	prompt := client.Calls()[0].User
	assert.Equal(t, MaxCandidates, strings.Count(prompt, "\nid: "))
	assert.Len(t, ranked, MaxCandidates)
	assert.NotContains(t, prompt, "id: p00 ", "lowest hybrid score is excluded")
	assert.Contains(t, prompt, "id: p29 ")
	assert.Contains(t, prompt, "abstract: "+strings.Repeat("x", 100)+"...")
}

func TestRank_ParsesLLMResponse(t *testing.T) {
	t.Parallel()

	papers := []*domain.Paper{paper("a", 10, 2020), paper("b", 20, 2021), paper("c", 5, 2010)}
	client := llmtest.Text("```json\n" + `{"rankings": [
		{"id": "b", "relevance_score": 1.3, "evidence_level": "HIGH", "study_type": "meta-analysis", "reason": " pooled "},
		{"id": "a", "relevance_score": 0.4, "evidence_level": "low", "study_type": "rct", "reason": "trial"},
		{"id": "zzz", "relevance_score": 0.9},
		{"id": "a", "relevance_score": 0.1}
	]}` + "\n```")
	r := New(client, WithClock(fixedNow))

	ranked := r.Rank(context.Background(), "q", "", papers)

	require.Len(t, ranked, 2)
	assert.Equal(t, domain.RankedPaper{
		ID:             "b",
		RelevanceScore: 1.3,
		EvidenceLevel:  domain.EvidenceLevelHigh,
		StudyType:      domain.StudyTypeMetaAnalysis,
		Reason:         "pooled",
	}, ranked[0], "scores are not clamped")
	assert.Equal(t, domain.StudyTypeRCT, ranked[1].StudyType)
	assert.Equal(t, 0.4, ranked[1].RelevanceScore)

	call := client.Calls()[0]
	assert.Equal(t, Operation, call.Operation)
	assert.True(t, call.ExpectJSON)
}

func TestRank_AcceptsBareArray(t *testing.T) {
	t.Parallel()

	r := New(llmtest.Text(`[{"id": "a", "relevance_score": 0.7, "evidence_level": "moderate", "study_type": "review", "reason": "ok"}]`), WithClock(fixedNow))
	ranked := r.Rank(context.Background(), "q", "", []*domain.Paper{paper("a", 1, 2020)})

	require.Len(t, ranked, 1)
	assert.Equal(t, 0.7, ranked[0].RelevanceScore)
}

func TestRank_Fallback(t *testing.T) {
	t.Parallel()

	papers := []*domain.Paper{paper("a", 3, 2020), paper("b", 7, 2020), paper("c", 0, 2020)}

	tests := []struct {
		name   string
		client *llmtest.Client
	}{
		{"llm error", llmtest.Failing(&llm.ServiceError{Kind: llm.KindRateLimit})},
		{"not json", llmtest.Text("I am unable to rank these.")},
		{"unknown ids only", llmtest.Text(`{"rankings": [{"id": "nope", "relevance_score": 1}]}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			metrics := observability.NewMetrics("test_rank_fb", prometheus.NewRegistry())
			r := New(tt.client, WithClock(fixedNow), WithMetrics(metrics))

			ranked := r.Rank(context.Background(), "q", "", papers)

			require.Len(t, ranked, 3)
			want := map[string]float64{"a": 0.43, "b": 1, "c": 0}
			for _, rp := range ranked {
				assert.Equal(t, want[rp.ID], rp.RelevanceScore, rp.ID)
				assert.Equal(t, domain.EvidenceLevelModerate, rp.EvidenceLevel)
				assert.Equal(t, domain.StudyTypeOther, rp.StudyType)
				assert.Equal(t, FallbackReason, rp.Reason)
			}
			assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RankingFallbacks))
		})
	}
}

func TestRank_EmptyInput(t *testing.T) {
	t.Parallel()

	client := llmtest.Text("{}")
	assert.Empty(t, New(client).Rank(context.Background(), "q", "", nil))
	assert.Zero(t, client.CallCount())
}

func TestFallback_ZeroCitations(t *testing.T) {
	t.Parallel()

	ranked := Fallback([]*domain.Paper{paper("a", 0, 0), paper("b", 0, 0)})
	for _, rp := range ranked {
		assert.Zero(t, rp.RelevanceScore)
	}
}

func TestOrder(t *testing.T) {
	t.Parallel()

	papers := []*domain.Paper{paper("u1", 0, 0), paper("s1", 0, 0), paper("s2", 0, 0), paper("u2", 0, 0), paper("s3", 0, 0), paper("s4", 0, 0)}
	ranked := []domain.RankedPaper{
		{ID: "s3", RelevanceScore: 0.5},
		{ID: "s1", RelevanceScore: 0.5},
		{ID: "s4", RelevanceScore: math.NaN()},
		{ID: "s2", RelevanceScore: 1.2},
	}

	ordered := Order(papers, ranked)

	gotIDs := make([]string, len(ordered))
	for i, o := range ordered {
		gotIDs[i] = o.Paper.ID
	}
	assert.Equal(t, []string{"s2", "s1", "s3", "s4", "u1", "u2"}, gotIDs)
	assert.NotNil(t, ordered[0].Ranking)
	assert.Nil(t, ordered[4].Ranking)
	assert.Nil(t, ordered[5].Ranking)
}

func TestRank_CandidateCapOption(t *testing.T) {
	var papers []*domain.Paper
	for i := 0; i < 10; i++ {
		papers = append(papers, paper(fmt.Sprintf("p%02d", i), i, 2020))
	}
	client := llmtest.Failing(&llm.ServiceError{Kind: llm.KindOverloaded, Provider: "fake"})

	ranked := New(client, WithClock(fixedNow), WithMaxCandidates(3)).Rank(context.Background(), "q", "", papers)
	require.Len(t, ranked, 3)
	assert.Equal(t, "p09", ranked[0].ID)

	ranked = New(client, WithClock(fixedNow), WithMaxCandidates(0)).Rank(context.Background(), "q", "", papers)
	assert.Len(t, ranked, 10)
}
