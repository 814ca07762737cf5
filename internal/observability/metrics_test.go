package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics("test_paper_search", prometheus.NewRegistry())
}

func TestNewMetrics(t *testing.T) {
	m := newTestMetrics(t)

	assert.NotNil(t, m.SearchesStarted)
	assert.NotNil(t, m.SearchesCompleted)
	assert.NotNil(t, m.SearchesFailed)
	assert.NotNil(t, m.SearchDuration)
	assert.NotNil(t, m.CacheHits)
	assert.NotNil(t, m.CacheMisses)
	assert.NotNil(t, m.SourceRequestsTotal)
	assert.NotNil(t, m.SourceRequestsFailed)
	assert.NotNil(t, m.PapersBySource)
	assert.NotNil(t, m.RankingFallbacks)
	assert.NotNil(t, m.SummaryTimeouts)
	assert.NotNil(t, m.LLMRequestsTotal)
	assert.NotNil(t, m.LLMRequestsFailed)
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Two instances with the same namespace must not collide.
	assert.NotPanics(t, func() {
		NewMetrics("dup", prometheus.NewRegistry())
		NewMetrics("dup", prometheus.NewRegistry())
	})
}

func TestRecordSearchCompleted(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSearchStarted()
	m.RecordSearchCompleted("cached", 0.02)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesStarted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesCompleted.WithLabelValues("cached")))

	histCount, err := getHistogramSampleCount(m.SearchDuration)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), histCount)
}

func TestRecordSearchFailed(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSearchFailed(1.5)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchesFailed))
}

func TestRecordCache(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordCacheHit("search")
	m.RecordCacheHit("search")
	m.RecordCacheMiss("summary")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.CacheHits.WithLabelValues("search")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheMisses.WithLabelValues("summary")))
}

func TestRecordSourceRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSourceRequest("pubmed", "esearch", 0.3)
	m.RecordSourceRequestFailed("pubmed", "efetch", "http_500")
	m.RecordSourceRateLimited("semantic_scholar")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsTotal.WithLabelValues("pubmed", "esearch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRequestsFailed.WithLabelValues("pubmed", "efetch", "http_500")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SourceRateLimited.WithLabelValues("semantic_scholar")))
}

func TestRecordPapers(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordPapersDiscovered("semantic_scholar", 20)
	m.RecordPaperDuplicates(4)

	assert.Equal(t, float64(20), testutil.ToFloat64(m.PapersBySource.WithLabelValues("semantic_scholar")))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.PapersDuplicate))
}

func TestRecordEnrichment(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRankingFallback()
	m.RecordSummaryTimeout("paper_summary")
	m.RecordPrecacheSummary()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RankingFallbacks))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SummaryTimeouts.WithLabelValues("paper_summary")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.PrecacheSummaries))
}

func TestRecordLLMRequest(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordLLMRequest("rank", "anthropic", 2.1)
	m.RecordLLMRequestFailed("rank", "anthropic", "rate_limit")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsTotal.WithLabelValues("rank", "anthropic")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LLMRequestsFailed.WithLabelValues("rank", "anthropic", "rate_limit")))
}

func getHistogramSampleCount(h prometheus.Histogram) (uint64, error) {
	ch := make(chan prometheus.Metric, 1)
	h.Collect(ch)
	close(ch)

	var m prometheus.Metric
	for m = range ch {
		break
	}

	var dto = &dto.Metric{}
	if err := m.Write(dto); err != nil {
		return 0, err
	}

	return dto.Histogram.GetSampleCount(), nil
}
