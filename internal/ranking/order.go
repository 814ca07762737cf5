package ranking

import (
	"sort"

	"github.com/helixir/paper-search-service/internal/domain"
)

// Ordered pairs a paper with its ranking. Ranking is nil for papers that were
// not scored.
type Ordered struct {
	Paper   *domain.Paper
	Ranking *domain.RankedPaper
}

// Order returns every paper exactly once: scored papers first by descending
// relevance score, then unscored papers. Ties and the unscored tail keep the
// order of papers. NaN scores sort after all other scores.
func Order(papers []*domain.Paper, ranked []domain.RankedPaper) []Ordered {
	byID := make(map[string]*domain.RankedPaper, len(ranked))
	for i := range ranked {
		if _, dup := byID[ranked[i].ID]; !dup {
			byID[ranked[i].ID] = &ranked[i]
		}
	}

	scored := make([]Ordered, 0, len(ranked))
	var unscored []Ordered
	for _, p := range papers {
		if r, ok := byID[p.ID]; ok {
			scored = append(scored, Ordered{Paper: p, Ranking: r})
			continue
		}
		unscored = append(unscored, Ordered{Paper: p})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return domain.ScoreLess(scored[i].Ranking.RelevanceScore, scored[j].Ranking.RelevanceScore)
	})
	return append(scored, unscored...)
}
