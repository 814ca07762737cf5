package ranking

import (
	"fmt"
	"strings"

	"github.com/helixir/paper-search-service/internal/domain"
)

// abstractPreviewRunes is how much of each abstract the prompt carries.
const abstractPreviewRunes = 100

const systemPrompt = `You are an evidence-based medicine expert ranking search results for a user's health question.

Grade every listed paper. Rank by, in priority order:
1. Evidence hierarchy: meta-analysis > systematic review > RCT > cohort > case series > case report > basic research > review.
2. Direct relevance to the user's intent.
3. Clinical practicality.
4. Recency.
5. Citation count.

For each paper return:
- "id": the id exactly as listed
- "relevance_score": a number from 0.0 to 1.0
- "evidence_level": one of "high", "moderate", "low"
- "study_type": one of "meta-analysis", "systematic-review", "RCT", "cohort", "case-series", "case-report", "basic-research", "review", "other"
- "reason": a short English explanation, at most 50 words

You MUST respond with valid JSON in exactly this format:
{"rankings": [{"id": "...", "relevance_score": 0.9, "evidence_level": "high", "study_type": "meta-analysis", "reason": "..."}]}`

func buildUserPrompt(userQuery, intent string, candidates []*domain.Paper) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "User question: %s\n", userQuery)
	if intent != "" {
		fmt.Fprintf(&sb, "Interpreted intent: %s\n", intent)
	}
	fmt.Fprintf(&sb, "\nPapers (%d):\n", len(candidates))

	for _, p := range candidates {
		year := "unknown"
		if p.Year != nil {
			year = fmt.Sprint(*p.Year)
		}
		fmt.Fprintf(&sb, "\nid: %s | year: %s | citations: %d\n", p.ID, year, p.CitationCount)
		fmt.Fprintf(&sb, "title: %s\n", p.Title)
		if p.Abstract != "" {
			fmt.Fprintf(&sb, "abstract: %s\n", preview(p.Abstract, abstractPreviewRunes))
		}
	}
	return sb.String()
}

func preview(s string, n int) string {
	runes := []rune(strings.Join(strings.Fields(s), " "))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}
