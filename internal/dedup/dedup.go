// Package dedup merges candidate records that describe the same paper.
//
// Records are matched by case-insensitive DOI first and by normalized title
// second. A DOI match always wins: a title collision never splits a group
// established by DOI. Matched records are merged field by field into the
// first-seen record, and the output keeps first-seen order.
package dedup

import (
	"strings"
	"unicode"

	"github.com/helixir/paper-search-service/internal/domain"
)

// lowAuthorOverlap is the overlap below which a title-only merge of two
// records that both list authors is reported as suspect.
const lowAuthorOverlap = 0.3

// Stats describes the merges performed by one deduplication.
type Stats struct {
	Input       int
	Output      int
	DOIMerges   int
	TitleMerges int

	// SuspectTitleMerges counts title-only merges whose author lists barely
	// overlap. They are merged anyway.
	SuspectTitleMerges int
}

// Merged returns the number of records merged away.
func (s Stats) Merged() int {
	return s.DOIMerges + s.TitleMerges
}

// Deduplicate returns one canonical record per paper. It performs no I/O and
// does not modify its input.
func Deduplicate(papers []*domain.Paper) []*domain.Paper {
	out, _ := DeduplicateWithStats(papers)
	return out
}

// DeduplicateWithStats is Deduplicate that also reports what was merged.
func DeduplicateWithStats(papers []*domain.Paper) ([]*domain.Paper, Stats) {
	stats := Stats{Input: len(papers)}

	current := make([]*domain.Paper, 0, len(papers))
	for _, p := range papers {
		if p != nil {
			current = append(current, p.Clone())
		}
	}

	// A merge can give a canonical record a DOI or title that an earlier
	// canonical record already holds, so passes repeat until none merges.
	for {
		next := scan(current, &stats)
		if len(next) == len(current) {
			current = next
			break
		}
		current = next
	}

	stats.Output = len(current)
	return current, stats
}

// scan performs one ordered pass, merging into the records it owns.
func scan(papers []*domain.Paper, stats *Stats) []*domain.Paper {
	out := make([]*domain.Paper, 0, len(papers))
	byDOI := make(map[string]*domain.Paper)
	byTitle := make(map[string]*domain.Paper)

	index := func(p *domain.Paper) {
		if doi := domain.NormalizeDOI(p.DOI); doi != "" {
			if _, ok := byDOI[doi]; !ok {
				byDOI[doi] = p
			}
		}
		if title := NormalizeTitle(p.Title); title != "" {
			if _, ok := byTitle[title]; !ok {
				byTitle[title] = p
			}
		}
	}

	for _, p := range papers {
		if doi := domain.NormalizeDOI(p.DOI); doi != "" {
			if existing, ok := byDOI[doi]; ok {
				merge(existing, p)
				index(existing)
				stats.DOIMerges++
				continue
			}
		}

		if title := NormalizeTitle(p.Title); title != "" {
			if existing, ok := byTitle[title]; ok {
				if len(existing.Authors) > 0 && len(p.Authors) > 0 &&
					AuthorOverlap(existing.Authors, p.Authors) < lowAuthorOverlap {
					stats.SuspectTitleMerges++
				}
				merge(existing, p)
				index(existing)
				stats.TitleMerges++
				continue
			}
		}

		out = append(out, p)
		index(p)
	}
	return out
}

// merge folds other into dst. CitationCount takes the maximum, Abstract the
// longer text and IsOpenAccess is OR-ed. Other fields prefer the non-empty
// value; when both are set the Semantic Scholar value wins, and between
// records of the same source the first-seen value is kept. dst keeps its ID
// and Source.
func merge(dst, other *domain.Paper) {
	if other.CitationCount > dst.CitationCount {
		dst.CitationCount = other.CitationCount
	}
	if len(other.Abstract) > len(dst.Abstract) {
		dst.Abstract = other.Abstract
	}
	dst.IsOpenAccess = dst.IsOpenAccess || other.IsOpenAccess

	takeOther := other.Source == domain.SourceTypeSemanticScholar &&
		dst.Source != domain.SourceTypeSemanticScholar

	pickString(&dst.Title, other.Title, takeOther)
	pickString(&dst.Journal, other.Journal, takeOther)
	pickString(&dst.DOI, other.DOI, takeOther)
	pickString(&dst.PMID, other.PMID, takeOther)
	pickString(&dst.PDFURL, other.PDFURL, takeOther)
	pickString(&dst.Venue, other.Venue, takeOther)

	if len(other.Authors) > 0 && (len(dst.Authors) == 0 || takeOther) {
		dst.Authors = append([]string(nil), other.Authors...)
	}
	if len(other.PublicationTypes) > 0 && (len(dst.PublicationTypes) == 0 || takeOther) {
		dst.PublicationTypes = append([]string(nil), other.PublicationTypes...)
	}
	if other.Year != nil && (dst.Year == nil || takeOther) {
		dst.Year = domain.IntPtr(*other.Year)
	}
}

func pickString(dst *string, other string, takeOther bool) {
	if strings.TrimSpace(other) == "" {
		return
	}
	if strings.TrimSpace(*dst) == "" || takeOther {
		*dst = other
	}
}

// NormalizeTitle lowercases a title, turns every run of characters that are
// not letters or digits into a single space and trims the result.
// "COVID-19 Vaccine Efficacy!" and "covid 19 vaccine efficacy" normalize to
// the same key.
func NormalizeTitle(title string) string {
	var sb strings.Builder
	sb.Grow(len(title))
	pendingSpace := false
	for _, r := range strings.ToLower(title) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			pendingSpace = false
			sb.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return sb.String()
}
