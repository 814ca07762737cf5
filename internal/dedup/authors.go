package dedup

import (
	"strings"
	"unicode"
)

// AuthorOverlap scores how far two author lists agree, from 0.0 (disjoint or
// either list empty) to 1.0 (same people). Each name of the shorter list is
// greedily paired with its most similar unpaired name in the longer list; the
// summed similarity is divided by the size of the union.
//
// AuthorOverlap(a, b) == AuthorOverlap(b, a).
func AuthorOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	short, long := normalizeNames(a), normalizeNames(b)
	if len(short) > len(long) {
		short, long = long, short
	}

	paired := make([]bool, len(long))
	pairs := 0
	total := 0.0
	for _, name := range short {
		best, bestIdx := 0.0, -1
		for j, other := range long {
			if paired[j] {
				continue
			}
			if s := nameSimilarity(name, other); s > best {
				best, bestIdx = s, j
			}
		}
		if bestIdx >= 0 {
			paired[bestIdx] = true
			pairs++
			total += best
		}
	}

	union := len(short) + len(long) - pairs
	if union == 0 {
		return 0
	}
	return total / float64(union)
}

// NormalizeName lowercases an author name, reorders "Last, First" to
// "First Last", drops everything that is not a letter or space and collapses
// runs of spaces.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return ""
	}

	if last, first, ok := strings.Cut(name, ","); ok {
		last, first = strings.TrimSpace(last), strings.TrimSpace(first)
		name = last
		if first != "" {
			name = first + " " + last
		}
	}

	var sb strings.Builder
	sb.Grow(len(name))
	pendingSpace := false
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			if pendingSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
			}
			pendingSpace = false
			sb.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return sb.String()
}

// nameSimilarity compares two normalized names:
//   - same last name and same given names: 1.0
//   - same last name, one given name is the other's initial: 0.9
//   - same last name, a given name missing on either side: 0.7
//   - same last name, different given names: 0.3
//   - different last names: 0.0
func nameSimilarity(a, b string) float64 {
	partsA, partsB := strings.Fields(a), strings.Fields(b)
	if len(partsA) == 0 || len(partsB) == 0 {
		return 0
	}

	if partsA[len(partsA)-1] != partsB[len(partsB)-1] {
		return 0
	}

	givenA, givenB := partsA[:len(partsA)-1], partsB[:len(partsB)-1]
	switch {
	case len(givenA) == 0 || len(givenB) == 0:
		return 0.7
	case strings.Join(givenA, " ") == strings.Join(givenB, " "):
		return 1
	case isInitialOf(givenA[0], givenB[0]) || isInitialOf(givenB[0], givenA[0]):
		return 0.9
	default:
		return 0.3
	}
}

// isInitialOf reports whether initial is a single letter that starts name.
func isInitialOf(initial, name string) bool {
	r := []rune(initial)
	n := []rune(name)
	return len(r) == 1 && len(n) > 1 && r[0] == n[0]
}

func normalizeNames(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = NormalizeName(n)
	}
	return out
}
