package pdf

import (
	"regexp"
	"strings"
)

// Canonical section names.
const (
	SectionFrontMatter     = "Front Matter"
	SectionFullText        = "Full Text"
	SectionAbstract        = "Abstract"
	SectionIntroduction    = "Introduction"
	SectionBackground      = "Background"
	SectionMethods         = "Methods"
	SectionResults         = "Results"
	SectionDiscussion      = "Discussion"
	SectionLimitations     = "Limitations"
	SectionConclusion      = "Conclusion"
	SectionAcknowledgments = "Acknowledgments"
	SectionReferences      = "References"
)

const (
	DefaultMaxSections     = 12
	DefaultMaxSectionRunes = 6000

	// Longer lines are body text even when they start with a heading word.
	maxHeadingRunes = 60
)

// headingPrefix matches optional numbering such as "2.", "3.1" or "IV.".
const headingPrefix = `^(?i)(?:(?:\d+(?:\.\d+)*|[ivx]+)[.)]?\s+)?`

// headingSuffix allows a trailing colon or period.
const headingSuffix = `\s*[:.]?$`

// headings is matched in order against short lines; the first hit names the
// section.
var headings = []struct {
	pattern   *regexp.Regexp
	canonical string
}{
	{heading(`abstract|summary`), SectionAbstract},
	{heading(`introduction`), SectionIntroduction},
	{heading(`background`), SectionBackground},
	{heading(`methods?|materials and methods|methodology|patients and methods|study design`), SectionMethods},
	{heading(`results?|findings`), SectionResults},
	{heading(`results and discussion`), SectionResults},
	{heading(`discussion`), SectionDiscussion},
	{heading(`(?:strengths and )?limitations`), SectionLimitations},
	{heading(`conclusions?|concluding remarks`), SectionConclusion},
	{heading(`acknowledge?ments?`), SectionAcknowledgments},
	{heading(`references|bibliography|literature cited|works cited`), SectionReferences},
}

// dropped sections are never returned.
var dropped = map[string]bool{
	SectionReferences:      true,
	SectionAcknowledgments: true,
}

func heading(names string) *regexp.Regexp {
	return regexp.MustCompile(headingPrefix + `(?:` + names + `)` + headingSuffix)
}

// Section is one named span of a paper's text.
type Section struct {
	Name string
	Text string
}

// Limits bounds the output of SplitSections. Zero values take defaults.
type Limits struct {
	MaxSections     int
	MaxSectionRunes int
}

// SplitSections splits extracted paper text at recognised headings. Text
// before the first heading becomes a front-matter section; text with no
// headings at all becomes a single full-text section. Reference and
// acknowledgment sections are dropped, blank sections are skipped and each
// section is truncated to the rune limit.
func SplitSections(text string, limits Limits) []Section {
	if limits.MaxSections <= 0 {
		limits.MaxSections = DefaultMaxSections
	}
	if limits.MaxSectionRunes <= 0 {
		limits.MaxSectionRunes = DefaultMaxSectionRunes
	}

	var (
		raw     []Section
		current = Section{Name: SectionFrontMatter}
		body    strings.Builder
		found   bool
	)
	flush := func() {
		current.Text = strings.TrimSpace(body.String())
		raw = append(raw, current)
		body.Reset()
	}

	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if name, ok := matchHeading(line); ok {
			flush()
			current = Section{Name: name}
			found = true
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()

	if !found {
		raw[0].Name = SectionFullText
	}

	var out []Section
	for _, s := range raw {
		if dropped[s.Name] || s.Text == "" {
			continue
		}
		s.Text = truncateRunes(s.Text, limits.MaxSectionRunes)
		out = append(out, s)
		if len(out) == limits.MaxSections {
			break
		}
	}
	return out
}

func matchHeading(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" || len([]rune(line)) > maxHeadingRunes {
		return "", false
	}
	for _, h := range headings {
		if h.pattern.MatchString(line) {
			return h.canonical, true
		}
	}
	return "", false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "..."
}
