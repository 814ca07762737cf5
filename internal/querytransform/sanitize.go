package querytransform

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxQueryRunes is the longest query, in runes, passed to the LLM.
const MaxQueryRunes = 500

// injectionPatterns are removed from user queries before they reach a prompt.
// Evaluated in order; later patterns see the output of earlier ones.
var injectionPatterns = []*regexp.Regexp{
	// Instruction overrides.
	regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+|any\s+|the\s+)?(previous|prior|above|earlier|preceding)\s+(instructions?|prompts?|rules?|messages?|context)\b`),
	regexp.MustCompile(`(?i)\bforget\s+(everything|all)\b`),
	regexp.MustCompile(`(?i)\bnew\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)\b(reveal|print|show|repeat)\s+(your|the)\s+(system\s+)?(prompt|instructions)\b`),

	// Role reassignment.
	regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)?\s*[\p{L}-]+`),
	regexp.MustCompile(`(?i)\b(act|behave)\s+as\s+(a|an|the|if)\b`),
	regexp.MustCompile(`(?i)\bpretend\s+(to\s+be|you\s+are)\b`),
	regexp.MustCompile(`(?i)\b(system|assistant|developer)\s*:`),

	// Template and delimiter tokens.
	regexp.MustCompile(`\{\{.*?\}\}|\{%.*?%\}`),
	regexp.MustCompile(`<\|[^|>]*\|>`),
	regexp.MustCompile(`\[/?INST\]|<<\/?SYS>>`),
	regexp.MustCompile(`(?i)</?\s*(system|assistant|user|instructions?)\s*>`),
	regexp.MustCompile("`{3,}|#{3,}|-{3,}|={3,}"),
}

// Sanitize prepares a raw user query for prompting: it truncates to
// MaxQueryRunes, removes injection patterns and collapses whitespace.
// The result may be empty.
func Sanitize(query string) string {
	query = truncateRunes(query, MaxQueryRunes)
	for _, re := range injectionPatterns {
		query = re.ReplaceAllString(query, " ")
	}
	return strings.Join(strings.Fields(query), " ")
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
