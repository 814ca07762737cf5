package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// SearchKey identifies a search response page.
func SearchKey(query string, page, perPage int, language string) string {
	return fmt.Sprintf("search:%s:%d:%d:%s", digest(strings.ToLower(strings.TrimSpace(query))), page, perPage, language)
}

// PaperKey identifies paper metadata by paper ID, DOI or PMID.
func PaperKey(id string) string {
	return "paper:" + id
}

// QueryTransformKey identifies a transform result by sanitized query text.
// The key is independent of the requested output language.
func QueryTransformKey(sanitized string) string {
	return "transform:" + digest(strings.ToLower(strings.TrimSpace(sanitized)))
}

// SummaryKey identifies a per-paper summary in one language.
func SummaryKey(paperID, language string) string {
	return "summary:" + paperID + ":" + language
}

// TitleKey identifies a translated title.
func TitleKey(paperID, language string) string {
	return "title:" + paperID + ":" + language
}

// AbstractKey identifies an abstract translation at one difficulty level.
func AbstractKey(paperID, language, difficulty string) string {
	return "abstract:" + paperID + ":" + language + ":" + difficulty
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}
