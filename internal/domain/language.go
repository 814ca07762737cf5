package domain

import "strings"

// DefaultLanguage is the output language used when a request names none.
const DefaultLanguage = "ja"

// SupportedLanguages lists the output languages in precache order.
var SupportedLanguages = []string{"ja", "en", "zh", "ko", "es", "fr", "de"}

var languageNames = map[string]string{
	"ja": "Japanese",
	"en": "English",
	"zh": "Chinese (Simplified)",
	"ko": "Korean",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
}

// LanguageName returns the English name of a language code for use in
// prompts. Unknown codes are returned unchanged.
func LanguageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

// IsSupportedLanguage reports whether code is a supported output language.
func IsSupportedLanguage(code string) bool {
	_, ok := languageNames[strings.ToLower(code)]
	return ok
}

// NormalizeLanguage lowercases code and falls back to DefaultLanguage when it
// is empty or unsupported.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if !IsSupportedLanguage(code) {
		return DefaultLanguage
	}
	return code
}

// IsEnglish reports whether code names English.
func IsEnglish(code string) bool {
	return strings.EqualFold(code, "en")
}

// Difficulty is the reading level of a translation.
type Difficulty string

const (
	DifficultyExpert    Difficulty = "expert"
	DifficultyLayperson Difficulty = "layperson"
	DifficultyChildren  Difficulty = "children"
)

// Difficulties lists every difficulty level.
var Difficulties = []Difficulty{DifficultyExpert, DifficultyLayperson, DifficultyChildren}

// NormalizeDifficulty maps any value outside the three levels to layperson.
func NormalizeDifficulty(s string) Difficulty {
	switch d := Difficulty(strings.ToLower(strings.TrimSpace(s))); d {
	case DifficultyExpert, DifficultyLayperson, DifficultyChildren:
		return d
	default:
		return DifficultyLayperson
	}
}
