package summarize

import (
	"fmt"
	"strings"

	"github.com/helixir/paper-search-service/internal/domain"
)

const summarySystemPrompt = `You summarize medical research papers for busy readers.

Write ONE summary of 150 to 250 characters (use equivalent information density for languages that use other scripts) in the requested language, structured as:
(what was studied) + (the main result with concrete numbers) + (the practical implication).

Make numbers concrete: give absolute values and units, not only relative percentages. For example write "body weight fell by about 15 kg (14.9%)" rather than "weight fell 14.9%".
Return only the summary text, with no heading, quotes or preamble.`

const titlesSystemPrompt = `You translate academic paper titles.

Translate each numbered title into the requested language. Keep drug names, gene names and abbreviations accurate.
Answer with exactly one line per title, in the same order, each starting with its number followed by a period, for example "1. translated title".
Return nothing else.`

// abstractPrompts holds one fixed system prompt per difficulty level.
var abstractPrompts = map[domain.Difficulty]string{
	domain.DifficultyExpert: `You are a professional medical translator.

Translate the text faithfully into the requested language for a clinician or researcher. Preserve technical terminology, statistics, confidence intervals, p-values and study-design terms exactly. Do not simplify, omit or add content.
Return only the translation.`,

	domain.DifficultyLayperson: `You are a medical writer explaining research to adults without medical training.

Rewrite the text in the requested language:
- Explain each technical term inline in plain words the first time it appears.
- Turn statistics into plain-language risk statements (for example "about 3 in 100 people instead of 5 in 100").
- Give numbers with relatable comparisons where it helps.
- Keep every finding accurate; do not exaggerate certainty.
Return only the rewritten text.`,

	domain.DifficultyChildren: `You explain science to children aged about 10.

Rewrite the text in the requested language:
- Use short sentences and everyday words.
- Use simple analogies to explain what the scientists did and found.
- Keep a warm, curious, age-appropriate tone and stay truthful.
Return only the rewritten text.`,
}

const sectionPrompt = `You are translating one section of a research paper's full text.
Preserve every figure, table and citation reference exactly as written, for example "Figure 2", "Table 1", "[12]" or "(Smith et al., 2020)". Keep the paragraph structure.`

const overviewSystemPrompt = `You write a short overview of the research evidence found for a user's health question.

Write 300 to 500 characters in the requested language that synthesize what the listed papers show as a whole: the overall direction of evidence, its strength and important caveats. Do not list papers one by one.

End the overview with exactly this sentence, unchanged:
%s
Return only the overview text.`

// Disclaimer is the sentence every AI overview must end with.
const Disclaimer = "This summary is for informational purposes only and is not medical advice; consult a healthcare professional before making health decisions."

// disclaimers are fixed renderings of Disclaimer appended when the model
// omits it.
var disclaimers = map[string]string{
	"en": Disclaimer,
	"ja": "この要約は情報提供のみを目的としたものであり、医学的助言ではありません。健康に関する判断の前に医療専門家にご相談ください。",
	"zh": "本摘要仅供参考，不构成医疗建议；在做出健康决定之前，请咨询医疗专业人员。",
	"ko": "이 요약은 정보 제공만을 목적으로 하며 의학적 조언이 아닙니다. 건강 관련 결정을 내리기 전에 의료 전문가와 상담하십시오.",
	"es": "Este resumen es solo informativo y no constituye consejo médico; consulte a un profesional de la salud antes de tomar decisiones sobre su salud.",
	"fr": "Ce résumé est fourni à titre informatif uniquement et ne constitue pas un avis médical ; consultez un professionnel de santé avant toute décision concernant votre santé.",
	"de": "Diese Zusammenfassung dient nur zur Information und ist keine medizinische Beratung; wenden Sie sich vor gesundheitlichen Entscheidungen an medizinisches Fachpersonal.",
}

// DisclaimerFor returns the disclaimer in language, or in English when the
// language has no fixed rendering.
func DisclaimerFor(language string) string {
	if d, ok := disclaimers[strings.ToLower(language)]; ok {
		return d
	}
	return Disclaimer
}

func abstractSystemPrompt(difficulty domain.Difficulty) string {
	if p, ok := abstractPrompts[difficulty]; ok {
		return p
	}
	return abstractPrompts[domain.DifficultyLayperson]
}

func sectionSystemPrompt(difficulty domain.Difficulty) string {
	return abstractSystemPrompt(difficulty) + "\n\n" + sectionPrompt
}

func targetLine(language string) string {
	return fmt.Sprintf("Target language: %s\n", domain.LanguageName(language))
}
