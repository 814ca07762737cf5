package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-search-service/internal/domain"
	"github.com/helixir/paper-search-service/internal/llm"
	"github.com/helixir/paper-search-service/internal/llm/llmtest"
)

var errBilling = &llm.ServiceError{Kind: llm.KindBilling, Provider: "anthropic", StatusCode: 402}

func TestGeneratePaperSummary(t *testing.T) {
	t.Parallel()

	t.Run("embeds language title and abstract", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("  セマグルチドで体重が約15kg減少した。  ")
		s := New(client)

		got := s.GeneratePaperSummary(context.Background(), "Adults lost 14.9% of body weight.", "ja", "STEP 1")

		assert.Equal(t, "セマグルチドで体重が約15kg減少した。", got)
		call := client.Calls()[0]
		assert.Equal(t, OpSummary, call.Operation)
		assert.Contains(t, call.System, "150 to 250 characters")
		assert.Contains(t, call.User, "Japanese")
		assert.Contains(t, call.User, "STEP 1")
		assert.Contains(t, call.User, "14.9%")
		assert.False(t, call.ExpectJSON)
	})

	t.Run("no abstract skips the call", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("x")
		assert.Empty(t, New(client).GeneratePaperSummary(context.Background(), "  ", "ja", "T"))
		assert.Zero(t, client.CallCount())
	})

	t.Run("failure yields empty string", func(t *testing.T) {
		t.Parallel()
		s := New(llmtest.Failing(errBilling))
		assert.Empty(t, s.GeneratePaperSummary(context.Background(), "abstract", "ja", "T"))
	})
}

func TestTranslateTitlesBatch(t *testing.T) {
	t.Parallel()

	titles := []string{"Semaglutide and weight", "Statins in the elderly", "Vitamin D   and falls"}

	tests := []struct {
		name  string
		reply string
		want  []string
	}{
		{
			name:  "numbered response",
			reply: "1. セマグルチドと体重\n2. 高齢者のスタチン\n3. ビタミンDと転倒",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "ビタミンDと転倒"},
		},
		{
			name:  "numbers out of order and other separators",
			reply: "2) 高齢者のスタチン\n\n1．セマグルチドと体重\n3: ビタミンDと転倒\n",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "ビタミンDと転倒"},
		},
		{
			name:  "missing line is padded with original",
			reply: "1. セマグルチドと体重\n2. 高齢者のスタチン",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "Vitamin D   and falls"},
		},
		{
			name:  "numbered gap keeps alignment",
			reply: "1. セマグルチドと体重\n3. ビタミンDと転倒",
			want:  []string{"セマグルチドと体重", "Statins in the elderly", "ビタミンDと転倒"},
		},
		{
			name:  "preamble before numbered list is ignored",
			reply: "Here are the translations:\n1. セマグルチドと体重\n2. 高齢者のスタチン\n3. ビタミンDと転倒",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "ビタミンDと転倒"},
		},
		{
			name:  "trailing commentary is ignored",
			reply: "1. セマグルチドと体重\n2. 高齢者のスタチン\nNote: title 3 kept as is.",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "Vitamin D   and falls"},
		},
		{
			name:  "out of range numbers are dropped",
			reply: "Translations:\n1. セマグルチドと体重\n7. 余分\n3. ビタミンDと転倒",
			want:  []string{"セマグルチドと体重", "Statins in the elderly", "ビタミンDと転倒"},
		},
		{
			name:  "unnumbered lines are positional",
			reply: "セマグルチドと体重\n高齢者のスタチン\nビタミンDと転倒\n余分な行",
			want:  []string{"セマグルチドと体重", "高齢者のスタチン", "ビタミンDと転倒"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			client := llmtest.Text(tt.reply)

			got := New(client).TranslateTitlesBatch(context.Background(), titles, "ja")

			assert.Equal(t, tt.want, got)
			require.Equal(t, 1, client.CallCount())
			user := client.Calls()[0].User
			assert.Contains(t, user, "1. Semaglutide and weight\n")
			assert.Contains(t, user, "3. Vitamin D and falls\n")
		})
	}

	t.Run("english is a no-op", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("ignored")
		got := New(client).TranslateTitlesBatch(context.Background(), titles, "en")
		assert.Equal(t, titles, got)
		assert.Zero(t, client.CallCount())
	})

	t.Run("failure keeps originals", func(t *testing.T) {
		t.Parallel()
		got := New(llmtest.Failing(errors.New("down"))).TranslateTitlesBatch(context.Background(), titles, "ko")
		assert.Equal(t, titles, got)
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("x")
		assert.Empty(t, New(client).TranslateTitlesBatch(context.Background(), nil, "ja"))
		assert.Zero(t, client.CallCount())
	})
}

func TestParseNumberedLines(t *testing.T) {
	t.Parallel()

	got, filled := parseNumberedLines("Sure!\n1. a\n2. b\n3. c\nHope this helps.", 3)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, 3, filled)

	got, filled = parseNumberedLines("x\ny", 3)
	assert.Equal(t, []string{"x", "y", ""}, got)
	assert.Equal(t, 2, filled)
}

func TestTranslateAbstract(t *testing.T) {
	t.Parallel()

	t.Run("each difficulty has its own prompt", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("translated")
		s := New(client)

		for _, d := range domain.Difficulties {
			assert.Equal(t, "translated", s.TranslateAbstract(context.Background(), "abstract", "fr", d, "T"))
		}

		calls := client.Calls()
		require.Len(t, calls, 3)
		assert.Contains(t, calls[0].System, "professional medical translator")
		assert.Contains(t, calls[1].System, "plain-language risk statements")
		assert.Contains(t, calls[2].System, "children")
		assert.NotEqual(t, calls[0].System, calls[1].System)
		assert.NotEqual(t, calls[1].System, calls[2].System)
		assert.Contains(t, calls[0].User, "French")
	})

	t.Run("english expert is a no-op", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("changed")
		got := New(client).TranslateAbstract(context.Background(), "Original abstract.", "en", domain.DifficultyExpert, "T")
		assert.Equal(t, "Original abstract.", got)
		assert.Zero(t, client.CallCount())
	})

	t.Run("english layperson still calls the model", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("plain english")
		got := New(client).TranslateAbstract(context.Background(), "Original abstract.", "en", domain.DifficultyLayperson, "T")
		assert.Equal(t, "plain english", got)
		assert.Equal(t, 1, client.CallCount())
	})

	t.Run("strict variant returns service error", func(t *testing.T) {
		t.Parallel()
		s := New(llmtest.Failing(errBilling))

		_, err := s.TranslateAbstractStrict(context.Background(), "abstract", "ja", domain.DifficultyChildren, "T")
		svcErr, ok := llm.AsServiceError(err)
		require.True(t, ok)
		assert.Equal(t, llm.KindBilling, svcErr.Kind)

		assert.Empty(t, s.TranslateAbstract(context.Background(), "abstract", "ja", domain.DifficultyChildren, "T"))
	})
}

func TestTranslateFulltextSection(t *testing.T) {
	t.Parallel()

	client := llmtest.Text("方法の翻訳")
	s := New(client)

	got := s.TranslateFulltextSection(context.Background(), "We enrolled 1961 adults (Table 1) [12].", "ja", domain.DifficultyLayperson, "Methods")

	assert.Equal(t, "方法の翻訳", got)
	call := client.Calls()[0]
	assert.Equal(t, OpSectionTranslation, call.Operation)
	assert.Contains(t, call.System, "plain-language risk statements")
	assert.Contains(t, call.System, "figure, table and citation reference")
	assert.Contains(t, call.User, "Section: Methods")

	_, err := New(llmtest.Failing(errBilling)).TranslateFulltextSectionStrict(context.Background(), "text", "ja", domain.DifficultyExpert, "Results")
	assert.ErrorIs(t, err, errBilling)
}

func TestGenerateAIOverview(t *testing.T) {
	t.Parallel()

	papers := make([]*domain.Paper, 7)
	for i := range papers {
		papers[i] = &domain.Paper{ID: string(rune('a' + i)), Title: "Paper " + string(rune('A'+i)), Abstract: "Findings.", Year: domain.IntPtr(2020 + i)}
	}

	t.Run("appends missing disclaimer", func(t *testing.T) {
		t.Parallel()
		client := llmtest.Text("セマグルチドは体重減少に有効であることが示されている。")
		got := New(client).GenerateAIOverview(context.Background(), "オゼンピックの効果", "ja", papers)

		assert.True(t, strings.HasSuffix(got, DisclaimerFor("ja")))
		assert.True(t, strings.HasPrefix(got, "セマグルチドは"))

		call := client.Calls()[0]
		assert.Equal(t, OpOverview, call.Operation)
		assert.Contains(t, call.System, DisclaimerFor("ja"))
		assert.Contains(t, call.User, "5. Paper E (2024)")
		assert.NotContains(t, call.User, "Paper F")
	})

	t.Run("keeps disclaimer already at the end", func(t *testing.T) {
		t.Parallel()
		text := "Evidence is consistent. " + Disclaimer
		got := New(llmtest.Text(text)).GenerateAIOverview(context.Background(), "q", "en", papers[:1])
		assert.Equal(t, text, got)
	})

	t.Run("no papers or failure yields empty", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, New(llmtest.Text("x")).GenerateAIOverview(context.Background(), "q", "en", nil))
		assert.Empty(t, New(llmtest.Failing(errBilling)).GenerateAIOverview(context.Background(), "q", "en", papers))
	})
}

func TestEnsureDisclaimer(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Body.\n\nD.", EnsureDisclaimer("D. Body.", "D."))
	assert.Equal(t, "D.", EnsureDisclaimer("  ", "D."))
	assert.Equal(t, "Body. D.", EnsureDisclaimer("Body. D.  ", "D."))
}

func TestDisclaimerFor(t *testing.T) {
	t.Parallel()

	for _, lang := range domain.SupportedLanguages {
		assert.NotEmpty(t, DisclaimerFor(lang), lang)
	}
	assert.Equal(t, Disclaimer, DisclaimerFor("xx"))
}
