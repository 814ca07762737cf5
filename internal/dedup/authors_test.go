package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple lowercase", "John Smith", "john smith"},
		{"extra whitespace", "  John   Smith  ", "john smith"},
		{"last comma first format", "SMITH, John", "john smith"},
		{"apostrophe removed", "O'Brien", "obrien"},
		{"periods removed", "J. K. Rowling", "j k rowling"},
		{"hyphens removed", "Mary-Jane Watson", "maryjane watson"},
		{"last comma first with extra spaces", "  Smith ,  John  ", "john smith"},
		{"trailing comma", "Smith,", "smith"},
		{"accented letters preserved", "José García", "josé garcía"},
		{"empty string", "", ""},
		{"only whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestNameSimilarity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"john smith", "john smith", 1.0},
		{"j smith", "john smith", 0.9},
		{"smith", "john smith", 0.7},
		{"jane smith", "john smith", 0.3},
		{"john smith", "john doe", 0.0},
		{"", "john smith", 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.a+" vs "+tt.b, func(t *testing.T) {
			t.Parallel()
			assert.InDelta(t, tt.want, nameSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}

func TestAuthorOverlap(t *testing.T) {
	t.Parallel()

	t.Run("identical lists", func(t *testing.T) {
		t.Parallel()
		a := []string{"Wilding JPH", "Batterham RL"}
		assert.InDelta(t, 1.0, AuthorOverlap(a, a), 1e-9)
	})

	t.Run("empty list", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, AuthorOverlap(nil, []string{"John Smith"}))
		assert.Zero(t, AuthorOverlap([]string{"John Smith"}, []string{}))
	})

	t.Run("initials and ordering", func(t *testing.T) {
		t.Parallel()
		a := []string{"Smith, John", "Jane Doe"}
		b := []string{"J. Smith", "Jane Doe"}
		// 0.9 + 1.0 over a union of 2.
		assert.InDelta(t, 0.95, AuthorOverlap(a, b), 1e-9)
	})

	t.Run("disjoint", func(t *testing.T) {
		t.Parallel()
		assert.Zero(t, AuthorOverlap([]string{"Ann Lee"}, []string{"Bob Kim", "Cy Ng"}))
	})

	t.Run("symmetric", func(t *testing.T) {
		t.Parallel()
		a := []string{"John Smith", "Jane Doe", "Ann Lee"}
		b := []string{"J Smith", "Bob Kim"}
		assert.InDelta(t, AuthorOverlap(a, b), AuthorOverlap(b, a), 1e-9)
	})
}
