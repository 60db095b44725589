package enrichment

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kadirpekel/mnemo/pkg/corpus"
)

func TestAttested(t *testing.T) {
	text := "Anna Schmidt approved the Meridian Consulting invoice for the embeddings pipeline."
	lower := strings.ToLower(text)
	tokens := fuzzyTokens(text)

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"exact substring", "Meridian Consulting", true},
		{"case insensitive", "anna schmidt", true},
		{"fuzzy typo", "Anna Schmit", true},
		{"distant name", "Clara Vogel", false},
		{"invented org", "Acme Corp", false},
		{"empty value", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, attested(lower, tokens, tt.value, 0.85))
		})
	}
}

func TestIsoDates(t *testing.T) {
	got := isoDates([]string{
		"2025-11-03",
		"03.11.2025",
		"2025-13-01",
		"2025-06",
		"2025-11-03",
		" 2024-01-31 ",
		"",
	})
	assert.Equal(t, []string{"2024-01-31", "2025-06", "2025-11-03"}, got)
}

func TestEvidencedNumbers(t *testing.T) {
	text := strings.ToLower("Rechnung über 1.200,50 EUR, Rabatt 5%, Tel. 0170/1234567, Az. 4 C 318/25.")

	tests := []struct {
		name  string
		value string
		want  bool
	}{
		{"literal match", "5%", true},
		{"reformatted money", "1200,50 EUR", true},
		{"reformatted phone", "+49 170 1234567", true},
		{"case number", "4 C 318/25", true},
		{"invented number", "999888777", false},
		{"no digits", "zwölf", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evidencedNumbers(text, []string{tt.value})
			if tt.want {
				assert.Equal(t, []string{tt.value}, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}

	t.Run("deduplicates", func(t *testing.T) {
		got := evidencedNumbers(text, []string{"5%", "5%"})
		assert.Equal(t, []string{"5%"}, got)
	})
}

func TestMatchPerson(t *testing.T) {
	known := []corpus.Person{
		{ID: 1, CanonicalName: "Anna Schmidt", Aliases: []string{"A. Schmidt"}},
		{ID: 2, CanonicalName: "Bob Jones"},
	}
	seeds := []string{"family/Clara Vogel"}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"exact canonical", "Anna Schmidt", "Anna Schmidt"},
		{"alias resolves to canonical", "A. Schmidt", "Anna Schmidt"},
		{"typo snaps to canonical", "Bob Jons", "Bob Jones"},
		{"vocabulary seed leaf", "Clara Vogl", "Clara Vogel"},
		{"unknown name", "Erik Larsen", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, matchPerson(tt.in, known, seeds))
		})
	}
}

func TestClipSummary(t *testing.T) {
	assert.Equal(t, "short", clipSummary("short", 600))

	long := strings.Repeat("Die Prüfung ergab keine Beanstandungen. ", 30)
	clipped := clipSummary(long, summaryMaxChars)
	assert.LessOrEqual(t, len([]rune(clipped)), summaryMaxChars)
	assert.True(t, strings.HasSuffix(clipped, "..."))
}

func TestDedupeStrings(t *testing.T) {
	got := dedupeStrings([]string{"a", "", "b", "a", "c", "b"})
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
