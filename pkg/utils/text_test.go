package utils

import (
	"strings"
	"testing"
)

func TestNormalizeTextPreservesNewlines(t *testing.T) {
	in := "Title\r\n\r\nFirst   line  here\nSecond line\r\n"
	got := NormalizeText(in)

	if strings.Contains(got, "\r") {
		t.Errorf("carriage returns survived normalization: %q", got)
	}
	if !strings.Contains(got, "Title\n\nFirst line here\nSecond line") {
		t.Errorf("unexpected normalization result: %q", got)
	}
	// The blank line between paragraphs must survive.
	if strings.Count(got, "\n\n") != 1 {
		t.Errorf("paragraph break lost: %q", got)
	}
}

func TestNormalizeTextKeepsTabDelimiters(t *testing.T) {
	// Tab-separated cells must stay tab-separated or table detection
	// downstream loses them.
	got := NormalizeText("name\t  amount\nwidget\t3\n")
	want := "name\tamount\nwidget\t3"
	if got != want {
		t.Errorf("NormalizeText = %q, want %q", got, want)
	}
}

func TestStripIgnoreRegions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "single region",
			in:   "keep.\n<!-- RAG:IGNORE-START -->secret<!-- RAG:IGNORE-END -->\nalso keep.",
			want: "keep.\n\nalso keep.",
		},
		{
			name: "multiline region",
			in:   "a\n<!-- RAG:IGNORE-START -->\nline one\nline two\n<!-- RAG:IGNORE-END -->b",
			want: "a\nb",
		},
		{
			name: "unclosed start strips to end",
			in:   "visible <!-- RAG:IGNORE-START --> hidden forever",
			want: "visible ",
		},
		{
			name: "no markers",
			in:   "plain text",
			want: "plain text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripIgnoreRegions(tt.in); got != tt.want {
				t.Errorf("StripIgnoreRegions(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "plain sentences",
			text: "First one. Second one! Third?",
			want: []string{"First one.", "Second one!", "Third?"},
		},
		{
			name: "trailing fragment kept",
			text: "Done. And then",
			want: []string{"Done.", "And then"},
		},
		{
			name: "empty input",
			text: "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("SplitSentences(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		atLeast float64
		atMost  float64
	}{
		{name: "identical", a: "embeddings", b: "embeddings", atLeast: 1.0, atMost: 1.0},
		{name: "case and punctuation ignored", a: "Machine-Learning", b: "machine learning", atLeast: 1.0, atMost: 1.0},
		{name: "close variants", a: "ml-embeddings", b: "embeddings", atLeast: 0.6, atMost: 0.99},
		{name: "unrelated", a: "proxmox", b: "gardening", atLeast: 0.0, atMost: 0.4},
		{name: "empty side", a: "", b: "anything", atLeast: 0.0, atMost: 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Similarity(tt.a, tt.b)
			if got < tt.atLeast || got > tt.atMost {
				t.Errorf("Similarity(%q, %q) = %f, want within [%f, %f]", tt.a, tt.b, got, tt.atLeast, tt.atMost)
			}
		})
	}
}

func TestLevenshteinDistance(t *testing.T) {
	if d := LevenshteinDistance("kitten", "sitting"); d != 3 {
		t.Errorf("LevenshteinDistance(kitten, sitting) = %d, want 3", d)
	}
	if d := LevenshteinDistance("", "abc"); d != 3 {
		t.Errorf("LevenshteinDistance empty = %d, want 3", d)
	}
}
