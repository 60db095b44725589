package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	tabRun       = regexp.MustCompile(`[ ]*\t[ \t]*`)
	spaceRun     = regexp.MustCompile(` {2,}`)
	sentenceEnd  = regexp.MustCompile(`([.!?])(\s+|$)`)
	ignoreRegion = regexp.MustCompile(`(?s)<!--\s*RAG:IGNORE-START\s*-->.*?<!--\s*RAG:IGNORE-END\s*-->`)
	ignoreOpen   = regexp.MustCompile(`(?s)<!--\s*RAG:IGNORE-START\s*-->.*$`)
)

// NormalizeText canonicalizes extracted text: line endings unified to \n,
// intra-line runs of spaces collapsed, outer whitespace trimmed.
// Newlines are NEVER collapsed into spaces; structural line breaks carry
// the section information every downstream stage depends on. Tab runs
// collapse to a single tab rather than a space, so tab-delimited table
// rows stay recognizable.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = tabRun.ReplaceAllString(line, "\t")
		line = spaceRun.ReplaceAllString(line, " ")
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// StripIgnoreRegions removes regions fenced by RAG:IGNORE sentinel
// comments. An unclosed start marker strips to the end of the text, so
// content an author meant to hide never leaks into the index.
func StripIgnoreRegions(s string) string {
	s = ignoreRegion.ReplaceAllString(s, "")
	return ignoreOpen.ReplaceAllString(s, "")
}

// SplitSentences splits text into sentences on terminal punctuation.
// Trailing fragments without terminal punctuation are kept as a final
// sentence. Used for chunk overlap, which must never cut mid-sentence.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringSubmatchIndex(text, -1) {
		end := loc[3] // end of punctuation group
		s := strings.TrimSpace(text[last:end])
		if s != "" {
			sentences = append(sentences, s)
		}
		last = loc[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// Tokenize lowercases text and splits it into word tokens, dropping
// punctuation. Shared by coverage scoring and keyword matching.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9') && r < 0x80
	})
}

// Truncate cuts s to at most n bytes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// EnsureDir creates a directory (with parents) if it does not exist.
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("directory path is empty")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %q: %w", dir, err)
	}
	return dir, nil
}

// ExpandHome expands a leading ~ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}
