// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package enrichment

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	replyPrefix  = regexp.MustCompile(`(?i)^(re|fwd?|aw|wg)\s*:\s*`)
	mdHeading    = regexp.MustCompile(`^#{1,2}\s+(.+?)\s*#*$`)
	datePrefix   = regexp.MustCompile(`^(\d{8}|\d{4}-\d{2}-\d{2})[-_ ]+`)
	idSuffix     = regexp.MustCompile(`-\d{4,5}$`)
	separatorRun = regexp.MustCompile(`[-_]+`)
)

// DeriveTitle picks a working title for a document by walking a fixed
// ladder: email subject, first markdown H1/H2, first short line,
// cleaned filename. Each rung runs only when the previous one produced
// nothing; an empty return means every rung failed.
func DeriveTitle(text, filename, subject string) string {
	if t := subjectTitle(subject); t != "" {
		return t
	}
	if t := headingTitle(text); t != "" {
		return t
	}
	if t := firstLineTitle(text); t != "" {
		return t
	}
	return filenameTitle(filename)
}

// subjectTitle strips reply and forward prefixes, including the German
// AW:/WG: variants, repeatedly, keeping the original casing.
func subjectTitle(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return s
}

// headingTitle returns the first H1 or H2 outside fenced code blocks.
func headingTitle(text string) string {
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := mdHeading.FindStringSubmatch(trimmed); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// firstLineTitle uses the document's first non-empty line when it is
// plausibly a title: 3 to 20 words.
func firstLineTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if n := len(strings.Fields(line)); n >= 3 && n <= 20 {
			return line
		}
		return ""
	}
	return ""
}

// filenameTitle cleans the original filename into a readable title.
// The extension, date prefixes (20250114-, 2025-01-14-) and numeric ID
// suffixes (-12345) are stripped, separators become spaces, and each
// word is capitalized without touching its inner case.
func filenameTitle(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = datePrefix.ReplaceAllString(base, "")
	base = idSuffix.ReplaceAllString(base, "")
	base = separatorRun.ReplaceAllString(base, " ")
	return titleCase(base)
}

// titleCase capitalizes the first rune of each word. Inner case is
// preserved so acronyms survive.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
