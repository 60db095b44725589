// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sources

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kadirpekel/mnemo/pkg/document"
)

var codeExts = map[string]bool{
	"c": true, "cpp": true, "cs": true, "go": true, "h": true,
	"java": true, "js": true, "kt": true, "php": true, "py": true,
	"rb": true, "rs": true, "sh": true, "sql": true, "swift": true,
	"ts": true,
}

var textExts = map[string]bool{
	"conf": true, "csv": true, "ini": true, "json": true, "log": true,
	"text": true, "toml": true, "tsv": true, "txt": true, "yaml": true,
	"yml": true,
}

// TextSource is the fallback for anything that looks like plain text.
// It must be registered last.
type TextSource struct{}

// NewTextSource returns the plain-text fallback source.
func NewTextSource() *TextSource { return &TextSource{} }

// Name implements Source.
func (s *TextSource) Name() string { return "text" }

// Detect accepts known text and code extensions, text MIME types, and
// anything whose leading bytes sniff as text. Binary data is rejected so
// unrecognized formats fail loudly instead of indexing garbage.
func (s *TextSource) Detect(mime string, data []byte, hint string) (string, bool) {
	if e := ext(hint); e != "" {
		if codeExts[e] {
			return string(document.SourceCode), true
		}
		if textExts[e] {
			return string(document.SourceText), true
		}
	}
	if strings.HasPrefix(mime, "text/") || strings.HasPrefix(sniffMIME(data), "text/") {
		return string(document.SourceText), true
	}
	return "", false
}

// Extract implements Source.
func (s *TextSource) Extract(_ context.Context, data []byte, _ string) (*ExtractResult, error) {
	text, err := cleanUTF8(data)
	if err != nil {
		return nil, err
	}
	return &ExtractResult{Text: text}, nil
}

// MarkdownSource handles Markdown files. The markup is kept as-is; the
// chunker understands headings and code fences.
type MarkdownSource struct{}

// NewMarkdownSource returns the Markdown source.
func NewMarkdownSource() *MarkdownSource { return &MarkdownSource{} }

// Name implements Source.
func (s *MarkdownSource) Name() string { return "markdown" }

// Detect implements Source.
func (s *MarkdownSource) Detect(mime string, _ []byte, hint string) (string, bool) {
	switch ext(hint) {
	case "md", "markdown", "mdown":
		return string(document.SourceMarkdown), true
	}
	if mime == "text/markdown" {
		return string(document.SourceMarkdown), true
	}
	return "", false
}

// Extract returns the Markdown text unchanged and surfaces the first
// top-level heading as the title.
func (s *MarkdownSource) Extract(_ context.Context, data []byte, _ string) (*ExtractResult, error) {
	text, err := cleanUTF8(data)
	if err != nil {
		return nil, err
	}
	res := &ExtractResult{Text: text}
	if title := firstHeading(text); title != "" {
		res.SourceMeta = map[string]string{"title": title}
	}
	return res, nil
}

// firstHeading returns the text of the first level-one heading.
func firstHeading(text string) string {
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}

// cleanUTF8 replaces invalid byte sequences with the replacement rune
// and rejects inputs that are mostly invalid, which usually means binary
// data slipped past detection.
func cleanUTF8(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}
	cleaned := strings.ToValidUTF8(string(data), "�")
	invalid := strings.Count(cleaned, "�")
	if total := utf8.RuneCountInString(cleaned); total > 0 && invalid*2 > total {
		return "", fmt.Errorf("content is mostly invalid UTF-8 (%d of %d runes)", invalid, total)
	}
	return cleaned, nil
}
