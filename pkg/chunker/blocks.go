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

package chunker

import (
	"strings"
	"unicode"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockList
	blockCode
	blockTable
)

// block is one structural unit of the source text. Headings carry a
// level (1-6) and a display title stripped of markup.
type block struct {
	kind  blockKind
	level int
	title string
	text  string
}

// parseBlocks splits normalized text into structural blocks: headings
// (ATX, setext-underlined, or all-caps), fenced code, table runs, list
// runs, and paragraphs.
func parseBlocks(text string) []block {
	lines := strings.Split(text, "\n")
	var blocks []block

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			start := i
			i++
			for i < len(lines) && strings.TrimSpace(lines[i]) != "```" {
				i++
			}
			if i < len(lines) {
				i++ // include closing fence
			}
			blocks = append(blocks, block{
				kind: blockCode,
				text: strings.Join(lines[start:i], "\n"),
			})

		case atxLevel(trimmed) > 0:
			level := atxLevel(trimmed)
			blocks = append(blocks, block{
				kind:  blockHeading,
				level: level,
				title: atxTitle(trimmed, level),
				text:  trimmed,
			})
			i++

		case isTableLine(trimmed) && i+1 < len(lines) && isTableLine(strings.TrimSpace(lines[i+1])):
			start := i
			for i < len(lines) && isTableLine(strings.TrimSpace(lines[i])) {
				i++
			}
			blocks = append(blocks, block{
				kind: blockTable,
				text: strings.Join(lines[start:i], "\n"),
			})

		case i+1 < len(lines) && setextLevel(strings.TrimSpace(lines[i+1])) > 0 && !isListItem(trimmed):
			blocks = append(blocks, block{
				kind:  blockHeading,
				level: setextLevel(strings.TrimSpace(lines[i+1])),
				title: trimmed,
				text:  trimmed,
			})
			i += 2

		case isAllCapsHeading(trimmed) && (i+1 >= len(lines) || strings.TrimSpace(lines[i+1]) == ""):
			blocks = append(blocks, block{
				kind:  blockHeading,
				level: 2,
				title: strings.TrimSuffix(trimmed, ":"),
				text:  trimmed,
			})
			i++

		case isListItem(trimmed):
			start := i
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if t == "" {
					break
				}
				// List items plus their indented continuations.
				if !isListItem(t) && !strings.HasPrefix(lines[i], "  ") {
					break
				}
				i++
			}
			blocks = append(blocks, block{
				kind: blockList,
				text: strings.Join(lines[start:i], "\n"),
			})

		default:
			start := i
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if t == "" || startsNewBlock(lines, i) {
					break
				}
				i++
			}
			if i == start {
				// The line belongs to no recognized block; keep it
				// rather than lose text.
				blocks = append(blocks, block{kind: blockParagraph, text: lines[i]})
				i++
				continue
			}
			blocks = append(blocks, block{
				kind: blockParagraph,
				text: strings.Join(lines[start:i], "\n"),
			})
		}
	}
	return blocks
}

// startsNewBlock reports whether line i opens a non-paragraph block, so
// a paragraph accumulation must stop before it.
func startsNewBlock(lines []string, i int) bool {
	t := strings.TrimSpace(lines[i])
	if strings.HasPrefix(t, "```") || atxLevel(t) > 0 || isListItem(t) {
		return true
	}
	if isTableLine(t) && i+1 < len(lines) && isTableLine(strings.TrimSpace(lines[i+1])) {
		return true
	}
	if i+1 < len(lines) && setextLevel(strings.TrimSpace(lines[i+1])) > 0 {
		return true
	}
	return false
}

func atxLevel(line string) int {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0
	}
	if level == len(line) || line[level] != ' ' {
		return 0
	}
	return level
}

func atxTitle(line string, level int) string {
	title := strings.TrimSpace(line[level:])
	return strings.TrimSpace(strings.TrimRight(title, "#"))
}

// setextLevel recognizes a heading underline: === is H1, --- is H2.
// Three characters minimum keeps stray dashes from promoting prose.
func setextLevel(line string) int {
	if len(line) < 3 {
		return 0
	}
	if strings.Count(line, "=") == len(line) {
		return 1
	}
	if strings.Count(line, "-") == len(line) {
		return 2
	}
	return 0
}

func isTableLine(line string) bool {
	if strings.Contains(line, "\t") {
		return true
	}
	return strings.Count(line, "|") >= 2
}

func isListItem(line string) bool {
	if len(line) < 2 {
		return false
	}
	switch line[0] {
	case '-', '*', '+':
		return line[1] == ' '
	}
	// Numbered items: "1. " or "12) ".
	j := 0
	for j < len(line) && line[j] >= '0' && line[j] <= '9' {
		j++
	}
	if j == 0 || j+1 >= len(line) {
		return false
	}
	return (line[j] == '.' || line[j] == ')') && line[j+1] == ' '
}

// isAllCapsHeading recognizes plain-text section headers: short lines of
// upper-case words, as found in memos and OCR output.
func isAllCapsHeading(line string) bool {
	if len(line) < 3 || len(line) > 80 {
		return false
	}
	if strings.Contains(line, "|") || strings.Contains(line, "\t") {
		return false
	}
	hasLetter := false
	for _, r := range line {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsUpper(r) {
			hasLetter = true
		}
	}
	if !hasLetter {
		return false
	}
	return len(strings.Fields(line)) <= 10
}
