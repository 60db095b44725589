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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// turnMarker matches the speaker lines various chat exports use, with
// or without Markdown emphasis around the role.
var turnMarker = regexp.MustCompile(`(?i)^\s*(?:\*\*|__)?(user|assistant|human|ai|system|me|you)(?:\*\*|__)?\s*[:：]\s*(.*)$`)

// canonicalSpeaker folds export-specific role names onto two sides of
// the conversation.
var canonicalSpeaker = map[string]string{
	"user":      "User",
	"human":     "User",
	"me":        "User",
	"assistant": "Assistant",
	"ai":        "Assistant",
	"you":       "Assistant",
	"system":    "System",
}

// ChatSource normalizes assistant-conversation exports. Turn markers
// like "**User**:" or "Human:" are rewritten to a canonical
// "Speaker: text" form with a blank line between turns, so the chunker
// can split on turn boundaries.
type ChatSource struct{}

// NewChatSource returns the chat transcript source.
func NewChatSource() *ChatSource { return &ChatSource{} }

// Name implements Source.
func (s *ChatSource) Name() string { return "chat" }

// Detect accepts plain-text files containing at least two recognizable
// turn markers. Files with a specific extension stay with their own
// source.
func (s *ChatSource) Detect(_ string, data []byte, hint string) (string, bool) {
	if !plainTextHint(hint) {
		return "", false
	}
	if countTurnMarkers(data) >= 2 {
		return string(document.SourceChat), true
	}
	return "", false
}

// Extract implements Source.
func (s *ChatSource) Extract(_ context.Context, data []byte, _ string) (*ExtractResult, error) {
	text, err := cleanUTF8(data)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	speakers := map[string]bool{}
	turns := 0
	for _, line := range strings.Split(text, "\n") {
		m := turnMarker.FindStringSubmatch(line)
		if m == nil {
			sb.WriteString(line)
			sb.WriteByte('\n')
			continue
		}
		speaker := canonicalSpeaker[strings.ToLower(m[1])]
		if turns > 0 && !strings.HasSuffix(sb.String(), "\n\n") {
			sb.WriteByte('\n')
		}
		sb.WriteString(speaker)
		sb.WriteString(": ")
		sb.WriteString(m[2])
		sb.WriteByte('\n')
		speakers[speaker] = true
		turns++
	}

	names := make([]string, 0, len(speakers))
	for name := range speakers {
		names = append(names, name)
	}
	sort.Strings(names)

	return &ExtractResult{
		Text: sb.String(),
		SourceMeta: map[string]string{
			"turns":    strconv.Itoa(turns),
			"speakers": strings.Join(names, ", "),
		},
	}, nil
}

func countTurnMarkers(data []byte) int {
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if turnMarker.MatchString(line) {
			count++
		}
		if count >= 2 {
			break
		}
	}
	return count
}

// plainTextHint reports whether the hint leaves room for content-based
// detection: no extension, or a generic text one.
func plainTextHint(hint string) bool {
	switch ext(hint) {
	case "", "txt", "log", "chat":
		return true
	}
	return false
}
