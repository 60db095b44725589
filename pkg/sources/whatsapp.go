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
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/document"
)

var (
	// waLine matches the Android export format "15.03.24, 09:12 - Anna:
	// message".
	waLine = regexp.MustCompile(`^(\d{2})\.(\d{2})\.(\d{2}), (\d{2}):(\d{2}) - ([^:]+): (.*)$`)

	// waDated matches any dated export line. Lines that are dated but
	// carry no sender are system notices.
	waDated = regexp.MustCompile(`^\d{2}\.\d{2}\.\d{2}, \d{2}:\d{2} - `)
)

// WhatsAppSource parses WhatsApp chat exports. Timestamps are rewritten
// to ISO 8601 so date-based retrieval works on the text, multi-line
// messages are kept together, and encryption notices and other system
// lines are dropped.
type WhatsAppSource struct{}

// NewWhatsAppSource returns the WhatsApp export source.
func NewWhatsAppSource() *WhatsAppSource { return &WhatsAppSource{} }

// Name implements Source.
func (s *WhatsAppSource) Name() string { return "whatsapp" }

// Detect implements Source.
func (s *WhatsAppSource) Detect(_ string, data []byte, hint string) (string, bool) {
	if !plainTextHint(hint) {
		return "", false
	}
	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		if waLine.MatchString(line) {
			count++
		}
		if count >= 2 {
			return string(document.SourceChat), true
		}
	}
	return "", false
}

// Extract implements Source.
func (s *WhatsAppSource) Extract(_ context.Context, data []byte, _ string) (*ExtractResult, error) {
	text, err := cleanUTF8(data)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	participants := map[string]bool{}
	var first, last string
	messages := 0
	open := false
	for _, line := range strings.Split(text, "\n") {
		m := waLine.FindStringSubmatch(line)
		if m == nil {
			if waDated.MatchString(line) {
				// System notice, no sender.
				open = false
				continue
			}
			if open && strings.TrimSpace(line) != "" {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			continue
		}
		ts := fmt.Sprintf("20%s-%s-%sT%s:%s", m[3], m[2], m[1], m[4], m[5])
		sender := strings.TrimSpace(m[6])
		fmt.Fprintf(&sb, "[%s] %s: %s\n", ts, sender, m[7])
		participants[sender] = true
		if first == "" {
			first = ts
		}
		last = ts
		messages++
		open = true
	}

	names := make([]string, 0, len(participants))
	for name := range participants {
		names = append(names, name)
	}
	sort.Strings(names)

	meta := map[string]string{
		"messages":     strconv.Itoa(messages),
		"participants": strings.Join(names, ", "),
	}
	if first != "" {
		meta["first_message"] = first
		meta["last_message"] = last
	}

	return &ExtractResult{
		Text:       sb.String(),
		SourceMeta: meta,
	}, nil
}
