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
	"sort"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/utils"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

// fallback builds the degraded record used when extraction is disabled
// or no provider produced usable metadata. Topics come from filename
// tokens and frequent words matched against the vocabulary without
// recording suggestions; the summary is the leading text.
func (e *Enricher) fallback(in Input) *document.EnrichedMetadata {
	return &document.EnrichedMetadata{
		Topics:            e.heuristicTopics(in),
		Summary:           fallbackSummary(in.Text),
		EnrichmentVersion: document.EnrichmentVersionFallback,
	}
}

// heuristicTopics snaps filename and frequent-word candidates onto the
// topic tree. Candidates that match nothing are discarded rather than
// suggested; heuristic noise never reaches the promotion counters.
func (e *Enricher) heuristicTopics(in Input) []string {
	candidates := append(filenameTokens(in.Filename), frequentWords(in.Text, 12)...)
	seen := make(map[string]bool)
	var out []string
	for _, c := range candidates {
		path, score := e.vocab.Match(vocabulary.KindTopics, c)
		if score <= vocabulary.ClassifyThreshold || seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
		if len(out) >= e.cfg.MaxTopics {
			break
		}
	}
	return out
}

// filenameTokens splits the cleaned filename into candidate tag tokens.
func filenameTokens(filename string) []string {
	title := filenameTitle(filename)
	if title == "" {
		return nil
	}
	return strings.Fields(strings.ToLower(title))
}

// frequentWords returns the most repeated meaningful words in the text:
// at least four letters, not a stopword, ranked by count with
// alphabetical tie-break.
func frequentWords(text string, n int) []string {
	counts := make(map[string]int)
	for _, tok := range utils.Tokenize(clipRunes(text, 20000)) {
		if len(tok) < 4 || stopwords[tok] {
			continue
		}
		counts[tok]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > n {
		words = words[:n]
	}
	return words
}

// fallbackSummary takes the leading sentences of the text, up to three
// sentences or roughly 300 characters.
func fallbackSummary(text string) string {
	head := clipRunes(text, 2000)
	var b strings.Builder
	for i, s := range utils.SplitSentences(head) {
		if i == 3 || (b.Len() > 0 && b.Len()+len(s)+1 > 300) {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	if b.Len() == 0 {
		return clipSummary(head, 300)
	}
	return clipSummary(b.String(), 300)
}

// stopwords are common English and German words excluded from keyword
// candidates. Three-letter function words are already filtered by the
// length rule.
var stopwords = map[string]bool{
	"this": true, "that": true, "with": true, "from": true, "have": true,
	"been": true, "were": true, "they": true, "their": true, "there": true,
	"which": true, "would": true, "could": true, "should": true, "about": true,
	"after": true, "before": true, "also": true, "more": true, "most": true,
	"some": true, "such": true, "than": true, "then": true, "them": true,
	"these": true, "those": true, "when": true, "where": true, "will": true,
	"your": true, "what": true, "into": true, "over": true, "only": true,
	"just": true, "very": true, "here": true, "does": true, "each": true,
	"eine": true, "einem": true, "einen": true, "einer": true, "eines": true,
	"auch": true, "aber": true, "oder": true, "sind": true, "sich": true,
	"dass": true, "nach": true, "beim": true, "diese": true, "dieser": true,
	"dieses": true, "haben": true, "hatte": true, "wird": true, "wurde": true,
	"werden": true, "nicht": true, "noch": true, "sehr": true, "mehr": true,
	"kann": true, "beziehungsweise": true, "sowie": true, "durch": true,
}
