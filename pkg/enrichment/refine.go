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
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/utils"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

const (
	// personMatchThreshold is the minimum fuzzy similarity for snapping
	// an extracted name onto a known person.
	personMatchThreshold = 0.85

	// maxFuzzyTokens caps the sliding-window attestation scan. The
	// exact substring check still covers the whole text.
	maxFuzzyTokens = 8000

	// Summary length window. A first pass outside it gets exactly one
	// constrained regeneration.
	summaryMinChars = 80
	summaryMaxChars = 600
)

// refine turns a decoded extraction into trusted metadata: controlled
// trees snap or become suggestions, entities must be attested in the
// text, people go through the cross-document registry, and dates and
// numbers are checked for shape and evidence.
func (e *Enricher) refine(ctx context.Context, in Input, ex *extraction) *document.EnrichedMetadata {
	meta := &document.EnrichedMetadata{EnrichmentVersion: document.EnrichmentVersionV1}

	topics, suggested := e.vocab.Classify(ex.Topics, vocabulary.KindTopics)
	meta.Topics = capList(topics, e.cfg.MaxTopics)
	projects, projectTags := e.vocab.Classify(ex.Projects, vocabulary.KindProjects)
	meta.Projects = projects
	places, placeTags := e.vocab.Classify(ex.Places, vocabulary.KindPlaces)
	meta.Places = places
	meta.SuggestedTags = dedupeStrings(append(append(suggested, projectTags...), placeTags...))

	minScore := config.Float64Value(e.cfg.MinAttestation, 0.85)
	lower := strings.ToLower(in.Text)
	tokens := fuzzyTokens(in.Text)

	var dropped []string
	keepAttested := func(values []string) []string {
		var kept []string
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if attested(lower, tokens, v, minScore) {
				kept = append(kept, v)
			} else {
				dropped = append(dropped, v)
			}
		}
		return kept
	}

	meta.Organizations = keepAttested(ex.Organizations)
	meta.Technologies = keepAttested(ex.Technologies)
	meta.People = capList(e.canonicalizePeople(ctx, keepAttested(ex.People)), e.cfg.MaxPeople)

	meta.Entities.Dates = isoDates(ex.Dates)
	meta.Entities.Numbers = evidencedNumbers(lower, ex.Numbers)
	meta.Summary = strings.TrimSpace(ex.Summary)

	if len(dropped) > 0 {
		e.logger.Debug("Dropped unattested entities", "doc_id", in.DocID, "entities", dropped)
	}
	return meta
}

// attested reports whether value occurs in the document text, first by
// case-insensitive substring, then by a fuzzy scan of windows with the
// value's word length.
func attested(lowerText string, tokens []string, value string, minScore float64) bool {
	if strings.Contains(lowerText, strings.ToLower(value)) {
		return true
	}
	k := len(strings.Fields(value))
	if k == 0 || k > 8 {
		return false
	}
	for i := 0; i+k <= len(tokens); i++ {
		if utils.Similarity(value, strings.Join(tokens[i:i+k], " ")) >= minScore {
			return true
		}
	}
	return false
}

// fuzzyTokens splits the attestation scan source into words, capped at
// the head of the document.
func fuzzyTokens(text string) []string {
	fields := strings.Fields(text)
	if len(fields) > maxFuzzyTokens {
		fields = fields[:maxFuzzyTokens]
	}
	return fields
}

// canonicalizePeople maps attested names onto the running people
// registry: a fuzzy hit adopts the canonical form and accumulates the
// raw name as an alias, a miss registers a new person. The people
// vocabulary seeds matching for names not yet in the registry.
// Registry errors degrade to the raw names.
func (e *Enricher) canonicalizePeople(ctx context.Context, names []string) []string {
	if len(names) == 0 {
		return nil
	}
	known, err := e.registry.People(ctx)
	if err != nil {
		e.logger.Warn("People registry unavailable, keeping raw names", "error", err)
		return names
	}
	seeds := e.vocab.AllPaths(vocabulary.KindPeople)

	var out []string
	seen := make(map[string]bool)
	for _, name := range names {
		canonical := matchPerson(name, known, seeds)
		if canonical == "" {
			canonical = name
		}
		if _, err := e.registry.UpsertPerson(ctx, canonical, name); err != nil {
			e.logger.Warn("Failed to record person mention", "person", canonical, "error", err)
		}
		if !seen[canonical] {
			seen[canonical] = true
			out = append(out, canonical)
		}
	}
	return out
}

// matchPerson finds the best canonical name for an extracted one across
// registry entries (canonical names and aliases) and vocabulary seeds.
// Below the threshold it returns empty.
func matchPerson(name string, known []corpus.Person, seeds []string) string {
	best := ""
	bestScore := 0.0
	consider := func(candidate, canonical string) {
		if s := utils.Similarity(name, candidate); s > bestScore {
			bestScore = s
			best = canonical
		}
	}
	for _, p := range known {
		consider(p.CanonicalName, p.CanonicalName)
		for _, alias := range p.Aliases {
			consider(alias, p.CanonicalName)
		}
	}
	for _, seed := range seeds {
		leaf := seed
		if i := strings.LastIndex(seed, "/"); i >= 0 {
			leaf = seed[i+1:]
		}
		consider(leaf, leaf)
	}
	if bestScore >= personMatchThreshold {
		return best
	}
	return ""
}

var yearMonth = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// isoDates keeps well-formed ISO dates (YYYY-MM-DD or YYYY-MM),
// deduplicated and sorted. Anything else is dropped.
func isoDates(dates []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		if _, err := time.Parse("2006-01-02", d); err != nil && !yearMonth.MatchString(d) {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

var digitRun = regexp.MustCompile(`\d+`)

// evidencedNumbers keeps a number when it appears literally in the text
// or when its longest digit run (two or more digits) appears in the
// document's digit material, so formatting differences between the
// model's rendering and the source do not drop honest values.
func evidencedNumbers(lowerText string, numbers []string) []string {
	textDigits := strings.Join(digitRun.FindAllString(lowerText, -1), "")
	seen := make(map[string]bool)
	var out []string
	for _, n := range numbers {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		if !strings.Contains(lowerText, strings.ToLower(n)) {
			longest := ""
			for _, run := range digitRun.FindAllString(n, -1) {
				if len(run) > len(longest) {
					longest = run
				}
			}
			if len(longest) < 2 || !strings.Contains(textDigits, longest) {
				continue
			}
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// ensureSummaryWindow regenerates the summary once when the first pass
// falls outside the target window, returning the extra cost. A summary
// still over the ceiling is clipped.
func (e *Enricher) ensureSummaryWindow(ctx context.Context, in Input, meta *document.EnrichedMetadata) float64 {
	n := utf8.RuneCountInString(meta.Summary)
	if n >= summaryMinChars && n <= summaryMaxChars {
		return 0
	}

	req := llms.CompletionRequest{
		System:      summarySystem,
		Prompt:      "Summarize this document.\n\nDocument:\n" + clipRunes(in.Text, promptTextChars),
		MaxTokens:   400,
		Temperature: config.Float64Ptr(0.2),
		Op:          "enrich",
		DocID:       in.DocID,
	}
	res, err := e.completer.Complete(ctx, req)
	if err != nil {
		e.logger.Warn("Summary regeneration failed, keeping first pass",
			"doc_id", in.DocID, "chars", n, "error", err)
		meta.Summary = clipSummary(meta.Summary, summaryMaxChars)
		return 0
	}
	if s := strings.TrimSpace(res.Text); s != "" {
		meta.Summary = s
	}
	meta.Summary = clipSummary(meta.Summary, summaryMaxChars)
	return res.USD
}

// clipSummary hard-cuts a summary to n runes with a trailing ellipsis.
func clipSummary(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n-3])) + "..."
}

func capList(values []string, max int) []string {
	if max > 0 && len(values) > max {
		return values[:max]
	}
	return values
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
