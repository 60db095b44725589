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
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

// validate is shared across calls; the validator caches struct
// metadata on first use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// extraction is the reply shape for the structured metadata call. The
// jsonschema tags feed the schema the dispatcher enforces; the validate
// tags run as the post-decode hook, so a reply with a missing title or
// oversized lists is repaired or climbs the ladder before any semantic
// pass sees it. The summary window here is a loose hard bound; the
// 80-600 character target is enforced by regeneration, not rejection.
type extraction struct {
	Title         string   `json:"title" jsonschema:"required,description=Short human-readable document title" validate:"required,max=300"`
	Topics        []string `json:"topics,omitempty" jsonschema:"description=Topic paths chosen only from the allowed topics list" validate:"max=16"`
	Projects      []string `json:"projects,omitempty" jsonschema:"description=Project paths chosen only from the allowed projects list" validate:"max=16"`
	Places        []string `json:"places,omitempty" jsonschema:"description=Place paths chosen only from the allowed places list" validate:"max=16"`
	People        []string `json:"people,omitempty" jsonschema:"description=Full names of people mentioned in the document" validate:"max=32"`
	Organizations []string `json:"organizations,omitempty" jsonschema:"description=Organizations and companies mentioned in the document" validate:"max=32"`
	Technologies  []string `json:"technologies,omitempty" jsonschema:"description=Technologies and products mentioned in the document" validate:"max=32"`
	Dates         []string `json:"dates,omitempty" jsonschema:"description=Dates mentioned in the document in ISO YYYY-MM-DD form" validate:"max=32"`
	Numbers       []string `json:"numbers,omitempty" jsonschema:"description=Money amounts plus percentages and phone or case numbers as written" validate:"max=32"`
	Summary       string   `json:"summary" jsonschema:"required,description=Factual summary of 2 to 4 sentences" validate:"required,max=2000"`
}

// Validate runs the struct tags. The dispatcher calls this after every
// decode, including the repair pass.
func (x *extraction) Validate() error {
	return validate.Struct(x)
}

// extractionSystem sets the extraction contract. The JSON schema itself
// is attached by the dispatcher; providers without a native JSON mode
// get it embedded alongside this instruction.
const extractionSystem = `You are a metadata extractor for a personal document archive. Read one document and return its metadata as a single JSON object.

Rules:
- topics, projects and places must be picked from the allowed lists in the request; never invent paths
- people, organizations and technologies are proper nouns that appear in the document text
- dates use ISO form YYYY-MM-DD; convert German and European forms such as 3.11.2025 or 14. Januar 2025
- numbers capture money amounts, percentages, phone numbers and case numbers as written in the document
- the summary is 2 to 4 factual sentences between 80 and 600 characters
- never report a person or organization that does not appear in the document`

// summarySystem constrains the one-shot summary regeneration.
const summarySystem = `You summarize documents for a personal archive. Reply with the summary text only: 2 to 4 factual sentences, between 80 and 600 characters, no preamble and no quotation marks.`

const (
	// maxInlinePaths caps the vocabulary paths listed per kind in the
	// extraction prompt.
	maxInlinePaths = 150

	// promptTextChars bounds the document text sent to a provider.
	promptTextChars = 24000
)

// classPrefixes maps a coarse source class to the vocabulary subtrees
// kept inline even when frequency truncation trims the list. Prefixes
// absent from the loaded vocabulary contribute nothing.
var classPrefixes = map[document.SourceKind][]string{
	document.SourcePDF:   {"admin", "finance", "legal"},
	document.SourceEmail: {"admin", "finance", "legal"},
	document.SourceImage: {"admin", "finance"},
	document.SourceChat:  {"personal"},
	document.SourceCode:  {"technology"},
}

// buildExtractionPrompt assembles the user message: context header,
// allowed vocabulary lists, then the document text.
func (e *Enricher) buildExtractionPrompt(in Input, counts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document kind: %s\n", in.Kind)
	if in.Filename != "" {
		fmt.Fprintf(&b, "Filename: %s\n", in.Filename)
	}
	for _, kind := range []vocabulary.Kind{vocabulary.KindTopics, vocabulary.KindProjects, vocabulary.KindPlaces} {
		paths := e.inlinePaths(kind, in.Kind, counts)
		if len(paths) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\nAllowed %s:\n", kind)
		for _, p := range paths {
			b.WriteString("- ")
			b.WriteString(p)
			b.WriteByte('\n')
		}
	}
	b.WriteString("\nDocument:\n")
	b.WriteString(clipRunes(in.Text, promptTextChars))
	return b.String()
}

// inlinePaths selects the vocabulary paths listed for one kind. Under
// the cap the whole tree goes in. Over it, every path in the subtrees
// associated with the document's coarse class survives, then registry
// usage counts rank the rest; output order is always sorted.
func (e *Enricher) inlinePaths(kind vocabulary.Kind, class document.SourceKind, counts map[string]int) []string {
	all := e.vocab.AllPaths(kind)
	if len(all) <= maxInlinePaths {
		return all
	}

	keep := make(map[string]bool)
	for _, prefix := range classPrefixes[class] {
		for _, p := range e.vocab.PathsUnder(kind, prefix) {
			keep[p] = true
		}
	}

	ranked := make([]string, len(all))
	copy(ranked, all)
	sort.SliceStable(ranked, func(i, j int) bool {
		return counts[ranked[i]] > counts[ranked[j]]
	})
	for _, p := range ranked {
		if len(keep) >= maxInlinePaths {
			break
		}
		keep[p] = true
	}

	out := make([]string, 0, len(keep))
	for p := range keep {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// clipRunes cuts s to at most n runes, always at a rune boundary.
func clipRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
