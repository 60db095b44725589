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

// Package synthesis turns reranked context into a cited answer. The
// prompt numbers each context block and instructs the model to answer
// only from the provided sources, citing them by number; the citations
// are parsed back into chunk IDs.
package synthesis

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Completer is the dispatcher surface the synthesizer uses.
type Completer interface {
	Complete(ctx context.Context, req llms.CompletionRequest) (*llms.Result, error)
}

// Answer is a grounded response with the chunks it cited.
type Answer struct {
	Text      string   `json:"text"`
	Citations []string `json:"citations"`
	Model     string   `json:"model"`
	USD       float64  `json:"usd"`
	LatencyMS int64    `json:"latency_ms"`
}

// Synthesizer builds answer prompts and parses citations.
type Synthesizer struct {
	completer Completer
	cfg       config.SynthesisConfig
}

// New builds a synthesizer over the dispatcher.
func New(completer Completer, cfg config.SynthesisConfig) *Synthesizer {
	cfg.SetDefaults()
	return &Synthesizer{completer: completer, cfg: cfg}
}

// Synthesize answers the question from the reranked context. Context
// beyond the configured chunk limit is dropped; the surviving order is
// the rerank order, so the best evidence numbers lowest.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, ranked []rerank.Ranked) (*Answer, error) {
	if len(ranked) == 0 {
		return nil, fmt.Errorf("no context to synthesize from")
	}
	if len(ranked) > s.cfg.MaxContextChunks {
		ranked = ranked[:s.cfg.MaxContextChunks]
	}

	start := time.Now()
	result, err := s.completer.Complete(ctx, llms.CompletionRequest{
		Prompt:      s.buildPrompt(question, ranked),
		MaxTokens:   s.cfg.MaxAnswerTokens,
		Temperature: config.Float64Ptr(0.2),
		ModelHint:   s.cfg.LLM,
		Op:          "synthesis",
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	text := strings.TrimSpace(result.Text)
	return &Answer{
		Text:      text,
		Citations: parseCitations(text, ranked),
		Model:     result.Model,
		USD:       result.USD,
		LatencyMS: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Synthesizer) buildPrompt(question string, ranked []rerank.Ranked) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Answer the question using only the sources below.\n\nQuestion: %s\n\nSources:\n",
		utils.SanitizePromptInput(question))

	for i, r := range ranked {
		title := r.Title
		position := 0
		if r.Meta != nil {
			if title == "" {
				title = r.Meta.Title
			}
			position = r.Meta.Position
		}
		if title == "" {
			title = "untitled"
		}
		fmt.Fprintf(&sb, "\n[source %d: %s, chunk %d]\n%s\n",
			i+1, title, position, utils.SanitizePromptInput(r.Text))
	}

	sb.WriteString(`
Rules:
- Answer only from the sources above. If they don't contain the answer, say so.
- Cite sources by number in square brackets, e.g. [1] or [2][3].
- Do not invent facts, names, or numbers that are not in the sources.`)
	return sb.String()
}

var citationRe = regexp.MustCompile(`\[(\d+)\]`)

// parseCitations maps [N] references in the answer back to chunk IDs.
// Out-of-range references are dropped; order follows first mention.
func parseCitations(text string, ranked []rerank.Ranked) []string {
	var citations []string
	seen := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > len(ranked) || seen[n] {
			continue
		}
		seen[n] = true
		citations = append(citations, ranked[n-1].ChunkID)
	}
	return citations
}
