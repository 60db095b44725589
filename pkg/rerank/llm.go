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

package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Completer is the dispatcher surface the LLM scorer uses.
type Completer interface {
	Complete(ctx context.Context, req llms.CompletionRequest) (*llms.Result, error)
}

// LLMScorer ranks candidates listwise with a chat model: the prompt
// numbers truncated snippets, the model replies with a JSON array of
// per-index relevance judgments. Coarser than a cross-encoder but
// needs no extra serving infrastructure.
type LLMScorer struct {
	completer Completer
	llmName   string
}

// NewLLMScorer builds a scorer over the dispatcher. llmName may be
// empty to let the ladder decide.
func NewLLMScorer(completer Completer, llmName string) *LLMScorer {
	return &LLMScorer{completer: completer, llmName: llmName}
}

// Name identifies the scorer in logs.
func (s *LLMScorer) Name() string { return "llm" }

// ranking is the model's judgment for one snippet.
type ranking struct {
	Index     int    `json:"index"`
	Relevance int    `json:"relevance"`
	Reason    string `json:"reason,omitempty"`
}

// Score returns one relevance score per text in [0,1], aligned to
// input order. Indices the model omits get a floor score.
func (s *LLMScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	result, err := s.completer.Complete(ctx, llms.CompletionRequest{
		Prompt:      s.buildPrompt(query, texts),
		MaxTokens:   1024,
		Temperature: config.Float64Ptr(0.0),
		ModelHint:   s.llmName,
		Op:          "rerank",
	})
	if err != nil {
		return nil, err
	}

	rankings, err := parseRankings(result.Text, len(texts))
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(texts))
	for _, r := range rankings {
		scores[r.Index] = float64(r.Relevance) / 10
	}
	return scores, nil
}

func (s *LLMScorer) buildPrompt(query string, texts []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, `Given the query: "%s"

Rank the following documents by their relevance to the query.
For each document, provide a relevance score from 1-10 (10 being most relevant).

Documents:
`, utils.SanitizePromptInput(query))

	for i, text := range texts {
		fmt.Fprintf(&sb, "\n[%d] %s\n", i, utils.Truncate(utils.SanitizePromptInput(text), 500))
	}

	sb.WriteString(`

Respond with a JSON array of rankings, ordered from most to least relevant:
[{"index": 0, "relevance": 9, "reason": "directly answers the query"}, ...]

Only include the JSON array, no other text.`)
	return sb.String()
}

// parseRankings extracts the judgment array from the reply. Out-of-range
// and duplicate indices are dropped; missing indices are filled with the
// lowest relevance so every input gets a score.
func parseRankings(reply string, numTexts int) ([]ranking, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no JSON array in rerank reply")
	}

	var rankings []ranking
	if err := json.Unmarshal([]byte(reply[start:end+1]), &rankings); err != nil {
		return nil, fmt.Errorf("failed to parse rankings: %w", err)
	}

	seen := make(map[int]bool, numTexts)
	valid := rankings[:0]
	for _, r := range rankings {
		if r.Index >= 0 && r.Index < numTexts && !seen[r.Index] {
			seen[r.Index] = true
			valid = append(valid, r)
		}
	}
	for i := 0; i < numTexts; i++ {
		if !seen[i] {
			valid = append(valid, ranking{Index: i, Relevance: 1})
		}
	}
	return valid, nil
}
