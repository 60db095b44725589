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

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Completer is the dispatcher surface expansion uses.
type Completer interface {
	Complete(ctx context.Context, req llms.CompletionRequest) (*llms.Result, error)
}

// Expander drafts hypothetical documents for queries that retrieve
// poorly. The draft's embedding sits closer to relevant documents than
// the question's, so a second pass over the drafts recovers recall.
type Expander struct {
	completer Completer
	cfg       config.HydeConfig
	logger    *slog.Logger
}

// NewExpander builds an Expander over the dispatcher.
func NewExpander(completer Completer, cfg config.HydeConfig) *Expander {
	cfg.SetDefaults()
	return &Expander{
		completer: completer,
		cfg:       cfg,
		logger:    slog.Default().With("component", "hyde"),
	}
}

// ShouldExpand reports whether first-pass results are weak enough to
// warrant expansion: too few results, or a top score under the floor.
func (e *Expander) ShouldExpand(results []Candidate) bool {
	if !e.cfg.Enabled {
		return false
	}
	if len(results) < e.cfg.MinResults {
		return true
	}
	return results[0].Score < *e.cfg.MinScore
}

// Expand returns the original query followed by up to the configured
// number of hypothetical document drafts. Any draft failure is dropped;
// total failure leaves the original query alone.
func (e *Expander) Expand(ctx context.Context, query string) []string {
	queries := []string{query}
	if e.completer == nil {
		return queries
	}

	drafts := make([]string, e.cfg.Variants)
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Variants; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			draft, err := e.draft(ctx, query)
			if err != nil {
				e.logger.Warn("Hypothetical document generation failed", "error", err)
				return
			}
			drafts[slot] = draft
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{strings.ToLower(query): true}
	for _, draft := range drafts {
		if draft == "" || seen[strings.ToLower(draft)] {
			continue
		}
		seen[strings.ToLower(draft)] = true
		queries = append(queries, draft)
	}
	return queries
}

// draft generates one hypothetical document for the query.
func (e *Expander) draft(ctx context.Context, query string) (string, error) {
	sanitized := utils.SanitizePromptInput(query)
	prompt := fmt.Sprintf(`Write a concise, %s hypothetical document that would be highly relevant to answer the following query: "%s"

The document should:
- Be brief (1-2 paragraphs)
- Directly address the core of the query
- Sound like a real document excerpt
- Not mention that it's hypothetical

Document:`, e.cfg.Style, sanitized)

	result, err := e.completer.Complete(ctx, llms.CompletionRequest{
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: config.Float64Ptr(0.7),
		ModelHint:   e.cfg.LLM,
		Op:          "hyde",
	})
	if err != nil {
		return "", err
	}
	draft := strings.TrimSpace(result.Text)
	if draft == "" {
		return "", fmt.Errorf("model returned an empty draft")
	}
	e.logger.Debug("Generated hypothetical document",
		"query", query, "draft_length", len(draft))
	return draft, nil
}

// SearchFunc runs one retrieval pass for one query text.
type SearchFunc func(ctx context.Context, query string) ([]Candidate, error)

// MultiQuerySearch runs every query in parallel and merges the result
// sets: deduplicated by chunk ID keeping the best score, re-sorted
// best first. One failed query fails the whole search; partial recall
// would silently skew fusion.
func MultiQuerySearch(ctx context.Context, queries []string, search SearchFunc) ([]Candidate, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	resultSets := make([][]Candidate, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			results, err := search(gctx, q)
			if err != nil {
				return err
			}
			resultSets[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return CombineResults(resultSets), nil
}

// CombineResults merges result sets by chunk ID, keeping the highest
// score for each, sorted best first.
func CombineResults(resultSets [][]Candidate) []Candidate {
	best := make(map[string]Candidate)
	for _, results := range resultSets {
		for _, c := range results {
			if existing, ok := best[c.ChunkID]; !ok || c.Score > existing.Score {
				best[c.ChunkID] = c
			}
		}
	}

	combined := make([]Candidate, 0, len(best))
	for _, c := range best {
		combined = append(combined, c)
	}
	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].Score != combined[j].Score {
			return combined[i].Score > combined[j].Score
		}
		return combined[i].ChunkID < combined[j].ChunkID
	})
	return combined
}
