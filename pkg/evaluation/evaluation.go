// Package evaluation measures retrieval quality against a labeled
// query set. It reports hit-rate@k and mean reciprocal rank so index
// or model changes can be compared on the same corpus.
package evaluation

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/rerank"
)

// SearchFunc runs one retrieval pass. Usually pipeline.Query.Search
// wrapped to fix the request shape.
type SearchFunc func(ctx context.Context, query string, topK int) ([]rerank.Ranked, error)

// QueryResult is the outcome for one gold query.
type QueryResult struct {
	Query     document.GoldQuery `json:"query"`
	Hit       bool               `json:"hit"`
	Rank      int                `json:"rank,omitempty"`
	Retrieved []string           `json:"retrieved"`
}

// Report aggregates a full evaluation run.
type Report struct {
	K       int           `json:"k"`
	HitRate float64       `json:"hit_rate"`
	MRR     float64       `json:"mrr"`
	Results []QueryResult `json:"results"`
}

// Run evaluates every gold query at cutoff k. A query counts as a hit
// when any expected document appears in the top k; Rank is the 1-based
// position of the first such document.
func Run(ctx context.Context, queries []document.GoldQuery, k int, search SearchFunc) (*Report, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("no gold queries")
	}

	report := &Report{K: k, Results: make([]QueryResult, 0, len(queries))}
	var hits int
	var reciprocal float64

	for _, gq := range queries {
		ranked, err := search(ctx, gq.QueryText, k)
		if err != nil {
			return nil, fmt.Errorf("query %q failed: %w", gq.QueryText, err)
		}
		if len(ranked) > k {
			ranked = ranked[:k]
		}

		result := QueryResult{Query: gq, Retrieved: docIDs(ranked)}
		expected := make(map[string]bool, len(gq.ExpectedDocIDs))
		for _, id := range gq.ExpectedDocIDs {
			expected[id] = true
		}
		for i, id := range result.Retrieved {
			if expected[id] {
				result.Hit = true
				result.Rank = i + 1
				break
			}
		}

		if result.Hit {
			hits++
			reciprocal += 1 / float64(result.Rank)
		}
		report.Results = append(report.Results, result)
	}

	report.HitRate = float64(hits) / float64(len(queries))
	report.MRR = reciprocal / float64(len(queries))
	return report, nil
}

// docIDs deduplicates ranked chunks down to their documents, keeping
// first-seen order so chunk count does not skew ranks.
func docIDs(ranked []rerank.Ranked) []string {
	seen := make(map[string]bool, len(ranked))
	var ids []string
	for _, r := range ranked {
		if !seen[r.DocID] {
			seen[r.DocID] = true
			ids = append(ids, r.DocID)
		}
	}
	return ids
}

// LoadGoldQueries reads a YAML list of gold queries.
func LoadGoldQueries(path string) ([]document.GoldQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var queries []document.GoldQuery
	if err := yaml.Unmarshal(data, &queries); err != nil {
		return nil, fmt.Errorf("failed to parse gold queries: %w", err)
	}
	return queries, nil
}
