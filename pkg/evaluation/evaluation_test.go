package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
)

func rankedDocs(ids ...string) []rerank.Ranked {
	out := make([]rerank.Ranked, len(ids))
	for i, id := range ids {
		out[i] = rerank.Ranked{
			Candidate:   retrieval.Candidate{ChunkID: id + "#0000", DocID: id},
			RerankScore: 1 - float64(i)*0.1,
		}
	}
	return out
}

func TestRun_ComputesHitRateAndMRR(t *testing.T) {
	queries := []document.GoldQuery{
		{QueryText: "first", ExpectedDocIDs: []string{"doc-a"}},
		{QueryText: "second", ExpectedDocIDs: []string{"doc-b"}},
		{QueryText: "third", ExpectedDocIDs: []string{"doc-z"}},
	}
	answers := map[string][]rerank.Ranked{
		"first":  rankedDocs("doc-a", "doc-c"),
		"second": rankedDocs("doc-c", "doc-b"),
		"third":  rankedDocs("doc-c", "doc-d"),
	}

	report, err := Run(context.Background(), queries, 5, func(_ context.Context, query string, _ int) ([]rerank.Ranked, error) {
		return answers[query], nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got, want := report.HitRate, 2.0/3.0; got != want {
		t.Errorf("hit rate = %v, want %v", got, want)
	}
	// Ranks 1 and 2 hit: (1/1 + 1/2) / 3.
	if got, want := report.MRR, 0.5; got != want {
		t.Errorf("MRR = %v, want %v", got, want)
	}
	if !report.Results[0].Hit || report.Results[0].Rank != 1 {
		t.Errorf("unexpected first result: %+v", report.Results[0])
	}
	if report.Results[2].Hit {
		t.Error("third query must be a miss")
	}
}

func TestRun_CutoffExcludesDeepHits(t *testing.T) {
	queries := []document.GoldQuery{
		{QueryText: "q", ExpectedDocIDs: []string{"doc-c"}},
	}
	report, err := Run(context.Background(), queries, 2, func(_ context.Context, _ string, _ int) ([]rerank.Ranked, error) {
		return rankedDocs("doc-a", "doc-b", "doc-c"), nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.HitRate != 0 {
		t.Errorf("hit beyond the cutoff must not count, got %v", report.HitRate)
	}
}

func TestRun_DeduplicatesChunksPerDocument(t *testing.T) {
	queries := []document.GoldQuery{
		{QueryText: "q", ExpectedDocIDs: []string{"doc-b"}},
	}
	// Three chunks of doc-a ahead of doc-b: doc rank must be 2, not 4.
	hits := []rerank.Ranked{
		{Candidate: retrieval.Candidate{ChunkID: "doc-a#0000", DocID: "doc-a"}},
		{Candidate: retrieval.Candidate{ChunkID: "doc-a#0001", DocID: "doc-a"}},
		{Candidate: retrieval.Candidate{ChunkID: "doc-a#0002", DocID: "doc-a"}},
		{Candidate: retrieval.Candidate{ChunkID: "doc-b#0000", DocID: "doc-b"}},
	}
	report, err := Run(context.Background(), queries, 5, func(_ context.Context, _ string, _ int) ([]rerank.Ranked, error) {
		return hits, nil
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.Results[0].Rank != 2 {
		t.Errorf("rank = %d, want 2", report.Results[0].Rank)
	}
}

func TestLoadGoldQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gold.yaml")
	data := `- query_text: kubernetes upgrade window
  expected_doc_ids: [doc-1]
  notes: planning note
- query_text: etcd snapshot
  expected_doc_ids: [doc-1, doc-2]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	queries, err := LoadGoldQueries(path)
	if err != nil {
		t.Fatalf("LoadGoldQueries() error: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("expected 2 queries, got %d", len(queries))
	}
	if queries[0].QueryText != "kubernetes upgrade window" || queries[0].Notes != "planning note" {
		t.Errorf("unexpected first query: %+v", queries[0])
	}
	if len(queries[1].ExpectedDocIDs) != 2 {
		t.Errorf("unexpected expected docs: %v", queries[1].ExpectedDocIDs)
	}
}
