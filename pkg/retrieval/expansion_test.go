package retrieval

import (
	"context"
	"fmt"
	"testing"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/llms"
)

type fakeCompleter struct {
	replies []string
	err     error
	calls   int
}

func (f *fakeCompleter) Complete(_ context.Context, _ llms.CompletionRequest) (*llms.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	reply := f.replies[(f.calls-1)%len(f.replies)]
	return &llms.Result{Text: reply, Model: "fake", Calls: 1}, nil
}

func TestExpander_Expand(t *testing.T) {
	completer := &fakeCompleter{replies: []string{
		"A guide to tuning postgres replication.",
		"Replication lag is usually caused by slow replay.",
	}}
	e := NewExpander(completer, config.HydeConfig{Enabled: true, Variants: 2})

	queries := e.Expand(context.Background(), "why is replication slow")
	if len(queries) != 3 {
		t.Fatalf("expected original + 2 drafts, got %d", len(queries))
	}
	if queries[0] != "why is replication slow" {
		t.Errorf("original query must come first, got %q", queries[0])
	}
}

func TestExpander_FailureKeepsOriginalQuery(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("all providers down")}
	e := NewExpander(completer, config.HydeConfig{Enabled: true})

	queries := e.Expand(context.Background(), "what changed last week")
	if len(queries) != 1 || queries[0] != "what changed last week" {
		t.Fatalf("expected the original query alone, got %v", queries)
	}
}

func TestExpander_DropsDuplicateDrafts(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"same draft"}}
	e := NewExpander(completer, config.HydeConfig{Enabled: true, Variants: 3})

	queries := e.Expand(context.Background(), "query")
	if len(queries) != 2 {
		t.Fatalf("expected original + 1 unique draft, got %v", queries)
	}
}

func TestExpander_ShouldExpand(t *testing.T) {
	e := NewExpander(nil, config.HydeConfig{Enabled: true})

	tests := []struct {
		name    string
		results []Candidate
		want    bool
	}{
		{"no results", nil, true},
		{"too few results", []Candidate{{Score: 0.9}}, true},
		{"weak top score", []Candidate{{Score: 0.2}, {Score: 0.1}, {Score: 0.1}}, true},
		{"strong results", []Candidate{{Score: 0.8}, {Score: 0.7}, {Score: 0.6}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.ShouldExpand(tt.results); got != tt.want {
				t.Errorf("ShouldExpand() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpander_DisabledNeverExpands(t *testing.T) {
	e := NewExpander(nil, config.HydeConfig{})
	if e.ShouldExpand(nil) {
		t.Error("disabled expander must not expand")
	}
}

func TestMultiQuerySearch_MergesByBestScore(t *testing.T) {
	search := func(_ context.Context, query string) ([]Candidate, error) {
		switch query {
		case "q1":
			return []Candidate{{ChunkID: "a", Score: 0.9}, {ChunkID: "b", Score: 0.4}}, nil
		default:
			return []Candidate{{ChunkID: "b", Score: 0.7}, {ChunkID: "c", Score: 0.5}}, nil
		}
	}

	results, err := MultiQuerySearch(context.Background(), []string{"q1", "q2"}, search)
	if err != nil {
		t.Fatalf("MultiQuerySearch() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 unique chunks, got %d", len(results))
	}
	if results[0].ChunkID != "a" {
		t.Errorf("expected a first, got %s", results[0].ChunkID)
	}
	for _, c := range results {
		if c.ChunkID == "b" && c.Score != 0.7 {
			t.Errorf("expected best score kept for b, got %f", c.Score)
		}
	}
}

func TestMultiQuerySearch_PropagatesFailure(t *testing.T) {
	search := func(_ context.Context, query string) ([]Candidate, error) {
		if query == "bad" {
			return nil, fmt.Errorf("index offline")
		}
		return []Candidate{{ChunkID: "a", Score: 0.5}}, nil
	}

	if _, err := MultiQuerySearch(context.Background(), []string{"ok", "bad"}, search); err == nil {
		t.Fatal("expected the failed query to fail the search")
	}
}
