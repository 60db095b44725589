package rerank

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
)

type fakeCompleter struct {
	reply string
	err   error
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, _ llms.CompletionRequest) (*llms.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llms.Result{Text: f.reply, Model: "fake", Calls: 1}, nil
}

func candidates(n int) []retrieval.Candidate {
	out := make([]retrieval.Candidate, n)
	for i := range out {
		out[i] = retrieval.Candidate{
			ChunkID: fmt.Sprintf("doc#%04d", i),
			Text:    fmt.Sprintf("candidate text %d", i),
			Score:   1.0 - float64(i)*0.01,
		}
	}
	return out
}

func llmReranker(completer Completer) *Reranker {
	return New(config.RerankConfig{
		Enabled:  true,
		Provider: config.RerankProviderLLM,
		LLM:      "fast",
	}, completer)
}

func TestReranker_OrdersByModelJudgment(t *testing.T) {
	completer := &fakeCompleter{
		reply: `[{"index": 2, "relevance": 9}, {"index": 0, "relevance": 5}, {"index": 1, "relevance": 2}]`,
	}
	r := llmReranker(completer)

	ranked, err := r.Rerank(context.Background(), "query", candidates(3), 3, false)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ranked))
	}
	if ranked[0].ChunkID != "doc#0002" {
		t.Errorf("expected the most relevant chunk first, got %s", ranked[0].ChunkID)
	}
	if ranked[0].RerankScore != 0.9 {
		t.Errorf("expected rerank score 0.9, got %f", ranked[0].RerankScore)
	}
	if ranked[0].Score == 0 {
		t.Error("fused score must survive reranking")
	}
}

func TestReranker_CacheServesRepeatCall(t *testing.T) {
	completer := &fakeCompleter{
		reply: `[{"index": 1, "relevance": 8}, {"index": 0, "relevance": 3}]`,
	}
	r := llmReranker(completer)
	cands := candidates(2)

	first, err := r.Rerank(context.Background(), "query", cands, 2, true)
	if err != nil {
		t.Fatalf("first Rerank() error: %v", err)
	}
	second, err := r.Rerank(context.Background(), "query", cands, 2, true)
	if err != nil {
		t.Fatalf("second Rerank() error: %v", err)
	}

	if completer.calls != 1 {
		t.Errorf("expected one model call, got %d", completer.calls)
	}
	if len(first) != len(second) {
		t.Fatalf("cached result length differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ChunkID != second[i].ChunkID || first[i].RerankScore != second[i].RerankScore {
			t.Errorf("cached result differs at %d: %+v vs %+v", i, first[i], second[i])
		}
	}

	hits, misses, _ := r.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit / 1 miss, got %d / %d", hits, misses)
	}
}

func TestReranker_DisabledKeepsFusedOrder(t *testing.T) {
	r := New(config.RerankConfig{}, nil)

	ranked, err := r.Rerank(context.Background(), "query", candidates(3), 2, false)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected 2 results, got %d", len(ranked))
	}
	if ranked[0].ChunkID != "doc#0000" || ranked[1].ChunkID != "doc#0001" {
		t.Error("disabled reranker must keep the fused order")
	}
	if ranked[0].RerankScore != 1.0 || ranked[1].RerankScore != 0.95 {
		t.Errorf("expected position scores 1.0/0.95, got %f/%f",
			ranked[0].RerankScore, ranked[1].RerankScore)
	}
}

func TestReranker_DegradesOnScorerFailure(t *testing.T) {
	completer := &fakeCompleter{err: fmt.Errorf("model offline")}
	r := llmReranker(completer)

	ranked, err := r.Rerank(context.Background(), "query", candidates(3), 3, false)
	if err != nil {
		t.Fatalf("degradation must not surface an error, got %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected 3 results, got %d", len(ranked))
	}
	if ranked[0].ChunkID != "doc#0000" {
		t.Error("degraded rerank must keep the fused order")
	}
}

func TestReranker_EmptyInput(t *testing.T) {
	r := llmReranker(&fakeCompleter{})
	ranked, err := r.Rerank(context.Background(), "query", nil, 5, true)
	if err != nil {
		t.Fatalf("Rerank() error: %v", err)
	}
	if ranked != nil {
		t.Errorf("expected nil for empty input, got %v", ranked)
	}
}

func TestReranker_MultistageCutsToStage2K(t *testing.T) {
	completer := &fakeCompleter{
		reply: `[{"index": 4, "relevance": 10}, {"index": 2, "relevance": 8}, {"index": 0, "relevance": 6}]`,
	}
	r := New(config.RerankConfig{
		Enabled:  true,
		Provider: config.RerankProviderLLM,
		Stage1K:  50,
		Stage2K:  2,
	}, completer)

	ranked, err := r.RerankMultistage(context.Background(), "query", candidates(5), false)
	if err != nil {
		t.Fatalf("RerankMultistage() error: %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected stage2_k results, got %d", len(ranked))
	}
	if ranked[0].ChunkID != "doc#0004" {
		t.Errorf("expected the top judged chunk first, got %s", ranked[0].ChunkID)
	}
	// Input below stage1_k runs the precise stage only.
	if completer.calls != 1 {
		t.Errorf("expected a single precise pass, got %d calls", completer.calls)
	}
}

func TestReranker_BatchValidatesAlignment(t *testing.T) {
	r := llmReranker(&fakeCompleter{reply: `[{"index": 0, "relevance": 5}]`})

	if _, err := r.RerankBatch(context.Background(), []string{"a", "b"}, [][]retrieval.Candidate{candidates(1)}, 1); err == nil {
		t.Fatal("expected error for misaligned batch")
	}

	out, err := r.RerankBatch(context.Background(),
		[]string{"a", "b"},
		[][]retrieval.Candidate{candidates(1), candidates(1)}, 1)
	if err != nil {
		t.Fatalf("RerankBatch() error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 result lists, got %d", len(out))
	}
}

func TestTEIScorer_Score(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"index": 1, "score": 0.92}, {"index": 0, "score": 0.15}]`)
	}))
	defer server.Close()

	scorer := NewTEIScorer(server.URL, 5*time.Second)
	scores, err := scorer.Score(context.Background(), "query", []string{"first", "second"})
	if err != nil {
		t.Fatalf("Score() error: %v", err)
	}
	if scores[0] != 0.15 || scores[1] != 0.92 {
		t.Errorf("expected aligned scores [0.15 0.92], got %v", scores)
	}
}

func TestTEIScorer_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusConflict)
	}))
	defer server.Close()

	scorer := NewTEIScorer(server.URL, 5*time.Second)
	if _, err := scorer.Score(context.Background(), "query", []string{"text"}); err == nil {
		t.Fatal("expected error from failing server")
	}
}

func TestParseRankings_FillsMissingIndices(t *testing.T) {
	rankings, err := parseRankings(`noise before [{"index": 1, "relevance": 9}] noise after`, 3)
	if err != nil {
		t.Fatalf("parseRankings() error: %v", err)
	}
	if len(rankings) != 3 {
		t.Fatalf("expected every index covered, got %d", len(rankings))
	}
	seen := map[int]int{}
	for _, r := range rankings {
		seen[r.Index] = r.Relevance
	}
	if seen[1] != 9 || seen[0] != 1 || seen[2] != 1 {
		t.Errorf("unexpected rankings: %v", rankings)
	}
}

func TestParseRankings_RejectsMalformedReply(t *testing.T) {
	if _, err := parseRankings("I cannot rank these documents.", 2); err == nil {
		t.Fatal("expected error for reply without a JSON array")
	}
}
