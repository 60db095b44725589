package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/mnemo/pkg/chunker"
	"github.com/kadirpekel/mnemo/pkg/confidence"
	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/dedup"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/embedders"
	"github.com/kadirpekel/mnemo/pkg/enrichment"
	"github.com/kadirpekel/mnemo/pkg/keyword"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/notes"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
	"github.com/kadirpekel/mnemo/pkg/scoring"
	"github.com/kadirpekel/mnemo/pkg/sources"
	"github.com/kadirpekel/mnemo/pkg/synthesis"
	"github.com/kadirpekel/mnemo/pkg/vector"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, texts []string, _ embedders.Kind) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 16)
		for _, r := range text {
			v[int(r)%16]++
		}
		out[i] = v
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 16 }
func (fakeEmbedder) Model() string   { return "fake-embedder" }

type stubCompleter struct {
	reply string
}

func (s *stubCompleter) Complete(_ context.Context, _ llms.CompletionRequest) (*llms.Result, error) {
	return &llms.Result{Text: s.reply, Provider: "stub", Model: "stub-1", Calls: 1}, nil
}

func (s *stubCompleter) CompleteStructured(_ context.Context, _ llms.CompletionRequest, _ *llms.Schema, out any) (*llms.Result, error) {
	if err := json.Unmarshal([]byte(s.reply), out); err != nil {
		return nil, document.WrapError(document.KindSchema, "llms.CompleteStructured", err)
	}
	return &llms.Result{Text: s.reply, Provider: "stub", Model: "stub-1", Calls: 1}, nil
}

func newTestPipeline(t *testing.T) (*Pipeline, *corpus.Manager) {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	reg, err := corpus.NewRegistry(db)
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	kw, err := keyword.NewIndex(db)
	if err != nil {
		t.Fatalf("creating keyword index: %v", err)
	}
	store, err := vector.NewChromemStore(config.ChromemConfig{})
	if err != nil {
		t.Fatalf("creating vector store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	manager, err := corpus.NewManager(reg, kw, store)
	if err != nil {
		t.Fatalf("creating manager: %v", err)
	}

	vocabDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(vocabDir, "topics.yaml"), []byte("- technology/kubernetes\n"), 0o644); err != nil {
		t.Fatalf("writing vocabulary: %v", err)
	}
	vocab, err := vocabulary.Load(vocabDir)
	if err != nil {
		t.Fatalf("loading vocabulary: %v", err)
	}

	// Enrichment runs in fallback mode so no model is involved.
	enricher, err := enrichment.New(&stubCompleter{}, vocab, reg, config.EnrichmentConfig{
		Enabled: config.BoolPtr(false),
	})
	if err != nil {
		t.Fatalf("creating enricher: %v", err)
	}
	ch, err := chunker.New(chunker.Config{})
	if err != nil {
		t.Fatalf("creating chunker: %v", err)
	}
	writer, err := notes.NewWriter(filepath.Join(t.TempDir(), "knowledge_notes"))
	if err != nil {
		t.Fatalf("creating notes writer: %v", err)
	}

	p, err := New(Deps{
		Sources:  sources.NewRegistry(),
		Deduper:  dedup.New(reg),
		Enricher: enricher,
		Scorer:   scoring.New(scoring.Config{}, reg, nil),
		Chunker:  ch,
		Embedder: fakeEmbedder{},
		Corpus:   manager,
		Notes:    writer,
	}, config.IngestConfig{})
	if err != nil {
		t.Fatalf("creating pipeline: %v", err)
	}
	return p, manager
}

func newTestQuery(t *testing.T, manager *corpus.Manager, reply string) *Query {
	t.Helper()
	retriever, err := retrieval.New(manager, fakeEmbedder{}, config.RetrievalConfig{})
	if err != nil {
		t.Fatalf("creating retriever: %v", err)
	}
	q, err := NewQuery(QueryDeps{
		Retriever:   retriever,
		Reranker:    rerank.New(config.RerankConfig{}, nil),
		Gate:        confidence.NewGate(config.ConfidenceConfig{}),
		Synthesizer: synthesis.New(&stubCompleter{reply: reply}, config.SynthesisConfig{}),
		Corpus:      manager,
	}, config.RetrievalConfig{})
	if err != nil {
		t.Fatalf("creating query pipeline: %v", err)
	}
	return q
}

const upgradeNote = `# Kubernetes Upgrade Plan

The cluster upgrade to kubernetes is scheduled for the last week of March.
Control plane nodes go first, one at a time, with workloads drained before
each restart. The upgrade window was agreed with the platform team.

## Preparation

- Snapshot etcd before touching the control plane.
- Verify the ingress controller version matrix for kubernetes.
- Announce the maintenance window two days ahead.

## Rollback

If the control plane upgrade fails the etcd snapshot is restored and the
nodes are rolled back to the previous kubernetes release. The rollback was
rehearsed on the staging cluster and takes roughly twenty minutes.
`

func TestPipeline_IngestIndexesDocument(t *testing.T) {
	p, manager := newTestPipeline(t)

	res, err := p.Ingest(context.Background(), []byte(upgradeNote), Hints{Filename: "upgrade.md"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Status != StatusIndexed {
		t.Fatalf("expected indexed, got %s (gate: %s)", res.Status, res.GateReason)
	}
	if res.DocID == "" || res.Chunks == 0 {
		t.Errorf("incomplete result: %+v", res)
	}
	if res.Scores == nil || !res.Scores.DoIndex {
		t.Errorf("expected passing scores, got %+v", res.Scores)
	}

	count, err := manager.Keyword().Count(context.Background())
	if err != nil {
		t.Fatalf("counting chunks: %v", err)
	}
	if count != res.Chunks {
		t.Errorf("indexed %d chunks but keyword index holds %d", res.Chunks, count)
	}
}

func TestPipeline_DuplicateIsIdempotent(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Ingest(ctx, []byte(upgradeNote), Hints{Filename: "upgrade.md"})
	if err != nil {
		t.Fatalf("first Ingest() error: %v", err)
	}
	second, err := p.Ingest(ctx, []byte(upgradeNote), Hints{Filename: "upgrade-copy.md"})
	if err != nil {
		t.Fatalf("second Ingest() error: %v", err)
	}

	if second.Status != StatusDuplicate || !second.Duplicate {
		t.Fatalf("expected duplicate, got %+v", second)
	}
	if second.DocID != first.DocID {
		t.Errorf("duplicate must return the existing doc_id: %s vs %s", second.DocID, first.DocID)
	}
	if second.Chunks != 0 {
		t.Errorf("duplicate must not index chunks, got %d", second.Chunks)
	}
}

func TestPipeline_GatesLowSignalText(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Ingest(context.Background(), []byte("ok thanks"), Hints{Filename: "reply.txt"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Status != StatusGated || !res.Gated {
		t.Fatalf("expected gated, got %+v", res)
	}
	if res.GateReason == "" {
		t.Error("gated result must carry a reason")
	}
}

func TestPipeline_RejectsEmptyInput(t *testing.T) {
	p, _ := newTestPipeline(t)

	res, err := p.Ingest(context.Background(), nil, Hints{})
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	if !document.IsKind(err, document.KindValidation) {
		t.Errorf("expected validation kind, got %v", err)
	}
	if res.Status != StatusFailed || res.FailureKind != document.KindValidation {
		t.Errorf("expected failed result, got %+v", res)
	}
}

func TestPipeline_EmptyTextRecordedWithoutChunks(t *testing.T) {
	p, manager := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, []byte("   \n\n  \n"), Hints{Filename: "blank-scan.txt"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if res.Status != StatusGated || !res.Gated || res.Chunks != 0 {
		t.Fatalf("expected gated zero-chunk result, got %+v", res)
	}
	if res.GateReason == "" {
		t.Error("empty-text result must carry a gate reason")
	}

	rec, err := manager.Registry().GetDocument(ctx, res.DocID)
	if err != nil {
		t.Fatalf("GetDocument() error: %v", err)
	}
	if rec.Canonical {
		t.Error("empty document must not enter the canonical view")
	}
	if rec.Scores.DoIndex {
		t.Error("do_index must be false for empty text")
	}
	if rec.ChunkCount != 0 {
		t.Errorf("chunk count = %d, want 0", rec.ChunkCount)
	}

	stats, err := manager.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.Documents != 1 {
		t.Errorf("documents = %d, want 1", stats.Documents)
	}

	// The same bytes again resolve as an exact duplicate of the record.
	again, err := p.Ingest(ctx, []byte("   \n\n  \n"), Hints{Filename: "blank-scan.txt"})
	if err != nil {
		t.Fatalf("Ingest() error on re-ingest: %v", err)
	}
	if again.Status != StatusDuplicate || again.DocID != res.DocID {
		t.Errorf("expected duplicate of %s, got %+v", res.DocID, again)
	}
}

func TestPipeline_FlagsNearDuplicate(t *testing.T) {
	p, manager := newTestPipeline(t)
	ctx := context.Background()

	first, err := p.Ingest(ctx, []byte(upgradeNote), Hints{Filename: "upgrade.md"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if first.NearDuplicateOf != "" {
		t.Fatalf("first document cannot have a neighbor, got %q", first.NearDuplicateOf)
	}

	// Doubling the note changes the content hash while scaling every
	// SimHash bit vote uniformly, so the signature stays identical.
	doubled := upgradeNote + "\n\n" + upgradeNote
	second, err := p.Ingest(ctx, []byte(doubled), Hints{Filename: "upgrade-copy.md"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if second.Duplicate {
		t.Fatal("near duplicate must not resolve as an exact duplicate")
	}
	if second.NearDuplicateOf != first.DocID {
		t.Errorf("NearDuplicateOf = %q, want %q", second.NearDuplicateOf, first.DocID)
	}

	tags, err := manager.Registry().SuggestedTags(ctx, 50)
	if err != nil {
		t.Fatalf("SuggestedTags() error: %v", err)
	}
	want := "near-duplicate/" + first.DocID
	found := false
	for _, tag := range tags {
		if tag.Tag == want {
			found = true
		}
	}
	if !found {
		t.Errorf("suggested tags %v missing %q", tags, want)
	}
}

func TestQuery_EmptyCorpus(t *testing.T) {
	_, manager := newTestPipeline(t)
	q := newTestQuery(t, manager, "unused")

	if _, err := q.Search(context.Background(), SearchRequest{Query: "anything"}); err != ErrEmptyCorpus {
		t.Fatalf("expected ErrEmptyCorpus, got %v", err)
	}
}

func TestQuery_SearchFindsIngestedDocument(t *testing.T) {
	p, manager := newTestPipeline(t)
	ctx := context.Background()

	res, err := p.Ingest(ctx, []byte(upgradeNote), Hints{Filename: "upgrade.md"})
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	q := newTestQuery(t, manager, "unused")
	ranked, err := q.Search(ctx, SearchRequest{Query: "kubernetes upgrade rollback"})
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(ranked) == 0 {
		t.Fatal("expected results")
	}
	for _, r := range ranked {
		if r.DocID != res.DocID {
			t.Errorf("unexpected doc in results: %s", r.DocID)
		}
	}
}

func TestQuery_ChatRefusesOnEmptyCorpus(t *testing.T) {
	_, manager := newTestPipeline(t)
	q := newTestQuery(t, manager, "unused")

	result, err := q.Chat(context.Background(), SearchRequest{Query: "what is the plan"})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if !result.Refused {
		t.Fatal("expected a refusal on an empty corpus")
	}
	if result.Assessment.Recommendation != confidence.RecommendRefuseNoResults {
		t.Errorf("expected refuse_no_results, got %s", result.Assessment.Recommendation)
	}
	if result.Answer == "" {
		t.Error("refusal must carry a canned response")
	}
}

func TestQuery_ChatAnswersWithCitations(t *testing.T) {
	p, manager := newTestPipeline(t)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, []byte(upgradeNote), Hints{Filename: "upgrade.md"}); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	q := newTestQuery(t, manager, "The kubernetes upgrade happens in March [1].")
	result, err := q.Chat(ctx, SearchRequest{Query: "kubernetes upgrade schedule", TopK: 1})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if result.Refused {
		t.Fatalf("expected an answer, got refusal: %+v", result.Assessment)
	}
	if !strings.Contains(result.Answer, "March") {
		t.Errorf("unexpected answer: %q", result.Answer)
	}
	if len(result.Citations) != 1 {
		t.Errorf("expected one citation, got %v", result.Citations)
	}
}

func TestPool_ProcessesSubmittedJobs(t *testing.T) {
	p, _ := newTestPipeline(t)
	pool := NewPool(p, 2, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	jobs := []Job{
		{Data: []byte(upgradeNote), Hints: Hints{Filename: "upgrade.md"}},
		{Data: []byte("ok thanks"), Hints: Hints{Filename: "reply.txt"}},
	}
	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}

	statuses := make(map[string]int)
	for i := 0; i < len(jobs); i++ {
		r := <-pool.Results()
		if r.Result == nil {
			t.Fatalf("job failed: %v", r.Err)
		}
		statuses[r.Result.Status]++
	}
	pool.Close()

	if statuses[StatusIndexed] != 1 || statuses[StatusGated] != 1 {
		t.Errorf("unexpected outcomes: %v", statuses)
	}
}

func TestPool_RefusesWhenQueueFull(t *testing.T) {
	p, _ := newTestPipeline(t)
	pool := NewPool(p, 1, 1)
	// Not started: the queue holds one job, the second must be shed.

	if err := pool.Submit(Job{Data: []byte("a")}); err != nil {
		t.Fatalf("first Submit() error: %v", err)
	}
	err := pool.Submit(Job{Data: []byte("b")})
	if err == nil {
		t.Fatal("expected busy error")
	}
	if !document.IsKind(err, document.KindCapacity) {
		t.Errorf("expected capacity kind, got %v", err)
	}
}
