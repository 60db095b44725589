package synthesis

import (
	"context"
	"strings"
	"testing"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
)

type fakeCompleter struct {
	reply      string
	err        error
	lastPrompt string
}

func (f *fakeCompleter) Complete(_ context.Context, req llms.CompletionRequest) (*llms.Result, error) {
	f.lastPrompt = req.Prompt
	if f.err != nil {
		return nil, f.err
	}
	return &llms.Result{Text: f.reply, Model: "fake-model", USD: 0.002, Calls: 1}, nil
}

func contextChunk(id, title, text string, position int) rerank.Ranked {
	return rerank.Ranked{
		Candidate: retrieval.Candidate{
			ChunkID: id,
			Title:   title,
			Text:    text,
			Meta:    &document.ChunkMeta{Title: title, Position: position},
		},
		RerankScore: 0.9,
	}
}

func TestSynthesizer_CitesSources(t *testing.T) {
	completer := &fakeCompleter{reply: "Revenue grew twelve percent [1], driven by renewals [2]."}
	s := New(completer, config.SynthesisConfig{})

	answer, err := s.Synthesize(context.Background(), "how did revenue change", []rerank.Ranked{
		contextChunk("doc-a#0000", "Q3 Report", "revenue grew twelve percent", 0),
		contextChunk("doc-a#0001", "Q3 Report", "renewals drove the growth", 1),
	})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	if answer.Text == "" || answer.Model != "fake-model" || answer.USD != 0.002 {
		t.Errorf("unexpected answer: %+v", answer)
	}
	want := []string{"doc-a#0000", "doc-a#0001"}
	if len(answer.Citations) != len(want) {
		t.Fatalf("expected %d citations, got %v", len(want), answer.Citations)
	}
	for i, id := range want {
		if answer.Citations[i] != id {
			t.Errorf("citation %d = %s, want %s", i, answer.Citations[i], id)
		}
	}
}

func TestSynthesizer_PromptNumbersContext(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	s := New(completer, config.SynthesisConfig{})

	_, err := s.Synthesize(context.Background(), "what changed", []rerank.Ranked{
		contextChunk("doc-a#0003", "Meeting Notes", "the deadline moved to friday", 3),
	})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}

	for _, fragment := range []string{
		"Question: what changed",
		"[source 1: Meeting Notes, chunk 3]",
		"the deadline moved to friday",
		"Cite sources by number",
	} {
		if !strings.Contains(completer.lastPrompt, fragment) {
			t.Errorf("prompt missing %q:\n%s", fragment, completer.lastPrompt)
		}
	}
}

func TestSynthesizer_DropsInvalidCitations(t *testing.T) {
	completer := &fakeCompleter{reply: "See [1], also [7] and [1] again."}
	s := New(completer, config.SynthesisConfig{})

	answer, err := s.Synthesize(context.Background(), "question", []rerank.Ranked{
		contextChunk("doc-a#0000", "Doc", "text", 0),
	})
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if len(answer.Citations) != 1 || answer.Citations[0] != "doc-a#0000" {
		t.Errorf("expected single deduped citation, got %v", answer.Citations)
	}
}

func TestSynthesizer_RespectsContextLimit(t *testing.T) {
	completer := &fakeCompleter{reply: "ok"}
	s := New(completer, config.SynthesisConfig{MaxContextChunks: 2})

	chunks := []rerank.Ranked{
		contextChunk("doc-a#0000", "Doc", "first chunk", 0),
		contextChunk("doc-a#0001", "Doc", "second chunk", 1),
		contextChunk("doc-a#0002", "Doc", "third chunk", 2),
	}
	if _, err := s.Synthesize(context.Background(), "question", chunks); err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if strings.Contains(completer.lastPrompt, "third chunk") {
		t.Error("context beyond the limit must be dropped")
	}
	if !strings.Contains(completer.lastPrompt, "[source 2:") {
		t.Error("expected two numbered sources")
	}
}

func TestSynthesizer_EmptyContext(t *testing.T) {
	s := New(&fakeCompleter{reply: "ok"}, config.SynthesisConfig{})
	if _, err := s.Synthesize(context.Background(), "question", nil); err == nil {
		t.Fatal("expected error for empty context")
	}
}
