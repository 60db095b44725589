package llms

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/document"
)

type fakeReply struct {
	text string
	err  error
}

// fakeProvider replays scripted replies in order, repeating the last one.
type fakeProvider struct {
	name    string
	replies []fakeReply
	reqs    []CompletionRequest
	cancel  context.CancelFunc
	noUsage bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req CompletionRequest) (*CompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	if f.cancel != nil {
		f.cancel()
	}

	i := len(f.reqs) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	r := f.replies[i]
	if r.err != nil {
		return nil, r.err
	}
	resp := &CompletionResponse{Text: r.text}
	if !f.noUsage {
		resp.PromptTokens = 100
		resp.CompletionTokens = 50
	}
	return resp, nil
}

// fakeRung prices calls at $0.20 each with the fake usage of 100/50
// tokens (100/1000*1.0 + 50/1000*2.0).
func fakeRung(name string, p Provider) rung {
	return rung{
		name: name,
		spec: ProviderSpec{
			Provider:           "fake",
			ModelID:            name + "-model",
			USDPer1KPrompt:     1.0,
			USDPer1KCompletion: 2.0,
		},
		provider: p,
	}
}

func testDispatcher(ledger *CostLedger, daily, session float64, rungs ...rung) *Dispatcher {
	return &Dispatcher{
		rungs:    rungs,
		ledger:   ledger,
		dailyUSD: daily,
		sessUSD:  session,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		nowFn:    time.Now,
	}
}

type statusReply struct {
	Status string `json:"status"`
}

func (r *statusReply) Validate() error {
	if r.Status != "ok" {
		return fmt.Errorf("status must be ok, got %q", r.Status)
	}
	return nil
}

func mustSchema(t *testing.T) *Schema {
	t.Helper()
	schema, err := SchemaFor[statusReply]("status")
	if err != nil {
		t.Fatalf("SchemaFor() error = %v", err)
	}
	return schema
}

func TestDispatcher_Complete_FirstRungWins(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "hello"}}}
	expensive := &fakeProvider{name: "expensive"}
	ledger := NewCostLedger()
	d := testDispatcher(ledger, 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	result, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi", Op: "enrich"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if result.Text != "hello" {
		t.Errorf("Text = %q, want hello", result.Text)
	}
	if result.Model != "cheap-model" {
		t.Errorf("Model = %q, want cheap-model", result.Model)
	}
	if result.Calls != 1 {
		t.Errorf("Calls = %d, want 1", result.Calls)
	}
	if !approxUSD(result.USD, 0.20) {
		t.Errorf("USD = %v, want 0.20", result.USD)
	}
	if len(expensive.reqs) != 0 {
		t.Errorf("expensive rung called %d times, want 0", len(expensive.reqs))
	}
	if got := ledger.SessionUSD(); !approxUSD(got, 0.20) {
		t.Errorf("ledger SessionUSD = %v, want 0.20", got)
	}
}

func TestDispatcher_Complete_ClimbsOnProviderError(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{err: errors.New("rate limited")}}}
	expensive := &fakeProvider{name: "expensive", replies: []fakeReply{{text: "recovered"}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	result, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if result.Text != "recovered" {
		t.Errorf("Text = %q, want recovered", result.Text)
	}
	if result.Model != "expensive-model" {
		t.Errorf("Model = %q, want expensive-model", result.Model)
	}
	// The failed rung cost nothing; only the success is billed.
	if !approxUSD(result.USD, 0.20) {
		t.Errorf("USD = %v, want 0.20", result.USD)
	}
	if len(cheap.reqs) != 1 {
		t.Errorf("cheap rung called %d times, want 1", len(cheap.reqs))
	}
}

func TestDispatcher_Complete_AllRungsFail(t *testing.T) {
	bottom := errors.New("connection refused")
	top := errors.New("server overloaded")
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{err: bottom}}}
	expensive := &fakeProvider{name: "expensive", replies: []fakeReply{{err: top}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	_, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("Complete() should fail when every rung fails")
	}
	if !document.IsKind(err, document.KindProvider) {
		t.Errorf("error kind = %v, want %v", document.KindOf(err), document.KindProvider)
	}
	if !errors.Is(err, top) {
		t.Errorf("error should wrap the last provider failure, got %v", err)
	}
}

func TestDispatcher_Complete_DailyBudgetBlocksCalls(t *testing.T) {
	ledger := NewCostLedger()
	if err := ledger.Append(CostRecord{Provider: "openai", Model: "gpt-4o-mini", USD: 5.00}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "never"}}}
	d := testDispatcher(ledger, 5.00, 0, fakeRung("cheap", cheap))

	_, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("Complete() should fail once the daily budget is spent")
	}
	if !document.IsKind(err, document.KindBudget) {
		t.Errorf("error kind = %v, want %v", document.KindOf(err), document.KindBudget)
	}
	if len(cheap.reqs) != 0 {
		t.Errorf("provider called %d times despite exhausted budget, want 0", len(cheap.reqs))
	}
}

func TestDispatcher_Complete_SessionBudgetBlocksCalls(t *testing.T) {
	ledger := NewCostLedger()
	if err := ledger.Append(CostRecord{Provider: "openai", Model: "gpt-4o-mini", USD: 0.02}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "never"}}}
	d := testDispatcher(ledger, 0, 0.01, fakeRung("cheap", cheap))

	_, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if !document.IsKind(err, document.KindBudget) {
		t.Fatalf("error = %v, want budget kind", err)
	}
}

func TestDispatcher_Complete_ZeroBudgetMeansUnlimited(t *testing.T) {
	ledger := NewCostLedger()
	if err := ledger.Append(CostRecord{Provider: "openai", Model: "gpt-4o-mini", USD: 100.0}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "still working"}}}
	d := testDispatcher(ledger, 0, 0, fakeRung("cheap", cheap))

	result, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.Text != "still working" {
		t.Errorf("Text = %q, want still working", result.Text)
	}
}

func TestDispatcher_Complete_ModelHintSkipsCheaperRungs(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "cheap answer"}}}
	expensive := &fakeProvider{name: "expensive", replies: []fakeReply{{text: "expensive answer"}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	tests := []struct {
		name       string
		hint       string
		wantText   string
		wantCheap  int
		wantCostly int
	}{
		{name: "ladder name", hint: "expensive", wantText: "expensive answer", wantCheap: 0, wantCostly: 1},
		{name: "model id", hint: "expensive-model", wantText: "expensive answer", wantCheap: 0, wantCostly: 1},
		{name: "unknown hint falls back", hint: "gpt-99", wantText: "cheap answer", wantCheap: 1, wantCostly: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cheap.reqs, expensive.reqs = nil, nil

			result, err := d.Complete(context.Background(), CompletionRequest{Prompt: "hi", ModelHint: tt.hint})
			if err != nil {
				t.Fatalf("Complete() error = %v", err)
			}
			if result.Text != tt.wantText {
				t.Errorf("Text = %q, want %q", result.Text, tt.wantText)
			}
			if len(cheap.reqs) != tt.wantCheap {
				t.Errorf("cheap calls = %d, want %d", len(cheap.reqs), tt.wantCheap)
			}
			if len(expensive.reqs) != tt.wantCostly {
				t.Errorf("expensive calls = %d, want %d", len(expensive.reqs), tt.wantCostly)
			}
		})
	}
}

func TestDispatcher_Complete_CanceledContextStopsClimb(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first rung cancels the context mid-flight. No residual time
	// budget means no second rung.
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{err: errors.New("cut off")}}, cancel: cancel}
	expensive := &fakeProvider{name: "expensive", replies: []fakeReply{{text: "never"}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	_, err := d.Complete(ctx, CompletionRequest{Prompt: "hi"})
	if err == nil {
		t.Fatal("Complete() should fail after cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}
	if len(expensive.reqs) != 0 {
		t.Errorf("expensive rung called %d times after cancellation, want 0", len(expensive.reqs))
	}
}

func TestDispatcher_Complete_EstimatesMissingUsage(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "a reply long enough to count"}}, noUsage: true}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	result, err := d.Complete(context.Background(), CompletionRequest{Prompt: "what is the invoice total?"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if result.PromptTokens == 0 || result.CompletionTokens == 0 {
		t.Errorf("tokens = %d/%d, want estimated non-zero counts", result.PromptTokens, result.CompletionTokens)
	}
	if result.USD <= 0 {
		t.Errorf("USD = %v, want > 0 from estimated tokens", result.USD)
	}
}

func TestDispatcher_CompleteStructured_DecodesNativeJSON(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: `{"status": "ok"}`}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	var out statusReply
	result, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}

	if out.Status != "ok" {
		t.Errorf("Status = %q, want ok", out.Status)
	}
	if result.Calls != 1 {
		t.Errorf("Calls = %d, want 1", result.Calls)
	}
	if len(cheap.reqs) != 1 || cheap.reqs[0].Format == nil {
		t.Fatal("provider should receive the response format")
	}
	if cheap.reqs[0].Format.Name != "status" {
		t.Errorf("Format.Name = %q, want status", cheap.reqs[0].Format.Name)
	}
}

func TestDispatcher_CompleteStructured_ExtractsWrappedJSON(t *testing.T) {
	reply := "Sure, here is the result:\n```json\n{\"status\": \"ok\"}\n```"
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: reply}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	var out statusReply
	result, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("Status = %q, want ok", out.Status)
	}
	if result.Calls != 1 {
		t.Errorf("Calls = %d, want 1 (no repair needed)", result.Calls)
	}
}

func TestDispatcher_CompleteStructured_RepairRecovers(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{
		{text: "I believe the answer is fine."},
		{text: `{"status": "ok"}`},
	}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	var out statusReply
	result, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}

	if out.Status != "ok" {
		t.Errorf("Status = %q, want ok", out.Status)
	}
	if result.Calls != 2 {
		t.Errorf("Calls = %d, want 2 (original plus repair)", result.Calls)
	}
	if !approxUSD(result.USD, 0.40) {
		t.Errorf("USD = %v, want 0.40 (both calls billed)", result.USD)
	}

	if len(cheap.reqs) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(cheap.reqs))
	}
	repair := cheap.reqs[1].Prompt
	if !strings.Contains(repair, "check") {
		t.Errorf("repair prompt should carry the original prompt: %q", repair)
	}
	if !strings.Contains(repair, "I believe the answer is fine.") {
		t.Errorf("repair prompt should quote the failed reply: %q", repair)
	}
	if !strings.Contains(repair, "could not be parsed") {
		t.Errorf("repair prompt should explain the failure: %q", repair)
	}
}

func TestDispatcher_CompleteStructured_EscalatesAfterFailedRepair(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{
		{text: "garbage"},
		{text: "still garbage"},
	}}
	expensive := &fakeProvider{name: "expensive", replies: []fakeReply{{text: `{"status": "ok"}`}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap), fakeRung("expensive", expensive))

	var out statusReply
	result, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}

	if out.Status != "ok" {
		t.Errorf("Status = %q, want ok", out.Status)
	}
	if len(cheap.reqs) != 2 {
		t.Errorf("cheap calls = %d, want 2 (original plus one repair)", len(cheap.reqs))
	}
	if len(expensive.reqs) != 1 {
		t.Errorf("expensive calls = %d, want 1", len(expensive.reqs))
	}
	if result.Model != "expensive-model" {
		t.Errorf("Model = %q, want expensive-model", result.Model)
	}
	if result.Calls != 3 {
		t.Errorf("Calls = %d, want 3", result.Calls)
	}
	if !approxUSD(result.USD, 0.60) {
		t.Errorf("USD = %v, want 0.60 (all three calls billed)", result.USD)
	}
}

func TestDispatcher_CompleteStructured_SchemaErrorWhenNothingDecodes(t *testing.T) {
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{{text: "garbage"}, {text: "garbage"}}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	var out statusReply
	_, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err == nil {
		t.Fatal("CompleteStructured() should fail when no rung produces valid JSON")
	}
	if !document.IsKind(err, document.KindSchema) {
		t.Errorf("error kind = %v, want %v", document.KindOf(err), document.KindSchema)
	}
}

func TestDispatcher_CompleteStructured_ValidatorRejection(t *testing.T) {
	// Valid JSON that fails the semantic check triggers the same repair
	// path as a parse error.
	cheap := &fakeProvider{name: "cheap", replies: []fakeReply{
		{text: `{"status": "broken"}`},
		{text: `{"status": "ok"}`},
	}}
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", cheap))

	var out statusReply
	result, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, mustSchema(t), &out)
	if err != nil {
		t.Fatalf("CompleteStructured() error = %v", err)
	}
	if out.Status != "ok" {
		t.Errorf("Status = %q, want ok", out.Status)
	}
	if result.Calls != 2 {
		t.Errorf("Calls = %d, want 2", result.Calls)
	}
	if !strings.Contains(cheap.reqs[1].Prompt, "status must be ok") {
		t.Errorf("repair prompt should carry the validation error: %q", cheap.reqs[1].Prompt)
	}
}

func TestDispatcher_CompleteStructured_NilSchema(t *testing.T) {
	d := testDispatcher(NewCostLedger(), 0, 0, fakeRung("cheap", &fakeProvider{name: "cheap"}))

	var out statusReply
	_, err := d.CompleteStructured(context.Background(), CompletionRequest{Prompt: "check"}, nil, &out)
	if err == nil {
		t.Fatal("CompleteStructured() should reject a nil schema")
	}
	if !document.IsKind(err, document.KindValidation) {
		t.Errorf("error kind = %v, want %v", document.KindOf(err), document.KindValidation)
	}
}

func TestNewDispatcher_SkipsProvidersWithoutKeys(t *testing.T) {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"cloud": {Provider: config.LLMProviderOpenAI, Model: "gpt-4o-mini", Timeout: time.Minute},
			"local": {Provider: config.LLMProviderOllama, Model: "llama3.2", Timeout: time.Minute},
		},
	}
	cfg.Dispatcher.Ladder = []string{"local", "cloud"}

	d, err := NewDispatcher(cfg, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}

	rungs := d.Rungs()
	if len(rungs) != 1 {
		t.Fatalf("usable rungs = %d, want 1 (keyless cloud entry skipped)", len(rungs))
	}
	if rungs[0].Provider != "ollama" {
		t.Errorf("rungs[0].Provider = %q, want ollama", rungs[0].Provider)
	}
}

func TestNewDispatcher_FailsWithNoUsableProviders(t *testing.T) {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"cloud": {Provider: config.LLMProviderAnthropic, Model: "claude-sonnet-4-20250514", Timeout: time.Minute},
		},
	}
	cfg.Dispatcher.Ladder = []string{"cloud"}

	if _, err := NewDispatcher(cfg, nil); err == nil {
		t.Fatal("NewDispatcher() should fail when every ladder entry is unusable")
	}
}

func TestNewDispatcher_UnknownLadderEntry(t *testing.T) {
	cfg := &config.Config{
		LLMs: map[string]*config.LLMConfig{
			"local": {Provider: config.LLMProviderOllama, Model: "llama3.2", Timeout: time.Minute},
		},
	}
	cfg.Dispatcher.Ladder = []string{"missing"}

	if _, err := NewDispatcher(cfg, nil); err == nil {
		t.Fatal("NewDispatcher() should fail on an unknown ladder entry")
	}
}
