// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/httpclient"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// newHTTPClient builds the retrying transport shared by the raw-HTTP
// providers. The dispatcher's backoff settings govern retries within a
// single provider; climbing the ladder is the dispatcher's job.
func newHTTPClient(cfg *config.LLMConfig, dcfg *config.DispatcherConfig, parser httpclient.RateLimitHeaderParser) *httpclient.Client {
	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if dcfg != nil {
		opts = append(opts,
			httpclient.WithMaxRetries(dcfg.MaxAttempts-1),
			httpclient.WithBaseDelay(dcfg.BackoffInitial),
			httpclient.WithMaxDelay(dcfg.BackoffCap),
		)
	}
	if parser != nil {
		opts = append(opts, httpclient.WithHeaderParser(parser))
	}
	return httpclient.New(opts...)
}

// NewProvider builds the provider implementation an llm config names.
func NewProvider(cfg *config.LLMConfig, dcfg *config.DispatcherConfig) (Provider, error) {
	switch cfg.Provider {
	case config.LLMProviderAnthropic:
		return NewAnthropicProvider(cfg, dcfg)
	case config.LLMProviderOpenAI, config.LLMProviderGroq:
		return NewOpenAIProvider(cfg, dcfg)
	case config.LLMProviderGemini:
		return NewGeminiProvider(cfg)
	case config.LLMProviderOllama:
		return NewOllamaProvider(cfg, dcfg)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}

// rung is one ladder entry: a named llm config resolved into a live
// provider plus its pricing spec.
type rung struct {
	name     string
	spec     ProviderSpec
	provider Provider
}

// Dispatcher walks a cost-ordered provider ladder. Cheap models get the
// first shot; provider failures and unrepairable schema violations climb
// to the next rung. Every billable call lands in the cost ledger, and
// the session/daily budgets are enforced before any provider is dialed.
type Dispatcher struct {
	rungs    []rung
	ledger   *CostLedger
	dailyUSD float64
	sessUSD  float64
	logger   *slog.Logger
	nowFn    func() time.Time
}

// NewDispatcher resolves the configured ladder into live providers.
// Entries whose API key is missing are skipped with a warning rather
// than failing startup, so a machine with only ollama still works.
func NewDispatcher(cfg *config.Config, ledger *CostLedger) (*Dispatcher, error) {
	if ledger == nil {
		ledger = NewCostLedger()
	}

	d := &Dispatcher{
		ledger:   ledger,
		dailyUSD: config.Float64Value(cfg.Dispatcher.DailyBudgetUSD, 0),
		sessUSD:  config.Float64Value(cfg.Dispatcher.SessionBudgetUSD, 0),
		logger:   slog.Default().With("component", "dispatcher"),
		nowFn:    time.Now,
	}

	for _, name := range cfg.Dispatcher.Ladder {
		llmCfg, err := cfg.LLMFor(name)
		if err != nil {
			return nil, err
		}
		provider, err := NewProvider(llmCfg, &cfg.Dispatcher)
		if err != nil {
			if llmCfg.APIKey == "" && llmCfg.Provider != config.LLMProviderOllama {
				d.logger.Warn("Skipping ladder entry without API key",
					"llm", name, "provider", llmCfg.Provider)
				continue
			}
			return nil, fmt.Errorf("ladder entry %q: %w", name, err)
		}
		d.rungs = append(d.rungs, rung{name: name, spec: SpecFor(llmCfg), provider: provider})
	}

	if len(d.rungs) == 0 {
		return nil, fmt.Errorf("dispatcher has no usable providers; configure at least one llm")
	}
	return d, nil
}

// Ledger exposes the cost ledger for stats surfaces.
func (d *Dispatcher) Ledger() *CostLedger {
	return d.ledger
}

// Rungs reports the resolved ladder, cheapest first.
func (d *Dispatcher) Rungs() []ProviderSpec {
	specs := make([]ProviderSpec, len(d.rungs))
	for i, r := range d.rungs {
		specs[i] = r.spec
	}
	return specs
}

// Complete runs the prompt against the ladder and returns the first
// success. Provider errors advance to the next rung.
func (d *Dispatcher) Complete(ctx context.Context, req CompletionRequest) (*Result, error) {
	if err := d.checkBudget("llms.Complete"); err != nil {
		return nil, err
	}

	result := &Result{}
	var lastErr error
	for _, r := range d.startRungs(req.ModelHint) {
		resp, err := r.provider.Complete(ctx, req)
		if err != nil {
			lastErr = err
			if climbErr := d.climb(ctx, r, err); climbErr != nil {
				return nil, climbErr
			}
			continue
		}
		d.record(result, r, req, resp)
		result.Text = resp.Text
		return result, nil
	}

	return nil, document.WrapError(document.KindProvider, "llms.Complete",
		fmt.Errorf("all providers failed: %w", lastErr))
}

// CompleteStructured runs the prompt with a schema constraint and decodes
// the reply into out. A decode or validation failure triggers one repair
// re-prompt carrying the parser error; a second failure climbs the ladder.
func (d *Dispatcher) CompleteStructured(ctx context.Context, req CompletionRequest, schema *Schema, out any) (*Result, error) {
	if err := d.checkBudget("llms.CompleteStructured"); err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, document.NewError(document.KindValidation, "llms.CompleteStructured", "schema is required")
	}
	req.Format = &ResponseFormat{Name: schema.Name, Schema: schema.Definition}

	result := &Result{}
	var lastErr error
	var lastDecode bool
	for _, r := range d.startRungs(req.ModelHint) {
		resp, err := r.provider.Complete(ctx, req)
		if err != nil {
			lastErr, lastDecode = err, false
			if climbErr := d.climb(ctx, r, err); climbErr != nil {
				return nil, climbErr
			}
			continue
		}
		d.record(result, r, req, resp)

		decodeErr := decodeInto(resp.Text, out)
		if decodeErr == nil {
			result.Text = resp.Text
			return result, nil
		}

		// One repair pass: hand the model its own reply and the parser
		// error, then re-validate. A second miss climbs the ladder.
		d.logger.Warn("Structured reply failed validation, attempting repair",
			"llm", r.name, "schema", schema.Name, "error", decodeErr)
		repairReq := req
		repairReq.Prompt = repairPrompt(req.Prompt, resp.Text, decodeErr)
		repairResp, err := r.provider.Complete(ctx, repairReq)
		if err != nil {
			lastErr, lastDecode = err, false
			if climbErr := d.climb(ctx, r, err); climbErr != nil {
				return nil, climbErr
			}
			continue
		}
		d.record(result, r, req, repairResp)

		if decodeErr = decodeInto(repairResp.Text, out); decodeErr == nil {
			result.Text = repairResp.Text
			return result, nil
		}
		lastErr, lastDecode = decodeErr, true
		if climbErr := d.climb(ctx, r, decodeErr); climbErr != nil {
			return nil, climbErr
		}
	}

	kind := document.KindProvider
	if lastDecode {
		kind = document.KindSchema
	}
	return nil, document.WrapError(kind, "llms.CompleteStructured",
		fmt.Errorf("all providers failed: %w", lastErr))
}

// startRungs returns the ladder, optionally fast-forwarded to the rung a
// model hint names. Unknown hints fall back to the full ladder.
func (d *Dispatcher) startRungs(hint string) []rung {
	if hint == "" {
		return d.rungs
	}
	for i, r := range d.rungs {
		if r.name == hint || r.spec.ModelID == hint {
			return d.rungs[i:]
		}
	}
	d.logger.Warn("Model hint matches no ladder entry, using full ladder", "hint", hint)
	return d.rungs
}

// climb logs a rung failure and decides whether the ladder walk may
// continue. Once the context is done there is no residual time budget,
// so the walk stops instead of dialing the next provider.
func (d *Dispatcher) climb(ctx context.Context, r rung, cause error) error {
	if ctx.Err() != nil {
		return document.WrapError(document.KindProvider, "llms.dispatch", ctx.Err())
	}
	d.logger.Warn("Provider failed, climbing ladder",
		"llm", r.name, "provider", r.provider.Name(), "model", r.spec.ModelID, "error", cause)
	return nil
}

// checkBudget refuses new calls once the daily or session ceiling is
// reached. In-flight calls are unaffected. A zero ceiling means
// unlimited.
func (d *Dispatcher) checkBudget(op string) error {
	if d.dailyUSD > 0 {
		if spent := d.ledger.TodayUSD(); spent >= d.dailyUSD {
			return document.NewError(document.KindBudget, op,
				fmt.Sprintf("daily budget exhausted: $%.4f of $%.2f spent", spent, d.dailyUSD))
		}
	}
	if d.sessUSD > 0 {
		if spent := d.ledger.SessionUSD(); spent >= d.sessUSD {
			return document.NewError(document.KindBudget, op,
				fmt.Sprintf("session budget exhausted: $%.4f of $%.2f spent", spent, d.sessUSD))
		}
	}
	return nil
}

// record folds one successful provider response into the running result
// and the cost ledger. Token counts come from the provider when
// reported, otherwise from a local estimate.
func (d *Dispatcher) record(result *Result, r rung, req CompletionRequest, resp *CompletionResponse) {
	promptTokens := resp.PromptTokens
	completionTokens := resp.CompletionTokens
	if promptTokens == 0 {
		promptTokens = countTokens(r.spec.ModelID, req.System+"\n"+req.Prompt)
	}
	if completionTokens == 0 && resp.Text != "" {
		completionTokens = countTokens(r.spec.ModelID, resp.Text)
	}

	usd := r.spec.Cost(promptTokens, completionTokens)

	model := resp.Model
	if model == "" {
		model = r.spec.ModelID
	}
	result.Provider = r.spec.Provider
	result.Model = model
	result.PromptTokens += promptTokens
	result.CompletionTokens += completionTokens
	result.USD = roundUSD(result.USD + usd)
	result.Calls++

	if err := d.ledger.Append(CostRecord{
		TS:               d.nowFn().UTC(),
		Provider:         r.spec.Provider,
		Model:            model,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		USD:              usd,
		Op:               req.Op,
		DocID:            req.DocID,
	}); err != nil {
		d.logger.Warn("Failed to persist cost record", "error", err)
	}
}

// countTokens prefers a real tokenizer and falls back to the chars/4
// estimate when the model has no published encoding.
func countTokens(model, text string) int {
	if tc, err := utils.NewTokenCounter(model); err == nil {
		return tc.Count(text)
	}
	return utils.EstimateTokens(text)
}

// decodeInto parses a model reply into out and runs its validation hook.
// Direct unmarshal covers native JSON modes; the balanced-brace scan
// rescues replies wrapped in prose or markdown fences.
func decodeInto(text string, out any) error {
	raw := strings.TrimSpace(text)
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		extracted, exErr := ExtractJSON(raw)
		if exErr != nil {
			return fmt.Errorf("no JSON object in reply: %w", err)
		}
		if err := json.Unmarshal([]byte(extracted), out); err != nil {
			return fmt.Errorf("failed to parse reply JSON: %w", err)
		}
	}
	if v, ok := out.(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("reply failed validation: %w", err)
		}
	}
	return nil
}

// repairPrompt rebuilds the user prompt for the single repair attempt.
func repairPrompt(prompt, reply string, cause error) string {
	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nYour previous reply could not be parsed:\n")
	b.WriteString(reply)
	b.WriteString("\n\nError: ")
	b.WriteString(cause.Error())
	b.WriteString("\nRespond again with only the corrected JSON object.")
	return b.String()
}
