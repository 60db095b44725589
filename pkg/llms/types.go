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

// Package llms dispatches completion calls across a cost-ordered ladder
// of language model providers.
//
// Providers implement a minimal Complete contract over raw HTTP (or the
// official SDK where one exists). The Dispatcher owns fallback, budget
// enforcement, structured-output repair, and cost accounting; transient
// retries within a single provider live in pkg/httpclient.
package llms

import (
	"context"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// CompletionRequest is a single prompt for a provider.
type CompletionRequest struct {
	// System is an optional system instruction.
	System string

	// Prompt is the user message.
	Prompt string

	// MaxTokens limits the response length. Zero uses the model default.
	MaxTokens int

	// Temperature overrides the configured sampling temperature.
	Temperature *float64

	// Format requests JSON output conforming to a schema. Providers with
	// a native JSON mode enforce it server-side; the rest embed the
	// schema in the prompt.
	Format *ResponseFormat

	// ModelHint names a ladder entry to start from, skipping cheaper
	// rungs. Unknown hints fall back to the full ladder.
	ModelHint string

	// Op labels the call in the cost ledger (enrich, synthesize, hyde,
	// rerank).
	Op string

	// DocID attributes the spend to a document, when there is one.
	DocID string
}

// ResponseFormat declares the JSON schema a structured call must satisfy.
type ResponseFormat struct {
	Name   string
	Schema map[string]any
}

// CompletionResponse carries the provider's reply and token accounting.
// Token counts of zero mean the provider did not report usage.
type CompletionResponse struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// Result is the dispatcher's answer: the text that survived fallback and
// repair, which model produced it, and what the whole operation cost
// (including failed rungs and repair calls).
type Result struct {
	Text             string
	Provider         string
	Model            string
	USD              float64
	PromptTokens     int
	CompletionTokens int
	Calls            int
}

// Provider is a single language model endpoint.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// Validator lets structured-output targets express semantic constraints
// beyond JSON shape. CompleteStructured calls it after decoding.
type Validator interface {
	Validate() error
}

// ProviderSpec describes pricing and capability for a ladder entry.
type ProviderSpec struct {
	Provider           string
	ModelID            string
	USDPer1KPrompt     float64
	USDPer1KCompletion float64
	ContextWindow      int
	StructuredOutput   bool
	Vision             bool
}

// SpecFor derives a ProviderSpec from a configured llm entry. Pricing
// comes from the config (declared per million tokens); context window
// and capabilities from a conservative model table.
func SpecFor(cfg *config.LLMConfig) ProviderSpec {
	return ProviderSpec{
		Provider:           string(cfg.Provider),
		ModelID:            cfg.Model,
		USDPer1KPrompt:     cfg.InputCostPer1M / 1000,
		USDPer1KCompletion: cfg.OutputCostPer1M / 1000,
		ContextWindow:      contextWindowFor(cfg.Provider, cfg.Model),
		StructuredOutput:   supportsStructuredOutput(cfg.Provider),
		Vision:             supportsVision(cfg.Model),
	}
}

// Cost prices a call at this spec's rates.
func (s ProviderSpec) Cost(promptTokens, completionTokens int) float64 {
	return float64(promptTokens)/1000*s.USDPer1KPrompt +
		float64(completionTokens)/1000*s.USDPer1KCompletion
}

func contextWindowFor(provider config.LLMProvider, model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "claude"):
		return 200_000
	case strings.HasPrefix(m, "gemini"):
		return 1_000_000
	case strings.HasPrefix(m, "gpt-4o"), strings.HasPrefix(m, "gpt-4.1"),
		strings.HasPrefix(m, "o1"), strings.HasPrefix(m, "o3"):
		return 128_000
	case provider == config.LLMProviderGroq:
		return 128_000
	default:
		// Local models vary wildly; assume a small window.
		return 8_192
	}
}

// supportsStructuredOutput reports whether the provider enforces a JSON
// schema server-side. Anthropic and groq still produce JSON, but via
// prompt guidance rather than constrained decoding.
func supportsStructuredOutput(provider config.LLMProvider) bool {
	switch provider {
	case config.LLMProviderOpenAI, config.LLMProviderGemini, config.LLMProviderOllama:
		return true
	default:
		return false
	}
}

func supportsVision(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "claude") ||
		strings.HasPrefix(m, "gpt-4o") ||
		strings.HasPrefix(m, "gpt-4.1") ||
		strings.HasPrefix(m, "gemini")
}
