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

package config

import (
	"fmt"
	"os"
	"time"
)

// LLMProvider identifies the LLM provider type.
type LLMProvider string

const (
	LLMProviderAnthropic LLMProvider = "anthropic"
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderGemini    LLMProvider = "gemini"
	LLMProviderGroq      LLMProvider = "groq"
	LLMProviderOllama    LLMProvider = "ollama"
)

// LLMConfig configures a single LLM endpoint.
//
// Models are declared under a name in the top-level llms map and
// referenced by name from the dispatcher ladder:
//
//	llms:
//	  fast:
//	    provider: groq
//	    model: llama-3.3-70b-versatile
//	  careful:
//	    provider: anthropic
//	    model: claude-sonnet-4-20250514
//	dispatcher:
//	  ladder: [fast, careful]
type LLMConfig struct {
	// Provider type (anthropic, openai, gemini, groq, ollama).
	Provider LLMProvider `yaml:"provider,omitempty" json:"provider,omitempty" jsonschema:"title=Provider,description=LLM provider,enum=anthropic,enum=openai,enum=gemini,enum=groq,enum=ollama"`

	// Model name (e.g., "claude-sonnet-4-20250514", "gpt-4o-mini").
	Model string `yaml:"model,omitempty" json:"model,omitempty" jsonschema:"title=Model,description=Model identifier"`

	// APIKey for authentication. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty" json:"api_key,omitempty" jsonschema:"title=API Key,description=API key for authentication (use ${ENV_VAR})"`

	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty" jsonschema:"title=Base URL,description=Custom base URL for API endpoint"`

	// Temperature for generation (0.0 - 2.0).
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty" jsonschema:"title=Temperature,description=Sampling temperature,minimum=0,maximum=2,default=0.2"`

	// MaxTokens limits response length.
	MaxTokens int `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty" jsonschema:"title=Max Tokens,description=Maximum tokens to generate,minimum=1,default=4096"`

	// Timeout for a single request.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" jsonschema:"title=Timeout,description=Request timeout,default=120s"`

	// InputCostPer1M is the price in USD per million input tokens.
	// Used by the cost ledger. Zero means free (local models).
	InputCostPer1M float64 `yaml:"input_cost_per_1m,omitempty" json:"input_cost_per_1m,omitempty" jsonschema:"title=Input Cost,description=USD per million input tokens"`

	// OutputCostPer1M is the price in USD per million output tokens.
	OutputCostPer1M float64 `yaml:"output_cost_per_1m,omitempty" json:"output_cost_per_1m,omitempty" jsonschema:"title=Output Cost,description=USD per million output tokens"`
}

// SetDefaults applies default values.
func (c *LLMConfig) SetDefaults() {
	// Auto-detect provider from environment if not set
	if c.Provider == "" {
		c.Provider = detectProviderFromEnv()
	}

	// Set default model per provider
	if c.Model == "" {
		switch c.Provider {
		case LLMProviderAnthropic:
			c.Model = "claude-sonnet-4-20250514"
		case LLMProviderOpenAI:
			c.Model = "gpt-4o-mini"
		case LLMProviderGemini:
			c.Model = "gemini-2.0-flash"
		case LLMProviderGroq:
			c.Model = "llama-3.3-70b-versatile"
		case LLMProviderOllama:
			c.Model = "llama3.2"
		}
	}

	// Groq speaks the OpenAI wire protocol on its own endpoint
	if c.Provider == LLMProviderGroq && c.BaseURL == "" {
		c.BaseURL = "https://api.groq.com/openai/v1"
	}

	// Get API key from environment if not set
	if c.APIKey == "" {
		c.APIKey = getAPIKeyFromEnv(c.Provider)
	}

	// Extraction and synthesis want near-deterministic output
	if c.Temperature == nil {
		temp := 0.2
		c.Temperature = &temp
	}

	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}

	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	validProviders := map[LLMProvider]bool{
		LLMProviderAnthropic: true,
		LLMProviderOpenAI:    true,
		LLMProviderGemini:    true,
		LLMProviderGroq:      true,
		LLMProviderOllama:    true,
	}
	if !validProviders[c.Provider] {
		return fmt.Errorf("invalid llm provider %q (valid: anthropic, openai, gemini, groq, ollama)", c.Provider)
	}

	if c.Model == "" {
		return fmt.Errorf("llm model is required")
	}

	if c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2) {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", *c.Temperature)
	}

	// A hosted provider without a key is not an error: the dispatcher
	// skips it, so a config can declare providers it only sometimes has
	// credentials for.
	return nil
}

// DispatcherConfig configures model fallback for extraction and synthesis.
//
// The ladder lists llm names from cheapest to most expensive. Each call
// starts at the bottom and climbs only when a model fails or returns
// output that cannot be repaired.
type DispatcherConfig struct {
	// Ladder is the ordered list of llm names, cheapest first.
	Ladder []string `yaml:"ladder,omitempty" json:"ladder,omitempty" jsonschema:"title=Ladder,description=LLM names ordered cheapest to most expensive"`

	// MaxAttempts bounds retries per model before climbing the ladder.
	MaxAttempts int `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty" jsonschema:"title=Max Attempts,description=Retries per model,default=5"`

	// BackoffInitial is the first retry delay.
	BackoffInitial time.Duration `yaml:"backoff_initial,omitempty" json:"backoff_initial,omitempty" jsonschema:"title=Initial Backoff,default=15s"`

	// BackoffCap bounds the exponential retry delay.
	BackoffCap time.Duration `yaml:"backoff_cap,omitempty" json:"backoff_cap,omitempty" jsonschema:"title=Backoff Cap,default=180s"`

	// DailyBudgetUSD stops paid calls once the day's spend reaches this.
	// Explicit zero disables the guard.
	DailyBudgetUSD *float64 `yaml:"daily_budget_usd,omitempty" json:"daily_budget_usd,omitempty" jsonschema:"title=Daily Budget,description=USD spend ceiling per day (0 = unlimited),default=5.0"`

	// SessionBudgetUSD caps cumulative spend for the process lifetime.
	// Zero or unset disables the guard.
	SessionBudgetUSD *float64 `yaml:"session_budget_usd,omitempty" json:"session_budget_usd,omitempty" jsonschema:"title=Session Budget,description=USD spend ceiling per process (0 = unlimited)"`
}

// SetDefaults applies default values.
func (c *DispatcherConfig) SetDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 15 * time.Second
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = 180 * time.Second
	}
	if c.DailyBudgetUSD == nil {
		c.DailyBudgetUSD = Float64Ptr(5.0)
	}
}

// Validate checks the dispatcher configuration.
func (c *DispatcherConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("dispatcher max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffInitial <= 0 {
		return fmt.Errorf("dispatcher backoff_initial must be positive")
	}
	if c.BackoffCap < c.BackoffInitial {
		return fmt.Errorf("dispatcher backoff_cap must be >= backoff_initial")
	}
	if Float64Value(c.DailyBudgetUSD, 0) < 0 {
		return fmt.Errorf("dispatcher daily_budget_usd cannot be negative")
	}
	if Float64Value(c.SessionBudgetUSD, 0) < 0 {
		return fmt.Errorf("dispatcher session_budget_usd cannot be negative")
	}
	return nil
}

// detectProviderFromEnv picks a provider based on which API key is set.
func detectProviderFromEnv() LLMProvider {
	if os.Getenv("ANTHROPIC_API_KEY") != "" {
		return LLMProviderAnthropic
	}
	if os.Getenv("OPENAI_API_KEY") != "" {
		return LLMProviderOpenAI
	}
	if os.Getenv("GEMINI_API_KEY") != "" || os.Getenv("GOOGLE_API_KEY") != "" {
		return LLMProviderGemini
	}
	if os.Getenv("GROQ_API_KEY") != "" {
		return LLMProviderGroq
	}
	// No keys found, fall back to local ollama
	return LLMProviderOllama
}

// getAPIKeyFromEnv returns the conventional env var for the provider.
func getAPIKeyFromEnv(p LLMProvider) string {
	switch p {
	case LLMProviderAnthropic:
		return os.Getenv("ANTHROPIC_API_KEY")
	case LLMProviderOpenAI:
		return os.Getenv("OPENAI_API_KEY")
	case LLMProviderGemini:
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case LLMProviderGroq:
		return os.Getenv("GROQ_API_KEY")
	default:
		return ""
	}
}
