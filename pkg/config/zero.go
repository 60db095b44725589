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

import "fmt"

// ZeroConfig are CLI options for running without a config file.
//
// The resulting setup is fully local unless an API key is present:
// ollama for chat and embeddings, an embedded vector store, and a
// SQLite registry under the data directory.
type ZeroConfig struct {
	// Provider type (anthropic, openai, gemini, groq, ollama).
	// Empty auto-detects from environment API keys.
	Provider string

	// Model name.
	Model string

	// APIKey (usually from environment).
	APIKey string

	// BaseURL is a custom API base URL.
	BaseURL string

	// DataDir overrides the default ~/.mnemo.
	DataDir string

	// Port for the server.
	Port int

	// DailyBudgetUSD caps paid LLM spend per day.
	DailyBudgetUSD float64

	// InboxDir enables the drop-folder watcher.
	InboxDir string
}

// Config materializes a full configuration from the zero-config
// options, with defaults applied and validated.
func (z *ZeroConfig) Config() (*Config, error) {
	cfg := &Config{
		LLMs: map[string]*LLMConfig{
			"default": {
				Provider: LLMProvider(z.Provider),
				Model:    z.Model,
				APIKey:   z.APIKey,
				BaseURL:  z.BaseURL,
			},
		},
		Storage: StorageConfig{
			DataDir: z.DataDir,
		},
		Ingest: IngestConfig{
			InboxDir: z.InboxDir,
		},
		Server: ServerConfig{
			Port: z.Port,
		},
	}

	if z.DailyBudgetUSD > 0 {
		cfg.Dispatcher.DailyBudgetUSD = Float64Ptr(z.DailyBudgetUSD)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("zero config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns the fully-local default configuration.
func DefaultConfig() (*Config, error) {
	z := &ZeroConfig{}
	return z.Config()
}
