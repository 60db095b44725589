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

package config

import (
	"fmt"
	"os"
	"time"
)

// EmbedderProvider identifies the embedding provider type.
type EmbedderProvider string

const (
	EmbedderProviderOllama EmbedderProvider = "ollama"
	EmbedderProviderOpenAI EmbedderProvider = "openai"
)

// EmbedderConfig configures the embedding model.
//
// A corpus is bound to one embedding model: vectors from different
// models are not comparable, so changing the model requires reindexing.
type EmbedderConfig struct {
	// Provider type (ollama, openai).
	Provider EmbedderProvider `yaml:"provider,omitempty"`

	// Model name (e.g., "nomic-embed-text", "text-embedding-3-small").
	Model string `yaml:"model,omitempty"`

	// Dimension of the produced vectors.
	Dimension int `yaml:"dimension,omitempty"`

	// BaseURL overrides the default endpoint.
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey for hosted providers. Supports ${VAR} expansion.
	APIKey string `yaml:"api_key,omitempty"`

	// Timeout for a single embedding request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// MaxRetries for transient failures.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// BatchSize bounds how many texts go into one request.
	BatchSize int `yaml:"batch_size,omitempty"`
}

// SetDefaults applies default values.
func (c *EmbedderConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = EmbedderProviderOllama
	}
	if c.Model == "" {
		switch c.Provider {
		case EmbedderProviderOllama:
			c.Model = "nomic-embed-text"
		case EmbedderProviderOpenAI:
			c.Model = "text-embedding-3-small"
		}
	}
	if c.Dimension == 0 {
		switch {
		case c.Provider == EmbedderProviderOllama && c.Model == "nomic-embed-text":
			c.Dimension = 768
		case c.Provider == EmbedderProviderOpenAI && c.Model == "text-embedding-3-small":
			c.Dimension = 1536
		case c.Provider == EmbedderProviderOpenAI && c.Model == "text-embedding-3-large":
			c.Dimension = 3072
		}
	}
	if c.Provider == EmbedderProviderOllama && c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Provider == EmbedderProviderOpenAI && c.APIKey == "" {
		c.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.BatchSize == 0 {
		c.BatchSize = 32
	}
}

// Validate checks the embedder configuration.
func (c *EmbedderConfig) Validate() error {
	switch c.Provider {
	case EmbedderProviderOllama, EmbedderProviderOpenAI:
	default:
		return fmt.Errorf("invalid embedder provider %q (valid: ollama, openai)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("embedder model is required")
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("embedder dimension must be positive (set it explicitly for model %q)", c.Model)
	}
	if c.Provider == EmbedderProviderOpenAI && c.APIKey == "" {
		return fmt.Errorf("api key is required for the openai embedder")
	}
	return nil
}
