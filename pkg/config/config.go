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

// Package config defines the mnemo configuration model.
//
// Configuration loads from a YAML (or JSON) file, expands environment
// variables, applies defaults, and validates. Every section works with
// an empty file: the zero configuration runs fully local with ollama,
// an embedded vector store, and a SQLite registry under ~/.mnemo.
package config

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/kadirpekel/mnemo/pkg/chunker"
	"github.com/kadirpekel/mnemo/pkg/observability"
	"github.com/kadirpekel/mnemo/pkg/scoring"
)

// Config is the root configuration.
type Config struct {
	// LLMs declares named chat model endpoints.
	LLMs map[string]*LLMConfig `yaml:"llms,omitempty"`

	// Dispatcher orders the LLMs into a fallback ladder.
	Dispatcher DispatcherConfig `yaml:"dispatcher,omitempty"`

	// Embedder configures the embedding model.
	Embedder EmbedderConfig `yaml:"embedder,omitempty"`

	// Vector configures vector storage.
	Vector VectorConfig `yaml:"vector,omitempty"`

	// Database configures the document registry.
	Database DatabaseConfig `yaml:"database,omitempty"`

	// Storage locates persisted state on disk.
	Storage StorageConfig `yaml:"storage,omitempty"`

	// Vocabulary locates the controlled topic/people vocabulary.
	Vocabulary VocabularyConfig `yaml:"vocabulary,omitempty"`

	// Chunker configures text splitting.
	Chunker chunker.Config `yaml:"chunker,omitempty"`

	// Scoring configures quality and signalness scoring.
	Scoring scoring.Config `yaml:"scoring,omitempty"`

	// Enrichment configures LLM metadata extraction.
	Enrichment EnrichmentConfig `yaml:"enrichment,omitempty"`

	// OCR configures the OCR handoff queue.
	OCR OCRConfig `yaml:"ocr,omitempty"`

	// Ingest configures the ingestion pipeline.
	Ingest IngestConfig `yaml:"ingest,omitempty"`

	// Retrieval configures hybrid search.
	Retrieval RetrievalConfig `yaml:"retrieval,omitempty"`

	// Rerank configures the cross-encoder stage.
	Rerank RerankConfig `yaml:"rerank,omitempty"`

	// Hyde configures hypothetical document expansion.
	Hyde HydeConfig `yaml:"hyde,omitempty"`

	// Confidence configures the answer/refuse gate.
	Confidence ConfidenceConfig `yaml:"confidence,omitempty"`

	// Synthesis configures answer generation.
	Synthesis SynthesisConfig `yaml:"synthesis,omitempty"`

	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server,omitempty"`

	// Logger configures logging.
	Logger LoggerConfig `yaml:"logger,omitempty"`

	// Observability configures tracing and metrics.
	Observability observability.Config `yaml:"observability,omitempty"`
}

// VocabularyConfig locates the controlled vocabulary files.
type VocabularyConfig struct {
	// Dir holds topics.yaml, people.yaml, and watchlist.yaml.
	Dir string `yaml:"dir,omitempty"`

	// Watch reloads the vocabulary when the files change.
	Watch *bool `yaml:"watch,omitempty"`
}

// SetDefaults applies default values.
func (c *VocabularyConfig) SetDefaults(storage *StorageConfig) {
	if c.Dir == "" {
		c.Dir = filepath.Join(storage.DataDir, "vocabulary")
	} else {
		c.Dir = ExpandHome(c.Dir)
	}
	if c.Watch == nil {
		c.Watch = BoolPtr(true)
	}
}

// SetDefaults applies defaults across all sections.
//
// Storage defaults run first because several sections derive their
// paths from the data directory.
func (c *Config) SetDefaults() {
	c.Storage.SetDefaults()
	c.Vocabulary.SetDefaults(&c.Storage)

	if len(c.LLMs) == 0 {
		c.LLMs = map[string]*LLMConfig{
			"default": {},
		}
	}
	for _, llm := range c.LLMs {
		llm.SetDefaults()
	}
	c.Dispatcher.SetDefaults()
	if len(c.Dispatcher.Ladder) == 0 {
		c.Dispatcher.Ladder = defaultLadder(c.LLMs)
	}

	c.Embedder.SetDefaults()

	c.Vector.SetDefaults()
	if c.Vector.Backend == VectorBackendChromem && c.Vector.Chromem.PersistPath == "" {
		c.Vector.Chromem.PersistPath = c.Storage.VectorsDir
	}

	c.Database.SetDefaults()
	if c.Database.Database == "" && c.Database.Dialect() == "sqlite" {
		c.Database.Database = c.Storage.RegistryPath
	}

	c.Chunker.SetDefaults()
	c.Scoring.SetDefaults()
	c.Enrichment.SetDefaults()
	c.OCR.SetDefaults()
	c.Ingest.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Rerank.SetDefaults()
	c.Hyde.SetDefaults()
	c.Confidence.SetDefaults()
	c.Synthesis.SetDefaults()
	c.Server.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// defaultLadder orders llm names by declared input cost, cheapest
// first, so an unconfigured ladder still climbs in price order.
func defaultLadder(llms map[string]*LLMConfig) []string {
	names := make([]string, 0, len(llms))
	for name := range llms {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := llms[names[i]].InputCostPer1M, llms[names[j]].InputCostPer1M
		if ci != cj {
			return ci < cj
		}
		return names[i] < names[j]
	})
	return names
}

// Validate checks the whole configuration, including cross-section
// references.
func (c *Config) Validate() error {
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("llms.%s: %w", name, err)
		}
	}
	if err := c.Dispatcher.Validate(); err != nil {
		return err
	}
	for _, name := range c.Dispatcher.Ladder {
		if _, ok := c.LLMs[name]; !ok {
			return fmt.Errorf("dispatcher ladder references unknown llm %q", name)
		}
	}

	validators := []struct {
		name string
		fn   func() error
	}{
		{"embedder", c.Embedder.Validate},
		{"vector", c.Vector.Validate},
		{"database", c.Database.Validate},
		{"storage", c.Storage.Validate},
		{"chunker", c.Chunker.Validate},
		{"scoring", c.Scoring.Validate},
		{"enrichment", c.Enrichment.Validate},
		{"ocr", c.OCR.Validate},
		{"ingest", c.Ingest.Validate},
		{"retrieval", c.Retrieval.Validate},
		{"rerank", c.Rerank.Validate},
		{"hyde", c.Hyde.Validate},
		{"confidence", c.Confidence.Validate},
		{"synthesis", c.Synthesis.Validate},
		{"server", c.Server.Validate},
		{"logger", c.Logger.Validate},
		{"observability", c.Observability.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}

	for section, name := range map[string]string{
		"rerank.llm":    c.Rerank.LLM,
		"hyde.llm":      c.Hyde.LLM,
		"synthesis.llm": c.Synthesis.LLM,
	} {
		if name == "" {
			continue
		}
		if _, ok := c.LLMs[name]; !ok {
			return fmt.Errorf("%s references unknown llm %q", section, name)
		}
	}

	return nil
}

// LLMFor resolves a named llm, falling back to the bottom of the
// dispatcher ladder when name is empty.
func (c *Config) LLMFor(name string) (*LLMConfig, error) {
	if name == "" {
		if len(c.Dispatcher.Ladder) == 0 {
			return nil, fmt.Errorf("no llms configured")
		}
		name = c.Dispatcher.Ladder[0]
	}
	llm, ok := c.LLMs[name]
	if !ok {
		return nil, fmt.Errorf("unknown llm %q", name)
	}
	return llm, nil
}
