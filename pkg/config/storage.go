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
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultMaxDocumentSize caps a single ingested file.
	DefaultMaxDocumentSize = 50 * 1024 * 1024
)

// StorageConfig locates everything mnemo persists on disk.
//
// All paths derive from DataDir unless overridden:
//
//	~/.mnemo/
//	  registry.db     document registry + keyword index (sqlite)
//	  vectors/        embedded vector store
//	  ocr/            OCR queue and sidecar results
//	  costs/          LLM cost ledger (jsonl, one file per month)
//	  events/         pipeline event log (ndjson)
//	  notes/          generated topic notes
type StorageConfig struct {
	// DataDir is the root data directory. Supports "~" expansion.
	DataDir string `yaml:"data_dir,omitempty"`

	// RegistryPath overrides the sqlite registry location.
	RegistryPath string `yaml:"registry_path,omitempty"`

	// VectorsDir overrides the embedded vector store location.
	VectorsDir string `yaml:"vectors_dir,omitempty"`

	// OCRDir overrides the OCR queue directory.
	OCRDir string `yaml:"ocr_dir,omitempty"`

	// CostsDir overrides the cost ledger directory.
	CostsDir string `yaml:"costs_dir,omitempty"`

	// EventsDir overrides the pipeline event log directory.
	EventsDir string `yaml:"events_dir,omitempty"`

	// NotesDir overrides the generated notes directory.
	NotesDir string `yaml:"notes_dir,omitempty"`
}

// SetDefaults applies default values.
func (c *StorageConfig) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "~/.mnemo"
	}
	c.DataDir = ExpandHome(c.DataDir)

	if c.RegistryPath == "" {
		c.RegistryPath = filepath.Join(c.DataDir, "registry.db")
	} else {
		c.RegistryPath = ExpandHome(c.RegistryPath)
	}
	if c.VectorsDir == "" {
		c.VectorsDir = filepath.Join(c.DataDir, "vectors")
	} else {
		c.VectorsDir = ExpandHome(c.VectorsDir)
	}
	if c.OCRDir == "" {
		c.OCRDir = filepath.Join(c.DataDir, "ocr")
	} else {
		c.OCRDir = ExpandHome(c.OCRDir)
	}
	if c.CostsDir == "" {
		c.CostsDir = filepath.Join(c.DataDir, "costs")
	} else {
		c.CostsDir = ExpandHome(c.CostsDir)
	}
	if c.EventsDir == "" {
		c.EventsDir = filepath.Join(c.DataDir, "events")
	} else {
		c.EventsDir = ExpandHome(c.EventsDir)
	}
	if c.NotesDir == "" {
		c.NotesDir = filepath.Join(c.DataDir, "notes")
	} else {
		c.NotesDir = ExpandHome(c.NotesDir)
	}
}

// Validate checks the storage configuration.
func (c *StorageConfig) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("storage data_dir is required")
	}
	return nil
}

// EnsureDirs creates every configured directory.
func (c *StorageConfig) EnsureDirs() error {
	dirs := []string{
		c.DataDir,
		filepath.Dir(c.RegistryPath),
		c.VectorsDir,
		c.OCRDir,
		c.CostsDir,
		c.EventsDir,
		c.NotesDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// OCRConfig configures the OCR handoff queue.
//
// Image-heavy documents are parked in a filesystem queue and picked up
// by an external OCR worker (typically over MCP). Results come back as
// sidecar files next to the queue entry.
type OCRConfig struct {
	// Enabled turns on OCR routing for image-only documents (default true).
	Enabled *bool `yaml:"enabled,omitempty"`

	// MaxAttempts before an entry is marked failed.
	MaxAttempts int `yaml:"max_attempts,omitempty"`

	// Languages hints the OCR engine (e.g., ["eng", "deu"]).
	Languages []string `yaml:"languages,omitempty"`

	// PollInterval between queue scans for completed results.
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`

	// MinTextChars below which a PDF page counts as image-only.
	MinTextChars int `yaml:"min_text_chars,omitempty"`

	// Command launches the MCP OCR server as a stdio subprocess.
	// Re-OCR is skipped when empty.
	Command string `yaml:"command,omitempty"`

	// Args passed to the OCR server command.
	Args []string `yaml:"args,omitempty"`

	// Env for the OCR server process ("KEY: value" pairs).
	Env map[string]string `yaml:"env,omitempty"`

	// Tools are candidate MCP tool names tried in declaration order.
	Tools []string `yaml:"tools,omitempty"`
}

// SetDefaults applies default values.
func (c *OCRConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if len(c.Languages) == 0 {
		c.Languages = []string{"eng"}
	}
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.MinTextChars == 0 {
		c.MinTextChars = 64
	}
	if len(c.Tools) == 0 {
		c.Tools = []string{"ocr_document", "ocr", "extract_text"}
	}
}

// Validate checks the OCR configuration.
func (c *OCRConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("ocr max_attempts must be at least 1")
	}
	return nil
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	// Workers is the number of concurrent pipeline workers.
	Workers int `yaml:"workers,omitempty"`

	// InboxDir is watched for dropped files when set.
	InboxDir string `yaml:"inbox_dir,omitempty"`

	// MaxFileSize caps a single ingested file in bytes.
	MaxFileSize int64 `yaml:"max_file_size,omitempty"`

	// QueueSize bounds the pending-document queue.
	QueueSize int `yaml:"queue_size,omitempty"`
}

// SetDefaults applies default values.
func (c *IngestConfig) SetDefaults() {
	if c.Workers == 0 {
		c.Workers = 5
	}
	if c.InboxDir != "" {
		c.InboxDir = ExpandHome(c.InboxDir)
	}
	if c.MaxFileSize == 0 {
		c.MaxFileSize = DefaultMaxDocumentSize
	}
	if c.QueueSize == 0 {
		c.QueueSize = 256
	}
}

// Validate checks the ingest configuration.
func (c *IngestConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("ingest workers must be at least 1")
	}
	if c.MaxFileSize < 1 {
		return fmt.Errorf("ingest max_file_size must be positive")
	}
	return nil
}
