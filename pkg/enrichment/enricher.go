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

// Package enrichment produces structured metadata and a working title
// for extracted documents.
//
// Extraction runs through the llms dispatcher as a schema-constrained
// call with the controlled vocabularies inlined in the prompt. The
// model's reply is never trusted as-is: topics snap onto vocabulary
// paths or become suggestions, entities must be attested in the source
// text, and people are canonicalized against the cross-document
// registry. When every provider fails, the document still gets a
// degraded heuristic record, so ingestion never blocks on a model.
package enrichment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

// Completer is the dispatcher surface enrichment uses.
type Completer interface {
	Complete(ctx context.Context, req llms.CompletionRequest) (*llms.Result, error)
	CompleteStructured(ctx context.Context, req llms.CompletionRequest, schema *llms.Schema, out any) (*llms.Result, error)
}

// Registry is the corpus surface enrichment reads and writes: the
// people table for canonicalization and topic usage counts for
// vocabulary ranking.
type Registry interface {
	People(ctx context.Context) ([]corpus.Person, error)
	UpsertPerson(ctx context.Context, canonicalName, alias string) (int64, error)
	TopicCounts(ctx context.Context) (map[string]int, error)
}

// Input is the cleaned text plus the light context the pipeline knows
// before enrichment.
type Input struct {
	DocID    string
	Text     string
	Filename string
	Subject  string
	Kind     document.SourceKind
}

// Enricher runs the metadata extraction stage for one document at a
// time. Instances are safe for concurrent use.
type Enricher struct {
	completer Completer
	vocab     *vocabulary.Vocabulary
	registry  Registry
	cfg       config.EnrichmentConfig
	schema    *llms.Schema
	logger    *slog.Logger
}

// New builds an Enricher over the dispatcher, vocabulary and registry
// surfaces.
func New(completer Completer, vocab *vocabulary.Vocabulary, registry Registry, cfg config.EnrichmentConfig) (*Enricher, error) {
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if vocab == nil {
		return nil, fmt.Errorf("vocabulary is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	cfg.SetDefaults()

	schema, err := llms.SchemaFor[extraction]("document_metadata")
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction schema: %w", err)
	}
	return &Enricher{
		completer: completer,
		vocab:     vocab,
		registry:  registry,
		cfg:       cfg,
		schema:    schema,
		logger:    slog.Default().With("component", "enrichment"),
	}, nil
}

// Enrich produces metadata and a title for one document. A total LLM
// failure (all providers down, nothing decodable, budget exhausted)
// degrades to the heuristic fallback record instead of an error;
// cancellation propagates and never falls back.
func (e *Enricher) Enrich(ctx context.Context, in Input) (*document.EnrichedMetadata, string, error) {
	title := DeriveTitle(in.Text, in.Filename, in.Subject)

	if !config.BoolValue(e.cfg.Enabled, true) {
		return e.fallback(in), orUntitled(title), nil
	}

	req := llms.CompletionRequest{
		System:      extractionSystem,
		Prompt:      e.buildExtractionPrompt(in, e.topicCounts(ctx)),
		MaxTokens:   1500,
		Temperature: config.Float64Ptr(0.1),
		Op:          "enrich",
		DocID:       in.DocID,
	}

	var ex extraction
	res, err := e.completer.CompleteStructured(ctx, req, e.schema, &ex)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		if isTotalLLMFailure(err) {
			e.logger.Warn("Extraction failed, writing fallback metadata",
				"doc_id", in.DocID, "error", err)
			return e.fallback(in), orUntitled(title), nil
		}
		return nil, "", err
	}

	meta := e.refine(ctx, in, &ex)
	meta.EnrichmentCost = res.USD + e.ensureSummaryWindow(ctx, in, meta)

	if title == "" {
		title = strings.TrimSpace(ex.Title)
	}
	return meta, orUntitled(title), nil
}

// topicCounts loads registry usage counts for prompt ranking. Lookup
// failures degrade to unranked truncation.
func (e *Enricher) topicCounts(ctx context.Context) map[string]int {
	counts, err := e.registry.TopicCounts(ctx)
	if err != nil {
		e.logger.Warn("Topic counts unavailable, vocabulary ranking disabled", "error", err)
		return nil
	}
	return counts
}

// isTotalLLMFailure reports the error classes that degrade to the
// fallback record: every provider failed, no rung produced decodable
// output, or the budget guard refused the call.
func isTotalLLMFailure(err error) bool {
	return document.IsKind(err, document.KindProvider) ||
		document.IsKind(err, document.KindSchema) ||
		document.IsKind(err, document.KindBudget)
}

func orUntitled(title string) string {
	if title == "" {
		return "Untitled"
	}
	return title
}
