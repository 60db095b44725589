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

// Package pipeline orchestrates ingestion and query flows. Ingestion
// runs extract, dedup, enrich, score, chunk, embed, and index in strict
// order with an error boundary around each step; the query side fuses
// hybrid retrieval, optional expansion, reranking, the confidence gate,
// and synthesis.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/mnemo/pkg/chunker"
	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/dedup"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/embedders"
	"github.com/kadirpekel/mnemo/pkg/enrichment"
	"github.com/kadirpekel/mnemo/pkg/notes"
	"github.com/kadirpekel/mnemo/pkg/observability"
	"github.com/kadirpekel/mnemo/pkg/ocr"
	"github.com/kadirpekel/mnemo/pkg/scoring"
	"github.com/kadirpekel/mnemo/pkg/sources"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Ingest outcomes. Duplicate and gated are business results, not
// failures.
const (
	StatusIndexed   = "indexed"
	StatusDuplicate = "duplicate"
	StatusGated     = "gated"
	StatusFailed    = "failed"
)

// Hints carries caller-supplied context for one ingest.
type Hints struct {
	// Filename is the original name, used for kind detection and
	// provenance.
	Filename string

	// Kind forces a source kind instead of detection.
	Kind string

	// MIME is the declared content type, if any.
	MIME string

	// SourcePath locates the original file for OCR retries.
	SourcePath string
}

// IngestResult is the tagged outcome of one ingest.
type IngestResult struct {
	DocID      string                     `json:"doc_id"`
	Status     string                     `json:"status"`
	Chunks     int                        `json:"chunks"`
	Title      string                     `json:"title,omitempty"`
	Metadata   *document.EnrichedMetadata `json:"metadata,omitempty"`
	Scores     *document.Scores           `json:"scores,omitempty"`
	GateReason string                     `json:"gate_reason,omitempty"`
	Duplicate  bool                       `json:"duplicate,omitempty"`
	Gated      bool                       `json:"gated,omitempty"`

	// NearDuplicateOf names an existing document within SimHash
	// distance. Advisory: the ingest proceeded; the pair is also
	// recorded as a suggested tag for review.
	NearDuplicateOf string `json:"near_duplicate_of,omitempty"`

	// FailureKind classifies a failed status for transport mapping.
	FailureKind document.ErrorKind `json:"failure_kind,omitempty"`

	// CostUSD is the enrichment spend attributed to this document.
	CostUSD float64 `json:"cost_usd"`
}

// Deps bundles the stages the ingest pipeline drives. OCRQueue, Notes,
// Metrics, and Events are optional.
type Deps struct {
	Sources  *sources.Registry
	Deduper  *dedup.Deduper
	Enricher *enrichment.Enricher
	Scorer   *scoring.Scorer
	Chunker  *chunker.Chunker
	Embedder embedders.Embedder
	Corpus   *corpus.Manager
	OCRQueue *ocr.Queue
	Notes    *notes.Writer
	Metrics  *observability.Metrics
	Events   *observability.EventLog
}

// Pipeline runs the ingestion sequence for one document at a time.
// Instances are safe for concurrent use.
type Pipeline struct {
	deps   Deps
	cfg    config.IngestConfig
	logger *slog.Logger
}

// New builds an ingest pipeline. The required stages must be non-nil.
func New(deps Deps, cfg config.IngestConfig) (*Pipeline, error) {
	if deps.Sources == nil || deps.Deduper == nil || deps.Enricher == nil ||
		deps.Scorer == nil || deps.Chunker == nil || deps.Embedder == nil ||
		deps.Corpus == nil {
		return nil, document.NewError(document.KindFatal, "pipeline.new", "missing required stage")
	}
	cfg.SetDefaults()
	return &Pipeline{
		deps:   deps,
		cfg:    cfg,
		logger: slog.Default().With("component", "pipeline"),
	}, nil
}

// Corpus exposes the index manager for query-side wiring.
func (p *Pipeline) Corpus() *corpus.Manager { return p.deps.Corpus }

// Ingest runs the full sequence for one source. Duplicate and gated
// outcomes return with a nil error; step failures return a failed
// result together with the classified error.
func (p *Pipeline) Ingest(ctx context.Context, data []byte, hints Hints) (*IngestResult, error) {
	started := time.Now()
	res, err := p.ingest(ctx, data, hints)
	if err != nil {
		res = &IngestResult{Status: StatusFailed, FailureKind: document.KindOf(err)}
	}

	p.deps.Metrics.RecordIngest(ctx, res.Status, time.Since(started), res.Chunks)
	p.deps.Events.Info("ingest",
		"doc_id", res.DocID,
		"status", res.Status,
		"chunks", res.Chunks,
		"filename", hints.Filename,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, data []byte, hints Hints) (*IngestResult, error) {
	if len(data) == 0 {
		return nil, document.NewError(document.KindValidation, "ingest", "empty input")
	}
	if p.cfg.MaxFileSize > 0 && int64(len(data)) > p.cfg.MaxFileSize {
		return nil, document.NewError(document.KindValidation, "ingest", "input exceeds size limit")
	}

	// Extract.
	extracted, err := p.deps.Sources.Extract(ctx, hints.MIME, data, p.detectHint(hints))
	if err != nil {
		return nil, document.WrapError(document.KindParse, "ingest.extract", err)
	}

	doc := p.newDocument(extracted, hints, int64(len(data)))

	text := utils.StripIgnoreRegions(utils.NormalizeText(extracted.Text))
	if text == "" {
		return p.recordEmptyText(ctx, doc, data, hints, extracted)
	}

	// Dedup before any LLM spend.
	dup, err := p.deps.Deduper.Check(ctx, text)
	if err != nil {
		return nil, document.WrapError(document.KindConsistency, "ingest.dedup", err)
	}
	doc.ContentHash = dup.ContentHash
	if dup.IsDuplicate {
		doc.IsDuplicate = true
		if err := p.deps.Corpus.Registry().RecordDuplicate(ctx, doc, dup.ExistingDocID); err != nil {
			return nil, document.WrapError(document.KindConsistency, "ingest.dedup", err)
		}
		return &IngestResult{DocID: dup.ExistingDocID, Status: StatusDuplicate, Duplicate: true}, nil
	}

	// Enrich. Total LLM failure degrades to fallback metadata inside
	// the enricher; anything surfacing here is a real failure.
	meta, title, err := p.deps.Enricher.Enrich(ctx, enrichment.Input{
		DocID:    doc.DocID,
		Text:     text,
		Filename: hints.Filename,
		Subject:  extracted.SourceMeta["subject"],
		Kind:     doc.SourceKind,
	})
	if err != nil {
		return nil, err
	}
	doc.Metadata = *meta
	doc.Title = title

	// Score and gate.
	profile := scoring.ProfileFor(doc.SourceKind)
	scores, err := p.deps.Scorer.Score(ctx, doc, text, true, profile)
	if err != nil {
		return nil, document.WrapError(document.KindConsistency, "ingest.score", err)
	}
	doc.Scores = scores

	// Chunk and embed. Gated documents are still chunked for the full
	// corpus.
	chunks, err := p.deps.Chunker.Chunk(doc, text)
	if err != nil {
		return nil, document.WrapError(document.KindParse, "ingest.chunk", err)
	}
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}
	embeddings, err := p.deps.Embedder.Embed(ctx, texts, embedders.KindDocument)
	if err != nil {
		return nil, document.WrapError(document.KindProvider, "ingest.embed", err)
	}

	// A SimHash neighbor never blocks the ingest, but the flag must
	// reach a human: it rides the suggested-tags table and the result.
	if dup.NearDuplicateOf != "" {
		doc.Metadata.SuggestedTags = append(doc.Metadata.SuggestedTags, "near-duplicate/"+dup.NearDuplicateOf)
	}

	// Index both views through the corpus manager.
	if _, err := p.deps.Corpus.Add(ctx, doc, dup.SimHash, chunks, embeddings, profile); err != nil {
		return nil, err
	}

	p.enqueueOCR(doc, hints, doc.OCRConfidence)
	p.writeNote(doc, text, data)

	result := &IngestResult{
		DocID:           doc.DocID,
		Status:          StatusIndexed,
		Chunks:          len(chunks),
		Title:           doc.Title,
		Metadata:        &doc.Metadata,
		Scores:          &doc.Scores,
		GateReason:      scores.GateReason,
		NearDuplicateOf: dup.NearDuplicateOf,
		CostUSD:         doc.Metadata.EnrichmentCost,
	}
	if !scores.DoIndex {
		result.Status = StatusGated
		result.Gated = true
	}
	return result, nil
}

// recordEmptyText records a document whose source yielded no text. It
// lands in the full view with zero chunks and never enters canonical;
// image-derived sources are still queued for OCR so a later recognition
// can supersede it. The content hash covers the raw bytes since there
// is no canonical text to hash.
func (p *Pipeline) recordEmptyText(ctx context.Context, doc *document.Document, data []byte, hints Hints, extracted *sources.ExtractResult) (*IngestResult, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existingID, found, err := p.deps.Corpus.Registry().LookupHash(ctx, hash)
	if err != nil {
		return nil, document.WrapError(document.KindConsistency, "ingest.dedup", err)
	}
	doc.ContentHash = hash
	if found {
		doc.IsDuplicate = true
		if err := p.deps.Corpus.Registry().RecordDuplicate(ctx, doc, existingID); err != nil {
			return nil, document.WrapError(document.KindConsistency, "ingest.dedup", err)
		}
		return &IngestResult{DocID: existingID, Status: StatusDuplicate, Duplicate: true}, nil
	}

	doc.Title = titleFromFilename(hints.Filename)
	doc.Scores = document.Scores{GateReason: "no text extracted"}

	profile := scoring.ProfileFor(doc.SourceKind)
	if _, err := p.deps.Corpus.Add(ctx, doc, dedup.SimHash(""), nil, nil, profile); err != nil {
		return nil, err
	}
	p.enqueueOCR(doc, hints, extracted.OCRConfidence)

	return &IngestResult{
		DocID:      doc.DocID,
		Status:     StatusGated,
		Gated:      true,
		Title:      doc.Title,
		Scores:     &doc.Scores,
		GateReason: doc.Scores.GateReason,
	}, nil
}

// titleFromFilename is the last-resort title for documents that never
// reach enrichment's title ladder.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." {
		return "Untitled"
	}
	return base
}

func (p *Pipeline) newDocument(extracted *sources.ExtractResult, hints Hints, size int64) *document.Document {
	now := time.Now().UTC()
	doc := &document.Document{
		DocID:         uuid.NewString(),
		SourceKind:    document.SourceKind(extracted.Kind),
		IngestedAt:    now,
		CreatedAt:     now,
		ByteSize:      size,
		OCRConfidence: extracted.OCRConfidence,
		Provenance: document.Provenance{
			OriginalFilename: hints.Filename,
			MessageID:        extracted.SourceMeta["message_id"],
			InReplyTo:        extracted.SourceMeta["in_reply_to"],
			ThreadID:         extracted.SourceMeta["thread_id"],
			PartRange:        extracted.SourceMeta["part_range"],
		},
	}
	if raw := extracted.SourceMeta["date"]; raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			doc.CreatedAt = t.UTC()
		}
	}
	return doc
}

func (p *Pipeline) detectHint(hints Hints) string {
	if hints.Kind != "" {
		return hints.Kind
	}
	return hints.Filename
}

// enqueueOCR hands low-confidence extractions to the retry queue.
// Reports whether an entry was queued.
func (p *Pipeline) enqueueOCR(doc *document.Document, hints Hints, confidence *float64) bool {
	if p.deps.OCRQueue == nil || hints.SourcePath == "" {
		return false
	}
	if !ocr.ShouldReOCR(confidence, string(doc.SourceKind)) {
		return false
	}
	conf := 0.0
	if confidence != nil {
		conf = *confidence
	}
	if err := p.deps.OCRQueue.Enqueue(doc.DocID, hints.SourcePath, conf); err != nil {
		p.logger.Warn("OCR enqueue failed", "doc_id", doc.DocID, "error", err)
		return false
	}
	return true
}

// writeNote exports the knowledge note. Note failures never fail the
// ingest; the indexes are already consistent.
func (p *Pipeline) writeNote(doc *document.Document, text string, raw []byte) {
	if p.deps.Notes == nil {
		return
	}
	sum := sha256.Sum256(raw)
	if _, err := p.deps.Notes.Write(doc, text, hex.EncodeToString(sum[:])); err != nil {
		p.logger.Warn("Note export failed", "doc_id", doc.DocID, "error", err)
	}
}
