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

package document

import (
	"math"
	"time"
)

// SourceKind identifies the coarse origin class of a document.
type SourceKind string

const (
	SourceText     SourceKind = "text"
	SourceMarkdown SourceKind = "markdown"
	SourcePDF      SourceKind = "pdf"
	SourceOffice   SourceKind = "office"
	SourceEmail    SourceKind = "email"
	SourceChat     SourceKind = "chat"
	SourceImage    SourceKind = "image"
	SourceHTML     SourceKind = "html"
	SourceCode     SourceKind = "code"
	SourceOther    SourceKind = "other"
)

// Provenance records immutable origin metadata for a document.
type Provenance struct {
	OriginalFilename string   `json:"original_filename,omitempty" yaml:"original_filename,omitempty"`
	MessageID        string   `json:"message_id,omitempty" yaml:"message_id,omitempty"`
	InReplyTo        string   `json:"in_reply_to,omitempty" yaml:"in_reply_to,omitempty"`
	References       []string `json:"references,omitempty" yaml:"references,omitempty"`
	// ThreadID is the hex MD5 of the normalized subject for email parts.
	ThreadID string `json:"thread_id,omitempty" yaml:"thread_id,omitempty"`
	// PartRange is the byte range of this part within a multi-part source.
	PartRange string `json:"part_range,omitempty" yaml:"part_range,omitempty"`
}

// Entities holds document-local extracted values.
type Entities struct {
	Dates   []string `json:"dates,omitempty" yaml:"dates,omitempty"`
	Numbers []string `json:"numbers,omitempty" yaml:"numbers,omitempty"`
}

// EnrichedMetadata is the structured metadata produced by the enrichment
// stage. Topics, projects, places and people are controlled-vocabulary
// slash paths; organizations and technologies are free text deduplicated
// by canonical form.
type EnrichedMetadata struct {
	Topics        []string `json:"topics,omitempty" yaml:"topics,omitempty" validate:"max=16"`
	Projects      []string `json:"projects,omitempty" yaml:"projects,omitempty" validate:"max=16"`
	Places        []string `json:"places,omitempty" yaml:"places,omitempty" validate:"max=16"`
	People        []string `json:"people,omitempty" yaml:"people,omitempty" validate:"max=32"`
	Organizations []string `json:"organizations,omitempty" yaml:"organizations,omitempty" validate:"max=32"`
	Technologies  []string `json:"technologies,omitempty" yaml:"technologies,omitempty" validate:"max=32"`
	Entities      Entities `json:"entities" yaml:"entities"`
	Summary       string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	SuggestedTags []string `json:"suggested_tags,omitempty" yaml:"suggested_tags,omitempty"`

	// EnrichmentVersion is "v1" for LLM-produced metadata and "fallback"
	// for the degraded heuristic record written when all providers fail.
	EnrichmentVersion string  `json:"enrichment_version" yaml:"enrichment_version"`
	EnrichmentCost    float64 `json:"enrichment_cost_usd" yaml:"enrichment_cost_usd"`
}

// EnrichmentVersionFallback marks metadata produced without an LLM.
const (
	EnrichmentVersionV1       = "v1"
	EnrichmentVersionFallback = "fallback"
)

// Scores carries the quality verdict computed at ingest time.
type Scores struct {
	Quality       float64 `json:"quality" yaml:"quality_score"`
	Novelty       float64 `json:"novelty" yaml:"novelty_score"`
	Actionability float64 `json:"actionability" yaml:"actionability_score"`
	Signalness    float64 `json:"signalness" yaml:"signalness"`
	DoIndex       bool    `json:"do_index" yaml:"do_index"`
	GateReason    string  `json:"gate_reason,omitempty" yaml:"gate_reason,omitempty"`
}

// Signalness weights. Index-worthiness loads on quality first.
const (
	WeightQuality       = 0.4
	WeightNovelty       = 0.3
	WeightActionability = 0.3
)

// ComputeSignalness combines the three component scores with the fixed
// weights and rounds to 4 decimals.
func ComputeSignalness(quality, novelty, actionability float64) float64 {
	return Round4(WeightQuality*quality + WeightNovelty*novelty + WeightActionability*actionability)
}

// Round4 rounds to 4 decimal places.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

// Clamp01 clips v into [0,1]. Every score surfaced by the service passes
// through this; raw similarity values above 1 must never escape.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Document is a logical unit created from a single source. Immutable once
// indexed; superseded by a new DocID on re-ingest of changed content.
type Document struct {
	DocID      string     `json:"doc_id" yaml:"id"`
	SourceKind SourceKind `json:"source_kind" yaml:"doc_type"`
	Title      string     `json:"title" yaml:"title"`
	IngestedAt time.Time  `json:"ingested_at" yaml:"ingested_at"`
	CreatedAt  time.Time  `json:"created_at" yaml:"created_at"`

	// ContentHash is the hex SHA-256 of the canonical UTF-8 text.
	ContentHash string `json:"content_hash" yaml:"content_hash"`
	ByteSize    int64  `json:"byte_size" yaml:"byte_size"`

	// OCRConfidence is set only for image-derived text.
	OCRConfidence *float64 `json:"ocr_confidence,omitempty" yaml:"ocr_confidence,omitempty"`

	Provenance Provenance       `json:"provenance" yaml:"provenance"`
	Metadata   EnrichedMetadata `json:"metadata" yaml:"metadata"`
	Scores     Scores           `json:"scores" yaml:"scores"`

	IsDuplicate bool `json:"is_duplicate,omitempty" yaml:"is_duplicate,omitempty"`
}

// GoldQuery is a labeled evaluation query used by retrieval quality tests.
type GoldQuery struct {
	QueryText      string   `json:"query_text" yaml:"query_text"`
	ExpectedDocIDs []string `json:"expected_doc_ids" yaml:"expected_doc_ids"`
	Notes          string   `json:"notes,omitempty" yaml:"notes,omitempty"`
}
