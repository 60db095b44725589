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
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// ChunkKind classifies the structural role of a chunk.
type ChunkKind string

const (
	ChunkParagraph ChunkKind = "paragraph"
	ChunkHeading   ChunkKind = "heading"
	ChunkList      ChunkKind = "list"
	ChunkTable     ChunkKind = "table"
	ChunkCode      ChunkKind = "code"
	ChunkOther     ChunkKind = "other"
)

// Atomic reports whether chunks of this kind must never be merged with or
// split across neighbors, regardless of size.
func (k ChunkKind) Atomic() bool {
	return k == ChunkTable || k == ChunkCode
}

// Chunk is a retrieval unit. ParentTitles is always a flat, ordered list
// of ancestor heading strings; nested structures are forbidden.
type Chunk struct {
	ChunkID       string    `json:"chunk_id"`
	DocID         string    `json:"doc_id"`
	Text          string    `json:"text"`
	TokenEstimate int       `json:"token_estimate"`
	Kind          ChunkKind `json:"kind"`
	ParentTitles  []string  `json:"parent_titles"`
	Position      int       `json:"position"`

	// Copied document metadata for filterable retrieval.
	Title       string     `json:"title,omitempty"`
	Topics      []string   `json:"topics,omitempty"`
	SourceKind  SourceKind `json:"source_kind,omitempty"`
	CreatedAt   time.Time  `json:"created_at,omitempty"`
	ContentHash string     `json:"content_hash,omitempty"`
	Quality     float64    `json:"quality_score"`
	Signalness  float64    `json:"signalness"`
}

// ChunkIDFor builds the canonical chunk identifier: doc_id plus ordinal.
func ChunkIDFor(docID string, position int) string {
	return fmt.Sprintf("%s#%04d", docID, position)
}

const listSep = "|"

// Meta returns the flat, string-valued metadata representation stored in
// the vector and keyword indices. List values are pre-serialized; nothing
// nested survives the trip.
func (c *Chunk) Meta() map[string]string {
	m := map[string]string{
		"doc_id":         c.DocID,
		"chunk_id":       c.ChunkID,
		"kind":           string(c.Kind),
		"position":       strconv.Itoa(c.Position),
		"token_estimate": strconv.Itoa(c.TokenEstimate),
		"title":          c.Title,
		"source_kind":    string(c.SourceKind),
		"content_hash":   c.ContentHash,
		"quality_score":  strconv.FormatFloat(c.Quality, 'f', 4, 64),
		"signalness":     strconv.FormatFloat(c.Signalness, 'f', 4, 64),
	}
	if len(c.Topics) > 0 {
		m["topics"] = strings.Join(c.Topics, listSep)
	}
	if len(c.ParentTitles) > 0 {
		m["parent_titles"] = strings.Join(c.ParentTitles, listSep)
	}
	if !c.CreatedAt.IsZero() {
		m["created_at"] = c.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// ChunkMeta is the typed view of the flat metadata map attached to every
// indexed chunk.
type ChunkMeta struct {
	DocID         string  `mapstructure:"doc_id"`
	ChunkID       string  `mapstructure:"chunk_id"`
	Kind          string  `mapstructure:"kind"`
	Position      int     `mapstructure:"position"`
	TokenEstimate int     `mapstructure:"token_estimate"`
	Title         string  `mapstructure:"title"`
	SourceKind    string  `mapstructure:"source_kind"`
	ContentHash   string  `mapstructure:"content_hash"`
	Quality       float64 `mapstructure:"quality_score"`
	Signalness    float64 `mapstructure:"signalness"`
	Topics        string  `mapstructure:"topics"`
	ParentTitles  string  `mapstructure:"parent_titles"`
	CreatedAt     string  `mapstructure:"created_at"`
}

// DecodeChunkMeta converts a flat metadata map back into its typed form.
// Values arrive as strings from the vector stores; weak decoding restores
// the numeric fields.
func DecodeChunkMeta(m map[string]string) (*ChunkMeta, error) {
	var meta ChunkMeta
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build metadata decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("failed to decode chunk metadata: %w", err)
	}
	return &meta, nil
}

// TopicList splits the serialized topics value.
func (m *ChunkMeta) TopicList() []string {
	if m.Topics == "" {
		return nil
	}
	return strings.Split(m.Topics, listSep)
}

// ParentTitleList splits the serialized parent titles value.
func (m *ChunkMeta) ParentTitleList() []string {
	if m.ParentTitles == "" {
		return nil
	}
	return strings.Split(m.ParentTitles, listSep)
}

// CreatedAtTime parses the serialized timestamp, returning the zero time
// when absent or malformed.
func (m *ChunkMeta) CreatedAtTime() time.Time {
	if m.CreatedAt == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return time.Time{}
	}
	return t
}
