// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

// Package notes renders ingested documents as markdown knowledge notes
// and parses them back. The note format is the interop surface with
// external note tools: YAML front matter between --- delimiters, body
// below. Front matter survives a write/parse round trip unchanged.
package notes

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Entities is the note-local entity block.
type Entities struct {
	Orgs    []string `yaml:"orgs"`
	Dates   []string `yaml:"dates"`
	Numbers []string `yaml:"numbers"`
}

// Provenance ties a note back to the ingested bytes.
type Provenance struct {
	SHA256           string `yaml:"sha256"`
	SHA256Full       string `yaml:"sha256_full"`
	OriginalFilename string `yaml:"original_filename"`
}

// FrontMatter is the required metadata block of a knowledge note.
type FrontMatter struct {
	ID                 string     `yaml:"id"`
	Source             string     `yaml:"source"`
	CreatedAt          time.Time  `yaml:"created_at"`
	IngestedAt         time.Time  `yaml:"ingested_at"`
	DocType            string     `yaml:"doc_type"`
	Title              string     `yaml:"title"`
	Topics             []string   `yaml:"topics"`
	Entities           Entities   `yaml:"entities"`
	QualityScore       float64    `yaml:"quality_score"`
	NoveltyScore       float64    `yaml:"novelty_score"`
	ActionabilityScore float64    `yaml:"actionability_score"`
	Signalness         float64    `yaml:"signalness"`
	DoIndex            bool       `yaml:"do_index"`
	Provenance         Provenance `yaml:"provenance"`
	EnrichmentVersion  string     `yaml:"enrichment_version"`
	EnrichmentCost     float64    `yaml:"enrichment_cost_usd"`
}

// FromDocument maps an ingested document onto the note front matter.
// fullSHA is the hash of the raw source bytes; the canonical text hash
// comes from the document itself.
func FromDocument(doc *document.Document, fullSHA string) FrontMatter {
	return FrontMatter{
		ID:                 doc.DocID,
		Source:             doc.Provenance.OriginalFilename,
		CreatedAt:          doc.CreatedAt.UTC(),
		IngestedAt:         doc.IngestedAt.UTC(),
		DocType:            string(doc.SourceKind),
		Title:              doc.Title,
		Topics:             doc.Metadata.Topics,
		Entities: Entities{
			Orgs:    doc.Metadata.Organizations,
			Dates:   doc.Metadata.Entities.Dates,
			Numbers: doc.Metadata.Entities.Numbers,
		},
		QualityScore:       doc.Scores.Quality,
		NoveltyScore:       doc.Scores.Novelty,
		ActionabilityScore: doc.Scores.Actionability,
		Signalness:         doc.Scores.Signalness,
		DoIndex:            doc.Scores.DoIndex,
		Provenance: Provenance{
			SHA256:           doc.ContentHash,
			SHA256Full:       fullSHA,
			OriginalFilename: doc.Provenance.OriginalFilename,
		},
		EnrichmentVersion: doc.Metadata.EnrichmentVersion,
		EnrichmentCost:    doc.Metadata.EnrichmentCost,
	}
}

const delimiter = "---"

// Render serializes a note: front matter between --- delimiters, then
// the body.
func Render(fm FrontMatter, body string) (string, error) {
	meta, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("failed to encode note front matter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(delimiter + "\n")
	sb.Write(meta)
	sb.WriteString(delimiter + "\n\n")
	sb.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// Parse splits a note into front matter and body.
func Parse(data []byte) (FrontMatter, string, error) {
	var fm FrontMatter
	text := string(data)
	if !strings.HasPrefix(text, delimiter+"\n") {
		return fm, "", fmt.Errorf("note has no front matter")
	}
	rest := text[len(delimiter)+1:]
	end := strings.Index(rest, "\n"+delimiter+"\n")
	if end == -1 {
		return fm, "", fmt.Errorf("unterminated note front matter")
	}
	if err := yaml.Unmarshal([]byte(rest[:end+1]), &fm); err != nil {
		return fm, "", fmt.Errorf("failed to parse note front matter: %w", err)
	}
	body := strings.TrimPrefix(rest[end+len(delimiter)+2:], "\n")
	return fm, body, nil
}

// IndexableBody strips RAG:IGNORE regions from a note body before it
// is re-ingested.
func IndexableBody(body string) string {
	return utils.StripIgnoreRegions(body)
}

// Writer emits notes into a directory, one file per document.
type Writer struct {
	dir string
}

// NewWriter creates the notes directory if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create notes directory: %w", err)
	}
	return &Writer{dir: dir}, nil
}

// Write renders the note to <dir>/<doc_id>.md, replacing any previous
// note for the same document.
func (w *Writer) Write(doc *document.Document, body, fullSHA string) (string, error) {
	note, err := Render(FromDocument(doc, fullSHA), body)
	if err != nil {
		return "", err
	}
	path := filepath.Join(w.dir, doc.DocID+".md")
	if err := os.WriteFile(path, []byte(note), 0o644); err != nil {
		return "", fmt.Errorf("failed to write note: %w", err)
	}
	return path, nil
}
