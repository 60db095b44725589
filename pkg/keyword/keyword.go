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

// Package keyword provides a sparse BM25 index over chunk text, backed
// by SQLite FTS5 in the corpus registry database. It is the keyword
// half of hybrid retrieval: dense search covers paraphrase, BM25
// covers exact terms, identifiers, and rare tokens.
package keyword

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// Hit is one BM25 match. Score is min-max normalized into [0,1] per
// query; Metadata carries the same flat representation the vector
// index stores, so both retrieval paths decode identically.
type Hit struct {
	ChunkID  string
	Score    float64
	Text     string
	Metadata map[string]string
}

// Index stores chunk rows and serves ranked full-text queries. All
// methods are safe for concurrent use; SQLite serializes writers
// through the shared single-connection pool.
type Index struct {
	db *sql.DB
}

// NewIndex prepares the chunk tables and full-text index on the given
// registry database handle.
func NewIndex(db *sql.DB) (*Index, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return nil, schemaError(err)
	}
	return &Index{db: db}, nil
}

// schemaError classifies schema preparation failures. The fts5 module
// only exists when the binary was built with the sqlite_fts5 tag;
// without it every keyword operation would fail, so startup stops here
// with the build instruction instead.
func schemaError(err error) error {
	if strings.Contains(err.Error(), "no such module: fts5") {
		return fmt.Errorf("sqlite built without FTS5; rebuild with -tags sqlite_fts5 (the Makefile sets this): %w", err)
	}
	return fmt.Errorf("failed to prepare keyword schema: %w", err)
}

// Chunk columns a query filter may restrict on. Unknown keys are
// rejected rather than silently ignored.
var filterColumns = map[string]bool{
	"chunk_id":       true,
	"doc_id":         true,
	"kind":           true,
	"source_kind":    true,
	"title":          true,
	"topics":         true,
	"parent_titles":  true,
	"position":       true,
	"token_estimate": true,
	"quality_score":  true,
	"signalness":     true,
	"content_hash":   true,
	"created_at":     true,
	"canonical":      true,
}

// Add inserts or overwrites chunks. The canonical flag marks rows
// visible to canonical-view queries; every row serves the full view.
func (ix *Index) Add(ctx context.Context, chunks []document.Chunk, canonical bool) error {
	if len(chunks) == 0 {
		return nil
	}
	return ix.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (chunk_id, doc_id, content, title, kind, source_kind,
				topics, parent_titles, position, token_estimate,
				quality_score, signalness, content_hash, created_at, canonical)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET
				doc_id = excluded.doc_id,
				content = excluded.content,
				title = excluded.title,
				kind = excluded.kind,
				source_kind = excluded.source_kind,
				topics = excluded.topics,
				parent_titles = excluded.parent_titles,
				position = excluded.position,
				token_estimate = excluded.token_estimate,
				quality_score = excluded.quality_score,
				signalness = excluded.signalness,
				content_hash = excluded.content_hash,
				created_at = excluded.created_at,
				canonical = excluded.canonical
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		flag := 0
		if canonical {
			flag = 1
		}
		for i := range chunks {
			c := &chunks[i]
			createdAt := ""
			if !c.CreatedAt.IsZero() {
				createdAt = c.CreatedAt.UTC().Format(time.RFC3339)
			}
			if _, err := stmt.ExecContext(ctx,
				c.ChunkID, c.DocID, c.Text, c.Title, string(c.Kind), string(c.SourceKind),
				strings.Join(c.Topics, "|"), strings.Join(c.ParentTitles, "|"),
				c.Position, c.TokenEstimate,
				c.Quality, c.Signalness, c.ContentHash, createdAt, flag,
			); err != nil {
				return fmt.Errorf("failed to index chunk %s: %w", c.ChunkID, err)
			}
		}
		return nil
	})
}

// Query runs a BM25 search over chunk text and titles. FTS5 rank is
// negative (lower = better); it is negated into a positive score and
// min-max normalized into [0,1] per query. The optional filter is an
// exact-match restriction over chunk columns.
func (ix *Index) Query(ctx context.Context, text string, topK int, filter map[string]string) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	match := matchExpr(text)
	if match == "" {
		return nil, nil
	}

	query := `
		SELECT c.chunk_id, c.doc_id, c.content, c.title, c.kind, c.source_kind,
			c.topics, c.parent_titles, c.position, c.token_estimate,
			c.quality_score, c.signalness, c.content_hash, c.created_at,
			f.rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{match}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !filterColumns[k] {
			return nil, fmt.Errorf("unsupported filter column: %s", k)
		}
		query += fmt.Sprintf(" AND c.%s = ?", k)
		args = append(args, filter[k])
	}
	query += `
		ORDER BY f.rank
		LIMIT ?`
	args = append(args, topK)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword query failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var c document.Chunk
		var kind, sourceKind, topics, parentTitles, createdAt string
		var rank float64
		if err := rows.Scan(&c.ChunkID, &c.DocID, &c.Text, &c.Title, &kind, &sourceKind,
			&topics, &parentTitles, &c.Position, &c.TokenEstimate,
			&c.Quality, &c.Signalness, &c.ContentHash, &createdAt,
			&rank); err != nil {
			return nil, err
		}
		c.Kind = document.ChunkKind(kind)
		c.SourceKind = document.SourceKind(sourceKind)
		if topics != "" {
			c.Topics = strings.Split(topics, "|")
		}
		if parentTitles != "" {
			c.ParentTitles = strings.Split(parentTitles, "|")
		}
		if createdAt != "" {
			if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
				c.CreatedAt = t
			}
		}
		hits = append(hits, Hit{
			ChunkID:  c.ChunkID,
			Score:    -rank,
			Text:     c.Text,
			Metadata: c.Meta(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	normalizeScores(hits)
	return hits, nil
}

// DeleteDoc removes every chunk belonging to a document.
func (ix *Index) DeleteDoc(ctx context.Context, docID string) error {
	if docID == "" {
		return fmt.Errorf("doc ID is required")
	}
	_, err := ix.db.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, docID)
	return err
}

// Count returns the number of indexed chunks.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Contents returns chunk text keyed by chunk ID. IDs with no stored
// row are absent from the result.
func (ix *Index) Contents(ctx context.Context, chunkIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(chunkIDs))
	if len(chunkIDs) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunkIDs)), ", ")
	args := make([]any, len(chunkIDs))
	for i, id := range chunkIDs {
		args[i] = id
	}
	rows, err := ix.db.QueryContext(ctx,
		`SELECT chunk_id, content FROM chunks WHERE chunk_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, content string
		if err := rows.Scan(&id, &content); err != nil {
			return nil, err
		}
		out[id] = content
	}
	return out, rows.Err()
}

// matchExpr rewrites free text into an FTS5 query: each term quoted,
// joined with OR. Raw MATCH syntax from user input never reaches the
// engine, and any-term matching preserves recall for fusion.
func matchExpr(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(terms) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(terms))
	for _, t := range terms {
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

// normalizeScores rescales scores into [0,1] by per-query min-max.
// Hits arrive sorted best first; a degenerate range maps to 1.
func normalizeScores(hits []Hit) {
	if len(hits) == 0 {
		return
	}
	max, min := hits[0].Score, hits[len(hits)-1].Score
	if max == min {
		for i := range hits {
			hits[i].Score = 1
		}
		return
	}
	for i := range hits {
		hits[i].Score = (hits[i].Score - min) / (max - min)
	}
}

func (ix *Index) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
