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

package corpus

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/mnemo/pkg/document"
)

var (
	// ErrNotFound reports a doc_id with no registry row.
	ErrNotFound = errors.New("document not found")

	// ErrHashExists reports a content hash already claimed by an
	// earlier document. The first writer wins; callers treat this as
	// the duplicate outcome.
	ErrHashExists = errors.New("content hash already recorded")
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id VARCHAR(255) PRIMARY KEY,
    content_hash VARCHAR(64) NOT NULL,
    simhash INTEGER NOT NULL DEFAULT 0,
    source_kind VARCHAR(50) NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    thread_id VARCHAR(64) NOT NULL DEFAULT '',
    byte_size INTEGER NOT NULL DEFAULT 0,
    ocr_confidence REAL,
    ingested_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP,
    is_duplicate INTEGER NOT NULL DEFAULT 0,
    duplicate_of VARCHAR(255) NOT NULL DEFAULT '',
    quality REAL NOT NULL DEFAULT 0,
    novelty REAL NOT NULL DEFAULT 0,
    actionability REAL NOT NULL DEFAULT 0,
    signalness REAL NOT NULL DEFAULT 0,
    do_index INTEGER NOT NULL DEFAULT 0,
    gate_reason TEXT NOT NULL DEFAULT '',
    canonical INTEGER NOT NULL DEFAULT 0,
    chunk_count INTEGER NOT NULL DEFAULT 0,
    enrichment_cost REAL NOT NULL DEFAULT 0,
    provenance TEXT NOT NULL DEFAULT '{}',
    metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_documents_hash ON documents(content_hash) WHERE is_duplicate = 0;
CREATE UNIQUE INDEX IF NOT EXISTS ux_documents_hash_dup ON documents(content_hash) WHERE is_duplicate = 1;
CREATE INDEX IF NOT EXISTS idx_documents_thread_id ON documents(thread_id);

CREATE TABLE IF NOT EXISTS doc_topics (
    doc_id VARCHAR(255) NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    topic TEXT NOT NULL,
    PRIMARY KEY (doc_id, topic)
);

CREATE INDEX IF NOT EXISTS idx_doc_topics_topic ON doc_topics(topic);

CREATE TABLE IF NOT EXISTS entity_mentions (
    doc_id VARCHAR(255) NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
    kind VARCHAR(50) NOT NULL,
    name VARCHAR(255) NOT NULL,
    PRIMARY KEY (doc_id, kind, name)
);

CREATE INDEX IF NOT EXISTS idx_entity_mentions_kind_name ON entity_mentions(kind, name);

CREATE TABLE IF NOT EXISTS people (
    id INTEGER PRIMARY KEY,
    canonical_name VARCHAR(255) NOT NULL UNIQUE,
    aliases TEXT NOT NULL DEFAULT '',
    mention_count INTEGER NOT NULL DEFAULT 0,
    first_seen TIMESTAMP,
    last_seen TIMESTAMP
);

CREATE TABLE IF NOT EXISTS suggested_tags (
    tag VARCHAR(255) PRIMARY KEY,
    mentions INTEGER NOT NULL DEFAULT 0,
    first_seen TIMESTAMP,
    last_seen TIMESTAMP
);
`

// Registry is the SQLite document registry: the authority on which
// documents exist, their hashes, scores, and routing outcome. It backs
// dedup lookup, novelty counting, and the document/thread/timeline
// queries. The keyword index shares the same database file.
type Registry struct {
	db *sql.DB
}

// NewRegistry initializes the registry schema on the given handle.
func NewRegistry(db *sql.DB) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("failed to initialize registry schema: %w", err)
	}
	return &Registry{db: db}, nil
}

// DocumentRecord is a registry row: the document plus its routing and
// indexing bookkeeping.
type DocumentRecord struct {
	document.Document
	SimHash     uint64
	Canonical   bool
	ChunkCount  int
	DuplicateOf string
}

// ThreadMessage is one email in a thread listing.
type ThreadMessage struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// TimelineEntry is one document in an entity timeline.
type TimelineEntry struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Person is one entry in the cross-document people registry.
type Person struct {
	ID            int64
	CanonicalName string
	Aliases       []string
	MentionCount  int
}

// TagSuggestion is an ungoverned tag proposed by enrichment, tracked
// for vocabulary evolution.
type TagSuggestion struct {
	Tag       string    `json:"tag"`
	Mentions  int       `json:"mentions"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// LookupHash returns the doc_id holding this content hash, if any.
// Duplicate-marker rows do not count.
func (r *Registry) LookupHash(ctx context.Context, contentHash string) (string, bool, error) {
	var docID string
	err := r.db.QueryRowContext(ctx,
		`SELECT doc_id FROM documents WHERE content_hash = ? AND is_duplicate = 0`,
		contentHash).Scan(&docID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return docID, true, nil
}

// SimHashes returns the recorded (doc_id, simhash) pairs for the
// near-duplicate scan.
func (r *Registry) SimHashes(ctx context.Context) (map[string]uint64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc_id, simhash FROM documents WHERE is_duplicate = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]uint64)
	for rows.Next() {
		var docID string
		var sh int64
		if err := rows.Scan(&docID, &sh); err != nil {
			return nil, err
		}
		out[docID] = uint64(sh)
	}
	return out, rows.Err()
}

// CountTopicNeighbors counts documents ingested since the given time
// that share at least minShared topics with the candidate set.
func (r *Registry) CountTopicNeighbors(ctx context.Context, topics []string, since time.Time, minShared int) (int, error) {
	if len(topics) == 0 || minShared <= 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(topics)), ", ")
	args := make([]any, 0, len(topics)+2)
	for _, t := range topics {
		args = append(args, t)
	}
	args = append(args, since.UTC(), minShared)

	query := `
		SELECT COUNT(*) FROM (
			SELECT t.doc_id
			FROM doc_topics t
			JOIN documents d ON d.doc_id = t.doc_id
			WHERE t.topic IN (` + placeholders + `)
				AND d.ingested_at >= ?
				AND d.is_duplicate = 0
			GROUP BY t.doc_id
			HAVING COUNT(DISTINCT t.topic) >= ?
		)`

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// RecordDocument writes a full registry row plus its topic, mention,
// and suggested-tag satellites in one transaction. A content hash
// already claimed by another document returns ErrHashExists; the
// unique index makes the first writer win under concurrency.
func (r *Registry) RecordDocument(ctx context.Context, doc *document.Document, simhash uint64, canonical bool, chunkCount int) error {
	if doc == nil || doc.DocID == "" {
		return fmt.Errorf("document with doc_id is required")
	}

	provJSON, err := json.Marshal(doc.Provenance)
	if err != nil {
		return fmt.Errorf("failed to serialize provenance: %w", err)
	}
	metaJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	return r.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, content_hash, simhash, source_kind, title, thread_id,
				byte_size, ocr_confidence, ingested_at, created_at,
				is_duplicate, duplicate_of,
				quality, novelty, actionability, signalness, do_index, gate_reason,
				canonical, chunk_count, enrichment_cost, provenance, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			doc.DocID, doc.ContentHash, int64(simhash), string(doc.SourceKind), doc.Title,
			doc.Provenance.ThreadID, doc.ByteSize, nullableFloat(doc.OCRConfidence),
			doc.IngestedAt.UTC(), nullableTime(doc.CreatedAt),
			doc.Scores.Quality, doc.Scores.Novelty, doc.Scores.Actionability,
			doc.Scores.Signalness, boolInt(doc.Scores.DoIndex), doc.Scores.GateReason,
			boolInt(canonical), chunkCount, doc.Metadata.EnrichmentCost,
			string(provJSON), string(metaJSON),
		)
		if isUniqueViolation(err) {
			return ErrHashExists
		}
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}

		for _, topic := range doc.Metadata.Topics {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO doc_topics (doc_id, topic) VALUES (?, ?)`,
				doc.DocID, topic); err != nil {
				return err
			}
		}

		mentions := []struct {
			kind  string
			names []string
		}{
			{"person", doc.Metadata.People},
			{"organization", doc.Metadata.Organizations},
			{"technology", doc.Metadata.Technologies},
			{"project", doc.Metadata.Projects},
			{"place", doc.Metadata.Places},
		}
		for _, m := range mentions {
			for _, name := range m.names {
				if name == "" {
					continue
				}
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO entity_mentions (doc_id, kind, name) VALUES (?, ?, ?)`,
					doc.DocID, m.kind, name); err != nil {
					return err
				}
			}
		}

		now := doc.IngestedAt.UTC()
		for _, tag := range doc.Metadata.SuggestedTags {
			if tag == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO suggested_tags (tag, mentions, first_seen, last_seen)
				VALUES (?, 1, ?, ?)
				ON CONFLICT(tag) DO UPDATE SET
					mentions = mentions + 1,
					last_seen = excluded.last_seen
			`, tag, now, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordDuplicate stores the audit marker for a rejected duplicate.
// Repeated re-ingests of the same bytes refresh one marker row rather
// than accumulating.
func (r *Registry) RecordDuplicate(ctx context.Context, doc *document.Document, existingDocID string) error {
	if doc == nil || doc.DocID == "" {
		return fmt.Errorf("document with doc_id is required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, content_hash, source_kind, title, thread_id,
			byte_size, ingested_at, is_duplicate, duplicate_of)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(content_hash) WHERE is_duplicate = 1 DO UPDATE SET
			ingested_at = excluded.ingested_at,
			duplicate_of = excluded.duplicate_of
	`,
		doc.DocID, doc.ContentHash, string(doc.SourceKind), doc.Title,
		doc.Provenance.ThreadID, doc.ByteSize, doc.IngestedAt.UTC(), existingDocID,
	)
	return err
}

// GetDocument returns the registry row for a doc_id.
func (r *Registry) GetDocument(ctx context.Context, docID string) (*DocumentRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT doc_id, content_hash, simhash, source_kind, title,
			byte_size, ocr_confidence, ingested_at, created_at,
			is_duplicate, duplicate_of,
			quality, novelty, actionability, signalness, do_index, gate_reason,
			canonical, chunk_count, provenance, metadata
		FROM documents WHERE doc_id = ?
	`, docID)

	var rec DocumentRecord
	var sh int64
	var sourceKind, provJSON, metaJSON string
	var ocr sql.NullFloat64
	var createdAt sql.NullTime
	var isDup, doIndex, canonical int

	err := row.Scan(&rec.DocID, &rec.ContentHash, &sh, &sourceKind, &rec.Title,
		&rec.ByteSize, &ocr, &rec.IngestedAt, &createdAt,
		&isDup, &rec.DuplicateOf,
		&rec.Scores.Quality, &rec.Scores.Novelty, &rec.Scores.Actionability,
		&rec.Scores.Signalness, &doIndex, &rec.Scores.GateReason,
		&canonical, &rec.ChunkCount, &provJSON, &metaJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.SimHash = uint64(sh)
	rec.SourceKind = document.SourceKind(sourceKind)
	rec.IsDuplicate = isDup == 1
	rec.Scores.DoIndex = doIndex == 1
	rec.Canonical = canonical == 1
	if ocr.Valid {
		v := ocr.Float64
		rec.OCRConfidence = &v
	}
	if createdAt.Valid {
		rec.CreatedAt = createdAt.Time
	}
	if err := json.Unmarshal([]byte(provJSON), &rec.Provenance); err != nil {
		return nil, fmt.Errorf("failed to decode provenance for %s: %w", docID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", docID, err)
	}
	return &rec, nil
}

// DeleteDocument removes the registry row; topic and mention rows
// cascade. Missing documents return ErrNotFound.
func (r *Registry) DeleteDocument(ctx context.Context, docID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Thread lists the messages of an email thread in chronological order.
func (r *Registry) Thread(ctx context.Context, threadID string) ([]ThreadMessage, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread ID is required")
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT doc_id, title, created_at, ingested_at
		FROM documents
		WHERE thread_id = ? AND is_duplicate = 0
		ORDER BY COALESCE(created_at, ingested_at) ASC, doc_id ASC
	`, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []ThreadMessage
	for rows.Next() {
		var m ThreadMessage
		var created sql.NullTime
		var ingested time.Time
		if err := rows.Scan(&m.DocID, &m.Title, &created, &ingested); err != nil {
			return nil, err
		}
		m.CreatedAt = ingested
		if created.Valid {
			m.CreatedAt = created.Time
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// EntityTimeline lists documents mentioning an entity, oldest first.
// Name matching is case-insensitive.
func (r *Registry) EntityTimeline(ctx context.Context, kind, name string) ([]TimelineEntry, error) {
	if kind == "" || name == "" {
		return nil, fmt.Errorf("entity kind and name are required")
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT d.doc_id, d.title, d.created_at, d.ingested_at
		FROM entity_mentions m
		JOIN documents d ON d.doc_id = m.doc_id
		WHERE m.kind = ? AND m.name = ? COLLATE NOCASE
		ORDER BY COALESCE(d.created_at, d.ingested_at) ASC, d.doc_id ASC
	`, kind, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var e TimelineEntry
		var created sql.NullTime
		var ingested time.Time
		if err := rows.Scan(&e.DocID, &e.Title, &created, &ingested); err != nil {
			return nil, err
		}
		e.CreatedAt = ingested
		if created.Valid {
			e.CreatedAt = created.Time
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// People returns the full people registry, ordered by arena index so
// mention references stay stable.
func (r *Registry) People(ctx context.Context) ([]Person, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, canonical_name, aliases, mention_count FROM people ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		var aliases string
		if err := rows.Scan(&p.ID, &p.CanonicalName, &aliases, &p.MentionCount); err != nil {
			return nil, err
		}
		if aliases != "" {
			p.Aliases = strings.Split(aliases, "|")
		}
		people = append(people, p)
	}
	return people, rows.Err()
}

// UpsertPerson records a person mention, accumulating the alias if it
// is new. Returns the person's registry index.
func (r *Registry) UpsertPerson(ctx context.Context, canonicalName, alias string) (int64, error) {
	if canonicalName == "" {
		return 0, fmt.Errorf("canonical name is required")
	}

	var id int64
	err := r.inTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO people (canonical_name, aliases, mention_count, first_seen, last_seen)
			VALUES (?, '', 1, ?, ?)
			ON CONFLICT(canonical_name) DO UPDATE SET
				mention_count = mention_count + 1,
				last_seen = excluded.last_seen
		`, canonicalName, now, now); err != nil {
			return err
		}

		var aliases string
		if err := tx.QueryRowContext(ctx,
			`SELECT id, aliases FROM people WHERE canonical_name = ?`,
			canonicalName).Scan(&id, &aliases); err != nil {
			return err
		}

		if alias == "" || alias == canonicalName {
			return nil
		}
		for _, a := range strings.Split(aliases, "|") {
			if a == alias {
				return nil
			}
		}
		if aliases == "" {
			aliases = alias
		} else {
			aliases += "|" + alias
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE people SET aliases = ? WHERE id = ?`, aliases, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// SuggestedTags lists ungoverned tags by mention count, most frequent
// first, for vocabulary review.
func (r *Registry) SuggestedTags(ctx context.Context, limit int) ([]TagSuggestion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT tag, mentions, first_seen, last_seen
		FROM suggested_tags
		ORDER BY mentions DESC, tag ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []TagSuggestion
	for rows.Next() {
		var t TagSuggestion
		if err := rows.Scan(&t.Tag, &t.Mentions, &t.FirstSeen, &t.LastSeen); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// TopicCounts returns how many non-duplicate documents carry each
// controlled topic. Enrichment ranks vocabulary paths by these counts
// when the inline list must be truncated.
func (r *Registry) TopicCounts(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT t.topic, COUNT(*) FROM doc_topics t
		JOIN documents d ON d.doc_id = t.doc_id
		WHERE d.is_duplicate = 0
		GROUP BY t.topic
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var topic string
		var n int
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, err
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}

// RegistryStats summarizes the document registry.
type RegistryStats struct {
	Documents     int            `json:"documents"`
	Canonical     int            `json:"canonical"`
	Duplicates    int            `json:"duplicates"`
	TotalBytes    int64          `json:"total_bytes"`
	EnrichmentUSD float64        `json:"enrichment_cost_usd"`
	ByKind        map[string]int `json:"by_kind"`
	People        int            `json:"people"`
	SuggestedTags int            `json:"suggested_tags"`
}

// Stats aggregates registry counts and costs.
func (r *Registry) Stats(ctx context.Context) (*RegistryStats, error) {
	s := &RegistryStats{ByKind: make(map[string]int)}

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(byte_size), 0), COALESCE(SUM(enrichment_cost), 0)
		FROM documents WHERE is_duplicate = 0
	`).Scan(&s.Documents, &s.TotalBytes, &s.EnrichmentUSD)
	if err != nil {
		return nil, err
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE canonical = 1`).Scan(&s.Canonical); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE is_duplicate = 1`).Scan(&s.Duplicates); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT source_kind, COUNT(*) FROM documents
		WHERE is_duplicate = 0 GROUP BY source_kind
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		s.ByKind[kind] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM people`).Scan(&s.People); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suggested_tags`).Scan(&s.SuggestedTags); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Registry) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
