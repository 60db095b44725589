package corpus

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kadirpekel/mnemo/pkg/document"
)

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		t.Fatalf("enabling foreign keys: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestRegistry(t *testing.T) (*Registry, *sql.DB) {
	t.Helper()
	db := newTestDB(t)
	reg, err := NewRegistry(db)
	if err != nil {
		t.Fatalf("creating registry: %v", err)
	}
	return reg, db
}

func sampleDocument(docID, hash string) *document.Document {
	ocr := 0.91
	return &document.Document{
		DocID:         docID,
		SourceKind:    document.SourceEmail,
		Title:         "Quarterly budget review",
		IngestedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2026, 2, 28, 9, 30, 0, 0, time.UTC),
		ContentHash:   hash,
		ByteSize:      2048,
		OCRConfidence: &ocr,
		Provenance: document.Provenance{
			MessageID:  "<msg-1@example.com>",
			InReplyTo:  "<msg-0@example.com>",
			References: []string{"<msg-0@example.com>"},
			ThreadID:   "1f3870be274f6c49b3e31a0c6728957f",
		},
		Metadata: document.EnrichedMetadata{
			Topics:            []string{"finance", "finance/budget"},
			People:            []string{"Jane Doe"},
			Organizations:     []string{"ACME Corp"},
			Entities:          document.Entities{Dates: []string{"2026-02-28"}},
			Summary:           "Budget numbers for the next quarter.",
			SuggestedTags:     []string{"budget-2026"},
			EnrichmentVersion: document.EnrichmentVersionV1,
			EnrichmentCost:    0.0021,
		},
		Scores: document.Scores{
			Quality:       0.82,
			Novelty:       0.7,
			Actionability: 0.5,
			Signalness:    0.688,
			DoIndex:       true,
		},
	}
}

func TestNewRegistry_NilDB(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for nil database handle")
	}
}

func TestRegistry_RecordAndGetDocument(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	doc := sampleDocument("doc-1", "hash-1")
	simhash := uint64(0xDEADBEEFCAFEBABE)
	if err := reg.RecordDocument(ctx, doc, simhash, true, 7); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}

	rec, err := reg.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if rec.DocID != "doc-1" || rec.ContentHash != "hash-1" {
		t.Errorf("identity = (%s, %s)", rec.DocID, rec.ContentHash)
	}
	if rec.SourceKind != document.SourceEmail {
		t.Errorf("source kind = %s, want email", rec.SourceKind)
	}
	if rec.Title != doc.Title {
		t.Errorf("title = %q", rec.Title)
	}
	if rec.SimHash != simhash {
		t.Errorf("simhash = %x, want %x", rec.SimHash, simhash)
	}
	if !rec.Canonical || rec.ChunkCount != 7 {
		t.Errorf("canonical = %v, chunk count = %d", rec.Canonical, rec.ChunkCount)
	}
	if rec.IsDuplicate || rec.DuplicateOf != "" {
		t.Errorf("duplicate flags = (%v, %q)", rec.IsDuplicate, rec.DuplicateOf)
	}
	if !rec.IngestedAt.Equal(doc.IngestedAt) {
		t.Errorf("ingested at = %v, want %v", rec.IngestedAt, doc.IngestedAt)
	}
	if !rec.CreatedAt.Equal(doc.CreatedAt) {
		t.Errorf("created at = %v, want %v", rec.CreatedAt, doc.CreatedAt)
	}
	if rec.OCRConfidence == nil || *rec.OCRConfidence != 0.91 {
		t.Errorf("ocr confidence = %v", rec.OCRConfidence)
	}
	if rec.Scores.Quality != 0.82 || rec.Scores.Signalness != 0.688 || !rec.Scores.DoIndex {
		t.Errorf("scores = %+v", rec.Scores)
	}
	if rec.Provenance.MessageID != "<msg-1@example.com>" || len(rec.Provenance.References) != 1 {
		t.Errorf("provenance = %+v", rec.Provenance)
	}
	if len(rec.Metadata.Topics) != 2 || rec.Metadata.Topics[1] != "finance/budget" {
		t.Errorf("topics = %v", rec.Metadata.Topics)
	}
	if len(rec.Metadata.Entities.Dates) != 1 || rec.Metadata.Summary == "" {
		t.Errorf("metadata = %+v", rec.Metadata)
	}
}

func TestRegistry_GetDocument_ZeroCreatedAt(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	doc := sampleDocument("doc-1", "hash-1")
	doc.CreatedAt = time.Time{}
	doc.OCRConfidence = nil
	if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}

	rec, err := reg.GetDocument(ctx, "doc-1")
	if err != nil {
		t.Fatalf("GetDocument() error = %v", err)
	}
	if !rec.CreatedAt.IsZero() {
		t.Errorf("created at = %v, want zero", rec.CreatedAt)
	}
	if rec.OCRConfidence != nil {
		t.Errorf("ocr confidence = %v, want nil", *rec.OCRConfidence)
	}
}

func TestRegistry_GetDocument_NotFound(t *testing.T) {
	reg, _ := newTestRegistry(t)
	if _, err := reg.GetDocument(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_RecordDocument_HashConflict(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, sampleDocument("doc-1", "hash-1"), 0, false, 1); err != nil {
		t.Fatalf("first RecordDocument() error = %v", err)
	}
	err := reg.RecordDocument(ctx, sampleDocument("doc-2", "hash-1"), 0, false, 1)
	if !errors.Is(err, ErrHashExists) {
		t.Fatalf("error = %v, want ErrHashExists", err)
	}
}

func TestRegistry_RecordDocument_RequiresDocID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, nil, 0, false, 0); err == nil {
		t.Error("expected error for nil document")
	}
	if err := reg.RecordDocument(ctx, &document.Document{}, 0, false, 0); err == nil {
		t.Error("expected error for empty doc_id")
	}
}

func TestRegistry_LookupHash(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, sampleDocument("doc-1", "hash-1"), 0, false, 1); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}

	docID, found, err := reg.LookupHash(ctx, "hash-1")
	if err != nil {
		t.Fatalf("LookupHash() error = %v", err)
	}
	if !found || docID != "doc-1" {
		t.Errorf("lookup = (%s, %v), want (doc-1, true)", docID, found)
	}

	docID, found, err = reg.LookupHash(ctx, "hash-unknown")
	if err != nil {
		t.Fatalf("LookupHash() error = %v", err)
	}
	if found || docID != "" {
		t.Errorf("lookup = (%s, %v), want empty miss", docID, found)
	}
}

func TestRegistry_SimHashes(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, sampleDocument("doc-1", "hash-1"), 0xDEADBEEFCAFEBABE, false, 1); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}
	if err := reg.RecordDocument(ctx, sampleDocument("doc-2", "hash-2"), 42, false, 1); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}
	dup := sampleDocument("dup-1", "hash-1")
	if err := reg.RecordDuplicate(ctx, dup, "doc-1"); err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}

	hashes, err := reg.SimHashes(ctx)
	if err != nil {
		t.Fatalf("SimHashes() error = %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("got %d entries, want 2 (duplicate markers must be excluded)", len(hashes))
	}
	if hashes["doc-1"] != 0xDEADBEEFCAFEBABE {
		t.Errorf("doc-1 simhash = %x", hashes["doc-1"])
	}
	if hashes["doc-2"] != 42 {
		t.Errorf("doc-2 simhash = %d", hashes["doc-2"])
	}
}

func TestRegistry_RecordDuplicate(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, sampleDocument("doc-1", "hash-1"), 0, true, 3); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}

	dup := sampleDocument("dup-1", "hash-1")
	dup.IngestedAt = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	if err := reg.RecordDuplicate(ctx, dup, "doc-1"); err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}

	rec, err := reg.GetDocument(ctx, "dup-1")
	if err != nil {
		t.Fatalf("GetDocument(dup-1) error = %v", err)
	}
	if !rec.IsDuplicate || rec.DuplicateOf != "doc-1" {
		t.Errorf("duplicate record = (%v, %q)", rec.IsDuplicate, rec.DuplicateOf)
	}

	// Re-ingesting the same bytes refreshes the one marker row instead
	// of accumulating.
	again := sampleDocument("dup-2", "hash-1")
	again.IngestedAt = time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC)
	if err := reg.RecordDuplicate(ctx, again, "doc-1"); err != nil {
		t.Fatalf("second RecordDuplicate() error = %v", err)
	}
	if _, err := reg.GetDocument(ctx, "dup-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument(dup-2) error = %v, want ErrNotFound", err)
	}
	rec, err = reg.GetDocument(ctx, "dup-1")
	if err != nil {
		t.Fatalf("GetDocument(dup-1) after refresh error = %v", err)
	}
	if !rec.IngestedAt.Equal(again.IngestedAt) {
		t.Errorf("marker ingested at = %v, want refreshed %v", rec.IngestedAt, again.IngestedAt)
	}

	// The original still owns the hash.
	docID, found, err := reg.LookupHash(ctx, "hash-1")
	if err != nil || !found || docID != "doc-1" {
		t.Errorf("LookupHash() = (%s, %v, %v), want (doc-1, true, nil)", docID, found, err)
	}
}

func TestRegistry_DeleteDocument_Cascades(t *testing.T) {
	reg, db := newTestRegistry(t)
	ctx := context.Background()

	if err := reg.RecordDocument(ctx, sampleDocument("doc-1", "hash-1"), 0, true, 3); err != nil {
		t.Fatalf("RecordDocument() error = %v", err)
	}

	if err := reg.DeleteDocument(ctx, "doc-1"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if _, err := reg.GetDocument(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocument() error = %v, want ErrNotFound", err)
	}

	for _, table := range []string{"doc_topics", "entity_mentions"} {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM "+table+" WHERE doc_id = ?", "doc-1").Scan(&n); err != nil {
			t.Fatalf("counting %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s rows after delete = %d, want 0", table, n)
		}
	}

	if err := reg.DeleteDocument(ctx, "doc-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteDocument() error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Thread(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	mk := func(docID, hash string, created, ingested time.Time) *document.Document {
		doc := sampleDocument(docID, hash)
		doc.CreatedAt = created
		doc.IngestedAt = ingested
		doc.Provenance.ThreadID = "thread-x"
		return doc
	}

	// Middle message has no header date; ordering falls back to its
	// ingest time.
	docs := []*document.Document{
		mk("msg-a", "hash-a", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		mk("msg-b", "hash-b", time.Time{}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		mk("msg-c", "hash-c", time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC), time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)),
	}
	for _, doc := range docs {
		if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
			t.Fatalf("RecordDocument(%s) error = %v", doc.DocID, err)
		}
	}
	other := sampleDocument("msg-z", "hash-z")
	other.Provenance.ThreadID = "thread-other"
	if err := reg.RecordDocument(ctx, other, 0, false, 1); err != nil {
		t.Fatalf("RecordDocument(msg-z) error = %v", err)
	}

	msgs, err := reg.Thread(ctx, "thread-x")
	if err != nil {
		t.Fatalf("Thread() error = %v", err)
	}
	got := make([]string, len(msgs))
	for i, m := range msgs {
		got[i] = m.DocID
	}
	want := []string{"msg-b", "msg-a", "msg-c"}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("thread order = %v, want %v", got, want)
	}
	if !msgs[0].CreatedAt.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("fallback message time = %v, want ingest time", msgs[0].CreatedAt)
	}

	if _, err := reg.Thread(ctx, ""); err == nil {
		t.Error("expected error for empty thread ID")
	}
}

func TestRegistry_EntityTimeline(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	early := sampleDocument("doc-1", "hash-1")
	early.CreatedAt = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := sampleDocument("doc-2", "hash-2")
	late.CreatedAt = time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	late.Metadata.Organizations = []string{"Acme corp"}
	for _, doc := range []*document.Document{late, early} {
		if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
			t.Fatalf("RecordDocument(%s) error = %v", doc.DocID, err)
		}
	}

	entries, err := reg.EntityTimeline(ctx, "organization", "acme CORP")
	if err != nil {
		t.Fatalf("EntityTimeline() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (name match is case-insensitive)", len(entries))
	}
	if entries[0].DocID != "doc-1" || entries[1].DocID != "doc-2" {
		t.Errorf("timeline order = [%s %s], want oldest first", entries[0].DocID, entries[1].DocID)
	}

	entries, err = reg.EntityTimeline(ctx, "person", "Nobody Known")
	if err != nil {
		t.Fatalf("EntityTimeline() error = %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d entries for unknown person, want 0", len(entries))
	}

	if _, err := reg.EntityTimeline(ctx, "", "x"); err == nil {
		t.Error("expected error for empty kind")
	}
}

func TestRegistry_UpsertPerson(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	id1, err := reg.UpsertPerson(ctx, "Jane Doe", "")
	if err != nil {
		t.Fatalf("UpsertPerson() error = %v", err)
	}
	id2, err := reg.UpsertPerson(ctx, "Jane Doe", "JD")
	if err != nil {
		t.Fatalf("UpsertPerson() with alias error = %v", err)
	}
	if id1 != id2 {
		t.Errorf("ids differ: %d vs %d", id1, id2)
	}

	// Repeated and canonical-equal aliases must not accumulate.
	for _, alias := range []string{"JD", "Jane Doe", "jane"} {
		if _, err := reg.UpsertPerson(ctx, "Jane Doe", alias); err != nil {
			t.Fatalf("UpsertPerson(%q) error = %v", alias, err)
		}
	}
	if _, err := reg.UpsertPerson(ctx, "Bob Smith", ""); err != nil {
		t.Fatalf("UpsertPerson(Bob Smith) error = %v", err)
	}

	people, err := reg.People(ctx)
	if err != nil {
		t.Fatalf("People() error = %v", err)
	}
	if len(people) != 2 {
		t.Fatalf("got %d people, want 2", len(people))
	}
	jane := people[0]
	if jane.CanonicalName != "Jane Doe" || jane.ID != id1 {
		t.Errorf("first person = %+v, want Jane Doe with stable id", jane)
	}
	if jane.MentionCount != 5 {
		t.Errorf("mention count = %d, want 5", jane.MentionCount)
	}
	if len(jane.Aliases) != 2 || jane.Aliases[0] != "JD" || jane.Aliases[1] != "jane" {
		t.Errorf("aliases = %v, want [JD jane]", jane.Aliases)
	}
	if people[1].CanonicalName != "Bob Smith" || len(people[1].Aliases) != 0 {
		t.Errorf("second person = %+v", people[1])
	}

	if _, err := reg.UpsertPerson(ctx, "", "x"); err == nil {
		t.Error("expected error for empty canonical name")
	}
}

func TestRegistry_SuggestedTags(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first := sampleDocument("doc-1", "hash-1")
	first.Metadata.SuggestedTags = []string{"alpha", "beta"}
	second := sampleDocument("doc-2", "hash-2")
	second.IngestedAt = time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	second.Metadata.SuggestedTags = []string{"beta", "gamma"}
	for _, doc := range []*document.Document{first, second} {
		if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
			t.Fatalf("RecordDocument(%s) error = %v", doc.DocID, err)
		}
	}

	tags, err := reg.SuggestedTags(ctx, 0)
	if err != nil {
		t.Fatalf("SuggestedTags() error = %v", err)
	}
	if len(tags) != 3 {
		t.Fatalf("got %d tags, want 3", len(tags))
	}
	if tags[0].Tag != "beta" || tags[0].Mentions != 2 {
		t.Errorf("top tag = %+v, want beta with 2 mentions", tags[0])
	}
	if tags[1].Tag != "alpha" || tags[2].Tag != "gamma" {
		t.Errorf("tie order = [%s %s], want alphabetical", tags[1].Tag, tags[2].Tag)
	}
	if !tags[0].FirstSeen.Equal(first.IngestedAt) || !tags[0].LastSeen.Equal(second.IngestedAt) {
		t.Errorf("beta seen window = (%v, %v)", tags[0].FirstSeen, tags[0].LastSeen)
	}

	tags, err = reg.SuggestedTags(ctx, 1)
	if err != nil {
		t.Fatalf("SuggestedTags(1) error = %v", err)
	}
	if len(tags) != 1 || tags[0].Tag != "beta" {
		t.Errorf("limited tags = %+v", tags)
	}
}

func TestRegistry_TopicCounts(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	first := sampleDocument("doc-1", "hash-1")
	first.Metadata.Topics = []string{"finance", "finance/budget"}
	second := sampleDocument("doc-2", "hash-2")
	second.Metadata.Topics = []string{"finance", "travel"}
	for _, doc := range []*document.Document{first, second} {
		if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
			t.Fatalf("RecordDocument(%s) error = %v", doc.DocID, err)
		}
	}
	dup := sampleDocument("doc-3", "hash-1")
	dup.Metadata.Topics = []string{"finance"}
	if err := reg.RecordDuplicate(ctx, dup, "doc-1"); err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}

	counts, err := reg.TopicCounts(ctx)
	if err != nil {
		t.Fatalf("TopicCounts() error = %v", err)
	}
	want := map[string]int{"finance": 2, "finance/budget": 1, "travel": 1}
	if len(counts) != len(want) {
		t.Fatalf("got %d topics, want %d: %v", len(counts), len(want), counts)
	}
	for topic, n := range want {
		if counts[topic] != n {
			t.Errorf("counts[%q] = %d, want %d", topic, counts[topic], n)
		}
	}
}

func TestRegistry_CountTopicNeighbors(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	mk := func(docID, hash string, topics []string, ingested time.Time) *document.Document {
		doc := sampleDocument(docID, hash)
		doc.Metadata.Topics = topics
		doc.IngestedAt = ingested
		return doc
	}
	docs := []*document.Document{
		mk("doc-1", "hash-1", []string{"finance", "planning"}, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)),
		mk("doc-2", "hash-2", []string{"finance"}, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)),
		mk("doc-3", "hash-3", []string{"finance", "planning"}, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	for _, doc := range docs {
		if err := reg.RecordDocument(ctx, doc, 0, false, 1); err != nil {
			t.Fatalf("RecordDocument(%s) error = %v", doc.DocID, err)
		}
	}

	since := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		topics    []string
		since     time.Time
		minShared int
		want      int
	}{
		{"one shared topic", []string{"finance", "planning"}, since, 1, 2},
		{"two shared topics", []string{"finance", "planning"}, since, 2, 1},
		{"window excludes old docs", []string{"finance", "planning"}, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), 1, 1},
		{"no topics", nil, since, 1, 0},
		{"zero min shared", []string{"finance"}, since, 0, 0},
		{"unrelated topic", []string{"travel"}, since, 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := reg.CountTopicNeighbors(ctx, tt.topics, tt.since, tt.minShared)
			if err != nil {
				t.Fatalf("CountTopicNeighbors() error = %v", err)
			}
			if n != tt.want {
				t.Errorf("got %d neighbors, want %d", n, tt.want)
			}
		})
	}
}

func TestRegistry_Stats(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	email := sampleDocument("doc-1", "hash-1")
	if err := reg.RecordDocument(ctx, email, 0, true, 3); err != nil {
		t.Fatalf("RecordDocument(doc-1) error = %v", err)
	}
	md := sampleDocument("doc-2", "hash-2")
	md.SourceKind = document.SourceMarkdown
	md.ByteSize = 512
	if err := reg.RecordDocument(ctx, md, 0, false, 2); err != nil {
		t.Fatalf("RecordDocument(doc-2) error = %v", err)
	}
	if err := reg.RecordDuplicate(ctx, sampleDocument("dup-1", "hash-1"), "doc-1"); err != nil {
		t.Fatalf("RecordDuplicate() error = %v", err)
	}
	if _, err := reg.UpsertPerson(ctx, "Jane Doe", ""); err != nil {
		t.Fatalf("UpsertPerson() error = %v", err)
	}

	stats, err := reg.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Documents != 2 {
		t.Errorf("documents = %d, want 2", stats.Documents)
	}
	if stats.Canonical != 1 {
		t.Errorf("canonical = %d, want 1", stats.Canonical)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.TotalBytes != 2048+512 {
		t.Errorf("total bytes = %d, want %d", stats.TotalBytes, 2048+512)
	}
	if math.Abs(stats.EnrichmentUSD-0.0042) > 1e-9 {
		t.Errorf("enrichment cost = %v, want 0.0042", stats.EnrichmentUSD)
	}
	if stats.ByKind["email"] != 1 || stats.ByKind["markdown"] != 1 {
		t.Errorf("by kind = %v", stats.ByKind)
	}
	if stats.People != 1 || stats.SuggestedTags != 1 {
		t.Errorf("people = %d, tags = %d", stats.People, stats.SuggestedTags)
	}
}
