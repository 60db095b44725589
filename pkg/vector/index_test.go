package vector

import (
	"context"
	"testing"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/document"
)

type fakeStore struct {
	upserts    [][]Item
	searchHits []Hit

	lastCollection string
	lastTopK       int
	lastWhere      map[string]string
	deleted        []map[string]string
	count          int
}

func (f *fakeStore) Name() string { return "fake" }

func (f *fakeStore) CreateCollection(ctx context.Context, collection string, dims int) error {
	return nil
}

func (f *fakeStore) Upsert(ctx context.Context, collection string, items []Item) error {
	f.lastCollection = collection
	f.upserts = append(f.upserts, items)
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collection string, vector []float32, topK int, where map[string]string) ([]Hit, error) {
	f.lastCollection = collection
	f.lastTopK = topK
	f.lastWhere = where
	return f.searchHits, nil
}

func (f *fakeStore) DeleteByFilter(ctx context.Context, collection string, where map[string]string) error {
	f.lastCollection = collection
	f.deleted = append(f.deleted, where)
	return nil
}

func (f *fakeStore) DeleteCollection(ctx context.Context, collection string) error { return nil }

func (f *fakeStore) Count(ctx context.Context, collection string) (int, error) {
	f.lastCollection = collection
	return f.count, nil
}

func (f *fakeStore) Close() error { return nil }

func TestIndex_Add(t *testing.T) {
	store := &fakeStore{}
	ix := NewIndex(store, "documents_canonical")

	created := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	chunks := []document.Chunk{
		{
			ChunkID:    "doc-1#0000",
			DocID:      "doc-1",
			Text:       "first chunk",
			Kind:       document.ChunkParagraph,
			Position:   0,
			Topics:     []string{"finance/tax", "projects/home"},
			SourceKind: document.SourcePDF,
			CreatedAt:  created,
		},
		{
			ChunkID:  "doc-1#0001",
			DocID:    "doc-1",
			Text:     "second chunk",
			Kind:     document.ChunkTable,
			Position: 1,
		},
	}
	embeddings := [][]float32{{1, 0}, {0, 1}}

	if err := ix.Add(context.Background(), chunks, embeddings); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if store.lastCollection != "documents_canonical" {
		t.Errorf("collection = %s, want documents_canonical", store.lastCollection)
	}
	if len(store.upserts) != 1 || len(store.upserts[0]) != 2 {
		t.Fatalf("upserts = %+v, want one batch of 2", store.upserts)
	}

	item := store.upserts[0][0]
	if item.ID != "doc-1#0000" {
		t.Errorf("item.ID = %s, want doc-1#0000", item.ID)
	}
	if item.Metadata["doc_id"] != "doc-1" {
		t.Errorf("metadata doc_id = %s, want doc-1", item.Metadata["doc_id"])
	}
	if item.Metadata["topics"] != "finance/tax|projects/home" {
		t.Errorf("metadata topics = %q, want pipe-joined list", item.Metadata["topics"])
	}
	if item.Metadata["created_at"] != "2026-03-14T09:00:00Z" {
		t.Errorf("metadata created_at = %q, want RFC3339 UTC", item.Metadata["created_at"])
	}
}

func TestIndex_Add_LengthMismatch(t *testing.T) {
	ix := NewIndex(&fakeStore{}, "documents_full")

	err := ix.Add(context.Background(), []document.Chunk{{ChunkID: "a#0000"}}, [][]float32{{1}, {2}})
	if err == nil {
		t.Fatal("Add() with mismatched lengths should fail")
	}
}

func TestIndex_Add_Empty(t *testing.T) {
	store := &fakeStore{}
	ix := NewIndex(store, "documents_full")

	if err := ix.Add(context.Background(), nil, nil); err != nil {
		t.Fatalf("Add(nil) error = %v", err)
	}
	if len(store.upserts) != 0 {
		t.Errorf("Add(nil) should not reach the store")
	}
}

func TestIndex_Query_NormalizesScores(t *testing.T) {
	store := &fakeStore{searchHits: []Hit{
		{ChunkID: "a#0000", Score: 1.0000002},
		{ChunkID: "a#0001", Score: 0.5},
		{ChunkID: "b#0000", Score: -1},
	}}
	ix := NewIndex(store, "documents_canonical")

	hits, err := ix.Query(context.Background(), []float32{1, 0}, 10, map[string]string{"source_kind": "pdf"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	wantScores := []float64{1.0, 0.75, 0.0}
	for i, want := range wantScores {
		if got := hits[i].Score; got < want-1e-9 || got > want+1e-9 {
			t.Errorf("hits[%d].Score = %v, want %v", i, got, want)
		}
	}
	if store.lastTopK != 10 {
		t.Errorf("topK = %d, want 10", store.lastTopK)
	}
	if store.lastWhere["source_kind"] != "pdf" {
		t.Errorf("where = %v, want source_kind filter passed through", store.lastWhere)
	}
}

func TestIndex_DeleteDoc(t *testing.T) {
	store := &fakeStore{}
	ix := NewIndex(store, "documents_full")

	if err := ix.DeleteDoc(context.Background(), "doc-9"); err != nil {
		t.Fatalf("DeleteDoc() error = %v", err)
	}
	if len(store.deleted) != 1 || store.deleted[0]["doc_id"] != "doc-9" {
		t.Errorf("deleted = %v, want doc_id filter", store.deleted)
	}

	if err := ix.DeleteDoc(context.Background(), ""); err == nil {
		t.Fatal("DeleteDoc() with empty ID should fail")
	}
}

func TestNormalizeCosine(t *testing.T) {
	tests := []struct {
		name string
		raw  float64
		want float64
	}{
		{"identical vectors", 1.0, 1.0},
		{"float drift above one is clipped", 1.0000002, 1.0},
		{"orthogonal", 0.0, 0.5},
		{"opposite", -1.0, 0.0},
		{"below range is clipped", -3.0, 0.0},
		{"mid similarity", 0.5, 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeCosine(tt.raw)
			if got < tt.want-1e-9 || got > tt.want+1e-9 {
				t.Errorf("NormalizeCosine(%v) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		cfg      *config.VectorConfig
		wantName string
		wantErr  bool
	}{
		{
			name:     "chromem default",
			cfg:      &config.VectorConfig{Backend: config.VectorBackendChromem},
			wantName: "chromem",
		},
		{
			name:     "qdrant",
			cfg:      &config.VectorConfig{Backend: config.VectorBackendQdrant, Qdrant: &config.QdrantConfig{Host: "localhost"}},
			wantName: "qdrant",
		},
		{
			name:    "pinecone without key",
			cfg:     &config.VectorConfig{Backend: config.VectorBackendPinecone, Pinecone: &config.PineconeConfig{}},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			cfg:     &config.VectorConfig{Backend: "milvus"},
			wantErr: true,
		},
		{
			name:    "nil config",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			defer store.Close()
			if store.Name() != tt.wantName {
				t.Errorf("Name() = %s, want %s", store.Name(), tt.wantName)
			}
		})
	}
}
