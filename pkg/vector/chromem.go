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

package vector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// ChromemStore is the embedded, pure-Go backend. It holds vectors in
// memory and, when a persist path is set, writes every mutation
// incrementally to disk so a restart reloads the full index.
//
// Single-process and memory-bound; the right default for a personal
// corpus. Point a Qdrant or Pinecone backend at larger deployments.
type ChromemStore struct {
	db *chromem.DB
	mu sync.RWMutex

	// collections caches collection handles.
	collections map[string]*chromem.Collection

	// embeddingFunc satisfies the chromem API. Vectors are always
	// pre-computed, so it must never run.
	embeddingFunc chromem.EmbeddingFunc
}

// NewChromemStore creates an embedded store. An empty persist path
// keeps everything in memory.
func NewChromemStore(cfg config.ChromemConfig) (*ChromemStore, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		db, err = chromem.NewPersistentDB(cfg.PersistPath, cfg.Compress)
		if err != nil {
			// Refusing to start beats silently dropping the index.
			return nil, fmt.Errorf("failed to open vector database at %s: %w", cfg.PersistPath, err)
		}
		slog.Info("Opened vector database", "path", cfg.PersistPath, "compress", cfg.Compress)
	} else {
		db = chromem.NewDB()
		slog.Info("Created in-memory vector database (no persistence)")
	}

	identityEmbed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding function called but vectors are pre-computed")
	}

	return &ChromemStore{
		db:            db,
		collections:   make(map[string]*chromem.Collection),
		embeddingFunc: identityEmbed,
	}, nil
}

// Name returns the backend name.
func (s *ChromemStore) Name() string {
	return "chromem"
}

// getCollection gets or creates a collection handle.
func (s *ChromemStore) getCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	if col, ok := s.collections[name]; ok {
		s.mu.RUnlock()
		return col, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring the write lock.
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to get/create collection %q: %w", name, err)
	}

	s.collections[name] = col
	return col, nil
}

// CreateCollection ensures the collection exists. Chromem collections
// carry no fixed dimension, so dims is unused.
func (s *ChromemStore) CreateCollection(ctx context.Context, collection string, dims int) error {
	_, err := s.getCollection(collection)
	return err
}

// Upsert adds or replaces items by ID.
func (s *ChromemStore) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, 0, len(items))
	for _, item := range items {
		docs = append(docs, chromem.Document{
			ID:        item.ID,
			Metadata:  item.Metadata,
			Embedding: item.Vector,
		})
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to upsert %d items: %w", len(items), err)
	}
	return nil
}

// Search returns the topK nearest items by cosine similarity.
func (s *ChromemStore) Search(ctx context.Context, collection string, vector []float32, topK int, where map[string]string) ([]Hit, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return nil, err
	}

	// Chromem rejects nResults above the collection size.
	if n := col.Count(); topK > n {
		topK = n
	}
	if topK <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ChunkID:   r.ID,
			Score:     float64(r.Similarity),
			Metadata:  r.Metadata,
			Embedding: r.Embedding,
		})
	}
	return hits, nil
}

// DeleteByFilter removes every item whose metadata matches the filter.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}

	col, err := s.getCollection(collection)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// DeleteCollection drops a collection and all its items.
func (s *ChromemStore) DeleteCollection(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.DeleteCollection(collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	delete(s.collections, collection)
	return nil
}

// Count returns the number of items in a collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	col, err := s.getCollection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close releases resources. Persistence is incremental, so there is
// nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// Ensure ChromemStore implements Store.
var _ Store = (*ChromemStore)(nil)
