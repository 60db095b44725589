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

	"github.com/kadirpekel/mnemo/pkg/document"
)

// Index binds a Store to one collection and speaks in chunks. Scores
// surfaced by Query are normalized cosine similarities in [0,1].
type Index struct {
	store      Store
	collection string
}

// NewIndex creates a collection-bound view over a store.
func NewIndex(store Store, collection string) *Index {
	return &Index{store: store, collection: collection}
}

// Collection returns the bound collection name.
func (ix *Index) Collection() string {
	return ix.collection
}

// Add indexes chunks with their embeddings, one vector per chunk in
// the same order.
func (ix *Index) Add(ctx context.Context, chunks []document.Chunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("got %d chunks but %d embeddings", len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil
	}

	items := make([]Item, 0, len(chunks))
	for i := range chunks {
		items = append(items, Item{
			ID:       chunks[i].ChunkID,
			Vector:   embeddings[i],
			Metadata: chunks[i].Meta(),
		})
	}
	return ix.store.Upsert(ctx, ix.collection, items)
}

// Query returns the topK nearest chunks with scores normalized into
// [0,1]. The optional filter is an exact-match metadata restriction.
func (ix *Index) Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]Hit, error) {
	hits, err := ix.store.Search(ctx, ix.collection, embedding, topK, filter)
	if err != nil {
		return nil, err
	}
	for i := range hits {
		hits[i].Score = NormalizeCosine(hits[i].Score)
	}
	return hits, nil
}

// DeleteDoc removes every chunk belonging to a document.
func (ix *Index) DeleteDoc(ctx context.Context, docID string) error {
	if docID == "" {
		return fmt.Errorf("doc ID is required")
	}
	return ix.store.DeleteByFilter(ctx, ix.collection, map[string]string{"doc_id": docID})
}

// Count returns the number of chunks in the collection.
func (ix *Index) Count(ctx context.Context) (int, error) {
	return ix.store.Count(ctx, ix.collection)
}
