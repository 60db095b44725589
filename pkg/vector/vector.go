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

// Package vector provides dense nearest-neighbor storage for chunk
// embeddings. A Store is a backend (embedded chromem, Qdrant, Pinecone)
// holding one collection per corpus view; an Index binds a Store to a
// single collection and speaks in chunks.
package vector

import "context"

// Item is one vector entry: a chunk ID, its embedding, and the flat
// string-valued metadata that rides along. Nothing nested survives the
// trip through a backend; lists are pre-serialized by the caller.
type Item struct {
	ID       string
	Vector   []float32
	Metadata map[string]string
}

// Hit is a search result. Score semantics depend on the layer: a Store
// returns the backend's raw cosine similarity, an Index normalizes it
// into [0,1].
type Hit struct {
	ChunkID  string
	Score    float64
	Metadata map[string]string

	// Embedding is the stored vector, used downstream for
	// diversification. Backends that can return vectors do.
	Embedding []float32
}

// Store is a vector backend. Collections are created lazily on upsert
// where the backend allows it; CreateCollection exists for backends
// that need the dimension up front.
//
// The where parameter is an exact-match AND filter over metadata keys.
// Richer predicates (ranges, containment) are applied by callers over
// the returned candidates.
type Store interface {
	// Name identifies the backend.
	Name() string

	// CreateCollection ensures a collection exists with the given
	// vector dimension.
	CreateCollection(ctx context.Context, collection string, dims int) error

	// Upsert adds or replaces items by ID.
	Upsert(ctx context.Context, collection string, items []Item) error

	// Search returns the topK nearest items by cosine similarity,
	// optionally restricted by an exact-match metadata filter.
	Search(ctx context.Context, collection string, vector []float32, topK int, where map[string]string) ([]Hit, error)

	// DeleteByFilter removes every item whose metadata matches the
	// filter. An empty filter is rejected.
	DeleteByFilter(ctx context.Context, collection string, where map[string]string) error

	// DeleteCollection drops a collection and all its items.
	DeleteCollection(ctx context.Context, collection string) error

	// Count returns the number of items in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases backend resources.
	Close() error
}

// NormalizeCosine maps a raw cosine similarity onto [0,1] by min-max
// over the theoretical [-1,1] range. Backends occasionally report
// scores a float hair above 1; those are clipped first so a score
// above 1 never surfaces to callers.
func NormalizeCosine(raw float64) float64 {
	if raw > 1 {
		raw = 1
	}
	if raw < -1 {
		raw = -1
	}
	return (raw + 1) / 2
}
