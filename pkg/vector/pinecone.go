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

package vector

import (
	"context"
	"fmt"
	"sync"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// PineconeStore is the hosted Pinecone backend. Collections map onto
// namespaces within one pre-created index, so both corpus views share
// the index's dimension.
type PineconeStore struct {
	client *pinecone.Client
	cfg    config.PineconeConfig

	mu    sync.Mutex
	conns map[string]*pinecone.IndexConnection
}

// NewPineconeStore creates a Pinecone-backed store. The index itself
// must already exist; its host comes from the Pinecone console.
func NewPineconeStore(cfg config.PineconeConfig) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for pinecone")
	}
	if cfg.IndexHost == "" {
		return nil, fmt.Errorf("index_host is required for pinecone")
	}

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	return &PineconeStore{
		client: client,
		cfg:    cfg,
		conns:  make(map[string]*pinecone.IndexConnection),
	}, nil
}

// Name returns the backend name.
func (s *PineconeStore) Name() string {
	return "pinecone"
}

// namespace maps a collection onto a Pinecone namespace, prefixed when
// the config isolates this corpus within a shared index.
func (s *PineconeStore) namespace(collection string) string {
	if s.cfg.Namespace == "" {
		return collection
	}
	return s.cfg.Namespace + "." + collection
}

// conn returns a cached index connection for the collection's namespace.
func (s *PineconeStore) conn(collection string) (*pinecone.IndexConnection, error) {
	ns := s.namespace(collection)

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.conns[ns]; ok {
		return c, nil
	}

	c, err := s.client.Index(pinecone.NewIndexConnParams{
		Host:      s.cfg.IndexHost,
		Namespace: ns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to pinecone index: %w", err)
	}

	s.conns[ns] = c
	return c, nil
}

// CreateCollection verifies the index is reachable and its dimension
// matches. Namespaces materialize on first upsert.
func (s *PineconeStore) CreateCollection(ctx context.Context, collection string, dims int) error {
	c, err := s.conn(collection)
	if err != nil {
		return err
	}

	stats, err := c.DescribeIndexStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to describe pinecone index: %w", err)
	}
	if stats.Dimension != uint32(dims) {
		return fmt.Errorf("pinecone index dimension %d does not match embedder dimension %d (reindex after changing models)",
			stats.Dimension, dims)
	}
	return nil
}

// Upsert adds or replaces items by ID.
func (s *PineconeStore) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	c, err := s.conn(collection)
	if err != nil {
		return err
	}

	vectors := make([]*pinecone.Vector, 0, len(items))
	for _, item := range items {
		var metadata *pinecone.Metadata
		if len(item.Metadata) > 0 {
			fields := make(map[string]interface{}, len(item.Metadata))
			for k, v := range item.Metadata {
				fields[k] = v
			}
			metadata, err = structpb.NewStruct(fields)
			if err != nil {
				return fmt.Errorf("failed to convert metadata for %s: %w", item.ID, err)
			}
		}

		vectors = append(vectors, &pinecone.Vector{
			Id:       item.ID,
			Values:   item.Vector,
			Metadata: metadata,
		})
	}

	if _, err := c.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to upsert %d vectors: %w", len(items), err)
	}
	return nil
}

// Search returns the topK nearest items by cosine similarity.
func (s *PineconeStore) Search(ctx context.Context, collection string, vector []float32, topK int, where map[string]string) ([]Hit, error) {
	c, err := s.conn(collection)
	if err != nil {
		return nil, err
	}

	var filter *pinecone.MetadataFilter
	if len(where) > 0 {
		filter, err = pineconeFilter(where)
		if err != nil {
			return nil, err
		}
	}

	resp, err := c.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  filter,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query pinecone: %w", err)
	}

	hits := make([]Hit, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}

		metadata := make(map[string]string)
		if match.Vector.Metadata != nil {
			for k, v := range match.Vector.Metadata.AsMap() {
				if str, ok := v.(string); ok {
					metadata[k] = str
				} else {
					metadata[k] = fmt.Sprint(v)
				}
			}
		}

		hits = append(hits, Hit{
			ChunkID:   match.Vector.Id,
			Score:     float64(match.Score),
			Metadata:  metadata,
			Embedding: match.Vector.Values,
		})
	}
	return hits, nil
}

// DeleteByFilter removes every item whose metadata matches the filter.
func (s *PineconeStore) DeleteByFilter(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}

	c, err := s.conn(collection)
	if err != nil {
		return err
	}

	filter, err := pineconeFilter(where)
	if err != nil {
		return err
	}

	if err := c.DeleteVectorsByFilter(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// DeleteCollection clears the collection's namespace.
func (s *PineconeStore) DeleteCollection(ctx context.Context, collection string) error {
	c, err := s.conn(collection)
	if err != nil {
		return err
	}

	if err := c.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("failed to clear namespace: %w", err)
	}
	return nil
}

// Count returns the number of items in a collection.
func (s *PineconeStore) Count(ctx context.Context, collection string) (int, error) {
	c, err := s.conn(collection)
	if err != nil {
		return 0, err
	}

	stats, err := c.DescribeIndexStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to describe pinecone index: %w", err)
	}

	ns, ok := stats.Namespaces[s.namespace(collection)]
	if !ok {
		return 0, nil
	}
	return int(ns.VectorCount), nil
}

// Close closes all index connections.
func (s *PineconeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for ns, c := range s.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close connection for %s: %w", ns, err)
		}
	}
	s.conns = make(map[string]*pinecone.IndexConnection)
	return firstErr
}

// pineconeFilter converts an exact-match map to a metadata filter.
// Flat key/value pairs are implicit equality matches.
func pineconeFilter(where map[string]string) (*pinecone.MetadataFilter, error) {
	fields := make(map[string]interface{}, len(where))
	for k, v := range where {
		fields[k] = v
	}
	filter, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to convert filter: %w", err)
	}
	return filter, nil
}

// Ensure PineconeStore implements Store.
var _ Store = (*PineconeStore)(nil)
