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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// qdrantMaxRecvBytes raises the gRPC receive limit: search pages that
// return vectors can exceed the 4 MB default.
const qdrantMaxRecvBytes = 64 << 20

// QdrantStore is the external Qdrant backend over gRPC.
//
// Qdrant point IDs must be UUIDs or integers, so chunk IDs are mapped
// to deterministic SHA1 UUIDs; the original chunk ID travels in the
// payload and per-document deletion goes through payload filters.
type QdrantStore struct {
	client *qdrant.Client
	cfg    config.QdrantConfig

	mu    sync.Mutex
	known map[string]bool
}

// NewQdrantStore connects to a Qdrant server.
func NewQdrantStore(cfg config.QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(qdrantMaxRecvBytes)),
			grpc.WithKeepaliveParams(keepalive.ClientParameters{
				Time:                30 * time.Second,
				Timeout:             10 * time.Second,
				PermitWithoutStream: true,
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client for %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &QdrantStore{
		client: client,
		cfg:    cfg,
		known:  make(map[string]bool),
	}, nil
}

// Name returns the backend name.
func (s *QdrantStore) Name() string {
	return "qdrant"
}

// qdrantPointID maps a chunk ID onto a deterministic UUID, so
// re-upserting the same chunk overwrites its point.
func qdrantPointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(chunkID)).String()
}

// ensureCollection creates the collection on first use.
func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, dims int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.known[collection] {
		return nil
	}

	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dims),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}

	s.known[collection] = true
	return nil
}

// CreateCollection ensures a collection exists with the given dimension.
func (s *QdrantStore) CreateCollection(ctx context.Context, collection string, dims int) error {
	return s.ensureCollection(ctx, collection, dims)
}

// Upsert adds or replaces items by ID.
func (s *QdrantStore) Upsert(ctx context.Context, collection string, items []Item) error {
	if len(items) == 0 {
		return nil
	}

	if err := s.ensureCollection(ctx, collection, len(items[0].Vector)); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, item := range items {
		payload := make(map[string]*qdrant.Value, len(item.Metadata))
		for key, value := range item.Metadata {
			val, err := qdrant.NewValue(value)
			if err != nil {
				return fmt.Errorf("failed to convert metadata value for key %s: %w", key, err)
			}
			payload[key] = val
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(qdrantPointID(item.ID)),
			Vectors: qdrant.NewVectors(item.Vector...),
			Payload: payload,
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert %d points: %w", len(items), err)
	}
	return nil
}

// Search returns the topK nearest items by cosine similarity.
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, where map[string]string) ([]Hit, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(topK),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if len(where) > 0 {
		searchRequest.Filter = buildQdrantFilter(where)
	}

	searchResult, err := s.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	return convertQdrantHits(searchResult.Result), nil
}

// DeleteByFilter removes every item whose metadata matches the filter.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("refusing to delete with an empty filter")
	}

	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: buildQdrantFilter(where),
			},
		},
		Wait: &wait,
	})
	if err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// DeleteCollection drops a collection and all its items.
func (s *QdrantStore) DeleteCollection(ctx context.Context, collection string) error {
	if err := s.client.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	s.mu.Lock()
	delete(s.known, collection)
	s.mu.Unlock()
	return nil
}

// Count returns the number of items in a collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(count), nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// buildQdrantFilter converts an exact-match map to a Qdrant must-filter.
func buildQdrantFilter(where map[string]string) *qdrant.Filter {
	conditions := make([]*qdrant.Condition, 0, len(where))
	for key, value := range where {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: key,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: value},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// convertQdrantHits converts scored points to hits. The chunk ID is
// read from the payload; the point UUID is internal.
func convertQdrantHits(points []*qdrant.ScoredPoint) []Hit {
	hits := make([]Hit, 0, len(points))

	for _, point := range points {
		metadata := make(map[string]string, len(point.Payload))
		for key, value := range point.Payload {
			metadata[key] = value.GetStringValue()
		}

		chunkID := metadata["chunk_id"]
		if chunkID == "" && point.Id != nil {
			if u, ok := point.Id.PointIdOptions.(*qdrant.PointId_Uuid); ok {
				chunkID = u.Uuid
			}
		}

		var embedding []float32
		if point.Vectors != nil {
			if vectorData := point.Vectors.GetVector(); vectorData != nil {
				switch v := vectorData.Vector.(type) {
				case *qdrant.VectorOutput_Dense:
					if v.Dense != nil {
						embedding = v.Dense.Data
					}
				}
			}
		}

		hits = append(hits, Hit{
			ChunkID:   chunkID,
			Score:     float64(point.Score),
			Metadata:  metadata,
			Embedding: embedding,
		})
	}

	return hits
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
