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

// Package retrieval runs hybrid search over the dual corpus: BM25 and
// dense cosine retrieval in parallel, weighted score fusion, metadata
// filtering, and maximal marginal relevance diversification.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/embedders"
	"github.com/kadirpekel/mnemo/pkg/keyword"
	"github.com/kadirpekel/mnemo/pkg/vector"
)

// Candidate is one fused retrieval result. Score is the weighted blend
// of the per-index normalized scores; the components are kept for the
// breakdown callers surface.
type Candidate struct {
	ChunkID string  `json:"chunk_id"`
	DocID   string  `json:"doc_id"`
	Title   string  `json:"title,omitempty"`
	Text    string  `json:"text,omitempty"`
	Score   float64 `json:"score"`
	BM25    float64 `json:"bm25_score"`
	Dense   float64 `json:"dense_score"`

	Meta      *document.ChunkMeta `json:"-"`
	Embedding []float32           `json:"-"`
}

// Options narrows one retrieval call. Zero values fall back to the
// configured defaults and the canonical view.
type Options struct {
	// TopK results to return after fusion and diversification.
	TopK int

	// Filter restricts candidates by copied document metadata.
	Filter *document.SearchFilter

	// View selects the corpus; empty means CANONICAL.
	View document.CorpusView

	// NoMMR skips diversification regardless of config.
	NoMMR bool
}

// Retriever fuses the keyword and vector indexes behind one query
// surface. Safe for concurrent use.
type Retriever struct {
	corpus   *corpus.Manager
	embedder embedders.Embedder
	cfg      config.RetrievalConfig
	logger   *slog.Logger
}

// New builds a Retriever over the corpus manager and embedder.
func New(manager *corpus.Manager, embedder embedders.Embedder, cfg config.RetrievalConfig) (*Retriever, error) {
	if manager == nil {
		return nil, fmt.Errorf("corpus manager is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	cfg.SetDefaults()
	return &Retriever{
		corpus:   manager,
		embedder: embedder,
		cfg:      cfg,
		logger:   slog.Default().With("component", "retrieval"),
	}, nil
}

// Retrieve runs both indexes in parallel, fuses the results, applies
// the metadata filter, and diversifies down to TopK.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]Candidate, error) {
	if query == "" {
		return nil, document.NewError(document.KindValidation, "retrieve", "query is empty")
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	view := corpus.ViewCanonical
	if opts.View == document.ViewFull {
		view = corpus.ViewFull
	}
	perIndex := r.cfg.CandidatesPerIndex
	if perIndex < topK {
		perIndex = topK
	}

	var kwHits []keyword.Hit
	var vecHits []vector.Hit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := r.corpus.Keyword().Query(gctx, query, perIndex, corpus.KeywordFilter(view))
		if err != nil {
			return fmt.Errorf("keyword search failed: %w", err)
		}
		kwHits = hits
		return nil
	})
	g.Go(func() error {
		vectors, err := r.embedder.Embed(gctx, []string{query}, embedders.KindQuery)
		if err != nil {
			return fmt.Errorf("query embedding failed: %w", err)
		}
		hits, err := r.corpus.VectorIndex(view).Query(gctx, vectors[0], perIndex, nil)
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		vecHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused, err := r.fuse(ctx, kwHits, vecHits, opts.Filter)
	if err != nil {
		return nil, err
	}

	if len(fused) > topK {
		if config.BoolValue(r.cfg.MMREnabled, true) && !opts.NoMMR {
			fused = mmrSelect(fused, *r.cfg.MMRLambda, topK)
		} else {
			fused = fused[:topK]
		}
	}

	r.logger.Debug("Hybrid retrieval complete",
		"keyword_hits", len(kwHits),
		"vector_hits", len(vecHits),
		"returned", len(fused))
	return fused, nil
}

// fuse merges per-index hits by chunk ID with a weighted score sum, a
// missing side contributing zero, then filters and sorts best first.
func (r *Retriever) fuse(ctx context.Context, kwHits []keyword.Hit, vecHits []vector.Hit, filter *document.SearchFilter) ([]Candidate, error) {
	wk, wd := *r.cfg.KeywordWeight, *r.cfg.DenseWeight

	byID := make(map[string]*Candidate, len(kwHits)+len(vecHits))
	order := make([]string, 0, len(kwHits)+len(vecHits))

	for _, h := range kwHits {
		c := &Candidate{ChunkID: h.ChunkID, BM25: h.Score, Text: h.Text}
		if meta, err := document.DecodeChunkMeta(h.Metadata); err == nil {
			c.Meta = meta
		}
		byID[h.ChunkID] = c
		order = append(order, h.ChunkID)
	}
	for _, h := range vecHits {
		c, ok := byID[h.ChunkID]
		if !ok {
			c = &Candidate{ChunkID: h.ChunkID}
			if meta, err := document.DecodeChunkMeta(h.Metadata); err == nil {
				c.Meta = meta
			}
			byID[h.ChunkID] = c
			order = append(order, h.ChunkID)
		}
		c.Dense = h.Score
		c.Embedding = h.Embedding
	}

	var missing []string
	fused := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if filter != nil && !filter.Matches(c.Meta) {
			continue
		}
		c.Score = wk*c.BM25 + wd*c.Dense
		if c.Meta != nil {
			c.DocID = c.Meta.DocID
			c.Title = c.Meta.Title
		}
		if c.Text == "" {
			missing = append(missing, c.ChunkID)
		}
		fused = append(fused, *c)
	}

	// Dense-only hits carry no text; hydrate from the chunk store.
	if len(missing) > 0 {
		contents, err := r.corpus.Keyword().Contents(ctx, missing)
		if err != nil {
			return nil, fmt.Errorf("chunk hydration failed: %w", err)
		}
		for i := range fused {
			if fused[i].Text == "" {
				fused[i].Text = contents[fused[i].ChunkID]
			}
		}
	}

	sort.SliceStable(fused, func(i, j int) bool {
		return fused[i].Score > fused[j].Score
	})
	return fused, nil
}

// mmrSelect greedily picks k candidates maximizing
// lambda*score - (1-lambda)*max-similarity-to-selected. Candidates
// arrive sorted best first; the best one always opens the selection.
// A candidate without an embedding contributes zero similarity.
func mmrSelect(candidates []Candidate, lambda float64, k int) []Candidate {
	if len(candidates) <= k {
		return candidates
	}

	selected := make([]Candidate, 0, k)
	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)

	selected = append(selected, remaining[0])
	remaining = remaining[1:]

	for len(selected) < k && len(remaining) > 0 {
		bestIdx, bestVal := 0, math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosine(c.Embedding, s.Embedding); sim > maxSim {
					maxSim = sim
				}
			}
			if val := lambda*c.Score - (1-lambda)*maxSim; val > bestVal {
				bestIdx, bestVal = i, val
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
