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

// Package rerank re-scores fused retrieval candidates with a
// cross-encoder. The primary scorer is a TEI-style HTTP endpoint; an
// LLM listwise scorer serves as fallback and as the fast stage of a
// multistage rerank. Failures degrade to the fused order, never to an
// error the query pipeline has to handle.
package rerank

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
)

// Ranked is one reranked candidate: the fused result plus the
// cross-encoder score that ordered it.
type Ranked struct {
	retrieval.Candidate
	RerankScore float64 `json:"rerank_score"`
}

// Scorer assigns one relevance score per text, aligned to input order.
type Scorer interface {
	Name() string
	Score(ctx context.Context, query string, texts []string) ([]float64, error)
}

// Reranker orchestrates scoring, caching, and degradation. Scorers
// initialize lazily on first use behind the loader mutex, so building
// a Reranker never touches the network.
type Reranker struct {
	cfg       config.RerankConfig
	completer Completer
	cache     *cache
	logger    *slog.Logger

	loadMu  sync.Mutex
	loaded  bool
	precise Scorer
	fast    Scorer
	loadErr error
}

// New builds a Reranker. completer backs the LLM scorer and may be nil
// when the config never selects it.
func New(cfg config.RerankConfig, completer Completer) *Reranker {
	cfg.SetDefaults()
	return &Reranker{
		cfg:       cfg,
		completer: completer,
		cache:     newCache(cfg.CacheSize, cfg.CacheTTL),
		logger:    slog.Default().With("component", "rerank"),
	}
}

// Enabled reports whether reranking is configured on.
func (r *Reranker) Enabled() bool {
	return r.cfg.Enabled
}

// CandidateLimit is the widest pool one rerank call will score.
func (r *Reranker) CandidateLimit() int {
	return r.cfg.CandidateLimit
}

// Stats returns cache hit, miss, and eviction counts.
func (r *Reranker) Stats() (hits, misses, evictions int64) {
	return r.cache.Stats()
}

// scorers initializes the scoring backends once. The precise scorer
// follows the configured provider; the fast scorer is the LLM listwise
// ranker whenever a completer is available.
func (r *Reranker) scorers() (precise, fast Scorer, err error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if !r.loaded {
		r.loaded = true
		switch r.cfg.Provider {
		case config.RerankProviderTEI:
			r.precise = NewTEIScorer(r.cfg.Endpoint, r.cfg.Timeout)
			if r.completer != nil {
				r.fast = NewLLMScorer(r.completer, r.cfg.LLM)
			}
		case config.RerankProviderLLM:
			if r.completer == nil {
				r.loadErr = fmt.Errorf("llm rerank provider requires a completer")
			} else {
				r.precise = NewLLMScorer(r.completer, r.cfg.LLM)
				r.fast = r.precise
			}
		default:
			r.loadErr = fmt.Errorf("unknown rerank provider %q", r.cfg.Provider)
		}
	}
	return r.precise, r.fast, r.loadErr
}

// Rerank scores candidates against the query and returns the best topK
// in score order. Scoring failures fall back from the precise scorer to
// the fast one and finally to the fused order with position scores.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []retrieval.Candidate, topK int, useCache bool) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(candidates) {
		topK = len(candidates)
	}
	if !r.cfg.Enabled {
		return PositionRanked(candidates, topK), nil
	}
	if len(candidates) > r.cfg.CandidateLimit {
		candidates = candidates[:r.cfg.CandidateLimit]
	}

	key := ""
	if useCache {
		key = cacheKey(query, candidates, topK, false)
		if cached, ok := r.cache.get(key); ok {
			return cached, nil
		}
	}

	precise, fast, err := r.scorers()
	if err != nil {
		return nil, err
	}

	ranked := r.scoreWith(ctx, precise, query, candidates)
	if ranked == nil && fast != nil && fast != precise {
		ranked = r.scoreWith(ctx, fast, query, candidates)
	}
	if ranked == nil {
		r.logger.Warn("All rerank scorers failed, keeping fused order", "query", query)
		ranked = PositionRanked(candidates, len(candidates))
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}

	if useCache {
		r.cache.put(key, ranked)
	}
	return ranked, nil
}

// RerankMultistage runs a cheap broad pass then a precise narrow one:
// the fast scorer trims to stage1_k, the precise scorer orders the
// survivors down to stage2_k. Inputs smaller than stage1_k skip the
// fast pass.
func (r *Reranker) RerankMultistage(ctx context.Context, query string, candidates []retrieval.Candidate, useCache bool) ([]Ranked, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	if !r.cfg.Enabled {
		return PositionRanked(candidates, min(r.cfg.Stage2K, len(candidates))), nil
	}

	key := ""
	if useCache {
		key = cacheKey(query, candidates, r.cfg.Stage2K, true)
		if cached, ok := r.cache.get(key); ok {
			return cached, nil
		}
	}

	precise, fast, err := r.scorers()
	if err != nil {
		return nil, err
	}

	pool := candidates
	if len(pool) >= r.cfg.Stage1K && fast != nil && fast != precise {
		if broad := r.scoreWith(ctx, fast, query, pool); broad != nil {
			if len(broad) > r.cfg.Stage1K {
				broad = broad[:r.cfg.Stage1K]
			}
			pool = make([]retrieval.Candidate, len(broad))
			for i := range broad {
				pool[i] = broad[i].Candidate
			}
		}
	}

	ranked := r.scoreWith(ctx, precise, query, pool)
	if ranked == nil {
		r.logger.Warn("Precise rerank stage failed, keeping fused order", "query", query)
		ranked = PositionRanked(pool, len(pool))
	}
	if len(ranked) > r.cfg.Stage2K {
		ranked = ranked[:r.cfg.Stage2K]
	}

	if useCache {
		r.cache.put(key, ranked)
	}
	return ranked, nil
}

// RerankBatch reranks aligned query/candidate pairs. Lengths must
// match; each pair is cache-aware on its own.
func (r *Reranker) RerankBatch(ctx context.Context, queries []string, candidateLists [][]retrieval.Candidate, topK int) ([][]Ranked, error) {
	if len(queries) != len(candidateLists) {
		return nil, fmt.Errorf("got %d queries but %d candidate lists", len(queries), len(candidateLists))
	}
	out := make([][]Ranked, len(queries))
	for i := range queries {
		ranked, err := r.Rerank(ctx, queries[i], candidateLists[i], topK, true)
		if err != nil {
			return nil, fmt.Errorf("rerank for query %d failed: %w", i, err)
		}
		out[i] = ranked
	}
	return out, nil
}

// scoreWith runs one scorer and sorts the candidates by its scores.
// Returns nil on failure so the caller can degrade.
func (r *Reranker) scoreWith(ctx context.Context, scorer Scorer, query string, candidates []retrieval.Candidate) []Ranked {
	if scorer == nil {
		return nil
	}
	texts := make([]string, len(candidates))
	for i := range candidates {
		texts[i] = candidates[i].Text
	}

	scores, err := scorer.Score(ctx, query, texts)
	if err != nil {
		r.logger.Warn("Rerank scorer failed", "scorer", scorer.Name(), "error", err)
		return nil
	}
	if len(scores) != len(candidates) {
		r.logger.Warn("Rerank scorer returned misaligned scores",
			"scorer", scorer.Name(), "want", len(candidates), "got", len(scores))
		return nil
	}

	ranked := make([]Ranked, len(candidates))
	for i := range candidates {
		ranked[i] = Ranked{Candidate: candidates[i], RerankScore: scores[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].RerankScore > ranked[j].RerankScore
	})
	return ranked
}

// PositionRanked keeps the input order with position-decayed scores
// (first 1.0, then -0.05 per step, floored at 0.1).
func PositionRanked(candidates []retrieval.Candidate, topK int) []Ranked {
	if topK > len(candidates) {
		topK = len(candidates)
	}
	ranked := make([]Ranked, topK)
	for i := 0; i < topK; i++ {
		score := 1.0 - float64(i)*0.05
		if score < 0.1 {
			score = 0.1
		}
		ranked[i] = Ranked{Candidate: candidates[i], RerankScore: score}
	}
	return ranked
}
