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

package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kadirpekel/mnemo/pkg/confidence"
	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/observability"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
	"github.com/kadirpekel/mnemo/pkg/synthesis"
)

// ErrEmptyCorpus is returned by Search when nothing has been ingested.
// The transport maps it to a conflict rather than an empty result, so
// callers can tell "no matches" from "no data".
var ErrEmptyCorpus = errors.New("corpus is empty")

// SearchRequest selects and tunes one retrieval pass. Nil toggles use
// the configured defaults.
type SearchRequest struct {
	Query     string
	TopK      int
	Filter    *document.SearchFilter
	UseRerank *bool
	UseHyde   *bool

	// View selects the corpus: empty or a query kind. Audit-style
	// kinds route to the full view.
	View string
}

// ChatResult is a grounded answer or a refusal with its assessment.
type ChatResult struct {
	Answer     string                `json:"answer"`
	Citations  []string              `json:"citations,omitempty"`
	Model      string                `json:"model,omitempty"`
	USD        float64               `json:"usd"`
	LatencyMS  int64                 `json:"latency_ms"`
	Refused    bool                  `json:"refused"`
	Assessment confidence.Assessment `json:"assessment"`
	Context    []rerank.Ranked       `json:"context,omitempty"`
}

// QueryDeps bundles the query-side stages. Expander and Synthesizer
// are optional; Metrics and Events may be nil.
type QueryDeps struct {
	Retriever   *retrieval.Retriever
	Expander    *retrieval.Expander
	Reranker    *rerank.Reranker
	Gate        *confidence.Gate
	Synthesizer *synthesis.Synthesizer
	Corpus      *corpus.Manager
	Metrics     *observability.Metrics
	Events      *observability.EventLog
}

// Query drives search and chat over the indexed corpus.
type Query struct {
	deps   QueryDeps
	cfg    config.RetrievalConfig
	logger *slog.Logger
}

// NewQuery builds the query pipeline.
func NewQuery(deps QueryDeps, cfg config.RetrievalConfig) (*Query, error) {
	if deps.Retriever == nil || deps.Reranker == nil || deps.Gate == nil || deps.Corpus == nil {
		return nil, document.NewError(document.KindFatal, "query.new", "missing required stage")
	}
	cfg.SetDefaults()
	return &Query{
		deps:   deps,
		cfg:    cfg,
		logger: slog.Default().With("component", "query"),
	}, nil
}

// Search runs hybrid retrieval with optional expansion and reranking.
func (q *Query) Search(ctx context.Context, req SearchRequest) ([]rerank.Ranked, error) {
	started := time.Now()
	ranked, err := q.search(ctx, req)
	q.deps.Metrics.RecordQuery(ctx, "search", err)
	q.deps.Metrics.RecordQueryStage(ctx, "search", time.Since(started))
	q.deps.Events.Info("search",
		"query", req.Query,
		"results", len(ranked),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return ranked, err
}

func (q *Query) search(ctx context.Context, req SearchRequest) ([]rerank.Ranked, error) {
	count, err := q.deps.Corpus.Keyword().Count(ctx)
	if err != nil {
		return nil, document.WrapError(document.KindConsistency, "search", err)
	}
	if count == 0 {
		return nil, ErrEmptyCorpus
	}

	topK := req.TopK
	if topK <= 0 {
		topK = q.cfg.TopK
	}
	useRerank := q.deps.Reranker.Enabled()
	if req.UseRerank != nil {
		useRerank = *req.UseRerank
	}

	// Fetch a wide pool when a reranker will cut it down.
	fetchK := topK
	if useRerank && q.deps.Reranker.CandidateLimit() > fetchK {
		fetchK = q.deps.Reranker.CandidateLimit()
	}
	opts := retrieval.Options{
		TopK:   fetchK,
		Filter: req.Filter,
		View:   viewFor(req.View),
	}

	results, err := q.deps.Retriever.Retrieve(ctx, req.Query, opts)
	if err != nil {
		return nil, err
	}

	if q.expandWanted(req) && q.deps.Expander.ShouldExpand(results) {
		queries := q.deps.Expander.Expand(ctx, req.Query)
		merged, err := retrieval.MultiQuerySearch(ctx, queries, func(ctx context.Context, query string) ([]retrieval.Candidate, error) {
			return q.deps.Retriever.Retrieve(ctx, query, opts)
		})
		if err != nil {
			q.logger.Warn("Query expansion search failed, keeping base results", "error", err)
		} else {
			results = merged
		}
	}

	if !useRerank {
		return rerank.PositionRanked(results, topK), nil
	}
	return q.deps.Reranker.Rerank(ctx, req.Query, results, topK, true)
}

// viewFor resolves the requested view or query kind onto a corpus
// view. Explicit "full" and audit-style kinds hit the unfiltered
// corpus; everything else stays canonical.
func viewFor(view string) document.CorpusView {
	if strings.EqualFold(view, string(document.ViewFull)) {
		return document.ViewFull
	}
	if corpus.SuggestView(strings.ToLower(view)) == corpus.ViewFull {
		return document.ViewFull
	}
	return document.ViewCanonical
}

func (q *Query) expandWanted(req SearchRequest) bool {
	if q.deps.Expander == nil {
		return false
	}
	if req.UseHyde != nil {
		return *req.UseHyde
	}
	return true
}

// Chat answers a question from the corpus. Insufficient context or an
// empty corpus produce a refusal, not an error; only infrastructure
// failures surface as errors.
func (q *Query) Chat(ctx context.Context, req SearchRequest) (*ChatResult, error) {
	if q.deps.Synthesizer == nil {
		return nil, document.NewError(document.KindFatal, "chat", "synthesizer not configured")
	}

	started := time.Now()
	ranked, err := q.search(ctx, req)
	if err != nil && !errors.Is(err, ErrEmptyCorpus) {
		q.deps.Metrics.RecordQuery(ctx, "chat", err)
		return nil, err
	}

	assessment := q.deps.Gate.Assess(req.Query, ranked)
	result := &ChatResult{Assessment: assessment, Context: ranked}

	if !assessment.Sufficient || assessment.Recommendation != confidence.RecommendAnswer {
		result.Refused = true
		result.Answer = confidence.ResponseForLowConfidence(assessment, req.Query)
	} else {
		answer, err := q.deps.Synthesizer.Synthesize(ctx, req.Query, ranked)
		if err != nil {
			q.deps.Metrics.RecordQuery(ctx, "chat", err)
			return nil, err
		}
		result.Answer = answer.Text
		result.Citations = answer.Citations
		result.Model = answer.Model
		result.USD = answer.USD
	}
	result.LatencyMS = time.Since(started).Milliseconds()

	q.deps.Metrics.RecordQuery(ctx, "chat", nil)
	q.deps.Events.Info("chat",
		"query", req.Query,
		"refused", result.Refused,
		"recommendation", assessment.Recommendation,
		"duration_ms", result.LatencyMS,
	)
	return result, nil
}
