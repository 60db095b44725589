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

package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kadirpekel/mnemo/pkg/auth"
	"github.com/kadirpekel/mnemo/pkg/chunker"
	"github.com/kadirpekel/mnemo/pkg/confidence"
	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/corpus"
	"github.com/kadirpekel/mnemo/pkg/dedup"
	"github.com/kadirpekel/mnemo/pkg/embedders"
	"github.com/kadirpekel/mnemo/pkg/enrichment"
	"github.com/kadirpekel/mnemo/pkg/keyword"
	"github.com/kadirpekel/mnemo/pkg/llms"
	"github.com/kadirpekel/mnemo/pkg/notes"
	"github.com/kadirpekel/mnemo/pkg/observability"
	"github.com/kadirpekel/mnemo/pkg/ocr"
	"github.com/kadirpekel/mnemo/pkg/pipeline"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/retrieval"
	"github.com/kadirpekel/mnemo/pkg/scoring"
	"github.com/kadirpekel/mnemo/pkg/sources"
	"github.com/kadirpekel/mnemo/pkg/synthesis"
	"github.com/kadirpekel/mnemo/pkg/vector"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

// app is the composition root: every component wired once, shared by
// the server and the one-shot commands.
type app struct {
	cfg *config.Config

	dbpool     *config.DBPool
	store      vector.Store
	corpus     *corpus.Manager
	vocab      *vocabulary.Vocabulary
	ledger     *llms.CostLedger
	dispatcher *llms.Dispatcher
	pipeline   *pipeline.Pipeline
	pool       *pipeline.Pool
	query      *pipeline.Query
	ocrQueue   *ocr.Queue
	ocrWorker  *ocr.Worker
	validator  *auth.Validator
	obs        *observability.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	a.obs = observability.NewManager(cfg.Observability)
	eventPath := filepath.Join(cfg.Storage.EventsDir, "events.ndjson")
	if err := a.obs.Initialize(ctx, eventPath); err != nil {
		return nil, fmt.Errorf("observability init failed: %w", err)
	}

	a.dbpool = config.NewDBPool()
	db, err := a.dbpool.Get(&cfg.Database)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("database open failed: %w", err)
	}

	registry, err := corpus.NewRegistry(db)
	if err != nil {
		a.Close()
		return nil, err
	}
	kw, err := keyword.NewIndex(db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = vector.New(&cfg.Vector)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.corpus, err = corpus.NewManager(registry, kw, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}

	embedder, err := embedders.New(&cfg.Embedder)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.ledger, err = llms.OpenCostLedger(filepath.Join(cfg.Storage.CostsDir, "cost_ledger.jsonl"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.dispatcher, err = llms.NewDispatcher(cfg, a.ledger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.vocab, err = vocabulary.Load(cfg.Vocabulary.Dir)
	if err != nil {
		a.Close()
		return nil, err
	}
	watchlist, err := vocabulary.LoadWatchlist(filepath.Join(cfg.Vocabulary.Dir, "watchlist.yaml"))
	if err != nil {
		a.Close()
		return nil, err
	}

	enricher, err := enrichment.New(a.dispatcher, a.vocab, registry, cfg.Enrichment)
	if err != nil {
		a.Close()
		return nil, err
	}
	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		a.Close()
		return nil, err
	}
	writer, err := notes.NewWriter(cfg.Storage.NotesDir)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ocrQueue, err = ocr.Open(cfg.Storage.OCRDir, ocr.WithMaxAttempts(cfg.OCR.MaxAttempts))
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Sources:  sources.NewRegistry(),
		Deduper:  dedup.New(registry),
		Enricher: enricher,
		Scorer:   scoring.New(cfg.Scoring, registry, watchlist),
		Chunker:  ch,
		Embedder: embedder,
		Corpus:   a.corpus,
		OCRQueue: a.ocrQueue,
		Notes:    writer,
		Metrics:  a.obs.Metrics(),
		Events:   a.obs.Events(),
	}, cfg.Ingest)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pool = pipeline.NewPool(a.pipeline, cfg.Ingest.Workers, cfg.Ingest.QueueSize)

	retriever, err := retrieval.New(a.corpus, embedder, cfg.Retrieval)
	if err != nil {
		a.Close()
		return nil, err
	}
	var expander *retrieval.Expander
	if cfg.Hyde.Enabled {
		expander = retrieval.NewExpander(a.dispatcher, cfg.Hyde)
	}
	a.query, err = pipeline.NewQuery(pipeline.QueryDeps{
		Retriever:   retriever,
		Expander:    expander,
		Reranker:    rerank.New(cfg.Rerank, a.dispatcher),
		Gate:        confidence.NewGate(cfg.Confidence),
		Synthesizer: synthesis.New(a.dispatcher, cfg.Synthesis),
		Corpus:      a.corpus,
		Metrics:     a.obs.Metrics(),
		Events:      a.obs.Events(),
	}, cfg.Retrieval)
	if err != nil {
		a.Close()
		return nil, err
	}

	if ocrEnabled(cfg.OCR) {
		engine := ocr.NewEngine(cfg.OCR)
		a.ocrWorker = ocr.NewWorker(a.ocrQueue, engine, a.reingestOCR, cfg.OCR.PollInterval)
	}

	if cfg.Server.Auth != nil && cfg.Server.Auth.Enabled {
		a.validator, err = auth.NewValidator(ctx, *cfg.Server.Auth)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.registerHealthChecks(db)
	return a, nil
}

func ocrEnabled(cfg config.OCRConfig) bool {
	if cfg.Command == "" {
		return false
	}
	return cfg.Enabled == nil || *cfg.Enabled
}

// reingestOCR feeds a second-pass OCR result back through the full
// pipeline under the original document's source path.
func (a *app) reingestOCR(ctx context.Context, entry ocr.Entry, res *ocr.Result) error {
	_, err := a.pipeline.Ingest(ctx, []byte(res.Text), pipeline.Hints{
		Filename:   filepath.Base(entry.SourcePath),
		SourcePath: entry.SourcePath,
	})
	return err
}

func (a *app) registerHealthChecks(db *sql.DB) {
	health := a.obs.Health()
	health.Register("registry", func(ctx context.Context) (observability.HealthStatus, string) {
		if err := db.PingContext(ctx); err != nil {
			return observability.StatusUnhealthy, err.Error()
		}
		return observability.StatusHealthy, ""
	})
	health.Register("keyword_index", func(ctx context.Context) (observability.HealthStatus, string) {
		if _, err := a.corpus.Keyword().Count(ctx); err != nil {
			return observability.StatusUnhealthy, err.Error()
		}
		return observability.StatusHealthy, ""
	})
	health.Register("vector_store", func(ctx context.Context) (observability.HealthStatus, string) {
		if _, err := a.corpus.VectorIndex(corpus.ViewCanonical).Count(ctx); err != nil {
			return observability.StatusUnhealthy, err.Error()
		}
		return observability.StatusHealthy, ""
	})
	health.Register("ocr_queue", func(ctx context.Context) (observability.HealthStatus, string) {
		stats := a.ocrQueue.Stats()
		if stats.Failed > 0 {
			return observability.StatusDegraded, fmt.Sprintf("%d entries failed", stats.Failed)
		}
		return observability.StatusHealthy, ""
	})
}

// Close releases resources in reverse construction order. Safe to call
// on a partially built app.
func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.dbpool != nil {
		a.dbpool.Close()
	}
	if a.obs != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.obs.Shutdown(ctx)
	}
}
