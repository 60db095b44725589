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
	"sync"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// Job is one queued ingest.
type Job struct {
	Data  []byte
	Hints Hints
}

// JobResult pairs a finished job with its outcome.
type JobResult struct {
	Job    Job
	Result *IngestResult
	Err    error
}

// Pool runs ingests on a bounded set of workers. Submissions beyond the
// queue capacity are refused with a busy error rather than blocking the
// caller.
type Pool struct {
	pipeline *Pipeline
	workers  int
	jobs     chan Job
	results  chan JobResult
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool sizes the queue and worker count. Zero values fall back to
// the pipeline's ingest config.
func NewPool(p *Pipeline, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = p.cfg.Workers
	}
	if queueSize <= 0 {
		queueSize = p.cfg.QueueSize
	}
	return &Pool{
		pipeline: p,
		workers:  workers,
		jobs:     make(chan Job, queueSize),
		results:  make(chan JobResult, queueSize),
	}
}

// Start launches the workers. They drain the queue until Close or
// context cancellation.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.work(ctx)
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			res, err := p.pipeline.Ingest(ctx, job.Data, job.Hints)
			select {
			case p.results <- JobResult{Job: job, Result: res, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit queues a job without blocking. A full queue returns a busy
// error so callers can shed load.
func (p *Pool) Submit(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return document.NewError(document.KindValidation, "pool.submit", "pool is closed")
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return document.NewError(document.KindCapacity, "pool.submit", "ingest queue is full")
	}
}

// Results delivers completion events for logging and metrics.
func (p *Pool) Results() <-chan JobResult {
	return p.results
}

// Close stops accepting jobs, waits for in-flight work, and closes the
// results channel.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
}
