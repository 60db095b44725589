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

package ocr

import (
	"context"
	"log/slog"
	"time"
)

// Result is one OCR pass over a source file.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer produces text from a source file. Engine is the MCP-backed
// implementation.
type Recognizer interface {
	Recognize(ctx context.Context, path string) (*Result, error)
}

// ReingestFunc feeds a re-OCR result back into the ingestion pipeline.
// The pipeline applies its usual content-hash rules, so an unchanged
// recognition is a duplicate hit rather than a new document.
type ReingestFunc func(ctx context.Context, entry Entry, res *Result) error

// Worker drains the queue in priority order, one entry at a time.
type Worker struct {
	queue      *Queue
	recognizer Recognizer
	reingest   ReingestFunc
	interval   time.Duration
}

// NewWorker wires a queue to a recognizer and the re-ingest callback.
func NewWorker(queue *Queue, recognizer Recognizer, reingest ReingestFunc, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		queue:      queue,
		recognizer: recognizer,
		reingest:   reingest,
		interval:   interval,
	}
}

// Run polls the queue until ctx is cancelled. Each poll drains every
// eligible entry; entries inside a backoff window wait for a later poll.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain claims and processes entries until none are eligible.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		entry, err := w.queue.Claim()
		if err != nil {
			slog.Error("OCR queue claim failed", "error", err)
			return
		}
		if entry == nil {
			return
		}
		w.process(ctx, *entry)
	}
}

func (w *Worker) process(ctx context.Context, entry Entry) {
	res, err := w.recognizer.Recognize(ctx, entry.SourcePath)
	if err == nil {
		err = w.reingest(ctx, entry, res)
	}
	if err != nil {
		slog.Warn("Re-OCR attempt failed",
			"doc_id", entry.DocID,
			"source", entry.SourcePath,
			"attempt", entry.Attempts+1,
			"error", err,
		)
		if failErr := w.queue.Fail(entry.DocID, err); failErr != nil {
			slog.Error("OCR queue update failed", "doc_id", entry.DocID, "error", failErr)
		}
		return
	}

	slog.Info("Re-OCR succeeded",
		"doc_id", entry.DocID,
		"source", entry.SourcePath,
		"confidence", res.Confidence,
	)
	if err := w.queue.Complete(entry.DocID); err != nil {
		slog.Error("OCR queue update failed", "doc_id", entry.DocID, "error", err)
	}
}
