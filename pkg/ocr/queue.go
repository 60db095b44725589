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

// Package ocr tracks documents whose text came out of a low-confidence
// OCR pass and schedules them for re-processing.
//
// The queue is a single JSON file so entries survive restarts. Claims
// are compare-and-set state transitions under the queue mutex: exactly
// one worker owns an entry between Claim and Complete/Fail. Ordering is
// by priority (1 - confidence, worst scans first) with FIFO ties.
package ocr

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// QueueFile is the queue's on-disk name inside the OCR directory.
const QueueFile = "ocr_queue.json"

const (
	DefaultMaxAttempts = 3
	DefaultBackoffBase = time.Minute
)

// State is an entry's position in the re-OCR lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Entry is one document awaiting (or finished with) a second OCR pass.
type Entry struct {
	DocID              string    `json:"doc_id"`
	SourcePath         string    `json:"source_path"`
	OriginalConfidence float64   `json:"original_confidence"`
	Attempts           int       `json:"attempts"`
	State              State     `json:"state"`
	LastError          string    `json:"last_error,omitempty"`
	EnqueuedAt         time.Time `json:"enqueued_at"`

	// NextAttemptAt holds the end of the current backoff window.
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// Priority orders the queue; lower confidence claims first.
func (e *Entry) Priority() float64 {
	return 1 - e.OriginalConfidence
}

// Queue is the persistent re-OCR queue. All methods are safe for
// concurrent use; every mutation is flushed to disk before it returns.
type Queue struct {
	path        string
	maxAttempts int
	backoffBase time.Duration

	mu      sync.Mutex
	entries map[string]*Entry
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxAttempts overrides how many failures move an entry to failed.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithBackoffBase overrides the first retry delay. Each further attempt
// doubles it.
func WithBackoffBase(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.backoffBase = d
		}
	}
}

// Open loads the queue from dir, creating the directory and an empty
// queue when nothing is persisted yet. Entries a previous run left in
// processing are returned to pending so a crashed worker cannot strand
// them.
func Open(dir string, opts ...Option) (*Queue, error) {
	if _, err := utils.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create OCR queue directory: %w", err)
	}

	q := &Queue{
		path:        filepath.Join(dir, QueueFile),
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		entries:     make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

// Enqueue adds a document to the queue. Documents already pending or
// processing are left untouched, completed ones are re-queued fresh, and
// documents that exhausted their attempts stay failed until Remove.
func (q *Queue) Enqueue(docID, sourcePath string, confidence float64) error {
	if docID == "" {
		return fmt.Errorf("doc id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if cur, ok := q.entries[docID]; ok && cur.State != StateCompleted {
		return nil
	}

	q.entries[docID] = &Entry{
		DocID:              docID,
		SourcePath:         sourcePath,
		OriginalConfidence: document.Clamp01(confidence),
		State:              StatePending,
		EnqueuedAt:         time.Now().UTC(),
	}
	return q.save()
}

// Claim moves the highest-priority eligible entry from pending to
// processing and returns a copy. A nil entry with a nil error means
// nothing is ready: the queue is drained or every pending entry is
// still inside its backoff window.
func (q *Queue) Claim() (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var best *Entry
	for _, e := range q.entries {
		if e.State != StatePending || e.NextAttemptAt.After(now) {
			continue
		}
		if best == nil || claimBefore(e, best) {
			best = e
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = StateProcessing
	if err := q.save(); err != nil {
		best.State = StatePending
		return nil, err
	}
	claimed := *best
	return &claimed, nil
}

// Complete marks a processing entry as done.
func (q *Queue) Complete(docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[docID]
	if !ok {
		return fmt.Errorf("no OCR queue entry for %s", docID)
	}
	if e.State != StateProcessing {
		return fmt.Errorf("cannot complete %s in state %s", docID, e.State)
	}

	e.State = StateCompleted
	e.LastError = ""
	e.NextAttemptAt = time.Time{}
	return q.save()
}

// Fail records a processing failure. The entry returns to pending with
// an exponentially growing delay until attempts run out, then it is
// marked failed for good.
func (q *Queue) Fail(docID string, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[docID]
	if !ok {
		return fmt.Errorf("no OCR queue entry for %s", docID)
	}
	if e.State != StateProcessing {
		return fmt.Errorf("cannot fail %s in state %s", docID, e.State)
	}

	e.Attempts++
	if cause != nil {
		e.LastError = cause.Error()
	}
	if e.Attempts >= q.maxAttempts {
		e.State = StateFailed
		e.NextAttemptAt = time.Time{}
	} else {
		e.State = StatePending
		e.NextAttemptAt = time.Now().Add(q.backoff(e.Attempts))
	}
	return q.save()
}

// Remove drops a document from the queue, whatever its state. Removing
// an absent document is a no-op.
func (q *Queue) Remove(docID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.entries[docID]; !ok {
		return nil
	}
	delete(q.entries, docID)
	return q.save()
}

// Snapshot returns copies of all entries in claim order.
func (q *Queue) Snapshot() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, 0, len(q.entries))
	for _, e := range q.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return claimBefore(&out[i], &out[j])
	})
	return out
}

// Stats counts entries per state.
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Stats summarizes the queue for health checks and the stats endpoint.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var s Stats
	for _, e := range q.entries {
		switch e.State {
		case StatePending:
			s.Pending++
		case StateProcessing:
			s.Processing++
		case StateCompleted:
			s.Completed++
		case StateFailed:
			s.Failed++
		}
	}
	return s
}

// claimBefore reports whether a should be claimed ahead of b.
func claimBefore(a, b *Entry) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}
	return a.EnqueuedAt.Before(b.EnqueuedAt)
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.backoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read OCR queue: %w", err)
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse OCR queue: %w", err)
	}

	for _, e := range entries {
		if e.DocID == "" {
			continue
		}
		if e.State == StateProcessing {
			e.State = StatePending
		}
		q.entries[e.DocID] = e
	}
	return nil
}

// save writes the queue atomically. Callers hold q.mu.
func (q *Queue) save() error {
	entries := make([]*Entry, 0, len(q.entries))
	for _, e := range q.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].EnqueuedAt.Equal(entries[j].EnqueuedAt) {
			return entries[i].EnqueuedAt.Before(entries[j].EnqueuedAt)
		}
		return entries[i].DocID < entries[j].DocID
	})

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal OCR queue: %w", err)
	}

	tempPath := q.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write OCR queue: %w", err)
	}
	if err := os.Rename(tempPath, q.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save OCR queue: %w", err)
	}
	return nil
}

// Per-kind confidence floors for the re-OCR decision.
var reOCRThresholds = map[string]float64{
	"pdf":   0.70,
	"image": 0.75,
	"email": 0.50,
}

const defaultReOCRThreshold = 0.60

// ShouldReOCR reports whether image-derived text of the given source
// kind is too uncertain to stand as indexed. A nil confidence means the
// text was born digital and never needs OCR.
func ShouldReOCR(confidence *float64, kind string) bool {
	if confidence == nil {
		return false
	}
	threshold, ok := reOCRThresholds[kind]
	if !ok {
		threshold = defaultReOCRThreshold
	}
	return *confidence < threshold
}
