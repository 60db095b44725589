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

package llms

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// CostRecord is one LLM call in the ledger, one JSON line on disk.
type CostRecord struct {
	TS               time.Time `json:"ts"`
	Provider         string    `json:"provider"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	USD              float64   `json:"usd"`
	Op               string    `json:"op,omitempty"`
	DocID            string    `json:"doc_id,omitempty"`
}

// ModelUsage aggregates spend per provider/model pair.
type ModelUsage struct {
	Provider         string  `json:"provider"`
	Model            string  `json:"model"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	USD              float64 `json:"usd"`
	Calls            int     `json:"calls"`
}

// LedgerSnapshot is a point-in-time view for stats and budget checks.
type LedgerSnapshot struct {
	SessionUSD float64            `json:"session_usd"`
	TodayUSD   float64            `json:"today_usd"`
	TotalUSD   float64            `json:"total_usd"`
	Days       map[string]float64 `json:"days"`
	Models     []ModelUsage       `json:"models"`
}

// CostLedger is the append-only spend log. Every call lands in memory
// buckets (per UTC day, per provider/model) and as a JSONL line, so the
// daily budget survives restarts. Session spend counts this process only.
type CostLedger struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	session float64
	days    map[string]map[string]*ModelUsage
}

// OpenCostLedger opens (or creates) the ledger at path and replays
// existing records into the day buckets.
func OpenCostLedger(path string) (*CostLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}

	l := &CostLedger{
		path: path,
		days: make(map[string]map[string]*ModelUsage),
	}

	if err := l.replay(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	l.file = file

	return l, nil
}

// NewCostLedger creates an in-memory ledger with no persistence,
// used by tests and dry runs.
func NewCostLedger() *CostLedger {
	return &CostLedger{days: make(map[string]map[string]*ModelUsage)}
}

func (l *CostLedger) replay() error {
	file, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec CostRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line from a crash is not worth failing startup.
			continue
		}
		l.bucket(rec)
	}
	return scanner.Err()
}

// Append records one call. The timestamp defaults to now.
func (l *CostLedger) Append(rec CostRecord) error {
	if rec.TS.IsZero() {
		rec.TS = time.Now().UTC()
	}
	rec.USD = roundUSD(rec.USD)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.bucket(rec)
	l.session += rec.USD

	if l.file == nil {
		return nil
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal cost record: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append cost record: %w", err)
	}
	return nil
}

// bucket folds a record into the day totals. Caller holds the lock
// (or is still single-goroutine during replay).
func (l *CostLedger) bucket(rec CostRecord) {
	day := rec.TS.UTC().Format("2006-01-02")
	models := l.days[day]
	if models == nil {
		models = make(map[string]*ModelUsage)
		l.days[day] = models
	}

	key := rec.Provider + "/" + rec.Model
	usage := models[key]
	if usage == nil {
		usage = &ModelUsage{Provider: rec.Provider, Model: rec.Model}
		models[key] = usage
	}
	usage.PromptTokens += rec.PromptTokens
	usage.CompletionTokens += rec.CompletionTokens
	usage.USD += rec.USD
	usage.Calls++
}

// SessionUSD returns spend since this process started.
func (l *CostLedger) SessionUSD() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// TodayUSD returns spend for the current UTC day, including replayed
// records from before the process started.
func (l *CostLedger) TodayUSD() float64 {
	return l.DayUSD(time.Now())
}

// DayUSD returns spend for the UTC day containing t.
func (l *CostLedger) DayUSD(t time.Time) float64 {
	day := t.UTC().Format("2006-01-02")

	l.mu.Lock()
	defer l.mu.Unlock()

	var total float64
	for _, usage := range l.days[day] {
		total += usage.USD
	}
	return total
}

// Snapshot returns aggregate spend for the stats surface.
func (l *CostLedger) Snapshot() LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := LedgerSnapshot{
		SessionUSD: roundUSD(l.session),
		Days:       make(map[string]float64, len(l.days)),
	}

	byModel := make(map[string]*ModelUsage)
	for day, models := range l.days {
		var dayTotal float64
		for key, usage := range models {
			dayTotal += usage.USD

			agg := byModel[key]
			if agg == nil {
				agg = &ModelUsage{Provider: usage.Provider, Model: usage.Model}
				byModel[key] = agg
			}
			agg.PromptTokens += usage.PromptTokens
			agg.CompletionTokens += usage.CompletionTokens
			agg.USD += usage.USD
			agg.Calls += usage.Calls
		}
		snap.Days[day] = roundUSD(dayTotal)
		snap.TotalUSD += dayTotal
	}
	snap.TotalUSD = roundUSD(snap.TotalUSD)

	today := time.Now().UTC().Format("2006-01-02")
	snap.TodayUSD = snap.Days[today]

	for _, usage := range byModel {
		u := *usage
		u.USD = roundUSD(u.USD)
		snap.Models = append(snap.Models, u)
	}
	sort.Slice(snap.Models, func(i, j int) bool {
		if snap.Models[i].Provider != snap.Models[j].Provider {
			return snap.Models[i].Provider < snap.Models[j].Provider
		}
		return snap.Models[i].Model < snap.Models[j].Model
	})

	return snap
}

// Close flushes and closes the JSONL sink.
func (l *CostLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// roundUSD keeps ledger arithmetic at micro-dollar precision.
func roundUSD(usd float64) float64 {
	return math.Round(usd*1e6) / 1e6
}
