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

// Package scoring computes the per-document quality verdict that gates
// indexing: quality, novelty, actionability, their weighted signalness,
// and the do_index decision against per-profile thresholds.
package scoring

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/vocabulary"
)

// MinSharedTopics is how many controlled topics two documents must share
// to count as similar for the novelty window.
const MinSharedTopics = 3

// Quality component weights. OCR confidence dominates because garbled
// text poisons retrieval more than any structural defect.
const (
	weightOCR       = 0.35
	weightParse     = 0.15
	weightStructure = 0.20
	weightLength    = 0.30
)

// GateThresholds is one row of the indexing gate.
type GateThresholds struct {
	MinQuality float64
	MinSignal  float64
}

// gates maps a document profile to its indexing thresholds.
var gates = map[string]GateThresholds{
	"email.thread": {MinQuality: 0.70, MinSignal: 0.60},
	"chat.daily":   {MinQuality: 0.65, MinSignal: 0.60},
	"pdf.report":   {MinQuality: 0.75, MinSignal: 0.65},
	"web.article":  {MinQuality: 0.70, MinSignal: 0.60},
	"note":         {MinQuality: 0.60, MinSignal: 0.50},
	"text":         {MinQuality: 0.65, MinSignal: 0.55},
	"legal":        {MinQuality: 0.80, MinSignal: 0.70},
	"generic":      {MinQuality: 0.65, MinSignal: 0.55},
}

// ProfileFor maps a source kind to its gate profile. Callers may
// override with an explicit profile (e.g. "legal") at ingest time.
func ProfileFor(kind document.SourceKind) string {
	switch kind {
	case document.SourceEmail:
		return "email.thread"
	case document.SourceChat:
		return "chat.daily"
	case document.SourcePDF, document.SourceOffice:
		return "pdf.report"
	case document.SourceHTML:
		return "web.article"
	case document.SourceMarkdown:
		return "note"
	case document.SourceText:
		return "text"
	default:
		return "generic"
	}
}

// GateFor returns the thresholds for a profile, falling back to generic
// for unknown names.
func GateFor(profile string) GateThresholds {
	if g, ok := gates[profile]; ok {
		return g
	}
	return gates["generic"]
}

// NeighborCounter answers the novelty question: how many documents in
// the trailing window share enough topics with this one. Implemented by
// the corpus registry.
type NeighborCounter interface {
	CountTopicNeighbors(ctx context.Context, topics []string, since time.Time, minShared int) (int, error)
}

// Config tunes the scorer.
type Config struct {
	// SaturationK is the neighbor count at which novelty bottoms out.
	// Default: 10
	SaturationK int `yaml:"saturation_k,omitempty"`

	// NoveltyWindowDays is the trailing window for the neighbor count.
	// Default: 90
	NoveltyWindowDays int `yaml:"novelty_window_days,omitempty"`

	// DateProximityDays bounds the actionability date boost.
	// Default: 30
	DateProximityDays int `yaml:"date_proximity_days,omitempty"`

	// LengthMidpoint is the character count at which length adequacy
	// crosses 0.5.
	// Default: 200
	LengthMidpoint int `yaml:"length_midpoint,omitempty"`

	// LengthScale is the sigmoid steepness divisor.
	// Default: 80
	LengthScale float64 `yaml:"length_scale,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.SaturationK <= 0 {
		c.SaturationK = 10
	}
	if c.NoveltyWindowDays <= 0 {
		c.NoveltyWindowDays = 90
	}
	if c.DateProximityDays <= 0 {
		c.DateProximityDays = 30
	}
	if c.LengthMidpoint <= 0 {
		c.LengthMidpoint = 200
	}
	if c.LengthScale <= 0 {
		c.LengthScale = 80
	}
}

// Validate checks the scoring configuration.
func (c *Config) Validate() error {
	if c.SaturationK < 1 {
		return fmt.Errorf("saturation_k must be at least 1, got %d", c.SaturationK)
	}
	if c.NoveltyWindowDays < 1 {
		return fmt.Errorf("novelty_window_days must be at least 1, got %d", c.NoveltyWindowDays)
	}
	if c.DateProximityDays < 1 {
		return fmt.Errorf("date_proximity_days must be at least 1, got %d", c.DateProximityDays)
	}
	return nil
}

// Scorer computes document scores. Safe for concurrent use; all state
// is read-only after construction.
type Scorer struct {
	config    Config
	neighbors NeighborCounter
	watchlist []vocabulary.WatchlistEntry

	// now is a seam for tests.
	now func() time.Time
}

// New creates a scorer. The neighbor counter may be nil, in which case
// every document scores as fully novel.
func New(cfg Config, neighbors NeighborCounter, watchlist []vocabulary.WatchlistEntry) *Scorer {
	cfg.SetDefaults()
	return &Scorer{
		config:    cfg,
		neighbors: neighbors,
		watchlist: watchlist,
		now:       time.Now,
	}
}

// Score computes the full verdict for a document. The text is the
// canonical extracted text; parseOK records whether extraction
// succeeded. An empty profile derives one from the source kind.
func (s *Scorer) Score(ctx context.Context, doc *document.Document, text string, parseOK bool, profile string) (document.Scores, error) {
	if profile == "" {
		profile = ProfileFor(doc.SourceKind)
	}
	gate := GateFor(profile)

	quality := s.quality(doc, text, parseOK)

	novelty, err := s.novelty(ctx, doc)
	if err != nil {
		return document.Scores{}, fmt.Errorf("novelty scoring failed: %w", err)
	}

	actionability := s.actionability(doc)

	scores := document.Scores{
		Quality:       document.Round4(quality),
		Novelty:       document.Round4(novelty),
		Actionability: document.Round4(actionability),
	}
	scores.Signalness = document.ComputeSignalness(quality, novelty, actionability)

	var reasons []string
	if scores.Quality < gate.MinQuality {
		reasons = append(reasons, fmt.Sprintf("quality below %.2f", gate.MinQuality))
	}
	if scores.Signalness < gate.MinSignal {
		reasons = append(reasons, fmt.Sprintf("signalness below %.2f", gate.MinSignal))
	}
	scores.DoIndex = len(reasons) == 0
	scores.GateReason = strings.Join(reasons, "; ")

	return scores, nil
}

func (s *Scorer) quality(doc *document.Document, text string, parseOK bool) float64 {
	ocr := 1.0
	if doc.OCRConfidence != nil {
		ocr = document.Clamp01(*doc.OCRConfidence)
	}

	parse := 0.0
	if parseOK {
		parse = 1.0
	}

	length := 1.0 / (1.0 + math.Exp(-(float64(len(text))-float64(s.config.LengthMidpoint))/s.config.LengthScale))

	return document.Clamp01(weightOCR*ocr + weightParse*parse + weightStructure*structureSignal(text) + weightLength*length)
}

// structureSignal measures how much recognizable structure the text
// carries: paragraph breaks, heading-like lines, list markers. Each
// contributes a third.
func structureSignal(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	hasParagraph := false
	hasHeading := false
	hasList := false

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		hasParagraph = true
		if strings.HasPrefix(t, "#") {
			hasHeading = true
		}
		if i+1 < len(lines) {
			next := strings.TrimSpace(lines[i+1])
			if len(next) >= 3 && (strings.Count(next, "=") == len(next) || strings.Count(next, "-") == len(next)) {
				hasHeading = true
			}
		}
		if strings.HasPrefix(t, "- ") || strings.HasPrefix(t, "* ") || strings.HasPrefix(t, "+ ") {
			hasList = true
		}
	}

	score := 0.0
	if hasParagraph {
		score += 1.0 / 3.0
	}
	if hasHeading {
		score += 1.0 / 3.0
	}
	if hasList {
		score += 1.0 / 3.0
	}
	return score
}

// novelty is corpus-relative: saturates toward 0 as similar documents
// accumulate in the trailing window. Exact duplicates are never novel.
func (s *Scorer) novelty(ctx context.Context, doc *document.Document) (float64, error) {
	if doc.IsDuplicate {
		return 0, nil
	}
	if s.neighbors == nil || len(doc.Metadata.Topics) < MinSharedTopics {
		return 1, nil
	}

	since := s.now().AddDate(0, 0, -s.config.NoveltyWindowDays)
	n, err := s.neighbors.CountTopicNeighbors(ctx, doc.Metadata.Topics, since, MinSharedTopics)
	if err != nil {
		return 0, err
	}

	ratio := float64(n) / float64(s.config.SaturationK)
	return 1 - math.Min(1, ratio), nil
}

// actionability is driven by the watchlist: a hit in people, projects
// or topics marks the document urgent, and entity dates near the
// present add up to 0.3.
func (s *Scorer) actionability(doc *document.Document) float64 {
	now := s.now()

	base := 0.0
	for _, entry := range s.watchlist {
		if !entry.ActiveAt(now) {
			continue
		}
		if s.watchlistHit(entry, doc) {
			base = 1.0
			break
		}
	}

	return document.Clamp01(base + s.dateBoost(doc, now))
}

func (s *Scorer) watchlistHit(entry vocabulary.WatchlistEntry, doc *document.Document) bool {
	names := append([]string{entry.Project}, entry.Names...)
	for _, name := range names {
		needle := strings.ToLower(strings.TrimSpace(name))
		if needle == "" {
			continue
		}
		for _, list := range [][]string{doc.Metadata.People, doc.Metadata.Projects, doc.Metadata.Topics} {
			for _, value := range list {
				if matchesValue(needle, value) {
					return true
				}
			}
		}
	}
	return false
}

// matchesValue compares a watchlist name against a metadata value:
// whole-value match or any slash-path segment match.
func matchesValue(needle, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == needle {
		return true
	}
	for _, seg := range strings.Split(value, "/") {
		if seg == needle {
			return true
		}
	}
	return false
}

// dateBoost scales with the nearest entity date: 0.3 at today, fading
// linearly to zero at the proximity bound.
func (s *Scorer) dateBoost(doc *document.Document, now time.Time) float64 {
	window := float64(s.config.DateProximityDays)
	best := 0.0

	for _, raw := range doc.Metadata.Entities.Dates {
		t, err := parseDate(raw)
		if err != nil {
			continue
		}
		days := math.Abs(now.Sub(t).Hours() / 24)
		if days > window {
			continue
		}
		boost := 0.3 * (1 - days/window)
		if boost > best {
			best = boost
		}
	}
	return best
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date: %q", raw)
}
