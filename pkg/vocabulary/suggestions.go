package vocabulary

import (
	"sort"
	"sync"
	"time"
)

// Suggestion is a free tag that failed classification, counted for
// periodic promotion into the controlled vocabulary.
type Suggestion struct {
	Tag         string    `json:"tag"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"last_seen"`
}

// SuggestionCounter accumulates (tag, occurrences, last_seen) triples.
// Safe for concurrent use.
type SuggestionCounter struct {
	mu      sync.Mutex
	entries map[string]*Suggestion
}

func NewSuggestionCounter() *SuggestionCounter {
	return &SuggestionCounter{entries: make(map[string]*Suggestion)}
}

// Record bumps the counter for a tag.
func (c *SuggestionCounter) Record(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[tag]; ok {
		e.Occurrences++
		e.LastSeen = time.Now().UTC()
		return
	}
	c.entries[tag] = &Suggestion{
		Tag:         tag,
		Occurrences: 1,
		LastSeen:    time.Now().UTC(),
	}
}

// Seed loads previously persisted counters, keeping the larger count on
// collision.
func (c *SuggestionCounter) Seed(saved []Suggestion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range saved {
		if e, ok := c.entries[s.Tag]; ok {
			if s.Occurrences > e.Occurrences {
				e.Occurrences = s.Occurrences
			}
			if s.LastSeen.After(e.LastSeen) {
				e.LastSeen = s.LastSeen
			}
			continue
		}
		copied := s
		c.entries[s.Tag] = &copied
	}
}

// Snapshot returns the counters sorted by occurrences, most frequent
// first.
func (c *SuggestionCounter) Snapshot() []Suggestion {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Suggestion, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Occurrences != out[j].Occurrences {
			return out[i].Occurrences > out[j].Occurrences
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
