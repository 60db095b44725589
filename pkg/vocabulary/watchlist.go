package vocabulary

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WatchlistEntry maps free-text names and aliases to a controlled project
// path, optionally bounded to an active window.
type WatchlistEntry struct {
	Project    string     `yaml:"project" json:"project"`
	Names      []string   `yaml:"names" json:"names"`
	ActiveFrom *time.Time `yaml:"active_from,omitempty" json:"active_from,omitempty"`
	ActiveTo   *time.Time `yaml:"active_to,omitempty" json:"active_to,omitempty"`
}

// ActiveAt reports whether the entry's window covers the given time. A
// zero time skips window checks entirely.
func (e WatchlistEntry) ActiveAt(t time.Time) bool {
	if t.IsZero() {
		return true
	}
	if e.ActiveFrom != nil && t.Before(*e.ActiveFrom) {
		return false
	}
	if e.ActiveTo != nil && t.After(*e.ActiveTo) {
		return false
	}
	return true
}

// LoadWatchlist reads watchlist entries from a YAML file. A missing file
// yields an empty watchlist.
func LoadWatchlist(path string) ([]WatchlistEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []WatchlistEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// MatchProjects scans text for watchlist name/alias hits and returns the
// matching controlled project paths. Entries whose active window excludes
// date are skipped; a zero date skips window checks entirely.
func (v *Vocabulary) MatchProjects(text string, date time.Time, watchlist []WatchlistEntry) []string {
	if text == "" || len(watchlist) == 0 {
		return nil
	}

	haystack := " " + strings.ToLower(text) + " "
	var projects []string
	seen := make(map[string]bool)

	for _, entry := range watchlist {
		if !entry.ActiveAt(date) {
			continue
		}
		if seen[entry.Project] {
			continue
		}
		for _, name := range entry.Names {
			if name == "" {
				continue
			}
			if containsWord(haystack, strings.ToLower(name)) {
				projects = append(projects, entry.Project)
				seen[entry.Project] = true
				break
			}
		}
	}
	return projects
}

// containsWord reports a word-boundary hit of needle inside the
// space-padded lowercase haystack.
func containsWord(haystack, needle string) bool {
	idx := 0
	for {
		pos := strings.Index(haystack[idx:], needle)
		if pos < 0 {
			return false
		}
		pos += idx
		before := haystack[pos-1]
		afterIdx := pos + len(needle)
		if afterIdx >= len(haystack) {
			return !isWordChar(before)
		}
		after := haystack[afterIdx]
		if !isWordChar(before) && !isWordChar(after) {
			return true
		}
		idx = pos + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= '0' && b <= '9'
}
