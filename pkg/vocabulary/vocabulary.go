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

// Package vocabulary loads and enforces the controlled topic, project,
// place and people vocabularies. Vocabularies are forests of slash paths
// (technology/ai/embeddings); documents may only be tagged from them.
package vocabulary

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Kind selects one of the controlled trees.
type Kind string

const (
	KindTopics   Kind = "topics"
	KindProjects Kind = "projects"
	KindPlaces   Kind = "places"
	KindPeople   Kind = "people"
)

// Kinds lists the trees loaded from the vocabulary directory.
var Kinds = []Kind{KindTopics, KindProjects, KindPlaces, KindPeople}

// ClassifyThreshold is the minimum normalized Levenshtein similarity for a
// free tag to snap onto an existing controlled path. At or below it, the
// tag is emitted as a suggestion instead.
const ClassifyThreshold = 0.78

// tree indexes one vocabulary forest: declared leaf paths plus every
// slash-prefix of them.
type tree struct {
	leaves []string
	nodes  map[string]bool
}

func newTree(paths []string) *tree {
	t := &tree{nodes: make(map[string]bool)}
	for _, p := range paths {
		p = strings.Trim(strings.TrimSpace(p), "/")
		if p == "" {
			continue
		}
		t.leaves = append(t.leaves, p)
		segs := strings.Split(p, "/")
		for i := 1; i <= len(segs); i++ {
			t.nodes[strings.Join(segs[:i], "/")] = true
		}
	}
	sort.Strings(t.leaves)
	return t
}

func (t *tree) isValid(path string) bool {
	if t == nil {
		return false
	}
	return t.nodes[strings.Trim(strings.TrimSpace(path), "/")]
}

type state struct {
	trees map[Kind]*tree
}

// Vocabulary provides lookup, classification and watchlist matching over
// the loaded trees. Reload swaps the whole state atomically; readers are
// never blocked.
type Vocabulary struct {
	dir         string
	state       atomic.Pointer[state]
	suggestions *SuggestionCounter
}

// Load reads <kind>.yaml for every kind from dir. Missing files yield
// empty trees; malformed YAML fails fast.
func Load(dir string) (*Vocabulary, error) {
	v := &Vocabulary{
		dir:         dir,
		suggestions: NewSuggestionCounter(),
	}
	if err := v.Reload(); err != nil {
		return nil, err
	}
	return v, nil
}

// Reload re-reads every tree from disk and swaps the state under
// copy-on-write. In-flight readers keep the snapshot they started with.
func (v *Vocabulary) Reload() error {
	st := &state{trees: make(map[Kind]*tree, len(Kinds))}
	for _, kind := range Kinds {
		paths, err := loadKindFile(filepath.Join(v.dir, string(kind)+".yaml"))
		if err != nil {
			return fmt.Errorf("failed to load vocabulary %q: %w", kind, err)
		}
		st.trees[kind] = newTree(paths)
	}
	v.state.Store(st)
	return nil
}

// loadKindFile parses a vocabulary file. Two layouts are accepted: a flat
// YAML list of slash paths, or a nested map that is flattened into paths.
func loadKindFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var flat []string
	if err := yaml.Unmarshal(data, &flat); err == nil {
		return flat, nil
	}

	var nested map[string]interface{}
	if err := yaml.Unmarshal(data, &nested); err != nil {
		return nil, fmt.Errorf("neither a path list nor a nested map: %w", err)
	}
	return flattenNested("", nested), nil
}

func flattenNested(prefix string, m map[string]interface{}) []string {
	var out []string
	for key, val := range m {
		path := key
		if prefix != "" {
			path = prefix + "/" + key
		}
		switch child := val.(type) {
		case map[string]interface{}:
			out = append(out, flattenNested(path, child)...)
		case []interface{}:
			out = append(out, path)
			for _, item := range child {
				if s, ok := item.(string); ok {
					out = append(out, path+"/"+s)
				}
			}
		default:
			out = append(out, path)
		}
	}
	return out
}

func (v *Vocabulary) trees() map[Kind]*tree {
	st := v.state.Load()
	if st == nil {
		return nil
	}
	return st.trees
}

// IsValid reports whether path is prefix-valid in the tree for kind.
// Unknown paths return false; lookup never fails.
func (v *Vocabulary) IsValid(kind Kind, path string) bool {
	return v.trees()[kind].isValid(path)
}

// AllPaths returns every declared leaf path for kind, sorted.
func (v *Vocabulary) AllPaths(kind Kind) []string {
	t := v.trees()[kind]
	if t == nil {
		return nil
	}
	out := make([]string, len(t.leaves))
	copy(out, t.leaves)
	return out
}

// PathsUnder returns the leaf paths sharing the given top-level prefix.
func (v *Vocabulary) PathsUnder(kind Kind, prefix string) []string {
	prefix = strings.Trim(prefix, "/")
	var out []string
	for _, p := range v.AllPaths(kind) {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			out = append(out, p)
		}
	}
	return out
}

// Classify snaps free-text tags onto controlled paths. A tag becomes
// controlled when its best similarity against any path (full path or leaf
// segment, punctuation-stripped and lowercased) exceeds ClassifyThreshold;
// otherwise it is recorded and returned as a suggestion.
func (v *Vocabulary) Classify(freeTags []string, kind Kind) (controlled, suggested []string) {
	t := v.trees()[kind]
	seen := make(map[string]bool)

	for _, tag := range freeTags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}

		if t.isValid(tag) {
			if !seen[tag] {
				controlled = append(controlled, tag)
				seen[tag] = true
			}
			continue
		}

		best, score := v.bestMatch(t, tag)
		if score > ClassifyThreshold {
			if !seen[best] {
				controlled = append(controlled, best)
				seen[best] = true
			}
			continue
		}

		v.suggestions.Record(tag)
		if !seen["s:"+tag] {
			suggested = append(suggested, tag)
			seen["s:"+tag] = true
		}
	}
	return controlled, suggested
}

// Match returns the closest controlled path for a free tag and the
// similarity score, without recording a suggestion. Heuristic callers
// probing many candidate tokens use this so noise never reaches the
// promotion counters.
func (v *Vocabulary) Match(kind Kind, tag string) (string, float64) {
	t := v.trees()[kind]
	if t.isValid(tag) {
		return strings.Trim(strings.TrimSpace(tag), "/"), 1
	}
	return v.bestMatch(t, tag)
}

func (v *Vocabulary) bestMatch(t *tree, tag string) (string, float64) {
	if t == nil {
		return "", 0
	}
	bestPath := ""
	bestScore := 0.0
	for _, path := range t.leaves {
		leaf := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			leaf = path[idx+1:]
		}
		score := utils.Similarity(tag, leaf)
		if s := utils.Similarity(tag, strings.ReplaceAll(path, "/", " ")); s > score {
			score = s
		}
		if score > bestScore {
			bestScore = score
			bestPath = path
		}
	}
	return bestPath, bestScore
}

// Suggestions exposes the accumulated free-tag counters for promotion
// review.
func (v *Vocabulary) Suggestions() []Suggestion {
	return v.suggestions.Snapshot()
}
