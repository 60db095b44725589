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

package document

import "time"

// CorpusView selects which corpus a query or write targets.
type CorpusView string

const (
	// ViewCanonical is the indexable, deduplicated, high-signal view used
	// for user-facing search.
	ViewCanonical CorpusView = "CANONICAL"

	// ViewFull is the audit view retaining every ingested document.
	ViewFull CorpusView = "FULL"
)

// SearchFilter narrows retrieval candidates by copied document metadata.
// Zero-valued fields match everything.
type SearchFilter struct {
	Topics        []string     `json:"topics,omitempty"`
	SourceKinds   []SourceKind `json:"source_kinds,omitempty"`
	CreatedAfter  *time.Time   `json:"created_after,omitempty"`
	CreatedBefore *time.Time   `json:"created_before,omitempty"`
	DocID         string       `json:"doc_id,omitempty"`
}

// IsZero reports whether the filter matches everything.
func (f *SearchFilter) IsZero() bool {
	if f == nil {
		return true
	}
	return len(f.Topics) == 0 && len(f.SourceKinds) == 0 &&
		f.CreatedAfter == nil && f.CreatedBefore == nil && f.DocID == ""
}

// Matches evaluates the filter against a chunk's typed metadata.
func (f *SearchFilter) Matches(meta *ChunkMeta) bool {
	if f.IsZero() {
		return true
	}
	if meta == nil {
		return false
	}
	if f.DocID != "" && meta.DocID != f.DocID {
		return false
	}
	if len(f.SourceKinds) > 0 {
		found := false
		for _, k := range f.SourceKinds {
			if string(k) == meta.SourceKind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(f.Topics) > 0 {
		chunkTopics := meta.TopicList()
		found := false
		for _, want := range f.Topics {
			for _, have := range chunkTopics {
				if have == want {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedAfter != nil || f.CreatedBefore != nil {
		created := meta.CreatedAtTime()
		if created.IsZero() {
			return false
		}
		if f.CreatedAfter != nil && created.Before(*f.CreatedAfter) {
			return false
		}
		if f.CreatedBefore != nil && created.After(*f.CreatedBefore) {
			return false
		}
	}
	return true
}
