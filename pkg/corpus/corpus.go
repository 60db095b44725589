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

// Package corpus maintains the dual document corpus: a canonical view
// holding deduplicated, high-signal documents for user search, and a
// full view holding everything accepted, for audit. It owns the
// document registry and coordinates cross-index writes so a document
// is either fully present or fully absent.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/keyword"
	"github.com/kadirpekel/mnemo/pkg/scoring"
	"github.com/kadirpekel/mnemo/pkg/vector"
)

// View selects one of the two corpora.
type View string

const (
	ViewCanonical View = "canonical"
	ViewFull      View = "full"
)

// CollectionName maps a view to its vector collection. Names are fixed
// so a restarted process finds its data.
func CollectionName(v View) string {
	if v == ViewCanonical {
		return "documents_canonical"
	}
	return "documents_full"
}

// Route decides corpus membership: every accepted document enters the
// full view; it additionally enters canonical when the gate passed, it
// is not a duplicate, and its scores clear the per-profile thresholds.
// An empty profile derives one from the source kind.
func Route(doc *document.Document, profile string) []View {
	views := []View{ViewFull}
	if profile == "" {
		profile = scoring.ProfileFor(doc.SourceKind)
	}
	gate := scoring.GateFor(profile)
	if doc.Scores.DoIndex && !doc.IsDuplicate &&
		doc.Scores.Quality >= gate.MinQuality &&
		doc.Scores.Signalness >= gate.MinSignal {
		views = append(views, ViewCanonical)
	}
	return views
}

// SuggestView picks the corpus a query kind should target. Audit-style
// queries need the unfiltered record.
func SuggestView(queryKind string) View {
	switch queryKind {
	case "audit", "dedup", "compliance":
		return ViewFull
	default:
		return ViewCanonical
	}
}

// KeywordFilter returns the chunk-column restriction serving a view on
// the shared keyword index; the full view needs none.
func KeywordFilter(v View) map[string]string {
	if v == ViewCanonical {
		return map[string]string{"canonical": "1"}
	}
	return nil
}

// Manager binds the registry, the keyword index, and the two vector
// collections behind one add/delete surface with compensation on
// partial failure.
type Manager struct {
	registry  *Registry
	keyword   *keyword.Index
	full      *vector.Index
	canonical *vector.Index
}

// NewManager wires the corpus over a registry, a keyword index, and a
// vector store holding both view collections.
func NewManager(registry *Registry, kw *keyword.Index, store vector.Store) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if kw == nil {
		return nil, fmt.Errorf("keyword index is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	return &Manager{
		registry:  registry,
		keyword:   kw,
		full:      vector.NewIndex(store, CollectionName(ViewFull)),
		canonical: vector.NewIndex(store, CollectionName(ViewCanonical)),
	}, nil
}

// Registry exposes the underlying document registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Keyword exposes the shared keyword index.
func (m *Manager) Keyword() *keyword.Index {
	return m.keyword
}

// VectorIndex returns the vector index serving a view.
func (m *Manager) VectorIndex(v View) *vector.Index {
	if v == ViewCanonical {
		return m.canonical
	}
	return m.full
}

// Add records a document and indexes its chunks into the routed views.
// The registry insert claims the content hash first (ErrHashExists
// surfaces the duplicate race); a later index failure rolls earlier
// writes back so the document is never half indexed. Returns the views
// entered.
func (m *Manager) Add(ctx context.Context, doc *document.Document, simhash uint64, chunks []document.Chunk, embeddings [][]float32, profile string) ([]View, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}

	views := Route(doc, profile)
	canonical := false
	for _, v := range views {
		if v == ViewCanonical {
			canonical = true
		}
	}

	if err := m.registry.RecordDocument(ctx, doc, simhash, canonical, len(chunks)); err != nil {
		return nil, err
	}
	if err := m.keyword.Add(ctx, chunks, canonical); err != nil {
		m.compensate(doc.DocID, false, false)
		return nil, fmt.Errorf("keyword indexing failed: %w", err)
	}
	if err := m.full.Add(ctx, chunks, embeddings); err != nil {
		m.compensate(doc.DocID, false, true)
		return nil, fmt.Errorf("vector indexing failed: %w", err)
	}
	if canonical {
		if err := m.canonical.Add(ctx, chunks, embeddings); err != nil {
			m.compensate(doc.DocID, true, true)
			return nil, fmt.Errorf("canonical indexing failed: %w", err)
		}
	}
	return views, nil
}

// compensate undoes earlier writes after a partial failure, in reverse
// order. It runs on a fresh context so cleanup still happens when the
// request context is already dead; cleanup errors are logged, the
// original failure wins.
func (m *Manager) compensate(docID string, fullDone, keywordDone bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if fullDone {
		if err := m.full.DeleteDoc(ctx, docID); err != nil {
			slog.Warn("Compensating vector delete failed", "doc_id", docID, "error", err)
		}
	}
	if keywordDone {
		if err := m.keyword.DeleteDoc(ctx, docID); err != nil {
			slog.Warn("Compensating keyword delete failed", "doc_id", docID, "error", err)
		}
	}
	if err := m.registry.DeleteDocument(ctx, docID); err != nil {
		slog.Warn("Compensating registry delete failed", "doc_id", docID, "error", err)
	}
}

// Delete removes a document from both views and then the registry.
// When any index delete fails the registry row is kept so a retry can
// finish the job.
func (m *Manager) Delete(ctx context.Context, docID string) error {
	if _, err := m.registry.GetDocument(ctx, docID); err != nil {
		return err
	}

	var errs []error
	if err := m.canonical.DeleteDoc(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("canonical: %w", err))
	}
	if err := m.full.DeleteDoc(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("full: %w", err))
	}
	if err := m.keyword.DeleteDoc(ctx, docID); err != nil {
		errs = append(errs, fmt.Errorf("keyword: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("delete incomplete for %s: %v", docID, errs)
	}
	return m.registry.DeleteDocument(ctx, docID)
}

// Stats combines registry aggregates with live index counts.
type Stats struct {
	RegistryStats
	Chunks          int `json:"chunks"`
	VectorFull      int `json:"vector_full"`
	VectorCanonical int `json:"vector_canonical"`
}

// Stats reports corpus-wide counts, sizes, and costs.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	reg, err := m.registry.Stats(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{RegistryStats: *reg}

	if s.Chunks, err = m.keyword.Count(ctx); err != nil {
		return nil, fmt.Errorf("keyword count failed: %w", err)
	}
	if s.VectorFull, err = m.full.Count(ctx); err != nil {
		return nil, fmt.Errorf("vector count failed: %w", err)
	}
	if s.VectorCanonical, err = m.canonical.Count(ctx); err != nil {
		return nil, fmt.Errorf("vector count failed: %w", err)
	}
	return s, nil
}
