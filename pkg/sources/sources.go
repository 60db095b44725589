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

// Package sources extracts plain text from raw document bytes.
//
// A Registry holds an ordered list of Source implementations. Detection
// walks the list and the first source that recognizes the input performs
// the extraction, so specific formats (PDF, Office containers, email)
// must be registered ahead of the plain-text fallback. The registry
// strips RAG:IGNORE regions and normalizes whitespace centrally, so
// downstream stages always see clean text regardless of which source
// produced it.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Source converts one document format into plain text.
type Source interface {
	// Name identifies the source in logs and error messages.
	Name() string

	// Detect reports whether this source handles the input. The hint is
	// usually the original filename; mime may be empty. The returned
	// kind maps onto document.SourceKind.
	Detect(mime string, data []byte, hint string) (kind string, ok bool)

	// Extract converts raw bytes into plain text. Implementations
	// return the text as faithfully as possible; whitespace cleanup
	// happens in the registry.
	Extract(ctx context.Context, data []byte, hint string) (*ExtractResult, error)
}

// ExtractResult is the outcome of a single extraction.
type ExtractResult struct {
	// Text is the extracted plain text.
	Text string

	// SourceMeta carries format-specific fields, such as email headers
	// or spreadsheet dimensions.
	SourceMeta map[string]string

	// OCRConfidence is set when text came through OCR. A pointer to
	// zero marks input that still needs OCR, which is the one case
	// where empty Text is acceptable.
	OCRConfidence *float64

	// Attachments lists attachment filenames found inside the input.
	Attachments []string

	// Kind is the detected document kind.
	Kind string
}

// Registry dispatches extraction across an ordered list of sources.
type Registry struct {
	sources []Source
}

// NewRegistry returns a registry with the default source chain. Order
// matters: container formats detect on magic bytes first, chat exports
// before generic text, and the plain-text source catches the rest.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(NewPDFSource())
	r.Register(NewOfficeSource())
	r.Register(NewEmailSource())
	r.Register(NewWhatsAppSource())
	r.Register(NewChatSource())
	r.Register(NewHTMLSource())
	r.Register(NewMarkdownSource())
	r.Register(NewTextSource())
	return r
}

// NewEmptyRegistry returns a registry with no sources registered.
func NewEmptyRegistry() *Registry {
	return &Registry{}
}

// Register appends a source to the detection chain.
func (r *Registry) Register(s Source) {
	if s != nil {
		r.sources = append(r.sources, s)
	}
}

// Names returns the registered source names in detection order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for _, s := range r.sources {
		names = append(names, s.Name())
	}
	return names
}

// Detect returns the first source that recognizes the input, along with
// the kind it reports.
func (r *Registry) Detect(mime string, data []byte, hint string) (Source, string, bool) {
	for _, s := range r.sources {
		if kind, ok := s.Detect(mime, data, hint); ok {
			return s, kind, true
		}
	}
	return nil, "", false
}

// Extract runs detection and extraction, then applies the shared
// post-processing: ignore regions are stripped and whitespace is
// normalized before any downstream stage sees the text. Empty output is
// not an error; the pipeline records such documents without chunks and
// queues OCR candidates for recognition.
func (r *Registry) Extract(ctx context.Context, mime string, data []byte, hint string) (*ExtractResult, error) {
	if len(data) == 0 {
		return nil, document.NewError(document.KindValidation, "sources.extract", "empty input")
	}
	src, kind, ok := r.Detect(mime, data, hint)
	if !ok {
		return nil, document.NewError(document.KindParse, "sources.extract",
			fmt.Sprintf("no source recognizes %q (mime %q)", hint, mime))
	}
	res, err := src.Extract(ctx, data, hint)
	if err != nil {
		return nil, document.WrapError(document.KindParse, "sources."+src.Name(), err)
	}
	if res.Kind == "" {
		res.Kind = kind
	}
	res.Text = utils.NormalizeText(utils.StripIgnoreRegions(res.Text))
	return res, nil
}

// blankRun collapses runs of blank lines left behind by markup
// conversion.
var blankRun = regexp.MustCompile(`\n{3,}`)

// ext returns the lowercase filename extension of the hint, without the
// dot.
func ext(hint string) string {
	i := strings.LastIndexByte(hint, '.')
	if i < 0 || i == len(hint)-1 {
		return ""
	}
	return strings.ToLower(hint[i+1:])
}

// sniffMIME detects the content type of the leading bytes, with the
// parameters stripped.
func sniffMIME(data []byte) string {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	ct := http.DetectContentType(head)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
