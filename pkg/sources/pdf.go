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

package sources

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// PDFSource extracts text from PDF files. PDFs with no extractable text
// at all, typically scans, come back empty with a zero OCR confidence so
// the pipeline can queue them for OCR instead of failing.
type PDFSource struct{}

// NewPDFSource returns the PDF source.
func NewPDFSource() *PDFSource { return &PDFSource{} }

// Name implements Source.
func (s *PDFSource) Name() string { return "pdf" }

// Detect implements Source.
func (s *PDFSource) Detect(mime string, data []byte, hint string) (string, bool) {
	if ext(hint) == "pdf" || mime == "application/pdf" || bytes.HasPrefix(data, []byte("%PDF-")) {
		return string(document.SourcePDF), true
	}
	return "", false
}

// Extract implements Source. The pdf library panics on some malformed
// files, so the panic is converted into an ordinary error here.
func (s *PDFSource) Extract(ctx context.Context, data []byte, _ string) (res *ExtractResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	total := reader.NumPage()
	extracted := 0
	for i := 1; i <= total; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		sb.WriteString(text)
		sb.WriteString("\n\n")
		extracted++
	}

	res = &ExtractResult{
		Text: sb.String(),
		SourceMeta: map[string]string{
			"pages":           strconv.Itoa(total),
			"pages_with_text": strconv.Itoa(extracted),
		},
	}
	if extracted == 0 && total > 0 {
		// Likely a scanned document: hand it to the OCR queue.
		res.OCRConfidence = new(float64)
	}
	return res, nil
}
