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
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// maxSheetCells caps how many cells of a single sheet are extracted.
const maxSheetCells = 1000

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// OfficeSource extracts text from OOXML containers: docx, xlsx, and
// pptx. Word documents are flattened from WordprocessingML to plain
// paragraphs rather than indexed as raw XML; spreadsheets keep a sheet
// header per tab; slides are read in deck order.
type OfficeSource struct{}

// NewOfficeSource returns the Office source.
func NewOfficeSource() *OfficeSource { return &OfficeSource{} }

// Name implements Source.
func (s *OfficeSource) Name() string { return "office" }

// Detect implements Source.
func (s *OfficeSource) Detect(mime string, data []byte, hint string) (string, bool) {
	if officeFormat(mime, data, hint) != "" {
		return string(document.SourceOffice), true
	}
	return "", false
}

// Extract implements Source.
func (s *OfficeSource) Extract(ctx context.Context, data []byte, hint string) (*ExtractResult, error) {
	switch format := officeFormat("", data, hint); format {
	case "docx":
		return extractDocx(data)
	case "xlsx":
		return extractXlsx(ctx, data)
	case "pptx":
		return extractPptx(ctx, data)
	default:
		return nil, fmt.Errorf("unsupported office format %q", hint)
	}
}

// officeFormat identifies the container. Extension and MIME type are
// checked first; naked blobs fall back to probing the zip directory for
// the marker part each format must contain.
func officeFormat(mime string, data []byte, hint string) string {
	switch ext(hint) {
	case "docx":
		return "docx"
	case "xlsx":
		return "xlsx"
	case "pptx":
		return "pptx"
	}
	switch mime {
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return "docx"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	case "application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return "pptx"
	}
	if !bytes.HasPrefix(data, []byte("PK\x03\x04")) {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			return "docx"
		case "xl/workbook.xml":
			return "xlsx"
		case "ppt/presentation.xml":
			return "pptx"
		}
	}
	return ""
}

func extractDocx(data []byte) (*ExtractResult, error) {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()

	// GetContent returns the raw WordprocessingML of the document part.
	text := blankRun.ReplaceAllString(officeXMLText(r.Editable().GetContent()), "\n\n")
	return &ExtractResult{
		Text:        text,
		Attachments: mediaAttachments(data, "word/media/"),
	}, nil
}

func extractXlsx(ctx context.Context, data []byte) (*ExtractResult, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := f.GetSheetList()
	for _, sheet := range sheets {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("--- Sheet: %s ---\n", sheet))
		cells := 0
		for _, row := range rows {
			if cells >= maxSheetCells {
				sb.WriteString("(sheet truncated)\n")
				break
			}
			line := strings.TrimRight(strings.Join(row, "\t"), "\t")
			if strings.TrimSpace(line) != "" {
				sb.WriteString(line)
				sb.WriteByte('\n')
			}
			cells += len(row)
		}
		sb.WriteByte('\n')
	}
	return &ExtractResult{
		Text:       sb.String(),
		SourceMeta: map[string]string{"sheets": strconv.Itoa(len(sheets))},
	}, nil
}

func extractPptx(ctx context.Context, data []byte) (*ExtractResult, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pptx: %w", err)
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slideName.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		slides = append(slides, slide{num: num, file: f})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var sb strings.Builder
	for _, sl := range slides {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		rc, err := sl.file.Open()
		if err != nil {
			continue
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		text := strings.TrimSpace(officeXMLText(string(raw)))
		if text != "" {
			sb.WriteString(text)
			sb.WriteString("\n\n")
		}
	}
	return &ExtractResult{
		Text:        sb.String(),
		SourceMeta:  map[string]string{"slides": strconv.Itoa(len(slides))},
		Attachments: mediaAttachments(data, "ppt/media/"),
	}, nil
}

// officeXMLText flattens OOXML markup into plain text. Character runs
// live in <w:t> (Word) or <a:t> (slides); paragraph ends become
// newlines, explicit tabs and breaks map to their characters. Matching
// on the local name keeps one walker working for both vocabularies.
func officeXMLText(raw string) string {
	dec := xml.NewDecoder(strings.NewReader(raw))
	var sb strings.Builder
	inText := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText++
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				if inText > 0 {
					inText--
				}
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText > 0 {
				sb.Write(t)
			}
		}
	}
	return sb.String()
}

// mediaAttachments lists embedded media filenames under the given zip
// prefix.
func mediaAttachments(data []byte, prefix string) []string {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	var names []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, prefix) && !strings.HasSuffix(f.Name, "/") {
			names = append(names, path.Base(f.Name))
		}
	}
	sort.Strings(names)
	return names
}
