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
	"strings"

	"golang.org/x/net/html"

	"github.com/kadirpekel/mnemo/pkg/document"
)

// maxHTMLDepth caps recursion on pathological nesting.
const maxHTMLDepth = 50

// skipTags never contribute visible text. The document title is read
// separately from the tree.
var skipTags = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true,
	"iframe": true, "svg": true, "nav": true, "footer": true,
	"header": true, "form": true, "button": true,
}

// HTMLSource strips markup from HTML pages while keeping the document
// structure readable: headings become Markdown headings, list items
// become bullets, and preformatted blocks are fenced so the chunker
// keeps them intact.
type HTMLSource struct{}

// NewHTMLSource returns the HTML source.
func NewHTMLSource() *HTMLSource { return &HTMLSource{} }

// Name implements Source.
func (s *HTMLSource) Name() string { return "html" }

// Detect implements Source.
func (s *HTMLSource) Detect(mime string, data []byte, hint string) (string, bool) {
	switch ext(hint) {
	case "html", "htm", "xhtml":
		return string(document.SourceHTML), true
	}
	switch mime {
	case "text/html", "application/xhtml+xml":
		return string(document.SourceHTML), true
	}
	if sniffMIME(data) == "text/html" {
		return string(document.SourceHTML), true
	}
	return "", false
}

// Extract implements Source.
func (s *HTMLSource) Extract(_ context.Context, data []byte, _ string) (*ExtractResult, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var sb strings.Builder
	walkHTML(doc, &sb, 0, false)
	res := &ExtractResult{Text: blankRun.ReplaceAllString(sb.String(), "\n\n")}
	if title := htmlTitle(doc); title != "" {
		res.SourceMeta = map[string]string{"title": title}
	}
	return res, nil
}

// htmlText strips markup from an HTML fragment. Parse errors yield the
// empty string; the html parser is tolerant enough that this only
// happens on broken readers.
func htmlText(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var sb strings.Builder
	walkHTML(doc, &sb, 0, false)
	return blankRun.ReplaceAllString(sb.String(), "\n\n")
}

func walkHTML(n *html.Node, sb *strings.Builder, depth int, pre bool) {
	if depth > maxHTMLDepth {
		return
	}
	if n.Type == html.TextNode {
		if pre {
			sb.WriteString(n.Data)
			return
		}
		// Inline joining: reattach fragments split by inline tags, but
		// keep the word boundary when the markup had one.
		t := n.Data
		collapsed := collapseSpace(t)
		if collapsed == "" {
			return
		}
		if isSpaceByte(t[0]) && !atBoundary(sb) {
			sb.WriteByte(' ')
		}
		sb.WriteString(collapsed)
		if isSpaceByte(t[len(t)-1]) {
			sb.WriteByte(' ')
		}
		return
	}
	if n.Type != html.ElementNode && n.Type != html.DocumentNode {
		return
	}
	if n.Type == html.ElementNode {
		if skipTags[n.Data] {
			return
		}
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(n.Data[1] - '0')
			sb.WriteString("\n\n")
			sb.WriteString(strings.Repeat("#", level))
			sb.WriteByte(' ')
		case "p", "blockquote":
			sb.WriteString("\n\n")
		case "br":
			sb.WriteByte('\n')
		case "li":
			sb.WriteString("\n- ")
		case "pre":
			sb.WriteString("\n\n```\n")
			pre = true
		case "img":
			if alt := attrValue(n, "alt"); alt != "" {
				sb.WriteString(alt)
				sb.WriteByte(' ')
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkHTML(c, sb, depth+1, pre)
	}
	if n.Type == html.ElementNode {
		switch n.Data {
		case "h1", "h2", "h3", "h4", "h5", "h6", "p", "blockquote":
			sb.WriteString("\n\n")
		case "div", "section", "article", "table", "tr", "ul", "ol":
			sb.WriteByte('\n')
		case "pre":
			if !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte('\n')
			}
			sb.WriteString("```\n")
		}
	}
}

// htmlTitle returns the text of the first <title> element.
func htmlTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" {
		if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
			return collapseSpace(n.FirstChild.Data)
		}
		return ""
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if title := htmlTitle(c); title != "" {
			return title
		}
	}
	return ""
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

// collapseSpace squeezes all runs of whitespace into single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isSpaceByte(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// atBoundary reports whether the builder is empty or already ends in
// whitespace. Builder.String does not copy, so this is cheap.
func atBoundary(sb *strings.Builder) bool {
	s := sb.String()
	return s == "" || isSpaceByte(s[len(s)-1])
}
