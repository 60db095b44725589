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
	"bufio"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/mnemo/pkg/document"
)

var (
	replyPrefix  = regexp.MustCompile(`(?i)^(re|fwd?|aw|wg)\s*:\s*`)
	headerDecode = new(mime.WordDecoder)
)

// NormalizeSubject strips reply and forward prefixes, including the
// German AW:/WG: variants, repeatedly, then lowercases and collapses
// whitespace. "Re: Re: Fwd: Budget" and "budget" normalize to the same
// string.
func NormalizeSubject(subject string) string {
	s := strings.TrimSpace(subject)
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	return collapseSpace(strings.ToLower(s))
}

// ThreadID derives a stable thread identifier from a subject line. All
// replies and forwards of one conversation map to the same ID.
func ThreadID(subject string) string {
	sum := md5.Sum([]byte(NormalizeSubject(subject)))
	return hex.EncodeToString(sum[:])
}

// EmailSource parses RFC 5322 messages and mbox thread exports. The
// extracted text keeps a short header block so retrieval results stay
// self-describing; attachments are listed by filename but their bytes
// are not extracted.
type EmailSource struct{}

// NewEmailSource returns the email source.
func NewEmailSource() *EmailSource { return &EmailSource{} }

// Name implements Source.
func (s *EmailSource) Name() string { return "email" }

// Detect implements Source.
func (s *EmailSource) Detect(mimeType string, data []byte, hint string) (string, bool) {
	switch ext(hint) {
	case "eml", "mbox":
		return string(document.SourceEmail), true
	}
	switch mimeType {
	case "message/rfc822", "application/mbox":
		return string(document.SourceEmail), true
	}
	if isMbox(data) || looksLikeEmail(data) {
		return string(document.SourceEmail), true
	}
	return "", false
}

// Extract implements Source.
func (s *EmailSource) Extract(ctx context.Context, data []byte, _ string) (*ExtractResult, error) {
	if isMbox(data) {
		return s.extractMbox(ctx, data)
	}
	return s.extractMessage(data)
}

func (s *EmailSource) extractMessage(data []byte) (*ExtractResult, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	h := msg.Header
	subject := decodeHeader(h.Get("Subject"))
	from := decodeHeader(h.Get("From"))
	to := decodeHeader(h.Get("To"))
	date := h.Get("Date")
	if t, err := mail.ParseDate(date); err == nil {
		date = t.UTC().Format(time.RFC3339)
	}

	body, attachments, err := messageBody(textproto.MIMEHeader(h), msg.Body)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	writeHeaderLine(&sb, "From", from)
	writeHeaderLine(&sb, "To", to)
	writeHeaderLine(&sb, "Date", date)
	writeHeaderLine(&sb, "Subject", subject)
	sb.WriteByte('\n')
	sb.WriteString(body)

	meta := map[string]string{
		"message_id":  strings.Trim(h.Get("Message-Id"), "<> \t"),
		"in_reply_to": strings.Trim(h.Get("In-Reply-To"), "<> \t"),
		"references":  collapseSpace(h.Get("References")),
		"thread_id":   ThreadID(subject),
		"subject":     subject,
		"from":        from,
		"to":          to,
		"date":        date,
	}
	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}

	return &ExtractResult{
		Text:        sb.String(),
		SourceMeta:  meta,
		Attachments: attachments,
	}, nil
}

func (s *EmailSource) extractMbox(ctx context.Context, data []byte) (*ExtractResult, error) {
	messages := splitMbox(data)
	if len(messages) == 0 {
		return nil, errors.New("mbox contains no messages")
	}

	var sb strings.Builder
	var attachments []string
	var meta map[string]string
	participants := map[string]bool{}
	parsed := 0
	for _, raw := range messages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		res, err := s.extractMessage(raw)
		if err != nil {
			continue
		}
		if parsed > 0 {
			sb.WriteString("\n---\n\n")
		}
		sb.WriteString(strings.TrimRight(res.Text, "\n"))
		sb.WriteByte('\n')
		attachments = append(attachments, res.Attachments...)
		if from := res.SourceMeta["from"]; from != "" {
			participants[from] = true
		}
		if parsed == 0 {
			meta = res.SourceMeta
		}
		parsed++
	}
	if parsed == 0 {
		return nil, errors.New("mbox contains no parseable messages")
	}

	if meta == nil {
		meta = map[string]string{}
	}
	meta["messages"] = strconv.Itoa(parsed)
	if len(participants) > 1 {
		meta["participants"] = strconv.Itoa(len(participants))
	}
	// Thread-level identity comes from the first message.
	delete(meta, "in_reply_to")
	delete(meta, "references")

	return &ExtractResult{
		Text:        sb.String(),
		SourceMeta:  meta,
		Attachments: attachments,
	}, nil
}

// messageBody walks the MIME structure and returns the best body text
// plus attachment filenames. text/plain wins over text/html; HTML-only
// messages are tag-stripped.
func messageBody(header textproto.MIMEHeader, r io.Reader) (string, []string, error) {
	ctype := header.Get("Content-Type")
	if ctype == "" {
		ctype = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(ctype)
	if err != nil {
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		raw, err := io.ReadAll(decodeTransfer(r, header.Get("Content-Transfer-Encoding")))
		if err != nil {
			return "", nil, fmt.Errorf("read body: %w", err)
		}
		if mediaType == "text/html" {
			return htmlText(raw), nil, nil
		}
		return string(raw), nil, nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return "", nil, errors.New("multipart message without boundary")
	}

	var plain, htmlBody string
	var attachments []string
	mr := multipart.NewReader(r, boundary)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}
		if name := part.FileName(); name != "" {
			attachments = append(attachments, name)
			continue
		}
		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "text/plain"
		}
		switch {
		case strings.HasPrefix(partType, "multipart/"):
			nested, nestedAtt, err := messageBody(part.Header, part)
			if err == nil {
				if plain == "" {
					plain = nested
				}
				attachments = append(attachments, nestedAtt...)
			}
		case partType == "text/plain" && plain == "":
			// multipart.Part already decodes quoted-printable; base64
			// still needs handling here.
			raw, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
			if err == nil {
				plain = string(raw)
			}
		case partType == "text/html" && htmlBody == "":
			raw, err := io.ReadAll(decodeTransfer(part, part.Header.Get("Content-Transfer-Encoding")))
			if err == nil {
				htmlBody = htmlText(raw)
			}
		}
	}

	if plain != "" {
		return plain, attachments, nil
	}
	return htmlBody, attachments, nil
}

// decodeTransfer wraps r with the decoder the transfer encoding calls
// for. Quoted-printable parts inside multipart bodies arrive already
// decoded, so callers pass the encoding they actually observe.
func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

func decodeHeader(s string) string {
	decoded, err := headerDecode.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}

func writeHeaderLine(sb *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(sb, "%s: %s\n", name, value)
	}
}

// isMbox reports whether data starts with an mbox From_ separator line.
func isMbox(data []byte) bool {
	return bytes.HasPrefix(data, []byte("From "))
}

// looksLikeEmail sniffs for an RFC 5322 header block: at least two known
// headers before the first blank line.
func looksLikeEmail(data []byte) bool {
	head := data
	if len(head) > 2048 {
		head = head[:2048]
	}
	known := []string{"from:", "to:", "subject:", "date:", "message-id:", "received:", "return-path:", "cc:"}
	seen := 0
	scanner := bufio.NewScanner(bytes.NewReader(head))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lower := strings.ToLower(line)
		for _, h := range known {
			if strings.HasPrefix(lower, h) {
				seen++
				break
			}
		}
		if seen >= 2 {
			return true
		}
	}
	return false
}

// splitMbox splits an mbox file into raw messages, dropping the From_
// separator lines and unescaping ">From " body lines.
func splitMbox(data []byte) [][]byte {
	var messages [][]byte
	var cur []byte
	started := false
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if bytes.HasPrefix(line, []byte("From ")) {
			if started && len(cur) > 0 {
				messages = append(messages, cur)
				cur = nil
			}
			started = true
			continue
		}
		if !started {
			continue
		}
		if bytes.HasPrefix(line, []byte(">From ")) {
			line = line[1:]
		}
		cur = append(cur, line...)
		cur = append(cur, '\n')
	}
	if len(cur) > 0 {
		messages = append(messages, cur)
	}
	return messages
}
