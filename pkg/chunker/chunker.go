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

// Package chunker segments document text into retrieval units. It walks
// the heading structure, keeps tables and fenced code atomic, packs
// prose toward a token target, and overlaps adjacent prose chunks by
// whole sentences.
package chunker

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/document"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// joinMargin absorbs the token cost of separators introduced when
// pieces are joined, so packed chunks never land above MaxTokens.
const joinMargin = 8

// Config controls chunk sizing. All sizes are token estimates.
type Config struct {
	// TargetTokens is the size a chunk aims for.
	// Default: 512
	TargetTokens int `yaml:"target_tokens,omitempty"`

	// MinTokens is the smallest acceptable chunk; a trailing fragment
	// below this merges into its predecessor when the cap allows.
	// Default: 400
	MinTokens int `yaml:"min_tokens,omitempty"`

	// MaxTokens is the hard cap for prose chunks. Tables and code are
	// exempt.
	// Default: 800
	MaxTokens int `yaml:"max_tokens,omitempty"`

	// Overlap is the fraction of TargetTokens carried from the tail of
	// one prose chunk into the next, realized as 1-2 whole sentences.
	// Default: 0.15
	Overlap float64 `yaml:"overlap,omitempty"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.TargetTokens <= 0 {
		c.TargetTokens = 512
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 400
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 800
	}
	if c.Overlap <= 0 {
		c.Overlap = 0.15
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.MinTokens > c.TargetTokens {
		return fmt.Errorf("min_tokens (%d) must not exceed target_tokens (%d)", c.MinTokens, c.TargetTokens)
	}
	if c.TargetTokens > c.MaxTokens {
		return fmt.Errorf("target_tokens (%d) must not exceed max_tokens (%d)", c.TargetTokens, c.MaxTokens)
	}
	if c.Overlap < 0 || c.Overlap >= 0.5 {
		return fmt.Errorf("overlap must be in [0, 0.5), got %f", c.Overlap)
	}
	return nil
}

// Chunker is the structure-aware segmenter.
type Chunker struct {
	config Config
}

// New creates a chunker from configuration.
func New(cfg Config) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	return &Chunker{config: cfg}, nil
}

// Config returns the chunker configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Chunk segments the document text. Chunks come back in document order
// with positions assigned; empty text yields no chunks.
func (c *Chunker) Chunk(doc *document.Document, text string) ([]document.Chunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}

	text = utils.StripIgnoreRegions(text)
	blocks := parseBlocks(text)
	if len(blocks) == 0 {
		return nil, nil
	}

	var (
		out        []document.Chunk
		stack      []string
		run        []block
		runParents []string
	)

	emitRun := func() {
		out = append(out, c.packRun(doc, run, runParents, len(out))...)
		run = nil
	}

	for _, b := range blocks {
		switch b.kind {
		case blockHeading:
			emitRun()
			if b.level-1 < len(stack) {
				stack = stack[:b.level-1]
			}
			stack = append(stack, b.title)
			runParents = copyStrings(stack)
			run = []block{b}

		case blockCode, blockTable:
			emitRun()
			out = append(out, c.atomicChunk(doc, b, copyStrings(stack), len(out)))
			runParents = copyStrings(stack)

		default:
			if len(run) == 0 {
				runParents = copyStrings(stack)
			}
			run = append(run, b)
		}
	}
	emitRun()

	return out, nil
}

// piece is a packable fragment of a prose run.
type piece struct {
	text   string
	tokens int
	kind   blockKind
}

// packRun turns a run of heading/paragraph/list blocks into chunks:
// greedy packing toward the target, a merge pass for small trailing
// fragments, then sentence overlap between neighbors.
func (c *Chunker) packRun(doc *document.Document, run []block, parents []string, startPos int) []document.Chunk {
	if len(run) == 0 {
		return nil
	}

	var pieces []piece
	for _, b := range run {
		t := strings.TrimSpace(b.text)
		if t == "" {
			continue
		}
		tok := utils.EstimateTokens(t)
		if tok > c.config.MaxTokens {
			for _, part := range splitOversize(t, c.config.TargetTokens, c.config.MaxTokens-joinMargin) {
				pieces = append(pieces, piece{text: part, tokens: utils.EstimateTokens(part), kind: b.kind})
			}
			continue
		}
		pieces = append(pieces, piece{text: t, tokens: tok, kind: b.kind})
	}
	if len(pieces) == 0 {
		return nil
	}

	type packed struct {
		text   string
		tokens int
		kind   document.ChunkKind
	}

	var chunks []packed
	var cur []piece
	curTokens := 0

	flush := func() {
		if len(cur) == 0 {
			return
		}
		parts := make([]string, len(cur))
		for i, p := range cur {
			parts[i] = p.text
		}
		text := strings.Join(parts, "\n\n")
		chunks = append(chunks, packed{
			text:   text,
			tokens: utils.EstimateTokens(text),
			kind:   proseKind(cur),
		})
		cur = nil
		curTokens = 0
	}

	for _, p := range pieces {
		if curTokens > 0 && curTokens+p.tokens > c.config.MaxTokens-joinMargin {
			flush()
		}
		cur = append(cur, p)
		curTokens += p.tokens
		if curTokens >= c.config.TargetTokens {
			flush()
		}
	}
	flush()

	// A small trailing fragment reads better attached to its
	// predecessor, provided the cap holds.
	if n := len(chunks); n >= 2 {
		last, prev := chunks[n-1], chunks[n-2]
		if last.tokens < c.config.MinTokens && prev.tokens+last.tokens <= c.config.MaxTokens-joinMargin {
			merged := prev.text + "\n\n" + last.text
			chunks[n-2] = packed{
				text:   merged,
				tokens: utils.EstimateTokens(merged),
				kind:   prev.kind,
			}
			chunks = chunks[:n-1]
		}
	}

	// Overlap: prepend the tail sentences of the previous chunk. The
	// originals are used so overlap never compounds.
	originals := make([]string, len(chunks))
	for i := range chunks {
		originals[i] = chunks[i].text
	}
	for i := 1; i < len(chunks); i++ {
		budget := int(c.config.Overlap * float64(c.config.TargetTokens))
		if room := c.config.MaxTokens - chunks[i].tokens - 1; room < budget {
			budget = room
		}
		if ov := overlapTail(originals[i-1], budget); ov != "" {
			chunks[i].text = ov + "\n\n" + chunks[i].text
			chunks[i].tokens = utils.EstimateTokens(chunks[i].text)
		}
	}

	out := make([]document.Chunk, 0, len(chunks))
	for i, ch := range chunks {
		out = append(out, c.newChunk(doc, ch.text, ch.tokens, ch.kind, parents, startPos+i))
	}
	return out
}

func (c *Chunker) atomicChunk(doc *document.Document, b block, parents []string, pos int) document.Chunk {
	kind := document.ChunkTable
	if b.kind == blockCode {
		kind = document.ChunkCode
	}
	text := strings.TrimSpace(b.text)
	return c.newChunk(doc, text, utils.EstimateTokens(text), kind, parents, pos)
}

func (c *Chunker) newChunk(doc *document.Document, text string, tokens int, kind document.ChunkKind, parents []string, pos int) document.Chunk {
	return document.Chunk{
		ChunkID:       document.ChunkIDFor(doc.DocID, pos),
		DocID:         doc.DocID,
		Text:          text,
		TokenEstimate: tokens,
		Kind:          kind,
		ParentTitles:  parents,
		Position:      pos,
		Title:         doc.Title,
		Topics:        doc.Metadata.Topics,
		SourceKind:    doc.SourceKind,
		CreatedAt:     doc.CreatedAt,
		ContentHash:   doc.ContentHash,
		Quality:       doc.Scores.Quality,
		Signalness:    doc.Scores.Signalness,
	}
}

// proseKind derives the chunk kind from its pieces: a lone heading stays
// a heading chunk, list-only content is a list, anything mixed is a
// paragraph.
func proseKind(pieces []piece) document.ChunkKind {
	hasParagraph, hasList, hasHeading := false, false, false
	for _, p := range pieces {
		switch p.kind {
		case blockParagraph:
			hasParagraph = true
		case blockList:
			hasList = true
		case blockHeading:
			hasHeading = true
		}
	}
	switch {
	case hasParagraph:
		return document.ChunkParagraph
	case hasList:
		return document.ChunkList
	case hasHeading:
		return document.ChunkHeading
	default:
		return document.ChunkParagraph
	}
}

// splitOversize breaks a paragraph that alone exceeds the cap into
// sentence groups sized toward target. A sentence above target stands
// alone; only one above hardMax falls back to word boundaries. Text is
// never cut mid-word.
func splitOversize(text string, target, hardMax int) []string {
	var parts []string
	var cur []string
	curTokens := 0

	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, strings.Join(cur, " "))
			cur = nil
			curTokens = 0
		}
	}

	for _, s := range utils.SplitSentences(text) {
		st := utils.EstimateTokens(s)
		if st > hardMax {
			flush()
			parts = append(parts, splitWords(s, hardMax)...)
			continue
		}
		if st > target {
			flush()
			parts = append(parts, s)
			continue
		}
		if curTokens > 0 && curTokens+st > target {
			flush()
		}
		cur = append(cur, s)
		curTokens += st
	}
	flush()
	return parts
}

func splitWords(s string, budget int) []string {
	maxChars := budget * 4
	var parts []string
	var cur strings.Builder

	for _, w := range strings.Fields(s) {
		if cur.Len() > 0 && cur.Len()+1+len(w) > maxChars {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// overlapTail returns up to the last two sentences of text, subject to
// the token budget. Empty when even the final sentence does not fit.
func overlapTail(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	sentences := utils.SplitSentences(text)
	n := len(sentences)
	if n == 0 {
		return ""
	}
	if n >= 2 {
		two := sentences[n-2] + " " + sentences[n-1]
		if utils.EstimateTokens(two) <= budget {
			return two
		}
	}
	if utils.EstimateTokens(sentences[n-1]) <= budget {
		return sentences[n-1]
	}
	return ""
}

func copyStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
