// Package dedup detects exact and near duplicates at ingest time.
// Exact duplicates resolve by SHA-256 over the canonical text with
// first-writer-wins semantics; near duplicates are advisory only and
// never block an ingest.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math/bits"
	"strings"
)

// MaxHammingDistance is the SimHash distance at or under which two
// documents are flagged as near duplicates.
const MaxHammingDistance = 3

// Registry is the document-hash store the deduper consults. Implemented
// by the corpus registry.
type Registry interface {
	// LookupHash returns the doc_id already holding this content hash,
	// if any.
	LookupHash(ctx context.Context, contentHash string) (docID string, found bool, err error)

	// SimHashes returns the recorded (doc_id, simhash) pairs for the
	// near-duplicate scan.
	SimHashes(ctx context.Context) (map[string]uint64, error)
}

// Result is the dedup verdict for a candidate document.
type Result struct {
	ContentHash string
	SimHash     uint64

	// IsDuplicate is true when the exact hash already exists; the older
	// document wins and the candidate must not be indexed.
	IsDuplicate   bool
	ExistingDocID string

	// NearDuplicateOf flags a Hamming-close document for human review.
	// Advisory: ingestion proceeds.
	NearDuplicateOf string
}

// Deduper computes hashes and checks them against the registry.
type Deduper struct {
	registry Registry
}

func New(registry Registry) *Deduper {
	return &Deduper{registry: registry}
}

// Check computes both hashes for the canonical text and consults the
// registry. The authoritative duplicate decision is re-checked by the
// registry's unique constraint at insert time; this pre-check keeps the
// pipeline from paying for enrichment on obvious duplicates.
func (d *Deduper) Check(ctx context.Context, text string) (*Result, error) {
	res := &Result{
		ContentHash: ContentHash(text),
		SimHash:     SimHash(text),
	}

	docID, found, err := d.registry.LookupHash(ctx, res.ContentHash)
	if err != nil {
		return nil, err
	}
	if found {
		res.IsDuplicate = true
		res.ExistingDocID = docID
		return res, nil
	}

	hashes, err := d.registry.SimHashes(ctx)
	if err != nil {
		return nil, err
	}
	for otherID, other := range hashes {
		if HammingDistance(res.SimHash, other) <= MaxHammingDistance {
			res.NearDuplicateOf = otherID
			break
		}
	}
	return res, nil
}

// ContentHash returns the hex SHA-256 of the canonical UTF-8 text:
// outer whitespace trimmed, line endings unified to \n.
func ContentHash(text string) string {
	canonical := canonicalize(text)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

func canonicalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return strings.TrimSpace(text)
}

// SimHash computes a 64-bit token-level SimHash of the text. Tokens are
// lowercased whitespace-separated words hashed with FNV-1a; each token
// votes its bits into the signature.
func SimHash(text string) uint64 {
	var votes [64]int

	for _, token := range strings.Fields(strings.ToLower(canonicalize(text))) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if sum&(1<<uint(bit)) != 0 {
				votes[bit]++
			} else {
				votes[bit]--
			}
		}
	}

	var sig uint64
	for bit := 0; bit < 64; bit++ {
		if votes[bit] > 0 {
			sig |= 1 << uint(bit)
		}
	}
	return sig
}

// HammingDistance counts differing bits between two signatures.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
