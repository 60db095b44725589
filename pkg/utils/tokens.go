// Package utils provides shared helpers for the Mnemo service.
package utils

import (
	"fmt"
	"os"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter handles accurate token counting per model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
	mu       sync.RWMutex
}

var (
	// Cache encodings to avoid repeated initialization
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// SetEncodingCacheDir points the tiktoken BPE downloader at a persistent
// directory so encoding files survive process restarts. Must be called
// before the first NewTokenCounter.
func SetEncodingCacheDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create encoding cache dir %q: %w", dir, err)
	}
	return os.Setenv("TIKTOKEN_CACHE_DIR", dir)
}

// NewTokenCounter creates a counter for a specific model.
// Unknown models fall back to the cl100k_base encoding.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{
			encoding: cached,
			model:    model,
		}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{
		encoding: encoding,
		model:    model,
	}, nil
}

// Count returns the accurate token count for text.
func (tc *TokenCounter) Count(text string) int {
	tc.mu.RLock()
	defer tc.mu.RUnlock()

	tokens := tc.encoding.Encode(text, nil, nil)
	return len(tokens)
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string {
	return tc.model
}

// EstimateTokens is the chars/4 heuristic used wherever an exact encoding
// is unavailable or overkill: max(1, ceil(len/4)), with the empty string
// yielding 0.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	est := (len(text) + 3) / 4
	if est < 1 {
		est = 1
	}
	return est
}
