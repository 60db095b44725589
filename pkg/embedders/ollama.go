package embedders

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// Global mutex to serialize ollama embedding requests. Ollama's llama
// runner crashes with SIGABRT when it receives concurrent embedding
// requests ("decode: cannot decode batches with this context").
var ollamaEmbedMu sync.Mutex

// OllamaEmbedder runs a local embedding model through ollama. The
// default nomic-embed-text is asymmetric: document and query texts get
// the task prefixes the model was trained with.
type OllamaEmbedder struct {
	cfg        *config.EmbedderConfig
	client     *http.Client
	baseURL    string
	retryDelay time.Duration
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder for a local ollama server.
func NewOllamaEmbedder(cfg *config.EmbedderConfig) (*OllamaEmbedder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &OllamaEmbedder{
		cfg:        cfg,
		client:     &http.Client{Timeout: cfg.Timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		retryDelay: time.Second,
	}, nil
}

func (e *OllamaEmbedder) Model() string {
	return e.cfg.Model
}

func (e *OllamaEmbedder) Dimensions() int {
	return e.cfg.Dimension
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string, kind Kind) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.embedOne(ctx, e.applyTaskPrefix(text, kind))
		if err != nil {
			return nil, fmt.Errorf("embedding text %d of %d: %w", i+1, len(texts), err)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func (e *OllamaEmbedder) embedOne(ctx context.Context, text string) ([]float32, error) {
	// Serialize: concurrent embedding requests crash the llama runner.
	ollamaEmbedMu.Lock()
	defer ollamaEmbedMu.Unlock()

	slog.Debug("Ollama embedding request", "model", e.cfg.Model, "text_length", len(text))

	body, err := json.Marshal(ollamaEmbedRequest{Model: e.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	maxRetries := e.cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("Ollama embedding retry", "attempt", attempt+1, "error", lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * e.retryDelay):
			}
		}

		vec, err := e.doRequest(ctx, body)
		if err == nil {
			return vec, nil
		}
		lastErr = err
	}

	slog.Error("Ollama embedding failed", "error", lastErr, "model", e.cfg.Model)
	return nil, fmt.Errorf("failed to embed with ollama: %w", lastErr)
}

func (e *OllamaEmbedder) doRequest(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding from ollama")
	}
	if err := checkDimensions(out.Embedding, e.cfg.Dimension, e.cfg.Model); err != nil {
		return nil, err
	}

	return out.Embedding, nil
}

// applyTaskPrefix prepends the retrieval-task marker nomic models were
// trained with. Other models pass through unchanged.
func (e *OllamaEmbedder) applyTaskPrefix(text string, kind Kind) string {
	if !strings.HasPrefix(e.cfg.Model, "nomic-embed-text") {
		return text
	}
	switch kind {
	case KindQuery:
		return "search_query: " + text
	default:
		return "search_document: " + text
	}
}
