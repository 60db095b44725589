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

package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/mnemo/pkg/httpclient"
)

// TEIScorer scores query/text pairs against a text-embeddings-inference
// style cross-encoder server: POST /rerank with {query, texts} returns
// one {index, score} per text. The model runs in the server's process;
// this client carries no weights.
type TEIScorer struct {
	endpoint string
	timeout  time.Duration
	client   *httpclient.Client
}

// NewTEIScorer builds a scorer against the given rerank endpoint.
func NewTEIScorer(endpoint string, timeout time.Duration) *TEIScorer {
	return &TEIScorer{
		endpoint: endpoint,
		timeout:  timeout,
		client:   httpclient.New(httpclient.WithMaxRetries(2)),
	}
}

// Name identifies the scorer in logs.
func (s *TEIScorer) Name() string { return "tei" }

type teiRequest struct {
	Query string   `json:"query"`
	Texts []string `json:"texts"`
}

type teiScore struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Score returns one relevance score per text, aligned to input order.
// Indices the server omits score zero.
func (s *TEIScorer) Score(ctx context.Context, query string, texts []string) ([]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(teiRequest{Query: query, Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to encode rerank request: %w", err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank server returned %d: %s", resp.StatusCode, detail)
	}

	var scored []teiScore
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}

	scores := make([]float64, len(texts))
	for _, s := range scored {
		if s.Index >= 0 && s.Index < len(scores) {
			scores[s.Index] = s.Score
		}
	}
	return scores, nil
}
