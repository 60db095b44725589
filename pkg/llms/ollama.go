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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/httpclient"
)

const ollamaDefaultBaseURL = "http://localhost:11434"

// OllamaProvider speaks the local ollama chat API. No API key, no rate
// limit headers; the format field carries the JSON schema for
// structured calls.
type OllamaProvider struct {
	cfg        *config.LLMConfig
	httpClient *httpclient.Client
	baseURL    string
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   any             `json:"format,omitempty"` // "json" or a schema object
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider for a local ollama server.
// Retries still matter locally: ollama answers 503 while a model loads.
func NewOllamaProvider(cfg *config.LLMConfig, dcfg *config.DispatcherConfig) (*OllamaProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaDefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OllamaProvider{
		cfg:        cfg,
		httpClient: newHTTPClient(cfg, dcfg, nil),
		baseURL:    baseURL,
	}, nil
}

func (p *OllamaProvider) Name() string {
	return string(config.LLMProviderOllama)
}

func (p *OllamaProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	apiReq := p.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if bodyBytes, _ := io.ReadAll(resp.Body); len(bodyBytes) > 0 {
				return nil, fmt.Errorf("request failed: %w - response: %s", err, string(bodyBytes))
			}
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != "" {
		return nil, fmt.Errorf("API error: %s", apiResp.Error)
	}

	return &CompletionResponse{
		Text:             apiResp.Message.Content,
		PromptTokens:     apiResp.PromptEvalCount,
		CompletionTokens: apiResp.EvalCount,
		Model:            p.cfg.Model,
	}, nil
}

func (p *OllamaProvider) buildRequest(req CompletionRequest) ollamaRequest {
	apiReq := ollamaRequest{
		Model:  p.cfg.Model,
		Stream: false,
	}

	if req.System != "" {
		apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: "system", Content: req.System})
	}
	apiReq.Messages = append(apiReq.Messages, ollamaMessage{Role: "user", Content: req.Prompt})

	if req.Format != nil {
		if req.Format.Schema != nil {
			apiReq.Format = req.Format.Schema
		} else {
			apiReq.Format = "json"
		}
	}

	opts := &ollamaOptions{}
	if temp := p.temperature(req); temp != nil {
		opts.Temperature = *temp
	}
	if req.MaxTokens > 0 {
		opts.NumPredict = req.MaxTokens
	} else if p.cfg.MaxTokens > 0 {
		opts.NumPredict = p.cfg.MaxTokens
	}
	if opts.Temperature > 0 || opts.NumPredict > 0 {
		apiReq.Options = opts
	}

	return apiReq
}

func (p *OllamaProvider) temperature(req CompletionRequest) *float64 {
	if req.Temperature != nil {
		return req.Temperature
	}
	return p.cfg.Temperature
}
