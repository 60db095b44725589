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

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider speaks the chat completions API. Groq and any other
// OpenAI-compatible endpoint run through the same provider with a
// different base URL; only strict schema mode differs (groq accepts
// json_object but not json_schema).
type OpenAIProvider struct {
	cfg          *config.LLMConfig
	httpClient   *httpclient.Client
	baseURL      string
	strictSchema bool
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	Temperature    *float64              `json:"temperature,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *openAIJSONSchema `json:"json_schema,omitempty"`
}

type openAIJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict,omitempty"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewOpenAIProvider creates a provider for OpenAI or any compatible
// endpoint (groq sets base_url in config). Retry behavior comes from
// the dispatcher configuration; nil uses package defaults.
func NewOpenAIProvider(cfg *config.LLMConfig, dcfg *config.DispatcherConfig) (*OpenAIProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for %s", cfg.Provider)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	return &OpenAIProvider{
		cfg:          cfg,
		httpClient:   newHTTPClient(cfg, dcfg, httpclient.ParseOpenAIHeaders),
		baseURL:      baseURL,
		strictSchema: cfg.Provider == config.LLMProviderOpenAI,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return string(p.cfg.Provider)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	apiReq := p.buildRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

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

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	return &CompletionResponse{
		Text:             apiResp.Choices[0].Message.Content,
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		Model:            p.cfg.Model,
	}, nil
}

func (p *OpenAIProvider) buildRequest(req CompletionRequest) openAIRequest {
	system := req.System

	apiReq := openAIRequest{
		Model:       p.cfg.Model,
		MaxTokens:   p.maxTokens(req),
		Temperature: p.temperature(req),
	}

	if req.Format != nil {
		if p.strictSchema {
			apiReq.ResponseFormat = &openAIResponseFormat{
				Type: "json_schema",
				JSONSchema: &openAIJSONSchema{
					Name:   req.Format.Name,
					Schema: req.Format.Schema,
					Strict: true,
				},
			}
		} else {
			// json_object guarantees syntax only; the schema rides in
			// the system prompt.
			apiReq.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
			system = joinSystem(system, schemaInstruction(req.Format.Schema))
		}
	}

	if system != "" {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: "system", Content: system})
	}
	apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: "user", Content: req.Prompt})

	return apiReq
}

func (p *OpenAIProvider) maxTokens(req CompletionRequest) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return p.cfg.MaxTokens
}

func (p *OpenAIProvider) temperature(req CompletionRequest) *float64 {
	if req.Temperature != nil {
		return req.Temperature
	}
	return p.cfg.Temperature
}

func joinSystem(system, extra string) string {
	if system == "" {
		return extra
	}
	if extra == "" {
		return system
	}
	return system + "\n\n" + extra
}
