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

package config

import (
	"fmt"
	"time"
)

// RetrievalConfig configures hybrid search.
//
// Keyword and dense hits are fused with a weighted sum of normalized
// scores, then diversified with maximal marginal relevance.
type RetrievalConfig struct {
	// KeywordWeight scales the normalized BM25 score in fusion.
	KeywordWeight *float64 `yaml:"keyword_weight,omitempty"`

	// DenseWeight scales the normalized cosine score in fusion.
	DenseWeight *float64 `yaml:"dense_weight,omitempty"`

	// CandidatesPerIndex is how many hits each index contributes
	// before fusion.
	CandidatesPerIndex int `yaml:"candidates_per_index,omitempty"`

	// TopK is the default number of fused results returned.
	TopK int `yaml:"top_k,omitempty"`

	// MMRLambda trades relevance (1.0) against diversity (0.0).
	MMRLambda *float64 `yaml:"mmr_lambda,omitempty"`

	// MMREnabled toggles the diversification pass.
	MMREnabled *bool `yaml:"mmr_enabled,omitempty"`
}

// SetDefaults applies default values.
func (c *RetrievalConfig) SetDefaults() {
	if c.KeywordWeight == nil {
		c.KeywordWeight = Float64Ptr(0.3)
	}
	if c.DenseWeight == nil {
		c.DenseWeight = Float64Ptr(0.7)
	}
	if c.CandidatesPerIndex == 0 {
		c.CandidatesPerIndex = 50
	}
	if c.TopK == 0 {
		c.TopK = 20
	}
	if c.MMRLambda == nil {
		c.MMRLambda = Float64Ptr(0.7)
	}
	if c.MMREnabled == nil {
		c.MMREnabled = BoolPtr(true)
	}
}

// Validate checks the retrieval configuration.
func (c *RetrievalConfig) Validate() error {
	if *c.KeywordWeight < 0 || *c.DenseWeight < 0 {
		return fmt.Errorf("fusion weights cannot be negative")
	}
	if *c.KeywordWeight+*c.DenseWeight == 0 {
		return fmt.Errorf("at least one fusion weight must be positive")
	}
	if *c.MMRLambda < 0 || *c.MMRLambda > 1 {
		return fmt.Errorf("mmr_lambda must be in [0, 1], got %f", *c.MMRLambda)
	}
	if c.TopK < 1 {
		return fmt.Errorf("retrieval top_k must be at least 1")
	}
	if c.CandidatesPerIndex < c.TopK {
		return fmt.Errorf("candidates_per_index (%d) must be >= top_k (%d)", c.CandidatesPerIndex, c.TopK)
	}
	return nil
}

// RerankProvider identifies the reranker backend.
type RerankProvider string

const (
	// RerankProviderTEI scores pairs with a text-embeddings-inference
	// cross-encoder endpoint.
	RerankProviderTEI RerankProvider = "tei"

	// RerankProviderLLM asks a chat model to order the candidates.
	RerankProviderLLM RerankProvider = "llm"
)

// RerankConfig configures the cross-encoder reranking stage.
type RerankConfig struct {
	// Enabled toggles reranking. Disabled, fused order is kept.
	Enabled bool `yaml:"enabled,omitempty"`

	// Provider selects the backend (tei, llm).
	Provider RerankProvider `yaml:"provider,omitempty"`

	// Endpoint of the TEI rerank server.
	Endpoint string `yaml:"endpoint,omitempty"`

	// LLM is the llms entry used when provider is "llm".
	LLM string `yaml:"llm,omitempty"`

	// CandidateLimit caps how many fused hits enter reranking.
	CandidateLimit int `yaml:"candidate_limit,omitempty"`

	// Stage1K is how many candidates the fast stage keeps in a
	// multistage rerank.
	Stage1K int `yaml:"stage1_k,omitempty"`

	// Stage2K is the final size of a multistage rerank.
	Stage2K int `yaml:"stage2_k,omitempty"`

	// CacheSize bounds the query+chunk score cache.
	CacheSize int `yaml:"cache_size,omitempty"`

	// CacheTTL expires cached scores.
	CacheTTL time.Duration `yaml:"cache_ttl,omitempty"`

	// Timeout for one rerank call.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// SetDefaults applies default values.
func (c *RerankConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = RerankProviderTEI
	}
	if c.CandidateLimit == 0 {
		c.CandidateLimit = 50
	}
	if c.Stage1K == 0 {
		c.Stage1K = 50
	}
	if c.Stage2K == 0 {
		c.Stage2K = 10
	}
	if c.CacheSize == 0 {
		c.CacheSize = 1000
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the rerank configuration.
func (c *RerankConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Provider {
	case RerankProviderTEI:
		if c.Endpoint == "" {
			return fmt.Errorf("rerank endpoint is required for the tei provider")
		}
	case RerankProviderLLM:
		if c.LLM == "" {
			return fmt.Errorf("rerank llm name is required for the llm provider")
		}
	default:
		return fmt.Errorf("invalid rerank provider %q (valid: tei, llm)", c.Provider)
	}
	if c.CacheSize < 0 {
		return fmt.Errorf("rerank cache_size cannot be negative")
	}
	if c.Stage2K > c.Stage1K {
		return fmt.Errorf("rerank stage2_k (%d) cannot exceed stage1_k (%d)", c.Stage2K, c.Stage1K)
	}
	return nil
}

// HydeConfig configures hypothetical document expansion.
//
// When a query retrieves poorly, a model drafts the document that
// would answer it and that draft is embedded for a second dense pass.
type HydeConfig struct {
	// Enabled toggles the expansion fallback.
	Enabled bool `yaml:"enabled,omitempty"`

	// LLM is the llms entry used to draft hypothetical documents.
	// Empty means the bottom of the dispatcher ladder.
	LLM string `yaml:"llm,omitempty"`

	// MinResults below which expansion kicks in.
	MinResults int `yaml:"min_results,omitempty"`

	// MinScore is the fused-score floor; weaker top hits trigger
	// expansion even when enough results came back.
	MinScore *float64 `yaml:"min_score,omitempty"`

	// Variants is how many hypothetical documents are drafted per
	// query.
	Variants int `yaml:"variants,omitempty"`

	// Style shapes the drafted documents (informative, concise,
	// technical).
	Style string `yaml:"style,omitempty"`
}

// SetDefaults applies default values.
func (c *HydeConfig) SetDefaults() {
	if c.MinResults == 0 {
		c.MinResults = 3
	}
	if c.MinScore == nil {
		c.MinScore = Float64Ptr(0.35)
	}
	if c.Variants == 0 {
		c.Variants = 2
	}
	if c.Style == "" {
		c.Style = "informative"
	}
}

// Validate checks the HyDE configuration.
func (c *HydeConfig) Validate() error {
	if c.MinResults < 1 {
		return fmt.Errorf("hyde min_results must be at least 1")
	}
	if *c.MinScore < 0 || *c.MinScore > 1 {
		return fmt.Errorf("hyde min_score must be in [0, 1]")
	}
	if c.Variants < 1 {
		return fmt.Errorf("hyde variants must be at least 1")
	}
	return nil
}

// ConfidenceConfig configures the answer/refuse gate.
//
// Confidence blends rerank relevance, query term coverage, and chunk
// quality. An answer requires the blended score and the relevance
// component to each clear their threshold; otherwise the service
// refuses or asks for clarification.
type ConfidenceConfig struct {
	// RelevanceWeight for the normalized rerank-score component.
	RelevanceWeight *float64 `yaml:"relevance_weight,omitempty"`

	// CoverageWeight for the query-term coverage component.
	CoverageWeight *float64 `yaml:"coverage_weight,omitempty"`

	// QualityWeight for the mean chunk-quality component.
	QualityWeight *float64 `yaml:"quality_weight,omitempty"`

	// OverallThreshold the blended score must reach for an answer.
	OverallThreshold *float64 `yaml:"overall_threshold,omitempty"`

	// RelevanceThreshold the relevance component must reach on its
	// own. Below it the service refuses regardless of the blend.
	RelevanceThreshold *float64 `yaml:"relevance_threshold,omitempty"`
}

// SetDefaults applies default values.
func (c *ConfidenceConfig) SetDefaults() {
	if c.RelevanceWeight == nil {
		c.RelevanceWeight = Float64Ptr(0.5)
	}
	if c.CoverageWeight == nil {
		c.CoverageWeight = Float64Ptr(0.3)
	}
	if c.QualityWeight == nil {
		c.QualityWeight = Float64Ptr(0.2)
	}
	if c.OverallThreshold == nil {
		c.OverallThreshold = Float64Ptr(0.6)
	}
	if c.RelevanceThreshold == nil {
		c.RelevanceThreshold = Float64Ptr(0.5)
	}
}

// Validate checks the confidence configuration.
func (c *ConfidenceConfig) Validate() error {
	for name, w := range map[string]*float64{
		"relevance_weight":    c.RelevanceWeight,
		"coverage_weight":     c.CoverageWeight,
		"quality_weight":      c.QualityWeight,
		"overall_threshold":   c.OverallThreshold,
		"relevance_threshold": c.RelevanceThreshold,
	} {
		if *w < 0 || *w > 1 {
			return fmt.Errorf("confidence %s must be in [0, 1]", name)
		}
	}
	if *c.RelevanceWeight+*c.CoverageWeight+*c.QualityWeight == 0 {
		return fmt.Errorf("at least one confidence weight must be positive")
	}
	return nil
}

// SynthesisConfig configures answer generation.
type SynthesisConfig struct {
	// LLM is the llms entry used for synthesis. Empty means the
	// dispatcher ladder decides.
	LLM string `yaml:"llm,omitempty"`

	// MaxContextChunks bounds how many chunks go into the prompt.
	MaxContextChunks int `yaml:"max_context_chunks,omitempty"`

	// MaxAnswerTokens bounds the generated answer.
	MaxAnswerTokens int `yaml:"max_answer_tokens,omitempty"`
}

// SetDefaults applies default values.
func (c *SynthesisConfig) SetDefaults() {
	if c.MaxContextChunks == 0 {
		c.MaxContextChunks = 10
	}
	if c.MaxAnswerTokens == 0 {
		c.MaxAnswerTokens = 1024
	}
}

// Validate checks the synthesis configuration.
func (c *SynthesisConfig) Validate() error {
	if c.MaxContextChunks < 1 {
		return fmt.Errorf("synthesis max_context_chunks must be at least 1")
	}
	return nil
}

// EnrichmentConfig configures metadata extraction.
type EnrichmentConfig struct {
	// Enabled toggles LLM metadata extraction. Disabled, documents
	// keep source-derived metadata only.
	Enabled *bool `yaml:"enabled,omitempty"`

	// MinAttestation is the substring-evidence ratio an extracted
	// value needs before it is trusted.
	MinAttestation *float64 `yaml:"min_attestation,omitempty"`

	// MaxTopics caps topics kept per document.
	MaxTopics int `yaml:"max_topics,omitempty"`

	// MaxPeople caps people kept per document.
	MaxPeople int `yaml:"max_people,omitempty"`
}

// SetDefaults applies default values.
func (c *EnrichmentConfig) SetDefaults() {
	if c.Enabled == nil {
		c.Enabled = BoolPtr(true)
	}
	if c.MinAttestation == nil {
		c.MinAttestation = Float64Ptr(0.85)
	}
	if c.MaxTopics == 0 {
		c.MaxTopics = 8
	}
	if c.MaxPeople == 0 {
		c.MaxPeople = 16
	}
}

// Validate checks the enrichment configuration.
func (c *EnrichmentConfig) Validate() error {
	if *c.MinAttestation < 0 || *c.MinAttestation > 1 {
		return fmt.Errorf("enrichment min_attestation must be in [0, 1]")
	}
	return nil
}
