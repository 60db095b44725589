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

// Package confidence decides whether reranked context supports a
// grounded answer. The gate scores relevance, coverage, and chunk
// quality, combines them into an overall verdict, and recommends how
// the caller should respond when the context falls short.
package confidence

import (
	"fmt"

	"github.com/kadirpekel/mnemo/pkg/config"
	"github.com/kadirpekel/mnemo/pkg/rerank"
	"github.com/kadirpekel/mnemo/pkg/utils"
)

// Recommendations the gate can hand back to the answer path.
const (
	RecommendAnswer           = "answer"
	RecommendPartialAnswer    = "partial_answer"
	RecommendClarify          = "clarify_question"
	RecommendRefuseNoResults  = "refuse_no_results"
	RecommendRefuseIrrelevant = "refuse_irrelevant"
)

// partialCoverage is the coverage floor below which an otherwise
// relevant context only supports a partial or clarifying answer.
const partialCoverage = 0.5

// Assessment is the gate's verdict over one retrieval batch.
type Assessment struct {
	Relevance      float64 `json:"relevance"`
	Coverage       float64 `json:"coverage"`
	Quality        float64 `json:"quality"`
	Overall        float64 `json:"overall"`
	Sufficient     bool    `json:"sufficient"`
	Recommendation string  `json:"recommendation"`
	Candidates     int     `json:"candidates"`
}

// Gate scores retrieval batches against configured thresholds.
type Gate struct {
	cfg config.ConfidenceConfig
}

// NewGate builds a gate with defaults filled in.
func NewGate(cfg config.ConfidenceConfig) *Gate {
	cfg.SetDefaults()
	return &Gate{cfg: cfg}
}

// Assess scores the reranked candidates for the query.
//
// Relevance is the mean of min-max normalized rerank scores; a batch
// with no spread counts as fully relevant when any score is positive.
// Coverage is the fraction of query content words present in the
// retrieved texts. Quality is the mean chunk quality metadata; chunks
// without metadata count as neutral.
func (g *Gate) Assess(query string, ranked []rerank.Ranked) Assessment {
	if len(ranked) == 0 {
		return Assessment{Recommendation: RecommendRefuseNoResults}
	}

	relevance := normalizedMean(ranked)
	coverage := coverageOf(query, ranked)
	quality := meanQuality(ranked)

	overall := *g.cfg.RelevanceWeight*relevance +
		*g.cfg.CoverageWeight*coverage +
		*g.cfg.QualityWeight*quality

	a := Assessment{
		Relevance:  relevance,
		Coverage:   coverage,
		Quality:    quality,
		Overall:    overall,
		Sufficient: overall >= *g.cfg.OverallThreshold && relevance >= *g.cfg.RelevanceThreshold,
		Candidates: len(ranked),
	}

	switch {
	case relevance < *g.cfg.RelevanceThreshold:
		a.Recommendation = RecommendRefuseIrrelevant
	case coverage < partialCoverage:
		if a.Sufficient {
			a.Recommendation = RecommendPartialAnswer
		} else {
			a.Recommendation = RecommendClarify
		}
	case a.Sufficient:
		a.Recommendation = RecommendAnswer
	default:
		a.Recommendation = RecommendPartialAnswer
	}
	return a
}

// ResponseForLowConfidence returns the refusal text the synthesizer
// uses instead of fabricating an answer.
func ResponseForLowConfidence(a Assessment, query string) string {
	switch a.Recommendation {
	case RecommendRefuseNoResults:
		return fmt.Sprintf("I couldn't find anything in your documents about %q. It may not have been ingested yet.", query)
	case RecommendRefuseIrrelevant:
		return fmt.Sprintf("Nothing in your documents seems relevant to %q, so I can't give a grounded answer.", query)
	case RecommendClarify:
		return fmt.Sprintf("Your documents only partially cover %q. Could you narrow the question down?", query)
	case RecommendPartialAnswer:
		return fmt.Sprintf("Your documents only partially cover %q, so any answer would be incomplete.", query)
	default:
		return fmt.Sprintf("I'm not confident the retrieved context answers %q.", query)
	}
}

// normalizedMean min-max normalizes the rerank scores and averages
// them.
func normalizedMean(ranked []rerank.Ranked) float64 {
	lo, hi := ranked[0].RerankScore, ranked[0].RerankScore
	for _, r := range ranked[1:] {
		if r.RerankScore < lo {
			lo = r.RerankScore
		}
		if r.RerankScore > hi {
			hi = r.RerankScore
		}
	}
	if hi == lo {
		if hi > 0 {
			return 1.0
		}
		return 0.0
	}
	sum := 0.0
	for _, r := range ranked {
		sum += (r.RerankScore - lo) / (hi - lo)
	}
	return sum / float64(len(ranked))
}

// coverageOf reports the fraction of query content words that appear
// somewhere in the retrieved texts.
func coverageOf(query string, ranked []rerank.Ranked) float64 {
	words := contentWords(query)
	if len(words) == 0 {
		return 1.0
	}

	seen := make(map[string]bool)
	for _, r := range ranked {
		for _, tok := range utils.Tokenize(r.Text) {
			seen[tok] = true
		}
	}

	covered := 0
	for _, w := range words {
		if seen[w] {
			covered++
		}
	}
	return float64(covered) / float64(len(words))
}

func meanQuality(ranked []rerank.Ranked) float64 {
	sum := 0.0
	for _, r := range ranked {
		if r.Meta != nil {
			sum += r.Meta.Quality
		} else {
			sum += 0.5
		}
	}
	return sum / float64(len(ranked))
}

// contentWords tokenizes the query and drops stopwords and short
// tokens.
func contentWords(query string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tok := range utils.Tokenize(query) {
		if len(tok) < 3 || queryStopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

// queryStopwords are question-shaped filler words that carry no
// retrieval signal.
var queryStopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "was": true, "were": true, "are": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"why": true, "how": true, "did": true, "does": true, "can": true,
	"could": true, "would": true, "should": true, "about": true,
	"there": true, "have": true, "has": true, "had": true, "not": true,
	"you": true, "your": true, "our": true, "their": true, "its": true,
	"any": true, "all": true, "into": true, "out": true, "over": true,
	"tell": true, "show": true, "find": true, "please": true,
}
