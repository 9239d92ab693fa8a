// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ranker

import (
	"context"
	"sort"
	"strings"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

// HybridWeights are the per-method contributions to the fused score. Their
// sum is the maximum achievable hybrid score (1.0 when every method scores
// a candidate at 1.0).
type HybridWeights struct {
	Semantic float64 `yaml:"semantic"`
	Rule     float64 `yaml:"rule"`
	LLM      float64 `yaml:"llm"`
}

// DefaultHybridWeights returns the standard fusion weights. They are
// tunable constants, overridable through configuration, not derived
// values.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{Semantic: 0.30, Rule: 0.15, LLM: 0.55}
}

// llmBucketTotal is the number of candidates the four-bucket strategy
// selects for LLM evaluation in hybrid mode.
const llmBucketTotal = 30

// HybridRank fuses semantic and rule-based scores across the full
// candidate set (weighted), and, when llmClient is non-nil, escalates a
// 30-candidate subset (picked by the four-bucket strategy) to the LLM
// ranker, folding its judgment in at the LLM weight. The result is keyed
// by tool name; ties are broken by the stable insertion order of tools.
func HybridRank(ctx context.Context, index *semanticindex.Index, llmClient domain.LLMClient, request, reqContext string, tools []domain.ToolDescriptor, preferred []string, weights HybridWeights, llmCfg LLMConfig, useFuzzy bool) ([]domain.ToolMatch, error) {
	ruleMatches := RuleRankAll(tools, request, reqContext, useFuzzy)
	ruleByName := make(map[string]float64, len(ruleMatches))
	for _, m := range ruleMatches {
		ruleByName[m.ToolName] = m.Confidence
	}

	semByName := make(map[string]float64)
	if index != nil {
		semMatches, err := semanticRank(ctx, index, request, tools, preferred, len(tools))
		if err == nil {
			for _, m := range semMatches {
				if m.Confidence > semByName[m.ToolName] {
					semByName[m.ToolName] = m.Confidence
				}
			}
		}
	}

	combined := make(map[string]float64, len(tools))
	reasons := make(map[string][]string, len(tools))
	order := make([]string, 0, len(tools))
	for _, t := range tools {
		order = append(order, t.Name)
		score := semByName[t.Name]*weights.Semantic + ruleByName[t.Name]*weights.Rule
		combined[t.Name] = score
		reasons[t.Name] = []string{"hybrid: semantic+rule combined score"}
	}

	if llmClient != nil {
		bucketCandidates := selectLLMBuckets(tools, order, combined, request, llmBucketTotal)
		llmMatches, err := LLMRank(ctx, llmClient, request, reqContext, bucketCandidates, llmCfg)
		if err == nil {
			for _, m := range llmMatches {
				combined[m.ToolName] += m.Confidence * weights.LLM
				reasons[m.ToolName] = append(reasons[m.ToolName], "llm: "+m.Reasoning)
			}
		}
	}

	out := make([]domain.ToolMatch, 0, len(order))
	for _, name := range order {
		score := combined[name]
		if score > 1.0 {
			score = 1.0
		}
		out = append(out, domain.ToolMatch{
			ToolName:   name,
			Confidence: score,
			Reasoning:  strings.Join(reasons[name], "; "),
		})
	}
	return out, nil
}

// selectLLMBuckets implements the four-bucket candidate-selection
// strategy for escalating a subset of the catalog to LLM evaluation:
//  1. top 10 by combined semantic+rule score
//  2. 5 diverse tools from the unselected remainder (deterministic stride)
//  3. up to 5 low-scoring (<= 0.2) candidates; a tool neither method scored
//     (combined 0) counts toward these 5 and is not added beyond them
//  4. 10 tools matching a heuristic category inferred from the request
func selectLLMBuckets(tools []domain.ToolDescriptor, order []string, combined map[string]float64, request string, total int) []domain.ToolDescriptor {
	byName := make(map[string]domain.ToolDescriptor, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	selected := make(map[string]bool)
	var out []domain.ToolDescriptor
	add := func(name string) {
		if selected[name] {
			return
		}
		t, ok := byName[name]
		if !ok {
			return
		}
		selected[name] = true
		out = append(out, t)
	}

	// Bucket 1: top 10 by combined score.
	ranked := make([]string, len(order))
	copy(ranked, order)
	sort.SliceStable(ranked, func(i, j int) bool {
		return combined[ranked[i]] > combined[ranked[j]]
	})
	for _, name := range ranked {
		if len(selected) >= 10 {
			break
		}
		add(name)
	}

	// Bucket 2: 5 diverse tools from the unselected remainder, picked by a
	// deterministic every-Nth stride so the sample spans the catalog
	// rather than clustering near the top.
	var remainder []string
	for _, name := range order {
		if !selected[name] {
			remainder = append(remainder, name)
		}
	}
	if len(remainder) > 0 {
		stride := len(remainder) / 5
		if stride < 1 {
			stride = 1
		}
		for i := 0; i < len(remainder) && len(selected) < 15; i += stride {
			add(remainder[i])
		}
	}

	// Bucket 3: up to 5 low-scoring (<=0.2) candidates. Tools neither
	// method scored (combined 0) qualify here and share the same cap.
	count := 0
	for _, name := range order {
		if count >= 5 || selected[name] {
			continue
		}
		if combined[name] <= 0.2 {
			add(name)
			count++
		}
	}

	// Bucket 4: 10 tools matching a heuristic category inferred from the
	// request.
	category := inferCategory(request)
	if words, ok := bucketCategoryKeywords[category]; ok {
		count = 0
		for _, name := range order {
			if count >= 10 || selected[name] {
				continue
			}
			t := byName[name]
			corpus := strings.ToLower(t.Name + " " + t.Description)
			for _, w := range words {
				if strings.Contains(corpus, w) {
					add(name)
					count++
					break
				}
			}
		}
	}

	if len(out) > total {
		out = out[:total]
	}
	return out
}

// bucketCategoryKeywords is the vocabulary bucket 4 matches tools against,
// keyed by the coarse request categories inferCategory produces. The
// "general" category deliberately has no entry, so a request with no clear
// domain skips the bucket rather than pulling in arbitrary tools.
var bucketCategoryKeywords = map[string][]string{
	"network":    {"http", "network", "request", "url", "api", "dns"},
	"filesystem": {"file", "directory", "folder", "path", "disk"},
	"database":   {"database", "sql", "query", "table"},
	"git":        {"git", "commit", "branch", "repo"},
	"system":     {"system", "process", "shell", "command"},
}

// inferCategory maps a request's vocabulary onto a small heuristic
// category label used to bias bucket 4's selection.
func inferCategory(request string) string {
	reqLower := strings.ToLower(request)
	switch {
	case strings.Contains(reqLower, "network") || strings.Contains(reqLower, "http") || strings.Contains(reqLower, "request"):
		return "network"
	case strings.Contains(reqLower, "file") || strings.Contains(reqLower, "directory") || strings.Contains(reqLower, "path"):
		return "filesystem"
	case strings.Contains(reqLower, "database") || strings.Contains(reqLower, "sql") || strings.Contains(reqLower, "query"):
		return "database"
	case strings.Contains(reqLower, "git") || strings.Contains(reqLower, "commit") || strings.Contains(reqLower, "repo"):
		return "git"
	case strings.Contains(reqLower, "system") || strings.Contains(reqLower, "process") || strings.Contains(reqLower, "shell"):
		return "system"
	default:
		return "general"
	}
}
