// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fallback implements the six deterministic recovery strategies
// invoked when ranking yields nothing usable, plus failure-pattern
// learning so repeated failure shapes accumulate suggestions over time.
package fallback

import (
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

var strategiesAttemptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "discovery_fallback_strategy_total",
	Help: "Fallback strategies attempted, by name.",
}, []string{"strategy"})

// Config enables/disables and bounds the fallback strategies.
type Config struct {
	Enabled                    bool    `yaml:"enabled"`
	MinConfidenceThreshold     float64 `yaml:"min_confidence_threshold" validate:"gte=0,lte=1"`
	MaxFallbackSuggestions     int     `yaml:"max_fallback_suggestions" validate:"gte=0"`
	EnableFuzzyFallback        bool    `yaml:"enable_fuzzy_fallback"`
	EnableKeywordFallback      bool    `yaml:"enable_keyword_fallback"`
	EnableCategoryFallback     bool    `yaml:"enable_category_fallback"`
	EnablePartialMatchFallback bool    `yaml:"enable_partial_match_fallback"`
}

// DefaultConfig returns the programmatic default fallback configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:                    true,
		MinConfidenceThreshold:     0.3,
		MaxFallbackSuggestions:     5,
		EnableFuzzyFallback:        true,
		EnableKeywordFallback:      true,
		EnableCategoryFallback:     true,
		EnablePartialMatchFallback: true,
	}
}

// category taxonomy used by the Category strategy.
var categoryTaxonomy = map[string][]string{
	"file":     {"file", "read", "write", "save", "load", "directory", "folder"},
	"http":     {"http", "request", "api", "url", "endpoint", "rest"},
	"database": {"database", "query", "sql", "table", "row", "record"},
	"search":   {"search", "find", "lookup", "query"},
	"ai":       {"ai", "model", "generate", "embed", "llm", "prompt"},
	"system":   {"system", "process", "shell", "command", "execute"},
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "in": true,
	"and": true, "or": true, "for": true, "with": true, "is": true, "on": true,
	"at": true, "from": true, "it": true, "that": true, "this": true,
}

// UsageStats supplies the counters the Popular/Recent strategies need.
type UsageStats interface {
	UsageCount(toolName string) int
	RecentOrder() []string // most-recently-used first
}

// Engine runs the six fallback strategies and learns from failures.
type Engine struct {
	cfg   Config
	mu    sync.Mutex
	stats UsageStats

	patterns map[string]*domain.FailurePattern
}

// New constructs a fallback Engine.
func New(cfg Config, stats UsageStats) *Engine {
	return &Engine{cfg: cfg, stats: stats, patterns: make(map[string]*domain.FailurePattern)}
}

// Execute runs every enabled strategy against request and tools, merges
// suggestions (deduplicated by tool name, keeping the max confidence),
// sorts by descending confidence, and truncates to MaxFallbackSuggestions.
// Determinism: the same (request, tools, usage stats) always returns the
// same ordering, because every strategy is a pure function of its inputs
// and ties break on stable sort + insertion order.
func (e *Engine) Execute(request string, tools []domain.ToolDescriptor) domain.FallbackResult {
	if !e.cfg.Enabled {
		return domain.FallbackResult{}
	}

	best := make(map[string]domain.FallbackSuggestion)
	var attempted uint32

	merge := func(suggestions []domain.FallbackSuggestion) {
		for _, s := range suggestions {
			if domain.IsReservedTool(s.ToolName) {
				continue
			}
			if cur, ok := best[s.ToolName]; !ok || s.Confidence > cur.Confidence {
				best[s.ToolName] = s
			}
		}
	}

	if e.cfg.EnableFuzzyFallback {
		merge(fuzzyStrategy(request, tools))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("fuzzy").Inc()
	}
	if e.cfg.EnableKeywordFallback {
		merge(keywordStrategy(request, tools))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("keyword").Inc()
	}
	if e.cfg.EnableCategoryFallback {
		merge(categoryStrategy(request, tools))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("category").Inc()
	}
	if e.cfg.EnablePartialMatchFallback {
		merge(partialStrategy(request, tools))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("partial").Inc()
	}
	if e.stats != nil {
		merge(popularStrategy(tools, e.stats))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("popular").Inc()

		merge(recentStrategy(tools, e.stats))
		attempted++
		strategiesAttemptedTotal.WithLabelValues("recent").Inc()
	}

	suggestions := make([]domain.FallbackSuggestion, 0, len(best))
	names := make([]string, 0, len(best))
	for name := range best {
		names = append(names, name)
	}
	sort.Strings(names) // stable tiebreak basis before the confidence sort
	for _, name := range names {
		suggestions = append(suggestions, best[name])
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})

	if e.cfg.MaxFallbackSuggestions > 0 && len(suggestions) > e.cfg.MaxFallbackSuggestions {
		suggestions = suggestions[:e.cfg.MaxFallbackSuggestions]
	}

	viable := false
	for _, s := range suggestions {
		if s.Confidence >= e.cfg.MinConfidenceThreshold {
			viable = true
			break
		}
	}

	return domain.FallbackResult{
		Suggestions:          suggestions,
		StrategiesAttempted:  attempted,
		HasViableSuggestions: viable,
	}
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func significantWords(s string) []string {
	out := make([]string, 0)
	for _, w := range tokenize(s) {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

func charSet(s string) map[rune]bool {
	set := make(map[rune]bool)
	for _, r := range strings.ToLower(s) {
		set[r] = true
	}
	return set
}

func jaccard(a, b map[rune]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var intersection, union int
	seen := make(map[rune]bool)
	for r := range a {
		seen[r] = true
		if b[r] {
			intersection++
		}
	}
	for r := range b {
		seen[r] = true
	}
	union = len(seen)
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// fuzzyStrategy scores character-set Jaccard similarity between the
// request and each tool's name (weight .7) and description (.3), capped
// at 1.0.
func fuzzyStrategy(request string, tools []domain.ToolDescriptor) []domain.FallbackSuggestion {
	reqSet := charSet(request)
	out := make([]domain.FallbackSuggestion, 0, len(tools))
	for _, t := range tools {
		nameScore := jaccard(reqSet, charSet(t.Name))
		descScore := jaccard(reqSet, charSet(t.Description))
		score := nameScore*0.7 + descScore*0.3
		if score <= 0 {
			continue
		}
		if score > 1.0 {
			score = 1.0
		}
		out = append(out, domain.FallbackSuggestion{
			ToolName: t.Name, Confidence: score, Strategy: "fuzzy",
			Reasoning: "character overlap with request text",
		})
	}
	return out
}

// keywordStrategy scores matched/total significant keywords, capped at
// 0.8.
func keywordStrategy(request string, tools []domain.ToolDescriptor) []domain.FallbackSuggestion {
	reqWords := significantWords(request)
	if len(reqWords) == 0 {
		return nil
	}
	out := make([]domain.FallbackSuggestion, 0, len(tools))
	for _, t := range tools {
		corpus := strings.ToLower(t.Name + " " + t.Description)
		matched := 0
		for _, w := range reqWords {
			if strings.Contains(corpus, w) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(reqWords)) * 0.8
		out = append(out, domain.FallbackSuggestion{
			ToolName: t.Name, Confidence: score, Strategy: "keyword",
			Reasoning: "keyword overlap with request",
		})
	}
	return out
}

// categoryStrategy matches the request against a fixed taxonomy and scores
// matches/category_size * 0.6.
func categoryStrategy(request string, tools []domain.ToolDescriptor) []domain.FallbackSuggestion {
	reqLower := strings.ToLower(request)
	matchedCategories := make(map[string]bool)
	for cat, words := range categoryTaxonomy {
		for _, w := range words {
			if strings.Contains(reqLower, w) {
				matchedCategories[cat] = true
				break
			}
		}
	}
	if len(matchedCategories) == 0 {
		return nil
	}
	out := make([]domain.FallbackSuggestion, 0, len(tools))
	for _, t := range tools {
		corpus := strings.ToLower(t.Name + " " + t.Description)
		for cat := range matchedCategories {
			words := categoryTaxonomy[cat]
			matches := 0
			for _, w := range words {
				if strings.Contains(corpus, w) {
					matches++
				}
			}
			if matches == 0 {
				continue
			}
			score := float64(matches) / float64(len(words)) * 0.6
			out = append(out, domain.FallbackSuggestion{
				ToolName: t.Name, Confidence: score, Strategy: "category",
				Reasoning: "matches category: " + cat,
			})
		}
	}
	return out
}

// partialStrategy scores the fraction of request words (len >= 3) found in
// the tool's name or description, capped at 0.5.
func partialStrategy(request string, tools []domain.ToolDescriptor) []domain.FallbackSuggestion {
	words := make([]string, 0)
	for _, w := range tokenize(request) {
		if len(w) >= 3 {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return nil
	}
	out := make([]domain.FallbackSuggestion, 0, len(tools))
	for _, t := range tools {
		corpus := strings.ToLower(t.Name + " " + t.Description)
		found := 0
		for _, w := range words {
			if strings.Contains(corpus, w) {
				found++
			}
		}
		if found == 0 {
			continue
		}
		score := float64(found) / float64(len(words)) * 0.5
		out = append(out, domain.FallbackSuggestion{
			ToolName: t.Name, Confidence: score, Strategy: "partial",
			Reasoning: "partial word overlap with request",
		})
	}
	return out
}

// popularStrategy returns the top 3 tools by usage count; base confidence
// 0.4, or 0.3 if a tool has never been used.
func popularStrategy(tools []domain.ToolDescriptor, stats UsageStats) []domain.FallbackSuggestion {
	type scored struct {
		tool  domain.ToolDescriptor
		count int
	}
	scoredTools := make([]scored, 0, len(tools))
	for _, t := range tools {
		scoredTools = append(scoredTools, scored{tool: t, count: stats.UsageCount(t.Name)})
	}
	sort.SliceStable(scoredTools, func(i, j int) bool {
		return scoredTools[i].count > scoredTools[j].count
	})
	n := 3
	if len(scoredTools) < n {
		n = len(scoredTools)
	}
	out := make([]domain.FallbackSuggestion, 0, n)
	for i := 0; i < n; i++ {
		conf := 0.4
		if scoredTools[i].count == 0 {
			conf = 0.3
		}
		out = append(out, domain.FallbackSuggestion{
			ToolName: scoredTools[i].tool.Name, Confidence: conf, Strategy: "popular",
			Reasoning: "frequently used tool",
		})
	}
	return out
}

// recentStrategy returns the top 3 most-recently-used tools at a flat
// confidence of 0.35.
func recentStrategy(tools []domain.ToolDescriptor, stats UsageStats) []domain.FallbackSuggestion {
	valid := make(map[string]bool, len(tools))
	for _, t := range tools {
		valid[t.Name] = true
	}
	out := make([]domain.FallbackSuggestion, 0, 3)
	for _, name := range stats.RecentOrder() {
		if !valid[name] {
			continue
		}
		out = append(out, domain.FallbackSuggestion{
			ToolName: name, Confidence: 0.35, Strategy: "recent",
			Reasoning: "recently used tool",
		})
		if len(out) == 3 {
			break
		}
	}
	return out
}
