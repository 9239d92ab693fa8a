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
	"fmt"
	"strings"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// categoryKeywords boosts a rule-based score when both the request and the
// tool's own text mention the same operation vocabulary. Each matching
// category contributes +0.1, capped at +0.3 total.
var categoryKeywords = map[string][]string{
	"read":     {"read", "get", "fetch", "load", "retrieve"},
	"write":    {"write", "save", "store", "put", "create"},
	"search":   {"search", "find", "lookup", "query", "grep"},
	"http":     {"http", "request", "api", "web", "url"},
	"file":     {"file", "document", "path", "directory"},
	"database": {"database", "db", "sql", "query", "table"},
	"ai":       {"ai", "llm", "generate", "chat", "completion"},
	"network":  {"ping", "traceroute", "dns", "network", "connectivity", "latency"},
	"monitor":  {"monitor", "check", "status", "health", "test"},
	"measure":  {"measure", "measurement", "benchmark", "performance", "speed"},
}

// limitationPhrases mark a tool's description as constraining the kinds of
// requests it can fulfill. A major violation (the request clearly falls
// outside the stated limitation) multiplies the score by at most 0.3; a
// minor one (an ambiguous overlap) is penalized less harshly.
var limitationPhrases = []string{
	"limited to", "only supports", "read-only", "read only",
	"academic papers only", "us data only", "requires admin",
	"not supported", "excludes",
}

const (
	exactNameBonus      = 0.8
	nameWordWeight      = 0.6
	descriptionWeight   = 0.4
	categoryBoostUnit   = 0.1
	categoryBoostCap    = 0.3
	maxContextBonus     = 0.2
	majorViolationCap   = 0.3
	minorViolationScale = 0.7
)

// RuleScore computes the additive, deterministic rule-based relevance score
// for one tool against a request, per the components described below:
//
//   - An exact tool-name match (case-insensitive, substring either direction)
//     scores 0.8 outright.
//   - Otherwise, the fraction of the request's significant words found in
//     the tool name contributes up to 0.6.
//   - The fraction of the request's significant words found in the tool
//     description contributes up to 0.4.
//   - Shared category vocabulary between request and tool text adds 0.1 per
//     matching category, capped at 0.3.
//   - Additional context text overlapping the tool's text adds up to 0.2.
//   - A detected constraint violation in the tool's description multiplies
//     the accumulated score down, reflecting reduced confidence.
//
// The result is clamped to [0, 1].
func RuleScore(request, context string, tool domain.ToolDescriptor) domain.ToolMatch {
	reqLower := strings.ToLower(request)
	nameLower := strings.ToLower(tool.Name)
	reqWords := significantWords(reqLower)

	var score float64
	var reasons []string

	if strings.Contains(reqLower, nameLower) || strings.Contains(nameLower, reqLower) {
		score += exactNameBonus
		reasons = append(reasons, "exact name match")
	} else if len(reqWords) > 0 {
		matched := countMatches(reqWords, nameLower)
		frac := float64(matched) / float64(len(reqWords))
		if frac > 0 {
			score += frac * nameWordWeight
			reasons = append(reasons, fmt.Sprintf("%d/%d request words matched the name", matched, len(reqWords)))
		}
	}

	descLower := strings.ToLower(tool.Description)
	if len(reqWords) > 0 {
		matched := countMatches(reqWords, descLower)
		frac := float64(matched) / float64(len(reqWords))
		if frac > 0 {
			score += frac * descriptionWeight
			reasons = append(reasons, fmt.Sprintf("%d/%d request words matched the description", matched, len(reqWords)))
		}
	}

	toolText := nameLower + " " + descLower
	var categoryBoost float64
	for cat, words := range categoryKeywords {
		if containsAny(reqLower, words) && containsAny(toolText, words) {
			categoryBoost += categoryBoostUnit
			reasons = append(reasons, fmt.Sprintf("shared %s vocabulary", cat))
		}
	}
	if categoryBoost > categoryBoostCap {
		categoryBoost = categoryBoostCap
	}
	score += categoryBoost

	if context != "" {
		ctxLower := strings.ToLower(context)
		ctxWords := significantWords(ctxLower)
		if len(ctxWords) > 0 {
			matched := countMatches(ctxWords, toolText)
			frac := float64(matched) / float64(len(ctxWords))
			contextBonus := frac * maxContextBonus
			if contextBonus > maxContextBonus {
				contextBonus = maxContextBonus
			}
			score += contextBonus
			if contextBonus > 0 {
				reasons = append(reasons, "context overlap")
			}
		}
	}

	violation, major := detectConstraintViolation(reqLower, tool.Description)
	if violation {
		if major {
			score *= majorViolationCap
			reasons = append(reasons, "major constraint violation detected")
		} else {
			score *= minorViolationScale
			reasons = append(reasons, "possible constraint violation detected")
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}

	reasoning := "no overlap found"
	if len(reasons) > 0 {
		reasoning = strings.Join(reasons, "; ")
	}

	return domain.ToolMatch{
		ToolName:   tool.Name,
		Confidence: score,
		Reasoning:  reasoning,
	}
}

// fuzzyBoostWeight bounds how much the BM25 lexical-relevance signal can
// add to a rule-based score when fuzzy matching is enabled. It is layered
// on top of (never instead of) the additive bonuses above.
const fuzzyBoostWeight = 0.15

// RuleRankAll scores every tool in tools against request/context using
// RuleScore, optionally blending in a BM25 lexical-relevance signal (built
// once over the whole catalog) as a fuzzy-matching boost when useFuzzy is
// true.
func RuleRankAll(tools []domain.ToolDescriptor, request, context string, useFuzzy bool) []domain.ToolMatch {
	var bm25Scores map[string]float64
	if useFuzzy {
		idx := BuildBM25Index(tools)
		if !idx.IsEmpty() {
			bm25Scores = idx.Score(request)
		}
	}

	out := make([]domain.ToolMatch, 0, len(tools))
	for _, t := range tools {
		m := RuleScore(request, context, t)
		// A detected constraint violation caps the score; the lexical
		// boost must not undo that.
		if boost, ok := bm25Scores[t.Name]; ok && boost > 0 && !strings.Contains(m.Reasoning, "constraint violation") {
			m.Confidence += boost * fuzzyBoostWeight
			if m.Confidence > 1.0 {
				m.Confidence = 1.0
			}
			m.Reasoning += "; fuzzy lexical match (BM25)"
		}
		out = append(out, m)
	}
	return out
}

// detectConstraintViolation scans a tool's description for limitation
// phrases and reports whether the request appears to run afoul of one.
// "read-only"/"read only", "academic papers only" and "us data only" give
// a major violation, and only when the request's vocabulary conflicts with
// that scope (a write verb, no academic term, a non-US region); otherwise
// those phrases are skipped. Any other limitation phrase present in the
// description gives a minor violation whatever the request says.
func detectConstraintViolation(reqLower, description string) (violated bool, major bool) {
	descLower := strings.ToLower(description)
	for _, phrase := range limitationPhrases {
		if !strings.Contains(descLower, phrase) {
			continue
		}
		switch phrase {
		case "read-only", "read only":
			if containsAny(reqLower, []string{"write", "update", "delete", "modify", "create"}) {
				return true, true
			}
			continue
		case "academic papers only":
			if !containsAny(reqLower, []string{"academic", "paper", "research", "journal"}) {
				return true, true
			}
			continue
		case "us data only":
			if containsAny(reqLower, []string{"europe", "eu", "asia", "global", "international"}) {
				return true, true
			}
			continue
		default:
			return true, false
		}
	}
	return false, false
}

// significantWords drops words shorter than three characters ("to", "a",
// "the") and common noise words before any word-overlap scoring.
func significantWords(s string) []string {
	raw := wordSplit.Split(s, -1)
	out := make([]string, 0, len(raw))
	for _, w := range raw {
		if len(w) < 3 || noiseWords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func countMatches(words []string, haystack string) int {
	count := 0
	for _, w := range words {
		if strings.Contains(haystack, w) {
			count++
		}
	}
	return count
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
