// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ranker implements the four tool-selection modes: rule-based,
// semantic, LLM-based, and hybrid. Every mode consumes the same
// (request, tools) -> []ToolMatch contract, dispatched by Mode rather than
// by subclassing, per the design note on polymorphism over selection
// modes.
package ranker

import (
	"context"
	"fmt"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

var tracer = otel.Tracer("discovery.ranker")

var rankModeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "discovery_ranker_mode_total",
	Help: "Rank invocations by selection mode.",
}, []string{"mode"})

// Mode selects which of the four selection strategies Rank dispatches to.
type Mode string

const (
	ModeRule     Mode = "rule_based"
	ModeSemantic Mode = "semantic_based"
	ModeLLM      Mode = "llm_based"
	ModeHybrid   Mode = "hybrid"
)

// Config bundles every tunable the four modes need. Fields irrelevant to
// the active Mode are simply ignored.
type Config struct {
	Mode               Mode          `yaml:"mode" validate:"oneof=rule_based semantic_based llm_based hybrid"`
	MaxToolsToConsider int           `yaml:"max_tools_to_consider" validate:"gt=0"`
	UseFuzzyMatching   bool          `yaml:"use_fuzzy_matching"`
	SemanticMaxResults int           `yaml:"semantic_max_results" validate:"gte=0"`
	LLM                LLMConfig     `yaml:"llm"`
	HybridWeights      HybridWeights `yaml:"hybrid_weights"`
}

// DefaultConfig returns the programmatic default ranker configuration.
func DefaultConfig() Config {
	return Config{
		Mode:               ModeHybrid,
		MaxToolsToConsider: 20,
		UseFuzzyMatching:   true,
		SemanticMaxResults: 20,
		LLM:                DefaultLLMConfig(),
		HybridWeights:      DefaultHybridWeights(),
	}
}

// Deps carries the external collaborators a subset of modes need; either
// may be nil for modes that don't use them (ModeRule needs neither).
type Deps struct {
	Index *semanticindex.Index
	LLM   domain.LLMClient
}

// Rank produces the full ranked candidate list for request against tools,
// per the active mode in cfg. Reserved discovery tool names are always
// filtered first. Preferred tools are evaluated in the same pass as every
// other candidate (ModeRule/ModeSemantic naturally include them; a
// preferred tool semantic search did not surface is appended by
// semanticRank with a rule-based score so a caller's explicit preference
// is never silently dropped). The returned list is sorted non-increasing
// by confidence and truncated to cfg.MaxToolsToConsider; MeetsThreshold is
// computed against effectiveThreshold for every entry.
func Rank(ctx context.Context, cfg Config, deps Deps, request, reqContext string, tools []domain.ToolDescriptor, preferred []string, effectiveThreshold float64) ([]domain.ToolMatch, error) {
	ctx, span := tracer.Start(ctx, "ranker.Rank")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(cfg.Mode)),
		attribute.Int("tool_count", len(tools)),
	)
	rankModeTotal.WithLabelValues(string(cfg.Mode)).Inc()

	filtered := make([]domain.ToolDescriptor, 0, len(tools))
	for _, t := range tools {
		if domain.IsReservedTool(t.Name) {
			continue
		}
		filtered = append(filtered, t)
	}

	var matches []domain.ToolMatch
	var err error

	switch cfg.Mode {
	case ModeRule:
		matches = RuleRankAll(filtered, request, reqContext, cfg.UseFuzzyMatching)
	case ModeSemantic:
		if deps.Index == nil {
			return nil, fmt.Errorf("ranker: semantic mode requires a semantic index")
		}
		matches, err = semanticRank(ctx, deps.Index, request, filtered, preferred, cfg.SemanticMaxResults)
	case ModeLLM:
		if deps.LLM == nil {
			return nil, fmt.Errorf("ranker: llm mode requires an LLM client")
		}
		matches, err = LLMRank(ctx, deps.LLM, request, reqContext, filtered, cfg.LLM)
	case ModeHybrid:
		matches, err = HybridRank(ctx, deps.Index, deps.LLM, request, reqContext, filtered, preferred, cfg.HybridWeights, cfg.LLM, cfg.UseFuzzyMatching)
	default:
		return nil, fmt.Errorf("ranker: unknown selection mode %q", cfg.Mode)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches = dedupeKeepMax(matches)
	for i := range matches {
		matches[i].MeetsThreshold = matches[i].Confidence >= effectiveThreshold
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})

	if cfg.MaxToolsToConsider > 0 && len(matches) > cfg.MaxToolsToConsider {
		matches = matches[:cfg.MaxToolsToConsider]
	}
	return matches, nil
}

// dedupeKeepMax merges duplicate tool-name entries a mode may have
// produced (e.g. a preferred tool scored once by the primary method and
// once by the preferred-tool fallback), keeping the higher confidence and
// the insertion order of first appearance.
func dedupeKeepMax(matches []domain.ToolMatch) []domain.ToolMatch {
	if len(matches) == 0 {
		return matches
	}
	byName := make(map[string]int, len(matches))
	out := make([]domain.ToolMatch, 0, len(matches))
	for _, m := range matches {
		if idx, ok := byName[m.ToolName]; ok {
			if m.Confidence > out[idx].Confidence {
				out[idx] = m
			}
			continue
		}
		byName[m.ToolName] = len(out)
		out = append(out, m)
	}
	return out
}

// Select picks the best candidate from a ranked list: the first
// entry with MeetsThreshold=true; if none qualifies, the top-confidence
// entry is returned with ok=false so the caller knows to treat it as a
// below-threshold selection. An empty list returns ok=false and a zero
// ToolMatch.
func Select(matches []domain.ToolMatch) (domain.ToolMatch, bool) {
	if len(matches) == 0 {
		return domain.ToolMatch{}, false
	}
	for _, m := range matches {
		if m.MeetsThreshold {
			return m, true
		}
	}
	return matches[0], false
}
