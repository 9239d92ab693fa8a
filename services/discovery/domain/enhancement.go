// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import "time"

// EnhancementSource records how an enhanced tool description came to be.
type EnhancementSource string

const (
	EnhancementBase           EnhancementSource = "base"
	EnhancementLLMDescription EnhancementSource = "llm_description"
	EnhancementElicitation    EnhancementSource = "elicitation"
	EnhancementBoth           EnhancementSource = "both"
	EnhancementManual         EnhancementSource = "manual"
)

// ElicitationMetadata is structured matching metadata collected alongside
// an enhanced description: extra keywords and categories for rule-based
// matching, usage patterns, and per-parameter help/examples the
// clarification flow can draw on.
type ElicitationMetadata struct {
	EnhancedKeywords   []string            `json:"enhanced_keywords,omitempty"`
	EnhancedCategories []string            `json:"enhanced_categories,omitempty"`
	UsagePatterns      []string            `json:"usage_patterns,omitempty"`
	ParameterHelp      map[string]string   `json:"parameter_help,omitempty"`
	ParameterExamples  map[string][]any    `json:"parameter_examples,omitempty"`
}

// EnhancementGenerationMetadata describes how an enhancement was produced.
type EnhancementGenerationMetadata struct {
	LLMModel         string     `json:"llm_model,omitempty"`
	LLMConfidence    *float64   `json:"llm_confidence,omitempty"`
	RequiredReview   bool       `json:"required_review"`
	ApprovedBy       string     `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`
	GenerationTimeMS int64      `json:"generation_time_ms,omitempty"`
}

// EnhancedToolDefinition extends a base tool descriptor with an optional
// LLM-generated description and elicitation metadata. When present, the
// enhanced description replaces the base description everywhere ranking
// text matters: embedding generation, content hashing, and the ranker's
// candidate snapshot.
type EnhancedToolDefinition struct {
	Base                   ToolDescriptor                 `json:"base"`
	LLMEnhancedDescription string                         `json:"llm_enhanced_description,omitempty"`
	Elicitation            *ElicitationMetadata           `json:"elicitation_metadata,omitempty"`
	Source                 EnhancementSource              `json:"enhancement_source"`
	EnhancedAt             *time.Time                     `json:"enhanced_at,omitempty"`
	Approved               bool                           `json:"approved"`
	Generation             *EnhancementGenerationMetadata `json:"enhancement_metadata,omitempty"`
}

// NewEnhancedFromBase wraps a base descriptor with no enhancements yet.
// Base tools are always approved.
func NewEnhancedFromBase(base ToolDescriptor) EnhancedToolDefinition {
	return EnhancedToolDefinition{Base: base, Source: EnhancementBase, Approved: true}
}

// EffectiveDescription returns the enhanced description when one exists,
// otherwise the base description.
func (e *EnhancedToolDefinition) EffectiveDescription() string {
	if e.LLMEnhancedDescription != "" {
		return e.LLMEnhancedDescription
	}
	return e.Base.Description
}

// EffectiveKeywords returns the tool name plus any elicitation-enhanced
// keywords, for rule-based matching.
func (e *EnhancedToolDefinition) EffectiveKeywords() []string {
	keywords := []string{e.Base.Name}
	if e.Elicitation != nil {
		keywords = append(keywords, e.Elicitation.EnhancedKeywords...)
	}
	return keywords
}

// IsEnhanced reports whether any enhancement has been applied.
func (e *EnhancedToolDefinition) IsEnhanced() bool {
	return e.Source != EnhancementBase
}

// EnhancementStore is the persistence contract for enhanced tool
// descriptions. The embedding manager and discovery service consume it to
// substitute enhanced descriptions for base ones; nil means base
// descriptions only.
type EnhancementStore interface {
	// LoadAllEnhancedTools returns the latest stored enhancement per tool.
	LoadAllEnhancedTools() (map[string]EnhancedToolDefinition, error)
}

// ApplyEnhancements overlays enhanced descriptions onto a base descriptor
// list: a tool with an approved, non-empty enhanced description gets that
// description in place of its base one. Tools without a stored
// enhancement pass through unchanged. The input slice is not mutated.
func ApplyEnhancements(tools []ToolDescriptor, enhanced map[string]EnhancedToolDefinition) []ToolDescriptor {
	if len(enhanced) == 0 {
		return tools
	}
	out := make([]ToolDescriptor, len(tools))
	copy(out, tools)
	for i := range out {
		e, ok := enhanced[out[i].Name]
		if !ok || !e.Approved {
			continue
		}
		if desc := e.EffectiveDescription(); desc != "" {
			out[i].Description = desc
		}
	}
	return out
}
