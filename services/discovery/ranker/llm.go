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
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// LLMConfig tunes the LLM-based selection mode.
type LLMConfig struct {
	Model                 string  `yaml:"model"`
	Temperature           float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens             int     `yaml:"max_tokens" validate:"gte=0"`
	BatchSize             int     `yaml:"batch_size" validate:"gt=0"`
	MaxContextTokens      int     `yaml:"max_context_tokens" validate:"gte=0"`
	MaxHighQualityMatches int     `yaml:"max_high_quality_matches" validate:"gte=0"`
	HighQualityThreshold  float64 `yaml:"high_quality_threshold" validate:"gte=0,lte=1"`
	ParallelBatches       int     `yaml:"parallel_batches" validate:"gt=0"`
}

// DefaultLLMConfig returns the programmatic default.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:                 "gpt-4o-mini",
		Temperature:           0.1,
		MaxTokens:             1024,
		BatchSize:             8,
		MaxContextTokens:      4000,
		MaxHighQualityMatches: 5,
		HighQualityThreshold:  0.85,
		ParallelBatches:       3,
	}
}

// llmCandidateJudgment is one tool's entry in an LLM batch-evaluation
// response.
type llmCandidateJudgment struct {
	ToolName             string  `json:"tool_name"`
	ConfidenceScore      float64 `json:"confidence_score"`
	Reasoning            string  `json:"reasoning"`
	ConstraintViolations string  `json:"constraint_violations"` // none, minor, major
	CanFulfillRequest    bool    `json:"can_fulfill_request"`
}

// LLMRank batches tools into groups of cfg.BatchSize, asks the LLM to
// judge each tool's fitness for request/context with an explicit
// constraint-violation classification, and adjusts the declared confidence
// down when a violation is reported. Batches run concurrently (bounded by
// cfg.ParallelBatches) and every batch is sent to the LLM. Results are
// collected in batch order; once cfg.MaxHighQualityMatches candidates have
// scored at or above cfg.HighQualityThreshold, the results of the batches
// after that one are dropped. Evaluation itself does not stop early.
func LLMRank(ctx context.Context, llmClient domain.LLMClient, request, reqContext string, tools []domain.ToolDescriptor, cfg LLMConfig) ([]domain.ToolMatch, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(tools)
	}

	var batches [][]domain.ToolDescriptor
	for i := 0; i < len(tools); i += batchSize {
		end := i + batchSize
		if end > len(tools) {
			end = len(tools)
		}
		batches = append(batches, tools[i:end])
	}

	parallel := cfg.ParallelBatches
	if parallel <= 0 {
		parallel = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	results := make([][]domain.ToolMatch, len(batches))
	for i, batch := range batches {
		i, batch := i, batch
		g.Go(func() error {
			matches, err := judgeBatch(gctx, llmClient, request, reqContext, batch, cfg)
			if err != nil {
				return fmt.Errorf("ranker: llm batch %d: %w", i, err)
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.ToolMatch
	highQuality := 0
	for _, batch := range results {
		for _, m := range batch {
			out = append(out, m)
			if m.Confidence >= cfg.HighQualityThreshold {
				highQuality++
			}
		}
		if cfg.MaxHighQualityMatches > 0 && highQuality >= cfg.MaxHighQualityMatches {
			break
		}
	}
	return out, nil
}

func judgeBatch(ctx context.Context, llmClient domain.LLMClient, request, reqContext string, batch []domain.ToolDescriptor, cfg LLMConfig) ([]domain.ToolMatch, error) {
	prompt := buildBatchPrompt(request, reqContext, batch)
	raw, err := llmClient.CallLLM(ctx, prompt, domain.LLMCallOptions{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	judgments, err := parseJudgments(raw)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]domain.ToolDescriptor, len(batch))
	for _, t := range batch {
		byName[t.Name] = t
	}

	out := make([]domain.ToolMatch, 0, len(judgments))
	for _, j := range judgments {
		if _, ok := byName[j.ToolName]; !ok {
			continue // the model hallucinated a tool name outside this batch
		}
		confidence := clamp01(j.ConfidenceScore)
		reasoning := j.Reasoning
		switch strings.ToLower(j.ConstraintViolations) {
		case "major":
			if !j.CanFulfillRequest {
				confidence *= 0.3
				reasoning += " (major constraint violation)"
			}
		case "minor":
			if !j.CanFulfillRequest {
				confidence *= 0.7
				reasoning += " (minor constraint violation)"
			}
		}
		out = append(out, domain.ToolMatch{
			ToolName:   j.ToolName,
			Confidence: clamp01(confidence),
			Reasoning:  reasoning,
		})
	}
	return out, nil
}

func buildBatchPrompt(request, reqContext string, batch []domain.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You evaluate candidate tools for a user request and score how well each fits.\n\n")
	fmt.Fprintf(&b, "User request: %s\n", request)
	if reqContext != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", reqContext)
	}
	b.WriteString("\nCandidate tools:\n")
	for _, t := range batch {
		fmt.Fprintf(&b, "- name: %s\n  description: %s\n", t.Name, t.Description)
	}
	b.WriteString("\nFor each tool, judge whether its description's stated limitations conflict with the request.\n")
	b.WriteString("Respond with a JSON array, one object per tool, each with exactly these fields:\n")
	b.WriteString(`  tool_name (string), confidence_score (0 to 1), reasoning (string), ` +
		"constraint_violations (one of \"none\", \"minor\", \"major\"), can_fulfill_request (boolean).\n")
	b.WriteString("Respond with the JSON array and nothing else.\n")
	return b.String()
}

func parseJudgments(raw string) ([]llmCandidateJudgment, error) {
	cleaned := stripMarkdownFences(raw)
	var out []llmCandidateJudgment
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, fmt.Errorf("parse llm ranking response: %w", err)
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
