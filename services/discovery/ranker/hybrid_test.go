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
	"testing"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

// fakeEmbedder returns a deterministic pseudo-embedding for every text, so
// hybrid-mode tests never make a network call.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return semanticindex.DeterministicEmbedding(text, 16), nil
}

func buildTestIndex(t *testing.T, tools []domain.ToolDescriptor) *semanticindex.Index {
	t.Helper()
	store := embedstore.New(nil)
	idx := semanticindex.New(store, fakeEmbedder{}, semanticindex.Config{
		ModelName:           "test",
		SimilarityThreshold: -1, // accept every candidate regardless of similarity for test determinism
		MaxResults:          len(tools),
		NormalizeEmbeddings: true,
	}, nil)
	if err := idx.Warm(context.Background(), tools); err != nil {
		t.Fatalf("warm: %v", err)
	}
	return idx
}

func TestHybridRank_MaxScoreIsOne(t *testing.T) {
	tools := []domain.ToolDescriptor{
		{Name: "file_read", Description: "Read content from a file"},
		{Name: "http_request", Description: "Make HTTP requests"},
	}
	idx := buildTestIndex(t, tools)

	llm := &fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return `[
			{"tool_name":"file_read","confidence_score":1.0,"reasoning":"perfect fit","constraint_violations":"none","can_fulfill_request":true},
			{"tool_name":"http_request","confidence_score":1.0,"reasoning":"perfect fit","constraint_violations":"none","can_fulfill_request":true}
		]`, nil
	}}

	matches, err := HybridRank(context.Background(), idx, llm, "read file", "", tools, nil, DefaultHybridWeights(), DefaultLLMConfig(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, m := range matches {
		if m.Confidence > 1.0+1e-9 {
			t.Fatalf("hybrid score must never exceed 1.0, got %+v", m)
		}
	}
}

func TestHybridRank_WithoutLLMStillCombinesSemanticAndRule(t *testing.T) {
	tools := []domain.ToolDescriptor{
		{Name: "file_read", Description: "Read content from a file"},
		{Name: "http_request", Description: "Make HTTP requests"},
	}
	idx := buildTestIndex(t, tools)

	matches, err := HybridRank(context.Background(), idx, nil, "read file contents", "", tools, nil, DefaultHybridWeights(), DefaultLLMConfig(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected one match per tool, got %d", len(matches))
	}
}

func TestSelectLLMBuckets_NeverExceedsTotal(t *testing.T) {
	tools := make([]domain.ToolDescriptor, 0, 50)
	order := make([]string, 0, 50)
	combined := make(map[string]float64, 50)
	for i := 0; i < 50; i++ {
		name := "tool_" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		tools = append(tools, domain.ToolDescriptor{Name: name, Description: "a file tool"})
		order = append(order, name)
		combined[name] = float64(i) / 50.0
	}
	out := selectLLMBuckets(tools, order, combined, "read a file", llmBucketTotal)
	if len(out) > llmBucketTotal {
		t.Fatalf("expected at most %d candidates, got %d", llmBucketTotal, len(out))
	}
}
