// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fallback

import (
	"testing"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

type fakeUsageStats struct {
	counts map[string]int
	recent []string
}

func (f fakeUsageStats) UsageCount(name string) int { return f.counts[name] }
func (f fakeUsageStats) RecentOrder() []string      { return f.recent }

func sampleTools() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{Name: "file_read", Description: "Read content from a file on disk", Enabled: true},
		{Name: "http_request", Description: "Make HTTP requests to a URL", Enabled: true},
		{Name: "db_query", Description: "Run a query against a database table", Enabled: true},
	}
}

func TestExecute_KeywordStrategyFindsRelevantTool(t *testing.T) {
	e := New(DefaultConfig(), nil)
	result := e.Execute("please read a file for me", sampleTools())
	if len(result.Suggestions) == 0 {
		t.Fatal("expected at least one suggestion")
	}
	if result.Suggestions[0].ToolName != "file_read" {
		t.Errorf("expected file_read to lead, got %s", result.Suggestions[0].ToolName)
	}
}

func TestExecute_SuggestionsSortedDescendingByConfidence(t *testing.T) {
	e := New(DefaultConfig(), nil)
	result := e.Execute("search the database for a record", sampleTools())
	for i := 1; i < len(result.Suggestions); i++ {
		if result.Suggestions[i].Confidence > result.Suggestions[i-1].Confidence {
			t.Errorf("suggestions not sorted descending at index %d", i)
		}
	}
}

func TestExecute_Determinism(t *testing.T) {
	stats := fakeUsageStats{counts: map[string]int{"file_read": 5}, recent: []string{"http_request"}}
	e := New(DefaultConfig(), stats)
	r1 := e.Execute("read the file", sampleTools())
	r2 := e.Execute("read the file", sampleTools())
	if len(r1.Suggestions) != len(r2.Suggestions) {
		t.Fatal("expected identical suggestion count across repeated calls")
	}
	for i := range r1.Suggestions {
		if r1.Suggestions[i] != r2.Suggestions[i] {
			t.Errorf("non-deterministic suggestion at index %d: %+v vs %+v", i, r1.Suggestions[i], r2.Suggestions[i])
		}
	}
}

func TestExecute_MaxFallbackSuggestionsTruncates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFallbackSuggestions = 1
	e := New(cfg, nil)
	result := e.Execute("read file http request database query", sampleTools())
	if len(result.Suggestions) > 1 {
		t.Errorf("expected truncation to 1, got %d", len(result.Suggestions))
	}
}

func TestExecute_ReservedToolsNeverSuggested(t *testing.T) {
	tools := append(sampleTools(), domain.ToolDescriptor{Name: "smart_tool_discovery", Description: "discover a file tool", Enabled: true})
	e := New(DefaultConfig(), nil)
	result := e.Execute("read file", tools)
	for _, s := range result.Suggestions {
		if domain.IsReservedTool(s.ToolName) {
			t.Errorf("reserved tool %s must never be suggested", s.ToolName)
		}
	}
}

func TestPopularStrategy_UnusedToolGetsLowerBaseScore(t *testing.T) {
	stats := fakeUsageStats{counts: map[string]int{"file_read": 10, "http_request": 0, "db_query": 0}}
	out := popularStrategy(sampleTools(), stats)
	for _, s := range out {
		if s.ToolName == "file_read" && s.Confidence != 0.4 {
			t.Errorf("expected used tool confidence 0.4, got %v", s.Confidence)
		}
		if s.ToolName != "file_read" && s.Confidence != 0.3 {
			t.Errorf("expected unused tool confidence 0.3, got %v", s.Confidence)
		}
	}
}

func TestLearning_RecordFailureThenGenerateSuggestions(t *testing.T) {
	e := New(DefaultConfig(), nil)
	e.RecordFailure("search academic papers", domain.ErrNoToolsFound)
	e.RecordSuccessfulResolution("search academic papers", "academic_search")

	suggestions := e.GenerateLearnedSuggestions("search academic papers")
	if len(suggestions) == 0 {
		t.Fatal("expected at least one learned suggestion")
	}
	if len(suggestions) > maxLearnedSuggestions {
		t.Errorf("expected at most %d suggestions, got %d", maxLearnedSuggestions, len(suggestions))
	}
}

func TestLearning_SuccessfulResolutionsCappedAtFive(t *testing.T) {
	e := New(DefaultConfig(), nil)
	e.RecordFailure("read a file", domain.ErrNoToolsFound)
	for i := 0; i < 10; i++ {
		e.RecordSuccessfulResolution("read a file", "tool")
	}
	p, ok := e.Pattern("read a file")
	if !ok {
		t.Fatal("expected pattern to exist")
	}
	if len(p.SuccessfulResolutions) > maxSuccessfulResolutions {
		t.Errorf("expected cap of %d, got %d", maxSuccessfulResolutions, len(p.SuccessfulResolutions))
	}
}

func TestDerivePatternKey_StableForSameDomain(t *testing.T) {
	k1 := derivePatternKey("read the file please")
	k2 := derivePatternKey("please read this file")
	if k1 != k2 {
		t.Errorf("expected identical pattern key for same domain requests, got %q vs %q", k1, k2)
	}
}
