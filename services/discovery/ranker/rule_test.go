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
	"testing"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

func TestRuleScore_ExactNameMatch(t *testing.T) {
	tool := domain.ToolDescriptor{Name: "file_read", Description: "Read content from a file"}
	m := RuleScore("file_read", "", tool)
	if m.Confidence < 0.7 {
		t.Fatalf("expected confidence >= 0.7 for a name match, got %f", m.Confidence)
	}
}

func TestRuleScore_NoOverlap(t *testing.T) {
	tool := domain.ToolDescriptor{Name: "xyz_tool", Description: "completely unrelated widget"}
	m := RuleScore("quantum flux capacitor adjustment", "", tool)
	if m.Confidence != 0 {
		t.Fatalf("expected zero confidence for no overlap, got %f", m.Confidence)
	}
}

func TestRuleScore_ConstraintViolation(t *testing.T) {
	tool := domain.ToolDescriptor{Name: "academic_search", Description: "Search academic papers only"}
	m := RuleScore("search for cookie recipes", "", tool)
	if m.Confidence > 0.3 {
		t.Fatalf("expected a heavily penalized score for a constraint violation, got %f", m.Confidence)
	}
}

func TestRuleScore_ClampedToUnitRange(t *testing.T) {
	tool := domain.ToolDescriptor{Name: "http request", Description: "Make HTTP requests to a url endpoint api rest web"}
	m := RuleScore("http request api url endpoint rest web request http", "http request api", tool)
	if m.Confidence > 1.0 {
		t.Fatalf("confidence must be clamped to 1.0, got %f", m.Confidence)
	}
}

func TestRuleRankAll_FuzzyBoostNeverExceedsOne(t *testing.T) {
	tools := []domain.ToolDescriptor{
		{Name: "http_request", Description: "Make HTTP requests"},
		{Name: "file_read", Description: "Read content from a file"},
	}
	matches := RuleRankAll(tools, "make an http request to an api endpoint", "", true)
	for _, m := range matches {
		if m.Confidence > 1.0 || m.Confidence < 0 {
			t.Fatalf("confidence out of [0,1] range: %+v", m)
		}
	}
}
