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
	"fmt"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

// semanticRank delegates to the embedding index and converts its matches
// into ToolMatch values. Preferred tools the index did not surface are
// appended with a rule-based score so an explicit caller preference is
// never silently dropped.
func semanticRank(ctx context.Context, index *semanticindex.Index, request string, tools []domain.ToolDescriptor, preferred []string, maxResults int) ([]domain.ToolMatch, error) {
	byName := make(map[string]domain.ToolDescriptor, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}

	matches, err := index.SearchSimilar(ctx, request, maxResults)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}

	seen := make(map[string]bool, len(matches))
	out := make([]domain.ToolMatch, 0, len(matches))
	for _, m := range matches {
		seen[m.ToolName] = true
		out = append(out, domain.ToolMatch{
			ToolName:   m.ToolName,
			Confidence: m.Similarity,
			Reasoning:  "semantic similarity to request embedding",
		})
	}

	for _, name := range preferred {
		if seen[name] {
			continue
		}
		tool, ok := byName[name]
		if !ok {
			continue
		}
		out = append(out, RuleScore(request, "", tool))
	}

	return out, nil
}
