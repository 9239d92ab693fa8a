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
	"sort"
	"strings"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

const (
	maxSuccessfulResolutions = 5
	maxLearnedSuggestions    = 3
)

// domainKeywords mirrors the category taxonomy's vocabulary so the derived
// pattern key reflects the request's domain rather than its literal text.
var domainKeywords = categoryTaxonomy

// derivePatternKey builds the FailurePattern key by concatenating the
// detected domain keywords from the request, sorted for stability.
func derivePatternKey(request string) string {
	reqLower := strings.ToLower(request)
	var hits []string
	for cat, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(reqLower, w) {
				hits = append(hits, cat)
				break
			}
		}
	}
	if len(hits) == 0 {
		return "general"
	}
	sort.Strings(hits)
	return strings.Join(hits, "+")
}

// RecordFailure updates the FailurePattern keyed by request's derived
// pattern, adding category to the set of observed error categories.
func (e *Engine) RecordFailure(request string, category domain.ErrorCategory) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := derivePatternKey(request)
	p, ok := e.patterns[key]
	if !ok {
		p = &domain.FailurePattern{Key: key, ErrorCategories: make(map[domain.ErrorCategory]bool)}
		e.patterns[key] = p
	}
	p.Count++
	p.ErrorCategories[category] = true
}

// RecordSuccessfulResolution appends toolName to the pattern's resolution
// history (capped at 5, oldest dropped first), conditioned on request
// having previously failed under the same derived pattern.
func (e *Engine) RecordSuccessfulResolution(request, toolName string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := derivePatternKey(request)
	p, ok := e.patterns[key]
	if !ok {
		return
	}
	p.SuccessfulResolutions = append(p.SuccessfulResolutions, toolName)
	if len(p.SuccessfulResolutions) > maxSuccessfulResolutions {
		p.SuccessfulResolutions = p.SuccessfulResolutions[len(p.SuccessfulResolutions)-maxSuccessfulResolutions:]
	}
}

// GenerateLearnedSuggestions returns up to 3 free-form hints conditioned on
// the pattern for request and the error categories seen so far.
func (e *Engine) GenerateLearnedSuggestions(request string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	key := derivePatternKey(request)
	p, ok := e.patterns[key]
	if !ok {
		return nil
	}

	var suggestions []string
	if len(p.SuccessfulResolutions) > 0 {
		suggestions = append(suggestions, "similar requests were previously resolved with: "+strings.Join(uniqueTail(p.SuccessfulResolutions, 3), ", "))
	}
	if p.ErrorCategories[domain.ErrNoToolsFound] {
		suggestions = append(suggestions, "no tool matched this domain ("+key+"); consider rephrasing with a more specific action verb")
	}
	if p.ErrorCategories[domain.ErrParameterExtractionFailed] {
		suggestions = append(suggestions, "parameter extraction has failed here before; try including explicit values (file paths, URLs) in the request")
	}
	if p.ErrorCategories[domain.ErrConstraintViolation] {
		suggestions = append(suggestions, "a tool constraint was violated previously for this kind of request; check the tool's stated limitations")
	}

	if len(suggestions) > maxLearnedSuggestions {
		suggestions = suggestions[:maxLearnedSuggestions]
	}
	p.LearnedSuggestions = suggestions
	return suggestions
}

func uniqueTail(items []string, n int) []string {
	seen := make(map[string]bool)
	var out []string
	for i := len(items) - 1; i >= 0 && len(out) < n; i-- {
		if !seen[items[i]] {
			seen[items[i]] = true
			out = append(out, items[i])
		}
	}
	return out
}

// Pattern returns a copy of the failure pattern for key, if any, for
// inspection/testing.
func (e *Engine) Pattern(request string) (domain.FailurePattern, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := derivePatternKey(request)
	p, ok := e.patterns[key]
	if !ok {
		return domain.FailurePattern{}, false
	}
	return *p, true
}
