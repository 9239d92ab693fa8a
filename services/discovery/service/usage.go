// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import "sync"

// maxRecentTools bounds the recency list the fallback engine consults.
const maxRecentTools = 50

// usageTracker counts per-tool selections and keeps a most-recently-used
// ordering. It satisfies fallback.UsageStats so the Popular and Recent
// strategies see the live counters from this service instance.
type usageTracker struct {
	mu     sync.Mutex
	counts map[string]int
	recent []string // most-recently-used first
}

func newUsageTracker() *usageTracker {
	return &usageTracker{counts: make(map[string]int)}
}

// RecordUsage bumps the tool's counter and moves it to the front of the
// recency list.
func (u *usageTracker) RecordUsage(toolName string) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.counts[toolName]++

	for i, name := range u.recent {
		if name == toolName {
			u.recent = append(u.recent[:i], u.recent[i+1:]...)
			break
		}
	}
	u.recent = append([]string{toolName}, u.recent...)
	if len(u.recent) > maxRecentTools {
		u.recent = u.recent[:maxRecentTools]
	}
}

// UsageCount returns how many times toolName was selected.
func (u *usageTracker) UsageCount(toolName string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[toolName]
}

// RecentOrder returns a copy of the recency list, most recent first.
func (u *usageTracker) RecentOrder() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.recent))
	copy(out, u.recent)
	return out
}
