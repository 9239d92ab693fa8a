// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the TTL and size-bounded eviction cache shared
// by tool-match lists, LLM extractions, and registry snapshots. A cache
// hit must always be semantically equivalent to recomputing; callers may
// treat a miss (for any reason) as the only fallback path they need.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

var (
	cacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_cache_hits_total",
		Help: "Cache hits by map name.",
	}, []string{"map"})

	cacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_cache_misses_total",
		Help: "Cache misses by map name.",
	}, []string{"map"})

	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_cache_evictions_total",
		Help: "Entries evicted by map name.",
	}, []string{"map"})
)

// entry is the internal, type-erased storage cell for one cache slot.
type entry struct {
	value     any
	createdAt time.Time
	expiresAt time.Time
	hitCount  uint64
}

func (e *entry) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// namedMap is one of the three logical maps (tool_matches, llm_extractions,
// registry_snapshot), each with its own TTL and max size.
type namedMap struct {
	name    string
	mu      sync.Mutex
	entries map[string]*entry
	ttl     time.Duration
	maxSize int
	hits    uint64
	misses  uint64
}

func newNamedMap(name string, ttl time.Duration, maxSize int) *namedMap {
	return &namedMap{
		name:    name,
		entries: make(map[string]*entry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// get returns the stored value, or ok=false if missing or expired.
// Expired entries are removed lazily on access.
func (m *namedMap) get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, found := m.entries[key]
	now := time.Now()
	if !found || e.expired(now) {
		if found {
			delete(m.entries, key)
		}
		m.misses++
		cacheMissesTotal.WithLabelValues(m.name).Inc()
		return nil, false
	}
	e.hitCount++
	m.hits++
	cacheHitsTotal.WithLabelValues(m.name).Inc()
	return e.value, true
}

// store inserts value under key, evicting the oldest 25% by CreatedAt if
// the map would otherwise exceed maxSize.
func (m *namedMap) store(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if _, exists := m.entries[key]; !exists && m.maxSize > 0 && len(m.entries) >= m.maxSize {
		m.evictOldestLocked()
	}
	m.entries[key] = &entry{
		value:     value,
		createdAt: now,
		expiresAt: now.Add(m.ttl),
	}
}

// evictOldestLocked removes floor(size/4) oldest entries by CreatedAt.
// Caller must hold m.mu.
func (m *namedMap) evictOldestLocked() {
	n := len(m.entries) / 4
	if n == 0 {
		n = 1
	}
	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.entries[keys[i]].createdAt.Before(m.entries[keys[j]].createdAt)
	})
	for i := 0; i < n && i < len(keys); i++ {
		delete(m.entries, keys[i])
	}
	cacheEvictionsTotal.WithLabelValues(m.name).Add(float64(n))
}

func (m *namedMap) clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
}

func (m *namedMap) stats() (hits, misses uint64, size int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits, m.misses, len(m.entries)
}

// Config configures the three logical maps' TTLs and size bounds.
type Config struct {
	Enabled bool `yaml:"enabled"`

	ToolMatchesTTL     time.Duration `yaml:"tool_matches_ttl"`
	ToolMatchesMaxSize int           `yaml:"tool_matches_max_size"`

	LLMExtractionsTTL     time.Duration `yaml:"llm_extractions_ttl"`
	LLMExtractionsMaxSize int           `yaml:"llm_extractions_max_size"`

	RegistrySnapshotTTL     time.Duration `yaml:"registry_snapshot_ttl"`
	RegistrySnapshotMaxSize int           `yaml:"registry_snapshot_max_size"`
}

// DefaultConfig returns the programmatic default cache configuration:
// ranked lists for 5 minutes (up to 1000), extractions for 10 minutes (up
// to 500), and the registry snapshot for 1 minute.
func DefaultConfig() Config {
	return Config{
		Enabled:                 true,
		ToolMatchesTTL:          5 * time.Minute,
		ToolMatchesMaxSize:      1000,
		LLMExtractionsTTL:       10 * time.Minute,
		LLMExtractionsMaxSize:   500,
		RegistrySnapshotTTL:     time.Minute,
		RegistrySnapshotMaxSize: 1,
	}
}

// Cache is the discovery service's three-map cache.
type Cache struct {
	cfg              Config
	toolMatches      *namedMap
	llmExtractions   *namedMap
	registrySnapshot *namedMap
}

// New constructs a Cache from cfg.
func New(cfg Config) *Cache {
	return &Cache{
		cfg:              cfg,
		toolMatches:      newNamedMap("tool_matches", cfg.ToolMatchesTTL, cfg.ToolMatchesMaxSize),
		llmExtractions:   newNamedMap("llm_extractions", cfg.LLMExtractionsTTL, cfg.LLMExtractionsMaxSize),
		registrySnapshot: newNamedMap("registry_snapshot", cfg.RegistrySnapshotTTL, cfg.RegistrySnapshotMaxSize),
	}
}

// ToolMatchesKey builds the canonical key for the tool_matches map.
func ToolMatchesKey(request, context, thresholdTwoDP, selectionMode string) string {
	return request + "\x1f" + context + "\x1f" + thresholdTwoDP + "\x1f" + selectionMode
}

// LLMExtractionKey builds the canonical key for the llm_extractions map.
// schemaHash must be derived from the canonical serialization of the
// tool's input schema so that a schema change invalidates prior
// extractions even under an identical textual request.
func LLMExtractionKey(request, toolName, schemaHash string) string {
	return request + "\x1f" + toolName + "\x1f" + schemaHash
}

const registrySnapshotKey = "singleton"

// GetToolMatches returns a cached ranked list, if present and unexpired.
func (c *Cache) GetToolMatches(key string) ([]domain.ToolMatch, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	v, ok := c.toolMatches.get(key)
	if !ok {
		return nil, false
	}
	return v.([]domain.ToolMatch), true
}

// StoreToolMatches caches a ranked list under key.
func (c *Cache) StoreToolMatches(key string, matches []domain.ToolMatch) {
	if !c.cfg.Enabled {
		return
	}
	c.toolMatches.store(key, matches)
}

// GetLLMExtraction returns a cached extraction, if present and unexpired.
func (c *Cache) GetLLMExtraction(key string) (domain.ParameterExtraction, bool) {
	if !c.cfg.Enabled {
		return domain.ParameterExtraction{}, false
	}
	v, ok := c.llmExtractions.get(key)
	if !ok {
		return domain.ParameterExtraction{}, false
	}
	return v.(domain.ParameterExtraction), true
}

// StoreLLMExtraction caches an extraction result under key.
func (c *Cache) StoreLLMExtraction(key string, extraction domain.ParameterExtraction) {
	if !c.cfg.Enabled {
		return
	}
	c.llmExtractions.store(key, extraction)
}

// GetRegistrySnapshot returns the cached registry snapshot, if present.
func (c *Cache) GetRegistrySnapshot() ([]domain.ToolDescriptor, bool) {
	if !c.cfg.Enabled {
		return nil, false
	}
	v, ok := c.registrySnapshot.get(registrySnapshotKey)
	if !ok {
		return nil, false
	}
	return v.([]domain.ToolDescriptor), true
}

// StoreRegistrySnapshot caches the singleton registry snapshot.
func (c *Cache) StoreRegistrySnapshot(tools []domain.ToolDescriptor) {
	if !c.cfg.Enabled {
		return
	}
	c.registrySnapshot.store(registrySnapshotKey, tools)
}

// ClearAll drops every entry from every map.
func (c *Cache) ClearAll() {
	c.toolMatches.clear()
	c.llmExtractions.clear()
	c.registrySnapshot.clear()
}

// Stats is a point-in-time snapshot of every map's counters and size.
type Stats struct {
	ToolMatches      MapStats
	LLMExtractions   MapStats
	RegistrySnapshot MapStats
}

// MapStats reports one map's hit rate and size.
type MapStats struct {
	Hits    uint64
	Misses  uint64
	Size    int
	HitRate float64
}

func mapStats(m *namedMap) MapStats {
	hits, misses, size := m.stats()
	var rate float64
	if hits+misses > 0 {
		rate = float64(hits) / float64(hits+misses)
	}
	return MapStats{Hits: hits, Misses: misses, Size: size, HitRate: rate}
}

// Stats returns a snapshot of all three maps' hit/miss/size counters.
func (c *Cache) Stats() Stats {
	return Stats{
		ToolMatches:      mapStats(c.toolMatches),
		LLMExtractions:   mapStats(c.llmExtractions),
		RegistrySnapshot: mapStats(c.registrySnapshot),
	}
}
