// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedmanager reconciles the embedding store with the live tool
// registry: detects added/changed/removed tools, preserves
// operator-disabled tools across reconciliation, and hot-reloads the store
// from disk on file-watcher events.
package embedmanager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

var (
	syncOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_embedmanager_sync_outcome_total",
		Help: "Embedding reconciliation outcomes by kind (created/updated/removed/failed).",
	}, []string{"kind"})

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_embedmanager_sync_duration_seconds",
		Help:    "Duration of one embedding reconciliation sync.",
		Buckets: prometheus.DefBuckets,
	})
)

// Status classifies one tool's reconciliation need.
type Status int

const (
	UpToDate Status = iota
	NeedsCreation
	NeedsUpdate
	ShouldRemove
)

// knownState is the manager's memory of a tool's last-seen shape.
type knownState struct {
	contentHash string
	enabled     bool
	hidden      bool
}

// ToolOperation records one tool's outcome within a sync for the summary.
type ToolOperation struct {
	ToolName string
	Status   Status
	Error    string
}

// ChangeSummary reports the outcome of one sync call.
type ChangeSummary struct {
	Created    int
	Updated    int
	Removed    int
	Failed     int
	Operations []ToolOperation
}

// Config tunes the manager's background behavior.
type Config struct {
	CheckInterval        time.Duration `yaml:"check_interval"`
	AutoSave             bool          `yaml:"auto_save"`
	PreserveUserSettings bool          `yaml:"preserve_user_settings"`
	DebounceWindow       time.Duration `yaml:"debounce_window"`
}

// DefaultConfig returns the programmatic default.
func DefaultConfig() Config {
	return Config{
		CheckInterval:        60 * time.Second,
		AutoSave:             true,
		PreserveUserSettings: true,
		DebounceWindow:       500 * time.Millisecond,
	}
}

// Manager reconciles a Store's contents against a Registry snapshot.
//
// Cyclic ownership note: Manager holds references to Registry and Index;
// neither references Manager back. Background goroutines take owned
// clones of the shared handles and never re-enter the Manager from within
// their own loop.
type Manager struct {
	mu           sync.Mutex
	registry     domain.Registry
	store        *embedstore.Store
	index        *semanticindex.Index
	enhancements domain.EnhancementStore
	cfg          Config
	logger       *slog.Logger
	lastKnown    map[string]knownState
	userDisabled map[string]bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Manager. logger may be nil (slog.Default is used).
func New(registry domain.Registry, store *embedstore.Store, index *semanticindex.Index, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry:     registry,
		store:        store,
		index:        index,
		cfg:          cfg,
		logger:       logger,
		lastKnown:    make(map[string]knownState),
		userDisabled: make(map[string]bool),
	}
}

// NewWithEnhancements constructs a Manager that embeds enhanced tool
// descriptions instead of raw registry ones: each sync overlays the
// latest approved enhancement per tool before content hashing and
// embedding generation, so an enhanced description flowing in (or a base
// tool changing under a stale enhancement) is detected as an update like
// any other description change.
func NewWithEnhancements(registry domain.Registry, store *embedstore.Store, index *semanticindex.Index, enhancements domain.EnhancementStore, cfg Config, logger *slog.Logger) *Manager {
	m := New(registry, store, index, cfg, logger)
	m.enhancements = enhancements
	return m
}

// MarkUserDisabled records that the operator has explicitly disabled a
// tool. When PreserveUserSettings is on, Sync must not re-enable it.
func (m *Manager) MarkUserDisabled(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDisabled[name] = true
}

// ClearUserDisabled removes the operator override for name.
func (m *Manager) ClearUserDisabled(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userDisabled, name)
}

// Classify returns what a sync would do for the given current and
// previously-known state, without mutating anything. Exposed so the
// classification rules can be tested without a live store.
func Classify(current map[string]knownStateView, lastKnown map[string]knownStateView) map[string]Status {
	result := make(map[string]Status, len(current)+len(lastKnown))
	for name, cur := range current {
		prev, known := lastKnown[name]
		switch {
		case !known:
			result[name] = NeedsCreation
		case prev.ContentHash != cur.ContentHash || prev.Enabled != cur.Enabled || prev.Hidden != cur.Hidden:
			result[name] = NeedsUpdate
		default:
			result[name] = UpToDate
		}
	}
	for name := range lastKnown {
		if _, stillPresent := current[name]; !stillPresent {
			result[name] = ShouldRemove
		}
	}
	return result
}

// knownStateView is the externally visible shape of knownState, used by
// Classify so tests can build inputs without reaching into manager
// internals.
type knownStateView struct {
	ContentHash string
	Enabled     bool
	Hidden      bool
}

// Sync performs one reconciliation pass: snapshot the registry, classify
// every tool, perform the corresponding store mutation, and persist if
// anything changed and AutoSave is on.
func (m *Manager) Sync(ctx context.Context) (ChangeSummary, error) {
	start := time.Now()
	defer func() { syncDuration.Observe(time.Since(start).Seconds()) }()

	tools, err := m.registry.ListEnabledTools(ctx)
	if err != nil {
		return ChangeSummary{}, err
	}
	tools = m.withEnhancements(tools)

	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]knownStateView, len(tools))
	bySpec := make(map[string]domain.ToolDescriptor, len(tools))
	for _, t := range tools {
		if domain.IsReservedTool(t.Name) {
			continue
		}
		if m.cfg.PreserveUserSettings && m.userDisabled[t.Name] {
			t.Enabled = false
		}
		hash := embedstore.ContentHash(t.Name, t.Description, t.Enabled, t.Hidden)
		current[t.Name] = knownStateView{ContentHash: hash, Enabled: t.Enabled, Hidden: t.Hidden}
		bySpec[t.Name] = t
	}

	lastKnownView := make(map[string]knownStateView, len(m.lastKnown))
	for name, ks := range m.lastKnown {
		lastKnownView[name] = knownStateView{ContentHash: ks.contentHash, Enabled: ks.enabled, Hidden: ks.hidden}
	}

	statuses := Classify(current, lastKnownView)

	summary := ChangeSummary{}
	anyChange := false

	for name, status := range statuses {
		switch status {
		case NeedsCreation, NeedsUpdate:
			spec := bySpec[name]
			if err := m.upsertOne(ctx, spec); err != nil {
				summary.Failed++
				summary.Operations = append(summary.Operations, ToolOperation{ToolName: name, Status: status, Error: err.Error()})
				syncOutcomeTotal.WithLabelValues("failed").Inc()
				continue
			}
			anyChange = true
			m.lastKnown[name] = knownState{
				contentHash: current[name].ContentHash,
				enabled:     current[name].Enabled,
				hidden:      current[name].Hidden,
			}
			if status == NeedsCreation {
				summary.Created++
				syncOutcomeTotal.WithLabelValues("created").Inc()
			} else {
				summary.Updated++
				syncOutcomeTotal.WithLabelValues("updated").Inc()
			}
			summary.Operations = append(summary.Operations, ToolOperation{ToolName: name, Status: status})
		case ShouldRemove:
			m.store.RemoveToolEmbedding(name)
			delete(m.lastKnown, name)
			anyChange = true
			summary.Removed++
			syncOutcomeTotal.WithLabelValues("removed").Inc()
			summary.Operations = append(summary.Operations, ToolOperation{ToolName: name, Status: status})
		case UpToDate:
			// no-op
		}
	}

	if anyChange && m.cfg.AutoSave {
		if err := m.store.Save(); err != nil {
			m.logger.Warn("embedmanager: persist after sync failed", slog.Any("error", err))
		}
	}

	return summary, nil
}

func (m *Manager) upsertOne(ctx context.Context, spec domain.ToolDescriptor) error {
	return m.index.Upsert(ctx, spec)
}

// withEnhancements overlays stored enhanced descriptions onto the
// registry snapshot. A load failure degrades to base descriptions with a
// warning; enhancement availability never aborts a sync.
func (m *Manager) withEnhancements(tools []domain.ToolDescriptor) []domain.ToolDescriptor {
	if m.enhancements == nil {
		return tools
	}
	enhanced, err := m.enhancements.LoadAllEnhancedTools()
	if err != nil {
		m.logger.Warn("embedmanager: loading enhancements failed, using base descriptions", slog.Any("error", err))
		return tools
	}
	return domain.ApplyEnhancements(tools, enhanced)
}

// Start launches the periodic background sync loop. Stop must be called
// to release it; on shutdown a final persist is attempted if the store is
// dirty and AutoSave is set.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.stopCh != nil {
		m.mu.Unlock()
		return
	}
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})
	m.mu.Unlock()

	go m.backgroundLoop(ctx)
}

func (m *Manager) backgroundLoop(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.finalPersist()
			return
		case <-m.stopCh:
			m.finalPersist()
			return
		case <-ticker.C:
			if _, err := m.Sync(ctx); err != nil {
				m.logger.Warn("embedmanager: background sync failed", slog.Any("error", err))
			}
		}
	}
}

func (m *Manager) finalPersist() {
	if m.cfg.AutoSave && m.store.Dirty() {
		if err := m.store.Save(); err != nil {
			m.logger.Warn("embedmanager: final persist on shutdown failed", slog.Any("error", err))
		}
	}
}

// Stop terminates the background loop and blocks until it has exited.
func (m *Manager) Stop() {
	m.mu.Lock()
	stopCh, doneCh := m.stopCh, m.doneCh
	m.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh
}
