// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedmanager

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

type fakeRegistry struct {
	tools []domain.ToolDescriptor
}

func (f *fakeRegistry) ListEnabledTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	return f.tools, nil
}

func (f *fakeRegistry) GetTool(ctx context.Context, name string) (*domain.ToolDescriptor, bool, error) {
	for _, t := range f.tools {
		if t.Name == name {
			return &t, true, nil
		}
	}
	return nil, false, nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	return semanticindex.DeterministicEmbedding(text, 8), nil
}

func TestClassify_NewToolNeedsCreation(t *testing.T) {
	current := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true}}
	last := map[string]knownStateView{}
	statuses := Classify(current, last)
	if statuses["a"] != NeedsCreation {
		t.Errorf("expected NeedsCreation, got %v", statuses["a"])
	}
}

func TestClassify_UnchangedToolIsUpToDate(t *testing.T) {
	current := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true}}
	last := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true}}
	statuses := Classify(current, last)
	if statuses["a"] != UpToDate {
		t.Errorf("expected UpToDate, got %v", statuses["a"])
	}
}

func TestClassify_HashChangeNeedsUpdate(t *testing.T) {
	current := map[string]knownStateView{"a": {ContentHash: "h2", Enabled: true}}
	last := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true}}
	statuses := Classify(current, last)
	if statuses["a"] != NeedsUpdate {
		t.Errorf("expected NeedsUpdate, got %v", statuses["a"])
	}
}

func TestClassify_RemovedToolShouldRemove(t *testing.T) {
	current := map[string]knownStateView{}
	last := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true}}
	statuses := Classify(current, last)
	if statuses["a"] != ShouldRemove {
		t.Errorf("expected ShouldRemove, got %v", statuses["a"])
	}
}

func TestClassify_UnrelatedFieldsDoNotTriggerUpdate(t *testing.T) {
	// Same content hash means (name, description, enabled, hidden) did not
	// change even if some other registry field did; must stay UpToDate.
	current := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true, Hidden: false}}
	last := map[string]knownStateView{"a": {ContentHash: "h1", Enabled: true, Hidden: false}}
	statuses := Classify(current, last)
	if statuses["a"] != UpToDate {
		t.Errorf("expected UpToDate when content hash is unchanged, got %v", statuses["a"])
	}
}

func TestSync_ReconciliationRoundTrip(t *testing.T) {
	reg := &fakeRegistry{tools: []domain.ToolDescriptor{
		{Name: "A", Description: "does a", Enabled: true},
		{Name: "B", Description: "does b", Enabled: true},
	}}
	store := embedstore.New(nil)
	idx := semanticindex.New(store, fakeEmbedder{}, semanticindex.DefaultConfig(), nil)
	mgr := New(reg, store, idx, DefaultConfig(), nil)

	summary, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Created != 2 {
		t.Errorf("expected 2 created, got %d", summary.Created)
	}

	// Add C.
	reg.tools = append(reg.tools, domain.ToolDescriptor{Name: "C", Description: "does c", Enabled: true})
	summary, err = mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Created != 1 || summary.Updated != 0 || summary.Removed != 0 {
		t.Errorf("expected created=1,updated=0,removed=0 got %+v", summary)
	}

	// Remove A.
	reg.tools = reg.tools[1:]
	summary, err = mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Removed != 1 {
		t.Errorf("expected removed=1, got %d", summary.Removed)
	}
	vectors := store.Vectors()
	if _, ok := vectors["A"]; ok {
		t.Error("expected A removed from store")
	}
	if _, ok := vectors["B"]; !ok {
		t.Error("expected B still present")
	}
	if _, ok := vectors["C"]; !ok {
		t.Error("expected C still present")
	}
}

type fakeEnhancements struct {
	tools map[string]domain.EnhancedToolDefinition
	err   error
}

func (f *fakeEnhancements) LoadAllEnhancedTools() (map[string]domain.EnhancedToolDefinition, error) {
	return f.tools, f.err
}

func TestSync_EnhancedDescriptionDrivesContentHash(t *testing.T) {
	reg := &fakeRegistry{tools: []domain.ToolDescriptor{
		{Name: "A", Description: "base a", Enabled: true},
	}}
	store := embedstore.New(nil)
	idx := semanticindex.New(store, fakeEmbedder{}, semanticindex.DefaultConfig(), nil)
	enh := &fakeEnhancements{tools: map[string]domain.EnhancedToolDefinition{}}
	mgr := NewWithEnhancements(reg, store, idx, enh, DefaultConfig(), nil)

	if _, err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	baseHash := store.ContentHashes()["A"]

	// A new approved enhancement changes the effective description, so the
	// next sync must classify A as needing an update.
	e := domain.NewEnhancedFromBase(reg.tools[0])
	e.LLMEnhancedDescription = "enhanced description of a"
	e.Source = domain.EnhancementLLMDescription
	enh.tools["A"] = e

	summary, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Updated != 1 {
		t.Fatalf("expected updated=1 after enhancement, got %+v", summary)
	}
	if store.ContentHashes()["A"] == baseHash {
		t.Error("expected content hash to change with the enhanced description")
	}
}

func TestSync_EnhancementLoadFailureFallsBackToBase(t *testing.T) {
	reg := &fakeRegistry{tools: []domain.ToolDescriptor{
		{Name: "A", Description: "base a", Enabled: true},
	}}
	store := embedstore.New(nil)
	idx := semanticindex.New(store, fakeEmbedder{}, semanticindex.DefaultConfig(), nil)
	enh := &fakeEnhancements{err: context.DeadlineExceeded}
	mgr := NewWithEnhancements(reg, store, idx, enh, DefaultConfig(), nil)

	summary, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync must not fail on an enhancement load error: %v", err)
	}
	if summary.Created != 1 {
		t.Fatalf("expected base tool embedded despite enhancement failure, got %+v", summary)
	}
}

type failingEmbedder struct {
	failFor string
}

func (f failingEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	if strings.Contains(text, f.failFor) {
		return nil, errors.New("provider unavailable")
	}
	return semanticindex.DeterministicEmbedding(text, 8), nil
}

func TestSync_PerToolFailureCountedWithoutAbortingBatch(t *testing.T) {
	reg := &fakeRegistry{tools: []domain.ToolDescriptor{
		{Name: "good_tool", Description: "does fine", Enabled: true},
		{Name: "bad_tool", Description: "embedding will fail", Enabled: true},
	}}
	store := embedstore.New(nil)
	idx := semanticindex.New(store, failingEmbedder{failFor: "bad_tool"}, semanticindex.DefaultConfig(), nil)
	mgr := New(reg, store, idx, DefaultConfig(), nil)

	summary, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync must not abort on a per-tool failure: %v", err)
	}
	if summary.Created != 1 || summary.Failed != 1 {
		t.Fatalf("expected created=1,failed=1 got %+v", summary)
	}
	var failedOp *ToolOperation
	for i := range summary.Operations {
		if summary.Operations[i].ToolName == "bad_tool" {
			failedOp = &summary.Operations[i]
		}
	}
	if failedOp == nil || failedOp.Error == "" {
		t.Fatalf("expected a recorded operation with an error string for bad_tool, got %+v", summary.Operations)
	}

	// The failed tool stays out of lastKnown, so the next sync retries it.
	idx2 := semanticindex.New(store, fakeEmbedder{}, semanticindex.DefaultConfig(), nil)
	mgr.index = idx2
	summary, err = mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if summary.Created != 1 || summary.Failed != 0 {
		t.Fatalf("expected the failed tool retried and created, got %+v", summary)
	}
}

func TestSync_PreservesUserDisabledAcrossReconciliation(t *testing.T) {
	reg := &fakeRegistry{tools: []domain.ToolDescriptor{
		{Name: "A", Description: "does a", Enabled: true},
	}}
	store := embedstore.New(nil)
	idx := semanticindex.New(store, fakeEmbedder{}, semanticindex.DefaultConfig(), nil)
	mgr := New(reg, store, idx, DefaultConfig(), nil)
	mgr.MarkUserDisabled("A")

	if _, err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	meta, ok := store.Metadata("A")
	if !ok {
		t.Fatal("expected A present in store")
	}
	if meta.Enabled {
		t.Error("expected user-disabled tool to stay disabled across reconciliation")
	}
}
