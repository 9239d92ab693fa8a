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

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/config"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/ranker"
)

type fakeRegistry struct {
	tools   []domain.ToolDescriptor
	listErr error
}

func (f *fakeRegistry) ListEnabledTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeRegistry) GetTool(ctx context.Context, name string) (*domain.ToolDescriptor, bool, error) {
	for i := range f.tools {
		if f.tools[i].Name == name {
			return &f.tools[i], true, nil
		}
	}
	return nil, false, nil
}

type fakeRouter struct {
	result   *domain.AgentResult
	err      error
	lastCall domain.ToolCall
	calls    int
}

func (f *fakeRouter) Route(ctx context.Context, call domain.ToolCall, tool domain.ToolDescriptor) (*domain.AgentResult, error) {
	f.calls++
	f.lastCall = call
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

// fakeLLM returns a fixed response and counts calls, so cache-hit tests
// can assert the mapper was not re-invoked.
type fakeLLM struct {
	response string
	calls    atomic.Int64
}

func (f *fakeLLM) CallLLM(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
	f.calls.Add(1)
	return f.response, nil
}

func fileTools() []domain.ToolDescriptor {
	return []domain.ToolDescriptor{
		{
			Name:        "file_read",
			Description: "Read content from a file",
			Enabled:     true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":     map[string]any{"type": "string"},
					"encoding": map[string]any{"type": "string"},
				},
				"required": []any{"path", "encoding"},
			},
		},
		{Name: "http_request", Description: "Make HTTP requests", Enabled: true},
	}
}

func ruleConfig(t *testing.T) *config.DiscoveryConfig {
	t.Helper()
	cfg := config.DefaultDiscoveryConfig()
	cfg.Ranker.Mode = ranker.ModeRule
	cfg.EnableSequentialMode = false
	return &cfg
}

func TestNew_RequiresRegistry(t *testing.T) {
	_, err := New(Deps{}, ruleConfig(t), nil)
	require.Error(t, err)
}

func TestNew_SemanticModeRequiresIndex(t *testing.T) {
	cfg := ruleConfig(t)
	cfg.Ranker.Mode = ranker.ModeSemantic
	_, err := New(Deps{Registry: &fakeRegistry{}}, cfg, nil)
	require.Error(t, err)
}

func TestDiscoverAndExecute_RuleBasedSelection(t *testing.T) {
	llm := &fakeLLM{response: `{"path": "/var/log/app.log", "encoding": "utf-8"}`}
	router := &fakeRouter{result: &domain.AgentResult{Data: "file contents"}}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}, Router: router, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})

	require.True(t, resp.Success, "error: %s", resp.Error)
	assert.Equal(t, "file_read", resp.Metadata.ChosenTool)
	assert.GreaterOrEqual(t, resp.Metadata.Confidence, 0.7)
	assert.Equal(t, ProxiedVia, resp.Metadata.ProxiedVia)
	assert.NotEmpty(t, resp.Metadata.RequestID)
	assert.Equal(t, "file_read", router.lastCall.Name)
	assert.Equal(t, "/var/log/app.log", router.lastCall.Arguments["path"])

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file contents", data["execution_result"])
}

func TestDiscoverAndExecute_Disabled(t *testing.T) {
	cfg := ruleConfig(t)
	cfg.Enabled = false
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}}, cfg, nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.Error, "disabled")
	assert.NotEmpty(t, resp.ErrorSummary)
}

func TestDiscoverAndExecute_SecondCallHitsCaches(t *testing.T) {
	llm := &fakeLLM{response: `{"path": "/etc/hosts", "encoding": "utf-8"}`}
	router := &fakeRouter{result: &domain.AgentResult{Data: "ok"}}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}, Router: router, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	req := domain.DiscoveryRequest{Request: "read file"}
	first := svc.DiscoverAndExecute(context.Background(), req)
	require.True(t, first.Success)
	callsAfterFirst := llm.calls.Load()

	second := svc.DiscoverAndExecute(context.Background(), req)
	require.True(t, second.Success)

	assert.Equal(t, callsAfterFirst, llm.calls.Load(), "second call must not invoke the LLM mapper")
	stats := svc.Cache().Stats()
	assert.GreaterOrEqual(t, stats.ToolMatches.Hits+stats.LLMExtractions.Hits, uint64(1))
}

func TestDiscoverAndExecute_IncompleteExtractionCarriesClarification(t *testing.T) {
	// The LLM finds the encoding but not the path.
	llm := &fakeLLM{response: `{"encoding": "utf-8", "path": null}`}
	router := &fakeRouter{result: &domain.AgentResult{Data: "ok"}}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}, Router: router, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})

	assert.Equal(t, domain.ExtractionIncomplete, resp.Metadata.ExtractionStatus)
	_, hasPath := resp.Metadata.MappedParameters["path"]
	assert.False(t, hasPath)

	require.NotNil(t, resp.Metadata.Clarification)
	var pathQuestion *domain.ClarificationQuestion
	for i := range resp.Metadata.Clarification.Questions {
		if resp.Metadata.Clarification.Questions[i].Parameter == "path" {
			pathQuestion = &resp.Metadata.Clarification.Questions[i]
		}
	}
	require.NotNil(t, pathQuestion, "expected a clarification question for path")
	assert.True(t, pathQuestion.Required)

	// Incomplete extractions still route, per the execution contract.
	assert.Equal(t, 1, router.calls)
}

func TestDiscoverAndExecute_LowConfidenceFallsBack(t *testing.T) {
	tools := []domain.ToolDescriptor{
		{Name: "academic_search", Description: "Search academic papers only", Enabled: true},
	}
	llm := &fakeLLM{response: `{}`}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: tools}, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{
		Request:             "search for cookie recipes",
		IncludeErrorDetails: true,
	})

	require.False(t, resp.Success)
	assert.LessOrEqual(t, resp.Metadata.Confidence, 0.3)
	require.NotNil(t, resp.ErrorDetails)
	assert.Equal(t, domain.ErrConstraintViolation, resp.ErrorDetails.Category)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	_, hasSuggestions := data["fallback_suggestions"]
	assert.True(t, hasSuggestions)
}

func TestDiscoverAndExecute_RouterFailureKeepsDiscoveryData(t *testing.T) {
	llm := &fakeLLM{response: `{"path": "/tmp/x", "encoding": "utf-8"}`}
	router := &fakeRouter{err: fmt.Errorf("connection refused")}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}, Router: router, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})

	require.False(t, resp.Success)
	assert.Equal(t, "file_read", resp.Metadata.ChosenTool)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file_read", data["tool"])
}

func TestDiscoverAndExecute_NoRouterReturnsDiscoveryOnly(t *testing.T) {
	llm := &fakeLLM{response: `{"path": "/tmp/x", "encoding": "utf-8"}`}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: fileTools()}, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})

	require.True(t, resp.Success)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "file_read", data["tool"])
}

func TestDiscoverAndExecute_EmptyCatalog(t *testing.T) {
	llm := &fakeLLM{response: `{}`}
	svc, err := New(Deps{Registry: &fakeRegistry{}, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})
	require.False(t, resp.Success)
	assert.Contains(t, resp.ErrorSummary, "No tool matched")
}

type fakeEnhancements struct {
	tools map[string]domain.EnhancedToolDefinition
}

func (f *fakeEnhancements) LoadAllEnhancedTools() (map[string]domain.EnhancedToolDefinition, error) {
	return f.tools, nil
}

func TestDiscoverAndExecute_EnhancedDescriptionsDriveRanking(t *testing.T) {
	// Neither the base name nor the base description gives the ranker
	// anything to match; only the enhanced description mentions reading
	// files.
	tools := []domain.ToolDescriptor{
		{
			Name:        "doc_helper",
			Description: "General purpose utility",
			Enabled:     true,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
	e := domain.NewEnhancedFromBase(tools[0])
	e.LLMEnhancedDescription = "Read content from a file on disk"
	e.Source = domain.EnhancementLLMDescription
	enh := &fakeEnhancements{tools: map[string]domain.EnhancedToolDefinition{"doc_helper": e}}

	llm := &fakeLLM{response: `{}`}

	baseline, err := New(Deps{Registry: &fakeRegistry{tools: tools}, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)
	baseResp := baseline.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})
	require.False(t, baseResp.Success, "base description alone should stay below threshold")

	svc, err := New(Deps{Registry: &fakeRegistry{tools: tools}, LLM: llm, Enhancements: enh}, ruleConfig(t), nil)
	require.NoError(t, err)
	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{Request: "read file"})

	require.True(t, resp.Success, "error: %s", resp.Error)
	assert.Equal(t, "doc_helper", resp.Metadata.ChosenTool)
	assert.Greater(t, resp.Metadata.Confidence, baseResp.Metadata.Confidence,
		"enhanced description should raise the match above the base score")
}

// promptAwareLLM routes each call by prompt content, so one fake can play
// the decomposition, extraction, and next-step roles in a single flow.
type promptAwareLLM struct {
	respond func(prompt string) (string, error)
}

func (p *promptAwareLLM) CallLLM(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
	return p.respond(prompt)
}

func TestDiscoverAndExecute_SequentialFirstStepAndNextStep(t *testing.T) {
	tools := []domain.ToolDescriptor{
		{
			Name:        "log_download",
			Description: "Download logs from the server",
			Enabled:     true,
			InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		{Name: "text_summarize", Description: "Summarize text content", Enabled: true},
	}
	llm := &promptAwareLLM{respond: func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "first atomically executable step"):
			return "Download the logs", nil
		case strings.Contains(prompt, "The first step has just completed"):
			return `{"suggested_request": "Summarize the errors in the downloaded logs", "reasoning": "the logs are now available locally"}`, nil
		default:
			return `{}`, nil
		}
	}}
	router := &fakeRouter{result: &domain.AgentResult{Data: "logs downloaded"}}
	svc, err := New(Deps{Registry: &fakeRegistry{tools: tools}, Router: router, LLM: llm}, ruleConfig(t), nil)
	require.NoError(t, err)

	resp := svc.DiscoverAndExecute(context.Background(), domain.DiscoveryRequest{
		Request:        "Download the logs and summarize errors",
		SequentialMode: true,
	})

	require.True(t, resp.Success, "error: %s", resp.Error)
	assert.Equal(t, "log_download", resp.Metadata.ChosenTool)
	require.NotNil(t, resp.NextStep)
	assert.Contains(t, resp.NextStep.SuggestedRequest, "Summarize")
}

func TestUsageTracker_RecencyAndCounts(t *testing.T) {
	u := newUsageTracker()
	u.RecordUsage("a")
	u.RecordUsage("b")
	u.RecordUsage("a")

	assert.Equal(t, 2, u.UsageCount("a"))
	assert.Equal(t, 1, u.UsageCount("b"))
	assert.Equal(t, []string{"a", "b"}, u.RecentOrder())
}

func TestRouteErrorKind(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{context.DeadlineExceeded, "timeout"},
		{fmt.Errorf("dial tcp: connection refused"), "network"},
		{fmt.Errorf("invalid input parameter"), "parameter"},
		{fmt.Errorf("tool crashed"), "execution"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.kind, routeErrorKind(tc.err), "for %v", tc.err)
	}
}
