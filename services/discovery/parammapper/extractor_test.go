// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package parammapper

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

type fakeLLM struct {
	responses []string
	calls     int
	err       error
}

func (f *fakeLLM) CallLLM(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
	defer func() { f.calls++ }()
	if f.err != nil {
		return "", f.err
	}
	if f.calls >= len(f.responses) {
		return f.responses[len(f.responses)-1], nil
	}
	return f.responses[f.calls], nil
}

func fileReadTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "file_read",
		Description: "Reads a file from disk",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":     map[string]any{"type": "string"},
				"encoding": map[string]any{"type": "string", "default": "utf-8"},
			},
			"required": []any{"path", "encoding"},
		},
	}
}

func TestExtract_SuccessWithAllParametersProvided(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"path": "/var/log/app.log", "encoding": "utf-8"}`}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "read /var/log/app.log", "", fileReadTool())

	assert.Equal(t, domain.ExtractionSuccess, result.Status)
	assert.Equal(t, "/var/log/app.log", result.Parameters["path"])
	assert.Empty(t, result.Warnings)
}

func TestExtract_IncompleteWhenCriticalFieldMissing(t *testing.T) {
	// Mirrors the "LLM extraction incomplete" scenario: schema requires
	// path and encoding, request is just "read".
	llm := &fakeLLM{responses: []string{`{"path": null, "encoding": "utf-8"}`}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "read", "", fileReadTool())

	require.Equal(t, domain.ExtractionIncomplete, result.Status)
	assert.NotContains(t, result.Parameters, "path")
	assert.NotEmpty(t, result.Warnings)

	clarification := BuildClarification(result, fileReadTool().InputSchema)
	require.NotNil(t, clarification)
	require.Len(t, clarification.Questions, 1)
	assert.Equal(t, "path", clarification.Questions[0].Parameter)
	assert.True(t, clarification.Questions[0].Required)
}

func TestExtract_NonCriticalFieldGetsSchemaDefault(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"path": "/tmp/a.txt"}`}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "read /tmp/a.txt", "", fileReadTool())

	assert.Equal(t, domain.ExtractionSuccess, result.Status)
	assert.Equal(t, "utf-8", result.Parameters["encoding"])
	assert.Equal(t, "utf-8", result.UsedDefaults["encoding"])
}

func TestExtract_MarkdownFencedResponseIsParsed(t *testing.T) {
	llm := &fakeLLM{responses: []string{"```json\n{\"path\": \"/a\", \"encoding\": \"utf-8\"}\n```"}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "read /a", "", fileReadTool())

	assert.Equal(t, domain.ExtractionSuccess, result.Status)
	assert.Equal(t, "/a", result.Parameters["path"])
}

func TestExtract_UnparseableResponseFailsSoftly(t *testing.T) {
	llm := &fakeLLM{responses: []string{"not json at all"}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "read something", "", fileReadTool())

	assert.Equal(t, domain.ExtractionFailed, result.Status)
	assert.NotEmpty(t, result.Warnings)
}

func TestExtract_DisabledConfigFailsImmediately(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"path": "/a", "encoding": "utf-8"}`}}
	cfg := DefaultConfig()
	cfg.Enabled = false
	x := New(llm, cfg)

	result := x.Extract(context.Background(), "read /a", "", fileReadTool())

	assert.Equal(t, domain.ExtractionFailed, result.Status)
	assert.Equal(t, 0, llm.calls)
}

func TestSchemaHash_StableAcrossKeyOrdering(t *testing.T) {
	a := map[string]any{"type": "object", "properties": map[string]any{"x": 1, "y": 2}}
	b := map[string]any{"properties": map[string]any{"y": 2, "x": 1}, "type": "object"}
	assert.Equal(t, SchemaHash(a), SchemaHash(b))
}

func TestSchemaHash_ChangesWithSchemaContent(t *testing.T) {
	a := map[string]any{"properties": map[string]any{"x": 1}}
	b := map[string]any{"properties": map[string]any{"x": 2}}
	assert.NotEqual(t, SchemaHash(a), SchemaHash(b))
}
