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

func webhookTool() domain.ToolDescriptor {
	return domain.ToolDescriptor{
		Name:        "webhook_post",
		Description: "Post a payload to a webhook",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":   map[string]any{"type": "string", "format": "uri"},
				"email": map[string]any{"type": "string", "format": "email"},
			},
			"required": []any{"url"},
		},
	}
}

func TestExtract_FormatMismatchWarnsWithoutChangingStatus(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"url": "not a url", "email": "user@example.com"}`}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "post to not a url", "", webhookTool())

	assert.Equal(t, domain.ExtractionSuccess, result.Status)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "url")
}

func TestExtract_ValidFormatsProduceNoWarnings(t *testing.T) {
	llm := &fakeLLM{responses: []string{`{"url": "https://hooks.example.com/x", "email": "user@example.com"}`}}
	x := New(llm, DefaultConfig())

	result := x.Extract(context.Background(), "post to the hook", "", webhookTool())

	assert.Equal(t, domain.ExtractionSuccess, result.Status)
	assert.Empty(t, result.Warnings)
}

func TestWithoutLLM_RequiredFieldsReportedMissing(t *testing.T) {
	result := WithoutLLM(fileReadTool())

	assert.Equal(t, domain.ExtractionIncomplete, result.Status)
	assert.Equal(t, "utf-8", result.Parameters["encoding"]) // schema default still applies
	assert.NotEmpty(t, result.Warnings)
}

func TestWithoutLLM_SchemaWithoutRequirementsSucceeds(t *testing.T) {
	tool := domain.ToolDescriptor{
		Name:        "ping",
		Description: "Liveness check",
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}
	result := WithoutLLM(tool)
	assert.Equal(t, domain.ExtractionSuccess, result.Status)
}
