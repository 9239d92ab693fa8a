// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// memRegistry is an in-memory domain.Registry for the demo commands. The
// real registry (YAML capability files, hot reload) is an external
// collaborator; this one just serves a fixed catalog.
type memRegistry struct {
	tools []domain.ToolDescriptor
}

func (r *memRegistry) ListEnabledTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	out := make([]domain.ToolDescriptor, 0, len(r.tools))
	for _, t := range r.tools {
		if t.Enabled && !t.Hidden {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRegistry) GetTool(ctx context.Context, name string) (*domain.ToolDescriptor, bool, error) {
	for i := range r.tools {
		if r.tools[i].Name == name {
			return &r.tools[i], true, nil
		}
	}
	return nil, false, nil
}

// catalogEntry is the YAML shape of one tool in a --tools file.
type catalogEntry struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	InputSchema map[string]any `yaml:"input_schema"`
	Enabled     *bool          `yaml:"enabled"`
	Hidden      bool           `yaml:"hidden"`
}

// loadCatalog builds the demo registry, from path when non-empty or the
// built-in demo catalog otherwise.
func loadCatalog(path string) (*memRegistry, error) {
	if path == "" {
		return &memRegistry{tools: demoTools()}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tool catalog: %w", err)
	}
	var entries []catalogEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing tool catalog: %w", err)
	}
	tools := make([]domain.ToolDescriptor, 0, len(entries))
	for _, e := range entries {
		enabled := true
		if e.Enabled != nil {
			enabled = *e.Enabled
		}
		tools = append(tools, domain.ToolDescriptor{
			Name:        e.Name,
			Description: e.Description,
			InputSchema: e.InputSchema,
			Enabled:     enabled,
			Hidden:      e.Hidden,
		})
	}
	return &memRegistry{tools: tools}, nil
}

// demoTools is the built-in catalog used when no --tools file is given.
func demoTools() []domain.ToolDescriptor {
	stringProp := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	return []domain.ToolDescriptor{
		{
			Name:        "file_read",
			Description: "Read content from a file on disk",
			Enabled:     true,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": stringProp("absolute file path")},
				"required":   []any{"path"},
			},
		},
		{
			Name:        "file_write",
			Description: "Write content to a file on disk",
			Enabled:     true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":    stringProp("absolute file path"),
					"content": stringProp("content to write"),
				},
				"required": []any{"path", "content"},
			},
		},
		{
			Name:        "http_request",
			Description: "Make HTTP requests to an API endpoint",
			Enabled:     true,
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"url":    stringProp("request URL"),
					"method": map[string]any{"type": "string", "default": "GET"},
				},
				"required": []any{"url"},
			},
		},
		{
			Name:        "database_query",
			Description: "Run a read-only SQL query against the configured database",
			Enabled:     true,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": stringProp("SQL query text")},
				"required":   []any{"query"},
			},
		},
		{
			Name:        "web_search",
			Description: "Search the web for pages matching a query",
			Enabled:     true,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"query": stringProp("search terms")},
				"required":   []any{"query"},
			},
		},
	}
}

// echoRouter is the demo domain.Router: it never executes anything, it
// just reflects the call back so the pipeline's output is visible.
type echoRouter struct{}

func (echoRouter) Route(ctx context.Context, call domain.ToolCall, tool domain.ToolDescriptor) (*domain.AgentResult, error) {
	return &domain.AgentResult{
		Data: map[string]any{
			"tool":      call.Name,
			"arguments": call.Arguments,
			"note":      "demo router: call echoed, not executed",
		},
	}, nil
}
