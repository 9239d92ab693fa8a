// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import "context"

// Registry is the external tool catalog. The core never mutates it.
type Registry interface {
	ListEnabledTools(ctx context.Context) ([]ToolDescriptor, error)
	GetTool(ctx context.Context, name string) (*ToolDescriptor, bool, error)
}

// ToolCall is the invocation the core hands to the router.
type ToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// AgentResult is what a successful router.Route returns.
type AgentResult struct {
	Data     any            `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Router dispatches a selected tool call; it is an external collaborator
// (HTTP/subprocess/MCP transport) the core never implements.
type Router interface {
	Route(ctx context.Context, call ToolCall, tool ToolDescriptor) (*AgentResult, error)
}

// LLMClient is the minimal chat-completion contract the core requires: a
// prompt in, a string out. Provider-specific wire formats live behind it.
type LLMClient interface {
	CallLLM(ctx context.Context, prompt string, opts LLMCallOptions) (string, error)
}

// LLMCallOptions tunes a single LLM call.
type LLMCallOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     int // seconds
}

// EmbeddingClient computes a vector embedding for text under a given model
// identifier (interpreted by scheme: openai:, ollama:, external:, local:).
type EmbeddingClient interface {
	Embed(ctx context.Context, text string, model string) ([]float32, error)
}
