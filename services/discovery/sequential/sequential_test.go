// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sequential

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

type fakeLLM struct {
	callLLM func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error)
}

func (f *fakeLLM) CallLLM(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
	return f.callLLM(ctx, prompt, opts)
}

func TestLooksSequential(t *testing.T) {
	cases := map[string]bool{
		"Download the logs and then summarize errors": true,
		"first check disk space, second clean up tmp": true,
		"read a single file":                          false,
	}
	for req, want := range cases {
		if got := LooksSequential(req); got != want {
			t.Errorf("LooksSequential(%q) = %v, want %v", req, got, want)
		}
	}
}

func TestDecomposeIntoFirstStep_NotSequential(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		t.Fatal("LLM should not be called for a non-sequential request")
		return "", nil
	}}, DefaultConfig())
	req := domain.DiscoveryRequest{Request: "read a single file"}
	sub, ok := c.DecomposeIntoFirstStep(context.Background(), req)
	if ok {
		t.Fatalf("expected ok=false for a non-sequential request, got %+v", sub)
	}
}

func TestDecomposeIntoFirstStep_ForcesSequentialModeOff(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return "Download the logs", nil
	}}, DefaultConfig())
	req := domain.DiscoveryRequest{Request: "Download the logs then summarize errors", SequentialMode: true}
	sub, ok := c.DecomposeIntoFirstStep(context.Background(), req)
	if !ok {
		t.Fatal("expected decomposition to succeed")
	}
	if sub.SequentialMode {
		t.Fatal("sub-request must never itself be marked sequential")
	}
	if sub.Request != "Download the logs" {
		t.Fatalf("expected the first-step text, got %q", sub.Request)
	}
}

func TestDecomposeIntoFirstStep_LLMErrorIsNotFatal(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return "", errors.New("boom")
	}}, DefaultConfig())
	req := domain.DiscoveryRequest{Request: "Download the logs then summarize errors"}
	sub, ok := c.DecomposeIntoFirstStep(context.Background(), req)
	if ok {
		t.Fatal("expected ok=false on LLM error")
	}
	if sub.Request != req.Request {
		t.Fatalf("expected the original request to be returned unchanged, got %q", sub.Request)
	}
}

func TestGenerateNextStepRecommendation_ParsesFencedJSON(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return "```json\n" + `{"suggested_request":"summarize the errors in the downloaded log","reasoning":"logs are now local","alternatives":["grep for ERROR lines"]}` + "\n```", nil
	}}, DefaultConfig())
	rec, ok := c.GenerateNextStepRecommendation(context.Background(), "Download the logs and then summarize errors", "Download the logs", map[string]any{"path": "/tmp/logs.txt"})
	if !ok {
		t.Fatal("expected a recommendation")
	}
	if rec.SuggestedRequest != "summarize the errors in the downloaded log" {
		t.Fatalf("unexpected suggested request: %+v", rec)
	}
	if len(rec.Alternatives) != 1 {
		t.Fatalf("expected one alternative, got %+v", rec.Alternatives)
	}
}

func TestGenerateNextStepRecommendation_ParseFailureIsNotFatal(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return "not json at all", nil
	}}, DefaultConfig())
	rec, ok := c.GenerateNextStepRecommendation(context.Background(), "original", "completed", nil)
	if ok || rec != nil {
		t.Fatalf("expected (nil, false) on parse failure, got %+v %v", rec, ok)
	}
}

func TestGenerateNextStepRecommendation_EmptySuggestionIsTreatedAsFailure(t *testing.T) {
	c := New(&fakeLLM{callLLM: func(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
		return `{"suggested_request":"","reasoning":"nothing left to do"}`, nil
	}}, DefaultConfig())
	rec, ok := c.GenerateNextStepRecommendation(context.Background(), "original", "completed", nil)
	if ok || rec != nil {
		t.Fatalf("expected (nil, false) for an empty suggestion, got %+v %v", rec, ok)
	}
}
