// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sequential handles detecting multi-step natural-language
// requests, extracting the first atomically executable step via the LLM,
// and, once that step has run, proposing a next-step recommendation.
// Neither operation executes a chain; the discovery service is
// responsible for running one step and deciding whether to ask for
// another.
package sequential

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

var tracer = otel.Tracer("discovery.sequential")

var (
	decomposeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_sequential_decompose_total",
		Help: "Sequential decomposition attempts by outcome.",
	}, []string{"outcome"})
	nextStepTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_sequential_next_step_total",
		Help: "Next-step recommendation attempts by outcome.",
	}, []string{"outcome"})
)

// connectives are the vocabulary that marks a request as plausibly
// multi-step when sequential_mode wasn't explicitly requested.
var connectives = []string{
	"then", "after", "next", "also", "and then", "followed by", "once", "when",
	"first", "second", "step", "analyze", "compare", "process", "workflow",
	"create and", "read and", "copy and", "download and", "extract and",
}

// Config tunes the LLM calls this package makes.
type Config struct {
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
}

// DefaultConfig returns the programmatic default.
func DefaultConfig() Config {
	return Config{
		Model:       "ministral-3:3b",
		Timeout:     2 * time.Second,
		Temperature: 0.2,
		MaxTokens:   384,
	}
}

// Controller decomposes multi-step requests and proposes follow-on steps.
type Controller struct {
	llm domain.LLMClient
	cfg Config
}

// New constructs a Controller.
func New(llm domain.LLMClient, cfg Config) *Controller {
	return &Controller{llm: llm, cfg: cfg}
}

// LooksSequential reports whether request contains any multi-step
// connective, independent of an explicit sequential_mode flag.
func LooksSequential(request string) bool {
	lower := strings.ToLower(request)
	for _, c := range connectives {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// DecomposeIntoFirstStep extracts only the first atomically executable
// step from req when sequential handling applies (req.SequentialMode is
// set, or the request text matches the connective heuristic). The
// returned sub-request always has SequentialMode forced to false, so a
// first step can never itself trigger another decomposition. ok is false
// when sequential handling doesn't apply or the LLM call/parse failed; in
// either case the caller should proceed with the original request
// unchanged.
func (c *Controller) DecomposeIntoFirstStep(ctx context.Context, req domain.DiscoveryRequest) (domain.DiscoveryRequest, bool) {
	if !req.SequentialMode && !LooksSequential(req.Request) {
		return req, false
	}

	ctx, span := tracer.Start(ctx, "sequential.DecomposeIntoFirstStep")
	defer span.End()

	prompt := buildDecomposePrompt(req.Request, req.Context)
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	raw, err := c.llm.CallLLM(cctx, prompt, domain.LLMCallOptions{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		decomposeTotal.WithLabelValues("llm_error").Inc()
		return req, false
	}

	firstStep := strings.TrimSpace(stripMarkdownFences(raw))
	if firstStep == "" {
		decomposeTotal.WithLabelValues("empty_response").Inc()
		return req, false
	}

	sub := req
	sub.Request = firstStep
	sub.SequentialMode = false
	decomposeTotal.WithLabelValues("decomposed").Inc()
	span.SetAttributes(attribute.Bool("decomposed", true))
	return sub, true
}

func buildDecomposePrompt(request, context_ string) string {
	var b strings.Builder
	b.WriteString("The following user request may describe more than one step.\n")
	b.WriteString("Extract ONLY the first atomically executable step, as a single imperative sentence.\n")
	b.WriteString("Respond with the first step's text alone, and nothing else.\n\n")
	fmt.Fprintf(&b, "Request: %s\n", request)
	if context_ != "" {
		fmt.Fprintf(&b, "Context: %s\n", context_)
	}
	return b.String()
}

// nextStepJSON mirrors the JSON object the LLM is asked to produce for a
// next-step recommendation.
type nextStepJSON struct {
	SuggestedRequest string         `json:"suggested_request"`
	Reasoning        string         `json:"reasoning"`
	PotentialInputs  map[string]any `json:"potential_inputs"`
	Alternatives     []string       `json:"alternatives"`
}

// GenerateNextStepRecommendation prompts the LLM for a follow-on step once
// the first step of a sequential request has completed. A parse failure
// or LLM error is logged via the returned span but is never fatal: it
// yields (nil, false) so the caller can simply omit next_step from the
// response.
func (c *Controller) GenerateNextStepRecommendation(ctx context.Context, original, completed string, result any) (*domain.NextStepRecommendation, bool) {
	ctx, span := tracer.Start(ctx, "sequential.GenerateNextStepRecommendation")
	defer span.End()

	prompt := buildNextStepPrompt(original, completed, result)
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	raw, err := c.llm.CallLLM(cctx, prompt, domain.LLMCallOptions{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		nextStepTotal.WithLabelValues("llm_error").Inc()
		return nil, false
	}

	cleaned := stripMarkdownFences(raw)
	var parsed nextStepJSON
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		span.RecordError(err)
		nextStepTotal.WithLabelValues("parse_error").Inc()
		return nil, false
	}
	if strings.TrimSpace(parsed.SuggestedRequest) == "" {
		nextStepTotal.WithLabelValues("empty_suggestion").Inc()
		return nil, false
	}

	nextStepTotal.WithLabelValues("recommended").Inc()
	return &domain.NextStepRecommendation{
		SuggestedRequest: parsed.SuggestedRequest,
		Reasoning:        parsed.Reasoning,
		PotentialInputs:  parsed.PotentialInputs,
		Alternatives:     parsed.Alternatives,
	}, true
}

func buildNextStepPrompt(original, completed string, result any) string {
	var b strings.Builder
	b.WriteString("A user's original request spans multiple steps. The first step has just completed.\n")
	b.WriteString("Propose the next step, responding with a single JSON object: ")
	b.WriteString(`{"suggested_request": string, "reasoning": string, "potential_inputs": object?, "alternatives": [string]?}`)
	b.WriteString(" and nothing else.\n\n")
	fmt.Fprintf(&b, "Original request: %s\n", original)
	fmt.Fprintf(&b, "Completed step: %s\n", completed)
	if resultJSON, err := json.Marshal(result); err == nil {
		fmt.Fprintf(&b, "Step result: %s\n", resultJSON)
	}
	return b.String()
}

// stripMarkdownFences removes a leading/trailing ```json or ``` fence.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
