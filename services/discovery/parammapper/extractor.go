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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

var tracer = otel.Tracer("discovery.parammapper")

var (
	extractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_param_extraction_latency_seconds",
		Help:    "Latency of LLM parameter extraction calls.",
		Buckets: prometheus.DefBuckets,
	})
	extractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_param_extraction_total",
		Help: "Parameter extraction outcomes by status.",
	}, []string{"status"})
)

// Config tunes the extractor's LLM call.
type Config struct {
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxTokens   int           `yaml:"max_tokens" validate:"gte=0"`
	MaxRetries  int           `yaml:"max_retries" validate:"gte=0"`
	Enabled     bool          `yaml:"enabled"`
}

// DefaultConfig returns the programmatic default extractor configuration.
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		Timeout:     30 * time.Second,
		Temperature: 0.1,
		MaxTokens:   512,
		MaxRetries:  3,
		Enabled:     true,
	}
}

// Extractor maps a natural-language request onto a tool's parameter schema
// via an LLM call, then validates and defaults the result.
type Extractor struct {
	llm domain.LLMClient
	cfg Config
}

// New constructs an Extractor.
func New(llm domain.LLMClient, cfg Config) *Extractor {
	return &Extractor{llm: llm, cfg: cfg}
}

// SchemaHash returns a stable hash over the canonical JSON serialization
// of a tool's input schema, used as part of the LLM-extraction cache key
// so a schema change invalidates prior extractions even for an identical
// request string.
func SchemaHash(inputSchema map[string]any) string {
	canonical, err := canonicalJSON(inputSchema)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes v with sorted map keys so that field ordering
// never affects the hash.
func canonicalJSON(v any) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			n, err := normalize(t[k])
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			n, err := normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// Extract builds a prompt from request/context/tool schema and calls the
// LLM to produce a ParameterExtraction. Never returns an error: on
// exhausted retries or an unparseable response, it returns
// status=Failed with a descriptive warning instead.
func (x *Extractor) Extract(ctx context.Context, request, context_ string, tool domain.ToolDescriptor) domain.ParameterExtraction {
	ctx, span := tracer.Start(ctx, "parammapper.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("tool", tool.Name))
	start := time.Now()
	defer func() { extractionLatency.Observe(time.Since(start).Seconds()) }()

	if !x.cfg.Enabled {
		extractionTotal.WithLabelValues(string(domain.ExtractionFailed)).Inc()
		return domain.ParameterExtraction{
			Status:   domain.ExtractionFailed,
			Warnings: []string{"parameter extraction is disabled"},
		}
	}

	prompt := buildPrompt(request, context_, tool)

	var raw string
	var err error
	for attempt := 0; attempt <= x.cfg.MaxRetries; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, x.cfg.Timeout)
		raw, err = x.llm.CallLLM(cctx, prompt, domain.LLMCallOptions{
			Model:       x.cfg.Model,
			Temperature: x.cfg.Temperature,
			MaxTokens:   x.cfg.MaxTokens,
		})
		cancel()
		if err == nil {
			break
		}
		if attempt < x.cfg.MaxRetries {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond) // linear backoff
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		extractionTotal.WithLabelValues(string(domain.ExtractionFailed)).Inc()
		return domain.ParameterExtraction{
			Status:   domain.ExtractionFailed,
			Warnings: []string{fmt.Sprintf("LLM call failed after %d attempts: %v", x.cfg.MaxRetries+1, err)},
		}
	}

	parsed, perr := parseJSONResponse(raw)
	if perr != nil {
		extractionTotal.WithLabelValues(string(domain.ExtractionFailed)).Inc()
		return domain.ParameterExtraction{
			Status:   domain.ExtractionFailed,
			Warnings: []string{fmt.Sprintf("could not parse LLM response as JSON: %v", perr)},
		}
	}

	result := applyDefaultsAndValidate(parsed, tool.InputSchema)
	extractionTotal.WithLabelValues(string(result.Status)).Inc()
	span.SetAttributes(attribute.String("status", string(result.Status)))
	return result
}

// buildPrompt constructs the extraction prompt, instructing the model to
// never substitute generic defaults for user-provided values, to null-out
// truly missing critical fields rather than hallucinating, and to return a
// flat JSON object.
func buildPrompt(request, context_ string, tool domain.ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You map a user request onto a tool's parameters.\n\n")
	fmt.Fprintf(&b, "Tool: %s\nDescription: %s\n", tool.Name, tool.Description)
	if schemaJSON, err := json.Marshal(tool.InputSchema); err == nil {
		fmt.Fprintf(&b, "Parameter schema:\n%s\n", schemaJSON)
	}
	fmt.Fprintf(&b, "\nUser request: %s\n", request)
	if context_ != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", context_)
	}
	b.WriteString("\nRules:\n")
	b.WriteString("1. Never substitute a generic default for a value the user actually provided.\n")
	b.WriteString("2. If a critical field (host, hosts, file, path, url, endpoint, target, destination) is truly missing, set it to null rather than inventing a value.\n")
	b.WriteString("3. Respond with a single flat JSON object mapping parameter name to value, and nothing else.\n")
	return b.String()
}

// parseJSONResponse strips Markdown code fences before parsing.
func parseJSONResponse(raw string) (map[string]any, error) {
	cleaned := stripMarkdownFences(raw)
	var out map[string]any
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// stripMarkdownFences removes a leading/trailing ```json or ``` fence, if
// present, and trims surrounding whitespace.
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

// applyDefaultsAndValidate fills in schema defaults for omitted
// non-critical fields, flags missing required fields with
// parameter-specific guidance, and classifies the overall status.
func applyDefaultsAndValidate(parsed map[string]any, inputSchema map[string]any) domain.ParameterExtraction {
	props, required := parseSchema(inputSchema)
	params := make(map[string]any, len(parsed))
	for k, v := range parsed {
		if v != nil {
			params[k] = v
		}
	}
	usedDefaults := make(map[string]any)

	for name, p := range props {
		if _, present := params[name]; present {
			continue
		}
		if !p.HasDefault {
			continue
		}
		if CriticalFields[name] {
			continue
		}
		params[name] = p.Default
		usedDefaults[name] = p.Default
	}

	warnings := validateFormats(params, props)
	missingRequired := false
	for _, name := range required {
		if _, present := params[name]; present {
			continue
		}
		missingRequired = true
		guidance := guidanceFor(name, props[name])
		warnings = append(warnings, fmt.Sprintf("missing required parameter %q (%s)", name, guidance))
	}

	status := domain.ExtractionSuccess
	if missingRequired {
		status = domain.ExtractionIncomplete
	}

	return domain.ParameterExtraction{
		Parameters:   params,
		Status:       status,
		Warnings:     warnings,
		UsedDefaults: usedDefaults,
	}
}

// WithoutLLM produces the extraction result for a deployment with no LLM
// configured: nothing is extracted, required fields are reported missing
// with guidance, and defaults are still applied to non-critical fields.
// Success is only possible when the schema requires nothing.
func WithoutLLM(tool domain.ToolDescriptor) domain.ParameterExtraction {
	result := applyDefaultsAndValidate(map[string]any{}, tool.InputSchema)
	if result.Status != domain.ExtractionSuccess {
		result.Warnings = append(result.Warnings, "no LLM configured; parameters must be supplied by the caller")
	}
	return result
}

// BuildClarification constructs a ClarificationRequest for an Incomplete
// extraction, one question per missing required field.
func BuildClarification(extraction domain.ParameterExtraction, inputSchema map[string]any) *domain.ClarificationRequest {
	if extraction.Status != domain.ExtractionIncomplete {
		return nil
	}
	props, required := parseSchema(inputSchema)

	var questions []domain.ClarificationQuestion
	var missingInfo []string
	for _, name := range required {
		if _, present := extraction.Parameters[name]; present {
			continue
		}
		p := props[name]
		q := domain.ClarificationQuestion{
			Parameter: name,
			Prompt:    fmt.Sprintf("What value should be used for %q?", name),
			InputType: inputTypeFor(p),
			Choices:   p.Enum,
			Examples:  []string{guidanceFor(name, p)},
			Required:  true,
		}
		questions = append(questions, q)
		missingInfo = append(missingInfo, name)
	}
	if len(questions) == 0 {
		return nil
	}
	return &domain.ClarificationRequest{
		Message:     "Some required information is missing to run this tool.",
		MissingInfo: missingInfo,
		Questions:   questions,
	}
}
