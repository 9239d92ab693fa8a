// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service implements the discovery orchestrator: it threads a
// natural-language request through cache, ranker, parameter extraction,
// and the external router, falling back to the fallback engine on any
// failure path. No error raised by a single request is fatal to the
// service; concurrent and subsequent requests are unaffected.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/cache"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/config"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/fallback"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/parammapper"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/ranker"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/sequential"
)

// ProxiedVia is stamped into every response's metadata so downstream
// consumers can tell a discovery-proxied invocation from a direct one.
const ProxiedVia = "smart_tool_discovery"

// rankedPositionCap bounds the ranked-position histogram.
const rankedPositionCap = 30

var tracer = otel.Tracer("discovery.service")

var (
	discoveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_requests_total",
		Help: "Discovery requests by outcome: success, routed_failure, fallback.",
	}, []string{"outcome"})

	discoveryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_latency_seconds",
		Help:    "End-to-end latency of discover_and_execute.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	rankedPositionHist = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "discovery_ranked_position",
		Help:    "1-based ranked position of the executed tool, capped at 30.",
		Buckets: []float64{1, 2, 3, 5, 10, 20, 30},
	})

	routeErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_route_errors_total",
		Help: "Router dispatch errors by kind: timeout, network, parameter, execution.",
	}, []string{"kind"})

	fallbackInvokedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "discovery_fallback_invoked_total",
		Help: "Fallback-path entries by error category.",
	}, []string{"category"})
)

// Deps carries the external collaborators and shared subsystems the
// service orchestrates. Registry must not be nil. Router, LLM, Index, and
// Enhancements are optional: a nil Router returns discovery-only
// responses, a nil LLM disables parameter extraction and the
// LLM/sequential stages, a nil Index restricts ranking to modes that
// don't need one, and a nil Enhancements ranks base descriptions only.
type Deps struct {
	Registry     domain.Registry
	Router       domain.Router
	LLM          domain.LLMClient
	Index        *semanticindex.Index
	Enhancements domain.EnhancementStore
}

// Service is the discovery orchestrator.
type Service struct {
	cfg          *config.DiscoveryConfig
	registry     domain.Registry
	router       domain.Router
	llm          domain.LLMClient
	index        *semanticindex.Index
	enhancements domain.EnhancementStore
	cache        *cache.Cache
	extractor    *parammapper.Extractor
	fallback     *fallback.Engine
	sequential   *sequential.Controller
	usage        *usageTracker
	logger       *slog.Logger
}

// New wires a Service from deps and cfg. logger may be nil (slog.Default
// is used). Returns an error when a required collaborator for the
// configured selection mode is missing, so misconfiguration surfaces at
// startup rather than per request.
func New(deps Deps, cfg *config.DiscoveryConfig, logger *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("service: cfg must not be nil")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("service: registry must not be nil")
	}
	if cfg.Ranker.Mode == ranker.ModeSemantic && deps.Index == nil {
		return nil, fmt.Errorf("service: selection mode %q requires a semantic index", cfg.Ranker.Mode)
	}
	if cfg.Ranker.Mode == ranker.ModeLLM && deps.LLM == nil {
		return nil, fmt.Errorf("service: selection mode %q requires an LLM client", cfg.Ranker.Mode)
	}
	if logger == nil {
		logger = slog.Default()
	}

	mapperCfg := cfg.ParamMapper
	if deps.LLM == nil && mapperCfg.Enabled {
		logger.Warn("service: no LLM client configured, disabling parameter extraction")
		mapperCfg.Enabled = false
	}

	s := &Service{
		cfg:          cfg,
		registry:     deps.Registry,
		router:       deps.Router,
		llm:          deps.LLM,
		index:        deps.Index,
		enhancements: deps.Enhancements,
		cache:        cache.New(cfg.Cache),
		extractor:    parammapper.New(deps.LLM, mapperCfg),
		usage:        newUsageTracker(),
		logger:       logger,
	}
	s.fallback = fallback.New(cfg.Fallback, s.usage)
	if deps.LLM != nil {
		s.sequential = sequential.New(deps.LLM, cfg.Sequential)
	}
	return s, nil
}

// Cache exposes the service's cache, e.g. to read its Stats.
func (s *Service) Cache() *cache.Cache { return s.cache }

// DiscoverAndExecute resolves a natural-language request to one tool
// invocation: rank, select, extract parameters, dispatch. It never
// returns an error; every failure becomes a structured response with an
// error category, a human summary, and fallback suggestions.
func (s *Service) DiscoverAndExecute(ctx context.Context, req domain.DiscoveryRequest) domain.DiscoveryResponse {
	requestID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "service.DiscoverAndExecute",
		trace.WithAttributes(
			attribute.String("request_id", requestID),
			attribute.Bool("sequential_mode", req.SequentialMode),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() { discoveryLatency.Observe(time.Since(start).Seconds()) }()
	meta := domain.DiscoveryMetadata{RequestID: requestID, ProxiedVia: ProxiedVia}

	if !s.cfg.Enabled {
		return s.failure(ctx, req, nil, domain.ErrSystemError, "discovery service is disabled", meta)
	}

	// Sequential decomposition: replace the working request with the
	// first step, remembering the original for learning and next-step
	// generation.
	originalRequest := req.Request
	working := req
	seqEngaged := false
	if s.sequential != nil && (req.SequentialMode || s.cfg.EnableSequentialMode) {
		if sub, ok := s.sequential.DecomposeIntoFirstStep(ctx, req); ok {
			working = sub
			seqEngaged = true
			s.logger.Info("sequential first step extracted",
				slog.String("request_id", requestID),
				slog.String("first_step", working.Request),
			)
		}
	}

	tools, err := s.snapshotTools(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registry snapshot failed")
		return s.failure(ctx, req, nil, domain.ErrSystemError, err.Error(), meta)
	}

	threshold := working.EffectiveThreshold(s.cfg.DefaultConfidenceThreshold)
	matches, err := s.rank(ctx, working, tools, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ranking failed")
		return s.failure(ctx, req, tools, domain.ErrNoToolsFound, err.Error(), meta)
	}
	meta.RankedCandidates = matches

	if len(matches) == 0 {
		return s.failure(ctx, req, tools, domain.ErrNoToolsFound, "no candidate tools were ranked", meta)
	}

	best, ok := ranker.Select(matches)
	meta.ChosenTool = best.ToolName
	meta.Confidence = best.Confidence
	meta.Reasoning = best.Reasoning
	span.SetAttributes(
		attribute.String("chosen_tool", best.ToolName),
		attribute.Float64("confidence", best.Confidence),
	)
	if !ok {
		category := domain.ErrLowConfidence
		if strings.Contains(best.Reasoning, "constraint violation") {
			category = domain.ErrConstraintViolation
		}
		cause := fmt.Sprintf("best candidate %q scored %.2f, below threshold %.2f", best.ToolName, best.Confidence, threshold)
		return s.failure(ctx, req, tools, category, cause, meta)
	}

	tool, found, err := s.registry.GetTool(ctx, best.ToolName)
	if err != nil || !found {
		cause := fmt.Sprintf("selected tool %q not found in registry", best.ToolName)
		if err != nil {
			cause = fmt.Sprintf("registry lookup for %q failed: %v", best.ToolName, err)
		}
		return s.failure(ctx, req, tools, domain.ErrSystemError, cause, meta)
	}

	extraction := s.extract(ctx, working, *tool)
	meta.MappedParameters = extraction.Parameters
	meta.ExtractionStatus = extraction.Status
	if extraction.Status == domain.ExtractionIncomplete {
		meta.Clarification = parammapper.BuildClarification(extraction, tool.InputSchema)
	}

	s.usage.RecordUsage(tool.Name)
	observeRankedPosition(matches, tool.Name)

	if extraction.Status == domain.ExtractionFailed {
		cause := "parameter extraction failed"
		if len(extraction.Warnings) > 0 {
			cause = extraction.Warnings[0]
		}
		return s.failure(ctx, req, tools, domain.ErrParameterExtractionFailed, cause, meta)
	}

	resp := s.execute(ctx, req, tools, *tool, extraction, meta)
	if resp.Success {
		s.fallback.RecordSuccessfulResolution(originalRequest, tool.Name)
		discoveryTotal.WithLabelValues("success").Inc()
		if seqEngaged && s.sequential != nil {
			if rec, ok := s.sequential.GenerateNextStepRecommendation(ctx, originalRequest, working.Request, resp.Data); ok {
				resp.NextStep = rec
			}
		}
	}
	return resp
}

// snapshotTools returns the enabled-tool list, consulting the singleton
// registry snapshot cache first. When an enhancement store is configured,
// the latest approved enhanced descriptions are overlaid after the cache
// step, so the cached value stays a pure registry snapshot and a fresh
// enhancement takes effect without waiting out the snapshot TTL.
func (s *Service) snapshotTools(ctx context.Context) ([]domain.ToolDescriptor, error) {
	tools, ok := s.cache.GetRegistrySnapshot()
	if !ok {
		var err error
		tools, err = s.registry.ListEnabledTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("service: listing tools: %w", err)
		}
		s.cache.StoreRegistrySnapshot(tools)
	}

	if s.enhancements != nil {
		enhanced, err := s.enhancements.LoadAllEnhancedTools()
		if err != nil {
			s.logger.Warn("loading enhancements failed, ranking base descriptions", slog.Any("error", err))
			return tools, nil
		}
		tools = domain.ApplyEnhancements(tools, enhanced)
	}
	return tools, nil
}

// rank returns the ranked candidate list for working, consulting the
// tool-matches cache keyed on (request, context, threshold to two decimal
// places, selection mode).
func (s *Service) rank(ctx context.Context, working domain.DiscoveryRequest, tools []domain.ToolDescriptor, threshold float64) ([]domain.ToolMatch, error) {
	key := cache.ToolMatchesKey(working.Request, working.Context, fmt.Sprintf("%.2f", threshold), string(s.cfg.Ranker.Mode))
	if matches, ok := s.cache.GetToolMatches(key); ok {
		return matches, nil
	}
	matches, err := ranker.Rank(ctx, s.cfg.Ranker, ranker.Deps{Index: s.index, LLM: s.llm},
		working.Request, working.Context, tools, working.PreferredTools, threshold)
	if err != nil {
		return nil, err
	}
	s.cache.StoreToolMatches(key, matches)
	return matches, nil
}

// extract returns the parameter extraction for (working, tool), consulting
// the llm-extractions cache keyed on (request, tool, schema hash) so a
// schema change invalidates prior extractions even under an identical
// request string.
func (s *Service) extract(ctx context.Context, working domain.DiscoveryRequest, tool domain.ToolDescriptor) domain.ParameterExtraction {
	if s.llm == nil {
		return parammapper.WithoutLLM(tool)
	}
	key := cache.LLMExtractionKey(working.Request, tool.Name, parammapper.SchemaHash(tool.InputSchema))
	if extraction, ok := s.cache.GetLLMExtraction(key); ok {
		return extraction
	}
	extraction := s.extractor.Extract(ctx, working.Request, working.Context, tool)
	s.cache.StoreLLMExtraction(key, extraction)
	return extraction
}

// execute dispatches the selected tool through the router, if one is
// configured; without a router the response carries discovery-only data.
// Router failures keep the discovery metadata so a caller can still see
// what was selected and why.
func (s *Service) execute(ctx context.Context, req domain.DiscoveryRequest, tools []domain.ToolDescriptor, tool domain.ToolDescriptor, extraction domain.ParameterExtraction, meta domain.DiscoveryMetadata) domain.DiscoveryResponse {
	if s.router == nil {
		return domain.DiscoveryResponse{
			Success: true,
			Data: map[string]any{
				"tool":       tool.Name,
				"parameters": extraction.Parameters,
				"warnings":   extraction.Warnings,
			},
			Metadata: meta,
		}
	}

	call := domain.ToolCall{Name: tool.Name, Arguments: extraction.Parameters}
	result, err := s.router.Route(ctx, call, tool)
	if err != nil {
		kind := routeErrorKind(err)
		routeErrorsTotal.WithLabelValues(kind).Inc()
		discoveryTotal.WithLabelValues("routed_failure").Inc()
		s.logger.Warn("tool execution failed",
			slog.String("request_id", meta.RequestID),
			slog.String("tool", tool.Name),
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
		category := routeErrorCategory(kind)
		s.fallback.RecordFailure(req.Request, category)
		resp := domain.DiscoveryResponse{
			Success:      false,
			Error:        err.Error(),
			ErrorSummary: summaryFor(category),
			Data: map[string]any{
				"tool":       tool.Name,
				"parameters": extraction.Parameters,
			},
			Metadata: meta,
		}
		if req.IncludeErrorDetails {
			resp.ErrorDetails = s.errorDetails(category, err.Error(), meta, nil)
		}
		return resp
	}

	data := map[string]any{"execution_result": result.Data}
	if len(result.Metadata) > 0 {
		data["execution_metadata"] = result.Metadata
	}
	return domain.DiscoveryResponse{Success: true, Data: data, Metadata: meta}
}

// failure is the shared fallback path: record the failure pattern, run the
// fallback strategies, and assemble a structured error response. tools may
// be nil when the registry itself was unreachable.
func (s *Service) failure(ctx context.Context, req domain.DiscoveryRequest, tools []domain.ToolDescriptor, category domain.ErrorCategory, cause string, meta domain.DiscoveryMetadata) domain.DiscoveryResponse {
	_, span := tracer.Start(ctx, "service.failure")
	defer span.End()
	span.SetAttributes(attribute.String("category", string(category)))

	fallbackInvokedTotal.WithLabelValues(string(category)).Inc()
	discoveryTotal.WithLabelValues("fallback").Inc()

	s.fallback.RecordFailure(req.Request, category)
	fb := s.fallback.Execute(req.Request, tools)
	learned := s.fallback.GenerateLearnedSuggestions(req.Request)

	s.logger.Warn("discovery request failed",
		slog.String("request_id", meta.RequestID),
		slog.String("category", string(category)),
		slog.String("error", cause),
		slog.Int("suggestions", len(fb.Suggestions)),
	)

	resp := domain.DiscoveryResponse{
		Success:      false,
		Error:        cause,
		ErrorSummary: summaryFor(category),
		Data: map[string]any{
			"fallback_suggestions": fb.Suggestions,
			"learned_suggestions":  learned,
		},
		Metadata: meta,
	}
	if req.IncludeErrorDetails {
		resp.ErrorDetails = s.errorDetails(category, cause, meta, &fb)
	}
	return resp
}

// errorDetails assembles the opt-in diagnostic block.
func (s *Service) errorDetails(category domain.ErrorCategory, cause string, meta domain.DiscoveryMetadata, fb *domain.FallbackResult) *domain.ErrorDetails {
	diagnostics := map[string]any{
		"ranked_candidates": len(meta.RankedCandidates),
		"chosen_tool":       meta.ChosenTool,
		"extraction_status": string(meta.ExtractionStatus),
	}
	if fb != nil {
		diagnostics["strategies_attempted"] = fb.StrategiesAttempted
		diagnostics["viable_suggestions"] = fb.HasViableSuggestions
	}
	return &domain.ErrorDetails{
		TechnicalMessage: cause,
		Category:         category,
		Diagnostics:      diagnostics,
		Help:             summaryFor(category),
	}
}

// observeRankedPosition records the 1-based position of the executed tool
// in the ranked list, capped at rankedPositionCap.
func observeRankedPosition(matches []domain.ToolMatch, toolName string) {
	for i, m := range matches {
		if m.ToolName == toolName {
			pos := i + 1
			if pos > rankedPositionCap {
				pos = rankedPositionCap
			}
			rankedPositionHist.Observe(float64(pos))
			return
		}
	}
}
