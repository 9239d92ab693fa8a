// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config bundles every discovery component's tunables into a
// single YAML-loadable document: an embedded default, a pure Load
// function, struct-tag validation, and a sync.Once-cached process-wide
// accessor.
package config

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/cache"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedmanager"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/enhancestore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/fallback"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/parammapper"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/ranker"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/sequential"
)

//go:embed default_discovery.yaml
var defaultDiscoveryYAML []byte

var tracer = otel.Tracer("discovery.config")

// MaxYAMLFileSize bounds how large a config document Load will accept,
// independent of how it was read (embedded default or operator-supplied
// override).
const MaxYAMLFileSize = 1 << 20 // 1 MiB

// DiscoveryConfig bundles every tunable of the discovery pipeline
// into one document. Every nested Config mirrors the owning package's own
// programmatic DefaultConfig(); this package only adds YAML loading,
// validation, and a cached singleton on top.
type DiscoveryConfig struct {
	Enabled                    bool    `yaml:"enabled"`
	DefaultConfidenceThreshold float64 `yaml:"default_confidence_threshold" validate:"gte=0,lte=1"`
	EnableSequentialMode       bool    `yaml:"enable_sequential_mode"`
	IncludeErrorDetailsDefault bool    `yaml:"include_error_details_default"`

	Cache        cache.Config         `yaml:"cache"`
	Fallback     fallback.Config      `yaml:"fallback"`
	EmbedManager embedmanager.Config  `yaml:"embed_manager"`
	ParamMapper  parammapper.Config   `yaml:"param_mapper"`
	Semantic     semanticindex.Config `yaml:"semantic"`
	Ranker       ranker.Config        `yaml:"ranker"`
	Sequential   sequential.Config    `yaml:"sequential"`
	Enhancements enhancestore.Config  `yaml:"enhancements"`
}

// DefaultDiscoveryConfig returns the programmatic default, assembled from
// every component's own DefaultConfig(). It never fails and never reads
// the embedded YAML; it's the fallback a caller can use without any I/O.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		Enabled:                    true,
		DefaultConfidenceThreshold: 0.7,
		EnableSequentialMode:       true,
		IncludeErrorDetailsDefault: false,
		Cache:                      cache.DefaultConfig(),
		Fallback:                   fallback.DefaultConfig(),
		EmbedManager:               embedmanager.DefaultConfig(),
		ParamMapper:                parammapper.DefaultConfig(),
		Semantic:                   semanticindex.DefaultConfig(),
		Ranker:                     ranker.DefaultConfig(),
		Sequential:                 sequential.DefaultConfig(),
		Enhancements:               enhancestore.DefaultConfig(),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	discoveryConfigMu      sync.RWMutex
	discoveryConfigOnce    sync.Once
	cachedDiscoveryConfig  *DiscoveryConfig
	discoveryConfigLoadErr error
)

// GetDiscoveryConfig returns the process-wide cached configuration,
// loading the embedded default on first call. Thread-safe via sync.Once.
func GetDiscoveryConfig(ctx context.Context) (*DiscoveryConfig, error) {
	if ctx == nil {
		return nil, fmt.Errorf("GetDiscoveryConfig: ctx must not be nil")
	}

	discoveryConfigMu.RLock()
	if cachedDiscoveryConfig != nil || discoveryConfigLoadErr != nil {
		cfg, err := cachedDiscoveryConfig, discoveryConfigLoadErr
		discoveryConfigMu.RUnlock()
		return cfg, err
	}
	discoveryConfigMu.RUnlock()

	discoveryConfigMu.Lock()
	defer discoveryConfigMu.Unlock()

	if cachedDiscoveryConfig != nil || discoveryConfigLoadErr != nil {
		return cachedDiscoveryConfig, discoveryConfigLoadErr
	}

	discoveryConfigOnce.Do(func() {
		cachedDiscoveryConfig, discoveryConfigLoadErr = LoadDiscoveryConfig(ctx, defaultDiscoveryYAML)
	})
	return cachedDiscoveryConfig, discoveryConfigLoadErr
}

// ResetDiscoveryConfig clears the cached config so tests can reload with
// different data.
func ResetDiscoveryConfig() {
	discoveryConfigMu.Lock()
	defer discoveryConfigMu.Unlock()
	cachedDiscoveryConfig = nil
	discoveryConfigLoadErr = nil
	discoveryConfigOnce = sync.Once{}
}

// LoadDiscoveryConfig parses, defaults, and validates a DiscoveryConfig
// from YAML bytes. Pure: it never touches the process-wide cache.
func LoadDiscoveryConfig(ctx context.Context, data []byte) (*DiscoveryConfig, error) {
	_, span := tracer.Start(ctx, "config.LoadDiscoveryConfig")
	defer span.End()

	if len(data) == 0 {
		return nil, fmt.Errorf("LoadDiscoveryConfig: empty YAML data")
	}
	if len(data) > MaxYAMLFileSize {
		return nil, fmt.Errorf("LoadDiscoveryConfig: YAML data exceeds maximum size (%d > %d)", len(data), MaxYAMLFileSize)
	}

	cfg := DefaultDiscoveryConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("LoadDiscoveryConfig: parsing YAML: %w", err)
	}

	applyZeroValueDefaults(&cfg)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("LoadDiscoveryConfig: validation: %w", err)
	}

	span.SetAttributes(
		attribute.Bool("enabled", cfg.Enabled),
		attribute.String("ranker_mode", string(cfg.Ranker.Mode)),
		attribute.Float64("default_confidence_threshold", cfg.DefaultConfidenceThreshold),
	)
	slog.Info("discovery config loaded",
		slog.Bool("enabled", cfg.Enabled),
		slog.String("ranker_mode", string(cfg.Ranker.Mode)),
		slog.Float64("default_confidence_threshold", cfg.DefaultConfidenceThreshold),
	)
	return &cfg, nil
}

// applyZeroValueDefaults patches in a component default for any individual
// field a YAML document left unset, field by field, the way
// LoadPreFilterConfig backfills MinCandidates/MaxCandidates. A present
// mapping key in the document (e.g. an explicit "ranker:" section) resets
// the whole nested struct to its zero value before unmarshaling fills in
// the keys that section does supply, so every field needs its own
// fallback rather than relying on a single present/absent check per
// section.
func applyZeroValueDefaults(cfg *DiscoveryConfig) {
	d := DefaultDiscoveryConfig()

	if cfg.DefaultConfidenceThreshold == 0 {
		cfg.DefaultConfidenceThreshold = d.DefaultConfidenceThreshold
	}

	if cfg.Cache.ToolMatchesTTL == 0 {
		cfg.Cache.ToolMatchesTTL = d.Cache.ToolMatchesTTL
	}
	if cfg.Cache.ToolMatchesMaxSize == 0 {
		cfg.Cache.ToolMatchesMaxSize = d.Cache.ToolMatchesMaxSize
	}
	if cfg.Cache.LLMExtractionsTTL == 0 {
		cfg.Cache.LLMExtractionsTTL = d.Cache.LLMExtractionsTTL
	}
	if cfg.Cache.LLMExtractionsMaxSize == 0 {
		cfg.Cache.LLMExtractionsMaxSize = d.Cache.LLMExtractionsMaxSize
	}
	if cfg.Cache.RegistrySnapshotTTL == 0 {
		cfg.Cache.RegistrySnapshotTTL = d.Cache.RegistrySnapshotTTL
	}
	if cfg.Cache.RegistrySnapshotMaxSize == 0 {
		cfg.Cache.RegistrySnapshotMaxSize = d.Cache.RegistrySnapshotMaxSize
	}

	if cfg.Fallback.MaxFallbackSuggestions == 0 {
		cfg.Fallback.MaxFallbackSuggestions = d.Fallback.MaxFallbackSuggestions
	}
	if cfg.Fallback.MinConfidenceThreshold == 0 {
		cfg.Fallback.MinConfidenceThreshold = d.Fallback.MinConfidenceThreshold
	}

	if cfg.EmbedManager.CheckInterval == 0 {
		cfg.EmbedManager.CheckInterval = d.EmbedManager.CheckInterval
	}
	if cfg.EmbedManager.DebounceWindow == 0 {
		cfg.EmbedManager.DebounceWindow = d.EmbedManager.DebounceWindow
	}

	if cfg.ParamMapper.Model == "" {
		cfg.ParamMapper.Model = d.ParamMapper.Model
	}
	if cfg.ParamMapper.Timeout == 0 {
		cfg.ParamMapper.Timeout = d.ParamMapper.Timeout
	}
	if cfg.ParamMapper.MaxTokens == 0 {
		cfg.ParamMapper.MaxTokens = d.ParamMapper.MaxTokens
	}
	if cfg.ParamMapper.MaxRetries == 0 {
		cfg.ParamMapper.MaxRetries = d.ParamMapper.MaxRetries
	}

	if cfg.Semantic.ModelName == "" {
		cfg.Semantic.ModelName = d.Semantic.ModelName
	}
	if cfg.Semantic.MaxResults == 0 {
		cfg.Semantic.MaxResults = d.Semantic.MaxResults
	}
	if cfg.Semantic.SimilarityThreshold == 0 {
		cfg.Semantic.SimilarityThreshold = d.Semantic.SimilarityThreshold
	}

	if cfg.Ranker.Mode == "" {
		cfg.Ranker.Mode = d.Ranker.Mode
	}
	if cfg.Ranker.MaxToolsToConsider == 0 {
		cfg.Ranker.MaxToolsToConsider = d.Ranker.MaxToolsToConsider
	}
	if cfg.Ranker.SemanticMaxResults == 0 {
		cfg.Ranker.SemanticMaxResults = d.Ranker.SemanticMaxResults
	}
	if cfg.Ranker.LLM.Model == "" {
		cfg.Ranker.LLM.Model = d.Ranker.LLM.Model
	}
	if cfg.Ranker.LLM.MaxTokens == 0 {
		cfg.Ranker.LLM.MaxTokens = d.Ranker.LLM.MaxTokens
	}
	if cfg.Ranker.LLM.BatchSize == 0 {
		cfg.Ranker.LLM.BatchSize = d.Ranker.LLM.BatchSize
	}
	if cfg.Ranker.LLM.MaxContextTokens == 0 {
		cfg.Ranker.LLM.MaxContextTokens = d.Ranker.LLM.MaxContextTokens
	}
	if cfg.Ranker.LLM.MaxHighQualityMatches == 0 {
		cfg.Ranker.LLM.MaxHighQualityMatches = d.Ranker.LLM.MaxHighQualityMatches
	}
	if cfg.Ranker.LLM.HighQualityThreshold == 0 {
		cfg.Ranker.LLM.HighQualityThreshold = d.Ranker.LLM.HighQualityThreshold
	}
	if cfg.Ranker.LLM.ParallelBatches == 0 {
		cfg.Ranker.LLM.ParallelBatches = d.Ranker.LLM.ParallelBatches
	}
	if cfg.Ranker.HybridWeights == (ranker.HybridWeights{}) {
		cfg.Ranker.HybridWeights = d.Ranker.HybridWeights
	}

	if cfg.Enhancements.StorageDir == "" {
		cfg.Enhancements.StorageDir = d.Enhancements.StorageDir
	}
	if cfg.Enhancements.MaxStorageMB == 0 {
		cfg.Enhancements.MaxStorageMB = d.Enhancements.MaxStorageMB
	}
	if cfg.Enhancements.Cleanup.MaxAgeDays == 0 {
		cfg.Enhancements.Cleanup.MaxAgeDays = d.Enhancements.Cleanup.MaxAgeDays
	}
	if cfg.Enhancements.Cleanup.MaxVersionsPerTool == 0 {
		cfg.Enhancements.Cleanup.MaxVersionsPerTool = d.Enhancements.Cleanup.MaxVersionsPerTool
	}

	if cfg.Sequential.Model == "" {
		cfg.Sequential.Model = d.Sequential.Model
	}
	if cfg.Sequential.Timeout == 0 {
		cfg.Sequential.Timeout = d.Sequential.Timeout
	}
	if cfg.Sequential.MaxTokens == 0 {
		cfg.Sequential.MaxTokens = d.Sequential.MaxTokens
	}
}
