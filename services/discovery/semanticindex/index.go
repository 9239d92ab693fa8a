// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semanticindex wraps an embedding provider and an embedstore.Store
// to perform cosine-similarity top-k search. Warm-up embeds a whole
// tool catalog in parallel, degrading per-tool on individual failures
// rather than failing the batch.
package semanticindex

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
)

var tracer = otel.Tracer("discovery.semanticindex")

// warmConcurrency bounds the number of concurrent embedding calls during
// Warm.
const warmConcurrency = 10

// queryTimeout bounds a single embedding call.
const queryTimeout = 3 * time.Second

// SemanticMatch is one similarity-ranked candidate, prior to conversion
// into a domain.ToolMatch by the ranker.
type SemanticMatch struct {
	ToolName   string
	Similarity float64
}

// Config tunes the index's search behavior.
type Config struct {
	ModelName           string  `yaml:"model_name"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	MaxResults          int     `yaml:"max_results" validate:"gte=0"`
	NormalizeEmbeddings bool    `yaml:"normalize_embeddings"`
}

// DefaultConfig returns the programmatic default search configuration.
func DefaultConfig() Config {
	return Config{
		ModelName:           "local:deterministic",
		SimilarityThreshold: 0.7,
		MaxResults:          10,
		NormalizeEmbeddings: true,
	}
}

// Index is the semantic search layer over a Store.
type Index struct {
	store    *embedstore.Store
	embedder domain.EmbeddingClient
	cfg      Config
	logger   *slog.Logger
}

// New constructs an Index. logger may be nil, in which case slog.Default
// is used.
func New(store *embedstore.Store, embedder domain.EmbeddingClient, cfg Config, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{store: store, embedder: embedder, cfg: cfg, logger: logger}
}

// Warm computes embeddings for every tool in specs in parallel, adding
// each to the store. A per-tool failure is logged and that tool simply
// never gets a vector (it scores 0 in search) rather than aborting the
// whole warm-up.
func (idx *Index) Warm(ctx context.Context, specs []domain.ToolDescriptor) error {
	ctx, span := tracer.Start(ctx, "semanticindex.Warm")
	defer span.End()
	span.SetAttributes(attribute.Int("tool_count", len(specs)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)

	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			if err := idx.Upsert(gctx, spec); err != nil {
				idx.logger.Warn("semantic index warm-up: embedding failed for tool, tool will score 0",
					slog.String("tool", spec.Name), slog.Any("error", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Upsert embeds one tool and stores vector, metadata, and content hash,
// returning the failure instead of swallowing it; the embedding manager
// relies on this to count per-tool failures in its change summary.
func (idx *Index) Upsert(ctx context.Context, spec domain.ToolDescriptor) error {
	vec, err := idx.embedOne(ctx, spec)
	if err != nil {
		return err
	}
	hash := embedstore.ContentHash(spec.Name, spec.Description, spec.Enabled, spec.Hidden)
	meta := embedstore.NewMeta(spec.Name, spec.Description, spec.Enabled, spec.Hidden)
	return idx.store.AddToolEmbedding(spec.Name, vec, meta, hash)
}

func (idx *Index) embedOne(ctx context.Context, spec domain.ToolDescriptor) ([]float32, error) {
	cctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	text := spec.Name + " " + spec.Description
	vec, err := idx.embedder.Embed(cctx, text, idx.cfg.ModelName)
	if err != nil {
		return nil, err
	}
	if idx.cfg.NormalizeEmbeddings {
		normalize(vec)
	}
	return vec, nil
}

// SearchSimilar embeds query once and returns the tools whose stored
// vector has cosine similarity >= SimilarityThreshold, sorted by
// descending similarity and truncated to topK, or to MaxResults when that
// is set and smaller.
func (idx *Index) SearchSimilar(ctx context.Context, query string, topK int) ([]SemanticMatch, error) {
	ctx, span := tracer.Start(ctx, "semanticindex.SearchSimilar")
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	queryVec, err := idx.embedder.Embed(cctx, query, idx.cfg.ModelName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if idx.cfg.NormalizeEmbeddings {
		normalize(queryVec)
	}

	vectors := idx.store.Vectors()
	matches := make([]SemanticMatch, 0, len(vectors))
	for name, vec := range vectors {
		sim := cosineSimilarity(queryVec, vec)
		if sim >= idx.cfg.SimilarityThreshold {
			matches = append(matches, SemanticMatch{ToolName: name, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})

	max := topK
	if idx.cfg.MaxResults > 0 && idx.cfg.MaxResults < max {
		max = idx.cfg.MaxResults
	}
	if max > 0 && len(matches) > max {
		matches = matches[:max]
	}
	span.SetAttributes(attribute.Int("match_count", len(matches)))
	return matches, nil
}

// cosineSimilarity returns 0 (never a hard error) when a and b have
// mismatched dimensionality; callers that want to surface that as a
// warning should compare len(a) != len(b) themselves before calling.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := math.Sqrt(sumSquares)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}
