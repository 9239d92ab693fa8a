// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semanticindex

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// RemoteIndex is an ANN-backed alternative to Index for catalogs large
// enough that a full in-memory cosine scan is no longer the cheaper
// option (the in-process Index is the default; see embedstore's Badger
// design note for why small-to-medium catalogs never need this). It
// delegates the nearest-neighbor query to a Weaviate class instead of
// scanning embedstore's vectors directly. It is a separate type, not
// interchangeable with Index: its SearchSimilar takes a query vector
// rather than query text, and the ranker does not call it.
type RemoteIndex struct {
	client    *weaviate.Client
	className string
}

// NewRemoteIndex constructs a RemoteIndex against a Weaviate instance at
// host (e.g. "localhost:8080") targeting className.
func NewRemoteIndex(scheme, host, className string) (*RemoteIndex, error) {
	cfg := weaviate.Config{Scheme: scheme, Host: host}
	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("semanticindex: weaviate client: %w", err)
	}
	return &RemoteIndex{client: client, className: className}, nil
}

// UpsertToolVector writes one tool's vector and description to the
// Weaviate class as a new object; an object already stored for the same
// tool is not replaced.
func (r *RemoteIndex) UpsertToolVector(ctx context.Context, toolName, description string, vec []float32) error {
	props := map[string]any{
		"toolName":    toolName,
		"description": description,
	}
	_, err := r.client.Data().Creator().
		WithClassName(r.className).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("semanticindex: weaviate upsert: %w", err)
	}
	return nil
}

// SearchSimilar runs a nearVector GraphQL query against Weaviate and
// returns matches in the same SemanticMatch shape Index.SearchSimilar
// returns.
func (r *RemoteIndex) SearchSimilar(ctx context.Context, queryVec []float32, topK int) ([]SemanticMatch, error) {
	nearVector := r.client.GraphQL().NearVectorArgBuilder().WithVector(queryVec)

	result, err := r.client.GraphQL().Get().
		WithClassName(r.className).
		WithFields(graphql.Field{Name: "toolName"}, graphql.Field{Name: "_additional{certainty}"}).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("semanticindex: weaviate search: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("semanticindex: weaviate graphql error: %v", result.Errors)
	}

	return parseWeaviateResult(result.Data, r.className), nil
}

func parseWeaviateResult(data map[string]models.JSONObject, className string) []SemanticMatch {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := get[className].([]any)
	if !ok {
		return nil
	}

	matches := make([]SemanticMatch, 0, len(rows))
	for _, row := range rows {
		obj, ok := row.(map[string]any)
		if !ok {
			continue
		}
		name, _ := obj["toolName"].(string)
		var certainty float64
		if additional, ok := obj["_additional"].(map[string]any); ok {
			certainty, _ = additional["certainty"].(float64)
		}
		if name == "" {
			continue
		}
		matches = append(matches, SemanticMatch{ToolName: name, Similarity: certainty})
	}
	return matches
}
