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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDeterministicEmbedding_StableAndSized(t *testing.T) {
	a := DeterministicEmbedding("read a file", 32)
	b := DeterministicEmbedding("read a file", 32)
	if len(a) != 32 {
		t.Fatalf("expected 32 dims, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at dim %d", i)
		}
	}
}

func TestDeterministicEmbedding_DiffersAcrossTexts(t *testing.T) {
	a := DeterministicEmbedding("read a file", 16)
	b := DeterministicEmbedding("make an http request", 16)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different texts to produce different embeddings")
	}
}

func TestSchemeEmbedder_NoSchemeFallsBackToDeterministic(t *testing.T) {
	s := NewSchemeEmbedder()
	vec, err := s.Embed(context.Background(), "read a file", "plainmodel")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != DeterministicDims {
		t.Fatalf("expected %d dims from the fallback embedder, got %d", DeterministicDims, len(vec))
	}
}

func TestSchemeEmbedder_LocalSchemeFallsBack(t *testing.T) {
	s := NewSchemeEmbedder()
	vec, err := s.Embed(context.Background(), "read a file", "local:/models/mini")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != DeterministicDims {
		t.Fatalf("expected deterministic fallback for local:, got %d dims", len(vec))
	}
}

func TestSchemeEmbedder_ExternalSchemeCallsEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req externalEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Text == "" {
			http.Error(w, "missing text", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(externalEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	s := &SchemeEmbedder{ExternalURL: srv.URL, HTTPClient: srv.Client()}
	vec, err := s.Embed(context.Background(), "read a file", "external:whatever")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector from external endpoint: %v", vec)
	}
}

func TestSchemeEmbedder_ExternalSchemeErrorsSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := &SchemeEmbedder{ExternalURL: srv.URL, HTTPClient: srv.Client()}
	if _, err := s.Embed(context.Background(), "read a file", "external:whatever"); err == nil {
		t.Fatal("expected an error for a non-200 response")
	}
}

func TestSchemeEmbedder_ExternalSchemeRequiresURL(t *testing.T) {
	s := &SchemeEmbedder{}
	if _, err := s.Embed(context.Background(), "read a file", "external:whatever"); err == nil {
		t.Fatal("expected an error when EMBEDDING_API_URL is unset")
	}
}
