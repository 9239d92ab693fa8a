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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// DeterministicDims is the dimensionality of the development-mode
// pseudo-embedding when the model identifier implies nothing better.
const DeterministicDims = 384

// deterministicDimsFor picks the fallback dimensionality matching what
// the named model would have produced, so a store warmed offline stays
// dimension-compatible if the real provider comes online later.
func deterministicDimsFor(model string) int {
	switch {
	case strings.HasPrefix(model, "openai:text-embedding-3-small"):
		return 1536
	case strings.HasPrefix(model, "openai:text-embedding-3-large"):
		return 3072
	case strings.HasPrefix(model, "ollama:"):
		return 768
	case strings.HasPrefix(model, "external:"):
		return 768
	case model == "all-mpnet-base-v2":
		return 768
	default:
		return DeterministicDims
	}
}

// SchemeEmbedder dispatches Embed by the model identifier's scheme, per
// the external interfaces contract: "openai:<model>" calls the remote
// embeddings API using OPENAI_API_KEY; "ollama:<model>" calls a local
// Ollama instance; "external:<anything>" calls a configurable HTTP
// endpoint; "local:<path>" is reserved and currently falls back to the
// deterministic embedder; anything else (including an empty scheme) also
// falls back to the deterministic embedder, which is the intended
// development/offline mode rather than an error path.
type SchemeEmbedder struct {
	ExternalURL string
	HTTPClient  *http.Client
}

// NewSchemeEmbedder constructs a SchemeEmbedder reading EMBEDDING_API_URL
// for the "external:" scheme's endpoint.
func NewSchemeEmbedder() *SchemeEmbedder {
	return &SchemeEmbedder{
		ExternalURL: os.Getenv("EMBEDDING_API_URL"),
		HTTPClient:  http.DefaultClient,
	}
}

func (s *SchemeEmbedder) Embed(ctx context.Context, text string, model string) ([]float32, error) {
	scheme, rest, hasScheme := strings.Cut(model, ":")
	if !hasScheme {
		return DeterministicEmbedding(text, deterministicDimsFor(model)), nil
	}

	switch scheme {
	case "openai":
		return s.embedOpenAI(ctx, text, rest)
	case "ollama":
		return s.embedOllama(ctx, text, rest)
	case "external":
		return s.embedExternal(ctx, text, rest)
	case "local":
		// Reserved for a future on-disk model; falls back to deterministic.
		return DeterministicEmbedding(text, deterministicDimsFor(model)), nil
	default:
		return DeterministicEmbedding(text, deterministicDimsFor(model)), nil
	}
}

func (s *SchemeEmbedder) embedOpenAI(ctx context.Context, text, model string) ([]float32, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("semanticindex: OPENAI_API_KEY not set for openai: embedding scheme")
	}
	llm, err := openai.New(openai.WithToken(apiKey), openai.WithEmbeddingModel(model))
	if err != nil {
		return nil, fmt.Errorf("semanticindex: openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("semanticindex: openai embedder: %w", err)
	}
	vecs, err := embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("semanticindex: openai embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("semanticindex: openai embed returned no vectors")
	}
	return toFloat32(vecs[0]), nil
}

func (s *SchemeEmbedder) embedOllama(ctx context.Context, text, model string) ([]float32, error) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	llm, err := ollama.New(ollama.WithModel(model), ollama.WithServerURL(baseURL))
	if err != nil {
		return nil, fmt.Errorf("semanticindex: ollama client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("semanticindex: ollama embedder: %w", err)
	}
	vecs, err := embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("semanticindex: ollama embed: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("semanticindex: ollama embed returned no vectors")
	}
	return toFloat32(vecs[0]), nil
}

// externalEmbedRequest and externalEmbedResponse are the minimal wire
// contract the external: scheme assumes of the endpoint named by
// EMBEDDING_API_URL: text and model in, a single vector out.
type externalEmbedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type externalEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (s *SchemeEmbedder) embedExternal(ctx context.Context, text, model string) ([]float32, error) {
	if s.ExternalURL == "" {
		return nil, fmt.Errorf("semanticindex: EMBEDDING_API_URL not set for external: embedding scheme")
	}

	body, err := json.Marshal(externalEmbedRequest{Text: text, Model: model})
	if err != nil {
		return nil, fmt.Errorf("semanticindex: external embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.ExternalURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("semanticindex: external embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semanticindex: external embed call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("semanticindex: external embed endpoint returned %s", resp.Status)
	}

	var parsed externalEmbedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<22)).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("semanticindex: external embed response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("semanticindex: external embed endpoint returned an empty vector")
	}
	return parsed.Embedding, nil
}

func toFloat32(in []float32) []float32 {
	return in
}

// DeterministicEmbedding produces a deterministic pseudo-embedding of dims
// dimensions seeded from a hash of text, for development/offline mode. It
// is never used to rank production requests against a real catalog, only
// as a fallback when no real provider is configured.
func DeterministicEmbedding(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, dims)
	state := seed
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		// Map the top bits of a linear congruential step into [-1, 1].
		vec[i] = float32(int64(state>>40)%2000)/1000.0 - 1.0
	}
	return vec
}

var _ domain.EmbeddingClient = (*SchemeEmbedder)(nil)
