// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the chat-completion transport the discovery core treats
// as an external collaborator: a prompt in, a string out. Provider wire
// formats (OpenAI, Anthropic, Ollama) are handled by langchaingo rather
// than the bespoke per-provider clients this package used to carry, so
// every provider is reachable through the single domain.LLMClient
// contract the ranker's LLM mode and the parameter mapper consume.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// Provider selects which langchaingo backend Client dispatches to.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// Config selects a provider and its connection details.
type Config struct {
	Provider Provider
	Model    string
	BaseURL  string  // only meaningful for ollama
	APIKey   string  // falls back to the provider's environment variable if empty
	RPS      float64 // client-side request rate cap; 0 disables limiting
	Burst    int     // rate-limiter burst; defaults to 1 when RPS is set
}

// Client adapts a langchaingo llms.Model to domain.LLMClient, so the
// ranker's LLM mode and the parameter mapper never import a
// provider-specific SDK directly.
type Client struct {
	model   llms.Model
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New constructs a Client for cfg.Provider. logger may be nil (slog.Default
// is used); every error returned to the caller has had SafeLogString
// applied so a leaked credential never reaches a log sink through an error
// message.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	model, err := buildModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("llm: %s", SafeLogString(err.Error()))
	}
	var limiter *rate.Limiter
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{model: model, limiter: limiter, logger: logger}, nil
}

func buildModel(cfg Config) (llms.Model, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("OPENAI_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY not set")
		}
		return openai.New(openai.WithToken(key), openai.WithModel(cfg.Model))
	case ProviderAnthropic:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return anthropic.New(anthropic.WithToken(key), anthropic.WithModel(cfg.Model))
	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("OLLAMA_BASE_URL")
		}
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(baseURL))
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// CallLLM satisfies domain.LLMClient: a single-turn completion over prompt,
// honoring opts.Temperature/MaxTokens and a per-call timeout derived from
// opts.Timeout (0 means the caller's context governs instead). When a
// client-side rate limit is configured, the call waits for a slot first;
// a context expiring during that wait surfaces as a rate-limit error.
func (c *Client) CallLLM(ctx context.Context, prompt string, opts domain.LLMCallOptions) (string, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.Timeout)*time.Second)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("llm: rate limit wait: %w", err)
		}
	}

	callOpts := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := llms.GenerateFromSinglePrompt(ctx, c.model, prompt, callOpts...)
	if err != nil {
		c.logger.Warn("llm: call failed", slog.String("error", SafeLogString(err.Error())))
		return "", fmt.Errorf("llm: call: %s", SafeLogString(err.Error()))
	}
	return resp, nil
}

var _ domain.LLMClient = (*Client)(nil)
