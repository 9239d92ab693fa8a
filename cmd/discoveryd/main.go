// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command discoveryd exercises the smart tool discovery pipeline from the
// terminal.
//
// Usage:
//
//	go run ./cmd/discoveryd serve-demo
//	go run ./cmd/discoveryd reindex --dir ./embeddings --tools tools.yaml
//	go run ./cmd/discoveryd inspect --dir ./embeddings
//
// With a real LLM provider (parameter extraction and LLM ranking):
//
//	OLLAMA_BASE_URL=http://localhost:11434 go run ./cmd/discoveryd serve-demo --provider ollama --model ministral-3:3b
//	OPENAI_API_KEY=... go run ./cmd/discoveryd serve-demo --provider openai --model gpt-4o-mini
//
// Without a provider, serve-demo still ranks (rule mode + deterministic
// development embeddings) but skips parameter extraction.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	embeddingDir    string
	providerName    string
	modelName       string
	toolsFile       string
	traceStdout     bool
	metricsAddr     string
	enhancementsDir string
)

func main() {
	root := &cobra.Command{
		Use:   "discoveryd",
		Short: "Smart tool discovery service CLI",
		Long:  "discoveryd ranks a tool catalog against natural-language requests,\nextracts invocation parameters, and manages the semantic embedding index.",
	}
	root.PersistentFlags().StringVar(&embeddingDir, "dir", "./embeddings", "embedding store directory")
	root.PersistentFlags().StringVar(&enhancementsDir, "enhancements-dir", "", "enhanced tool description storage directory (empty disables enhancements)")

	serveCmd := &cobra.Command{
		Use:   "serve-demo",
		Short: "Interactive discovery loop over a demo tool catalog",
		RunE:  runServeDemo,
	}
	serveCmd.Flags().StringVar(&providerName, "provider", "", "LLM provider: openai, anthropic, ollama (empty disables LLM stages)")
	serveCmd.Flags().StringVar(&modelName, "model", "", "LLM model name")
	serveCmd.Flags().StringVar(&toolsFile, "tools", "", "YAML tool catalog (defaults to the built-in demo catalog)")
	serveCmd.Flags().BoolVar(&traceStdout, "trace", false, "print OTel spans to stdout")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	reindexCmd := &cobra.Command{
		Use:   "reindex",
		Short: "Reconcile the embedding store with a tool catalog",
		RunE:  runReindex,
	}
	reindexCmd.Flags().StringVar(&toolsFile, "tools", "", "YAML tool catalog (defaults to the built-in demo catalog)")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Browse the persisted embedding store in a TUI",
		RunE:  runInspect,
	}

	root.AddCommand(serveCmd, reindexCmd, inspectCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
