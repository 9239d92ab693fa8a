// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/config"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedmanager"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/ranker"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/service"
	"github.com/AleutianAI/smarttooldiscovery/services/llm"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("33")).Bold(true)
)

func runServeDemo(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	shutdownTelemetry, err := initTelemetry(ctx, traceStdout, metricsAddr, logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	registry, err := loadCatalog(toolsFile)
	if err != nil {
		return err
	}

	cfg, err := config.GetDiscoveryConfig(ctx)
	if err != nil {
		return err
	}

	var llmClient domain.LLMClient
	if providerName != "" {
		client, err := llm.New(llm.Config{Provider: llm.Provider(providerName), Model: modelName}, logger)
		if err != nil {
			return err
		}
		llmClient = client
	} else if cfg.Ranker.Mode == ranker.ModeLLM || cfg.Ranker.Mode == ranker.ModeHybrid {
		// Without a provider the LLM stages can't run; rule mode keeps the
		// demo usable offline.
		cfg.Ranker.Mode = ranker.ModeRule
	}

	fileStore := embedstore.NewFileStore(embeddingDir, true)
	store := embedstore.New(fileStore)
	if err := store.Load(); err != nil {
		logger.Warn("starting with an empty embedding store", slog.String("error", err.Error()))
	}
	index := semanticindex.New(store, semanticindex.NewSchemeEmbedder(), cfg.Semantic, logger)

	enhancements, err := buildEnhancementStore(cfg, logger)
	if err != nil {
		return err
	}

	var manager *embedmanager.Manager
	if enhancements != nil {
		manager = embedmanager.NewWithEnhancements(registry, store, index, enhancements, cfg.EmbedManager, logger)
	} else {
		manager = embedmanager.New(registry, store, index, cfg.EmbedManager, logger)
	}
	if summary, err := manager.Sync(ctx); err != nil {
		logger.Warn("initial embedding sync failed", slog.String("error", err.Error()))
	} else {
		fmt.Println(dimStyle.Render(fmt.Sprintf("embedding sync: %d created, %d updated, %d removed, %d failed",
			summary.Created, summary.Updated, summary.Removed, summary.Failed)))
	}
	manager.Start(ctx)
	defer manager.Stop()

	if watcher, werr := embedmanager.NewWatcher(embeddingDir, fileStore.PersistedFiles(), manager, cfg.EmbedManager.DebounceWindow, logger); werr != nil {
		logger.Warn("embedding file watcher unavailable", slog.String("error", werr.Error()))
	} else {
		go watcher.Run(ctx)
	}

	deps := service.Deps{
		Registry: registry,
		Router:   echoRouter{},
		LLM:      llmClient,
		Index:    index,
	}
	if enhancements != nil {
		deps.Enhancements = enhancements
	}
	svc, err := service.New(deps, cfg, logger)
	if err != nil {
		return err
	}

	fmt.Println(dimStyle.Render(`Type a request ("read the config file"), or "exit" to quit.`))

	for {
		var request string
		prompt := huh.NewInput().
			Title("discover").
			Placeholder("what do you want to do?").
			Value(&request)
		if err := prompt.Run(); err != nil {
			return nil // ctrl-c in the prompt
		}
		if request == "" {
			continue
		}
		if request == "exit" || request == "quit" {
			return nil
		}

		resp := svc.DiscoverAndExecute(ctx, domain.DiscoveryRequest{Request: request})
		printResponse(resp)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printResponse(resp domain.DiscoveryResponse) {
	if resp.Success {
		fmt.Printf("%s %s %s\n",
			successStyle.Render("ok"),
			toolStyle.Render(resp.Metadata.ChosenTool),
			dimStyle.Render(fmt.Sprintf("(confidence %.2f)", resp.Metadata.Confidence)),
		)
		fmt.Println(dimStyle.Render("  " + resp.Metadata.Reasoning))
	} else {
		fmt.Printf("%s %s\n", failStyle.Render("failed"), resp.ErrorSummary)
		if resp.Error != "" {
			fmt.Println(dimStyle.Render("  " + resp.Error))
		}
	}

	if data, err := json.MarshalIndent(resp.Data, "  ", "  "); err == nil {
		fmt.Println("  " + string(data))
	}
	if resp.NextStep != nil {
		fmt.Printf("%s %s\n", dimStyle.Render("next:"), resp.NextStep.SuggestedRequest)
	}
	if len(resp.Metadata.RankedCandidates) > 1 {
		fmt.Println(dimStyle.Render("  candidates:"))
		for i, c := range resp.Metadata.RankedCandidates {
			if i >= 5 {
				break
			}
			fmt.Println(dimStyle.Render(fmt.Sprintf("    %d. %s (%.2f)", i+1, c.ToolName, c.Confidence)))
		}
	}
}
