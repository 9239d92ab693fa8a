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
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/config"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedmanager"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/embedstore"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/semanticindex"
)

// runReindex loads the embedding store from --dir, reconciles it against
// the tool catalog, and persists the result.
func runReindex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	registry, err := loadCatalog(toolsFile)
	if err != nil {
		return err
	}
	cfg, err := config.GetDiscoveryConfig(ctx)
	if err != nil {
		return err
	}

	store := embedstore.New(embedstore.NewFileStore(embeddingDir, true))
	if err := store.Load(); err != nil {
		return err
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

	summary, err := manager.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("reindex complete: %d created, %d updated, %d removed, %d failed\n",
		summary.Created, summary.Updated, summary.Removed, summary.Failed)
	for _, op := range summary.Operations {
		if op.Error != "" {
			fmt.Printf("  %s: %s\n", op.ToolName, op.Error)
		}
	}

	if store.Dirty() {
		if err := store.Save(); err != nil {
			return err
		}
	}
	stats := store.Stats()
	fmt.Printf("store: %d tools, %d dims\n", stats.ToolCount, stats.Dims)
	return nil
}
