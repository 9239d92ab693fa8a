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
	"log/slog"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/config"
	"github.com/AleutianAI/smarttooldiscovery/services/discovery/enhancestore"
)

// buildEnhancementStore constructs the enhanced-description store when
// enabled by config or the --enhancements-dir flag (the flag both enables
// it and overrides the directory). Returns nil when disabled; callers pass
// nil through, which means base descriptions only.
func buildEnhancementStore(cfg *config.DiscoveryConfig, logger *slog.Logger) (*enhancestore.Service, error) {
	ecfg := cfg.Enhancements
	if enhancementsDir != "" {
		ecfg.Enabled = true
		ecfg.StorageDir = enhancementsDir
	}
	if !ecfg.Enabled {
		return nil, nil
	}
	s := enhancestore.New(ecfg, logger)
	if err := s.Initialize(); err != nil {
		return nil, err
	}
	return s, nil
}
