// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enhancestore persists enhanced tool descriptions: versioned
// JSON files, one per stored enhancement, with an age- and
// version-count-based cleanup policy. The embedding manager and the
// discovery service read the latest approved enhancement per tool so
// enhanced descriptions, not raw registry ones, are what get embedded
// and ranked.
package enhancestore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

const (
	enhancementsSubdir = "enhancements"
	fileSuffix         = "_enhanced.json"
	versionLayout      = "20060102_150405"
)

// CleanupPolicy bounds how long and how many versions of an enhancement
// are retained.
type CleanupPolicy struct {
	MaxAgeDays         int  `yaml:"max_age_days" validate:"gte=0"`
	MaxVersionsPerTool int  `yaml:"max_versions_per_tool" validate:"gte=1"`
	CleanupOnStartup   bool `yaml:"cleanup_on_startup"`
}

// Config tunes the storage service.
type Config struct {
	Enabled           bool          `yaml:"enabled"`
	StorageDir        string        `yaml:"storage_dir"`
	MaxStorageMB      int64         `yaml:"max_storage_mb" validate:"gte=0"`
	Cleanup           CleanupPolicy `yaml:"cleanup_policy"`
	EnableVersioning  bool          `yaml:"enable_versioning"`
	AutoLoadOnStartup bool          `yaml:"auto_load_on_startup"`
}

// DefaultConfig returns the programmatic default storage configuration.
// Disabled by default: enhancement generation is an operator-driven
// pipeline, and with no stored enhancements an enabled store is just a
// directory scan per sync.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		StorageDir:   "./storage/enhanced_tools",
		MaxStorageMB: 512,
		Cleanup: CleanupPolicy{
			MaxAgeDays:         90,
			MaxVersionsPerTool: 5,
			CleanupOnStartup:   true,
		},
		EnableVersioning:  true,
		AutoLoadOnStartup: true,
	}
}

// storedEnhancedTool is the on-disk envelope: the enhancement plus the
// metadata needed for versioning and staleness checks.
type storedEnhancedTool struct {
	EnhancedTool domain.EnhancedToolDefinition `json:"enhanced_tool"`
	Metadata     storageMetadata               `json:"metadata"`
}

type storageMetadata struct {
	ID           string                                `json:"id"`
	ToolName     string                                `json:"tool_name"`
	StoredAt     time.Time                             `json:"stored_at"`
	Version      string                                `json:"version"`
	FilePath     string                                `json:"file_path"`
	BaseToolHash string                                `json:"base_tool_hash"`
	Generation   *domain.EnhancementGenerationMetadata `json:"generation_metadata,omitempty"`
}

// Service stores and retrieves enhanced tool descriptions under
// <StorageDir>/enhancements, one JSON file per stored version, named
// <tool>_<version>_<id8>_enhanced.json.
type Service struct {
	cfg    Config
	dir    string
	logger *slog.Logger
}

// New constructs a Service. logger may be nil (slog.Default is used).
func New(cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, dir: cfg.StorageDir, logger: logger}
}

// Initialize creates the storage directories and runs the startup cleanup
// if the policy asks for one.
func (s *Service) Initialize() error {
	if err := os.MkdirAll(s.enhancementsDir(), 0o755); err != nil {
		return fmt.Errorf("enhancestore: mkdir: %w", err)
	}
	if s.cfg.Cleanup.CleanupOnStartup {
		if err := s.CleanupOldEnhancements(); err != nil {
			return err
		}
	}
	s.logger.Info("enhancement storage initialized", slog.String("dir", s.dir))
	return nil
}

func (s *Service) enhancementsDir() string {
	return filepath.Join(s.dir, enhancementsSubdir)
}

// StoreEnhancedTool writes a new version of toolName's enhancement.
// baseToolHash is the content hash of the base descriptor at generation
// time, so staleness can be detected when the base tool later changes.
func (s *Service) StoreEnhancedTool(toolName string, enhanced domain.EnhancedToolDefinition, baseToolHash string) error {
	if err := os.MkdirAll(s.enhancementsDir(), 0o755); err != nil {
		return fmt.Errorf("enhancestore: mkdir: %w", err)
	}

	id := uuid.NewString()
	version := time.Now().UTC().Format(versionLayout)
	fileName := fmt.Sprintf("%s_%s_%s%s", toolName, version, id[:8], fileSuffix)
	path := filepath.Join(s.enhancementsDir(), fileName)

	stored := storedEnhancedTool{
		EnhancedTool: enhanced,
		Metadata: storageMetadata{
			ID:           id,
			ToolName:     toolName,
			StoredAt:     time.Now().UTC(),
			Version:      version,
			FilePath:     filepath.Join(enhancementsSubdir, fileName),
			BaseToolHash: baseToolHash,
			Generation:   enhanced.Generation,
		},
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("enhancestore: encode %q: %w", toolName, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("enhancestore: write %q: %w", path, err)
	}
	s.logger.Debug("stored enhanced tool",
		slog.String("tool", toolName), slog.String("version", version))

	if s.cfg.EnableVersioning {
		return s.cleanupOldVersionsForTool(toolName)
	}
	return nil
}

// LoadEnhancedTool returns the latest stored enhancement for toolName, or
// ok=false when none exists.
func (s *Service) LoadEnhancedTool(toolName string) (domain.EnhancedToolDefinition, bool, error) {
	path, ok, err := s.latestVersionPath(toolName)
	if err != nil || !ok {
		return domain.EnhancedToolDefinition{}, false, err
	}
	stored, err := s.loadStored(path)
	if err != nil {
		return domain.EnhancedToolDefinition{}, false, err
	}
	return stored.EnhancedTool, true, nil
}

// LoadAllEnhancedTools returns the latest stored enhancement per tool.
// A file that fails to parse is skipped with a warning rather than
// failing the whole load.
func (s *Service) LoadAllEnhancedTools() (map[string]domain.EnhancedToolDefinition, error) {
	out := make(map[string]domain.EnhancedToolDefinition)

	files, err := s.listEnhancementFiles()
	if err != nil {
		return nil, err
	}
	latest := make(map[string]enhancementFile)
	for _, f := range files {
		cur, seen := latest[f.tool]
		if !seen || f.version > cur.version {
			latest[f.tool] = f
		}
	}

	for tool, f := range latest {
		stored, err := s.loadStored(f.path)
		if err != nil {
			s.logger.Warn("skipping unreadable enhancement file",
				slog.String("path", f.path), slog.Any("error", err))
			continue
		}
		out[tool] = stored.EnhancedTool
	}
	return out, nil
}

// IsEnhancementCurrent reports whether the latest stored enhancement for
// toolName was generated against baseToolHash; false when none exists or
// the base tool has since changed.
func (s *Service) IsEnhancementCurrent(toolName, baseToolHash string) (bool, error) {
	path, ok, err := s.latestVersionPath(toolName)
	if err != nil || !ok {
		return false, err
	}
	stored, err := s.loadStored(path)
	if err != nil {
		return false, err
	}
	return stored.Metadata.BaseToolHash == baseToolHash, nil
}

// Stats is a point-in-time snapshot of the storage directory.
type Stats struct {
	TotalFiles            int
	TotalSizeBytes        int64
	ToolsWithEnhancements int
	OldestFile            time.Time
	NewestFile            time.Time
}

// Stats walks the enhancements directory and summarizes it.
func (s *Service) Stats() (Stats, error) {
	var st Stats
	files, err := s.listEnhancementFiles()
	if err != nil {
		return st, err
	}
	tools := make(map[string]bool)
	for _, f := range files {
		st.TotalFiles++
		tools[f.tool] = true
		if info, err := os.Stat(f.path); err == nil {
			st.TotalSizeBytes += info.Size()
			mod := info.ModTime()
			if st.OldestFile.IsZero() || mod.Before(st.OldestFile) {
				st.OldestFile = mod
			}
			if mod.After(st.NewestFile) {
				st.NewestFile = mod
			}
		}
	}
	st.ToolsWithEnhancements = len(tools)
	return st, nil
}

// CleanupOldEnhancements removes enhancement files older than the
// policy's maximum age.
func (s *Service) CleanupOldEnhancements() error {
	if s.cfg.Cleanup.MaxAgeDays <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-time.Duration(s.cfg.Cleanup.MaxAgeDays) * 24 * time.Hour)

	files, err := s.listEnhancementFiles()
	if err != nil {
		return err
	}
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f.path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f.path); err != nil {
				s.logger.Warn("failed to remove old enhancement file",
					slog.String("path", f.path), slog.Any("error", err))
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("cleaned up old enhancement files", slog.Int("removed", removed))
	}
	return nil
}

// cleanupOldVersionsForTool keeps only the newest MaxVersionsPerTool
// versions of toolName.
func (s *Service) cleanupOldVersionsForTool(toolName string) error {
	files, err := s.listEnhancementFiles()
	if err != nil {
		return err
	}
	var versions []enhancementFile
	for _, f := range files {
		if f.tool == toolName {
			versions = append(versions, f)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].version > versions[j].version })

	max := s.cfg.Cleanup.MaxVersionsPerTool
	if max < 1 {
		max = 1
	}
	for _, old := range versions[min(max, len(versions)):] {
		if err := os.Remove(old.path); err != nil {
			s.logger.Warn("failed to remove old enhancement version",
				slog.String("tool", toolName), slog.String("version", old.version), slog.Any("error", err))
		}
	}
	return nil
}

// enhancementFile is one parsed storage file name.
type enhancementFile struct {
	path    string
	tool    string
	version string
	id      string
}

// listEnhancementFiles scans the enhancements directory. A missing
// directory is an empty store, not an error.
func (s *Service) listEnhancementFiles() ([]enhancementFile, error) {
	entries, err := os.ReadDir(s.enhancementsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("enhancestore: read dir: %w", err)
	}
	out := make([]enhancementFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, ok := parseFileName(entry.Name())
		if !ok {
			continue
		}
		f.path = filepath.Join(s.enhancementsDir(), entry.Name())
		out = append(out, f)
	}
	return out, nil
}

// parseFileName decodes <tool>_<date>_<time>_<id8>_enhanced.json. Tool
// names routinely contain underscores, so parsing runs from the END of
// the name: the suffix, then the 8-char id, then the two fixed-width
// version segments; whatever remains is the tool name.
func parseFileName(name string) (enhancementFile, bool) {
	if !strings.HasSuffix(name, fileSuffix) {
		return enhancementFile{}, false
	}
	trimmed := strings.TrimSuffix(name, fileSuffix)

	parts := strings.Split(trimmed, "_")
	// tool(>=1 segment) + date + time + id
	if len(parts) < 4 {
		return enhancementFile{}, false
	}
	id := parts[len(parts)-1]
	date, clock := parts[len(parts)-3], parts[len(parts)-2]
	if len(id) != 8 || len(date) != 8 || len(clock) != 6 {
		return enhancementFile{}, false
	}
	version := date + "_" + clock
	if _, err := time.Parse(versionLayout, version); err != nil {
		return enhancementFile{}, false
	}
	tool := strings.Join(parts[:len(parts)-3], "_")
	if tool == "" {
		return enhancementFile{}, false
	}
	return enhancementFile{tool: tool, version: version, id: id}, true
}

// latestVersionPath finds the newest stored version for toolName.
func (s *Service) latestVersionPath(toolName string) (string, bool, error) {
	files, err := s.listEnhancementFiles()
	if err != nil {
		return "", false, err
	}
	var best *enhancementFile
	for i := range files {
		if files[i].tool != toolName {
			continue
		}
		if best == nil || files[i].version > best.version {
			best = &files[i]
		}
	}
	if best == nil {
		return "", false, nil
	}
	return best.path, true, nil
}

func (s *Service) loadStored(path string) (storedEnhancedTool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return storedEnhancedTool{}, fmt.Errorf("enhancestore: read %q: %w", path, err)
	}
	var stored storedEnhancedTool
	if err := json.Unmarshal(data, &stored); err != nil {
		return storedEnhancedTool{}, fmt.Errorf("enhancestore: parse %q: %w", path, err)
	}
	return stored, nil
}

var _ domain.EnhancementStore = (*Service)(nil)
