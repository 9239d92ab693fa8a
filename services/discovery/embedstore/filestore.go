// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedstore

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// binFormatVersion versions tool_embeddings.bin so a future format change
// can be migrated rather than silently misread.
const binFormatVersion = 1

const (
	embeddingsFile = "tool_embeddings.bin"
	metadataFile   = "tool_metadata.json"
	hashesFile     = "content_hashes.json"
	backupSuffix   = ".bak"
)

// FileStore persists a Store as three sibling files in dir:
// tool_embeddings.bin (gob-encoded vectors), tool_metadata.json, and
// content_hashes.json, each with an optional ".bak" backup. All three are
// written together after a successful dirty flush, using a
// temp-file-then-rename sequence so a crash mid-write never leaves a
// partially updated file.
type FileStore struct {
	dir        string
	autoBackup bool
}

// NewFileStore constructs a FileStore rooted at dir. The directory is
// created (including parents) on first Save if it does not exist.
func NewFileStore(dir string, autoBackup bool) *FileStore {
	return &FileStore{dir: dir, autoBackup: autoBackup}
}

type binEnvelope struct {
	Version int
	Vectors map[string][]float32
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name)
}

// Save is skipped entirely by the caller (Store.Save) when not dirty; once
// invoked it always writes all three files together.
func (f *FileStore) Save(vectors map[string][]float32, meta map[string]domain.ToolEmbedMeta, hashes map[string]string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("filestore: mkdir: %w", err)
	}

	binBuf := new(bytes.Buffer)
	if err := gob.NewEncoder(binBuf).Encode(binEnvelope{Version: binFormatVersion, Vectors: vectors}); err != nil {
		return fmt.Errorf("filestore: encode vectors: %w", err)
	}

	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode metadata: %w", err)
	}

	hashesJSON, err := json.MarshalIndent(hashes, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode hashes: %w", err)
	}

	if f.autoBackup {
		backupIfExists(f.path(embeddingsFile))
		backupIfExists(f.path(metadataFile))
		backupIfExists(f.path(hashesFile))
	}

	if err := writeFileAtomic(f.path(embeddingsFile), binBuf.Bytes()); err != nil {
		return fmt.Errorf("filestore: write %s: %w", embeddingsFile, err)
	}
	if err := writeFileAtomic(f.path(metadataFile), metaJSON); err != nil {
		return fmt.Errorf("filestore: write %s: %w", metadataFile, err)
	}
	if err := writeFileAtomic(f.path(hashesFile), hashesJSON); err != nil {
		return fmt.Errorf("filestore: write %s: %w", hashesFile, err)
	}
	return nil
}

// Load reads the three sibling files. Missing files are treated as an
// empty store rather than an error, so a fresh deployment degrades
// gracefully on first run.
func (f *FileStore) Load() (map[string][]float32, map[string]domain.ToolEmbedMeta, map[string]string, error) {
	vectors := map[string][]float32{}
	meta := map[string]domain.ToolEmbedMeta{}
	hashes := map[string]string{}

	if data, err := os.ReadFile(f.path(embeddingsFile)); err == nil {
		var env binEnvelope
		if derr := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); derr != nil {
			return nil, nil, nil, fmt.Errorf("filestore: decode %s: %w", embeddingsFile, derr)
		}
		if env.Version != binFormatVersion {
			return nil, nil, nil, fmt.Errorf("filestore: %s has unsupported version %d (want %d)", embeddingsFile, env.Version, binFormatVersion)
		}
		vectors = env.Vectors
	} else if !os.IsNotExist(err) {
		return nil, nil, nil, fmt.Errorf("filestore: read %s: %w", embeddingsFile, err)
	}

	if data, err := os.ReadFile(f.path(metadataFile)); err == nil {
		if uerr := json.Unmarshal(data, &meta); uerr != nil {
			return nil, nil, nil, fmt.Errorf("filestore: decode %s: %w", metadataFile, uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, nil, fmt.Errorf("filestore: read %s: %w", metadataFile, err)
	}

	if data, err := os.ReadFile(f.path(hashesFile)); err == nil {
		if uerr := json.Unmarshal(data, &hashes); uerr != nil {
			return nil, nil, nil, fmt.Errorf("filestore: decode %s: %w", hashesFile, uerr)
		}
	} else if !os.IsNotExist(err) {
		return nil, nil, nil, fmt.Errorf("filestore: read %s: %w", hashesFile, err)
	}

	return vectors, meta, hashes, nil
}

// PersistedFiles returns the absolute paths of the three files this store
// manages, for the embedding manager's file watcher to subscribe to.
func (f *FileStore) PersistedFiles() []string {
	return []string{f.path(embeddingsFile), f.path(metadataFile), f.path(hashesFile)}
}

func backupIfExists(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	_ = os.WriteFile(path+backupSuffix, data, 0o644)
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it into place, so readers never observe a partial write.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
