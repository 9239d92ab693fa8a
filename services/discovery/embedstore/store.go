// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedstore is the keyed vector store: per-tool embeddings,
// metadata, and content hashes, with a dirty flag and pluggable
// persistence. Callers never see the internal maps directly, only
// AddToolEmbedding, RemoveToolEmbedding, Vectors, ContentHashes, Metadata,
// Dims, Dirty, Stats, Save, Load, per
// the "don't expose internal maps" design note.
package embedstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// ContentHash computes a stable hash over the fields that determine
// whether a tool's embedding needs regeneration: (name, description,
// enabled, hidden). Unrelated registry fields must never affect it.
func ContentHash(name, description string, enabled, hidden bool) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x1f%s\x1f%t\x1f%t", name, description, enabled, hidden)
	return hex.EncodeToString(h.Sum(nil))
}

// Store holds the three maps (vectors, metadata, content hashes) behind a
// single writer / many reader discipline, plus a dirty flag cleared only
// on successful persist.
type Store struct {
	mu      sync.RWMutex
	vectors map[string][]float32
	meta    map[string]domain.ToolEmbedMeta
	hashes  map[string]string
	dims    int
	dirty   bool

	backend Backend
}

// Backend is the persistence contract a Store delegates Save/Load to.
// FileStore and BadgerStore both satisfy it.
type Backend interface {
	Save(vectors map[string][]float32, meta map[string]domain.ToolEmbedMeta, hashes map[string]string) error
	Load() (vectors map[string][]float32, meta map[string]domain.ToolEmbedMeta, hashes map[string]string, err error)
}

// New constructs an empty Store backed by backend. backend may be nil, in
// which case Save/Load are no-ops and the store is purely in-memory.
func New(backend Backend) *Store {
	return &Store{
		vectors: make(map[string][]float32),
		meta:    make(map[string]domain.ToolEmbedMeta),
		hashes:  make(map[string]string),
		backend: backend,
	}
}

// ErrDimensionMismatch is returned by AddToolEmbedding when vec's length
// disagrees with the store's established dimensionality.
var ErrDimensionMismatch = fmt.Errorf("embedstore: vector dimensionality does not match store")

// AddToolEmbedding inserts or replaces the vector, metadata, and content
// hash for name atomically. The first insert establishes the store's
// dimensionality; subsequent inserts of a different length are rejected.
func (s *Store) AddToolEmbedding(name string, vec []float32, meta domain.ToolEmbedMeta, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.vectors) == 0 {
		s.dims = len(vec)
	} else if len(vec) != s.dims {
		return ErrDimensionMismatch
	}

	meta.Dims = len(vec)
	meta.ContentHash = hash
	s.vectors[name] = vec
	s.meta[name] = meta
	s.hashes[name] = hash
	s.dirty = true
	return nil
}

// RemoveToolEmbedding deletes the vector, metadata, and hash for name
// atomically. Reports whether the tool was present.
func (s *Store) RemoveToolEmbedding(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, present := s.vectors[name]
	if present {
		delete(s.vectors, name)
		delete(s.meta, name)
		delete(s.hashes, name)
		s.dirty = true
	}
	return present
}

// Vectors returns a defensive copy of the name → vector map for use by the
// semantic index's similarity scan.
func (s *Store) Vectors() map[string][]float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]float32, len(s.vectors))
	for k, v := range s.vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// ContentHashes returns a defensive copy of the name → content-hash map,
// used by the embedding manager's reconciliation.
func (s *Store) ContentHashes() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.hashes))
	for k, v := range s.hashes {
		out[k] = v
	}
	return out
}

// Metadata returns a defensive copy of one tool's metadata.
func (s *Store) Metadata(name string) (domain.ToolEmbedMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meta[name]
	return m, ok
}

// Dims reports the established vector dimensionality (0 if empty).
func (s *Store) Dims() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dims
}

// Dirty reports whether the store has unpersisted mutations.
func (s *Store) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dirty
}

// Stats is a point-in-time snapshot for the inspect CLI subcommand.
type Stats struct {
	ToolCount int
	Dims      int
	Dirty     bool
}

// Stats returns the store's current size and dimensionality.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{ToolCount: len(s.vectors), Dims: s.dims, Dirty: s.dirty}
}

// Save persists the store via its backend. A no-op (success, no I/O) when
// not dirty or when no backend is configured.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty || s.backend == nil {
		return nil
	}
	if err := s.backend.Save(s.vectors, s.meta, s.hashes); err != nil {
		return fmt.Errorf("embedstore: save: %w", err)
	}
	s.dirty = false
	return nil
}

// Load replaces the store's contents with whatever the backend holds. A
// no-op when no backend is configured.
func (s *Store) Load() error {
	if s.backend == nil {
		return nil
	}
	vectors, meta, hashes, err := s.backend.Load()
	if err != nil {
		return fmt.Errorf("embedstore: load: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors = vectors
	s.meta = meta
	s.hashes = hashes
	s.dims = 0
	for _, v := range vectors {
		s.dims = len(v)
		break
	}
	s.dirty = false
	return nil
}

// lastUpdatedEpoch is a small helper so callers constructing ToolEmbedMeta
// values get a consistent epoch timestamp.
func lastUpdatedEpoch() int64 {
	return time.Now().Unix()
}

// NewMeta builds a ToolEmbedMeta stamped with the current time.
func NewMeta(name, description string, enabled, hidden bool) domain.ToolEmbedMeta {
	return domain.ToolEmbedMeta{
		Name:             name,
		Description:      description,
		Enabled:          enabled,
		Hidden:           hidden,
		LastUpdatedEpoch: lastUpdatedEpoch(),
	}
}
