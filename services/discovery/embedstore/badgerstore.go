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
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/smarttooldiscovery/services/discovery/domain"
)

// BadgerStore is an embedded-KV-store alternative to FileStore, for
// deployments that would rather not manage three flat files directly. It
// satisfies the same Backend interface as FileStore.
//
// Keys are namespaced "discovery/emb/v1/<corpusHash>" where corpusHash is
// SHA256 over the sorted tool names and content hashes, so an unrelated
// registry mutation automatically invalidates the wrong snapshot instead
// of silently returning stale vectors. A single ANN-style index is
// deliberately not built on top of Badger: for the catalog sizes this
// service targets (tens to low thousands of tools) a full cosine scan in
// semanticindex is already sub-millisecond, so there is nothing for an
// index to speed up.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// DefaultBadgerTTL is long enough to survive a normal deploy cycle,
// short enough that a permanently abandoned corpus eventually reclaims
// disk.
const DefaultBadgerTTL = 7 * 24 * time.Hour

// NewBadgerStore opens (or creates) a Badger database rooted at dir.
func NewBadgerStore(dir string, ttl time.Duration) (*BadgerStore, error) {
	if ttl <= 0 {
		ttl = DefaultBadgerTTL
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open: %w", err)
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying Badger database handle.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

type badgerEnvelope struct {
	Vectors map[string][]float32
	Meta    map[string]domain.ToolEmbedMeta
	Hashes  map[string]string
}

func corpusHashKey(hashes map[string]string) string {
	names := make([]string, 0, len(hashes))
	for name := range hashes {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s;", name, hashes[name])
	}
	return "discovery/emb/v1/" + hex.EncodeToString(h.Sum(nil))
}

// Save writes the full snapshot under a key derived from the content
// hashes, so a later Load against a different registry state misses
// rather than returning data for the wrong corpus.
func (b *BadgerStore) Save(vectors map[string][]float32, meta map[string]domain.ToolEmbedMeta, hashes map[string]string) error {
	buf := new(bytes.Buffer)
	if err := gob.NewEncoder(buf).Encode(badgerEnvelope{Vectors: vectors, Meta: meta, Hashes: hashes}); err != nil {
		return fmt.Errorf("badgerstore: encode: %w", err)
	}

	key := corpusHashKey(hashes)
	return b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), buf.Bytes()).WithTTL(b.ttl)
		return txn.SetEntry(entry)
	})
}

// Load has no corpus hash to key off until it has read something, so it
// scans the namespace for the most recently written entry. In practice a
// BadgerStore-backed deployment calls Load once at startup against
// whatever was last Saved.
func (b *BadgerStore) Load() (map[string][]float32, map[string]domain.ToolEmbedMeta, map[string]string, error) {
	var env *badgerEnvelope
	var newest uint64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("discovery/emb/v1/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if env != nil && item.Version() < newest {
				continue
			}
			err := item.Value(func(val []byte) error {
				var e badgerEnvelope
				if derr := gob.NewDecoder(bytes.NewReader(val)).Decode(&e); derr != nil {
					return derr
				}
				env = &e
				newest = item.Version()
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("badgerstore: load: %w", err)
	}
	if env == nil {
		return map[string][]float32{}, map[string]domain.ToolEmbedMeta{}, map[string]string{}, nil
	}
	return env.Vectors, env.Meta, env.Hashes, nil
}
