// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package indexcache

import (
	"fmt"
	"strconv"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/catalogmatch/mbmapper/subindex"
)

// diskTierKeyPrefix namespaces sub-index keys within the shared BadgerDB
// instance, versioned so a future wire-format change can coexist with old
// entries during a rolling deploy rather than colliding.
const diskTierKeyPrefix = "subindex/v1/"

// DiskTier is an optional second caching tier backing the in-memory Cache:
// a BadgerDB instance persisting sub-index blobs across process restarts,
// so a cold-started worker doesn't have to rebuild every sub-index from the
// catalog snapshot before it can serve its first query for that artist.
// Generalizes the teacher's BadgerRouterCacheStore gob-encoding pattern
// directly against github.com/dgraph-io/badger/v4, since the wrapper type
// that pattern was built on is not part of this module.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions are per-goroutine.
type DiskTier struct {
	db *badger.DB
}

// OpenDiskTier opens (or creates) a BadgerDB instance at dir.
func OpenDiskTier(dir string) (*DiskTier, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("indexcache: open disk tier %s: %w", dir, err)
	}
	return &DiskTier{db: db}, nil
}

// Close releases the underlying BadgerDB instance.
func (d *DiskTier) Close() error {
	return d.db.Close()
}

// Get retrieves a persisted sub-index for artistCreditID. Returns
// (nil, false, nil) on a cache miss.
func (d *DiskTier) Get(artistCreditID int64) (*subindex.Index, bool, error) {
	var blob []byte
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(diskKey(artistCreditID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			blob = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false, fmt.Errorf("indexcache: disk tier get %d: %w", artistCreditID, err)
	}
	if blob == nil {
		return nil, false, nil
	}

	idx, err := subindex.FromBytes(blob)
	if err != nil {
		return nil, false, fmt.Errorf("indexcache: disk tier decode %d: %w", artistCreditID, err)
	}
	return idx, true, nil
}

// Put persists idx under artistCreditID, overwriting any prior entry.
func (d *DiskTier) Put(artistCreditID int64, idx *subindex.Index) error {
	blob, err := idx.Bytes()
	if err != nil {
		return fmt.Errorf("indexcache: disk tier serialize %d: %w", artistCreditID, err)
	}
	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set(diskKey(artistCreditID), blob)
	})
	if err != nil {
		return fmt.Errorf("indexcache: disk tier put %d: %w", artistCreditID, err)
	}
	return nil
}

func diskKey(artistCreditID int64) []byte {
	return []byte(diskTierKeyPrefix + strconv.FormatInt(artistCreditID, 10))
}
