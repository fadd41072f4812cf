// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// mbmapper-cachedump inspects the Index Cache's on-disk tier: the BadgerDB
// instance that persists per-artist recording/release sub-indexes across
// process restarts.
//
// This tool opens the disk tier read-only and prints a human-readable
// summary: artist_credit_id, recording/release index sizes, and link-table
// row counts for each persisted sub-index.
//
// Usage:
//
//	mbmapper-cachedump [--path /path/to/disk/tier]
//
// If --path is not given, reads MBMAPPER_DISK_CACHE_DIR from the
// environment, falling back to ~/.mbmapper/cache/subindex/.
//
// Exit codes:
//
//	0 — success (including "empty cache" which prints a message and exits 0)
//	1 — error opening or reading the database
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/catalogmatch/mbmapper/subindex"
)

// diskTierKeyPrefix must match indexcache/disk.go exactly.
const diskTierKeyPrefix = "subindex/v1/"

func main() {
	pathFlag := flag.String("path", "", "Path to the sub-index disk-tier BadgerDB directory (overrides MBMAPPER_DISK_CACHE_DIR env var)")
	flag.Parse()

	dbPath := *pathFlag
	if dbPath == "" {
		dbPath = os.Getenv("MBMAPPER_DISK_CACHE_DIR")
	}
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			fatalf("cannot resolve home directory: %v", err)
		}
		dbPath = filepath.Join(home, ".mbmapper", "cache", "subindex")
	}

	fmt.Printf("Disk tier path: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("Disk tier directory does not exist. No sub-index has been persisted to disk yet.")
		os.Exit(0)
	}

	opts := dgbadger.DefaultOptions(dbPath).
		WithLogger(nil).
		WithReadOnly(true)

	db, err := dgbadger.Open(opts)
	if err != nil {
		fatalf("open BadgerDB at %s: %v", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	type entry struct {
		artistCreditID string
		rawSize        int
		idx            *subindex.Index
		decodeErr      error
	}

	var entries []entry

	err = db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(diskTierKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			id := strings.TrimPrefix(key, diskTierKeyPrefix)

			e := entry{artistCreditID: id}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				e.decodeErr = fmt.Errorf("copy value: %w", err)
				entries = append(entries, e)
				continue
			}
			e.rawSize = len(raw)

			idx, err := subindex.FromBytes(raw)
			if err != nil {
				e.decodeErr = fmt.Errorf("decode sub-index: %w", err)
			} else {
				e.idx = idx
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		fatalf("read BadgerDB: %v", err)
	}

	if len(entries) == 0 {
		fmt.Println("\nNo persisted sub-indexes found.")
		os.Exit(0)
	}

	sort.Slice(entries, func(i, j int) bool {
		ni, erri := strconv.ParseInt(entries[i].artistCreditID, 10, 64)
		nj, errj := strconv.ParseInt(entries[j].artistCreditID, 10, 64)
		if erri != nil || errj != nil {
			return entries[i].artistCreditID < entries[j].artistCreditID
		}
		return ni < nj
	})

	fmt.Printf("\nFound %d persisted sub-index%s:\n", len(entries), plural(len(entries)))
	fmt.Println(strings.Repeat("─", 72))

	linkTotal := 0
	for i, e := range entries {
		fmt.Printf("\n[%d] artist_credit_id: %s\n", i+1, e.artistCreditID)
		fmt.Printf("    Raw size:         %s\n", formatBytes(e.rawSize))

		if e.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", e.decodeErr)
			continue
		}

		links := 0
		for _, l := range e.idx.Links {
			links += len(l)
		}
		linkTotal += links

		fmt.Printf("    Recordings:       %d\n", e.idx.Recording.Size())
		fmt.Printf("    Releases:         %d\n", e.idx.Release.Size())
		fmt.Printf("    Link rows:        %d\n", links)
	}

	fmt.Printf("\n%s\n", strings.Repeat("─", 72))
	fmt.Printf("Summary: %d sub-index%s, %d total link rows, path: %s\n",
		len(entries), plural(len(entries)), linkTotal, dbPath)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "es"
}

func formatBytes(n int) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "mbmapper-cachedump: "+format+"\n", args...)
	os.Exit(1)
}
