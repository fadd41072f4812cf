// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package indexcache holds the in-memory, size-bounded, access-time LRU of
// per-artist sub-indexes the matcher FSM's recording_search state consults
// before falling back to a catalog load. It owns every sub-index it caches;
// once evicted, the Go garbage collector reclaims it — there is no manual
// ownership transfer to track.
package indexcache

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/catalogmatch/mbmapper/subindex"
	"github.com/catalogmatch/mbmapper/telemetry"
)

var trimEvictedTotal = telemetry.NewCounter("indexcache", "trim_evicted_total", "Sub-index entries evicted by the background trimmer")

// cleaningTargetRatio is the fraction of MaxMemoryMB the background trimmer
// drives usage down to once triggered — a deliberate hysteresis band so a
// trim pass does not immediately re-trigger on the next poll.
const cleaningTargetRatio = 0.9

// trimBatchSize is the number of oldest-accessed entries evicted per pass,
// bounding how much lock time a single trim iteration holds.
const trimBatchSize = 10

// pollInterval is how often the background trimmer checks RSS against the
// memory budget.
const pollInterval = 30 * time.Second

// Cache is a size-bounded, access-time LRU over artist_credit_id →
// *subindex.Index.
//
// # Thread Safety
//
// Every exported method is safe for concurrent use. Map mutations are
// serialized by one mutex; the RSS probe used by Trim runs outside the
// lock, matching the original's "trim() may release the lock between
// eviction batches so readers progress."
type Cache struct {
	mu           sync.Mutex
	entries      map[int64]*subindex.Index
	lastAccessed map[int64]time.Time

	maxMemoryMB      int64
	cleaningTargetMB int64

	logger  *slog.Logger
	stopCh  chan struct{}
	stopped chan struct{}
}

// New returns a Cache bounded by maxMemoryMB of process RSS. The background
// trimmer is not started automatically; call Start to enable it.
func New(maxMemoryMB int, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	if maxMemoryMB <= 0 {
		maxMemoryMB = 100
	}
	return &Cache{
		entries:          make(map[int64]*subindex.Index),
		lastAccessed:     make(map[int64]time.Time),
		maxMemoryMB:      int64(maxMemoryMB),
		cleaningTargetMB: int64(float64(maxMemoryMB) * cleaningTargetRatio),
		logger:           logger.With("component", "indexcache"),
	}
}

// Get returns the cached sub-index for artistCreditID, bumping its last-
// accessed time on a hit.
func (c *Cache) Get(artistCreditID int64) (*subindex.Index, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.entries[artistCreditID]
	if ok {
		c.lastAccessed[artistCreditID] = time.Now()
	}
	return idx, ok
}

// Add inserts idx under artistCreditID. If an entry already exists for that
// id, the new one is discarded and the existing entry kept — at most one
// instance per id, matching the original cache's "already in cache" branch.
func (c *Cache) Add(artistCreditID int64, idx *subindex.Index) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[artistCreditID]; exists {
		return
	}
	c.entries[artistCreditID] = idx
	c.lastAccessed[artistCreditID] = time.Now()
}

// Len returns the number of cached sub-indexes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Trim repeatedly discards the oldest-accessed trimBatchSize entries until
// process RSS falls to cleaningTargetMB or the cache is empty.
func (c *Cache) Trim() {
	for {
		c.mu.Lock()
		if len(c.entries) == 0 {
			c.mu.Unlock()
			return
		}

		type accessPair struct {
			id int64
			at time.Time
		}
		pairs := make([]accessPair, 0, len(c.lastAccessed))
		for id, at := range c.lastAccessed {
			pairs = append(pairs, accessPair{id, at})
		}
		sort.Slice(pairs, func(i, j int) bool { return pairs[i].at.Before(pairs[j].at) })

		n := trimBatchSize
		if n > len(pairs) {
			n = len(pairs)
		}
		for i := 0; i < n; i++ {
			delete(c.entries, pairs[i].id)
			delete(c.lastAccessed, pairs[i].id)
		}
		c.mu.Unlock()
		trimEvictedTotal.Add(float64(n))

		rss, err := readRSSMB()
		if err != nil {
			c.logger.Warn("indexcache: rss probe failed during trim", slog.String("error", err.Error()))
			return
		}
		if rss <= c.cleaningTargetMB {
			return
		}
	}
}

// Start launches the background trimmer, which polls RSS every 30s and
// calls Trim when usage exceeds MaxMemoryMB. Stop (or ctx cancellation)
// terminates it.
func (c *Cache) Start(ctx context.Context) {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return
	}
	c.stopCh = make(chan struct{})
	c.stopped = make(chan struct{})
	stopCh := c.stopCh
	stopped := c.stopped
	c.mu.Unlock()

	baseline, err := readRSSMB()
	if err != nil {
		c.logger.Warn("indexcache: rss probe unavailable, background trimmer disabled", slog.String("error", err.Error()))
		close(stopped)
		return
	}
	c.logger.Info("indexcache trimmer started",
		slog.Int64("baseline_mb", baseline),
		slog.Int64("budget_mb", c.maxMemoryMB))

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-ticker.C:
				rss, err := readRSSMB()
				if err != nil {
					c.logger.Warn("indexcache: rss probe failed", slog.String("error", err.Error()))
					continue
				}
				if rss-baseline >= c.maxMemoryMB {
					c.Trim()
				}
			}
		}
	}()
}

// Stop halts the background trimmer started by Start. Safe to call even if
// Start was never called.
func (c *Cache) Stop() {
	c.mu.Lock()
	stopCh := c.stopCh
	stopped := c.stopped
	c.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}

// readRSSMB reads the current process's resident set size in megabytes from
// /proc/self/status, matching the original's VmRSS probe. On platforms
// without /proc (non-Linux, or a sandboxed environment), falls back to
// readRSSMBFallback's getrusage(2) probe.
func readRSSMB() (int64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return readRSSMBFallback()
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		return kb / 1024, nil
	}
	return readRSSMBFallback()
}
