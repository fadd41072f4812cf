// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mbconfig

import (
	"context"
	"log/slog"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch watches path for writes and invokes onChange with a freshly loaded
// Config on each one. Only MaxCacheSizeMB and WorkerThreads from the new
// file are applied; a changed threshold is logged and ignored — thresholds
// are algorithm constants and must not drift out from under a running
// matcher. The returned stop func closes the underlying watcher.
func Watch(ctx context.Context, path string, current *Config, onChange func(*Config), logger *slog.Logger) (stop func() error, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				data, err := os.ReadFile(path)
				if err != nil {
					logger.Warn("mbconfig: reload read failed", slog.String("error", err.Error()))
					continue
				}
				next, err := Load(ctx, data)
				if err != nil {
					logger.Warn("mbconfig: reload parse/validate failed", slog.String("error", err.Error()))
					continue
				}
				updated := *current
				applyTunables(&updated, next, logger)
				current = &updated
				onChange(current)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("mbconfig: watch error", slog.String("error", err.Error()))
			}
		}
	}()

	return watcher.Close, nil
}

// applyTunables copies only the non-algorithmic fields from next onto
// current, logging and discarding any attempt to change a threshold.
func applyTunables(current, next *Config, logger *slog.Logger) {
	if next.ArtistThreshold != current.ArtistThreshold ||
		next.ReleaseThreshold != current.ReleaseThreshold ||
		next.RecordingThreshold != current.RecordingThreshold ||
		next.StupidArtistThreshold != current.StupidArtistThreshold {
		logger.Warn("mbconfig: threshold change in reloaded config ignored; thresholds are fixed at process start")
	}

	current.MaxCacheSizeMB = next.MaxCacheSizeMB
	current.WorkerThreads = next.WorkerThreads
}
