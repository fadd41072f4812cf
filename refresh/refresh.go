// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package refresh subscribes to an external signal announcing that the
// offline build job has committed a new artist-level index blob set, and
// triggers an in-place artistindex.Set.Reload so the matcher picks up the
// new indexes without a process restart. A nil *Watcher reproduces the
// plain "loaded once at process start" behavior.
package refresh

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/catalogmatch/mbmapper/artistindex"
	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/telemetry"
)

// Subject is the NATS subject the offline build job publishes to after
// committing a new index blob set.
const Subject = "mbmapper.index.refresh"

var reloadTotal = telemetry.NewCounterVec("refresh", "reload_total", "Artist index reloads triggered by a refresh signal, by outcome", []string{"outcome"})

// Watcher subscribes to Subject and reloads an artistindex.Set whenever a
// message arrives.
type Watcher struct {
	sub    *nats.Subscription
	nc     *nats.Conn
	logger *slog.Logger
}

// Watch connects to natsURL and subscribes to Subject, calling
// set.Reload(ctx, snap) on every message. The caller owns snap's lifetime;
// Watch only reads from it.
func Watch(ctx context.Context, natsURL string, set *artistindex.Set, snap *catalog.Snapshot, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "refresh")

	nc, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("refresh: connect: %w", err)
	}

	sub, err := nc.Subscribe(Subject, func(msg *nats.Msg) {
		logger.Info("index refresh signal received", slog.Int("bytes", len(msg.Data)))
		if err := set.Reload(ctx, snap); err != nil {
			reloadTotal.WithLabelValues("error").Inc()
			logger.Error("index reload failed", slog.String("error", err.Error()))
			return
		}
		reloadTotal.WithLabelValues("success").Inc()
		logger.Info("artist index reloaded")
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("refresh: subscribe: %w", err)
	}

	return &Watcher{sub: sub, nc: nc, logger: logger}, nil
}

// Close unsubscribes and closes the NATS connection. Safe to call on a nil
// *Watcher.
func (w *Watcher) Close() error {
	if w == nil {
		return nil
	}
	if err := w.sub.Unsubscribe(); err != nil {
		w.nc.Close()
		return fmt.Errorf("refresh: unsubscribe: %w", err)
	}
	w.nc.Close()
	return nil
}
