// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resolver implements the Metadata Resolver: given a
// (release_id, recording_id) pair chosen by the matcher FSM, it loads the
// full catalog metadata — MBIDs and display names — needed to answer a
// query.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/catalogmatch/mbmapper/catalog"
)

// Row is the resolved metadata for one catalog triple.
type Row struct {
	ArtistCreditID   int64
	ArtistCreditName string
	ArtistMBIDs      []string
	ReleaseID        int64
	ReleaseName      string
	ReleaseMBID      string
	RecordingID      int64
	RecordingName    string
	RecordingMBID    string
}

// Resolve loads artist_mbids (parsed from the comma-separated column),
// artist_credit_name, release_mbid, release_name, recording_mbid, and
// recording_name for (releaseID, recordingID). If releaseID is zero (the
// synthetic unknown-release branch), falls back to the lowest-score row
// matching recordingID alone. Returns (nil, nil) when no row exists.
func Resolve(ctx context.Context, snap *catalog.Snapshot, releaseID, recordingID int64) (*Row, error) {
	return ResolveWithLogger(ctx, snap, releaseID, recordingID, nil)
}

// ResolveWithLogger is Resolve with an explicit logger for malformed-MBID
// diagnostics; Resolve uses slog.Default().
func ResolveWithLogger(ctx context.Context, snap *catalog.Snapshot, releaseID, recordingID int64, logger *slog.Logger) (*Row, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		row catalog.MappingRow
		ok  bool
		err error
	)
	if releaseID == 0 {
		row, ok, err = snap.ResolveByRecording(ctx, recordingID)
	} else {
		row, ok, err = snap.ResolveByReleaseAndRecording(ctx, releaseID, recordingID)
	}
	if err != nil {
		return nil, fmt.Errorf("resolver: resolve release=%d recording=%d: %w", releaseID, recordingID, err)
	}
	if !ok {
		return nil, nil
	}

	return &Row{
		ArtistCreditID:   row.ArtistCreditID,
		ArtistCreditName: row.ArtistCreditName,
		ArtistMBIDs:      parseMBIDs(row.ArtistMBIDList(), logger),
		ReleaseID:        row.ReleaseID,
		ReleaseName:      row.ReleaseName,
		ReleaseMBID:      row.ReleaseMBID,
		RecordingID:      row.RecordingID,
		RecordingName:    row.RecordingName,
		RecordingMBID:    row.RecordingMBID,
	}, nil
}

// parseMBIDs validates each candidate MBID as a well-formed UUID, logging
// and skipping malformed entries rather than failing the whole resolve —
// one corrupt MBID in a multi-artist credit should not take down the other,
// valid ones.
func parseMBIDs(candidates []string, logger *slog.Logger) []string {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if _, err := uuid.Parse(c); err != nil {
			logger.Warn("resolver: malformed MBID skipped", slog.String("mbid", c), slog.String("error", err.Error()))
			continue
		}
		out = append(out, c)
	}
	return out
}
