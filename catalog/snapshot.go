// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog opens and reads the embedded, read-only catalog snapshot
// the matcher searches against. The snapshot itself — a SQLite file with a
// `mapping` table and an `index_cache` blob table — is built by an external
// offline job; this package only ever reads it (and, for the offline job's
// own convenience, writes index_cache blobs — see PutIndexBlob).
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"
)

// Reserved index_cache entity ids for the three artist-level indexes
// (package artistindex), mirroring the sentinel scheme spec.md §6 requires.
const (
	SingleArtistEntityID   int64 = -1
	MultipleArtistEntityID int64 = -2
	StupidArtistEntityID   int64 = -3
)

// MappingRow is one row of the catalog snapshot's mapping table.
type MappingRow struct {
	ArtistCreditID        int64
	ArtistMBIDs           string
	ArtistCreditName      string
	ArtistCreditSortname  string
	ReleaseID             int64
	ReleaseMBID           string
	ReleaseArtistCreditID int64
	ReleaseName           string
	RecordingID           int64
	RecordingMBID         string
	RecordingName         string
	Score                 int
}

// ArtistMBIDList splits the comma-separated ArtistMBIDs column, preserving
// position. An empty column returns an empty (not nil) slice.
func (r MappingRow) ArtistMBIDList() []string {
	if r.ArtistMBIDs == "" {
		return []string{}
	}
	return strings.Split(r.ArtistMBIDs, ",")
}

// Snapshot is a read-only handle onto one catalog snapshot file.
//
// # Thread Safety
//
// *sql.DB already pools and synchronizes connections, so a single Snapshot
// is safe to share across every worker goroutine without a dedicated
// connection per worker — a deliberate simplification of the one-handle-
// per-thread model the C++ original used, since Go's database/sql already
// does the pooling that model existed to provide by hand.
type Snapshot struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens a catalog snapshot from a local filesystem path.
//
// # Description
//
// The database is opened WAL-mode with a 5s busy timeout, matching the
// corpus's own embedded-SQLite open pattern. The snapshot is treated as
// read-only by every method in this package; no migration or schema-create
// step runs here (CreateSchema is exposed separately, for tests and for
// the offline builder to call once against an empty file).
//
// # Thread Safety
//
// The returned Snapshot is safe for concurrent use.
func Open(path string, logger *slog.Logger) (*Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping %s: %w", path, err)
	}

	logger.Debug("catalog snapshot opened", slog.String("path", path))
	return &Snapshot{db: db, logger: logger.With("component", "catalog")}, nil
}

// Close closes the underlying database handle.
func (s *Snapshot) Close() error {
	return s.db.Close()
}

// Worker returns the pooled *sql.DB connection pool for direct use by
// callers that need ad-hoc queries beyond this package's surface (e.g. the
// cmd/mbmapper-cachedump diagnostic tool). Despite the name, it is not a
// dedicated per-worker handle — see the Thread Safety note on Snapshot.
func (s *Snapshot) Worker() *sql.DB { return s.db }

// CreateSchema creates the mapping and index_cache tables (and their
// indexes) if they do not already exist. Used by tests and by the offline
// builder bootstrapping a fresh snapshot file; never called on the normal
// read path.
func (s *Snapshot) CreateSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS mapping (
	artist_credit_id INTEGER NOT NULL,
	artist_mbids TEXT NOT NULL DEFAULT '',
	artist_credit_name TEXT NOT NULL,
	artist_credit_sortname TEXT NOT NULL DEFAULT '',
	release_id INTEGER NOT NULL,
	release_mbid TEXT NOT NULL DEFAULT '',
	release_artist_credit_id INTEGER NOT NULL,
	release_name TEXT NOT NULL,
	recording_id INTEGER NOT NULL,
	recording_mbid TEXT NOT NULL DEFAULT '',
	recording_name TEXT NOT NULL,
	score INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_mapping_artist_credit ON mapping(artist_credit_id);
CREATE INDEX IF NOT EXISTS idx_mapping_release_artist_credit ON mapping(release_artist_credit_id);
CREATE INDEX IF NOT EXISTS idx_mapping_release_id ON mapping(release_id);
CREATE INDEX IF NOT EXISTS idx_mapping_recording_id ON mapping(recording_id);
CREATE INDEX IF NOT EXISTS idx_mapping_release_recording ON mapping(release_id, recording_id);

CREATE TABLE IF NOT EXISTS index_cache (
	entity_id INTEGER UNIQUE,
	index_data BLOB
);
`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("catalog: create schema: %w", err)
	}
	return nil
}

// GetIndexBlob fetches the serialized index blob for entityID. The second
// return value is false when no row exists for that id (SubIndexMissing in
// the matcher's error taxonomy, not a CatalogRead error).
func (s *Snapshot) GetIndexBlob(ctx context.Context, entityID int64) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT index_data FROM index_cache WHERE entity_id = ?`, entityID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: get index blob %d: %w", entityID, err)
	}
	return blob, true, nil
}

// PutIndexBlob upserts the serialized index blob for entityID. Used by the
// offline builder (and by tests seeding a snapshot); the online matcher
// path never writes.
func (s *Snapshot) PutIndexBlob(ctx context.Context, entityID int64, blob []byte) error {
	const q = `INSERT INTO index_cache (entity_id, index_data) VALUES (?, ?)
	           ON CONFLICT(entity_id) DO UPDATE SET index_data = excluded.index_data`
	if _, err := s.db.ExecContext(ctx, q, entityID, blob); err != nil {
		return fmt.Errorf("catalog: put index blob %d: %w", entityID, err)
	}
	return nil
}

// DistinctArtists returns one row per distinct artist_credit_id, carrying
// the name/sortname/mbid-list fields needed to build the artist-level
// indexes (package artistindex). Artist-credit cardinality (single vs.
// multi-artist) is derived by the caller from the length of
// MappingRow.ArtistMBIDList(), since the snapshot schema does not carry a
// separate artist_count column.
func (s *Snapshot) DistinctArtists(ctx context.Context) ([]MappingRow, error) {
	const q = `SELECT DISTINCT artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname
	             FROM mapping ORDER BY artist_credit_id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("catalog: distinct artists: %w", err)
	}
	defer rows.Close()

	var out []MappingRow
	for rows.Next() {
		var r MappingRow
		if err := rows.Scan(&r.ArtistCreditID, &r.ArtistMBIDs, &r.ArtistCreditName, &r.ArtistCreditSortname); err != nil {
			return nil, fmt.Errorf("catalog: scan distinct artist: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MappingRowsForArtist returns every mapping row belonging to artistCreditID,
// via either artist_credit_id or release_artist_credit_id, ordered by
// score then release_id — the exact shape package subindex builds its
// per-artist recording/release indexes and link table from.
func (s *Snapshot) MappingRowsForArtist(ctx context.Context, artistCreditID int64) ([]MappingRow, error) {
	const q = `SELECT artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname,
	                  release_id, release_mbid, release_artist_credit_id, release_name,
	                  recording_id, recording_mbid, recording_name, score
	             FROM mapping
	            WHERE release_artist_credit_id = ? OR artist_credit_id = ?
	         ORDER BY score, release_id`
	rows, err := s.db.QueryContext(ctx, q, artistCreditID, artistCreditID)
	if err != nil {
		return nil, fmt.Errorf("catalog: mapping rows for artist %d: %w", artistCreditID, err)
	}
	defer rows.Close()

	var out []MappingRow
	for rows.Next() {
		var r MappingRow
		if err := rows.Scan(&r.ArtistCreditID, &r.ArtistMBIDs, &r.ArtistCreditName, &r.ArtistCreditSortname,
			&r.ReleaseID, &r.ReleaseMBID, &r.ReleaseArtistCreditID, &r.ReleaseName,
			&r.RecordingID, &r.RecordingMBID, &r.RecordingName, &r.Score); err != nil {
			return nil, fmt.Errorf("catalog: scan mapping row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ResolveByReleaseAndRecording fetches the metadata row identified by an
// exact (release_id, recording_id) pair — the Metadata Resolver's primary
// lookup (package resolver).
func (s *Snapshot) ResolveByReleaseAndRecording(ctx context.Context, releaseID, recordingID int64) (MappingRow, bool, error) {
	const q = `SELECT artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname,
	                  release_id, release_mbid, release_artist_credit_id, release_name,
	                  recording_id, recording_mbid, recording_name, score
	             FROM mapping WHERE release_id = ? AND recording_id = ?
	         ORDER BY score LIMIT 1`
	return scanOne(ctx, s.db, q, releaseID, recordingID)
}

// ResolveByRecording fetches the lowest-score metadata row for recordingID
// alone — used when the synthetic-unknown-release sentinel (release_id =
// 0) is being resolved, matching fetch_metadata_query_without_release.
func (s *Snapshot) ResolveByRecording(ctx context.Context, recordingID int64) (MappingRow, bool, error) {
	const q = `SELECT artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname,
	                  release_id, release_mbid, release_artist_credit_id, release_name,
	                  recording_id, recording_mbid, recording_name, score
	             FROM mapping WHERE recording_id = ?
	         ORDER BY score LIMIT 1`
	return scanOne(ctx, s.db, q, recordingID)
}

// CanonicalReleaseForRecording returns the lowest-score mapping row for
// (artist_credit_id, recording_id) — the canonical-release lookup the FSM
// uses when the query omits a release name.
func (s *Snapshot) CanonicalReleaseForRecording(ctx context.Context, artistCreditID, recordingID int64) (MappingRow, bool, error) {
	const q = `SELECT artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname,
	                  release_id, release_mbid, release_artist_credit_id, release_name,
	                  recording_id, recording_mbid, recording_name, score
	             FROM mapping WHERE artist_credit_id = ? AND recording_id = ?
	         ORDER BY score LIMIT 1`
	return scanOne(ctx, s.db, q, artistCreditID, recordingID)
}

func scanOne(ctx context.Context, db *sql.DB, q string, args ...any) (MappingRow, bool, error) {
	var r MappingRow
	err := db.QueryRowContext(ctx, q, args...).Scan(&r.ArtistCreditID, &r.ArtistMBIDs, &r.ArtistCreditName, &r.ArtistCreditSortname,
		&r.ReleaseID, &r.ReleaseMBID, &r.ReleaseArtistCreditID, &r.ReleaseName,
		&r.RecordingID, &r.RecordingMBID, &r.RecordingName, &r.Score)
	if err == sql.ErrNoRows {
		return MappingRow{}, false, nil
	}
	if err != nil {
		return MappingRow{}, false, fmt.Errorf("catalog: resolve: %w", err)
	}
	return r, true, nil
}
