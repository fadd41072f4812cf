// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package subindex builds and serves the per-artist_credit recording and
// release fuzzy indexes plus their link table — the unit the Index Cache
// loads on demand and evicts under memory pressure.
package subindex

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sort"

	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/encoding"
	"github.com/catalogmatch/mbmapper/fuzzyindex"
)

// Link is one recording→release join: the release's dense position within
// this sub-index's release Fuzzy Index, its catalog id, the recording's
// catalog id, and rank (the mapping row's score; lower is more canonical).
type Link struct {
	ReleasePosition    int
	ReleaseCatalogID   int64
	RecordingCatalogID int64
	Rank               int
}

// Index is one artist_credit's recording/release sub-index: two Fuzzy
// Indexes keyed by dense first-seen-first position, plus the links table
// joining a recording position to its candidate releases.
//
// # Thread Safety
//
// Immutable after Build or Load returns. Safe for concurrent reads; owned
// exclusively by the Index Cache once loaded, which may evict it (the
// Go garbage collector reclaims it once no query holds a reference).
type Index struct {
	ArtistCreditID int64
	Recording      *fuzzyindex.Index
	Release        *fuzzyindex.Index
	Links          map[int][]Link
}

// Build constructs a sub-index from an artist_credit's mapping rows, which
// the caller fetches via catalog.Snapshot.MappingRowsForArtist. Build itself
// keeps only rows whose ArtistCreditID equals artistCreditID (rows that only
// satisfy ReleaseArtistCreditID are release-side context, not indexed
// here, matching the original's "too simplistic, but for a test" filter).
func Build(artistCreditID int64, rows []catalog.MappingRow) (*Index, error) {
	recordingPos := make(map[string]int)
	releasePos := make(map[string]int)
	var recordingTexts, releaseTexts []string
	links := make(map[int][]Link)

	for _, row := range rows {
		if row.ArtistCreditID != artistCreditID {
			continue
		}

		encodedRecording, _ := encoding.Encode(row.RecordingName)
		if encodedRecording == "" {
			continue
		}
		encodedRelease, _ := encoding.Encode(row.ReleaseName)

		recIdx, ok := recordingPos[encodedRecording]
		if !ok {
			recIdx = len(recordingTexts)
			recordingPos[encodedRecording] = recIdx
			recordingTexts = append(recordingTexts, encodedRecording)
		}

		relIdx, ok := releasePos[encodedRelease]
		if !ok {
			relIdx = len(releaseTexts)
			releasePos[encodedRelease] = relIdx
			releaseTexts = append(releaseTexts, encodedRelease)
		}

		links[recIdx] = append(links[recIdx], Link{
			ReleasePosition:    relIdx,
			ReleaseCatalogID:   row.ReleaseID,
			RecordingCatalogID: row.RecordingID,
			Rank:               row.Score,
		})
	}

	for recIdx := range links {
		sort.Slice(links[recIdx], func(i, j int) bool {
			return links[recIdx][i].ReleaseCatalogID < links[recIdx][j].ReleaseCatalogID
		})
	}

	recordingIDs := make([]int64, len(recordingTexts))
	for i := range recordingIDs {
		recordingIDs[i] = int64(i)
	}
	releaseIDs := make([]int64, len(releaseTexts))
	for i := range releaseIDs {
		releaseIDs[i] = int64(i)
	}

	recordingIndex := fuzzyindex.New(0)
	if len(recordingIDs) > 0 {
		if err := recordingIndex.Build(recordingIDs, recordingTexts); err != nil {
			return nil, fmt.Errorf("subindex: build recording index for artist %d: %w", artistCreditID, err)
		}
	}
	releaseIndex := fuzzyindex.New(0)
	if len(releaseIDs) > 0 {
		if err := releaseIndex.Build(releaseIDs, releaseTexts); err != nil {
			return nil, fmt.Errorf("subindex: build release index for artist %d: %w", artistCreditID, err)
		}
	}

	return &Index{
		ArtistCreditID: artistCreditID,
		Recording:      recordingIndex,
		Release:        releaseIndex,
		Links:          links,
	}, nil
}

// LinksFor returns the ordered candidate releases for a recording position,
// sorted by ReleaseCatalogID ascending — callers needing the canonical
// (lowest-rank) link should scan the whole slice, since rank and catalog id
// sort independently.
func (idx *Index) LinksFor(recordingPosition int) []Link {
	return idx.Links[recordingPosition]
}

// wireIndex is the gob wire format: both Fuzzy Indexes serialized to their
// own byte blobs (Save/Load already know how to round-trip a fuzzyindex.Index
// on their own) plus the links table, matching the per-artist blob layout
// spec.md §6 describes — "the archive additionally carries the recording
// Fuzzy Index, the release Fuzzy Index, and the links map".
type wireIndex struct {
	ArtistCreditID int64
	RecordingBlob  []byte
	ReleaseBlob    []byte
	Links          map[int][]Link
}

// Save serializes the sub-index to w via encoding/gob.
func (idx *Index) Save(w io.Writer) error {
	recBlob, err := idx.Recording.Bytes()
	if err != nil {
		return fmt.Errorf("subindex: serialize recording index: %w", err)
	}
	relBlob, err := idx.Release.Bytes()
	if err != nil {
		return fmt.Errorf("subindex: serialize release index: %w", err)
	}
	wire := wireIndex{
		ArtistCreditID: idx.ArtistCreditID,
		RecordingBlob:  recBlob,
		ReleaseBlob:    relBlob,
		Links:          idx.Links,
	}
	if err := gob.NewEncoder(w).Encode(wire); err != nil {
		return fmt.Errorf("subindex: save: %w", err)
	}
	return nil
}

// Load deserializes a sub-index previously written by Save.
func (idx *Index) Load(r io.Reader) error {
	var wire wireIndex
	if err := gob.NewDecoder(r).Decode(&wire); err != nil {
		return fmt.Errorf("subindex: load: %w", err)
	}

	recordingIndex, err := fuzzyindex.FromBytes(wire.RecordingBlob)
	if err != nil {
		return fmt.Errorf("subindex: decode recording index: %w", err)
	}
	releaseIndex, err := fuzzyindex.FromBytes(wire.ReleaseBlob)
	if err != nil {
		return fmt.Errorf("subindex: decode release index: %w", err)
	}

	idx.ArtistCreditID = wire.ArtistCreditID
	idx.Recording = recordingIndex
	idx.Release = releaseIndex
	idx.Links = wire.Links
	return nil
}

// Bytes serializes the sub-index to an in-memory byte slice — the shape
// stored under artist_credit_id in the catalog snapshot's index_cache
// table.
func (idx *Index) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes constructs a sub-index by deserializing raw blob bytes.
func FromBytes(data []byte) (*Index, error) {
	idx := &Index{}
	if err := idx.Load(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return idx, nil
}

// SaveToSnapshot persists the sub-index to the catalog snapshot under its
// artist_credit_id (a positive entity_id, disjoint from the three reserved
// artist-level sentinels).
func (idx *Index) SaveToSnapshot(ctx context.Context, snap *catalog.Snapshot) error {
	blob, err := idx.Bytes()
	if err != nil {
		return err
	}
	return snap.PutIndexBlob(ctx, idx.ArtistCreditID, blob)
}

// LoadFromSnapshot reads a sub-index blob for artistCreditID, returning
// (nil, false, nil) if no blob exists. The matcher calls it on an Index
// Cache miss; a missing blob is reported as a missing sub-index, and no
// rebuild via Build is attempted.
func LoadFromSnapshot(ctx context.Context, snap *catalog.Snapshot, artistCreditID int64) (*Index, bool, error) {
	blob, ok, err := snap.GetIndexBlob(ctx, artistCreditID)
	if err != nil {
		return nil, false, fmt.Errorf("subindex: load artist %d: %w", artistCreditID, err)
	}
	if !ok {
		return nil, false, nil
	}
	idx, err := FromBytes(blob)
	if err != nil {
		return nil, false, fmt.Errorf("subindex: decode artist %d: %w", artistCreditID, err)
	}
	return idx, true, nil
}
