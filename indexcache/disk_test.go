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
	"path/filepath"
	"testing"

	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/subindex"
)

func TestDiskTier_PutGetRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	tier, err := OpenDiskTier(dir)
	if err != nil {
		t.Fatalf("OpenDiskTier: %v", err)
	}
	defer tier.Close()

	rows := []catalog.MappingRow{
		{ArtistCreditID: 1, ReleaseID: 10, ReleaseName: "Portishead", RecordingID: 100, RecordingName: "Western Eyes", Score: 1},
	}
	idx, err := subindex.Build(1, rows)
	if err != nil {
		t.Fatalf("subindex.Build: %v", err)
	}

	if err := tier.Put(1, idx); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := tier.Get(1)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.ArtistCreditID != 1 {
		t.Errorf("ArtistCreditID = %d, want 1", got.ArtistCreditID)
	}
	if got.Recording.Size() != idx.Recording.Size() {
		t.Errorf("recording size mismatch after disk round trip")
	}
}

func TestDiskTier_GetMiss(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "badger")
	tier, err := OpenDiskTier(dir)
	if err != nil {
		t.Fatalf("OpenDiskTier: %v", err)
	}
	defer tier.Close()

	_, ok, err := tier.Get(999)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Errorf("expected miss for unknown artist credit id")
	}
}
