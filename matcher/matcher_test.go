// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package matcher

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/catalogmatch/mbmapper/artistindex"
	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/indexcache"
	"github.com/catalogmatch/mbmapper/subindex"
)

const (
	portisheadID    int64 = 1
	billieEilishID  int64 = 5
	queenBowieID    int64 = 10
	kikagakuMoyoID  int64 = 20
	stupidBandID    int64 = 30
	darkseedID      int64 = 40
)

func seedMapping(t *testing.T, snap *catalog.Snapshot, rows []catalog.MappingRow) {
	t.Helper()
	for _, r := range rows {
		_, err := snap.Worker().Exec(`INSERT INTO mapping
			(artist_credit_id, artist_mbids, artist_credit_name, artist_credit_sortname,
			 release_id, release_mbid, release_artist_credit_id, release_name,
			 recording_id, recording_mbid, recording_name, score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ArtistCreditID, r.ArtistMBIDs, r.ArtistCreditName, r.ArtistCreditSortname,
			r.ReleaseID, r.ReleaseMBID, r.ReleaseArtistCreditID, r.ReleaseName,
			r.RecordingID, r.RecordingMBID, r.RecordingName, r.Score)
		if err != nil {
			t.Fatalf("seedMapping: %v", err)
		}
	}
}

// buildFixture assembles a small multi-artist catalog covering every
// end-to-end scenario this package's tests exercise, and returns a ready
// Matcher backed by it.
func buildFixture(t *testing.T) *Matcher {
	t.Helper()
	ctx := context.Background()

	snap, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { snap.Close() })
	if err := snap.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	rows := []catalog.MappingRow{
		// Portishead — self-titled release, "Western Eyes".
		{ArtistCreditID: portisheadID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3301",
			ArtistCreditName: "Portishead", ReleaseID: 100, ReleaseMBID: "rel-1",
			ReleaseName: "Portishead", RecordingID: 1000, RecordingMBID: "rec-1",
			RecordingName: "Western Eyes", Score: 1},

		// Billie Eilish — "COPYCAT" appears on two releases; release 101 is
		// the canonical one (lowest score).
		{ArtistCreditID: billieEilishID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3302",
			ArtistCreditName: "Billie Eilish", ReleaseID: 101, ReleaseMBID: "rel-2a",
			ReleaseName: "COPYCAT", RecordingID: 1001, RecordingMBID: "rec-2",
			RecordingName: "COPYCAT", Score: 1},
		{ArtistCreditID: billieEilishID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3302",
			ArtistCreditName: "Billie Eilish", ReleaseID: 102, ReleaseMBID: "rel-2b",
			ReleaseName: "Dont Smile At Me", RecordingID: 1001, RecordingMBID: "rec-2",
			RecordingName: "COPYCAT", Score: 5},

		// Queen & David Bowie — multi-artist credit, "Under Pressure".
		{ArtistCreditID: queenBowieID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3303,3f2504e0-4f89-11d3-9a0c-0305e82c3304",
			ArtistCreditName: "Queen & David Bowie", ReleaseID: 103, ReleaseMBID: "rel-3",
			ReleaseName: "Hot Space", RecordingID: 1002, RecordingMBID: "rec-3",
			RecordingName: "Under Pressure", Score: 1},

		// Kikagaku Moyo — "Masana Temples" / "Nana".
		{ArtistCreditID: kikagakuMoyoID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3305",
			ArtistCreditName: "Kikagaku Moyo", ReleaseID: 104, ReleaseMBID: "rel-4",
			ReleaseName: "Masana Temples", RecordingID: 1003, RecordingMBID: "rec-4",
			RecordingName: "Nana", Score: 1},

		// !!! — "As If" / "Ooo", stupid-artist path.
		{ArtistCreditID: stupidBandID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3306",
			ArtistCreditName: "!!!", ReleaseID: 105, ReleaseMBID: "rel-5",
			ReleaseName: "As If", RecordingID: 1004, RecordingMBID: "rec-5",
			RecordingName: "Ooo", Score: 1},

		// Darkseed — catalog does NOT contain "entre dos tierras"; any query
		// pairing this artist with that recording must fail, not silently
		// match something else.
		{ArtistCreditID: darkseedID, ArtistMBIDs: "3f2504e0-4f89-11d3-9a0c-0305e82c3307",
			ArtistCreditName: "Darkseed", ReleaseID: 106, ReleaseMBID: "rel-6",
			ReleaseName: "Spellcraft", RecordingID: 1005, RecordingMBID: "rec-6",
			RecordingName: "Fathers Of The Disease", Score: 1},
	}
	seedMapping(t, snap, rows)

	singleRows := []artistindex.ArtistRow{
		{ArtistCreditID: portisheadID, CreditName: "Portishead", SortName: "Portishead"},
		{ArtistCreditID: billieEilishID, CreditName: "Billie Eilish", SortName: "Eilish Billie"},
		// Two textual variants of the same artist_credit_id, matching the
		// original builder's acknowledged duplicate-row behavior: one pure
		// Latin (indexes normally), one pure Japanese (its normal encoding
		// is empty, so it falls back to the stupid-artist path). Both
		// resolve to the same artist_credit_id and therefore the same
		// downstream sub-index.
		{ArtistCreditID: kikagakuMoyoID, CreditName: "Kikagaku Moyo", SortName: "Kikagaku Moyo"},
		{ArtistCreditID: kikagakuMoyoID, CreditName: "幾何学模様", SortName: "Kikagaku Moyo"},
		{ArtistCreditID: stupidBandID, CreditName: "!!!", SortName: "!!!"},
		{ArtistCreditID: darkseedID, CreditName: "Darkseed", SortName: "Darkseed"},
	}
	multipleRows := []artistindex.ArtistRow{
		{ArtistCreditID: queenBowieID, CreditName: "Queen & David Bowie"},
	}

	artists, err := artistindex.Build(singleRows, multipleRows, nil)
	if err != nil {
		t.Fatalf("artistindex.Build: %v", err)
	}

	for _, id := range []int64{portisheadID, billieEilishID, queenBowieID, kikagakuMoyoID, stupidBandID, darkseedID} {
		var artistRows []catalog.MappingRow
		for _, r := range rows {
			if r.ArtistCreditID == id {
				artistRows = append(artistRows, r)
			}
		}
		sub, err := subindex.Build(id, artistRows)
		if err != nil {
			t.Fatalf("subindex.Build(%d): %v", id, err)
		}
		if err := sub.SaveToSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveToSnapshot(%d): %v", id, err)
		}
	}

	cache := indexcache.New(100, nil)
	return New(snap, artists, cache, nil, nil)
}

func TestMatch_PortisheadExact(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "portishead",
		ReleaseName:      "portishead",
		RecordingName:    "western eyes",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match, got nil")
	}
	if match.ArtistCreditID != portisheadID {
		t.Errorf("ArtistCreditID = %d, want %d", match.ArtistCreditID, portisheadID)
	}
	if match.RecordingName != "Western Eyes" {
		t.Errorf("RecordingName = %q, want %q", match.RecordingName, "Western Eyes")
	}
	if match.ReleaseName != "Portishead" {
		t.Errorf("ReleaseName = %q, want %q", match.ReleaseName, "Portishead")
	}
	if match.Confidence <= 0 {
		t.Errorf("Confidence = %v, want > 0", match.Confidence)
	}
}

func TestMatch_PortisheadFuzzy(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "portished",
		ReleaseName:      "portishad",
		RecordingName:    "western ey",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a fuzzy match, got nil")
	}
	if match.ArtistCreditID != portisheadID {
		t.Errorf("ArtistCreditID = %d, want %d", match.ArtistCreditID, portisheadID)
	}
}

func TestMatch_BillieEilishCanonicalRelease(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "Billie Eilish",
		ReleaseName:      "",
		RecordingName:    "COPYCAT",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match, got nil")
	}
	if match.ReleaseID != 101 {
		t.Errorf("ReleaseID = %d, want 101 (the canonical, lowest-score release)", match.ReleaseID)
	}
}

func TestMatch_MultiArtistCredit(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "queen & david bowie",
		ReleaseName:      "Hot Space",
		RecordingName:    "under pressure",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match, got nil")
	}
	if len(match.ArtistMBIDs) != 2 {
		t.Errorf("ArtistMBIDs = %v, want 2 entries", match.ArtistMBIDs)
	}
}

func TestMatch_TransliteratedArtistName(t *testing.T) {
	m := buildFixture(t)

	viaCJK, err := m.Match(context.Background(), Query{
		ArtistCreditName: "幾何学模様",
		ReleaseName:      "masana temples",
		RecordingName:    "nana",
	})
	if err != nil {
		t.Fatalf("Match(CJK): %v", err)
	}
	if viaCJK == nil {
		t.Fatalf("expected a match via the CJK query")
	}

	viaLatin, err := m.Match(context.Background(), Query{
		ArtistCreditName: "Kikagaku Moyo",
		ReleaseName:      "masana temples",
		RecordingName:    "nana",
	})
	if err != nil {
		t.Fatalf("Match(Latin): %v", err)
	}
	if viaLatin == nil {
		t.Fatalf("expected a match via the Latin query")
	}

	if viaCJK.RecordingID != viaLatin.RecordingID || viaCJK.ReleaseID != viaLatin.ReleaseID {
		t.Errorf("CJK and Latin queries resolved to different triples: %+v vs %+v", viaCJK, viaLatin)
	}
}

func TestMatch_StupidArtistPath(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "!!!",
		ReleaseName:      "As If",
		RecordingName:    "Ooo",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match == nil {
		t.Fatalf("expected a match via the stupid-artist path")
	}
	if match.ArtistCreditID != stupidBandID {
		t.Errorf("ArtistCreditID = %d, want %d", match.ArtistCreditID, stupidBandID)
	}
}

func TestMatch_MisattributedRecordingFails(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "darkseed",
		ReleaseName:      "",
		RecordingName:    "entre dos tierras",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Errorf("expected no match for a recording the catalog does not attribute to this artist, got %+v", match)
	}
}

func TestMatch_UnmatchedStupidArtistNameFails(t *testing.T) {
	m := buildFixture(t)
	match, err := m.Match(context.Background(), Query{
		ArtistCreditName: "!@#$%",
		ReleaseName:      "",
		RecordingName:    "anything",
	})
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if match != nil {
		t.Errorf("expected no match for unrecognizable artist name, got %+v", match)
	}
}
