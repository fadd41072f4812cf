// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package artistindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/catalogmatch/mbmapper/catalog"
)

func TestIsTransliterated(t *testing.T) {
	cases := []struct {
		credit, sort string
		want         bool
	}{
		{"幾何学模様 (Kikagaku Moyo)", "Kikagaku Moyo", true},
		{"幾何学模様", "Kikagaku Moyo", false},
		{"Portishead", "Portishead", false},
		{"幾何学模様", "幾何学模様", false},
		{"", "", false},
	}
	for _, c := range cases {
		if got := IsTransliterated(c.credit, c.sort); got != c.want {
			t.Errorf("IsTransliterated(%q, %q) = %v, want %v", c.credit, c.sort, got, c.want)
		}
	}
}

func TestBuild_SingleArtistDedup(t *testing.T) {
	rows := []ArtistRow{
		{ArtistCreditID: 1, CreditName: "Portishead", SortName: "Portishead"},
		{ArtistCreditID: 1, CreditName: "Portishead", SortName: "Portishead"},
		{ArtistCreditID: 2, CreditName: "幾何学模様 (Kikagaku Moyo)", SortName: "Kikagaku Moyo"},
	}
	set, err := Build(rows, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.Single.Size() != 2 {
		t.Errorf("single index size = %d, want 2 (Portishead deduped; sort-name entry collapses into the credit's own encoding)", set.Single.Size())
	}
}

func TestBuild_StupidArtistFallback(t *testing.T) {
	rows := []ArtistRow{
		{ArtistCreditID: 9, CreditName: "!!!", SortName: "!!!"},
	}
	set, err := Build(rows, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if set.Single.Size() != 0 {
		t.Errorf("single index size = %d, want 0 (normal encoding empty)", set.Single.Size())
	}
	if set.Stupid.Size() != 1 {
		t.Fatalf("stupid index size = %d, want 1", set.Stupid.Size())
	}
	results, err := set.SearchStupid("!!!", 0.0)
	if err != nil {
		t.Fatalf("SearchStupid: %v", err)
	}
	if len(results) == 0 || results[0].ExternalID != 9 {
		t.Errorf("SearchStupid did not find artist credit 9: %+v", results)
	}
}

func TestBuild_MultipleArtists(t *testing.T) {
	rows := []ArtistRow{
		{ArtistCreditID: 5, CreditName: "Queen & David Bowie"},
	}
	set, err := Build(nil, rows, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := set.SearchArtists("queendavidbowie", 0.0)
	if err != nil {
		t.Fatalf("SearchArtists: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ExternalID == 5 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected to find artist credit 5 among results: %+v", results)
	}
}

func TestSearchArtists_SortedByConfidenceDescending(t *testing.T) {
	singles := []ArtistRow{
		{ArtistCreditID: 1, CreditName: "Portishead"},
	}
	multiples := []ArtistRow{
		{ArtistCreditID: 2, CreditName: "Queen & David Bowie"},
	}
	set, err := Build(singles, multiples, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := set.SearchArtists("portishead", 0.0)
	if err != nil {
		t.Fatalf("SearchArtists: %v", err)
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Confidence < results[i].Confidence {
			t.Errorf("results not sorted descending by confidence: %+v", results)
		}
	}
}

func TestAliasRowsContributeToSingleIndex(t *testing.T) {
	rows := []ArtistRow{
		{ArtistCreditID: 1, CreditName: "Sting"},
	}
	aliases := []AliasRow{
		{ArtistCreditID: 1, Alias: "Gordon Sumner"},
	}
	set, err := Build(rows, nil, aliases)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results, err := set.SearchArtists("gordonsumner", 0.0)
	if err != nil {
		t.Fatalf("SearchArtists: %v", err)
	}
	found := false
	for _, r := range results {
		if r.ExternalID == 1 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected alias search to find artist credit 1: %+v", results)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	ctx := context.Background()
	snap, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer snap.Close()
	if err := snap.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	built, err := Build([]ArtistRow{{ArtistCreditID: 1, CreditName: "Portishead"}}, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := built.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(ctx, snap)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Single.Size() != built.Single.Size() {
		t.Errorf("loaded single size = %d, want %d", loaded.Single.Size(), built.Single.Size())
	}
}

func TestSet_Reload(t *testing.T) {
	ctx := context.Background()
	snap, err := catalog.Open(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	defer snap.Close()
	if err := snap.CreateSchema(ctx); err != nil {
		t.Fatalf("CreateSchema: %v", err)
	}

	original, err := Build([]ArtistRow{{ArtistCreditID: 1, CreditName: "Portishead"}}, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := original.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	live, err := Load(ctx, snap)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if live.Single.Size() != 1 {
		t.Fatalf("single index size = %d, want 1 before reload", live.Single.Size())
	}

	updated, err := Build([]ArtistRow{
		{ArtistCreditID: 1, CreditName: "Portishead"},
		{ArtistCreditID: 2, CreditName: "Geogaddi"},
	}, nil, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := updated.Save(ctx, snap); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := live.Reload(ctx, snap); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if live.Single.Size() != 2 {
		t.Errorf("single index size after reload = %d, want 2", live.Single.Size())
	}
}

func TestRequiresStupidPath(t *testing.T) {
	if !requiresStupidPath("!!!") {
		t.Errorf("expected !!! to require the stupid path")
	}
	if requiresStupidPath("Portishead") {
		t.Errorf("did not expect Portishead to require the stupid path")
	}
}
