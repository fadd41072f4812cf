// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package artistindex builds and serves the three offline-built, process-
// lifetime artist-level fuzzy indexes (single-artist, multiple-artist,
// stupid-artist) that the matcher FSM's artist_search and
// stupid_artist_search states query. The three indexes are immutable after
// Load returns — safe for free concurrent reads across every worker.
package artistindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/encoding"
	"github.com/catalogmatch/mbmapper/fuzzyindex"
)

// ArtistRow is one artist credit pulled from the out-of-scope ingestion
// system (Postgres artist_credit/artist_credit_name/artist join), supplied
// by the offline builder rather than read from the catalog snapshot — the
// snapshot's mapping table carries no artist-credit-cardinality data of its
// own. SortName is the concatenation of per-contributor sort names and join
// phrases, matching the original builder's artist_credit_sort_name
// construction.
type ArtistRow struct {
	ArtistCreditID int64
	CreditName     string
	SortName       string
}

// AliasRow is one artist_alias row for a single-artist credit.
type AliasRow struct {
	ArtistCreditID int64
	Alias          string
}

// IsTransliterated reports whether creditName mixes Latin (≤ U+024F) and
// non-Latin codepoints while sortName is Latin-only — the signal that
// sortName is a useful additional index entry (e.g. "幾何学模様 (Kikagaku
// Moyo)" / "Kikagaku Moyo"). A credit name written entirely in a non-Latin
// script, such as "幾何学模様" alone, is not transliterated by this test.
func IsTransliterated(creditName, sortName string) bool {
	hasLatin, hasNonLatin := false, false
	for _, r := range creditName {
		if r <= 0x024F {
			hasLatin = true
		} else {
			hasNonLatin = true
		}
	}
	if !hasLatin || !hasNonLatin {
		return false
	}
	for _, r := range sortName {
		if r > 0x024F {
			return false
		}
	}
	return true
}

// Set holds the three artist-level fuzzy indexes, loaded once per process
// and read-only thereafter by default. Reload swaps in a freshly loaded
// triple in place, under mu, for the optional hot-reload path (package
// refresh). SearchArtists and SearchStupid take mu's read lock on every
// call, whether or not Reload is ever used.
type Set struct {
	Single   *fuzzyindex.Index
	Multiple *fuzzyindex.Index
	Stupid   *fuzzyindex.Index

	mu sync.RWMutex
}

// dedupKey identifies one (artist_credit_id, encoded_name) pair; builders
// must collapse duplicates of this key before handing rows to
// fuzzyindex.Build, since the corpus's own offline builder is known to
// produce them (repeated aliases, repeated transliteration entries).
type dedupKey struct {
	artistCreditID int64
	encoded        string
}

// Build constructs the three artist-level indexes from already-fetched
// ingestion rows. It does not query any database itself — singleRows,
// multipleRows and aliases are expected to have been fetched by an external
// offline job (see SPEC_FULL.md's offline-builder worker pool), keeping
// this package honest about the boundary between the in-scope matcher
// runtime and the out-of-scope ingestion pipeline.
func Build(singleRows, multipleRows []ArtistRow, aliases []AliasRow) (*Set, error) {
	singleSeen := make(map[dedupKey]bool)
	var singleIDs []int64
	var singleTexts []string
	var stupidIDs []int64
	var stupidTexts []string

	addSingle := func(artistCreditID int64, encoded string) {
		key := dedupKey{artistCreditID, encoded}
		if singleSeen[key] {
			return
		}
		singleSeen[key] = true
		singleIDs = append(singleIDs, artistCreditID)
		singleTexts = append(singleTexts, encoded)
	}

	stupidSeen := make(map[dedupKey]bool)
	addStupid := func(artistCreditID int64, encoded string) {
		key := dedupKey{artistCreditID, encoded}
		if stupidSeen[key] {
			return
		}
		stupidSeen[key] = true
		stupidIDs = append(stupidIDs, artistCreditID)
		stupidTexts = append(stupidTexts, encoded)
	}

	for _, row := range singleRows {
		main, _ := encoding.Encode(row.CreditName)
		if main == "" {
			if stupid, _ := encoding.EncodeStupid(row.CreditName); stupid != "" {
				addStupid(row.ArtistCreditID, stupid)
			}
		} else {
			addSingle(row.ArtistCreditID, main)
		}

		if IsTransliterated(row.CreditName, row.SortName) {
			if sortMain, _ := encoding.Encode(row.SortName); sortMain != "" {
				addSingle(row.ArtistCreditID, sortMain)
			}
		}
	}

	for _, a := range aliases {
		if main, _ := encoding.Encode(a.Alias); main != "" {
			addSingle(a.ArtistCreditID, main)
		}
	}

	var multipleIDs []int64
	var multipleTexts []string
	multipleSeen := make(map[dedupKey]bool)
	for _, row := range multipleRows {
		main, _ := encoding.Encode(row.CreditName)
		if main == "" {
			continue
		}
		key := dedupKey{row.ArtistCreditID, main}
		if multipleSeen[key] {
			continue
		}
		multipleSeen[key] = true
		multipleIDs = append(multipleIDs, row.ArtistCreditID)
		multipleTexts = append(multipleTexts, main)
	}

	set := &Set{}

	single := fuzzyindex.New(0)
	if len(singleIDs) > 0 {
		if err := single.Build(singleIDs, singleTexts); err != nil {
			return nil, fmt.Errorf("artistindex: build single: %w", err)
		}
	}
	set.Single = single

	multiple := fuzzyindex.New(0)
	if len(multipleIDs) > 0 {
		if err := multiple.Build(multipleIDs, multipleTexts); err != nil {
			return nil, fmt.Errorf("artistindex: build multiple: %w", err)
		}
	}
	set.Multiple = multiple

	stupid := fuzzyindex.New(0)
	if len(stupidIDs) > 0 {
		if err := stupid.Build(stupidIDs, stupidTexts); err != nil {
			return nil, fmt.Errorf("artistindex: build stupid: %w", err)
		}
	}
	set.Stupid = stupid

	return set, nil
}

// Save persists the three indexes to the catalog snapshot under their
// reserved sentinel entity ids.
func (s *Set) Save(ctx context.Context, snap *catalog.Snapshot) error {
	for entityID, idx := range map[int64]*fuzzyindex.Index{
		catalog.SingleArtistEntityID:   s.Single,
		catalog.MultipleArtistEntityID: s.Multiple,
		catalog.StupidArtistEntityID:   s.Stupid,
	} {
		blob, err := idx.Bytes()
		if err != nil {
			return fmt.Errorf("artistindex: serialize entity %d: %w", entityID, err)
		}
		if err := snap.PutIndexBlob(ctx, entityID, blob); err != nil {
			return fmt.Errorf("artistindex: save entity %d: %w", entityID, err)
		}
	}
	return nil
}

// Load reads the three artist-level index blobs from the catalog snapshot.
// It is called once per process, before the first query is served.
func Load(ctx context.Context, snap *catalog.Snapshot) (*Set, error) {
	single, err := loadOne(ctx, snap, catalog.SingleArtistEntityID, "single")
	if err != nil {
		return nil, err
	}
	multiple, err := loadOne(ctx, snap, catalog.MultipleArtistEntityID, "multiple")
	if err != nil {
		return nil, err
	}
	stupid, err := loadOne(ctx, snap, catalog.StupidArtistEntityID, "stupid")
	if err != nil {
		return nil, err
	}
	return &Set{Single: single, Multiple: multiple, Stupid: stupid}, nil
}

func loadOne(ctx context.Context, snap *catalog.Snapshot, entityID int64, name string) (*fuzzyindex.Index, error) {
	blob, ok, err := snap.GetIndexBlob(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("artistindex: load %s: %w", name, err)
	}
	if !ok {
		return nil, fmt.Errorf("artistindex: load %s: %w", name, fuzzyindex.ErrNotBuilt)
	}
	idx, err := fuzzyindex.FromBytes(blob)
	if err != nil {
		return nil, fmt.Errorf("artistindex: decode %s: %w", name, err)
	}
	return idx, nil
}

// SearchArtists queries the single- and multiple-artist indexes, concatenates
// the results and sorts by confidence descending — the artist_search FSM
// state's exact contract.
func (s *Set) SearchArtists(encodedName string, minConfidence float64) ([]fuzzyindex.Result, error) {
	s.mu.RLock()
	single, multiple := s.Single, s.Multiple
	s.mu.RUnlock()

	var out []fuzzyindex.Result

	if single != nil {
		r, err := single.Search(encodedName, minConfidence, "single")
		if err != nil && err != fuzzyindex.ErrNotBuilt {
			return nil, fmt.Errorf("artistindex: search single: %w", err)
		}
		out = append(out, r...)
	}
	if multiple != nil {
		r, err := multiple.Search(encodedName, minConfidence, "multiple")
		if err != nil && err != fuzzyindex.ErrNotBuilt {
			return nil, fmt.Errorf("artistindex: search multiple: %w", err)
		}
		out = append(out, r...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	return out, nil
}

// SearchStupid queries the stupid-artist index alone — the
// stupid_artist_search FSM state's contract, used only when both normal
// encodings of an artist name yield empty.
func (s *Set) SearchStupid(encodedName string, minConfidence float64) ([]fuzzyindex.Result, error) {
	s.mu.RLock()
	stupid := s.Stupid
	s.mu.RUnlock()

	if stupid == nil {
		return nil, nil
	}
	r, err := stupid.Search(encodedName, minConfidence, "stupid")
	if err != nil && err != fuzzyindex.ErrNotBuilt {
		return nil, fmt.Errorf("artistindex: search stupid: %w", err)
	}
	return r, nil
}

// Reload re-reads the three artist-level index blobs from snap and swaps
// them into s in place, atomically with respect to SearchArtists and
// SearchStupid. A query already in flight against the old indexes
// completes against them; the next one sees the new triple.
func (s *Set) Reload(ctx context.Context, snap *catalog.Snapshot) error {
	fresh, err := Load(ctx, snap)
	if err != nil {
		return fmt.Errorf("artistindex: reload: %w", err)
	}
	s.mu.Lock()
	s.Single, s.Multiple, s.Stupid = fresh.Single, fresh.Multiple, fresh.Stupid
	s.mu.Unlock()
	return nil
}

// requiresStupidPath reports whether name's normal encoding is empty,
// matching artist_name_check's branch condition: "both name encodings yield
// empty for normal but the stupid encoding succeeds".
func requiresStupidPath(name string) bool {
	main, _ := encoding.Encode(name)
	return main == ""
}
