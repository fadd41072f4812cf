// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package matcher drives the deterministic finite-state matcher that turns
// one noisy (artist_credit_name, release_name, recording_name) query into a
// best-confidence catalog triple or a clean no-match. States and
// transitions below are transcribed from the algorithm's own transition
// table; this is not a generic workflow engine, it is the one machine the
// algorithm specifies, so a hand-rolled switch over explicit states is the
// right shape — no state-machine library appears anywhere in the retrieved
// corpus for this kind of small closed transition table.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/catalogmatch/mbmapper/artistindex"
	"github.com/catalogmatch/mbmapper/catalog"
	"github.com/catalogmatch/mbmapper/encoding"
	"github.com/catalogmatch/mbmapper/fuzzyindex"
	"github.com/catalogmatch/mbmapper/indexcache"
	"github.com/catalogmatch/mbmapper/resolver"
	"github.com/catalogmatch/mbmapper/subindex"
	"github.com/catalogmatch/mbmapper/telemetry"
)

// Algorithm constants. Thresholds and lengths are constants of the
// algorithm and MUST be preserved for result compatibility — they are not
// deployment-tunable in the sense the rest of mbconfig is.
const (
	ArtistThreshold       = 0.7
	ReleaseThreshold      = 0.7
	RecordingThreshold    = 0.7
	StupidArtistThreshold = 0.7
)

// Error kinds. EncodingEmpty and ThresholdMiss are not returned as errors —
// they resolve to a nil Match (a clean no-match) — the remaining three are
// genuine error conditions the matcher does not swallow.
var (
	// ErrCatalogRead wraps a snapshot read failure; bubbles to the caller as
	// a server-side error.
	ErrCatalogRead = errors.New("matcher: catalog read failed")
	// ErrDeserializeCorrupt wraps a sub-index blob that failed to decode.
	ErrDeserializeCorrupt = errors.New("matcher: sub-index blob corrupt")
	// ErrProgrammerError indicates the FSM reached a (state, event) pair the
	// transition table does not define — a bug in this package, not in the
	// data or the query.
	ErrProgrammerError = errors.New("matcher: invalid state transition")
)

var tracer = telemetry.Tracer("matcher")

var (
	matchOutcomeTotal  = telemetry.NewCounterVec("matcher", "outcome_total", "Matcher outcomes by terminal state: success, fail", []string{"outcome"})
	subIndexCacheTotal = telemetry.NewCounterVec("matcher", "sub_index_cache_total", "Sub-index lookups by outcome: hit, miss_rebuilt", []string{"outcome"})
)

var queryValidator = validator.New()

// NameCleaner invokes an external name-cleaning service (spelling
// correction, punctuation normalization) on an artist credit name. The FSM
// re-enters artist_name_check when cleaned differs from the input it was
// given, and transitions to fail when cleaning made no change.
type NameCleaner func(ctx context.Context, name string) (cleaned string, changed bool, err error)

// Query is one matcher request. ArtistCreditName and RecordingName are
// required; ReleaseName may be empty (the lookup_canonical_release branch).
type Query struct {
	ArtistCreditName string `validate:"required"`
	ReleaseName      string
	RecordingName    string `validate:"required"`
}

// Match is a resolved catalog triple.
type Match struct {
	ArtistCreditID   int64
	ArtistCreditName string
	ArtistMBIDs      []string
	ReleaseID        int64
	ReleaseName      string
	ReleaseMBID      string
	RecordingID      int64
	RecordingName    string
	RecordingMBID    string
	Confidence       float64
}

// Matcher is one worker's FSM + Metadata Resolver handle. Workers share the
// Artist Index Set and Index Cache (both safe for concurrent reads); each
// Matcher owns its own catalog snapshot connection, opened lazily by the
// caller and passed in.
//
// # Thread Safety
//
// A single Matcher is NOT safe for concurrent Match calls — its FSM state
// is per-query but the type is sized to be cheap to construct per worker,
// not per query, matching the one-matcher-per-worker scheduling model.
type Matcher struct {
	snap    *catalog.Snapshot
	artists *artistindex.Set
	cache   *indexcache.Cache
	cleaner NameCleaner
	logger  *slog.Logger
}

// New returns a Matcher. cleaner may be nil, in which case clean_artist_name
// always reports "not cleaned" and the FSM fails immediately on an
// unmatched artist name.
func New(snap *catalog.Snapshot, artists *artistindex.Set, cache *indexcache.Cache, cleaner NameCleaner, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{snap: snap, artists: artists, cache: cache, cleaner: cleaner, logger: logger.With("component", "matcher")}
}

// state identifies one FSM state. Named exactly after the algorithm's own
// state table so a reader can check this switch against that table
// directly.
type state int

const (
	stateArtistNameCheck state = iota
	stateArtistSearch
	stateCleanArtistName
	stateStupidArtistSearch
	stateSelectArtistMatch
	stateRecordingSearch
	stateSelectRecordingMatch
	stateHasReleaseArgument
	stateReleaseSearch
	stateLookupCanonicalRelease
	stateEvaluateMatch
	stateSuccessFetchMetadata
	stateFail
)

// run carries per-query FSM working state: the current candidate pointers
// into sorted match lists, enabling select_artist_match/
// select_recording_match to "advance a pointer" and backtrack without
// recursion, matching spec.md §4.7's intent exactly.
type run struct {
	query Query

	artistEncoded    string
	usingStupidPath  bool
	artistMatches    []fuzzyindex.Result
	artistPtr        int
	currentArtist    fuzzyindex.Result

	subIdx *subindex.Index

	recordingMatches []fuzzyindex.Result
	recordingPtr     int
	currentRecording fuzzyindex.Result

	releaseMatches []fuzzyindex.Result
	chosenLink     subindex.Link
	sourceTag      string
}

// Match runs the FSM end to end for one query, returning (nil, nil) on a
// clean no-match (ThresholdMiss, EncodingEmpty, or an exhausted backtrack),
// a non-nil Match on success, and a non-nil error only for an invalid
// Query or for CatalogRead, DeserializeCorrupt, or ProgrammerError
// conditions.
func (m *Matcher) Match(ctx context.Context, q Query) (*Match, error) {
	if err := queryValidator.Struct(q); err != nil {
		return nil, fmt.Errorf("matcher: invalid query: %w", err)
	}

	ctx, span := tracer.Start(ctx, "matcher.Match")
	defer span.End()
	span.SetAttributes(
		attribute.String("artist_credit_name", q.ArtistCreditName),
		attribute.String("release_name", q.ReleaseName),
		attribute.String("recording_name", q.RecordingName),
	)

	r := &run{query: q}
	st := stateArtistNameCheck

	for {
		next, err := m.step(ctx, st, r)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			matchOutcomeTotal.WithLabelValues("fail").Inc()
			return nil, err
		}
		st = next

		switch st {
		case stateSuccessFetchMetadata:
			result, err := m.fetchMetadata(ctx, r)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				matchOutcomeTotal.WithLabelValues("fail").Inc()
				return nil, err
			}
			matchOutcomeTotal.WithLabelValues("success").Inc()
			span.SetAttributes(attribute.Float64("confidence", result.Confidence))
			return result, nil
		case stateFail:
			matchOutcomeTotal.WithLabelValues("fail").Inc()
			return nil, nil
		}
	}
}

// step executes one FSM state and returns the next state per the
// transition table. Any (state) this switch does not recognize is a
// ProgrammerError — the exhaustive-transitions invariant spec.md §4.7
// requires.
func (m *Matcher) step(ctx context.Context, st state, r *run) (state, error) {
	switch st {
	case stateArtistNameCheck:
		return m.artistNameCheck(r), nil
	case stateArtistSearch:
		return m.artistSearch(r), nil
	case stateCleanArtistName:
		return m.cleanArtistName(ctx, r), nil
	case stateStupidArtistSearch:
		return m.stupidArtistSearch(r), nil
	case stateSelectArtistMatch:
		return m.selectArtistMatch(ctx, r), nil
	case stateRecordingSearch:
		return m.recordingSearch(ctx, r), nil
	case stateSelectRecordingMatch:
		return m.selectRecordingMatch(r), nil
	case stateHasReleaseArgument:
		return m.hasReleaseArgument(r), nil
	case stateReleaseSearch:
		return m.releaseSearch(r), nil
	case stateLookupCanonicalRelease:
		return m.lookupCanonicalRelease(ctx, r)
	case stateEvaluateMatch:
		return m.evaluateMatch(r), nil
	default:
		return stateFail, fmt.Errorf("%w: unexpected state %d", ErrProgrammerError, st)
	}
}

// artistNameCheck picks the normal vs. stupid encoding path [start,
// normal_name, stupid_name].
func (m *Matcher) artistNameCheck(r *run) state {
	main, _ := encoding.Encode(r.query.ArtistCreditName)
	if main != "" {
		r.artistEncoded = main
		r.usingStupidPath = false
		return stateArtistSearch
	}
	r.usingStupidPath = true
	return stateStupidArtistSearch
}

// artistSearch queries single + multiple artist indexes, concatenates,
// sorts by confidence desc [has_matches, no_matches].
func (m *Matcher) artistSearch(r *run) state {
	matches, err := m.artists.SearchArtists(r.artistEncoded, 0)
	if err != nil {
		m.logger.Warn("artist search failed", slog.String("error", err.Error()))
	}
	r.artistMatches = matches
	r.artistPtr = 0
	if len(matches) == 0 {
		return stateCleanArtistName
	}
	return stateSelectArtistMatch
}

// stupidArtistSearch queries the stupid-artist index at threshold 0.7
// [has_matches, no_matches].
func (m *Matcher) stupidArtistSearch(r *run) state {
	stupid, _ := encoding.EncodeStupid(r.query.ArtistCreditName)
	matches, err := m.artists.SearchStupid(stupid, StupidArtistThreshold)
	if err != nil {
		m.logger.Warn("stupid artist search failed", slog.String("error", err.Error()))
	}
	r.artistMatches = matches
	r.artistPtr = 0
	if len(matches) == 0 {
		return stateFail
	}
	return stateSelectArtistMatch
}

// cleanArtistName invokes the external name-cleaner; re-enters
// artist_name_check if output differs from input [cleaned, not_cleaned].
func (m *Matcher) cleanArtistName(ctx context.Context, r *run) state {
	if m.cleaner == nil {
		return stateFail
	}
	cleaned, changed, err := m.cleaner(ctx, r.query.ArtistCreditName)
	if err != nil || !changed {
		return stateFail
	}
	r.query.ArtistCreditName = cleaned
	return stateArtistNameCheck
}

// selectArtistMatch advances the artist-match pointer, emitting
// meets_threshold when the current candidate's confidence is ≥ 0.7, else
// doesnt_meet_threshold.
func (m *Matcher) selectArtistMatch(ctx context.Context, r *run) state {
	if r.artistPtr >= len(r.artistMatches) {
		return stateFail
	}
	r.currentArtist = r.artistMatches[r.artistPtr]
	r.artistPtr++
	if r.currentArtist.Confidence < ArtistThreshold {
		return stateFail
	}
	return stateRecordingSearch
}

// recordingSearch loads (or retrieves from cache) the sub-index and queries
// recording_index at threshold 0.7 [has_matches, no_matches].
func (m *Matcher) recordingSearch(ctx context.Context, r *run) state {
	subIdx, err := m.loadSubIndex(ctx, r.currentArtist.ExternalID)
	if err != nil {
		if errors.Is(err, errSubIndexMissing) {
			if r.usingStupidPath {
				return stateFail
			}
			m.logger.Error("sub-index missing for artist credit with a normal-path match",
				slog.Int64("artist_credit_id", r.currentArtist.ExternalID))
			return stateSelectArtistMatch
		}
		m.logger.Error("recording search: load sub-index failed", slog.String("error", err.Error()))
		return stateSelectArtistMatch
	}
	r.subIdx = subIdx

	encodedRecording, _ := encoding.Encode(r.query.RecordingName)
	matches, err := subIdx.Recording.Search(encodedRecording, RecordingThreshold, "")
	if err != nil && err != fuzzyindex.ErrNotBuilt {
		m.logger.Warn("recording search failed", slog.String("error", err.Error()))
	}
	r.recordingMatches = matches
	r.recordingPtr = 0
	if len(matches) == 0 {
		return stateSelectArtistMatch
	}
	return stateSelectRecordingMatch
}

// selectRecordingMatch advances through recording matches at threshold 0.7
// [meets_threshold, doesnt_meet_threshold].
func (m *Matcher) selectRecordingMatch(r *run) state {
	if r.recordingPtr >= len(r.recordingMatches) {
		return stateSelectArtistMatch
	}
	r.currentRecording = r.recordingMatches[r.recordingPtr]
	r.recordingPtr++
	if r.currentRecording.Confidence < RecordingThreshold {
		return stateSelectArtistMatch
	}
	return stateHasReleaseArgument
}

// hasReleaseArgument branches on whether a release name was supplied [yes,
// no].
func (m *Matcher) hasReleaseArgument(r *run) state {
	if r.query.ReleaseName != "" {
		return stateReleaseSearch
	}
	return stateLookupCanonicalRelease
}

// releaseSearch queries release_index at threshold 0.7, sets match index 0,
// tags source 'l' [has_matches, no_matches].
func (m *Matcher) releaseSearch(r *run) state {
	encodedRelease, _ := encoding.Encode(r.query.ReleaseName)
	matches, err := r.subIdx.Release.Search(encodedRelease, ReleaseThreshold, "l")
	if err != nil && err != fuzzyindex.ErrNotBuilt {
		m.logger.Warn("release search failed", slog.String("error", err.Error()))
	}
	if len(matches) == 0 {
		return stateSelectArtistMatch
	}
	r.releaseMatches = matches
	r.sourceTag = "l"
	return stateEvaluateMatch
}

// lookupCanonicalRelease selects the lowest-score mapping row for
// (artist_credit, recording) and emits a single synthetic release match
// tagged 'r' [has_matches, no_matches].
func (m *Matcher) lookupCanonicalRelease(ctx context.Context, r *run) (state, error) {
	row, ok, err := m.snap.CanonicalReleaseForRecording(ctx, r.currentArtist.ExternalID, r.currentRecording.ExternalID)
	if err != nil {
		return stateFail, fmt.Errorf("%w: %v", ErrCatalogRead, err)
	}
	if !ok {
		return stateFail, nil
	}
	r.releaseMatches = []fuzzyindex.Result{{
		ExternalID:  row.ReleaseID,
		ResultIndex: 0,
		Confidence:  1.0,
		SourceTag:   "r",
	}}
	r.sourceTag = "r"
	return stateEvaluateMatch, nil
}

// errSubIndexMissing is an internal sentinel distinguishing "no blob for
// this artist_credit" from a genuine deserialize or catalog failure inside
// loadSubIndex.
var errSubIndexMissing = errors.New("matcher: sub-index missing")

// loadSubIndex fetches a sub-index from the Index Cache, falling back to a
// catalog read and populating the cache on a miss.
func (m *Matcher) loadSubIndex(ctx context.Context, artistCreditID int64) (*subindex.Index, error) {
	if m.cache != nil {
		if idx, ok := m.cache.Get(artistCreditID); ok {
			subIndexCacheTotal.WithLabelValues("hit").Inc()
			return idx, nil
		}
	}

	idx, ok, err := subindex.LoadFromSnapshot(ctx, m.snap, artistCreditID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogRead, err)
	}
	if !ok {
		return nil, errSubIndexMissing
	}

	subIndexCacheTotal.WithLabelValues("miss_rebuilt").Inc()
	if m.cache != nil {
		m.cache.Add(artistCreditID, idx)
	}
	return idx, nil
}

// evaluateMatch joins the chosen release and recording through the link
// table — binary search when source = 'r' (by release_catalog_id), linear
// scan on release_position when source = 'l' — constructing the result on
// success and transitioning to success_fetch_metadata [meets_threshold,
// doesnt_meet_threshold].
func (m *Matcher) evaluateMatch(r *run) state {
	links := r.subIdx.LinksFor(r.currentRecording.ResultIndex)
	release := r.releaseMatches[0]

	var chosen subindex.Link
	found := false

	if r.sourceTag == "r" {
		// links are sorted by ReleaseCatalogID ascending; binary search for
		// the synthetic canonical release's catalog id.
		lo, hi := 0, len(links)
		for lo < hi {
			mid := (lo + hi) / 2
			if links[mid].ReleaseCatalogID < release.ExternalID {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo < len(links) && links[lo].ReleaseCatalogID == release.ExternalID {
			chosen = links[lo]
			found = true
		}
	} else {
		for _, link := range links {
			if link.ReleasePosition == release.ResultIndex {
				chosen = link
				found = true
				break
			}
		}
	}

	if !found {
		return stateSelectRecordingMatch
	}

	confidence := (r.currentRecording.Confidence + release.Confidence) / 2
	if confidence < RecordingThreshold {
		return stateSelectRecordingMatch
	}

	r.chosenLink = chosen
	return stateSuccessFetchMetadata
}

// fetchMetadata resolves MBIDs/names via the Metadata Resolver and builds
// the final Match value — the FSM's terminal success action.
func (m *Matcher) fetchMetadata(ctx context.Context, r *run) (*Match, error) {
	res, err := resolver.Resolve(ctx, m.snap, r.chosenLink.ReleaseCatalogID, r.chosenLink.RecordingCatalogID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogRead, err)
	}
	if res == nil {
		return nil, fmt.Errorf("%w: resolver returned no row for release=%d recording=%d",
			ErrDeserializeCorrupt, r.chosenLink.ReleaseCatalogID, r.chosenLink.RecordingCatalogID)
	}

	confidence := (r.currentRecording.Confidence + releaseConfidence(r)) / 2

	return &Match{
		ArtistCreditID:   res.ArtistCreditID,
		ArtistCreditName: res.ArtistCreditName,
		ArtistMBIDs:      res.ArtistMBIDs,
		ReleaseID:        res.ReleaseID,
		ReleaseName:      res.ReleaseName,
		ReleaseMBID:      res.ReleaseMBID,
		RecordingID:      res.RecordingID,
		RecordingName:    res.RecordingName,
		RecordingMBID:    res.RecordingMBID,
		Confidence:       confidence,
	}, nil
}

func releaseConfidence(r *run) float64 {
	if len(r.releaseMatches) == 0 {
		return 0
	}
	return r.releaseMatches[0].Confidence
}
