// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fuzzyindex wraps a tfidf.Vectorizer with a hand-rolled inverted-file
// k-NN search over its sparse columns, using negative dot product as the
// distance space. It is the same "simple inverted index" method the corpus's
// own BM25Index uses — a postings list per vocabulary term — generalized
// with a postings structure that carries per-document weight, since
// confidence here must be an exact dot product rather than a per-query
// term-presence rescan.
package fuzzyindex

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/catalogmatch/mbmapper/tfidf"
)

// DefaultNumResults is the default cap on returned search results
// (spec constant num_fuzzy_search_results).
const DefaultNumResults = 500

// ErrNotBuilt is returned by Search and GetIndexText when called before
// Build or Load has populated the index.
var ErrNotBuilt = errors.New("fuzzyindex: index not built")

// ErrEmptyInput is returned by Build when ids or texts is empty, or their
// lengths differ.
var ErrEmptyInput = errors.New("fuzzyindex: ids and texts must be equal length and non-empty")

// Result is one search hit.
type Result struct {
	// ExternalID is the caller-supplied identifier for the matched document
	// (a catalog id, or a compact dense position for per-artist sub-indexes).
	ExternalID int64
	// ResultIndex is the column position of the match within the index,
	// i.e. its order in the ids/texts slices passed to Build.
	ResultIndex int
	// Confidence is the dot product of the L2-normalized query and document
	// vectors, in [0, 1].
	Confidence float64
	// SourceTag identifies which search path produced this result, echoed
	// back from the Search call; callers disambiguate provenance without a
	// second lookup.
	SourceTag string
}

// postingEntry is one occurrence of a vocabulary term in a built document.
type postingEntry struct {
	docIndex int
	weight   float64
}

// Index is a fuzzy full-text index: a fitted tfidf.Vectorizer plus an
// inverted file over its transformed columns.
//
// # Thread Safety
//
// Immutable after Build or Load returns. Safe for concurrent Search calls.
// Build/Load themselves must not run concurrently with any other method.
type Index struct {
	vectorizer  *tfidf.Vectorizer
	postings    map[int][]postingEntry
	externalIDs []int64
	texts       []string
	numResults  int
}

// New returns an empty, unbuilt Index. numResults overrides
// DefaultNumResults when positive; pass 0 to use the default.
func New(numResults int) *Index {
	if numResults <= 0 {
		numResults = DefaultNumResults
	}
	return &Index{numResults: numResults}
}

// Build fits the vectorizer over texts and constructs the inverted file.
//
// # Description
//
// ids and texts must be the same non-zero length, with duplicates of the
// same encoded key already collapsed upstream (callers — artistindex,
// subindex — own that dedup step; Build treats every row as distinct).
//
// # Thread Safety
//
// Must not be called concurrently with any other method on this Index.
func (idx *Index) Build(ids []int64, texts []string) error {
	if len(ids) == 0 || len(ids) != len(texts) {
		return ErrEmptyInput
	}

	vectorizer := tfidf.NewVectorizer()
	vecs := vectorizer.FitTransform(texts)

	postings := make(map[int][]postingEntry)
	for docIdx, vec := range vecs {
		for term, w := range vec {
			postings[term] = append(postings[term], postingEntry{docIndex: docIdx, weight: w})
		}
	}

	idx.vectorizer = vectorizer
	idx.postings = postings
	idx.externalIDs = append([]int64(nil), ids...)
	idx.texts = append([]string(nil), texts...)
	return nil
}

// Search transforms query against the fitted vocabulary and returns the
// highest-confidence matches with confidence strictly greater than
// minConfidence, capped at the index's numResults, sorted by confidence
// descending (ties broken by ResultIndex ascending for determinism).
//
// sourceTag is stamped onto every returned Result, letting downstream
// matcher logic (package matcher) distinguish which search path produced
// a candidate without a second lookup.
//
// # Thread Safety
//
// Safe for concurrent use.
func (idx *Index) Search(query string, minConfidence float64, sourceTag string) ([]Result, error) {
	if idx.vectorizer == nil || len(idx.externalIDs) == 0 {
		return nil, ErrNotBuilt
	}

	qvec := idx.vectorizer.Transform([]string{query})[0]
	scores := make(map[int]float64)
	for term, qw := range qvec {
		for _, p := range idx.postings[term] {
			scores[p.docIndex] += qw * p.weight
		}
	}

	results := make([]Result, 0, len(scores))
	for docIdx, conf := range scores {
		if conf <= minConfidence {
			continue
		}
		results = append(results, Result{
			ExternalID:  idx.externalIDs[docIdx],
			ResultIndex: docIdx,
			Confidence:  conf,
			SourceTag:   sourceTag,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Confidence != results[j].Confidence {
			return results[i].Confidence > results[j].Confidence
		}
		return results[i].ResultIndex < results[j].ResultIndex
	})

	if len(results) > idx.numResults {
		results = results[:idx.numResults]
	}
	return results, nil
}

// GetIndexText returns the original (encoded) text stored at resultIndex.
func (idx *Index) GetIndexText(resultIndex int) (string, error) {
	if idx.vectorizer == nil {
		return "", ErrNotBuilt
	}
	if resultIndex < 0 || resultIndex >= len(idx.texts) {
		return "", fmt.Errorf("fuzzyindex: result index %d out of range [0,%d)", resultIndex, len(idx.texts))
	}
	return idx.texts[resultIndex], nil
}

// Size returns the number of documents in the index (0 if unbuilt).
func (idx *Index) Size() int { return len(idx.externalIDs) }

// wireIndex is the gob wire format for Save/Load: the fitted vectorizer,
// the external id list, and the display texts. The inverted file itself is
// rebuilt from these on Load — it is pure derived state, so persisting it
// would duplicate the vectorizer's own sparse transform for no benefit.
type wireIndex struct {
	Vectorizer  *tfidf.Vectorizer
	ExternalIDs []int64
	Texts       []string
	NumResults  int
}

// Save serializes the index to w via encoding/gob, preserving vectorizer
// state, the external id list, and display texts — sufficient to rebuild
// an identical inverted file on Load.
func (idx *Index) Save(w io.Writer) error {
	if idx.vectorizer == nil {
		return ErrNotBuilt
	}
	wire := wireIndex{
		Vectorizer:  idx.vectorizer,
		ExternalIDs: idx.externalIDs,
		Texts:       idx.texts,
		NumResults:  idx.numResults,
	}
	if err := gob.NewEncoder(w).Encode(wire); err != nil {
		return fmt.Errorf("fuzzyindex: save: %w", err)
	}
	return nil
}

// Load deserializes an index previously written by Save and rebuilds its
// inverted file from the restored vectorizer and texts.
func (idx *Index) Load(r io.Reader) error {
	var wire wireIndex
	wire.Vectorizer = tfidf.NewVectorizer()
	if err := gob.NewDecoder(r).Decode(&wire); err != nil {
		return fmt.Errorf("fuzzyindex: load: %w", err)
	}

	postings := make(map[int][]postingEntry)
	vecs := wire.Vectorizer.Transform(wire.Texts)
	for docIdx, vec := range vecs {
		for term, w := range vec {
			postings[term] = append(postings[term], postingEntry{docIndex: docIdx, weight: w})
		}
	}

	idx.vectorizer = wire.Vectorizer
	idx.postings = postings
	idx.externalIDs = wire.ExternalIDs
	idx.texts = wire.Texts
	if wire.NumResults > 0 {
		idx.numResults = wire.NumResults
	} else {
		idx.numResults = DefaultNumResults
	}
	return nil
}

// Bytes serializes the index to an in-memory byte slice, the shape stored
// under an entity_id in the catalog snapshot's index_cache table.
func (idx *Index) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := idx.Save(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes constructs an Index by deserializing raw blob bytes.
func FromBytes(data []byte) (*Index, error) {
	idx := &Index{}
	if err := idx.Load(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return idx, nil
}
