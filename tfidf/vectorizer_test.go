// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tfidf

import (
	"bytes"
	"encoding/gob"
	"math"
	"testing"
)

func TestVectorizer_FitTransform_L2Norm(t *testing.T) {
	docs := []string{"portishead", "massiveattack", "tricky", "po"}
	v := NewVectorizer()
	vecs := v.FitTransform(docs)

	for i, vec := range vecs {
		var sumSq float64
		for _, w := range vec {
			sumSq += w * w
		}
		norm := math.Sqrt(sumSq)
		if norm > 1e-9 && math.Abs(norm-1.0) > 1e-9 {
			t.Errorf("doc %d: L2 norm = %v, want 0 or 1", i, norm)
		}
	}
}

func TestVectorizer_ShortDocPadded(t *testing.T) {
	// "po" (len 2) pads to "po " (len 3), producing exactly one trigram.
	v := NewVectorizer()
	v.Fit([]string{"po"})
	if v.VocabSize() != 1 {
		t.Fatalf("VocabSize() = %d, want 1", v.VocabSize())
	}
}

func TestVectorizer_OutOfVocabTermsIgnored(t *testing.T) {
	v := NewVectorizer()
	v.Fit([]string{"portishead"})
	vecs := v.Transform([]string{"zzz completely unrelated zzz"})
	if len(vecs) != 1 {
		t.Fatalf("expected 1 vector")
	}
	// zero-norm vector is valid, not an error.
	var sumSq float64
	for _, w := range vecs[0] {
		sumSq += w * w
	}
	if sumSq != 0 {
		t.Errorf("expected zero vector for fully out-of-vocab doc, got normSq=%v", sumSq)
	}
}

func TestVectorizer_GobRoundTrip(t *testing.T) {
	v := NewVectorizer()
	v.Fit([]string{"portishead", "massiveattack", "tricky"})

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}

	loaded := NewVectorizer()
	if err := gob.NewDecoder(&buf).Decode(loaded); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if loaded.VocabSize() != v.VocabSize() {
		t.Fatalf("VocabSize after round-trip = %d, want %d", loaded.VocabSize(), v.VocabSize())
	}

	query := "portishead"
	want := v.Transform([]string{query})[0]
	got := loaded.Transform([]string{query})[0]
	if Dot(want, got) < 1-1e-9 {
		t.Errorf("round-tripped transform differs: dot(want,got) = %v", Dot(want, got))
	}
}

func TestDot_Symmetric(t *testing.T) {
	a := Vector{0: 0.6, 1: 0.8}
	b := Vector{0: 0.8, 2: 0.6}
	if Dot(a, b) != Dot(b, a) {
		t.Errorf("Dot not symmetric")
	}
}
