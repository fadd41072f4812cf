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
	"fmt"
	"sort"
)

// gobVectorizer is the wire shape for Vectorizer: a single trigram→idf map.
// The vocabulary index assignment (sorted order) is reconstructed on decode
// rather than stored twice, since it is fully determined by the sorted
// trigram set — matching the serialized blob format's "vocabulary map, idf
// map" pairing described in the catalog snapshot's index blob contract.
type gobVectorizer struct {
	IDF map[string]float64
}

// GobEncode implements gob.GobEncoder, serializing the fitted model as its
// trigram→idf map.
func (v *Vectorizer) GobEncode() ([]byte, error) {
	idfByTerm := make(map[string]float64, len(v.vocabulary))
	for term, idx := range v.vocabulary {
		idfByTerm[term] = v.idf[idx]
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(gobVectorizer{IDF: idfByTerm}); err != nil {
		return nil, fmt.Errorf("tfidf: gob encode: %w", err)
	}
	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder, reconstructing the vocabulary index
// assignment in sorted trigram order so Transform is deterministic.
func (v *Vectorizer) GobDecode(data []byte) error {
	var wire gobVectorizer
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return fmt.Errorf("tfidf: gob decode: %w", err)
	}

	terms := make([]string, 0, len(wire.IDF))
	for t := range wire.IDF {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	vocabulary := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	for i, t := range terms {
		vocabulary[t] = i
		idf[i] = wire.IDF[t]
	}

	v.vocabulary = vocabulary
	v.idf = idf
	return nil
}
