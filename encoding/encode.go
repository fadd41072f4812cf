// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package encoding normalizes free-text artist, release, and recording
// names to stable ASCII index keys.
//
// # Description
//
// Two encoders are exposed. Encode strips non-word characters, romanizes
// non-ASCII text to ASCII, lowercases, and collapses residual spaces and
// underscores. EncodeStupid only strips whitespace and lowercases; it is
// the fallback used when Encode yields an empty main key (e.g. a name with
// no Latin-decomposable characters at all). Both split their output into a
// bounded main key (at most MaxLen bytes, the part used as an index key)
// and a remainder (anything past the bound, kept for display/debugging
// only).
package encoding

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxLen is the maximum byte length of the main portion of an encoded key.
// An algorithm constant; changing it changes which catalog rows collide
// under the same index key, so it must track mbconfig.Config.MaxEncodedLen.
const MaxLen = 30

var (
	nonWord      = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
	spaceUscore  = regexp.MustCompile(`[ _]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Encode normalizes text to a stable ASCII index key.
//
// # Description
//
// Strips non-word characters, romanizes to ASCII via Unicode NFKD
// decomposition (dropping combining marks and anything left non-ASCII),
// lowercases, then collapses any residual run of spaces or underscores
// left behind by romanization. The result is split at MaxLen bytes; main
// is what callers index on, remainder is the overflow tail.
//
// Empty input, or input that romanizes to nothing, returns ("", "").
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func Encode(text string) (main, remainder string) {
	if text == "" {
		return "", ""
	}

	cleaned := nonWord.ReplaceAllString(text, "")
	cleaned = romanize(cleaned)
	cleaned = strings.ToLower(cleaned)
	// Romanization sometimes introduces spaces (e.g. decomposed ligatures);
	// strip them along with any surviving underscores.
	cleaned = spaceUscore.ReplaceAllString(cleaned, "")

	return splitAtMaxLen(cleaned)
}

// EncodeStupid normalizes text using only whitespace stripping and
// lowercasing, skipping romanization and non-word stripping entirely.
//
// # Description
//
// Used as a fallback path when Encode produces an empty main key — most
// commonly for names composed entirely of non-Latin script or pure
// punctuation, where stripping non-word characters would otherwise destroy
// every byte of signal. Preserves non-ASCII bytes verbatim.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func EncodeStupid(text string) (main, remainder string) {
	if text == "" {
		return "", ""
	}

	cleaned := whitespaceRe.ReplaceAllString(text, "")
	cleaned = strings.ToLower(cleaned)

	return splitAtMaxLen(cleaned)
}

// splitAtMaxLen splits s into a main portion of at most MaxLen bytes and
// the remainder. Splitting on byte length (not rune count) matches the
// original encoder's std::string::substr semantics.
func splitAtMaxLen(s string) (main, remainder string) {
	if len(s) <= MaxLen {
		return s, ""
	}
	return s[:MaxLen], s[MaxLen:]
}

// romanize converts non-ASCII text to an ASCII approximation via Unicode
// NFKD decomposition: diacritics separate from their base letter as
// combining marks, which are then dropped, leaving the bare Latin letter.
// Any rune that survives decomposition outside the printable-ASCII range
// (CJK, Hangul, and other non-decomposable scripts) is dropped outright —
// there is no per-codepoint transliteration table backing this package, so
// those scripts intentionally romanize to an empty or heavily truncated
// residue. That gap is exactly the signal IsTransliterated (package
// artistindex) and the stupid-artist path key off of.
func romanize(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if r > unicode.MaxASCII {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
