// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package signature implements exact byte-pattern search over in-memory
// buffers. It is the lowest layer of the carving stack: every strategy in
// package carver locates its candidates through the functions in this package.
package signature

import (
	"bytes"
	"iter"
)

// Find returns the first offset >= start at which pattern occurs in haystack.
// The second return value is false if there is no such offset. An empty
// pattern never matches.
func Find(haystack, pattern []byte, start int) (int, bool) {
	if len(pattern) == 0 || start < 0 || start > len(haystack)-len(pattern) {
		return -1, false
	}
	i := bytes.Index(haystack[start:], pattern)
	if i < 0 {
		return -1, false
	}
	return start + i, true
}

// FindAll returns every non-overlapping offset at which pattern occurs in
// haystack, in ascending order.
func FindAll(haystack, pattern []byte) []int {
	var offsets []int
	for off := range All(haystack, pattern) {
		offsets = append(offsets, off)
	}
	return offsets
}

// All returns a lazy sequence of the offsets reported by [FindAll]. The
// sequence can be ranged over multiple times; each iteration restarts at
// the beginning of haystack.
func All(haystack, pattern []byte) iter.Seq[int] {
	return func(yield func(int) bool) {
		pos := 0
		for {
			off, ok := Find(haystack, pattern, pos)
			if !ok {
				return
			}
			if !yield(off) {
				return
			}
			pos = off + len(pattern)
		}
	}
}

// FindAny searches for the earliest position >= start at which any of the
// patterns occurs. At a given position the patterns are tried in list order,
// so when two patterns match at the same offset the earlier one wins. It
// returns the offset, the index of the matching pattern and true on success.
func FindAny(haystack []byte, patterns [][]byte, start int) (int, int, bool) {
	best, bestIdx := -1, -1
	for i, p := range patterns {
		limit := len(haystack)
		if best >= 0 {
			// a later hit can not beat the current best
			limit = min(len(haystack), best+len(p)-1)
		}
		off, ok := Find(haystack[:limit], p, start)
		if !ok {
			continue
		}
		if best < 0 || off < best {
			best, bestIdx = off, i
		}
	}
	if best < 0 {
		return -1, -1, false
	}
	return best, bestIdx, true
}

// MatchAt reports which of the patterns occurs exactly at pos. Patterns are
// tried in order and comparison stops at the first mismatching byte. It
// returns the index of the first matching pattern, or -1.
func MatchAt(buf []byte, pos int, patterns ...[]byte) int {
	for i, p := range patterns {
		if hasPrefixAt(buf, pos, p) {
			return i
		}
	}
	return -1
}

// hasPrefixAt compares p against buf[pos:] byte by byte.
func hasPrefixAt(buf []byte, pos int, p []byte) bool {
	if len(p) == 0 || pos < 0 || pos+len(p) > len(buf) {
		return false
	}
	for i := range p {
		if buf[pos+i] != p[i] {
			return false
		}
	}
	return true
}
