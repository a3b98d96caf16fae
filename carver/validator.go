// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carver

import "bytes"

// DefaultMarkerWindow is the number of bytes a [MarkerValidator] searches
// when no window is set.
const DefaultMarkerWindow = 512

// Validator decides whether a carved candidate is a real asset.
type Validator interface {
	// Validate inspects the first Span() bytes of a candidate, or all of
	// it if Span is not positive.
	Validate(candidate []byte) bool

	// Span is the number of leading candidate bytes Validate needs.
	Span() int
}

// MarkerValidator accepts a candidate if any of its markers occurs inside
// the window [Offset, Offset+Window) of the candidate.
type MarkerValidator struct {
	Markers [][]byte

	// Offset is where the window starts, relative to the hit.
	Offset int

	// Window is the window length. Zero means DefaultMarkerWindow, a negative
	// value searches to the end of the candidate.
	Window int
}

// Validate implements [Validator].
func (v MarkerValidator) Validate(candidate []byte) bool {
	if v.Offset >= len(candidate) {
		return false
	}
	region := candidate[v.Offset:]
	if w := v.window(); w > 0 && w < len(region) {
		region = region[:w]
	}
	for _, m := range v.Markers {
		if len(m) > 0 && bytes.Contains(region, m) {
			return true
		}
	}
	return false
}

// Span implements [Validator].
func (v MarkerValidator) Span() int {
	w := v.window()
	if w < 0 {
		return 0
	}
	return v.Offset + w
}

func (v MarkerValidator) window() int {
	if v.Window == 0 {
		return DefaultMarkerWindow
	}
	return v.Window
}

// ValidatorFunc adapts a function to a [Validator] that sees the full
// candidate.
type ValidatorFunc func(candidate []byte) bool

// Validate implements [Validator].
func (f ValidatorFunc) Validate(candidate []byte) bool {
	return f(candidate)
}

// Span implements [Validator].
func (f ValidatorFunc) Span() int {
	return 0
}

// HeaderValidator accepts a candidate whose first Size bytes pass Check.
// Shorter candidates are rejected.
type HeaderValidator struct {
	Size  int
	Check func(header []byte) bool
}

// Validate implements [Validator].
func (v HeaderValidator) Validate(candidate []byte) bool {
	if v.Size <= 0 || len(candidate) < v.Size {
		return false
	}
	return v.Check(candidate[:v.Size])
}

// Span implements [Validator].
func (v HeaderValidator) Span() int {
	return v.Size
}

// All combines validators; a candidate must pass each of them.
type All []Validator

// Validate implements [Validator].
func (a All) Validate(candidate []byte) bool {
	for _, v := range a {
		if !v.Validate(candidate) {
			return false
		}
	}
	return true
}

// Span implements [Validator]. It is the largest span of the combined
// validators, or zero if any of them needs the full candidate.
func (a All) Span() int {
	span := 0
	for _, v := range a {
		s := v.Span()
		if s <= 0 {
			return 0
		}
		span = max(span, s)
	}
	return span
}
