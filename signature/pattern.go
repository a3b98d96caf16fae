// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package signature

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Pattern is a byte signature that may be constrained to appear within a
// range relative to an anchor offset. A zero MaxOffset means the pattern is
// not anchored.
type Pattern struct {
	// Magic is the byte sequence to search for.
	Magic []byte

	// MinOffset is the smallest allowed distance from the anchor.
	MinOffset int

	// MaxOffset is the largest allowed distance from the anchor.
	MaxOffset int
}

// Anchored reports whether p is bound to an offset range.
func (p Pattern) Anchored() bool {
	return p.MaxOffset > 0
}

// FindFrom locates p relative to anchor. For anchored patterns only the range
// [anchor+MinOffset, anchor+MaxOffset] is searched, the whole pattern must
// start inside that range.
func (p Pattern) FindFrom(buf []byte, anchor int) (int, bool) {
	if !p.Anchored() {
		return Find(buf, p.Magic, anchor+p.MinOffset)
	}
	lo := anchor + p.MinOffset
	hi := min(len(buf), anchor+p.MaxOffset+len(p.Magic))
	if lo < 0 || lo >= hi {
		return -1, false
	}
	return Find(buf[:hi], p.Magic, lo)
}

// String returns the pattern as hex.
func (p Pattern) String() string {
	return hex.EncodeToString(p.Magic)
}

// ParseHex decodes a hex signature. Whitespace and the separators ':' and '-'
// are ignored, so "52 49 46 46" and "52:49:46:46" are equal.
func ParseHex(s string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', ':', '-':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", s, err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	return b, nil
}

// MustHex is like [ParseHex] but panics on error. It is intended for
// package level signature tables.
func MustHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}
