// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package classify identifies carved payloads by their leading bytes,
// strips standard compression layers and expands standard archives.
package classify

import (
	"bytes"

	"github.com/hashicorp/go-carve/archive"
	"github.com/hashicorp/go-carve/codec"
)

// Class groups types into output sub-directories.
type Class string

const (
	ClassAudio      Class = "audio"
	ClassImage      Class = "image"
	ClassVideo      Class = "video"
	ClassArchive    Class = "archive"
	ClassCompressed Class = "compressed"
	ClassContainer  Class = "container"
	ClassUnknown    Class = "other"
)

// Type describes a detected payload.
type Type struct {
	// Name is the short identifier, e.g. "gzip" or "wav".
	Name string

	// Ext is the file extension without a leading dot.
	Ext string

	Class Class
}

// Unknown is returned for payloads without a known signature.
var Unknown = Type{Name: "unknown", Ext: "bin", Class: ClassUnknown}

// signature couples a type with its magic bytes. If check is set it replaces
// the plain magic byte comparison.
type signature struct {
	Type
	MagicBytes [][]byte
	Offset     int
	check      func(header []byte) bool
}

// signatures is evaluated in order, the first match wins. Short magics come
// last.
var signatures = []signature{
	{Type: Type{"gene", "gene", ClassContainer}, MagicBytes: [][]byte{archive.Magic}},
	{Type: Type{"wav", "wav", ClassAudio}, MagicBytes: [][]byte{[]byte("RIFF")}, check: riffForm("WAVE")},
	{Type: Type{"xwma", "xwma", ClassAudio}, MagicBytes: [][]byte{[]byte("RIFF")}, check: riffForm("XWMA")},
	{Type: Type{"avi", "avi", ClassVideo}, MagicBytes: [][]byte{[]byte("RIFF")}, check: riffForm("AVI ")},
	{Type: Type{"png", "png", ClassImage}, MagicBytes: [][]byte{{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}}},
	{Type: Type{"7z", "7z", ClassArchive}, MagicBytes: [][]byte{{0x37, 0x7A, 0xBC, 0xAF, 0x27, 0x1C}}},
	{Type: Type{"rar", "rar", ClassArchive}, MagicBytes: [][]byte{
		{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x00},       // Rar 1.5
		{0x52, 0x61, 0x72, 0x21, 0x1A, 0x07, 0x01, 0x00}, // Rar 5.0
	}},
	{Type: Type{"snappy", "sz", ClassCompressed}, MagicBytes: [][]byte{
		append([]byte{0xff, 0x06, 0x00, 0x00}, []byte("sNaPpY")...),
	}},
	{Type: Type{"xz", "xz", ClassCompressed}, MagicBytes: [][]byte{{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}}},
	{Type: Type{"tar", "tar", ClassArchive}, Offset: 257, MagicBytes: [][]byte{
		[]byte("ustar\x00tar\x00"),
		[]byte("ustar\x00"),
		[]byte("ustar  \x00"),
	}},
	{Type: Type{"ogg", "ogg", ClassAudio}, MagicBytes: [][]byte{[]byte("OggS")}},
	{Type: Type{"dds", "dds", ClassImage}, MagicBytes: [][]byte{[]byte("DDS ")}},
	{Type: Type{"tim2", "tm2", ClassImage}, MagicBytes: [][]byte{[]byte("TIM2")}},
	{Type: Type{"pss", "pss", ClassVideo}, MagicBytes: [][]byte{{0x00, 0x00, 0x01, 0xBA}}},
	{Type: Type{"segs", "segs", ClassContainer}, MagicBytes: [][]byte{codec.SegsMagic}},
	{Type: Type{"lzs", "lzs", ClassContainer}, MagicBytes: [][]byte{LzsMagic}},
	{Type: Type{"zip", "zip", ClassArchive}, MagicBytes: [][]byte{{0x50, 0x4B, 0x03, 0x04}}},
	{Type: Type{"zstd", "zst", ClassCompressed}, MagicBytes: [][]byte{{0x28, 0xb5, 0x2f, 0xfd}}},
	{Type: Type{"lz4", "lz4", ClassCompressed}, MagicBytes: [][]byte{{0x04, 0x22, 0x4D, 0x18}}},
	{Type: Type{"bzip2", "bz2", ClassCompressed}, MagicBytes: [][]byte{
		[]byte("BZh1"), []byte("BZh2"), []byte("BZh3"),
		[]byte("BZh4"), []byte("BZh5"), []byte("BZh6"),
		[]byte("BZh7"), []byte("BZh8"), []byte("BZh9"),
	}},
	{Type: Type{"gzip", "gz", ClassCompressed}, MagicBytes: [][]byte{{0x1f, 0x8b}}},
	{Type: Type{"bmp", "bmp", ClassImage}, MagicBytes: [][]byte{[]byte("BM")}, check: isBmp},
	{Type: Type{"zlib", "zz", ClassCompressed}, MagicBytes: [][]byte{{0x78}}, check: isZlib},
}

// LzsMagic is the tag of standalone LzssNis blobs.
var LzsMagic = []byte("LZS\x00")

// MaxHeaderLength is the number of leading bytes [Detect] needs to see.
var MaxHeaderLength int

// init calculates the maximum header length
func init() {
	for _, s := range signatures {
		needs := s.Offset
		for _, mb := range s.MagicBytes {
			if len(mb)+s.Offset > needs {
				needs = len(mb) + s.Offset
			}
		}
		if needs > MaxHeaderLength {
			MaxHeaderLength = needs
		}
	}
	// riff form type
	MaxHeaderLength = max(MaxHeaderLength, 12)
}

// Detect returns the type whose signature matches header, or [Unknown].
func Detect(header []byte) Type {
	for _, s := range signatures {
		if !matchesMagicBytes(header, s.Offset, s.MagicBytes) {
			continue
		}
		if s.check != nil && !s.check(header) {
			continue
		}
		return s.Type
	}
	return Unknown
}

// ByName returns the type registered under name.
func ByName(name string) (Type, bool) {
	for _, s := range signatures {
		if s.Name == name {
			return s.Type, true
		}
	}
	if name == brotliType.Name {
		return brotliType, true
	}
	return Unknown, false
}

func matchesMagicBytes(data []byte, offset int, magicBytes [][]byte) bool {
	// check all possible magic bytes until match is found
	for _, mb := range magicBytes {
		// check if header is long enough
		if offset+len(mb) > len(data) {
			continue
		}

		// check for byte match
		if bytes.Equal(mb, data[offset:offset+len(mb)]) {
			return true
		}
	}

	// no match found
	return false
}

// riffForm returns a check for the form type of a RIFF file.
func riffForm(form string) func([]byte) bool {
	return func(header []byte) bool {
		return len(header) >= 12 && string(header[8:12]) == form
	}
}

// isBmp checks the reserved fields of the bitmap file header.
func isBmp(header []byte) bool {
	if len(header) < 14 {
		return false
	}
	return bytes.Equal(header[6:10], []byte{0, 0, 0, 0})
}

// isZlib checks the compression method and the header checksum of RFC 1950.
func isZlib(header []byte) bool {
	if len(header) < 2 {
		return false
	}
	cmf, flg := uint16(header[0]), uint16(header[1])
	return cmf&0x0f == 8 && (cmf<<8|flg)%31 == 0
}
