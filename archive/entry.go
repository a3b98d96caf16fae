// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"strings"

	"github.com/hashicorp/go-carve/codec"
)

// Flags is the per entry flag word of a segment descriptor.
type Flags uint32

const (
	// FlagPrefix marks a 4-byte prefix in front of the payload.
	FlagPrefix Flags = 1 << iota

	// FlagToken selects the token codec.
	FlagToken

	// FlagLzss selects the LZSS codec.
	FlagLzss

	// FlagDeflate selects deflate.
	FlagDeflate

	// FlagRaw marks a stored payload.
	FlagRaw

	// FlagShared defers the payload to the companion container.
	FlagShared

	// FlagNested marks an embedded archive.
	FlagNested
)

// compressionOrder is the order in which compression bits are consulted.
// The first bit that is set wins.
var compressionOrder = []struct {
	flag Flags
	kind codec.Kind
}{
	{FlagToken, codec.Lz4Like},
	{FlagLzss, codec.LzssNis},
	{FlagDeflate, codec.Deflate},
	{FlagRaw, codec.Raw},
}

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagPrefix, "prefix"},
	{FlagToken, "token"},
	{FlagLzss, "lzss"},
	{FlagDeflate, "deflate"},
	{FlagRaw, "raw"},
	{FlagShared, "shared"},
	{FlagNested, "nested"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Codec returns the codec selected by the compression bits.
func (f Flags) Codec() codec.Kind {
	for _, c := range compressionOrder {
		if f.Has(c.flag) {
			return c.kind
		}
	}
	return codec.Raw
}

func (f Flags) String() string {
	var names []string
	for _, n := range flagNames {
		if f.Has(n.flag) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Entry describes one asset of an archive. Entries are immutable.
type Entry struct {
	// Name is the entry name from the string table.
	Name string `json:"name"`

	// DataOffset is the absolute offset of the payload in the container.
	DataOffset int64 `json:"data_offset"`

	// CompressedSize is the stored payload size, including any prefix.
	CompressedSize int64 `json:"compressed_size"`

	// UncompressedSize is the decoded size. Zero means unknown.
	UncompressedSize int64 `json:"uncompressed_size"`

	// Flags holds the descriptor flags.
	Flags Flags `json:"flags"`

	// ParentArchiveID names the nested archive holding the entry. It is empty
	// for top-level entries; nested levels are joined with '/'.
	ParentArchiveID string `json:"parent_archive_id,omitempty"`
}

// Shared reports whether the payload lives in the companion container.
func (e Entry) Shared() bool {
	return e.Flags.Has(FlagShared) && e.CompressedSize == 0
}

// Path returns the entry name prefixed with its parent archive.
func (e Entry) Path() string {
	if e.ParentArchiveID == "" {
		return e.Name
	}
	return e.ParentArchiveID + "/" + e.Name
}
