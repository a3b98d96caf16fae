// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// SegsMagic starts every chunk reassembly container.
var SegsMagic = []byte("segs")

const (
	// SegsHeaderSize is the size of the container header.
	//
	//	0x00 magic "segs"
	//	0x04 version (BE16)
	//	0x06 chunk count (BE16)
	//	0x08 total uncompressed size (BE32)
	//	0x0c container size (BE32)
	SegsHeaderSize = 16

	// SegsEntrySize is the size of one chunk index entry.
	//
	//	0x00 stored length (BE16)
	//	0x02 original length (BE16)
	//	0x04 offset from container start (BE32)
	SegsEntrySize = 8

	// segsWrap replaces a zero length field.
	segsWrap = 1 << 16
)

// SegsHeader is the parsed container header.
type SegsHeader struct {
	Version       uint16
	Chunks        uint16
	Size          uint32
	ContainerSize uint32
}

// SegsChunk is one chunk index entry. Lengths have the zero sentinel
// already resolved.
type SegsChunk struct {
	Length         int
	OriginalLength int
	Offset         int
}

// Stored reports whether the chunk is copied verbatim.
func (c SegsChunk) Stored() bool {
	return c.Length == c.OriginalLength
}

// ParseSegs reads the header and chunk index of a container.
func ParseSegs(in []byte) (SegsHeader, []SegsChunk, error) {
	var h SegsHeader
	if len(in) < SegsHeaderSize {
		return h, nil, errTruncated(Segs, len(in))
	}
	if !bytes.Equal(in[:4], SegsMagic) {
		return h, nil, newError(Segs, 0, "bad magic")
	}
	h.Version = binary.BigEndian.Uint16(in[4:])
	h.Chunks = binary.BigEndian.Uint16(in[6:])
	h.Size = binary.BigEndian.Uint32(in[8:])
	h.ContainerSize = binary.BigEndian.Uint32(in[12:])

	indexEnd := SegsHeaderSize + int(h.Chunks)*SegsEntrySize
	if indexEnd > len(in) {
		return h, nil, errTruncated(Segs, len(in))
	}

	chunks := make([]SegsChunk, 0, h.Chunks)
	for i := 0; i < int(h.Chunks); i++ {
		e := in[SegsHeaderSize+i*SegsEntrySize:]
		c := SegsChunk{
			Length:         int(binary.BigEndian.Uint16(e[0:])),
			OriginalLength: int(binary.BigEndian.Uint16(e[2:])),
			Offset:         int(binary.BigEndian.Uint32(e[4:])),
		}
		if c.Length == 0 {
			c.Length = segsWrap
		}
		if c.OriginalLength == 0 {
			c.OriginalLength = segsWrap
		}
		chunks = append(chunks, c)
	}
	return h, chunks, nil
}

// decodeSegs stitches the chunks of a container into one buffer. Chunks whose
// stored and original lengths match are copied, all others are inflated.
func decodeSegs(in []byte, limit int) ([]byte, error) {
	h, chunks, err := ParseSegs(in)
	if err != nil {
		return nil, err
	}
	if int64(h.Size) > int64(limit) {
		return nil, errOverflow(Segs, 8)
	}

	out := make([]byte, 0, initialCap(int(h.Size), len(in)))
	for i, c := range chunks {
		if c.Offset < 0 || c.Offset+c.Length > len(in) {
			return nil, errTruncated(Segs, SegsHeaderSize+i*SegsEntrySize)
		}
		if c.OriginalLength > int(h.Size)-len(out) {
			return nil, errOverflow(Segs, c.Offset)
		}
		src := in[c.Offset : c.Offset+c.Length]

		if c.Stored() {
			out = append(out, src...)
			continue
		}

		chunk, err := inflateRaw(Segs, src, c.OriginalLength)
		if err != nil {
			return nil, err
		}
		if len(chunk) != c.OriginalLength {
			return nil, newError(Segs, c.Offset, fmt.Sprintf("chunk %d inflated to %d bytes, want %d", i, len(chunk), c.OriginalLength))
		}
		out = append(out, chunk...)
	}
	if len(out) != int(h.Size) {
		return nil, newError(Segs, len(in), fmt.Sprintf("reassembled %d bytes, header declares %d", len(out), h.Size))
	}
	return out, nil
}
