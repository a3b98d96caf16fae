// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import "encoding/binary"

// LzssHeaderSize is the size of the header that precedes every LzssNis stream.
//
//	0x00 tag [4]byte
//	0x04 uncompressed size (LE32)
//	0x08 compressed size including the header (LE32)
//	0x0c control word (LE32), the low byte is the control byte
const LzssHeaderSize = 16

// LzssHeader is the parsed header of an LzssNis stream.
type LzssHeader struct {
	Tag            [4]byte
	Size           uint32
	CompressedSize uint32
	Control        byte
}

// ParseLzssHeader reads the stream header from b.
func ParseLzssHeader(b []byte) (LzssHeader, error) {
	var h LzssHeader
	if len(b) < LzssHeaderSize {
		return h, errTruncated(LzssNis, len(b))
	}
	copy(h.Tag[:], b[:4])
	h.Size = binary.LittleEndian.Uint32(b[4:])
	h.CompressedSize = binary.LittleEndian.Uint32(b[8:])
	h.Control = byte(binary.LittleEndian.Uint32(b[12:]))
	return h, nil
}

// decodeLzssNis decodes the control byte LZSS variant.
//
// Every input byte that differs from the control byte is a literal. The
// control byte starts an escape: if the next byte equals the control byte
// the pair encodes a literal control byte. Otherwise the next byte is a
// distance code d followed by a repeat count n. Codes below the control byte
// are biased by one (distance d+1), codes above it are not (distance d), so
// the control value itself is never a distance.
func decodeLzssNis(in []byte, limit int) ([]byte, error) {
	h, err := ParseLzssHeader(in)
	if err != nil {
		return nil, err
	}
	if int64(h.Size) > int64(limit) {
		return nil, errOverflow(LzssNis, 4)
	}
	end := len(in)
	if h.CompressedSize != 0 {
		if int64(h.CompressedSize) < LzssHeaderSize || int64(h.CompressedSize) > int64(len(in)) {
			return nil, errTruncated(LzssNis, 8)
		}
		end = int(h.CompressedSize)
	}

	size := int(h.Size)
	out := make([]byte, 0, initialCap(size, end))
	pos := LzssHeaderSize
	ctrl := h.Control

	for len(out) < size {
		if pos >= end {
			return nil, errTruncated(LzssNis, pos)
		}
		b := in[pos]
		pos++
		if b != ctrl {
			out = append(out, b)
			continue
		}

		if pos >= end {
			return nil, errTruncated(LzssNis, pos)
		}
		d := in[pos]
		pos++
		if d == ctrl {
			out = append(out, ctrl)
			continue
		}

		distance := int(d)
		if d < ctrl {
			distance++
		}
		if pos >= end {
			return nil, errTruncated(LzssNis, pos)
		}
		count := int(in[pos])
		pos++
		if count == 0 {
			return nil, newError(LzssNis, pos, "zero repeat count")
		}
		if distance > len(out) {
			return nil, newError(LzssNis, pos, "back reference before start of output")
		}
		if count > size-len(out) {
			return nil, errOverflow(LzssNis, pos)
		}
		from := len(out) - distance
		for i := 0; i < count; i++ {
			out = append(out, out[from+i])
		}
	}
	return out, nil
}
