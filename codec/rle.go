// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import "encoding/binary"

// rleLongRepeat marks a repeat run in a RleLong run header.
const rleLongRepeat = 1 << 31

// decodeRle8 expands [pixel][count] pairs of 8-bit palette indices.
func decodeRle8(in []byte, limit int) ([]byte, error) {
	return decodePixelRuns(Rle8, in, limit, 1)
}

// decodeRle32 expands [pixel (4 bytes)][count] pairs.
func decodeRle32(in []byte, limit int) ([]byte, error) {
	return decodePixelRuns(Rle32, in, limit, 4)
}

func decodePixelRuns(k Kind, in []byte, limit int, pixelSize int) ([]byte, error) {
	var out []byte
	pos := 0
	for pos < len(in) {
		if pos+pixelSize+1 > len(in) {
			return nil, errTruncated(k, pos)
		}
		pixel := in[pos : pos+pixelSize]
		count := int(in[pos+pixelSize])
		pos += pixelSize + 1
		if count*pixelSize > limit-len(out) {
			return nil, errOverflow(k, pos)
		}
		for i := 0; i < count; i++ {
			out = append(out, pixel...)
		}
	}
	return out, nil
}

// decodeRleLong decodes runs introduced by a LE32 header. If the top bit is
// set the low 31 bits count how often the following 4-byte pixel repeats,
// otherwise they count raw pixels copied verbatim.
func decodeRleLong(in []byte, limit int) ([]byte, error) {
	var out []byte
	pos := 0
	for pos < len(in) {
		if pos+4 > len(in) {
			return nil, errTruncated(RleLong, pos)
		}
		hdr := binary.LittleEndian.Uint32(in[pos:])
		pos += 4
		n := int(hdr &^ rleLongRepeat)
		if n > (limit-len(out))/4 {
			return nil, errOverflow(RleLong, pos)
		}

		if hdr&rleLongRepeat != 0 {
			if pos+4 > len(in) {
				return nil, errTruncated(RleLong, pos)
			}
			pixel := in[pos : pos+4]
			pos += 4
			for i := 0; i < n; i++ {
				out = append(out, pixel...)
			}
			continue
		}

		if n*4 > len(in)-pos {
			return nil, errTruncated(RleLong, pos)
		}
		out = append(out, in[pos:pos+n*4]...)
		pos += n * 4
	}
	return out, nil
}

// decodeRleGreyscale expands [grey][alpha][count] runs into RGBA pixels.
func decodeRleGreyscale(in []byte, limit int) ([]byte, error) {
	var out []byte
	pos := 0
	for pos < len(in) {
		if pos+3 > len(in) {
			return nil, errTruncated(RleGreyscale, pos)
		}
		grey, alpha, count := in[pos], in[pos+1], int(in[pos+2])
		pos += 3
		if count*4 > limit-len(out) {
			return nil, errOverflow(RleGreyscale, pos)
		}
		for i := 0; i < count; i++ {
			out = append(out, grey, grey, grey, alpha)
		}
	}
	return out, nil
}
