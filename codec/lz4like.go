// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import "encoding/binary"

const (
	// lz4MinMatch is added to every decoded match length.
	lz4MinMatch = 4

	// lz4RunMask is the nibble value that announces extension bytes.
	lz4RunMask = 15
)

// decodeLz4Like decodes the token codec. The layout is that of an LZ4 block:
//
//	token | [literal length ext] | literals | offset (LE16) | [match length ext]
//
// The stream ends after a literal run that consumes the remaining input.
func decodeLz4Like(in []byte, limit int) ([]byte, error) {
	out := make([]byte, 0, min(limit, max(len(in)*4, 64)))
	pos := 0

	for pos < len(in) {
		token := in[pos]
		pos++

		// literal run
		litLen, n, err := readLz4Length(in, pos, int(token>>4))
		if err != nil {
			return nil, err
		}
		pos = n
		if litLen > len(in)-pos {
			return nil, errTruncated(Lz4Like, pos)
		}
		if litLen > limit-len(out) {
			return nil, errOverflow(Lz4Like, pos)
		}
		out = append(out, in[pos:pos+litLen]...)
		pos += litLen

		// last sequence has no match part
		if pos == len(in) {
			break
		}

		// match offset
		if pos+2 > len(in) {
			return nil, errTruncated(Lz4Like, pos)
		}
		offset := int(binary.LittleEndian.Uint16(in[pos:]))
		if offset == 0 {
			return nil, newError(Lz4Like, pos, "zero match offset")
		}
		pos += 2
		if offset > len(out) {
			return nil, newError(Lz4Like, pos, "match offset before start of output")
		}

		// match length
		matchLen, n, err := readLz4Length(in, pos, int(token&0x0f))
		if err != nil {
			return nil, err
		}
		pos = n
		matchLen += lz4MinMatch
		if matchLen > limit-len(out) {
			return nil, errOverflow(Lz4Like, pos)
		}

		// source and destination may overlap, copy forward byte by byte
		from := len(out) - offset
		for i := 0; i < matchLen; i++ {
			out = append(out, out[from+i])
		}
	}
	return out, nil
}

// readLz4Length extends a nibble length code with 255-valued extension
// bytes. It returns the length and the new input position.
func readLz4Length(in []byte, pos int, code int) (int, int, error) {
	length := code
	if code != lz4RunMask {
		return length, pos, nil
	}
	for {
		if pos >= len(in) {
			return 0, pos, errTruncated(Lz4Like, pos)
		}
		b := in[pos]
		pos++
		length += int(b)
		if length > MaxUnknownSize {
			return 0, pos, newError(Lz4Like, pos, "length overflow")
		}
		if b != 0xff {
			return length, pos, nil
		}
	}
}
