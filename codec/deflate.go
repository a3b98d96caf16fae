// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
)

// isZlibHeader reports whether b starts with a RFC 1950 header using the
// deflate method.
func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && b[0]>>4 <= 7 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// decodeDeflate inflates a zlib wrapped or a raw deflate stream.
func decodeDeflate(in []byte, limit int) ([]byte, error) {
	var r io.ReadCloser
	if isZlibHeader(in) {
		zr, err := zlib.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, &DecodeError{Kind: Deflate, Reason: "invalid zlib header", Err: err}
		}
		r = zr
	} else {
		r = flate.NewReader(bytes.NewReader(in))
	}
	defer r.Close()
	return inflate(Deflate, r, limit)
}

// inflateRaw inflates a raw deflate stream, used by the chunk reassembly codec.
func inflateRaw(k Kind, in []byte, limit int) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(in))
	defer r.Close()
	return inflate(k, r, limit)
}

func inflate(k Kind, r io.Reader, limit int) ([]byte, error) {
	var buf bytes.Buffer

	// read one byte past the limit to detect overflow
	n, err := io.Copy(&buf, io.LimitReader(r, int64(limit)+1))
	if err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &DecodeError{Kind: k, Offset: int(n), Reason: "input truncated", Err: err}
		}
		return nil, &DecodeError{Kind: k, Offset: int(n), Reason: "corrupt stream", Err: err}
	}
	if n > int64(limit) {
		return nil, errOverflow(k, int(n))
	}
	return buf.Bytes(), nil
}
