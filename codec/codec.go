// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package codec implements the decompression codecs used by game-data
// containers. Each codec is a stateless function from a [Request] to the
// decoded bytes. Malformed input never panics; it results in a *[DecodeError].
package codec

import (
	"fmt"
	"strings"
)

// Kind identifies a codec.
type Kind int

const (
	Raw Kind = iota
	Deflate
	Lz4Like
	LzssNis
	Rle8
	Rle32
	RleLong
	RleGreyscale
	Segs
)

var kindNames = map[Kind]string{
	Raw:          "raw",
	Deflate:      "deflate",
	Lz4Like:      "lz4like",
	LzssNis:      "lzssnis",
	Rle8:         "rle8",
	Rle32:        "rle32",
	RleLong:      "rlelong",
	RleGreyscale: "rlegreyscale",
	Segs:         "segs",
}

// String returns the lower case name of the codec.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind returns the codec for name. Names are case insensitive.
func ParseKind(name string) (Kind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

// MarshalText implements [encoding.TextMarshaler].
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("unknown codec %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Request describes one decode operation.
type Request struct {
	// Input is the encoded payload.
	Input []byte

	// DeclaredSize is the expected size of the decoded payload. A value of
	// zero means the size is unknown; the output is then bounded by
	// [MaxUnknownSize].
	DeclaredSize int

	// Kind selects the codec.
	Kind Kind
}

// MaxUnknownSize bounds the output of a decode when the request does not
// declare a size.
const MaxUnknownSize = 1 << 28 // 256 Mb

// initialCap returns the capacity preallocated for an output of declared
// bytes decoded from inLen input bytes. Header sizes are capped at eight times
// the input; append grows the buffer past that.
func initialCap(declared, inLen int) int {
	return max(0, min(declared, inLen*8))
}

// Func is the signature every codec implements. limit is the maximum number
// of bytes the codec may produce.
type Func func(in []byte, limit int) ([]byte, error)

var registry = map[Kind]Func{
	Raw:          decodeRaw,
	Deflate:      decodeDeflate,
	Lz4Like:      decodeLz4Like,
	LzssNis:      decodeLzssNis,
	Rle8:         decodeRle8,
	Rle32:        decodeRle32,
	RleLong:      decodeRleLong,
	RleGreyscale: decodeRleGreyscale,
	Segs:         decodeSegs,
}

// Decode runs the codec selected by req.Kind.
//
// When req.DeclaredSize is set the decoded output must have exactly that
// size; anything else is reported as a *[DecodeError]. Decode panics if
// req.Kind is not a known codec.
func Decode(req Request) ([]byte, error) {
	fn, ok := registry[req.Kind]
	if !ok {
		panic(fmt.Sprintf("codec: unknown kind %d", int(req.Kind)))
	}
	if req.DeclaredSize < 0 {
		return nil, newError(req.Kind, 0, "negative declared size")
	}

	limit := req.DeclaredSize
	if limit == 0 {
		limit = MaxUnknownSize
	}
	out, err := fn(req.Input, limit)
	if err != nil {
		return nil, err
	}
	if req.DeclaredSize > 0 && len(out) != req.DeclaredSize {
		return nil, newError(req.Kind, len(req.Input), fmt.Sprintf("decoded %d bytes, declared %d", len(out), req.DeclaredSize))
	}
	return out, nil
}

// Known reports whether k is a registered codec.
func Known(k Kind) bool {
	_, ok := registry[k]
	return ok
}

func decodeRaw(in []byte, limit int) ([]byte, error) {
	if len(in) > limit {
		in = in[:limit]
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out, nil
}
