// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"runtime"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUnknownKindPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("Decode() with unknown kind did not panic")
		}
	}()
	_, _ = Decode(Request{Kind: Kind(99)})
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, err := ParseKind(strings.ToUpper(name))
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("zip")
	assert.Error(t, err)
}

func TestRaw(t *testing.T) {
	out, err := Decode(Request{Input: []byte("abcdef"), DeclaredSize: 4, Kind: Raw})
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), out)

	_, err = Decode(Request{Input: []byte("ab"), DeclaredSize: 4, Kind: Raw})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDeflate(t *testing.T) {
	payload := bytes.Repeat([]byte("sound bank "), 100)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, _ = zw.Write(payload)
	require.NoError(t, zw.Close())

	var fbuf bytes.Buffer
	fw, err := flate.NewWriter(&fbuf, flate.BestCompression)
	require.NoError(t, err)
	_, _ = fw.Write(payload)
	require.NoError(t, fw.Close())

	tests := []struct {
		name    string
		input   []byte
		size    int
		wantErr bool
	}{
		{name: "zlib", input: zbuf.Bytes(), size: len(payload)},
		{name: "raw deflate", input: fbuf.Bytes(), size: len(payload)},
		{name: "unknown size", input: zbuf.Bytes(), size: 0},
		{name: "declared too small", input: zbuf.Bytes(), size: 10, wantErr: true},
		{name: "declared too large", input: zbuf.Bytes(), size: len(payload) + 1, wantErr: true},
		{name: "truncated", input: zbuf.Bytes()[:zbuf.Len()/2], size: len(payload), wantErr: true},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := Decode(Request{Input: test.input, DeclaredSize: test.size, Kind: Deflate})
			if test.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecode)
				var de *DecodeError
				assert.True(t, errors.As(err, &de))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestLz4LikeMatchesReferenceEncoder(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	words := [][]byte{[]byte("texture"), []byte("bank"), []byte("\x00\x00\x00\x00"), []byte("voice_"), {0xff}}

	for round := 0; round < 50; round++ {
		var src []byte
		for len(src) < 64+rng.Intn(8192) {
			src = append(src, words[rng.Intn(len(words))]...)
			if rng.Intn(4) == 0 {
				src = append(src, byte(rng.Intn(256)))
			}
		}

		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		require.NoError(t, err)
		if n == 0 {
			// incompressible
			continue
		}

		out, err := Decode(Request{Input: dst[:n], DeclaredSize: len(src), Kind: Lz4Like})
		require.NoError(t, err, "round %d", round)
		require.True(t, bytes.Equal(src, out), "round %d: decoded data differs", round)
	}
}

func TestLz4LikeOverlappingCopy(t *testing.T) {
	// literal "ab", then a match of 6 at offset 2, then a final literal "c"
	in := []byte{0x22, 'a', 'b', 0x02, 0x00, 0x10, 'c'}
	out, err := Decode(Request{Input: in, Kind: Lz4Like})
	require.NoError(t, err)
	assert.Equal(t, "abababab"+"c", string(out))
}

func TestLz4LikeLengthExtension(t *testing.T) {
	lit := bytes.Repeat([]byte{'x'}, 15+255+3)
	in := append([]byte{0xf0, 0xff, 0x03}, lit...)
	out, err := Decode(Request{Input: in, Kind: Lz4Like})
	require.NoError(t, err)
	assert.Equal(t, lit, out)
}

func TestLz4LikeErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		size int
	}{
		{"zero offset", []byte{0x10, 'a', 0x00, 0x00}, 0},
		{"offset before output", []byte{0x10, 'a', 0x05, 0x00}, 0},
		{"truncated literals", []byte{0x50, 'a', 'b'}, 0},
		{"truncated offset", []byte{0x10, 'a', 0x01}, 0},
		{"truncated extension", []byte{0xf0, 0xff}, 0},
		{"exceeds declared size", []byte{0x10, 'a', 0x01, 0x00, 0x10, 'b'}, 3},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(Request{Input: test.in, DeclaredSize: test.size, Kind: Lz4Like})
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

// lzssHeader builds a LzssNis stream header.
func lzssHeader(size, compressed int, ctrl byte) []byte {
	h := make([]byte, LzssHeaderSize)
	copy(h, "LZS\x00")
	binary.LittleEndian.PutUint32(h[4:], uint32(size))
	binary.LittleEndian.PutUint32(h[8:], uint32(compressed))
	binary.LittleEndian.PutUint32(h[12:], uint32(ctrl))
	return h
}

func TestLzssNis(t *testing.T) {
	const ctrl = 0x80
	tests := []struct {
		name string
		body []byte
		want []byte
	}{
		{
			name: "literals only",
			body: []byte("plain"),
			want: []byte("plain"),
		},
		{
			name: "escaped control byte",
			body: []byte{'a', ctrl, ctrl, 'b'},
			want: []byte{'a', ctrl, 'b'},
		},
		{
			name: "distance below control is biased",
			// d=0 -> distance 1, repeat 4
			body: []byte{'z', ctrl, 0x00, 0x04},
			want: []byte("zzzzz"),
		},
		{
			name: "distance above control is not biased",
			// d=0x82 -> distance 0x82
			body: append(bytes.Repeat([]byte{'q'}, 0x81), 'r', ctrl, 0x82, 0x02),
			want: append(append(bytes.Repeat([]byte{'q'}, 0x81), 'r'), 'q', 'q'),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			in := append(lzssHeader(len(test.want), LzssHeaderSize+len(test.body), ctrl), test.body...)
			out, err := Decode(Request{Input: in, Kind: LzssNis})
			require.NoError(t, err)
			assert.Equal(t, test.want, out)
		})
	}
}

func TestLzssNisErrors(t *testing.T) {
	const ctrl = 0x80
	tests := []struct {
		name string
		in   []byte
	}{
		{"short header", []byte("LZS")},
		{"truncated body", append(lzssHeader(10, 0, ctrl), 'a', 'b')},
		{"truncated escape", append(lzssHeader(3, 0, ctrl), 'a', ctrl)},
		{"reference before start", append(lzssHeader(4, 0, ctrl), 'a', ctrl, 0x05, 0x03)},
		{"zero count", append(lzssHeader(4, 0, ctrl), 'a', ctrl, 0x00, 0x00)},
		{"run past size", append(lzssHeader(2, 0, ctrl), 'a', ctrl, 0x00, 0x09)},
		{"compressed size beyond input", lzssHeader(2, 64, ctrl)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(Request{Input: test.in, Kind: LzssNis})
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestRle(t *testing.T) {
	long := func(hdr uint32, data ...byte) []byte {
		b := binary.LittleEndian.AppendUint32(nil, hdr)
		return append(b, data...)
	}

	tests := []struct {
		name string
		kind Kind
		in   []byte
		want []byte
	}{
		{"rle8", Rle8, []byte{7, 3, 9, 1, 5, 0}, []byte{7, 7, 7, 9}},
		{"rle32", Rle32, []byte{1, 2, 3, 4, 2}, []byte{1, 2, 3, 4, 1, 2, 3, 4}},
		{
			"rlelong repeat",
			RleLong,
			long(rleLongRepeat|2, 0xaa, 0xbb, 0xcc, 0xdd),
			[]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xaa, 0xbb, 0xcc, 0xdd},
		},
		{
			"rlelong raw",
			RleLong,
			long(2, 1, 2, 3, 4, 5, 6, 7, 8),
			[]byte{1, 2, 3, 4, 5, 6, 7, 8},
		},
		{"greyscale", RleGreyscale, []byte{0x40, 0xff, 2}, []byte{0x40, 0x40, 0x40, 0xff, 0x40, 0x40, 0x40, 0xff}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			out, err := Decode(Request{Input: test.in, DeclaredSize: len(test.want), Kind: test.kind})
			require.NoError(t, err)
			assert.Equal(t, test.want, out)
		})
	}
}

func TestRleErrors(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		in   []byte
		size int
	}{
		{"rle8 missing count", Rle8, []byte{7}, 0},
		{"rle8 overflow", Rle8, []byte{7, 200}, 10},
		{"rle32 truncated pixel", Rle32, []byte{1, 2, 3}, 0},
		{"rlelong truncated header", RleLong, []byte{1, 2}, 0},
		{"rlelong truncated raw run", RleLong, []byte{2, 0, 0, 0, 1, 2, 3, 4}, 0},
		{"rlelong truncated repeat pixel", RleLong, []byte{1, 0, 0, 0x80, 1}, 0},
		{"rlelong overflow", RleLong, []byte{0xff, 0xff, 0xff, 0xff, 1, 2, 3, 4}, 16},
		{"greyscale truncated", RleGreyscale, []byte{1, 2}, 0},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Decode(Request{Input: test.in, DeclaredSize: test.size, Kind: test.kind})
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestTruncatedHeadersAllocateLittle(t *testing.T) {
	const declared = 200 << 20 // 200 Mb

	segs := append([]byte("segs"), 0, 1, 0, 0)
	segs = binary.BigEndian.AppendUint32(segs, declared)
	segs = binary.BigEndian.AppendUint32(segs, SegsHeaderSize)

	cases := []struct {
		name string
		kind Kind
		in   []byte
	}{
		{"lzss", LzssNis, lzssHeader(declared, 0, 0xfe)},
		{"segs", Segs, segs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := Decode(Request{Input: tc.in, Kind: tc.kind})
			runtime.ReadMemStats(&after)

			require.ErrorIs(t, err, ErrDecode)
			if n := after.TotalAlloc - before.TotalAlloc; n > 1<<20 {
				t.Fatalf("Decode() of a %d byte header allocated %d bytes", len(tc.in), n)
			}
		})
	}
}
