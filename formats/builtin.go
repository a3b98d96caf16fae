// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package formats

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/hashicorp/go-carve/archive"
	"github.com/hashicorp/go-carve/carver"
	"github.com/hashicorp/go-carve/classify"
	"github.com/hashicorp/go-carve/codec"
	"github.com/hashicorp/go-carve/signature"
)

func kind(k codec.Kind) *codec.Kind {
	return &k
}

// lzsMaxRatio bounds the declared expansion of an LzssNis stream. One three
// byte escape yields at most a few hundred bytes.
const lzsMaxRatio = 128

// tim2Header accepts known versions and alignment formats with at least one
// picture.
func tim2Header(h []byte) bool {
	version, format := h[4], h[5]
	return (version == 3 || version == 4) && format <= 1 && binary.LittleEndian.Uint16(h[6:]) > 0
}

func lzsHeader(h []byte) bool {
	hd, err := codec.ParseLzssHeader(h)
	if err != nil || hd.Size == 0 || hd.CompressedSize <= codec.LzssHeaderSize {
		return false
	}
	return uint64(hd.Size) <= uint64(hd.CompressedSize-codec.LzssHeaderSize)*lzsMaxRatio
}

// segsHeader accepts containers whose chunk index fits inside them.
func segsHeader(h []byte) bool {
	chunks := binary.BigEndian.Uint16(h[6:])
	container := binary.BigEndian.Uint32(h[12:])
	return chunks > 0 && codec.SegsHeaderSize+uint64(chunks)*codec.SegsEntrySize <= uint64(container)
}

// builtins are the profiles known without a profile file.
var builtins = map[string]func() *Profile{
	// RIFF chunks are word aligned, the pad byte is not part of the size
	"riff": func() *Profile {
		return &Profile{
			Name:     "riff",
			Mode:     ModeCarve,
			Patterns: [][]byte{[]byte("RIFF")},
			Strategy: carver.SizeFieldStrategy(4, carver.TransformRoundEven),
			Validator: carver.MarkerValidator{
				Markers: [][]byte{[]byte("WAVE"), []byte("XWMA")},
				Offset:  8,
				Window:  4,
			},
		}
	},
	"png": func() *Profile {
		s := carver.ExplicitEndStrategy([]byte("IEND"))
		s.EndPadding = 4 // chunk crc
		return &Profile{
			Name:      "png",
			Mode:      ModeCarve,
			Patterns:  [][]byte{signature.MustHex("89 50 4e 47 0d 0a 1a 0a")},
			Strategy:  s,
			// the first chunk is always IHDR
			Validator: carver.MarkerValidator{Markers: [][]byte{[]byte("IHDR")}, Offset: 12, Window: 4},
			OutputExt: "png",
		}
	},
	// MPEG program streams are large, they are copied without loading them
	"pss": func() *Profile {
		return &Profile{
			Name:       "pss",
			Extensions: []string{".pss", ".bin", ".dat", ".iso"},
			Mode:       ModeStream,
			Patterns:   [][]byte{signature.MustHex("00 00 01 ba")},
			Strategy:   carver.ExplicitEndStrategy(signature.MustHex("00 00 01 b9")),
			Validator: carver.MarkerValidator{
				// system header or first video pes
				Markers: [][]byte{signature.MustHex("00 00 01 bb"), signature.MustHex("00 00 01 e0")},
				Offset:  4,
				Window:  64,
			},
			OutputExt: "pss",
		}
	},
	"tim2": func() *Profile {
		s := carver.SizeFieldStrategy(16, carver.TransformNone)
		s.HeaderSize = 16
		return &Profile{
			Name:      "tim2",
			Mode:      ModeCarve,
			Patterns:  [][]byte{[]byte("TIM2")},
			Strategy:  s,
			Validator: carver.HeaderValidator{Size: 8, Check: tim2Header},
			OutputExt: "tm2",
		}
	},
	"lzs": func() *Profile {
		s := carver.SizeFieldStrategy(8, carver.TransformNone)
		s.Inclusive = true
		return &Profile{
			Name:     "lzs",
			Mode:     ModeCarve,
			Patterns: [][]byte{classify.LzsMagic},
			Strategy:  s,
			Validator: carver.HeaderValidator{Size: codec.LzssHeaderSize, Check: lzsHeader},
			Codec:     kind(codec.LzssNis),
		}
	},
	"segs": func() *Profile {
		return &Profile{
			Name:     "segs",
			Mode:     ModeCarve,
			Patterns: [][]byte{codec.SegsMagic},
			Strategy:  carver.Strategy{Kind: carver.SizeField, SizeOffset: 12, BigEndian: true, Inclusive: true},
			Validator: carver.HeaderValidator{Size: codec.SegsHeaderSize, Check: segsHeader},
			Codec:     kind(codec.Segs),
			Unwrap:    classify.UnwrapAuto,
			Expand:    true,
		}
	},
	"gene": func() *Profile {
		return &Profile{
			Name:     "gene",
			Mode:     ModeStructured,
			Identify: []signature.Pattern{{Magic: archive.Magic}},
		}
	},
}

// Builtin returns a fresh copy of the built-in profile name.
func Builtin(name string) (*Profile, error) {
	fn, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown profile %q", ErrInvalidProfile, name)
	}
	return fn(), nil
}

// Builtins returns the names of the built-in profiles.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
