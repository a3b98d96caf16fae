// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package formats

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-carve/carver"
	"github.com/hashicorp/go-carve/codec"
	"github.com/hashicorp/go-carve/signature"
	"gopkg.in/yaml.v3"
)

// profileFile is the document layout of a profile file.
//
//	profiles:
//	  - name: voice
//	    extensions: [".afs"]
//	    mode: carve
//	    patterns: ["52 49 46 46"]
//	    strategy: {kind: size-field, size_offset: 4, transform: round-even}
//	    validator: {markers: ["57 41 56 45"], offset: 8, window: 4}
type profileFile struct {
	Profiles []profileDoc `yaml:"profiles"`
}

type profileDoc struct {
	Name       string        `yaml:"name"`
	Extensions []string      `yaml:"extensions"`
	Mode       string        `yaml:"mode"`
	Patterns   []string      `yaml:"patterns"`
	Identify   []patternDoc  `yaml:"identify"`
	Strategy   strategyDoc   `yaml:"strategy"`
	Validator  *validatorDoc `yaml:"validator"`
	Codec      string        `yaml:"codec"`
	CodecSkip  int           `yaml:"codec_skip"`
	OutputExt  string        `yaml:"output_ext"`
	Unwrap     string        `yaml:"unwrap"`
	Expand     bool          `yaml:"expand"`
	Image      *imageDoc     `yaml:"image"`
}

type patternDoc struct {
	Magic     string `yaml:"magic"`
	MinOffset int    `yaml:"min_offset"`
	MaxOffset int    `yaml:"max_offset"`
}

type strategyDoc struct {
	Kind       string `yaml:"kind"`
	SizeOffset int    `yaml:"size_offset"`
	HeaderSize int    `yaml:"header_size"`
	Inclusive  bool   `yaml:"inclusive"`
	BigEndian  bool   `yaml:"big_endian"`
	Transform  string `yaml:"transform"`
	EndMarker  string `yaml:"end_marker"`
	EndPadding int    `yaml:"end_padding"`
}

type validatorDoc struct {
	Markers []string `yaml:"markers"`
	Offset  int      `yaml:"offset"`
	Window  int      `yaml:"window"`
}

type imageDoc struct {
	WidthOffset   int    `yaml:"width_offset"`
	HeightOffset  int    `yaml:"height_offset"`
	HeaderSize    int    `yaml:"header_size"`
	PaletteOffset *int   `yaml:"palette_offset"`
	FlipVertical  bool   `yaml:"flip_vertical"`
	Format        string `yaml:"format"`
}

// LoadFile reads the profiles defined in the YAML file at path.
func LoadFile(path string) ([]*Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open profile file: %w", err)
	}
	defer f.Close()
	profiles, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return profiles, nil
}

// Load reads YAML profile definitions from r. Unknown keys are an error.
func Load(r io.Reader) ([]*Profile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc profileFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty profile file", ErrInvalidProfile)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	seen := map[string]bool{}
	profiles := make([]*Profile, 0, len(doc.Profiles))
	for i, pd := range doc.Profiles {
		p, err := pd.profile()
		if err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		if err := p.Check(); err != nil {
			return nil, fmt.Errorf("profile %d: %w", i, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidProfile, p.Name)
		}
		seen[p.Name] = true
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (pd profileDoc) profile() (*Profile, error) {
	p := &Profile{
		Name:       pd.Name,
		Extensions: pd.Extensions,
		Mode:       Mode(strings.ToLower(pd.Mode)),
		CodecSkip:  pd.CodecSkip,
		OutputExt:  strings.TrimPrefix(pd.OutputExt, "."),
		Unwrap:     pd.Unwrap,
		Expand:     pd.Expand,
	}
	if p.Mode == "" {
		p.Mode = ModeCarve
	}

	var err error
	if p.Patterns, err = hexList(pd.Patterns); err != nil {
		return nil, err
	}
	for _, id := range pd.Identify {
		magic, err := signature.ParseHex(id.Magic)
		if err != nil {
			return nil, err
		}
		p.Identify = append(p.Identify, signature.Pattern{Magic: magic, MinOffset: id.MinOffset, MaxOffset: id.MaxOffset})
	}
	if p.Mode != ModeStructured {
		if p.Strategy, err = pd.Strategy.strategy(); err != nil {
			return nil, err
		}
	}

	if pd.Validator != nil {
		markers, err := hexList(pd.Validator.Markers)
		if err != nil {
			return nil, err
		}
		p.Validator = carver.MarkerValidator{Markers: markers, Offset: pd.Validator.Offset, Window: pd.Validator.Window}
	}

	if pd.Codec != "" {
		k, err := codec.ParseKind(pd.Codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
		p.Codec = &k
	}

	if pd.Image != nil {
		p.Image = &ImageSpec{
			WidthOffset:   pd.Image.WidthOffset,
			HeightOffset:  pd.Image.HeightOffset,
			HeaderSize:    pd.Image.HeaderSize,
			PaletteOffset: -1,
			FlipVertical:  pd.Image.FlipVertical,
			Format:        ImageFormat(strings.ToLower(pd.Image.Format)),
		}
		if pd.Image.PaletteOffset != nil {
			p.Image.PaletteOffset = *pd.Image.PaletteOffset
		}
		if p.Image.Format == "" {
			p.Image.Format = FormatPNG
		}
	}
	return p, nil
}

func (sd strategyDoc) strategy() (carver.Strategy, error) {
	s := carver.Strategy{
		SizeOffset: sd.SizeOffset,
		HeaderSize: sd.HeaderSize,
		Inclusive:  sd.Inclusive,
		BigEndian:  sd.BigEndian,
		EndPadding: sd.EndPadding,
	}
	switch strings.ToLower(sd.Kind) {
	case "size-field", "":
		s.Kind = carver.SizeField
	case "next-signature":
		s.Kind = carver.NextSignature
	case "explicit-end":
		s.Kind = carver.ExplicitEnd
	default:
		return s, fmt.Errorf("%w: unknown strategy %q", ErrInvalidProfile, sd.Kind)
	}

	switch strings.ToLower(sd.Transform) {
	case "", "none":
		s.Transform = carver.TransformNone
	case "round-even":
		s.Transform = carver.TransformRoundEven
	default:
		return s, fmt.Errorf("%w: unknown transform %q", ErrInvalidProfile, sd.Transform)
	}

	if sd.EndMarker != "" {
		m, err := signature.ParseHex(sd.EndMarker)
		if err != nil {
			return s, err
		}
		s.EndMarker = m
	}
	return s, nil
}

func hexList(in []string) ([][]byte, error) {
	out := make([][]byte, 0, len(in))
	for _, s := range in {
		b, err := signature.ParseHex(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
		out = append(out, b)
	}
	return out, nil
}
