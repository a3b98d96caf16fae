// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package formats describes how assets are found in a family of game data
// files. A [Profile] binds signatures, a carve strategy, an optional
// validator and codec together; the orchestrator only ever consults the
// profile, never the format itself.
package formats

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hashicorp/go-carve/carver"
	"github.com/hashicorp/go-carve/codec"
	"github.com/hashicorp/go-carve/signature"
)

// ErrInvalidProfile is returned for incomplete or contradicting profiles.
var ErrInvalidProfile = errors.New("invalid profile")

// Mode selects the engine used for a profile.
type Mode string

const (
	// ModeCarve loads the input into memory and carves it.
	ModeCarve Mode = "carve"

	// ModeStream carves the input with bounded memory.
	ModeStream Mode = "stream"

	// ModeStructured reads the input as a GENE archive.
	ModeStructured Mode = "structured"
)

// Profile is the per-format configuration.
type Profile struct {
	Name string

	// Extensions restricts the inputs to these file extensions, compared
	// case insensitively and with a leading dot. Empty means any file.
	Extensions []string

	Mode Mode

	// Patterns are the signatures that start an asset.
	Patterns [][]byte

	// Identify, if set, restricts the profile to inputs whose leading bytes
	// contain one of the patterns.
	Identify []signature.Pattern

	Strategy carver.Strategy

	// Validator rejects false positive hits. Carve and stream profiles
	// require one.
	Validator carver.Validator

	// Codec decodes every carved asset. Nil writes the raw bytes.
	Codec *codec.Kind

	// CodecSkip is the number of leading bytes removed before decoding.
	CodecSkip int

	// OutputExt is the extension of written assets. Empty classifies the
	// asset by its leading bytes.
	OutputExt string

	// Unwrap names a decompressor applied to every asset, or "auto".
	Unwrap string

	// Expand writes the members of carved standard archives.
	Expand bool

	// Image converts decoded pixel planes into an image file.
	Image *ImageSpec
}

// Check verifies that the profile is complete.
func (p *Profile) Check() error {
	if p.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidProfile)
	}
	switch p.Mode {
	case ModeCarve, ModeStream:
		if len(p.Patterns) == 0 {
			return fmt.Errorf("%w: %s: no patterns", ErrInvalidProfile, p.Name)
		}
		for _, pt := range p.Patterns {
			if len(pt) == 0 {
				return fmt.Errorf("%w: %s: empty pattern", ErrInvalidProfile, p.Name)
			}
		}
		if err := p.Strategy.Check(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
		}
		if p.Validator == nil {
			return fmt.Errorf("%w: %s: no validator", ErrInvalidProfile, p.Name)
		}
	case ModeStructured:
	default:
		return fmt.Errorf("%w: %s: unknown mode %q", ErrInvalidProfile, p.Name, p.Mode)
	}
	if p.Codec != nil && !codec.Known(*p.Codec) {
		return fmt.Errorf("%w: %s: unknown codec %d", ErrInvalidProfile, p.Name, int(*p.Codec))
	}
	if p.CodecSkip < 0 {
		return fmt.Errorf("%w: %s: negative codec skip", ErrInvalidProfile, p.Name)
	}
	if p.Mode == ModeStream && (p.Codec != nil || p.Image != nil) {
		return fmt.Errorf("%w: %s: stream mode writes raw ranges only", ErrInvalidProfile, p.Name)
	}
	if p.Image != nil {
		if err := p.Image.Check(); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidProfile, p.Name, err)
		}
	}
	return nil
}

// Matches reports whether path has one of the profile extensions.
func (p *Profile) Matches(path string) bool {
	if len(p.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return slices.ContainsFunc(p.Extensions, func(e string) bool {
		return normalizeExt(e) == ext
	})
}

// Identifies reports whether header, the leading bytes of an input, carries
// one of the Identify patterns. Without Identify patterns every input is
// accepted.
func (p *Profile) Identifies(header []byte) bool {
	if len(p.Identify) == 0 {
		return true
	}
	for _, pt := range p.Identify {
		if _, ok := pt.FindFrom(header, 0); ok {
			return true
		}
	}
	return false
}

func normalizeExt(e string) string {
	e = strings.ToLower(strings.TrimSpace(e))
	if e != "" && !strings.HasPrefix(e, ".") {
		e = "." + e
	}
	return e
}
