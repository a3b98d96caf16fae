// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carver

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrInvalidStrategy is returned for a [Strategy] that can not be applied.
var ErrInvalidStrategy = errors.New("invalid carve strategy")

// StrategyKind selects how the end of a segment is resolved.
type StrategyKind int

const (
	// SizeField reads a 32-bit length at a fixed offset from the hit.
	SizeField StrategyKind = iota

	// NextSignature ends a segment at the next signature hit.
	NextSignature

	// ExplicitEnd ends a segment after a distinct end marker.
	ExplicitEnd
)

func (k StrategyKind) String() string {
	switch k {
	case SizeField:
		return "size-field"
	case NextSignature:
		return "next-signature"
	case ExplicitEnd:
		return "explicit-end"
	}
	return fmt.Sprintf("strategy(%d)", int(k))
}

// Transform is applied to a declared size to get the distance to the next
// record in the container.
type Transform int

const (
	// TransformNone uses the declared size as is.
	TransformNone Transform = iota

	// TransformRoundEven rounds the size up to the next even number, as
	// used by word aligned chunk containers.
	TransformRoundEven
)

// Apply returns the transformed size.
func (t Transform) Apply(n int64) int64 {
	if t == TransformRoundEven {
		return (n + 1) &^ 1
	}
	return n
}

// DefaultHeaderSize is the distance from a hit to the first byte counted by a
// size field, e.g. a 4-byte tag followed by the 4-byte size.
const DefaultHeaderSize = 8

// Strategy describes how a format delimits its assets. It is selected per
// format, not per file.
type Strategy struct {
	Kind StrategyKind

	// SizeOffset is the offset of the 32-bit size relative to the hit.
	SizeOffset int

	// HeaderSize is added to the declared size. Zero means DefaultHeaderSize.
	HeaderSize int

	// Inclusive marks size fields that count from the hit, header included.
	// HeaderSize is ignored then.
	Inclusive bool

	// BigEndian selects the byte order of the size field.
	BigEndian bool

	// Transform applies to the stride between records. The emitted segment
	// always covers the declared size only; the transformed size decides
	// where scanning continues.
	Transform Transform

	// EndMarker terminates an ExplicitEnd segment.
	EndMarker []byte

	// EndPadding is the number of bytes that trail the end marker, e.g. a
	// checksum.
	EndPadding int
}

// SizeFieldStrategy returns a SizeField strategy reading a little-endian
// size at offset.
func SizeFieldStrategy(offset int, t Transform) Strategy {
	return Strategy{Kind: SizeField, SizeOffset: offset, Transform: t}
}

// NextSignatureStrategy returns a NextSignature strategy.
func NextSignatureStrategy() Strategy {
	return Strategy{Kind: NextSignature}
}

// ExplicitEndStrategy returns an ExplicitEnd strategy for marker.
func ExplicitEndStrategy(marker []byte) Strategy {
	return Strategy{Kind: ExplicitEnd, EndMarker: marker}
}

// Check verifies that the strategy is complete.
func (s Strategy) Check() error {
	switch s.Kind {
	case SizeField:
		if s.SizeOffset < 0 || s.HeaderSize < 0 {
			return fmt.Errorf("%w: negative size offset or header size", ErrInvalidStrategy)
		}
	case NextSignature:
	case ExplicitEnd:
		if len(s.EndMarker) == 0 {
			return fmt.Errorf("%w: missing end marker", ErrInvalidStrategy)
		}
		if s.EndPadding < 0 {
			return fmt.Errorf("%w: negative end padding", ErrInvalidStrategy)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidStrategy, int(s.Kind))
	}
	return nil
}

func (s Strategy) headerSize() int64 {
	if s.Inclusive {
		return 0
	}
	if s.HeaderSize == 0 {
		return DefaultHeaderSize
	}
	return int64(s.HeaderSize)
}

func (s Strategy) readSize(b []byte) int64 {
	if s.BigEndian {
		return int64(binary.BigEndian.Uint32(b))
	}
	return int64(binary.LittleEndian.Uint32(b))
}

// sizeBounds returns the segment end and the resume position for a size
// field of value n found at hit. ok is false if the record does not fit
// into total bytes or declares no payload.
func (s Strategy) sizeBounds(hit, n, total int64) (end, next int64, ok bool) {
	if n <= 0 {
		return 0, 0, false
	}
	end = hit + s.headerSize() + n
	if end > total {
		return 0, 0, false
	}
	next = min(hit+s.headerSize()+s.Transform.Apply(n), total)
	return end, next, true
}
