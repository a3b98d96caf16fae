// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package carver turns signature hits into byte ranges. A [Carver] combines a
// set of signatures with a [Strategy] that resolves the end of each asset and
// a [Validator] that rejects false positives. Buffers can be carved in memory
// with [Carver.Carve] or through an [io.ReaderAt] with bounded memory using
// [Carver.CarveStream].
package carver

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/go-carve/signature"
)

// Logger is the logging interface used by the carver. It is satisfied by
// [*slog.Logger].
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// SegmentRecord is the byte range of one carved asset inside a source.
type SegmentRecord struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Source   string `json:"source"`
	Sequence int    `json:"sequence"`
}

// Len returns the segment length.
func (s SegmentRecord) Len() int64 {
	return s.End - s.Start
}

// Stats counts the decisions of a carver.
type Stats struct {
	Hits     int64 `json:"hits"`
	Accepted int64 `json:"accepted"`
	Rejected int64 `json:"rejected"`
}

// Carver locates assets by signature. A Carver is not safe for concurrent
// use; create one per input stream.
type Carver struct {
	patterns  [][]byte
	strategy  Strategy
	validator Validator
	source    string
	logger    Logger
	stats     Stats
	seq       int
}

// Option adjusts a [Carver].
type Option func(*Carver)

// WithValidator sets the validation predicate. Without a validator every
// resolvable candidate is accepted.
func WithValidator(v Validator) Option {
	return func(c *Carver) {
		c.validator = v
	}
}

// WithSource sets the source name recorded in every [SegmentRecord].
func WithSource(name string) Option {
	return func(c *Carver) {
		c.source = name
	}
}

// WithLogger sets the logger for rejected candidates.
func WithLogger(l Logger) Option {
	return func(c *Carver) {
		c.logger = l
	}
}

// New creates a carver for patterns using strategy.
func New(patterns [][]byte, strategy Strategy, opts ...Option) (*Carver, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("%w: no signatures", ErrInvalidStrategy)
	}
	for i, p := range patterns {
		if len(p) == 0 {
			return nil, fmt.Errorf("%w: signature %d is empty", ErrInvalidStrategy, i)
		}
	}
	if err := strategy.Check(); err != nil {
		return nil, err
	}
	c := &Carver{
		patterns: patterns,
		strategy: strategy,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Carve is a shorthand for [New] followed by [Carver.Carve].
func Carve(buf []byte, patterns [][]byte, strategy Strategy, v Validator) ([]SegmentRecord, error) {
	c, err := New(patterns, strategy, WithValidator(v))
	if err != nil {
		return nil, err
	}
	return c.Carve(buf), nil
}

// Stats returns the counters accumulated over all carve calls.
func (c *Carver) Stats() Stats {
	return c.stats
}

// Carve returns all accepted segments of buf in ascending order. Segments
// never overlap. A rejected hit is logged and scanning resumes one byte after
// it, so overlapping false starts are retried.
func (c *Carver) Carve(buf []byte) []SegmentRecord {
	var records []SegmentRecord
	total := int64(len(buf))
	pos := 0

	for pos < len(buf) {
		hit, idx, ok := signature.FindAny(buf, c.patterns, pos)
		if !ok {
			break
		}
		c.stats.Hits++

		end, next, ok := c.resolve(buf, int64(hit), idx, total)
		if !ok {
			c.reject(int64(hit), "end not resolvable")
			pos = hit + 1
			continue
		}

		if c.validator != nil && !c.validator.Validate(buf[hit:end]) {
			c.reject(int64(hit), "validation failed")
			pos = hit + 1
			continue
		}

		records = append(records, c.accept(int64(hit), end))
		pos = int(next)
	}
	return records
}

// resolve computes the segment end and the resume position for a hit.
func (c *Carver) resolve(buf []byte, hit int64, idx int, total int64) (int64, int64, bool) {
	s := c.strategy
	switch s.Kind {
	case SizeField:
		at := hit + int64(s.SizeOffset)
		if at+4 > total {
			return 0, 0, false
		}
		return s.sizeBounds(hit, s.readSize(buf[at:at+4]), total)

	case NextSignature:
		from := int(hit) + len(c.patterns[idx])
		if next, _, ok := signature.FindAny(buf, c.patterns, from); ok {
			return int64(next), int64(next), true
		}
		return total, total, true

	case ExplicitEnd:
		from := int(hit) + len(c.patterns[idx])
		end := total
		if off, ok := signature.Find(buf, s.EndMarker, from); ok {
			end = min(total, int64(off+len(s.EndMarker)+s.EndPadding))
		}
		return end, end, true
	}
	return 0, 0, false
}

func (c *Carver) accept(start, end int64) SegmentRecord {
	r := SegmentRecord{Start: start, End: end, Source: c.source, Sequence: c.seq}
	c.seq++
	c.stats.Accepted++
	c.logger.Debug("carved segment", "source", c.source, "start", start, "end", end)
	return r
}

func (c *Carver) reject(hit int64, reason string) {
	c.stats.Rejected++
	c.logger.Debug("rejected candidate", "source", c.source, "offset", hit, "reason", reason)
}
