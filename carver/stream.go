// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/go-carve/signature"
)

const (
	// DefaultWindowSize is the read window of the streaming scanner.
	DefaultWindowSize = 1 << 20 // 1 Mb

	// DefaultCopyChunk is the chunk size used by [CopyRange].
	DefaultCopyChunk = 64 << 10 // 64 Kb

	// maxValidateBytes bounds the bytes read for validators without a span.
	maxValidateBytes = 4 << 20 // 4 Mb
)

// ScanStreamingFunc reads r in windows of the given size and calls fn with
// the absolute offset of every non-overlapping occurrence of pattern. The
// last len(pattern)-1 bytes of each window are carried into the next one, so
// matches that straddle a window boundary are found. The context is checked
// before each window.
func ScanStreamingFunc(ctx context.Context, r io.Reader, pattern []byte, window int, fn func(off int64) error) error {
	if len(pattern) == 0 {
		return fmt.Errorf("empty pattern")
	}
	window = max(window, len(pattern))
	keep := len(pattern) - 1

	buf := make([]byte, 0, keep+window)
	var base int64 // absolute offset of buf[0]
	var next int64 // absolute offset at which the next match may start

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, buf[len(buf):len(buf)+window])
		buf = buf[:len(buf)+n]
		eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		if err != nil && !eof {
			return fmt.Errorf("read window at %d: %w", base+int64(len(buf)-n), err)
		}

		pos := int(max(0, next-base))
		for {
			off, ok := signature.Find(buf, pattern, pos)
			if !ok {
				break
			}
			if err := fn(base + int64(off)); err != nil {
				return err
			}
			pos = off + len(pattern)
			next = base + int64(pos)
		}

		if eof {
			return nil
		}

		// carry the tail forward
		carry := min(keep, len(buf))
		base += int64(len(buf) - carry)
		copy(buf, buf[len(buf)-carry:])
		buf = buf[:carry]
	}
}

// ScanStreaming returns the absolute offsets of all non-overlapping
// occurrences of pattern in r, see [ScanStreamingFunc].
func ScanStreaming(ctx context.Context, r io.Reader, pattern []byte, window int) ([]int64, error) {
	var offsets []int64
	err := ScanStreamingFunc(ctx, r, pattern, window, func(off int64) error {
		offsets = append(offsets, off)
		return nil
	})
	return offsets, err
}

// findAnyAt scans ra from `from` in windows for the first occurrence of any
// pattern. It returns the absolute offset and pattern index, or found=false
// when the scan reaches size.
func findAnyAt(ctx context.Context, ra io.ReaderAt, size, from int64, patterns [][]byte, window int) (off int64, idx int, found bool, err error) {
	longest := 0
	for _, p := range patterns {
		longest = max(longest, len(p))
	}
	if longest == 0 {
		return 0, -1, false, fmt.Errorf("empty pattern")
	}
	window = max(window, longest)
	keep := int64(longest - 1)

	buf := make([]byte, window+int(keep))
	for base := from; base < size; base += int64(window) {
		if err := ctx.Err(); err != nil {
			return 0, -1, false, err
		}
		n := min(int64(len(buf)), size-base)
		m, err := ra.ReadAt(buf[:n], base)
		if err != nil && !(errors.Is(err, io.EOF) && int64(m) == n) {
			return 0, -1, false, fmt.Errorf("read window at %d: %w", base, err)
		}
		hit, i, ok := signature.FindAny(buf[:n], patterns, 0)
		// hits starting in the carried tail belong to the next window
		if ok && int64(hit) < int64(window) {
			return base + int64(hit), i, true, nil
		}
	}
	return 0, -1, false, nil
}

// FindNextHeader returns the absolute offset of the next occurrence of any
// of the patterns at or after from, or size if there is none.
func FindNextHeader(ctx context.Context, ra io.ReaderAt, size, from int64, patterns [][]byte, window int) (int64, error) {
	off, _, found, err := findAnyAt(ctx, ra, size, from, patterns, window)
	if err != nil {
		return 0, err
	}
	if !found {
		return size, nil
	}
	return off, nil
}

// FindEndMarker returns the offset just past the first occurrence of marker
// at or after from, or size if the marker is absent.
func FindEndMarker(ctx context.Context, ra io.ReaderAt, size, from int64, marker []byte, window int) (int64, error) {
	off, _, found, err := findAnyAt(ctx, ra, size, from, [][]byte{marker}, window)
	if err != nil {
		return 0, err
	}
	if !found {
		return size, nil
	}
	return off + int64(len(marker)), nil
}

// CopyRange copies [start, end) of ra to dst in chunks of the given size and
// returns the number of bytes written. The context is checked between chunks.
func CopyRange(ctx context.Context, dst io.Writer, ra io.ReaderAt, start, end int64, chunk int) (int64, error) {
	if chunk <= 0 {
		chunk = DefaultCopyChunk
	}
	if end < start {
		return 0, fmt.Errorf("invalid range [%d, %d)", start, end)
	}
	buf := make([]byte, min(int64(chunk), end-start))
	var written int64
	for pos := start; pos < end; {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n := min(int64(len(buf)), end-pos)
		m, err := ra.ReadAt(buf[:n], pos)
		if int64(m) < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return written, fmt.Errorf("read at %d: %w", pos, err)
		}
		w, err := dst.Write(buf[:n])
		written += int64(w)
		if err != nil {
			return written, err
		}
		pos += n
	}
	return written, nil
}

// CarveStream carves the size bytes of ra with O(window) memory and calls fn
// for every accepted segment. Segments are reported in ascending order with
// the same resume rules as [Carver.Carve]. Validators see at most Span()
// bytes of each candidate.
func (c *Carver) CarveStream(ctx context.Context, ra io.ReaderAt, size int64, window int, fn func(SegmentRecord) error) error {
	if window <= 0 {
		window = DefaultWindowSize
	}
	var pos int64
	for pos < size {
		hit, idx, found, err := findAnyAt(ctx, ra, size, pos, c.patterns, window)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		c.stats.Hits++

		end, next, ok, err := c.resolveStream(ctx, ra, size, hit, idx, window)
		if err != nil {
			return err
		}
		if !ok {
			c.reject(hit, "end not resolvable")
			pos = hit + 1
			continue
		}

		if c.validator != nil {
			ok, err := c.validateStream(ra, hit, end)
			if err != nil {
				return err
			}
			if !ok {
				c.reject(hit, "validation failed")
				pos = hit + 1
				continue
			}
		}

		if err := fn(c.accept(hit, end)); err != nil {
			return err
		}
		pos = next
	}
	return nil
}

func (c *Carver) resolveStream(ctx context.Context, ra io.ReaderAt, size, hit int64, idx int, window int) (int64, int64, bool, error) {
	s := c.strategy
	from := hit + int64(len(c.patterns[idx]))
	switch s.Kind {
	case SizeField:
		at := hit + int64(s.SizeOffset)
		if at+4 > size {
			return 0, 0, false, nil
		}
		var b [4]byte
		if _, err := ra.ReadAt(b[:], at); err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, false, fmt.Errorf("read size field at %d: %w", at, err)
		}
		end, next, ok := s.sizeBounds(hit, s.readSize(b[:]), size)
		return end, next, ok, nil

	case NextSignature:
		end, err := FindNextHeader(ctx, ra, size, from, c.patterns, window)
		return end, end, err == nil, err

	case ExplicitEnd:
		end, err := FindEndMarker(ctx, ra, size, from, s.EndMarker, window)
		if err != nil {
			return 0, 0, false, err
		}
		if end < size {
			end = min(size, end+int64(s.EndPadding))
		}
		return end, end, true, nil
	}
	return 0, 0, false, nil
}

func (c *Carver) validateStream(ra io.ReaderAt, start, end int64) (bool, error) {
	n := end - start
	if span := c.validator.Span(); span > 0 {
		n = min(n, int64(span))
	} else {
		n = min(n, maxValidateBytes)
	}
	buf := make([]byte, n)
	m, err := ra.ReadAt(buf, start)
	if int64(m) < n {
		if err == nil || errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return false, fmt.Errorf("read candidate at %d: %w", start, err)
	}
	return c.validator.Validate(buf), nil
}
