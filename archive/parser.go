// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// descriptor is a raw segment descriptor record.
type descriptor struct {
	nameIdx        uint32
	offset         uint32
	compressedSize uint32
	size           uint32
	flags          Flags
}

// section is a parsed section header.
type section struct {
	start int64
	tag   [8]byte
	size  int64
	count uint32
}

func (s section) end() int64 {
	return s.start + s.size
}

// parser walks the section sequence of one archive and its nested archives.
type parser struct {
	r   *Reader
	pos int64

	// nested holds the start offsets of the nested archives parsed so far.
	// Each may be referenced once.
	nested map[int64]bool

	// count is the number of entries over all archives.
	count int64
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrParseCorrupt, fmt.Sprintf(format, args...))
}

// read returns n bytes at off. Reads outside of the container are corrupt.
func (p *parser) read(off int64, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > p.r.size {
		return nil, corrupt("read [%d, %d) outside of container (size %d)", off, off+n, p.r.size)
	}
	b := make([]byte, n)
	if _, err := p.r.ra.ReadAt(b, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read at %d: %w", off, err)
	}
	return b, nil
}

// header reads the section header at the current position.
func (p *parser) header() (section, error) {
	b, err := p.read(p.pos, sectionHeaderSize)
	if err != nil {
		return section{}, err
	}
	s := section{start: p.pos, size: int64(le(b, 8)), count: le(b, 12)}
	copy(s.tag[:], b[:8])
	if s.size < sectionHeaderSize {
		return s, corrupt("section %q at %d declares size %d", s.tag[:], s.start, s.size)
	}
	if s.end() > p.r.size {
		return s, corrupt("section %q at %d extends past end of container", s.tag[:], s.start)
	}
	p.pos += sectionHeaderSize
	return s, nil
}

// expect reads a section header and checks its tag.
func (p *parser) expect(tag [8]byte) (section, error) {
	s, err := p.header()
	if err != nil {
		return s, err
	}
	if s.tag != tag {
		return s, corrupt("expected section %q at %d, found %q", tag[:], s.start, s.tag[:])
	}
	return s, nil
}

// skipPadding moves to the end of s. The padding is computed from the
// declared section size; a negative value means the section content
// overran its declaration.
func (p *parser) skipPadding(s section) error {
	pad := s.start + s.size - p.pos
	if pad < 0 {
		return corrupt("section %q at %d overruns its size by %d bytes", s.tag[:], s.start, -pad)
	}
	p.pos += pad
	return nil
}

// parseArchive parses the archive starting at base. Nested archives are
// parsed recursively; strings is the string table of the parent archive.
func (p *parser) parseArchive(base int64, parentStrings []string, parentID string, depth int) ([]Entry, error) {
	p.pos = base

	// root header
	arch, err := p.expect(tagArch)
	if err != nil {
		return nil, err
	}
	body, err := p.read(p.pos, 8)
	if err != nil {
		return nil, err
	}
	p.pos += 8
	if depth == 0 {
		p.r.version = le(body, 0)
		p.r.flags = le(body, 4)
	}
	if err := p.skipPadding(arch); err != nil {
		return nil, err
	}

	// descriptor tables
	var descs []descriptor
	s, err := p.header()
	if err != nil {
		return nil, err
	}
	if s.tag != tagSegs {
		return nil, corrupt("archive at %d has no segment table", base)
	}
	for s.tag == tagSegs {
		d, err := p.parseSegs(s)
		if err != nil {
			return nil, err
		}
		descs = append(descs, d...)
		if s, err = p.header(); err != nil {
			return nil, err
		}
	}

	// string table
	if s.tag != tagStrt {
		return nil, corrupt("expected section %q at %d, found %q", tagStrt[:], s.start, s.tag[:])
	}
	strs, err := p.parseStrings(s)
	if err != nil {
		return nil, err
	}
	if len(strs) == 0 {
		strs = parentStrings
	}

	// data area
	data, err := p.expect(tagData)
	if err != nil {
		return nil, err
	}
	if err := p.skipPadding(data); err != nil {
		return nil, err
	}

	var entries []Entry
	for i, d := range descs {
		if int(d.nameIdx) >= len(strs) {
			return nil, corrupt("descriptor %d references string %d of %d", i, d.nameIdx, len(strs))
		}
		name := strs[d.nameIdx]

		if d.flags.Has(FlagNested) {
			nested, err := p.parseNested(base, data, d, name, strs, parentID, depth)
			if err != nil {
				return nil, err
			}
			entries = append(entries, nested...)
			continue
		}

		p.count++
		if limit := p.r.opts.maxEntries; limit > -1 && p.count > limit {
			return nil, fmt.Errorf("%w: %d", ErrTooManyEntries, limit)
		}
		entries = append(entries, Entry{
			Name:             name,
			DataOffset:       base + int64(d.offset),
			CompressedSize:   int64(d.compressedSize),
			UncompressedSize: int64(d.size),
			Flags:            d.flags,
			ParentArchiveID:  parentID,
		})
	}
	return entries, nil
}

// parseNested parses the archive embedded at descriptor d. It must lie inside
// the data area of its parent and no other descriptor may point at it.
func (p *parser) parseNested(base int64, data section, d descriptor, name string, strs []string, parentID string, depth int) ([]Entry, error) {
	if depth+1 > p.r.opts.maxDepth {
		return nil, corrupt("nested archive %q exceeds depth %d", name, p.r.opts.maxDepth)
	}
	if d.offset == 0 {
		return nil, corrupt("nested archive %q points at its parent", name)
	}
	start := base + int64(d.offset)
	if start < data.start+sectionHeaderSize || start+int64(d.compressedSize) > data.end() {
		return nil, corrupt("nested archive %q at %d lies outside the data area [%d, %d)", name, start, data.start+sectionHeaderSize, data.end())
	}
	if p.nested[start] {
		return nil, corrupt("nested archive %q at %d is referenced twice", name, start)
	}
	p.nested[start] = true

	id := name
	if parentID != "" {
		id = parentID + "/" + name
	}
	saved := p.pos
	entries, err := p.parseArchive(start, strs, id, depth+1)
	p.pos = saved
	if err != nil {
		return nil, fmt.Errorf("nested archive %q: %w", id, err)
	}
	return entries, nil
}

func (p *parser) parseSegs(s section) ([]descriptor, error) {
	n := int64(s.count) * descriptorSize
	if sectionHeaderSize+n > s.size {
		return nil, corrupt("segment table at %d holds %d records but is %d bytes", s.start, s.count, s.size)
	}
	b, err := p.read(p.pos, n)
	if err != nil {
		return nil, err
	}
	p.pos += n

	descs := make([]descriptor, s.count)
	for i := range descs {
		rec := b[i*descriptorSize:]
		descs[i] = descriptor{
			nameIdx:        le(rec, 0),
			offset:         le(rec, 4),
			compressedSize: le(rec, 8),
			size:           le(rec, 12),
			flags:          Flags(le(rec, 16)),
		}
	}
	return descs, p.skipPadding(s)
}

// parseStrings decodes the string table: count offsets followed by a blob
// of NUL terminated strings. Offsets are relative to the blob.
func (p *parser) parseStrings(s section) ([]string, error) {
	n := int64(s.count) * 4
	if sectionHeaderSize+n > s.size {
		return nil, corrupt("string table at %d holds %d offsets but is %d bytes", s.start, s.count, s.size)
	}
	idx, err := p.read(p.pos, n)
	if err != nil {
		return nil, err
	}
	p.pos += n

	blobStart := p.pos
	blob, err := p.read(blobStart, s.end()-blobStart)
	if err != nil {
		return nil, err
	}

	strs := make([]string, s.count)
	var last int64
	for i := range strs {
		off := int64(le(idx, i*4))
		if off >= int64(len(blob)) {
			return nil, corrupt("string %d offset %d outside of table", i, off)
		}
		nul := bytes.IndexByte(blob[off:], 0)
		if nul < 0 {
			return nil, corrupt("string %d is not terminated", i)
		}
		strs[i] = string(blob[off : off+int64(nul)])
		last = max(last, off+int64(nul)+1)
	}
	p.pos = blobStart + last
	return strs, p.skipPadding(s)
}
