// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package archive reads GENE containers. A GENE container publishes its table
// of contents as a fixed sequence of little-endian sections:
//
//	GENEARCH  root header (version, flags)
//	GENESEGS  one or more segment descriptor tables
//	GENESTRT  deduplicated, NUL terminated string table
//	GENEDATA  data area
//
// Every section starts with a 16-byte header holding an 8-byte tag, the
// section size including header and padding, and a record count. Descriptor
// offsets are relative to the start of the archive. Descriptors flagged as
// nested point at embedded archives with the same layout; entries flagged as
// shared are resolved against a companion container.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-carve/codec"
)

const (
	sectionHeaderSize = 16
	descriptorSize    = 20

	// DefaultCompanionName is the base name of the companion container.
	DefaultCompanionName = "common"

	// DefaultMaxDepth limits the nesting of embedded archives.
	DefaultMaxDepth = 8

	// DefaultMaxEntrySize limits the decoded size of a single entry.
	DefaultMaxEntrySize = 1 << (10 * 3) // 1 Gb

	// DefaultMaxEntries limits the entries of an archive and its nested archives.
	DefaultMaxEntries = 100000

	prefixSize = 4
)

var (
	tagArch = [8]byte{'G', 'E', 'N', 'E', 'A', 'R', 'C', 'H'}
	tagSegs = [8]byte{'G', 'E', 'N', 'E', 'S', 'E', 'G', 'S'}
	tagStrt = [8]byte{'G', 'E', 'N', 'E', 'S', 'T', 'R', 'T'}
	tagData = [8]byte{'G', 'E', 'N', 'E', 'D', 'A', 'T', 'A'}
)

// Magic is the signature at the start of every archive.
var Magic = tagArch[:]

// Reader gives access to the entries of one archive. A Reader is not safe for
// concurrent use.
type Reader struct {
	ra      io.ReaderAt
	size    int64
	closer  io.Closer
	version uint32
	flags   uint32
	entries []Entry
	opts    options

	companion        *Reader
	companionErr     error
	companionOpened  bool
	companionEntries map[string]Entry
}

type options struct {
	companionPath string
	noCompanion   bool
	maxDepth      int
	maxEntrySize  int64
	maxEntries    int64
}

// Option adjusts a [Reader].
type Option func(*options)

// WithCompanionPath sets the companion container path. By default [Open]
// looks for a sibling named "common" with the extension of the primary.
func WithCompanionPath(path string) Option {
	return func(o *options) {
		o.companionPath = path
	}
}

// WithoutCompanion disables companion lookups; shared entries then fail with
// [ErrMissingCompanion].
func WithoutCompanion() Option {
	return func(o *options) {
		o.noCompanion = true
	}
}

// WithMaxDepth limits the nesting of embedded archives.
func WithMaxDepth(depth int) Option {
	return func(o *options) {
		o.maxDepth = depth
	}
}

// WithMaxEntrySize limits the decoded size of single entries. Set -1 to
// disable the check.
func WithMaxEntrySize(size int64) Option {
	return func(o *options) {
		o.maxEntrySize = size
	}
}

// WithMaxEntries limits the number of entries of an archive, nested archives
// included. Set -1 to disable the check.
func WithMaxEntries(n int64) Option {
	return func(o *options) {
		o.maxEntries = n
	}
}

// CompanionPath returns the conventional companion path for primary.
func CompanionPath(primary, name string) string {
	return filepath.Join(filepath.Dir(primary), name+filepath.Ext(primary))
}

// Open opens the archive at path. The returned Reader must be closed.
func Open(path string, opts ...Option) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	o := newOptions(opts)
	if o.companionPath == "" && !o.noCompanion {
		o.companionPath = CompanionPath(path, DefaultCompanionName)
	}
	if sameFile(path, o.companionPath) {
		o.noCompanion = true
	}

	r, err := newReader(f, st.Size(), o)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader parses the archive of the given size read from ra.
func NewReader(ra io.ReaderAt, size int64, opts ...Option) (*Reader, error) {
	return newReader(ra, size, newOptions(opts))
}

func newOptions(opts []Option) options {
	o := options{maxDepth: DefaultMaxDepth, maxEntrySize: DefaultMaxEntrySize, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newReader(ra io.ReaderAt, size int64, o options) (*Reader, error) {
	r := &Reader{ra: ra, size: size, opts: o}
	p := &parser{r: r, nested: map[int64]bool{}}
	entries, err := p.parseArchive(0, nil, "", 0)
	if err != nil {
		return nil, err
	}
	r.entries = entries
	return r, nil
}

// Version returns the root header version.
func (r *Reader) Version() uint32 {
	return r.version
}

// Entries returns all entries, including those of nested archives, in
// descriptor order.
func (r *Reader) Entries() []Entry {
	return r.entries
}

// ReadEntry returns the decoded payload of e. Shared entries are read from
// the companion container; if it is not available the error wraps
// [ErrMissingCompanion]. Decoding errors wrap [codec.ErrDecode].
func (r *Reader) ReadEntry(e Entry) ([]byte, error) {
	if e.Shared() {
		return r.readShared(e)
	}

	if e.DataOffset < 0 || e.CompressedSize < 0 || e.DataOffset+e.CompressedSize > r.size {
		return nil, fmt.Errorf("%w: entry %s [%d, %d) outside of container", ErrParseCorrupt, e.Path(), e.DataOffset, e.DataOffset+e.CompressedSize)
	}
	if r.opts.maxEntrySize >= 0 && (e.CompressedSize > r.opts.maxEntrySize || e.UncompressedSize > r.opts.maxEntrySize) {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, e.Path())
	}

	data := make([]byte, e.CompressedSize)
	if _, err := r.ra.ReadAt(data, e.DataOffset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read entry %s: %w", e.Path(), err)
	}

	// prefix is stripped before any codec runs
	if e.Flags.Has(FlagPrefix) {
		if len(data) < prefixSize {
			return nil, fmt.Errorf("%w: entry %s shorter than its prefix", ErrParseCorrupt, e.Path())
		}
		data = data[prefixSize:]
	}

	kind := e.Flags.Codec()
	size := int(e.UncompressedSize)
	if kind == codec.Raw && size == 0 {
		size = len(data)
	}
	if size == 0 && len(data) == 0 {
		return []byte{}, nil
	}
	out, err := codec.Decode(codec.Request{Input: data, DeclaredSize: size, Kind: kind})
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.Path(), err)
	}
	return out, nil
}

func (r *Reader) readShared(e Entry) ([]byte, error) {
	c, err := r.openCompanion()
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", e.Path(), err)
	}
	ce, ok := r.companionEntries[e.Path()]
	if !ok {
		return nil, fmt.Errorf("entry %s: %w in companion", e.Path(), ErrEntryNotFound)
	}
	return c.ReadEntry(ce)
}

// openCompanion opens the companion container once. The companion is opened
// without a companion of its own.
func (r *Reader) openCompanion() (*Reader, error) {
	if r.companionOpened {
		return r.companion, r.companionErr
	}
	r.companionOpened = true

	if r.opts.noCompanion || r.opts.companionPath == "" {
		r.companionErr = ErrMissingCompanion
		return nil, r.companionErr
	}

	c, err := Open(r.opts.companionPath, WithoutCompanion(), WithMaxDepth(r.opts.maxDepth), WithMaxEntrySize(r.opts.maxEntrySize), WithMaxEntries(r.opts.maxEntries))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.companionErr = fmt.Errorf("%w: %s", ErrMissingCompanion, r.opts.companionPath)
		} else {
			r.companionErr = fmt.Errorf("%w: %s: %w", ErrMissingCompanion, r.opts.companionPath, err)
		}
		return nil, r.companionErr
	}

	r.companion = c
	r.companionEntries = make(map[string]Entry, len(c.entries))
	for _, ce := range c.entries {
		if ce.Shared() {
			continue
		}
		if _, dup := r.companionEntries[ce.Path()]; !dup {
			r.companionEntries[ce.Path()] = ce
		}
	}
	return c, nil
}

// Close releases the container and its companion.
func (r *Reader) Close() error {
	var errs []error
	if r.companion != nil {
		errs = append(errs, r.companion.Close())
	}
	if r.closer != nil {
		errs = append(errs, r.closer.Close())
	}
	return errors.Join(errs...)
}

func sameFile(a, b string) bool {
	if b == "" {
		return false
	}
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}

// le returns the little-endian u32 at b[off:].
func le(b []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(b[off:])
}
