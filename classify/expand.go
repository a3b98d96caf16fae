// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package classify

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bodgit/sevenzip"
	"github.com/nwaples/rardecode"
)

// ErrTooManyEntries is returned if an archive holds more members than allowed.
var ErrTooManyEntries = errors.New("too many archive entries")

// Limits bounds an archive expansion. -1 disables a limit.
type Limits struct {
	MaxEntries   int64
	MaxEntrySize int64
}

// NoLimits disables all expansion limits.
var NoLimits = Limits{MaxEntries: -1, MaxEntrySize: -1}

// Expandable reports whether [Expand] can walk archives of type t.
func Expandable(t Type) bool {
	_, ok := walkers[t.Name]
	return ok
}

// Expand walks the regular members of the archive of type t that is stored in
// the first size bytes of ra and calls fn with each member's name and content.
// Directories, links and other special members are skipped. An error of fn
// ends the walk.
func Expand(ctx context.Context, ra io.ReaderAt, size int64, t Type, limits Limits, fn func(name string, r io.Reader) error) error {
	newWalker, ok := walkers[t.Name]
	if !ok {
		return fmt.Errorf("cannot expand %s", t.Name)
	}
	w, err := newWalker(ra, size)
	if err != nil {
		return fmt.Errorf("cannot open %s archive: %w", t.Name, err)
	}

	var count int64
	for {
		// check if context is canceled
		if err := ctx.Err(); err != nil {
			return err
		}

		ae, err := w.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("cannot read %s entry: %w", w.Type(), err)
		}
		if !ae.IsRegular() {
			continue
		}

		count++
		if limits.MaxEntries > -1 && count > limits.MaxEntries {
			return fmt.Errorf("%w: more than %d", ErrTooManyEntries, limits.MaxEntries)
		}
		if limits.MaxEntrySize > -1 && ae.Size() > limits.MaxEntrySize {
			return fmt.Errorf("%w: %s declares %d bytes", ErrLimitExceeded, ae.Name(), ae.Size())
		}

		if err := expandEntry(ae, limits.MaxEntrySize, fn); err != nil {
			return err
		}
	}
}

func expandEntry(ae archiveEntry, maxSize int64, fn func(string, io.Reader) error) error {
	rc, err := ae.Open()
	if err != nil {
		return fmt.Errorf("cannot open %s: %w", ae.Name(), err)
	}
	defer rc.Close()
	return fn(ae.Name(), newLimitErrorReader(rc, maxSize))
}

// archiveWalker is an interface that represents a file walker in an archive
type archiveWalker interface {
	Type() string
	Next() (archiveEntry, error)
}

// archiveEntry is an interface that represents a file in an archive
type archiveEntry interface {
	Name() string
	Size() int64
	IsRegular() bool
	Open() (io.ReadCloser, error)
}

var walkers = map[string]func(io.ReaderAt, int64) (archiveWalker, error){
	"zip": func(ra io.ReaderAt, size int64) (archiveWalker, error) {
		zr, err := zip.NewReader(ra, size)
		if err != nil {
			return nil, err
		}
		return &zipWalker{zr: zr}, nil
	},
	"tar": func(ra io.ReaderAt, size int64) (archiveWalker, error) {
		return &tarWalker{tr: tar.NewReader(io.NewSectionReader(ra, 0, size))}, nil
	},
	"7z": func(ra io.ReaderAt, size int64) (archiveWalker, error) {
		r, err := sevenzip.NewReader(ra, size)
		if err != nil {
			return nil, err
		}
		return &sevenZipWalker{r: r}, nil
	},
	"rar": func(ra io.ReaderAt, size int64) (archiveWalker, error) {
		r, err := rardecode.NewReader(io.NewSectionReader(ra, 0, size), "")
		if err != nil {
			return nil, err
		}
		return &rarWalker{r: r}, nil
	},
}

// zipWalker is a walker for zip files
type zipWalker struct {
	zr *zip.Reader
	fp int
}

func (z *zipWalker) Type() string {
	return "zip"
}

func (z *zipWalker) Next() (archiveEntry, error) {
	if z.fp >= len(z.zr.File) {
		return nil, io.EOF
	}
	defer func() { z.fp++ }()
	return &zipEntry{z.zr.File[z.fp]}, nil
}

type zipEntry struct {
	zf *zip.File
}

func (z *zipEntry) Name() string {
	return z.zf.Name
}

func (z *zipEntry) Size() int64 {
	return int64(z.zf.UncompressedSize64)
}

func (z *zipEntry) IsRegular() bool {
	return z.zf.Mode().Type() == 0
}

func (z *zipEntry) Open() (io.ReadCloser, error) {
	return z.zf.Open()
}

// tarWalker is a walker for tar files
type tarWalker struct {
	tr *tar.Reader
}

func (t *tarWalker) Type() string {
	return "tar"
}

func (t *tarWalker) Next() (archiveEntry, error) {
	hdr, err := t.tr.Next()
	if err != nil {
		return nil, err
	}
	return &tarEntry{hdr, t.tr}, nil
}

type tarEntry struct {
	hdr *tar.Header
	tr  *tar.Reader
}

func (t *tarEntry) Name() string {
	return t.hdr.Name
}

func (t *tarEntry) Size() int64 {
	return t.hdr.Size
}

func (t *tarEntry) IsRegular() bool {
	return t.hdr.FileInfo().Mode().IsRegular()
}

func (t *tarEntry) Open() (io.ReadCloser, error) {
	return io.NopCloser(t.tr), nil
}

// sevenZipWalker is a walker for 7zip files
type sevenZipWalker struct {
	r  *sevenzip.Reader
	fp int
}

func (z *sevenZipWalker) Type() string {
	return "7z"
}

func (z *sevenZipWalker) Next() (archiveEntry, error) {
	if z.fp >= len(z.r.File) {
		return nil, io.EOF
	}
	defer func() { z.fp++ }()
	return &sevenZipEntry{z.r.File[z.fp]}, nil
}

type sevenZipEntry struct {
	f *sevenzip.File
}

func (z *sevenZipEntry) Name() string {
	return z.f.Name
}

func (z *sevenZipEntry) Size() int64 {
	return z.f.FileInfo().Size()
}

func (z *sevenZipEntry) IsRegular() bool {
	return z.f.FileInfo().Mode().IsRegular()
}

func (z *sevenZipEntry) Open() (io.ReadCloser, error) {
	return z.f.Open()
}

// rarWalker is a walker for rar files
type rarWalker struct {
	r *rardecode.Reader
}

func (rw *rarWalker) Type() string {
	return "rar"
}

func (rw *rarWalker) Next() (archiveEntry, error) {
	fh, err := rw.r.Next()
	if err != nil {
		return nil, err
	}
	return &rarEntry{fh, rw.r}, nil
}

type rarEntry struct {
	f *rardecode.FileHeader
	r io.Reader
}

func (r *rarEntry) Name() string {
	return r.f.Name
}

func (r *rarEntry) Size() int64 {
	return r.f.UnPackedSize
}

func (r *rarEntry) IsRegular() bool {
	return !r.f.IsDir && r.f.Mode().IsRegular()
}

func (r *rarEntry) Open() (io.ReadCloser, error) {
	return io.NopCloser(r.r), nil
}
