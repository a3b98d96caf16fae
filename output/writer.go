// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

// Package output persists carved assets. A [Writer] owns one output
// directory and creates files in it without ever replacing an existing file:
// colliding names are retried with a counter suffix.
package output

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-carve/target"
	"github.com/zeebo/blake3"
)

// ErrTooManyCollisions is returned when no free name was found within the
// configured number of attempts.
var ErrTooManyCollisions = errors.New("too many name collisions")

const (
	// DefaultMaxAttempts bounds the collision retries of a [Writer].
	DefaultMaxAttempts = 1000

	defaultFileMode = 0640 // rw-r-----
	defaultDirMode  = 0750 // rwxr-x---
)

// Written describes a persisted asset.
type Written struct {
	// Path is the path of the file, including the writer directory.
	Path string

	// Size is the number of bytes written.
	Size int64

	// Digest is the hex encoded BLAKE3-256 digest of the content.
	Digest string

	// Duplicate is set if the content was already written by this writer
	// and duplicate suppression is enabled; Path then names the earlier file.
	Duplicate bool
}

// Writer creates asset files below one directory. A Writer is not safe for
// concurrent use; each worker owns its own.
type Writer struct {
	tgt         target.Target
	dir         string
	suffix      string
	maxAttempts int
	fileMode    fs.FileMode
	dirMode     fs.FileMode
	maxSize     int64
	dedup       bool
	seen        map[string]string
	dirs        map[string]bool
}

// WriterOption adjusts a [Writer].
type WriterOption func(*Writer)

// WithCollisionSuffix sets the separator between a name and its collision
// counter, e.g. "_dup" for name_dup1.ext.
func WithCollisionSuffix(s string) WriterOption {
	return func(w *Writer) {
		w.suffix = s
	}
}

// WithMaxAttempts bounds the names tried per asset.
func WithMaxAttempts(n int) WriterOption {
	return func(w *Writer) {
		w.maxAttempts = n
	}
}

// WithModes sets the file and directory modes.
func WithModes(file, dir fs.FileMode) WriterOption {
	return func(w *Writer) {
		w.fileMode = file
		w.dirMode = dir
	}
}

// WithMaxSize limits the size of single files. A negative value disables the
// limit.
func WithMaxSize(n int64) WriterOption {
	return func(w *Writer) {
		w.maxSize = n
	}
}

// WithDeduplication suppresses assets whose content was already written by
// the same writer.
func WithDeduplication(enable bool) WriterOption {
	return func(w *Writer) {
		w.dedup = enable
	}
}

// NewWriter returns a writer for dir on tgt. The directory is created on the
// first write.
func NewWriter(tgt target.Target, dir string, opts ...WriterOption) *Writer {
	w := &Writer{
		tgt:         tgt,
		dir:         dir,
		suffix:      DefaultCollisionSuffix,
		maxAttempts: DefaultMaxAttempts,
		fileMode:    defaultFileMode,
		dirMode:     defaultDirMode,
		maxSize:     -1,
		seen:        map[string]string{},
		dirs:        map[string]bool{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// WriteBytes persists data under name, see [Writer.Create].
func (w *Writer) WriteBytes(name string, data []byte) (Written, error) {
	if w.dedup {
		sum := blake3.Sum256(data)
		digest := hex.EncodeToString(sum[:])
		if prev, ok := w.seen[digest]; ok {
			return Written{Path: prev, Size: int64(len(data)), Digest: digest, Duplicate: true}, nil
		}
	}
	return w.Create(name, bytes.NewReader(data))
}

// Create persists the content of src under name, relative to the writer
// directory. If the name is taken, name_1.ext, name_2.ext, ... are tried in
// order until a free name is found or the attempts are exhausted.
func (w *Writer) Create(name string, src io.Reader) (Written, error) {
	clean, err := SanitizeName(name)
	if err != nil {
		return Written{}, err
	}
	if err := w.ensureDir(filepath.Dir(filepath.FromSlash(clean))); err != nil {
		return Written{}, err
	}

	h := blake3.New()
	tee := io.TeeReader(src, h)

	for attempt := 0; attempt < w.maxAttempts; attempt++ {
		candidate := CollisionName(clean, w.suffix, attempt)
		if err := securityCheck(w.tgt, w.dir, candidate); err != nil {
			return Written{}, fmt.Errorf("security check path failed: %w", err)
		}
		p := filepath.Join(w.dir, filepath.FromSlash(candidate))

		n, err := w.tgt.CreateFile(p, tee, w.fileMode, false, w.maxSize)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			_ = w.tgt.Remove(p)
			return Written{Path: p, Size: n}, fmt.Errorf("cannot create file: %w", err)
		}

		digest := hex.EncodeToString(h.Sum(nil))
		if w.dedup {
			if prev, ok := w.seen[digest]; ok {
				_ = w.tgt.Remove(p)
				return Written{Path: prev, Size: n, Digest: digest, Duplicate: true}, nil
			}
			w.seen[digest] = p
		}
		return Written{Path: p, Size: n, Digest: digest}, nil
	}
	return Written{}, fmt.Errorf("%w: %s after %d attempts", ErrTooManyCollisions, clean, w.maxAttempts)
}

// ensureDir creates sub below the writer directory once.
func (w *Writer) ensureDir(sub string) error {
	if w.dirs[sub] {
		return nil
	}
	if sub != "." {
		if err := securityCheck(w.tgt, w.dir, filepath.ToSlash(sub)); err != nil {
			return fmt.Errorf("security check path failed: %w", err)
		}
	}
	if err := w.tgt.CreateDir(filepath.Join(w.dir, sub), w.dirMode); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	w.dirs[sub] = true
	return nil
}

// Rel returns p relative to the writer directory, slash separated.
func (w *Writer) Rel(p string) string {
	rel, err := filepath.Rel(w.dir, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(strings.TrimPrefix(rel, "./"))
}
