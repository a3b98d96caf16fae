// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-carve/archive"
	"github.com/hashicorp/go-carve/codec"
)

var (
	// ErrCancelled is returned when a run observed the cancellation of its
	// context. Assets written before are kept.
	ErrCancelled = errors.New("run cancelled")

	// ErrInputTooLarge is returned for inputs above the in-memory limit
	// whose profile can not be carved with bounded memory.
	ErrInputTooLarge = errors.New("input exceeds maximum input size")

	// ErrTooManyAssets is returned when an input yields more assets than allowed.
	ErrTooManyAssets = errors.New("maximum assets per input exceeded")

	// ErrParseCorrupt is returned for structured archives that violate their layout.
	ErrParseCorrupt = archive.ErrParseCorrupt

	// ErrMissingCompanion is returned for shared entries without companion container.
	ErrMissingCompanion = archive.ErrMissingCompanion

	// ErrDecode is matched by every codec failure.
	ErrDecode = codec.ErrDecode
)

// IOError reports a file that could not be read or written.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func ioError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
