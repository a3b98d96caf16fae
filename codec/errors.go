// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package codec

import (
	"errors"
	"fmt"
)

// ErrDecode is matched by every *[DecodeError] via [errors.Is].
var ErrDecode = errors.New("decode error")

// DecodeError reports malformed codec input or an output that would exceed
// the declared size.
type DecodeError struct {
	// Kind is the codec that failed.
	Kind Kind

	// Offset is the input position at which decoding stopped.
	Offset int

	// Reason describes the failure.
	Reason string

	// Err is an optional underlying error, e.g. from a deflate reader.
	Err error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("%s: %s at input offset %d", e.Kind, e.Reason, e.Offset)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements matching against [ErrDecode].
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func newError(k Kind, off int, reason string) *DecodeError {
	return &DecodeError{Kind: k, Offset: off, Reason: reason}
}

// errTruncated is returned when a read would pass the end of the input.
func errTruncated(k Kind, off int) *DecodeError {
	return newError(k, off, "input truncated")
}

// errOverflow is returned when a write would pass the output limit.
func errOverflow(k Kind, off int) *DecodeError {
	return newError(k, off, "output exceeds declared size")
}
