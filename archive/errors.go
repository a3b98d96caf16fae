// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package archive

import "errors"

var (
	// ErrParseCorrupt is returned when a structural invariant of the archive
	// is violated, e.g. a section that extends past its declared size.
	ErrParseCorrupt = errors.New("archive corrupt")

	// ErrMissingCompanion is returned for a shared entry when the companion
	// container can not be opened.
	ErrMissingCompanion = errors.New("companion container missing")

	// ErrEntryNotFound is returned when a shared entry has no counterpart in
	// the companion container.
	ErrEntryNotFound = errors.New("entry not found")

	// ErrEntryTooLarge is returned when an entry exceeds the configured size
	// limit.
	ErrEntryTooLarge = errors.New("entry exceeds size limit")

	// ErrTooManyEntries is returned when an archive, nested archives
	// included, lists more entries than allowed.
	ErrTooManyEntries = errors.New("archive exceeds maximum entries")
)
