// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import "fmt"

// EventKind distinguishes run events.
type EventKind int

const (
	// AssetExtracted is sent for every written asset, Path names it.
	AssetExtracted EventKind = iota

	// Progress is sent after each input, with Done of Total inputs finished.
	Progress

	// FileFailed is sent for an input that failed, Message holds the error.
	FileFailed

	// RunCompleted is the last event of a finished run, Count holds the
	// number of written assets.
	RunCompleted

	// RunFailed is the last event of a failed or cancelled run.
	RunFailed
)

func (k EventKind) String() string {
	switch k {
	case AssetExtracted:
		return "asset-extracted"
	case Progress:
		return "progress"
	case FileFailed:
		return "file-failed"
	case RunCompleted:
		return "run-completed"
	case RunFailed:
		return "run-failed"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a notification about a run. Events of inputs processed in
// parallel may interleave; RunCompleted or RunFailed is always last.
type Event struct {
	Kind    EventKind
	Path    string
	Done    int
	Total   int
	Count   int64
	Message string
}
