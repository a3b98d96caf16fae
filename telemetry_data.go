// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve

import (
	"context"
	"encoding/json"
	"time"
)

// TelemetryData holds all telemetry data of a run.
type TelemetryData struct {
	// Profile is the name of the format profile
	Profile string `json:"profile"`

	// State is the final state of the run
	State string `json:"state"`

	// InputFiles is the number of processed inputs
	InputFiles int64 `json:"input_files"`

	// SkippedFiles is the number of inputs excluded by rules or identification
	SkippedFiles int64 `json:"skipped_files"`

	// FailedFiles is the number of inputs that failed
	FailedFiles int64 `json:"failed_files"`

	// InputSize is the size of all processed inputs
	InputSize int64 `json:"input_size"`

	// ExtractedAssets is the number of written assets
	ExtractedAssets int64 `json:"extracted_assets"`

	// DuplicateAssets is the number of dropped duplicates
	DuplicateAssets int64 `json:"duplicate_assets"`

	// ExtractionSize is the size of the written assets
	ExtractionSize int64 `json:"extraction_size"`

	// RejectedHits is the number of signature hits rejected by the carvers
	RejectedHits int64 `json:"rejected_hits"`

	// AssetErrors is the number of assets dropped due to an error
	AssetErrors int64 `json:"asset_errors"`

	// ExtractionDuration is the duration of the run
	ExtractionDuration time.Duration `json:"extraction_duration"`

	// LastError is the last error during the run
	LastError error `json:"last_error"`
}

// String returns a string representation of [TelemetryData].
func (td TelemetryData) String() string {
	b, _ := json.Marshal(td)
	return string(b)
}

// MarshalJSON implements the [encoding/json.Marshaler] interface.
func (td TelemetryData) MarshalJSON() ([]byte, error) {
	var lastError string
	if td.LastError != nil {
		lastError = td.LastError.Error()
	}

	type Alias TelemetryData
	return json.Marshal(&struct {
		LastError string `json:"last_error"`
		*Alias
	}{
		LastError: lastError,
		Alias:     (*Alias)(&td),
	})
}

// TelemetryHook is a function type that performs operations on [TelemetryData]
// after a run has finished which can be used to submit the [TelemetryData]
// to a telemetry service, for example.
type TelemetryHook func(context.Context, *TelemetryData)

// add merges the counters of o into td.
func (td *TelemetryData) add(o *TelemetryData) {
	td.InputSize += o.InputSize
	td.ExtractedAssets += o.ExtractedAssets
	td.DuplicateAssets += o.DuplicateAssets
	td.ExtractionSize += o.ExtractionSize
	td.RejectedHits += o.RejectedHits
	td.AssetErrors += o.AssetErrors
	if o.LastError != nil {
		td.LastError = o.LastError
	}
}
