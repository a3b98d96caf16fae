// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package carve_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/hashicorp/go-carve"
)

// TestDataString tests the String method of the data struct
func TestDataString(t *testing.T) {
	m := carve.TelemetryData{
		Profile:            "riff",
		State:              "completed",
		InputFiles:         3,
		SkippedFiles:       1,
		FailedFiles:        1,
		InputSize:          2048,
		ExtractedAssets:    5,
		DuplicateAssets:    2,
		ExtractionSize:     1024,
		RejectedHits:       4,
		AssetErrors:        1,
		ExtractionDuration: 5 * time.Millisecond,
		LastError:          fmt.Errorf("example error"),
	}

	got := map[string]any{}
	if err := json.Unmarshal([]byte(m.String()), &got); err != nil {
		t.Fatalf("String() is not json: %s", err)
	}

	want := map[string]any{
		"profile":             "riff",
		"state":               "completed",
		"input_files":         float64(3),
		"skipped_files":       float64(1),
		"failed_files":        float64(1),
		"input_size":          float64(2048),
		"extracted_assets":    float64(5),
		"duplicate_assets":    float64(2),
		"extraction_size":     float64(1024),
		"rejected_hits":       float64(4),
		"asset_errors":        float64(1),
		"extraction_duration": float64(5000000),
		"last_error":          "example error",
	}
	if len(got) != len(want) {
		t.Fatalf("String() has %d fields, want %d: %s", len(got), len(want), m.String())
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %s = %v, want %v", k, got[k], v)
		}
	}
}

func TestDataStringNoError(t *testing.T) {
	got := map[string]any{}
	if err := json.Unmarshal([]byte(carve.TelemetryData{}.String()), &got); err != nil {
		t.Fatal(err)
	}
	if got["last_error"] != "" {
		t.Errorf("last_error = %v, want empty string", got["last_error"])
	}
}
