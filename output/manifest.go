// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ManifestEntry records one persisted asset.
type ManifestEntry struct {
	Source    string `json:"source"`
	Path      string `json:"path"`
	Format    string `json:"format"`
	Start     int64  `json:"start,omitempty"`
	End       int64  `json:"end,omitempty"`
	Size      int64  `json:"size"`
	Digest    string `json:"blake3"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Manifest collects the assets of a run. It is safe for concurrent use.
type Manifest struct {
	mu      sync.Mutex
	entries []ManifestEntry
}

// Add appends an entry.
func (m *Manifest) Add(e ManifestEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns the entries ordered by source, then start offset, then path.
func (m *Manifest) Entries() []ManifestEntry {
	m.mu.Lock()
	out := append([]ManifestEntry(nil), m.entries...)
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Path < b.Path
	})
	return out
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// WriteTo writes the ordered entries as indented JSON.
func (m *Manifest) WriteTo(w io.Writer) (int64, error) {
	b, err := json.MarshalIndent(m.Entries(), "", "  ")
	if err != nil {
		return 0, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	b = append(b, '\n')
	n, err := w.Write(b)
	return int64(n), err
}
