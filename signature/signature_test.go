// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package signature

import (
	"bytes"
	"math/rand"
	"slices"
	"testing"
)

func TestFind(t *testing.T) {
	tests := []struct {
		name     string
		haystack []byte
		pattern  []byte
		start    int
		want     int
		wantOk   bool
	}{
		{
			name:     "at start",
			haystack: []byte("RIFFxxxx"),
			pattern:  []byte("RIFF"),
			want:     0,
			wantOk:   true,
		},
		{
			name:     "after start",
			haystack: []byte("RIFFxxRIFF"),
			pattern:  []byte("RIFF"),
			start:    1,
			want:     6,
			wantOk:   true,
		},
		{
			name:     "at end",
			haystack: []byte("xxRIFF"),
			pattern:  []byte("RIFF"),
			want:     2,
			wantOk:   true,
		},
		{
			name:     "missing",
			haystack: []byte("RIF"),
			pattern:  []byte("RIFF"),
			want:     -1,
		},
		{
			name:     "empty pattern",
			haystack: []byte("RIFF"),
			pattern:  nil,
			want:     -1,
		},
		{
			name:     "start out of range",
			haystack: []byte("RIFF"),
			pattern:  []byte("RIFF"),
			start:    5,
			want:     -1,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, ok := Find(test.haystack, test.pattern, test.start)
			if got != test.want || ok != test.wantOk {
				t.Errorf("Find() = %d, %v; want %d, %v", got, ok, test.want, test.wantOk)
			}
		})
	}
}

func TestFindAllNonOverlapping(t *testing.T) {
	got := FindAll([]byte("aaaaa"), []byte("aa"))
	want := []int{0, 2}
	if !slices.Equal(got, want) {
		t.Fatalf("FindAll() = %v, want %v", got, want)
	}
}

// TestFindAllAgreesWithFind checks on random buffers that FindAll is ascending
// and that Find(k) returns the first FindAll offset that is >= k.
func TestFindAllAgreesWithFind(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		buf := make([]byte, 256)
		for i := range buf {
			buf[i] = byte(rng.Intn(3))
		}
		pattern := make([]byte, 1+rng.Intn(3))
		for i := range pattern {
			pattern[i] = byte(rng.Intn(3))
		}

		all := FindAll(buf, pattern)
		if !slices.IsSorted(all) {
			t.Fatalf("round %d: offsets not ascending: %v", round, all)
		}
		for i := 1; i < len(all); i++ {
			if all[i]-all[i-1] < len(pattern) {
				t.Fatalf("round %d: overlapping offsets %d and %d", round, all[i-1], all[i])
			}
		}
		for _, off := range all {
			if !bytes.Equal(buf[off:off+len(pattern)], pattern) {
				t.Fatalf("round %d: no match at %d", round, off)
			}
		}

		for k := 0; k <= len(buf); k++ {
			idx, _ := slices.BinarySearch(all, k)
			got, ok := Find(buf, pattern, k)
			if idx == len(all) {
				continue
			}
			// a match from k exists and can not come after the next chained offset
			if !ok || got > all[idx] {
				t.Fatalf("round %d: Find(%d) = %d, %v; want <= %d", round, k, got, ok, all[idx])
			}
		}
		// restarting at the end of each match reproduces the chain exactly
		for i := 1; i < len(all); i++ {
			got, _ := Find(buf, pattern, all[i-1]+len(pattern))
			if got != all[i] {
				t.Fatalf("round %d: chained Find = %d, want %d", round, got, all[i])
			}
		}
		if len(all) > 0 {
			got, _ := Find(buf, pattern, 0)
			if got != all[0] {
				t.Fatalf("round %d: Find(0) = %d, want %d", round, got, all[0])
			}
		}
	}
}

func TestAllRestartable(t *testing.T) {
	seq := All([]byte("xABxABx"), []byte("AB"))
	var first, second []int
	for off := range seq {
		first = append(first, off)
	}
	for off := range seq {
		second = append(second, off)
	}
	if !slices.Equal(first, []int{1, 4}) || !slices.Equal(first, second) {
		t.Fatalf("All() not restartable: %v / %v", first, second)
	}
}

func TestFindAny(t *testing.T) {
	tests := []struct {
		name     string
		haystack string
		patterns []string
		wantOff  int
		wantIdx  int
		wantOk   bool
	}{
		{"first pattern earlier", "..WAVE..XWMA", []string{"WAVE", "XWMA"}, 2, 0, true},
		{"second pattern earlier", "..XWMA..WAVE", []string{"WAVE", "XWMA"}, 2, 1, true},
		{"tie goes to list order", "..ABCD", []string{"ABC", "AB"}, 2, 0, true},
		{"none", "......", []string{"WAVE", "XWMA"}, -1, -1, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			var patterns [][]byte
			for _, p := range test.patterns {
				patterns = append(patterns, []byte(p))
			}
			off, idx, ok := FindAny([]byte(test.haystack), patterns, 0)
			if off != test.wantOff || idx != test.wantIdx || ok != test.wantOk {
				t.Errorf("FindAny() = %d, %d, %v; want %d, %d, %v", off, idx, ok, test.wantOff, test.wantIdx, test.wantOk)
			}
		})
	}
}

func TestMatchAt(t *testing.T) {
	buf := []byte{0x00, 0x3C, 'A', 'D', 'P', 'C', 'M', '0'}
	if got := MatchAt(buf, 2, []byte("XWMA"), []byte("ADPCM")); got != 1 {
		t.Errorf("MatchAt() = %d, want 1", got)
	}
	if got := MatchAt(buf, 3, []byte("ADPCM")); got != -1 {
		t.Errorf("MatchAt() = %d, want -1", got)
	}
	if got := MatchAt(buf, 6, []byte("M0X")); got != -1 {
		t.Errorf("MatchAt() past end = %d, want -1", got)
	}
}

func TestPatternFindFrom(t *testing.T) {
	buf := []byte("RIFF....WAVEfmt ")
	p := Pattern{Magic: []byte("WAVE"), MinOffset: 8, MaxOffset: 8}
	if off, ok := p.FindFrom(buf, 0); !ok || off != 8 {
		t.Fatalf("FindFrom() = %d, %v; want 8, true", off, ok)
	}
	p = Pattern{Magic: []byte("WAVE"), MinOffset: 0, MaxOffset: 4}
	if _, ok := p.FindFrom(buf, 0); ok {
		t.Fatalf("FindFrom() matched outside of range")
	}
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{"52494646", []byte("RIFF"), false},
		{"52 49 46 46", []byte("RIFF"), false},
		{"00:00:01:ba", []byte{0, 0, 1, 0xba}, false},
		{"", nil, true},
		{"zz", nil, true},
	}
	for _, test := range tests {
		got, err := ParseHex(test.in)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseHex(%q) error = %v, wantErr %v", test.in, err, test.wantErr)
			continue
		}
		if !bytes.Equal(got, test.want) {
			t.Errorf("ParseHex(%q) = %x, want %x", test.in, got, test.want)
		}
	}
}
