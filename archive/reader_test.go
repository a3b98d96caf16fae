// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-carve/codec"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
)

// node is one descriptor of a test archive.
type node struct {
	name    string
	payload []byte
	size    uint32
	flags   Flags
	sub     *tree
}

// tree is a test archive. If inherit is set, the archive writes an empty
// string table and relies on its parent's.
type tree struct {
	nodes   []node
	inherit bool
}

func le32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// sec encodes a section padded to a multiple of align.
func sec(tag [8]byte, count uint32, body []byte, align int) []byte {
	size := sectionHeaderSize + len(body)
	if r := size % align; r != 0 {
		size += align - r
	}
	b := append([]byte{}, tag[:]...)
	b = append(b, le32(uint32(size))...)
	b = append(b, le32(count)...)
	b = append(b, body...)
	return append(b, make([]byte, size-len(b))...)
}

func collectNames(t *tree, names *[]string, idx map[string]int) {
	for _, n := range t.nodes {
		if _, ok := idx[n.name]; !ok {
			idx[n.name] = len(*names)
			*names = append(*names, n.name)
		}
		if n.sub != nil {
			collectNames(n.sub, names, idx)
		}
	}
}

// build encodes the archive. All archives share one deduplicated name list.
func (t *tree) build() []byte {
	var names []string
	idx := map[string]int{}
	collectNames(t, &names, idx)
	return t.encode(names, idx)
}

func (t *tree) encode(names []string, idx map[string]int) []byte {
	arch := sec(tagArch, 0, append(le32(3), le32(0)...), 32)

	payloads := make([][]byte, len(t.nodes))
	for i, n := range t.nodes {
		payloads[i] = n.payload
		if n.sub != nil {
			payloads[i] = n.sub.encode(names, idx)
		}
	}

	var strt []byte
	if t.inherit {
		strt = sec(tagStrt, 0, nil, 16)
	} else {
		var offs, blob []byte
		for _, s := range names {
			offs = append(offs, le32(uint32(len(blob)))...)
			blob = append(blob, s...)
			blob = append(blob, 0)
		}
		strt = sec(tagStrt, uint32(len(names)), append(offs, blob...), 16)
	}

	segsLen := len(sec(tagSegs, 0, make([]byte, descriptorSize*len(t.nodes)), 16))
	dataStart := len(arch) + segsLen + len(strt) + sectionHeaderSize

	var descs, data []byte
	for i, n := range t.nodes {
		off := dataStart + len(data)
		descs = append(descs, le32(uint32(idx[n.name]))...)
		descs = append(descs, le32(uint32(off))...)
		descs = append(descs, le32(uint32(len(payloads[i])))...)
		descs = append(descs, le32(n.size)...)
		descs = append(descs, le32(uint32(n.flags))...)
		data = append(data, payloads[i]...)
		for len(data)%4 != 0 {
			data = append(data, 0)
		}
	}
	segs := sec(tagSegs, uint32(len(t.nodes)), descs, 16)

	out := append(arch, segs...)
	out = append(out, strt...)
	return append(out, sec(tagData, 0, data, 4)...)
}

func zlibBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func lz4Bytes(t *testing.T, b []byte) []byte {
	t.Helper()
	dst := make([]byte, lz4.CompressBlockBound(len(b)))
	n, err := lz4.CompressBlock(b, dst, nil)
	if err != nil || n == 0 {
		t.Fatalf("lz4 compression failed: %d, %v", n, err)
	}
	return dst[:n]
}

func lzssBytes(plain []byte) []byte {
	h := make([]byte, codec.LzssHeaderSize)
	copy(h, "LZS\x00")
	binary.LittleEndian.PutUint32(h[4:], uint32(len(plain)))
	binary.LittleEndian.PutUint32(h[8:], uint32(codec.LzssHeaderSize+len(plain)))
	binary.LittleEndian.PutUint32(h[12:], 0xfe)
	return append(h, plain...)
}

func openBytes(t *testing.T, b []byte, opts ...Option) *Reader {
	t.Helper()
	r, err := NewReader(bytes.NewReader(b), int64(len(b)), opts...)
	if err != nil {
		t.Fatalf("NewReader() failed: %s", err)
	}
	return r
}

func TestReadEntries(t *testing.T) {
	text := bytes.Repeat([]byte("voice line "), 50)
	tests := []struct {
		name string
		node node
		want []byte
	}{
		{
			name: "stored",
			node: node{name: "a.bin", payload: []byte("stored"), flags: 0},
			want: []byte("stored"),
		},
		{
			name: "raw",
			node: node{name: "b.bin", payload: []byte("rawdata"), size: 7, flags: FlagRaw},
			want: []byte("rawdata"),
		},
		{
			name: "deflate",
			node: node{name: "c.txt", payload: zlibBytes(t, text), size: uint32(len(text)), flags: FlagDeflate},
			want: text,
		},
		{
			name: "token",
			node: node{name: "d.txt", payload: lz4Bytes(t, text), size: uint32(len(text)), flags: FlagToken},
			want: text,
		},
		{
			name: "lzss",
			node: node{name: "e.txt", payload: lzssBytes([]byte("plain")), size: 5, flags: FlagLzss},
			want: []byte("plain"),
		},
		{
			name: "prefix before codec",
			node: node{name: "f.txt", payload: append([]byte{9, 9, 9, 9}, zlibBytes(t, text)...), size: uint32(len(text)), flags: FlagPrefix | FlagDeflate},
			want: text,
		},
		{
			name: "token wins over deflate",
			node: node{name: "g.txt", payload: lz4Bytes(t, text), size: uint32(len(text)), flags: FlagDeflate | FlagToken},
			want: text,
		},
		{
			name: "lzss wins over raw",
			node: node{name: "h.txt", payload: lzssBytes([]byte("xyz")), size: 3, flags: FlagRaw | FlagLzss},
			want: []byte("xyz"),
		},
	}

	var tr tree
	for _, test := range tests {
		tr.nodes = append(tr.nodes, test.node)
	}
	r := openBytes(t, tr.build())
	if r.Version() != 3 {
		t.Fatalf("Version() = %d, want 3", r.Version())
	}

	entries := r.Entries()
	if len(entries) != len(tests) {
		t.Fatalf("Entries() returned %d entries, want %d", len(entries), len(tests))
	}
	for i, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := entries[i]
			if e.Name != test.node.name || e.ParentArchiveID != "" {
				t.Fatalf("unexpected entry %+v", e)
			}
			got, err := r.ReadEntry(e)
			if err != nil {
				t.Fatalf("ReadEntry() failed: %s", err)
			}
			if !bytes.Equal(got, test.want) {
				t.Fatalf("ReadEntry() = %q, want %q", got, test.want)
			}
		})
	}
}

func TestNestedArchives(t *testing.T) {
	inner := &tree{nodes: []node{{name: "deep.bin", payload: []byte("deep"), flags: FlagRaw}}}
	mid := &tree{
		inherit: true,
		nodes: []node{
			{name: "mid.bin", payload: []byte("mid"), flags: FlagRaw},
			{name: "inner.gen", sub: inner, flags: FlagNested},
		},
	}
	root := &tree{nodes: []node{
		{name: "top.bin", payload: []byte("top"), flags: FlagRaw},
		{name: "mid.gen", sub: mid, flags: FlagNested},
		{name: "last.bin", payload: []byte("last"), flags: FlagRaw},
	}}

	r := openBytes(t, root.build())
	want := []struct {
		name, parent, data string
	}{
		{"top.bin", "", "top"},
		{"mid.bin", "mid.gen", "mid"},
		{"deep.bin", "mid.gen/inner.gen", "deep"},
		{"last.bin", "", "last"},
	}
	entries := r.Entries()
	if len(entries) != len(want) {
		t.Fatalf("Entries() returned %d entries, want %d: %+v", len(entries), len(want), entries)
	}
	for i, w := range want {
		e := entries[i]
		if e.Name != w.name || e.ParentArchiveID != w.parent {
			t.Errorf("entry %d = %s (parent %q), want %s (parent %q)", i, e.Name, e.ParentArchiveID, w.name, w.parent)
			continue
		}
		got, err := r.ReadEntry(e)
		if err != nil || string(got) != w.data {
			t.Errorf("ReadEntry(%s) = %q, %v; want %q", e.Name, got, err, w.data)
		}
	}
}

func TestMissingCompanion(t *testing.T) {
	dir := t.TempDir()
	tr := tree{nodes: []node{
		{name: "own.bin", payload: []byte("own"), flags: FlagRaw},
		{name: "shared.bin", flags: FlagShared},
		{name: "other.bin", payload: []byte("other"), flags: FlagRaw},
	}}
	path := filepath.Join(dir, "stage01.gen")
	if err := os.WriteFile(path, tr.build(), 0640); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %s", err)
	}
	defer r.Close()

	var ok, missing int
	for _, e := range r.Entries() {
		data, err := r.ReadEntry(e)
		switch {
		case e.Shared():
			if !errors.Is(err, ErrMissingCompanion) {
				t.Fatalf("ReadEntry(%s) error = %v, want ErrMissingCompanion", e.Name, err)
			}
			missing++
		case err != nil:
			t.Fatalf("ReadEntry(%s) failed: %s", e.Name, err)
		default:
			if len(data) == 0 {
				t.Fatalf("ReadEntry(%s) returned no data", e.Name)
			}
			ok++
		}
	}
	if ok != 2 || missing != 1 {
		t.Fatalf("read %d entries, %d missing; want 2 and 1", ok, missing)
	}
}

func TestCompanionResolution(t *testing.T) {
	dir := t.TempDir()
	primary := tree{nodes: []node{
		{name: "shared.bin", flags: FlagShared},
		{name: "absent.bin", flags: FlagShared},
	}}
	common := tree{nodes: []node{
		{name: "shared.bin", payload: []byte("from common"), flags: FlagRaw},
	}}
	path := filepath.Join(dir, "stage01.gen")
	if err := os.WriteFile(path, primary.build(), 0640); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "common.gen"), common.build(), 0640); err != nil {
		t.Fatal(err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %s", err)
	}
	defer r.Close()

	entries := r.Entries()
	got, err := r.ReadEntry(entries[0])
	if err != nil || string(got) != "from common" {
		t.Fatalf("ReadEntry(shared) = %q, %v", got, err)
	}
	if _, err := r.ReadEntry(entries[1]); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("ReadEntry(absent) error = %v, want ErrEntryNotFound", err)
	}
}

func TestCompanionOpenedWithoutOwnCompanion(t *testing.T) {
	dir := t.TempDir()
	tr := tree{nodes: []node{{name: "x.bin", flags: FlagShared}}}
	path := filepath.Join(dir, "common.gen")
	if err := os.WriteFile(path, tr.build(), 0640); err != nil {
		t.Fatal(err)
	}
	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %s", err)
	}
	defer r.Close()
	if _, err := r.ReadEntry(r.Entries()[0]); !errors.Is(err, ErrMissingCompanion) {
		t.Fatalf("ReadEntry() error = %v, want ErrMissingCompanion", err)
	}
}

func TestCorruptArchives(t *testing.T) {
	valid := (&tree{nodes: []node{{name: "a", payload: []byte("abcd"), flags: FlagRaw}}}).build()

	negativePad := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(negativePad[8:], sectionHeaderSize)

	badTag := bytes.Clone(valid)
	copy(badTag, "NOTAGENE")

	badName := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(badName[32+sectionHeaderSize:], 7)

	pastEnd := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(pastEnd[8:], uint32(len(valid)+16))

	selfNested := (&tree{nodes: []node{{name: "n", payload: nil, flags: FlagNested}}}).build()
	// point the nested descriptor at offset 0
	binary.LittleEndian.PutUint32(selfNested[32+sectionHeaderSize+4:], 0)

	leaf := &tree{nodes: []node{{name: "x", payload: []byte("x"), flags: FlagRaw}}}
	twoNested := (&tree{nodes: []node{
		{name: "a.gen", sub: leaf, flags: FlagNested},
		{name: "b.gen", sub: leaf, flags: FlagNested},
	}}).build()
	desc := func(i, field int) int { return 32 + sectionHeaderSize + i*descriptorSize + field }

	// both descriptors point at the first nested archive
	repeated := bytes.Clone(twoNested)
	copy(repeated[desc(1, 4):desc(1, 12)], repeated[desc(0, 4):desc(0, 12)])

	// the nested descriptor points at the segment table
	outsideData := bytes.Clone(twoNested)
	binary.LittleEndian.PutUint32(outsideData[desc(0, 4):], 32)

	tests := []struct {
		name string
		data []byte
	}{
		{"negative padding", negativePad},
		{"nested archive referenced twice", repeated},
		{"nested archive outside data area", outsideData},
		{"bad root tag", badTag},
		{"name index out of range", badName},
		{"section past end", pastEnd},
		{"truncated", valid[:40]},
		{"nested self reference", selfNested},
		{"empty", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(test.data), int64(len(test.data)))
			if !errors.Is(err, ErrParseCorrupt) {
				t.Fatalf("NewReader() error = %v, want ErrParseCorrupt", err)
			}
		})
	}
}

func TestMaxEntries(t *testing.T) {
	four := &tree{inherit: true, nodes: []node{
		{name: "a", payload: []byte("a"), flags: FlagRaw},
		{name: "b", payload: []byte("b"), flags: FlagRaw},
		{name: "c", payload: []byte("c"), flags: FlagRaw},
		{name: "d", payload: []byte("d"), flags: FlagRaw},
	}}
	data := (&tree{nodes: []node{
		{name: "1.gen", sub: four, flags: FlagNested},
		{name: "2.gen", sub: four, flags: FlagNested},
		{name: "3.gen", sub: four, flags: FlagNested},
	}}).build()

	tests := []struct {
		name  string
		limit int64
		want  int
		err   error
	}{
		{"within limit", 12, 12, nil},
		{"nested entries count", 10, 0, ErrTooManyEntries},
		{"disabled", -1, 12, nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r, err := NewReader(bytes.NewReader(data), int64(len(data)), WithMaxEntries(test.limit))
			if test.err != nil {
				if !errors.Is(err, test.err) {
					t.Fatalf("NewReader() error = %v, want %v", err, test.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewReader() failed: %s", err)
			}
			if got := len(r.Entries()); got != test.want {
				t.Fatalf("Entries() returned %d entries, want %d", got, test.want)
			}
		})
	}
}

func TestReadEntryErrors(t *testing.T) {
	r := openBytes(t, (&tree{nodes: []node{
		{name: "bad.z", payload: []byte("not zlib at all"), size: 100, flags: FlagDeflate},
		{name: "short", payload: []byte{1, 2}, size: 2, flags: FlagPrefix | FlagRaw},
	}}).build())

	entries := r.Entries()
	if _, err := r.ReadEntry(entries[0]); !errors.Is(err, codec.ErrDecode) {
		t.Errorf("ReadEntry(bad.z) error = %v, want codec.ErrDecode", err)
	}
	if _, err := r.ReadEntry(entries[1]); !errors.Is(err, ErrParseCorrupt) {
		t.Errorf("ReadEntry(short) error = %v, want ErrParseCorrupt", err)
	}

	outside := entries[0]
	outside.DataOffset = 1 << 20
	if _, err := r.ReadEntry(outside); !errors.Is(err, ErrParseCorrupt) {
		t.Errorf("ReadEntry(outside) error = %v, want ErrParseCorrupt", err)
	}

	limited := openBytes(t, (&tree{nodes: []node{{name: "big", payload: make([]byte, 64), size: 64, flags: FlagRaw}}}).build(), WithMaxEntrySize(16))
	if _, err := limited.ReadEntry(limited.Entries()[0]); !errors.Is(err, ErrEntryTooLarge) {
		t.Errorf("ReadEntry(big) error = %v, want ErrEntryTooLarge", err)
	}
}

func TestFlags(t *testing.T) {
	if got := (FlagPrefix | FlagDeflate | FlagRaw).Codec(); got != codec.Deflate {
		t.Errorf("Codec() = %s, want deflate", got)
	}
	if got := Flags(0).Codec(); got != codec.Raw {
		t.Errorf("Codec() = %s, want raw", got)
	}
	if got := (FlagToken | FlagShared).String(); got != "token|shared" {
		t.Errorf("String() = %q", got)
	}
}
