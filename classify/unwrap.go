// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package classify

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// ErrNotCompressed is returned by [Unwrap] for an explicit method that is not
// a known decompressor.
var ErrNotCompressed = errors.New("no decompressor")

// UnwrapAuto detects the compression layer from the leading bytes.
const UnwrapAuto = "auto"

// brotli streams carry no magic bytes, they are only unwrapped on request.
var brotliType = Type{Name: "brotli", Ext: "br", Class: ClassCompressed}

// decompressionFunc returns a reader of the decompressed content of src.
type decompressionFunc func(io.Reader) (io.Reader, error)

var decompressors = map[string]decompressionFunc{
	"gzip": func(src io.Reader) (io.Reader, error) {
		return gzip.NewReader(src)
	},
	"zlib": func(src io.Reader) (io.Reader, error) {
		return zlib.NewReader(src)
	},
	"zstd": func(src io.Reader) (io.Reader, error) {
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
	"xz": func(src io.Reader) (io.Reader, error) {
		return xz.NewReader(src)
	},
	"bzip2": func(src io.Reader) (io.Reader, error) {
		return bzip2.NewReader(src), nil
	},
	"lz4": func(src io.Reader) (io.Reader, error) {
		return lz4.NewReader(src), nil
	},
	"snappy": func(src io.Reader) (io.Reader, error) {
		return snappy.NewReader(src), nil
	},
	"brotli": func(src io.Reader) (io.Reader, error) {
		return brotli.NewReader(src), nil
	},
}

// Compressed reports whether name is a decompressor known to [Unwrap].
func Compressed(name string) bool {
	_, ok := decompressors[name]
	return ok
}

// Unwrapped is the result of [Unwrap].
type Unwrapped struct {
	io.Reader

	// Type classifies the content of Reader.
	Type Type

	// Layer names the removed compression, empty if nothing was removed.
	Layer string

	closer io.Reader
}

// Close releases the decompressor.
func (u *Unwrapped) Close() error {
	if c, ok := u.closer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Unwrap removes one compression layer from src. With method [UnwrapAuto] the
// layer is detected from the leading bytes and src is passed through when
// no compression is found. An empty method only classifies src. Any other method names the decompressor, e.g.
// "brotli". The decompressed stream fails with [ErrLimitExceeded] once it
// exceeds maxSize bytes, -1 disables the limit.
func Unwrap(src io.Reader, method string, maxSize int64) (*Unwrapped, error) {
	layer := method
	if method == UnwrapAuto || method == "" {
		hr, err := newHeaderReader(src, MaxHeaderLength)
		if err != nil {
			return nil, err
		}
		t := Detect(hr.PeekHeader())
		if method == "" || !Compressed(t.Name) {
			return &Unwrapped{Reader: hr, Type: t}, nil
		}
		layer, src = t.Name, hr
	}

	decFunc, ok := decompressors[layer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotCompressed, layer)
	}
	stream, err := decFunc(src)
	if err != nil {
		return nil, fmt.Errorf("cannot start %s decompression: %w", layer, err)
	}

	hr, err := newHeaderReader(newLimitErrorReader(stream, maxSize), MaxHeaderLength)
	if err != nil {
		if c, ok := stream.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("cannot read uncompressed header: %w", err)
	}
	return &Unwrapped{Reader: hr, Type: Detect(hr.PeekHeader()), Layer: layer, closer: stream}, nil
}
