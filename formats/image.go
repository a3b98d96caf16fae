// Copyright IBM Corp. 2023, 2025
// SPDX-License-Identifier: MPL-2.0

package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/anthonynsimon/bild/transform"
	"github.com/hashicorp/go-carve/codec"
	"golang.org/x/image/bmp"
)

// ErrInvalidImage is returned if a pixel plane header is not usable.
var ErrInvalidImage = errors.New("invalid image")

// ImageFormat is the file format images are written in.
type ImageFormat string

const (
	FormatPNG ImageFormat = "png"
	FormatBMP ImageFormat = "bmp"
)

// maxImageSide bounds width and height of decoded planes.
const maxImageSide = 16384

// paletteSize is the size of a 256 entry RGBA palette.
const paletteSize = 256 * 4

// ImageSpec locates the dimensions and pixel data of an RLE coded plane.
// Width and height are little-endian 16-bit values.
type ImageSpec struct {
	WidthOffset  int
	HeightOffset int

	// HeaderSize is the offset of the pixel data.
	HeaderSize int

	// PaletteOffset locates a 256 entry RGBA palette for 8-bit planes.
	// A negative value renders 8-bit planes as greyscale.
	PaletteOffset int

	// FlipVertical is set for planes stored bottom up.
	FlipVertical bool

	Format ImageFormat
}

// Check verifies the image layout.
func (s *ImageSpec) Check() error {
	if s.WidthOffset < 0 || s.HeightOffset < 0 || s.HeaderSize < 0 {
		return fmt.Errorf("%w: negative offset", ErrInvalidImage)
	}
	switch s.Format {
	case FormatPNG, FormatBMP:
	default:
		return fmt.Errorf("%w: unknown format %q", ErrInvalidImage, s.Format)
	}
	return nil
}

// Ext returns the file extension of the image format.
func (s *ImageSpec) Ext() string {
	return string(s.Format)
}

// bytesPerPixel returns the decoded pixel size of k.
func bytesPerPixel(k codec.Kind) (int, error) {
	switch k {
	case codec.Rle8:
		return 1, nil
	case codec.Raw, codec.Rle32, codec.RleLong, codec.RleGreyscale:
		return 4, nil
	}
	return 0, fmt.Errorf("%w: codec %s does not produce pixels", ErrInvalidImage, k)
}

// Decode reads the dimensions from asset, decodes the pixel data with k and
// returns the plane as image.
func (s *ImageSpec) Decode(asset []byte, k codec.Kind) (image.Image, error) {
	bpp, err := bytesPerPixel(k)
	if err != nil {
		return nil, err
	}
	if s.WidthOffset+2 > len(asset) || s.HeightOffset+2 > len(asset) || s.HeaderSize > len(asset) {
		return nil, fmt.Errorf("%w: header exceeds asset", ErrInvalidImage)
	}
	w := int(binary.LittleEndian.Uint16(asset[s.WidthOffset:]))
	h := int(binary.LittleEndian.Uint16(asset[s.HeightOffset:]))
	if w == 0 || h == 0 || w > maxImageSide || h > maxImageSide {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidImage, w, h)
	}

	pix, err := codec.Decode(codec.Request{Input: asset[s.HeaderSize:], DeclaredSize: w * h * bpp, Kind: k})
	if err != nil {
		return nil, err
	}

	rect := image.Rect(0, 0, w, h)
	var img image.Image
	switch {
	case bpp == 4:
		img = &image.RGBA{Pix: pix, Stride: w * 4, Rect: rect}
	case s.PaletteOffset >= 0:
		if s.PaletteOffset+paletteSize > len(asset) {
			return nil, fmt.Errorf("%w: palette exceeds asset", ErrInvalidImage)
		}
		img = &image.Paletted{Pix: pix, Stride: w, Rect: rect, Palette: readPalette(asset[s.PaletteOffset:])}
	default:
		img = &image.Gray{Pix: pix, Stride: w, Rect: rect}
	}

	if s.FlipVertical {
		img = transform.FlipV(img)
	}
	return img, nil
}

func readPalette(b []byte) color.Palette {
	p := make(color.Palette, 256)
	for i := range p {
		c := b[i*4 : i*4+4]
		p[i] = color.NRGBA{R: c[0], G: c[1], B: c[2], A: c[3]}
	}
	return p
}

// Encode writes img in the configured format.
func (s *ImageSpec) Encode(w io.Writer, img image.Image) error {
	switch s.Format {
	case FormatBMP:
		return bmp.Encode(w, img)
	default:
		return imgio.PNGEncoder()(w, img)
	}
}
