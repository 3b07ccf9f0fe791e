// Copyright (C) 2021 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package pixbuf provides a bounds-checked, stride-aware buffer of 8-bit pixels.
package pixbuf

import (
	"errors"
	"fmt"
	"image"

	"github.com/anthonynsimon/bild/clone"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported pixel format")
	ErrInvalidGeometry   = errors.New("invalid buffer geometry")
)

// Memory layout of a pixel
type Format int

const (
	RGB24  Format = iota // 3 channels, 8 bits each, red first
	BGR24                // 3 channels, 8 bits each, blue first (Windows DIB order)
	Gray8                // 1 channel, 8 bits
	RGBA32               // 4 channels, 8 bits each
	RGB48                // 3 channels, 16 bits each
)

var formatNames = map[Format]string{
	RGB24:  "RGB24",
	BGR24:  "BGR24",
	Gray8:  "Gray8",
	RGBA32: "RGBA32",
	RGB48:  "RGB48",
}

func (f Format) String() string {
	if s, ok := formatNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Number of bytes per pixel in the given format
func (f Format) BytesPerPixel() int {
	switch f {
	case RGB24, BGR24:
		return 3
	case Gray8:
		return 1
	case RGBA32:
		return 4
	case RGB48:
		return 6
	}
	return 0
}

// Returns true for the three channel, eight bit formats the tone engine operates on
func (f Format) IsRGB8() bool {
	return f == RGB24 || f == BGR24
}

// Bytes per pixel of all supported formats
const BytesPerPixel = 3

// A rectangular grid of pixels. Row y starts at byte y*Stride of Pix,
// pixel x at byte x*BytesPerPixel of its row. Bytes between the end of a row's
// pixels and the start of the next row are padding.
type Buffer struct {
	Width  int
	Height int
	Stride int
	Format Format
	Pix    []byte
}

// Returns the row stride for the given width, padded to a multiple of four bytes
func AlignedStride(width int) int {
	return (width*BytesPerPixel + 3) &^ 3
}

// Creates a zeroed RGB24 buffer with four byte row alignment
func New(width, height int) *Buffer {
	b, err := NewWithStride(width, height, AlignedStride(width))
	if err != nil {
		panic(err)
	}
	return b
}

// Creates a zeroed RGB24 buffer with the given row stride
func NewWithStride(width, height, stride int) (*Buffer, error) {
	if width < 0 || height < 0 || stride < width*BytesPerPixel {
		return nil, fmt.Errorf("%w: %dx%d with stride %d", ErrInvalidGeometry, width, height, stride)
	}
	return &Buffer{
		Width:  width,
		Height: height,
		Stride: stride,
		Format: RGB24,
		Pix:    make([]byte, minLen(width, height, stride, BytesPerPixel)),
	}, nil
}

// Wraps existing pixel memory without copying. Only the geometry is validated
// here, pixel formats other than RGB24 and BGR24 are rejected by the operations
// consuming the buffer.
func Wrap(pix []byte, width, height, stride int, format Format) (*Buffer, error) {
	bpp := format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	if width < 0 || height < 0 || stride < width*bpp || len(pix) < minLen(width, height, stride, bpp) {
		return nil, fmt.Errorf("%w: %dx%d %v with stride %d and %d bytes", ErrInvalidGeometry, width, height, format, stride, len(pix))
	}
	return &Buffer{Width: width, Height: height, Stride: stride, Format: format, Pix: pix}, nil
}

// Minimum number of bytes holding the given geometry. The last row needs no padding
func minLen(width, height, stride, bpp int) int {
	if width == 0 || height == 0 {
		return 0
	}
	return (height-1)*stride + width*bpp
}

// Returns an error unless the buffer holds three 8-bit channels per pixel
// with consistent geometry
func (b *Buffer) Check() error {
	if !b.Format.IsRGB8() {
		return fmt.Errorf("%w: %v", ErrUnsupportedFormat, b.Format)
	}
	if b.Width < 0 || b.Height < 0 || b.Stride < b.Width*BytesPerPixel ||
		len(b.Pix) < minLen(b.Width, b.Height, b.Stride, BytesPerPixel) {
		return fmt.Errorf("%w: %dx%d with stride %d and %d bytes", ErrInvalidGeometry, b.Width, b.Height, b.Stride, len(b.Pix))
	}
	return nil
}

// Number of pixels
func (b *Buffer) Pixels() int { return b.Width * b.Height }

func (b *Buffer) Bounds() image.Rectangle { return image.Rect(0, 0, b.Width, b.Height) }

func (b *Buffer) DimensionsToString() string { return fmt.Sprintf("%dx%d", b.Width, b.Height) }

// Returns the byte offset of the first channel of pixel (x,y)
func (b *Buffer) PixOffset(x, y int) int {
	if x < 0 || x >= b.Width || y < 0 || y >= b.Height {
		panic(fmt.Sprintf("pixbuf: pixel (%d,%d) outside %dx%d buffer", x, y, b.Width, b.Height))
	}
	return y*b.Stride + x*BytesPerPixel
}

// Returns channel c of pixel (x,y), in storage order
func (b *Buffer) At(x, y, c int) byte {
	return b.Pix[b.PixOffset(x, y)+channel(c)]
}

// Sets channel c of pixel (x,y), in storage order
func (b *Buffer) Set(x, y, c int, v byte) {
	b.Pix[b.PixOffset(x, y)+channel(c)] = v
}

func channel(c int) int {
	if c < 0 || c >= BytesPerPixel {
		panic(fmt.Sprintf("pixbuf: channel %d out of range", c))
	}
	return c
}

// Returns the pixel bytes of row y, excluding padding
func (b *Buffer) Row(y int) []byte {
	if y < 0 || y >= b.Height {
		panic(fmt.Sprintf("pixbuf: row %d outside %dx%d buffer", y, b.Width, b.Height))
	}
	start := y * b.Stride
	return b.Pix[start : start+b.Width*BytesPerPixel : start+b.Width*BytesPerPixel]
}

// Returns red, green and blue of pixel (x,y) regardless of storage order
func (b *Buffer) RGB(x, y int) (r, g, bl byte) {
	o := b.PixOffset(x, y)
	if b.Format == BGR24 {
		return b.Pix[o+2], b.Pix[o+1], b.Pix[o]
	}
	return b.Pix[o], b.Pix[o+1], b.Pix[o+2]
}

// Sets red, green and blue of pixel (x,y) regardless of storage order
func (b *Buffer) SetRGB(x, y int, r, g, bl byte) {
	o := b.PixOffset(x, y)
	if b.Format == BGR24 {
		r, bl = bl, r
	}
	b.Pix[o], b.Pix[o+1], b.Pix[o+2] = r, g, bl
}

// Allocates an empty buffer of the same geometry and format
func (b *Buffer) NewLike() *Buffer {
	return &Buffer{
		Width:  b.Width,
		Height: b.Height,
		Stride: b.Stride,
		Format: b.Format,
		Pix:    make([]byte, len(b.Pix)),
	}
}

// Returns a deep copy, including padding
func (b *Buffer) Clone() *Buffer {
	c := *b
	c.Pix = append([]byte(nil), b.Pix...)
	return &c
}

// Returns true if both buffers have equal dimensions and equal red, green
// and blue values for every pixel. Padding and storage order are ignored.
func (b *Buffer) Equal(o *Buffer) bool {
	if b.Width != o.Width || b.Height != o.Height {
		return false
	}
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			r0, g0, b0 := b.RGB(x, y)
			r1, g1, b1 := o.RGB(x, y)
			if r0 != r1 || g0 != g1 || b0 != b1 {
				return false
			}
		}
	}
	return true
}

// Converts any image into an RGB24 buffer with four byte row alignment.
// Alpha is dropped.
func FromImage(img image.Image) *Buffer {
	rgba := clone.AsRGBA(img)
	width, height := rgba.Rect.Dx(), rgba.Rect.Dy()
	b := New(width, height)
	for y := 0; y < height; y++ {
		src := rgba.Pix[y*rgba.Stride : y*rgba.Stride+width*4]
		dst := b.Row(y)
		for x := 0; x < width; x++ {
			dst[x*3], dst[x*3+1], dst[x*3+2] = src[x*4], src[x*4+1], src[x*4+2]
		}
	}
	return b
}

// Converts the buffer into an opaque Go image, e.g. for encoding
func (b *Buffer) ToRGBA() *image.RGBA {
	img := image.NewRGBA(b.Bounds())
	for y := 0; y < b.Height; y++ {
		dst := img.Pix[y*img.Stride : y*img.Stride+b.Width*4]
		for x := 0; x < b.Width; x++ {
			r, g, bl := b.RGB(x, y)
			dst[x*4], dst[x*4+1], dst[x*4+2], dst[x*4+3] = r, g, bl, 255
		}
	}
	return img
}
