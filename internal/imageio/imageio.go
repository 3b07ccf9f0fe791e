// Copyright (C) 2020 Markus L. Noga
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

// Package imageio reads and writes 8-bit color images in common file formats.
package imageio

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/anthonynsimon/bild/transform"
	"github.com/h2non/filetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/mlnoga/tonecurve/internal/pixbuf"
)

var ErrUnknownFormat = errors.New("unknown image format")

// Number of leading bytes needed to identify a file format
const headerSize = 261

// File formats understood by Sniff and Decode, as extensions
var decodable = map[string]bool{
	"jpg": true, "png": true, "gif": true, "bmp": true, "tif": true, "webp": true,
}

// Identifies the image format from the leading bytes of a file,
// returning its canonical extension
func Sniff(header []byte) (string, error) {
	kind, err := filetype.Match(header)
	if err != nil {
		return "", err
	}
	if kind == filetype.Unknown || !decodable[kind.Extension] {
		return "", ErrUnknownFormat
	}
	return kind.Extension, nil
}

// Decodes an image from the reader into a new pixel buffer. Returns the
// buffer and the canonical extension of the detected format.
func Decode(r io.Reader) (buf *pixbuf.Buffer, format string, err error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(headerSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", err
	}
	if format, err = Sniff(header); err != nil {
		return nil, "", err
	}
	img, _, err := image.Decode(br)
	if err != nil {
		return nil, "", fmt.Errorf("decoding %s: %w", format, err)
	}
	return pixbuf.FromImage(img), format, nil
}

// Loads an image file into a new pixel buffer
func Load(fileName string) (*pixbuf.Buffer, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	buf, _, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return buf, nil
}

// Output format from the suffix of a file name
func FormatFromFileName(fileName string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), ".")
	switch ext {
	case "jpg", "jpeg":
		return "jpg", nil
	case "png", "bmp", "gif":
		return ext, nil
	case "tif", "tiff":
		return "tif", nil
	}
	return "", fmt.Errorf("%w: suffix %q", ErrUnknownFormat, filepath.Ext(fileName))
}

// Encodes an image in the given format. Quality applies to JPEG only.
func Encode(w io.Writer, img image.Image, format string, quality int) error {
	switch format {
	case "jpg", "jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case "png":
		return png.Encode(w, img)
	case "bmp":
		return bmp.Encode(w, img)
	case "tif", "tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case "gif":
		return gif.Encode(w, img, nil)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Writes an image to file, choosing the format by file name suffix
func Save(fileName string, img image.Image, quality int) error {
	format, err := FormatFromFileName(fileName)
	if err != nil {
		return err
	}
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err = Encode(writer, img, format, quality); err != nil {
		return err
	}
	return writer.Flush()
}

// Writes a pixel buffer to file, choosing the format by file name suffix
func SaveBuffer(fileName string, buf *pixbuf.Buffer, quality int) error {
	if err := buf.Check(); err != nil {
		return err
	}
	return Save(fileName, buf.ToRGBA(), quality)
}

// Encodes an image as PNG into a byte slice
func PNGBytes(img image.Image) ([]byte, error) {
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Size of an image whose larger side is maxSize, preserving the aspect ratio
func FitSize(size image.Point, maxSize int) image.Point {
	if size.X <= maxSize && size.Y <= maxSize {
		return size
	}
	if size.X > size.Y {
		return image.Point{X: maxSize, Y: max(1, size.Y*maxSize/size.X)}
	}
	return image.Point{X: max(1, size.X*maxSize/size.Y), Y: maxSize}
}

// Downscales an image so its larger side is at most maxSize pixels.
// Smaller images and non-positive sizes return the image unchanged.
func Preview(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	size := img.Bounds().Size()
	target := FitSize(size, maxSize)
	if target == size {
		return img
	}
	return transform.Resize(img, target.X, target.Y, transform.Linear)
}
