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

package transform

import (
	"bytes"
	"errors"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/lut"
	"github.com/mlnoga/tonecurve/internal/pixbuf"
)

const padByte = 0xab

// Returns a buffer with random pixels and padding bytes set to padByte
func randomBuffer(rng *fastrand.RNG, width, height, stride int) *pixbuf.Buffer {
	b, err := pixbuf.NewWithStride(width, height, stride)
	if err != nil {
		panic(err)
	}
	for i := range b.Pix {
		b.Pix[i] = padByte
	}
	for y := 0; y < height; y++ {
		row := b.Row(y)
		for i := range row {
			row[i] = byte(rng.Uint32n(256))
		}
	}
	return b
}

func TestIdentityCurveIsNoOp(t *testing.T) {
	rng := fastrand.RNG{}
	table := lut.Build(curve.New())
	for _, dims := range [][3]int{{1, 1, 3}, {7, 5, 24}, {33, 17, 100}, {64, 3, 192}} {
		src := randomBuffer(&rng, dims[0], dims[1], dims[2])
		dst, err := Apply(src, table)
		if err != nil {
			t.Fatalf("Apply()=%v; want nil", err)
		}
		if !dst.Equal(src) {
			t.Errorf("%dx%d stride %d: identity transform changed pixels", dims[0], dims[1], dims[2])
		}
	}
}

func TestBrightening(t *testing.T) {
	var levels [curve.Levels]int
	for i := range levels {
		levels[i] = i + 50
		if levels[i] > 255 {
			levels[i] = 255
		}
	}
	table := lut.FromLevels(levels)

	src := pixbuf.New(2, 1)
	src.SetRGB(0, 0, 10, 10, 10)
	src.SetRGB(1, 0, 200, 200, 200)
	dst, err := Apply(src, table)
	if err != nil {
		t.Fatalf("Apply()=%v; want nil", err)
	}
	if r, g, b := dst.RGB(0, 0); r != 60 || g != 60 || b != 60 {
		t.Errorf("pixel 0 = (%d,%d,%d); want (60,60,60)", r, g, b)
	}
	if r, g, b := dst.RGB(1, 0); r != 250 || g != 250 || b != 250 {
		t.Errorf("pixel 1 = (%d,%d,%d); want (250,250,250)", r, g, b)
	}
}

func TestAllChannelsUseSameTable(t *testing.T) {
	c := curve.New()
	c.MoveAnchor(128, 255)
	table := lut.Build(c)

	src := pixbuf.New(1, 1)
	src.SetRGB(0, 0, 100, 128, 140)
	for _, format := range []pixbuf.Format{pixbuf.RGB24, pixbuf.BGR24} {
		src.Format = format
		dst, err := Apply(src, table)
		if err != nil {
			t.Fatalf("Apply(%v)=%v; want nil", format, err)
		}
		for ch := 0; ch < 3; ch++ {
			if got, want := dst.At(0, 0, ch), table[src.At(0, 0, ch)]; got != want {
				t.Errorf("%v channel %d = %d; want %d", format, ch, got, want)
			}
		}
	}
}

func TestStridePaddingUntouched(t *testing.T) {
	rng := fastrand.RNG{}
	width, height, stride := 5, 4, 23
	src := randomBuffer(&rng, width, height, stride)
	orig := src.Clone()

	c := curve.New()
	c.MoveAnchor(64, 0)
	table := lut.Build(c)

	dst, err := Apply(src, table)
	if err != nil {
		t.Fatalf("Apply()=%v; want nil", err)
	}
	if !bytes.Equal(src.Pix, orig.Pix) {
		t.Errorf("Apply() modified its source")
	}
	if dst.Stride != stride || len(dst.Pix) != len(src.Pix) {
		t.Errorf("result stride %d len %d; want %d, %d", dst.Stride, len(dst.Pix), stride, len(src.Pix))
	}
	for y := 0; y < height; y++ {
		for i := 0; i < width*3; i++ {
			if got, want := dst.Pix[y*stride+i], table[src.Pix[y*stride+i]]; got != want {
				t.Errorf("row %d byte %d = %d; want %d", y, i, got, want)
			}
		}
		for i := width * 3; i < stride && y*stride+i < len(dst.Pix); i++ {
			if dst.Pix[y*stride+i] != 0 {
				t.Errorf("row %d padding byte %d = %d; want 0", y, i, dst.Pix[y*stride+i])
			}
		}
	}

	// writing into an existing buffer must preserve its padding
	into := randomBuffer(&rng, width, height, stride)
	if err := ApplyInto(into, src, table); err != nil {
		t.Fatalf("ApplyInto()=%v; want nil", err)
	}
	for y := 0; y < height-1; y++ {
		for i := width * 3; i < stride; i++ {
			if into.Pix[y*stride+i] != padByte {
				t.Errorf("row %d padding byte %d = %d; want %d", y, i, into.Pix[y*stride+i], padByte)
			}
		}
	}
	if !into.Equal(dst) {
		t.Errorf("ApplyInto() and Apply() disagree")
	}
}

func TestEmptyBuffer(t *testing.T) {
	for _, dims := range [][2]int{{0, 0}, {0, 5}, {5, 0}} {
		src := pixbuf.New(dims[0], dims[1])
		dst, err := Apply(src, lut.Identity())
		if err != nil {
			t.Errorf("Apply(%dx%d)=%v; want nil", dims[0], dims[1], err)
			continue
		}
		if dst.Width != dims[0] || dst.Height != dims[1] {
			t.Errorf("Apply(%dx%d) gives %dx%d", dims[0], dims[1], dst.Width, dst.Height)
		}
	}
}

func TestUnsupportedFormat(t *testing.T) {
	src, err := pixbuf.Wrap(make([]byte, 16), 2, 2, 8, pixbuf.RGBA32)
	if err != nil {
		t.Fatalf("Wrap()=%v; want nil", err)
	}
	if _, err := Apply(src, lut.Identity()); !errors.Is(err, pixbuf.ErrUnsupportedFormat) {
		t.Errorf("Apply(RGBA32) err=%v; want ErrUnsupportedFormat", err)
	}
}

func TestApplyIntoMismatch(t *testing.T) {
	if err := ApplyInto(pixbuf.New(2, 2), pixbuf.New(3, 2), lut.Identity()); !errors.Is(err, pixbuf.ErrInvalidGeometry) {
		t.Errorf("ApplyInto(mismatch) err=%v; want ErrInvalidGeometry", err)
	}
}
