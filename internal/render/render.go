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

// Package render draws tone curves and brightness histograms as raster images.
package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/histogram"
)

// A drawing color with opacity and stroke width
type Pen struct {
	Color colorful.Color
	Alpha uint8
	Width float32
}

func (p Pen) NRGBA() color.NRGBA {
	r, g, b := p.Color.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: p.Alpha}
}

// Colors and strokes for the plots
type Palette struct {
	Background Pen
	Grid       Pen
	Axis       Pen
	Curve      Pen
	Anchor     Pen
	Histogram  Pen
	Label      Pen
}

func mustPen(hex string, alpha uint8, width float32) Pen {
	c, err := colorful.Hex(hex)
	if err != nil {
		panic(err)
	}
	return Pen{Color: c, Alpha: alpha, Width: width}
}

// White plots with light gray grid, black axes, a blue curve, red anchors and gray histogram bars
func DefaultPalette() Palette {
	return Palette{
		Background: mustPen("#ffffff", 255, 0),
		Grid:       mustPen("#d3d3d3", 255, 1),
		Axis:       mustPen("#000000", 255, 1),
		Curve:      mustPen("#0000ff", 255, 1),
		Anchor:     mustPen("#ff0000", 255, 6),
		Histogram:  mustPen("#808080", 80, 2),
		Label:      mustPen("#696969", 255, 0),
	}
}

// Default size of histogram plots
const (
	HistogramWidth  = 450
	HistogramHeight = 200
)

// Draws the histogram with one vertical bar per bucket. Bar heights are
// relative to the largest bucket, which fills the plot height.
func Histogram(h *histogram.Histogram, width, height int, p Palette) *image.RGBA {
	img := newCanvas(width, height, p.Background)
	heights := h.Scaled(height)
	r := vector.NewRasterizer(width, height)
	half := p.Histogram.Width / 2
	for i, bh := range heights {
		if bh <= 0 {
			continue
		}
		x := float32(i*width/histogram.Buckets) + 0.5
		r.Reset(width, height)
		rect(r, x-half, float32(height-bh), x+half, float32(height))
		fill(img, r, p.Histogram)
	}
	return img
}

// Draws the curve through all 256 points on a grid, with dots on the draggable anchors
func Curve(points [curve.Levels]int, box CurveBox, p Palette) *image.RGBA {
	w, h := box.Width, box.Height
	img := newCanvas(w, h, p.Background)
	r := vector.NewRasterizer(w, h)

	// grid
	for i := 0; i < curve.Levels; i += curve.AnchorStep {
		x := float32(i*w/curve.Levels) + 0.5
		y := float32(i*h/curve.Levels) + 0.5
		r.Reset(w, h)
		line(r, x, 0, x, float32(h), p.Grid.Width)
		fill(img, r, p.Grid)
		r.Reset(w, h)
		line(r, 0, y, float32(w), y, p.Grid.Width)
		fill(img, r, p.Grid)
	}

	// axes
	r.Reset(w, h)
	line(r, 0, float32(h)-0.5, float32(w), float32(h)-0.5, p.Axis.Width)
	fill(img, r, p.Axis)
	r.Reset(w, h)
	line(r, 0.5, float32(h), 0.5, 0, p.Axis.Width)
	fill(img, r, p.Axis)

	// curve
	r.Reset(w, h)
	for i := 1; i < curve.Levels; i++ {
		line(r, float32(box.X(i-1))+0.5, float32(box.Y(points[i-1]))+0.5,
			float32(box.X(i))+0.5, float32(box.Y(points[i]))+0.5, p.Curve.Width)
	}
	fill(img, r, p.Curve)

	// anchors
	rad := p.Anchor.Width / 2
	for _, a := range curve.Anchors {
		r.Reset(w, h)
		circle(r, float32(box.X(a))+0.5, float32(box.Y(points[a]))+0.5, rad)
		fill(img, r, p.Anchor)
	}

	label(img, p.Label, 4, 13, "out")
	label(img, p.Label, w-4-3*7, h-4, "in")
	return img
}

func newCanvas(width, height int, bg Pen) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.NewUniform(bg.NRGBA()), image.Point{}, draw.Src)
	return img
}

// Composites the rasterized path onto img with the pen's color and opacity
func fill(img *image.RGBA, r *vector.Rasterizer, p Pen) {
	r.DrawOp = draw.Over
	r.Draw(img, img.Bounds(), image.NewUniform(p.NRGBA()), image.Point{})
}

func rect(r *vector.Rasterizer, x0, y0, x1, y1 float32) {
	r.MoveTo(x0, y0)
	r.LineTo(x1, y0)
	r.LineTo(x1, y1)
	r.LineTo(x0, y1)
	r.ClosePath()
}

// Adds a line of given width as a quadrilateral. All lines drawn left to
// right or top to bottom share the same winding.
func line(r *vector.Rasterizer, x0, y0, x1, y1, width float32) {
	dx, dy := x1-x0, y1-y0
	l := float32(math.Hypot(float64(dx), float64(dy)))
	if l == 0 {
		return
	}
	nx, ny := -dy/l*width/2, dx/l*width/2
	r.MoveTo(x0+nx, y0+ny)
	r.LineTo(x1+nx, y1+ny)
	r.LineTo(x1-nx, y1-ny)
	r.LineTo(x0-nx, y0-ny)
	r.ClosePath()
}

// Adds a circle approximated by four cubic Bézier segments
func circle(r *vector.Rasterizer, cx, cy, rad float32) {
	const k = 0.5522847
	c := k * rad
	r.MoveTo(cx+rad, cy)
	r.CubeTo(cx+rad, cy+c, cx+c, cy+rad, cx, cy+rad)
	r.CubeTo(cx-c, cy+rad, cx-rad, cy+c, cx-rad, cy)
	r.CubeTo(cx-rad, cy-c, cx-c, cy-rad, cx, cy-rad)
	r.CubeTo(cx+c, cy-rad, cx+rad, cy-c, cx+rad, cy)
	r.ClosePath()
}

func label(img *image.RGBA, p Pen, x, y int, s string) {
	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(p.NRGBA()),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
