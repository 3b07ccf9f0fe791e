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

package render

import (
	"github.com/mlnoga/tonecurve/internal/curve"
)

// Maximum horizontal and vertical distance in pixels between a pointer
// and an anchor for the pointer to grab it
const HitTolerance = 10

// Screen geometry of a curve plot. Input levels run left to right,
// output levels bottom to top.
type CurveBox struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var DefaultCurveBox = CurveBox{Width: 450, Height: 300}

// True if the box has no area. Empty boxes map everything to 0.
func (b CurveBox) Empty() bool { return b.Width <= 0 || b.Height <= 0 }

// Horizontal pixel position of an input level
func (b CurveBox) X(level int) int {
	return level * b.Width / curve.Levels
}

// Vertical pixel position of an output level
func (b CurveBox) Y(level int) int {
	if b.Empty() {
		return 0
	}
	return b.Height - 1 - level*b.Height/curve.Levels
}

// Output level for a vertical pixel position, clamped to [0,255]
func (b CurveBox) LevelAt(y int) int {
	if b.Empty() {
		return 0
	}
	level := (b.Height - 1 - y) * curve.Levels / b.Height
	if level < 0 {
		return 0
	}
	if level > curve.MaxLevel {
		return curve.MaxLevel
	}
	return level
}

// Returns the first anchor, in ascending order, within HitTolerance of (x,y)
func (b CurveBox) AnchorAt(x, y int, points [curve.Levels]int) (index int, ok bool) {
	for _, a := range curve.Anchors {
		if abs(x-b.X(a)) < HitTolerance && abs(y-b.Y(points[a])) < HitTolerance {
			return a, true
		}
	}
	return -1, false
}

func abs(i int) int {
	if i < 0 {
		return -i
	}
	return i
}
