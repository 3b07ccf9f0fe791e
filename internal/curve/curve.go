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

// Package curve implements a piecewise linear tone curve over 8-bit levels,
// controlled by a small set of draggable anchors.
package curve

import (
	"fmt"
	"strings"
)

const (
	Levels      = 256 // Number of input levels
	MaxLevel    = 255 // Highest output level
	AnchorStep  = 32  // Distance between adjacent anchors
	NumAnchors  = 8   // Number of draggable anchors
	BoundaryIdx = 255 // Fixed boundary point closing the last segment
)

// Anchors lists the draggable input levels in ascending order
var Anchors = [NumAnchors]int{0, 32, 64, 96, 128, 160, 192, 224}

// Returns true if index is one of the draggable anchors
func IsAnchor(index int) bool {
	return index >= 0 && index < BoundaryIdx && index%AnchorStep == 0
}

// Interpolation selects how blended values between anchors are converted to integer levels
type Interpolation int

const (
	Truncate Interpolation = iota // truncate toward zero, bit-identical with the original tool
	Round                         // round to nearest level
)

func (ip Interpolation) String() string {
	switch ip {
	case Truncate:
		return "truncate"
	case Round:
		return "round"
	}
	return fmt.Sprintf("Interpolation(%d)", int(ip))
}

// Parses an interpolation policy name. The empty string selects the default
func ParseInterpolation(s string) (Interpolation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "truncate", "trunc":
		return Truncate, nil
	case "round":
		return Round, nil
	}
	return Truncate, fmt.Errorf("unknown interpolation '%s', expecting truncate or round", s)
}

func (ip Interpolation) MarshalText() ([]byte, error) {
	return []byte(ip.String()), nil
}

func (ip *Interpolation) UnmarshalText(text []byte) error {
	v, err := ParseInterpolation(string(text))
	if err != nil {
		return err
	}
	*ip = v
	return nil
}

// A tone curve mapping input levels to output levels.
//
// A Curve is not safe for concurrent use. Hosts with more than one goroutine
// must serialize MoveAnchor and Reset against readers, or hand out Clone()s.
type Curve struct {
	points        [Levels]int
	interpolation Interpolation
}

// Creates an identity curve with truncating interpolation
func New() *Curve {
	return NewWithInterpolation(Truncate)
}

// Creates an identity curve with the given interpolation policy
func NewWithInterpolation(ip Interpolation) *Curve {
	c := &Curve{interpolation: ip}
	c.Init()
	return c
}

// Sets the curve to identity
func (c *Curve) Init() {
	for i := range c.points {
		c.points[i] = i
	}
}

// Resets the curve to identity. The interpolation policy is kept
func (c *Curve) Reset() {
	c.Init()
}

func (c *Curve) Interpolation() Interpolation { return c.interpolation }

// Changes the interpolation policy and recomputes every segment from the
// current anchor levels
func (c *Curve) SetInterpolation(ip Interpolation) {
	if ip == c.interpolation {
		return
	}
	c.interpolation = ip
	for i, a := range Anchors {
		next := BoundaryIdx
		if i+1 < len(Anchors) {
			next = Anchors[i+1]
		}
		c.interpolate(a, next)
	}
}

// Returns a copy of all 256 output levels
func (c *Curve) Points() [Levels]int { return c.points }

// Returns the output level for input level i
func (c *Curve) At(i int) int { return c.points[i] }

// Returns the current output levels of the draggable anchors, in ascending order
func (c *Curve) AnchorLevels() (levels [NumAnchors]int) {
	for i, a := range Anchors {
		levels[i] = c.points[a]
	}
	return levels
}

// Returns true if the curve maps every level onto itself
func (c *Curve) IsIdentity() bool {
	for i, p := range c.points {
		if p != i {
			return false
		}
	}
	return true
}

func (c *Curve) Clone() *Curve {
	cc := *c
	return &cc
}

// Moves the anchor at index to the given level and re-interpolates the two
// segments adjacent to it. Indices which are not anchors are ignored, and the
// return value is false. Levels are clamped to [0,255].
func (c *Curve) MoveAnchor(index, level int) bool {
	if !IsAnchor(index) {
		return false
	}
	c.points[index] = clamp(level)

	prev := index - AnchorStep
	if prev < 0 {
		prev = 0
	}
	next := index + AnchorStep
	if next > BoundaryIdx {
		next = BoundaryIdx
	}

	if prev != index {
		c.interpolate(prev, index)
	}
	c.interpolate(index, next)
	return true
}

// Linearly interpolates all points strictly between from and to, keeping both ends
func (c *Curve) interpolate(from, to int) {
	lo, hi := c.points[from], c.points[to]
	span := float32(to - from)
	for i := from + 1; i < to; i++ {
		t := float32(i-from) / span
		// explicit conversion prevents fused multiply-add, keeps results identical across architectures
		v := float32(lo) + float32(t*float32(hi-lo))
		c.points[i] = c.toLevel(v)
	}
}

func (c *Curve) toLevel(v float32) int {
	if c.interpolation == Round {
		v += 0.5
	}
	return clamp(int(v))
}

func clamp(level int) int {
	if level < 0 {
		return 0
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
