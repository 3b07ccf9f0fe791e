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

package lut

import (
	"github.com/mlnoga/tonecurve/internal/curve"
)

// A dense lookup table from input level to output level
type Table [curve.Levels]uint8

// Flattens the given curve into a lookup table. The curve must not be
// modified concurrently.
func Build(c *curve.Curve) Table {
	return FromLevels(c.Points())
}

// Converts an array of output levels into a lookup table, clamping to [0,255]
func FromLevels(levels [curve.Levels]int) (t Table) {
	for i, l := range levels {
		if l < 0 {
			l = 0
		} else if l > curve.MaxLevel {
			l = curve.MaxLevel
		}
		t[i] = uint8(l)
	}
	return t
}

// Returns the lookup table which maps every level onto itself
func Identity() (t Table) {
	for i := range t {
		t[i] = uint8(i)
	}
	return t
}

func (t *Table) IsIdentity() bool {
	for i, v := range t {
		if int(v) != i {
			return false
		}
	}
	return true
}
