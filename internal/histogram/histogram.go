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

package histogram

import (
	"github.com/mlnoga/tonecurve/internal/pixbuf"
)

// Number of brightness buckets
const Buckets = 256

// Pixel counts per brightness bucket
type Histogram [Buckets]int

// Calculates the brightness histogram of the buffer, with brightness
// being the integer average of red, green and blue. Padding is not read.
func Reduce(buf *pixbuf.Buffer) (h Histogram, err error) {
	if err = buf.Check(); err != nil {
		return h, err
	}
	if buf.Width == 0 {
		return h, nil
	}
	for y := 0; y < buf.Height; y++ {
		row := buf.Row(y)
		for i := 0; i < len(row); i += pixbuf.BytesPerPixel {
			sum := int(row[i]) + int(row[i+1]) + int(row[i+2])
			h[sum/3]++
		}
	}
	return h, nil
}

// Total number of pixels counted
func (h *Histogram) Total() int {
	total := 0
	for _, c := range h {
		total += c
	}
	return total
}

// Largest bucket count, but at least 1 so it can be used as a divisor
func (h *Histogram) Max() int {
	max := 1
	for _, c := range h {
		if c > max {
			max = c
		}
	}
	return max
}

// Scales bucket counts to the given display height, relative to the largest bucket
func (h *Histogram) Scaled(height int) (s [Buckets]int) {
	max := float64(h.Max())
	for i, c := range h {
		s[i] = int(float64(height*c) / max)
	}
	return s
}
