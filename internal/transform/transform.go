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
	"fmt"

	"github.com/mlnoga/tonecurve/internal/lut"
	"github.com/mlnoga/tonecurve/internal/pixbuf"
)

// Maps every channel of every pixel of src through the lookup table, returning a
// newly allocated buffer of the same geometry and format. The same table drives
// red, green and blue. src is not modified. Padding bytes of the result are zero.
func Apply(src *pixbuf.Buffer, table lut.Table) (*pixbuf.Buffer, error) {
	if err := src.Check(); err != nil {
		return nil, err
	}
	dst := src.NewLike()
	applyRows(dst, src, &table)
	return dst, nil
}

// Like Apply, but writes into an existing buffer of identical geometry.
// Only the first Width*3 bytes of each row are written, padding is left untouched.
// dst and src must not overlap.
func ApplyInto(dst, src *pixbuf.Buffer, table lut.Table) error {
	if err := src.Check(); err != nil {
		return err
	}
	if err := dst.Check(); err != nil {
		return err
	}
	if dst.Width != src.Width || dst.Height != src.Height || dst.Format != src.Format {
		return fmt.Errorf("%w: destination %dx%d %v does not match source %dx%d %v", pixbuf.ErrInvalidGeometry,
			dst.Width, dst.Height, dst.Format, src.Width, src.Height, src.Format)
	}
	applyRows(dst, src, &table)
	return nil
}

func applyRows(dst, src *pixbuf.Buffer, table *lut.Table) {
	if src.Width == 0 {
		return
	}
	for y := 0; y < src.Height; y++ {
		in, out := src.Row(y), dst.Row(y)
		for i, v := range in {
			out[i] = table[v]
		}
	}
}
