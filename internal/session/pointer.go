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

package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/render"
)

var ErrUnknownAction = errors.New("unknown pointer action")

// Pointer actions. The zero value is not a valid action, so requests
// without one are rejected.
type PointerAction int

const (
	PointerDown PointerAction = iota + 1
	PointerMove
	PointerUp
)

func (a PointerAction) String() string {
	switch a {
	case PointerDown:
		return "down"
	case PointerMove:
		return "move"
	case PointerUp:
		return "up"
	}
	return fmt.Sprintf("PointerAction(%d)", int(a))
}

func ParsePointerAction(s string) (PointerAction, error) {
	switch strings.ToLower(s) {
	case "down":
		return PointerDown, nil
	case "move":
		return PointerMove, nil
	case "up":
		return PointerUp, nil
	}
	return 0, fmt.Errorf("%w '%s', expecting down, move or up", ErrUnknownAction, s)
}

func (a PointerAction) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *PointerAction) UnmarshalText(text []byte) (err error) {
	*a, err = ParsePointerAction(string(text))
	return err
}

// Tracks a drag on the curve plot. Pressing near an anchor grabs it,
// moving while grabbed reports the level under the pointer, and releasing
// lets go. Horizontal movement is ignored while dragging.
type Pointer struct {
	Box     render.CurveBox
	grabbed int
}

// Uses the default box if the given one is empty
func NewPointer(box render.CurveBox) Pointer {
	if box.Empty() {
		box = render.DefaultCurveBox
	}
	return Pointer{Box: box, grabbed: -1}
}

// Grabs the first anchor near (x,y), if any
func (p *Pointer) Down(x, y int, points [curve.Levels]int) (index int, ok bool) {
	p.grabbed, ok = p.Box.AnchorAt(x, y, points)
	return p.grabbed, ok
}

// Returns the grabbed anchor and the level for vertical position y
func (p *Pointer) Move(y int) (index, level int, ok bool) {
	if p.grabbed < 0 {
		return -1, 0, false
	}
	return p.grabbed, p.Box.LevelAt(y), true
}

func (p *Pointer) Up() { p.grabbed = -1 }

// The grabbed anchor, if any
func (p *Pointer) Anchor() (index int, ok bool) {
	return p.grabbed, p.grabbed >= 0
}
