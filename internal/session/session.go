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

// Package session holds interactive tone curve edits of a single image.
//
// Every edit re-renders the untouched original through a fresh lookup table
// and recomputes the histogram of the result. Rendered buffers are replaced,
// never modified, so readers may keep using a buffer obtained earlier.
package session

import (
	"sync"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/histogram"
	"github.com/mlnoga/tonecurve/internal/lut"
	"github.com/mlnoga/tonecurve/internal/pixbuf"
	"github.com/mlnoga/tonecurve/internal/preset"
	"github.com/mlnoga/tonecurve/internal/render"
	"github.com/mlnoga/tonecurve/internal/transform"
)

// An image being edited with a tone curve. Safe for concurrent use.
type Session struct {
	ID       string
	FileName string

	mu        sync.RWMutex
	original  *pixbuf.Buffer
	current   *pixbuf.Buffer
	curve     *curve.Curve
	histogram histogram.Histogram
	pointer   Pointer
	version   uint64
}

// Point-in-time view of a session, for display and JSON
type Snapshot struct {
	ID            string                `json:"id"`
	FileName      string                `json:"fileName"`
	Width         int                   `json:"width"`
	Height        int                   `json:"height"`
	Version       uint64                `json:"version"`
	Changed       bool                  `json:"changed"`
	Interpolation curve.Interpolation   `json:"interpolation"`
	Points        [curve.Levels]int     `json:"points"`
	Anchors       [curve.NumAnchors]int `json:"anchors"`
	Histogram     histogram.Histogram   `json:"histogram"`
	Dragging      int                   `json:"dragging"`
}

// Starts a session on the original image with an identity curve. The session
// takes ownership of the buffer, which must not be modified afterwards.
func New(id, fileName string, original *pixbuf.Buffer, ip curve.Interpolation) (*Session, error) {
	if err := original.Check(); err != nil {
		return nil, err
	}
	s := &Session{
		ID:       id,
		FileName: fileName,
		original: original,
		curve:    curve.NewWithInterpolation(ip),
		pointer:  NewPointer(render.DefaultCurveBox),
	}
	if err := s.render(); err != nil {
		return nil, err
	}
	return s, nil
}

// Re-renders the original through the current curve. Caller holds the write lock.
func (s *Session) render() error {
	current, err := transform.Apply(s.original, lut.Build(s.curve))
	if err != nil {
		return err
	}
	h, err := histogram.Reduce(current)
	if err != nil {
		return err
	}
	s.current, s.histogram = current, h
	s.version++
	return nil
}

// Moves an anchor to a new level and re-renders the image. Returns false
// without re-rendering if the index is not an anchor or the level is unchanged.
func (s *Session) OnAnchorDragged(index, level int) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveAnchor(index, level)
}

func (s *Session) moveAnchor(index, level int) (bool, error) {
	if !curve.IsAnchor(index) {
		return false, nil
	}
	before := s.curve.At(index)
	s.curve.MoveAnchor(index, level)
	if s.curve.At(index) == before {
		return false, nil
	}
	return true, s.render()
}

// Restores the identity curve and the original image
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.curve.Reset()
	s.pointer.Up()
	return s.render()
}

// Replaces the curve with a preset and re-renders
func (s *Session) ApplyPreset(p *preset.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := p.ApplyTo(s.curve); err != nil {
		return err
	}
	return s.render()
}

// Captures the current curve as a preset
func (s *Session) Preset() *preset.Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := preset.FromCurve(s.curve)
	p.Name = s.FileName
	return p
}

// Feeds a pointer event on the curve plot into the session. Returns true
// if it moved an anchor.
func (s *Session) OnPointer(action PointerAction, x, y int) (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch action {
	case PointerDown:
		s.pointer.Down(x, y, s.curve.Points())
	case PointerMove:
		if index, level, ok := s.pointer.Move(y); ok {
			return s.moveAnchor(index, level)
		}
	case PointerUp:
		s.pointer.Up()
	default:
		return false, ErrUnknownAction
	}
	return false, nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dragging, ok := s.pointer.Anchor()
	if !ok {
		dragging = -1
	}
	return Snapshot{
		ID:            s.ID,
		FileName:      s.FileName,
		Width:         s.original.Width,
		Height:        s.original.Height,
		Version:       s.version,
		Interpolation: s.curve.Interpolation(),
		Points:        s.curve.Points(),
		Anchors:       s.curve.AnchorLevels(),
		Histogram:     s.histogram,
		Dragging:      dragging,
	}
}

// The most recent rendering. The buffer is never modified.
func (s *Session) Current() *pixbuf.Buffer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Session) Original() *pixbuf.Buffer { return s.original }

func (s *Session) Histogram() histogram.Histogram {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.histogram
}

// Copy of the curve, safe to use without holding the session
func (s *Session) Curve() *curve.Curve {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.curve.Clone()
}

// Approximate memory held by the session's pixel buffers
func (s *Session) Size() int64 {
	return 2 * int64(len(s.original.Pix))
}
