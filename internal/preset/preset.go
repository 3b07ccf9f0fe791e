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

// Package preset stores tone curves as TOML files.
//
// A preset lists the anchor positions that differ from the identity curve:
//
//	interpolation = "truncate"
//
//	[[anchor]]
//	index = 128
//	level = 200
package preset

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/mlnoga/tonecurve/internal/curve"
)

var ErrInvalidAnchor = errors.New("not an anchor index")

// A single anchor position
type Anchor struct {
	Index int `toml:"index" json:"index"`
	Level int `toml:"level" json:"level"`
}

func (a Anchor) String() string { return fmt.Sprintf("%d:%d", a.Index, a.Level) }

// A tone curve preset
type Preset struct {
	Name          string              `toml:"name,omitempty" json:"name,omitempty"`
	Interpolation curve.Interpolation `toml:"interpolation" json:"interpolation"`
	Anchors       []Anchor            `toml:"anchor" json:"anchors"`
}

// Checks that all anchor indices are draggable anchors. Levels are clamped when applied.
func (p *Preset) Validate() error {
	for _, a := range p.Anchors {
		if !curve.IsAnchor(a.Index) {
			return fmt.Errorf("%w: %d", ErrInvalidAnchor, a.Index)
		}
	}
	return nil
}

// Resets the curve to identity with the preset's interpolation and moves the
// listed anchors. Later entries for the same anchor win.
func (p *Preset) ApplyTo(c *curve.Curve) error {
	if err := p.Validate(); err != nil {
		return err
	}
	c.SetInterpolation(p.Interpolation)
	c.Reset()
	for _, a := range p.Anchors {
		c.MoveAnchor(a.Index, a.Level)
	}
	return nil
}

// Builds a new curve from the preset
func (p *Preset) Curve() (*curve.Curve, error) {
	c := curve.NewWithInterpolation(p.Interpolation)
	if err := p.ApplyTo(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Captures the anchors of a curve which differ from the identity
func FromCurve(c *curve.Curve) *Preset {
	p := &Preset{Interpolation: c.Interpolation()}
	for i, level := range c.AnchorLevels() {
		if index := curve.Anchors[i]; level != index {
			p.Anchors = append(p.Anchors, Anchor{Index: index, Level: level})
		}
	}
	return p
}

// Parses a preset from TOML. Unknown keys are an error.
func Parse(data []byte) (*Preset, error) {
	p := &Preset{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Serializes the preset as TOML
func (p *Preset) Marshal() ([]byte, error) {
	return toml.Marshal(p)
}

// Loads a preset from a TOML file
func Load(fileName string) (*Preset, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return p, nil
}

// Writes the preset to a TOML file
func (p *Preset) Save(fileName string) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, data, 0644)
}

// Repeatable command line flag of the form index:level
type AnchorFlags []Anchor

func (f *AnchorFlags) String() string {
	if f == nil {
		return ""
	}
	parts := make([]string, len(*f))
	for i, a := range *f {
		parts[i] = a.String()
	}
	return strings.Join(parts, ",")
}

func (f *AnchorFlags) Set(value string) error {
	a, err := ParseAnchor(value)
	if err != nil {
		return err
	}
	*f = append(*f, a)
	return nil
}

// Parses an anchor of the form index:level
func ParseAnchor(s string) (a Anchor, err error) {
	idx, lvl, ok := strings.Cut(s, ":")
	if !ok {
		return a, fmt.Errorf("anchor %q: want index:level", s)
	}
	if a.Index, err = strconv.Atoi(strings.TrimSpace(idx)); err != nil {
		return a, fmt.Errorf("anchor %q: %w", s, err)
	}
	if a.Level, err = strconv.Atoi(strings.TrimSpace(lvl)); err != nil {
		return a, fmt.Errorf("anchor %q: %w", s, err)
	}
	if !curve.IsAnchor(a.Index) {
		return a, fmt.Errorf("anchor %q: %w", s, ErrInvalidAnchor)
	}
	return a, nil
}
