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

package tone

import (
	"encoding/json"
	"fmt"

	"github.com/mlnoga/tonecurve/internal/curve"
	"github.com/mlnoga/tonecurve/internal/histogram"
	"github.com/mlnoga/tonecurve/internal/imageio"
	"github.com/mlnoga/tonecurve/internal/lut"
	"github.com/mlnoga/tonecurve/internal/ops"
	"github.com/mlnoga/tonecurve/internal/preset"
	"github.com/mlnoga/tonecurve/internal/render"
	"github.com/mlnoga/tonecurve/internal/transform"
)

// Applies a tone curve to the original of each image
type OpCurves struct {
	ops.OpUnaryBase
	Interpolation curve.Interpolation `json:"interpolation"`
	Anchors       []preset.Anchor     `json:"anchors"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpCurvesDefault() }) } // register the operator for JSON decoding

func NewOpCurvesDefault() *OpCurves { return NewOpCurves(&preset.Preset{}) }

func NewOpCurves(p *preset.Preset) *OpCurves {
	op := &OpCurves{
		OpUnaryBase:   ops.OpUnaryBase{OpBase: ops.OpBase{Type: "curves", Active: true}},
		Interpolation: p.Interpolation,
		Anchors:       p.Anchors,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpCurves) UnmarshalJSON(data []byte) error {
	type defaults OpCurves
	def := defaults(*NewOpCurvesDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpCurves(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return op.Preset().Validate()
}

func (op *OpCurves) Preset() *preset.Preset {
	return &preset.Preset{Interpolation: op.Interpolation, Anchors: op.Anchors}
}

// Lookup table for the operator's curve
func (op *OpCurves) Table() (lut.Table, error) {
	c, err := op.Preset().Curve()
	if err != nil {
		return lut.Table{}, err
	}
	return lut.Build(c), nil
}

func (op *OpCurves) Apply(img *ops.Image, c *ops.Context) (*ops.Image, error) {
	table, err := op.Table()
	if err != nil {
		return nil, err
	}
	if table.IsIdentity() {
		fmt.Fprintf(c.Log, "%d: Identity curve, keeping original\n", img.ID)
		return &ops.Image{ID: img.ID, FileName: img.FileName, Original: img.Original, Buf: img.Original}, nil
	}
	fmt.Fprintf(c.Log, "%d: Applying %s curve with anchors %v\n", img.ID, op.Interpolation, op.Anchors)
	out, err := transform.Apply(img.Original, table)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", img.ID, err)
	}
	return &ops.Image{ID: img.ID, FileName: img.FileName, Original: img.Original, Buf: out}, nil
}

// Logs brightness statistics of each image, optionally writing a histogram plot
type OpHistogram struct {
	ops.OpUnaryBase
	FilePattern string `json:"filePattern"` // plot file name, %d expands to the image ID
	FitPeak     bool   `json:"fitPeak"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpHistogramDefault() }) } // register the operator for JSON decoding

func NewOpHistogramDefault() *OpHistogram { return NewOpHistogram("", false) }

func NewOpHistogram(filePattern string, fitPeak bool) *OpHistogram {
	op := &OpHistogram{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "histogram", Active: true}},
		FilePattern: filePattern,
		FitPeak:     fitPeak,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return op
}

// Unmarshal the type from JSON with default values for missing entries
func (op *OpHistogram) UnmarshalJSON(data []byte) error {
	type defaults OpHistogram
	def := defaults(*NewOpHistogramDefault())
	if err := json.Unmarshal(data, &def); err != nil {
		return err
	}
	*op = OpHistogram(def)
	op.OpUnaryBase.Apply = op.Apply // make method receiver point to op, not def
	return nil
}

func (op *OpHistogram) Apply(img *ops.Image, c *ops.Context) (*ops.Image, error) {
	h, err := histogram.Reduce(img.Buf)
	if err != nil {
		return nil, fmt.Errorf("%d: %w", img.ID, err)
	}
	stats, err := h.Stats()
	if err != nil {
		fmt.Fprintf(c.Log, "%d: %s has no pixels\n", img.ID, img.FileName)
		return img, nil
	}
	fmt.Fprintf(c.Log, "%d: %s %v\n", img.ID, img.FileName, stats)
	if op.FitPeak {
		if mode, stdDev, err := h.FitPeak(); err == nil {
			fmt.Fprintf(c.Log, "%d: fitted peak at %.2f with stddev %.2f\n", img.ID, mode, stdDev)
		} else {
			fmt.Fprintf(c.Log, "%d: fitting peak: %s\n", img.ID, err.Error())
		}
	}
	if op.FilePattern != "" {
		fileName := ops.ExpandPattern(op.FilePattern, img.ID)
		if err := c.CheckPath(fileName); err != nil {
			return nil, fmt.Errorf("%d: %w", img.ID, err)
		}
		fmt.Fprintf(c.Log, "%d: Writing histogram plot to %s\n", img.ID, fileName)
		plot := render.Histogram(&h, render.HistogramWidth, render.HistogramHeight, render.DefaultPalette())
		if err := imageio.Save(fileName, plot, c.Quality); err != nil {
			return nil, fmt.Errorf("%d: error writing to file %s: %w", img.ID, fileName, err)
		}
	}
	return img, nil
}
