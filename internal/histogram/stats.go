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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"
)

// Summary statistics of a brightness histogram
type Stats struct {
	Pixels int     `json:"pixels"`
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stdDev"`
	Median float64 `json:"median"`
	Mode   int     `json:"mode"`
}

func (s Stats) String() string {
	return fmt.Sprintf("pixels %d min %d max %d mean %.4g stddev %.4g median %.4g mode %d",
		s.Pixels, s.Min, s.Max, s.Mean, s.StdDev, s.Median, s.Mode)
}

var ErrEmpty = errors.New("empty histogram")

var levels = func() (ls [Buckets]float64) {
	for i := range ls {
		ls[i] = float64(i)
	}
	return ls
}()

// Calculates summary statistics, treating bucket counts as weights of the bucket levels
func (h *Histogram) Stats() (s Stats, err error) {
	s.Pixels = h.Total()
	if s.Pixels == 0 {
		return s, ErrEmpty
	}
	weights := make([]float64, Buckets)
	s.Min, s.Max = -1, -1
	for i, c := range h {
		weights[i] = float64(c)
		if c == 0 {
			continue
		}
		if s.Min < 0 {
			s.Min = i
		}
		s.Max = i
		if c > h[s.Mode] {
			s.Mode = i
		}
	}
	s.Mean, s.StdDev = stat.MeanStdDev(levels[:], weights)
	if s.Pixels == 1 {
		s.StdDev = 0
	}
	s.Median = stat.Quantile(0.5, stat.Empirical, levels[:], weights)
	return s, nil
}

// Returns the location and the value of the histogram peak
func (h *Histogram) Peak() (x, y float64) {
	maxIndex, maxValue := 0, math.MinInt
	for i, v := range h {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	return float64(maxIndex), float64(maxValue)
}

// Fits a normal distribution to the histogram around its peak and returns
// the fitted mean and standard deviation
func (h *Histogram) FitPeak() (mode, stdDev float64, err error) {
	if h.Total() == 0 {
		return -1, -1, ErrEmpty
	}
	// Take an educated initial guess: the maximum value of the histogram
	peak, peakVal := h.Peak()

	// Now minimize the distance between the histogram and a normal distribution
	x0 := []float64{peakVal * 5 * math.Sqrt(2*math.Pi), peak, 5.0}
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			alpha, mu, sigma := x[0], x[1], x[2]
			if sigma <= 0 {
				return math.Inf(1)
			}
			scaler := alpha / (sigma * math.Sqrt(2*math.Pi))
			sumSqDiff := 0.0
			for i, y := range h {
				xmusig := (float64(i) - mu) / sigma
				yPredict := scaler * math.Exp(-0.5*xmusig*xmusig)
				diff := float64(y) - yPredict
				sumSqDiff += diff * diff
			}
			return math.Sqrt(sumSqDiff / Buckets)
		},
	}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return -1, -1, err
	}
	return result.X[1], math.Abs(result.X[2]), nil
}
