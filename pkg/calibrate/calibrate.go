// Package calibrate derives scalar run parameters (normalisation shifts,
// intensity thresholds) from global intensity statistics of a sample region.
//
// Every derived value goes through the same three steps: a statistic is
// taken, the result is clamped to a configured range and then rounded to a
// fixed precision grid so that small sampling differences do not change it.
package calibrate

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Bounds is a clamp range plus a rounding grid.
type Bounds struct {
	Min       float64
	Max       float64
	Precision float64
}

// Validate checks that the bounds are usable.
func (b Bounds) Validate() error {
	if b.Min <= 0 || b.Max < b.Min {
		return fmt.Errorf("invalid clamp range [%g, %g]", b.Min, b.Max)
	}
	if b.Precision <= 0 {
		return fmt.Errorf("precision must be > 0, got %g", b.Precision)
	}
	return nil
}

// Apply clamps v to [Min, Max] and rounds it to the precision grid.
// Rounding never leaves the clamp range.
func (b Bounds) Apply(v float64) float64 {
	if math.IsNaN(v) {
		v = b.Min
	}
	v = math.Max(b.Min, math.Min(b.Max, v))
	r := math.Round(v/b.Precision) * b.Precision
	if r < b.Min {
		r = math.Ceil(b.Min/b.Precision) * b.Precision
	}
	if r > b.Max {
		r = math.Floor(b.Max/b.Precision) * b.Precision
	}
	return r
}

// MedianAbs returns the median absolute value of xs, ignoring NaNs.
func MedianAbs(xs []float64) float64 {
	return PercentileAbs(xs, 50)
}

// PercentileAbs returns the p-th percentile (0..100) of |xs|, ignoring NaNs.
func PercentileAbs(xs []float64, p float64) float64 {
	abs := make([]float64, 0, len(xs))
	for _, x := range xs {
		if !math.IsNaN(x) {
			abs = append(abs, math.Abs(x))
		}
	}
	return Percentile(abs, p)
}

// Percentile returns the p-th percentile (0..100) of xs using linear
// interpolation. An empty input yields 0.
func Percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	q := math.Max(0, math.Min(1, p/100))
	return stat.Quantile(q, stat.LinInterp, sorted, nil)
}

// Shift derives a normalisation shift: multiplier times the median absolute
// intensity, clamped and rounded.
func Shift(intensities []float64, multiplier float64, b Bounds) float64 {
	return b.Apply(multiplier * MedianAbs(intensities))
}

// Threshold derives an intensity threshold from the p-th percentile of the
// given per-pixel intensities, clamped and rounded.
func Threshold(intensities []float64, p float64, b Bounds) float64 {
	return b.Apply(Percentile(intensities, p))
}
