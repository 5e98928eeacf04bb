package scoring

import (
	"fmt"
	"math"
)

// IntensityNorm selects how a colour is reduced to a single brightness.
type IntensityNorm string

const (
	// NormL2 is the Euclidean norm of the whole colour.
	NormL2 IntensityNorm = "l2"
	// NormMaxAbs is the largest absolute entry.
	NormMaxAbs IntensityNorm = "max_abs"
	// NormRoundMin is the minimum over rounds of the round's largest
	// absolute entry, so a pixel is only bright if every round is.
	NormRoundMin IntensityNorm = "round_min"
)

// ParseIntensityNorm validates a configured norm name.
func ParseIntensityNorm(s string) (IntensityNorm, error) {
	switch n := IntensityNorm(s); n {
	case NormL2, NormMaxAbs, NormRoundMin:
		return n, nil
	}
	return "", fmt.Errorf("unknown intensity norm %q", s)
}

// Intensity reduces a colour to a non-negative brightness.
func Intensity(color []float64, rounds, channels int, norm IntensityNorm) float64 {
	switch norm {
	case NormMaxAbs:
		var m float64
		for _, v := range color {
			m = math.Max(m, math.Abs(v))
		}
		return m
	case NormRoundMin:
		out := math.Inf(1)
		for r := 0; r < rounds; r++ {
			var m float64
			for c := 0; c < channels; c++ {
				m = math.Max(m, math.Abs(color[r*channels+c]))
			}
			out = math.Min(out, m)
		}
		if math.IsInf(out, 1) {
			return 0
		}
		return out
	default:
		var sum float64
		for _, v := range color {
			sum += v * v
		}
		return math.Sqrt(sum)
	}
}
