// Package scoring compares observed pixel colours with gene signatures.
//
// Colours are flattened rounds x channels vectors in r*channels + c order.
// Before scoring, a shared per-channel background is removed; the amount
// removed is kept so that the scorer can discount channels already explained
// by background.
package scoring

import "math"

// BackgroundFit is the result of removing per-channel background from a colour.
type BackgroundFit struct {
	// Residual is the colour with background subtracted
	Residual []float64

	// Coefs[c] is the fitted amount of background vector c
	Coefs []float64
}

// BackgroundValue is the entry of every background vector in the rounds it
// covers. Vector c is this value in channel c of every round and zero
// elsewhere, giving unit length.
func BackgroundValue(rounds int) float64 {
	return 1 / math.Sqrt(float64(rounds))
}

// FitBackground fits one background vector per channel using weighted least
// squares with weight 1/(|v| + shift) on every entry, then subtracts it.
// Large entries are down-weighted so that true spot signal in a single
// round does not get absorbed as background.
func FitBackground(color []float64, rounds, channels int, shift float64) BackgroundFit {
	b := BackgroundValue(rounds)
	fit := BackgroundFit{
		Residual: make([]float64, len(color)),
		Coefs:    make([]float64, channels),
	}
	for c := 0; c < channels; c++ {
		var num, den float64
		for r := 0; r < rounds; r++ {
			v := color[r*channels+c]
			w := 1 / (math.Abs(v) + shift)
			num += w * w * v * b
			den += w * w * b * b
		}
		if den > 0 {
			fit.Coefs[c] = num / den
		}
	}
	for r := 0; r < rounds; r++ {
		for c := 0; c < channels; c++ {
			i := r*channels + c
			fit.Residual[i] = color[i] - fit.Coefs[c]*b
		}
	}
	return fit
}
