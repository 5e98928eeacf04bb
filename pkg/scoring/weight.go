package scoring

import (
	"math"

	"genecall/pkg/codebook"
)

// Explained is the per-entry energy already accounted for by assigned genes
// and background. Values are never modified after construction; adding genes
// produces a new Explained.
type Explained struct {
	energy []float64
}

// NewExplained starts from the background energy alone:
// E[r,c] = bg[c]^2 * b^2.
func NewExplained(bgCoefs []float64, rounds, channels int) Explained {
	b := BackgroundValue(rounds)
	e := make([]float64, rounds*channels)
	for r := 0; r < rounds; r++ {
		for c := 0; c < channels; c++ {
			e[r*channels+c] = bgCoefs[c] * bgCoefs[c] * b * b
		}
	}
	return Explained{energy: e}
}

// WithGenes returns base plus sum_g coef_g^2 * sig_g^2 for the given genes.
func (base Explained) WithGenes(dict *codebook.Dictionary, genes []int, coefs []float64) Explained {
	e := make([]float64, len(base.energy))
	copy(e, base.energy)
	for k, g := range genes {
		c2 := coefs[k] * coefs[k]
		for i, s := range dict.Signatures[g] {
			e[i] += c2 * s * s
		}
	}
	return Explained{energy: e}
}

// Energy returns a copy of the per-entry explained energy.
func (base Explained) Energy() []float64 {
	return append([]float64(nil), base.energy...)
}

// Weights converts explained energy into exclusion weights
// w = beta / sqrt(beta^2 + alpha*E), which lie in (0, 1] and decrease as
// more of an entry is explained.
func (base Explained) Weights(alpha, beta float64) []float64 {
	w := make([]float64, len(base.energy))
	for i, e := range base.energy {
		w[i] = beta / math.Sqrt(beta*beta+alpha*e)
	}
	return w
}
