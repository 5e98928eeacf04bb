package scoring

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"genecall/pkg/codebook"
)

// Scorer computes the bounded weighted dot product between a colour and gene
// signatures.
type Scorer struct {
	Rounds   int
	Channels int

	// Shift is added to every round's norm so that dim rounds are not
	// inflated to unit length
	Shift float64
}

// Normalize divides each round by its norm plus Shift and the whole vector
// by sqrt(Rounds), so the result has length at most 1.
func (s Scorer) Normalize(color []float64) []float64 {
	out := make([]float64, len(color))
	scale := 1 / math.Sqrt(float64(s.Rounds))
	for r := 0; r < s.Rounds; r++ {
		round := color[r*s.Channels : (r+1)*s.Channels]
		n := floats.Norm(round, 2) + s.Shift
		if n == 0 {
			continue
		}
		for c, v := range round {
			out[r*s.Channels+c] = v / n * scale
		}
	}
	return out
}

// Score returns the weighted inner product of an already normalised colour
// with a unit signature, clamped to [-1, 1]. weights may be nil.
func (s Scorer) Score(normalized, unit, weights []float64) float64 {
	var sum float64
	for i, v := range normalized {
		t := v * unit[i]
		if weights != nil {
			t *= weights[i]
		}
		sum += t
	}
	if math.IsNaN(sum) {
		return 0
	}
	return math.Max(-1, math.Min(1, sum))
}

// ScoreGenes scores color against every gene in the dictionary. Genes for
// which skip returns true get a score of 0.
func (s Scorer) ScoreGenes(color []float64, dict *codebook.Dictionary, weights []float64, skip func(g int) bool) []float64 {
	normalized := s.Normalize(color)
	scores := make([]float64, dict.NumGenes())
	for g, unit := range dict.Units {
		if skip != nil && skip(g) {
			continue
		}
		scores[g] = s.Score(normalized, unit, weights)
	}
	return scores
}

// Best returns the gene with the largest |score| among those not skipped,
// breaking ties by lowest index. It returns -1 when no gene is eligible.
func Best(scores []float64, skip func(g int) bool) (int, float64) {
	best, bestAbs := -1, -1.0
	for g, v := range scores {
		if skip != nil && skip(g) {
			continue
		}
		if a := math.Abs(v); a > bestAbs {
			best, bestAbs = g, a
		}
	}
	if best < 0 {
		return -1, 0
	}
	return best, scores[best]
}
