// Package quality decides which detected spots are kept and runs post-hoc
// sanity checks over the accepted reference spots.
package quality

import "genecall/pkg/spots"

// Gate accepts a spot when both its score and intensity exceed thresholds.
type Gate struct {
	ScoreThresh     float64
	IntensityThresh float64
}

// Accept applies the thresholds. Both comparisons are strict.
func (g Gate) Accept(score, intensity float64) bool {
	return score > g.ScoreThresh && intensity > g.IntensityThresh
}

// Apply sets the Accepted flag of every candidate in place and returns the
// number accepted. Applying the same gate again changes nothing.
func (g Gate) Apply(cands []spots.Candidate) int {
	n := 0
	for i := range cands {
		cands[i].Accepted = g.Accept(cands[i].Score, cands[i].Intensity)
		if cands[i].Accepted {
			n++
		}
	}
	return n
}
