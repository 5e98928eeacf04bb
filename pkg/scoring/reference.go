package scoring

import "genecall/pkg/codebook"

// Assignment is the one-shot gene call of a reference spot.
type Assignment struct {
	Gene  int
	Score float64

	// Intensity is the spot's brightness used by the reference gate
	Intensity float64
}

// AssignReference removes background from a reference spot colour and assigns
// the single best gene with no exclusion weighting. Intensity is computed
// with the same norm the decomposer screens with.
func AssignReference(color []float64, dict *codebook.Dictionary, s Scorer, bgShift float64, norm IntensityNorm) Assignment {
	fit := FitBackground(color, s.Rounds, s.Channels, bgShift)
	scores := s.ScoreGenes(fit.Residual, dict, nil, nil)
	g, score := Best(scores, nil)
	return Assignment{
		Gene:      g,
		Score:     score,
		Intensity: Intensity(fit.Residual, s.Rounds, s.Channels, norm),
	}
}
