package spots

import (
	"genecall/internal/models"
)

// DetectParams controls shape scoring.
type DetectParams struct {
	Window        Window
	PosMultiplier float64
	NegMultiplier float64
}

// Candidate is a scored local maximum of one gene's coefficient volume.
type Candidate struct {
	models.Location
	Gene      int
	Score     float64
	Intensity float64
	Accepted  bool
}

// ShapeScore compares the signs around loc with the template. Positive
// matches count PosMultiplier, negative matches NegMultiplier; the sum is
// divided by the best achievable sum so the score lies in [0, 1]. Template
// entries falling outside the volume never match.
func ShapeScore(v *models.Volume, loc models.Location, offsets []ShapeOffset, posMult, negMult float64) float64 {
	var got, best float64
	for _, o := range offsets {
		weight := posMult
		if o.Sign < 0 {
			weight = negMult
		}
		best += weight

		y, x, z := loc.Y+o.Y, loc.X+o.X, loc.Z+o.Z
		if !v.Contains(y, x, z) {
			continue
		}
		val := v.At(y, x, z)
		if (o.Sign > 0 && val > 0) || (o.Sign < 0 && val < 0) {
			got += weight
		}
	}
	if best == 0 {
		return 0
	}
	return got / best
}

// Detect finds the peaks of every gene volume with row in [y0, y1) and scores
// them against the shape. Intensity is the coefficient at the peak.
// Candidates are returned in gene order, then linear index order.
func Detect(coefs []*models.Volume, shape *Shape, p DetectParams, y0, y1 int) []Candidate {
	offsets := shape.Offsets()
	var out []Candidate
	for g, v := range coefs {
		for _, pk := range p.Window.LocalMaxima(v, y0, y1) {
			out = append(out, Candidate{
				Location:  pk.Location,
				Gene:      g,
				Score:     ShapeScore(v, pk.Location, offsets, p.PosMultiplier, p.NegMultiplier),
				Intensity: pk.Value,
			})
		}
	}
	return out
}
