package pipeline

import (
	"errors"

	"genecall/internal/models"
	"genecall/pkg/quality"
	"genecall/pkg/scoring"
	"genecall/pkg/tileio"
)

// refColor is the raw colour of a reference spot.
type refColor struct {
	Tile int
	models.Location
	Color []float64
}

// ReferenceCall is the one-shot gene call of a reference spot.
type ReferenceCall struct {
	Tile int
	models.Location
	scoring.Assignment
	Accepted bool
}

// referenceColors reads the colour of every reference spot on the processed
// tiles. loaded is reused for its own tile. Spots outside their tile are
// dropped with a warning.
func (r *Runner) referenceColors(tiles []int, refs []tileio.RefSpot, loaded *models.TileColors) ([]refColor, error) {
	byTile := tileio.ByTile(refs)
	var out []refColor
	dropped := 0
	for _, t := range tiles {
		locs := byTile[t]
		if len(locs) == 0 {
			continue
		}
		colors := loaded
		if colors == nil || colors.Tile != t {
			var err error
			if colors, err = r.loader.LoadTile(t); err != nil {
				return nil, err
			}
			if err := checkTile(colors, r.cfg.Input.Rounds, r.cfg.Input.Channels); err != nil {
				return nil, err
			}
		}
		for _, loc := range locs {
			if loc.Y < 0 || loc.Y >= colors.Height || loc.X < 0 || loc.X >= colors.Width || loc.Z < 0 || loc.Z >= colors.Depth {
				dropped++
				continue
			}
			color := append([]float64(nil), colors.ColorAt(loc.Y, loc.X, loc.Z)...)
			out = append(out, refColor{Tile: t, Location: loc, Color: color})
		}
	}
	if dropped > 0 {
		r.log.Warn("Reference spots outside their tile", "dropped", dropped)
	}
	return out, nil
}

// callReference assigns every reference spot its best gene, applies the
// reference gate and runs the per-combination sanity check. Shortfalls are
// logged; too many of them fail calibration.
func (r *Runner) callReference(cal *Calibration, tiles []int, refs []refColor) error {
	cfg := r.cfg
	rounds, channels := cfg.Input.Rounds, cfg.Input.Channels
	scorer := scoring.Scorer{Rounds: rounds, Channels: channels, Shift: cal.OMP.DpShift}
	gate := quality.Gate{ScoreThresh: cfg.Reference.ScoreThresh, IntensityThresh: cfg.Reference.IntensityThresh}

	calls := make([]ReferenceCall, len(refs))
	checked := make([]quality.ReferenceSpot, len(refs))
	accepted := 0
	for i, ref := range refs {
		a := scoring.AssignReference(ref.Color, cal.Dict, scorer, cal.BackgroundShift, cal.OMP.IntensityNorm)
		ok := a.Gene >= 0 && gate.Accept(a.Score, a.Intensity)
		if ok {
			accepted++
		}
		calls[i] = ReferenceCall{Tile: ref.Tile, Location: ref.Location, Assignment: a, Accepted: ok}
		checked[i] = quality.ReferenceSpot{
			Tile:     ref.Tile,
			Color:    scoring.FitBackground(ref.Color, rounds, channels, cal.BackgroundShift).Residual,
			Accepted: ok,
		}
	}
	cal.Reference = calls
	r.log.Info("Reference spots called", "spots", len(refs), "accepted", accepted)

	report, err := quality.CheckReferenceSpots(checked, tiles, rounds, channels, quality.SanityParams{
		MinSpots:      cfg.Sanity.MinSpots,
		ErrorFraction: cfg.Sanity.ErrorFraction,
	})
	cal.Sanity = report
	for _, c := range report.Shortfalls {
		r.log.Warn("Few reference spots", "combination", c.String(), "count", report.Counts[c], "min", cfg.Sanity.MinSpots)
	}
	if err != nil {
		if errors.Is(err, quality.ErrTooFewSpots) {
			r.log.Error("Sanity check failed", "fraction", report.Fraction, "limit", cfg.Sanity.ErrorFraction)
		}
		return err
	}
	return nil
}
