package quality

import (
	"errors"
	"fmt"
	"sort"
)

// ErrTooFewSpots is returned when too many (tile, round, channel)
// combinations have fewer accepted reference spots than required.
var ErrTooFewSpots = errors.New("too few reference spots")

// ReferenceSpot is a reference-round spot after gene assignment.
type ReferenceSpot struct {
	Tile     int
	Color    []float64
	Accepted bool
}

// Combo identifies one (tile, round, channel) combination.
type Combo struct {
	Tile    int
	Round   int
	Channel int
}

func (c Combo) String() string {
	return fmt.Sprintf("tile %d round %d channel %d", c.Tile, c.Round, c.Channel)
}

// SanityReport summarises accepted reference spots per combination.
type SanityReport struct {
	Counts map[Combo]int

	// Shortfalls lists combinations below the minimum, sorted
	Shortfalls []Combo

	// Fraction is len(Shortfalls) over the number of combinations
	Fraction float64
}

// SanityParams sets the minimum count and the tolerated failing fraction.
type SanityParams struct {
	MinSpots      int
	ErrorFraction float64
}

// CheckReferenceSpots counts accepted reference spots by their dominant
// channel in every round. Combinations with fewer than MinSpots are reported
// as shortfalls; if their fraction exceeds ErrorFraction the report is
// returned together with ErrTooFewSpots.
func CheckReferenceSpots(refs []ReferenceSpot, tiles []int, rounds, channels int, p SanityParams) (SanityReport, error) {
	report := SanityReport{Counts: make(map[Combo]int)}
	for _, t := range tiles {
		for r := 0; r < rounds; r++ {
			for c := 0; c < channels; c++ {
				report.Counts[Combo{t, r, c}] = 0
			}
		}
	}

	for _, s := range refs {
		if !s.Accepted || len(s.Color) != rounds*channels {
			continue
		}
		for r := 0; r < rounds; r++ {
			best := 0
			for c := 1; c < channels; c++ {
				if s.Color[r*channels+c] > s.Color[r*channels+best] {
					best = c
				}
			}
			k := Combo{s.Tile, r, best}
			if _, ok := report.Counts[k]; ok {
				report.Counts[k]++
			}
		}
	}

	for k, n := range report.Counts {
		if n < p.MinSpots {
			report.Shortfalls = append(report.Shortfalls, k)
		}
	}
	sort.Slice(report.Shortfalls, func(i, j int) bool {
		a, b := report.Shortfalls[i], report.Shortfalls[j]
		if a.Tile != b.Tile {
			return a.Tile < b.Tile
		}
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		return a.Channel < b.Channel
	})
	if len(report.Counts) > 0 {
		report.Fraction = float64(len(report.Shortfalls)) / float64(len(report.Counts))
	}

	if report.Fraction > p.ErrorFraction {
		return report, fmt.Errorf("%w: %d of %d tile/round/channel combinations have fewer than %d",
			ErrTooFewSpots, len(report.Shortfalls), len(report.Counts), p.MinSpots)
	}
	return report, nil
}
