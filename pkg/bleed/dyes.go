package bleed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

type dyeKey struct {
	dye    string
	camera int
	laser  int
}

// DyeChannelGuess reads a dye intensity table with the header
// Dye,Camera,Laser,Intensity and returns a dyes x channels intensity guess.
// Channel c is identified by its camera and laser wavelengths. Every
// (dye, camera, laser) combination used must appear exactly once.
func DyeChannelGuess(r io.Reader, dyes []string, cameras, lasers []int) ([][]float64, error) {
	if len(cameras) != len(lasers) {
		return nil, fmt.Errorf("%w: %d cameras but %d lasers", ErrShapeMismatch, len(cameras), len(lasers))
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading dye table: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("dye table is empty")
	}

	counts := make(map[dyeKey]int)
	values := make(map[dyeKey]float64)
	for i, row := range rows[1:] {
		if len(row) < 4 {
			return nil, fmt.Errorf("dye table line %d: expected 4 columns, got %d", i+2, len(row))
		}
		camera, err := strconv.Atoi(strings.TrimSpace(row[1]))
		if err != nil {
			return nil, fmt.Errorf("dye table line %d: camera: %w", i+2, err)
		}
		laser, err := strconv.Atoi(strings.TrimSpace(row[2]))
		if err != nil {
			return nil, fmt.Errorf("dye table line %d: laser: %w", i+2, err)
		}
		intensity, err := strconv.ParseFloat(strings.TrimSpace(row[3]), 64)
		if err != nil {
			return nil, fmt.Errorf("dye table line %d: intensity: %w", i+2, err)
		}
		k := dyeKey{strings.ToUpper(strings.TrimSpace(row[0])), camera, laser}
		counts[k]++
		values[k] = intensity
	}

	guess := make([][]float64, len(dyes))
	for d, name := range dyes {
		guess[d] = make([]float64, len(cameras))
		for c := range cameras {
			k := dyeKey{strings.ToUpper(name), cameras[c], lasers[c]}
			if counts[k] != 1 {
				return nil, fmt.Errorf("expected intensity for dye %s, camera %d and laser %d once in dye table, found %d times",
					name, cameras[c], lasers[c], counts[k])
			}
			guess[d][c] = values[k]
		}
	}
	return guess, nil
}

// SeedFromGuess expands a dyes x channels guess into a seed matrix that is
// identical in every round.
func SeedFromGuess(guess [][]float64, rounds int) (*Matrix, error) {
	if len(guess) == 0 {
		return nil, fmt.Errorf("%w: empty dye guess", ErrShapeMismatch)
	}
	channels := len(guess[0])
	m := NewMatrix(rounds, channels, len(guess))
	for d, col := range guess {
		if len(col) != channels {
			return nil, fmt.Errorf("%w: dye %d has %d channels, expected %d", ErrShapeMismatch, d, len(col), channels)
		}
		for r := 0; r < rounds; r++ {
			m.SetColumn(r, d, col)
		}
	}
	return m, nil
}

// LoadDyeSeed builds a seed matrix from a dye intensity CSV file.
func LoadDyeSeed(path string, rounds int, dyes []string, cameras, lasers []int) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dye table: %w", err)
	}
	defer f.Close()

	guess, err := DyeChannelGuess(f, dyes, cameras, lasers)
	if err != nil {
		return nil, err
	}
	return SeedFromGuess(guess, rounds)
}
