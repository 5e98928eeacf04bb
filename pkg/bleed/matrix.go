// Package bleed estimates and stores the bleed matrix: the expected response
// of every fluorescent label (dye) in every imaging channel, per round.
package bleed

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrShapeMismatch is returned when a supplied matrix does not match the
// configured rounds, channels or label count.
var ErrShapeMismatch = errors.New("bleed matrix shape mismatch")

// Matrix is a rounds x channels x dyes bleed matrix. Column (r, d) is the
// channel spectrum of dye d in round r. An all-zero column marks a label
// whose calibration failed.
type Matrix struct {
	Rounds   int
	Channels int
	Dyes     int

	// Values in [r][c][d] order
	Values []float64
}

// NewMatrix allocates a zero matrix.
func NewMatrix(rounds, channels, dyes int) *Matrix {
	return &Matrix{
		Rounds:   rounds,
		Channels: channels,
		Dyes:     dyes,
		Values:   make([]float64, rounds*channels*dyes),
	}
}

// Identity returns the default seed: dye d responds only in channel d.
// Dyes beyond the channel count get zero columns.
func Identity(rounds, channels, dyes int) *Matrix {
	m := NewMatrix(rounds, channels, dyes)
	for r := 0; r < rounds; r++ {
		for d := 0; d < dyes && d < channels; d++ {
			m.Set(r, d, d, 1)
		}
	}
	return m
}

func (m *Matrix) index(r, c, d int) int {
	return (r*m.Channels+c)*m.Dyes + d
}

// At returns the response of dye d in round r, channel c.
func (m *Matrix) At(r, c, d int) float64 {
	return m.Values[m.index(r, c, d)]
}

// Set stores the response of dye d in round r, channel c.
func (m *Matrix) Set(r, c, d int, v float64) {
	m.Values[m.index(r, c, d)] = v
}

// Column returns a copy of the channel spectrum of dye d in round r.
func (m *Matrix) Column(r, d int) []float64 {
	col := make([]float64, m.Channels)
	for c := range col {
		col[c] = m.At(r, c, d)
	}
	return col
}

// SetColumn overwrites the channel spectrum of dye d in round r.
func (m *Matrix) SetColumn(r, d int, col []float64) {
	for c := 0; c < m.Channels; c++ {
		m.Set(r, c, d, col[c])
	}
}

// CheckShape reports ErrShapeMismatch when the matrix does not have the
// expected dimensions.
func (m *Matrix) CheckShape(rounds, channels, dyes int) error {
	if m.Rounds != rounds || m.Channels != channels || m.Dyes != dyes {
		return fmt.Errorf("%w: got %dx%dx%d (rounds x channels x dyes), expected %dx%dx%d",
			ErrShapeMismatch, m.Rounds, m.Channels, m.Dyes, rounds, channels, dyes)
	}
	if len(m.Values) != rounds*channels*dyes {
		return fmt.Errorf("%w: %d values for %dx%dx%d", ErrShapeMismatch, len(m.Values), rounds, channels, dyes)
	}
	return nil
}

// RoundsIdentical reports whether every round holds the same matrix.
func (m *Matrix) RoundsIdentical(tol float64) bool {
	for r := 1; r < m.Rounds; r++ {
		for c := 0; c < m.Channels; c++ {
			for d := 0; d < m.Dyes; d++ {
				if math.Abs(m.At(r, c, d)-m.At(0, c, d)) > tol {
					return false
				}
			}
		}
	}
	return true
}

// Degenerate returns, per round, the dyes whose column is all zero.
func (m *Matrix) Degenerate() map[int][]int {
	out := make(map[int][]int)
	for r := 0; r < m.Rounds; r++ {
		for d := 0; d < m.Dyes; d++ {
			zero := true
			for c := 0; c < m.Channels; c++ {
				if m.At(r, c, d) != 0 {
					zero = false
					break
				}
			}
			if zero {
				out[r] = append(out[r], d)
			}
		}
	}
	return out
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.Rounds, m.Channels, m.Dyes)
	copy(out.Values, m.Values)
	return out
}

// matrixFile is the YAML representation: values[round][channel][dye].
type matrixFile struct {
	Rounds   int           `yaml:"rounds"`
	Channels int           `yaml:"channels"`
	Dyes     int           `yaml:"dyes"`
	Values   [][][]float64 `yaml:"values"`
}

// Load reads a bleed matrix from a YAML file.
func Load(path string) (*Matrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bleed matrix: %w", err)
	}
	var f matrixFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing bleed matrix: %w", err)
	}

	m := NewMatrix(f.Rounds, f.Channels, f.Dyes)
	if len(f.Values) != f.Rounds {
		return nil, fmt.Errorf("%w: %d rounds of values, header says %d", ErrShapeMismatch, len(f.Values), f.Rounds)
	}
	for r, round := range f.Values {
		if len(round) != f.Channels {
			return nil, fmt.Errorf("%w: round %d has %d channels, header says %d",
				ErrShapeMismatch, r, len(round), f.Channels)
		}
		for c, row := range round {
			if len(row) != f.Dyes {
				return nil, fmt.Errorf("%w: round %d channel %d has %d dyes, header says %d",
					ErrShapeMismatch, r, c, len(row), f.Dyes)
			}
			for d, v := range row {
				m.Set(r, c, d, v)
			}
		}
	}
	return m, nil
}

// Save writes the matrix as YAML.
func (m *Matrix) Save(path string) error {
	f := matrixFile{Rounds: m.Rounds, Channels: m.Channels, Dyes: m.Dyes}
	f.Values = make([][][]float64, m.Rounds)
	for r := range f.Values {
		f.Values[r] = make([][]float64, m.Channels)
		for c := range f.Values[r] {
			f.Values[r][c] = make([]float64, m.Dyes)
			for d := range f.Values[r][c] {
				f.Values[r][c][d] = m.At(r, c, d)
			}
		}
	}
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshaling bleed matrix: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating bleed matrix directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
