package bleed

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

// labelledSpots returns count spot colours per label, each close to the
// channel of its label with small positive noise in the other channels.
func labelledSpots(rng *rand.Rand, rounds, channels int, counts []int, scale float64) [][]float64 {
	var spots [][]float64
	for d, n := range counts {
		for i := 0; i < n; i++ {
			color := make([]float64, rounds*channels)
			for r := 0; r < rounds; r++ {
				for c := 0; c < channels; c++ {
					color[r*channels+c] = 0.05 * rng.Float64()
				}
				color[r*channels+d] = scale
			}
			spots = append(spots, color)
		}
	}
	return spots
}

func defaultParams() Params {
	return Params{
		Mode:           Separate,
		Centroid:       CentroidMean,
		ScoreThresh:    0,
		MinClusterSize: 10,
		NIter:          100,
		Anneal:         true,
	}
}

// TestEstimateSmallClusterIsZero verifies that a label with too few spots gets an exactly zero column
func TestEstimateSmallClusterIsZero(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	spots := labelledSpots(rng, 1, 4, []int{50, 50, 50, 5}, 2)

	res, err := Estimate(spots, 1, 4, 4, nil, defaultParams())
	require.NoError(t, err)

	for c := 0; c < 4; c++ {
		assert.Equal(t, 0.0, res.Matrix.At(0, c, 3), "channel %d of degenerate label", c)
	}
	assert.Equal(t, map[int][]int{0: {3}}, res.Matrix.Degenerate())

	for d := 0; d < 3; d++ {
		col := res.Matrix.Column(0, d)
		assert.InDelta(t, 2, floats.Norm(col, 2), 0.1, "magnitude of label %d", d)
		assert.Greater(t, col[d]/floats.Norm(col, 2), 0.99, "direction of label %d", d)
	}

	require.Len(t, res.Reports, 4)
	assert.True(t, res.Reports[3].Degenerate)
	assert.Equal(t, 0, res.Reports[3].ClusterSize)
	assert.False(t, res.Reports[0].Degenerate)
}

// TestEstimateCentroidMethodsAgree checks that both centroid methods recover a rank-one direction
func TestEstimateCentroidMethodsAgree(t *testing.T) {
	dir := []float64{0.9, 0.3, 0, 0}
	var spots [][]float64
	for i := 1; i <= 20; i++ {
		s := float64(i) / 10
		spots = append(spots, []float64{dir[0] * s, dir[1] * s, dir[2] * s, dir[3] * s})
	}
	want := unit(dir)

	for _, method := range []CentroidMethod{CentroidMean, CentroidEigen} {
		p := defaultParams()
		p.Centroid = method
		p.Anneal = false
		res, err := Estimate(spots, 1, 4, 4, nil, p)
		require.NoError(t, err)

		col := res.Matrix.Column(0, 0)
		got := unit(col)
		for c := range want {
			assert.InDelta(t, want[c], got[c], 1e-9, "%s channel %d", method, c)
		}

		// RMS of the projections 0.1..2.0 times |dir|
		var sumSq float64
		for i := 1; i <= 20; i++ {
			s := float64(i) / 10 * floats.Norm(dir, 2)
			sumSq += s * s
		}
		assert.InDelta(t, math.Sqrt(sumSq/20), floats.Norm(col, 2), 1e-9, string(method))
	}
}

// TestEstimateSingleModeSharesMatrix verifies one matrix is written to every round
func TestEstimateSingleModeSharesMatrix(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	spots := labelledSpots(rng, 3, 3, []int{30, 30, 30}, 1)

	p := defaultParams()
	p.Mode = Single
	res, err := Estimate(spots, 3, 3, 3, nil, p)
	require.NoError(t, err)

	assert.True(t, res.Matrix.RoundsIdentical(0))
	for _, rep := range res.Reports {
		assert.Equal(t, -1, rep.Round)
	}
}

// TestEstimateSingleModeRejectsNonUniformSeed checks the seed is identical across rounds
func TestEstimateSingleModeRejectsNonUniformSeed(t *testing.T) {
	seed := Identity(2, 2, 2)
	seed.Set(1, 0, 0, 0.5)

	p := defaultParams()
	p.Mode = Single
	_, err := Estimate([][]float64{{1, 0, 1, 0}}, 2, 2, 2, seed, p)
	assert.ErrorIs(t, err, ErrSeedNotUniform)
}

// TestEstimateSeedShapeMismatch verifies a wrongly sized seed is rejected
func TestEstimateSeedShapeMismatch(t *testing.T) {
	_, err := Estimate([][]float64{{1, 0}}, 1, 2, 2, Identity(1, 3, 2), defaultParams())
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

// TestEstimateDropsUnusableSpots checks that NaN and zero colours never reach the clustering
func TestEstimateDropsUnusableSpots(t *testing.T) {
	_, err := Estimate([][]float64{{0, 0}, {math.NaN(), 1}}, 1, 2, 2, nil, defaultParams())
	assert.True(t, errors.Is(err, ErrNoSpots))

	points := channelVectors([][]float64{{0, 0, 1, 0}, {math.NaN(), 1, 0, 1}}, 2, 2, []int{0, 1})
	assert.Equal(t, [][]float64{{1, 0}, {0, 1}}, points)
}

// TestAssignPointsTieBreak verifies equal scores go to the lowest label
func TestAssignPointsTieBreak(t *testing.T) {
	x := unit([]float64{1, 1})
	means := [][]float64{{1, 0}, {0, 1}}
	assign, scores := assignPoints([][]float64{x}, means, []float64{0, 0})
	assert.Equal(t, []int{0}, assign)
	assert.InDelta(t, math.Sqrt(0.5), scores[0], 1e-12)

	// score must strictly exceed the threshold
	assign, _ = assignPoints([][]float64{{1, 0}}, means, []float64{1, 1})
	assert.Equal(t, []int{-1}, assign)
}

// TestIdentitySeedPadsExtraDyes checks dyes beyond the channel count are zero
func TestIdentitySeedPadsExtraDyes(t *testing.T) {
	m := Identity(1, 2, 3)
	assert.Equal(t, []float64{1, 0}, m.Column(0, 0))
	assert.Equal(t, []float64{0, 1}, m.Column(0, 1))
	assert.Equal(t, []float64{0, 0}, m.Column(0, 2))
}

// TestMatrixSaveLoad round-trips a matrix through YAML
func TestMatrixSaveLoad(t *testing.T) {
	m := NewMatrix(2, 2, 3)
	for i := range m.Values {
		m.Values[i] = float64(i) / 10
	}
	path := filepath.Join(t.TempDir(), "bleed", "matrix.yaml")
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)
	assert.NoError(t, loaded.CheckShape(2, 2, 3))
	assert.ErrorIs(t, loaded.CheckShape(2, 3, 3), ErrShapeMismatch)
}

// TestDyeChannelGuess reads a dye intensity table
func TestDyeChannelGuess(t *testing.T) {
	table := `Dye,Camera,Laser,Intensity
ATTO425,475,445,1.0
ATTO425,527,445,0.3
alexa488,475,445,0.1
ALEXA488,527,445,0.8
`
	guess, err := DyeChannelGuess(strings.NewReader(table), []string{"atto425", "alexa488"},
		[]int{475, 527}, []int{445, 445})
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1.0, 0.3}, {0.1, 0.8}}, guess)

	seed, err := SeedFromGuess(guess, 3)
	require.NoError(t, err)
	assert.True(t, seed.RoundsIdentical(0))
	assert.Equal(t, []float64{0.1, 0.8}, seed.Column(2, 1))

	_, err = DyeChannelGuess(strings.NewReader(table), []string{"cy5"}, []int{475}, []int{445})
	assert.Error(t, err)
}
