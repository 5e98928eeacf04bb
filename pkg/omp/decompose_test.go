package omp

import (
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"genecall/internal/models"
	"genecall/pkg/bleed"
	"genecall/pkg/codebook"
	"genecall/pkg/scoring"
)

// twoGenes returns gene A = [1,0,0,1] and gene B = [0,1,1,0] over 2 rounds and 2 channels
func twoGenes(t *testing.T) *codebook.Dictionary {
	t.Helper()
	cb := &codebook.Codebook{Genes: []codebook.Gene{
		{Name: "A", Code: []int{0, 1}},
		{Name: "B", Code: []int{1, 0}},
	}}
	dict, err := cb.Dictionary(bleed.Identity(2, 2, 2))
	require.NoError(t, err)
	return dict
}

func testParams() Params {
	return Params{
		MaxGenes:        3,
		DpThresh:        0.225,
		Alpha:           120,
		Beta:            1,
		DpShift:         0.01,
		IntensityNorm:   scoring.NormRoundMin,
		IntensityThresh: 0.001,
	}
}

var zeroBackground = []float64{0, 0}

// TestDecomposeSingleGene verifies a pure gene colour is explained by that gene alone
func TestDecomposeSingleGene(t *testing.T) {
	dict := twoGenes(t)
	res := Decompose([]float64{0.5, 0, 0, 0.5}, zeroBackground, dict, testParams())

	require.Equal(t, []int{0}, res.Genes)
	assert.InDelta(t, 0.5, res.Coefs[0], 1e-12)
	assert.Equal(t, StoppedScore, res.State)
	assert.False(t, res.NumericalFailure)
	assert.Equal(t, 0.0, res.Coef(1))
}

// TestDecomposeTwoGenes verifies a mixture is recovered in two iterations
func TestDecomposeTwoGenes(t *testing.T) {
	dict := twoGenes(t)
	res := Decompose([]float64{0.3, 0.2, 0.2, 0.3}, zeroBackground, dict, testParams())

	require.Equal(t, []int{0, 1}, res.Genes)
	assert.InDelta(t, 0.3, res.Coefs[0], 1e-12)
	assert.InDelta(t, 0.2, res.Coefs[1], 1e-12)
	assert.Equal(t, StoppedScore, res.State)
}

// TestDecomposeScreensZeroPixel checks an all-zero colour never enters iteration
func TestDecomposeScreensZeroPixel(t *testing.T) {
	dict := twoGenes(t)
	for _, norm := range []scoring.IntensityNorm{scoring.NormL2, scoring.NormMaxAbs, scoring.NormRoundMin} {
		p := testParams()
		p.IntensityNorm = norm
		res := Decompose(make([]float64, 4), zeroBackground, dict, p)
		assert.Equal(t, Screened, res.State, string(norm))
		assert.Empty(t, res.Genes)
	}
}

// TestDecomposeBudget verifies the gene budget stops the iteration
func TestDecomposeBudget(t *testing.T) {
	dict := twoGenes(t)
	p := testParams()
	p.MaxGenes = 1
	res := Decompose([]float64{0.3, 0.2, 0.2, 0.3}, zeroBackground, dict, p)
	assert.Equal(t, []int{0}, res.Genes)
	assert.Equal(t, StoppedBudget, res.State)
}

// TestDecomposeNumericalFailure checks that an ill-conditioned refit keeps the previous genes
func TestDecomposeNumericalFailure(t *testing.T) {
	dict := twoGenes(t)
	p := testParams()
	// once A is assigned its rows get a vanishing weight, so the weighted
	// two-gene system is ill-conditioned
	p.WeightCoefFit = true
	p.Alpha = math.MaxFloat64
	res := Decompose([]float64{0.3, 0.2, 0.2, 0.3}, zeroBackground, dict, p)

	assert.Equal(t, []int{0}, res.Genes)
	assert.InDelta(t, 0.3, res.Coefs[0], 1e-12)
	assert.Equal(t, StoppedScore, res.State)
	assert.True(t, res.NumericalFailure)
}

// TestDecomposeProperties checks determinism, bounds and distinct selections on random colours
func TestDecomposeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	dict := twelveGenes(t)

	p := testParams()
	p.MaxGenes = 4
	for i := 0; i < 200; i++ {
		color := make([]float64, 12)
		for j := range color {
			color[j] = rng.NormFloat64() * 0.3
		}
		bg := []float64{rng.Float64() * 0.1, 0, 0, rng.Float64() * 0.1}

		first := Decompose(color, bg, dict, p)
		second := Decompose(color, bg, dict, p)
		require.Equal(t, first, second, "decomposition must be deterministic")

		assert.LessOrEqual(t, len(first.Genes), p.MaxGenes)
		assert.True(t, first.State.Terminal())
		seen := map[int]bool{}
		for k, g := range first.Genes {
			assert.False(t, seen[g], "gene %d selected twice", g)
			seen[g] = true
			assert.False(t, math.IsNaN(first.Coefs[k]))
		}
		if first.State == StoppedBudget {
			assert.Len(t, first.Genes, p.MaxGenes)
		}
	}
}

// twelveGenes returns 12 genes over 3 rounds and 4 channels
func twelveGenes(t *testing.T) *codebook.Dictionary {
	t.Helper()
	cb := &codebook.Codebook{}
	for g := 0; g < 12; g++ {
		cb.Genes = append(cb.Genes, codebook.Gene{
			Name: string(rune('a' + g)),
			Code: []int{g % 4, (g / 4) % 4, (g + g/4) % 4},
		})
	}
	dict, err := cb.Dictionary(bleed.Identity(3, 4, 4))
	require.NoError(t, err)
	return dict
}

// scoresAfter rescores every unassigned gene against the residual left by
// the given genes and coefficients.
func scoresAfter(color, bg []float64, dict *codebook.Dictionary, p Params, genes []int, coefs []float64) ([]float64, func(int) bool) {
	assigned := map[int]bool{}
	for _, g := range genes {
		assigned[g] = true
	}
	skip := func(g int) bool { return assigned[g] }

	explained := scoring.NewExplained(bg, dict.Rounds, dict.Channels)
	if len(genes) > 0 {
		explained = explained.WithGenes(dict, genes, coefs)
	}
	scorer := scoring.Scorer{Rounds: dict.Rounds, Channels: dict.Channels, Shift: p.DpShift}
	residual := residualOf(color, dict, genes, coefs)
	return scorer.ScoreGenes(residual, dict, explained.Weights(p.Alpha, p.Beta), skip), skip
}

// TestDecomposeSelectionsPassThreshold replays every selection and checks
// the chosen gene scored at least dpThresh, and that a score stop leaves no
// gene at or above it
func TestDecomposeSelectionsPassThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	dict := twelveGenes(t)

	p := testParams()
	p.MaxGenes = 4
	checked := 0
	for i := 0; i < 500; i++ {
		color := make([]float64, 12)
		for j := range color {
			color[j] = rng.NormFloat64() * 0.3
		}
		bg := []float64{rng.Float64() * 0.1, 0, 0, rng.Float64() * 0.1}

		res := Decompose(color, bg, dict, p)
		for k, gene := range res.Genes {
			var genes []int
			var coefs []float64
			if k > 0 {
				prefix := p
				prefix.MaxGenes = k
				before := Decompose(color, bg, dict, prefix)
				require.Equal(t, res.Genes[:k], before.Genes)
				genes, coefs = before.Genes, before.Coefs
			}
			scores, skip := scoresAfter(color, bg, dict, p, genes, coefs)
			require.False(t, skip(gene))
			assert.GreaterOrEqual(t, math.Abs(scores[gene]), p.DpThresh,
				"pixel %d selection %d", i, k)
			checked++
		}

		if res.State == StoppedScore && !res.NumericalFailure {
			scores, skip := scoresAfter(color, bg, dict, p, res.Genes, res.Coefs)
			for g, score := range scores {
				if skip(g) {
					continue
				}
				assert.Less(t, math.Abs(score), p.DpThresh, "pixel %d gene %d", i, g)
			}
		}
	}
	assert.Positive(t, checked)
}

// TestLeastSquaresWeighted verifies weights change the fit only through the weighted rows
func TestLeastSquaresWeighted(t *testing.T) {
	a := mat.NewDense(3, 1, []float64{1, 1, 1})
	y := []float64{1, 2, 3}

	x, err := leastSquares(a, y, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2, x[0], 1e-12)

	x, err = leastSquares(a, y, []float64{1, 1e-9, 1e-9})
	require.NoError(t, err)
	assert.InDelta(t, 1, x[0], 1e-6)

	_, err = leastSquares(mat.NewDense(1, 2, []float64{1, 1}), []float64{1}, nil)
	assert.ErrorIs(t, err, ErrSingular)

	zeroColumn := mat.NewDense(3, 2, []float64{1, 0, 1, 0, 1, 0})
	_, err = leastSquares(zeroColumn, y, nil)
	assert.ErrorIs(t, err, ErrSingular)
}

// TestParamsValidate rejects a non-positive intensity threshold
func TestParamsValidate(t *testing.T) {
	p := testParams()
	assert.NoError(t, p.Validate())
	p.IntensityThresh = 0
	assert.Error(t, p.Validate())
}

// TestDecomposeTile verifies the parallel map matches per-pixel decomposition
func TestDecomposeTile(t *testing.T) {
	dict := twoGenes(t)
	colors := models.NewTileColors(0, 5, 7, 2, 2, 2)
	rng := rand.New(rand.NewSource(3))
	for z := 0; z < 2; z++ {
		for y := 0; y < 5; y++ {
			for x := 0; x < 7; x++ {
				a, b := rng.Float64(), rng.Float64()*0.5
				if (x+y+z)%3 == 0 {
					a, b = 0, 0
				}
				colors.Set(y, x, z, 0, 0, a)
				colors.Set(y, x, z, 0, 1, b)
				colors.Set(y, x, z, 1, 0, b)
				colors.Set(y, x, z, 1, 1, a)
			}
		}
	}

	var calls atomic.Int32
	p := testParams()
	res, err := DecomposeTile(colors, dict, p, TileOptions{
		NumWorkers:      3,
		BackgroundShift: 0.01,
		Progress:        func(completed, total int, message string) { calls.Add(1) },
	})
	require.NoError(t, err)
	require.Len(t, res.Coefs, 2)
	assert.Greater(t, calls.Load(), int32(0))

	screened := 0
	for px := 0; px < colors.NumPixels(); px++ {
		fit := scoring.FitBackground(colors.Color(px), 2, 2, 0.01)
		want := Decompose(fit.Residual, fit.Coefs, dict, p)
		assert.Equal(t, want, res.Pixels[px])
		for g := 0; g < 2; g++ {
			assert.Equal(t, want.Coef(g), res.Coefs[g].Data[px])
		}
		if want.State == Screened {
			screened++
		}
	}
	assert.Equal(t, screened, res.Screened)
	assert.Greater(t, screened, 0)
}

// TestDecomposeTileShapeMismatch rejects a dictionary of the wrong size
func TestDecomposeTileShapeMismatch(t *testing.T) {
	colors := models.NewTileColors(0, 2, 2, 1, 3, 2)
	_, err := DecomposeTile(colors, twoGenes(t), testParams(), TileOptions{NumWorkers: 1})
	assert.Error(t, err)
}
