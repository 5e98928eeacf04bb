package bleed

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Mode selects whether one matrix is shared by all rounds.
type Mode string

const (
	// Single pools every round into one matrix.
	Single Mode = "single"
	// Separate estimates one matrix per round.
	Separate Mode = "separate"
)

// CentroidMethod selects how a cluster's spectrum is recomputed.
type CentroidMethod string

const (
	// CentroidMean is the score-weighted mean of the normalised members.
	CentroidMean CentroidMethod = "mean"
	// CentroidEigen is the top eigenvector of the members' scatter matrix.
	CentroidEigen CentroidMethod = "eigen"
)

// ErrSeedNotUniform is returned in Single mode when the seed differs between rounds.
var ErrSeedNotUniform = errors.New("seed bleed matrix differs between rounds")

// ErrNoSpots is returned when no usable reference spot colour remains.
var ErrNoSpots = errors.New("no usable reference spot colours")

// Params controls the annealed scaled clustering.
type Params struct {
	Mode     Mode
	Centroid CentroidMethod

	// ScoreThresh is the similarity a spot must exceed to join a cluster
	ScoreThresh float64

	// MinClusterSize is the smallest cluster that keeps its spectrum
	MinClusterSize int

	// NIter caps the iterations of each pass
	NIter int

	// Anneal runs a second pass with per-label median thresholds
	Anneal bool
}

// LabelReport summarises the calibration of one dye.
type LabelReport struct {
	// Round is -1 in Single mode
	Round        int
	Dye          int
	ClusterSize  int
	Degenerate   bool
	AnnealThresh float64
	Iterations   int
}

// Result is the output of Estimate.
type Result struct {
	Matrix  *Matrix
	Reports []LabelReport
}

// Estimate learns a bleed matrix from reference spot colours. Each colour has
// rounds*channels entries in r*channels + c order. seed may be nil, in which
// case the identity seed is used.
func Estimate(spotColors [][]float64, rounds, channels, dyes int, seed *Matrix, p Params) (*Result, error) {
	if seed == nil {
		seed = Identity(rounds, channels, dyes)
	}
	if err := seed.CheckShape(rounds, channels, dyes); err != nil {
		return nil, err
	}
	if p.NIter < 1 {
		return nil, fmt.Errorf("nIter must be >= 1, got %d", p.NIter)
	}
	if p.MinClusterSize < 1 {
		return nil, fmt.Errorf("minClusterSize must be >= 1, got %d", p.MinClusterSize)
	}

	out := NewMatrix(rounds, channels, dyes)
	var reports []LabelReport

	switch p.Mode {
	case Separate:
		for r := 0; r < rounds; r++ {
			points := channelVectors(spotColors, rounds, channels, []int{r})
			if len(points) == 0 {
				return nil, fmt.Errorf("%w in round %d", ErrNoSpots, r)
			}
			init := make([][]float64, dyes)
			for d := range init {
				init[d] = seed.Column(r, d)
			}
			cl := annealedCluster(points, init, p)
			for d := 0; d < dyes; d++ {
				out.SetColumn(r, d, cl.column(d))
				reports = append(reports, cl.report(r, d))
			}
		}
	case Single:
		if !seed.RoundsIdentical(1e-10) {
			return nil, ErrSeedNotUniform
		}
		all := make([]int, rounds)
		for r := range all {
			all[r] = r
		}
		points := channelVectors(spotColors, rounds, channels, all)
		if len(points) == 0 {
			return nil, ErrNoSpots
		}
		init := make([][]float64, dyes)
		for d := range init {
			init[d] = seed.Column(0, d)
		}
		cl := annealedCluster(points, init, p)
		for d := 0; d < dyes; d++ {
			col := cl.column(d)
			for r := 0; r < rounds; r++ {
				out.SetColumn(r, d, col)
			}
			reports = append(reports, cl.report(-1, d))
		}
	default:
		return nil, fmt.Errorf("unknown bleed matrix mode %q", p.Mode)
	}

	return &Result{Matrix: out, Reports: reports}, nil
}

// channelVectors extracts per-round channel vectors, dropping NaN and
// all-zero entries which cannot be normalised.
func channelVectors(spotColors [][]float64, rounds, channels int, useRounds []int) [][]float64 {
	var points [][]float64
	for _, color := range spotColors {
		if len(color) != rounds*channels {
			continue
		}
		for _, r := range useRounds {
			v := color[r*channels : (r+1)*channels]
			if floats.HasNaN(v) || floats.Norm(v, 2) == 0 {
				continue
			}
			points = append(points, append([]float64(nil), v...))
		}
	}
	return points
}

// clusters is the state of the scaled clustering after a pass.
type clusters struct {
	means      [][]float64
	magnitudes []float64
	assign     []int
	scores     []float64
	sizes      []int
	thresh     []float64
	iterations int
}

func (cl *clusters) column(d int) []float64 {
	col := make([]float64, len(cl.means[d]))
	if cl.sizes[d] == 0 {
		return col
	}
	for i, v := range cl.means[d] {
		col[i] = v * cl.magnitudes[d]
	}
	return col
}

func (cl *clusters) report(round, d int) LabelReport {
	return LabelReport{
		Round:        round,
		Dye:          d,
		ClusterSize:  cl.sizes[d],
		Degenerate:   cl.sizes[d] == 0,
		AnnealThresh: cl.thresh[d],
		Iterations:   cl.iterations,
	}
}

// annealedCluster runs the first clustering pass and, when enabled, a second
// pass seeded by the first with each label's threshold raised to the median
// score of its first-pass members.
func annealedCluster(points, init [][]float64, p Params) *clusters {
	thresh := make([]float64, len(init))
	for d := range thresh {
		thresh[d] = p.ScoreThresh
	}
	first := scaledCluster(points, init, thresh, p)
	if !p.Anneal {
		return first
	}

	annealThresh := make([]float64, len(init))
	for d := range annealThresh {
		annealThresh[d] = p.ScoreThresh
		var member []float64
		for i, a := range first.assign {
			if a == d {
				member = append(member, first.scores[i])
			}
		}
		if len(member) > 0 {
			annealThresh[d] = math.Max(p.ScoreThresh, median(member))
		}
	}
	return scaledCluster(points, first.means, annealThresh, p)
}

// scaledCluster assigns every point to its most similar unit centroid and
// re-estimates centroids until assignments stop changing or NIter is reached.
// Clusters smaller than MinClusterSize are set to exactly zero.
func scaledCluster(points, init [][]float64, thresh []float64, p Params) *clusters {
	k := len(init)
	normed := make([][]float64, len(points))
	for i, x := range points {
		normed[i] = unit(x)
	}
	means := make([][]float64, k)
	for d := range means {
		means[d] = unit(init[d])
	}

	cl := &clusters{
		means:      means,
		magnitudes: make([]float64, k),
		sizes:      make([]int, k),
		thresh:     thresh,
	}
	assign := make([]int, len(points))
	for i := range assign {
		assign[i] = -2
	}

	for it := 0; it < p.NIter; it++ {
		cl.iterations = it + 1
		next, scores := assignPoints(normed, means, thresh)
		cl.scores = scores
		if equalInts(next, assign) {
			break
		}
		assign = next

		for d := 0; d < k; d++ {
			var members []int
			for i, a := range assign {
				if a == d {
					members = append(members, i)
				}
			}
			if len(members) < p.MinClusterSize {
				means[d] = make([]float64, len(means[d]))
				continue
			}
			means[d] = centroid(points, normed, scores, members, p.Centroid)
		}
	}

	cl.assign = assign
	for d := 0; d < k; d++ {
		n := 0
		var sumSq float64
		for i, a := range assign {
			if a == d {
				n++
				proj := floats.Dot(points[i], means[d])
				sumSq += proj * proj
			}
		}
		if n < p.MinClusterSize || floats.Norm(means[d], 2) == 0 {
			means[d] = make([]float64, len(means[d]))
			continue
		}
		cl.sizes[d] = n
		cl.magnitudes[d] = math.Sqrt(sumSq / float64(n))
	}
	return cl
}

// assignPoints returns the best cluster of every point (-1 when its score
// does not exceed the cluster's threshold) and that best score.
func assignPoints(normed, means [][]float64, thresh []float64) ([]int, []float64) {
	assign := make([]int, len(normed))
	scores := make([]float64, len(normed))
	for i, x := range normed {
		best, bestScore := -1, math.Inf(-1)
		for d, m := range means {
			s := floats.Dot(x, m)
			if s > bestScore {
				best, bestScore = d, s
			}
		}
		scores[i] = bestScore
		if best < 0 || !(bestScore > thresh[best]) {
			best = -1
		}
		assign[i] = best
	}
	return assign, scores
}

// centroid recomputes one cluster's unit spectrum.
func centroid(points, normed [][]float64, scores []float64, members []int, method CentroidMethod) []float64 {
	dims := len(normed[members[0]])
	if method == CentroidEigen {
		if v, ok := topEigenvector(points, members, dims); ok {
			return v
		}
	}
	sum := make([]float64, dims)
	for _, i := range members {
		floats.AddScaled(sum, scores[i], normed[i])
	}
	return unit(sum)
}

// topEigenvector returns the dominant eigenvector of the members' scatter
// matrix, signed so that its mean entry is positive.
func topEigenvector(points [][]float64, members []int, dims int) ([]float64, bool) {
	scatter := mat.NewSymDense(dims, nil)
	alpha := 1 / float64(len(members))
	for _, i := range members {
		scatter.SymRankOne(scatter, alpha, mat.NewVecDense(dims, points[i]))
	}
	var es mat.EigenSym
	if ok := es.Factorize(scatter, true); !ok {
		return nil, false
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	v := mat.Col(nil, dims-1, &vecs)
	if floats.Sum(v) < 0 {
		floats.Scale(-1, v)
	}
	return unit(v), true
}

func unit(x []float64) []float64 {
	out := make([]float64, len(x))
	n := floats.Norm(x, 2)
	if n == 0 || math.IsNaN(n) {
		return out
	}
	for i, v := range x {
		out[i] = v / n
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// median calculates the median value of a slice of float64 values
func median(values []float64) float64 {
	valuesCopy := make([]float64, len(values))
	copy(valuesCopy, values)
	sort.Float64s(valuesCopy)

	n := len(valuesCopy)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (valuesCopy[n/2-1] + valuesCopy[n/2]) / 2
	}
	return valuesCopy[n/2]
}
