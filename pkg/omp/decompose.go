// Package omp decomposes pixel colours into a small set of gene signatures
// by Orthogonal Matching Pursuit.
//
// Each pixel is independent. Decompose is a pure function of the colour,
// its background coefficients, the gene dictionary and the parameters, so
// the same inputs always give the same genes in the same order.
package omp

import (
	"errors"
	"fmt"
	"math"

	"genecall/pkg/codebook"
	"genecall/pkg/scoring"
)

// Params controls the decomposition.
type Params struct {
	// MaxGenes bounds the number of genes per pixel
	MaxGenes int

	// DpThresh is the |score| a gene needs to be added
	DpThresh float64

	// Alpha and Beta shape the exclusion weights
	Alpha float64
	Beta  float64

	// WeightCoefFit applies the exclusion weights to the coefficient fit
	WeightCoefFit bool

	// DpShift is the per-round normalisation shift of the scorer
	DpShift float64

	// Pixels whose intensity under IntensityNorm is below IntensityThresh
	// are screened out
	IntensityNorm   scoring.IntensityNorm
	IntensityThresh float64
}

// Validate checks that the parameters are usable.
func (p Params) Validate() error {
	var errs []error
	if p.MaxGenes < 1 {
		errs = append(errs, fmt.Errorf("maxGenes must be >= 1, got %d", p.MaxGenes))
	}
	if !(p.DpThresh > 0 && p.DpThresh <= 1) {
		errs = append(errs, fmt.Errorf("dpThresh must be in (0, 1], got %g", p.DpThresh))
	}
	if p.Alpha < 0 {
		errs = append(errs, fmt.Errorf("alpha must be >= 0, got %g", p.Alpha))
	}
	if p.Beta <= 0 {
		errs = append(errs, fmt.Errorf("beta must be > 0, got %g", p.Beta))
	}
	if p.DpShift < 0 {
		errs = append(errs, fmt.Errorf("dpShift must be >= 0, got %g", p.DpShift))
	}
	if p.IntensityThresh <= 0 {
		errs = append(errs, fmt.Errorf("intensity threshold must be > 0, got %g", p.IntensityThresh))
	}
	if _, err := scoring.ParseIntensityNorm(string(p.IntensityNorm)); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Result is the decomposition of one pixel.
type Result struct {
	// Genes and Coefs are in the order genes were added
	Genes []int
	Coefs []float64

	State State

	// NumericalFailure is set when the last refit failed and the pixel was
	// finalised with the genes assigned before it
	NumericalFailure bool
}

// Coef returns the coefficient of gene g, or 0 when it was not assigned.
func (r Result) Coef(g int) float64 {
	for k, gene := range r.Genes {
		if gene == g {
			return r.Coefs[k]
		}
	}
	return 0
}

// Decompose runs OMP on one background-subtracted colour.
func Decompose(color, bgCoefs []float64, dict *codebook.Dictionary, p Params) Result {
	rounds, channels := dict.Rounds, dict.Channels
	res := Result{State: Init}

	intensity := scoring.Intensity(color, rounds, channels, p.IntensityNorm)
	if !(intensity >= p.IntensityThresh) {
		res.State = Screened
		return res
	}

	scorer := scoring.Scorer{Rounds: rounds, Channels: channels, Shift: p.DpShift}
	base := scoring.NewExplained(bgCoefs, rounds, channels)
	explained := base
	residual := append([]float64(nil), color...)

	res.State = Iterating
	for len(res.Genes) < p.MaxGenes {
		assigned := make(map[int]bool, len(res.Genes))
		for _, g := range res.Genes {
			assigned[g] = true
		}
		skip := func(g int) bool { return assigned[g] }

		weights := explained.Weights(p.Alpha, p.Beta)
		scores := scorer.ScoreGenes(residual, dict, weights, skip)
		best, score := scoring.Best(scores, skip)
		if best < 0 || math.Abs(score) < p.DpThresh {
			res.State = StoppedScore
			return res
		}

		trial := append(append([]int(nil), res.Genes...), best)
		var fitWeights []float64
		if p.WeightCoefFit {
			fitWeights = weights
		}
		coefs, err := leastSquares(dict.Matrix(trial), color, fitWeights)
		if err != nil {
			res.State = StoppedScore
			res.NumericalFailure = true
			return res
		}

		res.Genes, res.Coefs = trial, coefs
		residual = residualOf(color, dict, trial, coefs)
		explained = base.WithGenes(dict, trial, coefs)
	}

	res.State = StoppedBudget
	return res
}

// residualOf returns color - sum_k coefs[k] * sig[genes[k]].
func residualOf(color []float64, dict *codebook.Dictionary, genes []int, coefs []float64) []float64 {
	out := append([]float64(nil), color...)
	for k, g := range genes {
		for i, s := range dict.Signatures[g] {
			out[i] -= coefs[k] * s
		}
	}
	return out
}
