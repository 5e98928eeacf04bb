package omp

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"genecall/internal/models"
	"genecall/pkg/codebook"
	"genecall/pkg/scoring"
)

// ProgressCallback reports how many pixel ranges of a tile are finished.
// It is called from worker goroutines.
type ProgressCallback func(completed, total int, message string)

// TileOptions controls how a tile region is split among workers.
type TileOptions struct {
	// NumWorkers bounds the number of concurrent goroutines
	NumWorkers int

	// BackgroundShift is the weight shift used by the background fit
	BackgroundShift float64

	Progress ProgressCallback
}

// TileResult holds the decomposition of every pixel of a tile region.
type TileResult struct {
	// Coefs[g] is the coefficient volume of gene g
	Coefs []*models.Volume

	// Pixels[p] is the decomposition of pixel p
	Pixels []Result

	Screened          int
	NumericalFailures int
}

// DecomposeTile runs background removal and Decompose on every pixel of
// colors. Pixels are split into contiguous ranges, one goroutine per range;
// each goroutine writes only its own pixels.
func DecomposeTile(colors *models.TileColors, dict *codebook.Dictionary, p Params, opts TileOptions) (*TileResult, error) {
	if colors.Rounds != dict.Rounds || colors.Channels != dict.Channels {
		return nil, fmt.Errorf("tile colour is %dx%d (rounds x channels), dictionary is %dx%d",
			colors.Rounds, colors.Channels, dict.Rounds, dict.Channels)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decomposition parameters: %w", err)
	}

	numPixels := colors.NumPixels()
	res := &TileResult{
		Coefs:  make([]*models.Volume, dict.NumGenes()),
		Pixels: make([]Result, numPixels),
	}
	for g := range res.Coefs {
		res.Coefs[g] = models.NewVolume(colors.Width, colors.Height, colors.Depth)
	}

	numWorkers := opts.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	// Several ranges per worker keep goroutines busy when dim pixels
	// cluster in one part of the tile.
	numRanges := numWorkers * 4
	perRange := (numPixels + numRanges - 1) / numRanges
	if perRange < 1 {
		perRange = 1
	}
	totalRanges := (numPixels + perRange - 1) / perRange

	var screened, failures, completed atomic.Int64
	var g errgroup.Group
	g.SetLimit(numWorkers)

	for start := 0; start < numPixels; start += perRange {
		end := start + perRange
		if end > numPixels {
			end = numPixels
		}
		g.Go(func() error {
			for px := start; px < end; px++ {
				fit := scoring.FitBackground(colors.Color(px), colors.Rounds, colors.Channels, opts.BackgroundShift)
				r := Decompose(fit.Residual, fit.Coefs, dict, p)
				res.Pixels[px] = r
				for k, gene := range r.Genes {
					res.Coefs[gene].Data[px] = r.Coefs[k]
				}
				if r.State == Screened {
					screened.Add(1)
				}
				if r.NumericalFailure {
					failures.Add(1)
				}
			}
			done := completed.Add(1)
			if opts.Progress != nil {
				opts.Progress(int(done), totalRanges, "decomposing pixels")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res.Screened = int(screened.Load())
	res.NumericalFailures = int(failures.Load())
	return res, nil
}
