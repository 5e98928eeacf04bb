// Package pipeline runs gene calling over a set of tiles.
//
// A run has three steps. Inputs (codebook, reference spots) are loaded and
// validated, every calibration artefact is computed once, and then each tile
// is decomposed in row chunks, its spots detected and its records written to
// the sink as one unit.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"

	"genecall/internal/models"
	"genecall/pkg/cache"
	"genecall/pkg/config"
	"genecall/pkg/omp"
	"genecall/pkg/sink"
	"genecall/pkg/tileio"
)

// TileLoader supplies the registered colours of a tile.
type TileLoader interface {
	LoadTile(tile int) (*models.TileColors, error)
}

// Options holds the collaborators of a Runner.
type Options struct {
	Loader TileLoader
	Cache  cache.Cache
	Sink   sink.TileSink
	Logger *log.Logger

	// Progress, when set, receives pixel-range progress of every
	// decomposition
	Progress omp.ProgressCallback
}

// Runner executes a configured run.
type Runner struct {
	cfg      *config.Config
	loader   TileLoader
	cache    cache.Cache
	sink     sink.TileSink
	log      *log.Logger
	progress omp.ProgressCallback
}

// TileSummary counts what happened to one tile. Screened and
// NumericalFailures include halo rows decomposed by more than one chunk.
type TileSummary struct {
	Tile              int
	Candidates        int
	Accepted          int
	Records           int
	Screened          int
	NumericalFailures int
	Retries           int
	Duration          time.Duration
}

// Summary describes a finished run.
type Summary struct {
	Tiles    []TileSummary
	Skipped  []int
	Duration time.Duration
}

// NewRunner validates the configuration and binds the collaborators.
func NewRunner(cfg *config.Config, opts Options) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Loader == nil || opts.Sink == nil {
		return nil, fmt.Errorf("a tile loader and a sink are required")
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNullCache()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Runner{
		cfg:      cfg,
		loader:   opts.Loader,
		cache:    opts.Cache,
		sink:     opts.Sink,
		log:      opts.Logger,
		progress: opts.Progress,
	}, nil
}

// Run calibrates and then processes every tile that has no complete output
// yet (or every tile when forced). Cancellation is honoured between tiles.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	summary := &Summary{}

	// Step 1: Load inputs
	done := r.step(1, "Loading reference spots")
	refs, err := tileio.LoadReferenceSpots(r.cfg.Input.ReferenceSpotsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load reference spots: %w", err)
	}
	tiles := r.tileList(refs)
	if len(tiles) == 0 {
		return nil, fmt.Errorf("no tiles to process")
	}
	done("spots", len(refs), "tiles", len(tiles))

	// Step 2: Calibrate
	done = r.step(2, "Calibrating")
	cal, err := r.Calibrate(ctx, tiles, refs)
	if err != nil {
		return nil, fmt.Errorf("calibration failed: %w", err)
	}
	done("genes", cal.Dict.NumGenes(), "shape", fmt.Sprintf("%dx%dx%d", cal.Shape.Height, cal.Shape.Width, cal.Shape.Depth))

	// Step 3: Decompose tiles
	done = r.step(3, "Processing tiles")
	for _, t := range tiles {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		complete, err := r.sink.Completed(ctx, t)
		if err != nil {
			return summary, err
		}
		if complete && !r.cfg.Processing.Force {
			r.log.Info("Skipping completed tile", "tile", t)
			summary.Skipped = append(summary.Skipped, t)
			continue
		}

		ts, err := r.ProcessTile(ctx, t, cal)
		if err != nil {
			return summary, fmt.Errorf("tile %d: %w", t, err)
		}
		summary.Tiles = append(summary.Tiles, ts)
		r.log.Info("Tile complete", "tile", t, "spots", ts.Records, "accepted", ts.Accepted,
			"elapsed", ts.Duration.Round(time.Millisecond))
		if ts.NumericalFailures > 0 {
			r.log.Warn("Pixels finalised after numerical failure", "tile", t, "pixels", ts.NumericalFailures)
		}
	}
	done("processed", len(summary.Tiles), "skipped", len(summary.Skipped))

	summary.Duration = time.Since(start)
	return summary, nil
}

// step logs a numbered banner and returns a function that logs its elapsed time.
func (r *Runner) step(n int, name string) func(keyvals ...any) {
	start := time.Now()
	r.log.Infof("Step %d: %s...", n, name)
	return func(keyvals ...any) {
		kv := append([]any{"elapsed", time.Since(start).Round(time.Millisecond)}, keyvals...)
		r.log.Info(fmt.Sprintf("Step %d done", n), kv...)
	}
}

// tileList returns the configured tiles, or the tiles named in the reference
// spot list when none are configured.
func (r *Runner) tileList(refs []tileio.RefSpot) []int {
	if len(r.cfg.Input.Tiles) > 0 {
		return append([]int(nil), r.cfg.Input.Tiles...)
	}
	seen := make(map[int]bool)
	var tiles []int
	for _, s := range refs {
		if !seen[s.Tile] {
			seen[s.Tile] = true
			tiles = append(tiles, s.Tile)
		}
	}
	sort.Ints(tiles)
	return tiles
}
