package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"genecall/internal/models"
	"genecall/pkg/omp"
	"genecall/pkg/spots"
)

// ErrResourceExhausted is returned when a chunk would need more memory than
// processing.maxChunkBytes allows.
var ErrResourceExhausted = errors.New("chunk exceeds memory limit")

// chunkResult is the output of one row chunk.
type chunkResult struct {
	records           []models.SpotRecord
	candidates        int
	accepted          int
	screened          int
	numericalFailures int
	retries           int
}

func (c *chunkResult) add(o chunkResult) {
	c.records = append(c.records, o.records...)
	c.candidates += o.candidates
	c.accepted += o.accepted
	c.screened += o.screened
	c.numericalFailures += o.numericalFailures
	c.retries += o.retries
}

// ProcessTile decomposes a tile in row chunks, detects and gates its spots
// and writes the records to the sink.
func (r *Runner) ProcessTile(ctx context.Context, tile int, cal *Calibration) (TileSummary, error) {
	start := time.Now()
	colors, err := r.loader.LoadTile(tile)
	if err != nil {
		return TileSummary{}, err
	}
	if err := checkTile(colors, r.cfg.Input.Rounds, r.cfg.Input.Channels); err != nil {
		return TileSummary{}, err
	}

	var total chunkResult
	rows := r.cfg.Processing.ChunkRows
	for y0 := 0; y0 < colors.Height; y0 += rows {
		y1 := min(y0+rows, colors.Height)
		out, err := r.processRows(colors, cal, y0, y1)
		if err != nil {
			return TileSummary{}, err
		}
		total.add(out)
		r.log.Debug("Chunk done", "tile", tile, "rows", fmt.Sprintf("%d-%d", y0, y1), "spots", len(out.records))
	}

	if err := r.sink.WriteTile(ctx, tile, total.records); err != nil {
		return TileSummary{}, fmt.Errorf("writing records: %w", err)
	}
	return TileSummary{
		Tile:              tile,
		Candidates:        total.candidates,
		Accepted:          total.accepted,
		Records:           len(total.records),
		Screened:          total.screened,
		NumericalFailures: total.numericalFailures,
		Retries:           total.retries,
		Duration:          time.Since(start),
	}, nil
}

// processRows handles core rows [y0, y1). A chunk over the memory limit is
// retried once as two halves; a second failure is returned.
func (r *Runner) processRows(colors *models.TileColors, cal *Calibration, y0, y1 int) (chunkResult, error) {
	out, err := r.processChunk(colors, cal, y0, y1)
	if !errors.Is(err, ErrResourceExhausted) {
		return out, err
	}
	if y1-y0 < 2 {
		return chunkResult{}, err
	}

	mid := y0 + (y1-y0)/2
	r.log.Warn("Retrying chunk at half size", "tile", colors.Tile, "rows", fmt.Sprintf("%d-%d", y0, y1), "err", err)
	var res chunkResult
	for _, span := range [][2]int{{y0, mid}, {mid, y1}} {
		part, err := r.processChunk(colors, cal, span[0], span[1])
		if err != nil {
			return chunkResult{}, fmt.Errorf("after retry: %w", err)
		}
		res.add(part)
	}
	res.retries++
	return res, nil
}

// processChunk decomposes rows [y0, y1) plus a halo on each side so that
// local maxima and shape scores of core rows see the same neighbourhood as
// in the whole tile. Only spots on core rows are returned.
func (r *Runner) processChunk(colors *models.TileColors, cal *Calibration, y0, y1 int) (chunkResult, error) {
	halo := max(cal.Detect.Window.RadiusXY, cal.Shape.HalfHeight())
	ext0 := max(0, y0-halo)
	ext1 := min(colors.Height, y1+halo)

	need := chunkBytes(ext1-ext0, colors.Width, colors.Depth, colors.ColorLen(), cal.Dict.NumGenes())
	if need > r.cfg.Processing.MaxChunkBytes {
		return chunkResult{}, fmt.Errorf("%w: rows %d-%d need %d bytes, limit %d",
			ErrResourceExhausted, ext0, ext1, need, r.cfg.Processing.MaxChunkBytes)
	}

	sub, err := colors.Crop(ext0, ext1)
	if err != nil {
		return chunkResult{}, err
	}
	res, err := omp.DecomposeTile(sub, cal.Dict, cal.OMP, omp.TileOptions{
		NumWorkers:      r.cfg.Processing.NumWorkers,
		BackgroundShift: cal.BackgroundShift,
		Progress:        r.progress,
	})
	if err != nil {
		return chunkResult{}, err
	}

	cands := spots.Detect(res.Coefs, cal.Shape, cal.Detect, y0-ext0, y1-ext0)
	accepted := cal.Gate.Apply(cands)

	out := chunkResult{
		candidates:        len(cands),
		accepted:          accepted,
		screened:          res.Screened,
		numericalFailures: res.NumericalFailures,
	}
	for _, c := range cands {
		if !c.Accepted && !r.cfg.Output.KeepRejected {
			continue
		}
		pixel := res.Pixels[sub.PixelIndex(c.Y, c.X, c.Z)]
		loc := models.Location{Y: c.Y + ext0, X: c.X, Z: c.Z}
		out.records = append(out.records, newRecord(colors.Tile, loc, c, pixel, cal.Dict.Names))
	}

	return out, nil
}

// chunkBytes estimates the memory of a chunk: its colours plus one
// coefficient volume per gene.
func chunkBytes(rows, width, depth, colorLen, genes int) int64 {
	return int64(rows) * int64(width) * int64(depth) * int64(colorLen+genes) * 8
}
