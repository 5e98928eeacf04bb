package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"genecall/internal/models"
	"genecall/pkg/bleed"
	"genecall/pkg/cache"
	"genecall/pkg/calibrate"
	"genecall/pkg/codebook"
	"genecall/pkg/omp"
	"genecall/pkg/quality"
	"genecall/pkg/scoring"
	"genecall/pkg/spots"
	"genecall/pkg/tileio"
)

// Calibration holds every artefact derived before tile decomposition. It is
// not modified after Calibrate returns.
type Calibration struct {
	Codebook *codebook.Codebook
	Bleed    *bleed.Matrix
	Dict     *codebook.Dictionary

	BackgroundShift float64
	OMP             omp.Params

	Shape  *spots.Shape
	Detect spots.DetectParams
	Gate   quality.Gate

	// Reference holds the one-shot calls of every reference spot
	Reference []ReferenceCall
	Sanity    quality.SanityReport
}

// shifts are the scalar values derived from the calibration region.
type shifts struct {
	BackgroundShift float64 `json:"background_shift"`
	DpShift         float64 `json:"dp_shift"`
	IntensityThresh float64 `json:"intensity_thresh"`
}

// Calibrate computes, or loads from the cache, every calibration artefact in
// dependency order: shifts, bleed matrix, gene signatures, reference calls
// and the spot shape. The codebook and bleed matrix files are checked
// against the configured shape before the calibration tile is read.
func (r *Runner) Calibrate(ctx context.Context, tiles []int, refs []tileio.RefSpot) (*Calibration, error) {
	cfg := r.cfg
	rounds, channels := cfg.Input.Rounds, cfg.Input.Channels

	cb, err := codebook.Load(cfg.Input.CodebookPath)
	if err != nil {
		return nil, err
	}
	if err := cb.Validate(rounds, cfg.Bleed.Dyes); err != nil {
		return nil, err
	}

	bin, err := r.loadBleedInputs()
	if err != nil {
		return nil, err
	}

	calTile := cfg.Calibration.Tile
	if calTile < 0 {
		calTile = tiles[0]
	}
	colors, err := r.loader.LoadTile(calTile)
	if err != nil {
		return nil, fmt.Errorf("loading calibration tile %d: %w", calTile, err)
	}
	if err := checkTile(colors, rounds, channels); err != nil {
		return nil, err
	}
	region := colors.CropBox(cfg.Calibration.RegionSize)
	regionKey := fingerprint(region.Data)
	r.log.Debug("Calibration region", "tile", calTile, "size", fmt.Sprintf("%dx%dx%d", region.Height, region.Width, region.Depth))

	sh, err := r.calibrateShifts(ctx, region, regionKey)
	if err != nil {
		return nil, err
	}
	r.log.Info("Calibrated shifts", "background", sh.BackgroundShift, "dp", sh.DpShift, "intensity", sh.IntensityThresh)

	refColors, err := r.referenceColors(tiles, refs, colors)
	if err != nil {
		return nil, err
	}

	bm, err := r.bleedMatrix(ctx, bin, refColors, sh.BackgroundShift)
	if err != nil {
		return nil, err
	}
	dict, err := cb.Dictionary(bm)
	if err != nil {
		return nil, err
	}
	for _, g := range dict.Degenerate() {
		r.log.Warn("Gene has an empty signature round", "gene", dict.Names[g])
	}

	norm, err := scoring.ParseIntensityNorm(cfg.OMP.IntensityNorm)
	if err != nil {
		return nil, err
	}
	cal := &Calibration{
		Codebook:        cb,
		Bleed:           bm,
		Dict:            dict,
		BackgroundShift: sh.BackgroundShift,
		OMP: omp.Params{
			MaxGenes:        cfg.OMP.MaxGenes,
			DpThresh:        cfg.OMP.DpThresh,
			Alpha:           cfg.OMP.Alpha,
			Beta:            cfg.OMP.Beta,
			WeightCoefFit:   cfg.OMP.WeightCoefFit,
			DpShift:         sh.DpShift,
			IntensityNorm:   norm,
			IntensityThresh: sh.IntensityThresh,
		},
		Detect: spots.DetectParams{
			Window:        spots.NewWindow(cfg.Detect.RadiusXY, cfg.Detect.RadiusZ),
			PosMultiplier: cfg.Detect.PosMultiplier,
			NegMultiplier: cfg.Detect.NegMultiplier,
		},
		Gate: quality.Gate{
			ScoreThresh:     cfg.Detect.ScoreThresh,
			IntensityThresh: cfg.Detect.IntensityThresh,
		},
	}

	if err := r.callReference(cal, tiles, refColors); err != nil {
		return nil, err
	}

	shape, err := r.calibrateShape(ctx, cal, region, regionKey)
	if err != nil {
		return nil, err
	}
	cal.Shape = shape
	return cal, nil
}

// calibrateShifts derives the background shift from the raw region, then the
// dot-product shift and the intensity threshold from its background-removed
// colours.
func (r *Runner) calibrateShifts(ctx context.Context, region *models.TileColors, regionKey string) (shifts, error) {
	cfg := r.cfg
	bgBounds := calibrate.Bounds{Min: cfg.Background.ShiftMin, Max: cfg.Background.ShiftMax, Precision: cfg.Background.ShiftPrecision}
	dpBounds := calibrate.Bounds{Min: cfg.OMP.DpShiftMin, Max: cfg.OMP.DpShiftMax, Precision: cfg.OMP.DpShiftPrecision}
	threshBounds := calibrate.Bounds{Min: cfg.OMP.IntensityThreshMin, Max: cfg.OMP.IntensityThreshMax, Precision: cfg.OMP.IntensityPrecision}
	norm := scoring.IntensityNorm(cfg.OMP.IntensityNorm)

	key, err := cache.Key("shifts", regionKey, cfg.Background.ShiftMultiplier, bgBounds,
		cfg.OMP.DpShiftMultiplier, dpBounds, norm, cfg.OMP.IntensityPercentile, threshBounds)
	if err != nil {
		return shifts{}, err
	}
	art := cache.NewArtifact[shifts](r.cache, key)
	sh, err := art.Get(ctx, func(context.Context) (shifts, error) {
		rounds, channels := region.Rounds, region.Channels
		var s shifts
		s.BackgroundShift = calibrate.Shift(region.Data, cfg.Background.ShiftMultiplier, bgBounds)

		n := region.NumPixels()
		roundNorms := make([]float64, 0, n*rounds)
		intensities := make([]float64, n)
		for p := 0; p < n; p++ {
			fit := scoring.FitBackground(region.Color(p), rounds, channels, s.BackgroundShift)
			for rr := 0; rr < rounds; rr++ {
				roundNorms = append(roundNorms, floats.Norm(fit.Residual[rr*channels:(rr+1)*channels], 2))
			}
			intensities[p] = scoring.Intensity(fit.Residual, rounds, channels, norm)
		}
		s.DpShift = calibrate.Shift(roundNorms, cfg.OMP.DpShiftMultiplier, dpBounds)
		s.IntensityThresh = calibrate.Threshold(intensities, cfg.OMP.IntensityPercentile, threshBounds)
		return s, nil
	})
	if err != nil {
		return shifts{}, err
	}
	r.logArtifact("shifts", art.Hit(), art.WriteErr())
	return sh, nil
}

// bleedInputs holds the configured matrix files, read and shape-checked
// before any tile is loaded.
type bleedInputs struct {
	// matrix is a precomputed bleed matrix, used as is
	matrix *bleed.Matrix
	// seed starts the estimate; nil means the identity
	seed *bleed.Matrix
}

// loadBleedInputs loads the precomputed matrix or the estimation seed.
func (r *Runner) loadBleedInputs() (bleedInputs, error) {
	cfg := r.cfg
	if cfg.Bleed.MatrixPath != "" {
		bm, err := bleed.Load(cfg.Bleed.MatrixPath)
		if err != nil {
			return bleedInputs{}, err
		}
		if err := bm.CheckShape(cfg.Input.Rounds, cfg.Input.Channels, cfg.Bleed.Dyes); err != nil {
			return bleedInputs{}, fmt.Errorf("bleed matrix %s: %w", cfg.Bleed.MatrixPath, err)
		}
		return bleedInputs{matrix: bm}, nil
	}
	seed, err := r.bleedSeed()
	if err != nil {
		return bleedInputs{}, err
	}
	return bleedInputs{seed: seed}, nil
}

// bleedMatrix returns the precomputed matrix or estimates one from the
// background-removed reference colours.
func (r *Runner) bleedMatrix(ctx context.Context, in bleedInputs, refs []refColor, bgShift float64) (*bleed.Matrix, error) {
	cfg := r.cfg
	rounds, channels, dyes := cfg.Input.Rounds, cfg.Input.Channels, cfg.Bleed.Dyes

	if in.matrix != nil {
		r.log.Info("Loaded bleed matrix", "path", cfg.Bleed.MatrixPath)
		return in.matrix, nil
	}

	seed := in.seed
	colors := make([][]float64, len(refs))
	for i, ref := range refs {
		colors[i] = scoring.FitBackground(ref.Color, rounds, channels, bgShift).Residual
	}
	p := bleed.Params{
		Mode:           bleed.Mode(cfg.Bleed.Mode),
		Centroid:       bleed.CentroidMethod(cfg.Bleed.Centroid),
		ScoreThresh:    cfg.Bleed.ScoreThresh,
		MinClusterSize: cfg.Bleed.MinClusterSize,
		NIter:          cfg.Bleed.NIter,
		Anneal:         cfg.Bleed.Anneal,
	}

	key, err := cache.Key("bleed", fingerprintRows(colors), rounds, channels, dyes, p, seed)
	if err != nil {
		return nil, err
	}
	art := cache.NewArtifact[*bleed.Result](r.cache, key)
	res, err := art.Get(ctx, func(context.Context) (*bleed.Result, error) {
		return bleed.Estimate(colors, rounds, channels, dyes, seed, p)
	})
	if err != nil {
		return nil, fmt.Errorf("estimating bleed matrix: %w", err)
	}
	r.logArtifact("bleed matrix", art.Hit(), art.WriteErr())

	for _, rep := range res.Reports {
		if rep.Degenerate {
			r.log.Warn("Dye calibration failed, using a zero spectrum",
				"dye", rep.Dye, "round", rep.Round, "spots", rep.ClusterSize, "min", cfg.Bleed.MinClusterSize)
			continue
		}
		r.log.Debug("Dye calibrated", "dye", rep.Dye, "round", rep.Round, "spots", rep.ClusterSize,
			"iterations", rep.Iterations, "annealThresh", rep.AnnealThresh)
	}
	return res.Matrix, nil
}

// bleedSeed returns the configured seed matrix, or nil for the identity.
func (r *Runner) bleedSeed() (*bleed.Matrix, error) {
	cfg := r.cfg
	switch {
	case cfg.Bleed.SeedPath != "":
		seed, err := bleed.Load(cfg.Bleed.SeedPath)
		if err != nil {
			return nil, err
		}
		if err := seed.CheckShape(cfg.Input.Rounds, cfg.Input.Channels, cfg.Bleed.Dyes); err != nil {
			return nil, fmt.Errorf("seed matrix %s: %w", cfg.Bleed.SeedPath, err)
		}
		return seed, nil
	case cfg.Bleed.DyeCSV != "":
		return bleed.LoadDyeSeed(cfg.Bleed.DyeCSV, cfg.Input.Rounds, cfg.Bleed.DyeNames, cfg.Bleed.Cameras, cfg.Bleed.Lasers)
	}
	return nil, nil
}

// calibrateShape decomposes the calibration region and learns the spot shape
// from its coefficient volumes.
func (r *Runner) calibrateShape(ctx context.Context, cal *Calibration, region *models.TileColors, regionKey string) (*spots.Shape, error) {
	cfg := r.cfg
	sp := spots.ShapeParams{
		Window:             cal.Detect.Window,
		PosNeighbourThresh: cfg.Shape.PosNeighbourThresh,
		IsolationDist:      cfg.Shape.IsolationDist,
		ZScale:             cfg.Input.ZScale,
		MeanSignThresh:     cfg.Shape.MeanSignThresh,
		MaxHalfXY:          cfg.Shape.MaxHalfXY,
		MaxHalfZ:           cfg.Shape.MaxHalfZ,
	}
	key, err := cache.Key("shape", regionKey, fingerprint(cal.Bleed.Values), cal.Codebook.Genes,
		cal.BackgroundShift, cal.OMP, sp)
	if err != nil {
		return nil, err
	}
	art := cache.NewArtifact[*spots.Shape](r.cache, key)
	shape, err := art.Get(ctx, func(context.Context) (*spots.Shape, error) {
		res, err := omp.DecomposeTile(region, cal.Dict, cal.OMP, omp.TileOptions{
			NumWorkers:      cfg.Processing.NumWorkers,
			BackgroundShift: cal.BackgroundShift,
			Progress:        r.progress,
		})
		if err != nil {
			return nil, err
		}
		return spots.CalibrateShape(res.Coefs, sp)
	})
	if err != nil {
		return nil, fmt.Errorf("calibrating spot shape: %w", err)
	}
	r.logArtifact("spot shape", art.Hit(), art.WriteErr())
	r.log.Info("Spot shape", "spots", shape.NumSpots, "size", fmt.Sprintf("%dx%dx%d", shape.Height, shape.Width, shape.Depth))
	return shape, nil
}

func (r *Runner) logArtifact(name string, hit bool, writeErr error) {
	if hit {
		r.log.Debug("Loaded from cache", "artifact", name)
	}
	if writeErr != nil {
		r.log.Warn("Could not cache artifact", "artifact", name, "err", writeErr)
	}
}

func checkTile(colors *models.TileColors, rounds, channels int) error {
	if colors.Rounds != rounds || colors.Channels != channels {
		return fmt.Errorf("tile %d has %d rounds and %d channels, expected %d and %d",
			colors.Tile, colors.Rounds, colors.Channels, rounds, channels)
	}
	return nil
}

// fingerprint hashes the exact bit patterns of values.
func fingerprint(values []float64) string {
	h := sha256.New()
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func fingerprintRows(rows [][]float64) string {
	flat := make([]float64, 0, len(rows))
	for _, row := range rows {
		flat = append(flat, float64(len(row)))
		flat = append(flat, row...)
	}
	return fingerprint(flat)
}
