// Package config provides configuration loading and management for genecall.
// It handles loading configuration from YAML files, provides default values
// and validates every parameter before any pixel is processed.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of goroutines decomposing pixels in parallel
		NumWorkers int `yaml:"numWorkers"`

		// ChunkRows is the number of tile rows decomposed together
		ChunkRows int `yaml:"chunkRows"`

		// MaxChunkBytes bounds the memory estimate of one chunk
		MaxChunkBytes int64 `yaml:"maxChunkBytes"`

		// Force reprocesses tiles that already have output
		Force bool `yaml:"force"`
	} `yaml:"processing"`

	// Input data description
	Input struct {
		// TileDir holds one sub-directory per tile with registered planes
		TileDir string `yaml:"tileDir"`

		// Tiles lists the tiles to process
		Tiles []int `yaml:"tiles"`

		// Rounds and Channels are the imaging rounds and channels used
		Rounds   int `yaml:"rounds"`
		Channels int `yaml:"channels"`

		// PixelShift is subtracted from raw uint16 pixel values
		PixelShift float64 `yaml:"pixelShift"`

		// ZScale is pixel_size_z / pixel_size_xy
		ZScale float64 `yaml:"zScale"`

		// CodebookPath points at a text or TOML codebook
		CodebookPath string `yaml:"codebookPath"`

		// ReferenceSpotsPath is a CSV of reference-round spot positions
		ReferenceSpotsPath string `yaml:"referenceSpotsPath"`
	} `yaml:"input"`

	// Bleed matrix calibration
	Bleed struct {
		// Dyes is the number of fluorescent labels
		Dyes int `yaml:"dyes"`

		// Mode is "single" (one matrix for all rounds) or "separate"
		Mode string `yaml:"mode"`

		// Centroid is "mean" (score-weighted mean) or "eigen"
		Centroid string `yaml:"centroid"`

		ScoreThresh    float64 `yaml:"scoreThresh"`
		MinClusterSize int     `yaml:"minClusterSize"`
		NIter          int     `yaml:"nIter"`
		Anneal         bool    `yaml:"anneal"`

		// MatrixPath loads a precomputed bleed matrix instead of estimating one
		MatrixPath string `yaml:"matrixPath"`

		// SeedPath loads a seed matrix for the estimator
		SeedPath string `yaml:"seedPath"`

		// DyeCSV, DyeNames, Cameras and Lasers build a seed from a dye intensity table
		DyeCSV   string   `yaml:"dyeCSV"`
		DyeNames []string `yaml:"dyeNames"`
		Cameras  []int    `yaml:"cameras"`
		Lasers   []int    `yaml:"lasers"`
	} `yaml:"bleed"`

	// Background fitting
	Background struct {
		ShiftMultiplier float64 `yaml:"shiftMultiplier"`
		ShiftMin        float64 `yaml:"shiftMin"`
		ShiftMax        float64 `yaml:"shiftMax"`
		ShiftPrecision  float64 `yaml:"shiftPrecision"`
	} `yaml:"background"`

	// OMP decomposition
	OMP struct {
		MaxGenes      int     `yaml:"maxGenes"`
		DpThresh      float64 `yaml:"dpThresh"`
		Alpha         float64 `yaml:"alpha"`
		Beta          float64 `yaml:"beta"`
		WeightCoefFit bool    `yaml:"weightCoefFit"`

		DpShiftMultiplier float64 `yaml:"dpShiftMultiplier"`
		DpShiftMin        float64 `yaml:"dpShiftMin"`
		DpShiftMax        float64 `yaml:"dpShiftMax"`
		DpShiftPrecision  float64 `yaml:"dpShiftPrecision"`

		// IntensityNorm is "l2", "max_abs" or "round_min"
		IntensityNorm       string  `yaml:"intensityNorm"`
		IntensityPercentile float64 `yaml:"intensityPercentile"`
		IntensityThreshMin  float64 `yaml:"intensityThreshMin"`
		IntensityThreshMax  float64 `yaml:"intensityThreshMax"`
		IntensityPrecision  float64 `yaml:"intensityPrecision"`
	} `yaml:"omp"`

	// Calibration region shared by shift, threshold and shape calibration
	Calibration struct {
		// Tile is the tile sampled; -1 selects the first processed tile
		Tile int `yaml:"tile"`

		// RegionSize is the side of the centred sample box in pixels
		RegionSize int `yaml:"regionSize"`
	} `yaml:"calibration"`

	// Spot shape calibration
	Shape struct {
		PosNeighbourThresh int     `yaml:"posNeighbourThresh"`
		IsolationDist      float64 `yaml:"isolationDist"`
		MeanSignThresh     float64 `yaml:"meanSignThresh"`
		MaxHalfXY          int     `yaml:"maxHalfXY"`
		MaxHalfZ           int     `yaml:"maxHalfZ"`
	} `yaml:"shape"`

	// Spot detection and acceptance
	Detect struct {
		RadiusXY        int     `yaml:"radiusXY"`
		RadiusZ         int     `yaml:"radiusZ"`
		PosMultiplier   float64 `yaml:"posMultiplier"`
		NegMultiplier   float64 `yaml:"negMultiplier"`
		ScoreThresh     float64 `yaml:"scoreThresh"`
		IntensityThresh float64 `yaml:"intensityThresh"`
	} `yaml:"detect"`

	// Reference spot acceptance
	Reference struct {
		ScoreThresh     float64 `yaml:"scoreThresh"`
		IntensityThresh float64 `yaml:"intensityThresh"`
	} `yaml:"reference"`

	// Post-hoc sanity checks
	Sanity struct {
		MinSpots      int     `yaml:"minSpots"`
		ErrorFraction float64 `yaml:"errorFraction"`
	} `yaml:"sanity"`

	// Calibration artefact cache
	Cache struct {
		Disabled  bool   `yaml:"disabled"`
		Dir       string `yaml:"dir"`
		RedisAddr string `yaml:"redisAddr"`
	} `yaml:"cache"`

	// Output parameters
	Output struct {
		// Dir receives one JSON file per tile
		Dir string `yaml:"dir"`

		// MongoURI, when set, sends records to MongoDB instead
		MongoURI string `yaml:"mongoURI"`
		MongoDB  string `yaml:"mongoDB"`

		// KeepRejected also writes spots that failed the quality gate
		KeepRejected bool `yaml:"keepRejected"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.ChunkRows = 256
	cfg.Processing.MaxChunkBytes = 2 << 30

	cfg.Input.TileDir = "tiles"
	cfg.Input.Rounds = 7
	cfg.Input.Channels = 7
	cfg.Input.PixelShift = 15000
	cfg.Input.ZScale = 1
	cfg.Input.CodebookPath = "codebook.txt"
	cfg.Input.ReferenceSpotsPath = "reference_spots.csv"

	cfg.Bleed.Dyes = 7
	cfg.Bleed.Mode = "single"
	cfg.Bleed.Centroid = "mean"
	cfg.Bleed.ScoreThresh = 0
	cfg.Bleed.MinClusterSize = 10
	cfg.Bleed.NIter = 100
	cfg.Bleed.Anneal = true

	cfg.Background.ShiftMultiplier = 1
	cfg.Background.ShiftMin = 0.001
	cfg.Background.ShiftMax = 0.1
	cfg.Background.ShiftPrecision = 0.001

	cfg.OMP.MaxGenes = 6
	cfg.OMP.DpThresh = 0.225
	cfg.OMP.Alpha = 120
	cfg.OMP.Beta = 1
	cfg.OMP.DpShiftMultiplier = 1
	cfg.OMP.DpShiftMin = 0.001
	cfg.OMP.DpShiftMax = 0.1
	cfg.OMP.DpShiftPrecision = 0.001
	cfg.OMP.IntensityNorm = "round_min"
	cfg.OMP.IntensityPercentile = 25
	cfg.OMP.IntensityThreshMin = 0.001
	cfg.OMP.IntensityThreshMax = 0.2
	cfg.OMP.IntensityPrecision = 0.001

	cfg.Calibration.Tile = -1
	cfg.Calibration.RegionSize = 400

	cfg.Shape.PosNeighbourThresh = 9
	cfg.Shape.IsolationDist = 10
	cfg.Shape.MeanSignThresh = 0.1
	cfg.Shape.MaxHalfXY = 13
	cfg.Shape.MaxHalfZ = 4

	cfg.Detect.RadiusXY = 3
	cfg.Detect.RadiusZ = 2
	cfg.Detect.PosMultiplier = 1
	cfg.Detect.NegMultiplier = 1
	cfg.Detect.ScoreThresh = 0.15
	cfg.Detect.IntensityThresh = 0.01

	cfg.Reference.ScoreThresh = 0.5
	cfg.Reference.IntensityThresh = 0.15

	cfg.Sanity.MinSpots = 10
	cfg.Sanity.ErrorFraction = 0.5

	cfg.Cache.Dir = ".genecall-cache"

	cfg.Output.Dir = "output"
	cfg.Output.MongoDB = "genecall"
	cfg.Output.Verbose = false

	return cfg
}

// Validate checks every parameter range. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Processing.NumWorkers >= 1, "processing.numWorkers must be >= 1, got %d", c.Processing.NumWorkers)
	check(c.Processing.ChunkRows >= 1, "processing.chunkRows must be >= 1, got %d", c.Processing.ChunkRows)
	check(c.Processing.MaxChunkBytes > 0, "processing.maxChunkBytes must be > 0")

	check(c.Input.Rounds >= 1, "input.rounds must be >= 1, got %d", c.Input.Rounds)
	check(c.Input.Channels >= 1, "input.channels must be >= 1, got %d", c.Input.Channels)
	check(c.Input.ZScale > 0, "input.zScale must be > 0, got %g", c.Input.ZScale)

	check(c.Bleed.Dyes >= 1, "bleed.dyes must be >= 1, got %d", c.Bleed.Dyes)
	check(c.Bleed.Mode == "single" || c.Bleed.Mode == "separate",
		"bleed.mode must be single or separate, got %q", c.Bleed.Mode)
	check(c.Bleed.Centroid == "mean" || c.Bleed.Centroid == "eigen",
		"bleed.centroid must be mean or eigen, got %q", c.Bleed.Centroid)
	check(c.Bleed.ScoreThresh >= 0 && c.Bleed.ScoreThresh < 1,
		"bleed.scoreThresh must be in [0, 1), got %g", c.Bleed.ScoreThresh)
	check(c.Bleed.MinClusterSize >= 1, "bleed.minClusterSize must be >= 1, got %d", c.Bleed.MinClusterSize)
	check(c.Bleed.NIter >= 1, "bleed.nIter must be >= 1, got %d", c.Bleed.NIter)
	if c.Bleed.DyeCSV != "" {
		check(len(c.Bleed.DyeNames) == c.Bleed.Dyes,
			"bleed.dyeNames has %d entries, expected %d", len(c.Bleed.DyeNames), c.Bleed.Dyes)
		check(len(c.Bleed.Cameras) == c.Input.Channels && len(c.Bleed.Lasers) == c.Input.Channels,
			"bleed.cameras and bleed.lasers need one entry per channel")
	}

	errs = append(errs, checkRange("background.shift", c.Background.ShiftMin, c.Background.ShiftMax,
		c.Background.ShiftPrecision, c.Background.ShiftMultiplier)...)
	errs = append(errs, checkRange("omp.dpShift", c.OMP.DpShiftMin, c.OMP.DpShiftMax,
		c.OMP.DpShiftPrecision, c.OMP.DpShiftMultiplier)...)
	errs = append(errs, checkRange("omp.intensityThresh", c.OMP.IntensityThreshMin, c.OMP.IntensityThreshMax,
		c.OMP.IntensityPrecision, 1)...)

	check(c.OMP.MaxGenes >= 1, "omp.maxGenes must be >= 1, got %d", c.OMP.MaxGenes)
	check(c.OMP.DpThresh > 0 && c.OMP.DpThresh <= 1, "omp.dpThresh must be in (0, 1], got %g", c.OMP.DpThresh)
	check(c.OMP.Alpha >= 0, "omp.alpha must be >= 0, got %g", c.OMP.Alpha)
	check(c.OMP.Beta > 0, "omp.beta must be > 0, got %g", c.OMP.Beta)
	check(c.OMP.IntensityNorm == "l2" || c.OMP.IntensityNorm == "max_abs" || c.OMP.IntensityNorm == "round_min",
		"omp.intensityNorm must be l2, max_abs or round_min, got %q", c.OMP.IntensityNorm)
	check(c.OMP.IntensityPercentile >= 0 && c.OMP.IntensityPercentile <= 100,
		"omp.intensityPercentile must be in [0, 100], got %g", c.OMP.IntensityPercentile)

	check(c.Calibration.RegionSize >= 1, "calibration.regionSize must be >= 1, got %d", c.Calibration.RegionSize)
	if c.Calibration.Tile >= 0 && len(c.Input.Tiles) > 0 {
		check(contains(c.Input.Tiles, c.Calibration.Tile),
			"calibration.tile %d is not in input.tiles", c.Calibration.Tile)
	}

	check(c.Shape.PosNeighbourThresh >= 1, "shape.posNeighbourThresh must be >= 1, got %d", c.Shape.PosNeighbourThresh)
	check(c.Shape.IsolationDist > 0, "shape.isolationDist must be > 0, got %g", c.Shape.IsolationDist)
	check(c.Shape.MeanSignThresh >= 0 && c.Shape.MeanSignThresh < 1,
		"shape.meanSignThresh must be in [0, 1), got %g", c.Shape.MeanSignThresh)
	check(c.Shape.MaxHalfXY >= 1, "shape.maxHalfXY must be >= 1, got %d", c.Shape.MaxHalfXY)
	check(c.Shape.MaxHalfZ >= 0, "shape.maxHalfZ must be >= 0, got %d", c.Shape.MaxHalfZ)

	check(c.Detect.RadiusXY >= 1, "detect.radiusXY must be >= 1, got %d", c.Detect.RadiusXY)
	check(c.Detect.RadiusZ >= 0, "detect.radiusZ must be >= 0, got %d", c.Detect.RadiusZ)
	check(c.Detect.PosMultiplier > 0, "detect.posMultiplier must be > 0, got %g", c.Detect.PosMultiplier)
	check(c.Detect.NegMultiplier > 0, "detect.negMultiplier must be > 0, got %g", c.Detect.NegMultiplier)
	check(c.Detect.ScoreThresh >= 0 && c.Detect.ScoreThresh < 1,
		"detect.scoreThresh must be in [0, 1), got %g", c.Detect.ScoreThresh)
	check(c.Detect.IntensityThresh >= 0, "detect.intensityThresh must be >= 0, got %g", c.Detect.IntensityThresh)

	check(c.Reference.ScoreThresh >= -1 && c.Reference.ScoreThresh < 1,
		"reference.scoreThresh must be in [-1, 1), got %g", c.Reference.ScoreThresh)
	check(c.Reference.IntensityThresh >= 0, "reference.intensityThresh must be >= 0, got %g", c.Reference.IntensityThresh)

	check(c.Sanity.MinSpots >= 0, "sanity.minSpots must be >= 0, got %d", c.Sanity.MinSpots)
	check(c.Sanity.ErrorFraction >= 0 && c.Sanity.ErrorFraction <= 1,
		"sanity.errorFraction must be in [0, 1], got %g", c.Sanity.ErrorFraction)

	check(c.Output.Dir != "" || c.Output.MongoURI != "", "output.dir or output.mongoURI is required")

	return errors.Join(errs...)
}

// checkRange validates a clamp range, rounding grid and statistic multiplier.
// The lower bound must be strictly positive so that zero signal never passes.
func checkRange(name string, lo, hi, precision, multiplier float64) []error {
	var errs []error
	if lo <= 0 {
		errs = append(errs, fmt.Errorf("%sMin must be > 0, got %g", name, lo))
	}
	if hi < lo {
		errs = append(errs, fmt.Errorf("%sMax (%g) must be >= %sMin (%g)", name, hi, name, lo))
	}
	if precision <= 0 || precision > lo {
		errs = append(errs, fmt.Errorf("%s precision must be in (0, %g], got %g", name, lo, precision))
	}
	if multiplier <= 0 {
		errs = append(errs, fmt.Errorf("%s multiplier must be > 0, got %g", name, multiplier))
	}
	return errs
}

func contains(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

// LoadConfig reads a YAML configuration file over the defaults. Keys absent
// from the file keep their default value; unknown keys are an error.
func LoadConfig(configPath string) (*Config, error) {
	f, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	cfg := DefaultConfig()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig writes cfg as YAML, creating parent directories.
func SaveConfig(cfg *Config, configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(configPath, data, 0644)
}

// CreateDefaultConfigFile writes the default configuration to configPath.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
