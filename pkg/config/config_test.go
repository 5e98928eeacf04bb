package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultConfigIsValid verifies that the defaults pass validation
func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
}

// TestValidateRejectsOutOfRange checks that each bad parameter is fatal
func TestValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"max genes", func(c *Config) { c.OMP.MaxGenes = 0 }, "omp.maxGenes"},
		{"dp thresh", func(c *Config) { c.OMP.DpThresh = 1.5 }, "omp.dpThresh"},
		{"beta", func(c *Config) { c.OMP.Beta = 0 }, "omp.beta"},
		{"bleed mode", func(c *Config) { c.Bleed.Mode = "global" }, "bleed.mode"},
		{"shift min", func(c *Config) { c.Background.ShiftMin = 0 }, "background.shiftMin"},
		{"shift order", func(c *Config) { c.OMP.DpShiftMax = 0.0001 }, "omp.dpShiftMax"},
		{"precision", func(c *Config) { c.OMP.IntensityPrecision = 1 }, "omp.intensityThresh precision"},
		{"norm", func(c *Config) { c.OMP.IntensityNorm = "l1" }, "omp.intensityNorm"},
		{"radius", func(c *Config) { c.Detect.RadiusXY = 0 }, "detect.radiusXY"},
		{"calibration tile", func(c *Config) {
			c.Input.Tiles = []int{0, 1}
			c.Calibration.Tile = 5
		}, "calibration.tile"},
		{"dye csv", func(c *Config) { c.Bleed.DyeCSV = "dyes.csv" }, "bleed.dyeNames"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// TestValidateReportsAllErrors verifies errors are joined rather than short-circuited
func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OMP.MaxGenes = 0
	cfg.Detect.RadiusXY = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "omp.maxGenes")
	assert.Contains(t, err.Error(), "detect.radiusXY")
}

// TestLoadConfigMissingFile reports a missing file instead of falling back to defaults
func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

// TestLoadConfigEmptyFile returns the defaults
func TestLoadConfigEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

// TestLoadConfigUnknownKey rejects misspelled keys
func TestLoadConfigUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "typo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("omp:\n  maxGene: 3\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maxGene")
}

// TestSaveAndLoadConfig round-trips a modified configuration through disk
func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "genecall.yaml")
	cfg := DefaultConfig()
	cfg.OMP.DpThresh = 0.3
	cfg.Input.Tiles = []int{3, 4}

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.3, loaded.OMP.DpThresh)
	assert.Equal(t, []int{3, 4}, loaded.Input.Tiles)
}

// TestLoadConfigPartialOverride keeps defaults for keys absent from the file
func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("omp:\n  maxGenes: 3\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.OMP.MaxGenes)
	assert.Equal(t, DefaultConfig().OMP.DpThresh, cfg.OMP.DpThresh)
}

// TestLoadConfigInvalidYAML reports parse failures
func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("omp: [\n"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}
