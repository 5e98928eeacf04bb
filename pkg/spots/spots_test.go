package spots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecall/internal/models"
)

// paintSpot writes a spot with a positive 3x3 core peaking at the centre and a
// negative ring at Chebyshev distance 2
func paintSpot(v *models.Volume, cy, cx, cz int) {
	for dy := -2; dy <= 2; dy++ {
		for dx := -2; dx <= 2; dx++ {
			y, x := cy+dy, cx+dx
			if !v.Contains(y, x, cz) {
				continue
			}
			ady, adx := abs(dy), abs(dx)
			if max(ady, adx) <= 1 {
				v.Set(y, x, cz, 1-0.1*float64(ady+adx))
			} else {
				v.Set(y, x, cz, -0.5)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func shapeParams() ShapeParams {
	return ShapeParams{
		Window:             NewWindow(1, 0),
		PosNeighbourThresh: 9,
		IsolationDist:      10,
		ZScale:             1,
		MeanSignThresh:     0.1,
		MaxHalfXY:          3,
		MaxHalfZ:           1,
	}
}

// TestNewWindow verifies ellipsoid offsets
func TestNewWindow(t *testing.T) {
	assert.Len(t, NewWindow(1, 0).Offsets, 4)
	assert.Len(t, NewWindow(2, 0).Offsets, 12)
	assert.Len(t, NewWindow(1, 1).Offsets, 6)
	for _, o := range NewWindow(3, 0).Offsets {
		assert.Equal(t, 0, o.Z)
	}
}

// TestLocalMaximaPlateau checks that equal values resolve to the lowest linear index
func TestLocalMaximaPlateau(t *testing.T) {
	v := models.NewVolume(5, 5, 1)
	v.Set(2, 1, 0, 1)
	v.Set(2, 2, 0, 1)
	v.Set(4, 4, 0, -3)

	peaks := NewWindow(1, 0).LocalMaxima(v, 0, 5)
	require.Len(t, peaks, 1)
	assert.Equal(t, models.Location{Y: 2, X: 1, Z: 0}, peaks[0].Location)

	assert.Empty(t, NewWindow(1, 0).LocalMaxima(models.NewVolume(4, 4, 1), 0, 4))
}

// TestLocalMaximaRowRange verifies only peaks in the requested rows are returned
func TestLocalMaximaRowRange(t *testing.T) {
	v := models.NewVolume(6, 10, 1)
	v.Set(1, 1, 0, 1)
	v.Set(7, 3, 0, 1)

	w := NewWindow(1, 0)
	assert.Len(t, w.LocalMaxima(v, 0, 10), 2)
	peaks := w.LocalMaxima(v, 5, 10)
	require.Len(t, peaks, 1)
	assert.Equal(t, 7, peaks[0].Y)
}

// TestCalibrateShape learns the core and ring of synthetic isolated spots
func TestCalibrateShape(t *testing.T) {
	v := models.NewVolume(60, 60, 1)
	for _, c := range [][2]int{{10, 10}, {10, 40}, {40, 10}, {40, 40}} {
		paintSpot(v, c[0], c[1], 0)
	}

	shape, err := CalibrateShape([]*models.Volume{v}, shapeParams())
	require.NoError(t, err)
	assert.Equal(t, 4, shape.NumSpots)
	assert.Equal(t, 5, shape.Height)
	assert.Equal(t, 5, shape.Width)
	assert.Equal(t, 1, shape.Depth)
	assert.Equal(t, 2, shape.CentreY)
	assert.Equal(t, 2, shape.CentreX)
	assert.Equal(t, 2, shape.HalfHeight())

	pos, neg := 0, 0
	for _, o := range shape.Offsets() {
		if o.Sign > 0 {
			pos++
			assert.LessOrEqual(t, max(abs(o.Y), abs(o.X)), 1)
		} else {
			neg++
		}
	}
	assert.Equal(t, 9, pos)
	assert.Equal(t, 16, neg)

	// a perfect spot scores 1
	score := ShapeScore(v, models.Location{Y: 10, X: 10}, shape.Offsets(), 1, 1)
	assert.InDelta(t, 1, score, 1e-12)
}

// TestCalibrateShapeIsolation checks that a nearby well-supported spot of
// another gene disqualifies both spots
func TestCalibrateShapeIsolation(t *testing.T) {
	a := models.NewVolume(60, 60, 1)
	for _, c := range [][2]int{{10, 10}, {10, 40}, {40, 10}} {
		paintSpot(a, c[0], c[1], 0)
	}
	b := models.NewVolume(60, 60, 1)
	paintSpot(b, 10, 16, 0)

	shape, err := CalibrateShape([]*models.Volume{a, b}, shapeParams())
	require.NoError(t, err)
	assert.Equal(t, 2, shape.NumSpots)
}

// TestCalibrateShapeIgnoresUnsupportedNeighbours checks that a lone pixel
// peak does not count against a nearby spot
func TestCalibrateShapeIgnoresUnsupportedNeighbours(t *testing.T) {
	a := models.NewVolume(60, 60, 1)
	for _, c := range [][2]int{{10, 10}, {10, 40}, {40, 10}} {
		paintSpot(a, c[0], c[1], 0)
	}
	b := models.NewVolume(60, 60, 1)
	b.Set(10, 13, 0, 1)

	shape, err := CalibrateShape([]*models.Volume{a, b}, shapeParams())
	require.NoError(t, err)
	assert.Equal(t, 3, shape.NumSpots)
}

// TestIsolatedStrictDistance treats a neighbour at exactly the isolation
// distance as far enough away
func TestIsolatedStrictDistance(t *testing.T) {
	peak := func(y, x, z int) genePeak {
		return genePeak{Peak: Peak{Location: models.Location{Y: y, X: x, Z: z}}}
	}
	assert.Equal(t, []bool{true, true}, isolated([]genePeak{peak(0, 0, 0), peak(0, 10, 0)}, 10, 1))
	assert.Equal(t, []bool{false, false}, isolated([]genePeak{peak(0, 0, 0), peak(0, 9, 0)}, 10, 1))
	// z spacing is scaled before measuring
	assert.Equal(t, []bool{true, true}, isolated([]genePeak{peak(0, 0, 0), peak(0, 0, 5)}, 10, 2))
	assert.Equal(t, []bool{false, false}, isolated([]genePeak{peak(0, 0, 0), peak(0, 0, 4)}, 10, 2))
	assert.Equal(t, []bool{true}, isolated([]genePeak{peak(3, 3, 0)}, 10, 1))
}

// TestCalibrateShapeNoSpots verifies the fatal error when nothing qualifies
func TestCalibrateShapeNoSpots(t *testing.T) {
	v := models.NewVolume(20, 20, 1)
	v.Set(5, 5, 0, 1)
	_, err := CalibrateShape([]*models.Volume{v}, shapeParams())
	assert.ErrorIs(t, err, ErrNoIsolatedSpots)
}

// TestWellSupported3D requires positive pixels on both adjacent planes
func TestWellSupported3D(t *testing.T) {
	v := models.NewVolume(7, 7, 3)
	for z := 0; z < 3; z++ {
		for y := 2; y <= 4; y++ {
			for x := 2; x <= 4; x++ {
				v.Set(y, x, z, 1)
			}
		}
	}
	assert.True(t, wellSupported(v, models.Location{Y: 3, X: 3, Z: 1}, 9))
	assert.False(t, wellSupported(v, models.Location{Y: 2, X: 2, Z: 1}, 9))

	// edge planes mirror themselves, so only the inner neighbour is checked
	assert.True(t, wellSupported(v, models.Location{Y: 3, X: 3, Z: 0}, 9))
	assert.True(t, wellSupported(v, models.Location{Y: 3, X: 3, Z: 2}, 9))
	v.Set(3, 3, 1, 0)
	assert.False(t, wellSupported(v, models.Location{Y: 3, X: 3, Z: 0}, 9))
	assert.False(t, wellSupported(v, models.Location{Y: 3, X: 3, Z: 2}, 9))
}

// TestShapeScoreOutOfBounds checks offsets outside the volume count as mismatches
func TestShapeScoreOutOfBounds(t *testing.T) {
	v := models.NewVolume(10, 10, 1)
	paintSpot(v, 5, 5, 0)
	paintSpot(v, 0, 0, 0)
	offsets := []ShapeOffset{
		{Location: models.Location{}, Sign: 1},
		{Location: models.Location{Y: -1}, Sign: 1},
		{Location: models.Location{Y: 2}, Sign: -1},
	}
	assert.InDelta(t, 1, ShapeScore(v, models.Location{Y: 5, X: 5}, offsets, 1, 1), 1e-12)
	assert.InDelta(t, 2.0/3, ShapeScore(v, models.Location{Y: 0, X: 0}, offsets, 1, 1), 1e-12)
	// negative matches weighted twice as much
	assert.InDelta(t, 3.0/4, ShapeScore(v, models.Location{Y: 0, X: 0}, offsets, 1, 2), 1e-12)
}

// TestDetect scores every peak and reports the peak coefficient as intensity
func TestDetect(t *testing.T) {
	v := models.NewVolume(30, 30, 1)
	paintSpot(v, 8, 8, 0)
	paintSpot(v, 20, 20, 0)
	shape := &Shape{Height: 1, Width: 1, Depth: 1, Signs: []int8{1}}

	cands := Detect([]*models.Volume{v}, shape, DetectParams{
		Window: NewWindow(1, 0), PosMultiplier: 1, NegMultiplier: 1,
	}, 0, 15)
	require.Len(t, cands, 1)
	assert.Equal(t, 8, cands[0].Y)
	assert.Equal(t, 0, cands[0].Gene)
	assert.Equal(t, 1.0, cands[0].Intensity)
	assert.Equal(t, 1.0, cands[0].Score)
}
