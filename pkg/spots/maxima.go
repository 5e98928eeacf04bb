// Package spots finds gene spots in per-gene coefficient volumes and scores
// them against a learned spot shape.
package spots

import "genecall/internal/models"

// Window is the set of offsets of an ellipsoidal neighbourhood with in-plane
// radius RadiusXY and cross-plane radius RadiusZ. The centre is excluded.
type Window struct {
	RadiusXY int
	RadiusZ  int
	Offsets  []models.Location
}

// NewWindow builds the ellipsoid offsets. RadiusZ == 0 gives a disc in the
// plane of the centre.
func NewWindow(radiusXY, radiusZ int) Window {
	w := Window{RadiusXY: radiusXY, RadiusZ: radiusZ}
	rxy2 := float64(radiusXY * radiusXY)
	for dz := -radiusZ; dz <= radiusZ; dz++ {
		for dy := -radiusXY; dy <= radiusXY; dy++ {
			for dx := -radiusXY; dx <= radiusXY; dx++ {
				if dy == 0 && dx == 0 && dz == 0 {
					continue
				}
				d := float64(dy*dy+dx*dx) / rxy2
				if radiusZ > 0 {
					d += float64(dz*dz) / float64(radiusZ*radiusZ)
				}
				if d <= 1 {
					w.Offsets = append(w.Offsets, models.Location{Y: dy, X: dx, Z: dz})
				}
			}
		}
	}
	return w
}

// Peak is a local maximum of a coefficient volume.
type Peak struct {
	models.Location
	Value float64
}

// IsLocalMax reports whether the voxel at (y, x, z) is positive and not
// exceeded by any voxel in the window. A voxel with an equal value and a
// lower linear index takes precedence, so plateaus give a single peak.
func (w Window) IsLocalMax(v *models.Volume, y, x, z int) bool {
	idx := v.Index(y, x, z)
	val := v.Data[idx]
	if !(val > 0) {
		return false
	}
	for _, o := range w.Offsets {
		ny, nx, nz := y+o.Y, x+o.X, z+o.Z
		if !v.Contains(ny, nx, nz) {
			continue
		}
		nIdx := v.Index(ny, nx, nz)
		nv := v.Data[nIdx]
		if nv > val || (nv == val && nIdx < idx) {
			return false
		}
	}
	return true
}

// LocalMaxima returns the peaks of v whose row lies in [y0, y1), in linear
// index order.
func (w Window) LocalMaxima(v *models.Volume, y0, y1 int) []Peak {
	if y0 < 0 {
		y0 = 0
	}
	if y1 > v.Height {
		y1 = v.Height
	}
	var peaks []Peak
	for z := 0; z < v.Depth; z++ {
		for y := y0; y < y1; y++ {
			for x := 0; x < v.Width; x++ {
				if w.IsLocalMax(v, y, x, z) {
					peaks = append(peaks, Peak{
						Location: models.Location{Y: y, X: x, Z: z},
						Value:    v.At(y, x, z),
					})
				}
			}
		}
	}
	return peaks
}
