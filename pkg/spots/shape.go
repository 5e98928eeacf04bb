package spots

import (
	"errors"
	"fmt"
	"math"

	"genecall/internal/models"
)

// ErrNoIsolatedSpots is returned when shape calibration finds no spot that
// is both well supported and isolated.
var ErrNoIsolatedSpots = errors.New("no isolated spots found for shape calibration")

// ShapeParams controls spot shape calibration.
type ShapeParams struct {
	// Window finds candidate peaks
	Window Window

	// PosNeighbourThresh is the number of positive pixels a candidate
	// needs around it on its own plane
	PosNeighbourThresh int

	// IsolationDist is the minimum distance to any other candidate
	IsolationDist float64

	// ZScale is the z pixel size in units of the xy pixel size
	ZScale float64

	// MeanSignThresh zeroes template entries with a weaker average sign
	MeanSignThresh float64

	// MaxHalfXY and MaxHalfZ bound the averaged neighbourhood
	MaxHalfXY int
	MaxHalfZ  int
}

// Shape is the expected sign pattern of coefficients around a spot.
type Shape struct {
	Height int `json:"height"`
	Width  int `json:"width"`
	Depth  int `json:"depth"`

	// Centre of the spot inside the cropped box
	CentreY int `json:"centre_y"`
	CentreX int `json:"centre_x"`
	CentreZ int `json:"centre_z"`

	// Signs holds -1, 0 or +1 in z*Width*Height + y*Width + x order
	Signs []int8 `json:"signs"`

	// NumSpots is the number of spots averaged
	NumSpots int `json:"num_spots"`
}

// ShapeOffset is one nonzero template entry relative to the centre.
type ShapeOffset struct {
	models.Location
	Sign int8
}

// Offsets returns the nonzero entries of the template relative to its centre.
func (s *Shape) Offsets() []ShapeOffset {
	var out []ShapeOffset
	for z := 0; z < s.Depth; z++ {
		for y := 0; y < s.Height; y++ {
			for x := 0; x < s.Width; x++ {
				sign := s.Signs[z*s.Width*s.Height+y*s.Width+x]
				if sign == 0 {
					continue
				}
				out = append(out, ShapeOffset{
					Location: models.Location{Y: y - s.CentreY, X: x - s.CentreX, Z: z - s.CentreZ},
					Sign:     sign,
				})
			}
		}
	}
	return out
}

// HalfHeight returns the largest row distance from the centre to the box edge.
func (s *Shape) HalfHeight() int {
	return max(s.CentreY, s.Height-1-s.CentreY)
}

// genePeak is a peak of a specific gene's volume.
type genePeak struct {
	Peak
	Gene int
}

// CalibrateShape learns the spot shape from coefficient volumes of a sample
// region, one volume per gene.
func CalibrateShape(coefs []*models.Volume, p ShapeParams) (*Shape, error) {
	if p.PosNeighbourThresh < 1 || p.MaxHalfXY < 1 || p.MaxHalfZ < 0 {
		return nil, fmt.Errorf("invalid shape parameters %+v", p)
	}

	var candidates []genePeak
	for g, v := range coefs {
		for _, pk := range p.Window.LocalMaxima(v, 0, v.Height) {
			candidates = append(candidates, genePeak{Peak: pk, Gene: g})
		}
	}

	var supported []genePeak
	for _, c := range candidates {
		if wellSupported(coefs[c.Gene], c.Location, p.PosNeighbourThresh) {
			supported = append(supported, c)
		}
	}
	iso := isolated(supported, p.IsolationDist, p.ZScale)
	var chosen []genePeak
	for i, c := range supported {
		if iso[i] {
			chosen = append(chosen, c)
		}
	}
	if len(chosen) == 0 {
		return nil, fmt.Errorf("%w (%d candidates)", ErrNoIsolatedSpots, len(candidates))
	}

	depth := 1
	halfZ := 0
	if coefs[0].Depth > 1 {
		halfZ = p.MaxHalfZ
		depth = 2*halfZ + 1
	}
	side := 2*p.MaxHalfXY + 1
	mean := make([]float64, side*side*depth)
	for _, c := range chosen {
		v := coefs[c.Gene]
		for dz := -halfZ; dz <= halfZ; dz++ {
			for dy := -p.MaxHalfXY; dy <= p.MaxHalfXY; dy++ {
				for dx := -p.MaxHalfXY; dx <= p.MaxHalfXY; dx++ {
					y, x, z := c.Y+dy, c.X+dx, c.Z+dz
					if !v.Contains(y, x, z) {
						continue
					}
					i := (dz+halfZ)*side*side + (dy+p.MaxHalfXY)*side + (dx + p.MaxHalfXY)
					mean[i] += sign(v.At(y, x, z))
				}
			}
		}
	}

	signs := make([]int8, len(mean))
	for i, m := range mean {
		m /= float64(len(chosen))
		if math.Abs(m) < p.MeanSignThresh {
			continue
		}
		signs[i] = int8(sign(m))
	}

	shape := crop(signs, side, side, depth, p.MaxHalfXY, p.MaxHalfXY, halfZ)
	shape.NumSpots = len(chosen)
	return shape, nil
}

// wellSupported reports whether the odd square window around loc holds at
// least thresh positive pixels, and in 3D whether the pixels directly above
// and below are positive. Planes beyond the volume mirror the edge plane.
func wellSupported(v *models.Volume, loc models.Location, thresh int) bool {
	side := int(math.Ceil(math.Sqrt(float64(thresh))))
	if side%2 == 0 {
		side++
	}
	half := side / 2
	count := 0
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			y, x := loc.Y+dy, loc.X+dx
			if v.Contains(y, x, loc.Z) && v.At(y, x, loc.Z) > 0 {
				count++
			}
		}
	}
	if count < thresh {
		return false
	}
	if v.Depth > 1 {
		for _, dz := range []int{-1, 1} {
			z := min(max(loc.Z+dz, 0), v.Depth-1)
			if !(v.At(loc.Y, loc.X, z) > 0) {
				return false
			}
		}
	}
	return true
}

// crop shrinks a template to the tightest box holding its nonzero entries,
// keeping track of where the centre ends up.
func crop(signs []int8, height, width, depth, cy, cx, cz int) *Shape {
	y0, y1, x0, x1, z0, z1 := cy, cy, cx, cx, cz, cz
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				if signs[z*width*height+y*width+x] == 0 {
					continue
				}
				y0, y1 = min(y0, y), max(y1, y)
				x0, x1 = min(x0, x), max(x1, x)
				z0, z1 = min(z0, z), max(z1, z)
			}
		}
	}

	s := &Shape{
		Height:  y1 - y0 + 1,
		Width:   x1 - x0 + 1,
		Depth:   z1 - z0 + 1,
		CentreY: cy - y0,
		CentreX: cx - x0,
		CentreZ: cz - z0,
	}
	s.Signs = make([]int8, s.Height*s.Width*s.Depth)
	for z := z0; z <= z1; z++ {
		for y := y0; y <= y1; y++ {
			for x := x0; x <= x1; x++ {
				s.Signs[(z-z0)*s.Width*s.Height+(y-y0)*s.Width+(x-x0)] = signs[z*width*height+y*width+x]
			}
		}
	}
	return s
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
