package spots

import (
	"gonum.org/v1/gonum/spatial/kdtree"
)

// spotPoint is a candidate position in physical units (z scaled) that
// remembers which candidate it came from.
type spotPoint struct {
	Y, X, Z float64
	ID      int
}

// Compare implements the kdtree.Comparable interface
func (p spotPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(spotPoint)
	switch d {
	case 0:
		return p.Y - q.Y
	case 1:
		return p.X - q.X
	case 2:
		return p.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns the number of dimensions for the KD-tree
func (p spotPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance between two points
func (p spotPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(spotPoint)
	dy := p.Y - q.Y
	dx := p.X - q.X
	dz := p.Z - q.Z
	return dy*dy + dx*dx + dz*dz
}

// spotPoints satisfies kdtree.Interface
type spotPoints []spotPoint

func (p spotPoints) Index(i int) kdtree.Comparable         { return p[i] }
func (p spotPoints) Len() int                              { return len(p) }
func (p spotPoints) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p spotPoints) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(spotPlane{spotPoints: p, Dim: d}, kdtree.MedianOfRandoms(spotPlane{spotPoints: p, Dim: d}, 100))
}

// spotPlane implements sort.Interface and kdtree.SortSlicer for spotPoints
type spotPlane struct {
	spotPoints
	kdtree.Dim
}

func (p spotPlane) Less(i, j int) bool {
	switch p.Dim {
	case 0:
		return p.spotPoints[i].Y < p.spotPoints[j].Y
	case 1:
		return p.spotPoints[i].X < p.spotPoints[j].X
	case 2:
		return p.spotPoints[i].Z < p.spotPoints[j].Z
	default:
		panic("illegal dimension")
	}
}

func (p spotPlane) Slice(start, end int) kdtree.SortSlicer {
	return spotPlane{spotPoints: p.spotPoints[start:end], Dim: p.Dim}
}

func (p spotPlane) Swap(i, j int) {
	p.spotPoints[i], p.spotPoints[j] = p.spotPoints[j], p.spotPoints[i]
}

// isolated reports, for every point, whether no other point lies closer
// than dist. zScale converts plane spacing to in-plane pixel units.
func isolated(peaks []genePeak, dist, zScale float64) []bool {
	out := make([]bool, len(peaks))
	if len(peaks) == 0 {
		return out
	}
	pts := make(spotPoints, len(peaks))
	for i, p := range peaks {
		pts[i] = spotPoint{Y: float64(p.Y), X: float64(p.X), Z: float64(p.Z) * zScale, ID: i}
	}
	queries := append(spotPoints(nil), pts...)
	tree := kdtree.New(pts, false)

	limit := dist * dist
	for i, q := range queries {
		keeper := kdtree.NewDistKeeper(limit)
		tree.NearestSet(keeper, q)
		out[i] = true
		for _, c := range keeper.Heap {
			if c.Comparable == nil || !(c.Dist < limit) {
				continue
			}
			if c.Comparable.(spotPoint).ID != q.ID {
				out[i] = false
				break
			}
		}
	}
	return out
}
