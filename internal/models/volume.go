package models

import "fmt"

// Volume is a dense 3D grid of float values over a tile region.
// A 2D image is a volume with Depth == 1.
type Volume struct {
	// Data is the 3D volume data as a 1D array in row-major order
	// (index = z*Width*Height + y*Width + x)
	Data []float64

	// Width is the number of voxels along x
	Width int

	// Height is the number of voxels along y
	Height int

	// Depth is the number of z-planes
	Depth int
}

// NewVolume allocates a zero-filled volume.
func NewVolume(width, height, depth int) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Index returns the linear index of (y, x, z).
func (v *Volume) Index(y, x, z int) int {
	return z*v.Width*v.Height + y*v.Width + x
}

// Coords is the inverse of Index.
func (v *Volume) Coords(idx int) (y, x, z int) {
	plane := v.Width * v.Height
	z = idx / plane
	rem := idx % plane
	return rem / v.Width, rem % v.Width, z
}

// Contains reports whether (y, x, z) lies inside the volume.
func (v *Volume) Contains(y, x, z int) bool {
	return y >= 0 && y < v.Height && x >= 0 && x < v.Width && z >= 0 && z < v.Depth
}

// At returns the value at (y, x, z).
func (v *Volume) At(y, x, z int) float64 {
	return v.Data[v.Index(y, x, z)]
}

// Set stores a value at (y, x, z).
func (v *Volume) Set(y, x, z int, val float64) {
	v.Data[v.Index(y, x, z)] = val
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Width * v.Height * v.Depth
}

// String describes the volume dimensions.
func (v *Volume) String() string {
	return fmt.Sprintf("%dx%dx%d", v.Height, v.Width, v.Depth)
}

// Location is an integer voxel position.
type Location struct {
	Y, X, Z int
}
