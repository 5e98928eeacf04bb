package models

import "fmt"

// TileColors holds the registered intensity of every pixel of a tile in every
// round and channel. It is the read-only input of gene calling.
type TileColors struct {
	// Tile is the index of the tile in the experiment
	Tile int

	// Height, Width and Depth are the tile dimensions in pixels (Depth == 1 for 2D)
	Height, Width, Depth int

	// Rounds and Channels describe the colour vector of each pixel
	Rounds, Channels int

	// Data stores pixel colours contiguously. The colour of pixel p (linear
	// index as in Volume) starts at p*Rounds*Channels and is laid out as
	// r*Channels + c.
	Data []float64
}

// NewTileColors allocates an empty tile.
func NewTileColors(tile, height, width, depth, rounds, channels int) *TileColors {
	return &TileColors{
		Tile:     tile,
		Height:   height,
		Width:    width,
		Depth:    depth,
		Rounds:   rounds,
		Channels: channels,
		Data:     make([]float64, height*width*depth*rounds*channels),
	}
}

// ColorLen returns the length of one pixel colour vector.
func (t *TileColors) ColorLen() int {
	return t.Rounds * t.Channels
}

// NumPixels returns the number of pixels in the tile.
func (t *TileColors) NumPixels() int {
	return t.Height * t.Width * t.Depth
}

// PixelIndex returns the linear pixel index of (y, x, z).
func (t *TileColors) PixelIndex(y, x, z int) int {
	return z*t.Width*t.Height + y*t.Width + x
}

// Color returns the colour vector of the pixel with linear index p.
// The returned slice aliases the tile data and must not be modified.
func (t *TileColors) Color(p int) []float64 {
	n := t.ColorLen()
	return t.Data[p*n : (p+1)*n : (p+1)*n]
}

// ColorAt returns the colour vector at (y, x, z).
func (t *TileColors) ColorAt(y, x, z int) []float64 {
	return t.Color(t.PixelIndex(y, x, z))
}

// Set writes the intensity of one round/channel of a pixel.
func (t *TileColors) Set(y, x, z, r, c int, val float64) {
	t.Data[t.PixelIndex(y, x, z)*t.ColorLen()+r*t.Channels+c] = val
}

// Crop copies rows [y0, y1) of every plane into a new tile.
func (t *TileColors) Crop(y0, y1 int) (*TileColors, error) {
	if y0 < 0 || y1 > t.Height || y0 >= y1 {
		return nil, fmt.Errorf("invalid row range [%d, %d) for tile of height %d", y0, y1, t.Height)
	}
	out := NewTileColors(t.Tile, y1-y0, t.Width, t.Depth, t.Rounds, t.Channels)
	n := t.ColorLen()
	for z := 0; z < t.Depth; z++ {
		for y := y0; y < y1; y++ {
			src := t.PixelIndex(y, 0, z) * n
			dst := out.PixelIndex(y-y0, 0, z) * n
			copy(out.Data[dst:dst+t.Width*n], t.Data[src:src+t.Width*n])
		}
	}
	return out, nil
}

// CropBox copies a centred box of at most size x size pixels (all planes).
func (t *TileColors) CropBox(size int) *TileColors {
	h, w := size, size
	if h > t.Height {
		h = t.Height
	}
	if w > t.Width {
		w = t.Width
	}
	y0 := (t.Height - h) / 2
	x0 := (t.Width - w) / 2
	out := NewTileColors(t.Tile, h, w, t.Depth, t.Rounds, t.Channels)
	n := t.ColorLen()
	for z := 0; z < t.Depth; z++ {
		for y := 0; y < h; y++ {
			src := t.PixelIndex(y0+y, x0, z) * n
			dst := out.PixelIndex(y, 0, z) * n
			copy(out.Data[dst:dst+w*n], t.Data[src:src+w*n])
		}
	}
	return out
}
