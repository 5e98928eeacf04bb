// Package tileio reads registered tile planes and reference spot lists.
//
// A tile directory holds one 16-bit grayscale plane per round, channel and
// z-plane, named r<R>_c<C>_z<Z> with a .tif, .tiff or .png extension:
//
//	<dir>/t<T>/r0_c0_z0.tif
//	<dir>/t<T>/r0_c1_z0.tif
//	...
package tileio

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
	"golang.org/x/sync/errgroup"

	"genecall/internal/models"
)

// ErrMissingPlane is returned when a tile lacks a round/channel/z plane.
var ErrMissingPlane = errors.New("missing tile plane")

var planeName = regexp.MustCompile(`^r(\d+)_c(\d+)_z(\d+)\.(tif|tiff|png)$`)

// Loader reads tiles from a directory tree.
type Loader struct {
	Dir        string
	Rounds     int
	Channels   int
	PixelShift float64

	// NumWorkers bounds concurrent plane decoding
	NumWorkers int
}

type planeKey struct {
	r, c, z int
}

// TileDir returns the directory of a tile.
func TileDir(dir string, tile int) string {
	return filepath.Join(dir, fmt.Sprintf("t%d", tile))
}

// PlanePath returns the path of one plane with the given extension.
func PlanePath(dir string, tile, round, channel, z int, ext string) string {
	return filepath.Join(TileDir(dir, tile), fmt.Sprintf("r%d_c%d_z%d.%s", round, channel, z, ext))
}

// LoadTile reads every plane of a tile into pixel colour vectors.
func (l Loader) LoadTile(tile int) (*models.TileColors, error) {
	dir := TileDir(l.Dir, tile)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading tile %d: %w", tile, err)
	}

	paths := make(map[planeKey]string)
	depth := 0
	for _, e := range entries {
		m := planeName.FindStringSubmatch(strings.ToLower(e.Name()))
		if m == nil {
			continue
		}
		k := planeKey{atoi(m[1]), atoi(m[2]), atoi(m[3])}
		if k.r >= l.Rounds || k.c >= l.Channels {
			continue
		}
		paths[k] = filepath.Join(dir, e.Name())
		if k.z+1 > depth {
			depth = k.z + 1
		}
	}
	if depth == 0 {
		return nil, fmt.Errorf("tile %d: no planes found in %s", tile, dir)
	}

	keys := make([]planeKey, 0, l.Rounds*l.Channels*depth)
	for z := 0; z < depth; z++ {
		for r := 0; r < l.Rounds; r++ {
			for c := 0; c < l.Channels; c++ {
				k := planeKey{r, c, z}
				if _, ok := paths[k]; !ok {
					return nil, fmt.Errorf("tile %d round %d channel %d z %d: %w", tile, r, c, z, ErrMissingPlane)
				}
				keys = append(keys, k)
			}
		}
	}

	planes := make([]*image.Gray16, len(keys))
	var g errgroup.Group
	if l.NumWorkers > 0 {
		g.SetLimit(l.NumWorkers)
	}
	for i, k := range keys {
		g.Go(func() error {
			img, err := LoadPlane(paths[k])
			if err != nil {
				return fmt.Errorf("loading %s: %w", paths[k], err)
			}
			planes[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bounds := planes[0].Bounds()
	height, width := bounds.Dy(), bounds.Dx()
	colors := models.NewTileColors(tile, height, width, depth, l.Rounds, l.Channels)
	for i, k := range keys {
		b := planes[i].Bounds()
		if b.Dx() != width || b.Dy() != height {
			return nil, fmt.Errorf("tile %d: plane %s is %dx%d, expected %dx%d",
				tile, paths[k], b.Dy(), b.Dx(), height, width)
		}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v := planes[i].Gray16At(b.Min.X+x, b.Min.Y+y).Y
				colors.Set(y, x, k.z, k.r, k.c, float64(v)-l.PixelShift)
			}
		}
	}
	return colors, nil
}

// LoadPlane decodes a TIFF or PNG file as 16-bit grayscale.
func LoadPlane(path string) (*image.Gray16, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		img, err = tiff.Decode(file)
	case ".png":
		img, err = png.Decode(file)
	default:
		return nil, fmt.Errorf("unsupported plane format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return toGray16(img), nil
}

// SavePlane encodes a plane as TIFF or PNG according to the path extension.
func SavePlane(path string, img *image.Gray16) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	case ".png":
		err = png.Encode(file, img)
	default:
		err = fmt.Errorf("unsupported plane format %q", filepath.Ext(path))
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func toGray16(img image.Image) *image.Gray16 {
	if g, ok := img.(*image.Gray16); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray16(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray16(x, y, color.Gray16Model.Convert(img.At(x, y)).(color.Gray16))
		}
	}
	return out
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
