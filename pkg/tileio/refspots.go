package tileio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"genecall/internal/models"
)

// RefSpot is a reference-round spot position.
type RefSpot struct {
	Tile int
	models.Location
}

// ReadReferenceSpots parses a CSV with a tile,y,x,z header. The z column is
// optional and defaults to 0.
func ReadReferenceSpots(r io.Reader) ([]RefSpot, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int)
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []error
	for _, name := range []string{"tile", "y", "x"} {
		if _, ok := cols[name]; !ok {
			missing = append(missing, fmt.Errorf("missing column %q", name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	zCol, hasZ := cols["z"]

	var spots []RefSpot
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, err
		}
		field := func(col int) (int, error) {
			v, err := strconv.Atoi(strings.TrimSpace(rec[col]))
			if err != nil {
				return 0, fmt.Errorf("line %d: %w", line, err)
			}
			return v, nil
		}

		var s RefSpot
		if s.Tile, err = field(cols["tile"]); err != nil {
			return nil, err
		}
		if s.Y, err = field(cols["y"]); err != nil {
			return nil, err
		}
		if s.X, err = field(cols["x"]); err != nil {
			return nil, err
		}
		if hasZ {
			if s.Z, err = field(zCol); err != nil {
				return nil, err
			}
		}
		spots = append(spots, s)
	}
	return spots, nil
}

// LoadReferenceSpots reads a reference spot CSV file.
func LoadReferenceSpots(path string) ([]RefSpot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	spots, err := ReadReferenceSpots(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return spots, nil
}

// ByTile groups spots by tile index.
func ByTile(spots []RefSpot) map[int][]models.Location {
	out := make(map[int][]models.Location)
	for _, s := range spots {
		out[s.Tile] = append(out[s.Tile], s.Location)
	}
	return out
}
