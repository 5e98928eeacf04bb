// Package sink writes per-tile spot records. A tile is written as a unit:
// readers either see all of a tile's records or none, and a tile counts as
// complete only after its records are in place.
package sink

import (
	"context"
	"sort"

	"genecall/internal/models"
)

// TileSink receives the records of whole tiles.
type TileSink interface {
	// Completed reports whether a tile's records were fully written.
	Completed(ctx context.Context, tile int) (bool, error)

	// WriteTile replaces every record of the tile.
	WriteTile(ctx context.Context, tile int, records []models.SpotRecord) error

	Close(ctx context.Context) error
}

// sortRecords orders records by position then gene without modifying the input.
func sortRecords(records []models.SpotRecord) []models.SpotRecord {
	out := append([]models.SpotRecord(nil), records...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
