package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"genecall/internal/models"
)

// tileFile is the JSON document written for one tile.
type tileFile struct {
	Tile    int                 `json:"tile"`
	Count   int                 `json:"count"`
	Records []models.SpotRecord `json:"records"`
}

// FileSink writes one JSON file per tile into a directory.
type FileSink struct {
	dir string
}

// NewFileSink creates the output directory if needed.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FileSink{dir: dir}, nil
}

// Path returns the output file of a tile.
func (s *FileSink) Path(tile int) string {
	return filepath.Join(s.dir, fmt.Sprintf("tile_%03d.json", tile))
}

// Completed reports whether the tile's file exists.
func (s *FileSink) Completed(ctx context.Context, tile int) (bool, error) {
	_, err := os.Stat(s.Path(tile))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// WriteTile writes sorted records to a temporary file and renames it over the
// tile's file.
func (s *FileSink) WriteTile(ctx context.Context, tile int, records []models.SpotRecord) error {
	doc := tileFile{Tile: tile, Records: sortRecords(records)}
	doc.Count = len(doc.Records)
	if doc.Records == nil {
		doc.Records = []models.SpotRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tile %d: %w", tile, err)
	}

	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".tile_%03d-*.json", tile))
	if err != nil {
		return fmt.Errorf("writing tile %d: %w", tile, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing tile %d: %w", tile, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing tile %d: %w", tile, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(tile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing tile %d: %w", tile, err)
	}
	return nil
}

// ReadTile loads the records written for a tile.
func (s *FileSink) ReadTile(tile int) ([]models.SpotRecord, error) {
	data, err := os.ReadFile(s.Path(tile))
	if err != nil {
		return nil, err
	}
	var doc tileFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding tile %d: %w", tile, err)
	}
	return doc.Records, nil
}

// Close does nothing for the file sink.
func (s *FileSink) Close(ctx context.Context) error {
	return nil
}

var _ TileSink = (*FileSink)(nil)
