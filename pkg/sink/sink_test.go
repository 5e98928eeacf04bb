package sink

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecall/internal/models"
)

func sampleRecords() []models.SpotRecord {
	return []models.SpotRecord{
		{ID: "c", Tile: 1, Y: 5, X: 1, Z: 0, Gene: 2},
		{ID: "a", Tile: 1, Y: 1, X: 9, Z: 0, Gene: 1},
		{ID: "b", Tile: 1, Y: 1, X: 9, Z: 0, Gene: 0},
	}
}

// TestFileSinkWriteTile verifies sorted, complete output
func TestFileSinkWriteTile(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSink(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)

	done, err := s.Completed(ctx, 1)
	require.NoError(t, err)
	assert.False(t, done)

	in := sampleRecords()
	require.NoError(t, s.WriteTile(ctx, 1, in))
	done, err = s.Completed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := s.ReadTile(1)
	require.NoError(t, err)
	ids := []string{got[0].ID, got[1].ID, got[2].ID}
	assert.Equal(t, []string{"b", "a", "c"}, ids)

	// input order is untouched
	assert.Equal(t, "c", in[0].ID)
}

// TestFileSinkRewriteIsIdentical checks reprocessing yields byte-identical output
func TestFileSinkRewriteIsIdentical(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.WriteTile(ctx, 1, sampleRecords()))
	first, err := os.ReadFile(s.Path(1))
	require.NoError(t, err)

	recs := sampleRecords()
	recs[0], recs[2] = recs[2], recs[0]
	require.NoError(t, s.WriteTile(ctx, 1, recs))
	second, err := os.ReadFile(s.Path(1))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(s.Path(1)))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestFileSinkEmptyTile writes an empty record list
func TestFileSinkEmptyTile(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileSink(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.WriteTile(ctx, 4, nil))

	got, err := s.ReadTile(4)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// TestMongoSink runs against a live server when GENECALL_TEST_MONGO is set
func TestMongoSink(t *testing.T) {
	uri := os.Getenv("GENECALL_TEST_MONGO")
	if uri == "" {
		t.Skip("GENECALL_TEST_MONGO not set")
	}
	ctx := context.Background()
	s, err := NewMongoSink(ctx, uri, "genecall_test")
	require.NoError(t, err)
	defer s.Close(ctx)

	require.NoError(t, s.WriteTile(ctx, 1, sampleRecords()))
	done, err := s.Completed(ctx, 1)
	require.NoError(t, err)
	assert.True(t, done)

	require.NoError(t, s.WriteTile(ctx, 1, sampleRecords()))
	n, err := s.spots.CountDocuments(ctx, map[string]any{"tile": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
