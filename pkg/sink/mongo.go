package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"genecall/internal/models"
)

// MongoSink stores records in a "spots" collection and per-tile completion
// markers in a "tiles" collection.
type MongoSink struct {
	client *mongo.Client
	spots  *mongo.Collection
	tiles  *mongo.Collection
}

// NewMongoSink connects to uri and uses the named database.
func NewMongoSink(ctx context.Context, uri, database string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	db := client.Database(database)
	return &MongoSink{
		client: client,
		spots:  db.Collection("spots"),
		tiles:  db.Collection("tiles"),
	}, nil
}

// Completed reports whether the tile's completion marker is set.
func (s *MongoSink) Completed(ctx context.Context, tile int) (bool, error) {
	err := s.tiles.FindOne(ctx, bson.M{"_id": tile, "complete": true}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking tile %d: %w", tile, err)
	}
	return true, nil
}

// WriteTile clears the completion marker, replaces the tile's records and
// then sets the marker again. An interrupted write leaves the tile
// incomplete so it is redone on the next run.
func (s *MongoSink) WriteTile(ctx context.Context, tile int, records []models.SpotRecord) error {
	if err := s.mark(ctx, tile, false, 0); err != nil {
		return err
	}
	if _, err := s.spots.DeleteMany(ctx, bson.M{"tile": tile}); err != nil {
		return fmt.Errorf("clearing tile %d: %w", tile, err)
	}

	sorted := sortRecords(records)
	if len(sorted) > 0 {
		docs := make([]any, len(sorted))
		for i := range sorted {
			docs[i] = sorted[i]
		}
		if _, err := s.spots.InsertMany(ctx, docs); err != nil {
			return fmt.Errorf("inserting tile %d: %w", tile, err)
		}
	}
	return s.mark(ctx, tile, true, len(sorted))
}

func (s *MongoSink) mark(ctx context.Context, tile int, complete bool, count int) error {
	update := bson.M{"$set": bson.M{
		"complete":   complete,
		"count":      count,
		"updated_at": time.Now().UTC(),
	}}
	_, err := s.tiles.UpdateOne(ctx, bson.M{"_id": tile}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("marking tile %d: %w", tile, err)
	}
	return nil
}

// Close disconnects from the server.
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

var _ TileSink = (*MongoSink)(nil)
