package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/assistly/relay/checkpoint"
)

// Load returns the saved resume token for the watched collection.
func (s *Store) Load(ctx context.Context) ([]byte, error) {
	var m checkpointModel
	err := s.db.Collection(colCheckpoints).
		FindOne(ctx, bson.D{{Key: "_id", Value: s.checkpointKey}}).
		Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, checkpoint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("relay/mongo: load checkpoint: %w", err)
	}
	return m.Token, nil
}

// Save upserts the resume token.
func (s *Store) Save(ctx context.Context, token []byte) error {
	_, err := s.db.Collection(colCheckpoints).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: s.checkpointKey}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "token", Value: bson.Raw(token)},
			{Key: "updated_at", Value: time.Now().UTC()},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("relay/mongo: save checkpoint: %w", err)
	}
	return nil
}
