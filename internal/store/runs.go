package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leaderboard-system/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RunStore is the authoritative append-only run log.
type RunStore struct {
	coll *mongo.Collection
}

func NewRunStore(coll *mongo.Collection) *RunStore {
	return &RunStore{coll: coll}
}

// Create inserts run, assigning its ID and CreatedAt when unset.
func (s *RunStore) Create(ctx context.Context, run *models.Run) error {
	if run.ID.IsZero() {
		run.ID = primitive.NewObjectID()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	run.CreatedAt = run.CreatedAt.Truncate(time.Millisecond)
	if _, err := s.coll.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) FindByID(ctx context.Context, id string) (*models.Run, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	var run models.Run
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&run); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find run %s: %w", id, err)
	}
	return &run, nil
}

// UpdateTime sets timeMs, the only mutable field of a run.
func (s *RunStore) UpdateTime(ctx context.Context, id string, timeMs int64) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	result, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{"timeMs": timeMs}})
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RunStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	result, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return fmt.Errorf("delete run %s: %w", id, err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// TopInWindow returns up to limit runs of the partition created in
// [from, to), fastest first. Ties fall back to creation order then player id.
func (s *RunStore) TopInWindow(ctx context.Context, p models.Partition, from, to time.Time, limit int) ([]models.Run, error) {
	filter := bson.M{
		"region":    p.Region,
		"mode":      p.Mode,
		"createdAt": bson.M{"$gte": from, "$lt": to},
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "timeMs", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "playerId", Value: 1}}).
		SetLimit(int64(limit))

	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query runs for %s: %w", p, err)
	}
	defer cursor.Close(ctx)

	runs := []models.Run{}
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("decode runs for %s: %w", p, err)
	}
	return runs, nil
}

func (s *RunStore) ListByPlayer(ctx context.Context, playerID string) ([]models.Run, error) {
	cursor, err := s.coll.Find(ctx, bson.M{"playerId": playerID})
	if err != nil {
		return nil, fmt.Errorf("query runs of player %s: %w", playerID, err)
	}
	defer cursor.Close(ctx)

	runs := []models.Run{}
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, fmt.Errorf("decode runs of player %s: %w", playerID, err)
	}
	return runs, nil
}

func (s *RunStore) DeleteByPlayer(ctx context.Context, playerID string) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{"playerId": playerID})
	if err != nil {
		return 0, fmt.Errorf("delete runs of player %s: %w", playerID, err)
	}
	return result.DeletedCount, nil
}

func (s *RunStore) DeleteAll(ctx context.Context) (int64, error) {
	result, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("delete runs: %w", err)
	}
	return result.DeletedCount, nil
}
