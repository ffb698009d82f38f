package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leaderboard-system/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SnapshotStore holds the daily leaderboards. A TTL index on createdAt
// purges them after models.SnapshotRetention.
type SnapshotStore struct {
	coll *mongo.Collection
}

func NewSnapshotStore(coll *mongo.Collection) *SnapshotStore {
	return &SnapshotStore{coll: coll}
}

// Upsert stores snap under (date, region, mode) unless a snapshot for that
// key already exists, in which case the stored one is left untouched.
// created reports whether this call wrote the document.
func (s *SnapshotStore) Upsert(ctx context.Context, snap *models.Snapshot) (created bool, err error) {
	date := models.UTCDay(snap.Date)
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	topRuns := snap.TopRuns
	if topRuns == nil {
		topRuns = []models.RankEntry{}
	}

	filter := bson.M{"date": date, "region": snap.Region, "mode": snap.Mode}
	update := bson.M{"$setOnInsert": bson.M{
		"date":      date,
		"region":    snap.Region,
		"mode":      snap.Mode,
		"topRuns":   topRuns,
		"createdAt": snap.CreatedAt,
	}}
	result, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		// Two writers racing on the unique index: the other one won.
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("upsert snapshot %s %s/%s: %w", date.Format("2006-01-02"), snap.Region, snap.Mode, err)
	}
	return result.UpsertedCount == 1, nil
}

func (s *SnapshotStore) Find(ctx context.Context, date time.Time, p models.Partition) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := s.coll.FindOne(ctx, bson.M{
		"date":   models.UTCDay(date),
		"region": p.Region,
		"mode":   p.Mode,
	}).Decode(&snap)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find snapshot: %w", err)
	}
	return &snap, nil
}

// ListByDate returns every snapshot taken on the UTC day of date.
func (s *SnapshotStore) ListByDate(ctx context.Context, date time.Time) ([]models.Snapshot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "region", Value: 1}, {Key: "mode", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"date": models.UTCDay(date)}, opts)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	snaps := []models.Snapshot{}
	if err := cursor.All(ctx, &snaps); err != nil {
		return nil, fmt.Errorf("decode snapshots: %w", err)
	}
	return snaps, nil
}
