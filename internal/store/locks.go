package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LockStore implements short-lived named locks on a Mongo collection so that
// only one server instance runs a periodic job at a time.
type LockStore struct {
	coll *mongo.Collection
}

func NewLockStore(coll *mongo.Collection) *LockStore {
	return &LockStore{coll: coll}
}

// TryAcquire takes the lock name for owner until ttl elapses. It returns
// false without error when another owner holds an unexpired lock.
func (l *LockStore) TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := time.Now()
	filter := bson.M{
		"_id": name,
		"$or": []bson.M{
			{"lockedUntil": bson.M{"$exists": false}},
			{"lockedUntil": bson.M{"$lt": now}},
		},
	}
	update := bson.M{
		"$set": bson.M{
			"lockedUntil": now.Add(ttl),
			"lockedBy":    owner,
			"lockedAt":    now,
		},
	}

	err := l.coll.FindOneAndUpdate(ctx, filter, update, options.FindOneAndUpdate().SetUpsert(true)).Err()
	switch {
	case err == nil, err == mongo.ErrNoDocuments:
		// ErrNoDocuments: no previous document, the upsert inserted ours.
		return true, nil
	case mongo.IsDuplicateKeyError(err):
		// The document exists and is held by someone else.
		return false, nil
	default:
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
}

// Release expires the lock if owner still holds it.
func (l *LockStore) Release(ctx context.Context, name, owner string) error {
	_, err := l.coll.UpdateOne(ctx,
		bson.M{"_id": name, "lockedBy": owner},
		bson.M{"$set": bson.M{"lockedUntil": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}
