package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SnapshotRetention is how long a daily snapshot is kept before Mongo's TTL
// monitor purges it.
const SnapshotRetention = 8 * 24 * time.Hour

// Snapshot is the persisted top-N of one partition for one UTC day.
type Snapshot struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Date      time.Time          `json:"date" bson:"date"`
	Region    Region             `json:"region" bson:"region"`
	Mode      Mode               `json:"mode" bson:"mode"`
	TopRuns   []RankEntry        `json:"topRuns" bson:"topRuns"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// UTCDay truncates t to midnight UTC.
func UTCDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
