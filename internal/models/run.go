package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Run is one submitted timed run. Everything except TimeMs is fixed at
// creation.
type Run struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	PlayerID  string             `json:"playerId" bson:"playerId"`
	TimeMs    int64              `json:"timeMs" bson:"timeMs"`
	Mode      Mode               `json:"mode" bson:"mode"`
	TrackID   string             `json:"trackId" bson:"trackId"`
	Region    Region             `json:"region" bson:"region"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

func (r *Run) Partition() Partition {
	return Partition{Region: r.Region, Mode: r.Mode}
}

// RankEntry is a derived ranking row. Rank is 1-indexed.
type RankEntry struct {
	PlayerID string `json:"playerId" bson:"playerId"`
	TimeMs   int64  `json:"timeMs" bson:"timeMs"`
	Rank     int    `json:"rank" bson:"rank"`
}

// LeaderboardUpdate is the payload broadcast after every ranking change.
type LeaderboardUpdate struct {
	Region  Region      `json:"region"`
	Mode    Mode        `json:"mode"`
	TopRuns []RankEntry `json:"topRuns"`
}

// EventLeaderboardUpdate is the single event name used for ranking broadcasts.
const EventLeaderboardUpdate = "leaderboardUpdate"

// Default values
const (
	DefaultTopN  = 50
	DefaultLimit = 20
)
