package db

import (
	"context"
	"fmt"
	"time"

	"leaderboard-system/internal/models"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoOptions tunes the pooled client. Zero values fall back to defaults.
type MongoOptions struct {
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ConnectTimeout         time.Duration
	ServerSelectionTimeout time.Duration
}

type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
	logger   zerolog.Logger
}

// NewMongoDB connects, pings and ensures indexes. The driver keeps the pool
// healthy on its own: dead connections are replaced, server selection is
// retried until ServerSelectionTimeout and reads/writes are retried once on
// transient network errors.
func NewMongoDB(uri, database string, opts MongoOptions, logger zerolog.Logger) (*MongoDB, error) {
	if opts.MaxPoolSize == 0 {
		opts.MaxPoolSize = 200
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ServerSelectionTimeout == 0 {
		opts.ServerSelectionTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(opts.MaxPoolSize).
		SetMinPoolSize(opts.MinPoolSize).
		SetMaxConnIdleTime(5 * time.Minute).
		SetConnectTimeout(opts.ConnectTimeout).
		SetServerSelectionTimeout(opts.ServerSelectionTimeout).
		SetRetryReads(true).
		SetRetryWrites(true)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := &MongoDB{
		Client:   client,
		Database: client.Database(database),
		logger:   logger,
	}

	if err := db.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("index creation incomplete")
	}

	return db, nil
}

type collectionIndexes struct {
	collection string
	indexes    []mongo.IndexModel
}

func indexSpecs() []collectionIndexes {
	return []collectionIndexes{
		{
			"runs",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "region", Value: 1}, {Key: "mode", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "timeMs", Value: 1}}},
				{Keys: bson.D{{Key: "playerId", Value: 1}}},
				{Keys: bson.D{{Key: "createdAt", Value: 1}}},
			},
		},
		{
			"players",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "region", Value: 1}}},
				{Keys: bson.D{{Key: "name", Value: 1}}},
			},
		},
		{
			"daily_leaderboards",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "date", Value: 1}, {Key: "region", Value: 1}, {Key: "mode", Value: 1}}, Options: options.Index().SetUnique(true)},
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(int32(models.SnapshotRetention.Seconds()))},
			},
		},
		{
			"ws_events",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(60)},
			},
		},
		{
			"audit_log",
			[]mongo.IndexModel{
				{Keys: bson.D{{Key: "createdAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(90 * 24 * 3600)},
				{Keys: bson.D{{Key: "subject", Value: 1}, {Key: "createdAt", Value: -1}}},
			},
		},
	}
}

// EnsureIndexes creates all required indexes. Idempotent.
func (m *MongoDB) EnsureIndexes(ctx context.Context) error {
	var firstErr error
	for _, idx := range indexSpecs() {
		coll := m.Database.Collection(idx.collection)
		if _, err := coll.Indexes().CreateMany(ctx, idx.indexes); err != nil {
			m.logger.Warn().Err(err).Str("collection", idx.collection).Msg("failed to create indexes")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if firstErr == nil {
		m.logger.Info().Msg("database indexes ensured")
	}
	return firstErr
}

// Ping reports whether a server is currently reachable.
func (m *MongoDB) Ping(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

func (m *MongoDB) Runs() *mongo.Collection {
	return m.Database.Collection("runs")
}

func (m *MongoDB) Players() *mongo.Collection {
	return m.Database.Collection("players")
}

func (m *MongoDB) DailyLeaderboards() *mongo.Collection {
	return m.Database.Collection("daily_leaderboards")
}

func (m *MongoDB) WSEvents() *mongo.Collection {
	return m.Database.Collection("ws_events")
}

func (m *MongoDB) CleanupLocks() *mongo.Collection {
	return m.Database.Collection("cleanup_locks")
}

func (m *MongoDB) AuditLog() *mongo.Collection {
	return m.Database.Collection("audit_log")
}
