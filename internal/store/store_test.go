package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"leaderboard-system/internal/db"
	"leaderboard-system/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// startMongo runs a disposable MongoDB and returns a handle with indexes in place.
func startMongo(t *testing.T) *db.MongoDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	name := fmt.Sprintf("leaderboard_test_%d", time.Now().UnixNano())
	mdb, err := db.NewMongoDB(uri, name, db.MongoOptions{}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mdb.Close(context.Background()) })
	return mdb
}

func TestMongoStores(t *testing.T) {
	mdb := startMongo(t)
	ctx := context.Background()
	europeSolo := models.Partition{Region: models.RegionEurope, Mode: models.ModeSolo}
	day := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	t.Run("run lifecycle", func(t *testing.T) {
		runs := NewRunStore(mdb.Runs())
		run := &models.Run{PlayerID: "P1", TimeMs: 4200, Mode: models.ModeSolo, TrackID: "track1", Region: models.RegionEurope}
		require.NoError(t, runs.Create(ctx, run))
		require.False(t, run.ID.IsZero())

		got, err := runs.FindByID(ctx, run.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, int64(4200), got.TimeMs)

		require.NoError(t, runs.UpdateTime(ctx, run.ID.Hex(), 3900))
		got, err = runs.FindByID(ctx, run.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, int64(3900), got.TimeMs)
		assert.Equal(t, "P1", got.PlayerID)

		require.NoError(t, runs.Delete(ctx, run.ID.Hex()))
		_, err = runs.FindByID(ctx, run.ID.Hex())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("missing runs report not found", func(t *testing.T) {
		runs := NewRunStore(mdb.Runs())
		missing := primitive.NewObjectID().Hex()

		assert.ErrorIs(t, runs.UpdateTime(ctx, missing, 1), ErrNotFound)
		assert.ErrorIs(t, runs.Delete(ctx, missing), ErrNotFound)
		assert.ErrorIs(t, runs.UpdateTime(ctx, "not-an-id", 1), ErrNotFound)
		_, err := runs.FindByID(ctx, "not-an-id")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("top in window sorts and filters", func(t *testing.T) {
		runs := NewRunStore(mdb.Runs())
		seed := []models.Run{
			{PlayerID: "A", TimeMs: 5000, CreatedAt: day.Add(1 * time.Hour)},
			{PlayerID: "B", TimeMs: 3000, CreatedAt: day.Add(2 * time.Hour)},
			{PlayerID: "C", TimeMs: 3000, CreatedAt: day.Add(1 * time.Hour)},
			{PlayerID: "D", TimeMs: 1000, CreatedAt: day.Add(-time.Minute)},
			{PlayerID: "E", TimeMs: 1000, CreatedAt: day.Add(24 * time.Hour)},
		}
		for i := range seed {
			seed[i].Region, seed[i].Mode, seed[i].TrackID = models.RegionEurope, models.ModeSolo, "track1"
			require.NoError(t, runs.Create(ctx, &seed[i]))
		}
		other := &models.Run{PlayerID: "F", TimeMs: 10, Region: models.RegionAsia, Mode: models.ModeSolo, CreatedAt: day.Add(time.Hour)}
		require.NoError(t, runs.Create(ctx, other))

		top, err := runs.TopInWindow(ctx, europeSolo, day, day.Add(24*time.Hour), 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "C", top[0].PlayerID)
		assert.Equal(t, "B", top[1].PlayerID)

		n, err := runs.DeleteByPlayer(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		left, err := runs.ListByPlayer(ctx, "A")
		require.NoError(t, err)
		assert.Empty(t, left)
	})

	t.Run("snapshot upsert keeps the first write", func(t *testing.T) {
		snaps := NewSnapshotStore(mdb.DailyLeaderboards())
		first := &models.Snapshot{
			Date: day.Add(5 * time.Second), Region: models.RegionEurope, Mode: models.ModeSolo,
			TopRuns: []models.RankEntry{{PlayerID: "P2", TimeMs: 2000, Rank: 1}},
		}
		created, err := snaps.Upsert(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = snaps.Upsert(ctx, &models.Snapshot{Date: day, Region: models.RegionEurope, Mode: models.ModeSolo})
		require.NoError(t, err)
		assert.False(t, created)

		got, err := snaps.Find(ctx, day, europeSolo)
		require.NoError(t, err)
		assert.Equal(t, day, got.Date.UTC())
		assert.Equal(t, first.TopRuns, got.TopRuns)

		all, err := snaps.ListByDate(ctx, day)
		require.NoError(t, err)
		assert.Len(t, all, 1)

		_, err = snaps.Find(ctx, day, models.Partition{Region: models.RegionAsia, Mode: models.ModeSolo})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("players", func(t *testing.T) {
		players := NewPlayerStore(mdb.Players())
		require.NoError(t, players.CreateMany(ctx, []*models.Player{
			{Name: "Ada", Region: models.RegionEurope},
			{Name: "adam", Region: models.RegionAsia},
			{Name: "Grace", Region: models.RegionEurope},
		}))

		found, err := players.Find(ctx, PlayerFilter{Name: "ADA"})
		require.NoError(t, err)
		assert.Len(t, found, 2)

		found, err = players.Find(ctx, PlayerFilter{Region: models.RegionEurope, Limit: 1})
		require.NoError(t, err)
		require.Len(t, found, 1)

		name := "Ada L."
		updated, err := players.Update(ctx, found[0].ID, &name, nil)
		require.NoError(t, err)
		assert.Equal(t, name, updated.Name)
		assert.Equal(t, models.RegionEurope, updated.Region)

		require.NoError(t, players.Delete(ctx, found[0].ID))
		_, err = players.Get(ctx, found[0].ID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, players.Delete(ctx, found[0].ID), ErrNotFound)
	})

	t.Run("locks exclude a second owner until released", func(t *testing.T) {
		locks := NewLockStore(mdb.CleanupLocks())

		ok, err := locks.TryAcquire(ctx, "rotation", "a", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = locks.TryAcquire(ctx, "rotation", "b", time.Minute)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, locks.Release(ctx, "rotation", "a"))
		ok, err = locks.TryAcquire(ctx, "rotation", "b", time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	})
}
