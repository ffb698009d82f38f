package services

import (
	"context"
	"strings"
	"time"

	"leaderboard-system/internal/broadcast"
	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"
	"leaderboard-system/internal/ranking"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// RunLog is the authoritative run store the service writes through.
type RunLog interface {
	Create(ctx context.Context, run *models.Run) error
	FindByID(ctx context.Context, id string) (*models.Run, error)
	UpdateTime(ctx context.Context, id string, timeMs int64) error
	Delete(ctx context.Context, id string) error
	TopInWindow(ctx context.Context, p models.Partition, from, to time.Time, limit int) ([]models.Run, error)
	ListByPlayer(ctx context.Context, playerID string) ([]models.Run, error)
	DeleteByPlayer(ctx context.Context, playerID string) (int64, error)
}

// SubmitRunInput is a run submission as received from a client.
type SubmitRunInput struct {
	PlayerID string `json:"playerId"`
	TimeMs   int64  `json:"timeMs"`
	Mode     string `json:"mode"`
	TrackID  string `json:"trackId"`
	Region   string `json:"region"`
}

// Validate checks required fields and normalizes mode and region.
func (in SubmitRunInput) Validate() (models.Run, error) {
	var missing []string
	if in.PlayerID == "" {
		missing = append(missing, "playerId")
	}
	if in.TimeMs == 0 {
		missing = append(missing, "timeMs")
	}
	if in.Mode == "" {
		missing = append(missing, "mode")
	}
	if in.TrackID == "" {
		missing = append(missing, "trackId")
	}
	if in.Region == "" {
		missing = append(missing, "region")
	}
	if len(missing) > 0 {
		return models.Run{}, validationError("missing required fields: %s", strings.Join(missing, ", "))
	}
	if in.TimeMs < 0 {
		return models.Run{}, validationError("timeMs must be positive")
	}
	mode, ok := models.ParseMode(in.Mode)
	if !ok {
		return models.Run{}, validationError("invalid mode %q", in.Mode)
	}
	region, ok := models.ParseRegion(in.Region)
	if !ok {
		return models.Run{}, validationError("invalid region %q", in.Region)
	}
	return models.Run{
		PlayerID: in.PlayerID,
		TimeMs:   in.TimeMs,
		Mode:     mode,
		TrackID:  in.TrackID,
		Region:   region,
	}, nil
}

// ParsePartition validates a region/mode pair given as raw strings.
func ParsePartition(region, mode string) (models.Partition, error) {
	if region == "" || mode == "" {
		return models.Partition{}, validationError("region and mode are required")
	}
	r, ok := models.ParseRegion(region)
	if !ok {
		return models.Partition{}, validationError("invalid region %q", region)
	}
	m, ok := models.ParseMode(mode)
	if !ok {
		return models.Partition{}, validationError("invalid mode %q", mode)
	}
	return models.Partition{Region: r, Mode: m}, nil
}

// LeaderboardService keeps the per-partition ranked caches in step with the
// run log and broadcasts every ranking change.
//
// The upsert, trim and read steps of a mutation are separate cache calls with
// no lock around them. Concurrent writers to one partition may see each
// other's changes in the ranking they get back.
type LeaderboardService struct {
	runs      RunLog
	cache     ranking.Store
	publisher broadcast.Publisher
	topN      int
	telemetry telemetry
	audit     Auditor
	faker     *gofakeit.Faker
	now       func() time.Time
}

func NewLeaderboardService(
	runs RunLog,
	cache ranking.Store,
	publisher broadcast.Publisher,
	topN int,
	logger zerolog.Logger,
	metrics *observability.Metrics,
	tracer trace.Tracer,
) *LeaderboardService {
	if topN <= 0 {
		topN = models.DefaultTopN
	}
	if publisher == nil {
		publisher = broadcast.Discard{}
	}
	if metrics == nil {
		metrics = observability.NewMetrics()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("leaderboard")
	}
	return &LeaderboardService{
		runs:      runs,
		cache:     cache,
		publisher: publisher,
		topN:      topN,
		telemetry: telemetry{logger: logger, metrics: metrics, tracer: tracer},
		audit:     nopAuditor{},
		faker:     gofakeit.New(0),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetAuditor records run updates and deletions to a.
func (s *LeaderboardService) SetAuditor(a Auditor) {
	if a != nil {
		s.audit = a
	}
}

// TopN is the bound on every partition's cached ranking.
func (s *LeaderboardService) TopN() int {
	return s.topN
}

func partitionAttrs(p models.Partition) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("region", string(p.Region)),
		attribute.String("mode", string(p.Mode)),
	}
}

// SubmitRun logs a new run, projects it into the partition cache and returns
// the partition's top N.
func (s *LeaderboardService) SubmitRun(ctx context.Context, in SubmitRunInput) ([]models.RankEntry, error) {
	run, err := in.Validate()
	if err != nil {
		return nil, err
	}
	attrs := append(partitionAttrs(run.Partition()), attribute.String("player_id", run.PlayerID))

	return withTelemetry(ctx, s.telemetry, "SubmitRun", attrs, func(ctx context.Context) ([]models.RankEntry, error) {
		// The run log keeps milliseconds; the cache must rank on the same instant.
		run.CreatedAt = s.now().Truncate(time.Millisecond)
		if err := s.runs.Create(ctx, &run); err != nil {
			return nil, storageError("create run", err)
		}
		return s.project(ctx, run.Partition(), run.PlayerID, run.TimeMs, run.CreatedAt)
	})
}

// UpdateRun changes the time of an existing run and re-ranks its player.
func (s *LeaderboardService) UpdateRun(ctx context.Context, runID string, timeMs int64) ([]models.RankEntry, error) {
	if timeMs <= 0 {
		return nil, validationError("timeMs must be positive")
	}

	return withTelemetry(ctx, s.telemetry, "UpdateRun", []attribute.KeyValue{attribute.String("run_id", runID)}, func(ctx context.Context) ([]models.RankEntry, error) {
		run, err := s.runs.FindByID(ctx, runID)
		if err != nil {
			return nil, storageError("find run "+runID, err)
		}
		if err := s.runs.UpdateTime(ctx, runID, timeMs); err != nil {
			return nil, storageError("update run "+runID, err)
		}

		s.audit.Record(ctx, AuditRunUpdated, runID, map[string]interface{}{
			"playerId": run.PlayerID,
			"from":     run.TimeMs,
			"to":       timeMs,
		})

		p := run.Partition()
		if err := s.cache.Remove(ctx, p.Key(), run.PlayerID); err != nil {
			return nil, storageError("remove cached entry", err)
		}
		return s.project(ctx, p, run.PlayerID, timeMs, run.CreatedAt)
	})
}

// DeleteRun deletes a run and drops its player from the partition cache.
func (s *LeaderboardService) DeleteRun(ctx context.Context, runID string) ([]models.RankEntry, error) {
	return withTelemetry(ctx, s.telemetry, "DeleteRun", []attribute.KeyValue{attribute.String("run_id", runID)}, func(ctx context.Context) ([]models.RankEntry, error) {
		run, err := s.runs.FindByID(ctx, runID)
		if err != nil {
			return nil, storageError("find run "+runID, err)
		}

		p := run.Partition()
		if err := s.cache.Remove(ctx, p.Key(), run.PlayerID); err != nil {
			return nil, storageError("remove cached entry", err)
		}
		if err := s.runs.Delete(ctx, runID); err != nil {
			return nil, storageError("delete run "+runID, err)
		}
		s.audit.Record(ctx, AuditRunDeleted, runID, map[string]interface{}{
			"playerId": run.PlayerID,
			"timeMs":   run.TimeMs,
		})

		top, err := s.readCache(ctx, p, s.topN)
		if err != nil {
			return nil, err
		}
		s.emit(ctx, p, top)
		return top, nil
	})
}

// FetchTop returns the first limit entries of a partition. When the
// partition has no cache state it is recomputed from today's runs in the log
// without repopulating the cache.
func (s *LeaderboardService) FetchTop(ctx context.Context, p models.Partition, limit int) ([]models.RankEntry, error) {
	if limit <= 0 {
		return nil, validationError("limit must be positive")
	}
	attrs := append(partitionAttrs(p), attribute.Int("limit", limit))

	return withTelemetry(ctx, s.telemetry, "FetchTop", attrs, func(ctx context.Context) ([]models.RankEntry, error) {
		exists, err := s.cache.Exists(ctx, p.Key())
		if err != nil {
			return nil, storageError("check cache", err)
		}
		if exists {
			return s.readCache(ctx, p, limit)
		}

		s.telemetry.metrics.ColdFallbacks.WithLabelValues(string(p.Region), string(p.Mode)).Inc()
		dayStart := models.UTCDay(s.now())
		runs, err := s.runs.TopInWindow(ctx, p, dayStart, dayStart.Add(24*time.Hour), limit)
		if err != nil {
			return nil, storageError("query run log", err)
		}
		top := make([]models.RankEntry, len(runs))
		for i, r := range runs {
			top[i] = models.RankEntry{PlayerID: r.PlayerID, TimeMs: r.TimeMs, Rank: i + 1}
		}
		return top, nil
	})
}

// RankingFor reads the cached top N of p. An absent partition yields an
// empty ranking.
func (s *LeaderboardService) RankingFor(ctx context.Context, p models.Partition) ([]models.RankEntry, error) {
	return s.readCache(ctx, p, s.topN)
}

// ClearPartition resets the live ranking of p.
func (s *LeaderboardService) ClearPartition(ctx context.Context, p models.Partition) error {
	if err := s.cache.Clear(ctx, p.Key()); err != nil {
		return storageError("clear "+p.String(), err)
	}
	return nil
}

// DeletePlayerRuns removes a player from every partition they ranked in,
// deletes all their runs and broadcasts each affected partition.
func (s *LeaderboardService) DeletePlayerRuns(ctx context.Context, playerID string) (int64, error) {
	return withTelemetry(ctx, s.telemetry, "DeletePlayerRuns", []attribute.KeyValue{attribute.String("player_id", playerID)}, func(ctx context.Context) (int64, error) {
		runs, err := s.runs.ListByPlayer(ctx, playerID)
		if err != nil {
			return 0, storageError("list runs of "+playerID, err)
		}

		var affected []models.Partition
		seen := make(map[models.Partition]bool)
		for _, r := range runs {
			p := r.Partition()
			if seen[p] {
				continue
			}
			seen[p] = true
			affected = append(affected, p)
			if err := s.cache.Remove(ctx, p.Key(), playerID); err != nil {
				return 0, storageError("remove cached entry", err)
			}
		}

		deleted, err := s.runs.DeleteByPlayer(ctx, playerID)
		if err != nil {
			return 0, storageError("delete runs of "+playerID, err)
		}

		for _, p := range affected {
			top, err := s.readCache(ctx, p, s.topN)
			if err != nil {
				return deleted, err
			}
			s.emit(ctx, p, top)
		}
		return deleted, nil
	})
}

// SeedRandomRuns submits one random run for every player, in the player's
// region. It stops at the first failure and reports how many were submitted.
func (s *LeaderboardService) SeedRandomRuns(ctx context.Context, players []models.Player) (int, error) {
	modes := make([]string, len(models.Modes))
	for i, m := range models.Modes {
		modes[i] = string(m)
	}
	tracks := []string{"track1", "track2", "track3", "track4"}

	for i, p := range players {
		in := SubmitRunInput{
			PlayerID: p.ID,
			TimeMs:   int64(s.faker.Number(1000, 11000)),
			Mode:     s.faker.RandomString(modes),
			TrackID:  s.faker.RandomString(tracks),
			Region:   string(p.Region),
		}
		if _, err := s.SubmitRun(ctx, in); err != nil {
			return i, err
		}
	}
	return len(players), nil
}

// project upserts a member, enforces the bound, reads back the ranking and
// broadcasts it.
func (s *LeaderboardService) project(ctx context.Context, p models.Partition, playerID string, timeMs int64, submittedAt time.Time) ([]models.RankEntry, error) {
	key := p.Key()
	if err := s.cache.Upsert(ctx, key, playerID, timeMs, submittedAt); err != nil {
		return nil, storageError("upsert cache", err)
	}
	if err := s.cache.Trim(ctx, key, s.topN); err != nil {
		return nil, storageError("trim cache", err)
	}
	top, err := s.readCache(ctx, p, s.topN)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, p, top)
	return top, nil
}

func (s *LeaderboardService) readCache(ctx context.Context, p models.Partition, limit int) ([]models.RankEntry, error) {
	entries, err := s.cache.RangeAscending(ctx, p.Key(), 0, limit)
	if err != nil {
		return nil, storageError("read cache", err)
	}
	top := make([]models.RankEntry, len(entries))
	for i, e := range entries {
		top[i] = models.RankEntry{PlayerID: e.Member, TimeMs: e.Score, Rank: e.Rank}
	}
	return top, nil
}

func (s *LeaderboardService) emit(ctx context.Context, p models.Partition, top []models.RankEntry) {
	s.publisher.Emit(ctx, models.EventLeaderboardUpdate, models.LeaderboardUpdate{
		Region:  p.Region,
		Mode:    p.Mode,
		TopRuns: top,
	})
}
