package services

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/observability"

	"github.com/rs/zerolog"
)

const rotationLockName = "daily_rotation"

// SnapshotRepository persists daily snapshots. Upsert reports false when a
// snapshot for the same (date, region, mode) already exists.
type SnapshotRepository interface {
	Upsert(ctx context.Context, snap *models.Snapshot) (bool, error)
}

// Locker guards the rotation when several instances share one cache.
type Locker interface {
	TryAcquire(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name, owner string) error
}

// RotationResult summarizes one rotation pass.
type RotationResult struct {
	Date time.Time `json:"date"`
	// Locked is set when another instance held the rotation lock and nothing ran.
	Locked    bool               `json:"locked"`
	Rotated   []models.Partition `json:"rotated"`
	Unchanged []models.Partition `json:"unchanged"`
	Failed    []models.Partition `json:"failed"`
}

// SnapshotScheduler snapshots and clears every partition at each UTC midnight.
type SnapshotScheduler struct {
	leaderboard *LeaderboardService
	snapshots   SnapshotRepository
	locker      Locker
	lockTTL     time.Duration
	owner       string
	audit       Auditor
	logger      zerolog.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	// rotatedOn records, per partition, the last date this instance cleared.
	// Only consulted when the cache is private to this process.
	rotatedMu sync.Mutex
	rotatedOn map[models.Partition]time.Time

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewSnapshotScheduler creates the scheduler. locker may be nil when the
// cache is private to this process.
func NewSnapshotScheduler(
	leaderboard *LeaderboardService,
	snapshots SnapshotRepository,
	locker Locker,
	lockTTL time.Duration,
	auditor Auditor,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *SnapshotScheduler {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if auditor == nil {
		auditor = nopAuditor{}
	}
	if metrics == nil {
		metrics = leaderboard.telemetry.metrics
	}
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &SnapshotScheduler{
		leaderboard: leaderboard,
		snapshots:   snapshots,
		locker:      locker,
		lockTTL:     lockTTL,
		owner:       hostname,
		audit:       auditor,
		logger:      logger,
		metrics:     metrics,
		now:         func() time.Time { return time.Now().UTC() },
		rotatedOn:   make(map[models.Partition]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// NextRotation returns the first UTC midnight strictly after now.
func NextRotation(now time.Time) time.Time {
	return models.UTCDay(now).Add(24 * time.Hour)
}

// Start begins the rotation loop in a background goroutine.
func (s *SnapshotScheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go s.runLoop()
	s.logger.Info().Time("next", NextRotation(s.now())).Msg("snapshot scheduler started")
}

// Stop signals the loop to exit and waits for an in-flight rotation.
func (s *SnapshotScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.started.Load() {
			<-s.doneCh
		}
		s.logger.Info().Msg("snapshot scheduler stopped")
	})
}

func (s *SnapshotScheduler) runLoop() {
	defer close(s.doneCh)

	for {
		next := NextRotation(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			// The scheduled boundary dates the snapshot, not the wake-up instant.
			s.RunOnce(ctx, next)
			cancel()
		}
	}
}

// RunOnce rotates every partition, dating the snapshots with the UTC day of
// at. A partition that fails keeps its live cache.
func (s *SnapshotScheduler) RunOnce(ctx context.Context, at time.Time) RotationResult {
	start := time.Now()
	result := RotationResult{Date: models.UTCDay(at)}
	logger := s.logger.With().Str("date", result.Date.Format("2006-01-02")).Logger()

	if s.locker != nil {
		ok, err := s.locker.TryAcquire(ctx, rotationLockName, s.owner, s.lockTTL)
		if err != nil {
			logger.Error().Err(err).Msg("rotation lock unavailable, skipping rotation")
			result.Failed = models.AllPartitions()
			return result
		}
		if !ok {
			logger.Info().Msg("another instance is rotating")
			result.Locked = true
			return result
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), rotationLockName, s.owner); err != nil {
				logger.Warn().Err(err).Msg("failed to release rotation lock")
			}
		}()
	}

	for _, p := range models.AllPartitions() {
		switch s.rotatePartition(ctx, logger, result.Date, p) {
		case rotationDone:
			result.Rotated = append(result.Rotated, p)
		case rotationUnchanged:
			result.Unchanged = append(result.Unchanged, p)
		default:
			result.Failed = append(result.Failed, p)
		}
	}

	s.metrics.RotationDuration.Observe(time.Since(start).Seconds())
	logger.Info().
		Int("rotated", len(result.Rotated)).
		Int("unchanged", len(result.Unchanged)).
		Int("failed", len(result.Failed)).
		Msg("daily rotation complete")
	s.audit.Record(ctx, AuditRotationFinished, result.Date.Format("2006-01-02"), map[string]interface{}{
		"rotated":   len(result.Rotated),
		"unchanged": len(result.Unchanged),
		"failed":    len(result.Failed),
	})
	return result
}

type rotationOutcome int

const (
	rotationFailed rotationOutcome = iota
	rotationDone
	rotationUnchanged
)

func (s *SnapshotScheduler) rotatePartition(ctx context.Context, logger zerolog.Logger, date time.Time, p models.Partition) rotationOutcome {
	logger = logger.With().Str("region", string(p.Region)).Str("mode", string(p.Mode)).Logger()

	top, err := s.leaderboard.RankingFor(ctx, p)
	if err != nil {
		logger.Error().Err(err).Msg("failed to read ranking, partition left intact")
		s.metrics.RotationPartitions.WithLabelValues("failed").Inc()
		return rotationFailed
	}

	created, err := s.snapshots.Upsert(ctx, &models.Snapshot{
		Date:      date,
		Region:    p.Region,
		Mode:      p.Mode,
		TopRuns:   top,
		CreatedAt: s.now(),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to persist snapshot, partition left intact")
		s.metrics.RotationPartitions.WithLabelValues("failed").Inc()
		return rotationFailed
	}
	if !created && (s.locker != nil || s.clearedOn(p, date)) {
		// Already rotated for this date by an earlier run.
		logger.Info().Msg("snapshot already exists, partition left intact")
		s.metrics.RotationPartitions.WithLabelValues("unchanged").Inc()
		return rotationUnchanged
	}
	if !created {
		// Another instance stored the day's snapshot, but this instance's
		// private ranking still has to start a fresh window.
		logger.Info().Msg("snapshot stored elsewhere, clearing local ranking")
	}

	if err := s.leaderboard.ClearPartition(ctx, p); err != nil {
		logger.Error().Err(err).Msg("snapshot persisted but partition could not be cleared")
		s.metrics.RotationPartitions.WithLabelValues("failed").Inc()
		return rotationFailed
	}
	s.markCleared(p, date)
	if !created {
		s.metrics.RotationPartitions.WithLabelValues("cleared").Inc()
		return rotationDone
	}
	s.metrics.RotationPartitions.WithLabelValues("persisted").Inc()
	return rotationDone
}

func (s *SnapshotScheduler) clearedOn(p models.Partition, date time.Time) bool {
	s.rotatedMu.Lock()
	defer s.rotatedMu.Unlock()
	return s.rotatedOn[p].Equal(date)
}

func (s *SnapshotScheduler) markCleared(p models.Partition, date time.Time) {
	s.rotatedMu.Lock()
	defer s.rotatedMu.Unlock()
	s.rotatedOn[p] = date
}
