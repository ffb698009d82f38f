package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/services"
	"leaderboard-system/internal/store"
)

// Leaderboard is the ranking side of the service layer.
type Leaderboard interface {
	SubmitRun(ctx context.Context, in services.SubmitRunInput) ([]models.RankEntry, error)
	UpdateRun(ctx context.Context, runID string, timeMs int64) ([]models.RankEntry, error)
	DeleteRun(ctx context.Context, runID string) ([]models.RankEntry, error)
	FetchTop(ctx context.Context, p models.Partition, limit int) ([]models.RankEntry, error)
	SeedRandomRuns(ctx context.Context, players []models.Player) (int, error)
}

// SnapshotFinder looks up daily snapshots.
type SnapshotFinder interface {
	Find(ctx context.Context, date time.Time, p models.Partition) (*models.Snapshot, error)
}

type LeaderboardHandler struct {
	leaderboard  Leaderboard
	snapshots    SnapshotFinder
	defaultLimit int
}

func NewLeaderboardHandler(leaderboard Leaderboard, snapshots SnapshotFinder, defaultLimit int) *LeaderboardHandler {
	if defaultLimit <= 0 {
		defaultLimit = models.DefaultLimit
	}
	return &LeaderboardHandler{leaderboard: leaderboard, snapshots: snapshots, defaultLimit: defaultLimit}
}

// GetLeaderboard returns the live ranking of one partition.
// GET /api/leaderboard?region=Europe&mode=Solo&limit=20
func (h *LeaderboardHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	p, err := services.ParsePartition(q.Get("region"), q.Get("mode"))
	if err != nil {
		respondWithServiceError(w, r, err, "Error fetching leaderboard")
		return
	}
	limit, err := queryLimit(r, h.defaultLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	top, err := h.leaderboard.FetchTop(ctx, p, limit)
	if err != nil {
		respondWithServiceError(w, r, err, "Error fetching leaderboard")
		return
	}
	respondWithJSON(w, http.StatusOK, models.LeaderboardUpdate{Region: p.Region, Mode: p.Mode, TopRuns: top})
}

// GetDailyLeaderboard returns a stored daily snapshot.
// GET /api/daily-leaderboard?date=2026-10-15&region=Europe&mode=Solo
func (h *LeaderboardHandler) GetDailyLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	q := r.URL.Query()
	if q.Get("date") == "" || q.Get("region") == "" || q.Get("mode") == "" {
		respondWithError(w, http.StatusBadRequest, "date, region, and mode are required")
		return
	}
	date, err := parseDate(q.Get("date"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "date must be YYYY-MM-DD or RFC 3339")
		return
	}
	p, err := services.ParsePartition(q.Get("region"), q.Get("mode"))
	if err != nil {
		respondWithServiceError(w, r, err, "Error fetching daily leaderboard")
		return
	}

	snap, err := h.snapshots.Find(ctx, date, p)
	if errors.Is(err, store.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "Daily leaderboard not found")
		return
	}
	if err != nil {
		respondWithServiceError(w, r, err, "Error fetching daily leaderboard")
		return
	}
	respondWithJSON(w, http.StatusOK, snap)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
