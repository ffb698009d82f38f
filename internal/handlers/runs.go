package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/services"

	"github.com/gorilla/mux"
)

type RunHandler struct {
	leaderboard Leaderboard
	players     Players
}

func NewRunHandler(leaderboard Leaderboard, players Players) *RunHandler {
	return &RunHandler{leaderboard: leaderboard, players: players}
}

// SubmitRun records a run for a registered player.
// POST /api/runs
func (h *RunHandler) SubmitRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in services.SubmitRunInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if _, err := in.Validate(); err != nil {
		respondWithServiceError(w, r, err, "Error adding run")
		return
	}
	if _, err := h.players.Get(ctx, in.PlayerID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Player not found")
			return
		}
		respondWithServiceError(w, r, err, "Error adding run")
		return
	}

	updated, err := h.leaderboard.SubmitRun(ctx, in)
	if err != nil {
		respondWithServiceError(w, r, err, "Error adding run")
		return
	}
	respondWithJSON(w, http.StatusCreated, MessageResponse{Message: "Run added successfully", Updated: updated})
}

// SubmitBulk submits one random run for every registered player.
// POST /api/runs/bulk
func (h *RunHandler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*requestTimeout)
	defer cancel()

	players, err := h.players.All(ctx)
	if err != nil {
		respondWithServiceError(w, r, err, "Error adding bulk runs")
		return
	}
	if len(players) == 0 {
		respondWithError(w, http.StatusNotFound, "No players found in the database")
		return
	}

	n, err := h.leaderboard.SeedRandomRuns(ctx, players)
	if err != nil {
		respondWithServiceError(w, r, err, "Error adding bulk runs")
		return
	}
	respondWithJSON(w, http.StatusCreated, MessageResponse{Message: fmt.Sprintf("Successfully added runs for %d players", n)})
}

type updateRunRequest struct {
	TimeMs int64 `json:"timeMs"`
}

// UpdateRun changes a run's time.
// PUT /api/runs/{id}
func (h *RunHandler) UpdateRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req updateRunRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.TimeMs == 0 {
		respondWithError(w, http.StatusBadRequest, "timeMs is required")
		return
	}

	updated, err := h.leaderboard.UpdateRun(ctx, mux.Vars(r)["id"], req.TimeMs)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Run not found")
			return
		}
		respondWithServiceError(w, r, err, "Error updating run")
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Run updated successfully", Updated: updated})
}

// DeleteRun removes a run.
// DELETE /api/runs/{id}
func (h *RunHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	updated, err := h.leaderboard.DeleteRun(ctx, mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Run not found")
			return
		}
		respondWithServiceError(w, r, err, "Error deleting run")
		return
	}
	if updated == nil {
		updated = []models.RankEntry{}
	}
	respondWithJSON(w, http.StatusOK, struct {
		Message string             `json:"message"`
		Updated []models.RankEntry `json:"updated"`
	}{"Run deleted successfully", updated})
}
