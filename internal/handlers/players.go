package handlers

import (
	"context"
	"errors"
	"net/http"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/services"

	"github.com/gorilla/mux"
)

// Players is the player registry side of the service layer.
type Players interface {
	Create(ctx context.Context, in services.PlayerInput) (*models.Player, error)
	CreateMany(ctx context.Context, inputs []services.PlayerInput) ([]*models.Player, error)
	Get(ctx context.Context, id string) (*models.Player, error)
	List(ctx context.Context, region, name, id string, limit int) ([]models.Player, error)
	All(ctx context.Context) ([]models.Player, error)
	Update(ctx context.Context, id string, in services.PlayerInput) (*models.Player, error)
	Delete(ctx context.Context, id string) error
}

type PlayerHandler struct {
	players      Players
	defaultLimit int
}

func NewPlayerHandler(players Players, defaultLimit int) *PlayerHandler {
	if defaultLimit <= 0 {
		defaultLimit = models.DefaultLimit
	}
	return &PlayerHandler{players: players, defaultLimit: defaultLimit}
}

// CreatePlayer registers a player.
// POST /api/players
func (h *PlayerHandler) CreatePlayer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in services.PlayerInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := h.players.Create(ctx, in)
	if err != nil {
		respondWithServiceError(w, r, err, "Error adding player")
		return
	}
	respondWithJSON(w, http.StatusCreated, p)
}

// CreatePlayersBulk registers an array of players.
// POST /api/players/bulk
func (h *PlayerHandler) CreatePlayersBulk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var inputs []services.PlayerInput
	if err := decodeJSON(r, &inputs); err != nil {
		respondWithError(w, http.StatusBadRequest, "Request body must be an array of players")
		return
	}
	players, err := h.players.CreateMany(ctx, inputs)
	if err != nil {
		respondWithServiceError(w, r, err, "Error adding players")
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Players added successfully",
		"players": players,
	})
}

// ListPlayers filters players by region, name substring or id.
// GET /api/players?region=&name=&id=&limit=20
func (h *PlayerHandler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	limit, err := queryLimit(r, h.defaultLimit)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	players, err := h.players.List(ctx, q.Get("region"), q.Get("name"), q.Get("id"), limit)
	if err != nil {
		respondWithServiceError(w, r, err, "Error fetching players")
		return
	}
	respondWithJSON(w, http.StatusOK, players)
}

// UpdatePlayer renames or relocates a player. A region change applies to
// future runs only; existing runs stay ranked in the partition they were
// submitted to.
// PUT /api/players/{id}
func (h *PlayerHandler) UpdatePlayer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var in services.PlayerInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	p, err := h.players.Update(ctx, mux.Vars(r)["id"], in)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Player not found")
			return
		}
		respondWithServiceError(w, r, err, "Error updating player")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Player updated successfully",
		"player":  p,
	})
}

// DeletePlayer removes a player with all their runs.
// DELETE /api/players/{id}
func (h *PlayerHandler) DeletePlayer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.players.Delete(ctx, mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Player not found")
			return
		}
		respondWithServiceError(w, r, err, "Error deleting player")
		return
	}
	respondWithJSON(w, http.StatusOK, MessageResponse{Message: "Player and associated runs deleted successfully"})
}
