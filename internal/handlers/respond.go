package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"leaderboard-system/internal/models"
	"leaderboard-system/internal/services"

	"github.com/rs/zerolog"
)

const requestTimeout = 10 * time.Second

type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned by mutations together with the new ranking.
type MessageResponse struct {
	Message string             `json:"message"`
	Updated []models.RankEntry `json:"updated,omitempty"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithServiceError maps service error kinds to HTTP statuses. Only
// the validation message reaches the client; everything else is replaced by
// a fixed text and storage failures are logged.
func respondWithServiceError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation):
		respondWithError(w, http.StatusBadRequest, validationMessage(err))
	case errors.Is(err, services.ErrNotFound):
		respondWithError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, context.DeadlineExceeded):
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg(fallback)
		respondWithError(w, http.StatusGatewayTimeout, fallback)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg(fallback)
		respondWithError(w, http.StatusInternalServerError, fallback)
	}
}

// validationMessage returns the innermost validation text of err without the
// operation prefixes added on the way up.
func validationMessage(err error) string {
	var ve *services.ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	return "Invalid request"
}

// queryLimit parses ?limit=, using def when absent.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}
