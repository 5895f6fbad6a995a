// duels/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/duels/service"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/models"
)

// PoolSizer reports idle arenas per type. *pool.Manager satisfies it.
type PoolSizer interface {
	Size(arenaType models.ArenaType) int
	Target() int
}

// DuelAPIHandlers serves the HTTP routes of a duel server.
type DuelAPIHandlers struct {
	games  *service.GameService
	arenas PoolSizer
	logger zerolog.Logger
}

func NewDuelAPIHandlers(games *service.GameService, arenas PoolSizer, logger zerolog.Logger) *DuelAPIHandlers {
	return &DuelAPIHandlers{
		games:  games,
		arenas: arenas,
		logger: logger.With().Str("component", "duel_api").Logger(),
	}
}

// ArenaPoolResponse is the body of GET /arenas.
type ArenaPoolResponse struct {
	Target int                      `json:"target"`
	Idle   map[models.ArenaType]int `json:"idle"`
}

// writeGameError maps game service errors to HTTP status codes.
func (h *DuelAPIHandlers) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrGameNotFound):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidGame):
		api.WriteBadRequest(w, err.Error())
	case errors.Is(err, service.ErrPlayerBusy):
		api.WriteConflict(w, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Game operation failed")
		api.WriteServiceError(w, err)
	}
}

// handleListGames lists the games running on this server.
// GET /games
func (h *DuelAPIHandlers) handleListGames(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.games.Games())
}

// handleGetGame returns one running game.
// GET /games/{id}
func (h *DuelAPIHandlers) handleGetGame(w http.ResponseWriter, r *http.Request) {
	g, ok := h.games.Game(mux.Vars(r)["id"])
	if !ok {
		api.WriteNotFound(w, "Game not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, g)
}

// handleStartDuel starts a team match directly on this server.
// POST /games
// Body: DuelStart
func (h *DuelAPIHandlers) handleStartDuel(w http.ResponseWriter, r *http.Request) {
	var req models.DuelStart
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	g, err := h.games.StartDuel(ctx, req)
	if err != nil {
		h.writeGameError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, g)
}

// handleEndGame ends a game and reports its result.
// POST /games/{id}/end
// Body: { "winnerTeam": "BLUE", "blueScore": 2, "redScore": 1 } or { "winner": "<uuid>" }
func (h *DuelAPIHandlers) handleEndGame(w http.ResponseWriter, r *http.Request) {
	var req service.EndResult
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.games.EndGame(ctx, mux.Vars(r)["id"], req); err != nil {
		h.writeGameError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleArenas reports the warm pool.
// GET /arenas
func (h *DuelAPIHandlers) handleArenas(w http.ResponseWriter, r *http.Request) {
	resp := ArenaPoolResponse{Target: h.arenas.Target(), Idle: make(map[models.ArenaType]int)}
	for _, t := range models.ArenaTypes {
		resp.Idle[t] = h.arenas.Size(t)
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// RegisterRoutes registers the duel server routes.
func (h *DuelAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/games", h.handleListGames).Methods(http.MethodGet)
	router.HandleFunc("/games", h.handleStartDuel).Methods(http.MethodPost)
	router.HandleFunc("/games/{id}", h.handleGetGame).Methods(http.MethodGet)
	router.HandleFunc("/games/{id}/end", h.handleEndGame).Methods(http.MethodPost)
	router.HandleFunc("/arenas", h.handleArenas).Methods(http.MethodGet)
}
