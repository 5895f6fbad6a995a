// queue/api/handler.go
package api

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/queue/matchmaker"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/models"
)

// QueueAPIHandlers serves the HTTP routes of a queue instance.
type QueueAPIHandlers struct {
	mm     *matchmaker.Matchmaker
	logger zerolog.Logger
}

func NewQueueAPIHandlers(mm *matchmaker.Matchmaker, logger zerolog.Logger) *QueueAPIHandlers {
	return &QueueAPIHandlers{
		mm:     mm,
		logger: logger.With().Str("component", "queue_api").Logger(),
	}
}

// QueuedResponse is the body of GET /queues/{uuid}.
type QueuedResponse struct {
	UUID   uuid.UUID `json:"uuid"`
	Queued bool      `json:"queued"`
}

// handleDepths lists the size of every queue held here.
// GET /queues
func (h *QueueAPIHandlers) handleDepths(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, h.mm.Depths())
}

// handleJoin queues a player on this instance. Entries of kits owned by
// another instance move there on the next tick.
// POST /queues
// Body: { "uuid": "...", "kitType": "SWORD", "queueType": "SOLO" }
func (h *QueueAPIHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req models.AddToQueue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UUID == uuid.Nil {
		api.WriteBadRequest(w, "Missing player uuid")
		return
	}
	if err := h.mm.Push(req.UUID, req.KitType, req.QueueType); err != nil {
		api.WriteBadRequest(w, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *QueueAPIHandlers) playerFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		api.WriteBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}
	return id, true
}

// handleIsQueued reports whether a player waits here.
// GET /queues/{uuid}
func (h *QueueAPIHandlers) handleIsQueued(w http.ResponseWriter, r *http.Request) {
	id, ok := h.playerFromPath(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, QueuedResponse{UUID: id, Queued: h.mm.IsQueued(id)})
}

// handleLeave removes a player from the queues held here.
// DELETE /queues/{uuid}
func (h *QueueAPIHandlers) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := h.playerFromPath(w, r)
	if !ok {
		return
	}
	if !h.mm.Remove(id) {
		api.WriteNotFound(w, "Player is not queued")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterRoutes registers the queue routes.
func (h *QueueAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/queues", h.handleDepths).Methods(http.MethodGet)
	router.HandleFunc("/queues", h.handleJoin).Methods(http.MethodPost)
	router.HandleFunc("/queues/{uuid}", h.handleIsQueued).Methods(http.MethodGet)
	router.HandleFunc("/queues/{uuid}", h.handleLeave).Methods(http.MethodDelete)
}
