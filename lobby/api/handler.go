// lobby/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/lobby/service"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/models"
)

// QueueFrontDoor reaches the queue service. *service.QueueClient from the
// shared package satisfies it.
type QueueFrontDoor interface {
	Add(ctx context.Context, player uuid.UUID, kit models.KitType, queueType models.QueueType) error
	Remove(ctx context.Context, player uuid.UUID) error
	IsQueued(ctx context.Context, player uuid.UUID) (bool, error)
	QueuedAmount(ctx context.Context, kit models.KitType, queueType models.QueueType) (int, error)
}

// LobbyAPIHandlers serves the HTTP routes of the lobby.
type LobbyAPIHandlers struct {
	profiles *service.ProfileService
	parties  *service.PartyService
	matches  *service.MatchService
	presence *service.PresenceService
	queue    QueueFrontDoor
	logger   zerolog.Logger
}

func NewLobbyAPIHandlers(profiles *service.ProfileService, parties *service.PartyService, matches *service.MatchService, presence *service.PresenceService, queue QueueFrontDoor, logger zerolog.Logger) *LobbyAPIHandlers {
	return &LobbyAPIHandlers{
		profiles: profiles,
		parties:  parties,
		matches:  matches,
		presence: presence,
		queue:    queue,
		logger:   logger.With().Str("component", "lobby_api").Logger(),
	}
}

// PartyInviteRequest is the body of the party routes.
type PartyInviteRequest struct {
	Sender uuid.UUID `json:"sender"`
	Target uuid.UUID `json:"target"`
}

// JoinRequest is the body of POST /players.
type JoinRequest struct {
	UUID     uuid.UUID `json:"uuid"`
	Username string    `json:"username"`
}

// SpectateRequest is the body of POST /spectate.
type SpectateRequest struct {
	UUID   uuid.UUID `json:"uuid"`
	DuelID string    `json:"duelId"`
}

// QueuedResponse is the body of GET /queue/{uuid}.
type QueuedResponse struct {
	UUID   uuid.UUID `json:"uuid"`
	Queued bool      `json:"queued"`
}

// QueueCountResponse is the body of GET /queue/count.
type QueueCountResponse struct {
	KitType   models.KitType   `json:"kitType"`
	QueueType models.QueueType `json:"queueType"`
	Amount    int              `json:"amount"`
}

func (h *LobbyAPIHandlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrProfileNotFound),
		errors.Is(err, service.ErrMatchNotFound),
		errors.Is(err, service.ErrInviteNotFound):
		api.WriteNotFound(w, err.Error())
	case errors.Is(err, service.ErrInvalidInvite):
		api.WriteBadRequest(w, err.Error())
	default:
		h.logger.Error().Err(err).Msg("Lobby operation failed")
		api.WriteServiceError(w, err)
	}
}

func playerFromPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["uuid"])
	if err != nil {
		api.WriteBadRequest(w, "Invalid UUID format")
		return uuid.Nil, false
	}
	return id, true
}

// handleJoin puts a player in this lobby.
// POST /players
// Body: { "uuid": "...", "username": "Steve" }
func (h *LobbyAPIHandlers) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == uuid.Nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	h.presence.Join(ctx, req.UUID, req.Username)
	w.WriteHeader(http.StatusNoContent)
}

// handleQuit takes a player off the network, wherever they stood.
// DELETE /players/{uuid}
func (h *LobbyAPIHandlers) handleQuit(w http.ResponseWriter, r *http.Request) {
	id, ok := playerFromPath(w, r)
	if !ok {
		return
	}
	if _, err := h.presence.Quit(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetProfile returns a player's profile, looking up unknown players on
// Mojang.
// GET /profiles/{uuid}
func (h *LobbyAPIHandlers) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := playerFromPath(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	profile, err := h.profiles.Get(ctx, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, profile)
}

// handleUpdateProfile replaces a player's profile.
// PUT /profiles/{uuid}
// Body: PlayerProfile
func (h *LobbyAPIHandlers) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := playerFromPath(w, r)
	if !ok {
		return
	}
	var profile models.PlayerProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	profile.UUID = id.String()

	if err := h.profiles.Update(r.Context(), profile); err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, profile)
}

func decodeInvite(w http.ResponseWriter, r *http.Request) (PartyInviteRequest, bool) {
	var req PartyInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteBadRequest(w, "Invalid request body")
		return req, false
	}
	return req, true
}

// handlePartyInvite stores a party invitation.
// POST /party/invite
// Body: { "sender": "...", "target": "..." }
func (h *LobbyAPIHandlers) handlePartyInvite(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeInvite(w, r)
	if !ok {
		return
	}
	invite, err := h.parties.Invite(r.Context(), req.Sender, req.Target)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, invite)
}

// handlePartyAccept consumes a party invitation.
// POST /party/accept
// Body: { "sender": "...", "target": "..." }
func (h *LobbyAPIHandlers) handlePartyAccept(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeInvite(w, r)
	if !ok {
		return
	}
	invite, err := h.parties.Accept(r.Context(), req.Target, req.Sender)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, invite)
}

// handleMatches lists the running matches of the network.
// GET /matches
func (h *LobbyAPIHandlers) handleMatches(w http.ResponseWriter, r *http.Request) {
	records, err := h.matches.Matches(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, records)
}

// handleSpectate sends a player to watch a running match.
// POST /spectate
// Body: { "uuid": "...", "duelId": "..." }
func (h *LobbyAPIHandlers) handleSpectate(w http.ResponseWriter, r *http.Request) {
	var req SpectateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == uuid.Nil || req.DuelID == "" {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	record, err := h.matches.Spectate(r.Context(), req.UUID, req.DuelID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusAccepted, record)
}

// handleJoinQueue hands a player to the queue instance owning the kit.
// POST /queue
// Body: { "uuid": "...", "kitType": "SWORD", "queueType": "SOLO" }
func (h *LobbyAPIHandlers) handleJoinQueue(w http.ResponseWriter, r *http.Request) {
	var req models.AddToQueue
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == uuid.Nil {
		api.WriteBadRequest(w, "Invalid request body")
		return
	}
	if !req.KitType.Valid() || !req.QueueType.Valid() {
		api.WriteBadRequest(w, "Unknown kit or queue type")
		return
	}
	if err := h.queue.Add(r.Context(), req.UUID, req.KitType, req.QueueType); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleLeaveQueue takes a player out of every queue.
// DELETE /queue/{uuid}
func (h *LobbyAPIHandlers) handleLeaveQueue(w http.ResponseWriter, r *http.Request) {
	id, ok := playerFromPath(w, r)
	if !ok {
		return
	}
	if err := h.queue.Remove(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleIsQueued asks the queue service whether a player waits.
// GET /queue/{uuid}
func (h *LobbyAPIHandlers) handleIsQueued(w http.ResponseWriter, r *http.Request) {
	id, ok := playerFromPath(w, r)
	if !ok {
		return
	}
	queued, err := h.queue.IsQueued(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, QueuedResponse{UUID: id, Queued: queued})
}

// handleQueueCount returns how many players wait for a kit and format.
// GET /queue/count?kit=SWORD&queue=SOLO
func (h *LobbyAPIHandlers) handleQueueCount(w http.ResponseWriter, r *http.Request) {
	kit := models.KitType(strings.ToUpper(r.URL.Query().Get("kit")))
	qt := models.QueueType(strings.ToUpper(r.URL.Query().Get("queue")))
	if !kit.Valid() || !qt.Valid() {
		api.WriteBadRequest(w, "Unknown kit or queue type")
		return
	}
	amount, err := h.queue.QueuedAmount(r.Context(), kit, qt)
	if err != nil {
		h.writeError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, QueueCountResponse{KitType: kit, QueueType: qt, Amount: amount})
}

// RegisterRoutes registers the lobby routes.
func (h *LobbyAPIHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/players", h.handleJoin).Methods(http.MethodPost)
	router.HandleFunc("/players/{uuid}", h.handleQuit).Methods(http.MethodDelete)

	router.HandleFunc("/profiles/{uuid}", h.handleGetProfile).Methods(http.MethodGet)
	router.HandleFunc("/profiles/{uuid}", h.handleUpdateProfile).Methods(http.MethodPut)

	router.HandleFunc("/party/invite", h.handlePartyInvite).Methods(http.MethodPost)
	router.HandleFunc("/party/accept", h.handlePartyAccept).Methods(http.MethodPost)

	router.HandleFunc("/matches", h.handleMatches).Methods(http.MethodGet)
	router.HandleFunc("/spectate", h.handleSpectate).Methods(http.MethodPost)

	router.HandleFunc("/queue", h.handleJoinQueue).Methods(http.MethodPost)
	router.HandleFunc("/queue/count", h.handleQueueCount).Methods(http.MethodGet)
	router.HandleFunc("/queue/{uuid}", h.handleIsQueued).Methods(http.MethodGet)
	router.HandleFunc("/queue/{uuid}", h.handleLeaveQueue).Methods(http.MethodDelete)
}
