// shared/api/admin.go
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
)

// AdminHandler exposes the coordination state of a node over HTTP.
type AdminHandler struct {
	node *cluster.Node
}

func NewAdminHandler(node *cluster.Node) *AdminHandler {
	return &AdminHandler{node: node}
}

type statusBody struct {
	ServiceID string               `json:"serviceId"`
	Kind      registry.ServiceKind `json:"kind"`
	Status    models.ServiceStatus `json:"status"`
	Players   int                  `json:"players"`
	Uptime    string               `json:"uptime"`
}

// RegisterRoutes mounts the admin routes on the server's router.
func (h *AdminHandler) RegisterRoutes(bs *BaseServer) {
	bs.Router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	bs.Router.HandleFunc("/status", h.GetStatus).Methods(http.MethodGet)
	bs.Router.HandleFunc("/status", h.PutStatus).Methods(http.MethodPut)
	bs.Router.HandleFunc("/peers", h.Peers).Methods(http.MethodGet)
	bs.Router.HandleFunc("/players", h.Players).Methods(http.MethodGet)
	bs.Router.Handle("/metrics", h.node.Metrics.Handler()).Methods(http.MethodGet)
}

// Health answers 200 while the node is AVAILABLE and 503 otherwise.
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	s := h.node.Status.Get()
	code := http.StatusOK
	if s != models.StatusAvailable {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, map[string]string{"status": string(s)})
}

func (h *AdminHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.statusBody())
}

// PutStatus lets operators drain a node by hand.
func (h *AdminHandler) PutStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.ServiceStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return
	}
	req.Status = models.ServiceStatus(strings.ToUpper(string(req.Status)))
	if _, err := h.node.Status.Set(req.Status); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, h.statusBody())
}

// Peers lists live peers, optionally filtered with ?kind=DUEL&kind=LOBBY.
func (h *AdminHandler) Peers(w http.ResponseWriter, r *http.Request) {
	var kinds []registry.ServiceKind
	for _, raw := range r.URL.Query()["kind"] {
		kind := registry.ServiceKind(strings.ToUpper(raw))
		if !kind.Valid() {
			WriteBadRequest(w, "Unknown service kind: "+raw)
			return
		}
		kinds = append(kinds, kind)
	}
	WriteJSON(w, http.StatusOK, h.node.Registry.ListPeers(kinds...))
}

func (h *AdminHandler) Players(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.node.Players.Snapshot())
}

func (h *AdminHandler) statusBody() statusBody {
	return statusBody{
		ServiceID: h.node.Identity.ID,
		Kind:      h.node.Identity.Kind,
		Status:    h.node.Status.Get(),
		Players:   h.node.Players.Len(),
		Uptime:    time.Since(h.node.Identity.StartedAt).Truncate(time.Second).String(),
	}
}
