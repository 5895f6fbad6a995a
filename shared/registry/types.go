// shared/registry/types.go
package registry

import (
	"time"

	"github.com/google/uuid"
)

// ServiceKind is the role a process plays in the network.
type ServiceKind string

const (
	KindLobby      ServiceKind = "LOBBY"
	KindDuel       ServiceKind = "DUEL"
	KindLimbo      ServiceKind = "LIMBO"
	KindProxy      ServiceKind = "PROXY"
	KindQueue      ServiceKind = "QUEUE"
	KindUnassigned ServiceKind = "UNASSIGNED"
)

// Kinds lists every known service kind.
var Kinds = []ServiceKind{KindLobby, KindDuel, KindLimbo, KindProxy, KindQueue, KindUnassigned}

// Valid reports whether k is a known kind.
func (k ServiceKind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ServiceIdentity is fixed once a process boots.
type ServiceIdentity struct {
	ID        string      `json:"id"`
	Address   string      `json:"address"`
	Kind      ServiceKind `json:"kind"`
	StartedAt time.Time   `json:"startedAt"`
}

// OnlinePlayer is a player connected to the announcing process.
type OnlinePlayer struct {
	UUID     uuid.UUID `json:"uuid"`
	Username string    `json:"username"`
}

// Heartbeat is broadcast by every process at a fixed interval.
type Heartbeat struct {
	Timestamp     int64          `json:"timestamp"` // Unix milliseconds at the sender
	ServiceType   ServiceKind    `json:"serviceType"`
	ID            string         `json:"id"`
	PlayerCount   int            `json:"playerCount"`
	OnlinePlayers []OnlinePlayer `json:"onlinePlayers"`
	ServerAddress string         `json:"serverAddress"`
}

// PeerRecord is the local, time-bounded knowledge of one live process.
// StartedAt of a peer is when this process first heard from it.
type PeerRecord struct {
	Identity      ServiceIdentity `json:"identity"`
	OnlinePlayers []OnlinePlayer  `json:"onlinePlayers"`
	LastSeen      time.Time       `json:"lastSeen"`
}

// Load is the number of players on the peer.
func (p PeerRecord) Load() int {
	return len(p.OnlinePlayers)
}
