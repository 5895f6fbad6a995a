// shared/models/messages.go
package models

import (
	"github.com/google/uuid"

	"github.com/Ftotnem/duels-network/shared/messaging"
)

// Connect asks the proxy holding uuid to move the player to server.
type Connect struct {
	UUID   uuid.UUID `json:"uuid"`
	Server string    `json:"server"`
}

// SendMessage delivers a chat line to one player wherever they are.
type SendMessage struct {
	UUID uuid.UUID `json:"uuid"`
	Text string    `json:"text"`
}

// BroadcastMessage delivers a chat line to every player.
type BroadcastMessage struct {
	Text string `json:"text"`
}

// DuelStart asks a duel server to start a team match.
type DuelStart struct {
	BlueTeam []uuid.UUID `json:"blueTeam"`
	RedTeam  []uuid.UUID `json:"redTeam"`
	Rounds   int         `json:"rounds"`
	KitType  KitType     `json:"kitType"`
}

// FFAStart asks a duel server to start a free-for-all.
type FFAStart struct {
	Players []uuid.UUID `json:"players"`
	KitType KitType     `json:"kitType"`
}

// FFAEnd reports the result of a free-for-all.
type FFAEnd struct {
	Winner       uuid.UUID   `json:"winner"`
	Participants []uuid.UUID `json:"participants"`
	KitType      KitType     `json:"kitType"`
	ElapsedTime  int64       `json:"elapsedTime"` // milliseconds
}

// DuelEnd reports the result of a team match.
type DuelEnd struct {
	Winner      []uuid.UUID `json:"winner"`
	Loser       []uuid.UUID `json:"loser"`
	MaxScore    int         `json:"maxScore"`
	WinnerScore int         `json:"winnerScore"`
	LoserScore  int         `json:"loserScore"`
	KitType     KitType     `json:"kitType"`
	ElapsedTime int64       `json:"elapsedTime"` // milliseconds
}

// MigrateGame hands a running match over to another duel server.
type MigrateGame struct {
	BlueTeam     []uuid.UUID `json:"blueTeam"`
	RedTeam      []uuid.UUID `json:"redTeam"`
	MaxRounds    int         `json:"maxRounds"`
	KitType      KitType     `json:"kitType"`
	RedScore     int         `json:"redScore"`
	BlueScore    int         `json:"blueScore"`
	ArenaID      string      `json:"arenaId"`
	GameServerID string      `json:"gameServerId"`
}

// StartSpectating asks the duel server of duelId to admit uuid as spectator.
type StartSpectating struct {
	UUID   uuid.UUID `json:"uuid"`
	DuelID string    `json:"duelId"`
}

type IsDuelingRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

type IsDuelingResponse struct {
	UUID    uuid.UUID `json:"uuid"`
	GameID  string    `json:"gameId"`
	Dueling bool      `json:"dueling"`
}

// ServiceStatus is the process-local lifecycle status.
type ServiceStatus string

const (
	StatusUnavailable  ServiceStatus = "UNAVAILABLE"
	StatusAvailable    ServiceStatus = "AVAILABLE"
	StatusShuttingDown ServiceStatus = "SHUTTING_DOWN"
)

// Valid reports whether s is a known status.
func (s ServiceStatus) Valid() bool {
	switch s {
	case StatusUnavailable, StatusAvailable, StatusShuttingDown:
		return true
	}
	return false
}

type StatusRequest struct{}

type StatusResponse struct {
	Status ServiceStatus `json:"status"`
}

type PingRequest struct{}

type PingResponse struct {
	ServiceID string `json:"serviceId"`
}

// AddToQueue queues a player for a kit and format.
type AddToQueue struct {
	UUID      uuid.UUID `json:"uuid"`
	KitType   KitType   `json:"kitType"`
	QueueType QueueType `json:"queueType"`
}

type RemoveFromQueue struct {
	UUID uuid.UUID `json:"uuid"`
}

// QuitNetwork reports that a player left the network entirely.
type QuitNetwork struct {
	UUID uuid.UUID `json:"uuid"`
}

type IsQueuedRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

type IsQueuedResponse struct {
	UUID   uuid.UUID `json:"uuid"`
	Queued bool      `json:"queued"`
}

type QueuedAmountRequest struct {
	KitType   KitType   `json:"kitType"`
	QueueType QueueType `json:"queueType"`
}

type QueuedAmountResponse struct {
	Amount int `json:"amount"`
}

// WhereIsRequest is broadcast to find the server a player is connected to.
type WhereIsRequest struct {
	UUID uuid.UUID `json:"uuid"`
}

type WhereIsResponse struct {
	Server string `json:"server"`
}

func (Connect) Kind() string              { return "Connect" }
func (SendMessage) Kind() string          { return "SendMessage" }
func (BroadcastMessage) Kind() string     { return "BroadcastMessage" }
func (DuelStart) Kind() string            { return "DuelStart" }
func (FFAStart) Kind() string             { return "FFAStart" }
func (FFAEnd) Kind() string               { return "FFAEnd" }
func (DuelEnd) Kind() string              { return "DuelEnd" }
func (MigrateGame) Kind() string          { return "MigrateGame" }
func (StartSpectating) Kind() string      { return "StartSpectating" }
func (IsDuelingRequest) Kind() string     { return "IsDuelingRequest" }
func (IsDuelingResponse) Kind() string    { return "IsDuelingResponse" }
func (StatusRequest) Kind() string        { return "StatusRequest" }
func (StatusResponse) Kind() string       { return "StatusResponse" }
func (PingRequest) Kind() string          { return "PingRequest" }
func (PingResponse) Kind() string         { return "PingResponse" }
func (AddToQueue) Kind() string           { return "AddToQueue" }
func (RemoveFromQueue) Kind() string      { return "RemoveFromQueue" }
func (QuitNetwork) Kind() string          { return "QuitNetwork" }
func (IsQueuedRequest) Kind() string      { return "IsQueuedRequest" }
func (IsQueuedResponse) Kind() string     { return "IsQueuedResponse" }
func (QueuedAmountRequest) Kind() string  { return "QueuedAmountRequest" }
func (QueuedAmountResponse) Kind() string { return "QueuedAmountResponse" }
func (WhereIsRequest) Kind() string       { return "WhereIsRequest" }
func (WhereIsResponse) Kind() string      { return "WhereIsResponse" }

// RegisterPayloads adds every network variant to c.
func RegisterPayloads(c *messaging.Codec) {
	messaging.Register[Connect](c)
	messaging.Register[SendMessage](c)
	messaging.Register[BroadcastMessage](c)
	messaging.Register[DuelStart](c)
	messaging.Register[FFAStart](c)
	messaging.Register[FFAEnd](c)
	messaging.Register[DuelEnd](c)
	messaging.Register[MigrateGame](c)
	messaging.Register[StartSpectating](c)
	messaging.Register[IsDuelingRequest](c)
	messaging.Register[IsDuelingResponse](c)
	messaging.Register[StatusRequest](c)
	messaging.Register[StatusResponse](c)
	messaging.Register[PingRequest](c)
	messaging.Register[PingResponse](c)
	messaging.Register[AddToQueue](c)
	messaging.Register[RemoveFromQueue](c)
	messaging.Register[QuitNetwork](c)
	messaging.Register[IsQueuedRequest](c)
	messaging.Register[IsQueuedResponse](c)
	messaging.Register[QueuedAmountRequest](c)
	messaging.Register[QueuedAmountResponse](c)
	messaging.Register[WhereIsRequest](c)
	messaging.Register[WhereIsResponse](c)
}

// NewCodec returns a codec that knows every network variant.
func NewCodec() *messaging.Codec {
	c := messaging.NewCodec()
	RegisterPayloads(c)
	return c
}
