// shared/models/game.go
package models

import "github.com/google/uuid"

// GameState is the lifecycle stage of a match.
type GameState string

const (
	GamePreparing GameState = "PREPARING"
	GameStarting  GameState = "STARTING"
	GameRunning   GameState = "RUNNING"
	GameEnding    GameState = "ENDING"
	GameDiscarded GameState = "DISCARDED"
)

// GameRecord is the entry of an active match in the shared "games" list.
type GameRecord struct {
	ID        string      `json:"id"`
	BlueTeam  []uuid.UUID `json:"blueTeam"`
	RedTeam   []uuid.UUID `json:"redTeam"`
	Rounds    int         `json:"rounds"`
	KitType   KitType     `json:"kitType"`
	GameState GameState   `json:"gameState"`
	ServerID  string      `json:"serverId"`
}

// Players returns every participant, blue team first.
func (g GameRecord) Players() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(g.BlueTeam)+len(g.RedTeam))
	out = append(out, g.BlueTeam...)
	return append(out, g.RedTeam...)
}

// Has reports whether player takes part in the match.
func (g GameRecord) Has(player uuid.UUID) bool {
	for _, p := range g.Players() {
		if p == player {
			return true
		}
	}
	return false
}
