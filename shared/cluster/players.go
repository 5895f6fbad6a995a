package cluster

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Ftotnem/duels-network/shared/registry"
)

// PlayerSet is the set of players connected to this process.
type PlayerSet struct {
	players sync.Map // uuid.UUID -> username
}

func (s *PlayerSet) Add(id uuid.UUID, username string) { s.players.Store(id, username) }

func (s *PlayerSet) Remove(id uuid.UUID) bool {
	_, ok := s.players.LoadAndDelete(id)
	return ok
}

func (s *PlayerSet) Has(id uuid.UUID) bool {
	_, ok := s.players.Load(id)
	return ok
}

// Snapshot returns the players sorted by username. It is used as the
// heartbeat player source.
func (s *PlayerSet) Snapshot() []registry.OnlinePlayer {
	var out []registry.OnlinePlayer
	s.players.Range(func(key, value any) bool {
		out = append(out, registry.OnlinePlayer{UUID: key.(uuid.UUID), Username: value.(string)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *PlayerSet) Len() int {
	n := 0
	s.players.Range(func(_, _ any) bool { n++; return true })
	return n
}
