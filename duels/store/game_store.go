// duels/store/game_store.go
package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/models"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

// GameStore manages the shared list of active match records. List elements
// are matched by their encoded form, so a record must be removed with exactly
// the value it was pushed with.
type GameStore struct {
	cache  cache.Cache
	logger zerolog.Logger
}

func NewGameStore(c cache.Cache, logger zerolog.Logger) *GameStore {
	return &GameStore{
		cache:  c,
		logger: logger.With().Str("component", "game_store").Logger(),
	}
}

// Add appends rec to the games list.
func (gs *GameStore) Add(ctx context.Context, rec models.GameRecord) error {
	if err := gs.cache.Push(ctx, redisu.GamesKey, rec); err != nil {
		return fmt.Errorf("failed to add game %s: %w", rec.ID, err)
	}
	return nil
}

// Remove deletes rec from the games list. A missing record is not an error.
func (gs *GameStore) Remove(ctx context.Context, rec models.GameRecord) error {
	if err := gs.cache.RemoveFromList(ctx, redisu.GamesKey, rec, 1); err != nil {
		return fmt.Errorf("failed to remove game %s: %w", rec.ID, err)
	}
	return nil
}

// Replace swaps old for updated, typically after a state change.
func (gs *GameStore) Replace(ctx context.Context, old, updated models.GameRecord) error {
	if err := gs.Remove(ctx, old); err != nil {
		return err
	}
	return gs.Add(ctx, updated)
}

// List returns every active match record of the network.
func (gs *GameStore) List(ctx context.Context) ([]models.GameRecord, error) {
	games, err := cache.LoadAll[models.GameRecord](ctx, gs.cache, redisu.GamesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list games: %w", err)
	}
	return games, nil
}

// Find returns the record with the given id.
func (gs *GameStore) Find(ctx context.Context, id string) (models.GameRecord, bool, error) {
	games, err := gs.List(ctx)
	if err != nil {
		return models.GameRecord{}, false, err
	}
	for _, g := range games {
		if g.ID == id {
			return g, true, nil
		}
	}
	return models.GameRecord{}, false, nil
}

// RemoveByID deletes every record with the given id, whatever state it was
// published with, and returns how many were removed.
func (gs *GameStore) RemoveByID(ctx context.Context, id string) (int, error) {
	return gs.removeWhere(ctx, func(g models.GameRecord) bool { return g.ID == id })
}

// PurgeServer removes every record owned by serverID, left behind when that
// server stopped without ending its games. It returns how many were removed.
func (gs *GameStore) PurgeServer(ctx context.Context, serverID string) (int, error) {
	removed, err := gs.removeWhere(ctx, func(g models.GameRecord) bool { return g.ServerID == serverID })
	if removed > 0 {
		gs.logger.Info().Str("server_id", serverID).Int("removed", removed).Msg("Purged stale game records")
	}
	return removed, err
}

func (gs *GameStore) removeWhere(ctx context.Context, match func(models.GameRecord) bool) (int, error) {
	games, err := gs.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, g := range games {
		if !match(g) {
			continue
		}
		if err := gs.Remove(ctx, g); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
