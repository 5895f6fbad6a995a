// lobby/service/match_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

// ErrMatchNotFound is returned for a game id missing from the games list.
var ErrMatchNotFound = errors.New("match not found")

// Spectators admits spectators on a duel server. *service.DuelClient
// satisfies it.
type Spectators interface {
	StartSpectating(ctx context.Context, server string, player uuid.UUID, duelID string) error
}

// MatchService is the lobby's view of running matches and the receiver of
// their results.
type MatchService struct {
	node       *cluster.Node
	profiles   *ProfileService
	spectators Spectators
	logger     zerolog.Logger
}

func NewMatchService(node *cluster.Node, profiles *ProfileService, spectators Spectators, logger zerolog.Logger) *MatchService {
	return &MatchService{
		node:       node,
		profiles:   profiles,
		spectators: spectators,
		logger:     logger.With().Str("component", "match_service").Logger(),
	}
}

// Register installs the match result handlers.
func (s *MatchService) Register() {
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, end models.DuelEnd) {
		s.logger.Info().Str("from", from).Str("kit", string(end.KitType)).
			Int("winner_score", end.WinnerScore).Int("loser_score", end.LoserScore).
			Dur("elapsed", time.Duration(end.ElapsedTime)*time.Millisecond).Msg("Duel ended")
		s.touch(ctx, append(append([]uuid.UUID(nil), end.Winner...), end.Loser...))
	})
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, end models.FFAEnd) {
		s.logger.Info().Str("from", from).Str("kit", string(end.KitType)).Str("winner", end.Winner.String()).
			Int("participants", len(end.Participants)).
			Dur("elapsed", time.Duration(end.ElapsedTime)*time.Millisecond).Msg("FFA ended")
		s.touch(ctx, end.Participants)
	})
}

func (s *MatchService) touch(ctx context.Context, players []uuid.UUID) {
	if err := s.profiles.Touch(ctx, players...); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to refresh last seen of match players")
	}
}

// Matches lists the records of the games list.
func (s *MatchService) Matches(ctx context.Context) ([]models.GameRecord, error) {
	records, err := cache.LoadAll[models.GameRecord](ctx, s.node.Cache, redisu.GamesKey)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	return records, nil
}

// Spectate sends player to the duel server running duelID.
func (s *MatchService) Spectate(ctx context.Context, player uuid.UUID, duelID string) (models.GameRecord, error) {
	records, err := s.Matches(ctx)
	if err != nil {
		return models.GameRecord{}, err
	}
	for _, r := range records {
		if r.ID != duelID {
			continue
		}
		if err := s.spectators.StartSpectating(ctx, r.ServerID, player, duelID); err != nil {
			return models.GameRecord{}, fmt.Errorf("failed to start spectating %s: %w", duelID, err)
		}
		s.logger.Info().Str("player", player.String()).Str("game_id", duelID).Str("server", r.ServerID).
			Msg("Player sent to spectate")
		return r, nil
	}
	return models.GameRecord{}, fmt.Errorf("%w: %s", ErrMatchNotFound, duelID)
}
