// lobby/service/presence_service.go
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
)

// NetworkLeaver is told about players leaving the network.
// *service.QueueClient from the shared package satisfies it.
type NetworkLeaver interface {
	QuitNetwork(ctx context.Context, player uuid.UUID) error
}

// PresenceService tracks the players standing in this lobby. They are
// announced in the lobby heartbeat, which keeps them alive in the queues.
type PresenceService struct {
	node     *cluster.Node
	profiles *ProfileService
	leaver   NetworkLeaver
	logger   zerolog.Logger
}

func NewPresenceService(node *cluster.Node, profiles *ProfileService, leaver NetworkLeaver, logger zerolog.Logger) *PresenceService {
	return &PresenceService{
		node:     node,
		profiles: profiles,
		leaver:   leaver,
		logger:   logger.With().Str("component", "presence_service").Logger(),
	}
}

// Register installs the Connect handler. A player connected to this lobby
// joins it; a lobby player connected elsewhere leaves it without quitting the
// network.
func (s *PresenceService) Register() {
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, msg models.Connect) {
		if msg.Server == s.node.Identity.ID {
			if s.node.Players.Has(msg.UUID) {
				return
			}
			s.Join(ctx, msg.UUID, "")
			return
		}
		if s.node.Players.Remove(msg.UUID) {
			s.logger.Debug().Str("player", msg.UUID.String()).Str("server", msg.Server).Str("from", from).
				Msg("Player moved to another server")
		}
	})
}

// Join adds player to the lobby. An empty username is resolved from the
// player's profile when one can be found.
func (s *PresenceService) Join(ctx context.Context, player uuid.UUID, username string) {
	if username == "" {
		if profile, err := s.profiles.Get(ctx, player); err == nil {
			username = profile.Username
		} else {
			s.logger.Debug().Err(err).Str("player", player.String()).Msg("No profile for joining player")
		}
	}
	s.node.Players.Add(player, username)
	if err := s.profiles.Touch(ctx, player); err != nil {
		s.logger.Warn().Err(err).Str("player", player.String()).Msg("Failed to refresh last seen of joining player")
	}
	s.logger.Info().Str("player", player.String()).Str("username", username).Msg("Player joined lobby")
}

// Quit removes player from the lobby and from every queue. It reports
// whether the player was in this lobby.
func (s *PresenceService) Quit(ctx context.Context, player uuid.UUID) (bool, error) {
	present := s.node.Players.Remove(player)
	err := s.leaver.QuitNetwork(ctx, player)
	if errors.Is(err, messaging.ErrNoSuchService) {
		s.logger.Debug().Str("player", player.String()).Msg("No queue instance to tell about quit")
		err = nil
	}
	if err != nil {
		return present, fmt.Errorf("failed to report %s leaving the network: %w", player, err)
	}
	s.logger.Info().Str("player", player.String()).Bool("was_present", present).Msg("Player quit the network")
	return present, nil
}

// Online reports whether player stands in this lobby.
func (s *PresenceService) Online(player uuid.UUID) bool {
	return s.node.Players.Has(player)
}
