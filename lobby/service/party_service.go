// lobby/service/party_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/models"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

var (
	ErrInviteNotFound = errors.New("party invitation not found or expired")
	ErrInvalidInvite  = errors.New("invalid party invitation")
)

// PartyService keeps pending party invitations as expiring cache entries.
type PartyService struct {
	cache  cache.Cache
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

func NewPartyService(c cache.Cache, ttl time.Duration, logger zerolog.Logger) *PartyService {
	return &PartyService{
		cache:  c,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "party_service").Logger(),
	}
}

// Invite records an invitation from sender to target. Inviting again renews
// the expiry.
func (s *PartyService) Invite(ctx context.Context, sender, target uuid.UUID) (models.PartyInvite, error) {
	if sender == uuid.Nil || target == uuid.Nil || sender == target {
		return models.PartyInvite{}, ErrInvalidInvite
	}
	invite := models.PartyInvite{Sender: sender, Target: target, CreatedAt: s.now().UnixMilli()}
	key := redisu.PartyInviteKey(target.String(), sender.String())
	if err := s.cache.SetWithTTL(ctx, key, invite, s.ttl); err != nil {
		return models.PartyInvite{}, fmt.Errorf("failed to store party invitation: %w", err)
	}
	s.logger.Info().Str("sender", sender.String()).Str("target", target.String()).Msg("Party invitation sent")
	return invite, nil
}

// Accept consumes the invitation from sender to target. An invitation can be
// accepted once.
func (s *PartyService) Accept(ctx context.Context, target, sender uuid.UUID) (models.PartyInvite, error) {
	key := redisu.PartyInviteKey(target.String(), sender.String())
	invite, ok, err := cache.Load[models.PartyInvite](ctx, s.cache, key)
	if err != nil {
		return models.PartyInvite{}, fmt.Errorf("failed to read party invitation: %w", err)
	}
	if !ok {
		return models.PartyInvite{}, ErrInviteNotFound
	}
	removed, err := s.cache.Remove(ctx, key)
	if err != nil {
		return models.PartyInvite{}, fmt.Errorf("failed to consume party invitation: %w", err)
	}
	if !removed {
		return models.PartyInvite{}, ErrInviteNotFound
	}
	s.logger.Info().Str("sender", sender.String()).Str("target", target.String()).Msg("Party invitation accepted")
	return invite, nil
}
