// lobby/service/profile_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/lobby/mojang"
	"github.com/Ftotnem/duels-network/lobby/store"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/models"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

// ErrProfileNotFound is returned for a player known neither to the store nor
// to Mojang.
var ErrProfileNotFound = errors.New("player profile not found")

// ProfileStore is the authoritative profile storage. *store.ProfileStore
// satisfies it.
type ProfileStore interface {
	Get(ctx context.Context, uuid string) (*models.PlayerProfile, error)
	Save(ctx context.Context, profile *models.PlayerProfile) error
	Incomplete(ctx context.Context, limit int64) ([]models.PlayerProfile, error)
}

// ProfileFetcher looks up unknown players. *mojang.Client satisfies it.
type ProfileFetcher interface {
	Fetch(ctx context.Context, player uuid.UUID) (mojang.Profile, error)
}

// ProfileService reads profiles through the profile:<uuid> cache entry and
// falls back to the store, repopulating the cache on a miss. Writes go to
// the store first and then overwrite the cache entry.
type ProfileService struct {
	store   ProfileStore
	cache   cache.Cache
	fetcher ProfileFetcher
	now     func() time.Time
	logger  zerolog.Logger
}

// NewProfileService creates a profile service. fetcher may be nil, in which
// case unknown players are reported as not found.
func NewProfileService(ps ProfileStore, c cache.Cache, fetcher ProfileFetcher, logger zerolog.Logger) *ProfileService {
	return &ProfileService{
		store:   ps,
		cache:   c,
		fetcher: fetcher,
		now:     time.Now,
		logger:  logger.With().Str("component", "profile_service").Logger(),
	}
}

// Get returns the profile of player. A player unknown to the store is looked
// up on Mojang and stored.
func (s *ProfileService) Get(ctx context.Context, player uuid.UUID) (models.PlayerProfile, error) {
	key := redisu.ProfileKey(player.String())
	cached, ok, err := cache.Load[models.PlayerProfile](ctx, s.cache, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("player", player.String()).Msg("Profile cache read failed, falling back to store")
	}
	if ok {
		return cached, nil
	}

	stored, err := s.store.Get(ctx, player.String())
	switch {
	case err == nil:
		s.writeCache(ctx, *stored)
		return *stored, nil
	case errors.Is(err, store.ErrProfileNotFound):
		return s.create(ctx, player)
	default:
		return models.PlayerProfile{}, fmt.Errorf("failed to load profile %s: %w", player, err)
	}
}

func (s *ProfileService) create(ctx context.Context, player uuid.UUID) (models.PlayerProfile, error) {
	if s.fetcher == nil {
		return models.PlayerProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, player)
	}
	fetched, err := s.fetcher.Fetch(ctx, player)
	if errors.Is(err, mojang.ErrProfileNotFound) {
		return models.PlayerProfile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, player)
	}
	if err != nil {
		return models.PlayerProfile{}, fmt.Errorf("failed to look up profile %s: %w", player, err)
	}

	profile := models.PlayerProfile{
		UUID:      player.String(),
		Username:  fetched.Name,
		Skin:      fetched.Skin,
		LastLogin: s.now().UnixMilli(),
	}
	if err := s.Update(ctx, profile); err != nil {
		return models.PlayerProfile{}, err
	}
	s.logger.Info().Str("player", profile.UUID).Str("username", profile.Username).Msg("Created player profile")
	return profile, nil
}

// Update writes profile to the store and then to the cache.
func (s *ProfileService) Update(ctx context.Context, profile models.PlayerProfile) error {
	if _, err := uuid.Parse(profile.UUID); err != nil {
		return fmt.Errorf("invalid profile uuid %q: %w", profile.UUID, err)
	}
	if err := s.store.Save(ctx, &profile); err != nil {
		return fmt.Errorf("failed to update profile %s: %w", profile.UUID, err)
	}
	s.writeCache(ctx, profile)
	return nil
}

// Incomplete lists stored profiles missing a username or skin.
func (s *ProfileService) Incomplete(ctx context.Context, limit int64) ([]models.PlayerProfile, error) {
	return s.store.Incomplete(ctx, limit)
}

// Touch refreshes the last seen timestamp of every known player. Players
// without a profile are skipped.
func (s *ProfileService) Touch(ctx context.Context, players ...uuid.UUID) error {
	var errs []error
	now := s.now().UnixMilli()
	for _, p := range players {
		stored, err := s.store.Get(ctx, p.String())
		if errors.Is(err, store.ErrProfileNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stored.LastLogin = now
		if err := s.Update(ctx, *stored); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *ProfileService) writeCache(ctx context.Context, profile models.PlayerProfile) {
	if err := s.cache.Set(ctx, redisu.ProfileKey(profile.UUID), profile); err != nil {
		s.logger.Warn().Err(err).Str("player", profile.UUID).Msg("Failed to cache player profile")
	}
}
