// Package mojang looks up player names and skins on the Mojang session server
// and completes stored profiles missing either.
package mojang

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/models"
)

// SessionServerURL is the public profile endpoint.
const SessionServerURL = "https://sessionserver.mojang.com/session/minecraft/profile"

// ErrProfileNotFound is returned when Mojang knows no profile for a uuid.
var ErrProfileNotFound = errors.New("mojang profile not found")

// Profile is the part of a Mojang profile the lobby keeps.
type Profile struct {
	Name string
	Skin string // texture URL, empty for the default skin
}

type sessionProfile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Properties []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"properties"`
}

type texturesPayload struct {
	Textures struct {
		Skin struct {
			URL string `json:"url"`
		} `json:"SKIN"`
	} `json:"textures"`
}

// Client fetches profiles from the session server.
type Client struct {
	api *api.Client
}

// NewClient creates a client against baseURL, normally SessionServerURL.
func NewClient(baseURL string) *Client {
	return &Client{api: api.NewClient(baseURL, api.NewDefaultHTTPClient())}
}

// Fetch returns the name and skin texture of player.
func (c *Client) Fetch(ctx context.Context, player uuid.UUID) (Profile, error) {
	var resp sessionProfile
	id := strings.ReplaceAll(player.String(), "-", "")
	if err := c.api.Get(ctx, "/"+id, &resp); err != nil {
		if errors.Is(err, api.ErrNotFound) {
			return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, player)
		}
		return Profile{}, fmt.Errorf("failed to fetch mojang profile %s: %w", player, err)
	}
	// The session server answers 204 without a body for unknown players.
	if resp.Name == "" {
		return Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, player)
	}

	profile := Profile{Name: resp.Name}
	for _, prop := range resp.Properties {
		if prop.Name != "textures" {
			continue
		}
		skin, err := decodeSkin(prop.Value)
		if err != nil {
			return Profile{}, fmt.Errorf("failed to decode textures of %s: %w", player, err)
		}
		profile.Skin = skin
	}
	return profile, nil
}

func decodeSkin(value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return "", err
	}
	var payload texturesPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	return payload.Textures.Skin.URL, nil
}

// ProfileSource is where the filler reads incomplete profiles from and writes
// completed ones back to.
type ProfileSource interface {
	Incomplete(ctx context.Context, limit int64) ([]models.PlayerProfile, error)
	Update(ctx context.Context, profile models.PlayerProfile) error
}

// Filler periodically completes stored profiles missing a username or skin.
type Filler struct {
	client   *Client
	profiles ProfileSource
	interval time.Duration
	pause    time.Duration // between two session server calls
	batch    int64
	logger   zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFiller creates a filler running every interval.
func NewFiller(client *Client, profiles ProfileSource, interval time.Duration, logger zerolog.Logger) *Filler {
	return &Filler{
		client:   client,
		profiles: profiles,
		interval: interval,
		pause:    100 * time.Millisecond,
		batch:    100,
		logger:   logger.With().Str("component", "mojang_filler").Logger(),
	}
}

// Start runs one pass immediately and then one per interval until Stop.
func (f *Filler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()

		f.logger.Info().Dur("interval", f.interval).Msg("Profile filler started")
		f.RunOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				f.logger.Info().Msg("Profile filler stopped")
				return
			case <-ticker.C:
				f.RunOnce(ctx)
			}
		}
	}()
}

// Stop ends the loop and waits for a running pass.
func (f *Filler) Stop() {
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
}

// RunOnce completes one batch of profiles and returns how many were updated.
func (f *Filler) RunOnce(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	profiles, err := f.profiles.Incomplete(ctx, f.batch)
	if err != nil {
		f.logger.Error().Err(err).Msg("Failed to list incomplete profiles")
		return 0
	}
	if len(profiles) == 0 {
		return 0
	}
	f.logger.Debug().Int("profiles", len(profiles)).Msg("Completing profiles")

	updated := 0
	for i, p := range profiles {
		if i > 0 {
			select {
			case <-ctx.Done():
				return updated
			case <-time.After(f.pause):
			}
		}

		id, err := uuid.Parse(p.UUID)
		if err != nil {
			f.logger.Warn().Str("player", p.UUID).Msg("Skipping profile with malformed uuid")
			continue
		}
		fetched, err := f.client.Fetch(ctx, id)
		if err != nil {
			f.logger.Warn().Err(err).Str("player", p.UUID).Msg("Failed to fetch mojang profile")
			continue
		}
		if p.Username == fetched.Name && p.Skin == fetched.Skin {
			continue
		}
		p.Username, p.Skin = fetched.Name, fetched.Skin
		if err := f.profiles.Update(ctx, p); err != nil {
			f.logger.Warn().Err(err).Str("player", p.UUID).Msg("Failed to store completed profile")
			continue
		}
		updated++
	}
	if updated > 0 {
		f.logger.Info().Int("updated", updated).Msg("Completed stored profiles")
	}
	return updated
}
