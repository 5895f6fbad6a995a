// Package arena builds duel arenas at non-overlapping positions of the world.
package arena

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/models"
)

// ErrNoSchematics is returned when an arena type has no schematic to paste.
var ErrNoSchematics = errors.New("no schematics for arena type")

// Location is a block position in the arena world.
type Location struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

// Arena is one pasted arena. It is leased once and never returned to a pool.
type Arena struct {
	ID        string           `json:"id"`
	Type      models.ArenaType `json:"type"`
	Schematic string           `json:"schematic"`
	Origin    Location         `json:"origin"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Paster places a schematic at a location. It is the expensive part of
// building an arena.
type Paster func(ctx context.Context, schematic string, at Location) error

// DefaultSchematics is used when no schematics are configured.
var DefaultSchematics = map[models.ArenaType][]string{
	models.ArenaRestricted:  {"colosseum", "temple", "ruins"},
	models.ArenaInteractive: {"plains", "desert", "island"},
}

// Creator places arenas on a square spiral around the origin, one grid cell
// per arena, so no two arenas overlap.
type Creator struct {
	spacing    int
	height     int
	schematics map[models.ArenaType][]string
	paste      Paster
	logger     zerolog.Logger

	mu        sync.Mutex
	x, z      int
	direction int // 0:+x 1:+z 2:-x 3:-z
	stepCount int
	stepLimit int
	turnCount int
	seq       map[models.ArenaType]int
}

// NewCreator returns a Creator. A nil paste places nothing and succeeds.
func NewCreator(spacing int, schematics map[models.ArenaType][]string, paste Paster, logger zerolog.Logger) *Creator {
	if schematics == nil {
		schematics = DefaultSchematics
	}
	if paste == nil {
		paste = func(context.Context, string, Location) error { return nil }
	}
	return &Creator{
		spacing:    spacing,
		height:     100,
		schematics: schematics,
		paste:      paste,
		logger:     logger.With().Str("component", "arena_creator").Logger(),
		stepLimit:  1,
		seq:        make(map[models.ArenaType]int),
	}
}

// NextLocation reserves the next grid cell of the spiral.
func (c *Creator) NextLocation() Location {
	c.mu.Lock()
	defer c.mu.Unlock()

	loc := Location{X: c.x * c.spacing, Y: c.height, Z: c.z * c.spacing}

	switch c.direction {
	case 0:
		c.x++
	case 1:
		c.z++
	case 2:
		c.x--
	case 3:
		c.z--
	}

	c.stepCount++
	if c.stepCount >= c.stepLimit {
		c.stepCount = 0
		c.direction = (c.direction + 1) % 4
		c.turnCount++
		if c.turnCount%2 == 0 {
			c.stepLimit++
		}
	}
	return loc
}

// Make builds one arena of the given type. It matches pool.Constructor.
func (c *Creator) Make(ctx context.Context, arenaType models.ArenaType) (*Arena, error) {
	schematics := c.schematics[arenaType]
	if len(schematics) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoSchematics, arenaType)
	}
	schematic := schematics[rand.IntN(len(schematics))]
	at := c.NextLocation()

	if err := c.paste(ctx, schematic, at); err != nil {
		return nil, fmt.Errorf("failed to paste %s at %d,%d,%d: %w", schematic, at.X, at.Y, at.Z, err)
	}

	c.mu.Lock()
	c.seq[arenaType]++
	id := fmt.Sprintf("%s-%d", arenaType, c.seq[arenaType])
	c.mu.Unlock()

	c.logger.Debug().Str("arena_id", id).Str("schematic", schematic).
		Int("x", at.X).Int("z", at.Z).Msg("Arena created")
	return &Arena{ID: id, Type: arenaType, Schematic: schematic, Origin: at, CreatedAt: time.Now()}, nil
}
