// duels/service/game_service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/duels/arena"
	"github.com/Ftotnem/duels-network/duels/store"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
)

var (
	// ErrGameNotFound is returned for ids this server does not run.
	ErrGameNotFound = errors.New("game not found")
	// ErrPlayerBusy is returned when a participant is already in a game here.
	ErrPlayerBusy = errors.New("player already in a game")
	// ErrInvalidGame is returned for malformed start or end requests.
	ErrInvalidGame = errors.New("invalid game")
)

// Team identifies a side of a team match.
type Team string

const (
	TeamBlue Team = "BLUE"
	TeamRed  Team = "RED"
)

// Arenas hands out ready arenas. *pool.Manager satisfies it.
type Arenas interface {
	Acquire(ctx context.Context, arenaType models.ArenaType) (*arena.Arena, error)
}

// Game is a match running on this server.
type Game struct {
	Record     models.GameRecord `json:"record"`
	Arena      *arena.Arena      `json:"arena"`
	FFA        bool              `json:"ffa"`
	BlueScore  int               `json:"blueScore"`
	RedScore   int               `json:"redScore"`
	Spectators []uuid.UUID       `json:"spectators"`
	StartedAt  time.Time         `json:"startedAt"`
}

// EndResult is the outcome reported when a game ends. Team matches name the
// winning team, free-for-alls the winning player.
type EndResult struct {
	WinnerTeam Team      `json:"winnerTeam,omitempty"`
	BlueScore  int       `json:"blueScore"`
	RedScore   int       `json:"redScore"`
	Winner     uuid.UUID `json:"winner,omitempty"`
}

// GameService runs the matches of one duel server.
type GameService struct {
	node   *cluster.Node
	store  *store.GameStore
	arenas Arenas
	logger zerolog.Logger

	mu         sync.Mutex
	games      map[string]*Game
	players    map[uuid.UUID]string // participant -> game id
	spectators map[uuid.UUID]string // spectator -> game id
}

func NewGameService(node *cluster.Node, gs *store.GameStore, arenas Arenas, logger zerolog.Logger) *GameService {
	return &GameService{
		node:       node,
		store:      gs,
		arenas:     arenas,
		logger:     logger.With().Str("component", "game_service").Logger(),
		games:      make(map[string]*Game),
		players:    make(map[uuid.UUID]string),
		spectators: make(map[uuid.UUID]string),
	}
}

// Register installs the duel handlers on the node's messaging service.
func (s *GameService) Register() {
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, msg models.DuelStart) {
		if _, err := s.StartDuel(ctx, msg); err != nil {
			s.logger.Error().Err(err).Str("from", from).Msg("Failed to start duel")
		}
	})
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, msg models.FFAStart) {
		if _, err := s.StartFFA(ctx, msg); err != nil {
			s.logger.Error().Err(err).Str("from", from).Msg("Failed to start FFA")
		}
	})
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, msg models.MigrateGame) {
		if _, err := s.Migrate(ctx, msg); err != nil {
			s.logger.Error().Err(err).Str("from", from).Str("source_server", msg.GameServerID).Msg("Failed to adopt migrated game")
		}
	})
	messaging.HandleMessage(s.node.Messaging, func(ctx context.Context, from string, msg models.StartSpectating) {
		if err := s.Spectate(ctx, msg.UUID, msg.DuelID); err != nil {
			s.logger.Warn().Err(err).Str("player", msg.UUID.String()).Str("game_id", msg.DuelID).Msg("Failed to start spectating")
		}
	})
	messaging.HandleRequest(s.node.Messaging, func(_ context.Context, _ string, req models.IsDuelingRequest) (messaging.Payload, error) {
		return s.IsDueling(req.UUID), nil
	})
}

// StartDuel starts a team match.
func (s *GameService) StartDuel(ctx context.Context, msg models.DuelStart) (*Game, error) {
	if len(msg.BlueTeam) == 0 || len(msg.RedTeam) == 0 {
		return nil, fmt.Errorf("%w: both teams need players", ErrInvalidGame)
	}
	rounds := msg.Rounds
	if rounds <= 0 {
		rounds = 1
	}
	return s.start(ctx, &Game{
		Record: models.GameRecord{
			BlueTeam: msg.BlueTeam,
			RedTeam:  msg.RedTeam,
			Rounds:   rounds,
			KitType:  msg.KitType,
		},
	})
}

// StartFFA starts a free-for-all. Every player is recorded on the blue team.
func (s *GameService) StartFFA(ctx context.Context, msg models.FFAStart) (*Game, error) {
	if len(msg.Players) < 2 {
		return nil, fmt.Errorf("%w: a free-for-all needs at least two players", ErrInvalidGame)
	}
	return s.start(ctx, &Game{
		Record: models.GameRecord{
			BlueTeam: msg.Players,
			RedTeam:  []uuid.UUID{},
			Rounds:   1,
			KitType:  msg.KitType,
		},
		FFA: true,
	})
}

// Migrate adopts a match handed over by another duel server, keeping its
// scores. The game gets a fresh arena and id here.
func (s *GameService) Migrate(ctx context.Context, msg models.MigrateGame) (*Game, error) {
	if len(msg.BlueTeam) == 0 || len(msg.RedTeam) == 0 {
		return nil, fmt.Errorf("%w: both teams need players", ErrInvalidGame)
	}
	g, err := s.start(ctx, &Game{
		Record: models.GameRecord{
			BlueTeam: msg.BlueTeam,
			RedTeam:  msg.RedTeam,
			Rounds:   msg.MaxRounds,
			KitType:  msg.KitType,
		},
		BlueScore: msg.BlueScore,
		RedScore:  msg.RedScore,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("game_id", g.Record.ID).Str("source_server", msg.GameServerID).
		Str("source_arena", msg.ArenaID).Msg("Adopted migrated game")
	return g, nil
}

func (s *GameService) start(ctx context.Context, g *Game) (*Game, error) {
	if !g.Record.KitType.Valid() {
		return nil, fmt.Errorf("%w: unknown kit %q", ErrInvalidGame, g.Record.KitType)
	}
	participants := g.Record.Players()

	g.Record.ID = uuid.NewString()
	g.Record.ServerID = s.node.Identity.ID
	g.Record.GameState = models.GamePreparing
	if err := s.reserve(g, participants); err != nil {
		return nil, err
	}

	a, err := s.arenas.Acquire(ctx, g.Record.KitType.ArenaType())
	if err != nil {
		s.release(g.Record.ID)
		return nil, fmt.Errorf("failed to acquire %s arena: %w", g.Record.KitType.ArenaType(), err)
	}

	s.mu.Lock()
	g.Arena = a
	g.StartedAt = time.Now()
	g.Record.GameState = models.GameStarting
	starting := g.Record
	s.mu.Unlock()

	if err := s.store.Add(ctx, starting); err != nil {
		s.release(g.Record.ID)
		return nil, err
	}

	for _, p := range participants {
		s.node.Players.Add(p, "")
		if err := s.node.Messaging.SendGlobalMessage(ctx, models.Connect{UUID: p, Server: s.node.Identity.ID}); err != nil {
			s.logger.Error().Err(err).Str("player", p.String()).Msg("Failed to send connect")
		}
	}

	running := starting
	running.GameState = models.GameRunning
	if err := s.store.Replace(ctx, starting, running); err != nil {
		s.logger.Warn().Err(err).Str("game_id", running.ID).Msg("Failed to publish running state")
	}
	s.mu.Lock()
	g.Record = running
	s.mu.Unlock()

	s.logger.Info().Str("game_id", running.ID).Str("kit", string(running.KitType)).Str("arena_id", a.ID).
		Int("players", len(participants)).Bool("ffa", g.FFA).Msg("Game started")
	s.node.Metrics.MatchStarted(string(running.KitType), gameFormat(g))
	return g, nil
}

func gameFormat(g *Game) string {
	if g.FFA {
		return "FFA"
	}
	switch len(g.Record.BlueTeam) {
	case 1:
		return string(models.QueueSolo)
	case 2:
		return string(models.QueueDuo)
	case 3:
		return string(models.QueueTrio)
	}
	return "CUSTOM"
}

// reserve claims every participant for g or none of them.
func (s *GameService) reserve(g *Game, participants []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool, len(participants))
	for _, p := range participants {
		if seen[p] {
			return fmt.Errorf("%w: %s listed twice", ErrInvalidGame, p)
		}
		seen[p] = true
		if id, busy := s.players[p]; busy {
			return fmt.Errorf("%w: %s is in %s", ErrPlayerBusy, p, id)
		}
	}
	for _, p := range participants {
		s.players[p] = g.Record.ID
		delete(s.spectators, p)
	}
	s.games[g.Record.ID] = g
	return nil
}

// release forgets game id and returns it.
func (s *GameService) release(id string) *Game {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return nil
	}
	delete(s.games, id)
	for _, p := range g.Record.Players() {
		delete(s.players, p)
	}
	for _, p := range g.Spectators {
		delete(s.spectators, p)
	}
	return g
}

// Spectate admits player as a spectator of game id.
func (s *GameService) Spectate(ctx context.Context, player uuid.UUID, id string) error {
	s.mu.Lock()
	g, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	if _, busy := s.players[player]; busy {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPlayerBusy, player)
	}
	if prev, watching := s.spectators[player]; watching && prev != id {
		if old, ok := s.games[prev]; ok {
			old.Spectators = slices.DeleteFunc(old.Spectators, func(u uuid.UUID) bool { return u == player })
		}
	}
	if s.spectators[player] != id {
		g.Spectators = append(g.Spectators, player)
		s.spectators[player] = id
	}
	s.mu.Unlock()

	s.node.Players.Add(player, "")
	s.logger.Info().Str("player", player.String()).Str("game_id", id).Msg("Player started spectating")
	return s.node.Messaging.SendGlobalMessage(ctx, models.Connect{UUID: player, Server: s.node.Identity.ID})
}

// IsDueling answers whether player takes part in a game here.
func (s *GameService) IsDueling(player uuid.UUID) models.IsDuelingResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.players[player]
	return models.IsDuelingResponse{UUID: player, GameID: id, Dueling: ok}
}

// Games returns the games running here, oldest first.
func (s *GameService) Games() []Game {
	s.mu.Lock()
	out := make([]Game, 0, len(s.games))
	for _, g := range s.games {
		out = append(out, g.snapshot())
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b Game) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

// Game returns the game with the given id.
func (s *GameService) Game(id string) (Game, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[id]
	if !ok {
		return Game{}, false
	}
	return g.snapshot(), true
}

// snapshot copies g so it can leave the lock.
func (g *Game) snapshot() Game {
	c := *g
	c.Spectators = slices.Clone(g.Spectators)
	return c
}

// EndGame finishes game id: the record leaves the games list, every
// participant and spectator is sent to the least-loaded lobby and the result
// is reported there.
func (s *GameService) EndGame(ctx context.Context, id string, result EndResult) error {
	s.mu.Lock()
	g, ok := s.games[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	if g.Record.GameState != models.GameRunning {
		s.mu.Unlock()
		return fmt.Errorf("%w: game %s is %s", ErrInvalidGame, id, g.Record.GameState)
	}
	end, err := s.buildEnd(g, result)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	leaving := append(g.Record.Players(), g.Spectators...)
	startedAt := g.StartedAt
	s.mu.Unlock()

	if s.release(id) == nil {
		return fmt.Errorf("%w: %s", ErrGameNotFound, id)
	}
	if _, err := s.store.RemoveByID(ctx, id); err != nil {
		s.logger.Error().Err(err).Str("game_id", id).Msg("Failed to remove game record")
	}
	for _, p := range leaving {
		s.node.Players.Remove(p)
	}

	s.logger.Info().Str("game_id", id).Dur("elapsed", time.Since(startedAt)).Msg("Game ended")

	lobby, err := s.node.LeastLoaded(registry.KindLobby)
	if err != nil {
		return fmt.Errorf("game %s ended but no lobby can take its players: %w", id, err)
	}
	if err := s.node.Messaging.SendMessage(ctx, lobby.Identity.ID, end); err != nil {
		return fmt.Errorf("failed to report end of game %s: %w", id, err)
	}
	for _, p := range leaving {
		if err := s.node.Messaging.SendGlobalMessage(ctx, models.Connect{UUID: p, Server: lobby.Identity.ID}); err != nil {
			s.logger.Error().Err(err).Str("player", p.String()).Msg("Failed to send connect")
		}
	}
	return nil
}

// buildEnd turns result into the end message of g. Callers hold s.mu.
func (s *GameService) buildEnd(g *Game, result EndResult) (messaging.Payload, error) {
	elapsed := time.Since(g.StartedAt).Milliseconds()
	if g.FFA {
		if !slices.Contains(g.Record.BlueTeam, result.Winner) {
			return nil, fmt.Errorf("%w: winner %s did not take part", ErrInvalidGame, result.Winner)
		}
		return models.FFAEnd{
			Winner:       result.Winner,
			Participants: g.Record.BlueTeam,
			KitType:      g.Record.KitType,
			ElapsedTime:  elapsed,
		}, nil
	}

	end := models.DuelEnd{
		MaxScore:    g.Record.Rounds,
		KitType:     g.Record.KitType,
		ElapsedTime: elapsed,
	}
	switch result.WinnerTeam {
	case TeamBlue:
		end.Winner, end.Loser = g.Record.BlueTeam, g.Record.RedTeam
		end.WinnerScore, end.LoserScore = result.BlueScore, result.RedScore
	case TeamRed:
		end.Winner, end.Loser = g.Record.RedTeam, g.Record.BlueTeam
		end.WinnerScore, end.LoserScore = result.RedScore, result.BlueScore
	default:
		return nil, fmt.Errorf("%w: winner team must be BLUE or RED, got %q", ErrInvalidGame, result.WinnerTeam)
	}
	return end, nil
}

// Close removes the records of every game still running here from the
// shared list.
func (s *GameService) Close(ctx context.Context) {
	s.mu.Lock()
	records := make([]models.GameRecord, 0, len(s.games))
	for _, g := range s.games {
		records = append(records, g.Record)
	}
	s.mu.Unlock()

	for _, rec := range records {
		if _, err := s.store.RemoveByID(ctx, rec.ID); err != nil {
			s.logger.Error().Err(err).Str("game_id", rec.ID).Msg("Failed to remove game record on shutdown")
		}
	}
}
