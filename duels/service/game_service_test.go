package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/duels/arena"
	"github.com/Ftotnem/duels-network/duels/store"
	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/pool"
	"github.com/Ftotnem/duels-network/shared/registry"
)

type harness struct {
	svc      *GameService
	store    *store.GameStore
	duel     *cluster.Node
	lobby    *cluster.Node
	connects chan models.Connect
	ends     chan messaging.Payload
}

func startNode(t *testing.T, b broker.Broker, c cache.Cache, id string, kind registry.ServiceKind) *cluster.Node {
	t.Helper()
	cfg := config.CommonConfig{
		ServiceID:               id,
		ServiceIP:               "127.0.0.1",
		ServicePort:             25565,
		HeartbeatInterval:       20 * time.Millisecond,
		HeartbeatMissThreshold:  3,
		RegistryCleanupInterval: 20 * time.Millisecond,
		RequestTimeout:          time.Second,
		GlobalRequestWindow:     50 * time.Millisecond,
	}
	n := cluster.NewNode(cfg, kind, b, c, nil, zerolog.Nop())
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Shutdown)
	return n
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client)

	b := broker.NewLocalBroker()
	h := &harness{
		duel:     startNode(t, b, c, "duel-1", registry.KindDuel),
		lobby:    startNode(t, b, c, "lobby-1", registry.KindLobby),
		connects: make(chan models.Connect, 32),
		ends:     make(chan messaging.Payload, 4),
	}
	proxy := startNode(t, b, c, "proxy-1", registry.KindProxy)
	messaging.HandleMessage(proxy.Messaging, func(_ context.Context, _ string, msg models.Connect) {
		h.connects <- msg
	})
	messaging.HandleMessage(h.lobby.Messaging, func(_ context.Context, _ string, msg models.DuelEnd) {
		h.ends <- msg
	})
	messaging.HandleMessage(h.lobby.Messaging, func(_ context.Context, _ string, msg models.FFAEnd) {
		h.ends <- msg
	})

	creator := arena.NewCreator(1000, nil, nil, zerolog.Nop())
	arenas := pool.New(models.ArenaTypes, creator.Make, pool.Options[models.ArenaType, *arena.Arena]{Target: 1}, zerolog.Nop())
	t.Cleanup(arenas.Close)

	h.store = store.NewGameStore(c, zerolog.Nop())
	h.svc = NewGameService(h.duel, h.store, arenas, zerolog.Nop())
	h.svc.Register()

	require.Eventually(t, func() bool {
		_, err := h.duel.LeastLoaded(registry.KindLobby)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	return h
}

func (h *harness) collectConnects(t *testing.T, n int) map[uuid.UUID]string {
	t.Helper()
	out := map[uuid.UUID]string{}
	for len(out) < n {
		select {
		case c := <-h.connects:
			out[c.UUID] = c.Server
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d connects", len(out), n)
		}
	}
	return out
}

// TestDuelLifecycle verifies start, the shared record, the dueling query and
// the end report to the lobby.
func TestDuelLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	blue, red := uuid.New(), uuid.New()

	g, err := h.svc.StartDuel(ctx, models.DuelStart{BlueTeam: []uuid.UUID{blue}, RedTeam: []uuid.UUID{red}, Rounds: 3, KitType: models.KitUHC})
	require.NoError(t, err)
	assert.Equal(t, models.ArenaInteractive, g.Arena.Type)

	connects := h.collectConnects(t, 2)
	assert.Equal(t, map[uuid.UUID]string{blue: "duel-1", red: "duel-1"}, connects)
	assert.True(t, h.duel.Players.Has(blue))

	rec, ok, err := h.store.Find(ctx, g.Record.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.GameRunning, rec.GameState)
	assert.Equal(t, "duel-1", rec.ServerID)
	assert.Equal(t, 3, rec.Rounds)

	resp, err := messaging.Request[models.IsDuelingResponse](ctx, h.lobby.Messaging, "duel-1", models.IsDuelingRequest{UUID: red}, time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Dueling)
	assert.Equal(t, g.Record.ID, resp.GameID)

	require.NoError(t, h.svc.EndGame(ctx, g.Record.ID, EndResult{WinnerTeam: TeamRed, RedScore: 2, BlueScore: 1}))
	select {
	case p := <-h.ends:
		end, ok := p.(models.DuelEnd)
		require.True(t, ok)
		assert.Equal(t, []uuid.UUID{red}, end.Winner)
		assert.Equal(t, []uuid.UUID{blue}, end.Loser)
		assert.Equal(t, 2, end.WinnerScore)
		assert.Equal(t, 1, end.LoserScore)
		assert.Equal(t, 3, end.MaxScore)
	case <-time.After(time.Second):
		t.Fatal("duel end not reported")
	}
	assert.Equal(t, map[uuid.UUID]string{blue: "lobby-1", red: "lobby-1"}, h.collectConnects(t, 2))

	games, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, games)
	assert.False(t, h.svc.IsDueling(red).Dueling)
	assert.False(t, h.duel.Players.Has(blue))
}

// TestStartRejectsBusyAndInvalid verifies that a player is in at most one
// game and that malformed starts are refused.
func TestStartRejectsBusyAndInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p1, p2, p3 := uuid.New(), uuid.New(), uuid.New()

	_, err := h.svc.StartDuel(ctx, models.DuelStart{BlueTeam: []uuid.UUID{p1}, RedTeam: []uuid.UUID{p2}, KitType: models.KitSword})
	require.NoError(t, err)

	_, err = h.svc.StartDuel(ctx, models.DuelStart{BlueTeam: []uuid.UUID{p3}, RedTeam: []uuid.UUID{p2}, KitType: models.KitSword})
	assert.ErrorIs(t, err, ErrPlayerBusy)
	assert.False(t, h.svc.IsDueling(p3).Dueling)

	_, err = h.svc.StartDuel(ctx, models.DuelStart{BlueTeam: []uuid.UUID{p3}, RedTeam: []uuid.UUID{p3}, KitType: models.KitSword})
	assert.ErrorIs(t, err, ErrInvalidGame)
	_, err = h.svc.StartDuel(ctx, models.DuelStart{BlueTeam: []uuid.UUID{p3}, RedTeam: []uuid.UUID{uuid.New()}, KitType: "BOW"})
	assert.ErrorIs(t, err, ErrInvalidGame)
	_, err = h.svc.StartFFA(ctx, models.FFAStart{Players: []uuid.UUID{p3}, KitType: models.KitSword})
	assert.ErrorIs(t, err, ErrInvalidGame)

	assert.Len(t, h.svc.Games(), 1)
	assert.ErrorIs(t, h.svc.EndGame(ctx, "nope", EndResult{WinnerTeam: TeamBlue}), ErrGameNotFound)
	assert.ErrorIs(t, h.svc.EndGame(ctx, h.svc.Games()[0].Record.ID, EndResult{WinnerTeam: "GREEN"}), ErrInvalidGame)
}

// TestFFAAndSpectators verifies the free-for-all result and that spectators
// are sent back to the lobby with the players.
func TestFFAAndSpectators(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	players := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	watcher := uuid.New()

	g, err := h.svc.StartFFA(ctx, models.FFAStart{Players: players, KitType: models.KitSword})
	require.NoError(t, err)
	assert.Equal(t, models.ArenaRestricted, g.Arena.Type)
	h.collectConnects(t, 3)

	assert.ErrorIs(t, h.svc.Spectate(ctx, watcher, "nope"), ErrGameNotFound)
	assert.ErrorIs(t, h.svc.Spectate(ctx, players[0], g.Record.ID), ErrPlayerBusy)
	require.NoError(t, h.svc.Spectate(ctx, watcher, g.Record.ID))
	assert.Equal(t, map[uuid.UUID]string{watcher: "duel-1"}, h.collectConnects(t, 1))

	got, ok := h.svc.Game(g.Record.ID)
	require.True(t, ok)
	assert.Equal(t, []uuid.UUID{watcher}, got.Spectators)

	assert.ErrorIs(t, h.svc.EndGame(ctx, g.Record.ID, EndResult{Winner: uuid.New()}), ErrInvalidGame)
	require.NoError(t, h.svc.EndGame(ctx, g.Record.ID, EndResult{Winner: players[1]}))
	select {
	case p := <-h.ends:
		end, ok := p.(models.FFAEnd)
		require.True(t, ok)
		assert.Equal(t, players[1], end.Winner)
		assert.Equal(t, players, end.Participants)
	case <-time.After(time.Second):
		t.Fatal("FFA end not reported")
	}
	connects := h.collectConnects(t, 4)
	assert.Equal(t, "lobby-1", connects[watcher])
}

// TestHandlersStartGames verifies that start messages from peers reach the
// service and that Close clears the shared list.
func TestHandlersStartGames(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	start := models.DuelStart{BlueTeam: []uuid.UUID{uuid.New()}, RedTeam: []uuid.UUID{uuid.New()}, Rounds: 1, KitType: models.KitMace}
	require.NoError(t, h.lobby.Messaging.SendMessage(ctx, "duel-1", start))
	migrate := models.MigrateGame{
		BlueTeam: []uuid.UUID{uuid.New()}, RedTeam: []uuid.UUID{uuid.New()},
		MaxRounds: 5, KitType: models.KitAxe, BlueScore: 2, RedScore: 1,
		ArenaID: "RESTRICTED-9", GameServerID: "duel-0",
	}
	require.NoError(t, h.lobby.Messaging.SendMessage(ctx, "duel-1", migrate))

	require.Eventually(t, func() bool {
		games := h.svc.Games()
		for _, g := range games {
			if g.Record.GameState != models.GameRunning {
				return false
			}
		}
		return len(games) == 2
	}, time.Second, 10*time.Millisecond)
	for _, g := range h.svc.Games() {
		if g.Record.KitType == models.KitAxe {
			assert.Equal(t, 2, g.BlueScore)
			assert.Equal(t, 5, g.Record.Rounds)
		}
	}
	games, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, games, 2)

	h.svc.Close(ctx)
	games, err = h.store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, games)
}
