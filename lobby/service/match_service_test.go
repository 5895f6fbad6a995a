package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
	"github.com/Ftotnem/duels-network/shared/registry"
	sharedservice "github.com/Ftotnem/duels-network/shared/service"
)

func startNode(t *testing.T, b broker.Broker, c cache.Cache, id string, kind registry.ServiceKind) *cluster.Node {
	t.Helper()
	cfg := config.CommonConfig{
		ServiceID:               id,
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

// TestSpectateRoutesToRecordServer verifies that spectators are sent to the
// duel server named in the game record.
func TestSpectateRoutesToRecordServer(t *testing.T) {
	c, _ := newTestCache(t)
	b := broker.NewLocalBroker()
	lobby := startNode(t, b, c, "lobby-1", registry.KindLobby)
	duel := startNode(t, b, c, "duel-2", registry.KindDuel)

	var (
		mu  sync.Mutex
		got []models.StartSpectating
	)
	messaging.HandleMessage(duel.Messaging, func(_ context.Context, _ string, msg models.StartSpectating) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	})

	ctx := context.Background()
	record := models.GameRecord{
		ID:        "game-1",
		BlueTeam:  []uuid.UUID{uuid.New()},
		RedTeam:   []uuid.UUID{uuid.New()},
		Rounds:    1,
		KitType:   models.KitSword,
		GameState: models.GameRunning,
		ServerID:  "duel-2",
	}
	require.NoError(t, c.Push(ctx, redisu.GamesKey, record))

	svc := NewMatchService(lobby, NewProfileService(newMemoryStore(), c, nil, zerolog.Nop()),
		sharedservice.NewDuelClient(lobby, time.Second), zerolog.Nop())

	matches, err := svc.Matches(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.GameRecord{record}, matches)

	viewer := uuid.New()
	_, err = svc.Spectate(ctx, viewer, "game-1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1 && got[0] == models.StartSpectating{UUID: viewer, DuelID: "game-1"}
	}, time.Second, 10*time.Millisecond)

	_, err = svc.Spectate(ctx, viewer, "game-404")
	assert.ErrorIs(t, err, ErrMatchNotFound)
}

// TestMatchResultsRefreshLastSeen verifies the DuelEnd and FFAEnd handlers.
func TestMatchResultsRefreshLastSeen(t *testing.T) {
	c, _ := newTestCache(t)
	b := broker.NewLocalBroker()
	lobby := startNode(t, b, c, "lobby-1", registry.KindLobby)
	duel := startNode(t, b, c, "duel-1", registry.KindDuel)

	ps := newMemoryStore()
	profiles := NewProfileService(ps, c, nil, zerolog.Nop())
	profiles.now = func() time.Time { return time.UnixMilli(5000) }
	NewMatchService(lobby, profiles, nil, zerolog.Nop()).Register()

	ctx := context.Background()
	winner, loser, ffa := uuid.New(), uuid.New(), uuid.New()
	for _, p := range []uuid.UUID{winner, loser, ffa} {
		require.NoError(t, ps.Save(ctx, &models.PlayerProfile{UUID: p.String(), Username: "p"}))
	}

	lastSeen := func(p uuid.UUID) int64 {
		stored, err := ps.Get(ctx, p.String())
		if err != nil {
			return -1
		}
		return stored.LastLogin
	}

	require.NoError(t, duel.Messaging.SendMessage(ctx, "lobby-1", models.DuelEnd{
		Winner: []uuid.UUID{winner}, Loser: []uuid.UUID{loser}, MaxScore: 1, WinnerScore: 1, KitType: models.KitSword,
	}))
	assert.Eventually(t, func() bool {
		return lastSeen(winner) == 5000 && lastSeen(loser) == 5000
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, duel.Messaging.SendMessage(ctx, "lobby-1", models.FFAEnd{
		Winner: ffa, Participants: []uuid.UUID{ffa, winner}, KitType: models.KitCrystal,
	}))
	assert.Eventually(t, func() bool { return lastSeen(ffa) == 5000 }, time.Second, 10*time.Millisecond)
}
