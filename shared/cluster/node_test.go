package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/status"
)

func testConfig(id string) config.CommonConfig {
	return config.CommonConfig{
		ServiceID:               id,
		ServiceIP:               "10.0.0.1",
		ServicePort:             25565,
		HeartbeatInterval:       30 * time.Millisecond,
		HeartbeatMissThreshold:  3,
		RegistryCleanupInterval: 30 * time.Millisecond,
		RequestTimeout:          time.Second,
		GlobalRequestWindow:     100 * time.Millisecond,
	}
}

func startNode(t *testing.T, b broker.Broker, id string, kind registry.ServiceKind) *Node {
	t.Helper()
	n := NewNode(testConfig(id), kind, b, nil, nil, zerolog.Nop())
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Shutdown)
	return n
}

// TestNodeLifecycle verifies status transitions as seen by a peer.
func TestNodeLifecycle(t *testing.T) {
	b := broker.NewLocalBroker()
	duel := startNode(t, b, "duel-1", registry.KindDuel)
	queue := startNode(t, b, "queue-1", registry.KindQueue)
	ctx := context.Background()

	s, err := status.Query(ctx, queue.Messaging, "duel-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnavailable, s)

	duel.Ready()
	assert.NoError(t, status.RequireAvailable(ctx, queue.Messaging, "duel-1", time.Second))
	assert.Equal(t, "10.0.0.1:25565", duel.Identity.Address)
}

// TestLeastLoadedAndWhereIs verifies discovery through heartbeats and the
// global player lookup.
func TestLeastLoadedAndWhereIs(t *testing.T) {
	b := broker.NewLocalBroker()
	lobby := startNode(t, b, "lobby-1", registry.KindLobby)
	busy := startNode(t, b, "duel-1", registry.KindDuel)
	idle := startNode(t, b, "duel-2", registry.KindDuel)

	alice := uuid.New()
	busy.Players.Add(alice, "alice")
	busy.Players.Add(uuid.New(), "bob")
	idle.Players.Add(uuid.New(), "carol")

	assert.Eventually(t, func() bool {
		peer, err := lobby.LeastLoaded(registry.KindDuel)
		return err == nil && peer.Identity.ID == "duel-2" && len(lobby.Registry.ListPeers(registry.KindDuel)) == 2 &&
			lobby.Registry.NetworkPlayers()[alice] == "duel-1"
	}, time.Second, 10*time.Millisecond)

	server, err := lobby.WhereIs(context.Background(), alice)
	require.NoError(t, err)
	assert.Equal(t, "duel-1", server)

	_, err = lobby.WhereIs(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

// TestShutdownStopsAnnouncing verifies that a shut down node ages out of its
// peers' registries.
func TestShutdownStopsAnnouncing(t *testing.T) {
	b := broker.NewLocalBroker()
	lobby := startNode(t, b, "lobby-1", registry.KindLobby)
	duel := NewNode(testConfig("duel-1"), registry.KindDuel, b, nil, nil, zerolog.Nop())
	require.NoError(t, duel.Start(context.Background()))

	assert.Eventually(t, func() bool {
		_, ok := lobby.Registry.Get("duel-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	duel.Shutdown()
	assert.Equal(t, models.StatusShuttingDown, duel.Status.Get())
	assert.Eventually(t, func() bool {
		_, ok := lobby.Registry.Get("duel-1")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

// TestPlayerSet verifies snapshot ordering and removal.
func TestPlayerSet(t *testing.T) {
	var s PlayerSet
	a, b := uuid.New(), uuid.New()
	s.Add(a, "zed")
	s.Add(b, "amy")

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "amy", snap[0].Username)
	assert.True(t, s.Remove(a))
	assert.False(t, s.Remove(a))
	assert.Equal(t, 1, s.Len())
}
