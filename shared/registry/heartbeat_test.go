package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/broker"
)

func startHeartbeater(t *testing.T, b broker.Broker, id string, kind ServiceKind, players PlayerSource) (*Heartbeater, *Registry) {
	t.Helper()
	reg := NewRegistry(150*time.Millisecond, zerolog.Nop())
	hb := NewHeartbeater(b, reg, ServiceIdentity{ID: id, Kind: kind, Address: id + ":1"}, players,
		50*time.Millisecond, 20*time.Millisecond, zerolog.Nop())
	require.NoError(t, hb.Start(context.Background()))
	t.Cleanup(hb.Stop)
	return hb, reg
}

// TestHeartbeatersDiscoverEachOther verifies that two processes on one broker
// see each other, and themselves, through heartbeats.
func TestHeartbeatersDiscoverEachOther(t *testing.T) {
	b := broker.NewLocalBroker()
	player := OnlinePlayer{UUID: uuid.New(), Username: "alice"}

	_, lobbyReg := startHeartbeater(t, b, "lobby-1", KindLobby, func() []OnlinePlayer { return []OnlinePlayer{player} })
	_, duelReg := startHeartbeater(t, b, "duel-1", KindDuel, nil)

	assert.Eventually(t, func() bool {
		return len(lobbyReg.ListPeers()) == 2 && len(duelReg.ListPeers()) == 2
	}, time.Second, 10*time.Millisecond)

	peer, err := duelReg.FindOneOfType(KindLobby)
	require.NoError(t, err)
	assert.Equal(t, "lobby-1:1", peer.Identity.Address)
	assert.Equal(t, []OnlinePlayer{player}, peer.OnlinePlayers)
}

// TestStoppedPeerIsEvicted verifies that a peer that stops heartbeating
// disappears within the staleness window plus one sweep.
func TestStoppedPeerIsEvicted(t *testing.T) {
	b := broker.NewLocalBroker()
	_, lobbyReg := startHeartbeater(t, b, "lobby-1", KindLobby, nil)
	duel, _ := startHeartbeater(t, b, "duel-1", KindDuel, nil)

	assert.Eventually(t, func() bool {
		_, ok := lobbyReg.Get("duel-1")
		return ok
	}, time.Second, 10*time.Millisecond)

	duel.Stop()
	stoppedAt := time.Now()

	assert.Eventually(t, func() bool {
		_, ok := lobbyReg.Get("duel-1")
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Less(t, time.Since(stoppedAt), 150*time.Millisecond+50*time.Millisecond+100*time.Millisecond)
}

// TestSubscriptionLossResetsRegistry verifies that losing the heartbeat
// subscription makes every peer stale immediately.
func TestSubscriptionLossResetsRegistry(t *testing.T) {
	b := broker.NewLocalBroker()
	_, reg := startHeartbeater(t, b, "queue-1", KindQueue, nil)

	assert.Eventually(t, func() bool { return len(reg.ListPeers()) == 1 }, time.Second, 10*time.Millisecond)

	b.Fail(errors.New("connection reset"))
	assert.Eventually(t, func() bool { return len(reg.ListPeers()) == 0 }, time.Second, 5*time.Millisecond)

	b.Recover()
	assert.Eventually(t, func() bool { return len(reg.ListPeers()) == 1 }, time.Second, 10*time.Millisecond)
}

// TestHeartbeatContents verifies the announced wire record.
func TestHeartbeatContents(t *testing.T) {
	reg := NewRegistry(time.Second, zerolog.Nop())
	players := []OnlinePlayer{{UUID: uuid.New(), Username: "a"}, {UUID: uuid.New(), Username: "b"}}
	hb := NewHeartbeater(broker.NewLocalBroker(), reg,
		ServiceIdentity{ID: "lobby-7", Kind: KindLobby, Address: "10.0.0.7:25565"},
		func() []OnlinePlayer { return players }, time.Second, 0, zerolog.Nop())

	got := hb.Heartbeat()
	assert.Equal(t, "lobby-7", got.ID)
	assert.Equal(t, KindLobby, got.ServiceType)
	assert.Equal(t, 2, got.PlayerCount)
	assert.Equal(t, players, got.OnlinePlayers)
	assert.Equal(t, "10.0.0.7:25565", got.ServerAddress)
	assert.InDelta(t, time.Now().UnixMilli(), got.Timestamp, 1000)
}
