package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/duels/arena"
	"github.com/Ftotnem/duels-network/duels/service"
	"github.com/Ftotnem/duels-network/duels/store"
	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/pool"
	"github.com/Ftotnem/duels-network/shared/registry"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := cache.NewRedisCache(client)

	cfg := config.CommonConfig{
		ServiceID:               "duel-1",
		HeartbeatInterval:       20 * time.Millisecond,
		HeartbeatMissThreshold:  3,
		RegistryCleanupInterval: 20 * time.Millisecond,
		RequestTimeout:          time.Second,
		GlobalRequestWindow:     50 * time.Millisecond,
	}
	node := cluster.NewNode(cfg, registry.KindDuel, broker.NewLocalBroker(), c, nil, zerolog.Nop())
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(node.Shutdown)

	creator := arena.NewCreator(1000, nil, nil, zerolog.Nop())
	arenas := pool.New(models.ArenaTypes, creator.Make, pool.Options[models.ArenaType, *arena.Arena]{Target: 2}, zerolog.Nop())
	require.NoError(t, arenas.Initialize(context.Background()))
	t.Cleanup(arenas.Close)

	games := service.NewGameService(node, store.NewGameStore(c, zerolog.Nop()), arenas, zerolog.Nop())
	router := mux.NewRouter()
	NewDuelAPIHandlers(games, arenas, zerolog.Nop()).RegisterRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

// TestGameRoutes verifies starting, listing and ending games over HTTP.
func TestGameRoutes(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/arenas")
	require.NoError(t, err)
	var pools ArenaPoolResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pools))
	resp.Body.Close()
	assert.Equal(t, 2, pools.Target)
	assert.Equal(t, 2, pools.Idle[models.ArenaRestricted])

	start := models.DuelStart{BlueTeam: []uuid.UUID{uuid.New()}, RedTeam: []uuid.UUID{uuid.New()}, Rounds: 1, KitType: models.KitSword}
	resp = postJSON(t, srv.URL+"/games", start)
	var g service.Game
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&g))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, models.GameRunning, g.Record.GameState)

	resp = postJSON(t, srv.URL+"/games", start)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/games/" + g.Record.ID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/games/"+g.Record.ID+"/end", service.EndResult{WinnerTeam: "PURPLE"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No lobby is running, so the result cannot be reported.
	resp = postJSON(t, srv.URL+"/games/"+g.Record.ID+"/end", service.EndResult{WinnerTeam: service.TeamBlue})
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/games/"+g.Record.ID+"/end", service.EndResult{WinnerTeam: service.TeamBlue})
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/games")
	require.NoError(t, err)
	var games []service.Game
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&games))
	resp.Body.Close()
	assert.Empty(t, games)
}
