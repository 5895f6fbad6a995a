package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/metrics"
	"github.com/Ftotnem/duels-network/shared/registry"
)

func startAdmin(t *testing.T) (*cluster.Node, *httptest.Server) {
	t.Helper()
	cfg := config.CommonConfig{
		ServiceID:               "duel-1",
		ServiceIP:               "127.0.0.1",
		ServicePort:             25565,
		HeartbeatInterval:       20 * time.Millisecond,
		HeartbeatMissThreshold:  3,
		RegistryCleanupInterval: 20 * time.Millisecond,
		RequestTimeout:          time.Second,
		GlobalRequestWindow:     50 * time.Millisecond,
	}
	node := cluster.NewNode(cfg, registry.KindDuel, broker.NewLocalBroker(), nil, metrics.New("duel-1", nil), zerolog.Nop())
	require.NoError(t, node.Start(context.Background()))
	t.Cleanup(node.Shutdown)

	bs := NewBaseServer(":0", zerolog.Nop())
	NewAdminHandler(node).RegisterRoutes(bs)
	srv := httptest.NewServer(bs.Router)
	t.Cleanup(srv.Close)
	return node, srv
}

// TestHealthFollowsStatus verifies that /health reflects readiness and that
// PUT /status drains the node.
func TestHealthFollowsStatus(t *testing.T) {
	node, srv := startAdmin(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	node.Ready()
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/status", strings.NewReader(`{"status":"shutting_down"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	var body statusBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "SHUTTING_DOWN", string(body.Status))
	assert.Equal(t, registry.KindDuel, body.Kind)

	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/status", strings.NewReader(`{"status":"ASLEEP"}`))
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// TestPeersAndMetrics verifies the peer listing filter and the metrics route.
func TestPeersAndMetrics(t *testing.T) {
	_, srv := startAdmin(t)

	assert.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/peers?kind=duel")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var peers []registry.PeerRecord
		if json.NewDecoder(resp.Body).Decode(&peers) != nil {
			return false
		}
		return len(peers) == 1 && peers[0].Identity.ID == "duel-1"
	}, time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/peers?kind=nonsense")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
