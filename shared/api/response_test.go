package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/messaging"
)

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("wrap: %w", messaging.ErrNoSuchService), http.StatusServiceUnavailable},
		{broker.ErrBrokerUnavailable, http.StatusServiceUnavailable},
		{messaging.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("%w: boom", messaging.ErrRemote), http.StatusBadGateway},
		{fmt.Errorf("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusForError(tt.err), tt.err.Error())
	}
}

// TestClientMapsErrorResponses verifies that the HTTP client turns JSON error
// bodies written by WriteError into typed errors.
func TestClientMapsErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			WriteNotFound(w, "no such profile")
		case "/conflict":
			WriteConflict(w, "already queued")
		default:
			WriteJSON(w, http.StatusOK, map[string]string{"name": "Steve"})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ctx := context.Background()

	var out map[string]string
	require.NoError(t, c.Get(ctx, "/ok", &out))
	assert.Equal(t, "Steve", out["name"])

	err := c.Get(ctx, "/missing", &out)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsHTTPError(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "no such profile")

	err = c.Post(ctx, "/conflict", map[string]string{}, nil)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, http.StatusConflict, GetHTTPStatusCode(err))
}

// TestClientRetriesIdempotentRequests verifies that a GET is retried after a
// 503 while a POST is not.
func TestClientRetriesIdempotentRequests(t *testing.T) {
	var gets, posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			posts.Add(1)
			WriteError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		if gets.Add(1) < 3 {
			WriteError(w, http.StatusServiceUnavailable, "draining")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]int{"n": 3})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil, WithMaxTries(3))
	var out map[string]int
	require.NoError(t, c.Get(context.Background(), "/count", &out))
	assert.Equal(t, 3, out["n"])
	assert.EqualValues(t, 3, gets.Load())

	err := c.Post(context.Background(), "/count", nil, nil)
	assert.ErrorIs(t, err, ErrInternalError)
	assert.EqualValues(t, 1, posts.Load())
}
