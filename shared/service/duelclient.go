// shared/service/duelclient.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/status"
)

// DuelClient talks to the duel servers of the network.
type DuelClient struct {
	node    *cluster.Node
	timeout time.Duration
}

// NewDuelClient creates a client whose requests use timeout.
func NewDuelClient(node *cluster.Node, timeout time.Duration) *DuelClient {
	return &DuelClient{node: node, timeout: timeout}
}

// pickAvailable returns the least-loaded duel server after it confirmed it is
// AVAILABLE.
func (c *DuelClient) pickAvailable(ctx context.Context) (string, error) {
	peer, err := c.node.LeastLoaded(registry.KindDuel)
	if err != nil {
		return "", err
	}
	if err := status.RequireAvailable(ctx, c.node.Messaging, peer.Identity.ID, c.timeout); err != nil {
		return "", err
	}
	return peer.Identity.ID, nil
}

// StartDuel sends start to an available duel server and returns its id.
func (c *DuelClient) StartDuel(ctx context.Context, start models.DuelStart) (string, error) {
	server, err := c.pickAvailable(ctx)
	if err != nil {
		return "", err
	}
	if err := c.node.Messaging.SendMessage(ctx, server, start); err != nil {
		return "", fmt.Errorf("failed to send duel start to %s: %w", server, err)
	}
	return server, nil
}

// StartFFA sends start to an available duel server and returns its id.
func (c *DuelClient) StartFFA(ctx context.Context, start models.FFAStart) (string, error) {
	server, err := c.pickAvailable(ctx)
	if err != nil {
		return "", err
	}
	if err := c.node.Messaging.SendMessage(ctx, server, start); err != nil {
		return "", fmt.Errorf("failed to send FFA start to %s: %w", server, err)
	}
	return server, nil
}

// StartSpectating asks server to admit player as spectator of duelID.
func (c *DuelClient) StartSpectating(ctx context.Context, server string, player uuid.UUID, duelID string) error {
	return c.node.Messaging.SendMessage(ctx, server, models.StartSpectating{UUID: player, DuelID: duelID})
}

// IsDueling asks every live duel server whether player is in one of its
// games. Servers that fail to answer are skipped unless none answered.
func (c *DuelClient) IsDueling(ctx context.Context, player uuid.UUID) (models.IsDuelingResponse, error) {
	peers := c.node.Registry.ListPeers(registry.KindDuel)
	if len(peers) == 0 {
		return models.IsDuelingResponse{}, fmt.Errorf("%w: %s", messaging.ErrNoSuchService, registry.KindDuel)
	}

	var (
		mu       sync.Mutex
		found    models.IsDuelingResponse
		answered int
		lastErr  error
		g        errgroup.Group
	)
	for _, p := range peers {
		g.Go(func() error {
			resp, err := messaging.Request[models.IsDuelingResponse](ctx, c.node.Messaging, p.Identity.ID,
				models.IsDuelingRequest{UUID: player}, c.timeout)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return nil
			}
			answered++
			if resp.Dueling {
				found = resp
			}
			return nil
		})
	}
	_ = g.Wait()

	if answered == 0 {
		return models.IsDuelingResponse{}, fmt.Errorf("failed to query duel servers: %w", lastErr)
	}
	if !found.Dueling {
		return models.IsDuelingResponse{UUID: player}, nil
	}
	return found, nil
}
