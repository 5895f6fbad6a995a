// shared/service/queueclient.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
)

// QueueClient routes queue operations to the queue instance that owns the
// kit, as decided by an observer ring over the live queue instances.
type QueueClient struct {
	node    *cluster.Node
	ring    *cluster.AssignmentManager
	timeout time.Duration
}

// NewQueueClient creates a client. ring must observe registry.KindQueue.
func NewQueueClient(node *cluster.Node, ring *cluster.AssignmentManager, timeout time.Duration) *QueueClient {
	return &QueueClient{node: node, ring: ring, timeout: timeout}
}

func (c *QueueClient) owner(kit models.KitType) (string, error) {
	owner, err := c.ring.Owner(string(kit))
	if errors.Is(err, cluster.ErrEmptyRing) {
		return "", fmt.Errorf("%w: %s", messaging.ErrNoSuchService, registry.KindQueue)
	}
	return owner, err
}

// Add queues player for kit and queueType.
func (c *QueueClient) Add(ctx context.Context, player uuid.UUID, kit models.KitType, queueType models.QueueType) error {
	if !kit.Valid() {
		return fmt.Errorf("unknown kit type %q", kit)
	}
	if !queueType.Valid() {
		return fmt.Errorf("unknown queue type %q", queueType)
	}
	owner, err := c.owner(kit)
	if err != nil {
		return err
	}
	return c.node.Messaging.SendMessage(ctx, owner, models.AddToQueue{UUID: player, KitType: kit, QueueType: queueType})
}

// Remove takes player out of every queue.
func (c *QueueClient) Remove(ctx context.Context, player uuid.UUID) error {
	return c.broadcast(ctx, models.RemoveFromQueue{UUID: player})
}

// QuitNetwork tells the queue instances that player left the network.
func (c *QueueClient) QuitNetwork(ctx context.Context, player uuid.UUID) error {
	return c.broadcast(ctx, models.QuitNetwork{UUID: player})
}

func (c *QueueClient) broadcast(ctx context.Context, msg messaging.Payload) error {
	peers := c.node.Registry.ListPeers(registry.KindQueue)
	if len(peers) == 0 {
		return fmt.Errorf("%w: %s", messaging.ErrNoSuchService, registry.KindQueue)
	}
	var errs []error
	for _, p := range peers {
		if err := c.node.Messaging.SendMessage(ctx, p.Identity.ID, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsQueued asks every queue instance whether it holds player.
func (c *QueueClient) IsQueued(ctx context.Context, player uuid.UUID) (bool, error) {
	peers := c.node.Registry.ListPeers(registry.KindQueue)
	if len(peers) == 0 {
		return false, fmt.Errorf("%w: %s", messaging.ErrNoSuchService, registry.KindQueue)
	}

	var (
		queued atomic.Bool
		g      errgroup.Group
	)
	for _, p := range peers {
		g.Go(func() error {
			resp, err := messaging.Request[models.IsQueuedResponse](ctx, c.node.Messaging, p.Identity.ID,
				models.IsQueuedRequest{UUID: player}, c.timeout)
			if err != nil {
				return err
			}
			if resp.Queued {
				queued.Store(true)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil && !queued.Load() {
		return false, err
	}
	return queued.Load(), nil
}

// QueuedAmount returns how many players wait for kit and queueType.
func (c *QueueClient) QueuedAmount(ctx context.Context, kit models.KitType, queueType models.QueueType) (int, error) {
	owner, err := c.owner(kit)
	if err != nil {
		return 0, err
	}
	resp, err := messaging.Request[models.QueuedAmountResponse](ctx, c.node.Messaging, owner,
		models.QueuedAmountRequest{KitType: kit, QueueType: queueType}, c.timeout)
	if err != nil {
		return 0, err
	}
	return resp.Amount, nil
}
