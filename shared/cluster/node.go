// Package cluster wires the coordination components of one process into a
// single handle that is created at startup and passed to whatever needs it.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/metrics"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/status"
)

// ErrPlayerNotFound is returned by WhereIs when no server claims the player.
var ErrPlayerNotFound = errors.New("player not found on the network")

// Node is the coordination handle of one process.
type Node struct {
	Identity  registry.ServiceIdentity
	Broker    broker.Broker
	Cache     cache.Cache
	Registry  *registry.Registry
	Heartbeat *registry.Heartbeater
	Messaging *messaging.Service
	Status    *status.Tracker
	Players   *PlayerSet
	Metrics   *metrics.Metrics

	cfg    config.CommonConfig
	logger zerolog.Logger
}

// NewNode builds every component of the node. Nothing is started.
func NewNode(cfg config.CommonConfig, kind registry.ServiceKind, b broker.Broker, c cache.Cache, m *metrics.Metrics, logger zerolog.Logger) *Node {
	identity := registry.ServiceIdentity{
		ID:        cfg.ServiceID,
		Address:   cfg.Address(),
		Kind:      kind,
		StartedAt: time.Now(),
	}

	reg := registry.NewRegistry(cfg.HeartbeatTTL(), logger, registry.WithMetrics(m))
	players := &PlayerSet{}

	return &Node{
		Identity: identity,
		Broker:   b,
		Cache:    c,
		Registry: reg,
		Heartbeat: registry.NewHeartbeater(b, reg, identity, players.Snapshot,
			cfg.HeartbeatInterval, cfg.RegistryCleanupInterval, logger),
		Messaging: messaging.NewService(b, models.NewCodec(), reg, messaging.Config{
			ServiceID:      cfg.ServiceID,
			RequestTimeout: cfg.RequestTimeout,
			GlobalWindow:   cfg.GlobalRequestWindow,
		}, logger, m),
		Status:  status.NewTracker(cfg.ServiceID, logger),
		Players: players,
		Metrics: m,
		cfg:     cfg,
		logger:  logger.With().Str("component", "node").Logger(),
	}
}

// Start subscribes messaging, registers the built-in handlers and begins
// heartbeating. The status stays UNAVAILABLE until Ready.
func (n *Node) Start(ctx context.Context) error {
	if err := n.Messaging.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging: %w", err)
	}
	n.Status.Register(n.Messaging)
	messaging.HandleRequest(n.Messaging, n.handleWhereIs)

	if err := n.Heartbeat.Start(ctx); err != nil {
		n.Messaging.Stop()
		return fmt.Errorf("failed to start heartbeat: %w", err)
	}

	n.logger.Info().Str("service_id", n.Identity.ID).Str("kind", string(n.Identity.Kind)).
		Str("address", n.Identity.Address).Msg("Node started")
	return nil
}

// Ready marks the node AVAILABLE.
func (n *Node) Ready() {
	_, _ = n.Status.Set(models.StatusAvailable)
}

// Shutdown marks the node SHUTTING_DOWN, stops heartbeating and messaging.
func (n *Node) Shutdown() {
	_, _ = n.Status.Set(models.StatusShuttingDown)
	n.Heartbeat.Stop()
	n.Messaging.Stop()
	n.logger.Info().Msg("Node shut down")
}

// LeastLoaded returns the live peer of kind with the fewest players.
func (n *Node) LeastLoaded(kind registry.ServiceKind) (registry.PeerRecord, error) {
	return n.Registry.FindOneOfType(kind)
}

// WhereIs asks the network which server player is connected to. The first
// answer wins.
func (n *Node) WhereIs(ctx context.Context, player uuid.UUID) (string, error) {
	answers, err := messaging.GlobalRequest[models.WhereIsResponse](ctx, n.Messaging, models.WhereIsRequest{UUID: player}, 0)
	if err != nil {
		return "", err
	}
	if len(answers) == 0 {
		return "", fmt.Errorf("%w: %s", ErrPlayerNotFound, player)
	}
	return answers[0].Server, nil
}

func (n *Node) handleWhereIs(_ context.Context, _ string, req models.WhereIsRequest) (messaging.Payload, error) {
	if !n.Players.Has(req.UUID) {
		return nil, nil
	}
	return models.WhereIsResponse{Server: n.Identity.ID}, nil
}
