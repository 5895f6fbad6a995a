package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/broker"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

// PlayerSource reports the players currently connected to this process.
type PlayerSource func() []OnlinePlayer

// Heartbeater announces this process on the heartbeat channel, feeds peer
// heartbeats into the registry and sweeps stale peers.
type Heartbeater struct {
	broker          broker.Broker
	registry        *Registry
	identity        ServiceIdentity
	players         PlayerSource
	interval        time.Duration
	cleanupInterval time.Duration
	logger          zerolog.Logger

	sub      broker.Subscription
	stopChan chan struct{}
	doneChan chan struct{}
	stopOnce sync.Once
}

// NewHeartbeater creates a Heartbeater. A nil players source announces no players.
func NewHeartbeater(
	b broker.Broker,
	registry *Registry,
	identity ServiceIdentity,
	players PlayerSource,
	interval, cleanupInterval time.Duration,
	logger zerolog.Logger,
) *Heartbeater {
	if players == nil {
		players = func() []OnlinePlayer { return nil }
	}
	return &Heartbeater{
		broker:          b,
		registry:        registry,
		identity:        identity,
		players:         players,
		interval:        interval,
		cleanupInterval: cleanupInterval,
		logger:          logger.With().Str("component", "heartbeat").Logger(),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start subscribes to the heartbeat channel and begins emitting.
func (h *Heartbeater) Start(ctx context.Context) error {
	h.broker.OnSubscriptionLost(func(channel string, err error) {
		if channel == redisu.HeartbeatChannel {
			h.registry.Reset()
		}
	})

	sub, err := broker.SubscribeJSON(ctx, h.broker, redisu.HeartbeatChannel, h.logger, func(_ context.Context, hb Heartbeat) {
		h.registry.Observe(hb)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to heartbeats: %w", err)
	}
	h.sub = sub

	h.logger.Info().Str("kind", string(h.identity.Kind)).Str("address", h.identity.Address).
		Dur("interval", h.interval).Dur("ttl", h.registry.TTL()).Msg("Starting heartbeat")
	go h.run()
	return nil
}

// Stop halts emission and unsubscribes. Safe to call more than once.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
		<-h.doneChan
		if h.sub != nil {
			if err := h.sub.Close(); err != nil {
				h.logger.Warn().Err(err).Msg("Failed to close heartbeat subscription")
			}
		}
		h.logger.Info().Msg("Heartbeat stopped")
	})
}

func (h *Heartbeater) run() {
	defer close(h.doneChan)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var sweep <-chan time.Time
	if h.cleanupInterval > 0 {
		cleanupTicker := time.NewTicker(h.cleanupInterval)
		defer cleanupTicker.Stop()
		sweep = cleanupTicker.C
	}

	h.emit()
	for {
		select {
		case <-ticker.C:
			h.emit()
		case <-sweep:
			if removed := h.registry.Sweep(); removed > 0 {
				h.logger.Info().Int("removed", removed).Msg("Swept stale peers")
			}
		case <-h.stopChan:
			return
		}
	}
}

// Heartbeat builds the current announcement of this process.
func (h *Heartbeater) Heartbeat() Heartbeat {
	players := h.players()
	return Heartbeat{
		Timestamp:     time.Now().UnixMilli(),
		ServiceType:   h.identity.Kind,
		ID:            h.identity.ID,
		PlayerCount:   len(players),
		OnlinePlayers: players,
		ServerAddress: h.identity.Address,
	}
}

func (h *Heartbeater) emit() {
	ctx, cancel := context.WithTimeout(context.Background(), h.interval)
	defer cancel()

	if err := broker.PublishJSON(ctx, h.broker, redisu.HeartbeatChannel, h.Heartbeat()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to publish heartbeat")
		return
	}
	h.logger.Debug().Msg("Heartbeat published")
}
