// Package broker is the publish/subscribe transport every other coordination
// component is built on. Delivery is at-least-once with no ordering across
// channels, so consumers must tolerate duplicates.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	// ErrBrokerUnavailable reports a broken transport on publish or subscribe.
	ErrBrokerUnavailable = errors.New("broker unavailable")
	// ErrClosed is returned by operations on a closed broker.
	ErrClosed = errors.New("broker closed")
)

// Handler is invoked once per inbound message, on its own goroutine.
type Handler func(ctx context.Context, payload []byte)

// Subscription is an active channel subscription.
type Subscription interface {
	Channel() string
	Close() error
}

// Broker publishes payloads to named channels and dispatches inbound payloads
// to subscribed handlers.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
	// OnSubscriptionLost registers a callback invoked when a subscription stops
	// receiving because the transport failed.
	OnSubscriptionLost(fn func(channel string, err error))
	Close() error
}

// PublishJSON encodes v as JSON and publishes it on channel.
func PublishJSON(ctx context.Context, b Broker, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload for channel %s: %w", channel, err)
	}
	return b.Publish(ctx, channel, data)
}

// SubscribeJSON subscribes to channel and decodes every payload into T before
// calling fn. Payloads that fail to decode are logged and dropped.
func SubscribeJSON[T any](ctx context.Context, b Broker, channel string, logger zerolog.Logger, fn func(context.Context, T)) (Subscription, error) {
	return b.Subscribe(ctx, channel, func(ctx context.Context, payload []byte) {
		var v T
		if err := json.Unmarshal(payload, &v); err != nil {
			logger.Warn().Err(err).Str("channel", channel).Msg("Dropping undecodable payload")
			return
		}
		fn(ctx, v)
	})
}
