package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker implements Broker on Redis PUBLISH/SUBSCRIBE.
type RedisBroker struct {
	client redis.UniversalClient
	logger zerolog.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	lost   []func(channel string, err error)
	closed bool
	wg     sync.WaitGroup
}

// NewRedisBroker wraps an already connected Redis client.
func NewRedisBroker(client redis.UniversalClient, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{
		client: client,
		logger: logger.With().Str("component", "broker").Logger(),
		subs:   make(map[*redisSubscription]struct{}),
	}
}

// Publish sends payload to every subscriber of channel.
func (rb *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	if rb.isClosed() {
		return ErrClosed
	}
	if err := rb.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: failed to publish on %s: %w", ErrBrokerUnavailable, channel, err)
	}
	return nil
}

// Subscribe blocks until Redis confirms the subscription, then delivers every
// inbound message to handler on its own goroutine.
func (rb *RedisBroker) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return nil, ErrClosed
	}
	rb.mu.Unlock()

	ps := rb.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("%w: failed to subscribe to %s: %w", ErrBrokerUnavailable, channel, err)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		broker:  rb,
		channel: channel,
		ps:      ps,
		handler: handler,
		ctx:     subCtx,
		cancel:  cancel,
	}

	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		cancel()
		_ = ps.Close()
		return nil, ErrClosed
	}
	rb.subs[sub] = struct{}{}
	rb.wg.Add(1)
	rb.mu.Unlock()

	go sub.receive()

	rb.logger.Debug().Str("channel", channel).Msg("Subscribed to channel")
	return sub, nil
}

// OnSubscriptionLost registers fn to be called once per outage of a subscription.
func (rb *RedisBroker) OnSubscriptionLost(fn func(channel string, err error)) {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.lost = append(rb.lost, fn)
}

// Close ends every subscription. The underlying Redis client is owned by the
// caller and stays open.
func (rb *RedisBroker) Close() error {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return nil
	}
	rb.closed = true
	subs := make([]*redisSubscription, 0, len(rb.subs))
	for sub := range rb.subs {
		subs = append(subs, sub)
	}
	rb.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	rb.wg.Wait()
	return errors.Join(errs...)
}

func (rb *RedisBroker) isClosed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}

func (rb *RedisBroker) notifyLost(channel string, err error) {
	rb.mu.Lock()
	callbacks := append([]func(string, error){}, rb.lost...)
	rb.mu.Unlock()

	rb.logger.Error().Err(err).Str("channel", channel).Msg("Subscription lost")
	for _, fn := range callbacks {
		fn(channel, err)
	}
}

type redisSubscription struct {
	broker  *RedisBroker
	channel string
	ps      *redis.PubSub
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
}

func (s *redisSubscription) Channel() string { return s.channel }

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.ps.Close()

		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
	})
	return err
}

// receive reads until the subscription is closed. A read error marks the
// subscription lost; go-redis reconnects and resubscribes on the next read.
func (s *redisSubscription) receive() {
	defer s.broker.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 100 * time.Millisecond
	retry.MaxInterval = 5 * time.Second

	lost := false
	for {
		msg, err := s.ps.ReceiveMessage(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
				return
			}
			if !lost {
				lost = true
				s.broker.notifyLost(s.channel, err)
			}
			select {
			case <-time.After(retry.NextBackOff()):
			case <-s.ctx.Done():
				return
			}
			continue
		}

		if lost {
			lost = false
			retry.Reset()
			s.broker.logger.Info().Str("channel", s.channel).Msg("Subscription recovered")
		}

		payload := []byte(msg.Payload)
		go s.handler(s.ctx, payload)
	}
}
