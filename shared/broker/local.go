package broker

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// LocalBroker is an in-process Broker for tests and single-process setups.
// Fail and Recover simulate transport outages.
type LocalBroker struct {
	mu      sync.RWMutex
	subs    map[string]map[*localSubscription]struct{}
	lost    []func(channel string, err error)
	failure error
	closed  bool
}

// NewLocalBroker returns an empty in-process broker.
func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[string]map[*localSubscription]struct{})}
}

// Publish copies payload to every handler subscribed to channel.
func (lb *LocalBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if lb.closed {
		return ErrClosed
	}
	if lb.failure != nil {
		return fmt.Errorf("%w: failed to publish on %s: %w", ErrBrokerUnavailable, channel, lb.failure)
	}
	for sub := range lb.subs[channel] {
		go sub.handler(sub.ctx, bytes.Clone(payload))
	}
	return nil
}

// Subscribe registers handler for channel.
func (lb *LocalBroker) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if lb.closed {
		return nil, ErrClosed
	}
	if lb.failure != nil {
		return nil, fmt.Errorf("%w: failed to subscribe to %s: %w", ErrBrokerUnavailable, channel, lb.failure)
	}

	subCtx, cancel := context.WithCancel(context.Background())
	sub := &localSubscription{broker: lb, channel: channel, handler: handler, ctx: subCtx, cancel: cancel}
	if lb.subs[channel] == nil {
		lb.subs[channel] = make(map[*localSubscription]struct{})
	}
	lb.subs[channel][sub] = struct{}{}
	return sub, nil
}

// OnSubscriptionLost registers fn to be called by Fail.
func (lb *LocalBroker) OnSubscriptionLost(fn func(channel string, err error)) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.lost = append(lb.lost, fn)
}

// Fail makes every operation return ErrBrokerUnavailable and reports every
// subscribed channel as lost.
func (lb *LocalBroker) Fail(err error) {
	lb.mu.Lock()
	lb.failure = err
	var channels []string
	for channel, subs := range lb.subs {
		if len(subs) > 0 {
			channels = append(channels, channel)
		}
	}
	callbacks := append([]func(string, error){}, lb.lost...)
	lb.mu.Unlock()

	for _, channel := range channels {
		for _, fn := range callbacks {
			fn(channel, err)
		}
	}
}

// Recover clears a failure set by Fail. Subscriptions resume delivery.
func (lb *LocalBroker) Recover() {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.failure = nil
}

// Close drops every subscription.
func (lb *LocalBroker) Close() error {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for _, subs := range lb.subs {
		for sub := range subs {
			sub.cancel()
		}
	}
	lb.subs = make(map[string]map[*localSubscription]struct{})
	lb.closed = true
	return nil
}

type localSubscription struct {
	broker  *LocalBroker
	channel string
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *localSubscription) Channel() string { return s.channel }

func (s *localSubscription) Close() error {
	s.cancel()
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	delete(s.broker.subs[s.channel], s)
	return nil
}
