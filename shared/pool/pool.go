// Package pool keeps warm pools of expensive resources per type key.
//
// Every key gets its own queue when the Manager is created; keys are never
// added later. Acquire takes from the queue when it can and schedules exactly
// one background replacement; on an empty queue it constructs on demand and
// schedules nothing. Pool size is a target, not a cap: it can dip below target
// under load and is restored asynchronously, and late constructions may leave
// it above target until consumers catch up.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Ftotnem/duels-network/shared/metrics"
)

// ErrUnknownType is returned for keys the manager was not created with.
var ErrUnknownType = errors.New("unknown resource type")

// Constructor builds one resource of the given type.
type Constructor[K comparable, T any] func(ctx context.Context, key K) (T, error)

// Options tunes a Manager.
type Options[K comparable, T any] struct {
	// Target is the warm size of every pool. Defaults to 3.
	Target int
	// MaxConcurrentBuilds bounds in-flight background replacements across all
	// keys. Excess replacements wait for a slot. Defaults to 4.
	MaxConcurrentBuilds int64
	// BuildTimeout bounds a single background construction. Zero means none.
	BuildTimeout time.Duration
	// Discard receives the idle resources left when the manager closes.
	Discard func(key K, item T)
	// Label names a key in logs and metrics. Defaults to fmt.Sprint.
	Label   func(key K) string
	Metrics *metrics.Metrics
}

// Manager owns one warm pool per key.
type Manager[K comparable, T any] struct {
	construct    Constructor[K, T]
	queues       map[K]*queue[T]
	target       int
	sem          *semaphore.Weighted
	buildTimeout time.Duration
	discard      func(K, T)
	label        func(K) string
	metrics      *metrics.Metrics
	logger       zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a manager with an empty pool for each key.
func New[K comparable, T any](keys []K, construct Constructor[K, T], opts Options[K, T], logger zerolog.Logger) *Manager[K, T] {
	if opts.Target <= 0 {
		opts.Target = 3
	}
	if opts.MaxConcurrentBuilds <= 0 {
		opts.MaxConcurrentBuilds = 4
	}
	if opts.Label == nil {
		opts.Label = func(k K) string { return fmt.Sprint(k) }
	}

	queues := make(map[K]*queue[T], len(keys))
	for _, k := range keys {
		queues[k] = &queue[T]{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager[K, T]{
		construct:    construct,
		queues:       queues,
		target:       opts.Target,
		sem:          semaphore.NewWeighted(opts.MaxConcurrentBuilds),
		buildTimeout: opts.BuildTimeout,
		discard:      opts.Discard,
		label:        opts.Label,
		metrics:      opts.Metrics,
		logger:       logger.With().Str("component", "pool").Logger(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Target is the warm size of every pool.
func (m *Manager[K, T]) Target() int { return m.target }

// Initialize fills every pool up to target, in parallel across keys. It
// returns the first construction error.
func (m *Manager[K, T]) Initialize(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for key, q := range m.queues {
		g.Go(func() error {
			for missing := m.target - q.len(); missing > 0; missing-- {
				item, err := m.build(gctx, key, "initial")
				if err != nil {
					return fmt.Errorf("failed to fill pool %s: %w", m.label(key), err)
				}
				m.offer(key, item)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for key := range m.queues {
		m.logger.Info().Str("type", m.label(key)).Int("size", m.Size(key)).Msg("Pool initialized")
	}
	return nil
}

// Acquire hands out one resource of type key. A pooled resource is returned
// immediately and replaced in the background; otherwise one is constructed
// with ctx and no replacement is scheduled.
func (m *Manager[K, T]) Acquire(ctx context.Context, key K) (T, error) {
	q, ok := m.queues[key]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s", ErrUnknownType, m.label(key))
	}

	if item, ok := q.pop(); ok {
		m.metrics.SetPoolSize(m.label(key), q.len())
		m.replace(key)
		return item, nil
	}

	m.logger.Debug().Str("type", m.label(key)).Msg("Pool empty, constructing on demand")
	return m.build(ctx, key, "on_demand")
}

// Size is the number of idle resources of type key.
func (m *Manager[K, T]) Size(key K) int {
	q, ok := m.queues[key]
	if !ok {
		return 0
	}
	return q.len()
}

// Close stops pending replacements and waits for running ones to finish.
// Idle resources are passed to Discard.
func (m *Manager[K, T]) Close() {
	m.cancel()
	m.wg.Wait()
	for key, q := range m.queues {
		for _, item := range q.drain() {
			if m.discard != nil {
				m.discard(key, item)
			}
		}
	}
}

func (m *Manager[K, T]) replace(key K) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		if err := m.sem.Acquire(m.ctx, 1); err != nil {
			return
		}
		defer m.sem.Release(1)

		ctx := m.ctx
		if m.buildTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, m.buildTimeout)
			defer cancel()
		}

		item, err := m.build(ctx, key, "replacement")
		if err != nil {
			if m.ctx.Err() == nil {
				m.logger.Error().Err(err).Str("type", m.label(key)).Msg("Failed to build replacement")
			}
			return
		}
		m.offer(key, item)
	}()
}

func (m *Manager[K, T]) build(ctx context.Context, key K, mode string) (T, error) {
	start := time.Now()
	item, err := m.construct(ctx, key)
	if err != nil {
		return item, err
	}
	m.metrics.ArenaBuilt(m.label(key), mode)
	m.logger.Debug().Str("type", m.label(key)).Str("mode", mode).Dur("took", time.Since(start)).Msg("Resource constructed")
	return item, nil
}

// offer enqueues item. A pool above target keeps the surplus for the next
// acquires.
func (m *Manager[K, T]) offer(key K, item T) {
	n := m.queues[key].push(item)
	m.metrics.SetPoolSize(m.label(key), n)
	if n > m.target {
		m.logger.Debug().Str("type", m.label(key)).Int("size", n).Msg("Pool above target")
	}
}

// queue is the FIFO of idle resources of one key.
type queue[T any] struct {
	mu    sync.Mutex
	items []T
}

func (q *queue[T]) push(item T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return len(q.items)
}

func (q *queue[T]) pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return item, true
}

func (q *queue[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *queue[T]) drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
