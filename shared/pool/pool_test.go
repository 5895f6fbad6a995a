package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resource struct {
	kind string
	id   int64
}

// gatedConstructor counts constructions and can hold them until released.
type gatedConstructor struct {
	built   atomic.Int64
	waiting atomic.Int64
	mu      sync.Mutex
	gate    chan struct{}
}

func newGatedConstructor() *gatedConstructor {
	g := &gatedConstructor{gate: make(chan struct{})}
	close(g.gate)
	return g
}

func (g *gatedConstructor) hold() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gate = make(chan struct{})
}

func (g *gatedConstructor) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.gate)
}

func (g *gatedConstructor) construct(ctx context.Context, kind string) (resource, error) {
	g.mu.Lock()
	gate := g.gate
	g.mu.Unlock()

	g.waiting.Add(1)
	defer g.waiting.Add(-1)
	select {
	case <-gate:
	case <-ctx.Done():
		return resource{}, ctx.Err()
	}
	return resource{kind: kind, id: g.built.Add(1)}, nil
}

var kinds = []string{"RESTRICTED", "INTERACTIVE"}

// TestInitializeFillsEveryPool verifies that every known type reaches target.
func TestInitializeFillsEveryPool(t *testing.T) {
	g := newGatedConstructor()
	m := New(kinds, g.construct, Options[string, resource]{}, zerolog.Nop())
	t.Cleanup(m.Close)

	require.NoError(t, m.Initialize(context.Background()))
	for _, k := range kinds {
		assert.Equal(t, 3, m.Size(k))
	}
	assert.Equal(t, int64(6), g.built.Load())
}

// TestReplenishment verifies that draining acquires each schedule exactly one
// replacement and an acquire on an empty pool schedules none.
func TestReplenishment(t *testing.T) {
	g := newGatedConstructor()
	m := New([]string{"RESTRICTED"}, g.construct, Options[string, resource]{Target: 3}, zerolog.Nop())
	t.Cleanup(m.Close)
	require.NoError(t, m.Initialize(context.Background()))
	require.Equal(t, int64(3), g.built.Load())

	g.hold()

	results := make(chan resource, 4)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := m.Acquire(context.Background(), "RESTRICTED")
			assert.NoError(t, err)
			results <- r
		}()
	}

	// three replacements plus one on-demand build wait at the gate
	require.Eventually(t, func() bool { return g.waiting.Load() == 4 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.Size("RESTRICTED"))
	g.release()

	wg.Wait()
	close(results)
	seen := map[int64]bool{}
	for r := range results {
		assert.False(t, seen[r.id], "resource %d handed out twice", r.id)
		seen[r.id] = true
	}
	assert.Len(t, seen, 4)

	assert.Eventually(t, func() bool { return m.Size("RESTRICTED") == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(7), g.built.Load())
	assert.Equal(t, 3, m.Size("RESTRICTED"))
}

// TestReplacementsAreBounded verifies that no more than MaxConcurrentBuilds
// replacements run at once and the rest still complete.
func TestReplacementsAreBounded(t *testing.T) {
	g := newGatedConstructor()
	m := New([]string{"INTERACTIVE"}, g.construct, Options[string, resource]{Target: 6, MaxConcurrentBuilds: 2}, zerolog.Nop())
	t.Cleanup(m.Close)
	require.NoError(t, m.Initialize(context.Background()))

	g.hold()
	for i := 0; i < 6; i++ {
		_, err := m.Acquire(context.Background(), "INTERACTIVE")
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return g.waiting.Load() == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(2), g.waiting.Load())

	g.release()
	assert.Eventually(t, func() bool { return m.Size("INTERACTIVE") == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(12), g.built.Load())
}

// TestAcquireUnknownType verifies keys are fixed at construction.
func TestAcquireUnknownType(t *testing.T) {
	m := New(kinds, newGatedConstructor().construct, Options[string, resource]{}, zerolog.Nop())
	t.Cleanup(m.Close)

	_, err := m.Acquire(context.Background(), "HUB")
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, 0, m.Size("HUB"))
}

// TestInitializeReportsConstructionError verifies the first failure is returned.
func TestInitializeReportsConstructionError(t *testing.T) {
	boom := errors.New("no schematics for arena type")
	m := New(kinds, func(_ context.Context, kind string) (resource, error) {
		if kind == "INTERACTIVE" {
			return resource{}, boom
		}
		return resource{kind: kind}, nil
	}, Options[string, resource]{}, zerolog.Nop())
	t.Cleanup(m.Close)

	assert.ErrorIs(t, m.Initialize(context.Background()), boom)
}

// TestPoolMayExceedTarget verifies that surplus resources are kept for later
// acquires and only handed to Discard when the manager closes.
func TestPoolMayExceedTarget(t *testing.T) {
	var mu sync.Mutex
	var discarded []resource
	m := New([]string{"RESTRICTED"}, newGatedConstructor().construct, Options[string, resource]{
		Target: 1,
		Discard: func(_ string, r resource) {
			mu.Lock()
			defer mu.Unlock()
			discarded = append(discarded, r)
		},
	}, zerolog.Nop())

	m.offer("RESTRICTED", resource{id: 100})
	m.offer("RESTRICTED", resource{id: 101})
	m.offer("RESTRICTED", resource{id: 102})
	assert.Equal(t, 3, m.Size("RESTRICTED"))
	mu.Lock()
	assert.Empty(t, discarded)
	mu.Unlock()

	m.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []resource{{id: 100}, {id: 101}, {id: 102}}, discarded)
	assert.Zero(t, m.Size("RESTRICTED"))
}
