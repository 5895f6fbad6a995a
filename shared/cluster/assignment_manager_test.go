package cluster

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ftotnem/duels-network/shared/registry"
)

// TestAssignmentPartitionsEntities verifies that every entity has exactly one
// owner among the live instances and that ownership follows membership.
func TestAssignmentPartitionsEntities(t *testing.T) {
	reg := registry.NewRegistry(time.Minute, zerolog.Nop())
	for _, id := range []string{"queue-a", "queue-b", "queue-c"} {
		reg.Observe(registry.Heartbeat{ID: id, ServiceType: registry.KindQueue})
	}
	reg.Observe(registry.Heartbeat{ID: "duel-1", ServiceType: registry.KindDuel})

	managers := map[string]*AssignmentManager{}
	for _, id := range []string{"queue-a", "queue-b", "queue-c"} {
		am := NewAssignmentManager(reg, id, registry.KindQueue, time.Second, zerolog.Nop())
		am.Update()
		managers[id] = am
	}

	owners := map[string]int{}
	for i := 0; i < 50; i++ {
		entity := fmt.Sprintf("kit-%d", i)
		count := 0
		for id, am := range managers {
			ok, err := am.IsResponsible(entity)
			require.NoError(t, err)
			if ok {
				count++
				owners[id]++
			}
		}
		assert.Equal(t, 1, count, "entity %s", entity)
	}
	assert.NotContains(t, owners, "duel-1")
}

// TestAssignmentAloneOwnsEverything verifies a lone instance is responsible
// for every entity even before it hears its own heartbeat.
func TestAssignmentAloneOwnsEverything(t *testing.T) {
	reg := registry.NewRegistry(time.Minute, zerolog.Nop())
	am := NewAssignmentManager(reg, "queue-a", registry.KindQueue, time.Second, zerolog.Nop())
	am.Update()

	ok, err := am.IsResponsible("SWORD")
	require.NoError(t, err)
	assert.True(t, ok)
}

// TestObserverRoutesToOwner verifies that an observer agrees with the members
// on every owner and is never responsible itself.
func TestObserverRoutesToOwner(t *testing.T) {
	reg := registry.NewRegistry(time.Minute, zerolog.Nop())
	observer := NewAssignmentManager(reg, "", registry.KindQueue, time.Second, zerolog.Nop())
	observer.Update()

	_, err := observer.Owner("SWORD")
	assert.ErrorIs(t, err, ErrEmptyRing)

	for _, id := range []string{"queue-a", "queue-b"} {
		reg.Observe(registry.Heartbeat{ID: id, ServiceType: registry.KindQueue})
	}
	observer.Update()
	member := NewAssignmentManager(reg, "queue-a", registry.KindQueue, time.Second, zerolog.Nop())
	member.Update()

	for i := 0; i < 20; i++ {
		entity := fmt.Sprintf("kit-%d", i)
		want, err := member.Owner(entity)
		require.NoError(t, err)
		got, err := observer.Owner(entity)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		ok, err := observer.IsResponsible(entity)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}
