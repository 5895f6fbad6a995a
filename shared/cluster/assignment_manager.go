// shared/cluster/assignment_manager.go
package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stathat/consistent"

	"github.com/Ftotnem/duels-network/shared/registry"
)

// ErrEmptyRing is returned when no live instance of the kind is known.
var ErrEmptyRing = errors.New("consistent hash ring is empty")

// AssignmentManager decides whether this instance owns an entity (a kit queue,
// a player, ...) by consistent hashing over the live peers of its own kind.
// With an empty selfID it only observes the ring of another kind, which lets
// clients route to the owning peer.
type AssignmentManager struct {
	registry       *registry.Registry
	selfID         string
	kind           registry.ServiceKind
	updateInterval time.Duration
	logger         zerolog.Logger

	consistentHash *consistent.Consistent
	chMux          sync.RWMutex
	ctx            context.Context
	cancel         context.CancelFunc
}

// NewAssignmentManager creates a manager whose ring initially holds only selfID,
// or nothing for an observer.
func NewAssignmentManager(reg *registry.Registry, selfID string, kind registry.ServiceKind, updateInterval time.Duration, logger zerolog.Logger) *AssignmentManager {
	ctx, cancel := context.WithCancel(context.Background())

	am := &AssignmentManager{
		registry:       reg,
		selfID:         selfID,
		kind:           kind,
		updateInterval: updateInterval,
		logger:         logger.With().Str("component", "assignment").Logger(),
		consistentHash: consistent.New(),
		ctx:            ctx,
		cancel:         cancel,
	}
	if selfID != "" {
		am.consistentHash.Add(selfID)
	}

	am.logger.Info().Str("kind", string(kind)).Dur("update_interval", updateInterval).
		Msg("Assignment manager initialized")
	return am
}

// Start rebuilds the ring periodically until Stop. Run it in a goroutine.
func (am *AssignmentManager) Start() {
	ticker := time.NewTicker(am.updateInterval)
	defer ticker.Stop()

	am.Update()
	for {
		select {
		case <-am.ctx.Done():
			am.logger.Info().Msg("Assignment manager stopped")
			return
		case <-ticker.C:
			am.Update()
		}
	}
}

// Stop ends the update loop.
func (am *AssignmentManager) Stop() {
	am.cancel()
}

// Update rebuilds the ring when the set of live peers of the kind changed.
// A member instance is always part of its own ring.
func (am *AssignmentManager) Update() {
	var members []string
	if am.selfID != "" {
		members = append(members, am.selfID)
	}
	for _, p := range am.registry.ListPeers(am.kind) {
		if p.Identity.ID != am.selfID {
			members = append(members, p.Identity.ID)
		}
	}
	slices.Sort(members)

	am.chMux.Lock()
	defer am.chMux.Unlock()

	current := am.consistentHash.Members()
	slices.Sort(current)
	if slices.Equal(members, current) {
		return
	}

	ring := consistent.New()
	ring.NumberOfReplicas = am.consistentHash.NumberOfReplicas
	for _, m := range members {
		ring.Add(m)
	}
	am.consistentHash = ring
	am.logger.Info().Strs("members", members).Msg("Consistent hash ring updated")
}

// Owner returns the instance id responsible for entityID.
func (am *AssignmentManager) Owner(entityID string) (string, error) {
	am.chMux.RLock()
	defer am.chMux.RUnlock()

	if len(am.consistentHash.Members()) == 0 {
		return "", fmt.Errorf("%w for %s", ErrEmptyRing, am.kind)
	}
	owner, err := am.consistentHash.Get(entityID)
	if err != nil {
		return "", fmt.Errorf("failed to get owner of '%s' (kind %s): %w", entityID, am.kind, err)
	}
	return owner, nil
}

// IsResponsible reports whether this instance owns entityID. An observer is
// never responsible.
func (am *AssignmentManager) IsResponsible(entityID string) (bool, error) {
	if am.selfID == "" {
		return false, nil
	}
	owner, err := am.Owner(entityID)
	if err != nil {
		return false, err
	}
	return owner == am.selfID, nil
}
