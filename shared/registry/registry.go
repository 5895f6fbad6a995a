package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/metrics"
)

// ErrNoSuchService is returned when no live peer matches a lookup.
var ErrNoSuchService = errors.New("no such service")

// Registry is the local peer table fed by heartbeats. A peer is visible only
// while now - lastSeen < ttl; stale entries are dropped on read and by Sweep.
type Registry struct {
	peers   sync.Map // service id -> *PeerRecord
	ttl     time.Duration
	now     func() time.Time
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics records live peer counts on every sweep.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry with the given staleness window.
func NewRegistry(ttl time.Duration, logger zerolog.Logger, opts ...Option) *Registry {
	r := &Registry{
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With().Str("component", "registry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TTL is the staleness window.
func (r *Registry) TTL() time.Duration { return r.ttl }

// Observe upserts the peer announced by hb and refreshes its lastSeen.
func (r *Registry) Observe(hb Heartbeat) {
	if hb.ID == "" {
		r.logger.Warn().Msg("Ignoring heartbeat without service id")
		return
	}
	now := r.now()
	startedAt, joined := now, true
	if prev, ok := r.peers.Load(hb.ID); ok {
		if old := prev.(*PeerRecord); r.live(old, now) {
			startedAt, joined = old.Identity.StartedAt, false
		}
	}

	r.peers.Store(hb.ID, &PeerRecord{
		Identity: ServiceIdentity{
			ID:        hb.ID,
			Address:   hb.ServerAddress,
			Kind:      hb.ServiceType,
			StartedAt: startedAt,
		},
		OnlinePlayers: append([]OnlinePlayer(nil), hb.OnlinePlayers...),
		LastSeen:      now,
	})

	if joined {
		r.logger.Info().Str("peer_id", hb.ID).Str("kind", string(hb.ServiceType)).
			Str("address", hb.ServerAddress).Msg("Peer joined")
	}
}

func (r *Registry) live(rec *PeerRecord, now time.Time) bool {
	return now.Sub(rec.LastSeen) < r.ttl
}

// snapshot returns live records and evicts stale ones.
func (r *Registry) snapshot() []PeerRecord {
	now := r.now()
	var out []PeerRecord
	r.peers.Range(func(key, value any) bool {
		rec := value.(*PeerRecord)
		if !r.live(rec, now) {
			r.evict(key.(string), rec)
			return true
		}
		out = append(out, *rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.ID < out[j].Identity.ID })
	return out
}

func (r *Registry) evict(id string, rec *PeerRecord) bool {
	if r.peers.CompareAndDelete(id, rec) {
		r.logger.Info().Str("peer_id", id).Time("last_seen", rec.LastSeen).Msg("Peer evicted as stale")
		return true
	}
	return false
}

// ListPeers returns live peers sorted by id, restricted to kinds when given.
func (r *Registry) ListPeers(kinds ...ServiceKind) []PeerRecord {
	peers := r.snapshot()
	if len(kinds) == 0 {
		return peers
	}
	filtered := peers[:0]
	for _, p := range peers {
		for _, k := range kinds {
			if p.Identity.Kind == k {
				filtered = append(filtered, p)
				break
			}
		}
	}
	return filtered
}

// Get returns the live peer with the given id.
func (r *Registry) Get(id string) (PeerRecord, bool) {
	value, ok := r.peers.Load(id)
	if !ok {
		return PeerRecord{}, false
	}
	rec := value.(*PeerRecord)
	if !r.live(rec, r.now()) {
		r.evict(id, rec)
		return PeerRecord{}, false
	}
	return *rec, true
}

// FindOneOfType returns the live peer of kind with the fewest players, ties
// broken by id.
func (r *Registry) FindOneOfType(kind ServiceKind) (PeerRecord, error) {
	var best *PeerRecord
	for _, p := range r.ListPeers(kind) {
		if best == nil || p.Load() < best.Load() {
			candidate := p
			best = &candidate
		}
	}
	if best == nil {
		return PeerRecord{}, fmt.Errorf("%w: no live %s peer", ErrNoSuchService, kind)
	}
	return *best, nil
}

// NetworkPlayers maps every player announced by a live peer to that peer's id.
func (r *Registry) NetworkPlayers() map[uuid.UUID]string {
	players := make(map[uuid.UUID]string)
	for _, p := range r.snapshot() {
		for _, op := range p.OnlinePlayers {
			players[op.UUID] = p.Identity.ID
		}
	}
	return players
}

// Sweep evicts stale peers and returns how many were removed.
func (r *Registry) Sweep() int {
	now := r.now()
	removed := 0
	counts := make(map[ServiceKind]int)
	r.peers.Range(func(key, value any) bool {
		rec := value.(*PeerRecord)
		if !r.live(rec, now) {
			if r.evict(key.(string), rec) {
				removed++
			}
			return true
		}
		counts[rec.Identity.Kind]++
		return true
	})
	for _, kind := range Kinds {
		r.metrics.SetPeers(string(kind), counts[kind])
	}
	return removed
}

// Reset forgets every peer. Used when the heartbeat subscription is lost and
// nothing can be known about liveness.
func (r *Registry) Reset() {
	r.peers.Range(func(key, _ any) bool {
		r.peers.Delete(key)
		return true
	})
	r.logger.Warn().Msg("Registry reset; all peers treated as stale")
}
