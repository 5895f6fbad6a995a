// Package matchmaker holds the per kit and format FIFO queues of one queue
// instance and turns full queues into duels.
package matchmaker

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/messaging"
	"github.com/Ftotnem/duels-network/shared/models"
)

// DuelStarter hands a formed match to a duel server. *service.DuelClient
// satisfies it.
type DuelStarter interface {
	StartDuel(ctx context.Context, start models.DuelStart) (string, error)
}

// Entry is one queued player.
type Entry struct {
	UUID      uuid.UUID        `json:"uuid"`
	KitType   models.KitType   `json:"kitType"`
	QueueType models.QueueType `json:"queueType"`
	QueuedAt  time.Time        `json:"queuedAt"`
}

// Key identifies one queue.
type Key struct {
	Kit   models.KitType
	Queue models.QueueType
}

// Depth is the size of one queue.
type Depth struct {
	KitType   models.KitType   `json:"kitType"`
	QueueType models.QueueType `json:"queueType"`
	Players   int              `json:"players"`
	Owned     bool             `json:"owned"`
}

// Matchmaker owns the queues of this instance. Kits are sharded across queue
// instances by the assignment manager; only the owner of a kit forms matches
// for it and entries of kits owned elsewhere are handed over on the next tick.
type Matchmaker struct {
	node       *cluster.Node
	assignment *cluster.AssignmentManager
	duels      DuelStarter
	interval   time.Duration
	grace      time.Duration
	now        func() time.Time
	logger     zerolog.Logger

	mu     sync.Mutex
	queues map[Key][]Entry
	queued map[uuid.UUID]Key // includes players of a match being handed to a duel server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a matchmaker with an empty queue for every kit and format.
// Entries younger than grace are not pruned for missing from the network, so
// a player who just joined is not dropped before their server's heartbeat
// announces them.
func New(node *cluster.Node, assignment *cluster.AssignmentManager, duels DuelStarter, interval, grace time.Duration, logger zerolog.Logger) *Matchmaker {
	ctx, cancel := context.WithCancel(context.Background())
	mm := &Matchmaker{
		node:       node,
		assignment: assignment,
		duels:      duels,
		interval:   interval,
		grace:      grace,
		now:        time.Now,
		logger:     logger.With().Str("component", "matchmaker").Logger(),
		queues:     make(map[Key][]Entry),
		queued:     make(map[uuid.UUID]Key),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, kit := range models.KitTypes {
		for _, qt := range models.QueueTypes {
			mm.queues[Key{kit, qt}] = nil
		}
	}
	return mm
}

// Register installs the queue handlers on the node's messaging service.
func (mm *Matchmaker) Register() {
	messaging.HandleMessage(mm.node.Messaging, func(_ context.Context, from string, msg models.AddToQueue) {
		if err := mm.Push(msg.UUID, msg.KitType, msg.QueueType); err != nil {
			mm.logger.Warn().Err(err).Str("from", from).Msg("Rejected queue entry")
		}
	})
	messaging.HandleMessage(mm.node.Messaging, func(_ context.Context, _ string, msg models.RemoveFromQueue) {
		mm.Remove(msg.UUID)
	})
	messaging.HandleMessage(mm.node.Messaging, func(_ context.Context, _ string, msg models.QuitNetwork) {
		if mm.Remove(msg.UUID) {
			mm.logger.Info().Str("player", msg.UUID.String()).Msg("Removed player who left the network")
		}
	})
	messaging.HandleRequest(mm.node.Messaging, func(_ context.Context, _ string, req models.IsQueuedRequest) (messaging.Payload, error) {
		return models.IsQueuedResponse{UUID: req.UUID, Queued: mm.IsQueued(req.UUID)}, nil
	})
	messaging.HandleRequest(mm.node.Messaging, func(_ context.Context, _ string, req models.QueuedAmountRequest) (messaging.Payload, error) {
		return models.QueuedAmountResponse{Amount: mm.Amount(req.KitType, req.QueueType)}, nil
	})
}

// Push queues player. A player already waiting in another queue is moved;
// waiting in the same queue again is a no-op.
func (mm *Matchmaker) Push(player uuid.UUID, kit models.KitType, qt models.QueueType) error {
	if !kit.Valid() {
		return fmt.Errorf("unknown kit type %q", kit)
	}
	if !qt.Valid() {
		return fmt.Errorf("unknown queue type %q", qt)
	}
	key := Key{kit, qt}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if prev, ok := mm.queued[player]; ok {
		if prev == key {
			return nil
		}
		mm.removeLocked(player)
	}
	mm.queues[key] = append(mm.queues[key], Entry{UUID: player, KitType: kit, QueueType: qt, QueuedAt: mm.now()})
	mm.queued[player] = key
	mm.logger.Info().Str("player", player.String()).Str("kit", string(kit)).Str("queue", string(qt)).Msg("Player queued")
	return nil
}

// Remove takes player out of whatever queue they wait in.
func (mm *Matchmaker) Remove(player uuid.UUID) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.removeLocked(player)
}

func (mm *Matchmaker) removeLocked(player uuid.UUID) bool {
	key, ok := mm.queued[player]
	if !ok {
		return false
	}
	delete(mm.queued, player)
	mm.queues[key] = slices.DeleteFunc(mm.queues[key], func(e Entry) bool { return e.UUID == player })
	return true
}

// IsQueued reports whether player waits in a queue of this instance.
func (mm *Matchmaker) IsQueued(player uuid.UUID) bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	_, ok := mm.queued[player]
	return ok
}

// Amount is the number of players waiting for kit and format.
func (mm *Matchmaker) Amount(kit models.KitType, qt models.QueueType) int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.queues[Key{kit, qt}])
}

// Depths lists every queue in kit and format order.
func (mm *Matchmaker) Depths() []Depth {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	out := make([]Depth, 0, len(mm.queues))
	for _, kit := range models.KitTypes {
		owned, _ := mm.assignment.IsResponsible(string(kit))
		for _, qt := range models.QueueTypes {
			out = append(out, Depth{KitType: kit, QueueType: qt, Players: len(mm.queues[Key{kit, qt}]), Owned: owned})
		}
	}
	return out
}

// Start runs the tick loop and the assignment manager until Stop.
func (mm *Matchmaker) Start() {
	mm.logger.Info().Dur("tick_interval", mm.interval).Msg("Matchmaker starting")
	go mm.assignment.Start()

	mm.wg.Add(1)
	go func() {
		defer mm.wg.Done()
		ticker := time.NewTicker(mm.interval)
		defer ticker.Stop()
		for {
			select {
			case <-mm.ctx.Done():
				mm.assignment.Stop()
				mm.logger.Info().Msg("Matchmaker stopped")
				return
			case <-ticker.C:
				mm.Tick(mm.ctx)
			}
		}
	}()
}

// Stop ends the tick loop and waits for a running tick.
func (mm *Matchmaker) Stop() {
	mm.cancel()
	mm.wg.Wait()
}

// Tick processes every queue once. A queue that cannot start a match does
// not hold up the others.
func (mm *Matchmaker) Tick(ctx context.Context) {
	network := mm.node.Registry.NetworkPlayers()

	for _, kit := range models.KitTypes {
		owner, err := mm.assignment.Owner(string(kit))
		if err != nil {
			mm.logger.Error().Err(err).Str("kit", string(kit)).Msg("Failed to resolve kit owner")
			continue
		}
		for _, qt := range models.QueueTypes {
			key := Key{kit, qt}
			if owner != mm.node.Identity.ID {
				mm.handOver(ctx, key, owner)
				continue
			}
			mm.prune(key, network)
			mm.matchAll(ctx, key)
			mm.node.Metrics.SetQueueDepth(string(kit), string(qt), mm.Amount(kit, qt))
		}
	}
}

// prune drops entries whose player is no longer on the network.
func (mm *Matchmaker) prune(key Key, network map[uuid.UUID]string) {
	now := mm.now()

	mm.mu.Lock()
	defer mm.mu.Unlock()

	var gone []uuid.UUID
	for _, e := range mm.queues[key] {
		if _, online := network[e.UUID]; !online && now.Sub(e.QueuedAt) >= mm.grace {
			gone = append(gone, e.UUID)
		}
	}
	for _, p := range gone {
		mm.removeLocked(p)
		mm.logger.Info().Str("player", p.String()).Str("kit", string(key.Kit)).Msg("Dropped queued player no longer on the network")
	}
}

// matchAll starts matches while the queue holds enough players. When no duel
// server takes a match the players go back to the front of the queue.
func (mm *Matchmaker) matchAll(ctx context.Context, key Key) {
	required := key.Queue.TotalPlayers()
	for {
		entries := mm.pop(key, required)
		if entries == nil {
			return
		}

		team := key.Queue.TeamSize()
		start := models.DuelStart{
			BlueTeam: uuids(entries[:team]),
			RedTeam:  uuids(entries[team:]),
			Rounds:   team,
			KitType:  key.Kit,
		}
		server, err := mm.duels.StartDuel(ctx, start)
		if err != nil {
			mm.pushFront(key, entries)
			mm.logger.Warn().Err(err).Str("kit", string(key.Kit)).Str("queue", string(key.Queue)).
				Msg("No duel server took the match, players requeued")
			return
		}
		mm.settle(key, entries)
		mm.node.Metrics.MatchStarted(string(key.Kit), string(key.Queue))
		mm.logger.Info().Str("kit", string(key.Kit)).Str("queue", string(key.Queue)).Str("server", server).
			Msg("Match sent to duel server")
	}
}

// pop takes the first n entries, or nothing when fewer wait. Popped players
// stay marked as queued until settle or pushFront.
func (mm *Matchmaker) pop(key Key, n int) []Entry {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	q := mm.queues[key]
	if len(q) < n {
		return nil
	}
	entries := slices.Clone(q[:n])
	mm.queues[key] = slices.Delete(q, 0, n)
	return entries
}

// settle forgets the players of a match a duel server accepted.
func (mm *Matchmaker) settle(key Key, entries []Entry) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	for _, e := range entries {
		if mm.queued[e.UUID] == key {
			delete(mm.queued, e.UUID)
		}
	}
}

// pushFront restores entries at the head of the queue in their original
// order. Players who left or moved to another queue meanwhile are skipped.
func (mm *Matchmaker) pushFront(key Key, entries []Entry) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	restore := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if k, ok := mm.queued[e.UUID]; ok && k == key {
			restore = append(restore, e)
		}
	}
	mm.queues[key] = append(restore, mm.queues[key]...)
}

// handOver sends the entries of a queue owned by another instance to it.
func (mm *Matchmaker) handOver(ctx context.Context, key Key, owner string) {
	mm.mu.Lock()
	entries := mm.queues[key]
	mm.queues[key] = nil
	for _, e := range entries {
		delete(mm.queued, e.UUID)
	}
	mm.mu.Unlock()

	for i, e := range entries {
		msg := models.AddToQueue{UUID: e.UUID, KitType: e.KitType, QueueType: e.QueueType}
		if err := mm.node.Messaging.SendMessage(ctx, owner, msg); err != nil {
			mm.logger.Error().Err(err).Str("owner", owner).Msg("Failed to hand over queue, keeping entries")
			mm.restore(key, entries[i:])
			return
		}
	}
	if len(entries) > 0 {
		mm.logger.Info().Str("kit", string(key.Kit)).Str("queue", string(key.Queue)).Str("owner", owner).
			Int("players", len(entries)).Msg("Handed queue over to its owner")
	}
}

// restore puts entries back at the head of their queue after a failed hand
// over, unless the player queued again meanwhile.
func (mm *Matchmaker) restore(key Key, entries []Entry) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	restore := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, again := mm.queued[e.UUID]; !again {
			restore = append(restore, e)
			mm.queued[e.UUID] = key
		}
	}
	mm.queues[key] = append(restore, mm.queues[key]...)
}

func uuids(entries []Entry) []uuid.UUID {
	out := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		out[i] = e.UUID
	}
	return out
}
