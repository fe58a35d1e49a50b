package client

import (
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/entitymap"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/world"
)

// World is the storage the mirror is written into. *world.World satisfies
// it.
type World interface {
	Spawn() entity.Entity
	Reserve() entity.Entity
	Despawn(e entity.Entity) bool
	Contains(e entity.Entity) bool
	Insert(e entity.Entity, id world.ComponentID, value any) error
	Remove(e entity.Entity, id world.ComponentID) bool
}

type Config struct {
	// DedupWindow bounds remembered mutate messages.
	DedupWindow int
}

func DefaultConfig() Config {
	return Config{DedupWindow: DefaultDedupWindow}
}

// Receiver applies update and mutate messages to a World. Not safe for
// concurrent use.
type Receiver struct {
	world    World
	registry *registry.Registry
	entities *entitymap.Map

	updateTick protocol.Tick
	started    bool

	histories   map[entity.Entity]*ConfirmHistory
	buffered    []*mutateMessage
	seen        dedupWindow
	mutateTicks MutateTicks

	ackUpdate  bool
	ackIndices []protocol.MutateIndex

	stats Stats
}

func NewReceiver(w World, reg *registry.Registry, cfg Config) *Receiver {
	reg.Freeze()
	return &Receiver{
		world:     w,
		registry:  reg,
		entities:  entitymap.New(),
		histories: make(map[entity.Entity]*ConfirmHistory),
		seen:      newDedupWindow(cfg.DedupWindow),
	}
}

func (r *Receiver) Entities() *entitymap.Map {
	return r.entities
}

// UpdateTick is the tick of the last applied update message.
func (r *Receiver) UpdateTick() protocol.Tick {
	return r.updateTick
}

// ConfirmHistory returns the history of a local entity.
func (r *Receiver) ConfirmHistory(local entity.Entity) (*ConfirmHistory, bool) {
	h, ok := r.histories[local]
	return h, ok
}

// MutateTicks reports per-tick completeness when the server tracks mutate
// messages.
func (r *Receiver) MutateTicks() *MutateTicks {
	return &r.mutateTicks
}

func (r *Receiver) Buffered() int {
	return len(r.buffered)
}

func (r *Receiver) Stats() Stats {
	return r.stats
}

// TakeAck returns the pending ack message, or nil when there is nothing to
// ack.
func (r *Receiver) TakeAck() []byte {
	if !r.ackUpdate && len(r.ackIndices) == 0 {
		return nil
	}
	msg := wire.AppendAck(nil, wire.Ack{
		HasUpdate:  r.ackUpdate,
		UpdateTick: r.updateTick,
		Indices:    r.ackIndices,
	})
	r.ackUpdate = false
	r.ackIndices = r.ackIndices[:0]
	return msg
}

// Reset despawns the mirror and forgets all replication state. Used on
// disconnect.
func (r *Receiver) Reset() {
	r.entities.Range(func(_, local entity.Entity) bool {
		r.world.Despawn(local)
		return true
	})
	r.entities.Clear()
	clear(r.histories)
	r.buffered = nil
	r.seen.reset()
	r.mutateTicks.Reset()
	r.updateTick = 0
	r.started = false
	r.ackUpdate = false
	r.ackIndices = r.ackIndices[:0]
}

func (r *Receiver) decodeContext(tick protocol.Tick) *registry.DecodeContext {
	return &registry.DecodeContext{
		Tick: tick,
		MapEntity: func(server entity.Entity) entity.Entity {
			return r.entities.GetOrCreate(server, r.world.Reserve)
		},
	}
}
