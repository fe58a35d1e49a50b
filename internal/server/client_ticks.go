package server

import (
	"fmt"
	"time"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/world"
)

// MutateInfo is what the server remembers about one sent mutate message
// until it is acked or times out.
type MutateInfo struct {
	// Tick is the storage tick the mutations were read at.
	Tick       world.ChangeTick
	ServerTick protocol.Tick
	Sent       time.Time
	Entities   []entity.Entity
}

// ClientTicks is the per-client ack baseline.
type ClientTicks struct {
	mutationTicks map[entity.Entity]world.ChangeTick
	mutations     map[protocol.MutateIndex]*MutateInfo
	nextIndex     protocol.MutateIndex

	// UpdateTick is the tick of the last update message sent.
	UpdateTick protocol.Tick
	// AckedUpdateTick is the newest update tick the client confirmed. It is
	// diagnostics only: snapshots report it and nothing is gated on it.
	AckedUpdateTick protocol.Tick
	updateAcked     bool
}

func NewClientTicks() ClientTicks {
	return ClientTicks{
		mutationTicks: make(map[entity.Entity]world.ChangeTick),
		mutations:     make(map[protocol.MutateIndex]*MutateInfo),
	}
}

// MutationTick is the storage tick the client is known to hold e at.
func (c *ClientTicks) MutationTick(e entity.Entity) (world.ChangeTick, bool) {
	t, ok := c.mutationTicks[e]
	return t, ok
}

func (c *ClientTicks) SetMutationTick(e entity.Entity, t world.ChangeTick) {
	c.mutationTicks[e] = t
}

func (c *ClientTicks) RemoveEntity(e entity.Entity) {
	delete(c.mutationTicks, e)
}

func (c *ClientTicks) Entities() int {
	return len(c.mutationTicks)
}

// RegisterMutateMessage assigns the next index to info.
func (c *ClientTicks) RegisterMutateMessage(info MutateInfo) (protocol.MutateIndex, error) {
	if _, pending := c.mutations[c.nextIndex]; pending {
		return 0, fmt.Errorf("%w: index=%d pending=%d", protocol.ErrMutateIndexExhausted, c.nextIndex, len(c.mutations))
	}
	index := c.nextIndex.Advance()
	stored := info
	c.mutations[index] = &stored
	return index, nil
}

// AckMutateMessage raises the baseline of every entity in the message to the
// tick it was read at. Unknown or timed out indices are ignored.
func (c *ClientTicks) AckMutateMessage(index protocol.MutateIndex) (*MutateInfo, bool) {
	info, ok := c.mutations[index]
	if !ok {
		return nil, false
	}
	delete(c.mutations, index)
	for _, e := range info.Entities {
		last, known := c.mutationTicks[e]
		if !known {
			// despawned or lost visibility since
			continue
		}
		if info.Tick > last {
			c.mutationTicks[e] = info.Tick
		}
	}
	return info, true
}

// AckUpdateTick records an update ack; older acks are ignored.
func (c *ClientTicks) AckUpdateTick(t protocol.Tick) bool {
	if c.updateAcked && !t.Greater(c.AckedUpdateTick) {
		return false
	}
	c.AckedUpdateTick = t
	c.updateAcked = true
	return true
}

// CleanupOlderMutations drops mutate info sent before cutoff.
func (c *ClientTicks) CleanupOlderMutations(cutoff time.Time) int {
	dropped := 0
	for index, info := range c.mutations {
		if info.Sent.Before(cutoff) {
			delete(c.mutations, index)
			dropped++
		}
	}
	return dropped
}

func (c *ClientTicks) PendingMutations() int {
	return len(c.mutations)
}

func (c *ClientTicks) Reset() {
	clear(c.mutationTicks)
	clear(c.mutations)
	c.nextIndex = 0
	c.UpdateTick = 0
	c.AckedUpdateTick = 0
	c.updateAcked = false
}
