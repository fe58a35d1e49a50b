package client

import (
	"fmt"
	"sort"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

type entityChunk struct {
	server entity.Entity
	data   []byte
}

type mutateMessage struct {
	updateTick  protocol.Tick
	messageTick protocol.Tick
	index       protocol.MutateIndex
	tracked     bool
	total       int
	entities    []entityChunk
	size        int
}

func parseMutate(msg []byte) (mutateMessage, error) {
	rd := wire.NewReader(msg)
	raw, err := rd.U8()
	if err != nil {
		return mutateMessage{}, err
	}
	flags := protocol.MutateFlags(raw)
	if flags&^protocol.MutateTracked != 0 {
		return mutateMessage{}, fmt.Errorf("%w: mutate flags=%08b", protocol.ErrMalformed, raw)
	}
	m := mutateMessage{size: len(msg), tracked: flags&protocol.MutateTracked != 0}
	if m.updateTick, err = rd.Tick(); err != nil {
		return mutateMessage{}, err
	}
	if m.messageTick, err = rd.Tick(); err != nil {
		return mutateMessage{}, err
	}
	if m.tracked {
		total, err := rd.Uvarint()
		if err != nil {
			return mutateMessage{}, err
		}
		if total == 0 || total > 1<<16 {
			return mutateMessage{}, fmt.Errorf("%w: mutate messages count=%d", protocol.ErrMalformed, total)
		}
		m.total = int(total)
	}
	if m.index, err = rd.MutateIndex(); err != nil {
		return mutateMessage{}, err
	}
	for !rd.Empty() {
		server, err := rd.Entity()
		if err != nil {
			return mutateMessage{}, err
		}
		size, err := rd.Len()
		if err != nil {
			return mutateMessage{}, err
		}
		data, err := rd.Bytes(size)
		if err != nil {
			return mutateMessage{}, err
		}
		m.entities = append(m.entities, entityChunk{server: server, data: data})
	}
	return m, nil
}

// ApplyMutate applies one mutate message, or buffers it until the update it
// depends on is applied. Duplicates and stale entities are dropped quietly.
func (r *Receiver) ApplyMutate(msg []byte) error {
	m, err := parseMutate(msg)
	if err != nil {
		return err
	}
	key := mutateKey{index: m.index, tick: m.messageTick}
	if r.seen.contains(key) {
		log.Debug().Msgf("client.ApplyMutate duplicate index=%d tick=%d", m.index, m.messageTick)
		r.stats.Duplicates++
		observability.RecordMessageReceived(protocol.ChannelMutations.String(), "duplicate")
		return nil
	}
	r.seen.add(key)
	if m.tracked {
		r.mutateTicks.Confirm(m.messageTick, m.total)
	}

	if !r.started || m.updateTick.Greater(r.updateTick) {
		// chunks alias msg, which the backend may reuse
		for i := range m.entities {
			m.entities[i].data = append([]byte(nil), m.entities[i].data...)
		}
		r.buffered = append(r.buffered, &m)
		r.stats.Buffered++
		observability.RecordMessageReceived(protocol.ChannelMutations.String(), "buffered")
		return nil
	}
	return r.applyMutateMessage(m)
}

func (r *Receiver) applyMutateMessage(m mutateMessage) error {
	for _, chunk := range m.entities {
		if err := r.applyEntityMutations(chunk, m.messageTick); err != nil {
			return err
		}
	}
	r.ackIndices = append(r.ackIndices, m.index)
	r.stats.Messages++
	r.stats.Bytes += uint64(m.size)
	observability.RecordMessageReceived(protocol.ChannelMutations.String(), "applied")
	return nil
}

func (r *Receiver) applyEntityMutations(chunk entityChunk, tick protocol.Tick) error {
	local, ok := r.entities.ToClient(chunk.server)
	if !ok {
		log.Debug().Msgf("client.applyEntityMutations unknown server=%v", chunk.server)
		return nil
	}
	history, ok := r.histories[local]
	if !ok {
		history = NewConfirmHistory(tick)
		r.histories[local] = history
	} else if !tick.Greater(history.LastTick()) {
		// a newer state of this entity was already applied
		history.Confirm(tick)
		return nil
	} else {
		history.SetLastTick(tick)
	}

	rd := wire.NewReader(chunk.data)
	ctx := r.decodeContext(tick)
	components := 0
	for !rd.Empty() {
		if err := r.applyComponent(rd, local, ctx); err != nil {
			return err
		}
		components++
	}
	r.stats.EntitiesChanged++
	r.stats.ComponentsChanged += uint64(components)
	return nil
}

// applyBuffered applies every buffered message whose update has arrived,
// oldest first.
func (r *Receiver) applyBuffered() error {
	if len(r.buffered) == 0 {
		return nil
	}
	sort.SliceStable(r.buffered, func(i, j int) bool {
		a, b := r.buffered[i], r.buffered[j]
		if a.updateTick != b.updateTick {
			return a.updateTick.Less(b.updateTick)
		}
		return a.messageTick.Less(b.messageTick)
	})
	kept := r.buffered[:0]
	var ready []*mutateMessage
	for _, b := range r.buffered {
		if b.updateTick.Greater(r.updateTick) {
			kept = append(kept, b)
		} else {
			ready = append(ready, b)
		}
	}
	r.buffered = kept
	for _, b := range ready {
		if err := r.applyMutateMessage(*b); err != nil {
			return err
		}
	}
	return nil
}

// evictBuffered drops buffered data of a despawned server entity.
func (r *Receiver) evictBuffered(server entity.Entity) {
	for _, b := range r.buffered {
		kept := b.entities[:0]
		for _, chunk := range b.entities {
			if chunk.server != server {
				kept = append(kept, chunk)
			}
		}
		b.entities = kept
	}
}

func wireTrailing(rd *wire.Reader) error {
	return fmt.Errorf("%w: %d trailing bytes", protocol.ErrMalformed, rd.Remaining())
}
