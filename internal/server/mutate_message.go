package server

import (
	"fmt"
	"time"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/serialized"
	"github.com/danmuck/replica/internal/world"
)

// mutateHeaderLen is flags + update tick + server tick + mutate index.
const mutateHeaderLen = 1 + 4 + 4 + 2

type entityMutations struct {
	entity  entity.Entity
	changes serialized.ComponentChanges
}

func (m entityMutations) size() int {
	size := m.changes.Size()
	return m.changes.Entity.Len() + wire.UvarintLen(uint64(size)) + size
}

// Mutations accumulates one client's value changes for a step. They are
// split into mutate messages on send.
//
// Wire layout of each message:
//
//	flags u8 | update_tick u32le | server_tick u32le | [messages uvarint] | index u16le
//	{ entity | components_size uvarint | components }...
type Mutations struct {
	entities     []entityMutations
	current      entityMutations
	currentRange func() serialized.Range
	started      bool
}

// StartEntity begins collecting e. Pending data of the previous entity is
// discarded unless FinishEntity or takeCurrent consumed it.
func (m *Mutations) StartEntity(e entity.Entity, entityRange func() serialized.Range) {
	m.current = entityMutations{entity: e}
	m.started = false
	m.currentRange = entityRange
}

// Add appends a component change to the current entity.
func (m *Mutations) Add(r serialized.Range) {
	if !m.started {
		m.current.changes = serialized.NewComponentChanges(m.currentRange())
		m.started = true
	}
	m.current.changes.Add(r)
}

// FinishEntity keeps the current entity if it has anything to send.
func (m *Mutations) FinishEntity() {
	if m.started && m.current.changes.Len() > 0 {
		m.entities = append(m.entities, m.current)
	}
	m.current = entityMutations{}
	m.started = false
}

func (m *Mutations) takeCurrent() serialized.ComponentChanges {
	out := m.current.changes
	m.current = entityMutations{}
	m.started = false
	return out
}

func (m *Mutations) IsEmpty() bool {
	return len(m.entities) == 0
}

func (m *Mutations) Entities() int {
	return len(m.entities)
}

func (m *Mutations) Components() int {
	n := 0
	for _, em := range m.entities {
		n += em.changes.Len()
	}
	return n
}

func (m *Mutations) Reset() {
	m.entities = m.entities[:0]
	m.current = entityMutations{}
	m.started = false
	m.currentRange = nil
}

// mutateBatch is the contiguous run of entities packed into one message.
type mutateBatch struct {
	from, to int
}

// split packs entities greedily into messages of at most maxSize bytes.
func (m *Mutations) split(maxSize, headerLen int) ([]mutateBatch, error) {
	budget := maxSize - headerLen
	var batches []mutateBatch
	start, used := 0, 0
	for i, em := range m.entities {
		size := em.size()
		if size > budget {
			return nil, fmt.Errorf("%w: entity=%v size=%d budget=%d", protocol.ErrEntityTooLarge, em.entity, size, budget)
		}
		if used+size > budget {
			batches = append(batches, mutateBatch{from: start, to: i})
			start, used = i, 0
		}
		used += size
	}
	if start < len(m.entities) {
		batches = append(batches, mutateBatch{from: start, to: len(m.entities)})
	}
	return batches, nil
}

// mutateSend carries the per-client inputs of Encode.
type mutateSend struct {
	updateTick protocol.Tick
	serverTick protocol.Tick
	changeTick world.ChangeTick
	now        time.Time
	maxSize    int
	track      bool
}

// Encode splits the mutations into messages, registering each with ticks
// so acks can raise the client's baseline.
func (m *Mutations) Encode(buf *serialized.Buffer, ticks *ClientTicks, in mutateSend) ([][]byte, error) {
	if m.IsEmpty() {
		return nil, nil
	}
	headerLen := mutateHeaderLen
	var flags protocol.MutateFlags
	if in.track {
		flags |= protocol.MutateTracked
		// upper bound: a batch holds at least one entity
		headerLen += wire.UvarintLen(uint64(len(m.entities)))
	}
	batches, err := m.split(in.maxSize, headerLen)
	if err != nil {
		return nil, err
	}

	messages := make([][]byte, 0, len(batches))
	for _, batch := range batches {
		entities := make([]entity.Entity, 0, batch.to-batch.from)
		for _, em := range m.entities[batch.from:batch.to] {
			entities = append(entities, em.entity)
		}
		index, err := ticks.RegisterMutateMessage(MutateInfo{
			Tick:       in.changeTick,
			ServerTick: in.serverTick,
			Sent:       in.now,
			Entities:   entities,
		})
		if err != nil {
			return messages, err
		}

		msg := make([]byte, 0, in.maxSize)
		msg = append(msg, byte(flags))
		msg = wire.AppendTick(msg, in.updateTick)
		msg = wire.AppendTick(msg, in.serverTick)
		if in.track {
			msg = wire.AppendUvarint(msg, uint64(len(batches)))
		}
		msg = wire.AppendMutateIndex(msg, index)
		for _, em := range m.entities[batch.from:batch.to] {
			msg = append(msg, buf.Slice(em.changes.Entity)...)
			msg = wire.AppendUvarint(msg, uint64(em.changes.Size()))
			msg = em.changes.AppendTo(msg, buf)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
