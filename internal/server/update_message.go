package server

import (
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/serialized"
)

type removal struct {
	entity serialized.Range
	idsLen int
	ids    serialized.Range
}

// UpdateMessage accumulates one client's structural facts for a step.
//
// Wire layout:
//
//	flags u8 | tick u32le | [mappings] [despawns] [removals] [changes]
//
// Each present section is prefixed by a uvarint count except the last one,
// which runs to the end of the message.
type UpdateMessage struct {
	mappings    serialized.Range
	mappingsLen int

	despawns    []serialized.Range
	despawnsLen int

	removals []removal

	changes []serialized.ComponentChanges

	entity        func() serialized.Range
	entityWritten bool
}

// SetMappings sets the mappings section to n pairs written at r.
func (u *UpdateMessage) SetMappings(r serialized.Range, n int) {
	u.mappings = r
	u.mappingsLen = n
}

// AddDespawn appends a despawned entity, merging ranges that are adjacent
// in the buffer.
func (u *UpdateMessage) AddDespawn(r serialized.Range) {
	u.despawnsLen++
	if n := len(u.despawns); n > 0 && u.despawns[n-1].End == r.Start {
		u.despawns[n-1].End = r.End
		return
	}
	u.despawns = append(u.despawns, r)
}

// AddRemovals records idsLen removed fns ids for one entity.
func (u *UpdateMessage) AddRemovals(entity serialized.Range, idsLen int, ids serialized.Range) {
	u.removals = append(u.removals, removal{entity: entity, idsLen: idsLen, ids: ids})
}

// StartEntityChanges begins an entity. Its range is resolved lazily so
// entities no client needs are never written.
func (u *UpdateMessage) StartEntityChanges(entity func() serialized.Range) {
	u.entity = entity
	u.entityWritten = false
}

// EntityWritten reports whether the current entity has a changes entry.
func (u *UpdateMessage) EntityWritten() bool {
	return u.entityWritten
}

func (u *UpdateMessage) ensureEntity() *serialized.ComponentChanges {
	if !u.entityWritten {
		u.changes = append(u.changes, serialized.NewComponentChanges(u.entity()))
		u.entityWritten = true
	}
	return &u.changes[len(u.changes)-1]
}

// AddChangedComponent adds a component to the current entity, writing the
// entity entry on first use.
func (u *UpdateMessage) AddChangedComponent(r serialized.Range) {
	u.ensureEntity().Add(r)
}

// AddEmptyEntity writes the current entity with no components so the client
// spawns it.
func (u *UpdateMessage) AddEmptyEntity() {
	u.ensureEntity()
}

// TakeMutations moves the current entity's pending mutations into this
// message so the entity's state arrives atomically on the reliable channel.
func (u *UpdateMessage) TakeMutations(m *Mutations) {
	pending := m.takeCurrent()
	if pending.Len() == 0 {
		return
	}
	u.ensureEntity().AddAll(pending)
}

// Flags has one bit per non-empty section.
func (u *UpdateMessage) Flags() protocol.UpdateFlags {
	var flags protocol.UpdateFlags
	if u.mappingsLen > 0 {
		flags |= protocol.UpdateMappings
	}
	if u.despawnsLen > 0 {
		flags |= protocol.UpdateDespawns
	}
	if len(u.removals) > 0 {
		flags |= protocol.UpdateRemovals
	}
	if len(u.changes) > 0 {
		flags |= protocol.UpdateChanges
	}
	return flags
}

func (u *UpdateMessage) IsEmpty() bool {
	return u.Flags() == 0
}

// Counts reports the logical size of each section.
func (u *UpdateMessage) Counts() (mappings, despawns, removals, changes int) {
	return u.mappingsLen, u.despawnsLen, len(u.removals), len(u.changes)
}

// Components is the total number of component payloads in the changes
// section.
func (u *UpdateMessage) Components() int {
	n := 0
	for _, c := range u.changes {
		n += c.Len()
	}
	return n
}

// Encode appends the message to dst. tick is a range holding the encoded
// tick in buf.
func (u *UpdateMessage) Encode(dst []byte, buf *serialized.Buffer, tick serialized.Range) []byte {
	flags := u.Flags()
	last := flags.Last()
	dst = append(dst, byte(flags))
	dst = append(dst, buf.Slice(tick)...)

	count := func(section protocol.UpdateFlags, n int) {
		if section != last {
			dst = wire.AppendUvarint(dst, uint64(n))
		}
	}

	if flags.Has(protocol.UpdateMappings) {
		count(protocol.UpdateMappings, u.mappingsLen)
		dst = append(dst, buf.Slice(u.mappings)...)
	}
	if flags.Has(protocol.UpdateDespawns) {
		count(protocol.UpdateDespawns, u.despawnsLen)
		for _, r := range u.despawns {
			dst = append(dst, buf.Slice(r)...)
		}
	}
	if flags.Has(protocol.UpdateRemovals) {
		count(protocol.UpdateRemovals, len(u.removals))
		for _, rm := range u.removals {
			dst = append(dst, buf.Slice(rm.entity)...)
			dst = wire.AppendUvarint(dst, uint64(rm.idsLen))
			dst = append(dst, buf.Slice(rm.ids)...)
		}
	}
	if flags.Has(protocol.UpdateChanges) {
		count(protocol.UpdateChanges, len(u.changes))
		for _, c := range u.changes {
			dst = append(dst, buf.Slice(c.Entity)...)
			dst = wire.AppendUvarint(dst, uint64(c.Len()))
			dst = c.AppendTo(dst, buf)
		}
	}
	return dst
}

func (u *UpdateMessage) Reset() {
	u.mappings = serialized.Range{}
	u.mappingsLen = 0
	u.despawns = u.despawns[:0]
	u.despawnsLen = 0
	u.removals = u.removals[:0]
	u.changes = u.changes[:0]
	u.entity = nil
	u.entityWritten = false
}
