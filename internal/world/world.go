// Package world is the in-memory entity/component store the replication
// engine reads changes from on the server and writes the mirror into on the
// client.
package world

import (
	"errors"
	"sort"

	"github.com/danmuck/replica/internal/entity"
)

var (
	ErrNoEntity    = errors.New("world: entity does not exist")
	ErrNoComponent = errors.New("world: component not present")
)

// ComponentID names a component type in storage.
type ComponentID uint16

// ChangeTick is the storage change counter. It never wraps in practice.
type ChangeTick uint64

// ComponentInfo is one component on an entity with its change ticks.
type ComponentInfo struct {
	ID      ComponentID
	Value   any
	Added   ChangeTick
	Changed ChangeTick
}

// AddedSince reports an insert after since, up to and including now.
func (c ComponentInfo) AddedSince(since, now ChangeTick) bool {
	return c.Added > since && c.Added <= now
}

func (c ComponentInfo) ChangedSince(since, now ChangeTick) bool {
	return c.Changed > since && c.Changed <= now
}

type record struct {
	components map[ComponentID]*ComponentInfo
	replicated bool
	markedAt   ChangeTick
	reserved   bool
}

type (
	DespawnHook func(e entity.Entity)
	RemoveHook  func(e entity.Entity, id ComponentID)
)

// World stores entities and components. Not safe for concurrent use; the
// replication step owns it for the duration of a step.
type World struct {
	alloc    entity.Allocator
	entities map[entity.Entity]*record
	tick     ChangeTick

	onDespawn []DespawnHook
	onRemove  []RemoveHook
}

func New() *World {
	return &World{
		entities: make(map[entity.Entity]*record),
		tick:     1,
	}
}

// ChangeTick is the tick new writes are stamped with.
func (w *World) ChangeTick() ChangeTick {
	return w.tick
}

// AdvanceChangeTick moves writes after this call past every tick observed so
// far.
func (w *World) AdvanceChangeTick() ChangeTick {
	w.tick++
	return w.tick
}

func (w *World) OnDespawn(h DespawnHook) {
	w.onDespawn = append(w.onDespawn, h)
}

func (w *World) OnRemove(h RemoveHook) {
	w.onRemove = append(w.onRemove, h)
}

func (w *World) Spawn() entity.Entity {
	e := w.alloc.Alloc()
	w.entities[e] = &record{components: make(map[ComponentID]*ComponentInfo)}
	return e
}

// Reserve allocates an id without materializing the entity. The first
// insert or SetReplicated materializes it.
func (w *World) Reserve() entity.Entity {
	e := w.alloc.Alloc()
	w.entities[e] = &record{components: make(map[ComponentID]*ComponentInfo), reserved: true}
	return e
}

func (w *World) IsReserved(e entity.Entity) bool {
	rec, ok := w.entities[e]
	return ok && rec.reserved
}

func (w *World) Contains(e entity.Entity) bool {
	_, ok := w.entities[e]
	return ok
}

func (w *World) Len() int {
	return len(w.entities)
}

// Despawn removes e and its components. Hooks see the entity after its
// components are gone.
func (w *World) Despawn(e entity.Entity) bool {
	if _, ok := w.entities[e]; !ok {
		return false
	}
	delete(w.entities, e)
	w.alloc.Free(e)
	for _, h := range w.onDespawn {
		h(e)
	}
	return true
}

// SetReplicated marks e for replication.
func (w *World) SetReplicated(e entity.Entity) error {
	rec, ok := w.entities[e]
	if !ok {
		return ErrNoEntity
	}
	rec.reserved = false
	if !rec.replicated {
		rec.replicated = true
		rec.markedAt = w.tick
	}
	return nil
}

func (w *World) IsReplicated(e entity.Entity) bool {
	rec, ok := w.entities[e]
	return ok && rec.replicated
}

// MarkedSince reports whether the replication marker was added in (since, now].
func (w *World) MarkedSince(e entity.Entity, since, now ChangeTick) bool {
	rec, ok := w.entities[e]
	return ok && rec.replicated && rec.markedAt > since && rec.markedAt <= now
}

// Insert adds or replaces a component. Replacing counts as a change, not an
// insert.
func (w *World) Insert(e entity.Entity, id ComponentID, value any) error {
	rec, ok := w.entities[e]
	if !ok {
		return ErrNoEntity
	}
	rec.reserved = false
	if c, ok := rec.components[id]; ok {
		c.Value = value
		c.Changed = w.tick
		return nil
	}
	rec.components[id] = &ComponentInfo{ID: id, Value: value, Added: w.tick, Changed: w.tick}
	return nil
}

// Mutate replaces a present component's value and stamps it changed.
func (w *World) Mutate(e entity.Entity, id ComponentID, value any) error {
	rec, ok := w.entities[e]
	if !ok {
		return ErrNoEntity
	}
	c, ok := rec.components[id]
	if !ok {
		return ErrNoComponent
	}
	c.Value = value
	c.Changed = w.tick
	return nil
}

func (w *World) Remove(e entity.Entity, id ComponentID) bool {
	rec, ok := w.entities[e]
	if !ok {
		return false
	}
	if _, ok := rec.components[id]; !ok {
		return false
	}
	delete(rec.components, id)
	for _, h := range w.onRemove {
		h(e, id)
	}
	return true
}

func (w *World) Get(e entity.Entity, id ComponentID) (any, bool) {
	rec, ok := w.entities[e]
	if !ok {
		return nil, false
	}
	c, ok := rec.components[id]
	if !ok {
		return nil, false
	}
	return c.Value, true
}

func (w *World) Has(e entity.Entity, id ComponentID) bool {
	_, ok := w.Get(e, id)
	return ok
}

// Replicated calls fn for every replicated entity in index order.
func (w *World) Replicated(fn func(e entity.Entity)) {
	for _, e := range w.sorted(func(rec *record) bool { return rec.replicated }) {
		fn(e)
	}
}

// Entities calls fn for every entity, reserved ones included, in index order.
func (w *World) Entities(fn func(e entity.Entity)) {
	for _, e := range w.sorted(nil) {
		fn(e)
	}
}

// Components calls fn for each component on e in id order.
func (w *World) Components(e entity.Entity, fn func(c ComponentInfo)) {
	rec, ok := w.entities[e]
	if !ok {
		return
	}
	ids := make([]ComponentID, 0, len(rec.components))
	for id := range rec.components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fn(*rec.components[id])
	}
}

func (w *World) sorted(keep func(*record) bool) []entity.Entity {
	out := make([]entity.Entity, 0, len(w.entities))
	for e, rec := range w.entities {
		if keep == nil || keep(rec) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
