package server

import (
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/world"
)

// despawnBuffer collects replicated entities despawned since the last step.
type despawnBuffer struct {
	entities []entity.Entity
}

func (b *despawnBuffer) add(e entity.Entity) {
	b.entities = append(b.entities, e)
}

func (b *despawnBuffer) reset() {
	b.entities = b.entities[:0]
}

// removalBuffer collects replicated component removals per entity, in the
// order entities first lost a component.
type removalBuffer struct {
	order []entity.Entity
	ids   map[entity.Entity][]registry.FnsID
}

func newRemovalBuffer() removalBuffer {
	return removalBuffer{ids: make(map[entity.Entity][]registry.FnsID)}
}

func (b *removalBuffer) add(e entity.Entity, fns registry.FnsID) {
	ids, ok := b.ids[e]
	if !ok {
		b.order = append(b.order, e)
	}
	b.ids[e] = append(ids, fns)
}

func (b *removalBuffer) has(e entity.Entity) bool {
	_, ok := b.ids[e]
	return ok
}

// drop forgets removals of an entity that was despawned in the same step.
func (b *removalBuffer) drop(e entity.Entity) {
	if _, ok := b.ids[e]; !ok {
		return
	}
	delete(b.ids, e)
	kept := b.order[:0]
	for _, o := range b.order {
		if o != e {
			kept = append(kept, o)
		}
	}
	b.order = kept
}

func (b *removalBuffer) each(fn func(e entity.Entity, ids []registry.FnsID) error) error {
	for _, e := range b.order {
		if err := fn(e, b.ids[e]); err != nil {
			return err
		}
	}
	return nil
}

func (b *removalBuffer) reset() {
	b.order = b.order[:0]
	clear(b.ids)
}

// watch wires the buffers to storage hooks. Only replicated entities and
// registered components are recorded.
func (s *Server) watch(w *world.World) {
	w.OnDespawn(func(e entity.Entity) {
		if _, ok := s.known[e]; !ok {
			return
		}
		delete(s.known, e)
		s.removals.drop(e)
		s.despawns.add(e)
	})
	w.OnRemove(func(e entity.Entity, id world.ComponentID) {
		if !w.IsReplicated(e) {
			return
		}
		fns, _, ok := s.registry.Lookup(id)
		if !ok {
			return
		}
		s.removals.add(e, fns)
	})
}
