package server

import (
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/serialized"
)

// ClientEntityMap queues predictive spawn registrations for one client:
// a server entity paired with the entity the client already spawned
// locally. Pairs ride the next update message and are dropped once written,
// since the updates channel is reliable and ordered.
type ClientEntityMap struct {
	pending []serialized.Mapping
}

func (m *ClientEntityMap) Insert(server, client entity.Entity) {
	m.pending = append(m.pending, serialized.Mapping{Server: server, Client: client})
}

func (m *ClientEntityMap) Len() int {
	return len(m.pending)
}

func (m *ClientEntityMap) drain() []serialized.Mapping {
	out := m.pending
	m.pending = nil
	return out
}
