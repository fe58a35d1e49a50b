package server

import (
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol"
)

// ClientStats counts what was replicated to one client.
type ClientStats struct {
	EntitiesChanged   uint64 `json:"entities_changed"`
	ComponentsChanged uint64 `json:"components_changed"`
	Mappings          uint64 `json:"mappings"`
	Despawns          uint64 `json:"despawns"`
	Messages          uint64 `json:"messages"`
	Bytes             uint64 `json:"bytes"`
	Acks              uint64 `json:"acks"`
	EventsSent        uint64 `json:"events_sent"`
	EventsReceived    uint64 `json:"events_received"`
}

// ClientSnapshot is a point-in-time view of one client.
type ClientSnapshot struct {
	ID               backend.ClientID `json:"id"`
	Authorized       bool             `json:"authorized"`
	ConnectedAt      time.Time        `json:"connected_at"`
	UpdateTick       protocol.Tick    `json:"update_tick"`
	AckedUpdateTick  protocol.Tick    `json:"acked_update_tick"`
	Entities         int              `json:"entities"`
	PendingMutations int              `json:"pending_mutations"`
	Stats            ClientStats      `json:"stats"`
}

// Snapshot reports every connected client, authorized ones first in
// authorization order.
func (s *Server) Snapshot() []ClientSnapshot {
	out := make([]ClientSnapshot, 0, len(s.clients))
	add := func(c *remoteClient) {
		out = append(out, ClientSnapshot{
			ID:               c.id,
			Authorized:       c.authorized,
			ConnectedAt:      c.connectedAt,
			UpdateTick:       c.ticks.UpdateTick,
			AckedUpdateTick:  c.ticks.AckedUpdateTick,
			Entities:         c.ticks.Entities(),
			PendingMutations: c.ticks.PendingMutations(),
			Stats:            c.stats,
		})
	}
	for _, c := range s.order {
		add(c)
	}
	for _, c := range s.clients {
		if !c.authorized {
			add(c)
		}
	}
	return out
}

func recordSent(ch protocol.Channel, size int) {
	observability.RecordMessageSent(ch.String(), size)
}

func recordAck(kind string) {
	observability.RecordAck(kind)
}
