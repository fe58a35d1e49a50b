package client

import (
	"fmt"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

// UseEvents enables application events. r must carry the same events as
// the server's, registered before the protocol hash was taken.
func (c *Client) UseEvents(r *event.Registry) {
	r.Freeze()
	c.events = r
}

// SendEvent sends ev to the server. Local entities in the event are
// translated to server ids; entities the server never replicated are sent
// unchanged.
func (c *Client) SendEvent(ev event.Event) error {
	if c.events == nil {
		return fmt.Errorf("client.SendEvent: %w: events not enabled", protocol.ErrUnknownEvent)
	}
	if !c.transport.Connected() || !c.handshaken {
		return protocol.ErrNotConnected
	}
	entities := c.receiver.Entities()
	body, err := c.events.Encode(nil, ev, &event.EncodeContext{
		MapEntity: func(local entity.Entity) entity.Entity {
			if server, ok := entities.ToServer(local); ok {
				return server
			}
			log.Debug().Msgf("client.SendEvent unmapped entity=%v", local)
			return local
		},
	})
	if err != nil {
		return err
	}
	return c.transport.Send(protocol.ChannelClientEvents, body)
}

// TakeEvents returns the server events applied since the last call.
func (c *Client) TakeEvents() []event.Event {
	out := c.received
	c.received = nil
	return out
}

// PendingEvents is the number of server events waiting for their update.
func (c *Client) PendingEvents() int {
	return c.queue.Len()
}

func (c *Client) queueEvent(msg []byte) error {
	if c.events == nil {
		return fmt.Errorf("%w: %s without events enabled", protocol.ErrUnknownChannel, protocol.ChannelServerEvents)
	}
	tick, body, err := event.ReadServerEventTick(msg)
	if err != nil {
		return err
	}
	c.queue.Insert(tick, body)
	return nil
}

// drainEvents decodes every queued event whose update has been applied.
func (c *Client) drainEvents() error {
	if c.events == nil {
		return nil
	}
	for {
		tick, body, ok := c.queue.PopReady(c.receiver.UpdateTick())
		if !ok {
			return nil
		}
		ev, err := c.events.Decode(wire.NewReader(body), c.receiver.decodeContext(tick))
		if err != nil {
			return err
		}
		c.received = append(c.received, ev)
	}
}
