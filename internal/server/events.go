package server

import (
	"fmt"

	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

type outboundEvent struct {
	mode event.SendMode
	body []byte
}

// UseEvents enables application events. The registry must have been built
// against the component registry given to New, before New computed the
// protocol hash.
func (s *Server) UseEvents(r *event.Registry) {
	r.Freeze()
	s.events = r
}

// SendEvent queues ev for the clients selected by mode. Queued events go
// out at the end of the next Step, after that step's update, so entities
// they reference exist on the client when they are applied.
func (s *Server) SendEvent(mode event.SendMode, ev event.Event) error {
	if s.events == nil {
		return fmt.Errorf("server.SendEvent: %w: events not enabled", protocol.ErrUnknownEvent)
	}
	body, err := s.events.Encode(nil, ev, nil)
	if err != nil {
		return err
	}
	s.outbound = append(s.outbound, outboundEvent{mode: mode, body: body})
	return nil
}

// TakeClientEvents returns the events received from clients since the last
// call.
func (s *Server) TakeClientEvents() []event.FromClient {
	out := s.inbound
	s.inbound = nil
	return out
}

// handleClientEvent decodes a client event. Clients send entities already
// translated to server ids, so no mapping applies.
func (s *Server) handleClientEvent(c *remoteClient, msg []byte) error {
	if s.events == nil {
		return fmt.Errorf("%w: %s without events enabled", protocol.ErrUnknownChannel, protocol.ChannelClientEvents)
	}
	ev, err := s.events.Decode(wire.NewReader(msg), nil)
	if err != nil {
		return err
	}
	s.inbound = append(s.inbound, event.FromClient{Client: c.id, Event: ev})
	c.stats.EventsReceived++
	return nil
}

// sendEvents stamps each queued event with the client's update tick.
func (s *Server) sendEvents(send SendFunc) {
	if len(s.outbound) == 0 {
		return
	}
	for _, c := range s.order {
		for _, ev := range s.outbound {
			if !ev.mode.Includes(c.id) {
				continue
			}
			msg := event.AppendServerEvent(make([]byte, 0, 4+len(ev.body)), c.ticks.UpdateTick, ev.body)
			s.deliver(send, c, protocol.ChannelServerEvents, msg)
			c.stats.EventsSent++
		}
	}
	if len(s.order) == 0 {
		log.Debug().Msgf("server.sendEvents dropped=%d no clients", len(s.outbound))
	}
}
