package server

import (
	"context"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Recorder receives every message crossing the backend, e.g. a capture
// writer.
type Recorder interface {
	RecordOutbound(client backend.ClientID, ch protocol.Channel, msg []byte) error
	RecordInbound(client backend.ClientID, ch protocol.Channel, msg []byte) error
}

type RunOptions struct {
	TickRate time.Duration
	// Simulate mutates the world before each replication step.
	Simulate func(tick protocol.Tick)
	// OnStep observes the client snapshot after each step.
	OnStep   func(snapshot []ClientSnapshot)
	Recorder Recorder
}

// Poll drains connection events and client messages from t. Clients whose
// messages fail are disconnected.
func (s *Server) Poll(t backend.ServerTransport, rec Recorder) {
	for _, ev := range t.Events() {
		switch ev.Kind {
		case backend.Connected:
			size := t.MaxMessageSize(ev.Client, protocol.ChannelMutations)
			if err := s.Connect(ev.Client, size); err != nil {
				log.Warn().Msgf("server.Poll connect client=%s err=%v", ev.Client, err)
			}
		case backend.Disconnected:
			if ev.Err != nil {
				log.Debug().Msgf("server.Poll disconnect client=%s err=%v", ev.Client, ev.Err)
			}
			s.Disconnect(ev.Client)
		}
	}
	for _, p := range t.Receive() {
		if rec != nil {
			if err := rec.RecordInbound(p.Client, p.Channel, p.Payload); err != nil {
				log.Warn().Msgf("server.Poll record err=%v", err)
			}
		}
		if err := s.HandleMessage(p.Client, p.Channel, p.Payload); err != nil {
			log.Error().Msgf("server.Poll client=%s channel=%s err=%v", p.Client, p.Channel, err)
			s.Disconnect(p.Client)
			if err := t.Disconnect(p.Client); err != nil {
				log.Debug().Msgf("server.Poll backend disconnect client=%s err=%v", p.Client, err)
			}
		}
	}
	observability.SetClients(s.Clients())
}

// SendTo adapts a backend to a SendFunc, recording each message when rec is
// set.
func SendTo(t backend.ServerTransport, rec Recorder) SendFunc {
	return func(client backend.ClientID, ch protocol.Channel, msg []byte) error {
		if rec != nil {
			if err := rec.RecordOutbound(client, ch, msg); err != nil {
				log.Warn().Msgf("server.SendTo record err=%v", err)
			}
		}
		return t.Send(client, ch, msg)
	}
}

// Run polls t, simulates and replicates once per tick until ctx is done.
func (s *Server) Run(ctx context.Context, t backend.ServerTransport, opts RunOptions) error {
	if opts.TickRate <= 0 {
		opts.TickRate = time.Second / 60
	}
	send := SendTo(t, opts.Recorder)
	ticker := time.NewTicker(opts.TickRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		start := time.Now()
		s.Poll(t, opts.Recorder)
		if opts.Simulate != nil {
			opts.Simulate(s.tick.Next())
		}
		if err := s.Step(send); err != nil {
			return err
		}
		for _, id := range s.Dropped() {
			if err := t.Disconnect(id); err != nil {
				log.Debug().Msgf("server.Run backend disconnect client=%s err=%v", id, err)
			}
		}
		observability.ObserveStep(time.Since(start))
		if opts.OnStep != nil {
			opts.OnStep(s.Snapshot())
		}
	}
}
