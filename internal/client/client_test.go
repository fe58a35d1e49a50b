package client

import (
	"errors"
	"testing"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/danmuck/replica/internal/world"
)

func TestConfirmHistoryWindow(t *testing.T) {
	testlog.Start(t)

	h := NewConfirmHistory(10)
	h.Confirm(8)
	if !h.Contains(10) || !h.Contains(8) || h.Contains(9) || h.Contains(11) {
		t.Fatalf("unexpected history around last tick")
	}
	if !h.ContainsAny(9, 12) || h.ContainsAny(11, 12) {
		t.Fatalf("unexpected range result")
	}
	h.SetLastTick(80)
	if h.Contains(79) || !h.Contains(80) {
		t.Fatalf("unexpected history after a long jump")
	}
	if !h.Contains(10) {
		t.Fatalf("ticks older than the window count as confirmed")
	}
	h.SetLastTick(70)
	if h.LastTick() != 80 || !h.Contains(70) {
		t.Fatalf("older SetLastTick should only confirm")
	}
}

func TestConfirmHistoryAcrossWrap(t *testing.T) {
	testlog.Start(t)

	h := NewConfirmHistory(protocol.Tick(^uint32(0)))
	h.SetLastTick(1)
	if h.LastTick() != 1 || !h.Contains(protocol.Tick(^uint32(0))) || h.Contains(0) {
		t.Fatalf("unexpected history across wrap")
	}
}

func TestMutateTicksCompleteness(t *testing.T) {
	testlog.Start(t)

	var m MutateTicks
	if m.Confirm(5, 2) {
		t.Fatalf("tick 5 should need two messages")
	}
	if m.Contains(5) {
		t.Fatalf("tick 5 incomplete")
	}
	if !m.Confirm(5, 2) || !m.Contains(5) {
		t.Fatalf("tick 5 should be complete")
	}
	if !m.Confirm(6, 1) || m.LastTick() != 6 {
		t.Fatalf("unexpected tick 6")
	}
	m.Confirm(200, 1)
	if m.Contains(5) {
		t.Fatalf("old ticks fall out of the window")
	}
	m.Reset()
	if m.Contains(200) {
		t.Fatalf("expected empty after reset")
	}
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	testlog.Start(t)

	d := newDedupWindow(2)
	a, b, c := mutateKey{index: 1, tick: 1}, mutateKey{index: 2, tick: 1}, mutateKey{index: 1, tick: 9}
	d.add(a)
	d.add(b)
	d.add(c)
	if d.contains(a) || !d.contains(b) || !d.contains(c) {
		t.Fatalf("unexpected window contents")
	}
}

func TestClientConvergesOverLossyLoopback(t *testing.T) {
	testlog.Start(t)

	conditioner := backend.NewLinkConditioner(7, 0.2, 0.1, 0.2)
	lb := backend.NewLoopback(1200, conditioner)
	serverWorld := world.New()
	srv := server.New(serverWorld, demo.Registry(), server.DefaultConfig())
	sim := demo.NewSim(serverWorld, 12, 42)
	sim.RespawnEvery = 30

	clientWorld := world.New()
	c := New(lb.Connect(), NewReceiver(clientWorld, demo.Registry(), DefaultConfig()), srv.ProtocolHash())
	send := server.SendTo(lb, nil)

	run := func(steps int, simulate bool) {
		for i := 0; i < steps; i++ {
			srv.Poll(lb, nil)
			if simulate {
				sim.Step(srv.Tick().Next())
			}
			if err := srv.Step(send); err != nil {
				t.Fatalf("server step: %v", err)
			}
			if err := c.Step(); err != nil {
				t.Fatalf("client step: %v", err)
			}
		}
	}
	run(200, true)
	run(60, false)

	if srv.Clients() != 1 {
		t.Fatalf("expected client to stay connected")
	}
	replicated := 0
	serverWorld.Replicated(func(e entity.Entity) {
		replicated++
		local, ok := c.Receiver().Entities().ToClient(e)
		if !ok {
			t.Fatalf("entity %v missing on client", e)
		}
		for _, id := range []world.ComponentID{demo.PositionID, demo.VelocityID, demo.LabelID} {
			want, has := serverWorld.Get(e, id)
			got, gotHas := clientWorld.Get(local, id)
			if has != gotHas || want != got {
				t.Fatalf("entity %v component %d diverged want=%v got=%v", e, id, want, got)
			}
		}
	})
	if replicated != c.Receiver().Entities().Len() || clientWorld.Len() != replicated {
		t.Fatalf("unexpected mirror size map=%d world=%d want=%d", c.Receiver().Entities().Len(), clientWorld.Len(), replicated)
	}
	if c.Receiver().Stats().Duplicates == 0 {
		t.Fatalf("expected the conditioner to duplicate some messages")
	}
}

func TestClientDisconnectsOnMalformedUpdate(t *testing.T) {
	testlog.Start(t)

	lb := backend.NewLoopback(0, nil)
	transport := lb.Connect()
	clientWorld := world.New()
	c := New(transport, NewReceiver(clientWorld, demo.Registry(), DefaultConfig()), 1)

	if err := c.Step(); err != nil {
		t.Fatalf("first step: %v", err)
	}
	in := lb.Receive()
	if len(in) != 1 || in[0].Channel != protocol.ChannelHandshake {
		t.Fatalf("expected handshake, got %v", in)
	}

	_ = lb.Send(transport.ID(), protocol.ChannelUpdates, []byte{byte(protocol.UpdateChanges)})
	if err := c.Step(); !errors.Is(err, ErrDisconnected) || !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected disconnect on truncated update, got %v", err)
	}
	if transport.Connected() {
		t.Fatalf("expected transport to be closed")
	}
}
