package client

import (
	"errors"
	"testing"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/danmuck/replica/internal/world"
)

// harness connects a server and a receiver without a transport so tests
// control delivery order.
type harness struct {
	t           *testing.T
	server      *server.Server
	serverWorld *world.World
	id          backend.ClientID
	clientWorld *world.World
	receiver    *Receiver

	updates   [][]byte
	mutations [][]byte
}

func newHarness(t *testing.T, cfg server.Config) *harness {
	t.Helper()
	h := &harness{
		t:           t,
		serverWorld: world.New(),
		clientWorld: world.New(),
		id:          backend.NewClientID(),
	}
	h.server = server.New(h.serverWorld, demo.Registry(), cfg)
	h.receiver = NewReceiver(h.clientWorld, demo.Registry(), DefaultConfig())
	if err := h.server.Connect(h.id, 1200); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := h.server.HandleMessage(h.id, protocol.ChannelHandshake, wire.AppendHandshake(nil, h.server.ProtocolHash())); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	return h
}

func (h *harness) step() {
	h.t.Helper()
	err := h.server.Step(func(_ backend.ClientID, ch protocol.Channel, msg []byte) error {
		if ch == protocol.ChannelUpdates {
			h.updates = append(h.updates, msg)
		} else {
			h.mutations = append(h.mutations, msg)
		}
		return nil
	})
	if err != nil {
		h.t.Fatalf("server step: %v", err)
	}
}

func (h *harness) deliverUpdates() {
	h.t.Helper()
	for _, msg := range h.updates {
		if err := h.receiver.ApplyUpdate(msg); err != nil {
			h.t.Fatalf("apply update: %v", err)
		}
	}
	h.updates = nil
}

func (h *harness) deliverMutations() {
	h.t.Helper()
	for _, msg := range h.mutations {
		if err := h.receiver.ApplyMutate(msg); err != nil {
			h.t.Fatalf("apply mutate: %v", err)
		}
	}
	h.mutations = nil
}

func (h *harness) ack() {
	h.t.Helper()
	if msg := h.receiver.TakeAck(); msg != nil {
		if err := h.server.HandleMessage(h.id, protocol.ChannelAcks, msg); err != nil {
			h.t.Fatalf("ack: %v", err)
		}
	}
}

func (h *harness) local(remote entity.Entity) entity.Entity {
	h.t.Helper()
	local, ok := h.receiver.Entities().ToClient(remote)
	if !ok {
		h.t.Fatalf("no local entity for server=%v", remote)
	}
	return local
}

func (h *harness) position(local entity.Entity) demo.Position {
	h.t.Helper()
	v, ok := h.clientWorld.Get(local, demo.PositionID)
	if !ok {
		h.t.Fatalf("missing position on local=%v", local)
	}
	return v.(demo.Position)
}

func (h *harness) spawn(x float32) entity.Entity {
	e := h.serverWorld.Spawn()
	_ = h.serverWorld.Insert(e, demo.PositionID, demo.Position{X: x})
	_ = h.serverWorld.SetReplicated(e)
	return e
}

func TestSpawnRoundTrip(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	e := h.spawn(1.5)
	_ = h.serverWorld.Insert(e, demo.LabelID, demo.Label("crate"))
	h.step()
	h.deliverUpdates()

	local := h.local(e)
	if got := h.position(local); got.X != 1.5 {
		t.Fatalf("unexpected position=%v", got)
	}
	if v, ok := h.clientWorld.Get(local, demo.LabelID); !ok || v.(demo.Label) != "crate" {
		t.Fatalf("unexpected label=%v", v)
	}
	if h.receiver.UpdateTick() != 1 {
		t.Fatalf("unexpected update tick=%d", h.receiver.UpdateTick())
	}
	if hist, ok := h.receiver.ConfirmHistory(local); !ok || hist.LastTick() != 1 {
		t.Fatalf("expected confirm history at tick 1")
	}
	ack, err := wire.ReadAck(h.receiver.TakeAck())
	if err != nil || !ack.HasUpdate || ack.UpdateTick != 1 {
		t.Fatalf("unexpected ack=%+v err=%v", ack, err)
	}
	if h.receiver.TakeAck() != nil {
		t.Fatalf("expected ack to be taken once")
	}
}

func TestDuplicateMutateIsNoop(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	e := h.spawn(1)
	h.step()
	h.deliverUpdates()

	_ = h.serverWorld.Mutate(e, demo.PositionID, demo.Position{X: 2})
	h.step()
	if len(h.mutations) != 1 {
		t.Fatalf("unexpected mutations=%d", len(h.mutations))
	}
	msg := h.mutations[0]
	h.deliverMutations()
	local := h.local(e)
	if h.position(local).X != 2 {
		t.Fatalf("expected mutation to apply")
	}

	_ = h.clientWorld.Insert(local, demo.PositionID, demo.Position{X: 99})
	if err := h.receiver.ApplyMutate(msg); err != nil {
		t.Fatalf("apply duplicate: %v", err)
	}
	if h.position(local).X != 99 || h.receiver.Stats().Duplicates != 1 {
		t.Fatalf("expected duplicate to be ignored")
	}
	ack, _ := wire.ReadAck(h.receiver.TakeAck())
	if len(ack.Indices) != 1 {
		t.Fatalf("expected a single ack index, got %v", ack.Indices)
	}
}

func TestMutateBufferedUntilItsUpdate(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	a := h.spawn(1)
	h.step()
	h.deliverUpdates()
	h.ack()

	h.spawn(7)
	_ = h.serverWorld.Mutate(a, demo.PositionID, demo.Position{X: 3})
	h.step()

	h.deliverMutations()
	if h.receiver.Buffered() != 1 {
		t.Fatalf("expected mutate to wait for update tick 2, buffered=%d", h.receiver.Buffered())
	}
	if h.position(h.local(a)).X != 1 {
		t.Fatalf("buffered mutate applied early")
	}
	if ack := h.receiver.TakeAck(); ack != nil {
		t.Fatalf("expected no ack for a buffered message")
	}

	h.deliverUpdates()
	if h.receiver.Buffered() != 0 || h.position(h.local(a)).X != 3 {
		t.Fatalf("expected buffered mutate to apply after its update")
	}
	ack, _ := wire.ReadAck(h.receiver.TakeAck())
	if !ack.HasUpdate || ack.UpdateTick != 2 || len(ack.Indices) != 1 {
		t.Fatalf("unexpected ack=%+v", ack)
	}
}

func TestOlderMutateDoesNotOverwriteNewer(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	e := h.spawn(1)
	h.step()
	h.deliverUpdates()

	_ = h.serverWorld.Mutate(e, demo.PositionID, demo.Position{X: 2})
	h.step()
	_ = h.serverWorld.Mutate(e, demo.PositionID, demo.Position{X: 3})
	h.step()
	if len(h.mutations) != 2 {
		t.Fatalf("unexpected mutations=%d", len(h.mutations))
	}
	h.mutations[0], h.mutations[1] = h.mutations[1], h.mutations[0]
	h.deliverMutations()

	local := h.local(e)
	if got := h.position(local).X; got != 3 {
		t.Fatalf("expected newest value, got %v", got)
	}
	hist, _ := h.receiver.ConfirmHistory(local)
	if hist.LastTick() != 3 || !hist.Contains(2) {
		t.Fatalf("expected ticks 2 and 3 confirmed, last=%d", hist.LastTick())
	}
	ack, _ := wire.ReadAck(h.receiver.TakeAck())
	if len(ack.Indices) != 2 {
		t.Fatalf("expected both messages acked, got %v", ack.Indices)
	}
}

func TestAckStopsResend(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	e := h.spawn(1)
	h.step()
	h.deliverUpdates()
	h.ack()

	_ = h.serverWorld.Mutate(e, demo.PositionID, demo.Position{X: 5})
	h.step()
	h.deliverMutations()
	h.ack()
	h.step()
	if len(h.mutations) != 0 {
		t.Fatalf("expected acked mutation to stop, got %d", len(h.mutations))
	}
	ticks, _ := h.server.ClientTicks(h.id)
	if ticks.AckedUpdateTick != 1 || ticks.PendingMutations() != 0 {
		t.Fatalf("unexpected server ticks acked=%d pending=%d", ticks.AckedUpdateTick, ticks.PendingMutations())
	}
}

func TestRemovalAndDespawnApply(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	a := h.spawn(1)
	b := h.spawn(2)
	_ = h.serverWorld.Insert(b, demo.LabelID, demo.Label("b"))
	h.step()
	h.deliverUpdates()
	localA, localB := h.local(a), h.local(b)

	h.serverWorld.Despawn(a)
	h.serverWorld.Remove(b, demo.LabelID)
	h.step()
	h.deliverUpdates()

	if h.clientWorld.Contains(localA) {
		t.Fatalf("expected despawn to apply")
	}
	if _, ok := h.receiver.Entities().ToClient(a); ok {
		t.Fatalf("expected mapping to be dropped")
	}
	if h.clientWorld.Has(localB, demo.LabelID) || !h.clientWorld.Has(localB, demo.PositionID) {
		t.Fatalf("expected only the label to be removed")
	}
}

func TestPredictiveSpawnIsAdopted(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	predicted := h.clientWorld.Spawn()
	e := h.spawn(4)
	m, _ := h.server.ClientEntityMap(h.id)
	m.Insert(e, predicted)
	h.step()
	h.deliverUpdates()

	if h.local(e) != predicted {
		t.Fatalf("expected server entity to map onto the predicted one")
	}
	if h.clientWorld.Len() != 1 || h.position(predicted).X != 4 {
		t.Fatalf("expected no extra spawn, len=%d", h.clientWorld.Len())
	}
	if h.receiver.Stats().Mappings != 1 {
		t.Fatalf("unexpected mappings=%d", h.receiver.Stats().Mappings)
	}
}

func TestEntityReferenceIsMapped(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	holder := h.serverWorld.Spawn()
	target := h.serverWorld.Spawn()
	_ = h.serverWorld.Insert(holder, demo.OwnerID, demo.Owner{Entity: target})
	_ = h.serverWorld.Insert(target, demo.LabelID, demo.Label("target"))
	_ = h.serverWorld.SetReplicated(holder)
	_ = h.serverWorld.SetReplicated(target)
	h.step()
	h.deliverUpdates()

	v, ok := h.clientWorld.Get(h.local(holder), demo.OwnerID)
	if !ok {
		t.Fatalf("missing owner")
	}
	localTarget := h.local(target)
	if v.(demo.Owner).Entity != localTarget {
		t.Fatalf("unexpected owner=%v want=%v", v.(demo.Owner).Entity, localTarget)
	}
	if h.clientWorld.IsReserved(localTarget) || !h.clientWorld.Has(localTarget, demo.LabelID) {
		t.Fatalf("expected reserved target to be materialized")
	}
}

func TestStaleUpdateIsDropped(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	h.spawn(1)
	h.step()
	first := h.updates[0]
	h.spawn(2)
	h.step()
	h.deliverUpdates()

	if err := h.receiver.ApplyUpdate(first); err != nil {
		t.Fatalf("apply stale: %v", err)
	}
	if h.receiver.Stats().Stale != 1 || h.receiver.UpdateTick() != 2 {
		t.Fatalf("expected stale update to be ignored")
	}
}

func TestResetDespawnsMirror(t *testing.T) {
	testlog.Start(t)

	h := newHarness(t, server.DefaultConfig())
	h.spawn(1)
	h.spawn(2)
	h.step()
	h.deliverUpdates()
	if h.clientWorld.Len() != 2 {
		t.Fatalf("unexpected mirror len=%d", h.clientWorld.Len())
	}
	h.receiver.Reset()
	if h.clientWorld.Len() != 0 || h.receiver.Entities().Len() != 0 || h.receiver.UpdateTick() != 0 {
		t.Fatalf("expected empty mirror after reset")
	}
	if h.receiver.TakeAck() != nil {
		t.Fatalf("expected no pending ack after reset")
	}
}

func positionComponent(t *testing.T, reg *registry.Registry, pos demo.Position) []byte {
	t.Helper()
	fns, rule, ok := reg.Lookup(demo.PositionID)
	if !ok {
		t.Fatalf("position not registered")
	}
	out, err := rule.Encode(wire.AppendUvarint(nil, uint64(fns)), pos)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return out
}

func header(flags byte, tick protocol.Tick) []byte {
	return wire.AppendTick([]byte{flags}, tick)
}

func TestDespawnEvictsBufferedMutations(t *testing.T) {
	testlog.Start(t)

	reg := demo.Registry()
	w := world.New()
	r := NewReceiver(w, reg, DefaultConfig())
	remote := entity.New(5, 0)
	component := positionComponent(t, reg, demo.Position{X: 1})

	spawn := header(byte(protocol.UpdateChanges), 1)
	spawn = wire.AppendEntity(spawn, remote)
	spawn = wire.AppendUvarint(spawn, 1)
	spawn = append(spawn, component...)
	if err := r.ApplyUpdate(spawn); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	mutate := header(0, 2)
	mutate = wire.AppendTick(mutate, 2)
	mutate = wire.AppendMutateIndex(mutate, 0)
	mutate = wire.AppendEntity(mutate, remote)
	mutate = wire.AppendUvarint(mutate, uint64(len(component)))
	mutate = append(mutate, component...)
	if err := r.ApplyMutate(mutate); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if r.Buffered() != 1 {
		t.Fatalf("expected buffered mutate")
	}

	despawn := wire.AppendEntity(header(byte(protocol.UpdateDespawns), 2), remote)
	if err := r.ApplyUpdate(despawn); err != nil {
		t.Fatalf("despawn: %v", err)
	}
	if w.Len() != 0 || r.Entities().Len() != 0 || r.Buffered() != 0 {
		t.Fatalf("expected evicted entity to stay gone, world=%d map=%d", w.Len(), r.Entities().Len())
	}
}

func TestMalformedMessages(t *testing.T) {
	testlog.Start(t)

	reg := demo.Registry()
	r := NewReceiver(world.New(), reg, DefaultConfig())

	if err := r.ApplyUpdate([]byte{byte(protocol.UpdateChanges), 1, 0}); !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}

	unknown := header(byte(protocol.UpdateChanges), 1)
	unknown = wire.AppendEntity(unknown, entity.New(1, 0))
	unknown = wire.AppendUvarint(unknown, 1)
	unknown = wire.AppendUvarint(unknown, 99)
	if err := r.ApplyUpdate(unknown); !errors.Is(err, protocol.ErrUnknownComponent) {
		t.Fatalf("expected ErrUnknownComponent, got %v", err)
	}

	short := header(byte(protocol.UpdateChanges), 2)
	short = wire.AppendEntity(short, entity.New(1, 0))
	short = wire.AppendUvarint(short, 1)
	short = append(short, positionComponent(t, reg, demo.Position{})[:3]...)
	if err := r.ApplyUpdate(short); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}

	if err := r.ApplyMutate([]byte{0x80, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for unknown mutate flags, got %v", err)
	}

	oversized := header(0, 1)
	oversized = wire.AppendTick(oversized, 1)
	oversized = wire.AppendMutateIndex(oversized, 0)
	oversized = wire.AppendEntity(oversized, entity.New(1, 0))
	oversized = wire.AppendUvarint(oversized, 500)
	if err := r.ApplyMutate(oversized); !errors.Is(err, protocol.ErrMalformed) {
		t.Fatalf("expected ErrMalformed for oversized chunk, got %v", err)
	}
}
