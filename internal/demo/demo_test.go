package demo

import (
	"strings"
	"testing"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/danmuck/replica/internal/world"
)

func TestSimKeepsBoxCountAcrossRespawns(t *testing.T) {
	testlog.Start(t)

	w := world.New()
	s := NewSim(w, 5, 1)
	s.RespawnEvery = 10
	for tick := uint32(1); tick <= 50; tick++ {
		s.Step(protocol.Tick(tick))
	}
	if w.Len() != 6 {
		t.Fatalf("unexpected entities=%d", w.Len())
	}
	w.Entities(func(e entity.Entity) {
		v, ok := w.Get(e, PositionID)
		if !ok {
			return
		}
		p := v.(Position)
		if p.X < 0 || p.X > s.Arena || p.Y < 0 || p.Y > s.Arena {
			t.Fatalf("box %v left the arena: %+v", e, p)
		}
	})
	if !strings.HasPrefix(Summary(w), "entities=6 boxes=5") {
		t.Fatalf("unexpected summary=%q", Summary(w))
	}
}

func TestOwnerDecodeMapsEntity(t *testing.T) {
	testlog.Start(t)

	reg := Registry()
	fns, rule, ok := reg.Lookup(OwnerID)
	if !ok {
		t.Fatalf("owner not registered")
	}
	buf, err := rule.Encode(nil, Owner{Entity: entity.New(3, 1)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	mapped := entity.New(9, 0)
	ctx := &registry.DecodeContext{MapEntity: func(entity.Entity) entity.Entity { return mapped }}
	v, err := rule.Decode(wire.NewReader(buf), ctx)
	if err != nil || v.(Owner).Entity != mapped {
		t.Fatalf("unexpected decode=%v err=%v fns=%d", v, err, fns)
	}
}

func TestRespawnHookAndNudge(t *testing.T) {
	testlog.Start(t)

	components, events := Protocol()
	if components.Hash() == Registry().Hash() || events.Len() != 2 {
		t.Fatalf("expected events to join the protocol hash")
	}
	if id, ok := events.Lookup("demo.Nudge"); !ok || id != NudgeEvent {
		t.Fatalf("unexpected nudge id=%d", id)
	}

	w := world.New()
	s := NewSim(w, 2, 3)
	s.RespawnEvery = 5
	var spawned []entity.Entity
	s.OnRespawn = func(e entity.Entity, label Label) {
		if !strings.HasPrefix(string(label), "box-") {
			t.Fatalf("unexpected label=%q", label)
		}
		spawned = append(spawned, e)
	}
	for tick := uint32(1); tick <= 15; tick++ {
		s.Step(protocol.Tick(tick))
	}
	// the third respawn despawned the first respawned box
	if len(spawned) != 3 {
		t.Fatalf("unexpected respawns=%d", len(spawned))
	}
	w.Remove(spawned[2], VelocityID)
	if !s.Nudge(spawned[2]) || !w.Has(spawned[2], VelocityID) {
		t.Fatalf("expected nudge to restore velocity")
	}
	if s.Nudge(spawned[0]) {
		t.Fatalf("expected nudge of a despawned box to fail")
	}
}
