package demo

import (
	"fmt"
	"math/rand"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/world"
)

// Sim moves boxes around a square arena. Every RespawnEvery ticks the
// oldest box is despawned and a new one spawned, and a random box loses or
// regains its velocity.
type Sim struct {
	World        *world.World
	Boxes        int
	Arena        float32
	RespawnEvery uint32
	// OnRespawn observes every box spawned after setup.
	OnRespawn func(e entity.Entity, label Label)

	rng   *rand.Rand
	owner entity.Entity
	boxes []entity.Entity
	seq   int
}

func NewSim(w *world.World, boxes int, seed int64) *Sim {
	s := &Sim{
		World:        w,
		Boxes:        boxes,
		Arena:        100,
		RespawnEvery: 120,
		rng:          rand.New(rand.NewSource(seed)),
	}
	s.owner = w.Spawn()
	_ = w.Insert(s.owner, LabelID, Label("arena"))
	_ = w.SetReplicated(s.owner)
	for i := 0; i < boxes; i++ {
		s.spawnBox()
	}
	return s
}

func (s *Sim) spawnBox() entity.Entity {
	e := s.World.Spawn()
	s.seq++
	_ = s.World.Insert(e, PositionID, Position{X: s.rng.Float32() * s.Arena, Y: s.rng.Float32() * s.Arena})
	_ = s.World.Insert(e, VelocityID, s.randomVelocity())
	_ = s.World.Insert(e, LabelID, Label(fmt.Sprintf("box-%d", s.seq)))
	_ = s.World.Insert(e, OwnerID, Owner{Entity: s.owner})
	_ = s.World.SetReplicated(e)
	s.boxes = append(s.boxes, e)
	return e
}

// Nudge gives a live box a new random velocity.
func (s *Sim) Nudge(e entity.Entity) bool {
	for _, b := range s.boxes {
		if b != e {
			continue
		}
		if s.World.Has(e, VelocityID) {
			_ = s.World.Mutate(e, VelocityID, s.randomVelocity())
		} else {
			_ = s.World.Insert(e, VelocityID, s.randomVelocity())
		}
		return true
	}
	return false
}

func (s *Sim) randomVelocity() Velocity {
	return Velocity{X: s.rng.Float32()*2 - 1, Y: s.rng.Float32()*2 - 1}
}

// Step advances the simulation to tick.
func (s *Sim) Step(tick protocol.Tick) {
	for _, e := range s.boxes {
		pv, ok := s.World.Get(e, PositionID)
		if !ok {
			continue
		}
		pos := pv.(Position)
		vel := Velocity{}
		if vv, ok := s.World.Get(e, VelocityID); ok {
			vel = vv.(Velocity)
		}
		if vel == (Velocity{}) {
			continue
		}
		pos.X, vel.X = bounce(pos.X+vel.X, vel.X, s.Arena)
		pos.Y, vel.Y = bounce(pos.Y+vel.Y, vel.Y, s.Arena)
		_ = s.World.Mutate(e, PositionID, pos)
		_ = s.World.Mutate(e, VelocityID, vel)
	}

	if s.RespawnEvery == 0 || uint32(tick)%s.RespawnEvery != 0 || len(s.boxes) == 0 {
		return
	}
	s.World.Despawn(s.boxes[0])
	s.boxes = s.boxes[1:]
	spawned := s.spawnBox()
	if s.OnRespawn != nil {
		v, _ := s.World.Get(spawned, LabelID)
		s.OnRespawn(spawned, v.(Label))
	}

	e := s.boxes[s.rng.Intn(len(s.boxes))]
	if s.World.Has(e, VelocityID) {
		s.World.Remove(e, VelocityID)
	} else {
		_ = s.World.Insert(e, VelocityID, s.randomVelocity())
	}
}

func bounce(p, v, max float32) (float32, float32) {
	switch {
	case p < 0:
		return -p, -v
	case p > max:
		return 2*max - p, -v
	default:
		return p, v
	}
}

// Summary describes the replicated content of w.
func Summary(w *world.World) string {
	boxes, labelled := 0, 0
	w.Entities(func(e entity.Entity) {
		if w.Has(e, PositionID) {
			boxes++
		}
		if w.Has(e, LabelID) {
			labelled++
		}
	})
	return fmt.Sprintf("entities=%d boxes=%d labelled=%d", w.Len(), boxes, labelled)
}
