// Package demo holds the component set and simulation the replicad,
// replica-client and replica-replay binaries share.
package demo

import (
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/world"
)

const (
	PositionID world.ComponentID = iota + 1
	VelocityID
	LabelID
	OwnerID
)

type Position struct {
	X, Y float32
}

type Velocity struct {
	X, Y float32
}

type Label string

// Owner points at another replicated entity; the id is remapped on the
// client.
type Owner struct {
	Entity entity.Entity
}

func encodeVec(buf []byte, x, y float32) []byte {
	buf = wire.AppendF32(buf, x)
	return wire.AppendF32(buf, y)
}

func decodeVec(r *wire.Reader) (float32, float32, error) {
	x, err := r.F32()
	if err != nil {
		return 0, 0, err
	}
	y, err := r.F32()
	return x, y, err
}

// Registry registers the demo components. Registration order is part of
// the protocol hash.
func Registry() *registry.Registry {
	r := registry.New()
	registry.MustRegister(r, PositionID, "demo.Position",
		func(buf []byte, v Position) []byte { return encodeVec(buf, v.X, v.Y) },
		func(rd *wire.Reader, _ *registry.DecodeContext) (Position, error) {
			x, y, err := decodeVec(rd)
			return Position{X: x, Y: y}, err
		},
		registry.EveryTick)
	registry.MustRegister(r, VelocityID, "demo.Velocity",
		func(buf []byte, v Velocity) []byte { return encodeVec(buf, v.X, v.Y) },
		func(rd *wire.Reader, _ *registry.DecodeContext) (Velocity, error) {
			x, y, err := decodeVec(rd)
			return Velocity{X: x, Y: y}, err
		},
		registry.Periodic(4))
	registry.MustRegister(r, LabelID, "demo.Label",
		func(buf []byte, v Label) []byte { return wire.AppendString(buf, string(v)) },
		func(rd *wire.Reader, _ *registry.DecodeContext) (Label, error) {
			s, err := rd.String()
			return Label(s), err
		},
		registry.Once)
	registry.MustRegister(r, OwnerID, "demo.Owner",
		func(buf []byte, v Owner) []byte { return wire.AppendEntity(buf, v.Entity) },
		func(rd *wire.Reader, ctx *registry.DecodeContext) (Owner, error) {
			e, err := rd.Entity()
			if err != nil {
				return Owner{}, err
			}
			return Owner{Entity: ctx.Map(e)}, nil
		},
		registry.EveryTick)
	return r
}
