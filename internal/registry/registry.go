// Package registry maps small integer ids to component codecs. Ids are
// assigned in registration order and must match on both peers, which the
// protocol hash checks on connect.
package registry

import (
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/world"
)

var (
	ErrDuplicateComponent = errors.New("registry: component already registered")
	ErrFrozen             = errors.New("registry: registry is frozen")
	ErrTypeMismatch       = errors.New("registry: value type mismatch")
)

// FnsID is the wire id of a registered component codec.
type FnsID uint32

// DecodeContext is handed to decoders on the receiving side.
type DecodeContext struct {
	// Tick of the message being applied.
	Tick protocol.Tick
	// MapEntity translates a server entity embedded in a payload into a
	// local one, spawning a placeholder if needed.
	MapEntity func(server entity.Entity) entity.Entity
}

// Map is a helper for decoders holding entity references.
func (c *DecodeContext) Map(server entity.Entity) entity.Entity {
	if c == nil || c.MapEntity == nil {
		return server
	}
	return c.MapEntity(server)
}

type (
	EncodeFunc func(buf []byte, value any) ([]byte, error)
	DecodeFunc func(r *wire.Reader, ctx *DecodeContext) (any, error)
)

// Rule binds one storage component to its codec.
type Rule struct {
	Name      string
	Component world.ComponentID
	Encode    EncodeFunc
	Decode    DecodeFunc
	SendRate  SendRate
}

type Registry struct {
	rules       []Rule
	byComponent map[world.ComponentID]FnsID
	extra       []string
	frozen      bool
}

func New() *Registry {
	return &Registry{byComponent: make(map[world.ComponentID]FnsID)}
}

// Register adds a typed codec pair for component id.
func Register[T any](
	r *Registry,
	id world.ComponentID,
	name string,
	encode func(buf []byte, v T) []byte,
	decode func(rd *wire.Reader, ctx *DecodeContext) (T, error),
	rate SendRate,
) (FnsID, error) {
	return r.Add(Rule{
		Name:      name,
		Component: id,
		SendRate:  rate,
		Encode: func(buf []byte, value any) ([]byte, error) {
			v, ok := value.(T)
			if !ok {
				return buf, fmt.Errorf("%w: %s got %T", ErrTypeMismatch, name, value)
			}
			return encode(buf, v), nil
		},
		Decode: func(rd *wire.Reader, ctx *DecodeContext) (any, error) {
			return decode(rd, ctx)
		},
	})
}

// MustRegister is Register for static setup code.
func MustRegister[T any](
	r *Registry,
	id world.ComponentID,
	name string,
	encode func(buf []byte, v T) []byte,
	decode func(rd *wire.Reader, ctx *DecodeContext) (T, error),
	rate SendRate,
) FnsID {
	fns, err := Register(r, id, name, encode, decode, rate)
	if err != nil {
		panic(err)
	}
	return fns
}

func (r *Registry) Add(rule Rule) (FnsID, error) {
	if r.frozen {
		return 0, ErrFrozen
	}
	if _, ok := r.byComponent[rule.Component]; ok {
		return 0, fmt.Errorf("%w: %s id=%d", ErrDuplicateComponent, rule.Name, rule.Component)
	}
	fns := FnsID(len(r.rules))
	r.rules = append(r.rules, rule)
	r.byComponent[rule.Component] = fns
	return fns, nil
}

// AddHashString mixes an application-defined value into the protocol hash.
func (r *Registry) AddHashString(s string) {
	r.extra = append(r.extra, s)
}

// Freeze rejects further registration.
func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Len() int {
	return len(r.rules)
}

func (r *Registry) Rule(fns FnsID) (Rule, error) {
	if int(fns) >= len(r.rules) {
		return Rule{}, fmt.Errorf("%w: fns=%d", protocol.ErrUnknownComponent, fns)
	}
	return r.rules[fns], nil
}

// Lookup finds the rule replicating a storage component.
func (r *Registry) Lookup(id world.ComponentID) (FnsID, Rule, bool) {
	fns, ok := r.byComponent[id]
	if !ok {
		return 0, Rule{}, false
	}
	return fns, r.rules[fns], true
}

// ReadFnsID reads a fns id and resolves its rule.
func (r *Registry) ReadFnsID(rd *wire.Reader) (FnsID, Rule, error) {
	raw, err := rd.Uvarint()
	if err != nil {
		return 0, Rule{}, err
	}
	if raw >= uint64(len(r.rules)) {
		return 0, Rule{}, fmt.Errorf("%w: fns=%d", protocol.ErrUnknownComponent, raw)
	}
	fns := FnsID(raw)
	return fns, r.rules[fns], nil
}

// Hash fingerprints the registration order, names and send rates.
func (r *Registry) Hash() uint64 {
	h := fnv.New64a()
	for _, rule := range r.rules {
		_, _ = h.Write([]byte(rule.Name))
		_, _ = h.Write([]byte{0, byte(rule.SendRate.Kind)})
		_, _ = h.Write(wire.AppendU32(nil, rule.SendRate.Period))
	}
	for _, s := range r.extra {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
