// Package event carries application events between server and client on
// the reliable event channels. Event names join the component protocol
// hash, so both peers must register the same events in the same order.
//
// Wire layout of an event body:
//
//	id uvarint | targets_len uvarint | target entity... | payload
//
// Server events are prefixed by the update tick they depend on.
package event

import (
	"errors"
	"fmt"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
)

var (
	ErrDuplicateEvent = errors.New("event: event already registered")
	ErrFrozen         = errors.New("event: registry is frozen")
	ErrTypeMismatch   = errors.New("event: value type mismatch")
)

// ID is the wire id of a registered event.
type ID uint32

// EncodeContext is handed to encoders on the sending side.
type EncodeContext struct {
	// MapEntity translates a local entity into the peer's id space.
	MapEntity func(local entity.Entity) entity.Entity
}

// Map is a helper for encoders holding entity references.
func (c *EncodeContext) Map(local entity.Entity) entity.Entity {
	if c == nil || c.MapEntity == nil {
		return local
	}
	return c.MapEntity(local)
}

type (
	EncodeFunc func(buf []byte, value any, ctx *EncodeContext) ([]byte, error)
	DecodeFunc func(r *wire.Reader, ctx *registry.DecodeContext) (any, error)
)

type Rule struct {
	Name   string
	Encode EncodeFunc
	Decode DecodeFunc
}

// Event is one event instance. An event with targets is a trigger aimed at
// those entities.
type Event struct {
	ID      ID
	Value   any
	Targets []entity.Entity
}

// Registry holds the event codecs shared by both peers.
type Registry struct {
	components *registry.Registry
	rules      []Rule
	byName     map[string]ID
	frozen     bool
}

// NewRegistry creates an event registry whose names are mixed into the
// protocol hash of components.
func NewRegistry(components *registry.Registry) *Registry {
	return &Registry{components: components, byName: make(map[string]ID)}
}

// Register adds a typed codec pair under name.
func Register[T any](
	r *Registry,
	name string,
	encode func(buf []byte, v T, ctx *EncodeContext) []byte,
	decode func(rd *wire.Reader, ctx *registry.DecodeContext) (T, error),
) (ID, error) {
	return r.Add(Rule{
		Name: name,
		Encode: func(buf []byte, value any, ctx *EncodeContext) ([]byte, error) {
			v, ok := value.(T)
			if !ok {
				return buf, fmt.Errorf("%w: %s got %T", ErrTypeMismatch, name, value)
			}
			return encode(buf, v, ctx), nil
		},
		Decode: func(rd *wire.Reader, ctx *registry.DecodeContext) (any, error) {
			return decode(rd, ctx)
		},
	})
}

// MustRegister is Register for static setup code.
func MustRegister[T any](
	r *Registry,
	name string,
	encode func(buf []byte, v T, ctx *EncodeContext) []byte,
	decode func(rd *wire.Reader, ctx *registry.DecodeContext) (T, error),
) ID {
	id, err := Register(r, name, encode, decode)
	if err != nil {
		panic(err)
	}
	return id
}

func (r *Registry) Add(rule Rule) (ID, error) {
	if r.frozen {
		return 0, ErrFrozen
	}
	if _, ok := r.byName[rule.Name]; ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateEvent, rule.Name)
	}
	id := ID(len(r.rules))
	r.rules = append(r.rules, rule)
	r.byName[rule.Name] = id
	if r.components != nil {
		r.components.AddHashString("event:" + rule.Name)
	}
	return id, nil
}

// Freeze rejects further registration. Server and client freeze the
// registry they are given.
func (r *Registry) Freeze() {
	r.frozen = true
}

func (r *Registry) Len() int {
	return len(r.rules)
}

// Lookup finds an event id by name.
func (r *Registry) Lookup(name string) (ID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

func (r *Registry) Rule(id ID) (Rule, error) {
	if int(id) >= len(r.rules) {
		return Rule{}, fmt.Errorf("%w: id=%d", protocol.ErrUnknownEvent, id)
	}
	return r.rules[id], nil
}
