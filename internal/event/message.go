package event

import (
	"fmt"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
)

// Encode appends the body of ev. Targets and the payload are mapped
// through ctx.
func (r *Registry) Encode(buf []byte, ev Event, ctx *EncodeContext) ([]byte, error) {
	rule, err := r.Rule(ev.ID)
	if err != nil {
		return buf, err
	}
	buf = wire.AppendUvarint(buf, uint64(ev.ID))
	buf = wire.AppendUvarint(buf, uint64(len(ev.Targets)))
	for _, e := range ev.Targets {
		buf = wire.AppendEntity(buf, ctx.Map(e))
	}
	out, err := rule.Encode(buf, ev.Value, ctx)
	if err != nil {
		return buf, fmt.Errorf("%w: event=%s: %w", protocol.ErrEncode, rule.Name, err)
	}
	return out, nil
}

// Decode reads one event body that must fill the rest of rd.
func (r *Registry) Decode(rd *wire.Reader, ctx *registry.DecodeContext) (Event, error) {
	raw, err := rd.Uvarint()
	if err != nil {
		return Event{}, err
	}
	if raw >= uint64(len(r.rules)) {
		return Event{}, fmt.Errorf("%w: id=%d", protocol.ErrUnknownEvent, raw)
	}
	ev := Event{ID: ID(raw)}
	n, err := rd.Len()
	if err != nil {
		return Event{}, err
	}
	if n > 0 {
		ev.Targets = make([]entity.Entity, 0, n)
	}
	for range n {
		e, err := rd.Entity()
		if err != nil {
			return Event{}, err
		}
		ev.Targets = append(ev.Targets, ctx.Map(e))
	}
	rule := r.rules[ev.ID]
	ev.Value, err = rule.Decode(rd, ctx)
	if err != nil {
		return Event{}, fmt.Errorf("event.Decode %s: %w", rule.Name, err)
	}
	if !rd.Empty() {
		return Event{}, fmt.Errorf("%w: %d trailing bytes after event %s", protocol.ErrMalformed, rd.Remaining(), rule.Name)
	}
	return ev, nil
}

// AppendServerEvent writes a server event that the client applies once it
// holds the update at tick.
func AppendServerEvent(buf []byte, tick protocol.Tick, body []byte) []byte {
	buf = wire.AppendTick(buf, tick)
	return append(buf, body...)
}

// ReadServerEventTick returns the update tick a server event waits for and
// the remaining body.
func ReadServerEventTick(msg []byte) (protocol.Tick, []byte, error) {
	rd := wire.NewReader(msg)
	tick, err := rd.Tick()
	if err != nil {
		return 0, nil, err
	}
	return tick, msg[rd.Offset():], nil
}
