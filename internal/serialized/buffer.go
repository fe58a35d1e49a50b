// Package serialized is the per-step arena every client message is cut from.
// Facts shared by clients are encoded once and referenced by Range.
package serialized

import (
	"fmt"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
)

// Range is a half-open span of a Buffer.
type Range struct {
	Start int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Mapping is a server entity paired with a client-predicted entity.
type Mapping struct {
	Server entity.Entity
	Client entity.Entity
}

// Buffer is reset every step. Ranges are only valid until the next Reset.
type Buffer struct {
	data []byte
}

// Reset drops every range written this step and keeps the capacity.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
}

func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) Cap() int {
	return cap(b.data)
}

// Bytes is the whole arena written this step.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Slice returns the bytes of r without copying. They alias the arena and
// change after Reset.
func (b *Buffer) Slice(r Range) []byte {
	return b.data[r.Start:r.End]
}

func (b *Buffer) span(start int) Range {
	return Range{Start: start, End: len(b.data)}
}

// WriteEntity writes e in its wire form.
func (b *Buffer) WriteEntity(e entity.Entity) Range {
	start := len(b.data)
	b.data = wire.AppendEntity(b.data, e)
	return b.span(start)
}

// WriteTick writes t as u32le.
func (b *Buffer) WriteTick(t protocol.Tick) Range {
	start := len(b.data)
	b.data = wire.AppendTick(b.data, t)
	return b.span(start)
}

// WriteMappings writes pairs back to back with no count prefix.
func (b *Buffer) WriteMappings(mappings []Mapping) Range {
	start := len(b.data)
	for _, m := range mappings {
		b.data = wire.AppendEntity(b.data, m.Server)
		b.data = wire.AppendEntity(b.data, m.Client)
	}
	return b.span(start)
}

// WriteFnsIDs writes a removal id list with no count prefix.
func (b *Buffer) WriteFnsIDs(ids []registry.FnsID) Range {
	start := len(b.data)
	for _, id := range ids {
		b.data = wire.AppendUvarint(b.data, uint64(id))
	}
	return b.span(start)
}

// WriteComponent writes the fns id followed by the codec payload. On error
// the buffer is rolled back to where it was.
func (b *Buffer) WriteComponent(rule registry.Rule, fns registry.FnsID, value any) (Range, error) {
	start := len(b.data)
	b.data = wire.AppendUvarint(b.data, uint64(fns))
	out, err := rule.Encode(b.data, value)
	if err != nil {
		b.data = b.data[:start]
		return Range{}, fmt.Errorf("%w: %s: %v", protocol.ErrEncode, rule.Name, err)
	}
	b.data = out
	return b.span(start), nil
}

// Cached memoizes one write for the current step so every client reuses the
// same range.
type Cached struct {
	r  Range
	ok bool
}

// Get returns the memoized range, calling write on first use. A failed
// write is not memoized.
func (c *Cached) Get(write func() (Range, error)) (Range, error) {
	if c.ok {
		return c.r, nil
	}
	r, err := write()
	if err != nil {
		return Range{}, err
	}
	c.r, c.ok = r, true
	return r, nil
}

// Must is Get for writes that cannot fail.
func (c *Cached) Must(write func() Range) Range {
	r, _ := c.Get(func() (Range, error) { return write(), nil })
	return r
}

func (c *Cached) Reset() {
	*c = Cached{}
}
