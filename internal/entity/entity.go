// Package entity defines entity identifiers shared by storage, the wire
// codec and the entity mapper.
package entity

import "fmt"

// Entity is an index plus a generation. Generation 0 is the first use of an
// index; reuse after despawn bumps it.
type Entity struct {
	Index      uint32
	Generation uint32
}

// Placeholder is never handed out by an Allocator.
var Placeholder = Entity{Index: ^uint32(0), Generation: ^uint32(0)}

func New(index, generation uint32) Entity {
	return Entity{Index: index, Generation: generation}
}

func (e Entity) IsPlaceholder() bool {
	return e == Placeholder
}

func (e Entity) String() string {
	return fmt.Sprintf("%dv%d", e.Index, e.Generation)
}

// Less orders by index, then generation.
func (e Entity) Less(other Entity) bool {
	if e.Index != other.Index {
		return e.Index < other.Index
	}
	return e.Generation < other.Generation
}
