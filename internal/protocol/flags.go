package protocol

import "math/bits"

// UpdateFlags marks which sections an update message carries.
type UpdateFlags uint8

const (
	UpdateMappings UpdateFlags = 1 << iota
	UpdateDespawns
	UpdateRemovals
	UpdateChanges
)

// UpdateSections lists every section in wire order.
var UpdateSections = [...]UpdateFlags{UpdateMappings, UpdateDespawns, UpdateRemovals, UpdateChanges}

func (f UpdateFlags) Has(flag UpdateFlags) bool {
	return f&flag != 0
}

// Last returns the highest set flag. The section it names carries no count
// prefix on the wire. Returns 0 for empty flags.
func (f UpdateFlags) Last() UpdateFlags {
	if f == 0 {
		return 0
	}
	return UpdateFlags(1) << (7 - bits.LeadingZeros8(uint8(f)))
}

func (f UpdateFlags) String() string {
	if f == 0 {
		return "none"
	}
	out := ""
	names := [...]string{"mappings", "despawns", "removals", "changes"}
	for i, flag := range UpdateSections {
		if !f.Has(flag) {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += names[i]
	}
	return out
}

// MutateFlags prefixes every mutate message.
type MutateFlags uint8

const (
	// MutateTracked means a messages count for the tick follows the ticks.
	MutateTracked MutateFlags = 1 << iota
)

// AckFlags prefixes every client ack message.
type AckFlags uint8

const (
	AckUpdate AckFlags = 1 << iota
	AckMutations
)
