package protocol

import (
	"math"
	"strconv"
)

// Tick identifies a server step. It wraps, so ordering uses wrapping
// subtraction and holds while compared ticks stay within 2^31 of each other.
type Tick uint32

// Compare returns -1, 0 or 1.
func (t Tick) Compare(other Tick) int {
	d := uint32(t - other)
	switch {
	case d == 0:
		return 0
	case d <= math.MaxUint32/2:
		return 1
	default:
		return -1
	}
}

func (t Tick) Greater(other Tick) bool {
	return t.Compare(other) > 0
}

func (t Tick) Less(other Tick) bool {
	return t.Compare(other) < 0
}

// Since is the wrapping distance from other to t.
func (t Tick) Since(other Tick) uint32 {
	return uint32(t - other)
}

func (t Tick) Next() Tick {
	return t + 1
}

func (t Tick) String() string {
	return strconv.FormatUint(uint64(t), 10)
}

// MutateIndex numbers mutate messages on one client connection. It carries
// no ordering, only identity for acks and dedup.
type MutateIndex uint16

// Advance returns the current index and moves to the next one.
func (i *MutateIndex) Advance() MutateIndex {
	cur := *i
	*i++
	return cur
}
