// Package wire holds the bit-exact primitives of the replication format:
// LEB128 varints, fixed-width little-endian integers and packed entities.
package wire

import (
	"encoding/binary"
	"math"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
)

func AppendUvarint(b []byte, v uint64) []byte {
	return binary.AppendUvarint(b, v)
}

func AppendU8(b []byte, v uint8) []byte {
	return append(b, v)
}

func AppendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func AppendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func AppendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func AppendF32(b []byte, v float32) []byte {
	return AppendU32(b, math.Float32bits(v))
}

// AppendString writes a uvarint length followed by the raw bytes.
func AppendString(b []byte, s string) []byte {
	b = AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}

// AppendEntity packs the index with a generation-present bit so first
// generation entities cost no generation byte.
func AppendEntity(b []byte, e entity.Entity) []byte {
	flagged := uint64(e.Index) << 1
	if e.Generation != 0 {
		flagged |= 1
	}
	b = AppendUvarint(b, flagged)
	if e.Generation != 0 {
		b = AppendUvarint(b, uint64(e.Generation))
	}
	return b
}

// AppendTick writes ticks fixed-width; varints grow past one byte quickly
// at realistic tick rates.
func AppendTick(b []byte, t protocol.Tick) []byte {
	return AppendU32(b, uint32(t))
}

func AppendMutateIndex(b []byte, i protocol.MutateIndex) []byte {
	return AppendU16(b, uint16(i))
}

// UvarintLen is the encoded size of v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// EntityLen is the encoded size of e.
func EntityLen(e entity.Entity) int {
	n := UvarintLen(uint64(e.Index) << 1)
	if e.Generation != 0 {
		n += UvarintLen(uint64(e.Generation))
	}
	return n
}
