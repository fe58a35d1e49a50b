package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/protocol"
)

// Reader is a forward-only cursor over one message.
type Reader struct {
	buf []byte
	off int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) Offset() int {
	return r.off
}

func (r *Reader) Empty() bool {
	return r.off >= len(r.buf)
}

func (r *Reader) need(n int, what string) error {
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf("%w: %s needs %d bytes, %d left", protocol.ErrTruncated, what, n, r.Remaining())
	}
	return nil
}

func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	switch {
	case n == 0:
		return 0, fmt.Errorf("%w: varint at offset %d", protocol.ErrTruncated, r.off)
	case n < 0:
		return 0, fmt.Errorf("%w: varint overflow at offset %d", protocol.ErrMalformed, r.off)
	}
	r.off += n
	return v, nil
}

// Len reads a uvarint used as a count or size and bounds it by the bytes
// left, so a corrupt length cannot drive a huge allocation.
func (r *Reader) Len() (int, error) {
	v, err := r.Uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(r.Remaining()) {
		return 0, fmt.Errorf("%w: length %d exceeds %d remaining", protocol.ErrMalformed, v, r.Remaining())
	}
	return int(v), nil
}

func (r *Reader) U8() (uint8, error) {
	if err := r.need(1, "u8"); err != nil {
		return 0, err
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *Reader) U16() (uint16, error) {
	if err := r.need(2, "u16"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

func (r *Reader) U32() (uint32, error) {
	if err := r.need(4, "u32"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *Reader) U64() (uint64, error) {
	if err := r.need(8, "u64"); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v, nil
}

func (r *Reader) F32() (float32, error) {
	v, err := r.U32()
	return math.Float32frombits(v), err
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n, "bytes"); err != nil {
		return nil, err
	}
	v := r.buf[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *Reader) Skip(n int) error {
	_, err := r.Bytes(n)
	return err
}

func (r *Reader) String() (string, error) {
	n, err := r.Len()
	if err != nil {
		return "", err
	}
	b, err := r.Bytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *Reader) Entity() (entity.Entity, error) {
	flagged, err := r.Uvarint()
	if err != nil {
		return entity.Entity{}, err
	}
	if flagged>>1 > math.MaxUint32 {
		return entity.Entity{}, fmt.Errorf("%w: entity index overflow", protocol.ErrMalformed)
	}
	e := entity.Entity{Index: uint32(flagged >> 1)}
	if flagged&1 != 0 {
		gen, err := r.Uvarint()
		if err != nil {
			return entity.Entity{}, err
		}
		if gen == 0 || gen > math.MaxUint32 {
			return entity.Entity{}, fmt.Errorf("%w: entity generation %d", protocol.ErrMalformed, gen)
		}
		e.Generation = uint32(gen)
	}
	return e, nil
}

func (r *Reader) Tick() (protocol.Tick, error) {
	v, err := r.U32()
	return protocol.Tick(v), err
}

func (r *Reader) MutateIndex() (protocol.MutateIndex, error) {
	v, err := r.U16()
	return protocol.MutateIndex(v), err
}
