package wire

import (
	"fmt"

	"github.com/danmuck/replica/internal/protocol"
)

// Ack is a decoded client ack message.
type Ack struct {
	HasUpdate  bool
	UpdateTick protocol.Tick
	Indices    []protocol.MutateIndex
}

// AppendAck writes an ack message:
//
//	flags u8 | [update_tick u32le] | [count uvarint | index u16le...]
//
// It returns dst unchanged when there is nothing to ack.
func AppendAck(dst []byte, ack Ack) []byte {
	var flags protocol.AckFlags
	if ack.HasUpdate {
		flags |= protocol.AckUpdate
	}
	if len(ack.Indices) > 0 {
		flags |= protocol.AckMutations
	}
	if flags == 0 {
		return dst
	}
	dst = append(dst, byte(flags))
	if ack.HasUpdate {
		dst = AppendTick(dst, ack.UpdateTick)
	}
	if len(ack.Indices) > 0 {
		dst = AppendUvarint(dst, uint64(len(ack.Indices)))
		for _, index := range ack.Indices {
			dst = AppendMutateIndex(dst, index)
		}
	}
	return dst
}

func ReadAck(msg []byte) (Ack, error) {
	r := NewReader(msg)
	raw, err := r.U8()
	if err != nil {
		return Ack{}, err
	}
	flags := protocol.AckFlags(raw)
	if flags&^(protocol.AckUpdate|protocol.AckMutations) != 0 {
		return Ack{}, fmt.Errorf("%w: ack flags=%08b", protocol.ErrMalformed, raw)
	}
	var ack Ack
	if flags&protocol.AckUpdate != 0 {
		ack.HasUpdate = true
		if ack.UpdateTick, err = r.Tick(); err != nil {
			return Ack{}, err
		}
	}
	if flags&protocol.AckMutations != 0 {
		n, err := r.Len()
		if err != nil {
			return Ack{}, err
		}
		ack.Indices = make([]protocol.MutateIndex, 0, n)
		for i := 0; i < n; i++ {
			index, err := r.MutateIndex()
			if err != nil {
				return Ack{}, err
			}
			ack.Indices = append(ack.Indices, index)
		}
	}
	if !r.Empty() {
		return Ack{}, fmt.Errorf("%w: %d trailing ack bytes", protocol.ErrMalformed, r.Remaining())
	}
	return ack, nil
}

// AppendHandshake writes the protocol hash a client announces on connect.
func AppendHandshake(dst []byte, hash uint64) []byte {
	return AppendU64(dst, hash)
}

func ReadHandshake(msg []byte) (uint64, error) {
	r := NewReader(msg)
	hash, err := r.U64()
	if err != nil {
		return 0, err
	}
	if !r.Empty() {
		return 0, fmt.Errorf("%w: %d trailing handshake bytes", protocol.ErrMalformed, r.Remaining())
	}
	return hash, nil
}
