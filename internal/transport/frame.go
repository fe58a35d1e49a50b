package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/replica/internal/protocol"
)

// HeaderLen is channel + payload length.
const HeaderLen = 5

var (
	ErrShortHeader     = errors.New("transport: short frame header")
	ErrPayloadTooLarge = errors.New("transport: frame payload too large")
)

// Frame is one message on a reliable stream.
type Frame struct {
	Channel protocol.Channel
	Payload []byte
}

// Limits constrains frame memory use.
type Limits struct {
	MaxPayloadBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 8 * 1024 * 1024}
}

// ReadFrame reads one frame. A stream closed between frames returns io.EOF.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var header [HeaderLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	ch, n, err := DecodeHeader(header[:])
	if err != nil {
		return Frame{}, err
	}
	if n > limits.MaxPayloadBytes {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, n, limits.MaxPayloadBytes)
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Channel: ch, Payload: payload}, nil
}

// WriteFrame writes f with a single Write call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > uint64(limits.MaxPayloadBytes) {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), limits.MaxPayloadBytes)
	}
	buf := make([]byte, 0, HeaderLen+len(f.Payload))
	buf = AppendHeader(buf, f.Channel, uint32(len(f.Payload)))
	buf = append(buf, f.Payload...)
	_, err := w.Write(buf)
	return err
}

func AppendHeader(dst []byte, ch protocol.Channel, n uint32) []byte {
	dst = append(dst, byte(ch))
	return binary.LittleEndian.AppendUint32(dst, n)
}

func DecodeHeader(b []byte) (protocol.Channel, uint32, error) {
	if len(b) != HeaderLen {
		return 0, 0, fmt.Errorf("transport: invalid frame header length: %d", len(b))
	}
	ch := protocol.Channel(b[0])
	if !ch.Valid() {
		return 0, 0, fmt.Errorf("%w: %d", protocol.ErrUnknownChannel, b[0])
	}
	return ch, binary.LittleEndian.Uint32(b[1:]), nil
}
