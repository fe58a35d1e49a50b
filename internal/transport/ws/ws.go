// Package ws is a backend over gorilla/websocket for environments without
// UDP. Every channel is reliable; each binary message is
// [channel u8][payload].
package ws

import (
	"fmt"
	"time"

	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/transport"
	"github.com/gorilla/websocket"
)

type Config struct {
	// MaxMessageSize bounds mutate messages so they are still split.
	MaxMessageSize int
	// ReadLimit bounds any incoming message.
	ReadLimit    int64
	QueueDepth   int
	WriteTimeout time.Duration
	// ReadTimeout drops a silent server side peer; pings keep it alive.
	ReadTimeout  time.Duration
	PingInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 16 * 1024,
		ReadLimit:      8 * 1024 * 1024,
		QueueDepth:     transport.DefaultQueueDepth,
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    30 * time.Second,
		PingInterval:   10 * time.Second,
	}
}

func encode(f transport.Frame) []byte {
	out := make([]byte, 0, 1+len(f.Payload))
	out = append(out, byte(f.Channel))
	return append(out, f.Payload...)
}

func decode(msg []byte) (transport.Frame, error) {
	if len(msg) == 0 {
		return transport.Frame{}, fmt.Errorf("%w: empty websocket message", protocol.ErrTruncated)
	}
	ch := protocol.Channel(msg[0])
	if !ch.Valid() {
		return transport.Frame{}, fmt.Errorf("%w: %d", protocol.ErrUnknownChannel, msg[0])
	}
	return transport.Frame{Channel: ch, Payload: msg[1:]}, nil
}

func writeFrame(conn *websocket.Conn, timeout time.Duration) func(transport.Frame) error {
	return func(f transport.Frame) error {
		_ = conn.SetWriteDeadline(time.Now().Add(timeout))
		return conn.WriteMessage(websocket.BinaryMessage, encode(f))
	}
}

func closeMessage(cause error) []byte {
	if cause == nil {
		return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	}
	reason := cause.Error()
	// control frame payloads are capped at 125 bytes
	if len(reason) > 120 {
		reason = reason[:120]
	}
	return websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
}

// clean reports a read error that is an orderly close.
func clean(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
