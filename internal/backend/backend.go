// Package backend defines the transport contract the replication engine
// polls, plus an in-memory loopback implementation.
package backend

import (
	"errors"

	"github.com/danmuck/replica/internal/protocol"
	"github.com/google/uuid"
)

var (
	ErrClosed        = errors.New("backend: closed")
	ErrUnknownClient = errors.New("backend: unknown client")
	ErrTooLarge      = errors.New("backend: message exceeds max size")
)

// ClientID identifies a connection on the server.
type ClientID = uuid.UUID

// NewClientID returns a random connection id.
func NewClientID() ClientID {
	return uuid.New()
}

// Packet is one complete message received on a channel.
type Packet struct {
	Client  ClientID
	Channel protocol.Channel
	Payload []byte
}

type EventKind uint8

const (
	Connected EventKind = iota
	Disconnected
)

func (k EventKind) String() string {
	if k == Connected {
		return "connected"
	}
	return "disconnected"
}

type Event struct {
	Client ClientID
	Kind   EventKind
	Err    error
}

// ServerTransport is the server half. Every method is non-blocking; empty
// results mean nothing arrived since the last poll.
type ServerTransport interface {
	Send(client ClientID, ch protocol.Channel, msg []byte) error
	Receive() []Packet
	Events() []Event
	// MaxMessageSize is the largest message accepted on ch, 0 when
	// unlimited.
	MaxMessageSize(client ClientID, ch protocol.Channel) int
	Disconnect(client ClientID) error
	Close() error
}

// ClientTransport is the client half.
type ClientTransport interface {
	Send(ch protocol.Channel, msg []byte) error
	Receive() []Packet
	Connected() bool
	Disconnect() error
}
