package protocol

import "fmt"

type Delivery uint8

const (
	Reliable Delivery = iota
	Unreliable
)

// Channel is a logical replication channel carried by the backend.
type Channel uint8

const (
	// ChannelUpdates carries structural update messages, server to client.
	ChannelUpdates Channel = iota
	// ChannelMutations carries mutate messages, server to client.
	ChannelMutations
	// ChannelAcks carries update and mutate acks, client to server.
	ChannelAcks
	// ChannelHandshake carries the protocol hash, client to server.
	ChannelHandshake
	// ChannelServerEvents carries application events, server to client.
	ChannelServerEvents
	// ChannelClientEvents carries application events, client to server.
	ChannelClientEvents
)

func (c Channel) Delivery() Delivery {
	if c == ChannelMutations {
		return Unreliable
	}
	return Reliable
}

func (c Channel) Valid() bool {
	return c <= ChannelClientEvents
}

func (c Channel) String() string {
	switch c {
	case ChannelUpdates:
		return "updates"
	case ChannelMutations:
		return "mutations"
	case ChannelAcks:
		return "acks"
	case ChannelHandshake:
		return "handshake"
	case ChannelServerEvents:
		return "server_events"
	case ChannelClientEvents:
		return "client_events"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}
