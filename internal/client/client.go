package client

import (
	"errors"
	"fmt"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

var ErrDisconnected = errors.New("client: disconnected after protocol violation")

// Recorder receives every message the client sees, e.g. a capture writer.
type Recorder interface {
	RecordInbound(client backend.ClientID, ch protocol.Channel, msg []byte) error
}

// Client drives a Receiver from a ClientTransport.
type Client struct {
	transport backend.ClientTransport
	receiver  *Receiver
	hash      uint64
	recorder  Recorder

	handshaken bool

	events   *event.Registry
	queue    event.Queue
	received []event.Event
}

func New(t backend.ClientTransport, r *Receiver, hash uint64) *Client {
	return &Client{transport: t, receiver: r, hash: hash}
}

func (c *Client) SetRecorder(rec Recorder) {
	c.recorder = rec
}

func (c *Client) Connected() bool {
	return c.transport.Connected()
}

func (c *Client) Receiver() *Receiver {
	return c.receiver
}

// Step sends the handshake once connected, applies everything received
// and sends the resulting ack. Updates are applied before mutations so a
// mutate message arriving with its update in one poll is not buffered, and
// server events last so the entities they reference are already mapped.
func (c *Client) Step() error {
	if !c.transport.Connected() {
		if c.handshaken {
			log.Info().Msg("client.Step connection lost, resetting mirror")
			c.reset()
		}
		return nil
	}
	if !c.handshaken {
		if err := c.transport.Send(protocol.ChannelHandshake, wire.AppendHandshake(nil, c.hash)); err != nil {
			return fmt.Errorf("client.Step handshake: %w", err)
		}
		c.handshaken = true
	}

	packets := c.transport.Receive()
	for _, ch := range []protocol.Channel{protocol.ChannelUpdates, protocol.ChannelMutations, protocol.ChannelServerEvents} {
		for _, p := range packets {
			if p.Channel != ch {
				continue
			}
			if err := c.apply(p); err != nil {
				return c.fail(err)
			}
		}
	}
	if err := c.drainEvents(); err != nil {
		return c.fail(err)
	}

	if ack := c.receiver.TakeAck(); ack != nil {
		if err := c.transport.Send(protocol.ChannelAcks, ack); err != nil {
			log.Warn().Msgf("client.Step ack err=%v", err)
		}
	}
	return nil
}

func (c *Client) apply(p backend.Packet) error {
	if c.recorder != nil {
		if err := c.recorder.RecordInbound(p.Client, p.Channel, p.Payload); err != nil {
			log.Warn().Msgf("client.apply record err=%v", err)
		}
	}
	switch p.Channel {
	case protocol.ChannelUpdates:
		return c.receiver.ApplyUpdate(p.Payload)
	case protocol.ChannelMutations:
		return c.receiver.ApplyMutate(p.Payload)
	default:
		return c.queueEvent(p.Payload)
	}
}

// fail drops the connection after a malformed message.
func (c *Client) fail(err error) error {
	log.Error().Msgf("client.fail protocol violation err=%v", err)
	if derr := c.transport.Disconnect(); derr != nil {
		log.Debug().Msgf("client.fail disconnect err=%v", derr)
	}
	c.reset()
	return fmt.Errorf("%w: %w", ErrDisconnected, err)
}

func (c *Client) reset() {
	c.receiver.Reset()
	c.queue.Clear()
	c.handshaken = false
}
