package backend

import (
	"fmt"
	"sync"

	"github.com/danmuck/replica/internal/protocol"
)

// Loopback connects a server and any number of clients in one process.
// Reliable channels keep order; the unreliable channel goes through the
// optional conditioner.
type Loopback struct {
	mu          sync.Mutex
	maxSize     int
	conditioner *LinkConditioner
	clients     map[ClientID]*LoopbackClient
	inbox       []Packet
	events      []Event
	closed      bool
}

func NewLoopback(maxMessageSize int, conditioner *LinkConditioner) *Loopback {
	return &Loopback{
		maxSize:     maxMessageSize,
		conditioner: conditioner,
		clients:     make(map[ClientID]*LoopbackClient),
	}
}

// Connect creates a client connected to this loopback.
func (l *Loopback) Connect() *LoopbackClient {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &LoopbackClient{id: NewClientID(), server: l, connected: true}
	l.clients[c.id] = c
	l.events = append(l.events, Event{Client: c.id, Kind: Connected})
	return c
}

func (l *Loopback) Send(client ClientID, ch protocol.Channel, msg []byte) error {
	l.mu.Lock()
	c, ok := l.clients[client]
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, client)
	}
	if l.maxSize > 0 && ch.Delivery() == protocol.Unreliable && len(msg) > l.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrTooLarge, len(msg), l.maxSize)
	}
	c.deliver(Packet{Client: client, Channel: ch, Payload: msg}, l.conditioner)
	return nil
}

func (l *Loopback) Receive() []Packet {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.inbox
	l.inbox = nil
	return out
}

func (l *Loopback) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.events
	l.events = nil
	return out
}

func (l *Loopback) MaxMessageSize(_ ClientID, ch protocol.Channel) int {
	if ch.Delivery() == protocol.Reliable {
		return 0
	}
	return l.maxSize
}

func (l *Loopback) Disconnect(client ClientID) error {
	l.mu.Lock()
	c, ok := l.clients[client]
	if ok {
		delete(l.clients, client)
		l.events = append(l.events, Event{Client: client, Kind: Disconnected})
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, client)
	}
	c.drop()
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	clients := l.clients
	l.clients = make(map[ClientID]*LoopbackClient)
	l.closed = true
	l.mu.Unlock()
	for _, c := range clients {
		c.drop()
	}
	return nil
}

func (l *Loopback) fromClient(p Packet) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.clients[p.Client]; !ok {
		return ErrClosed
	}
	l.inbox = append(l.inbox, p)
	return nil
}

// LoopbackClient is the client end of a Loopback.
type LoopbackClient struct {
	id     ClientID
	server *Loopback

	mu        sync.Mutex
	inbox     []Packet
	connected bool
}

func (c *LoopbackClient) ID() ClientID {
	return c.id
}

func (c *LoopbackClient) Send(ch protocol.Channel, msg []byte) error {
	if !c.Connected() {
		return ErrClosed
	}
	return c.server.fromClient(Packet{Client: c.id, Channel: ch, Payload: msg})
}

func (c *LoopbackClient) Receive() []Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}

func (c *LoopbackClient) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *LoopbackClient) Disconnect() error {
	return c.server.Disconnect(c.id)
}

func (c *LoopbackClient) deliver(p Packet, conditioner *LinkConditioner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return
	}
	if p.Channel.Delivery() == protocol.Unreliable {
		c.inbox = conditioner.apply(c.inbox, p)
		return
	}
	c.inbox = append(c.inbox, p)
}

func (c *LoopbackClient) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.inbox = nil
}
