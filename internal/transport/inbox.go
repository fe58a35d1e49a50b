package transport

import (
	"sync"

	"github.com/danmuck/replica/internal/backend"
)

// Inbox collects what connection goroutines read until the replication
// loop polls it.
type Inbox struct {
	mu      sync.Mutex
	packets []backend.Packet
	events  []backend.Event
}

func (i *Inbox) Push(p backend.Packet) {
	i.mu.Lock()
	i.packets = append(i.packets, p)
	i.mu.Unlock()
}

func (i *Inbox) PushEvent(ev backend.Event) {
	i.mu.Lock()
	i.events = append(i.events, ev)
	i.mu.Unlock()
}

// Packets drains received packets in arrival order.
func (i *Inbox) Packets() []backend.Packet {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.packets
	i.packets = nil
	return out
}

func (i *Inbox) Events() []backend.Event {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.events
	i.events = nil
	return out
}
