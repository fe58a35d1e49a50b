package admin

import (
	"sync"
	"time"

	"github.com/danmuck/replica/internal/server"
)

// Board holds the latest client snapshot published by the replication
// loop. The loop owns the server; HTTP handlers only read the board.
type Board struct {
	mu        sync.RWMutex
	steps     uint64
	updatedAt time.Time
	clients   []server.ClientSnapshot
}

func NewBoard() *Board {
	return &Board{}
}

// Publish replaces the snapshot. It matches server.RunOptions.OnStep.
func (b *Board) Publish(snapshot []server.ClientSnapshot) {
	b.mu.Lock()
	b.steps++
	b.updatedAt = time.Now()
	b.clients = snapshot
	b.mu.Unlock()
}

func (b *Board) Clients() []server.ClientSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]server.ClientSnapshot, len(b.clients))
	copy(out, b.clients)
	return out
}

func (b *Board) Client(id string) (server.ClientSnapshot, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.clients {
		if c.ID.String() == id {
			return c, true
		}
	}
	return server.ClientSnapshot{}, false
}

// Steps returns how many snapshots were published and when the last one
// arrived.
func (b *Board) Steps() (uint64, time.Time) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.steps, b.updatedAt
}
