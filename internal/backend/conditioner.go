package backend

import (
	"math/rand"
	"sync"
)

// LinkConditioner degrades an unreliable channel: messages may be dropped,
// duplicated or swapped with the previous one.
type LinkConditioner struct {
	DropRate      float64
	DuplicateRate float64
	ReorderRate   float64

	mu  sync.Mutex
	rng *rand.Rand
}

func NewLinkConditioner(seed int64, drop, duplicate, reorder float64) *LinkConditioner {
	return &LinkConditioner{
		DropRate:      drop,
		DuplicateRate: duplicate,
		ReorderRate:   reorder,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// apply appends p to queue according to the configured faults.
func (l *LinkConditioner) apply(queue []Packet, p Packet) []Packet {
	if l == nil {
		return append(queue, p)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rng.Float64() < l.DropRate {
		return queue
	}
	copies := 1
	if l.rng.Float64() < l.DuplicateRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		queue = append(queue, p)
		n := len(queue)
		if n > 1 && l.rng.Float64() < l.ReorderRate {
			queue[n-1], queue[n-2] = queue[n-2], queue[n-1]
		}
	}
	return queue
}
