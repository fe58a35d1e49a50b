package event

import "github.com/danmuck/replica/internal/protocol"

type queued struct {
	tick protocol.Tick
	body []byte
}

// Queue holds server event bodies until the client has applied the update
// they were sent after. Bodies stay ordered by tick, then by arrival.
type Queue struct {
	items []queued
}

func (q *Queue) Insert(tick protocol.Tick, body []byte) {
	i := len(q.items)
	for i > 0 && q.items[i-1].tick.Greater(tick) {
		i--
	}
	q.items = append(q.items, queued{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = queued{tick: tick, body: append([]byte(nil), body...)}
}

// PopReady removes the oldest body whose tick is not after updateTick.
func (q *Queue) PopReady(updateTick protocol.Tick) (protocol.Tick, []byte, bool) {
	if len(q.items) == 0 || q.items[0].tick.Greater(updateTick) {
		return 0, nil, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head.tick, head.body, true
}

func (q *Queue) Len() int {
	return len(q.items)
}

func (q *Queue) Clear() {
	q.items = nil
}
