package client

import "github.com/danmuck/replica/internal/protocol"

type tickSlot struct {
	received int
	total    int
}

// MutateTicks tracks per-tick mutate message counts when the server tags
// messages with their per-tick total. A tick is complete once all its
// messages arrived.
type MutateTicks struct {
	slots   [historyLen]tickSlot
	last    protocol.Tick
	started bool
}

// Confirm records one message of tick and reports whether the tick is now
// complete. Ticks older than the window are ignored.
func (m *MutateTicks) Confirm(tick protocol.Tick, total int) bool {
	if !m.started {
		m.started = true
		m.last = tick
	}
	if tick.Greater(m.last) {
		advance := tick.Since(m.last)
		if advance >= historyLen {
			m.slots = [historyLen]tickSlot{}
		} else {
			for i := uint32(1); i <= advance; i++ {
				m.slots[slotOf(m.last+protocol.Tick(i))] = tickSlot{}
			}
		}
		m.last = tick
	}
	if m.last.Since(tick) >= historyLen {
		return false
	}
	slot := &m.slots[slotOf(tick)]
	slot.received++
	slot.total = total
	return slot.received >= slot.total
}

// Contains reports whether every mutate message of tick was received.
func (m *MutateTicks) Contains(tick protocol.Tick) bool {
	if !m.started || tick.Greater(m.last) || m.last.Since(tick) >= historyLen {
		return false
	}
	slot := m.slots[slotOf(tick)]
	return slot.total > 0 && slot.received >= slot.total
}

func (m *MutateTicks) LastTick() protocol.Tick {
	return m.last
}

func (m *MutateTicks) Reset() {
	*m = MutateTicks{}
}

func slotOf(t protocol.Tick) int {
	return int(uint32(t) % historyLen)
}
