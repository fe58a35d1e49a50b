package client

import "github.com/danmuck/replica/internal/protocol"

// historyLen is how many ticks back a ConfirmHistory remembers.
const historyLen = 64

// ConfirmHistory records which of the last 64 server ticks an entity was
// confirmed at. Bit n of mask is last-n.
type ConfirmHistory struct {
	mask uint64
	last protocol.Tick
}

func NewConfirmHistory(tick protocol.Tick) *ConfirmHistory {
	return &ConfirmHistory{mask: 1, last: tick}
}

func (h *ConfirmHistory) LastTick() protocol.Tick {
	return h.last
}

// SetLastTick moves the window forward to tick and confirms it.
func (h *ConfirmHistory) SetLastTick(tick protocol.Tick) {
	if !tick.Greater(h.last) {
		h.Confirm(tick)
		return
	}
	shift := tick.Since(h.last)
	if shift >= historyLen {
		h.mask = 0
	} else {
		h.mask <<= shift
	}
	h.mask |= 1
	h.last = tick
}

// Confirm marks tick as received. Ticks older than the window are ignored.
func (h *ConfirmHistory) Confirm(tick protocol.Tick) {
	if tick.Greater(h.last) {
		h.SetLastTick(tick)
		return
	}
	ago := h.last.Since(tick)
	if ago < historyLen {
		h.mask |= 1 << ago
	}
}

// Contains reports whether tick was confirmed. Ticks older than the window
// count as confirmed.
func (h *ConfirmHistory) Contains(tick protocol.Tick) bool {
	if tick.Greater(h.last) {
		return false
	}
	ago := h.last.Since(tick)
	if ago >= historyLen {
		return true
	}
	return h.mask&(1<<ago) != 0
}

// ContainsAny reports whether any tick in [start, end] was confirmed.
func (h *ConfirmHistory) ContainsAny(start, end protocol.Tick) bool {
	if start.Greater(end) {
		return false
	}
	for t := start; ; t = t.Next() {
		if h.Contains(t) {
			return true
		}
		if t == end {
			return false
		}
	}
}
