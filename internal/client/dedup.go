package client

import "github.com/danmuck/replica/internal/protocol"

// DefaultDedupWindow is how many mutate messages are remembered for
// duplicate detection.
const DefaultDedupWindow = 1024

type mutateKey struct {
	index protocol.MutateIndex
	tick  protocol.Tick
}

// dedupWindow remembers the most recent mutate messages. The server tick is
// part of the key so a wrapped index is not mistaken for a duplicate.
type dedupWindow struct {
	seen  map[mutateKey]struct{}
	order []mutateKey
	next  int
	size  int
}

func newDedupWindow(size int) dedupWindow {
	if size <= 0 {
		size = DefaultDedupWindow
	}
	return dedupWindow{
		seen:  make(map[mutateKey]struct{}, size),
		order: make([]mutateKey, 0, size),
		size:  size,
	}
}

func (d *dedupWindow) contains(k mutateKey) bool {
	_, ok := d.seen[k]
	return ok
}

func (d *dedupWindow) add(k mutateKey) {
	if d.contains(k) {
		return
	}
	if len(d.order) < d.size {
		d.order = append(d.order, k)
	} else {
		delete(d.seen, d.order[d.next])
		d.order[d.next] = k
		d.next = (d.next + 1) % d.size
	}
	d.seen[k] = struct{}{}
}

func (d *dedupWindow) reset() {
	clear(d.seen)
	d.order = d.order[:0]
	d.next = 0
}
