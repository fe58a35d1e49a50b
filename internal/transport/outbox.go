package transport

import (
	"errors"
	"sync"

	"github.com/danmuck/replica/internal/backend"
)

// DefaultQueueDepth is the number of reliable frames a connection may have
// in flight before sends fail.
const DefaultQueueDepth = 256

var ErrQueueFull = errors.New("transport: send queue full")

// Outbox hands frames to one writer goroutine so the replication loop never
// blocks on a slow peer. A full queue fails the send; callers drop the
// connection since reliable order can no longer be kept.
type Outbox struct {
	queue chan Frame
	done  chan struct{}
	once  sync.Once
}

func NewOutbox(depth int) *Outbox {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Outbox{queue: make(chan Frame, depth), done: make(chan struct{})}
}

func (o *Outbox) Push(f Frame) error {
	select {
	case <-o.done:
		return backend.ErrClosed
	default:
	}
	select {
	case o.queue <- f:
		return nil
	case <-o.done:
		return backend.ErrClosed
	default:
		return ErrQueueFull
	}
}

// Run writes queued frames until Close or a write error.
func (o *Outbox) Run(write func(Frame) error) error {
	for {
		select {
		case <-o.done:
			return nil
		case f := <-o.queue:
			if err := write(f); err != nil {
				o.Close()
				return err
			}
		}
	}
}

func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}
