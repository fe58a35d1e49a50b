package capture

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/client"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/google/uuid"
)

type ReplayStats struct {
	Records  uint64
	Applied  uint64
	Skipped  uint64
	Acks     uint64
	LastTick protocol.Tick
}

// Deliverable reports whether rec is a message a client receives: server
// outbound traffic or client inbound traffic on the update and mutation
// channels.
func Deliverable(rec Record) bool {
	if rec.Channel != protocol.ChannelUpdates && rec.Channel != protocol.ChannelMutations {
		return false
	}
	return rec.Dir == Outbound || rec.Dir == Inbound
}

// Replay feeds the messages delivered to one client into recv in capture
// order. A nil client id follows the first client seen. Acks produced by
// recv are counted and discarded.
func Replay(r *Reader, id backend.ClientID, recv *client.Receiver) (ReplayStats, error) {
	var stats ReplayStats
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		if err != nil {
			return stats, err
		}
		stats.Records++
		if !Deliverable(rec) {
			stats.Skipped++
			continue
		}
		if id == uuid.Nil {
			id = rec.Client
		}
		if rec.Client != id {
			stats.Skipped++
			continue
		}

		if rec.Channel == protocol.ChannelUpdates {
			err = recv.ApplyUpdate(rec.Payload)
		} else {
			err = recv.ApplyMutate(rec.Payload)
		}
		if err != nil {
			return stats, fmt.Errorf("capture.Replay record=%d channel=%s: %w", stats.Records, rec.Channel, err)
		}
		stats.Applied++
		stats.LastTick = recv.UpdateTick()
		if recv.TakeAck() != nil {
			stats.Acks++
		}
	}
}
