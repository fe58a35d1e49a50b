package server

import (
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/rs/zerolog/log"
)

func (s *Server) handleAcks(c *remoteClient, msg []byte) error {
	ack, err := wire.ReadAck(msg)
	if err != nil {
		return err
	}
	if ack.HasUpdate && c.ticks.AckUpdateTick(ack.UpdateTick) {
		recordAck("update")
	}
	for _, index := range ack.Indices {
		if _, ok := c.ticks.AckMutateMessage(index); !ok {
			log.Debug().Msgf("server.handleAcks stale mutate ack client=%s index=%d", c.id, index)
			continue
		}
		c.stats.Acks++
		recordAck("mutate")
	}
	return nil
}
