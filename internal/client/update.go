package client

import (
	"fmt"

	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/rs/zerolog/log"
)

// ApplyUpdate applies one structural message. A returned error means the
// message was malformed; the connection must be dropped.
func (r *Receiver) ApplyUpdate(msg []byte) error {
	rd := wire.NewReader(msg)
	raw, err := rd.U8()
	if err != nil {
		return err
	}
	flags := protocol.UpdateFlags(raw)
	tick, err := rd.Tick()
	if err != nil {
		return err
	}
	if r.started && !tick.Greater(r.updateTick) {
		log.Debug().Msgf("client.ApplyUpdate stale tick=%d last=%d", tick, r.updateTick)
		r.stats.Stale++
		observability.RecordMessageReceived(protocol.ChannelUpdates.String(), "stale")
		return nil
	}

	last := flags.Last()
	for _, section := range protocol.UpdateSections {
		if !flags.Has(section) {
			continue
		}
		count := -1
		if section != last {
			if count, err = rd.Len(); err != nil {
				return err
			}
		}
		for i := 0; count < 0 && !rd.Empty() || i < count; i++ {
			switch section {
			case protocol.UpdateMappings:
				err = r.applyMapping(rd)
			case protocol.UpdateDespawns:
				err = r.applyDespawn(rd)
			case protocol.UpdateRemovals:
				err = r.applyRemovals(rd)
			case protocol.UpdateChanges:
				err = r.applyChanges(rd, tick)
			}
			if err != nil {
				return err
			}
		}
	}
	if !rd.Empty() {
		return wireTrailing(rd)
	}

	r.updateTick = tick
	r.started = true
	r.ackUpdate = true
	r.stats.Messages++
	r.stats.Bytes += uint64(len(msg))
	observability.RecordMessageReceived(protocol.ChannelUpdates.String(), "applied")

	return r.applyBuffered()
}

func (r *Receiver) applyMapping(rd *wire.Reader) error {
	server, err := rd.Entity()
	if err != nil {
		return err
	}
	local, err := rd.Entity()
	if err != nil {
		return err
	}
	if !r.world.Contains(local) {
		log.Debug().Msgf("client.applyMapping predicted entity missing server=%v local=%v", server, local)
		return nil
	}
	r.entities.Insert(server, local)
	r.stats.Mappings++
	return nil
}

func (r *Receiver) applyDespawn(rd *wire.Reader) error {
	server, err := rd.Entity()
	if err != nil {
		return err
	}
	r.evictBuffered(server)
	local, ok := r.entities.RemoveByServer(server)
	if !ok {
		log.Debug().Msgf("client.applyDespawn unknown server=%v", server)
		return nil
	}
	r.world.Despawn(local)
	delete(r.histories, local)
	r.stats.Despawns++
	return nil
}

func (r *Receiver) applyRemovals(rd *wire.Reader) error {
	server, err := rd.Entity()
	if err != nil {
		return err
	}
	n, err := rd.Len()
	if err != nil {
		return err
	}
	local, known := r.entities.ToClient(server)
	for i := 0; i < n; i++ {
		_, rule, err := r.registry.ReadFnsID(rd)
		if err != nil {
			return err
		}
		if known {
			r.world.Remove(local, rule.Component)
		}
	}
	if !known {
		log.Debug().Msgf("client.applyRemovals unknown server=%v", server)
	}
	return nil
}

func (r *Receiver) applyChanges(rd *wire.Reader, tick protocol.Tick) error {
	server, err := rd.Entity()
	if err != nil {
		return err
	}
	n, err := rd.Len()
	if err != nil {
		return err
	}
	local := r.entities.GetOrCreate(server, r.world.Spawn)
	if !r.world.Contains(local) {
		log.Warn().Msgf("client.applyChanges local entity vanished server=%v local=%v", server, local)
		r.entities.RemoveByServer(server)
		delete(r.histories, local)
		local = r.entities.GetOrCreate(server, r.world.Spawn)
	}
	if h, ok := r.histories[local]; ok {
		h.SetLastTick(tick)
	} else {
		r.histories[local] = NewConfirmHistory(tick)
	}

	ctx := r.decodeContext(tick)
	for i := 0; i < n; i++ {
		if err := r.applyComponent(rd, local, ctx); err != nil {
			return err
		}
	}
	r.stats.EntitiesChanged++
	r.stats.ComponentsChanged += uint64(n)
	return nil
}

func (r *Receiver) applyComponent(rd *wire.Reader, local entity.Entity, ctx *registry.DecodeContext) error {
	_, rule, err := r.registry.ReadFnsID(rd)
	if err != nil {
		return err
	}
	value, err := rule.Decode(rd, ctx)
	if err != nil {
		return fmt.Errorf("%w: decode %s: %w", protocol.ErrMalformed, rule.Name, err)
	}
	return r.world.Insert(local, rule.Component, value)
}
