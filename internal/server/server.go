package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/protocol/wire"
	"github.com/danmuck/replica/internal/registry"
	"github.com/danmuck/replica/internal/serialized"
	"github.com/danmuck/replica/internal/world"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyConnected = errors.New("server: client already connected")
	ErrNotAuthorized    = errors.New("server: client not authorized")
)

// SendFunc hands one encoded message to the backend.
type SendFunc func(client backend.ClientID, ch protocol.Channel, msg []byte) error

type remoteClient struct {
	id          backend.ClientID
	authorized  bool
	maxSize     int
	connectedAt time.Time

	ticks      ClientTicks
	visibility *Visibility
	entityMap  ClientEntityMap
	update     UpdateMessage
	mutations  Mutations
	stats      ClientStats

	// entities written to this step's update; their mutation ticks are
	// committed once the client's messages are built
	staged []entity.Entity

	// scratch for the entity being collected
	state VisibilityState
	known bool
}

// Server replicates a world to connected clients. Not safe for concurrent
// use; Run or the caller's loop owns it.
type Server struct {
	cfg      Config
	world    *world.World
	registry *registry.Registry
	hash     uint64
	now      func() time.Time

	tick    protocol.Tick
	lastRun world.ChangeTick
	buf     serialized.Buffer

	clients map[backend.ClientID]*remoteClient
	order   []*remoteClient
	active  []*remoteClient

	known    map[entity.Entity]struct{}
	dropped  []backend.ClientID
	despawns despawnBuffer
	removals removalBuffer

	events   *event.Registry
	outbound []outboundEvent
	inbound  []event.FromClient
}

func New(w *world.World, reg *registry.Registry, cfg Config) *Server {
	if cfg.DefaultMaxMessageSize <= 0 {
		cfg.DefaultMaxMessageSize = DefaultConfig().DefaultMaxMessageSize
	}
	reg.Freeze()
	s := &Server{
		cfg:      cfg,
		world:    w,
		registry: reg,
		hash:     reg.Hash(),
		now:      time.Now,
		lastRun:  w.ChangeTick() - 1,
		clients:  make(map[backend.ClientID]*remoteClient),
		known:    make(map[entity.Entity]struct{}),
		removals: newRemovalBuffer(),
	}
	s.watch(w)
	return s
}

// SetClock replaces the time source used for mutate timeouts.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Server) Tick() protocol.Tick {
	return s.tick
}

func (s *Server) World() *world.World {
	return s.world
}

func (s *Server) ProtocolHash() uint64 {
	return s.hash
}

// Connect registers a client. It receives nothing until its handshake
// carries a matching protocol hash.
func (s *Server) Connect(id backend.ClientID, maxMessageSize int) error {
	if _, ok := s.clients[id]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyConnected, id)
	}
	if maxMessageSize <= 0 {
		maxMessageSize = s.cfg.DefaultMaxMessageSize
	}
	s.clients[id] = &remoteClient{
		id:          id,
		maxSize:     maxMessageSize,
		connectedAt: s.now(),
		ticks:       NewClientTicks(),
		visibility:  NewVisibility(s.cfg.Visibility),
	}
	log.Info().Msgf("server.Connect client=%s max_size=%d", id, maxMessageSize)
	return nil
}

// Disconnect drops every piece of state held for the client.
func (s *Server) Disconnect(id backend.ClientID) {
	c, ok := s.clients[id]
	if !ok {
		return
	}
	delete(s.clients, id)
	for i, o := range s.order {
		if o == c {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	log.Info().Msgf("server.Disconnect client=%s", id)
}

func (s *Server) IsAuthorized(id backend.ClientID) bool {
	c, ok := s.clients[id]
	return ok && c.authorized
}

// Clients is the number of authorized clients.
func (s *Server) Clients() int {
	return len(s.order)
}

// Visibility returns the client's visibility controls.
func (s *Server) Visibility(id backend.ClientID) (*Visibility, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownClient, id)
	}
	return c.visibility, nil
}

// ClientEntityMap returns the client's predictive spawn queue.
func (s *Server) ClientEntityMap(id backend.ClientID) (*ClientEntityMap, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownClient, id)
	}
	return &c.entityMap, nil
}

// ClientTicks exposes the client's ack baseline for diagnostics and tests.
func (s *Server) ClientTicks(id backend.ClientID) (*ClientTicks, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", protocol.ErrUnknownClient, id)
	}
	return &c.ticks, nil
}

// HandleMessage processes one client message. A returned error is fatal
// for the connection.
func (s *Server) HandleMessage(id backend.ClientID, ch protocol.Channel, msg []byte) error {
	c, ok := s.clients[id]
	if !ok {
		return fmt.Errorf("%w: %s", protocol.ErrUnknownClient, id)
	}
	switch ch {
	case protocol.ChannelHandshake:
		return s.handleHandshake(c, msg)
	case protocol.ChannelAcks:
		if !c.authorized {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, id)
		}
		return s.handleAcks(c, msg)
	case protocol.ChannelClientEvents:
		if !c.authorized {
			return fmt.Errorf("%w: %s", ErrNotAuthorized, id)
		}
		return s.handleClientEvent(c, msg)
	default:
		return fmt.Errorf("%w: %s from client", protocol.ErrUnknownChannel, ch)
	}
}

func (s *Server) handleHandshake(c *remoteClient, msg []byte) error {
	hash, err := wire.ReadHandshake(msg)
	if err != nil {
		return err
	}
	if hash != s.hash {
		return fmt.Errorf("%w: client=%s got=%x want=%x", protocol.ErrProtocolMismatch, c.id, hash, s.hash)
	}
	if c.authorized {
		return nil
	}
	c.authorized = true
	s.order = append(s.order, c)
	log.Info().Msgf("server.handleHandshake authorized client=%s", c.id)
	return nil
}

// Step advances the tick and sends this step's messages through send.
// A client whose messages cannot be built (an entity over its message size,
// exhausted mutate indices) gets nothing this step and is disconnected;
// Dropped lists it until the next step. A returned error aborts the step
// for everyone and only occurs on component encode failures.
func (s *Server) Step(send SendFunc) error {
	s.tick = s.tick.Next()
	now := s.world.ChangeTick()
	s.dropped = s.dropped[:0]
	defer func() {
		s.lastRun = now
		s.world.AdvanceChangeTick()
		s.buf.Reset()
		s.despawns.reset()
		s.removals.reset()
		s.outbound = s.outbound[:0]
		for _, c := range s.order {
			c.update.Reset()
			c.mutations.Reset()
			c.staged = c.staged[:0]
			c.visibility.endStep()
		}
	}()

	if len(s.order) == 0 {
		s.trackWithoutClients()
		return nil
	}

	s.collectMappings()
	s.collectDespawns()
	if err := s.collectRemovals(); err != nil {
		return err
	}
	if err := s.collectChanges(now); err != nil {
		return err
	}
	failed := s.send(send, now)
	s.cleanupMutations()
	for _, c := range failed {
		s.dropped = append(s.dropped, c.id)
		s.Disconnect(c.id)
	}
	s.sendEvents(send)
	return nil
}

// Dropped lists the clients the last Step disconnected. The caller closes
// their backend connections.
func (s *Server) Dropped() []backend.ClientID {
	return s.dropped
}

// trackWithoutClients keeps the known set current so later despawns of
// entities nobody received are still filtered.
func (s *Server) trackWithoutClients() {
	s.world.Replicated(func(e entity.Entity) {
		s.known[e] = struct{}{}
	})
}

func (s *Server) collectMappings() {
	for _, c := range s.order {
		pairs := c.entityMap.drain()
		if len(pairs) == 0 {
			continue
		}
		c.update.SetMappings(s.buf.WriteMappings(pairs), len(pairs))
		c.stats.Mappings += uint64(len(pairs))
	}
}

func (s *Server) collectDespawns() {
	for _, e := range s.despawns.entities {
		var cached serialized.Cached
		for _, c := range s.order {
			_, known := c.ticks.MutationTick(e)
			visible := c.visibility.IsVisible(e)
			c.visibility.forget(e)
			if !known {
				continue
			}
			c.ticks.RemoveEntity(e)
			if !visible {
				continue
			}
			c.update.AddDespawn(cached.Must(func() serialized.Range { return s.buf.WriteEntity(e) }))
			c.stats.Despawns++
		}
	}
	for _, c := range s.order {
		c.visibility.drainLost(func(e entity.Entity) {
			if _, known := c.ticks.MutationTick(e); !known {
				return
			}
			c.ticks.RemoveEntity(e)
			c.update.AddDespawn(s.buf.WriteEntity(e))
			c.stats.Despawns++
		})
	}
}

func (s *Server) collectRemovals() error {
	return s.removals.each(func(e entity.Entity, ids []registry.FnsID) error {
		var entityCache, idsCache serialized.Cached
		for _, c := range s.order {
			if _, known := c.ticks.MutationTick(e); !known || !c.visibility.IsVisible(e) {
				continue
			}
			ent := entityCache.Must(func() serialized.Range { return s.buf.WriteEntity(e) })
			idsRange := idsCache.Must(func() serialized.Range { return s.buf.WriteFnsIDs(ids) })
			c.update.AddRemovals(ent, len(ids), idsRange)
		}
		return nil
	})
}

func (s *Server) collectChanges(now world.ChangeTick) error {
	var err error
	s.world.Replicated(func(e entity.Entity) {
		if err != nil {
			return
		}
		s.known[e] = struct{}{}
		err = s.collectEntity(e, now)
	})
	return err
}

func (s *Server) collectEntity(e entity.Entity, now world.ChangeTick) error {
	var entityCache serialized.Cached
	entityRange := func() serialized.Range {
		return entityCache.Must(func() serialized.Range { return s.buf.WriteEntity(e) })
	}
	marked := s.world.MarkedSince(e, s.lastRun, now)

	s.active = s.active[:0]
	for _, c := range s.order {
		c.state = c.visibility.State(e)
		if c.state == Hidden {
			continue
		}
		_, c.known = c.ticks.MutationTick(e)
		c.update.StartEntityChanges(entityRange)
		c.mutations.StartEntity(e, entityRange)
		s.active = append(s.active, c)
	}
	if len(s.active) == 0 {
		return nil
	}

	var encodeErr error
	s.world.Components(e, func(info world.ComponentInfo) {
		if encodeErr != nil {
			return
		}
		fns, rule, ok := s.registry.Lookup(info.ID)
		if !ok {
			return
		}
		var componentCache serialized.Cached
		component := func() (serialized.Range, error) {
			return componentCache.Get(func() (serialized.Range, error) {
				return s.buf.WriteComponent(rule, fns, info.Value)
			})
		}
		sendMutations := rule.SendRate.SendMutations(s.tick)
		added := info.AddedSince(s.lastRun, now)

		for _, c := range s.active {
			baseline, _ := c.ticks.MutationTick(e)
			if c.known && !marked && c.state != Gained && !added {
				if !sendMutations || !info.ChangedSince(baseline, now) {
					continue
				}
				r, err := component()
				if err != nil {
					encodeErr = err
					return
				}
				c.mutations.Add(r)
				continue
			}
			r, err := component()
			if err != nil {
				encodeErr = err
				return
			}
			c.update.AddChangedComponent(r)
		}
	})
	if encodeErr != nil {
		return encodeErr
	}

	for _, c := range s.active {
		newEntity := marked || c.state == Gained || !c.known
		if newEntity || c.update.EntityWritten() || s.removals.has(e) {
			c.update.TakeMutations(&c.mutations)
			c.staged = append(c.staged, e)
			if newEntity && !c.update.EntityWritten() {
				c.update.AddEmptyEntity()
			}
		} else {
			c.mutations.FinishEntity()
		}
	}
	return nil
}

// send builds and delivers every client's messages. Clients whose mutate
// messages cannot be built are returned without anything sent to them or
// committed to their ticks.
func (s *Server) send(send SendFunc, now world.ChangeTick) []*remoteClient {
	var tickCache serialized.Cached
	var failed []*remoteClient
	timestamp := s.now()
	for _, c := range s.order {
		sendUpdate := !c.update.IsEmpty() || s.cfg.ForceEmptyUpdates
		updateTick := c.ticks.UpdateTick
		if sendUpdate {
			updateTick = s.tick
		}
		messages, err := c.mutations.Encode(&s.buf, &c.ticks, mutateSend{
			updateTick: updateTick,
			serverTick: s.tick,
			changeTick: now,
			now:        timestamp,
			maxSize:    c.maxSize,
			track:      s.cfg.TrackMutateMessages,
		})
		if err != nil {
			log.Error().Msgf("server.send client=%s err=%v", c.id, err)
			failed = append(failed, c)
			continue
		}

		if sendUpdate {
			tickRange := tickCache.Must(func() serialized.Range { return s.buf.WriteTick(s.tick) })
			msg := c.update.Encode(make([]byte, 0, 64), &s.buf, tickRange)
			c.ticks.UpdateTick = s.tick
			for _, e := range c.staged {
				c.ticks.SetMutationTick(e, now)
			}
			_, _, _, changes := c.update.Counts()
			c.stats.EntitiesChanged += uint64(changes)
			c.stats.ComponentsChanged += uint64(c.update.Components())
			s.deliver(send, c, protocol.ChannelUpdates, msg)
		}

		c.stats.EntitiesChanged += uint64(c.mutations.Entities())
		c.stats.ComponentsChanged += uint64(c.mutations.Components())
		for _, msg := range messages {
			s.deliver(send, c, protocol.ChannelMutations, msg)
		}
	}
	return failed
}

// deliver hands msg to the backend. Send failures are the backend's
// concern; the client is resynced through acks or dropped by a disconnect
// event.
func (s *Server) deliver(send SendFunc, c *remoteClient, ch protocol.Channel, msg []byte) {
	if err := send(c.id, ch, msg); err != nil {
		log.Warn().Msgf("server.deliver client=%s channel=%s err=%v", c.id, ch, err)
		return
	}
	c.stats.Messages++
	c.stats.Bytes += uint64(len(msg))
	recordSent(ch, len(msg))
}

func (s *Server) cleanupMutations() {
	if s.cfg.MutationsTimeout <= 0 {
		return
	}
	cutoff := s.now().Add(-s.cfg.MutationsTimeout)
	for _, c := range s.order {
		if dropped := c.ticks.CleanupOlderMutations(cutoff); dropped > 0 {
			log.Debug().Msgf("server.cleanupMutations client=%s dropped=%d", c.id, dropped)
		}
	}
}
