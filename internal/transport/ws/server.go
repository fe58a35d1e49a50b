package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type peer struct {
	id     backend.ClientID
	conn   *websocket.Conn
	outbox *transport.Outbox
	once   sync.Once
}

// Server implements backend.ServerTransport and http.Handler.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	inbox    transport.Inbox
	wg       sync.WaitGroup

	mu     sync.RWMutex
	peers  map[backend.ClientID]*peer
	closed bool
}

func NewServer(cfg Config) *Server {
	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		peers: make(map[backend.ClientID]*peer),
	}
}

func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Debug().Msgf("ws.ServeHTTP upgrade remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	p := &peer{id: backend.NewClientID(), conn: conn, outbox: transport.NewOutbox(s.cfg.QueueDepth)}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.peers[p.id] = p
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()
	s.inbox.PushEvent(backend.Event{Client: p.id, Kind: backend.Connected})
	log.Info().Msgf("ws.ServeHTTP connected client=%s remote=%s", p.id, r.RemoteAddr)

	go func() {
		if err := p.outbox.Run(writeFrame(conn, s.cfg.WriteTimeout)); err != nil {
			s.drop(p, fmt.Errorf("write: %w", err))
		}
	}()
	go s.ping(p)

	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)) }
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if clean(err) {
				err = nil
			}
			s.drop(p, err)
			return
		}
		extend()
		f, err := decode(msg)
		if err != nil {
			s.drop(p, err)
			return
		}
		s.inbox.Push(backend.Packet{Client: p.id, Channel: f.Channel, Payload: f.Payload})
	}
}

func (s *Server) ping(p *peer) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.outbox.Done():
			return
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.drop(p, fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (s *Server) drop(p *peer, cause error) {
	p.once.Do(func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		p.outbox.Close()
		_ = p.conn.WriteControl(websocket.CloseMessage, closeMessage(cause), time.Now().Add(time.Second))
		_ = p.conn.Close()
		s.inbox.PushEvent(backend.Event{Client: p.id, Kind: backend.Disconnected, Err: cause})
		log.Info().Msgf("ws.drop client=%s err=%v", p.id, cause)
	})
}

func (s *Server) peer(id backend.ClientID) (*peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, backend.ErrClosed
	}
	p, ok := s.peers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", backend.ErrUnknownClient, id)
	}
	return p, nil
}

func (s *Server) Send(client backend.ClientID, ch protocol.Channel, msg []byte) error {
	p, err := s.peer(client)
	if err != nil {
		return err
	}
	if ch.Delivery() == protocol.Unreliable && len(msg) > s.cfg.MaxMessageSize {
		return fmt.Errorf("%w: %d > %d", backend.ErrTooLarge, len(msg), s.cfg.MaxMessageSize)
	}
	if err := p.outbox.Push(transport.Frame{Channel: ch, Payload: msg}); err != nil {
		s.drop(p, err)
		return err
	}
	return nil
}

func (s *Server) Receive() []backend.Packet {
	return s.inbox.Packets()
}

func (s *Server) Events() []backend.Event {
	return s.inbox.Events()
}

func (s *Server) MaxMessageSize(_ backend.ClientID, ch protocol.Channel) int {
	if ch.Delivery() == protocol.Unreliable {
		return s.cfg.MaxMessageSize
	}
	return int(s.cfg.ReadLimit) - 1
}

func (s *Server) Disconnect(client backend.ClientID) error {
	p, err := s.peer(client)
	if err != nil {
		return err
	}
	s.drop(p, nil)
	return nil
}

// Close drops every peer. The http.Server serving the handler is the
// caller's to shut down.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		s.drop(p, nil)
	}
	s.wg.Wait()
	return nil
}
