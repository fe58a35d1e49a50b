package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/transport"
	quicgo "github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

type peer struct {
	id     backend.ClientID
	conn   quicgo.Connection
	stream quicgo.Stream
	outbox *transport.Outbox
	once   sync.Once
}

// Server implements backend.ServerTransport.
type Server struct {
	cfg      Config
	listener *quicgo.Listener
	inbox    transport.Inbox
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.RWMutex
	peers  map[backend.ClientID]*peer
	closed bool
}

func Listen(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.TLS == nil {
		return nil, errors.New("quic: server tls config required")
	}
	listener, err := quicgo.ListenAddr(cfg.Addr, cfg.TLS, cfg.quic())
	if err != nil {
		return nil, fmt.Errorf("quic.Listen addr=%s: %w", cfg.Addr, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		cfg:      cfg,
		listener: listener,
		ctx:      ctx,
		cancel:   cancel,
		peers:    make(map[backend.ClientID]*peer),
	}
	s.wg.Add(1)
	go s.acceptLoop()
	log.Info().Msgf("quic.Listen addr=%s", listener.Addr())
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				log.Warn().Msgf("quic.acceptLoop err=%v", err)
			}
			return
		}
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn quicgo.Connection) {
	defer s.wg.Done()
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.HandshakeTimeout)
	stream, err := conn.AcceptStream(ctx)
	cancel()
	if err != nil {
		log.Debug().Msgf("quic.serve no stream remote=%s err=%v", conn.RemoteAddr(), err)
		_ = conn.CloseWithError(codeProtocol, "no stream")
		return
	}

	p := &peer{
		id:     backend.NewClientID(),
		conn:   conn,
		stream: stream,
		outbox: transport.NewOutbox(s.cfg.QueueDepth),
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.CloseWithError(codeNormal, "closed")
		return
	}
	s.peers[p.id] = p
	s.mu.Unlock()
	s.inbox.PushEvent(backend.Event{Client: p.id, Kind: backend.Connected})
	log.Info().Msgf("quic.serve connected client=%s remote=%s", p.id, conn.RemoteAddr())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := p.outbox.Run(func(f transport.Frame) error {
			return transport.WriteFrame(stream, f, s.cfg.Limits)
		})
		if err != nil {
			s.drop(p, fmt.Errorf("write: %w", err))
		}
	}()

	for {
		f, err := transport.ReadFrame(stream, s.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			s.drop(p, err)
			return
		}
		s.inbox.Push(backend.Packet{Client: p.id, Channel: f.Channel, Payload: f.Payload})
	}
}

// drop closes p once and reports the disconnect.
func (s *Server) drop(p *peer, cause error) {
	p.once.Do(func() {
		s.mu.Lock()
		delete(s.peers, p.id)
		s.mu.Unlock()
		p.outbox.Close()
		code, reason := codeNormal, "bye"
		if cause != nil {
			code, reason = codeProtocol, cause.Error()
		}
		_ = p.conn.CloseWithError(code, reason)
		s.inbox.PushEvent(backend.Event{Client: p.id, Kind: backend.Disconnected, Err: cause})
		log.Info().Msgf("quic.drop client=%s err=%v", p.id, cause)
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
	if ch.Delivery() == protocol.Unreliable {
		if len(msg) > s.cfg.MaxDatagramSize {
			return fmt.Errorf("%w: %d > %d", backend.ErrTooLarge, len(msg), s.cfg.MaxDatagramSize)
		}
		return p.conn.SendDatagram(msg)
	}
	if err := p.outbox.Push(transport.Frame{Channel: ch, Payload: msg}); err != nil {
		if errors.Is(err, transport.ErrQueueFull) {
			s.drop(p, err)
		}
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
		return s.cfg.MaxDatagramSize
	}
	return int(s.cfg.Limits.MaxPayloadBytes)
}

func (s *Server) Disconnect(client backend.ClientID) error {
	p, err := s.peer(client)
	if err != nil {
		return err
	}
	s.drop(p, nil)
	return nil
}

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
	s.cancel()
	err := s.listener.Close()
	s.wg.Wait()
	return err
}
