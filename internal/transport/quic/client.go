package quic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/transport"
	quicgo "github.com/quic-go/quic-go"
	"github.com/rs/zerolog/log"
)

// Client implements backend.ClientTransport.
type Client struct {
	cfg       Config
	conn      quicgo.Connection
	stream    quicgo.Stream
	inbox     transport.Inbox
	outbox    *transport.Outbox
	connected atomic.Bool
	once      sync.Once
	wg        sync.WaitGroup
}

// Dial connects to cfg.Addr and opens the reliable stream.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.TLS == nil {
		return nil, errors.New("quic: client tls config required")
	}
	conn, err := quicgo.DialAddr(ctx, cfg.Addr, cfg.TLS, cfg.quic())
	if err != nil {
		return nil, fmt.Errorf("quic.Dial addr=%s: %w", cfg.Addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeProtocol, "no stream")
		return nil, fmt.Errorf("quic.Dial open stream: %w", err)
	}
	c := &Client{
		cfg:    cfg,
		conn:   conn,
		stream: stream,
		outbox: transport.NewOutbox(cfg.QueueDepth),
	}
	c.connected.Store(true)

	c.wg.Add(3)
	go c.readLoop()
	go c.datagramLoop()
	go func() {
		defer c.wg.Done()
		err := c.outbox.Run(func(f transport.Frame) error {
			return transport.WriteFrame(stream, f, cfg.Limits)
		})
		if err != nil {
			c.close(fmt.Errorf("write: %w", err))
		}
	}()
	log.Info().Msgf("quic.Dial connected addr=%s", cfg.Addr)
	return c, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		f, err := transport.ReadFrame(c.stream, c.cfg.Limits)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.close(err)
			return
		}
		c.inbox.Push(backend.Packet{Channel: f.Channel, Payload: f.Payload})
	}
}

func (c *Client) datagramLoop() {
	defer c.wg.Done()
	for {
		msg, err := c.conn.ReceiveDatagram(c.conn.Context())
		if err != nil {
			c.close(err)
			return
		}
		c.inbox.Push(backend.Packet{Channel: protocol.ChannelMutations, Payload: msg})
	}
}

func (c *Client) close(cause error) {
	c.once.Do(func() {
		c.connected.Store(false)
		c.outbox.Close()
		code, reason := codeNormal, "bye"
		if cause != nil {
			code, reason = codeProtocol, cause.Error()
			log.Warn().Msgf("quic.Client closed err=%v", cause)
		}
		_ = c.conn.CloseWithError(code, reason)
	})
}

func (c *Client) Send(ch protocol.Channel, msg []byte) error {
	if !c.connected.Load() {
		return backend.ErrClosed
	}
	if ch.Delivery() == protocol.Unreliable {
		return c.conn.SendDatagram(msg)
	}
	return c.outbox.Push(transport.Frame{Channel: ch, Payload: msg})
}

func (c *Client) Receive() []backend.Packet {
	return c.inbox.Packets()
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Disconnect closes the connection and waits for its goroutines.
func (c *Client) Disconnect() error {
	c.close(nil)
	c.wg.Wait()
	return nil
}
