package ws

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Client implements backend.ClientTransport.
type Client struct {
	cfg       Config
	conn      *websocket.Conn
	inbox     transport.Inbox
	outbox    *transport.Outbox
	connected atomic.Bool
	once      sync.Once
	wg        sync.WaitGroup
}

// Dial connects to a ws:// or wss:// url.
func Dial(ctx context.Context, url string, cfg Config) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws.Dial url=%s: %w", url, err)
	}
	conn.SetReadLimit(cfg.ReadLimit)
	c := &Client{cfg: cfg, conn: conn, outbox: transport.NewOutbox(cfg.QueueDepth)}
	c.connected.Store(true)

	c.wg.Add(2)
	go c.readLoop()
	go func() {
		defer c.wg.Done()
		if err := c.outbox.Run(writeFrame(conn, cfg.WriteTimeout)); err != nil {
			c.close(fmt.Errorf("write: %w", err))
		}
	}()
	log.Info().Msgf("ws.Dial connected url=%s", url)
	return c, nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if clean(err) {
				err = nil
			}
			c.close(err)
			return
		}
		f, err := decode(msg)
		if err != nil {
			c.close(err)
			return
		}
		c.inbox.Push(backend.Packet{Channel: f.Channel, Payload: f.Payload})
	}
}

func (c *Client) close(cause error) {
	c.once.Do(func() {
		c.connected.Store(false)
		c.outbox.Close()
		if cause != nil {
			log.Warn().Msgf("ws.Client closed err=%v", cause)
		}
		_ = c.conn.WriteControl(websocket.CloseMessage, closeMessage(cause), time.Now().Add(time.Second))
		_ = c.conn.Close()
	})
}

func (c *Client) Send(ch protocol.Channel, msg []byte) error {
	if !c.connected.Load() {
		return backend.ErrClosed
	}
	return c.outbox.Push(transport.Frame{Channel: ch, Payload: msg})
}

func (c *Client) Receive() []backend.Packet {
	return c.inbox.Packets()
}

func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) Disconnect() error {
	c.close(nil)
	c.wg.Wait()
	return nil
}
