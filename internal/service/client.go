package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/capture"
	"github.com/danmuck/replica/internal/client"
	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/transport"
	"github.com/danmuck/replica/internal/transport/quic"
	"github.com/danmuck/replica/internal/transport/ws"
	"github.com/danmuck/replica/internal/world"
	"github.com/rs/zerolog/log"
)

// Client mirrors a replicad world, reconnecting with backoff when the
// connection drops.
type Client struct {
	cfg      config.ClientConfig
	world    *world.World
	receiver *client.Receiver
	hash     uint64
	events   *event.Registry
	rng      *rand.Rand

	respawns uint64
}

func NewClient(cfg config.ClientConfig) *Client {
	w := world.New()
	rcfg := client.DefaultConfig()
	if cfg.DedupWindow > 0 {
		rcfg.DedupWindow = cfg.DedupWindow
	}
	components, events := demo.Protocol()
	return &Client{
		cfg:      cfg,
		world:    w,
		receiver: client.NewReceiver(w, components, rcfg),
		hash:     components.Hash(),
		events:   events,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return c.Serve(ctx)
}

// Serve dials, mirrors and redials until ctx is done.
func (c *Client) Serve(ctx context.Context) error {
	var rec client.Recorder
	if path := strings.TrimSpace(c.cfg.CapturePath); path != "" {
		capw, err := capture.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := capw.Close(); err != nil {
				log.Warn().Msgf("service.Client capture close err=%v", err)
			}
		}()
		rec = capw
	}

	attempt := 0
	for {
		t, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			attempt++
			delay := transport.NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
			log.Warn().Msgf("service.Client dial attempt=%d retry_in=%s err=%v", attempt, delay, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		cl := client.New(t, c.receiver, c.hash)
		cl.UseEvents(c.events)
		if rec != nil {
			cl.SetRecorder(rec)
		}
		err = c.mirror(ctx, cl)
		_ = t.Disconnect()
		c.receiver.Reset()
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Msgf("service.Client connection ended err=%v", err)
	}
}

func (c *Client) dial(ctx context.Context) (backend.ClientTransport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	switch c.cfg.Transport {
	case config.TransportQuic:
		tlsCfg, err := transport.ClientTLS(c.cfg.TLS)
		if err != nil {
			return nil, err
		}
		qcfg := quic.DefaultConfig()
		qcfg.Addr = c.cfg.Addr
		qcfg.TLS = tlsCfg
		t, err := quic.Dial(dialCtx, qcfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TransportWS:
		t, err := ws.Dial(dialCtx, c.cfg.Addr, ws.DefaultConfig())
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("service.Client unknown transport %q", c.cfg.Transport)
	}
}

var errConnectionLost = errors.New("connection lost")

// mirror steps cl until the transport drops or ctx is done.
func (c *Client) mirror(ctx context.Context, cl *client.Client) error {
	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	var summary <-chan time.Time
	if c.cfg.SummaryInterval > 0 {
		t := time.NewTicker(c.cfg.SummaryInterval)
		defer t.Stop()
		summary = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-summary:
			stats := c.receiver.Stats()
			log.Info().Msgf("service.Client tick=%d %s messages=%d buffered=%d duplicates=%d stale=%d respawns=%d",
				c.receiver.UpdateTick(), demo.Summary(c.world), stats.Messages, c.receiver.Buffered(), stats.Duplicates, stats.Stale, c.respawns)
		case <-poll.C:
			if err := cl.Step(); err != nil {
				return err
			}
			c.handleEvents(cl)
			if !cl.Connected() {
				return errConnectionLost
			}
		}
	}
}

// handleEvents nudges every box the server reports as respawned.
func (c *Client) handleEvents(cl *client.Client) {
	for _, ev := range cl.TakeEvents() {
		if ev.ID != demo.RespawnedEvent {
			continue
		}
		c.respawns++
		log.Debug().Msgf("service.Client respawned label=%s targets=%v", ev.Value.(demo.Respawned).Label, ev.Targets)
		nudge := event.Event{ID: demo.NudgeEvent, Value: demo.Nudge{}, Targets: ev.Targets}
		if err := cl.SendEvent(nudge); err != nil {
			log.Warn().Msgf("service.Client nudge err=%v", err)
		}
	}
}
