package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/replica/internal/admin"
	"github.com/danmuck/replica/internal/backend"
	"github.com/danmuck/replica/internal/capture"
	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/demo"
	"github.com/danmuck/replica/internal/entity"
	"github.com/danmuck/replica/internal/event"
	"github.com/danmuck/replica/internal/protocol"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/transport"
	"github.com/danmuck/replica/internal/transport/quic"
	"github.com/danmuck/replica/internal/transport/ws"
	"github.com/danmuck/replica/internal/world"
	"github.com/rs/zerolog/log"
)

// Server runs the demo simulation and replicates it to connected clients.
type Server struct {
	cfg   config.ServerConfig
	board *admin.Board
}

func NewServer(cfg config.ServerConfig) *Server {
	return &Server{cfg: cfg, board: admin.NewBoard()}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Serve(ctx)
}

// Serve runs until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	rep, err := s.cfg.Replication.Server()
	if err != nil {
		return err
	}
	w := world.New()
	components, events := demo.Protocol()
	srv := server.New(w, components, rep)
	srv.UseEvents(events)
	sim := demo.NewSim(w, s.cfg.Boxes, s.cfg.Seed)
	sim.OnRespawn = func(e entity.Entity, label demo.Label) {
		ev := event.Event{ID: demo.RespawnedEvent, Value: demo.Respawned{Label: label}, Targets: []entity.Entity{e}}
		if err := srv.SendEvent(event.ToAll(), ev); err != nil {
			log.Warn().Msgf("service.Server respawn event err=%v", err)
		}
	}

	var rec server.Recorder
	if path := strings.TrimSpace(s.cfg.CapturePath); path != "" {
		capw, err := capture.Create(path)
		if err != nil {
			return err
		}
		defer func() {
			if err := capw.Close(); err != nil {
				log.Warn().Msgf("service.Server capture close err=%v", err)
			}
			log.Info().Msgf("service.Server capture path=%s records=%d", path, capw.Records())
		}()
		rec = capw
	}

	var adm *admin.Admin
	if addr := strings.TrimSpace(s.cfg.AdminAddr); addr != "" {
		adm = admin.New("replicad", addr, s.cfg.CorsOrigins, s.board)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 3)

	t, err := s.listen(ctx, adm, errc)
	if err != nil {
		return err
	}
	defer t.Close()

	if adm != nil {
		go func() { errc <- adm.Serve(ctx) }()
	}

	log.Info().Msgf("service.Server replicating transport=%s listen=%s boxes=%d visibility=%s hash=%016x",
		s.cfg.Transport, s.cfg.Listen, s.cfg.Boxes, rep.Visibility, srv.ProtocolHash())
	go func() {
		errc <- srv.Run(ctx, t, server.RunOptions{
			TickRate: s.cfg.TickRate,
			Simulate: func(tick protocol.Tick) {
				applyNudges(sim, srv.TakeClientEvents())
				sim.Step(tick)
			},
			OnStep:   s.board.Publish,
			Recorder: rec,
		})
	}()

	err = <-errc
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Server) listen(ctx context.Context, adm *admin.Admin, errc chan<- error) (backend.ServerTransport, error) {
	switch s.cfg.Transport {
	case config.TransportQuic:
		tlsCfg, err := transport.ServerTLS(s.cfg.TLS)
		if err != nil {
			return nil, err
		}
		qcfg := quic.DefaultConfig()
		qcfg.Addr = s.cfg.Listen
		qcfg.TLS = tlsCfg
		t, err := quic.Listen(ctx, qcfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.TransportWS:
		wcfg := ws.DefaultConfig()
		wcfg.MaxMessageSize = s.cfg.Replication.MaxMessageSize
		t := ws.NewServer(wcfg)
		if adm != nil && s.cfg.AdminAddr == s.cfg.Listen {
			adm.Mount(s.cfg.WSPath, t)
			return t, nil
		}
		mux := http.NewServeMux()
		mux.Handle(s.cfg.WSPath, t)
		hs := &http.Server{Addr: s.cfg.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			_ = hs.Close()
		}()
		go func() {
			log.Info().Msgf("service.Server ws listening addr=%s path=%s", s.cfg.Listen, s.cfg.WSPath)
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- err
			}
		}()
		return t, nil
	default:
		return nil, fmt.Errorf("service.Server unknown transport %q", s.cfg.Transport)
	}
}

func applyNudges(sim *demo.Sim, in []event.FromClient) {
	for _, ev := range in {
		if ev.Event.ID != demo.NudgeEvent {
			continue
		}
		for _, e := range ev.Event.Targets {
			if !sim.Nudge(e) {
				log.Debug().Msgf("service.Server nudge of missing box client=%s entity=%v", ev.Client, e)
			}
		}
	}
}
