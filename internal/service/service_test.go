package service

import (
	"context"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func TestServerStopsOnCancel(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultServerConfig()
	cfg.Listen = "127.0.0.1:0"
	cfg.AdminAddr = ""
	cfg.Boxes = 4
	cfg.TickRate = 5 * time.Millisecond
	svc := NewServer(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := svc.Serve(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}
	if steps, _ := svc.board.Steps(); steps == 0 {
		t.Fatalf("expected replication steps before shutdown")
	}
}

func TestServerRejectsBadReplicationConfig(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultServerConfig()
	cfg.Replication.Visibility = "sometimes"
	if err := NewServer(cfg).Serve(context.Background()); err == nil {
		t.Fatalf("expected invalid visibility to fail")
	}
}

func TestClientRetriesUntilCancel(t *testing.T) {
	testlog.Start(t)

	cfg := config.DefaultClientConfig()
	cfg.Transport = config.TransportWS
	cfg.Addr = "ws://127.0.0.1:1/replica"
	cfg.Backoff.InitialDelay = time.Millisecond
	cfg.Backoff.MaxDelay = 5 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := NewClient(cfg).Serve(ctx); err != nil {
		t.Fatalf("serve: %v", err)
	}
}
