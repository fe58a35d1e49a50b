package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/rs/zerolog"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestTemplatesLoadAsDefaults(t *testing.T) {
	testlog.Start(t)
	for _, name := range []string{"server.toml", "server.yaml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := WriteTemplate(path, "server", false); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
		cfg, err := LoadServerConfig(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if !reflect.DeepEqual(cfg, DefaultServerConfig()) {
			t.Fatalf("%s differs from defaults:\n got=%+v\nwant=%+v", name, cfg, DefaultServerConfig())
		}
	}
	for _, name := range []string{"client.toml", "client.yml"} {
		path := filepath.Join(t.TempDir(), name)
		if err := WriteTemplate(path, "client", false); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
		cfg, err := LoadClientConfig(path)
		if err != nil {
			t.Fatalf("load %s: %v", name, err)
		}
		if !reflect.DeepEqual(cfg, DefaultClientConfig()) {
			t.Fatalf("%s differs from defaults:\n got=%+v\nwant=%+v", name, cfg, DefaultClientConfig())
		}
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "server.toml", "listen = \"x:1\"\n")
	if err := WriteTemplate(path, "server", false); err == nil {
		t.Fatalf("expected existing file to be kept")
	}
	if err := WriteTemplate(path, "server", true); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := Template("relay", false); err == nil {
		t.Fatalf("expected unknown kind to fail")
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "server.toml", `
transport = "WS"
tick_rate = "50ms"

[replication]
visibility = "whitelist"
track_mutate_messages = true
`)
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultServerConfig()
	if cfg.Transport != TransportWS || cfg.TickRate != 50*time.Millisecond {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.Listen != def.Listen || cfg.Boxes != def.Boxes || cfg.Replication.MaxMessageSize != def.Replication.MaxMessageSize {
		t.Fatalf("expected unset keys to keep defaults: %+v", cfg)
	}
	rep, err := cfg.Replication.Server()
	if err != nil {
		t.Fatalf("replication: %v", err)
	}
	if rep.Visibility != server.PolicyWhitelist || !rep.TrackMutateMessages || rep.ForceEmptyUpdates {
		t.Fatalf("unexpected replication config: %+v", rep)
	}
	if rep.MutationsTimeout != server.DefaultConfig().MutationsTimeout {
		t.Fatalf("expected default timeout, got %v", rep.MutationsTimeout)
	}
}

func TestYAMLClientConfig(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "client.yaml", `
transport: ws
addr: ws://127.0.0.1:7440/replica
log_level: debug
backoff:
  max_delay: 1s
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Transport != TransportWS || cfg.Backoff.MaxDelay != time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Backoff.InitialDelay != DefaultClientConfig().Backoff.InitialDelay {
		t.Fatalf("expected default initial delay, got %v", cfg.Backoff.InitialDelay)
	}
	level, err := Level(cfg.LogLevel)
	if err != nil || level != zerolog.DebugLevel {
		t.Fatalf("unexpected level %v err=%v", level, err)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "server.toml", "listen = \"127.0.0.1:1\"\nlisten_addr = \"x\"\n[replication]\nvisiblity = \"all\"\n")
	_, err := LoadServerConfig(path)
	if !errors.Is(err, ErrUnknownKeys) {
		t.Fatalf("expected ErrUnknownKeys, got %v", err)
	}
	if !strings.Contains(err.Error(), "listen_addr") || !strings.Contains(err.Error(), "replication.visiblity") {
		t.Fatalf("expected both keys named, got %v", err)
	}

	path = writeFile(t, "client.yaml", "addr: 127.0.0.1:1\nretries: 3\n")
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatalf("expected unknown yaml key to fail")
	}
}

func TestValidation(t *testing.T) {
	testlog.Start(t)
	cases := map[string]func(*ServerConfig){
		"transport":  func(c *ServerConfig) { c.Transport = "udp" },
		"listen":     func(c *ServerConfig) { c.Listen = " " },
		"tick":       func(c *ServerConfig) { c.TickRate = 0 },
		"visibility": func(c *ServerConfig) { c.Replication.Visibility = "some" },
		"max size":   func(c *ServerConfig) { c.Replication.MaxMessageSize = 10 },
		"tls":        func(c *ServerConfig) { c.TLS.CertFile = "cert.pem" },
		"log level":  func(c *ServerConfig) { c.LogLevel = "loud" },
		"ws path":    func(c *ServerConfig) { c.Transport = TransportWS; c.WSPath = "replica" },
	}
	for name, mutate := range cases {
		cfg := DefaultServerConfig()
		mutate(&cfg)
		if err := ValidateServerConfig(cfg); !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}

	client := DefaultClientConfig()
	client.Transport = TransportWS
	if err := ValidateClientConfig(client); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected host:port to be rejected for ws, got %v", err)
	}
	client = DefaultClientConfig()
	client.TLS.InsecureSkipVerify = false
	if err := ValidateClientConfig(client); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing ca to be rejected, got %v", err)
	}
}
