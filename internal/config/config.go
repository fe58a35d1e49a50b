// Package config loads replicad and replica-client settings from TOML or
// YAML files. Keys missing from a file keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/replica/internal/logging"
	"github.com/danmuck/replica/internal/server"
	"github.com/danmuck/replica/internal/transport"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownKeys = errors.New("config: unknown keys")
	ErrInvalid     = errors.New("config: invalid")
)

const (
	TransportQuic = "quic"
	TransportWS   = "ws"
)

// ReplicationConfig maps onto server.Config.
type ReplicationConfig struct {
	Visibility          string        `toml:"visibility" yaml:"visibility"`
	ForceEmptyUpdates   bool          `toml:"force_empty_updates" yaml:"force_empty_updates"`
	TrackMutateMessages bool          `toml:"track_mutate_messages" yaml:"track_mutate_messages"`
	MutationsTimeout    time.Duration `toml:"mutations_timeout" yaml:"mutations_timeout"`
	MaxMessageSize      int           `toml:"max_message_size" yaml:"max_message_size"`
}

type ServerConfig struct {
	Transport   string              `toml:"transport" yaml:"transport"`
	Listen      string              `toml:"listen" yaml:"listen"`
	WSPath      string              `toml:"ws_path" yaml:"ws_path"`
	AdminAddr   string              `toml:"admin_addr" yaml:"admin_addr"`
	CorsOrigins []string            `toml:"cors_origins" yaml:"cors_origins"`
	TickRate    time.Duration       `toml:"tick_rate" yaml:"tick_rate"`
	Boxes       int                 `toml:"boxes" yaml:"boxes"`
	Seed        int64               `toml:"seed" yaml:"seed"`
	CapturePath string              `toml:"capture_path" yaml:"capture_path"`
	LogLevel    string              `toml:"log_level" yaml:"log_level"`
	TLS         transport.TLSConfig `toml:"tls" yaml:"tls"`
	Replication ReplicationConfig   `toml:"replication" yaml:"replication"`
}

type ClientConfig struct {
	Transport string `toml:"transport" yaml:"transport"`
	// Addr is host:port for quic and a ws:// url for ws.
	Addr            string                  `toml:"addr" yaml:"addr"`
	DedupWindow     int                     `toml:"dedup_window" yaml:"dedup_window"`
	SummaryInterval time.Duration           `toml:"summary_interval" yaml:"summary_interval"`
	PollInterval    time.Duration           `toml:"poll_interval" yaml:"poll_interval"`
	CapturePath     string                  `toml:"capture_path" yaml:"capture_path"`
	LogLevel        string                  `toml:"log_level" yaml:"log_level"`
	TLS             transport.TLSConfig     `toml:"tls" yaml:"tls"`
	Backoff         transport.BackoffConfig `toml:"backoff" yaml:"backoff"`
}

func DefaultServerConfig() ServerConfig {
	rep := server.DefaultConfig()
	return ServerConfig{
		Transport:   TransportQuic,
		Listen:      "127.0.0.1:7440",
		WSPath:      "/replica",
		AdminAddr:   "127.0.0.1:7441",
		CorsOrigins: []string{"http://localhost:3000"},
		TickRate:    time.Second / 30,
		Boxes:       32,
		Seed:        1,
		LogLevel:    "info",
		Replication: ReplicationConfig{
			Visibility:       rep.Visibility.String(),
			MutationsTimeout: rep.MutationsTimeout,
			MaxMessageSize:   rep.DefaultMaxMessageSize,
		},
	}
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:       TransportQuic,
		Addr:            "127.0.0.1:7440",
		DedupWindow:     1024,
		SummaryInterval: 2 * time.Second,
		PollInterval:    time.Second / 60,
		LogLevel:        "info",
		TLS:             transport.TLSConfig{InsecureSkipVerify: true},
		Backoff:         transport.DefaultBackoff(),
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := load(path, &cfg); err != nil {
		return ServerConfig{}, err
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if err := ValidateServerConfig(cfg); err != nil {
		return ServerConfig{}, err
	}
	return cfg, nil
}

func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := load(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	cfg.Transport = strings.ToLower(strings.TrimSpace(cfg.Transport))
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// load decodes path over the defaults already in out. Unknown keys are an
// error in both formats.
func load(path string, out any) error {
	if isYAML(path) {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("config load failed (%s): %w", path, err)
		}
		defer f.Close()
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(out); err != nil {
			return fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		return nil
	}

	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("%w (%s): %s", ErrUnknownKeys, path, strings.Join(keys, ", "))
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func validateTransport(kind string) error {
	switch kind {
	case TransportQuic, TransportWS:
		return nil
	default:
		return invalid("transport %q (expected quic or ws)", kind)
	}
}

func ValidateServerConfig(cfg ServerConfig) error {
	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Listen) == "" {
		return invalid("listen is required")
	}
	if cfg.Transport == TransportWS && !strings.HasPrefix(cfg.WSPath, "/") {
		return invalid("ws_path must start with /")
	}
	if cfg.TickRate <= 0 {
		return invalid("tick_rate must be positive")
	}
	if _, err := Level(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.Boxes < 0 {
		return invalid("boxes must not be negative")
	}
	if _, err := cfg.Replication.Server(); err != nil {
		return err
	}
	if cfg.Transport == TransportQuic {
		if err := cfg.TLS.ValidateServer(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	if err := validateTransport(cfg.Transport); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return invalid("addr is required")
	}
	if cfg.Transport == TransportWS && !strings.HasPrefix(cfg.Addr, "ws://") && !strings.HasPrefix(cfg.Addr, "wss://") {
		return invalid("ws addr must be a ws:// or wss:// url")
	}
	if _, err := Level(cfg.LogLevel); err != nil {
		return err
	}
	if cfg.DedupWindow < 0 {
		return invalid("dedup_window must not be negative")
	}
	if cfg.PollInterval <= 0 {
		return invalid("poll_interval must be positive")
	}
	if cfg.Transport == TransportQuic {
		if err := cfg.TLS.ValidateClient(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return nil
}

// Server converts to the replicator settings.
func (r ReplicationConfig) Server() (server.Config, error) {
	policy, err := server.ParseVisibilityPolicy(r.Visibility)
	if err != nil {
		return server.Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if r.MaxMessageSize < 64 {
		return server.Config{}, invalid("max_message_size %d below 64", r.MaxMessageSize)
	}
	if r.MutationsTimeout < 0 {
		return server.Config{}, invalid("mutations_timeout must not be negative")
	}
	return server.Config{
		Visibility:            policy,
		ForceEmptyUpdates:     r.ForceEmptyUpdates,
		TrackMutateMessages:   r.TrackMutateMessages,
		MutationsTimeout:      r.MutationsTimeout,
		DefaultMaxMessageSize: r.MaxMessageSize,
	}, nil
}

// Level parses a log level name. Empty means info.
func Level(raw string) (zerolog.Level, error) {
	if strings.TrimSpace(raw) == "" {
		return zerolog.InfoLevel, nil
	}
	level, ok := logging.ParseLevel(raw)
	if !ok {
		return zerolog.InfoLevel, invalid("log_level %q", raw)
	}
	return level, nil
}
