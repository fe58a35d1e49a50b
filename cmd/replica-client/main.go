package main

import (
	"flag"
	"strings"

	"github.com/danmuck/replica/internal/config"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/service"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "client config (.toml or .yaml); defaults when empty")
	transport := flag.String("transport", "", "override transport: quic|ws")
	addr := flag.String("addr", "", "override server address (host:port or ws url)")
	flag.Parse()

	observability.InitLogger("replica-client", "", zerolog.InfoLevel)
	cfg := config.DefaultClientConfig()
	if strings.TrimSpace(*path) != "" {
		loaded, err := config.LoadClientConfig(*path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load client config")
		}
		cfg = loaded
		log.Info().Str("path", *path).Msg("loaded client config")
	}
	if *transport != "" {
		cfg.Transport = strings.ToLower(*transport)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if err := config.ValidateClientConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid client config")
	}
	level, _ := config.Level(cfg.LogLevel)
	observability.InitLogger("replica-client", "", level)

	if err := service.NewClient(cfg).Run(); err != nil {
		log.Fatal().Err(err).Msg("replica-client stopped")
	}
}
