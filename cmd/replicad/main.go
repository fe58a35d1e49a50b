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
	path := flag.String("config", "", "server config (.toml or .yaml); defaults when empty")
	transport := flag.String("transport", "", "override transport: quic|ws")
	listen := flag.String("listen", "", "override listen address")
	flag.Parse()

	observability.InitLogger("replicad", "", zerolog.InfoLevel)
	cfg := config.DefaultServerConfig()
	if strings.TrimSpace(*path) != "" {
		loaded, err := config.LoadServerConfig(*path)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load server config")
		}
		cfg = loaded
		log.Info().Str("path", *path).Msg("loaded server config")
	}
	if *transport != "" {
		cfg.Transport = strings.ToLower(*transport)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := config.ValidateServerConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid server config")
	}
	level, _ := config.Level(cfg.LogLevel)
	observability.InitLogger("replicad", cfg.Listen, level)

	if err := service.NewServer(cfg).Run(); err != nil {
		log.Fatal().Err(err).Msg("replicad stopped")
	}
	log.Info().Msg("replicad stopped")
}
