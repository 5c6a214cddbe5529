package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ewbridge/internal/config"
	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "ewbridge.toml", "path to a TOML or YAML config file")
	flag.Parse()

	observability.InitLogger("ewbridge")
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log.Info().
		Str("path", *configPath).
		Str("topology", string(cfg.Topology)).
		Str("address", cfg.Address).
		Msg("loaded config")

	b, err := build(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build bridge")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := b.run(ctx); err != nil {
		log.Fatal().Err(err).Msg("bridge stopped")
	}
	log.Info().Msg("bridge stopped")
}
