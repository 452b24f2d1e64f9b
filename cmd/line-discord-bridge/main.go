// Copyright 2024-2026 Aiku AI

// Command line-discord-bridge relays messages between a LINE Messaging
// API channel and a Discord server. LINE users must register a display
// name (stored encrypted at rest) before their messages are shared;
// Discord messages in a designated sync channel are broadcast back to
// all LINE subscribers, rate limited.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/aiku/line-discord-bridge/pkg/bridge"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional; env vars override)")
	printExample := flag.Bool("example-config", false, "print the example config and exit")
	flag.Parse()

	if *printExample {
		fmt.Print(bridge.ExampleConfig)
		return
	}

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	log.Info().Str("tag", Tag).Str("commit", Commit).Str("build_time", BuildTime).Msg("Starting line-discord-bridge")

	cfg, err := bridge.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if missing := cfg.Validate(); len(missing) > 0 {
		for _, item := range missing {
			log.Error().Str("item", item).Msg("Missing required configuration")
		}
		log.Fatal().Int("missing", len(missing)).Msg("Configuration incomplete, refusing to start")
	}

	b, err := bridge.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bridge")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Bridge exited with error")
	}
	log.Info().Msg("Bridge stopped")
}
