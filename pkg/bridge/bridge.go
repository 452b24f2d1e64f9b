// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/line-discord-bridge/pkg/bridge/lineapi"
)

// Bridge owns every component and their lifecycle. Construction wires
// the dependency graph; Run connects the external surfaces and blocks
// until the context is cancelled.
type Bridge struct {
	cfg Config
	log zerolog.Logger

	store    *CredentialStore
	registry *NicknameRegistry
	limiter  *BroadcastLimiter
	dedup    *DedupWindow
	metrics  *Metrics
	line     *lineapi.Client
	relay    *Relay
	admin    *AdminHandler
	discord  *DiscordConnector
	server   *Server
}

// New builds the full component graph from a validated config.
func New(cfg Config, log zerolog.Logger) (*Bridge, error) {
	store, err := NewCredentialStore(cfg.Encryption.Key, log)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}

	registry := NewNicknameRegistry(store, cfg.Storage.NicknameFile, log)
	limiter := NewBroadcastLimiter(cfg.Broadcast.MinInterval)
	dedup := NewDedupWindow(DefaultDedupCapacity)
	metrics := NewMetrics()

	line, err := lineapi.NewClient(cfg.Line.ChannelID, cfg.Line.KeyID, cfg.Line.PrivateKey, log)
	if err != nil {
		return nil, fmt.Errorf("line client: %w", err)
	}

	webhookSender := NewWebhookSender(cfg.Discord.WebhookURL, log)
	relay := NewRelay(registry, limiter, dedup, line, webhookSender, metrics, cfg.Broadcast.Enabled, log)
	admin := NewAdminHandler(registry, limiter, cfg.Broadcast.Enabled, log)

	discord, err := NewDiscordConnector(cfg.Discord.Token, cfg.Discord.SyncChannelID, relay, admin, log)
	if err != nil {
		return nil, fmt.Errorf("discord connector: %w", err)
	}
	admin.SetProbes(discord.Connected, line.Authenticated)

	server := NewServer(cfg, relay, registry, limiter, metrics, store,
		discord.Connected, line.Authenticated, log)

	return &Bridge{
		cfg:      cfg,
		log:      log,
		store:    store,
		registry: registry,
		limiter:  limiter,
		dedup:    dedup,
		metrics:  metrics,
		line:     line,
		relay:    relay,
		admin:    admin,
		discord:  discord,
		server:   server,
	}, nil
}

// Run starts the bridge and blocks until ctx is cancelled or the HTTP
// listener fails.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.registry.Load(); err != nil {
		return fmt.Errorf("failed to load nickname registry: %w", err)
	}

	if err := b.discord.Connect(); err != nil {
		return err
	}
	defer b.discord.Disconnect()

	// Warm the token cache so the first relay does not pay the grant
	// round-trip. Failure is not fatal; sends retry on demand.
	go func() {
		tokenCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := b.line.AccessToken(tokenCtx); err != nil {
			b.log.Warn().Err(err).Msg("Initial LINE token fetch failed; will retry on first send")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- b.server.Run()
	}()

	b.log.Info().
		Int("port", b.cfg.Server.Port).
		Int("nicknames", b.registry.Count()).
		Bool("broadcast_enabled", b.cfg.Broadcast.Enabled).
		Bool("encryption_key_generated", b.store.KeyGenerated()).
		Msg("Bridge running")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.server.Shutdown(shutdownCtx); err != nil {
		b.log.Warn().Err(err).Msg("HTTP server shutdown error")
	}
	return nil
}
