// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/line-discord-bridge/pkg/bridge/lineapi"
)

// maxWebhookBodySize caps inbound webhook bodies (1 MB).
const maxWebhookBodySize = 1 << 20

// Server is the inbound HTTP surface: the LINE webhook plus read-only
// status, health and metrics endpoints.
type Server struct {
	cfg      Config
	relay    *Relay
	registry *NicknameRegistry
	limiter  *BroadcastLimiter
	metrics  *Metrics
	store    *CredentialStore

	discordConnected  func() bool
	lineAuthenticated func() bool

	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer wires the HTTP server. The connection probes feed the
// status endpoint.
func NewServer(cfg Config, relay *Relay, registry *NicknameRegistry, limiter *BroadcastLimiter,
	metrics *Metrics, store *CredentialStore,
	discordConnected, lineAuthenticated func() bool, log zerolog.Logger) *Server {
	s := &Server{
		cfg:               cfg,
		relay:             relay,
		registry:          registry,
		limiter:           limiter,
		metrics:           metrics,
		store:             store,
		discordConnected:  discordConnected,
		lineAuthenticated: lineAuthenticated,
		log:               log.With().Str("component", "http_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/line-webhook", s.handleLineWebhook)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/", s.handleStatus)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the routing mux. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("Starting HTTP server")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleLineWebhook accepts webhook deliveries from the LINE platform.
// The signature gate runs before anything touches state. Individual
// event failures never fail the request; the platform gets 200 as soon
// as the envelope parses, and 500 only on a parse failure so it may
// redeliver.
func (s *Server) handleLineWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("body_error").Inc()
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if s.cfg.Line.SkipSignatureVerification {
		s.log.Warn().Msg("Webhook signature verification is DISABLED by config; accepting unverified request")
	} else if !lineapi.ValidateSignature(s.cfg.Line.ChannelSecret, body, r.Header.Get(lineapi.SignatureHeader)) {
		s.metrics.WebhookRequests.WithLabelValues("bad_signature").Inc()
		s.log.Warn().Str("remote_addr", r.RemoteAddr).Msg("Rejected webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	env, err := lineapi.ParseEnvelope(body)
	if err != nil {
		s.metrics.WebhookRequests.WithLabelValues("parse_error").Inc()
		s.log.Error().Err(err).Msg("Failed to parse webhook envelope")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	s.log.Info().
		Str("destination", env.Destination).
		Int("event_count", len(env.Events)).
		Msg("Webhook received")

	// Independent events are processed concurrently; each gets its own
	// timeout so a hung downstream cannot pile up goroutines forever.
	for i := range env.Events {
		evt := env.Events[i]
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
			defer cancel()
			s.relay.HandleLineEvent(ctx, &evt)
		}()
	}

	s.metrics.WebhookRequests.WithLabelValues("ok").Inc()
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"healthy","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
}

// handleStatus reports connection and bridge state. Secrets are never
// echoed; only presence booleans appear.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	connState := func(up bool, yes, no string) string {
		if up {
			return yes
		}
		return no
	}

	status := map[string]any{
		"status":    "ok",
		"service":   "line-discord-bridge",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"discord":   connState(s.discordConnected(), "connected", "disconnected"),
		"line":      connState(s.lineAuthenticated(), "authenticated", "not authenticated"),
		"nicknames": map[string]any{
			"count":     s.registry.Count(),
			"required":  true,
			"encrypted": true,
		},
		"broadcast": s.broadcastStatus(),
		"security": map[string]any{
			"encryption_algorithm": EncryptionAlgorithm,
			"encryption_key_set":   !s.store.KeyGenerated(),
			"signature_verified":   !s.cfg.Line.SkipSignatureVerification,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write status response")
	}
}

func (s *Server) broadcastStatus() map[string]any {
	bs := map[string]any{
		"enabled":      s.cfg.Broadcast.Enabled,
		"min_interval": s.cfg.Broadcast.MinInterval.String(),
	}
	if last := s.limiter.LastSent(); !last.IsZero() {
		bs["last_sent"] = last.UTC().Format(time.RFC3339)
		bs["next_allowed"] = s.limiter.NextAllowedAt().UTC().Format(time.RFC3339)
	} else {
		bs["last_sent"] = nil
	}
	return bs
}

// handleConfig echoes non-secret configuration for debugging. Only
// served outside production posture; secrets appear as presence
// booleans regardless.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.IsProduction() {
		http.NotFound(w, r)
		return
	}

	cfg := map[string]any{
		"line": map[string]any{
			"channel_id":                  s.cfg.Line.ChannelID,
			"has_channel_secret":          s.cfg.Line.ChannelSecret != "",
			"has_private_key":             s.cfg.Line.PrivateKey != "",
			"skip_signature_verification": s.cfg.Line.SkipSignatureVerification,
		},
		"discord": map[string]any{
			"sync_channel_id": s.cfg.Discord.SyncChannelID,
			"has_token":       s.cfg.Discord.Token != "",
			"has_webhook_url": s.cfg.Discord.WebhookURL != "",
		},
		"nicknames": map[string]any{
			"count":     s.registry.Count(),
			"required":  true,
			"encrypted": true,
			"file":      s.cfg.Storage.NicknameFile,
		},
		"broadcast": map[string]any{
			"enabled":      s.cfg.Broadcast.Enabled,
			"min_interval": s.cfg.Broadcast.MinInterval.String(),
		},
		"security": map[string]any{
			"encryption_algorithm": EncryptionAlgorithm,
			"encryption_key_set":   !s.store.KeyGenerated(),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(cfg); err != nil {
		s.log.Warn().Err(err).Msg("Failed to write config response")
	}
}
