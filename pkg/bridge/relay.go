// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/aiku/line-discord-bridge/pkg/bridge/lineapi"
)

// lineSender is the outbound LINE surface the relay needs. The real
// implementation is *lineapi.Client; tests inject a mock.
type lineSender interface {
	Reply(ctx context.Context, replyToken, text string) error
	Broadcast(ctx context.Context, text string) error
}

// discordSender posts annotated messages to the Discord side. The real
// implementation is the webhook sender in discord.go.
type discordSender interface {
	Send(ctx context.Context, content, username, avatarURL string) error
}

var nickCommandPattern = regexp.MustCompile(`(?i)^nick\s+(.+)$`)

// nicknamePrompt is sent to users who message the bridge before
// registering a display name.
const nicknamePrompt = `👋 Welcome!

Before your messages can be shared, please choose a display name.

📝 How to set one:
nick <your name>

Examples:
nick Taro
nick Hanako

⚠️ Notes:
• 20 characters or fewer
• Once set, your messages are shared with Discord and other LINE users
• A name other than your real one is recommended

🔒 Security:
• Display names are stored encrypted
• Even the operators cannot casually read them

Once your name is set, message sharing begins!`

// Relay is the protocol core. Each inbound event runs through dedup,
// the nick-command interceptor and the nickname gate before being
// fanned out to the other platform and the origin platform's broadcast
// audience.
type Relay struct {
	registry *NicknameRegistry
	limiter  *BroadcastLimiter
	dedup    *DedupWindow
	line     lineSender
	discord  discordSender
	metrics  *Metrics
	log      zerolog.Logger

	broadcastEnabled bool
}

// NewRelay wires the relay from its collaborators.
func NewRelay(registry *NicknameRegistry, limiter *BroadcastLimiter, dedup *DedupWindow,
	line lineSender, discord discordSender, metrics *Metrics,
	broadcastEnabled bool, log zerolog.Logger) *Relay {
	return &Relay{
		registry:         registry,
		limiter:          limiter,
		dedup:            dedup,
		line:             line,
		discord:          discord,
		metrics:          metrics,
		log:              log.With().Str("component", "relay").Logger(),
		broadcastEnabled: broadcastEnabled,
	}
}

// HandleLineEvent processes one inbound LINE webhook event. Send
// failures are logged and swallowed here; the webhook loop never dies
// because a downstream call failed.
func (r *Relay) HandleLineEvent(ctx context.Context, evt *lineapi.WebhookEvent) {
	if !evt.IsUserText() {
		return
	}
	r.metrics.EventsReceived.WithLabelValues("line").Inc()

	userID := evt.Source.UserID
	text := evt.Message.Text
	log := r.log.With().Str("user_id", userID).Str("message_id", evt.Message.ID).Logger()

	// Webhook deliveries may be repeated; drop duplicates silently.
	if !r.dedup.CheckAndAdd("line_" + evt.Message.ID) {
		r.metrics.DedupDrops.WithLabelValues("line").Inc()
		log.Debug().Msg("Dropping duplicate LINE event")
		return
	}

	// nick command: update the registry and reply, nothing is relayed.
	if m := nickCommandPattern.FindStringSubmatch(text); m != nil {
		result := r.registry.Set(userID, m[1])
		if err := r.line.Reply(ctx, evt.ReplyToken, result.Message); err != nil {
			r.metrics.SendFailures.WithLabelValues("line_reply").Inc()
			log.Error().Err(err).Msg("Failed to send nick command reply")
		}
		log.Info().Bool("accepted", result.Accepted).Msg("Processed nick command")
		return
	}

	// Nickname gate: unregistered senders only get the onboarding prompt.
	nickname, ok := r.registry.Get(userID)
	if !ok {
		if err := r.line.Reply(ctx, evt.ReplyToken, nicknamePrompt); err != nil {
			r.metrics.SendFailures.WithLabelValues("line_reply").Inc()
			log.Error().Err(err).Msg("Failed to send nickname prompt")
		}
		return
	}

	// Direct relay to Discord, annotated with the chosen nickname and
	// never the raw platform user id.
	if err := r.discord.Send(ctx, text, nickname, ""); err != nil {
		r.metrics.SendFailures.WithLabelValues("discord_webhook").Inc()
		log.Error().Err(err).Msg("Failed to relay message to Discord")
	} else {
		r.metrics.MessagesRelayed.WithLabelValues("line_to_discord").Inc()
	}

	// Independent broadcast to the other LINE subscribers. A limiter
	// denial skips the broadcast entirely; the direct relay above
	// already happened.
	r.broadcastWithLimit(ctx, fmt.Sprintf("%s: %s", nickname, text), log)

	log.Info().Str("nickname", nickname).Msg("Shared LINE message")
}

// DiscordRelayOutcome tells the Discord side how to signal the result
// of a sync-channel relay back to the human observer.
type DiscordRelayOutcome int

const (
	// DiscordRelayDuplicate means a redelivered message was dropped; no
	// reaction is added.
	DiscordRelayDuplicate DiscordRelayOutcome = iota
	// DiscordRelaySent means the broadcast went out.
	DiscordRelaySent
	// DiscordRelayBlocked means the broadcast was throttled, disabled
	// or failed.
	DiscordRelayBlocked
)

// HandleDiscordMessage relays a message from the Discord sync channel
// to the LINE broadcast audience.
func (r *Relay) HandleDiscordMessage(ctx context.Context, messageID, displayName, content string) DiscordRelayOutcome {
	r.metrics.EventsReceived.WithLabelValues("discord").Inc()

	if !r.dedup.CheckAndAdd("discord_" + messageID) {
		r.metrics.DedupDrops.WithLabelValues("discord").Inc()
		return DiscordRelayDuplicate
	}

	log := r.log.With().Str("message_id", messageID).Logger()
	if !r.broadcastWithLimit(ctx, fmt.Sprintf("[Discord] %s: %s", displayName, content), log) {
		return DiscordRelayBlocked
	}
	r.metrics.MessagesRelayed.WithLabelValues("discord_to_line").Inc()
	return DiscordRelaySent
}

// broadcastWithLimit sends a broadcast if the feature is enabled and
// the rate limiter allows it. Returns whether the broadcast went out.
func (r *Relay) broadcastWithLimit(ctx context.Context, text string, log zerolog.Logger) bool {
	if !r.broadcastEnabled {
		log.Warn().Msg("Broadcast is disabled")
		return false
	}
	if !r.limiter.CanSend() {
		r.metrics.BroadcastsThrottled.Inc()
		log.Debug().Time("next_allowed", r.limiter.NextAllowedAt()).Msg("Broadcast throttled")
		return false
	}
	if err := r.line.Broadcast(ctx, text); err != nil {
		r.metrics.SendFailures.WithLabelValues("line_broadcast").Inc()
		log.Error().Err(err).Msg("Failed to broadcast to LINE")
		return false
	}
	r.metrics.BroadcastsSent.Inc()
	return true
}
