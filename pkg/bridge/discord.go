// Copyright 2024-2026 Aiku AI

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// handlerTimeout bounds the outbound calls made from a single Discord
// gateway event.
const handlerTimeout = 15 * time.Second

// WebhookSender posts LINE-originated messages into Discord through an
// incoming webhook. It implements discordSender.
type WebhookSender struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewWebhookSender builds a sender for the given Discord webhook URL.
func NewWebhookSender(url string, log zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "discord_webhook").Logger(),
	}
}

// Send posts {content, username, avatar_url} to the webhook.
func (w *WebhookSender) Send(ctx context.Context, content, username, avatarURL string) error {
	payload := struct {
		Content   string `json:"content"`
		Username  string `json:"username"`
		AvatarURL string `json:"avatar_url,omitempty"`
	}{
		Content:   content,
		Username:  username,
		AvatarURL: avatarURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("discord webhook returned HTTP %d: %s", resp.StatusCode, errBody)
	}
	return nil
}

// DiscordConnector owns the gateway session: it relays sync-channel
// messages to LINE, reacts with the relay outcome, and serves the admin
// slash commands.
type DiscordConnector struct {
	session *discordgo.Session
	relay   *Relay
	admin   *AdminHandler

	syncChannelID string
	connected     atomic.Bool
	log           zerolog.Logger
}

// NewDiscordConnector creates the gateway session. Connect must be
// called before events flow.
func NewDiscordConnector(token, syncChannelID string, relay *Relay, admin *AdminHandler, log zerolog.Logger) (*DiscordConnector, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentMessageContent

	d := &DiscordConnector{
		session:       session,
		relay:         relay,
		admin:         admin,
		syncChannelID: syncChannelID,
		log:           log.With().Str("component", "discord").Logger(),
	}
	session.AddHandler(d.onReady)
	session.AddHandler(d.onMessageCreate)
	session.AddHandler(d.onInteraction)
	return d, nil
}

// Connect opens the gateway connection.
func (d *DiscordConnector) Connect() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord gateway: %w", err)
	}
	return nil
}

// Disconnect closes the gateway connection.
func (d *DiscordConnector) Disconnect() {
	d.connected.Store(false)
	if err := d.session.Close(); err != nil {
		d.log.Warn().Err(err).Msg("Error closing Discord session")
	}
}

// Connected reports whether the gateway session is up.
func (d *DiscordConnector) Connected() bool {
	return d.connected.Load()
}

func (d *DiscordConnector) onReady(s *discordgo.Session, r *discordgo.Ready) {
	d.connected.Store(true)
	d.log.Info().
		Str("bot_user", r.User.Username).
		Str("sync_channel", d.syncChannelID).
		Msg("Discord gateway ready")

	for _, cmd := range adminCommands() {
		if _, err := s.ApplicationCommandCreate(r.User.ID, "", cmd); err != nil {
			d.log.Error().Err(err).Str("command", cmd.Name).Msg("Failed to register slash command")
		}
	}
	d.log.Info().Msg("Slash commands registered")
}

func (d *DiscordConnector) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	// Bot-authored messages (including our own webhook posts) are never
	// relayed back, or the two platforms would echo forever.
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.ChannelID != d.syncChannelID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}

	outcome := d.relay.HandleDiscordMessage(ctx, m.ID, name, m.Content)
	switch outcome {
	case DiscordRelaySent:
		d.react(s, m.ChannelID, m.ID, "✅")
	case DiscordRelayBlocked:
		d.react(s, m.ChannelID, m.ID, "⏰")
	case DiscordRelayDuplicate:
		// Redelivery; the original message already carries a reaction.
	}
}

func (d *DiscordConnector) react(s *discordgo.Session, channelID, messageID, emoji string) {
	if err := s.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		d.log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to add reaction")
	}
}

func (d *DiscordConnector) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	reply := d.admin.Handle(i.ApplicationCommandData())
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: reply,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.log.Error().Err(err).Str("command", i.ApplicationCommandData().Name).Msg("Failed to respond to slash command")
	}
}
