// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

// adminCommands defines the out-of-band administrative slash commands.
func adminCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "line-status",
			Description: "Show LINE bridge connection and broadcast status",
		},
		{
			Name:        "nick-list",
			Description: "List registered nicknames (metadata only, names stay encrypted)",
		},
		{
			Name:        "nick-reset",
			Description: "Reset the nickname of a LINE user",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user_id",
					Description: "LINE user ID to reset",
					Required:    true,
				},
			},
		},
	}
}

// AdminHandler serves the administrative slash commands. Handlers are
// synchronous and idempotent; they read and mutate the nickname
// registry directly, bypassing the relay.
type AdminHandler struct {
	registry *NicknameRegistry
	limiter  *BroadcastLimiter

	broadcastEnabled  bool
	discordConnected  func() bool
	lineAuthenticated func() bool
	log               zerolog.Logger
}

// NewAdminHandler wires the admin surface. Connection probes default to
// "unknown/false" until SetProbes is called.
func NewAdminHandler(registry *NicknameRegistry, limiter *BroadcastLimiter, broadcastEnabled bool, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		registry:          registry,
		limiter:           limiter,
		broadcastEnabled:  broadcastEnabled,
		discordConnected:  func() bool { return false },
		lineAuthenticated: func() bool { return false },
		log:               log.With().Str("component", "admin").Logger(),
	}
}

// SetProbes installs the connection state probes. Called once during
// wiring, after the Discord and LINE clients exist.
func (a *AdminHandler) SetProbes(discordConnected, lineAuthenticated func() bool) {
	if discordConnected != nil {
		a.discordConnected = discordConnected
	}
	if lineAuthenticated != nil {
		a.lineAuthenticated = lineAuthenticated
	}
}

// Handle dispatches a slash command and returns the reply text.
func (a *AdminHandler) Handle(data discordgo.ApplicationCommandInteractionData) string {
	switch data.Name {
	case "line-status":
		return a.handleStatus()
	case "nick-list":
		return a.handleNickList()
	case "nick-reset":
		return a.handleNickReset(data)
	default:
		return "Unknown command."
	}
}

func (a *AdminHandler) handleStatus() string {
	boolWord := func(b bool, yes, no string) string {
		if b {
			return yes
		}
		return no
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 LINE bridge status\n")
	fmt.Fprintf(&b, "Discord: %s\n", boolWord(a.discordConnected(), "connected", "disconnected"))
	fmt.Fprintf(&b, "LINE: %s\n", boolWord(a.lineAuthenticated(), "authenticated", "not authenticated"))
	fmt.Fprintf(&b, "Nicknames: %d registered (required, encrypted)\n", a.registry.Count())
	fmt.Fprintf(&b, "Broadcast: %s, min interval %s", boolWord(a.broadcastEnabled, "enabled", "disabled"), a.limiter.MinInterval())
	if last := a.limiter.LastSent(); !last.IsZero() {
		fmt.Fprintf(&b, ", last sent %s", last.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// handleNickList reports count and id metadata only. Plaintext names
// are never shown here; the whole point of encrypting the store is that
// operators cannot casually read them.
func (a *AdminHandler) handleNickList() string {
	ids := a.registry.UserIDs()
	if len(ids) == 0 {
		return "No nicknames registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🔒 %d nickname(s) registered (values encrypted):\n", len(ids))
	for _, id := range ids {
		fmt.Fprintf(&b, "• %s\n", id)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (a *AdminHandler) handleNickReset(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) == 0 {
		return "user_id is required."
	}
	userID := data.Options[0].StringValue()
	if a.registry.Reset(userID) {
		a.log.Info().Str("user_id", userID).Msg("Nickname reset via admin command")
		return fmt.Sprintf("✅ Nickname for %s has been reset.", userID)
	}
	return fmt.Sprintf("No nickname registered for %s.", userID)
}
