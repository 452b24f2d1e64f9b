// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// LineConfig holds the LINE channel identity and signing material.
type LineConfig struct {
	ChannelID     string `yaml:"channel_id"`
	ChannelSecret string `yaml:"channel_secret"`
	KeyID         string `yaml:"kid"`
	PrivateKey    string `yaml:"private_key"`
	// SkipSignatureVerification disables webhook signature checking.
	// Insecure; only for endpoint debugging, and every skipped request
	// is logged as a warning.
	SkipSignatureVerification bool `yaml:"skip_signature_verification"`
}

// DiscordConfig holds the bot token and relay targets.
type DiscordConfig struct {
	Token         string `yaml:"token"`
	WebhookURL    string `yaml:"webhook_url"`
	SyncChannelID string `yaml:"sync_channel_id"`
}

// ServerConfig holds the webhook HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// Environment controls posture: the /config echo endpoint is only
	// served outside "production".
	Environment string `yaml:"environment"`
}

// BroadcastConfig controls LINE broadcast fan-out.
type BroadcastConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// UnmarshalYAML parses min_interval as a duration string and keeps the
// defaults for omitted fields.
func (b *BroadcastConfig) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Enabled     *bool  `yaml:"enabled"`
		MinInterval string `yaml:"min_interval"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	if raw.Enabled != nil {
		b.Enabled = *raw.Enabled
	}
	if raw.MinInterval != "" {
		d, err := time.ParseDuration(raw.MinInterval)
		if err != nil {
			return fmt.Errorf("invalid broadcast.min_interval: %w", err)
		}
		b.MinInterval = d
	}
	return nil
}

// EncryptionConfig holds the at-rest key for the nickname store.
type EncryptionConfig struct {
	// Key is a 64-char hex string (32 bytes). When empty an ephemeral
	// key is generated at startup.
	Key string `yaml:"key"`
}

// StorageConfig holds file paths for persisted state.
type StorageConfig struct {
	NicknameFile string `yaml:"nickname_file"`
}

// Config is the full bridge configuration, built once at startup and
// passed into every component constructor.
type Config struct {
	Line       LineConfig       `yaml:"line"`
	Discord    DiscordConfig    `yaml:"discord"`
	Server     ServerConfig     `yaml:"server"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	Encryption EncryptionConfig `yaml:"encryption"`
	Storage    StorageConfig    `yaml:"storage"`
}

// DefaultConfig returns a config with every optional field at its
// default value.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:        3000,
			Environment: "development",
		},
		Broadcast: BroadcastConfig{
			Enabled:     true,
			MinInterval: time.Minute,
		},
		Storage: StorageConfig{
			NicknameFile: "user_nicknames_encrypted.json",
		},
	}
}

// LoadConfig reads the YAML file at path (skipped when path is empty),
// then applies environment overrides for every secret and tunable.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.postProcess()
	return cfg, nil
}

// applyEnv layers environment variables over the file config. Secrets
// are expected to come from the environment in hosted deployments.
func (c *Config) applyEnv() {
	setIfEnv(&c.Line.ChannelID, "LINE_CHANNEL_ID")
	setIfEnv(&c.Line.ChannelSecret, "LINE_CHANNEL_SECRET")
	setIfEnv(&c.Line.KeyID, "LINE_KID")
	setIfEnv(&c.Line.PrivateKey, "LINE_PRIVATE_KEY")
	setIfEnv(&c.Discord.Token, "DISCORD_TOKEN")
	setIfEnv(&c.Discord.WebhookURL, "DISCORD_WEBHOOK_URL")
	setIfEnv(&c.Discord.SyncChannelID, "DISCORD_SYNC_CHANNEL_ID")
	setIfEnv(&c.Encryption.Key, "ENCRYPTION_KEY")
	setIfEnv(&c.Server.Environment, "ENVIRONMENT")
	setIfEnv(&c.Storage.NicknameFile, "NICKNAME_FILE")

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BROADCAST_MIN_INTERVAL"); v != "" {
		// Milliseconds, matching the historical deployment variable.
		if ms, err := strconv.Atoi(v); err == nil {
			c.Broadcast.MinInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("BROADCAST_ENABLED"); v != "" {
		c.Broadcast.Enabled = v != "false"
	}
}

// postProcess normalizes values after loading. Hosted secret managers
// commonly deliver PEM keys with literal backslash-n sequences.
func (c *Config) postProcess() {
	c.Line.PrivateKey = strings.ReplaceAll(c.Line.PrivateKey, `\n`, "\n")
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate collects every missing required item so startup can report
// all of them at once instead of failing one at a time.
func (c *Config) Validate() []string {
	var missing []string
	check := func(value, name string) {
		if value == "" {
			missing = append(missing, name)
		}
	}
	check(c.Line.ChannelID, "line.channel_id (LINE_CHANNEL_ID)")
	check(c.Line.ChannelSecret, "line.channel_secret (LINE_CHANNEL_SECRET)")
	check(c.Line.KeyID, "line.kid (LINE_KID)")
	check(c.Line.PrivateKey, "line.private_key (LINE_PRIVATE_KEY)")
	check(c.Discord.Token, "discord.token (DISCORD_TOKEN)")
	check(c.Discord.WebhookURL, "discord.webhook_url (DISCORD_WEBHOOK_URL)")
	check(c.Discord.SyncChannelID, "discord.sync_channel_id (DISCORD_SYNC_CHANNEL_ID)")

	if c.Line.PrivateKey != "" && !strings.Contains(c.Line.PrivateKey, "BEGIN PRIVATE KEY") &&
		!strings.Contains(c.Line.PrivateKey, "BEGIN RSA PRIVATE KEY") {
		missing = append(missing, "line.private_key is not in PEM format (must contain BEGIN PRIVATE KEY)")
	}
	return missing
}

// IsProduction reports whether the bridge runs in production posture.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}
