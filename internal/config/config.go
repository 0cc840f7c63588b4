// Package config provides YAML-based configuration loading for Switchboard.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Tier names understood by the model selector.
const (
	TierPremium = "premium"
	TierEconomy = "economy"
)

// Config is the top-level Switchboard configuration, loaded from switchboard.yaml.
type Config struct {
	Discord    DiscordConfig         `yaml:"discord"`
	Database   DatabaseConfig        `yaml:"database"`
	OpenAI     OpenAIConfig          `yaml:"openai"`
	Tiers      map[string]TierConfig `yaml:"tiers"`
	Policy     PolicyConfig          `yaml:"policy"`
	Moderation ModerationConfig      `yaml:"moderation"`
	Assistant  AssistantConfig       `yaml:"assistant"`
	Digest     DigestConfig          `yaml:"digest"`
	Admin      AdminConfig           `yaml:"admin"`
	Logging    LoggingConfig         `yaml:"logging"`
}

// DiscordConfig holds the bot credentials and thread conventions.
type DiscordConfig struct {
	BotToken      string   `yaml:"bot_token"`
	GuildID       string   `yaml:"guild_id"`       // register slash commands here; empty = global
	AllowedGuilds []string `yaml:"allowed_guilds"` // empty = every guild
	ThreadPrefix  string   `yaml:"thread_prefix"`
	ClosedPrefix  string   `yaml:"closed_prefix"`
	NewChatHint   string   `yaml:"new_chat_hint"` // onboarding "start new /chat" text
}

// DatabaseConfig selects the storage engine.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "mysql" or "sqlite"
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// OpenAIConfig holds the default completion/moderation endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// TierConfig is one completion-model configuration with its per-1000-token prices.
type TierConfig struct {
	Model         string  `yaml:"model"`
	InputRate     float64 `yaml:"input_rate"`
	OutputRate    float64 `yaml:"output_rate"`
	ContextWindow int     `yaml:"context_window"` // 0 disables the pre-flight check
	BaseURL       string  `yaml:"base_url"`       // optional OpenAI-compatible endpoint
	APIKey        string  `yaml:"api_key"`
}

// PolicyConfig carries the admission and routing tuning constants.
type PolicyConfig struct {
	MaxThreadMessages int           `yaml:"max_thread_messages"`
	CoalesceDelay     time.Duration `yaml:"coalesce_delay"`
	CreationWindow    time.Duration `yaml:"creation_window"`
	MaxCreations      int           `yaml:"max_creations"`
	SpendWindow       time.Duration `yaml:"spend_window"`
	SpendThreshold    float64       `yaml:"spend_threshold"`
	PinnedUsers       []string      `yaml:"pinned_users"`
	MaxReplyChars     int           `yaml:"max_reply_chars"`
}

// ModerationConfig configures the classifier and where notices go.
type ModerationConfig struct {
	ChannelID       string             `yaml:"channel_id"`
	Model           string             `yaml:"model"`
	TailChars       int                `yaml:"tail_chars"`
	FlagThresholds  map[string]float64 `yaml:"flag_thresholds"`
	BlockThresholds map[string]float64 `yaml:"block_thresholds"`
}

// AssistantConfig describes the bot persona fed into every transcript.
type AssistantConfig struct {
	Instructions string         `yaml:"instructions"`
	SystemPrompt string         `yaml:"system_prompt"`
	Aliases      []string       `yaml:"aliases"`
	Examples     []ExampleConvo `yaml:"examples"`
}

// ExampleConvo is a canned conversation shown to the model before the live one.
type ExampleConvo struct {
	Messages []ExampleMessage `yaml:"messages"`
}

// ExampleMessage is a single line of an example conversation.
type ExampleMessage struct {
	User string `yaml:"user"`
	Text string `yaml:"text"`
}

// DigestConfig schedules the periodic cost digest.
type DigestConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Cron      string `yaml:"cron"`
	ChannelID string `yaml:"channel_id"`
}

// AdminConfig configures the admin HTTP API.
type AdminConfig struct {
	Port int `yaml:"port"` // 0 disables the server
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// CronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Load reads a YAML config file from path and returns a validated Config.
// A .env file next to the config (or in the working directory) is loaded
// first so ${VAR} references can be resolved.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Discord.ThreadPrefix == "" {
		c.Discord.ThreadPrefix = "💬✅"
	}
	if c.Discord.ClosedPrefix == "" {
		c.Discord.ClosedPrefix = "💬❌"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "switchboard"
		}
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "switchboard.db"
		}
	}

	if c.Tiers == nil {
		c.Tiers = make(map[string]TierConfig)
	}
	if _, ok := c.Tiers[TierPremium]; !ok {
		c.Tiers[TierPremium] = TierConfig{Model: "gpt-4", InputRate: 0.03, OutputRate: 0.06, ContextWindow: 8192}
	}
	if _, ok := c.Tiers[TierEconomy]; !ok {
		c.Tiers[TierEconomy] = TierConfig{Model: "gpt-3.5-turbo", InputRate: 0.0015, OutputRate: 0.002, ContextWindow: 4096}
	}

	p := &c.Policy
	if p.MaxThreadMessages == 0 {
		p.MaxThreadMessages = 200
	}
	if p.CoalesceDelay == 0 {
		p.CoalesceDelay = 3 * time.Second
	}
	if p.CreationWindow == 0 {
		p.CreationWindow = 10 * time.Minute
	}
	if p.MaxCreations == 0 {
		p.MaxCreations = 1
	}
	if p.SpendWindow == 0 {
		p.SpendWindow = 24 * time.Hour
	}
	if p.SpendThreshold == 0 {
		p.SpendThreshold = 0.999
	}
	if p.MaxReplyChars == 0 {
		p.MaxReplyChars = 1500
	}

	m := &c.Moderation
	if m.Model == "" {
		m.Model = "omni-moderation-latest"
	}
	if m.TailChars == 0 {
		m.TailChars = 500
	}
	if m.FlagThresholds == nil {
		m.FlagThresholds = map[string]float64{
			"hate":             0.4,
			"hate/threatening": 0.05,
			"self-harm":        0.8,
			"sexual":           0.3,
			"sexual/minors":    0.1,
			"violence":         0.1,
			"violence/graphic": 0.1,
		}
	}
	if m.BlockThresholds == nil {
		m.BlockThresholds = map[string]float64{
			"hate":             0.5,
			"hate/threatening": 0.1,
			"self-harm":        0.8,
			"sexual":           0.5,
			"sexual/minors":    0.5,
			"violence":         0.7,
			"violence/graphic": 0.8,
		}
	}

	if c.Digest.Cron == "" {
		c.Digest.Cron = "0 9 * * *"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.BotToken == "" {
		errs = append(errs, "discord.bot_token is required")
	}
	if c.Discord.ThreadPrefix == c.Discord.ClosedPrefix {
		errs = append(errs, "discord.thread_prefix and discord.closed_prefix must differ")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (mysql, sqlite)", c.Database.Driver))
	}
	for _, name := range []string{TierPremium, TierEconomy} {
		t := c.Tiers[name]
		if t.Model == "" {
			errs = append(errs, fmt.Sprintf("tiers.%s.model is required", name))
		}
		if t.InputRate < 0 || t.OutputRate < 0 {
			errs = append(errs, fmt.Sprintf("tiers.%s rates must not be negative", name))
		}
	}
	if c.Policy.MaxThreadMessages < 1 {
		errs = append(errs, "policy.max_thread_messages must be positive")
	}
	if c.Policy.MaxReplyChars < 1 || c.Policy.MaxReplyChars > 2000 {
		errs = append(errs, "policy.max_reply_chars must be between 1 and 2000")
	}
	if c.Policy.SpendThreshold < 0 {
		errs = append(errs, "policy.spend_threshold must not be negative")
	}
	if c.Digest.Enabled && c.Digest.ChannelID == "" {
		errs = append(errs, "digest.channel_id is required when digest is enabled")
	}
	if _, err := CronParser.Parse(c.Digest.Cron); c.Digest.Enabled && err != nil {
		errs = append(errs, fmt.Sprintf("digest.cron %q: %v", c.Digest.Cron, err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not supported", c.Logging.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
