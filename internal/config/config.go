package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DiscordConfig holds connection settings for the chat platform.
type DiscordConfig struct {
	// Token is the bot token. DISCORD_TOKEN overrides the yaml value.
	Token string `yaml:"token" env:"DISCORD_TOKEN"`
	// GatewayURL overrides the websocket URL. Empty fetches it from the API.
	GatewayURL string `yaml:"gateway_url" env:"FERRITE_GATEWAY_URL"`
	// APIBaseURL overrides the REST origin. Empty uses the public API.
	APIBaseURL string `yaml:"api_base_url" env:"FERRITE_API_BASE_URL"`
	// Intents overrides the gateway intents bitfield. 0 uses the default set.
	Intents int `yaml:"intents" env:"FERRITE_INTENTS"`
}

// RolesConfig names the privileged role IDs. An empty ID means that
// privilege tier denies everyone.
type RolesConfig struct {
	Mod        string `yaml:"mod" env:"FERRITE_ROLE_MOD"`
	Talk       string `yaml:"talk" env:"FERRITE_ROLE_TALK"`
	WgAndTeams string `yaml:"wg_and_teams" env:"FERRITE_ROLE_WG_AND_TEAMS"`
}

// FeaturesConfig toggles optional command families. Both default on.
type FeaturesConfig struct {
	Tags   bool `yaml:"tags" env:"FERRITE_FEATURE_TAGS"`
	Crates bool `yaml:"crates" env:"FERRITE_FEATURE_CRATES"`
}

type CratesConfig struct {
	// UserAgent is sent to the crates.io API, which rejects anonymous clients.
	UserAgent string `yaml:"user_agent" env:"FERRITE_CRATES_USER_AGENT"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	// Prefix is the command sigil. Messages not starting with it are ignored.
	Prefix string `yaml:"prefix" env:"FERRITE_PREFIX"`

	WorkerCount           int    `yaml:"worker_count" env:"FERRITE_WORKER_COUNT"`
	HandlerTimeoutSeconds int    `yaml:"handler_timeout_seconds" env:"FERRITE_HANDLER_TIMEOUT_SECONDS"`
	DrainTimeoutSeconds   int    `yaml:"drain_timeout_seconds" env:"FERRITE_DRAIN_TIMEOUT_SECONDS"`
	BindAddr              string `yaml:"bind_addr" env:"FERRITE_BIND_ADDR"`
	LogLevel              string `yaml:"log_level" env:"FERRITE_LOG_LEVEL"`

	// CoCMessage is the text posted by the code-of-conduct command.
	CoCMessage string `yaml:"coc_message" env:"FERRITE_COC_MESSAGE"`

	Discord  DiscordConfig  `yaml:"discord"`
	Roles    RolesConfig    `yaml:"roles"`
	Features FeaturesConfig `yaml:"features"`
	Crates   CratesConfig   `yaml:"crates"`
}

const defaultCoCMessage = "Welcome! By reacting to this message with ✅ you agree to follow the " +
	"community Code of Conduct: <https://www.rust-lang.org/policies/code-of-conduct>"

func defaultConfig() Config {
	return Config{
		Prefix:                "?",
		WorkerCount:           4,
		HandlerTimeoutSeconds: 30,
		DrainTimeoutSeconds:   5,
		BindAddr:              "127.0.0.1:18790",
		LogLevel:              "info",
		CoCMessage:            defaultCoCMessage,
		Features: FeaturesConfig{
			Tags:   true,
			Crates: true,
		},
		Crates: CratesConfig{
			UserAgent: "ferrite (github.com/ferrite-bot/ferrite)",
		},
	}
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func HomeDir() string {
	if override := os.Getenv("FERRITE_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".ferrite")
}

// Load builds the effective configuration: defaults, then config.yaml,
// then environment overrides. A missing config.yaml is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create ferrite home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.Discord.Token = strings.TrimSpace(cfg.Discord.Token)
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "?"
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.HandlerTimeoutSeconds <= 0 {
		cfg.HandlerTimeoutSeconds = 30
	}
	if cfg.DrainTimeoutSeconds <= 0 {
		cfg.DrainTimeoutSeconds = 5
	}
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18790"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.CoCMessage) == "" {
		cfg.CoCMessage = defaultCoCMessage
	}
	if strings.TrimSpace(cfg.Crates.UserAgent) == "" {
		cfg.Crates.UserAgent = "ferrite (github.com/ferrite-bot/ferrite)"
	}
}

func validate(cfg *Config) error {
	if strings.ContainsAny(cfg.Prefix, " \t\n") {
		return fmt.Errorf("prefix %q must not contain whitespace", cfg.Prefix)
	}
	if u := cfg.Discord.GatewayURL; u != "" {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			return fmt.Errorf("gateway_url %q must use ws:// or wss://", u)
		}
	}
	return nil
}

// Fingerprint returns a stable hash of the active config, logged at startup
// so operators can tell which settings a running process picked up.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "prefix=%s|workers=%d|handler=%d|drain=%d|bind=%s|log=%s|roles=%s,%s,%s|features=%v,%v",
		c.Prefix, c.WorkerCount, c.HandlerTimeoutSeconds, c.DrainTimeoutSeconds, c.BindAddr, c.LogLevel,
		c.Roles.Mod, c.Roles.Talk, c.Roles.WgAndTeams, c.Features.Tags, c.Features.Crates)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
