// ABOUTME: Configuration loading and parsing for coven-inbox
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Feed backends
const (
	FeedMemory = "memory"
	FeedRedis  = "redis"
)

// Defaults applied by Load when a field is empty.
const (
	DefaultAggregatorConcurrency = 4
	DefaultHistoryTimeout        = 10 * time.Second
	DefaultResubscribeBackoff    = 500 * time.Millisecond
	DefaultFeedBufferSize        = 64
	DefaultChannelPrefix         = "coven-inbox"

	maxAggregatorConcurrency = 32
)

// Config represents the complete coven-inbox configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Feed     FeedConfig     `yaml:"feed" toml:"feed"`
	Auth     AuthConfig     `yaml:"auth" toml:"auth"`
	Chat     ChatConfig     `yaml:"chat" toml:"chat"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// FeedConfig selects the change feed carrying insert notifications
type FeedConfig struct {
	Backend       string `yaml:"backend" toml:"backend"`
	RedisURL      string `yaml:"redis_url" toml:"redis_url"`
	ChannelPrefix string `yaml:"channel_prefix" toml:"channel_prefix"`
	BufferSize    int    `yaml:"buffer_size" toml:"buffer_size"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// ChatConfig holds conversation tuning
type ChatConfig struct {
	AggregatorConcurrency int           `yaml:"aggregator_concurrency" toml:"aggregator_concurrency"`
	HistoryTimeout        time.Duration `yaml:"-" toml:"-"`
	ResubscribeBackoff    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	HistoryTimeoutRaw     string `yaml:"history_timeout" toml:"history_timeout"`
	ResubscribeBackoffRaw string `yaml:"resubscribe_backoff" toml:"resubscribe_backoff"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath()
	}
	if c.Feed.Backend == "" {
		c.Feed.Backend = FeedMemory
	}
	if c.Feed.ChannelPrefix == "" {
		c.Feed.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
	if c.Chat.AggregatorConcurrency == 0 {
		c.Chat.AggregatorConcurrency = DefaultAggregatorConcurrency
	}
	if c.Chat.HistoryTimeout == 0 {
		c.Chat.HistoryTimeout = DefaultHistoryTimeout
	}
	if c.Chat.ResubscribeBackoff == 0 {
		c.Chat.ResubscribeBackoff = DefaultResubscribeBackoff
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Feed.Backend {
	case FeedMemory:
	case FeedRedis:
		if c.Feed.RedisURL == "" {
			return fmt.Errorf("feed.redis_url is required when feed.backend is redis")
		}
		u, err := url.Parse(c.Feed.RedisURL)
		if err != nil {
			return fmt.Errorf("feed.redis_url is not a valid URL: %w", err)
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return fmt.Errorf("feed.redis_url must use redis or rediss scheme")
		}
	default:
		return fmt.Errorf("feed.backend must be %q or %q, got %q", FeedMemory, FeedRedis, c.Feed.Backend)
	}
	if c.Feed.BufferSize < 1 {
		return fmt.Errorf("feed.buffer_size must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Chat.AggregatorConcurrency < 1 || c.Chat.AggregatorConcurrency > maxAggregatorConcurrency {
		return fmt.Errorf("chat.aggregator_concurrency must be between 1 and %d", maxAggregatorConcurrency)
	}
	if c.Chat.HistoryTimeout < 0 {
		return fmt.Errorf("chat.history_timeout must not be negative")
	}
	if c.Chat.ResubscribeBackoff < 0 {
		return fmt.Errorf("chat.resubscribe_backoff must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.HistoryTimeoutRaw != "" {
		cfg.Chat.HistoryTimeout, err = time.ParseDuration(cfg.Chat.HistoryTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing history_timeout %q: %w", cfg.Chat.HistoryTimeoutRaw, err)
		}
	}

	if cfg.Chat.ResubscribeBackoffRaw != "" {
		cfg.Chat.ResubscribeBackoff, err = time.ParseDuration(cfg.Chat.ResubscribeBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing resubscribe_backoff %q: %w", cfg.Chat.ResubscribeBackoffRaw, err)
		}
	}

	return nil
}

// DefaultPath returns the config file location.
// Priority: COVEN_INBOX_CONFIG env var > XDG_CONFIG_HOME/coven/inbox.yaml > ~/.config/coven/inbox.yaml
func DefaultPath() string {
	if p := os.Getenv("COVEN_INBOX_CONFIG"); p != "" {
		return p
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "inbox.yaml")
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "coven", "inbox.yaml")
}

// DefaultDatabasePath returns the database location used when database.path is unset.
// Priority: XDG_DATA_HOME/coven/inbox.db > ~/.local/share/coven/inbox.db
func DefaultDatabasePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".", "inbox.db")
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven", "inbox.db")
}
