// ABOUTME: Configuration loading and parsing for inbox-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Config represents the complete inbox-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
}

// RealtimeConfig tunes the WebSocket push channels
type RealtimeConfig struct {
	PingInterval time.Duration `yaml:"-"`
	WriteTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	WriteTimeoutRaw string `yaml:"write_timeout"`
}

// DedupeConfig bounds the send idempotency cache
type DedupeConfig struct {
	TTL     time.Duration `yaml:"-"`
	MaxSize int           `yaml:"max_size"`

	TTLRaw string `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when a field is left empty.
const (
	DefaultHTTPAddr     = "127.0.0.1:8080"
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultDedupeTTL    = 10 * time.Minute
	DefaultDedupeSize   = 10_000
	DefaultTokenTTL     = 30 * 24 * time.Hour
)

// Load reads a configuration file from the local filesystem.
func Load(path string) (*Config, error) {
	return LoadFS(afero.NewOsFs(), path)
}

// LoadFS reads a configuration file from fs and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func LoadFS(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = DefaultDedupeTTL
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = DefaultDedupeSize
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
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Dedupe.MaxSize < 0 {
		return fmt.Errorf("dedupe.max_size must not be negative")
	}

	if c.Realtime.WriteTimeout >= c.Realtime.PingInterval {
		return fmt.Errorf("realtime.write_timeout must be shorter than realtime.ping_interval")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"realtime.write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// Example is the starter configuration written by "inbox-gateway init".
const Example = `# inbox-gateway configuration

server:
  http_addr: "127.0.0.1:8080"

database:
  path: "%s"

auth:
  jwt_secret: "${INBOX_JWT_SECRET}"
  token_ttl: "720h"

realtime:
  ping_interval: "30s"
  write_timeout: "10s"

dedupe:
  ttl: "10m"
  max_size: 10000

tailscale:
  enabled: false
  hostname: "inbox"

logging:
  level: "info"
  format: "text"
`

// WriteExample writes the starter configuration to path, refusing to
// overwrite an existing file.
func WriteExample(fs afero.Fs, path, dbPath string) error {
	exists, err := afero.Exists(fs, path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if exists {
		return fmt.Errorf("%s already exists", path)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return afero.WriteFile(fs, path, []byte(fmt.Sprintf(Example, dbPath)), 0o600)
}
