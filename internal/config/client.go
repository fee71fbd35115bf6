// ABOUTME: Client-side configuration for the inbox CLI
// ABOUTME: Loads and saves TOML from the XDG config path with environment variable expansion

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
)

// ClientConfig is what the inbox CLI needs to reach a gateway.
type ClientConfig struct {
	Gateway ClientGatewayConfig `toml:"gateway"`
	User    ClientUserConfig    `toml:"user"`
	Logging LoggingConfig       `toml:"logging"`
}

// ClientGatewayConfig locates and authenticates against the gateway.
type ClientGatewayConfig struct {
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

// ClientUserConfig identifies the person using the CLI.
type ClientUserConfig struct {
	ID string `toml:"id"`
}

// DefaultClientPath returns $XDG_CONFIG_HOME/inbox/config.toml, falling
// back to ~/.config/inbox/config.toml.
func DefaultClientPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "inbox", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "inbox", "config.toml")
	}
	return filepath.Join(home, ".config", "inbox", "config.toml")
}

// LoadClient reads the client config at path from fs.
func LoadClient(fs afero.Fs, path string) (*ClientConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg ClientConfig
	if _, err := toml.Decode(expandEnvVars(string(data)), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SaveClient writes cfg to path on fs, creating parent directories.
// The file holds a bearer token, so it is only readable by its owner.
func SaveClient(fs afero.Fs, path string, cfg *ClientConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that required config fields are present and valid.
func (c *ClientConfig) Validate() error {
	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway.url is required")
	}
	u, err := url.Parse(c.Gateway.URL)
	if err != nil {
		return fmt.Errorf("gateway.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway.url must use http or https scheme")
	}
	if c.Gateway.Token == "" {
		return fmt.Errorf("gateway.token is required")
	}
	if c.User.ID == "" {
		return fmt.Errorf("user.id is required")
	}
	return nil
}
