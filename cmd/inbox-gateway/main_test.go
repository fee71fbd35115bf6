// ABOUTME: Tests for inbox-gateway subcommands that touch only config and tokens
// ABOUTME: Runs init and token against an in-memory filesystem

package main

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/marketplace-inbox/internal/auth"
	"github.com/2389/marketplace-inbox/internal/config"
)

const testSecret = "cmd-test-secret-with-at-least-32-bytes"

func initConfig(t *testing.T, fs afero.Fs) string {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runInit(fs, []string{"--config", "/etc/inbox/gateway.yaml", "--db", "/var/lib/inbox/inbox.db"}, &out))
	return "/etc/inbox/gateway.yaml"
}

func TestRunInit(t *testing.T) {
	fs := afero.NewMemMapFs()

	var out bytes.Buffer
	err := runInit(fs, []string{"--config", "/etc/inbox/gateway.yaml", "--db", "/var/lib/inbox/inbox.db"}, &out)
	require.NoError(t, err)

	assert.Contains(t, out.String(), "export INBOX_JWT_SECRET=")

	data, err := afero.ReadFile(fs, "/etc/inbox/gateway.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), `path: "/var/lib/inbox/inbox.db"`)

	// A second init refuses to clobber the file.
	err = runInit(fs, []string{"--config", "/etc/inbox/gateway.yaml"}, &out)
	assert.Error(t, err)
}

func TestRunToken_PrintsVerifiableToken(t *testing.T) {
	t.Setenv("INBOX_JWT_SECRET", testSecret)
	fs := afero.NewMemMapFs()
	configPath := initConfig(t, fs)

	var out bytes.Buffer
	require.NoError(t, runToken(fs, []string{"--config", configPath, "--user", "seller-42"}, &out))

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)
	userID, err := verifier.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "seller-42", userID)
}

func TestRunToken_SaveWritesClientConfig(t *testing.T) {
	t.Setenv("INBOX_JWT_SECRET", testSecret)
	fs := afero.NewMemMapFs()
	configPath := initConfig(t, fs)

	var out bytes.Buffer
	err := runToken(fs, []string{
		"--config", configPath,
		"--user", "buyer-7",
		"--ttl", "1h",
		"--save",
		"--client-config", "/home/buyer/.config/inbox/config.toml",
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Saved client config for buyer-7")

	clientCfg, err := config.LoadClient(fs, "/home/buyer/.config/inbox/config.toml")
	require.NoError(t, err)
	assert.Equal(t, "buyer-7", clientCfg.User.ID)
	assert.Equal(t, "http://127.0.0.1:8080", clientCfg.Gateway.URL)
	assert.NotEmpty(t, clientCfg.Gateway.Token)
}

func TestRunToken_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()

	var out bytes.Buffer
	assert.EqualError(t, runToken(fs, []string{"--config", "/missing.yaml"}, &out), "--user is required")
	assert.Error(t, runToken(fs, []string{"--config", "/missing.yaml", "--user", "u"}, &out))
	assert.Error(t, runToken(fs, []string{"--bogus"}, &out))

	// A secret shorter than the minimum is rejected before any token is issued.
	t.Setenv("INBOX_JWT_SECRET", "short")
	configPath := initConfig(t, fs)
	assert.Error(t, runToken(fs, []string{"--config", configPath, "--user", "u"}, &out))
}

func TestDefaultGatewayURL(t *testing.T) {
	cfg := &config.Config{Server: config.ServerConfig{HTTPAddr: "0.0.0.0:9000"}}
	assert.Equal(t, "http://0.0.0.0:9000", defaultGatewayURL(cfg))

	cfg.Tailscale = config.TailscaleConfig{Enabled: true, Hostname: "inbox"}
	assert.Equal(t, "http://inbox", defaultGatewayURL(cfg))
}

func TestSetupLogger(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	logger := setupLogger(config.LoggingConfig{Level: "warn", Format: "text"}, &buf)

	logger.Info("hidden")
	logger.With("component", "gateway").WithGroup("req").Warn("slow request", "ms", 1500)

	line := buf.String()
	assert.NotContains(t, line, "hidden")
	assert.Contains(t, line, "WRN slow request")
	assert.Contains(t, line, "req.ms=1500")
	assert.Contains(t, line, " component=gateway")
	assert.NotContains(t, line, "req.component")

	buf.Reset()
	logger = setupLogger(config.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	logger.Debug("visible", "k", "v")
	assert.Contains(t, buf.String(), `"msg":"visible"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
