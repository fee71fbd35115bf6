// ABOUTME: Entry point for inbox-gateway, the marketplace inbox server
// ABOUTME: Subcommands serve the API, write a starter config, mint user tokens and probe health

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/2389/marketplace-inbox/internal/auth"
	"github.com/2389/marketplace-inbox/internal/client"
	"github.com/2389/marketplace-inbox/internal/config"
	"github.com/2389/marketplace-inbox/internal/gateway"
)

// Version is set at build time.
var version = "dev"

const banner = `
  _       _                                _
 (_)_ __ | |__   _____  __      __ _  __ _| |_ _____      ____ _ _   _
 | | '_ \| '_ \ / _ \ \/ /____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | | | | | |_) | (_) >  <_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 |_|_| |_|_.__/ \___/_/\_\     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                               |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: INBOX_CONFIG env var > XDG_CONFIG_HOME/inbox/gateway.yaml > ~/.config/inbox/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("INBOX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "inbox", "gateway.yaml")
}

// getDataPath returns the inbox data directory.
// Priority: XDG_DATA_HOME/inbox > ~/.local/share/inbox
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "inbox")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: inbox-gateway <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                    Start the gateway server")
	fmt.Fprintln(w, "  init [--db PATH]         Write a starter config file")
	fmt.Fprintln(w, "  token --user ID [--save] Issue a bearer token for a user")
	fmt.Fprintln(w, "  health                   Check gateway readiness")
	fmt.Fprintln(w, "  version                  Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(afero.NewOsFs(), os.Args[2:], os.Stdout)
	case "token":
		err = runToken(afero.NewOsFs(), os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	} else {
		green.Print("    ▶ ")
		fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	}
	fmt.Println()

	logger.Info("starting inbox-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"tailscale", cfg.Tailscale.Enabled,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runInit writes a starter config and suggests a fresh JWT secret.
func runInit(fs afero.Fs, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("init", pflag.ContinueOnError)
	configPath := flags.String("config", getConfigPath(), "where to write the config file")
	dbPath := flags.String("db", filepath.Join(getDataPath(), "inbox.db"), "SQLite database path")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if err := config.WriteExample(fs, *configPath, *dbPath); err != nil {
		return err
	}

	secret, err := generateSecret()
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Fprintf(out, "  ✓ Created config: %s\n", *configPath)
	fmt.Fprintln(out)
	yellow.Fprintln(out, "  The config reads its signing secret from the environment:")
	fmt.Fprintf(out, "    export INBOX_JWT_SECRET=%s\n", secret)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Then:")
	fmt.Fprintln(out, "    inbox-gateway serve")
	fmt.Fprintln(out, "    inbox-gateway token --user <id> --save")
	return nil
}

// runToken issues a token for a user, optionally saving a client config
// for the inbox CLI.
func runToken(fs afero.Fs, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("token", pflag.ContinueOnError)
	configPath := flags.String("config", getConfigPath(), "gateway config file")
	userID := flags.String("user", "", "user ID the token is issued to (required)")
	ttl := flags.Duration("ttl", 0, "token lifetime (default auth.token_ttl from config)")
	save := flags.Bool("save", false, "write a client config for the inbox CLI")
	clientPath := flags.String("client-config", config.DefaultClientPath(), "client config path used with --save")
	gatewayURL := flags.String("url", "", "gateway URL written with --save (default derived from config)")
	if err := flags.Parse(args); err != nil {
		return err
	}

	if *userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.LoadFS(fs, *configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	lifetime := *ttl
	if lifetime == 0 {
		lifetime = cfg.Auth.TokenTTL
	}

	token, err := issueToken(cfg, *userID, lifetime)
	if err != nil {
		return err
	}

	if !*save {
		fmt.Fprintln(out, token)
		return nil
	}

	url := *gatewayURL
	if url == "" {
		url = defaultGatewayURL(cfg)
	}
	clientCfg := &config.ClientConfig{
		Gateway: config.ClientGatewayConfig{URL: url, Token: token},
		User:    config.ClientUserConfig{ID: *userID},
		Logging: config.LoggingConfig{Level: "warn", Format: "text"},
	}
	if err := config.SaveClient(fs, *clientPath, clientCfg); err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(out, "  ✓ Saved client config for %s: %s (expires %s)\n",
		*userID, *clientPath, time.Now().Add(lifetime).UTC().Format("Jan 02, 2006"))
	return nil
}

func issueToken(cfg *config.Config, userID string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("creating JWT verifier: %w", err)
	}
	return verifier.Generate(userID, ttl)
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.New(defaultGatewayURL(cfg), "").Ready(ctx); err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}

	fmt.Println("healthy")
	return nil
}

// defaultGatewayURL is where clients on this machine (or tailnet) reach the gateway.
func defaultGatewayURL(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		return "http://" + cfg.Tailscale.Hostname
	}
	return "http://" + cfg.Server.HTTPAddr
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
