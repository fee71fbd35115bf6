// ABOUTME: Command-line client for the marketplace inbox gateway
// ABOUTME: Lists conversations, tails a conversation live, sends and starts threads

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/2389/marketplace-inbox/internal/client"
	"github.com/2389/marketplace-inbox/internal/config"
)

var version = "dev"

// app carries what every command needs once the client config is loaded.
type app struct {
	client *client.Client
	userID string
	logger *slog.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"conversations": runConversations,
	"ls":            runConversations,
	"open":          runOpen,
	"history":       runHistory,
	"send":          runSend,
	"start":         runStart,
	"watch":         runWatch,
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: inbox [--config PATH] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  login --url URL --token TOKEN --user ID   Save gateway credentials")
	fmt.Fprintln(w, "  conversations                              List conversations, newest first")
	fmt.Fprintln(w, "  open <conversation> [--follow]             Show messages and mark them read")
	fmt.Fprintln(w, "  history <conversation> [--limit N] [--cursor C] [--html]")
	fmt.Fprintln(w, "  send <conversation> <text> [--attach URL] [--idempotency-key KEY]")
	fmt.Fprintln(w, "  start <recipient> <text> [--attach URL]    Message someone new")
	fmt.Fprintln(w, "  watch                                      Print the list whenever it changes")
	fmt.Fprintln(w, "  version                                    Print the version")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, afero.NewOsFs(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches one invocation. Leading global flags are parsed here;
// everything after the command name belongs to the command.
func run(ctx context.Context, fs afero.Fs, args []string, in io.Reader, out, errOut io.Writer) error {
	global := pflag.NewFlagSet("inbox", pflag.ContinueOnError)
	global.SetInterspersed(false)
	global.SetOutput(errOut)
	configPath := global.String("config", config.DefaultClientPath(), "client config file")
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		usage(errOut)
		return fmt.Errorf("no command given")
	}
	name, cmdArgs := rest[0], rest[1:]

	switch name {
	case "login":
		return runLogin(fs, *configPath, cmdArgs, out)
	case "version":
		fmt.Fprintln(out, version)
		return nil
	case "help", "-h", "--help":
		usage(out)
		return nil
	}

	cmd, ok := commands[name]
	if !ok {
		usage(errOut)
		return fmt.Errorf("unknown command: %s", name)
	}

	cfg, err := config.LoadClient(fs, *configPath)
	if err != nil {
		return fmt.Errorf("loading %s (run 'inbox login' first): %w", *configPath, err)
	}

	logger := newLogger(cfg.Logging, errOut)
	a := &app{
		client: client.New(cfg.Gateway.URL, cfg.Gateway.Token, client.WithLogger(logger)),
		userID: cfg.User.ID,
		logger: logger,
		in:     in,
		out:    out,
		errOut: errOut,
	}
	return cmd(ctx, a, cmdArgs)
}

// runLogin writes the client config used by every other command.
func runLogin(fs afero.Fs, configPath string, args []string, out io.Writer) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	url := flags.String("url", "", "gateway base URL")
	token := flags.String("token", "", "bearer token from 'inbox-gateway token'")
	userID := flags.String("user", "", "your user ID")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg := &config.ClientConfig{
		Gateway: config.ClientGatewayConfig{URL: *url, Token: *token},
		User:    config.ClientUserConfig{ID: *userID},
		Logging: config.LoggingConfig{Level: "warn", Format: "text"},
	}
	if err := config.SaveClient(fs, configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved %s\n", configPath)
	return nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
