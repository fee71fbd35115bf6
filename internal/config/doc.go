// Package config handles configuration loading for inbox-gateway and the
// inbox CLI.
//
// # Gateway Configuration
//
// The gateway reads YAML. Default locations (in order):
//
//  1. Path from INBOX_CONFIG environment variable
//  2. ~/.config/inbox/gateway.yaml
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${INBOX_JWT_SECRET}"
//
// Duration values use Go's time.ParseDuration syntax:
//
//	realtime:
//	  ping_interval: "30s"
//	  write_timeout: "10s"
//	dedupe:
//	  ttl: "10m"
//
// Sections: server, tailscale, database, auth, realtime, dedupe, logging.
// Empty durations, sizes and logging options get defaults; database.path
// and auth.jwt_secret are required. When tailscale.enabled is set the
// gateway listens on the tailnet and server.http_addr may be omitted.
//
// # Client Configuration
//
// The CLI reads TOML from $XDG_CONFIG_HOME/inbox/config.toml:
//
//	[gateway]
//	url = "http://127.0.0.1:8080"
//	token = "${INBOX_TOKEN}"
//
//	[user]
//	id = "buyer-1"
//
// Both loaders take an afero.Fs so tests can run against an in-memory
// filesystem.
package config
