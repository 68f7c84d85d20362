// Package config handles configuration loading for coven-deck.
//
// # Overview
//
// Configuration is loaded from TOML files with environment variable expansion.
// The package provides validation and sensible defaults; a missing file falls
// back to Default().
//
// # Configuration File
//
// Default location:
//
//	$XDG_CONFIG_HOME/coven-deck/config.toml
//	~/.config/coven-deck/config.toml (when XDG_CONFIG_HOME is unset)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[gateway]
//	token = "${COVEN_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	[timeouts]
//	request = "15s"
//	handshake = "10s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Gateway endpoint:
//
//	[gateway]
//	host = "gateway.local"
//	port = 4460
//	scheme = ""          # "ws", "wss", or empty to infer
//	token = "${COVEN_TOKEN}"
//
// Client identity:
//
//	[client]
//	id = "coven-deck"
//	mode = "webchat"
//	session = "main"
//
//	[identity]
//	path = ""            # device record; empty uses the default
//	ssh_key = ""         # optional ed25519 SSH key for signing
//
// Reconnect backoff:
//
//	[reconnect]
//	base = "350ms"
//	growth = 1.7
//	cap = "8s"
//	max_attempts = 8
//
// Logging:
//
//	[logging]
//	level = "info"   # debug, info, warn, error
//	format = "text"  # text, json
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
