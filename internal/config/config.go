// ABOUTME: Configuration loading and parsing for coven-deck
// ABOUTME: Supports TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the complete coven-deck configuration
type Config struct {
	Gateway   GatewayConfig   `toml:"gateway"`
	Client    ClientConfig    `toml:"client"`
	Identity  IdentityConfig  `toml:"identity"`
	Timeouts  TimeoutsConfig  `toml:"timeouts"`
	Reconnect ReconnectConfig `toml:"reconnect"`
	Logging   LoggingConfig   `toml:"logging"`
}

// GatewayConfig holds the gateway endpoint and credentials
type GatewayConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Scheme   string `toml:"scheme"` // empty means inferred from host/port
	Token    string `toml:"token"`
	Password string `toml:"password"`
}

// ClientConfig identifies this client to the gateway
type ClientConfig struct {
	ID      string `toml:"id"`
	Mode    string `toml:"mode"`
	Session string `toml:"session"`
}

// IdentityConfig holds device identity configuration
type IdentityConfig struct {
	Path   string `toml:"path"`    // device record path; empty uses the default
	SSHKey string `toml:"ssh_key"` // optional ed25519 SSH key used for signing
}

// TimeoutsConfig holds request timing configuration
type TimeoutsConfig struct {
	Request   time.Duration `toml:"-"`
	Handshake time.Duration `toml:"-"`

	// Raw string values for TOML unmarshaling
	RequestRaw   string `toml:"request"`
	HandshakeRaw string `toml:"handshake"`
}

// ReconnectConfig holds reconnect backoff configuration
type ReconnectConfig struct {
	Base time.Duration `toml:"-"`
	Cap  time.Duration `toml:"-"`

	BaseRaw     string  `toml:"base"`
	CapRaw      string  `toml:"cap"`
	Growth      float64 `toml:"growth"`
	MaxAttempts int     `toml:"max_attempts"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultPath returns the standard config file location, honoring
// XDG_CONFIG_HOME.
func DefaultPath() string {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, "coven-deck", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "coven-deck.toml")
	}
	return filepath.Join(home, ".config", "coven-deck", "config.toml")
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{Host: "127.0.0.1", Port: 4460},
		Client:  ClientConfig{ID: "coven-deck", Mode: "webchat", Session: "main"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw TOML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := toml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port %d is out of range", c.Gateway.Port)
	}

	switch c.Gateway.Scheme {
	case "", "ws", "wss":
	default:
		return fmt.Errorf("gateway.scheme must be ws or wss, got %q", c.Gateway.Scheme)
	}

	if c.Client.ID == "" {
		return fmt.Errorf("client.id is required")
	}

	if c.Reconnect.Growth != 0 && c.Reconnect.Growth < 1 {
		return fmt.Errorf("reconnect.growth must be at least 1, got %g", c.Reconnect.Growth)
	}
	if c.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Timeouts.RequestRaw != "" {
		cfg.Timeouts.Request, err = time.ParseDuration(cfg.Timeouts.RequestRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.request %q: %w", cfg.Timeouts.RequestRaw, err)
		}
	}

	if cfg.Timeouts.HandshakeRaw != "" {
		cfg.Timeouts.Handshake, err = time.ParseDuration(cfg.Timeouts.HandshakeRaw)
		if err != nil {
			return fmt.Errorf("parsing timeouts.handshake %q: %w", cfg.Timeouts.HandshakeRaw, err)
		}
	}

	if cfg.Reconnect.BaseRaw != "" {
		cfg.Reconnect.Base, err = time.ParseDuration(cfg.Reconnect.BaseRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect.base %q: %w", cfg.Reconnect.BaseRaw, err)
		}
	}

	if cfg.Reconnect.CapRaw != "" {
		cfg.Reconnect.Cap, err = time.ParseDuration(cfg.Reconnect.CapRaw)
		if err != nil {
			return fmt.Errorf("parsing reconnect.cap %q: %w", cfg.Reconnect.CapRaw, err)
		}
	}

	return nil
}
