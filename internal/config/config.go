// Package config provides TOML configuration file loading and parsing for the host.
// The configuration file lives at ~/.channelhost/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	hostErrors "github.com/channelhost/host/internal/errors"
)

// Config represents the host configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files.
type Config struct {
	// Addr is the host:port for the WebSocket server.
	// Default: 127.0.0.1:7171
	Addr string `toml:"addr"`

	// TLS enables wss:// with a self-signed certificate.
	// Default: false
	TLS bool `toml:"tls"`

	// TLSCert is the path to the TLS certificate file.
	// Default: ~/.channelhost/certs/host.crt (auto-generated if missing)
	TLSCert string `toml:"tls_cert"`

	// TLSKey is the path to the TLS key file.
	// Default: ~/.channelhost/certs/host.key (auto-generated if missing)
	TLSKey string `toml:"tls_key"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// DeviceName overrides the name reported by the string channel.
	// If empty, the host name is used.
	DeviceName string `toml:"device_name"`

	// AuthTokenHash is a bcrypt hash of the bearer token clients must present.
	// If empty, connections are not authenticated.
	AuthTokenHash string `toml:"auth_token_hash"`

	// MethodRateLimit is the number of method calls per second each client may make.
	// Default: 50
	MethodRateLimit int `toml:"method_rate_limit"`

	// AuditStore is the path to the SQLite delivery audit database.
	// If empty, auditing is disabled.
	AuditStore string `toml:"audit_store"`

	// AuditMaxRows bounds the audit table. Default: 10000
	AuditMaxRows int `toml:"audit_max_rows"`

	// MdnsEnabled advertises the host on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled"`

	// Channels holds the channel identifiers.
	Channels Channels `toml:"channels"`

	// Battery configures the power source behind the event channel.
	Battery Battery `toml:"battery"`
}

// Channels names each registered channel.
type Channels struct {
	GetString string `toml:"get_string"`
	Void      string `toml:"void"`
	Event     string `toml:"event"`
}

// Battery selects and tunes the battery notifier.
type Battery struct {
	// Source is one of auto, sysfs, pmset, file.
	Source string `toml:"source"`

	// Path is the status file for the file source, or the power_supply
	// root for sysfs. Empty uses the platform default.
	Path string `toml:"path"`

	// PollMs is the re-read interval while a listener is attached.
	PollMs int `toml:"poll_ms"`
}

// PollInterval returns the configured poll interval as a duration.
func (b Battery) PollInterval() time.Duration {
	return time.Duration(b.PollMs) * time.Millisecond
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.MethodRateLimit == 0 {
		c.MethodRateLimit = DefaultMethodRateLimit
	}
	if c.AuditMaxRows == 0 {
		c.AuditMaxRows = DefaultAuditMaxRows
	}
	if c.Channels.GetString == "" {
		c.Channels.GetString = DefaultGetStringChannel
	}
	if c.Channels.Void == "" {
		c.Channels.Void = DefaultVoidChannel
	}
	if c.Channels.Event == "" {
		c.Channels.Event = DefaultEventChannel
	}
	if c.Battery.Source == "" {
		c.Battery.Source = DefaultBatterySource
	}
	if c.Battery.PollMs == 0 {
		c.Battery.PollMs = DefaultBatteryPollMs
	}
}

// Validate checks the invariants startup relies on. A failure here is fatal:
// the host refuses to run with a broken environment.
func (c *Config) Validate() error {
	names := map[string]string{}
	for label, name := range map[string]string{
		"channels.get_string": c.Channels.GetString,
		"channels.void":       c.Channels.Void,
		"channels.event":      c.Channels.Event,
	} {
		if name == "" {
			return hostErrors.ConfigInvalid(fmt.Sprintf("%s must not be empty", label))
		}
		if other, dup := names[name]; dup {
			return hostErrors.ConfigInvalid(fmt.Sprintf("%s and %s share the name %q", label, other, name))
		}
		names[name] = label
	}

	switch c.Battery.Source {
	case "auto", "sysfs", "pmset":
	case "file":
		if c.Battery.Path == "" {
			return hostErrors.ConfigInvalid("battery.path is required for the file source")
		}
	default:
		return hostErrors.ConfigInvalid(fmt.Sprintf("unknown battery.source %q", c.Battery.Source))
	}

	if c.Battery.PollMs < 0 {
		return hostErrors.ConfigInvalid("battery.poll_ms must be positive")
	}
	if c.MethodRateLimit < 0 {
		return hostErrors.ConfigInvalid("method_rate_limit must be positive")
	}
	if c.AuditMaxRows < 0 {
		return hostErrors.ConfigInvalid("audit_max_rows must be positive")
	}
	return nil
}

// DefaultConfigPath returns the default config file location: ~/.channelhost/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".channelhost", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
// Defaults are not applied; callers merge CLI flags first, then call
// ApplyDefaults and Validate.
//
// Behavior:
//   - If path is empty, attempts to load from the default location.
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
