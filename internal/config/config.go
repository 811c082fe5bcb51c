// Package config provides configuration loading and persistence for tty-web.
//
// Configuration is loaded from:
// 1. ~/.tty-web/config.json (file)
// 2. Environment variables (override file values)
//
// Environment variables:
//   - TTYWEB_BIND_ADDR: Address the HTTP server binds to
//   - TTYWEB_PORT: Port the HTTP server listens on
//   - TTYWEB_SHELL: Shell binary spawned for new sessions
//   - TTYWEB_LOG_LEVEL: Log level (debug, info, warn, error)
//   - TTYWEB_ORPHAN_TIMEOUT: Seconds a clientless session survives
//   - TTYWEB_ALLOWED_ORIGINS: Comma-separated websocket origin patterns
//   - TTYWEB_TAILNET_HOSTNAME: Tailnet hostname (enables the tsnet listener)
//   - TTYWEB_TAILNET_CONTROL_URL: Alternative tailnet control server URL
//   - TTYWEB_TAILNET_AUTHKEY: Tailnet pre-auth key
//   - TTYWEB_CONFIG_DIR: Override config directory (for testing)
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the server.
type Config struct {
	// BindAddr is the address the HTTP server binds to.
	BindAddr string `json:"bind_addr"`

	// Port is the HTTP server port.
	Port int `json:"port"`

	// Shell is the binary spawned for new terminal sessions.
	Shell string `json:"shell"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level"`

	// OrphanTimeout is seconds a session without clients survives.
	OrphanTimeout uint64 `json:"orphan_timeout"`

	// AllowedOrigins are glob patterns matched against the Origin
	// header of websocket upgrades. "*" allows everything.
	AllowedOrigins []string `json:"allowed_origins"`

	// TailnetHostname enables the embedded tailnet listener when set.
	TailnetHostname string `json:"tailnet_hostname,omitempty"`

	// TailnetControlURL is an alternative control server URL.
	TailnetControlURL string `json:"tailnet_control_url,omitempty"`

	// TailnetAuthKey is a pre-auth key for unattended enrollment.
	TailnetAuthKey string `json:"tailnet_auth_key,omitempty"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:       "127.0.0.1",
		Port:           9090,
		Shell:          "/bin/bash",
		LogLevel:       "info",
		OrphanTimeout:  60,
		AllowedOrigins: []string{"*"},
	}
}

// ConfigDir returns the configuration directory path, creating it if necessary.
// Respects TTYWEB_CONFIG_DIR environment variable for testing.
func ConfigDir() (string, error) {
	// Allow tests to override the config directory
	if testDir := os.Getenv("TTYWEB_CONFIG_DIR"); testDir != "" {
		if err := os.MkdirAll(testDir, 0700); err != nil {
			return "", fmt.Errorf("could not create config directory: %w", err)
		}
		return testDir, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".tty-web")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("could not create config directory: %w", err)
	}

	return dir, nil
}

// ConfigPath returns the path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration from file and applies environment variable overrides.
// Priority: Environment variables > config file > defaults
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Missing or invalid file just means defaults
	_ = cfg.loadFromFile()

	cfg.applyEnvOverrides()

	return cfg, nil
}

// loadFromFile attempts to load configuration from the config file.
func (c *Config) loadFromFile() error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, c)
}

// applyEnvOverrides applies environment variable overrides to the config.
func (c *Config) applyEnvOverrides() {
	if bindAddr := os.Getenv("TTYWEB_BIND_ADDR"); bindAddr != "" {
		c.BindAddr = bindAddr
	}

	if shell := os.Getenv("TTYWEB_SHELL"); shell != "" {
		c.Shell = shell
	}

	if logLevel := os.Getenv("TTYWEB_LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if origins := os.Getenv("TTYWEB_ALLOWED_ORIGINS"); origins != "" {
		var parsed []string
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				parsed = append(parsed, o)
			}
		}
		if len(parsed) > 0 {
			c.AllowedOrigins = parsed
		}
	}

	if hostname := os.Getenv("TTYWEB_TAILNET_HOSTNAME"); hostname != "" {
		c.TailnetHostname = hostname
	}

	if controlURL := os.Getenv("TTYWEB_TAILNET_CONTROL_URL"); controlURL != "" {
		c.TailnetControlURL = controlURL
	}

	if authKey := os.Getenv("TTYWEB_TAILNET_AUTHKEY"); authKey != "" {
		c.TailnetAuthKey = authKey
	}

	// Optional numeric config
	if port := os.Getenv("TTYWEB_PORT"); port != "" {
		if val, err := strconv.Atoi(port); err == nil {
			c.Port = val
		}
	}

	if timeout := os.Getenv("TTYWEB_ORPHAN_TIMEOUT"); timeout != "" {
		if val, err := strconv.ParseUint(timeout, 10, 64); err == nil {
			c.OrphanTimeout = val
		}
	}
}

// Save writes configuration to the config file.
func (c *Config) Save() error {
	configPath, err := ConfigPath()
	if err != nil {
		return err
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("could not create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("could not write config file: %w", err)
	}

	return nil
}

// ListenAddr returns the bind address and port joined for net.Listen.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, strconv.Itoa(c.Port))
}

// OrphanTimeoutDuration returns the orphan timeout as a Duration.
func (c *Config) OrphanTimeoutDuration() time.Duration {
	return time.Duration(c.OrphanTimeout) * time.Second
}

// SlogLevel maps the configured log level onto slog. Unknown values
// fall back to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// UseTailnet reports whether the tailnet listener should start.
func (c *Config) UseTailnet() bool {
	return c.TailnetHostname != ""
}
