// Package tailnet provides Tailscale mesh networking via tsnet.
//
// This package wraps tsnet so the terminal server can listen inside a
// tailnet without a tailscale binary on the host. Userspace networking
// only; no root required. Works against the default control plane or a
// self-hosted Headscale via ControlURL.
package tailnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/tsnet"

	"github.com/Alviner/tty-web/internal/config"
)

// Config holds configuration for the tailnet listener.
type Config struct {
	// Hostname is the node name inside the tailnet.
	Hostname string

	// ControlURL is the control server URL. Empty uses the default
	// Tailscale coordination server.
	ControlURL string

	// AuthKey is a pre-auth key for unattended enrollment.
	AuthKey string

	// StateDir is the directory for storing Tailscale state.
	// Defaults to <config dir>/tsnet/<hostname>.
	StateDir string

	// Ephemeral indicates whether this node should be ephemeral.
	Ephemeral bool
}

// Client wraps a tsnet.Server.
type Client struct {
	server *tsnet.Server
	logger *slog.Logger
}

// New creates a new tailnet client.
func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("hostname is required")
	}

	stateDir := cfg.StateDir
	if stateDir == "" {
		configDir, err := config.ConfigDir()
		if err != nil {
			return nil, err
		}
		stateDir = filepath.Join(configDir, "tsnet", cfg.Hostname)
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}

	server := &tsnet.Server{
		Hostname:   cfg.Hostname,
		Dir:        stateDir,
		ControlURL: cfg.ControlURL,
		AuthKey:    cfg.AuthKey,
		Ephemeral:  cfg.Ephemeral,
		Logf:       func(format string, args ...any) { logger.Debug(fmt.Sprintf(format, args...)) },
	}

	return &Client{
		server: server,
		logger: logger,
	}, nil
}

// Start connects to the Tailscale network.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("Connecting to Tailscale network",
		"hostname", c.server.Hostname,
		"control_url", c.server.ControlURL,
	)

	status, err := c.server.Up(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to tailnet: %w", err)
	}

	c.logger.Info("Connected to Tailscale network",
		"tailscale_ips", status.TailscaleIPs,
		"backend_state", status.BackendState,
	)

	return nil
}

// Close shuts down the Tailscale connection.
func (c *Client) Close() error {
	c.logger.Info("Disconnecting from Tailscale network")
	return c.server.Close()
}

// Listen creates a TCP listener on the tailnet.
func (c *Client) Listen(network, addr string) (net.Listener, error) {
	return c.server.Listen(network, addr)
}

// TailscaleIPs returns the Tailscale IP addresses for this node.
func (c *Client) TailscaleIPs() []string {
	ip4, ip6 := c.server.TailscaleIPs()
	var result []string
	if ip4.IsValid() {
		result = append(result, ip4.String())
	}
	if ip6.IsValid() {
		result = append(result, ip6.String())
	}
	return result
}

// Hostname returns the tailnet hostname.
func (c *Client) Hostname() string {
	return c.server.Hostname
}
