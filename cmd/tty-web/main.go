// tty-web - Terminal sharing over the browser.
//
// This is the main entry point for the tty-web CLI. The serve command runs
// the session hub: an HTTP server that spawns pty-backed shells and streams
// them to websocket clients, with an optional embedded Tailscale listener.
// The attach command is a native client for the same wire protocol.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Alviner/tty-web/internal/client"
	"github.com/Alviner/tty-web/internal/commands"
	"github.com/Alviner/tty-web/internal/config"
	"github.com/Alviner/tty-web/internal/protocol"
	"github.com/Alviner/tty-web/internal/qr"
	"github.com/Alviner/tty-web/internal/session"
	"github.com/Alviner/tty-web/internal/tailnet"
	"github.com/Alviner/tty-web/internal/web"
)

// Version is set at build time via ldflags.
var Version = "dev"

// detachKey ends an attach without killing the shell. Ctrl-], same as
// telnet.
const detachKey = 0x1d

func main() {
	// Set up panic recovery to restore terminal on crash
	defer func() {
		if r := recover(); r != nil {
			// attach runs in raw mode and the remote shell may have
			// switched our terminal to the alternate screen
			fmt.Print("\033[?1049l") // Exit alt screen
			fmt.Print("\033[?25h")   // Show cursor
			fmt.Print("\033[0m")     // Reset colors

			fmt.Fprintf(os.Stderr, "\n\nPANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:     "tty-web",
		Short:   "Share terminal sessions over the web",
		Version: Version,
	}

	// Serve command - runs the session hub
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "Bind address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")
	serveCmd.Flags().String("shell", "", "Shell binary for new sessions (overrides config)")
	serveCmd.Flags().String("log-level", "", "Log level: debug, info, warn, error")
	serveCmd.Flags().Uint64("orphan-timeout", 0, "Seconds a clientless session survives (overrides config)")
	serveCmd.Flags().Bool("qr", false, "Print the connect URL as a QR code")
	rootCmd.AddCommand(serveCmd)

	// Attach command - native wire client
	attachCmd := &cobra.Command{
		Use:   "attach [url]",
		Short: "Attach this terminal to a session",
		Long: "Attach puts the local terminal in raw mode and bridges it onto a\n" +
			"session on the given server (default: the configured local address).\n" +
			"Press Ctrl-] to detach and leave the shell running.",
		Args: cobra.MaximumNArgs(1),
		RunE: runAttach,
	}
	attachCmd.Flags().String("sid", "", "Reattach to an existing session id")
	attachCmd.Flags().Bool("view", false, "Watch without sending input")
	rootCmd.AddCommand(attachCmd)

	// Config command - bare form prints the resolved configuration
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
		RunE:  runConfig,
	}
	configGetCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value by dot notation path (e.g., 'shell')",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigGet,
	}
	configCmd.AddCommand(configGetCmd)
	configSetCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value by dot notation path",
		Args:  cobra.ExactArgs(2),
		RunE:  runConfigSet,
	}
	configCmd.AddCommand(configSetCmd)
	configUnsetCmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration key",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigUnset,
	}
	configCmd.AddCommand(configUnsetCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyServeFlags(cmd, cfg)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("Starting tty-web",
		"version", Version,
		"addr", cfg.ListenAddr(),
		"shell", cfg.Shell,
	)

	store := session.NewStore(&session.StoreConfig{
		OrphanTimeout: cfg.OrphanTimeoutDuration(),
	}, logger)

	srv, err := web.New(web.Config{
		Shell:          cfg.Shell,
		AllowedOrigins: cfg.AllowedOrigins,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	httpServer := &http.Server{Handler: srv.Handler()}

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddr(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional tailnet listener alongside the local one
	var tn *tailnet.Client
	if cfg.UseTailnet() {
		tn, err = tailnet.New(&tailnet.Config{
			Hostname:   cfg.TailnetHostname,
			ControlURL: cfg.TailnetControlURL,
			AuthKey:    cfg.TailnetAuthKey,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create tailnet client: %w", err)
		}
		if err := tn.Start(ctx); err != nil {
			return fmt.Errorf("failed to join tailnet: %w", err)
		}
		tsLn, err := tn.Listen("tcp", ":80")
		if err != nil {
			return fmt.Errorf("failed to listen on tailnet: %w", err)
		}
		go func() {
			if err := httpServer.Serve(tsLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Tailnet server error", "error", err)
			}
		}()
		logger.Info("Tailnet listener up",
			"hostname", tn.Hostname(),
			"ips", tn.TailscaleIPs(),
		)
	}

	connectURL := serveURL(cfg)
	fmt.Printf("Serving on %s\n", connectURL)
	if showQR, _ := cmd.Flags().GetBool("qr"); showQR {
		printQR(connectURL)
	}

	// Handle OS signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	// Stop accepting, then hang up every shell. Websockets are hijacked
	// connections, so Shutdown alone does not end them; closing the
	// store does.
	logger.Info("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", "error", err)
	}
	store.Close()
	if tn != nil {
		if err := tn.Close(); err != nil {
			logger.Error("Tailnet close error", "error", err)
		}
	}

	return nil
}

// applyServeFlags copies explicitly set flags over the loaded config.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("addr") {
		cfg.BindAddr, _ = flags.GetString("addr")
	}
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("shell") {
		cfg.Shell, _ = flags.GetString("shell")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("orphan-timeout") {
		cfg.OrphanTimeout, _ = flags.GetUint64("orphan-timeout")
	}
}

// serveURL builds the URL clients should open. An unspecified bind
// address is swapped for a LAN address so the printed URL works from
// another device.
func serveURL(cfg *config.Config) string {
	host := cfg.BindAddr
	if host == "" {
		host = "127.0.0.1"
	} else if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		host = lanIP()
	}
	return fmt.Sprintf("http://%s/", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
}

// lanIP picks a non-loopback IPv4 address for display purposes.
func lanIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

func printQR(url string) {
	maxWidth, maxHeight := uint16(80), uint16(40)
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		maxWidth, maxHeight = uint16(w), uint16(h)
	}

	fmt.Println()
	for _, line := range qr.GenerateLines(url, maxWidth, maxHeight) {
		fmt.Println(line)
	}
	fmt.Println()
}

func runAttach(cmd *cobra.Command, args []string) error {
	sid, _ := cmd.Flags().GetString("sid")
	viewOnly, _ := cmd.Flags().GetBool("view")

	var baseURL string
	if len(args) > 0 {
		baseURL = args[0]
	} else {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		host := cfg.BindAddr
		if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
			host = "127.0.0.1"
		}
		baseURL = fmt.Sprintf("http://%s", net.JoinHostPort(host, strconv.Itoa(cfg.Port)))
	}

	conn, err := client.Dial(context.Background(), baseURL, client.Options{
		SessionID: sid,
		ViewOnly:  viewOnly,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	stdinFd := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFd) {
		return fmt.Errorf("attach needs a terminal on stdin")
	}

	oldState, err := term.MakeRaw(stdinFd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	restore := func() { _ = term.Restore(stdinFd, oldState) }
	defer restore()

	// Tell the server our size now and on every SIGWINCH
	sendSize := func() {
		if w, h, err := term.GetSize(stdinFd); err == nil {
			_ = conn.SendResize(uint16(h), uint16(w))
		}
	}
	sendSize()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			sendSize()
		}
	}()

	// Forward keystrokes until the detach key shows up. Closing the
	// connection is what breaks the read loop below out.
	detached := make(chan struct{})
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := buf[:n]
				if i := bytes.IndexByte(data, detachKey); i >= 0 {
					if i > 0 {
						_ = conn.SendInput(data[:i])
					}
					close(detached)
					conn.Close()
					return
				}
				if err := conn.SendInput(data); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	sessionID := sid
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			restore()
			select {
			case <-detached:
				fmt.Printf("\ndetached from session %s\n", sessionID)
				return nil
			default:
			}
			if client.IsSessionNotFound(err) {
				return fmt.Errorf("session %s not found", sid)
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		switch frame.Cmd {
		case protocol.CmdSessionID:
			sessionID = string(frame.Payload)
		case protocol.CmdScrollback:
			os.Stdout.Write(frame.Payload)
			// Replayed output may have left the cursor hidden
			os.Stdout.WriteString("\x1b[?25h")
		case protocol.CmdOutput:
			os.Stdout.Write(frame.Payload)
		case protocol.CmdShellExit:
			restore()
			fmt.Printf("\nshell exited, session %s is gone\n", sessionID)
			return nil
		}
	}
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	path, err := config.ConfigPath()
	if err != nil {
		return err
	}

	fmt.Printf("Config file: %s\n", path)
	fmt.Printf("Bind address: %s\n", cfg.BindAddr)
	fmt.Printf("Port: %d\n", cfg.Port)
	fmt.Printf("Shell: %s\n", cfg.Shell)
	fmt.Printf("Log level: %s\n", cfg.LogLevel)
	fmt.Printf("Orphan timeout: %ds\n", cfg.OrphanTimeout)
	fmt.Printf("Allowed origins: %s\n", strings.Join(cfg.AllowedOrigins, ", "))
	if cfg.UseTailnet() {
		fmt.Printf("Tailnet hostname: %s\n", cfg.TailnetHostname)
	}

	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	value, err := commands.ConfigGet(args[0])
	if err != nil {
		return err
	}
	fmt.Println(value)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	if err := commands.ConfigSet(args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Set %s = %s\n", args[0], args[1])
	return nil
}

func runConfigUnset(cmd *cobra.Command, args []string) error {
	if err := commands.ConfigUnset(args[0]); err != nil {
		return err
	}
	fmt.Printf("Unset %s\n", args[0])
	return nil
}
