// Minimal tailnet connectivity check.
//
// Joins the tailnet with the configured control URL and auth key, binds a
// listener, and waits. Useful for verifying a pre-auth key before pointing
// serve at it. Registers as "<hostname>-check" so it never collides with a
// running server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Alviner/tty-web/internal/config"
	"github.com/Alviner/tty-web/internal/tailnet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.UseTailnet() {
		log.Fatal("Set tailnet_hostname in config or TTYWEB_TAILNET_HOSTNAME")
	}

	tn, err := tailnet.New(&tailnet.Config{
		Hostname:   cfg.TailnetHostname + "-check",
		ControlURL: cfg.TailnetControlURL,
		AuthKey:    cfg.TailnetAuthKey,
		Ephemeral:  true,
	}, nil)
	if err != nil {
		log.Fatalf("Failed to create tailnet client: %v", err)
	}

	log.Println("Connecting to tailnet...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := tn.Start(ctx); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	fmt.Println("✓ Connected.")
	fmt.Printf("  Hostname: %s\n", tn.Hostname())
	fmt.Printf("  Tailscale IPs: %v\n", tn.TailscaleIPs())

	ln, err := tn.Listen("tcp", ":80")
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}
	fmt.Println("  Listener on :80 works.")
	ln.Close()

	fmt.Println("\n✓ tailnet works! Press Ctrl+C to exit.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	tn.Close()
}
