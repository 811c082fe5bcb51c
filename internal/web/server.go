// Package web serves the browser frontend and bridges websocket
// clients onto terminal sessions.
//
// The HTTP surface is small: /ws upgrades to the binary terminal
// protocol, /api/v1/ping answers health checks, and everything else is
// the embedded frontend.
package web

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gobwas/glob"
	"github.com/gorilla/websocket"

	"github.com/Alviner/tty-web/internal/session"
)

// Config holds the server's terminal and origin policy.
type Config struct {
	// Shell is the binary spawned for new sessions.
	Shell string

	// AllowedOrigins are glob patterns for the websocket Origin check.
	// "*" allows any origin. An empty list rejects all browsers.
	AllowedOrigins []string
}

// Server routes HTTP traffic and owns the websocket upgrader.
type Server struct {
	cfg      Config
	store    *session.Store
	origins  []glob.Glob
	allowAll bool
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New builds a Server. It fails on an unparseable origin pattern so a
// broken allowlist is caught at startup, not at upgrade time.
func New(cfg Config, store *session.Store, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}

	for _, pattern := range cfg.AllowedOrigins {
		if pattern == "*" {
			s.allowAll = true
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad origin pattern %q: %w", pattern, err)
		}
		s.origins = append(s.origins, g)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	return s, nil
}

// Handler returns the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/v1/ping", s.handlePing)
	mux.HandleFunc("/", s.handleStatic)
	return mux
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "pong")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	sid := query.Get("sid")
	viewOnly := query.Has("view")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	b := &clientBridge{
		conn:     conn,
		store:    s.store,
		shell:    s.cfg.Shell,
		viewOnly: viewOnly,
		logger:   s.logger,
	}
	b.run(sid)
}

// checkOrigin applies the configured allowlist. Requests without an
// Origin header are non-browser clients and pass.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.allowAll {
		return true
	}

	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}

	for _, g := range s.origins {
		if g.Match(origin) || g.Match(host) {
			return true
		}
	}

	s.logger.Warn("websocket origin rejected", "origin", origin)
	return false
}
