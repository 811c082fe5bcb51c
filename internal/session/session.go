// Package session ties a terminal to the clients watching it.
//
// A Session owns one Terminal, keeps the most recent output as
// scrollback for reattaching clients, and tracks how many clients are
// connected so idle sessions can be reaped. The Store registers
// sessions under random ids and runs the reaper.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Alviner/tty-web/internal/notification"
	"github.com/Alviner/tty-web/internal/terminal"
)

// ScrollbackLimit is the newest output kept per session, in bytes.
const ScrollbackLimit = 64 * 1024

// DefaultOrphanTimeout is how long a session may sit without any
// client before the reaper takes it.
const DefaultOrphanTimeout = 60 * time.Second

// Session is one shell plus its replay buffer and client bookkeeping.
type Session struct {
	term *terminal.Terminal

	// mu guards scrollback. Attach subscribes and snapshots under it
	// so a reattaching client misses nothing and sees nothing twice.
	mu         sync.Mutex
	scrollback []byte

	// clientMu guards clients and detachedAt as one unit.
	clientMu   sync.Mutex
	clients    int
	detachedAt time.Time

	orphanTimeout time.Duration

	logger *slog.Logger
}

// New wraps term in a Session and starts collecting its output into
// scrollback from primary. The orphan clock only starts once an
// attached client leaves; the caller is expected to attach right away.
func New(term *terminal.Terminal, primary *terminal.Subscription, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		term:          term,
		orphanTimeout: DefaultOrphanTimeout,
		logger:        logger,
	}

	go s.collect(primary)

	return s
}

// collect appends terminal output to scrollback, oldest bytes first
// out. It exits when the terminal shuts down and its channel closes.
func (s *Session) collect(primary *terminal.Subscription) {
	for chunk := range primary.Ch() {
		if missed := primary.Lagged(); missed > 0 {
			s.logger.Debug("scrollback collector lagged", "missed", missed)
		}

		s.mu.Lock()
		s.scrollback = append(s.scrollback, chunk...)
		if overflow := len(s.scrollback) - ScrollbackLimit; overflow > 0 {
			s.scrollback = s.scrollback[overflow:]
		}
		s.mu.Unlock()

		// Surface attention requests even when nobody is watching
		for _, n := range notification.Detect(chunk) {
			s.logger.Info("session notification",
				"pid", s.term.Pid(),
				"kind", n.Kind,
				"text", n.Text(),
			)
		}
	}
}

// Attach registers a client and hands it the replay snapshot plus a
// live subscription. Subscribing happens under the scrollback lock, so
// every byte the collector handles lands in exactly one of the two.
func (s *Session) Attach() ([]byte, *terminal.Subscription) {
	s.clientMu.Lock()
	s.clients++
	s.detachedAt = time.Time{}
	s.clientMu.Unlock()

	s.mu.Lock()
	sub := s.term.Subscribe()
	snapshot := make([]byte, len(s.scrollback))
	copy(snapshot, s.scrollback)
	s.mu.Unlock()

	return snapshot, sub
}

// Detach unregisters a client. When the last one leaves, the orphan
// clock starts.
func (s *Session) Detach() {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.clients > 0 {
		s.clients--
	}
	if s.clients == 0 && s.detachedAt.IsZero() {
		s.detachedAt = time.Now()
	}
}

// Clients returns the number of attached clients.
func (s *Session) Clients() int {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	return s.clients
}

// SetOrphanTimeout overrides the grace period for this session.
func (s *Session) SetOrphanTimeout(d time.Duration) {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	s.orphanTimeout = d
}

// IsOrphaned reports whether the session has been clientless for at
// least the orphan timeout.
func (s *Session) IsOrphaned() bool {
	s.clientMu.Lock()
	defer s.clientMu.Unlock()

	if s.clients > 0 || s.detachedAt.IsZero() {
		return false
	}
	return time.Since(s.detachedAt) >= s.orphanTimeout
}

// IsAlive reports whether the shell is still running.
func (s *Session) IsAlive() bool {
	select {
	case <-s.term.Closed():
		return false
	default:
		return true
	}
}

// Terminal exposes the underlying terminal for input and resize.
func (s *Session) Terminal() *terminal.Terminal {
	return s.term
}

// ScrollbackLen returns the current replay buffer size.
func (s *Session) ScrollbackLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scrollback)
}

// Close hangs up the shell. The collector exits on its own once the
// terminal's fanout closes.
func (s *Session) Close() {
	s.term.Close()
}
