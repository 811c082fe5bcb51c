package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultReapInterval is how often the store sweeps for sessions to
// remove.
const DefaultReapInterval = 5 * time.Second

// StoreConfig tunes the session store. Zero values fall back to the
// package defaults.
type StoreConfig struct {
	// OrphanTimeout is applied to every inserted session.
	OrphanTimeout time.Duration

	// ReapInterval is the sweep period.
	ReapInterval time.Duration
}

// Store holds all live sessions keyed by id and reaps the ones whose
// shell died or whose clients never came back.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	orphanTimeout time.Duration
	reapInterval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	logger *slog.Logger
}

// NewStore creates the store and starts its reaper.
func NewStore(cfg *StoreConfig, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &StoreConfig{}
	}

	st := &Store{
		sessions:      make(map[string]*Session),
		orphanTimeout: cfg.OrphanTimeout,
		reapInterval:  cfg.ReapInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		logger:        logger,
	}
	if st.orphanTimeout <= 0 {
		st.orphanTimeout = DefaultOrphanTimeout
	}
	if st.reapInterval <= 0 {
		st.reapInterval = DefaultReapInterval
	}

	go st.reaperLoop()

	return st
}

// Insert registers s under a fresh random id and returns the id.
func (st *Store) Insert(s *Session) string {
	id := uuid.NewString()
	s.SetOrphanTimeout(st.orphanTimeout)

	st.mu.Lock()
	st.sessions[id] = s
	st.mu.Unlock()

	st.logger.Info("session registered", "sid", id, "pid", s.term.Pid())
	return id
}

// Get looks up a session by id.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// Len returns the number of registered sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *Store) reaperLoop() {
	defer close(st.done)

	ticker := time.NewTicker(st.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.sweep()
		}
	}
}

// sweep scans under the read lock, then takes the write lock only for
// the sessions that actually need to go. Shell teardown happens after
// the locks are released.
func (st *Store) sweep() {
	type victim struct {
		id   string
		s    *Session
		dead bool
	}
	var candidates []victim

	st.mu.RLock()
	for id, s := range st.sessions {
		switch {
		case !s.IsAlive():
			candidates = append(candidates, victim{id, s, true})
		case s.IsOrphaned():
			candidates = append(candidates, victim{id, s, false})
		}
	}
	st.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	var removed []victim
	st.mu.Lock()
	for _, v := range candidates {
		// A client may have reattached in the meantime.
		if v.s.IsAlive() && !v.s.IsOrphaned() {
			continue
		}
		delete(st.sessions, v.id)
		removed = append(removed, v)
	}
	st.mu.Unlock()

	for _, v := range removed {
		if v.dead {
			st.logger.Info("removing dead session", "sid", v.id)
		} else {
			st.logger.Info("removing orphaned session", "sid", v.id)
		}
		v.s.Close()
	}
}

// Close stops the reaper and tears down every remaining session. Used
// on server shutdown.
func (st *Store) Close() {
	st.stopOnce.Do(func() {
		close(st.stop)
		<-st.done
	})

	st.mu.Lock()
	remaining := st.sessions
	st.sessions = make(map[string]*Session)
	st.mu.Unlock()

	for id, s := range remaining {
		st.logger.Info("closing session", "sid", id)
		s.Close()
	}
}
