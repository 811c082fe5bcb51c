// Package integration provides end-to-end integration tests for tty-web.
//
// These tests run a real server with real shells and drive it over the
// websocket wire the way browsers and the attach command do, without
// requiring a browser.
package integration

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Alviner/tty-web/internal/client"
	"github.com/Alviner/tty-web/internal/config"
	"github.com/Alviner/tty-web/internal/protocol"
	"github.com/Alviner/tty-web/internal/session"
	"github.com/Alviner/tty-web/internal/web"
)

// TestConfigToServerWiring builds the server the way the serve command
// does, from a config file on disk, and runs a shell through it.
func TestConfigToServerWiring(t *testing.T) {
	dir := t.TempDir()
	oldDir := os.Getenv("TTYWEB_CONFIG_DIR")
	os.Setenv("TTYWEB_CONFIG_DIR", dir)
	defer os.Setenv("TTYWEB_CONFIG_DIR", oldDir)

	configJSON := `{
		"bind_addr": "127.0.0.1",
		"port": 0,
		"shell": "/bin/sh",
		"log_level": "error",
		"orphan_timeout": 3600,
		"allowed_origins": ["*"]
	}`
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(configJSON), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Shell != "/bin/sh" {
		t.Fatalf("shell = %q, want /bin/sh", cfg.Shell)
	}

	store := session.NewStore(&session.StoreConfig{
		OrphanTimeout: cfg.OrphanTimeoutDuration(),
	}, quietLogger())
	srv, err := web.New(web.Config{
		Shell:          cfg.Shell,
		AllowedOrigins: cfg.AllowedOrigins,
	}, store, quietLogger())
	if err != nil {
		t.Fatalf("web.New failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer func() {
		store.Close()
		ts.Close()
	}()

	// Health endpoint answers
	resp, err := http.Get(ts.URL + "/api/v1/ping")
	if err != nil {
		t.Fatalf("GET ping failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ping status = %d, want 200", resp.StatusCode)
	}

	// And the configured shell actually runs
	c := dialHub(t, ts, client.Options{})
	defer c.Close()
	readSID(t, c)

	if err := c.SendInput([]byte("echo wired_$((107*3))\n")); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}
	output := collectUntil(t, c, "wired_321", 3*time.Second)
	if !strings.Contains(output, "wired_321") {
		t.Errorf("output = %q, want to contain 'wired_321'", output)
	}
}

// TestTwoClientsShareOneShell attaches two writers to the same session
// and verifies both see output driven by either of them.
func TestTwoClientsShareOneShell(t *testing.T) {
	ts, _ := startHub(t, "/bin/bash", nil)

	owner := dialHub(t, ts, client.Options{})
	defer owner.Close()
	sid := readSID(t, owner)

	second := dialHub(t, ts, client.Options{SessionID: sid})
	defer second.Close()
	if got := readSID(t, second); got != sid {
		t.Fatalf("second client sid = %q, want %q", got, sid)
	}

	if err := owner.SendInput([]byte("echo shared_$((333*2))\n")); err != nil {
		t.Fatalf("owner SendInput failed: %v", err)
	}

	ownerSees := collectUntil(t, owner, "shared_666", 3*time.Second)
	if !strings.Contains(ownerSees, "shared_666") {
		t.Errorf("owner output = %q, want to contain 'shared_666'", ownerSees)
	}
	secondSees := collectUntil(t, second, "shared_666", 3*time.Second)
	if !strings.Contains(secondSees, "shared_666") {
		t.Errorf("second output = %q, want to contain 'shared_666'", secondSees)
	}

	// Input works from the second client too
	if err := second.SendInput([]byte("echo also_$((219*2))\n")); err != nil {
		t.Fatalf("second SendInput failed: %v", err)
	}
	ownerSees = collectUntil(t, owner, "also_438", 3*time.Second)
	if !strings.Contains(ownerSees, "also_438") {
		t.Errorf("owner output = %q, want the second client's command to run", ownerSees)
	}

	// One client leaving does not disturb the other
	owner.Close()
	time.Sleep(100 * time.Millisecond)

	if err := second.SendInput([]byte("echo alone_$((107*9))\n")); err != nil {
		t.Fatalf("SendInput after peer close failed: %v", err)
	}
	secondSees = collectUntil(t, second, "alone_963", 3*time.Second)
	if !strings.Contains(secondSees, "alone_963") {
		t.Errorf("output after peer close = %q, want to contain 'alone_963'", secondSees)
	}
}

// TestViewerSeesLiveOutput attaches a read-only viewer and verifies it
// receives the output stream.
func TestViewerSeesLiveOutput(t *testing.T) {
	ts, _ := startHub(t, "/bin/bash", nil)

	owner := dialHub(t, ts, client.Options{})
	defer owner.Close()
	sid := readSID(t, owner)

	viewer := dialHub(t, ts, client.Options{SessionID: sid, ViewOnly: true})
	defer viewer.Close()
	readSID(t, viewer)

	if err := owner.SendInput([]byte("echo watched_$((89*3))\n")); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}

	seen := collectUntil(t, viewer, "watched_267", 3*time.Second)
	if !strings.Contains(seen, "watched_267") {
		t.Errorf("viewer output = %q, want to contain 'watched_267'", seen)
	}
}

// TestReattachWithinGraceKeepsSession detaches and comes back while the
// reaper is running with a real grace period.
func TestReattachWithinGraceKeepsSession(t *testing.T) {
	ts, store := startHub(t, "/bin/bash", &session.StoreConfig{
		OrphanTimeout: 2 * time.Second,
		ReapInterval:  50 * time.Millisecond,
	})

	first := dialHub(t, ts, client.Options{})
	sid := readSID(t, first)

	if err := first.SendInput([]byte("echo kept_$((111*7))\n")); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}
	collectUntil(t, first, "kept_777", 3*time.Second)
	first.Close()

	// Well inside the grace period
	time.Sleep(200 * time.Millisecond)
	if store.Len() != 1 {
		t.Fatalf("store len = %d, want the session still there", store.Len())
	}

	second := dialHub(t, ts, client.Options{SessionID: sid})
	defer second.Close()
	if got := readSID(t, second); got != sid {
		t.Fatalf("reattach sid = %q, want %q", got, sid)
	}

	frame, err := second.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Cmd != protocol.CmdScrollback {
		t.Fatalf("frame cmd = %#x, want scrollback", frame.Cmd)
	}
	if !strings.Contains(string(frame.Payload), "kept_777") {
		t.Errorf("scrollback = %q, want the pre-detach output", string(frame.Payload))
	}
}

// TestOrphanedSessionReaped verifies a session with no clients dies
// after the grace period and its id stops resolving.
func TestOrphanedSessionReaped(t *testing.T) {
	ts, store := startHub(t, "/bin/bash", &session.StoreConfig{
		OrphanTimeout: 200 * time.Millisecond,
		ReapInterval:  50 * time.Millisecond,
	})

	c := dialHub(t, ts, client.Options{})
	sid := readSID(t, c)
	c.Close()

	if !waitFor(t, 3*time.Second, func() bool { return store.Len() == 0 }) {
		t.Fatalf("store len = %d, orphaned session never reaped", store.Len())
	}

	// The old id now spawns a fresh shell
	again := dialHub(t, ts, client.Options{SessionID: sid})
	defer again.Close()
	if got := readSID(t, again); got == sid {
		t.Error("reaped session id was resolved again")
	}
}

// TestShellExitReapsSession verifies the store notices a dead shell on
// its own, without any client attached.
func TestShellExitReapsSession(t *testing.T) {
	ts, store := startHub(t, "/bin/bash", &session.StoreConfig{
		OrphanTimeout: time.Hour,
		ReapInterval:  50 * time.Millisecond,
	})

	c := dialHub(t, ts, client.Options{})
	defer c.Close()
	readSID(t, c)

	if err := c.SendInput([]byte("exit\n")); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}

	if !waitFor(t, 3*time.Second, func() bool { return store.Len() == 0 }) {
		t.Fatalf("store len = %d, dead session never reaped", store.Len())
	}
}

// TestScrollbackCapAcrossReattach floods a session past the scrollback
// limit and checks the replay is capped and keeps the newest output.
func TestScrollbackCapAcrossReattach(t *testing.T) {
	ts, store := startHub(t, "/bin/bash", nil)

	first := dialHub(t, ts, client.Options{})
	sid := readSID(t, first)

	// 20000 zero-padded lines, about 140KB, over twice the limit
	if err := first.SendInput([]byte("seq -w 1 20000\n")); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}

	s, ok := store.Get(sid)
	if !ok {
		t.Fatal("session missing from store")
	}
	if !waitFor(t, 10*time.Second, func() bool { return s.ScrollbackLen() == session.ScrollbackLimit }) {
		t.Fatalf("scrollback len = %d, never reached the cap", s.ScrollbackLen())
	}
	first.Close()

	time.Sleep(100 * time.Millisecond)

	second := dialHub(t, ts, client.Options{SessionID: sid})
	defer second.Close()
	readSID(t, second)

	frame, err := second.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Cmd != protocol.CmdScrollback {
		t.Fatalf("frame cmd = %#x, want scrollback", frame.Cmd)
	}

	replay := string(frame.Payload)
	if len(replay) > session.ScrollbackLimit {
		t.Errorf("replay length = %d, want at most %d", len(replay), session.ScrollbackLimit)
	}
	if !strings.Contains(replay, "20000") {
		t.Error("replay lost the newest output")
	}
	if strings.Contains(replay, "00001\r") {
		t.Error("replay kept the oldest output past the cap")
	}
}

// startHub runs a full server on an ephemeral port with its own
// session store. A nil store config means generous timeouts.
func startHub(t *testing.T, shell string, storeCfg *session.StoreConfig) (*httptest.Server, *session.Store) {
	t.Helper()

	if storeCfg == nil {
		storeCfg = &session.StoreConfig{
			OrphanTimeout: time.Hour,
			ReapInterval:  time.Hour,
		}
	}

	store := session.NewStore(storeCfg, quietLogger())
	srv, err := web.New(web.Config{
		Shell:          shell,
		AllowedOrigins: []string{"*"},
	}, store, quietLogger())
	if err != nil {
		t.Fatalf("web.New failed: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		store.Close()
		ts.Close()
	})
	return ts, store
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dialHub(t *testing.T, ts *httptest.Server, opts client.Options) *client.Conn {
	t.Helper()

	c, err := client.Dial(context.Background(), ts.URL, opts)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return c
}

func readSID(t *testing.T, c *client.Conn) string {
	t.Helper()

	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer c.SetReadDeadline(time.Time{})

	frame, err := c.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if frame.Cmd != protocol.CmdSessionID {
		t.Fatalf("first frame cmd = %#x, want session id", frame.Cmd)
	}
	return string(frame.Payload)
}

// collectUntil gathers output and scrollback payloads until want shows
// up or the timeout passes.
func collectUntil(t *testing.T, c *client.Conn, want string, timeout time.Duration) string {
	t.Helper()

	deadline := time.Now().Add(timeout)
	c.SetReadDeadline(deadline)
	defer c.SetReadDeadline(time.Time{})

	var out []byte
	for time.Now().Before(deadline) {
		frame, err := c.ReadFrame()
		if err != nil {
			break
		}
		if frame.Cmd == protocol.CmdOutput || frame.Cmd == protocol.CmdScrollback {
			out = append(out, frame.Payload...)
			if strings.Contains(string(out), want) {
				break
			}
		}
	}
	return string(out)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}
