// Package pty spawns interactive shells under pseudo-terminals.
//
// Each Process wraps one shell child running as the leader of its own
// session, with the pty slave as its controlling terminal. The master
// side is exposed as an *os.File registered with the runtime poller, so
// reads and writes park the calling goroutine instead of an OS thread.
package pty

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// Default dimensions used until the client reports its real window size.
const (
	DefaultRows = 24
	DefaultCols = 80
)

// Process is a shell child attached to a pseudo-terminal.
type Process struct {
	// cmd is the running shell.
	cmd *exec.Cmd

	// master is the pty master side.
	master *os.File

	// hangupOnce guards the signal/reap/close sequence.
	hangupOnce sync.Once

	logger *slog.Logger
}

// Spawn starts shellPath under a fresh pty.
//
// The child is placed in a new session with the pty slave as its
// controlling terminal, so closing the terminal later hits the whole
// job the way a vanished ssh connection would. TERM and COLORTERM are
// forced so full-color programs render correctly in the browser.
func Spawn(shellPath string, logger *slog.Logger) (*Process, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(shellPath)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
	)
	// StartWithSize sets these itself; spelled out because the hangup
	// sequence depends on the child being a session leader.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	master, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: DefaultRows,
		Cols: DefaultCols,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn shell %q: %w", shellPath, err)
	}

	logger.Info("shell spawned", "shell", shellPath, "pid", cmd.Process.Pid)

	return &Process{
		cmd:    cmd,
		master: master,
		logger: logger,
	}, nil
}

// Master returns the pty master file.
func (p *Process) Master() *os.File {
	return p.master
}

// Pid returns the shell's process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// SetWindowSize updates the pty dimensions. The kernel delivers
// SIGWINCH to the foreground job on change.
func (p *Process) SetWindowSize(rows, cols uint16) error {
	return pty.Setsize(p.master, &pty.Winsize{
		Rows: rows,
		Cols: cols,
	})
}

// Hangup tears the shell down: SIGHUP to the session leader, a blocking
// reap so no zombie survives, then the master is closed. Safe to call
// more than once; later calls are no-ops.
func (p *Process) Hangup() error {
	var hangupErr error

	p.hangupOnce.Do(func() {
		pid := p.cmd.Process.Pid
		p.logger.Info("hanging up shell", "pid", pid)

		if err := syscall.Kill(pid, syscall.SIGHUP); err != nil && !errors.Is(err, syscall.ESRCH) {
			p.logger.Warn("failed to signal shell", "pid", pid, "error", err)
		}

		// Death by SIGHUP or a non-zero exit surfaces as ExitError;
		// both are expected ends for a shell.
		if err := p.cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				hangupErr = fmt.Errorf("reap shell: %w", err)
			}
		}

		if err := p.master.Close(); err != nil && hangupErr == nil {
			hangupErr = fmt.Errorf("close pty master: %w", err)
		}

		p.logger.Info("shell reaped", "pid", pid)
	})

	return hangupErr
}
