// Package terminal pumps bytes between one shell pty and any number of
// attached clients.
//
// A Terminal owns the shell process plus two goroutines: a reader that
// publishes pty output to a lossy fanout, and a writer that drains a
// bounded input queue into the pty. Slow clients lose output; they
// never stall the shell.
package terminal

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/Alviner/tty-web/internal/pty"
)

const (
	// readBufSize bounds a single pty read.
	readBufSize = 4096

	// inputQueueSize bounds queued keystrokes. Writers block when the
	// shell stops consuming input.
	inputQueueSize = 256
)

// ErrTerminalShutdown is returned by Write once the input path is gone.
var ErrTerminalShutdown = errors.New("terminal shut down")

// Terminal is a running shell with fanned-out I/O.
type Terminal struct {
	proc *pty.Process
	out  *broadcast

	// input queues client keystrokes for the writer goroutine.
	input chan []byte

	// closed latches when the reader exits, i.e. the shell side of the
	// pty is gone for good.
	closed chan struct{}

	// writerDone latches when the writer exits; Write fails after this.
	writerDone chan struct{}

	closeOnce sync.Once
	logger    *slog.Logger
}

// Spawn starts shellPath under a pty and begins pumping. The returned
// Subscription observes all output from the first byte; the Session
// feeds its scrollback from it.
func Spawn(shellPath string, logger *slog.Logger) (*Terminal, *Subscription, error) {
	if logger == nil {
		logger = slog.Default()
	}

	proc, err := pty.Spawn(shellPath, logger)
	if err != nil {
		return nil, nil, err
	}

	t := &Terminal{
		proc:       proc,
		out:        newBroadcast(),
		input:      make(chan []byte, inputQueueSize),
		closed:     make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     logger,
	}

	// Subscribe before the reader starts so not a single chunk can
	// slip past the scrollback collector.
	primary := t.out.subscribe()

	go t.readerLoop()
	go t.writerLoop()

	return t, primary, nil
}

// readerLoop moves pty output into the fanout until the shell exits or
// the last receiver disappears.
func (t *Terminal) readerLoop() {
	defer close(t.closed)

	buf := make([]byte, readBufSize)
	for {
		n, err := t.proc.Master().Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if t.out.publish(chunk) != nil {
				return
			}
		}
		if err != nil {
			// EIO is how Linux reports the slave side closing; both it
			// and EOF are just the shell going away.
			if !errors.Is(err, io.EOF) && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
				t.logger.Warn("pty read error", "error", err)
			}
			return
		}
	}
}

// writerLoop drains the input queue into the pty, finishing each buffer
// before starting the next.
func (t *Terminal) writerLoop() {
	defer close(t.writerDone)

	for {
		select {
		case buf := <-t.input:
			if _, err := t.proc.Master().Write(buf); err != nil {
				t.logger.Debug("pty write failed", "error", err)
				return
			}
		case <-t.closed:
			return
		}
	}
}

// Write queues p for the shell. It blocks while the queue is full and
// returns ErrTerminalShutdown once the writer is gone.
func (t *Terminal) Write(p []byte) error {
	select {
	case <-t.writerDone:
		return ErrTerminalShutdown
	default:
	}

	buf := make([]byte, len(p))
	copy(buf, p)

	select {
	case t.input <- buf:
		return nil
	case <-t.writerDone:
		return ErrTerminalShutdown
	}
}

// Subscribe returns a fresh output receiver. It sees only bytes
// published after this call.
func (t *Terminal) Subscribe() *Subscription {
	return t.out.subscribe()
}

// Closed reports shell death: the channel is closed exactly once, when
// the reader has exited.
func (t *Terminal) Closed() <-chan struct{} {
	return t.closed
}

// Resize propagates new window dimensions to the pty.
func (t *Terminal) Resize(rows, cols uint16) error {
	return t.proc.SetWindowSize(rows, cols)
}

// Pid returns the shell's process ID.
func (t *Terminal) Pid() int {
	return t.proc.Pid()
}

// Close hangs up the shell and tears down the fanout. It blocks until
// the shell is reaped. Safe to call more than once.
func (t *Terminal) Close() {
	t.closeOnce.Do(func() {
		if err := t.proc.Hangup(); err != nil {
			t.logger.Warn("shell hangup failed", "error", err)
		}
		t.out.close()
	})
}
