package web

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alviner/tty-web/internal/protocol"
	"github.com/Alviner/tty-web/internal/session"
	"github.com/Alviner/tty-web/internal/terminal"
)

// closeWriteTimeout bounds the courtesy close handshake.
const closeWriteTimeout = 5 * time.Second

var errSessionNotFound = errors.New("session not found")

// clientBridge pumps one websocket connection against one session:
// output frames down, input and resize frames up.
type clientBridge struct {
	conn     *websocket.Conn
	store    *session.Store
	shell    string
	viewOnly bool
	logger   *slog.Logger
}

// run owns the connection from upgrade to close. sid is the session id
// the client asked for, empty for a new session.
func (b *clientBridge) run(sid string) {
	defer b.conn.Close()

	sess, id, err := b.resolve(sid)
	if err != nil {
		if errors.Is(err, errSessionNotFound) {
			// View-only clients never get a fresh shell
			msg := websocket.FormatCloseMessage(protocol.CloseSessionNotFound, "session not found")
			b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
		} else {
			b.logger.Error("session setup failed", "error", err)
		}
		return
	}

	snapshot, sub := sess.Attach()
	defer sess.Detach()
	defer sub.Cancel()

	// The id always leads so the client can reattach later, then the
	// replay, then live output.
	if err := b.send(protocol.CmdSessionID, []byte(id)); err != nil {
		return
	}
	if len(snapshot) > 0 {
		if err := b.send(protocol.CmdScrollback, snapshot); err != nil {
			return
		}
	}

	term := sess.Terminal()

	done := make(chan struct{})
	defer close(done)

	frames := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := b.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- data:
			case <-done:
				return
			}
		}
	}()

	for {
		select {
		case chunk, ok := <-sub.Ch():
			if !ok {
				// Fanout torn down, shell is gone
				b.finish(sub, id)
				return
			}
			if missed := sub.Lagged(); missed > 0 {
				b.logger.Warn("client lagging, output dropped", "sid", id, "missed", missed)
			}
			if err := b.send(protocol.CmdOutput, chunk); err != nil {
				return
			}

		case <-term.Closed():
			b.finish(sub, id)
			return

		case data := <-frames:
			b.handleFrame(term, id, data)

		case err := <-readErr:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				b.logger.Debug("client connection lost", "sid", id, "error", err)
			} else {
				b.logger.Info("client detached", "sid", id)
			}
			return
		}
	}
}

// resolve finds the requested session or spawns a fresh one. View-only
// clients get errSessionNotFound instead of a spawn.
func (b *clientBridge) resolve(sid string) (*session.Session, string, error) {
	if sid != "" {
		if sess, ok := b.store.Get(sid); ok {
			b.logger.Info("client reattached", "sid", sid, "view", b.viewOnly)
			return sess, sid, nil
		}
		b.logger.Info("client sent stale session id", "sid", sid)
	}

	if b.viewOnly {
		return nil, "", errSessionNotFound
	}

	term, primary, err := terminal.Spawn(b.shell, b.logger)
	if err != nil {
		return nil, "", err
	}
	sess := session.New(term, primary, b.logger)
	id := b.store.Insert(sess)

	return sess, id, nil
}

// handleFrame applies one client frame. Bad frames are logged and
// dropped; they never kill the connection.
func (b *clientBridge) handleFrame(term *terminal.Terminal, id string, frame []byte) {
	cmd, payload, err := protocol.Decode(frame)
	if err != nil {
		return
	}

	switch cmd {
	case protocol.CmdInput:
		if b.viewOnly {
			b.logger.Debug("dropping input from view-only client", "sid", id)
			return
		}
		if err := term.Write(payload); err != nil {
			b.logger.Debug("input rejected", "sid", id, "error", err)
		}

	case protocol.CmdResize:
		if b.viewOnly {
			return
		}
		rows, cols, err := protocol.DecodeResize(payload)
		if err != nil {
			b.logger.Debug("malformed resize frame", "sid", id, "len", len(payload))
			return
		}
		if err := term.Resize(rows, cols); err != nil {
			b.logger.Debug("resize failed", "sid", id, "error", err)
		}

	default:
		b.logger.Debug("unknown command byte", "sid", id, "cmd", cmd)
	}
}

// finish flushes whatever output the subscription still buffers, then
// reports shell death and starts the close handshake. The reader is
// gone by now, so the buffer is final.
func (b *clientBridge) finish(sub *terminal.Subscription, id string) {
	for {
		select {
		case chunk, ok := <-sub.Ch():
			if !ok {
				b.sendShellExit(id)
				return
			}
			if err := b.send(protocol.CmdOutput, chunk); err != nil {
				return
			}
		default:
			b.sendShellExit(id)
			return
		}
	}
}

func (b *clientBridge) sendShellExit(id string) {
	b.logger.Info("shell exited, closing client", "sid", id)
	if err := b.send(protocol.CmdShellExit, nil); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	b.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
}

func (b *clientBridge) send(cmd byte, payload []byte) error {
	return b.conn.WriteMessage(websocket.BinaryMessage, protocol.Encode(cmd, payload))
}
