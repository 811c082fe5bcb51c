// Package client speaks the terminal websocket protocol from the
// client side. The attach command and the integration tests both sit
// on top of it.
package client

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Alviner/tty-web/internal/protocol"
)

// Options select the session and access mode for a connection.
type Options struct {
	// SessionID reattaches to an existing session when set; empty
	// requests a fresh shell.
	SessionID string

	// ViewOnly asks for read-only access. The server refuses to spawn
	// for view-only clients.
	ViewOnly bool
}

// Frame is one decoded server frame.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// Conn is a connected protocol client.
type Conn struct {
	ws *websocket.Conn
}

// Dial connects to a tty-web server. baseURL is the plain HTTP
// address; the scheme is rewritten for the websocket endpoint.
func Dial(ctx context.Context, baseURL string, opts Options) (*Conn, error) {
	endpoint, err := wsEndpoint(baseURL, opts)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	ws, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket connect failed: %w", err)
	}

	return &Conn{ws: ws}, nil
}

// wsEndpoint rewrites baseURL into the /ws websocket URL with the
// session and view parameters applied.
func wsEndpoint(baseURL string, opts Options) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("bad server URL %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("bad server URL %q: unsupported scheme", baseURL)
	}
	u.Path = "/ws"

	q := url.Values{}
	if opts.SessionID != "" {
		q.Set("sid", opts.SessionID)
	}
	u.RawQuery = q.Encode()
	if opts.ViewOnly {
		// Bare flag, the server only checks presence
		if u.RawQuery != "" {
			u.RawQuery += "&view"
		} else {
			u.RawQuery = "view"
		}
	}

	return u.String(), nil
}

// ReadFrame blocks for the next server frame. A websocket close
// surfaces as an error; 4404 arrives as *websocket.CloseError.
func (c *Conn) ReadFrame() (Frame, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return Frame{}, err
		}
		cmd, payload, err := protocol.Decode(data)
		if err != nil {
			// Tolerate empty frames the way the server does
			continue
		}
		return Frame{Cmd: cmd, Payload: payload}, nil
	}
}

// SetReadDeadline bounds subsequent ReadFrame calls.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// IsSessionNotFound reports whether err is the server refusing an
// unknown session id.
func IsSessionNotFound(err error) bool {
	return websocket.IsCloseError(err, protocol.CloseSessionNotFound)
}

// SendInput forwards keystrokes to the shell.
func (c *Conn) SendInput(p []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.CmdInput, p))
}

// SendResize reports new window dimensions.
func (c *Conn) SendResize(rows, cols uint16) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, protocol.Encode(protocol.CmdResize, protocol.EncodeResize(rows, cols)))
}

// SendRaw ships an arbitrary frame, for exercising the server's
// handling of unknown or malformed commands.
func (c *Conn) SendRaw(frame []byte) error {
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

// Close starts a polite close handshake and drops the connection.
func (c *Conn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
