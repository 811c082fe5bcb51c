// Package protocol defines the binary frames spoken over the terminal
// websocket.
//
// Every websocket message is one frame: a single command byte followed
// by the payload. The 0x00 code means terminal input upstream and
// terminal output downstream; direction disambiguates.
package protocol

import (
	"encoding/binary"
	"errors"
)

// Client-to-server commands.
const (
	// CmdInput carries keystrokes for the shell.
	CmdInput byte = 0x00

	// CmdResize carries new window dimensions.
	CmdResize byte = 0x01
)

// Server-to-client commands.
const (
	// CmdOutput carries raw terminal output.
	CmdOutput byte = 0x00

	// CmdSessionID announces the session id, always the first frame.
	CmdSessionID byte = 0x10

	// CmdScrollback replays buffered output, sent at most once, right
	// after the session id.
	CmdScrollback byte = 0x11

	// CmdShellExit reports shell death, always the last frame.
	CmdShellExit byte = 0x12
)

// CloseSessionNotFound is the websocket close code for a view-only
// client naming an unknown session.
const CloseSessionNotFound = 4404

var (
	// ErrEmptyFrame marks a message with no command byte.
	ErrEmptyFrame = errors.New("empty frame")

	// ErrShortResize marks a resize payload under four bytes.
	ErrShortResize = errors.New("resize payload too short")
)

// Encode builds a frame from a command byte and payload.
func Encode(cmd byte, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = cmd
	copy(frame[1:], payload)
	return frame
}

// Decode splits a frame into command and payload. The payload aliases
// the frame's memory.
func Decode(frame []byte) (cmd byte, payload []byte, err error) {
	if len(frame) == 0 {
		return 0, nil, ErrEmptyFrame
	}
	return frame[0], frame[1:], nil
}

// EncodeResize packs dimensions as two big-endian u16s.
func EncodeResize(rows, cols uint16) []byte {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint16(payload[0:2], rows)
	binary.BigEndian.PutUint16(payload[2:4], cols)
	return payload
}

// DecodeResize unpacks dimensions from a resize payload. Bytes past
// the first four are ignored.
func DecodeResize(payload []byte) (rows, cols uint16, err error) {
	if len(payload) < 4 {
		return 0, 0, ErrShortResize
	}
	rows = binary.BigEndian.Uint16(payload[0:2])
	cols = binary.BigEndian.Uint16(payload[2:4])
	return rows, cols, nil
}
