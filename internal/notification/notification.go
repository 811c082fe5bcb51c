// Package notification detects OSC notification sequences in terminal
// output.
//
// Shells and long-running tools emit OSC 9 (ESC ] 9 ; message BEL) or
// OSC 777 (ESC ] 777 ; notify ; title ; body BEL) to ask for attention.
// The session layer scans output for these so a detached session that
// wants attention still shows up in the server log.
package notification

import (
	"bytes"
	"strings"
)

// Kind identifies the sequence a notification came from.
type Kind string

const (
	// KindOSC9 is a simple notification with a message.
	KindOSC9 Kind = "osc9"

	// KindOSC777 is a rich notification with title and body.
	KindOSC777 Kind = "osc777"
)

// Notification is one detected attention request.
type Notification struct {
	Kind Kind

	// Message carries the OSC 9 payload.
	Message string

	// Title and Body carry the OSC 777 payload.
	Title string
	Body  string
}

// Text flattens the notification for logging.
func (n Notification) Text() string {
	if n.Kind == KindOSC777 {
		if n.Body == "" {
			return n.Title
		}
		return n.Title + ": " + n.Body
	}
	return n.Message
}

var oscPrefix = []byte{0x1b, ']'}

// Detect scans raw terminal output for OSC notifications. Both BEL and
// ST (ESC \) terminators are accepted. Sequences split across read
// chunks are not reassembled; a notification only counts when it fits
// in one chunk.
func Detect(data []byte) []Notification {
	var found []Notification

	for {
		start := bytes.Index(data, oscPrefix)
		if start < 0 {
			return found
		}
		data = data[start+2:]

		content, rest, ok := splitOSC(data)
		if !ok {
			return found
		}
		data = rest

		if n, ok := classify(content); ok {
			found = append(found, n)
		}
	}
}

// splitOSC cuts one OSC body off the front of data, which starts right
// after ESC ].
func splitOSC(data []byte) (content, rest []byte, ok bool) {
	for i := 0; i < len(data); i++ {
		switch {
		case data[i] == 0x07:
			return data[:i], data[i+1:], true
		case data[i] == 0x1b && i+1 < len(data) && data[i+1] == '\\':
			return data[:i], data[i+2:], true
		}
	}
	return nil, nil, false
}

func classify(content []byte) (Notification, bool) {
	s := string(content)

	switch {
	case strings.HasPrefix(s, "9;"):
		message := s[2:]
		// OSC 9 doubles as a progress protocol; digit-and-semicolon
		// payloads are progress updates, not messages.
		if message == "" || progressPayload(message) {
			return Notification{}, false
		}
		return Notification{Kind: KindOSC9, Message: message}, true

	case strings.HasPrefix(s, "777;notify;"):
		title, body, _ := strings.Cut(s[len("777;notify;"):], ";")
		if title == "" && body == "" {
			return Notification{}, false
		}
		return Notification{Kind: KindOSC777, Title: title, Body: body}, true
	}

	return Notification{}, false
}

// progressPayload reports whether s contains only digits and
// semicolons.
func progressPayload(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && c != ';' {
			return false
		}
	}
	return s != ""
}
