/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dispatch

import (
	"errors"
	"net/http"
)

// AttrRouteKey is the session attribute the dispatcher sets to the route key before a handler runs.
const AttrRouteKey = "route_key"

// ErrSessionClosed is returned by session writes after the session has been closed.
var ErrSessionClosed = errors.New("session is closed")

// ContentTypeText is the content type of dispatcher generated replies.
const ContentTypeText = "text/plain"

// Message is a protocol neutral response.
type Message struct {
	// Key is the route key the message answers.
	Key string
	// Status uses HTTP status numbers on every protocol.
	Status      int
	ContentType string
	Body        []byte
	// Close announces that the session will be closed after this message.
	Close bool
}

// TextMessage creates a plain text message.
func TextMessage(key string, status int, text string) Message {
	return Message{Key: key, Status: status, ContentType: ContentTypeText, Body: []byte(text)}
}

// Session is the connection-side collaborator a request arrives on.
type Session interface {
	// ID identifies the session in logs.
	ID() string
	Attribute(name string) (interface{}, bool)
	SetAttribute(name string, value interface{})
	IsActive() bool
	// WriteAsync queues the message. The returned channel yields exactly one value
	// once the message has been written (nil) or has failed.
	WriteAsync(msg Message) <-chan error
	Close() error
}

// Sequencer is a serial execution domain: tasks run one at a time in enqueue order.
// *mailbox.Mailbox and *mailbox.KeySequencer satisfy it.
type Sequencer interface {
	Enqueue(task func()) error
	Size() int
}

// Sequenced is implemented by sessions whose requests must be handled in arrival order.
// A nil Sequencer means the session is dispatched unordered.
type Sequenced interface {
	Sequencer() Sequencer
}

func sequencerOf(sess Session) Sequencer {
	if s, ok := sess.(Sequenced); ok {
		return s.Sequencer()
	}
	return nil
}

func statusText(status int) string {
	if text := http.StatusText(status); text != "" {
		return text
	}
	return "error"
}
