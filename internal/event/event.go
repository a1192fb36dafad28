// Package event defines the data types flowing from the event intakes to the dispatcher.
package event

import (
	"context"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Type is the event tag carried in the "type" field.
type Type string

// Recognised by the dispatcher.
const (
	Detection  Type = "detection"
	Error      Type = "error"
	Synthesize Type = "synthesize"
)

// Wyoming housekeeping, answered by the transport itself.
const (
	Describe Type = "describe"
	Info     Type = "info"
	Ping     Type = "ping"
	Pong     Type = "pong"
)

// Event is a single inbound protocol message.
type Event struct {
	// Type is the event tag (e.g., "detection", "synthesize").
	Type Type `json:"type"`

	// Data holds the event's key-value payload (e.g., "text").
	Data map[string]any `json:"data,omitempty"`

	// Payload is the optional binary payload (audio chunks). Never forwarded.
	Payload []byte `json:"-"`
}

// New creates an event of the given type with optional data.
func New(t Type, data map[string]any) *Event {
	return &Event{Type: t, Data: data}
}

// Text returns the "text" field when it is a non-blank string.
func (e *Event) Text() (string, bool) {
	if e == nil || e.Data == nil {
		return "", false
	}
	s, ok := e.Data["text"].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Session identifies one connected client. It is only used for logging.
type Session struct {
	// ID is a sortable unique identifier generated on connect.
	ID string

	// Transport names the intake the client arrived on ("wyoming", "http", "mqtt").
	Transport string

	// Remote is the peer address, if known.
	Remote string

	// Started is when the client connected.
	Started time.Time
}

// NewSession creates a session for a newly connected client.
func NewSession(transport, remote string) Session {
	return Session{
		ID:        xid.New().String(),
		Transport: transport,
		Remote:    remote,
		Started:   time.Now(),
	}
}

type sessionKey struct{}

// WithSession returns a context carrying the client session.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored by WithSession.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(Session)
	return s, ok
}
