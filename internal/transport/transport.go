// Package transport defines the interface for pluggable event intakes.
//
// Each transport (Wyoming TCP, HTTP/WebSocket, MQTT) implements this
// interface and feeds decoded events to the dispatcher. The dispatcher
// doesn't care how events arrive; it only works with the Handler contract.
package transport

import (
	"context"

	"github.com/nadzzz/sonosbridge/internal/event"
)

// Handler processes one inbound event and reports whether it was acknowledged.
// The dispatcher provides this handler to each transport.
type Handler func(ctx context.Context, ev *event.Event) bool

// Transport is the interface that every intake must implement.
type Transport interface {
	// Name returns the transport identifier (e.g., "wyoming", "http", "mqtt").
	Name() string

	// Listen starts accepting events and passes them to the handler.
	// It blocks until the context is cancelled.
	Listen(ctx context.Context, handler Handler) error

	// Ready is closed once the transport is bound (or connected) and accepting events.
	Ready() <-chan struct{}

	// Close gracefully shuts down the transport.
	Close() error
}
