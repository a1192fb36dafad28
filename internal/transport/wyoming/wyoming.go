// Package wyoming implements the Wyoming TCP event server.
//
// Each accepted connection gets its own goroutine and session. Events on a
// connection are handled one at a time in arrival order; connections never
// wait on each other.
package wyoming

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/nadzzz/sonosbridge/internal/event"
	"github.com/nadzzz/sonosbridge/internal/transport"
	codec "github.com/nadzzz/sonosbridge/internal/wyoming"
)

// Info is returned in response to a describe event.
type Info struct {
	Name        string
	Description string
	Version     string
}

// Transport implements transport.Transport over Wyoming TCP.
type Transport struct {
	port int
	info Info

	ready     chan struct{}
	readyOnce sync.Once

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// New creates a Wyoming server on the given port.
func New(port int, info Info) *Transport {
	return &Transport{
		port:  port,
		info:  info,
		ready: make(chan struct{}),
		conns: make(map[net.Conn]struct{}),
	}
}

// Ready is closed once Serve holds a bound listener.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Name returns the transport identifier.
func (t *Transport) Name() string { return "wyoming" }

// Listen binds the TCP port and serves connections until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("wyoming listen: %w", err)
	}
	slog.Info("wyoming transport listening", "port", t.port)
	return t.Serve(ctx, ln, handler)
}

// Serve accepts connections on ln. It returns nil once ctx is cancelled or
// Close is called, after every connection goroutine has exited.
func (t *Transport) Serve(ctx context.Context, ln net.Listener, handler transport.Handler) error {
	t.mu.Lock()
	t.listener = ln
	t.mu.Unlock()
	t.readyOnce.Do(func() { close(t.ready) })

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			shutdown := ctx.Err() != nil || errors.Is(err, net.ErrClosed)
			_ = t.Close()
			t.wg.Wait()
			if shutdown {
				return nil
			}
			return fmt.Errorf("wyoming accept: %w", err)
		}

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = conn.Close()
			continue
		}
		t.conns[conn] = struct{}{}
		t.mu.Unlock()

		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			defer t.forget(conn)
			t.serveConn(ctx, conn, handler)
		}()
	}
}

// Addr returns the bound address, or nil before Serve.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Close stops accepting and drops open connections.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	var err error
	if t.listener != nil {
		if cerr := t.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for c := range t.conns {
		_ = c.Close()
	}
	return err
}

func (t *Transport) forget(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	_ = conn.Close()
}

func (t *Transport) serveConn(ctx context.Context, conn net.Conn, handler transport.Handler) {
	session := event.NewSession("wyoming", conn.RemoteAddr().String())
	ctx = event.WithSession(ctx, session)
	logger := slog.With("session", session.ID, "remote", session.Remote)
	logger.Info("client connected")

	r := bufio.NewReader(conn)
	var handled int
	for {
		ev, err := codec.ReadEvent(r)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				logger.Info("client disconnected", "events", handled)
			default:
				logger.Warn("client dropped", "error", err, "events", handled)
			}
			return
		}
		handled++

		switch ev.Type {
		case event.Describe:
			if err := codec.WriteEvent(conn, t.describe()); err != nil {
				logger.Warn("writing info failed", "error", err)
				return
			}
		case event.Ping:
			if err := codec.WriteEvent(conn, event.New(event.Pong, nil)); err != nil {
				logger.Warn("writing pong failed", "error", err)
				return
			}
		default:
			handler(ctx, ev)
		}
	}
}

// describe builds the info event advertising this server as a handle
// program with a single model, the shape Wyoming clients parse.
func (t *Transport) describe() *event.Event {
	attribution := map[string]any{"name": t.info.Name, "url": ""}
	return event.New(event.Info, map[string]any{
		"handle": []any{map[string]any{
			"name":        t.info.Name,
			"description": t.info.Description,
			"version":     t.info.Version,
			"installed":   true,
			"attribution": attribution,
			"models": []any{map[string]any{
				"name":        t.info.Name,
				"description": t.info.Description,
				"version":     t.info.Version,
				"installed":   true,
				"attribution": attribution,
				"languages":   []any{},
			}},
			"supports_handled_streaming": false,
		}},
	})
}
