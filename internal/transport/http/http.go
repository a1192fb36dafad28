// Package http implements the HTTP/WebSocket event intake.
//
// It accepts the same events as the Wyoming server, encoded as JSON:
// POST /events takes one event per request, GET /ws upgrades to a
// WebSocket that carries one event per text message. Events on one
// WebSocket are handled serially and each is answered with an ack.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	_ "github.com/nadzzz/sonosbridge/docs" // registers the OpenAPI spec
	"github.com/nadzzz/sonosbridge/internal/event"
	"github.com/nadzzz/sonosbridge/internal/transport"
)

const maxEventBytes = 1 << 20

// EventRequest is the JSON form of an inbound event.
type EventRequest struct {
	Type string         `json:"type" example:"synthesize"`
	Data map[string]any `json:"data,omitempty" swaggertype:"object,string" example:"text:It is 3 PM"`
}

// Ack is returned for every accepted event.
type Ack struct {
	Ack   bool   `json:"ack"`
	Error string `json:"error,omitempty"`
}

// Transport implements transport.Transport over HTTP and WebSocket.
type Transport struct {
	port     int
	server   *http.Server
	upgrader websocket.Upgrader
	ready    chan struct{}
}

// New creates a new HTTP transport on the given port.
func New(port int) *Transport {
	return &Transport{
		port:  port,
		ready: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "http" }

// Ready is closed once Listen has bound its port.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Handler returns the routing for the intake.
func (t *Transport) Handler(ctx context.Context, handler transport.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /events", func(w http.ResponseWriter, r *http.Request) {
		t.handleEvent(w, r, handler)
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		t.handleWebSocket(ctx, w, r, handler)
	})

	// Swagger UI serves the registered OpenAPI docs.
	mux.Handle("GET /swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return otelhttp.NewHandler(mux, "intake")
}

// Listen starts the HTTP server and routes incoming events to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	t.server = &http.Server{
		Handler:           t.Handler(ctx, handler),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	slog.Info("http transport listening", "addr", ln.Addr().String())
	close(t.ready)

	go func() {
		<-ctx.Done()
		slog.Info("http transport shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = t.server.Shutdown(shutdownCtx)
	}()

	if err := t.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

// handleEvent processes a POST /events request.
//
// @Summary     Submit an event
// @Description Runs the event through the dispatcher. detection plays the start chime, synthesize speaks
// @Description data.text, error plays the error chime then speaks data.text. Other types are acknowledged
// @Description without action. The response is sent once the action sequence has finished.
// @Tags        events
// @Accept      json
// @Produce     json
// @Param       event  body      EventRequest  true  "Event"
// @Success     200    {object}  Ack           "Event acknowledged"
// @Failure     400    {object}  Ack           "Invalid JSON or missing type"
// @Router      /events [post]
func (t *Transport) handleEvent(w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	ev, err := decode(io.LimitReader(r.Body, maxEventBytes))
	if err != nil {
		writeAck(w, http.StatusBadRequest, Ack{Error: err.Error()})
		return
	}

	ctx := event.WithSession(r.Context(), event.NewSession("http", r.RemoteAddr))
	writeAck(w, http.StatusOK, Ack{Ack: handler(ctx, ev)})
}

// handleWebSocket upgrades the request and reads events until the peer goes away.
//
// @Summary     Event stream
// @Description Upgrades to a WebSocket. Each text message is one JSON event; each is answered with an Ack
// @Description in order once handled.
// @Tags        events
// @Success     101  {string}  string  "Switching Protocols"
// @Router      /ws [get]
func (t *Transport) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request, handler transport.Handler) {
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxEventBytes)

	session := event.NewSession("websocket", r.RemoteAddr)
	ctx = event.WithSession(ctx, session)
	logger := slog.With("session", session.ID, "remote", session.Remote)
	logger.Info("websocket client connected")

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("websocket client dropped", "error", err)
			} else {
				logger.Info("websocket client disconnected")
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var ack Ack
		if ev, err := decodeBytes(data); err != nil {
			ack.Error = err.Error()
		} else {
			ack.Ack = handler(ctx, ev)
		}
		if err := conn.WriteJSON(ack); err != nil {
			logger.Warn("websocket write failed", "error", err)
			return
		}
	}
}

// Close gracefully shuts down the HTTP server.
func (t *Transport) Close() error {
	if t.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return t.server.Shutdown(ctx)
	}
	return nil
}

func decode(r io.Reader) (*event.Event, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}
	return decodeBytes(data)
}

func decodeBytes(data []byte) (*event.Event, error) {
	var req EventRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if req.Type == "" {
		return nil, errors.New("event has no type")
	}
	return event.New(event.Type(req.Type), req.Data), nil
}

func writeAck(w http.ResponseWriter, code int, ack Ack) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ack)
}
