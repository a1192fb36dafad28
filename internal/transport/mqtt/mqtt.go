// Package mqtt implements the MQTT event intake.
//
// The transport subscribes to one topic carrying JSON events
// ({"type": ..., "data": {...}}). Messages are queued and handled one at
// a time in arrival order. When an ack topic is configured, each handled
// event is answered there with {"type": ..., "ack": true}.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/nadzzz/sonosbridge/internal/event"
	"github.com/nadzzz/sonosbridge/internal/transport"
)

const (
	queueSize      = 64
	connectTimeout = 10 * time.Second
	qos            = 1
)

// Options configures the MQTT intake.
type Options struct {
	Broker   string // e.g. tcp://localhost:1883
	Topic    string
	AckTopic string // empty disables acks
	ClientID string
}

// Ack is published to the ack topic for each handled event.
type Ack struct {
	Type  string `json:"type,omitempty"`
	Ack   bool   `json:"ack"`
	Error string `json:"error,omitempty"`
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	opts      Options
	newClient func(*paho.ClientOptions) paho.Client
	client    paho.Client
	queue     chan paho.Message
	ready     chan struct{}
}

// New creates a new MQTT transport.
func New(opts Options) *Transport {
	return &Transport{
		opts:      opts,
		newClient: paho.NewClient,
		queue:     make(chan paho.Message, queueSize),
		ready:     make(chan struct{}),
	}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "mqtt" }

// Ready is closed once the broker connection is up.
func (t *Transport) Ready() <-chan struct{} { return t.ready }

// Listen connects to the broker, subscribes to the topic, and handles
// messages until ctx is cancelled.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	opts := paho.NewClientOptions().
		AddBroker(t.opts.Broker).
		SetClientID(t.opts.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout).
		SetOnConnectHandler(t.subscribe).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			slog.Warn("mqtt connection lost", "error", err)
		})

	t.client = t.newClient(opts)
	token := t.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out", t.opts.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", t.opts.Broker, err)
	}

	slog.Info("mqtt transport listening", "broker", t.opts.Broker, "topic", t.opts.Topic)
	close(t.ready)

	session := event.NewSession("mqtt", t.opts.Broker)
	ctx = event.WithSession(ctx, session)

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-t.queue:
			t.process(ctx, handler, msg.Payload())
			msg.Ack()
		}
	}
}

// subscribe runs on every (re)connect.
func (t *Transport) subscribe(c paho.Client) {
	token := c.Subscribe(t.opts.Topic, qos, func(_ paho.Client, msg paho.Message) {
		select {
		case t.queue <- msg:
		default:
			slog.Warn("mqtt queue full, dropping event", "topic", msg.Topic())
		}
	})
	if token.WaitTimeout(connectTimeout) && token.Error() == nil {
		slog.Info("mqtt subscribed", "topic", t.opts.Topic)
		return
	}
	slog.Error("mqtt subscribe failed", "topic", t.opts.Topic, "error", token.Error())
}

// process handles one message payload and publishes its ack.
func (t *Transport) process(ctx context.Context, handler transport.Handler, payload []byte) {
	var ack Ack
	ev, err := decode(payload)
	if err != nil {
		slog.Warn("mqtt message rejected", "error", err)
		ack.Error = err.Error()
	} else {
		ack.Type = string(ev.Type)
		ack.Ack = handler(ctx, ev)
	}

	if t.opts.AckTopic == "" {
		return
	}
	body, err := json.Marshal(ack)
	if err != nil {
		return
	}
	token := t.client.Publish(t.opts.AckTopic, qos, false, body)
	if token.WaitTimeout(connectTimeout) && token.Error() == nil {
		return
	}
	slog.Warn("mqtt ack publish failed", "topic", t.opts.AckTopic, "error", token.Error())
}

// Close disconnects from the broker.
func (t *Transport) Close() error {
	if t.client != nil && t.client.IsConnected() {
		t.client.Disconnect(250)
	}
	return nil
}

func decode(payload []byte) (*event.Event, error) {
	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if msg.Type == "" {
		return nil, errors.New("event has no type")
	}
	return event.New(event.Type(msg.Type), msg.Data), nil
}
