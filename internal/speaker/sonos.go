// Package speaker controls playback on a Sonos device.
//
// Sonos players expose the UPnP AVTransport service on port 1400. Playing a
// URL is two SOAP calls: SetAVTransportURI to replace the current source,
// then Play. Calls to the same device are serialised so that one
// utterance's URI is not replaced before its Play command is sent.
package speaker

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/nadzzz/sonosbridge/internal/speaker")

const (
	avTransportPath    = "/MediaRenderer/AVTransport/Control"
	avTransportService = "urn:schemas-upnp-org:service:AVTransport:1"
)

// Player plays a URL on a speaker.
type Player interface {
	Play(ctx context.Context, address, fileURL string) error
}

// UnreachableError reports that the speaker could not be contacted.
type UnreachableError struct {
	Address string
	Err     error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("speaker %s unreachable: %v", e.Address, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// CommandError reports a SOAP fault or unexpected status from the speaker.
type CommandError struct {
	Action      string
	Status      int
	Code        int // UPnP error code, 0 if absent
	Description string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("sonos %s: status %d", e.Action, e.Status)
	if e.Code != 0 {
		msg += fmt.Sprintf(": upnp error %d", e.Code)
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

// Sonos implements Player over UPnP.
type Sonos struct {
	port   int
	client *http.Client

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// New creates a controller. port is used for addresses without one.
func New(port int, timeout time.Duration) *Sonos {
	if port == 0 {
		port = 1400
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Sonos{
		port: port,
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		locks: make(map[string]chan struct{}),
	}
}

type arg struct {
	name  string
	value string
}

// Play replaces the speaker's current source with fileURL and starts playback.
func (s *Sonos) Play(ctx context.Context, address, fileURL string) (err error) {
	ctx, span := tracer.Start(ctx, "speaker.Play")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("speaker.address", address), attribute.String("speaker.url", fileURL))

	release, err := s.acquire(ctx, address)
	if err != nil {
		return err
	}
	defer release()

	if _, err := s.call(ctx, address, "SetAVTransportURI", []arg{
		{"InstanceID", "0"},
		{"CurrentURI", fileURL},
		{"CurrentURIMetaData", ""},
	}); err != nil {
		return err
	}
	if _, err := s.call(ctx, address, "Play", []arg{
		{"InstanceID", "0"},
		{"Speed", "1"},
	}); err != nil {
		return err
	}

	slog.Debug("sonos playing", "speaker", address, "url", fileURL)
	return nil
}

// TransportState returns the AVTransport state (e.g., "PLAYING", "STOPPED").
func (s *Sonos) TransportState(ctx context.Context, address string) (string, error) {
	body, err := s.call(ctx, address, "GetTransportInfo", []arg{{"InstanceID", "0"}})
	if err != nil {
		return "", err
	}

	var env struct {
		Body struct {
			Response struct {
				State string `xml:"CurrentTransportState"`
			} `xml:"GetTransportInfoResponse"`
		} `xml:"Body"`
	}
	if err := xml.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decoding GetTransportInfo response: %w", err)
	}
	return env.Body.Response.State, nil
}

// acquire takes the per-device lock, giving up when ctx ends.
func (s *Sonos) acquire(ctx context.Context, address string) (func(), error) {
	s.mu.Lock()
	lock, ok := s.locks[address]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[address] = lock
	}
	s.mu.Unlock()

	select {
	case lock <- struct{}{}:
		return func() { <-lock }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Sonos) controlURL(address string) string {
	host := address
	if _, _, err := net.SplitHostPort(address); err != nil {
		host = net.JoinHostPort(address, strconv.Itoa(s.port))
	}
	return "http://" + host + avTransportPath
}

// call performs one AVTransport SOAP action and returns the response body.
func (s *Sonos) call(ctx context.Context, address, action string, args []arg) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.controlURL(address), bytes.NewReader(envelope(action, args)))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, avTransportService, action))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &UnreachableError{Address: address, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &UnreachableError{Address: address, Err: fmt.Errorf("reading %s response: %w", action, err)}
	}

	if resp.StatusCode != http.StatusOK {
		cmdErr := &CommandError{Action: action, Status: resp.StatusCode}
		var env struct {
			Body struct {
				Fault struct {
					String      string `xml:"faultstring"`
					Code        int    `xml:"detail>UPnPError>errorCode"`
					Description string `xml:"detail>UPnPError>errorDescription"`
				} `xml:"Fault"`
			} `xml:"Body"`
		}
		if xml.Unmarshal(body, &env) == nil {
			cmdErr.Code = env.Body.Fault.Code
			cmdErr.Description = env.Body.Fault.Description
			if cmdErr.Description == "" && env.Body.Fault.String != "" {
				cmdErr.Description = env.Body.Fault.String
			}
		}
		return nil, cmdErr
	}
	return body, nil
}

func envelope(action string, args []arg) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&b, `<u:%s xmlns:u="%s">`, action, avTransportService)
	for _, a := range args {
		fmt.Fprintf(&b, "<%s>", a.name)
		_ = xml.EscapeText(&b, []byte(a.value))
		fmt.Fprintf(&b, "</%s>", a.name)
	}
	fmt.Fprintf(&b, `</u:%s>`, action)
	b.WriteString(`</s:Body></s:Envelope>`)
	return []byte(b.String())
}
