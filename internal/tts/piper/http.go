// Package piper implements tts.Synthesizer against a Piper server.
//
// Two wire formats are supported: the HTTP API (POST /api/tts with a JSON
// body, WAV in the response) and the Wyoming protocol on TCP port 10200.
package piper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nadzzz/sonosbridge/internal/tts"
)

// maxAudioBytes caps the response body read from the TTS server.
const maxAudioBytes = 64 << 20

type httpRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

// HTTP synthesizes through Piper's HTTP API.
type HTTP struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTP synthesizer posting to endpoint
// (e.g., "http://10.0.0.5:8080/api/tts").
func NewHTTP(endpoint string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTP{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "piper " + r.Method + " " + r.URL.Path
				}),
			),
		},
	}
}

// Name returns the backend identifier.
func (h *HTTP) Name() string { return "http" }

// Synthesize posts {text, voice} and returns the WAV body.
func (h *HTTP) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	body, err := json.Marshal(httpRequest{Text: text, Voice: opts.Voice})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Debug("piper http request", "endpoint", h.endpoint, "voice", opts.Voice, "text_length", len(text))

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &tts.SynthesisError{Stage: tts.StageRequest, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &tts.SynthesisError{
			Stage:  tts.StageStatus,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", bytes.TrimSpace(excerpt)),
		}
	}

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return nil, &tts.SynthesisError{Stage: tts.StageRequest, Err: fmt.Errorf("reading body: %w", err)}
	}
	if len(audio) > maxAudioBytes {
		return nil, &tts.SynthesisError{Stage: tts.StageAudio, Err: fmt.Errorf("response exceeds %d bytes", maxAudioBytes)}
	}

	return &tts.SynthesizeResult{
		Audio:       audio,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Close drops idle keep-alive connections.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
