package piper

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/nadzzz/sonosbridge/internal/audio"
	"github.com/nadzzz/sonosbridge/internal/event"
	"github.com/nadzzz/sonosbridge/internal/tts"
	"github.com/nadzzz/sonosbridge/internal/wyoming"
)

// Wyoming synthesizes through Piper's Wyoming TCP server.
type Wyoming struct {
	addr    string // host:port
	timeout time.Duration
}

// NewWyoming creates a synthesizer for the Wyoming server at addr.
func NewWyoming(addr string, timeout time.Duration) *Wyoming {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Wyoming{addr: addr, timeout: timeout}
}

// Name returns the backend identifier.
func (w *Wyoming) Name() string { return "wyoming" }

// Synthesize sends a synthesize event and collects audio-chunk payloads
// until audio-stop, returning them wrapped as WAV.
func (w *Wyoming) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOpts) (*tts.SynthesizeResult, error) {
	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", w.addr)
	if err != nil {
		return nil, &tts.SynthesisError{Stage: tts.StageRequest, Err: fmt.Errorf("connecting to piper: %w", err)}
	}
	defer conn.Close()

	deadline := time.Now().Add(w.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	data := map[string]any{"text": text}
	if opts.Voice != "" {
		data["voice"] = map[string]any{"name": opts.Voice}
	}
	if err := wyoming.WriteEvent(conn, event.New(event.Synthesize, data)); err != nil {
		return nil, &tts.SynthesisError{Stage: tts.StageRequest, Err: fmt.Errorf("sending synthesize event: %w", err)}
	}

	var (
		pcm        bytes.Buffer
		sampleRate = 22050
		channels   = 1
		width      = 2
		started    bool
	)

	r := bufio.NewReader(conn)
	for {
		ev, err := wyoming.ReadEvent(r)
		if err != nil {
			return nil, &tts.SynthesisError{Stage: tts.StageRequest, Err: fmt.Errorf("reading piper event: %w", err)}
		}

		switch ev.Type {
		case "audio-start":
			started = true
			sampleRate = intField(ev.Data, "rate", sampleRate)
			channels = intField(ev.Data, "channels", channels)
			width = intField(ev.Data, "width", width)
			slog.Debug("piper audio-start", "rate", sampleRate, "channels", channels, "width", width)

		case "audio-chunk":
			pcm.Write(ev.Payload)

		case "audio-stop":
			if !started || pcm.Len() == 0 {
				return nil, &tts.SynthesisError{Stage: tts.StageAudio, Err: fmt.Errorf("piper returned no audio")}
			}
			slog.Debug("piper audio-stop", "pcm_bytes", pcm.Len())
			return &tts.SynthesizeResult{
				Audio:       audio.PCMToWAV(pcm.Bytes(), sampleRate, channels, width),
				ContentType: "audio/wav",
			}, nil

		case event.Error:
			msg := "unknown error"
			if t, ok := ev.Text(); ok {
				msg = t
			}
			return nil, &tts.SynthesisError{Stage: tts.StageStatus, Err: fmt.Errorf("piper error: %s", msg)}

		default:
			slog.Debug("piper unknown event", "type", ev.Type)
		}
	}
}

// Close is a no-op; connections are per-request.
func (w *Wyoming) Close() error { return nil }

func intField(data map[string]any, key string, fallback int) int {
	if v, ok := data[key].(float64); ok && v > 0 {
		return int(v)
	}
	return fallback
}
