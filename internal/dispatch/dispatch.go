// Package dispatch maps inbound events to synthesis and playback actions.
//
// Handling never fails from the caller's point of view: every error, and
// any panic, is logged and the event is still acknowledged, so a bad event
// cannot tear down the connection it arrived on.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nadzzz/sonosbridge/internal/artifact"
	"github.com/nadzzz/sonosbridge/internal/event"
	"github.com/nadzzz/sonosbridge/internal/speaker"
	"github.com/nadzzz/sonosbridge/internal/tts"
)

var tracer = otel.Tracer("github.com/nadzzz/sonosbridge/internal/dispatch")

// Synthesizer renders text into a stored audio artifact.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (*tts.Artifact, error)
}

// Expirer deletes an artifact after a delay.
type Expirer interface {
	Expire(name string, after time.Duration)
}

// Options configures the dispatcher.
type Options struct {
	// Speaker is the address of the device that plays everything.
	Speaker string

	// Voice is passed to every synthesis call.
	Voice string

	// SoundURL maps a file name in the artifact directory to the URL the speaker fetches.
	SoundURL func(name string) string

	// StartSound and ErrorSound are pre-seeded notification files.
	StartSound string
	ErrorSound string

	// CleanupDelay is how long an artifact outlives its play command.
	CleanupDelay time.Duration

	// PlaybackAware adds the artifact's play time to CleanupDelay.
	PlaybackAware bool

	// EventTimeout bounds the handling of one event. Zero means no limit.
	EventTimeout time.Duration

	// NotifyOnFailure plays ErrorSound when a synthesize sequence fails.
	NotifyOnFailure bool
}

// Dispatcher is the event-to-action engine.
type Dispatcher struct {
	synth  Synthesizer
	player speaker.Player
	store  Expirer
	opts   Options
}

// New creates a Dispatcher.
func New(synth Synthesizer, player speaker.Player, store Expirer, opts Options) *Dispatcher {
	return &Dispatcher{synth: synth, player: player, store: store, opts: opts}
}

// Handle runs the action sequence for one event and always acknowledges it.
// It is passed as the transport.Handler to each transport.
func (d *Dispatcher) Handle(ctx context.Context, ev *event.Event) (ack bool) {
	start := time.Now()
	logger := slog.Default()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("dispatch panicked", "panic", fmt.Sprint(r))
		}
		ack = true
	}()

	if s, ok := event.SessionFrom(ctx); ok {
		logger = logger.With("session", s.ID, "transport", s.Transport)
	}
	if ev == nil {
		logger.Warn("nil event ignored")
		return true
	}
	logger = logger.With("event", ev.Type)

	if d.opts.EventTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.EventTimeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "dispatch.Handle", trace.WithAttributes(attribute.String("event.type", string(ev.Type))))
	defer span.End()

	logger.Info("event received", "data_keys", len(ev.Data))

	switch ev.Type {
	case event.Detection:
		d.playFile(ctx, logger, d.opts.StartSound)

	case event.Error:
		d.handleError(ctx, logger, ev)

	case event.Synthesize:
		d.handleSynthesize(ctx, logger, ev)

	default:
		logger.Debug("event ignored")
		return true
	}

	logger.Info("event handled", "duration", time.Since(start))
	return true
}

// handleError speaks the error text after the error chime.
func (d *Dispatcher) handleError(ctx context.Context, logger *slog.Logger, ev *event.Event) {
	var art *tts.Artifact
	if text, ok := ev.Text(); ok {
		var err error
		art, err = d.synth.Synthesize(ctx, text, d.opts.Voice)
		if err != nil {
			logFailure(logger, "synthesis failed", err)
		}
	} else {
		logger.Warn("error event has no text, playing notification only")
	}

	d.playFile(ctx, logger, d.opts.ErrorSound)

	if art != nil {
		d.playFile(ctx, logger, art.Name)
		d.expire(logger, art)
	}
}

// handleSynthesize speaks the event text.
func (d *Dispatcher) handleSynthesize(ctx context.Context, logger *slog.Logger, ev *event.Event) {
	text, ok := ev.Text()
	if !ok {
		logger.Warn("synthesize event has no text, skipping")
		return
	}

	art, err := d.synth.Synthesize(ctx, text, d.opts.Voice)
	if err != nil {
		logFailure(logger, "synthesis failed", err)
		d.notifyFailure(ctx, logger)
		return
	}

	if !d.playFile(ctx, logger, art.Name) {
		d.notifyFailure(ctx, logger)
	}
	d.expire(logger, art)
}

// playFile asks the speaker to play a file from the artifact directory.
func (d *Dispatcher) playFile(ctx context.Context, logger *slog.Logger, name string) bool {
	url := d.opts.SoundURL(name)
	if err := d.player.Play(ctx, d.opts.Speaker, url); err != nil {
		logFailure(logger, "playback failed", err, "url", url)
		return false
	}
	logger.Info("playback started", "url", url)
	return true
}

func (d *Dispatcher) notifyFailure(ctx context.Context, logger *slog.Logger) {
	if !d.opts.NotifyOnFailure || ctx.Err() != nil {
		return
	}
	d.playFile(ctx, logger, d.opts.ErrorSound)
}

func (d *Dispatcher) expire(logger *slog.Logger, art *tts.Artifact) {
	delay := d.opts.CleanupDelay
	if d.opts.PlaybackAware {
		delay += art.Duration
	}
	d.store.Expire(art.Name, delay)
	logger.Debug("artifact cleanup scheduled", "file", art.Name, "after", delay)
}

// logFailure logs err with a kind attribute naming its error class.
func logFailure(logger *slog.Logger, msg string, err error, attrs ...any) {
	var (
		synthErr       *tts.SynthesisError
		unreachableErr *speaker.UnreachableError
		commandErr     *speaker.CommandError
		fsErr          *artifact.FilesystemError
	)
	kind := "unknown"
	switch {
	case errors.As(err, &synthErr):
		kind = "synthesis"
	case errors.As(err, &unreachableErr):
		kind = "speaker_unreachable"
	case errors.As(err, &commandErr):
		kind = "speaker_command"
	case errors.As(err, &fsErr):
		kind = "filesystem"
	case errors.Is(err, context.DeadlineExceeded):
		kind = "timeout"
	}
	logger.Error(msg, append([]any{"error", err, "kind", kind}, attrs...)...)
}
