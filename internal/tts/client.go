package tts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/nadzzz/sonosbridge/internal/artifact"
	"github.com/nadzzz/sonosbridge/internal/audio"
)

var tracer = otel.Tracer("github.com/nadzzz/sonosbridge/internal/tts")

// Artifact is a synthesized MP3 ready to be served.
type Artifact struct {
	// Name is the bare file name inside the artifact directory (<uuid>.mp3).
	Name string

	// Duration is the play time of the audio, zero if unknown.
	Duration time.Duration
}

// Client produces MP3 artifacts from text.
type Client struct {
	backend   Synthesizer
	store     *artifact.Store
	converter audio.Converter
}

// NewClient wires a backend to the artifact store and converter.
func NewClient(backend Synthesizer, store *artifact.Store, converter audio.Converter) *Client {
	return &Client{backend: backend, store: store, converter: converter}
}

// Synthesize renders text with the given voice and returns the stored MP3.
// On failure no file for this call is left in the store.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (_ *Artifact, err error) {
	ctx, span := tracer.Start(ctx, "tts.Synthesize")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	id := artifact.NewID()
	wavName, mp3Name := id+".wav", id+".mp3"
	span.SetAttributes(
		attribute.String("tts.backend", c.backend.Name()),
		attribute.String("tts.voice", voice),
		attribute.Int("tts.text_length", len(text)),
		attribute.String("artifact.id", id),
	)
	logger := slog.With("artifact", id, "backend", c.backend.Name())

	res, err := c.backend.Synthesize(ctx, text, SynthesizeOpts{Voice: voice})
	if err != nil {
		var synthErr *SynthesisError
		if errors.As(err, &synthErr) {
			return nil, err
		}
		return nil, &SynthesisError{Stage: StageRequest, Err: err}
	}

	info, err := audio.InspectWAV(res.Audio)
	if err != nil {
		return nil, &SynthesisError{Stage: StageAudio, Err: err}
	}
	logger.Debug("tts audio received",
		"bytes", len(res.Audio),
		"sample_rate", info.SampleRate,
		"channels", info.Channels,
		"duration", info.Duration)

	if err := c.store.Write(wavName, res.Audio); err != nil {
		return nil, err
	}
	defer func() {
		if rmErr := c.store.Remove(wavName); rmErr != nil {
			logger.Warn("failed to remove intermediate wav", "error", rmErr)
		}
	}()

	if err := c.converter.Convert(ctx, c.store.Path(wavName), c.store.Path(mp3Name)); err != nil {
		if rmErr := c.store.Remove(mp3Name); rmErr != nil {
			logger.Warn("failed to remove partial mp3", "error", rmErr)
		}
		return nil, &SynthesisError{Stage: StageConvert, Err: err}
	}

	duration, probeErr := audio.MP3Duration(c.store.Path(mp3Name))
	if probeErr != nil {
		logger.Debug("mp3 probe failed, using wav duration", "error", probeErr)
		duration = info.Duration
	}

	logger.Info("tts artifact ready", "file", mp3Name, "duration", duration)
	return &Artifact{Name: mp3Name, Duration: duration}, nil
}
