// Package tts turns text into a playable audio artifact.
//
// A Synthesizer backend returns WAV audio; Client stores it in the artifact
// directory, converts it to MP3 for the speaker, and hands back the file name.
package tts

import (
	"context"
	"fmt"
)

// SynthesizeOpts controls synthesis behavior.
type SynthesizeOpts struct {
	// Voice is the backend voice/model identifier (e.g., "en_US-lessac-medium").
	Voice string
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	// Name returns the backend identifier (e.g., "http", "wyoming").
	Name() string

	// Synthesize generates a WAV file from the given text.
	Synthesize(ctx context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error)

	// Close releases any resources held by the synthesizer.
	Close() error
}

// SynthesizeResult holds the output of TTS synthesis.
type SynthesizeResult struct {
	// Audio is the synthesized audio as a WAV file.
	Audio []byte

	// ContentType is the MIME type reported by the backend.
	ContentType string
}

// Stages at which synthesis can fail.
const (
	StageRequest = "request" // transport failure talking to the backend
	StageStatus  = "status"  // backend answered with a non-success status
	StageAudio   = "audio"   // response body is not usable audio
	StageConvert = "convert" // WAV to MP3 conversion failed
)

// SynthesisError reports a failed or unusable TTS call.
type SynthesisError struct {
	Stage  string
	Status int // HTTP status, StageStatus only
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("synthesis %s: status %d: %v", e.Stage, e.Status, e.Err)
	}
	return fmt.Sprintf("synthesis %s: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
