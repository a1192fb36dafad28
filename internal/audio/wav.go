// Package audio handles the container formats passed between the TTS
// backend and the speaker: WAV in, MP3 out.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/go-audio/wav"
)

var (
	// ErrInvalidWAV is returned when bytes do not parse as a RIFF/WAVE file.
	ErrInvalidWAV = errors.New("not a valid wav file")

	// ErrEmptyAudio is returned for a well-formed WAV with no samples.
	ErrEmptyAudio = errors.New("wav contains no audio data")
)

// Info describes a decoded WAV header.
type Info struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// InspectWAV validates data as a WAV container holding at least one sample.
func InspectWAV(data []byte) (Info, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Info{}, ErrInvalidWAV
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if d.PCMLen() <= 0 {
		return Info{}, ErrEmptyAudio
	}

	info := Info{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
	}
	if bytesPerSec := int64(info.SampleRate * info.Channels * info.BitDepth / 8); bytesPerSec > 0 {
		info.Duration = time.Duration(d.PCMLen()) * time.Second / time.Duration(bytesPerSec)
	}
	return info, nil
}

// PCMToWAV wraps raw little-endian PCM in a 44-byte WAV header.
func PCMToWAV(pcm []byte, sampleRate, channels, bytesPerSample int) []byte {
	dataLen := len(pcm)

	buf := &bytes.Buffer{}
	buf.Grow(44 + dataLen)

	le := func(v any) { _ = binary.Write(buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	le(uint32(36 + dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	le(uint32(16)) // subchunk size
	le(uint16(1))  // PCM
	le(uint16(channels))
	le(uint32(sampleRate))
	le(uint32(sampleRate * channels * bytesPerSample)) // byte rate
	le(uint16(channels * bytesPerSample))              // block align
	le(uint16(bytesPerSample * 8))

	buf.WriteString("data")
	le(uint32(dataLen))
	buf.Write(pcm)

	return buf.Bytes()
}
