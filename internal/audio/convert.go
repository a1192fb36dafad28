package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Converter turns a WAV file into an MP3 file.
type Converter interface {
	Convert(ctx context.Context, src, dst string) error
}

// FFmpeg converts with an external ffmpeg binary using libmp3lame.
type FFmpeg struct {
	binary  string
	bitrate string
}

// NewFFmpeg creates a converter. Empty arguments fall back to "ffmpeg" and "128k".
func NewFFmpeg(binary, bitrate string) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	if bitrate == "" {
		bitrate = "128k"
	}
	return &FFmpeg{binary: binary, bitrate: bitrate}
}

// Check reports whether the ffmpeg binary can be found.
func (f *FFmpeg) Check() error {
	if _, err := exec.LookPath(f.binary); err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	return nil
}

// Convert writes dst as an MP3 encoding of src, overwriting dst.
func (f *FFmpeg) Convert(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, f.binary,
		"-hide_banner", "-loglevel", "error", "-nostdin", "-y",
		"-i", src,
		"-vn", "-codec:a", "libmp3lame", "-b:a", f.bitrate,
		"-f", "mp3", dst,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
