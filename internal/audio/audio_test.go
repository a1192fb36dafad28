package audio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silence returns n 16-bit mono samples of zero.
func silence(n int) []byte {
	return make([]byte, n*2)
}

func TestInspectWAV(t *testing.T) {
	wav := PCMToWAV(silence(22050), 22050, 1, 2)

	info, err := InspectWAV(wav)
	require.NoError(t, err)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.InDelta(t, time.Second.Seconds(), info.Duration.Seconds(), 0.05)
}

func TestInspectWAVRejectsGarbage(t *testing.T) {
	_, err := InspectWAV([]byte(`{"error": "voice not found"}`))
	assert.True(t, errors.Is(err, ErrInvalidWAV))

	_, err = InspectWAV(nil)
	assert.Error(t, err)
}

func TestInspectWAVRejectsEmpty(t *testing.T) {
	_, err := InspectWAV(PCMToWAV(nil, 22050, 1, 2))
	assert.Error(t, err)
}

func TestPCMToWAVHeader(t *testing.T) {
	wav := PCMToWAV(silence(10), 16000, 1, 2)
	require.Len(t, wav, 44+20)
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, "data", string(wav[36:40]))
}

func TestFFmpegConvert(t *testing.T) {
	conv := NewFFmpeg("", "")
	if err := conv.Check(); err != nil {
		t.Skip(err)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	dst := filepath.Join(dir, "out.mp3")
	require.NoError(t, os.WriteFile(src, PCMToWAV(silence(22050), 22050, 1, 2), 0o644))

	require.NoError(t, conv.Convert(context.Background(), src, dst))

	dur, err := MP3Duration(dst)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, dur.Seconds(), 0.2)
}

func TestFFmpegConvertFailure(t *testing.T) {
	conv := NewFFmpeg("", "")
	if err := conv.Check(); err != nil {
		t.Skip(err)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "in.wav")
	require.NoError(t, os.WriteFile(src, []byte("not audio"), 0o644))

	err := conv.Convert(context.Background(), src, filepath.Join(dir, "out.mp3"))
	assert.Error(t, err)
}

func TestFFmpegMissingBinary(t *testing.T) {
	conv := NewFFmpeg("definitely-not-ffmpeg-binary", "")
	assert.Error(t, conv.Check())
}

func TestMP3DurationRejectsNonMP3(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.mp3")
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	_, err := MP3Duration(path)
	assert.Error(t, err)
}
