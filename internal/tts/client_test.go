package tts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/sonosbridge/internal/artifact"
	"github.com/nadzzz/sonosbridge/internal/audio"
)

type fakeBackend struct {
	mu    sync.Mutex
	calls []SynthesizeOpts
	texts []string
	audio []byte
	err   error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Synthesize(_ context.Context, text string, opts SynthesizeOpts) (*SynthesizeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	return &SynthesizeResult{Audio: f.audio, ContentType: "audio/wav"}, nil
}

func (f *fakeBackend) Close() error { return nil }

// copyConverter stands in for ffmpeg by copying the source bytes.
type copyConverter struct {
	err     error
	partial bool
}

func (c copyConverter) Convert(_ context.Context, src, dst string) error {
	if c.partial {
		_ = os.WriteFile(dst, []byte("half"), 0o644)
	}
	if c.err != nil {
		return c.err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

func testWAV() []byte {
	return audio.PCMToWAV(make([]byte, 44100), 22050, 1, 2)
}

func newTestStore(t *testing.T) *artifact.Store {
	t.Helper()
	s, err := artifact.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestClientSynthesize(t *testing.T) {
	store := newTestStore(t)
	backend := &fakeBackend{audio: testWAV()}
	client := NewClient(backend, store, copyConverter{})

	art, err := client.Synthesize(context.Background(), "hello", "en_US-lessac-medium")
	require.NoError(t, err)

	assert.Equal(t, ".mp3", filepath.Ext(art.Name))
	assert.True(t, artifact.IsGenerated(art.Name))
	assert.Equal(t, filepath.Base(art.Name), art.Name, "name must not contain a directory")
	assert.InDelta(t, 1.0, art.Duration.Seconds(), 0.05)

	assert.Equal(t, []string{art.Name}, listDir(t, store.Dir()), "intermediate wav must be removed")
	assert.Equal(t, []string{"hello"}, backend.texts)
	assert.Equal(t, "en_US-lessac-medium", backend.calls[0].Voice)
}

func TestClientSynthesizeUniqueNames(t *testing.T) {
	store := newTestStore(t)
	client := NewClient(&fakeBackend{audio: testWAV()}, store, copyConverter{})

	seen := make(map[string]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			art, err := client.Synthesize(context.Background(), "same text", "v")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[art.Name], "duplicate artifact %s", art.Name)
			seen[art.Name] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 20)
}

func TestClientBackendFailureLeavesNothing(t *testing.T) {
	store := newTestStore(t)
	client := NewClient(&fakeBackend{err: errors.New("connection refused")}, store, copyConverter{})

	_, err := client.Synthesize(context.Background(), "hello", "v")
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, StageRequest, synthErr.Stage)
	assert.Empty(t, listDir(t, store.Dir()))
}

func TestClientPassesThroughSynthesisError(t *testing.T) {
	store := newTestStore(t)
	want := &SynthesisError{Stage: StageStatus, Status: 500, Err: errors.New("boom")}
	client := NewClient(&fakeBackend{err: want}, store, copyConverter{})

	_, err := client.Synthesize(context.Background(), "hello", "v")
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, 500, synthErr.Status)
}

func TestClientRejectsNonWAVBody(t *testing.T) {
	store := newTestStore(t)
	client := NewClient(&fakeBackend{audio: []byte(`{"detail":"internal error"}`)}, store, copyConverter{})

	_, err := client.Synthesize(context.Background(), "hello", "v")
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, StageAudio, synthErr.Stage)
	assert.Empty(t, listDir(t, store.Dir()))
}

func TestClientConversionFailureCleansUp(t *testing.T) {
	store := newTestStore(t)
	conv := copyConverter{err: errors.New("ffmpeg exploded"), partial: true}
	client := NewClient(&fakeBackend{audio: testWAV()}, store, conv)

	_, err := client.Synthesize(context.Background(), "hello", "v")
	var synthErr *SynthesisError
	require.True(t, errors.As(err, &synthErr))
	assert.Equal(t, StageConvert, synthErr.Stage)
	assert.Empty(t, listDir(t, store.Dir()), "partial mp3 and wav must be removed")
}
