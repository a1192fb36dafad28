package artifact

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "sound_files"))
	require.NoError(t, err)
	return s
}

func TestNewCreatesDirectory(t *testing.T) {
	s := newStore(t)
	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestIsGenerated(t *testing.T) {
	assert.True(t, IsGenerated(NewID()+".mp3"))
	assert.True(t, IsGenerated(NewID()+".wav"))
	assert.False(t, IsGenerated(NewID()+".txt"))
	assert.False(t, IsGenerated("tts_start.mp3"))
	assert.False(t, IsGenerated("tts_error.mp3"))
}

func TestPathStripsDirectories(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, filepath.Join(s.Dir(), "passwd"), s.Path("../../etc/passwd"))
}

func TestRemoveMissingIsNotAnError(t *testing.T) {
	s := newStore(t)
	assert.NoError(t, s.Remove("missing.mp3"))
}

func TestWriteAndRemove(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("a.mp3", []byte("data")))
	assert.True(t, s.Exists("a.mp3"))

	require.NoError(t, s.Remove("a.mp3"))
	assert.False(t, s.Exists("a.mp3"))
}

func TestExpireDeletesAfterDelay(t *testing.T) {
	s := newStore(t)
	name := NewID() + ".mp3"
	require.NoError(t, s.Write(name, []byte("data")))

	s.Expire(name, 20*time.Millisecond)
	assert.True(t, s.Exists(name))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return !s.Exists(name) }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestExpireRescheduleKeepsLatestDeadline(t *testing.T) {
	s := newStore(t)
	name := NewID() + ".mp3"
	require.NoError(t, s.Write(name, []byte("data")))

	s.Expire(name, 10*time.Millisecond)
	s.Expire(name, time.Hour)

	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.Exists(name))
	assert.Equal(t, 1, s.Pending())

	require.NoError(t, s.Close())
	assert.False(t, s.Exists(name))
}

func TestCloseFlushesPending(t *testing.T) {
	s := newStore(t)
	a, b := NewID()+".mp3", NewID()+".mp3"
	require.NoError(t, s.Write(a, []byte("a")))
	require.NoError(t, s.Write(b, []byte("b")))

	s.Expire(a, time.Hour)
	s.Expire(b, time.Hour)
	require.NoError(t, s.Close())

	assert.False(t, s.Exists(a))
	assert.False(t, s.Exists(b))
	assert.Equal(t, 0, s.Pending())

	// After close, expiry is immediate.
	c := NewID() + ".mp3"
	require.NoError(t, s.Write(c, []byte("c")))
	s.Expire(c, time.Hour)
	assert.False(t, s.Exists(c))
}

func TestSweepRemovesOnlyGenerated(t *testing.T) {
	s := newStore(t)
	stale := []string{NewID() + ".wav", NewID() + ".mp3"}
	for _, n := range stale {
		require.NoError(t, s.Write(n, []byte("x")))
	}
	require.NoError(t, s.Write("tts_start.mp3", []byte("x")))
	require.NoError(t, s.Write("tts_error.mp3", []byte("x")))

	scheduled := NewID() + ".mp3"
	require.NoError(t, s.Write(scheduled, []byte("x")))
	s.Expire(scheduled, time.Hour)
	t.Cleanup(func() { _ = s.Close() })

	removed, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	for _, n := range stale {
		assert.False(t, s.Exists(n))
	}
	assert.True(t, s.Exists("tts_start.mp3"))
	assert.True(t, s.Exists("tts_error.mp3"))
	assert.True(t, s.Exists(scheduled))
}

func TestWatchReportsPresence(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Write("tts_start.mp3", []byte("x")))

	var mu sync.Mutex
	state := make(map[string]bool)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Watch(ctx, []string{"tts_start.mp3", "tts_error.mp3"}, func(name string, present bool) {
			mu.Lock()
			state[name] = present
			mu.Unlock()
		})
	}()

	get := func(name string) (bool, bool) {
		mu.Lock()
		defer mu.Unlock()
		v, ok := state[name]
		return v, ok
	}

	require.Eventually(t, func() bool {
		start, ok1 := get("tts_start.mp3")
		errSound, ok2 := get("tts_error.mp3")
		return ok1 && ok2 && start && !errSound
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Write("tts_error.mp3", []byte("x")))
	require.Eventually(t, func() bool {
		v, _ := get("tts_error.mp3")
		return v
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Remove("tts_start.mp3"))
	require.Eventually(t, func() bool {
		v, _ := get("tts_start.mp3")
		return !v
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
