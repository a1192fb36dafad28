package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("HOST_IP", "192.168.1.10")
	t.Setenv("SONOS_IP", "192.168.1.20")
	t.Setenv("PIPER_IP", "192.168.1.30")
	t.Setenv("VOICE_MODEL", "en_US-lessac-medium")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.HostIP)
	assert.Equal(t, "192.168.1.20", cfg.Speaker.Address)
	assert.Equal(t, "192.168.1.30", cfg.TTS.Host)
	assert.Equal(t, "en_US-lessac-medium", cfg.TTS.Voice)

	assert.Equal(t, 10500, cfg.Transports.Wyoming.Port)
	assert.True(t, cfg.Transports.Wyoming.Enabled)
	assert.Equal(t, 8080, cfg.Server.FilePort)
	assert.Equal(t, "sound_files", cfg.Sounds.Dir)
	assert.Equal(t, 2*time.Second, cfg.Sounds.CleanupDelay)
	assert.Equal(t, "http", cfg.TTS.Backend)
	assert.Equal(t, 30*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, 1400, cfg.Speaker.Port)
}

func TestLoadMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("SONOS_IP", "")
	t.Setenv("VOICE_MODEL", "")

	_, err := Load("")
	require.Error(t, err)

	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, []string{"SONOS_IP", "VOICE_MODEL"}, cfgErr.Missing)
}

func TestLoadDotEnv(t *testing.T) {
	// Registered with t.Setenv so the values godotenv exports are restored afterwards.
	for _, name := range []string{"HOST_IP", "SONOS_IP", "PIPER_IP", "VOICE_MODEL"} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}

	dir := t.TempDir()
	dotenv := "HOST_IP=10.0.0.1\nSONOS_IP=10.0.0.2\nPIPER_IP=10.0.0.3\nVOICE_MODEL=en_GB-alan-low\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(dotenv), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", cfg.HostIP)
	assert.Equal(t, "10.0.0.2", cfg.Speaker.Address)
	assert.Equal(t, "10.0.0.3", cfg.TTS.Host)
	assert.Equal(t, "en_GB-alan-low", cfg.TTS.Voice)
}

func TestLoadEnvironmentWinsOverDotEnv(t *testing.T) {
	setRequired(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("HOST_IP=10.0.0.1\nSONOS_IP=10.0.0.2\n"), 0o644))
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.10", cfg.HostIP)
	assert.Equal(t, "192.168.1.20", cfg.Speaker.Address)
}

func TestLoadPrefixedOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SONOSBRIDGE_SOUNDS_CLEANUP_DELAY", "750ms")
	t.Setenv("SONOSBRIDGE_TTS_BACKEND", "wyoming")
	t.Setenv("SONOSBRIDGE_TRANSPORTS_HTTP_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 750*time.Millisecond, cfg.Sounds.CleanupDelay)
	assert.Equal(t, "wyoming", cfg.TTS.Backend)
	assert.True(t, cfg.Transports.HTTP.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	setRequired(t)

	path := filepath.Join(t.TempDir(), "sonosbridge.yaml")
	content := `
sounds:
  dir: /srv/sounds
  start_sound: chime.mp3
speaker:
  timeout: 3s
logging:
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/sounds", cfg.Sounds.Dir)
	assert.Equal(t, "chime.mp3", cfg.Sounds.StartSound)
	assert.Equal(t, "tts_error.mp3", cfg.Sounds.ErrorSound)
	assert.Equal(t, 3*time.Second, cfg.Speaker.Timeout)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadUnknownBackend(t *testing.T) {
	setRequired(t)
	t.Setenv("SONOSBRIDGE_TTS_BACKEND", "espeak")

	_, err := Load("")
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, cfgErr.Error(), "espeak")
}

func TestSoundURL(t *testing.T) {
	cfg := &Config{
		HostIP: "192.168.1.10",
		Server: ServerConfig{FilePort: 8080},
		Sounds: SoundsConfig{URLPrefix: "/sound_files"},
	}
	assert.Equal(t, "http://192.168.1.10:8080/sound_files/tts_start.mp3", cfg.SoundURL("tts_start.mp3"))
}

func TestTTSEndpoint(t *testing.T) {
	c := TTSConfig{Host: "10.0.0.5", Port: 8080, Path: "/api/tts", WyomingPort: 10200}
	assert.Equal(t, "http://10.0.0.5:8080/api/tts", c.Endpoint())
	assert.Equal(t, "10.0.0.5:10200", c.WyomingAddr())
}
