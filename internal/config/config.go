// Package config handles loading and validating the sonosbridge configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the root configuration for the sonosbridge daemon.
type Config struct {
	// HostIP is the address the speaker uses to reach the file server.
	HostIP     string           `mapstructure:"host_ip"`
	Server     ServerConfig     `mapstructure:"server"`
	Transports TransportsConfig `mapstructure:"transports"`
	TTS        TTSConfig        `mapstructure:"tts"`
	Speaker    SpeakerConfig    `mapstructure:"speaker"`
	Sounds     SoundsConfig     `mapstructure:"sounds"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the static file server and health settings.
type ServerConfig struct {
	FilePort int `mapstructure:"file_port"`
}

// TransportsConfig holds the configuration for each event intake.
type TransportsConfig struct {
	Wyoming WyomingConfig `mapstructure:"wyoming"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
}

// WyomingConfig configures the Wyoming TCP event server.
type WyomingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HTTPConfig configures the HTTP/WebSocket event intake.
type HTTPConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// MQTTConfig configures the MQTT event intake.
type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	Topic    string `mapstructure:"topic"`
	AckTopic string `mapstructure:"ack_topic"` // empty disables acks
	ClientID string `mapstructure:"client_id"`
}

// GRPCConfig configures the gRPC health service.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// TTSConfig selects and configures the text-to-speech backend.
type TTSConfig struct {
	Backend     string        `mapstructure:"backend"` // "http" or "wyoming"
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Path        string        `mapstructure:"path"`
	WyomingPort int           `mapstructure:"wyoming_port"`
	Voice       string        `mapstructure:"voice"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Endpoint returns the URL of the HTTP synthesis API.
func (c TTSConfig) Endpoint() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   c.Path,
	}
	return u.String()
}

// WyomingAddr returns the host:port of Piper's Wyoming server.
func (c TTSConfig) WyomingAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.WyomingPort))
}

// SpeakerConfig holds the Sonos device settings.
type SpeakerConfig struct {
	Address string        `mapstructure:"address"`
	Port    int           `mapstructure:"port"` // UPnP control port, used when Address has none
	Timeout time.Duration `mapstructure:"timeout"`
}

// SoundsConfig describes the artifact directory and the notification sounds in it.
type SoundsConfig struct {
	Dir           string        `mapstructure:"dir"`
	URLPrefix     string        `mapstructure:"url_prefix"`
	StartSound    string        `mapstructure:"start_sound"`
	ErrorSound    string        `mapstructure:"error_sound"`
	CleanupDelay  time.Duration `mapstructure:"cleanup_delay"`
	PlaybackAware bool          `mapstructure:"playback_aware"` // add probed mp3 duration to the cleanup delay
	FFmpeg        string        `mapstructure:"ffmpeg"`
	Bitrate       string        `mapstructure:"bitrate"`
}

// DispatchConfig controls per-event handling.
type DispatchConfig struct {
	EventTimeout    time.Duration `mapstructure:"event_timeout"`
	NotifyOnFailure bool          `mapstructure:"notify_on_failure"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// SoundURL returns the URL under which the speaker fetches the named file.
func (c *Config) SoundURL(name string) string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(c.HostIP, strconv.Itoa(c.Server.FilePort)),
		Path:   strings.TrimSuffix(c.Sounds.URLPrefix, "/") + "/" + name,
	}
	return u.String()
}

// requiredEnv maps config keys to the environment variables that must supply them.
var requiredEnv = []struct {
	key string
	env string
}{
	{"host_ip", "HOST_IP"},
	{"speaker.address", "SONOS_IP"},
	{"tts.host", "PIPER_IP"},
	{"tts.voice", "VOICE_MODEL"},
}

// ConfigurationError reports settings that are missing or invalid at startup.
type ConfigurationError struct {
	Missing []string // environment variable names
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if len(e.Missing) > 0 {
		return "missing required environment variables: " + strings.Join(e.Missing, ", ")
	}
	return "invalid configuration: " + e.Reason
}

// Load reads the configuration from an optional .env file, a config file,
// environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./sonosbridge.yaml, ./configs/sonosbridge.yaml, /etc/sonosbridge/sonosbridge.yaml.
func Load(configFile string) (*Config, error) {
	// .env never overrides variables already present in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	v := viper.New()

	v.SetDefault("server.file_port", 8080)
	v.SetDefault("transports.wyoming.enabled", true)
	v.SetDefault("transports.wyoming.port", 10500)
	v.SetDefault("transports.http.enabled", false)
	v.SetDefault("transports.http.port", 10580)
	v.SetDefault("transports.mqtt.enabled", false)
	v.SetDefault("transports.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("transports.mqtt.topic", "sonosbridge/events")
	v.SetDefault("transports.mqtt.ack_topic", "")
	v.SetDefault("transports.mqtt.client_id", "sonosbridge")
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("tts.backend", "http")
	v.SetDefault("tts.port", 8080)
	v.SetDefault("tts.path", "/api/tts")
	v.SetDefault("tts.wyoming_port", 10200)
	v.SetDefault("tts.timeout", 30*time.Second)
	v.SetDefault("speaker.port", 1400)
	v.SetDefault("speaker.timeout", 10*time.Second)
	v.SetDefault("sounds.dir", "sound_files")
	v.SetDefault("sounds.url_prefix", "/sound_files")
	v.SetDefault("sounds.start_sound", "tts_start.mp3")
	v.SetDefault("sounds.error_sound", "tts_error.mp3")
	v.SetDefault("sounds.cleanup_delay", 2*time.Second)
	v.SetDefault("sounds.playback_aware", true)
	v.SetDefault("sounds.ffmpeg", "ffmpeg")
	v.SetDefault("sounds.bitrate", "128k")
	v.SetDefault("dispatch.event_timeout", 60*time.Second)
	v.SetDefault("dispatch.notify_on_failure", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("sonosbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sonosbridge")
	}

	// Environment variables: SONOSBRIDGE_TTS_BACKEND, SONOSBRIDGE_SOUNDS_DIR, etc.
	v.SetEnvPrefix("SONOSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The deployment variables keep their historical unprefixed names.
	for _, r := range requiredEnv {
		if err := v.BindEnv(r.key, r.env); err != nil {
			return nil, fmt.Errorf("binding %s: %w", r.env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required settings and returns a *ConfigurationError on failure.
func (c *Config) Validate() error {
	values := map[string]string{
		"host_ip":         c.HostIP,
		"speaker.address": c.Speaker.Address,
		"tts.host":        c.TTS.Host,
		"tts.voice":       c.TTS.Voice,
	}
	var missing []string
	for _, r := range requiredEnv {
		if strings.TrimSpace(values[r.key]) == "" {
			missing = append(missing, r.env)
		}
	}
	if len(missing) > 0 {
		return &ConfigurationError{Missing: missing}
	}

	switch c.TTS.Backend {
	case "http", "wyoming":
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("unknown tts backend %q", c.TTS.Backend)}
	}
	if c.Sounds.CleanupDelay < 0 {
		return &ConfigurationError{Reason: "sounds.cleanup_delay must not be negative"}
	}
	if c.Sounds.Dir == "" {
		return &ConfigurationError{Reason: "sounds.dir must be set"}
	}
	return nil
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
