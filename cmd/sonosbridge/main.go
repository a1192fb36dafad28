// Sonosbridge listens for voice-pipeline events over the Wyoming protocol,
// synthesises replies with Piper and plays them on a Sonos speaker.
//
// Usage:
//
//	sonosbridge [flags]
//	sonosbridge --config /path/to/sonosbridge.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nadzzz/sonosbridge/internal/artifact"
	"github.com/nadzzz/sonosbridge/internal/audio"
	"github.com/nadzzz/sonosbridge/internal/config"
	"github.com/nadzzz/sonosbridge/internal/dispatch"
	"github.com/nadzzz/sonosbridge/internal/fileserver"
	"github.com/nadzzz/sonosbridge/internal/health"
	"github.com/nadzzz/sonosbridge/internal/speaker"
	"github.com/nadzzz/sonosbridge/internal/transport"
	httptransport "github.com/nadzzz/sonosbridge/internal/transport/http"
	mqtttransport "github.com/nadzzz/sonosbridge/internal/transport/mqtt"
	wyomingtransport "github.com/nadzzz/sonosbridge/internal/transport/wyoming"
	"github.com/nadzzz/sonosbridge/internal/tts"
	"github.com/nadzzz/sonosbridge/internal/tts/piper"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/sonosbridge.yaml)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("sonosbridge %s\n", version)
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load(*configFile)
	if err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("invalid configuration", "error", err, "missing", cfgErr.Missing)
		} else {
			slog.Error("failed to load configuration", "error", err)
		}
		os.Exit(1)
	}

	// Setup structured logging.
	config.SetupLogging(cfg.Logging)
	slog.Info("sonosbridge starting", "version", version)

	// Create root context with signal handling for graceful shutdown.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("sonosbridge failed", "error", err)
		os.Exit(1)
	}
	slog.Info("sonosbridge stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// Artifact directory, cleared of anything a previous run left behind.
	store, err := artifact.New(cfg.Sounds.Dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("flushing artifacts failed", "error", err)
		}
	}()
	if n, err := store.Sweep(); err != nil {
		slog.Warn("sweeping stale artifacts failed", "error", err)
	} else if n > 0 {
		slog.Info("removed stale artifacts", "count", n)
	}

	converter := audio.NewFFmpeg(cfg.Sounds.FFmpeg, cfg.Sounds.Bitrate)
	if err := converter.Check(); err != nil {
		return err
	}

	// Initialize the TTS backend.
	var backend tts.Synthesizer
	switch cfg.TTS.Backend {
	case "http":
		backend = piper.NewHTTP(cfg.TTS.Endpoint(), cfg.TTS.Timeout)
		slog.Info("using piper http backend", "endpoint", cfg.TTS.Endpoint(), "voice", cfg.TTS.Voice)
	case "wyoming":
		backend = piper.NewWyoming(cfg.TTS.WyomingAddr(), cfg.TTS.Timeout)
		slog.Info("using piper wyoming backend", "addr", cfg.TTS.WyomingAddr(), "voice", cfg.TTS.Voice)
	default:
		return fmt.Errorf("unknown tts backend %q", cfg.TTS.Backend)
	}
	defer backend.Close()

	player := speaker.New(cfg.Speaker.Port, cfg.Speaker.Timeout)
	probeSpeaker(ctx, player, cfg.Speaker.Address)

	dispatcher := dispatch.New(tts.NewClient(backend, store, converter), player, store, dispatch.Options{
		Speaker:         cfg.Speaker.Address,
		Voice:           cfg.TTS.Voice,
		SoundURL:        cfg.SoundURL,
		StartSound:      cfg.Sounds.StartSound,
		ErrorSound:      cfg.Sounds.ErrorSound,
		CleanupDelay:    cfg.Sounds.CleanupDelay,
		PlaybackAware:   cfg.Sounds.PlaybackAware,
		EventTimeout:    cfg.Dispatch.EventTimeout,
		NotifyOnFailure: cfg.Dispatch.NotifyOnFailure,
	})

	// Initialize enabled transports.
	var transports []transport.Transport
	if cfg.Transports.Wyoming.Enabled {
		transports = append(transports, wyomingtransport.New(cfg.Transports.Wyoming.Port, wyomingtransport.Info{
			Name:        "sonosbridge",
			Description: "Plays wake, error and synthesized speech on " + cfg.Speaker.Address,
			Version:     version,
		}))
	}
	if cfg.Transports.HTTP.Enabled {
		transports = append(transports, httptransport.New(cfg.Transports.HTTP.Port))
	}
	if cfg.Transports.MQTT.Enabled {
		transports = append(transports, mqtttransport.New(mqtttransport.Options{
			Broker:   cfg.Transports.MQTT.Broker,
			Topic:    cfg.Transports.MQTT.Topic,
			AckTopic: cfg.Transports.MQTT.AckTopic,
			ClientID: cfg.Transports.MQTT.ClientID,
		}))
	}
	if len(transports) == 0 {
		return errors.New("no transports enabled; enable at least one in config")
	}

	checker := health.New()
	g, ctx := errgroup.WithContext(ctx)

	// Notification sounds are pre-seeded by deployment; readiness follows their presence.
	g.Go(func() error {
		err := store.Watch(ctx, []string{cfg.Sounds.StartSound, cfg.Sounds.ErrorSound}, func(name string, present bool) {
			if !present {
				slog.Warn("notification sound missing", "file", name, "dir", store.Dir())
			}
			checker.Set("sound:"+name, present)
		})
		if err != nil {
			slog.Error("sound watcher stopped", "error", err)
		}
		return nil
	})

	files := fileserver.New(cfg.Server.FilePort, store.Dir(), cfg.Sounds.URLPrefix, checker)
	g.Go(func() error { return files.ListenAndServe(ctx) })

	if cfg.Transports.GRPC.Enabled {
		grpcHealth := health.NewGRPC(cfg.Transports.GRPC.Port, checker)
		g.Go(func() error { return grpcHealth.ListenAndServe(ctx) })
	}

	// Start all transports. A transport that fails to start stops the process.
	// Each one counts towards readiness only once it is bound.
	for _, t := range transports {
		check := "transport:" + t.Name()
		checker.Set(check, false)
		g.Go(func() error {
			select {
			case <-t.Ready():
				checker.Set(check, true)
			case <-ctx.Done():
			}
			return nil
		})
		g.Go(func() error {
			slog.Info("starting transport", "name", t.Name())
			if err := t.Listen(ctx, dispatcher.Handle); err != nil {
				checker.Set(check, false)
				return fmt.Errorf("transport %s: %w", t.Name(), err)
			}
			return nil
		})
	}

	// Readiness also waits on the transport and sound checks above.
	checker.SetReady(true)
	slog.Info("sonosbridge ready",
		"transports", len(transports),
		"file_port", cfg.Server.FilePort,
		"sound_url", cfg.SoundURL(""))

	// Block until shutdown signal or a fatal task error.
	<-ctx.Done()
	slog.Info("shutting down, draining...")
	checker.SetReady(false)

	// Close all transports gracefully.
	for _, t := range transports {
		if err := t.Close(); err != nil {
			slog.Error("transport close error", "name", t.Name(), "error", err)
		}
	}

	return g.Wait()
}

// probeSpeaker logs the speaker's transport state. Failure is not fatal:
// the speaker may simply be asleep.
func probeSpeaker(ctx context.Context, player *speaker.Sonos, address string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	state, err := player.TransportState(ctx, address)
	if err != nil {
		slog.Warn("speaker not responding at startup", "speaker", address, "error", err)
		return
	}
	slog.Info("speaker reachable", "speaker", address, "state", state)
}
