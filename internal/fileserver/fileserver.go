// Package fileserver serves the artifact directory to the speaker over HTTP.
//
// Any file under the directory is fetchable without authentication,
// including directory listings; the speaker only accepts URLs, so the
// generated audio has to be reachable on the local network. The health
// endpoints share the same port.
package fileserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/nadzzz/sonosbridge/internal/health"
)

// Server is the static file server.
type Server struct {
	port    int
	dir     string
	prefix  string
	checker *health.Checker
	server  *http.Server
}

// New creates a file server for dir mounted under prefix (e.g. "/sound_files").
// checker may be nil.
func New(port int, dir, prefix string, checker *health.Checker) *Server {
	return &Server{
		port:    port,
		dir:     dir,
		prefix:  "/" + strings.Trim(prefix, "/") + "/",
		checker: checker,
	}
}

// Handler returns the routing for the file server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	files := http.StripPrefix(strings.TrimSuffix(s.prefix, "/"), http.FileServer(http.Dir(s.dir)))
	mux.Handle("GET "+s.prefix, logRequests(audioTypes(files)))

	if s.checker != nil {
		s.checker.Register(mux)
	}
	return otelhttp.NewHandler(mux, "fileserver")
}

// ListenAndServe binds the port and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("file server listen: %w", err)
	}
	slog.Info("file server listening", "port", s.port, "dir", s.dir, "prefix", s.prefix)
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("file server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("file server: %w", err)
	}
	return nil
}

// Not every host has a mime.types entry for these, and Sonos rejects
// sniffed text/plain.
var audioContentTypes = map[string]string{
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
}

func audioTypes(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct, ok := audioContentTypes[strings.ToLower(path.Ext(r.URL.Path))]; ok {
			w.Header().Set("Content-Type", ct)
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("file served", "path", r.URL.Path, "status", rec.status, "remote", r.RemoteAddr)
	})
}
