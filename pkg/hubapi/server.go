// Package hubapi serves the hub's HTTP API: server status, the tool
// catalogue, chat turns and registry uploads.
package hubapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/vikashloomba/mcphub-go/pkg/conversation"
	"github.com/vikashloomba/mcphub-go/pkg/mcpmgr"
)

// ModelSource builds the model for a provider/model pair and returns a key
// identifying it. llm.Catalog satisfies it.
type ModelSource interface {
	Model(provider, model string) (conversation.Model, string, error)
}

// Options configure a Server.
type Options struct {
	// DefaultProvider and DefaultModel apply when a chat request names none.
	DefaultProvider string
	DefaultModel    string
	// CORSOrigins lists allowed origins. Defaults to "*".
	CORSOrigins []string
	// ServersConfigPath, when set, receives every accepted upload.
	ServersConfigPath string
	// MaxUploadBytes bounds upload bodies. Defaults to 1 MiB.
	MaxUploadBytes int64
	// Extra handlers mounted on the same mux, keyed by path.
	Mounts map[string]http.Handler
	Logger *slog.Logger
}

func (o *Options) withDefaults() Options {
	var out Options
	if o != nil {
		out = *o
	}
	if len(out.CORSOrigins) == 0 {
		out.CORSOrigins = []string{"*"}
	}
	if out.MaxUploadBytes <= 0 {
		out.MaxUploadBytes = 1 << 20
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Server exposes a Hub and its conversations over HTTP.
type Server struct {
	hub      *mcpmgr.Hub
	sessions *conversation.Manager
	models   ModelSource
	opts     Options
	logger   *slog.Logger
	handler  http.Handler

	uploadMu sync.Mutex

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// New builds a Server.
func New(hub *mcpmgr.Hub, sessions *conversation.Manager, models ModelSource, opts *Options) *Server {
	o := opts.withDefaults()
	s := &Server{
		hub:      hub,
		sessions: sessions,
		models:   models,
		opts:     o,
		logger:   o.Logger.With("component", "hubapi"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /servers", s.handleServers)
	mux.HandleFunc("GET /tools", s.handleTools)
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("POST /upload-config", s.handleUploadConfig)
	for path, h := range o.Mounts {
		mux.Handle(path, h)
		if !strings.HasSuffix(path, "/") {
			mux.Handle(path+"/", h)
		}
	}

	s.handler = cors.New(cors.Options{
		AllowedOrigins: o.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{"Mcp-Session-Id"},
	}).Handler(mux)
	return s
}

// Handler returns the API's HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves on addr until ctx is cancelled or the server fails.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		running := s.httpServer
		s.httpServerMu.Unlock()
		return fmt.Errorf("hubapi: server already running on %s", running.Addr)
	}
	srv := &http.Server{Addr: addr, Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("listening", slog.String("addr", addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) saveConfig(data []byte) error {
	if s.opts.ServersConfigPath == "" {
		return nil
	}
	tmp := s.opts.ServersConfigPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.opts.ServersConfigPath)
}
