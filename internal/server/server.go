// Package server assembles the hub, the message protocol and the HTTP
// server for the chat service.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/companychat/internal/directory"
	"github.com/Tyrowin/companychat/internal/logging"
	"github.com/Tyrowin/companychat/internal/metrics"
	"github.com/Tyrowin/companychat/internal/protocol"
	"github.com/Tyrowin/companychat/internal/store"
	"github.com/Tyrowin/companychat/internal/validator"
)

// Options are the collaborators of a Server. Store defaults to an in-memory
// store and Directory to an empty directory.
type Options struct {
	Config    Config
	Store     store.Store
	Directory *directory.Directory
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

// Server wires the hub, the message protocol and the HTTP surface together.
type Server struct {
	cfg        Config
	hub        *Hub
	protocol   *protocol.Handler
	directory  *directory.Directory
	limiter    *limiterPool
	log        *slog.Logger
	metrics    *metrics.Metrics
	started    time.Time
	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// New creates a server. Call Start before serving requests.
func New(opts Options) *Server {
	cfg := SetConfig(&opts.Config)
	log := logging.OrDefault(opts.Logger)

	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	dir := opts.Directory
	if dir == nil {
		dir = directory.New(nil, nil)
	}

	hub := NewHub(log, opts.Metrics)
	s := &Server{
		cfg:       cfg,
		hub:       hub,
		directory: dir,
		limiter:   &limiterPool{cfg: cfg.RateLimit},
		log:       log,
		metrics:   opts.Metrics,
		started:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
	s.protocol = &protocol.Handler{
		Store:        st,
		Directory:    dir,
		Broadcaster:  hub,
		Validator:    validator.New(),
		Logger:       log,
		Metrics:      opts.Metrics,
		Now:          opts.Now,
		HistoryLimit: cfg.HistoryLimit,
	}
	return s
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start runs the hub loop in the background.
func (s *Server) Start() {
	go s.hub.Run()
}

// CreateServer creates and configures the HTTP server with security settings
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              port,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// ListenAndServe serves the routes on the configured port until Shutdown.
func (s *Server) ListenAndServe() error {
	s.httpServer = CreateServer(s.cfg.Port, s.Routes())
	s.log.Info("Server listening", "addr", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every websocket
// connection and waits for the hub within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	var httpErr error
	if s.httpServer != nil {
		httpErr = s.httpServer.Shutdown(ctx)
	}

	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return errors.Join(httpErr, s.hub.Shutdown(timeout))
}
