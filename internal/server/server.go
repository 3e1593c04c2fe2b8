// Package server implements the HTTP server that hosts the ChatNet hub,
// router and REST API.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatnet/internal/auth"
	"github.com/Tyrowin/chatnet/internal/chat"
	"github.com/Tyrowin/chatnet/internal/history"
	"github.com/Tyrowin/chatnet/internal/usage"
)

// Deps are the collaborators a Server is assembled from. Only Logger may be nil.
type Deps struct {
	Ledger   *usage.Ledger
	Store    *history.Store
	Verifier *auth.Verifier
	Logger   *slog.Logger
}

// Server ties the WebSocket hub, the chat router and the REST surface
// together behind one http.Server.
type Server struct {
	cfg      Config
	log      *slog.Logger
	hub      *Hub
	router   *chat.Router
	ledger   *usage.Ledger
	store    *history.Store
	verifier *auth.Verifier
	validate *validator.Validate
	upgrader websocket.Upgrader
	http     *http.Server
	hubOnce  sync.Once
}

// New assembles a Server. The hub is not running until StartHub or Start.
func New(cfg Config, deps Deps) *Server {
	cfg = cfg.Sanitize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hub := NewHub(logger.With("component", "hub"))
	router := chat.NewRouter(chat.RouterConfig{
		PendingTimeout:   cfg.PendingTimeout,
		AllowUnverified:  cfg.AllowUnverified,
		MaxContentLength: cfg.MaxContentLength,
	}, hub, deps.Ledger, logger.With("component", "router"), chat.WithMessageSink(deps.Store))
	hub.attach(router)

	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	s := &Server{
		cfg:      cfg,
		log:      logger,
		hub:      hub,
		router:   router,
		ledger:   deps.Ledger,
		store:    deps.Store,
		verifier: deps.Verifier,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
	s.http = &http.Server{
		Addr:         cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Router exposes the chat router, mostly for tests and diagnostics.
func (s *Server) Router() *chat.Router {
	return s.router
}

// StartHub runs the hub loop in its own goroutine. Later calls do nothing.
func (s *Server) StartHub() {
	s.hubOnce.Do(func() {
		go s.hub.Run()
		s.log.Info("Hub started and ready to manage WebSocket connections")
	})
}

// Start runs the hub and serves HTTP until Shutdown. It returns nil after a
// graceful shutdown.
func (s *Server) Start() error {
	s.StartHub()
	s.log.Info("Server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes every WebSocket client and
// waits for their pumps, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	httpErr := s.http.Shutdown(ctx)
	if httpErr != nil {
		s.log.Error("HTTP server shutdown error", "error", httpErr)
	}

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	// the hub only reports done from its run loop
	s.StartHub()
	hubErr := s.hub.Shutdown(timeout)

	return errors.Join(httpErr, hubErr)
}
