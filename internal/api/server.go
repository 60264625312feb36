package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cthz/cthz-core/internal/alert"
	"github.com/cthz/cthz-core/internal/correlation"
	"github.com/cthz/cthz-core/internal/dispatch"
	"github.com/cthz/cthz-core/internal/event"
	"github.com/cthz/cthz-core/internal/fleet"
	"github.com/cthz/cthz-core/internal/infrastructure/config"
	"github.com/cthz/cthz-core/internal/infrastructure/logging"
	"github.com/cthz/cthz-core/internal/policy"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// EventSubmitter accepts events into the processing pipeline. Satisfied by
// *pipeline.Pipeline.
type EventSubmitter interface {
	Submit(ev event.Event) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Fleet    *fleet.Registry
	Policies *policy.Registry
	Alerts   *alert.Manager
	Tracker  *correlation.Tracker
	Results  dispatch.ResultRepository
	Pipeline EventSubmitter
	Metrics  http.Handler // optional: mounted at /metrics when set
	Hub      *Hub         // optional: injected when another component also broadcasts
	Version  string
}

// Server is the HTTP API server for the CTHz core.
//
// It manages the HTTP listener, routes, middleware, and the WebSocket hub.
// Created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	fleet    *fleet.Registry
	policies *policy.Registry
	alerts   *alert.Manager
	tracker  *correlation.Tracker
	results  dispatch.ResultRepository
	pipeline EventSubmitter
	metrics  http.Handler
	version  string

	server      *http.Server
	hub         *Hub
	externalHub bool
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Fleet == nil {
		return nil, fmt.Errorf("fleet registry is required")
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("event pipeline is required")
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger,
		fleet:    deps.Fleet,
		policies: deps.Policies,
		alerts:   deps.Alerts,
		tracker:  deps.Tracker,
		results:  deps.Results,
		pipeline: deps.Pipeline,
		metrics:  deps.Metrics,
		version:  deps.Version,
	}

	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Start begins listening for HTTP connections. The WebSocket hub and the
// listener run in background goroutines; stop them with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr, "cert", s.cfg.TLS.CertFile)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Hub returns the WebSocket hub, creating it if Start has not run yet. Used
// to wire the alert manager's broadcast before the server starts.
func (s *Server) Hub() *Hub {
	if s.hub == nil {
		s.hub = NewHub(s.logger)
	}
	return s.hub
}

// Close gracefully shuts down the API server, waiting up to ten seconds for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
