package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-unibus/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/actuator"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/line"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/registry"
	"github.com/nerrad567/gray-logic-unibus/internal/unibus/state"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Registry is the read side of the registration dispatcher.
type Registry interface {
	List() []registry.Registration
	GetControllerID() byte
	ControllerUUID() uuid.UUID
}

// StateStore is the read side of the state slot table.
type StateStore interface {
	GetState(key state.Key) (state.Value, bool)
	Snapshot() []state.Slot
	Modules() map[string]state.ModuleStatus
	Subscribe(fn state.Observer)
}

// History serves recorded slot changes.
type History interface {
	GetHistory(ctx context.Context, key state.Key, limit int) ([]state.HistoryEntry, error)
}

// LineLister reports the status of every bus line.
type LineLister interface {
	Lines() []line.Status
}

// Actuators is the read side of the actuator table.
type Actuators interface {
	State() actuator.ControllerState
	Thresholds() actuator.Thresholds
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Registry  Registry
	Store     StateStore
	History   History    // optional; history endpoint answers 503 without it
	Lines     LineLister // optional
	Actuators Actuators  // optional
	Version   string
}

// Server is the HTTP API server for the UniBus controller.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	registry  Registry
	store     StateStore
	history   History
	lines     LineLister
	actuators Actuators
	version   string
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		registry:  deps.Registry,
		store:     deps.Store,
		history:   deps.History,
		lines:     deps.Lines,
		actuators: deps.Actuators,
		version:   deps.Version,
		hub:       NewHub(deps.WS, deps.Logger, deps.Store.Snapshot),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes the hub to state changes and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	s.store.Subscribe(s.broadcastChange)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
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

// HealthCheck verifies the API server is running and responsive.
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

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
