package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matterverse/matterverse-core/internal/commissioning"
	"github.com/matterverse/matterverse-core/internal/datamodel"
	"github.com/matterverse/matterverse-core/internal/device"
	"github.com/matterverse/matterverse-core/internal/dispatch"
	"github.com/matterverse/matterverse-core/internal/infrastructure/config"
	"github.com/matterverse/matterverse-core/internal/infrastructure/logging"
	"github.com/matterverse/matterverse-core/internal/notify"
	"github.com/matterverse/matterverse-core/internal/poller"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	Registry   *device.Registry
	Dictionary *datamodel.Dictionary
	Dispatcher *dispatch.Dispatcher
	Registrar  *commissioning.Registrar
	Notifier   *notify.Notifier
	Poller     *poller.Poller
	Version    string
}

// Server is the HTTP API and WebSocket session server.
//
// It exposes the device registry, the data model dictionary, command
// dispatch and commissioning over REST, plus a WebSocket surface that
// streams registry events and accepts textual commands. Created with
// New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	registry   *device.Registry
	dict       *datamodel.Dictionary
	dispatcher *dispatch.Dispatcher
	registrar  *commissioning.Registrar
	notifier   *notify.Notifier
	poller     *poller.Poller
	version    string
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Dictionary == nil {
		return nil, fmt.Errorf("data model dictionary is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("command dispatcher is required")
	}
	// Registrar, notifier and poller are optional; the routes that need
	// them answer 503 when absent.

	return &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		registry:   deps.Registry,
		dict:       deps.Dictionary,
		dispatcher: deps.Dispatcher,
		registrar:  deps.Registrar,
		notifier:   deps.Notifier,
		poller:     deps.Poller,
		version:    deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// The listener runs in a background goroutine; startup errors other
// than a clean shutdown are logged. Stop with Close().
func (s *Server) Start(ctx context.Context) error {
	_, s.cancel = context.WithCancel(ctx)

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
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
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

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
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
