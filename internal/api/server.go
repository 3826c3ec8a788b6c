package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-aqara/internal/accessory"
	"github.com/nerrad567/gray-logic-aqara/internal/audit"
	"github.com/nerrad567/gray-logic-aqara/internal/bridges/aqara"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-aqara/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// BridgeStatus is the read side of the Aqara bridge used by the API.
type BridgeStatus interface {
	Devices(ctx context.Context) ([]aqara.DeviceRecord, error)
	Gateways(ctx context.Context) ([]aqara.GatewayStatus, error)
	GetMetrics() aqara.BridgeMetrics
}

// AccessoryService lists accessories and executes commands against them.
type AccessoryService interface {
	List() []*accessory.Accessory
	Get(key string) (*accessory.Accessory, error)
	Execute(cmd aqara.CommandMessage) error
}

// AuditLister pages through the audit trail.
type AuditLister interface {
	List(ctx context.Context, filter audit.Filter) (*audit.Page, error)
}

// ConnectionStatus reports broker connectivity.
type ConnectionStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config      config.APIConfig
	Logger      *logging.Logger
	Bridge      BridgeStatus
	Accessories AccessoryService
	Audit       AuditLister         // optional
	MQTT        ConnectionStatus    // optional
	Gatherer    prometheus.Gatherer // defaults to prometheus.DefaultGatherer
	Version     string
}

// Server is the HTTP status API of the Aqara bridge.
//
// It is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	logger      *logging.Logger
	bridge      BridgeStatus
	accessories AccessoryService
	audit       AuditLister
	mqtt        ConnectionStatus
	gatherer    prometheus.Gatherer
	version     string
	startTime   time.Time
	server      *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge, accessories)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("aqara bridge is required")
	}
	if deps.Accessories == nil {
		return nil, fmt.Errorf("accessory service is required")
	}

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Server{
		cfg:         deps.Config,
		logger:      deps.Logger.Component("api"),
		bridge:      deps.Bridge,
		accessories: deps.Accessories,
		audit:       deps.Audit,
		mqtt:        deps.MQTT,
		gatherer:    gatherer,
		version:     deps.Version,
		startTime:   time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
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
