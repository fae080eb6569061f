package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pimonitor/pimonitor-core/internal/device"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/config"
	"github.com/pimonitor/pimonitor-core/internal/infrastructure/logging"
	"github.com/pimonitor/pimonitor-core/internal/piapi"
	"github.com/pimonitor/pimonitor-core/internal/preset"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Actions runs operator actions against a device.
type Actions interface {
	StartRecording(ctx context.Context, hostID string) (piapi.Recording, error)
	StopAndSaveRecording(ctx context.Context, hostID string) (piapi.Recording, error)
	CancelRecording(ctx context.Context, hostID string) (piapi.Recording, error)
	TriggerEvent(ctx context.Context, hostID, name string) (device.Event, error)
}

// BrokerStatus reports whether an outside service (the MQTT broker or
// InfluxDB) is reachable.
type BrokerStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies of the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Registry *device.Registry
	Actions  Actions
	Presets  *preset.Store

	// Optional.
	History  device.HistoryRepository
	MQTT     BrokerStatus
	InfluxDB BrokerStatus

	Version string
}

// Server is the local HTTP API and WebSocket feed.
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	registry *device.Registry
	actions  Actions
	presets  *preset.Store
	history  device.HistoryRepository
	mqtt     BrokerStatus
	influx   BrokerStatus
	version  string

	hub     *Hub
	limiter *deviceLimiter
	server  *http.Server
	cancel  context.CancelFunc
	unsub   func()
}

// New creates an API server. It does not listen until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("device registry is required")
	}
	if deps.Actions == nil {
		return nil, fmt.Errorf("action coordinator is required")
	}
	if deps.Presets == nil {
		return nil, fmt.Errorf("preset store is required")
	}
	if deps.Security.JWT.Enabled && deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required when jwt is enabled")
	}

	hub := NewHub(deps.WS, deps.Logger)
	hub.snapshot = func() any { return deps.Registry.ListDevices() }

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		secCfg:   deps.Security,
		logger:   deps.Logger,
		registry: deps.Registry,
		actions:  deps.Actions,
		presets:  deps.Presets,
		history:  deps.History,
		mqtt:     deps.MQTT,
		influx:   deps.InfluxDB,
		version:  deps.Version,
		hub:      hub,
		limiter:  newDeviceLimiter(deps.Config.RateLimit),
	}, nil
}

// Start runs the WebSocket hub, relays registry changes to it and starts
// listening in the background.
func (s *Server) Start(ctx context.Context) error {
	srvCtx := s.startBackground(ctx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return srvCtx },
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// startBackground starts the hub and the registry relay. The returned
// context ends on Close.
func (s *Server) startBackground(ctx context.Context) context.Context {
	srvCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.hub.Run(srvCtx)
	s.unsub = s.registry.Subscribe(s.relayChange)
	return srvCtx
}

// relayChange forwards a registry change to WebSocket subscribers.
func (s *Server) relayChange(c device.Change) {
	s.hub.Broadcast(ChannelDeviceChanged, c)
}

// Close stops the relay and hub and shuts the listener down gracefully.
func (s *Server) Close() error {
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
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

// HealthCheck reports whether the server has been started.
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
