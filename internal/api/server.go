package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/findmy-bridge/internal/bridge"
	"github.com/nerrad567/findmy-bridge/internal/discovery"
	"github.com/nerrad567/findmy-bridge/internal/findmy"
	"github.com/nerrad567/findmy-bridge/internal/geofence"
	"github.com/nerrad567/findmy-bridge/internal/history"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/config"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/database"
	"github.com/nerrad567/findmy-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/findmy-bridge/internal/presence"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the part of *bridge.Bridge the API reads and drives.
type Bridge interface {
	Trigger(force bool, paths ...string)
	Stats() bridge.Stats
	LastPass() (bridge.PassReport, bool)
	Health() (bridge.HealthStatus, string)
	Files() []string
}

// ConnectionChecker reports broker state. *mqtt.Client satisfies it.
type ConnectionChecker interface {
	IsConnected() bool
	SubscriptionCount() int
}

// PublisherStats exposes discovery counters. *discovery.Publisher satisfies it.
type PublisherStats interface {
	Stats() discovery.Stats
}

// HistoryLister reads the pass history. *history.SQLiteRepository satisfies it.
type HistoryLister interface {
	List(ctx context.Context, filter history.Filter) (*history.ListResult, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Bridge    Bridge
	Detector  *presence.Detector
	Zones     *geofence.Index
	MQTT      ConnectionChecker // optional
	Publisher PublisherStats    // optional
	DB        *database.DB      // optional, present when state.persist is on
	History   HistoryLister     // optional, present when state.persist is on
	Version   string
}

// Server is the HTTP status server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	bridge    Bridge
	detector  *presence.Detector
	zones     *geofence.Index
	mqtt      ConnectionChecker
	publisher PublisherStats
	db        *database.DB
	history   HistoryLister
	version   string
	startTime time.Time

	hub      *Hub
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // cancels the hub on Close()
	mu       sync.Mutex
}

// New creates a new API server with the given dependencies.
//
// The hub exists from construction so events can be broadcast before
// Start; they are dropped while no client is connected.
//
// Parameters:
//   - deps: Logger, Bridge and Detector are required
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("bridge is required")
	}
	if deps.Detector == nil {
		return nil, fmt.Errorf("change detector is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		detector:  deps.Detector,
		zones:     deps.Zones,
		mqtt:      deps.MQTT,
		publisher: deps.Publisher,
		db:        deps.DB,
		history:   deps.History,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Logger),
	}, nil
}

// Start binds the listener and serves in a background goroutine.
//
// Parameters:
//   - ctx: Parent context for the WebSocket hub
//
// Returns:
//   - error: If the address cannot be bound (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(hubCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String(), "privacy", s.cfg.Privacy)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
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

// Broadcast forwards a bridge event to WebSocket clients, applying the
// privacy setting. It implements bridge.EventSink.
func (s *Server) Broadcast(eventType string, payload any) {
	if s.cfg.Privacy {
		if ev, ok := payload.(bridge.DevicePublishedEvent); ok {
			payload = redactEvent(ev)
		}
	}
	s.hub.Broadcast(eventType, payload)
}

// redactedDeviceEvent is a device.published event without coordinates.
type redactedDeviceEvent struct {
	PassID     string           `json:"pass_id"`
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Zone       string           `json:"zone"`
	SourceType string           `json:"source_type"`
	Timestamp  findmy.Timestamp `json:"timestamp"`
}

func redactEvent(ev bridge.DevicePublishedEvent) redactedDeviceEvent {
	return redactedDeviceEvent{
		PassID:     ev.PassID,
		ID:         ev.ID,
		Name:       ev.Name,
		Zone:       ev.Zone,
		SourceType: ev.SourceType,
		Timestamp:  ev.Timestamp,
	}
}
