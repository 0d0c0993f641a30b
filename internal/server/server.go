// Package server assembles the bridge process: provider, controller, host
// transports, event webhook and the HTTP surface they are served on.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/zlc_ai/messaging-bridge/internal/bridge"
	"github.com/zlc_ai/messaging-bridge/internal/config"
	"github.com/zlc_ai/messaging-bridge/internal/eventhook"
	"github.com/zlc_ai/messaging-bridge/internal/protocol"
	"github.com/zlc_ai/messaging-bridge/internal/provider"
	"github.com/zlc_ai/messaging-bridge/internal/transport"
)

const (
	maxGoroutines    = 10000
	readinessTimeout = time.Second
)

// Server is a configured bridge process.
type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	version string

	registry   *prometheus.Registry
	mux        *http.ServeMux
	health     healthcheck.Handler
	httpServer *http.Server

	provider   provider.Provider
	controller *bridge.Controller
	transports *transport.Group
	ws         *transport.WebSocketServer
	polling    *transport.PollingServer
	hook       *eventhook.Notifier

	startedAt time.Time
}

// New builds a server from cfg. Nothing is started.
func New(cfg *config.Config, logger *zap.Logger, version string) (*Server, error) {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		registry: prometheus.NewRegistry(),
		mux:      http.NewServeMux(),
	}
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	p, err := provider.New(cfg.Bridge.Provider, provider.Settings{
		Platform: cfg.Bridge.Platform,
		Options:  cfg.Sandbox,
		Logger:   logger,
		Control:  s.mux,
	})
	if err != nil {
		return nil, fmt.Errorf("create provider: %w", err)
	}
	s.provider = p

	s.transports = transport.NewGroup(logger)
	s.controller = bridge.New(bridge.Config{
		CommandTimeout: cfg.Bridge.CommandTimeout,
		Presentation:   provider.PresentationStyle(cfg.Bridge.PresentationStyle),
	}, p, s.transports, logger, bridge.WithMetrics(bridge.NewMetrics(s.registry)))

	if cfg.Transport.WebSocket.Enabled {
		s.ws = transport.NewWebSocketServer(transport.WebSocketConfig{
			WriteTimeout:   cfg.Transport.WebSocket.WriteTimeout,
			MaxMessageSize: cfg.Transport.WebSocket.MaxMessageSize,
		}, s.controller, logger)
		s.transports.Add(s.ws)
		s.mux.Handle(cfg.Server.WebSocketPath, s.ws.HTTPHandler())
		logger.Info("WebSocket endpoint registered", zap.String("path", cfg.Server.WebSocketPath))
	}

	if cfg.Transport.Polling.Enabled {
		s.polling = transport.NewPollingServer(cfg.Transport.Polling.MaxBuffered, s.controller, logger)
		s.transports.Add(s.polling)
		s.mux.Handle(cfg.Transport.Polling.Path+"/command", s.polling.CommandHandler())
		s.mux.Handle(cfg.Transport.Polling.Path+"/events", s.polling.EventsHandler())
		logger.Info("Polling endpoints registered", zap.String("path", cfg.Transport.Polling.Path))
	}

	if cfg.EventHook.Enabled {
		s.hook = eventhook.NewNotifier(eventhook.Config{
			URL:             cfg.EventHook.URL,
			AuthHeader:      cfg.EventHook.AuthHeader,
			Timeout:         cfg.EventHook.Timeout,
			MaxRetries:      cfg.EventHook.MaxRetries,
			QueueSize:       cfg.EventHook.QueueSize,
			InitialInterval: cfg.EventHook.InitialInterval,
			MaxInterval:     cfg.EventHook.MaxInterval,
		}, logger)
		s.transports.Add(s.hook)
		logger.Info("Event webhook registered", zap.String("url", cfg.EventHook.URL))
	}

	s.health = healthcheck.NewMetricsHandler(s.registry, "bridge")
	s.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	s.health.AddReadinessCheck("mainloop", healthcheck.Timeout(s.loopResponsive, readinessTimeout))
	s.mux.HandleFunc("/live", s.health.LiveEndpoint)
	s.mux.HandleFunc("/ready", s.health.ReadyEndpoint)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/info", s.handleInfo)
	if cfg.Observability.MetricsPath != "" {
		s.mux.Handle(cfg.Observability.MetricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Handler returns the HTTP handler serving every endpoint.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Controller returns the bridge controller.
func (s *Server) Controller() *bridge.Controller {
	return s.controller
}

// Start starts the controller and transports, then initializes messaging
// when a channel key is configured.
func (s *Server) Start(ctx context.Context) error {
	s.startedAt = time.Now()
	s.controller.Start()
	if err := s.transports.Start(ctx); err != nil {
		return multierr.Append(err, s.controller.Stop(ctx))
	}

	if key := s.cfg.Bridge.ChannelKey; key != "" {
		resp := s.controller.Handle(ctx, protocol.NewCommand(protocol.MethodInitialize, protocol.Args{"channelKey": key}))
		if resp.Error != nil {
			s.logger.Error("Auto-initialize failed", zap.Error(resp.Error))
		} else {
			s.logger.Info("Auto-initialize requested")
		}
	}
	return nil
}

// Serve accepts HTTP connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("HTTP server starting", zap.String("addr", l.Addr().String()))
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on the configured port and serves until Shutdown.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting requests, tears the bridge down and stops every
// transport. All failures are returned together.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if shutdownErr := s.httpServer.Shutdown(ctx); shutdownErr != nil {
		err = multierr.Append(err, fmt.Errorf("http server: %w", shutdownErr))
	}
	if stopErr := s.controller.Stop(ctx); stopErr != nil {
		err = multierr.Append(err, fmt.Errorf("controller: %w", stopErr))
	}
	if stopErr := s.transports.Stop(ctx); stopErr != nil {
		err = multierr.Append(err, fmt.Errorf("transports: %w", stopErr))
	}
	return err
}

// loopResponsive fails when the controller loop has stopped or is wedged.
func (s *Server) loopResponsive() error {
	ctx, cancel := context.WithTimeout(context.Background(), readinessTimeout)
	defer cancel()
	return s.controller.Sync(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.controller.Snapshot(r.Context())
	if err != nil {
		http.Error(w, "Bridge unavailable", http.StatusServiceUnavailable)
		return
	}
	listenerState, err := s.controller.ListenerState(r.Context())
	if err != nil {
		http.Error(w, "Bridge unavailable", http.StatusServiceUnavailable)
		return
	}

	transports := map[string]interface{}{}
	if s.ws != nil {
		transports["websocket"] = map[string]interface{}{
			"path":        s.cfg.Server.WebSocketPath,
			"connections": s.ws.ConnectionCount(),
		}
	}
	if s.polling != nil {
		transports["polling"] = map[string]interface{}{
			"path":      s.cfg.Transport.Polling.Path,
			"queueSize": s.polling.QueueSize(),
		}
	}
	if s.hook != nil {
		transports["eventhook"] = map[string]interface{}{
			"delivered": s.hook.Delivered(),
			"failed":    s.hook.Failed(),
			"dropped":   s.hook.Dropped(),
		}
	}

	writeJSON(w, map[string]interface{}{
		"name":       "Messaging Bridge",
		"version":    s.version,
		"provider":   s.cfg.Bridge.Provider,
		"adapter":    s.provider.Name(),
		"platform":   s.cfg.Bridge.Platform,
		"state":      snap,
		"listener":   listenerState.String(),
		"transports": transports,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
