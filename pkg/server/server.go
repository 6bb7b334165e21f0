// Package server assembles the gateway: HTTP listeners, routes, the
// forwarding pipeline, and process lifecycle (signals, reload, graceful
// shutdown).
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"ntonix-ai/ntonix/pkg/accesslog"
	"ntonix-ai/ntonix/pkg/balancer"
	"ntonix-ai/ntonix/pkg/cache"
	"ntonix-ai/ntonix/pkg/config"
	"ntonix-ai/ntonix/pkg/pool"
	"ntonix-ai/ntonix/pkg/proxy"
	"ntonix-ai/ntonix/pkg/proxy/middleware"
	"ntonix-ai/ntonix/pkg/telemetry/metrics"
	"ntonix-ai/ntonix/pkg/telemetry/tracing"
)

// Version is the gateway version reported on the identity endpoint.
const Version = "0.1.0"

// Server is the NTONIX gateway.
type Server struct {
	cfgManager *config.Manager

	cache      *cache.LRU
	tracker    *balancer.Tracker
	dispatcher *balancer.Dispatcher
	pools      *pool.Manager
	forwarder  *proxy.Forwarder
	collector  *metrics.Collector
	recorder   *accesslog.Recorder
	tracer     *tracing.Tracer

	httpServer *http.Server

	shutdownOnce sync.Once
	shutdownChan chan struct{}

	mu        sync.RWMutex
	isRunning bool

	logger *slog.Logger
}

// New wires the gateway subsystems from the manager's current
// configuration and registers the reload fan-out. recorder may be nil
// when access logging is disabled; tracer may be nil, in which case a
// disabled (noop) tracer is used.
func New(cfgManager *config.Manager, collector *metrics.Collector, recorder *accesslog.Recorder, tracer *tracing.Tracer) *Server {
	cfg := cfgManager.Current()

	if tracer == nil {
		// A disabled tracer cannot fail to construct.
		tracer, _ = tracing.New(context.Background(), config.TracingConfig{})
	}

	tracker := balancer.NewTracker(cfg.Health)
	tracker.Reconfigure(cfg.Backends)

	dispatcher := balancer.NewDispatcher(tracker, cfg.Backends)
	pools := pool.NewManager(cfg.Pool, cfg.Backends)

	s := &Server{
		cfgManager:   cfgManager,
		cache:        cache.NewLRU(cfg.Cache.MaxSizeBytes(), cfg.Cache.TTL),
		tracker:      tracker,
		dispatcher:   dispatcher,
		pools:        pools,
		forwarder:    proxy.NewForwarder(pools, cfg.Proxy),
		collector:    collector,
		recorder:     recorder,
		tracer:       tracer,
		shutdownChan: make(chan struct{}),
		logger:       slog.Default().With("component", "server"),
	}

	// Dispatch eligibility reacts to health transitions through the
	// tracker itself; the callback keeps the metrics gauge current.
	tracker.OnStateChange(func(b config.BackendConfig, from, to balancer.State) {
		collector.BackendHealthChanged(b.Key(), to == balancer.Healthy)
	})
	for _, b := range cfg.Backends {
		collector.BackendHealthChanged(b.Key(), true)
	}

	// Reload is delivered to the tracker, dispatcher, pools, and cache
	// as one generation; in-flight requests keep the views they hold.
	cfgManager.OnReload(func(next *config.Config) {
		s.tracker.Reconfigure(next.Backends)
		s.dispatcher.Reconfigure(next.Backends)
		s.pools.Reconfigure(next.Backends)
		s.cache.Reconfigure(next.Cache.MaxSizeBytes(), next.Cache.TTL)
	})

	return s
}

// Start runs the gateway until the context is cancelled or a shutdown
// signal arrives. It starts the health prober, the pool reaper, and the
// HTTP listener, then blocks.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	cfg := s.cfgManager.Current()

	proberCtx, cancelProber := context.WithCancel(context.Background())
	defer cancelProber()
	prober := balancer.NewProber(s.tracker, cfg.Health)
	go prober.Run(proberCtx)

	if err := s.pools.StartReaper(); err != nil {
		return fmt.Errorf("failed to start pool reaper: %w", err)
	}

	handler := s.routes()

	s.httpServer = &http.Server{
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	errChan := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLS.Enabled {
			s.httpServer.Addr = cfg.Server.TLSListenAddr()
			s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			s.logger.Info("starting gateway",
				"address", s.httpServer.Addr,
				"tls_enabled", true,
			)
			err = s.httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			s.httpServer.Addr = cfg.Server.ListenAddr()
			s.logger.Info("starting gateway",
				"address", s.httpServer.Addr,
				"tls_enabled", false,
			)
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, initiating shutdown")
			return s.Shutdown(context.Background())

		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				s.logger.Info("received SIGHUP, reloading configuration")
				if err := s.cfgManager.Reload(); err != nil {
					s.logger.Warn("reload failed, continuing with current configuration", "error", err)
				}
				continue
			}
			s.logger.Info("received shutdown signal", "signal", sig.String())
			return s.Shutdown(context.Background())

		case err := <-errChan:
			return err

		case <-s.shutdownChan:
			return s.Shutdown(context.Background())
		}
	}
}

// Shutdown stops accepting connections and drains outstanding handlers
// against the configured shutdown timeout, then stops the background
// loops.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		cfg := s.cfgManager.Current()
		s.logger.Info("initiating graceful shutdown", "timeout", cfg.Server.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.pools.Close()

		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				s.logger.Error("error closing access log", "error", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("gateway stopped")
	})

	return shutdownErr
}

// RequestShutdown asks a running Start loop to shut down.
func (s *Server) RequestShutdown() {
	select {
	case s.shutdownChan <- struct{}{}:
	default:
	}
}

// IsRunning reports whether Start is active.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Handler returns the configured HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// routes builds the route table and middleware chain.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIdentity)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/cache/stats", s.handleCacheStats)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/prometheus", s.handlePrometheus)
	mux.HandleFunc("/backends", s.handleBackends)
	mux.HandleFunc("/v1/chat/completions", s.handleChatCompletions)

	var handler http.Handler = mux
	handler = middleware.RequestID(handler)
	handler = middleware.Logging(handler)
	handler = middleware.Recovery(handler)
	return handler
}
