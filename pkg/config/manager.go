package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ReloadCallback is invoked after a successful reload with the new
// configuration generation. Callbacks run on the goroutine that called
// Reload, after the new generation has been published.
type ReloadCallback func(cfg *Config)

// Manager holds the current configuration generation and coordinates
// hot reloads. Current is safe to call from any goroutine; it returns an
// immutable snapshot that remains valid even if a reload replaces it.
//
// Only the backends, cache, and pool sections are picked up from the file
// on Reload; listener and TLS settings keep the values the process
// started with.
type Manager struct {
	path string

	current atomic.Pointer[Config]

	mu        sync.Mutex
	callbacks []ReloadCallback
	logger    *slog.Logger
}

// NewManager creates a configuration manager for the given file path.
// The initial configuration must already be loaded; Manager does not load
// on construction.
func NewManager(path string, initial *Config) *Manager {
	m := &Manager{
		path:   path,
		logger: slog.Default().With("component", "config"),
	}
	m.current.Store(initial)
	return m
}

// Current returns the current configuration generation.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Path returns the configuration file path.
func (m *Manager) Path() string {
	return m.path
}

// OnReload registers a callback to run after each successful reload.
func (m *Manager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Reload re-reads the configuration file and publishes a new generation.
// On any load or validation error the existing configuration stays in
// place and the error is returned; in-flight work is never disturbed.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	loaded, err := LoadConfigWithEnvOverrides(m.path)
	if err != nil {
		m.logger.Error("configuration reload failed, keeping current configuration",
			"path", m.path,
			"error", err,
		)
		return fmt.Errorf("reload %q: %w", m.path, err)
	}

	old := m.current.Load()

	// Backends, cache, and pool come from the file; every other section
	// is restart-only and carries over from the running config.
	next := *loaded
	next.Server = old.Server
	next.TLS = old.TLS
	next.Health = old.Health
	next.Proxy = old.Proxy
	next.Telemetry = old.Telemetry

	m.current.Store(&next)

	m.logger.Info("configuration reloaded",
		"path", m.path,
		"backends", len(next.Backends),
		"cache_enabled", next.Cache.Enabled,
	)

	for _, cb := range m.callbacks {
		cb(&next)
	}

	return nil
}
