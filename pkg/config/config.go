// Package config provides configuration loading, validation, and hot-reload
// for the NTONIX gateway.
//
// Configuration is layered (highest precedence first):
//  1. Command-line flag overrides (applied by cmd/ntonix)
//  2. Environment variables (NTONIX_*)
//  3. Configuration file (YAML)
//  4. Default values
//
// A Manager holds the current configuration generation and republishes a new
// one atomically on Reload. Only the backends, cache, and pool sections are
// re-read at runtime; server and TLS settings require a restart.
package config

import (
	"fmt"
	"time"
)

// BackendConfig describes one model-serving backend.
// Identity is (host, port); weight may change across reloads.
type BackendConfig struct {
	Host   string `yaml:"host"`
	Port   uint16 `yaml:"port"`
	Weight uint32 `yaml:"weight"`
}

// Key returns the "host:port" identity of the backend.
func (b BackendConfig) Key() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Addr returns the dialable address of the backend.
func (b BackendConfig) Addr() string {
	return b.Key()
}

// ServerConfig contains settings for the gateway's own listeners.
type ServerConfig struct {
	// BindAddress is the interface to listen on.
	BindAddress string `yaml:"bind_address"`

	// Port is the plaintext HTTP listener port.
	Port uint16 `yaml:"port"`

	// TLSPort is the HTTPS listener port (used only when tls.enabled).
	TLSPort uint16 `yaml:"tls_port"`

	// Threads is a worker-parallelism hint; 0 means the runtime default.
	Threads int `yaml:"threads"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// ListenAddr returns the plaintext listen address.
func (s ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// TLSListenAddr returns the TLS listen address.
func (s ServerConfig) TLSListenAddr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.TLSPort)
}

// CacheConfig contains settings for the response cache.
type CacheConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxSizeMB is the cache capacity in megabytes.
	MaxSizeMB int `yaml:"max_size_mb"`

	// TTL is the time-to-live for cached entries.
	TTL time.Duration `yaml:"ttl"`
}

// MaxSizeBytes returns the cache capacity in bytes.
func (c CacheConfig) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB) * 1024 * 1024
}

// PoolConfig contains settings for the backend connection pool.
type PoolConfig struct {
	// SizePerBackend bounds idle + in-use connections per backend.
	SizePerBackend int `yaml:"size_per_backend"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// IdleTimeout is how long a returned connection may sit idle before
	// the reaper closes it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ReapInterval is how often the idle reaper runs.
	ReapInterval time.Duration `yaml:"reap_interval"`

	EnableKeepAlive bool `yaml:"enable_keep_alive"`
}

// HealthConfig contains settings for backend health probing.
type HealthConfig struct {
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`

	// UnhealthyThreshold is the number of consecutive probe failures
	// before a Healthy backend is demoted.
	UnhealthyThreshold uint32 `yaml:"unhealthy_threshold"`

	// HealthyThreshold is the number of consecutive probe successes
	// before an Unhealthy backend is promoted.
	HealthyThreshold uint32 `yaml:"healthy_threshold"`

	// Path is the probe request target on each backend.
	Path string `yaml:"path"`
}

// ProxyConfig contains settings for request forwarding.
type ProxyConfig struct {
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	ConnectTimeout      time.Duration `yaml:"connect_timeout"`
	StreamBufferSize    int           `yaml:"stream_buffer_size"`
	StreamReadTimeout   time.Duration `yaml:"stream_read_timeout"`
	AddForwardedHeaders bool          `yaml:"add_forwarded_headers"`
}

// TLSConfig contains the optional TLS listener settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `yaml:"level"`

	// Format is the output format ("json", "text").
	Format string `yaml:"format"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// TracingConfig contains distributed tracing settings.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy: "always", "never",
	// or "ratio".
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	Endpoint string `yaml:"endpoint"`

	// ServiceName is the service name reported in traces.
	ServiceName string `yaml:"service_name"`
}

// AccessLogConfig contains access record settings.
type AccessLogConfig struct {
	Enabled bool `yaml:"enabled"`

	// Storage selects the backend: "memory" or "sqlite".
	Storage string `yaml:"storage"`

	// Path is the SQLite database file (sqlite storage only).
	Path string `yaml:"path"`

	// Buffer is the async record channel size.
	Buffer int `yaml:"buffer"`
}

// TelemetryConfig groups observability settings.
type TelemetryConfig struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
	AccessLog AccessLogConfig `yaml:"access_log"`
}

// Config is the complete gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backends  []BackendConfig `yaml:"backends"`
	Cache     CacheConfig     `yaml:"cache"`
	Pool      PoolConfig      `yaml:"pool"`
	Health    HealthConfig    `yaml:"health"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	TLS       TLSConfig       `yaml:"tls"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}
