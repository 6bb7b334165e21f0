package config

import "time"

// Default values for configuration fields.
const (
	// Server defaults
	DefaultBindAddress     = "0.0.0.0"
	DefaultPort            = uint16(8080)
	DefaultTLSPort         = uint16(8443)
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 0 // no write deadline; streaming responses are open-ended
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB

	// Cache defaults
	DefaultCacheEnabled   = true
	DefaultCacheMaxSizeMB = 512
	DefaultCacheTTL       = time.Hour

	// Pool defaults
	DefaultPoolSizePerBackend  = 32
	DefaultPoolConnectTimeout  = 5 * time.Second
	DefaultPoolIdleTimeout     = 90 * time.Second
	DefaultPoolReapInterval    = 30 * time.Second
	DefaultPoolEnableKeepAlive = true

	// Health defaults
	DefaultHealthInterval           = 5 * time.Second
	DefaultHealthTimeout            = 2 * time.Second
	DefaultHealthUnhealthyThreshold = uint32(3)
	DefaultHealthHealthyThreshold   = uint32(2)
	DefaultHealthPath               = "/health"

	// Proxy defaults
	DefaultRequestTimeout    = 60 * time.Second
	DefaultStreamBufferSize  = 8192
	DefaultStreamReadTimeout = 120 * time.Second

	// Telemetry defaults
	DefaultLoggingLevel     = "info"
	DefaultLoggingFormat    = "json"
	DefaultMetricsEnabled   = true
	DefaultMetricsNamespace = "ntonix"
	DefaultMetricsSubsystem = "gateway"
	DefaultTracingEnabled   = false
	DefaultTracingSampler   = "ratio"
	DefaultTracingRatio     = 0.1
	DefaultTracingEndpoint  = "localhost:4317"
	DefaultTracingService   = "ntonix"
	DefaultAccessLogStorage = "memory"
	DefaultAccessLogPath    = "data/access.db"
	DefaultAccessLogBuffer  = 1000

	// Backend defaults
	DefaultBackendWeight = uint32(1)
)

// ApplyDefaults fills in default values for any unset configuration fields.
// It is called after YAML parsing and before validation.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = DefaultBindAddress
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.TLSPort == 0 {
		cfg.Server.TLSPort = DefaultTLSPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}

	for i := range cfg.Backends {
		if cfg.Backends[i].Weight == 0 {
			cfg.Backends[i].Weight = DefaultBackendWeight
		}
	}

	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = DefaultCacheMaxSizeMB
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}

	if cfg.Pool.SizePerBackend == 0 {
		cfg.Pool.SizePerBackend = DefaultPoolSizePerBackend
	}
	if cfg.Pool.ConnectTimeout == 0 {
		cfg.Pool.ConnectTimeout = DefaultPoolConnectTimeout
	}
	if cfg.Pool.IdleTimeout == 0 {
		cfg.Pool.IdleTimeout = DefaultPoolIdleTimeout
	}
	if cfg.Pool.ReapInterval == 0 {
		cfg.Pool.ReapInterval = DefaultPoolReapInterval
	}

	if cfg.Health.Interval == 0 {
		cfg.Health.Interval = DefaultHealthInterval
	}
	if cfg.Health.Timeout == 0 {
		cfg.Health.Timeout = DefaultHealthTimeout
	}
	if cfg.Health.UnhealthyThreshold == 0 {
		cfg.Health.UnhealthyThreshold = DefaultHealthUnhealthyThreshold
	}
	if cfg.Health.HealthyThreshold == 0 {
		cfg.Health.HealthyThreshold = DefaultHealthHealthyThreshold
	}
	if cfg.Health.Path == "" {
		cfg.Health.Path = DefaultHealthPath
	}

	if cfg.Proxy.RequestTimeout == 0 {
		cfg.Proxy.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Proxy.ConnectTimeout == 0 {
		cfg.Proxy.ConnectTimeout = DefaultPoolConnectTimeout
	}
	if cfg.Proxy.StreamBufferSize == 0 {
		cfg.Proxy.StreamBufferSize = DefaultStreamBufferSize
	}
	if cfg.Proxy.StreamReadTimeout == 0 {
		cfg.Proxy.StreamReadTimeout = DefaultStreamReadTimeout
	}

	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
	}
	if cfg.Telemetry.Tracing.SampleRatio == 0 {
		cfg.Telemetry.Tracing.SampleRatio = DefaultTracingRatio
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}
	if cfg.Telemetry.AccessLog.Storage == "" {
		cfg.Telemetry.AccessLog.Storage = DefaultAccessLogStorage
	}
	if cfg.Telemetry.AccessLog.Path == "" {
		cfg.Telemetry.AccessLog.Path = DefaultAccessLogPath
	}
	if cfg.Telemetry.AccessLog.Buffer == 0 {
		cfg.Telemetry.AccessLog.Buffer = DefaultAccessLogBuffer
	}
}

// DefaultConfig returns a configuration with all defaults applied and no
// backends. Useful for tests and for generating sample configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Cache: CacheConfig{Enabled: DefaultCacheEnabled},
		Pool:  PoolConfig{EnableKeepAlive: DefaultPoolEnableKeepAlive},
		Proxy: ProxyConfig{AddForwardedHeaders: true},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
