package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any
// errors. Environment variables are not consulted; use
// LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention NTONIX_SECTION_FIELD (e.g., NTONIX_SERVER_PORT) and always take
// precedence over file-based configuration.
//
// The loading sequence is:
//  1. Load YAML from file (applies defaults)
//  2. Apply environment variable overrides
//  3. Validate the final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration invalid after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies NTONIX_* environment variable overrides.
func applyEnvOverrides(cfg *Config) {
	envString("NTONIX_SERVER_BIND_ADDRESS", &cfg.Server.BindAddress)
	envPort("NTONIX_SERVER_PORT", &cfg.Server.Port)
	envPort("NTONIX_SERVER_TLS_PORT", &cfg.Server.TLSPort)
	envInt("NTONIX_SERVER_THREADS", &cfg.Server.Threads)
	envDuration("NTONIX_SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("NTONIX_SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("NTONIX_SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("NTONIX_SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	envBool("NTONIX_CACHE_ENABLED", &cfg.Cache.Enabled)
	envInt("NTONIX_CACHE_MAX_SIZE_MB", &cfg.Cache.MaxSizeMB)
	envDuration("NTONIX_CACHE_TTL", &cfg.Cache.TTL)

	envInt("NTONIX_POOL_SIZE_PER_BACKEND", &cfg.Pool.SizePerBackend)
	envDuration("NTONIX_POOL_CONNECT_TIMEOUT", &cfg.Pool.ConnectTimeout)
	envDuration("NTONIX_POOL_IDLE_TIMEOUT", &cfg.Pool.IdleTimeout)
	envDuration("NTONIX_POOL_REAP_INTERVAL", &cfg.Pool.ReapInterval)

	envDuration("NTONIX_HEALTH_INTERVAL", &cfg.Health.Interval)
	envDuration("NTONIX_HEALTH_TIMEOUT", &cfg.Health.Timeout)

	envDuration("NTONIX_PROXY_REQUEST_TIMEOUT", &cfg.Proxy.RequestTimeout)
	envInt("NTONIX_PROXY_STREAM_BUFFER_SIZE", &cfg.Proxy.StreamBufferSize)

	envBool("NTONIX_TLS_ENABLED", &cfg.TLS.Enabled)
	envString("NTONIX_TLS_CERT_FILE", &cfg.TLS.CertFile)
	envString("NTONIX_TLS_KEY_FILE", &cfg.TLS.KeyFile)

	envString("NTONIX_LOG_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("NTONIX_LOG_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("NTONIX_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envBool("NTONIX_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("NTONIX_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
	envFloat("NTONIX_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)
	envString("NTONIX_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envBool("NTONIX_ACCESS_LOG_ENABLED", &cfg.Telemetry.AccessLog.Enabled)
	envString("NTONIX_ACCESS_LOG_STORAGE", &cfg.Telemetry.AccessLog.Storage)
	envString("NTONIX_ACCESS_LOG_PATH", &cfg.Telemetry.AccessLog.Path)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envPort(name string, dst *uint16) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.ParseUint(val, 10, 16); err == nil {
			*dst = uint16(i)
		}
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
