package config

import (
	"fmt"
	"os"
	"strings"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.port").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any rule fails. All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateBackends(cfg.Backends)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validatePool(&cfg.Pool)...)
	errs = append(errs, validateHealth(&cfg.Health)...)
	errs = append(errs, validateProxy(&cfg.Proxy)...)
	errs = append(errs, validateTLS(&cfg.TLS)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError
	if s.Port == 0 {
		errs = append(errs, FieldError{Field: "server.port", Message: "must be non-zero"})
	}
	if s.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "must not be negative"})
	}
	if s.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "must not be negative"})
	}
	return errs
}

func validateBackends(backends []BackendConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(backends))
	for i, b := range backends {
		field := fmt.Sprintf("backends[%d]", i)
		if b.Host == "" {
			errs = append(errs, FieldError{Field: field + ".host", Message: "must not be empty"})
		}
		if b.Port == 0 {
			errs = append(errs, FieldError{Field: field + ".port", Message: "must be non-zero"})
		}
		if b.Weight < 1 {
			errs = append(errs, FieldError{Field: field + ".weight", Message: "must be at least 1"})
		}
		if key := b.Key(); seen[key] {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("duplicate backend %s", key)})
		} else {
			seen[key] = true
		}
	}
	return errs
}

func validateCache(c *CacheConfig) []FieldError {
	var errs []FieldError
	if c.MaxSizeMB < 0 {
		errs = append(errs, FieldError{Field: "cache.max_size_mb", Message: "must not be negative"})
	}
	if c.TTL < 0 {
		errs = append(errs, FieldError{Field: "cache.ttl", Message: "must not be negative"})
	}
	return errs
}

func validatePool(p *PoolConfig) []FieldError {
	var errs []FieldError
	if p.SizePerBackend < 1 {
		errs = append(errs, FieldError{Field: "pool.size_per_backend", Message: "must be at least 1"})
	}
	if p.ConnectTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.connect_timeout", Message: "must be positive"})
	}
	if p.IdleTimeout <= 0 {
		errs = append(errs, FieldError{Field: "pool.idle_timeout", Message: "must be positive"})
	}
	if p.ReapInterval <= 0 {
		errs = append(errs, FieldError{Field: "pool.reap_interval", Message: "must be positive"})
	}
	return errs
}

func validateHealth(h *HealthConfig) []FieldError {
	var errs []FieldError
	if h.Interval <= 0 {
		errs = append(errs, FieldError{Field: "health.interval", Message: "must be positive"})
	}
	if h.Timeout <= 0 {
		errs = append(errs, FieldError{Field: "health.timeout", Message: "must be positive"})
	}
	if h.UnhealthyThreshold < 1 {
		errs = append(errs, FieldError{Field: "health.unhealthy_threshold", Message: "must be at least 1"})
	}
	if h.HealthyThreshold < 1 {
		errs = append(errs, FieldError{Field: "health.healthy_threshold", Message: "must be at least 1"})
	}
	if !strings.HasPrefix(h.Path, "/") {
		errs = append(errs, FieldError{Field: "health.path", Message: "must begin with /"})
	}
	return errs
}

func validateProxy(p *ProxyConfig) []FieldError {
	var errs []FieldError
	if p.RequestTimeout <= 0 {
		errs = append(errs, FieldError{Field: "proxy.request_timeout", Message: "must be positive"})
	}
	if p.StreamBufferSize < 512 {
		errs = append(errs, FieldError{Field: "proxy.stream_buffer_size", Message: "must be at least 512 bytes"})
	}
	return errs
}

func validateTLS(t *TLSConfig) []FieldError {
	if !t.Enabled {
		return nil
	}

	var errs []FieldError
	if t.CertFile == "" {
		errs = append(errs, FieldError{Field: "tls.cert_file", Message: "required when tls.enabled"})
	} else if _, err := os.Stat(t.CertFile); err != nil {
		errs = append(errs, FieldError{Field: "tls.cert_file", Message: fmt.Sprintf("not readable: %v", err)})
	}
	if t.KeyFile == "" {
		errs = append(errs, FieldError{Field: "tls.key_file", Message: "required when tls.enabled"})
	} else if _, err := os.Stat(t.KeyFile); err != nil {
		errs = append(errs, FieldError{Field: "tls.key_file", Message: fmt.Sprintf("not readable: %v", err)})
	}
	return errs
}

func validateTelemetry(t *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch t.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.level", Message: fmt.Sprintf("unknown level %q", t.Logging.Level)})
	}

	switch t.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{Field: "telemetry.logging.format", Message: fmt.Sprintf("unknown format %q", t.Logging.Format)})
	}

	switch t.Tracing.Sampler {
	case "always", "never", "ratio":
	default:
		errs = append(errs, FieldError{Field: "telemetry.tracing.sampler", Message: fmt.Sprintf("unknown sampler %q", t.Tracing.Sampler)})
	}
	if t.Tracing.SampleRatio < 0 || t.Tracing.SampleRatio > 1 {
		errs = append(errs, FieldError{Field: "telemetry.tracing.sample_ratio", Message: "must be between 0.0 and 1.0"})
	}
	if t.Tracing.Enabled && t.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "required when tracing is enabled"})
	}

	switch t.AccessLog.Storage {
	case "memory", "sqlite":
	default:
		errs = append(errs, FieldError{Field: "telemetry.access_log.storage", Message: fmt.Sprintf("unknown storage %q", t.AccessLog.Storage)})
	}

	return errs
}
