package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ntonix-ai/ntonix/pkg/accesslog"
	"ntonix-ai/ntonix/pkg/config"
	"ntonix-ai/ntonix/pkg/server"
	"ntonix-ai/ntonix/pkg/telemetry/logging"
	"ntonix-ai/ntonix/pkg/telemetry/metrics"
	"ntonix-ai/ntonix/pkg/telemetry/tracing"
)

var runFlags struct {
	bindAddress string
	port        int
	logLevel    string
	watchConfig bool
	dryRun      bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the NTONIX gateway",
	Long: `Start the gateway with the specified configuration.

The gateway listens on the configured address, proxies LLM API requests
to the healthy backend fleet, and serves cache, metrics, and backend
introspection endpoints.

Examples:
  # Start with default config
  ntonix run

  # Start with custom config
  ntonix run --config /etc/ntonix/ntonix.yaml

  # Override the listen port
  ntonix run --port 9090

  # Validate config without starting
  ntonix run --dry-run`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.bindAddress, "bind", "b", "", "override bind address")
	runCmd.Flags().IntVarP(&runFlags.port, "port", "p", 0, "override listen port")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watchConfig, "watch-config", false, "reload when the config file changes (in addition to SIGHUP)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting the gateway")
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Apply flag overrides.
	if runFlags.bindAddress != "" {
		cfg.Server.BindAddress = runFlags.bindAddress
	}
	if runFlags.port > 0 {
		if runFlags.port > 65535 {
			return fmt.Errorf("invalid port %d", runFlags.port)
		}
		cfg.Server.Port = uint16(runFlags.port)
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	if _, err := logging.Setup(cfg.Telemetry.Logging, nil); err != nil {
		return fmt.Errorf("failed to configure logging: %w", err)
	}

	if runFlags.dryRun {
		fmt.Println("✓ Configuration valid")
		return nil
	}

	printBanner(cfg)

	manager := config.NewManager(cfgFile, cfg)
	collector := metrics.NewCollector(cfg.Telemetry.Metrics)

	tracer, err := tracing.New(cmd.Context(), cfg.Telemetry.Tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()
	if tracer.Enabled() {
		slog.Info("distributed tracing enabled",
			"endpoint", cfg.Telemetry.Tracing.Endpoint,
			"sampler", cfg.Telemetry.Tracing.Sampler,
		)
	}

	var recorder *accesslog.Recorder
	if cfg.Telemetry.AccessLog.Enabled {
		storage, err := newAccessLogStorage(cfg.Telemetry.AccessLog)
		if err != nil {
			return fmt.Errorf("failed to initialize access log: %w", err)
		}
		recorder = accesslog.NewRecorder(storage, cfg.Telemetry.AccessLog.Buffer)
	}

	gw := server.New(manager, collector, recorder, tracer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if runFlags.watchConfig {
		watcher := config.NewWatcher(manager, 0)
		go func() {
			if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Warn("config watcher exited", "error", err)
			}
		}()
	}

	return gw.Start(ctx)
}

// newAccessLogStorage builds the configured access log backend.
func newAccessLogStorage(cfg config.AccessLogConfig) (accesslog.Storage, error) {
	switch cfg.Storage {
	case "sqlite":
		return accesslog.NewSQLiteStorage(cfg.Path)
	case "memory", "":
		return accesslog.NewMemoryStorage(4096), nil
	default:
		return nil, fmt.Errorf("unknown access log storage %q", cfg.Storage)
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf("NTONIX AI Inference Gateway v%s\n", Version)
	fmt.Printf("  listen:   %s\n", cfg.Server.ListenAddr())
	if cfg.TLS.Enabled {
		fmt.Printf("  tls:      %s\n", cfg.Server.TLSListenAddr())
	}
	fmt.Printf("  backends: %d\n", len(cfg.Backends))
	for _, b := range cfg.Backends {
		fmt.Printf("    - %s (weight=%d)\n", b.Key(), b.Weight)
	}
	if cfg.Cache.Enabled {
		fmt.Printf("  cache:    %dMB, ttl=%s\n", cfg.Cache.MaxSizeMB, cfg.Cache.TTL)
	} else {
		fmt.Println("  cache:    disabled")
	}
}
