package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"
	"github.com/jkaninda/toolgate/internal/config"
	"github.com/jkaninda/toolgate/internal/gatekeeper"
	"github.com/jkaninda/toolgate/internal/gateway"
	"github.com/jkaninda/toolgate/internal/gateway/httpapi"
	"github.com/jkaninda/toolgate/internal/gateway/mcpserver"
	"github.com/jkaninda/toolgate/internal/observability"
	"github.com/jkaninda/toolgate/internal/ratelimit"
	"github.com/jkaninda/toolgate/internal/registry"
	"github.com/jkaninda/toolgate/internal/sandbox"
)

var (
	serveConfigPath string
	servePort       string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway (HTTP and, if enabled, MCP over SSE)",
	RunE:  runServe,
}

func init() {
	// Register flags on both root and serve so that
	// `toolgate --config path` and `toolgate serve --config path` both work.
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&serveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
		cmd.Flags().StringVar(&servePort, "port", "", "override HTTP listen address (e.g. :5000)")
	}
}

// runServe starts the gateway transports and blocks until a signal or a
// gateway failure.
func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(goutils.Env("TOOLGATE_CONFIG", serveConfigPath))
	if err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	// Apply CLI overrides.
	if servePort != "" {
		if cfg.Gateways.HTTP == nil {
			cfg.Gateways.HTTP = &config.HTTPGatewayConfig{Enabled: true}
		}
		cfg.Gateways.HTTP.ListenAddr = servePort
	}

	logger.Info("starting toolgate",
		slog.String("version", version),
		slog.String("config", serveConfigPath),
	)

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}

	// Signal-aware context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateways := buildGateways(cfg, sc)
	if len(gateways) == 0 {
		return fmt.Errorf("no gateways enabled in config")
	}
	logger.Info("gateways configured", slog.Int("count", len(gateways)))

	// Start all gateways in goroutines.
	errs := make(chan error, len(gateways))
	for _, gw := range gateways {
		go func(g gateway.Gateway) {
			errs <- g.Start(ctx)
		}(gw)
	}

	// Wait for signal or first gateway error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errs:
		if err != nil {
			logger.Error("gateway exited with error", slog.String("error", err.Error()))
		}
	}

	// Graceful shutdown with deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := len(gateways) - 1; i >= 0; i-- {
		if err := gateways[i].Stop(shutdownCtx); err != nil {
			logger.Error("stopping gateway", slog.String("error", err.Error()))
		}
	}
	sc.Obs.Shutdown(shutdownCtx)

	return nil
}

// newLogger builds the process logger: JSON to stderr at the configured
// level, so stdout stays free for the MCP stdio transport.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// SharedComponents holds everything both transports depend on.
type SharedComponents struct {
	Registry *registry.Registry
	Runner   observability.Runner
	Obs      *observability.Observability
	Logger   *slog.Logger
}

// initShared wires the registry, sandbox, gatekeeper, and observability.
func initShared(cfg *config.Config, logger *slog.Logger) (*SharedComponents, error) {
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Execution.AllowedTools(), logger)

	sb := sandbox.NewBuilder(sandbox.Config{
		Root:     cfg.Sandbox.Root(),
		ScrubEnv: cfg.Sandbox.IsEnabled(),
	}, logger)

	gk := gatekeeper.New(reg, sb, gatekeeper.Limits{
		MaxTimeout:     cfg.Execution.MaxTimeout(),
		DefaultTimeout: cfg.Execution.DefaultTimeout(),
		OutputCap:      cfg.Execution.OutputCap(),
	}, logger)

	runner := observability.NewInstrumentedRunner(gk, obs.MetricsOrNil(), obs.TracerOrNil())

	if hc := obs.HealthOrNil(); hc != nil {
		hc.AddCheck("sandbox_root", func(ctx context.Context) error {
			_, err := sb.Build("")
			return err
		})
		hc.AddCheck("tools_available", func(ctx context.Context) error {
			for _, e := range reg.List() {
				if e.Available {
					return nil
				}
			}
			return fmt.Errorf("none of the %d allow-listed tools is installed", reg.Len())
		})
	}

	logger.Info("gatekeeper initialized",
		slog.Int("allowed_tools", reg.Len()),
		slog.String("sandbox_root", sb.Root()),
		slog.Bool("env_scrubbing", cfg.Sandbox.IsEnabled()),
	)

	return &SharedComponents{
		Registry: reg,
		Runner:   runner,
		Obs:      obs,
		Logger:   logger,
	}, nil
}

// buildGateways creates the enabled transports. With no gateways section
// at all, the HTTP gateway runs on its default address.
func buildGateways(cfg *config.Config, sc *SharedComponents) []gateway.Gateway {
	var gateways []gateway.Gateway

	httpCfg := cfg.Gateways.HTTP
	if httpCfg == nil {
		httpCfg = &config.HTTPGatewayConfig{Enabled: true}
	}
	if httpCfg.Enabled {
		var limiter *ratelimit.Limiter
		if httpCfg.RateLimit.RequestsPerMinute > 0 {
			limiter = ratelimit.New(ratelimit.Config{
				RequestsPerMinute: httpCfg.RateLimit.RequestsPerMinute,
				BurstSize:         httpCfg.RateLimit.BurstSize,
			})
		}

		gwCfg := httpapi.Config{
			ListenAddr:     httpCfg.Addr(),
			ServerVersion:  version,
			EnableDocs:     httpCfg.EnableDocs,
			APIKeys:        httpCfg.APIKeyUserMapping,
			MaxRequestSize: httpCfg.MaxRequestSize(),
			EnableCORS:     httpCfg.CORSEnabled(),
			CORSOrigins:    httpCfg.AllowedOrigins(),
			HealthChecker:  sc.Obs.HealthOrNil(),
		}
		if m := sc.Obs.MetricsOrNil(); m != nil {
			gwCfg.MetricsRegistry = m.Registry
			gwCfg.Metrics = m
			if cfg.Observability != nil && cfg.Observability.Metrics != nil {
				gwCfg.MetricsPath = cfg.Observability.Metrics.Path
			}
		}
		if ts := sc.Obs.TracerOrNil(); ts != nil {
			gwCfg.Tracer = ts.Tracer()
		}

		gateways = append(gateways, httpapi.NewGateway(gwCfg, sc.Runner, sc.Registry, limiter, sc.Logger))
	}

	if mcpCfg := cfg.Gateways.MCP; mcpCfg != nil && mcpCfg.Enabled {
		gateways = append(gateways, mcpserver.NewServer(mcpserver.Config{
			ServerVersion: version,
			ListenAddr:    mcpCfg.Addr(),
			BaseURL:       mcpCfg.BaseURL,
		}, sc.Runner, sc.Registry, sc.Logger))
	}

	return gateways
}
