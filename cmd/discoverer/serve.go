package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/metric"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/semstreams/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/discoverer/config"
	"github.com/c360studio/discoverer/processor/discoverer"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(flags *globalFlags) *cobra.Command {
	var initConfig bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the discoverer service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), flags, initConfig)
		},
	}
	cmd.Flags().BoolVar(&initConfig, "init-config", false, "Write ~/.config/discoverer/config.yaml with defaults if missing")

	return cmd
}

func serve(ctx context.Context, flags *globalFlags, initConfig bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(flags.logLevel)
	slog.SetDefault(logger)

	loader := config.NewLoader(logger)
	if initConfig {
		if err := loader.EnsureUserConfig(); err != nil {
			return fmt.Errorf("create user config: %w", err)
		}
	}
	cfg, err := loader.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	natsClient, err := connectToNATS(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	metricsRegistry := metric.NewMetricsRegistry()

	comp, err := createDiscoverer(cfg, component.Dependencies{
		NATSClient:      natsClient,
		MetricsRegistry: metricsRegistry,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := comp.Initialize(); err != nil {
		return fmt.Errorf("initialize discoverer: %w", err)
	}
	if err := comp.Start(signalCtx); err != nil {
		return fmt.Errorf("start discoverer: %w", err)
	}

	slog.Info("Discoverer ready",
		"version", Version,
		"nats", cfg.NATS.URL,
		"journal", cfg.Journal.Backend)

	g, gctx := errgroup.WithContext(signalCtx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           metricsHandler(metricsRegistry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("Serving metrics", "addr", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Received shutdown signal")
		return nil
	})

	runErr := g.Wait()

	if err := comp.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping discoverer", "error", err)
	}

	slog.Info("Discoverer shutdown complete")
	return runErr
}

// createDiscoverer builds the discoverer through a component registry so the
// factory's config validation runs exactly as it does in a semstreams flow.
func createDiscoverer(cfg *config.Config, deps component.Dependencies) (component.LifecycleComponent, error) {
	raw, err := json.Marshal(componentConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("marshal discoverer config: %w", err)
	}

	registry := component.NewRegistry()
	if err := discoverer.Register(registry); err != nil {
		return nil, fmt.Errorf("register discoverer: %w", err)
	}

	created, err := registry.CreateComponent(appName, types.ComponentConfig{
		Type:    types.ComponentTypeProcessor,
		Name:    appName,
		Enabled: true,
		Config:  raw,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("create discoverer: %w", err)
	}

	lc, ok := created.(component.LifecycleComponent)
	if !ok {
		return nil, fmt.Errorf("discoverer does not implement lifecycle")
	}
	return lc, nil
}

// componentConfig maps the file configuration onto the processor config.
func componentConfig(cfg *config.Config) discoverer.Config {
	c := discoverer.DefaultConfig()

	setString(&c.PingPrefix, cfg.Registry.PingPrefix)
	setString(&c.DefaultLease, cfg.Registry.DefaultLease)
	setString(&c.PingTimeout, cfg.Registry.PingTimeout)
	setString(&c.SweepInterval, cfg.Registry.SweepInterval)
	setString(&c.ReconfirmWindow, cfg.Registry.ReconfirmWindow)
	setString(&c.RecoveryTTL, cfg.Registry.RecoveryTTL)
	c.SkipRecovery = cfg.Registry.SkipRecovery

	setString(&c.Journal.Backend, cfg.Journal.Backend)
	setString(&c.Journal.Path, cfg.Journal.Path)
	setString(&c.Journal.Stream, cfg.Journal.Stream)
	setString(&c.Journal.Subject, cfg.Journal.Subject)
	c.Journal.SyncWrites = cfg.Journal.SyncWrites

	c.Seed.Dir = cfg.Seed.Dir
	setString(&c.Seed.Pattern, cfg.Seed.Pattern)
	setString(&c.Seed.Debounce, cfg.Seed.Debounce)
	c.Seed.Watch = cfg.Seed.Watch

	return c
}

func setString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func metricsHandler(registry *metric.MetricsRegistry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.PrometheusRegistry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func connectToNATS(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*natsclient.Client, error) {
	natsURLs := cfg.NATS.URL
	name := cfg.NATS.Name
	if name == "" {
		name = appName
	}

	logger.Info("Connecting to NATS", "url", natsURLs)

	client, err := natsclient.NewClient(natsURLs,
		natsclient.WithName(name),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURLs)
	}

	logger.Info("Connected to NATS", "url", natsURLs)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker run -p 4222:4222 nats:latest -js

Or set %s to point to your NATS server.`, err, url, config.EnvNATSURL)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}
