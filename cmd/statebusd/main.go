// Package main implements the entry point for statebusd, the state bus
// daemon. It hosts the in-process data bus, syncs mounted resources from
// NATS delta subjects with JetStream KV snapshot recovery, and fans state
// out to WebSocket clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dzearing/ai-experiments-sub014/bus"
	"github.com/dzearing/ai-experiments-sub014/config"
	"github.com/dzearing/ai-experiments-sub014/gateway"
	"github.com/dzearing/ai-experiments-sub014/metric"
	"github.com/dzearing/ai-experiments-sub014/natsclient"
	"github.com/dzearing/ai-experiments-sub014/syncer"
	"github.com/dzearing/ai-experiments-sub014/version"
)

const (
	Version = "0.1.0"
	appName = "statebusd"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// CLI flags and env override the file.
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("Starting state bus daemon",
		"version", Version,
		"config_path", cliCfg.ConfigPath,
		"resources", len(cfg.Resources))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runDaemon(ctx, cfg, logger, cliCfg.ShutdownTimeout)
}

func runDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger, shutdownTimeout time.Duration) error {
	registry := metric.NewRegistry()
	metrics := registry.CoreMetrics()

	stateBus := bus.New(logger, metrics)
	defer func() {
		if err := stateBus.Dispose(); err != nil {
			logger.Warn("Bus dispose failed", "error", err)
		}
	}()

	client, err := natsclient.NewClient(cfg.NATS.URL,
		natsclient.WithName(cfg.NATS.Name),
		natsclient.WithToken(cfg.NATS.Token),
		natsclient.WithTimeout(cfg.NATS.Timeout),
		natsclient.WithLogger(logger),
		natsclient.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(); err != nil {
		return fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer client.Close()

	bucket, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Sync.SnapshotBucket,
		Description: "state bus resource snapshots",
	})
	if err != nil {
		return fmt.Errorf("open snapshot bucket %s: %w", cfg.Sync.SnapshotBucket, err)
	}
	snapshots, err := syncer.NewKVSnapshotStore(bucket)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}

	stateSync, err := syncer.New(syncer.Config{
		Bus:           stateBus,
		Tracker:       version.NewTracker(logger),
		Snapshots:     snapshots,
		Client:        client,
		SubjectPrefix: cfg.Sync.SubjectPrefix,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}
	for _, r := range cfg.Resources {
		if err := stateSync.Mount(r.Key, r.Path); err != nil {
			return fmt.Errorf("mount resource %s: %w", r.Key, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(cfg.Resources) > 0 {
		g.Go(func() error {
			return stateSync.Run(gctx)
		})
	}

	if cfg.Gateway.Enabled {
		gw, err := gateway.NewServer(gateway.Config{
			Addr:        cfg.Gateway.Addr,
			Bus:         stateBus,
			Logger:      logger,
			Metrics:     metrics,
			RateLimit:   rate.Limit(cfg.Gateway.RateLimit),
			RateBurst:   cfg.Gateway.RateBurst,
			StopTimeout: shutdownTimeout,
		})
		if err != nil {
			return fmt.Errorf("create gateway: %w", err)
		}
		g.Go(func() error {
			return gw.Start(gctx)
		})
	}

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry)
		g.Go(func() error {
			return metricsServer.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return metricsServer.Stop()
		})
	}

	logger.Info("Daemon running")
	err = g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("Daemon stopped")
	return nil
}
