package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/akamensky/argparse"

	"zoneguard/internal/alerts"
	"zoneguard/internal/api"
	"zoneguard/internal/config"
	"zoneguard/internal/ingest"
	"zoneguard/internal/logging"
	"zoneguard/internal/metrics"
	"zoneguard/internal/model"
	"zoneguard/internal/notify"
	"zoneguard/internal/pipeline"
	"zoneguard/internal/registry"
	"zoneguard/internal/storage"
)

var version = "dev"

func main() {
	parser := argparse.NewParser("zoneguard", "Multi-camera zone and door access monitor")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (yaml or json)", Default: "zoneguard.yaml"})
	logLevel := parser.String("", "log-level", &argparse.Options{Help: "Override log_level from the configuration file", Default: ""})
	checkOnly := parser.Flag("", "check", &argparse.Options{Help: "Validate the configuration and exit", Default: false})
	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	mgr, err := config.NewManager(config.ResolvePath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config %s: %v\n", *configFile, err)
		os.Exit(1)
	}
	if *checkOnly {
		fmt.Printf("%s: ok\n", mgr.Path())
		return
	}
	level := mgr.Get().LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	logger := logging.NewLogger(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, mgr, logger); err != nil {
		logger.Error("zoneguard stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mgr *config.Manager, logger *slog.Logger) error {
	cfg := mgr.Get()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	var (
		backend   registry.Backend
		persister alerts.Persister
		sink      pipeline.MetricsSink
	)
	if store != nil {
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		backend, persister, sink = store, store, store
		logger.Info("storage enabled", "driver", cfg.Storage.Driver)
	}

	reg := registry.New(backend)
	skipped, err := reg.Load(ctx)
	if err != nil {
		return err
	}
	for _, e := range skipped {
		logger.Warn("stored site object skipped", "err", e)
	}

	notifiers, closers, err := notify.FromConfig(cfg.Notify, logger)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("notifier close failed", "err", err)
			}
		}
	}()
	sinks := make([]alerts.Notifier, 0, len(notifiers))
	for _, n := range notifiers {
		sinks = append(sinks, n)
	}

	alertLog := alerts.NewLog(cfg.Alerts, persister, logger, alerts.WithNotifiers(sinks...))
	if store != nil {
		recent, err := store.RecentAlerts(ctx, cfg.Alerts.StoreLimit)
		if err != nil {
			logger.Warn("stored alerts not loaded", "err", err)
		} else {
			alertLog.Load(recent)
		}
	}

	metricsStore := metrics.NewStore(cfg.Metrics.StoreLimit)
	sup := pipeline.NewSupervisor(mgr, pipeline.Options{
		Registry: reg,
		Alerts:   alertLog,
		Metrics:  metricsStore,
		Sink:     sink,
		Logger:   logger,
	})

	in := make(chan model.DetectionBatch, cfg.Ingest.ChannelBuffer)
	ingest.StartREST(ctx, mgr, in, logger)
	ingest.StartTCPStream(ctx, mgr, in, logger)
	ingest.StartReplay(ctx, mgr, in, logger)
	ingest.StartKafka(ctx, mgr, in, logger)

	api.Start(ctx, mgr, api.NewServer(mgr, reg, alertLog, metricsStore, sup, logger, version), logger)

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go mgr.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded", "path", mgr.Path())
		sup.UpdateConfig(next)
	}, func(err error) {
		logger.Warn("config reload failed", "err", err)
	}, stopWatch)

	logger.Info("zoneguard started", "version", version, "feeds", len(cfg.Feeds), "alerts_loaded", alertLog.Len())
	sup.Run(ctx, in)
	logger.Info("zoneguard stopping")
	return nil
}
