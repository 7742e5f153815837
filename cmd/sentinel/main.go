package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/sentinel/internal/analytics"
	"github.com/t77yq/sentinel/internal/config"
	"github.com/t77yq/sentinel/internal/monitor"
	"github.com/t77yq/sentinel/internal/scheduler"
	"github.com/t77yq/sentinel/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	logger = logger.With(
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment))

	store, err := storage.NewSQLiteStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open state store", zap.Error(err))
	}
	defer store.Close()

	nc := connectNATS(logger, cfg)
	defer nc.Close()

	sink, err := analytics.NewNATSSink(nc, analytics.NATSConfig{
		Stream:        cfg.NATS.Stream,
		SubjectPrefix: cfg.NATS.SubjectPrefix,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create analytics sink", zap.Error(err))
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := sink.Start(ctx); err != nil {
		logger.Fatal("Failed to start analytics sink", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var rules monitor.RuleLoader
	if cfg.Monitor.RulesFile != "" {
		rules = monitor.FileRuleLoader{Path: cfg.Monitor.RulesFile}
	}

	recorder := monitor.NewStatsRecorder(nil, nil)
	mon := monitor.New(monitor.Options{
		Logger:              logger,
		Store:               store,
		Sink:                sink,
		Errors:              recorder,
		Performance:         recorder,
		Security:            recorder,
		External:            sink,
		Sampler:             monitor.HostSampler{DiskPath: cfg.Monitor.DiskPath},
		RuleLoader:          rules,
		Registerer:          registry,
		Environment:         cfg.App.Environment,
		MaxAlertsPerHour:    cfg.Monitor.MaxAlertsPerHour,
		ExternalServiceName: cfg.Monitor.ExternalService,
		SLAThresholds: monitor.SLAThresholds{
			LoadTimeMs:        cfg.SLA.LoadTimeMs,
			APIResponseTimeMs: cfg.SLA.APIResponseTimeMs,
			CacheHitRate:      cfg.SLA.CacheHitRate,
			MemoryUsageMB:     cfg.SLA.MemoryUsageMB,
			ErrorRate:         cfg.SLA.ErrorRate,
		},
		EscalationDebounce: cfg.SLA.EscalationDebounce,
	})
	if err := mon.Initialize(ctx); err != nil {
		logger.Fatal("Failed to initialize monitor", zap.Error(err))
	}

	sched := scheduler.NewCronScheduler(logger)
	families := []struct {
		name     string
		interval time.Duration
		fn       scheduler.TickFunc
	}{
		{scheduler.FamilyHealth, cfg.Monitor.HealthInterval, mon.HealthTick},
		{scheduler.FamilyAlert, cfg.Monitor.AlertInterval, mon.AlertTick},
		{scheduler.FamilyReport, cfg.Monitor.ReportInterval, mon.ReportTick},
		{scheduler.FamilyCleanup, cfg.Monitor.CleanupInterval, mon.CleanupTick},
	}
	for _, f := range families {
		if err := sched.Register(f.name, f.interval, f.fn); err != nil {
			logger.Fatal("Failed to register tick family", zap.String("family", f.name), zap.Error(err))
		}
	}

	// Run a health check before the first alert tick so the evaluation has data
	if err := sched.Tick(ctx, scheduler.FamilyHealth); err != nil {
		logger.Warn("Initial health check failed", zap.Error(err))
	}
	sched.Start(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", zap.String("listen", cfg.Metrics.Listen))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	// Wait for shutdown signal
	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sched.Stop()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := nc.Drain(); err != nil {
		logger.Warn("Failed to drain NATS connection", zap.Error(err))
	}

	logger.Info("Sentinel shutting down gracefully")
}

// connectNATS dials NATS, retrying with a growing backoff
func connectNATS(logger *zap.Logger, cfg *config.Config) *nats.Conn {
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS connection error", fields...)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var (
		nc  *nats.Conn
		err error
	)
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}

	logger.Info("Connected to NATS successfully", zap.String("url", nc.ConnectedUrl()))
	return nc
}
