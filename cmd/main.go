package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transformer_monitor/internal/acquisition"
	"transformer_monitor/internal/config"
	"transformer_monitor/internal/handlers"
	"transformer_monitor/internal/logger"
	"transformer_monitor/internal/metrics"
	"transformer_monitor/internal/repository"
	"transformer_monitor/internal/repository/db"
	"transformer_monitor/internal/server"
	"transformer_monitor/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// @title        Transformer Monitor API
// @version      1.0
// @description  Live transformer telemetry with websocket push and REST poll fallback.
// @BasePath     /
func main() {
	// load configs/config.yml, TRANSFORMER_* env overrides
	cfg, err := config.Load("configs")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	sqlDB, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err, "path", cfg.DBPath)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	acqMetrics := metrics.NewAcquisition(reg)
	httpMetrics := metrics.NewHTTP(reg)

	// wire dependencies
	coordinator := acquisition.NewCoordinator(
		acquisition.Options{
			ReconnectDelay: cfg.ReconnectDelay,
			PollInterval:   cfg.PollInterval,
			DemoEnabled:    cfg.DemoEnabled,
			DemoInterval:   cfg.DemoInterval,
		},
		acquisition.NewWSFactory(cfg.PushURL, log.Named("push"), acqMetrics),
		acquisition.NewHTTPFetcher(cfg.PollURL, cfg.PollTimeout),
		acquisition.WithLogger(log.Named("acquisition")),
		acquisition.WithMetrics(acqMetrics),
	)
	repos := repository.NewRepository(sqlDB)
	services := service.NewService(repos, coordinator, service.RecorderOptions{Retention: cfg.Retention}, log.Named("journal"))
	apiHandler := handlers.NewHandler(services, log.Named("http"), handlers.Options{
		Gatherer:  reg,
		Metrics:   httpMetrics,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infow("starting",
		"port", cfg.Port,
		"push_url", cfg.PushURL,
		"poll_url", cfg.PollURL,
		"demo", cfg.DemoEnabled,
	)

	srv := &server.Server{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return coordinator.Run(gctx) })
	g.Go(func() error { return services.Recorder.Run(gctx) })
	g.Go(func() error { return srv.Run(cfg.Port, apiHandler.InitRoutes()) })
	g.Go(func() error {
		<-gctx.Done()
		log.Infow("shutting down server...")

		// allow in-flight requests to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Errorw("stopped with error", "err", err)
		os.Exit(1)
	}
	log.Infow("stopped")
}
