package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"dispatch/internal/app"
	"dispatch/internal/config"
	"dispatch/internal/handler"
	"dispatch/internal/logging"
	"dispatch/internal/notify"
	internalRedis "dispatch/internal/redis"
	"dispatch/internal/repository/postgres"
	"dispatch/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := logging.NewLogger(cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic first so the database can be instrumented.
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to PostgreSQL")

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	logger.Info("connected to Redis")

	// Wire dependencies.
	server, coordinator, sweeper := wireServer(db, redisClient, nrApp, cfg, logger)

	// Run the expiry sweeper alongside the HTTP server; it is what
	// keeps dispatch sessions moving when no driver ever responds.
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Run(sweepCtx)

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	stopSweeper()
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Warn("sessions did not unwind in time", "error", err)
	}

	logger.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server, the
// coordinator and the sweeper.
func wireServer(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config, logger *slog.Logger) (*http.Server, *service.Coordinator, *service.ExpirySweeper) {
	// Redis location store applies the freshness window on every read.
	locationStore := internalRedis.NewLocationStore(redisClient, cfg.Dispatch.FreshnessWindow)

	// Repositories.
	tripRepo := postgres.NewTripRepository(db)
	driverRepo := postgres.NewDriverRepository(db)
	ledger := postgres.NewOfferLedger(db)

	// Services.
	notificationService := service.NewNotificationService(logger)
	wsNotifier := notify.NewWSNotifier(notificationService, logger)
	matcher := service.NewMatcher(locationStore, driverRepo, cfg.Dispatch.SearchRadiusKm)
	coordinator := service.NewCoordinator(tripRepo, driverRepo, ledger, matcher, wsNotifier, notificationService, cfg.Dispatch, logger)
	sweeper := service.NewExpirySweeper(ledger, coordinator, cfg.Dispatch.SweepInterval, logger)
	tripService := service.NewTripService(tripRepo, ledger, coordinator)
	driverService := service.NewDriverService(locationStore, driverRepo)

	// Handlers.
	tripHandler := handler.NewTripHandler(tripService)
	driverHandler := handler.NewDriverHandler(driverService, coordinator, driverRepo, ledger, wsNotifier, logger)

	// Router.
	router := app.NewRouter(app.RouterDeps{
		TripHandler:   tripHandler,
		DriverHandler: driverHandler,
		RedisClient:   redisClient,
		NewRelicApp:   nrApp,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return server, coordinator, sweeper
}
