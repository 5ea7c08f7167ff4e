package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"mototaxi/internal/app"
	"mototaxi/internal/config"
	"mototaxi/internal/events"
	"mototaxi/internal/handler"
	"mototaxi/internal/kafka"
	"mototaxi/internal/logging"
	internalRedis "mototaxi/internal/redis"
	"mototaxi/internal/repository/postgres"
	"mototaxi/internal/service"
)

// syntheticDriverCount is how many demo markers the map view adds.
const syntheticDriverCount = 6

func main() {
	// Load configuration.
	cfg := config.Load()
	logger := logging.NewLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled {
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

	server, dispatcher, closeSinks := wireServer(db, redisClient, nrApp, cfg, logger)
	defer closeSinks()

	// Pick up rides left pending by a previous process.
	resumeCtx, resumeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if n, err := dispatcher.Resume(resumeCtx); err != nil {
		logger.Error("failed to resume dispatch", "error", err)
	} else if n > 0 {
		logger.Info("resumed dispatch", "rides", n)
	}
	resumeCancel()

	go func() {
		logger.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Stopped loops leave their rides pending for the next Resume.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Warn("dispatch loops still running at exit", "error", err)
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

// wireServer wires all dependencies and returns the HTTP server, the
// dispatcher and a function closing the event sinks.
func wireServer(
	db *sql.DB,
	redisClient *redis.Client,
	nrApp *newrelic.Application,
	cfg *config.Config,
	logger *slog.Logger,
) (*http.Server, *service.Dispatcher, func()) {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Event bus: Redis pub/sub fans changes out across instances.
	var bus events.Bus
	if cfg.Features.EventBus == config.EventBusMemory {
		bus = events.NewMemoryBus()
	} else {
		bus = internalRedis.NewEventBus(redisClient, logger)
	}
	closeSinks := func() {}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		tee := events.NewTee(bus, logger, publisher)
		bus = tee
		closeSinks = func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tee.Close(ctx); err != nil {
				logger.Warn("event sink drain incomplete", "error", err)
			}
			if err := publisher.Close(); err != nil {
				logger.Warn("kafka publisher close failed", "error", err)
			}
		}
		logger.Info("exporting ride events to kafka", "topic", cfg.Kafka.Topic)
	}

	// Initialize repositories.
	driverRepo := postgres.NewDriverRepository(db)
	pricingRepo := postgres.NewPricingRepository(db)
	rideRepo := events.NewNotifyingRideRepository(postgres.NewRideRepository(db), bus, logger)

	// Initialize services.
	notificationService := service.NewNotificationService(logger)
	pricingService := service.NewPricingService(pricingRepo, cacheStore, logger)

	directory := service.NewGeoDirectory(locationStore, cacheStore, driverRepo)
	var nearby service.DriverDirectory = directory
	if cfg.Features.SyntheticDrivers {
		nearby = service.NewSyntheticDirectory(directory, syntheticDriverCount)
	}

	driverService := service.NewDriverService(locationStore, cacheStore, driverRepo, nearby, notificationService, logger)
	dispatcher := service.NewDispatcher(rideRepo, directory, lockStore, bus, pricingService, notificationService,
		service.DispatchConfig{
			OfferTimeout:   cfg.Dispatch.OfferTimeout,
			SearchRadiusKm: cfg.Dispatch.SearchRadiusKm,
			LockTTL:        cfg.Dispatch.LockTTL,
		}, logger)
	rideService := service.NewRideService(rideRepo, dispatcher, pricingService, driverService, notificationService, logger)
	offerService := service.NewOfferService(rideRepo, driverRepo, driverService, pricingService, notificationService, logger)
	tripService := service.NewTripService(rideRepo, driverService, notificationService, logger)
	receiptService := service.NewReceiptService(rideRepo, pricingService)

	// Create router.
	router := app.NewRouter(app.RouterDeps{
		RideHandler:   handler.NewRideHandler(rideService, receiptService),
		DriverHandler: handler.NewDriverHandler(driverService),
		OfferHandler:  handler.NewOfferHandler(offerService),
		TripHandler:   handler.NewTripHandler(tripService),
		AdminHandler:  handler.NewAdminHandler(pricingService, driverService),
		StreamHandler: handler.NewStreamHandler(bus, rideService, offerService, logger),
		HealthHandler: handler.NewHealthHandler(db, cacheStore),
		RedisClient:   redisClient,
		NewRelicApp:   nrApp,
		Logger:        logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return server, dispatcher, closeSinks
}
