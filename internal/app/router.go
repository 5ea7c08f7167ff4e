package app

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"mototaxi/internal/handler"
	"mototaxi/internal/middleware"
)

// RouterDeps contains all dependencies needed for the router.
type RouterDeps struct {
	RideHandler   *handler.RideHandler
	DriverHandler *handler.DriverHandler
	OfferHandler  *handler.OfferHandler
	TripHandler   *handler.TripHandler
	AdminHandler  *handler.AdminHandler
	StreamHandler *handler.StreamHandler
	HealthHandler *handler.HealthHandler // optional
	RedisClient   *redis.Client
	NewRelicApp   *newrelic.Application
	Logger        *slog.Logger
}

// NewRouter creates a new Gin router with all routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()

	// Global middleware.
	router.Use(gin.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.MetricsMiddleware())

	// Add New Relic middleware if enabled.
	if deps.NewRelicApp != nil {
		router.Use(nrgin.Middleware(deps.NewRelicApp))
		router.Use(middleware.NewRelicAttributes())
	}

	router.Use(middleware.IdempotencyMiddleware(deps.RedisClient, deps.Logger))

	// Health check.
	health := deps.HealthHandler
	if health == nil {
		health = handler.NewHealthHandler(nil, nil)
	}
	router.GET("/health", health.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes.
	v1 := router.Group("/v1")
	{
		// Passenger routes.
		rides := v1.Group("/rides")
		{
			rides.POST("", deps.RideHandler.CreateRide)
			rides.POST("/estimate", deps.RideHandler.EstimateFare)
			rides.GET("", deps.RideHandler.ListRides)
			rides.GET("/:id", deps.RideHandler.GetRide)
			rides.POST("/:id/cancel", deps.RideHandler.CancelRide)
			rides.GET("/:id/receipt", deps.RideHandler.GetReceipt)
			rides.GET("/:id/events", deps.StreamHandler.RideEvents)
		}

		// Driver routes.
		drivers := v1.Group("/drivers")
		{
			drivers.POST("/register", deps.DriverHandler.Register)
			drivers.GET("", deps.DriverHandler.GetAll)
			drivers.GET("/nearby", deps.DriverHandler.Nearby)
			drivers.GET("/:id", deps.DriverHandler.GetDriver)
			drivers.POST("/:id/online", deps.DriverHandler.GoOnline)
			drivers.POST("/:id/offline", deps.DriverHandler.GoOffline)
			drivers.POST("/:id/location", deps.DriverHandler.UpdateLocation)

			drivers.GET("/:id/offers", deps.OfferHandler.PendingOffers)
			drivers.GET("/:id/offers/stream", deps.StreamHandler.DriverOffers)
			drivers.POST("/:id/offers/:rideId/accept", deps.OfferHandler.AcceptOffer)
			drivers.POST("/:id/offers/:rideId/skip", deps.OfferHandler.SkipOffer)

			drivers.POST("/:id/rides/:rideId/en-route", deps.TripHandler.MarkEnRoute)
			drivers.POST("/:id/rides/:rideId/start", deps.TripHandler.StartTrip)
			drivers.POST("/:id/rides/:rideId/complete", deps.TripHandler.CompleteRide)
		}

		// Admin routes.
		admin := v1.Group("/admin")
		{
			admin.GET("/pricing", deps.AdminHandler.GetPricing)
			admin.PUT("/pricing", deps.AdminHandler.UpdatePricing)
			admin.POST("/drivers/:id/status", deps.AdminHandler.SetDriverStatus)
		}
	}

	return router
}
