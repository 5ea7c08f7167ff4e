package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AvailabilityCounter reports how many drivers are online.
type AvailabilityCounter interface {
	CountAvailableDrivers(ctx context.Context) (int64, error)
}

// HealthHandler reports whether the service can reach its stores.
type HealthHandler struct {
	db      Pinger
	drivers AvailabilityCounter
}

// NewHealthHandler creates a new HealthHandler. Either dependency may be nil.
func NewHealthHandler(db Pinger, drivers AvailabilityCounter) *HealthHandler {
	return &HealthHandler{db: db, drivers: drivers}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "database": err.Error()})
			return
		}
	}

	resp := gin.H{"status": "ok"}
	if h.drivers != nil {
		// The count is informational; a Redis hiccup does not fail the check.
		if n, err := h.drivers.CountAvailableDrivers(ctx); err == nil {
			resp["available_drivers"] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}
