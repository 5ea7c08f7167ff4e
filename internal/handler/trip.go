package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/domain"
	"mototaxi/internal/service"
)

// TripHandler handles the assigned driver's progress through a ride.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

type progressFunc func(context.Context, service.ProgressRequest) (*domain.Ride, error)

// MarkEnRoute handles POST /v1/drivers/:id/rides/:rideId/en-route
func (h *TripHandler) MarkEnRoute(c *gin.Context) {
	h.progress(c, h.tripService.MarkEnRoute)
}

// StartTrip handles POST /v1/drivers/:id/rides/:rideId/start
func (h *TripHandler) StartTrip(c *gin.Context) {
	h.progress(c, h.tripService.StartTrip)
}

// CompleteRide handles POST /v1/drivers/:id/rides/:rideId/complete
func (h *TripHandler) CompleteRide(c *gin.Context) {
	h.progress(c, h.tripService.CompleteRide)
}

func (h *TripHandler) progress(c *gin.Context, step progressFunc) {
	ride, err := step(c.Request.Context(), service.ProgressRequest{
		RideID:   c.Param("rideId"),
		DriverID: c.Param("id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}
