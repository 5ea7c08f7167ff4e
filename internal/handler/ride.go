package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/service"
)

// RideHandler handles passenger-facing ride requests.
type RideHandler struct {
	rideService    *service.RideService
	receiptService *service.ReceiptService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(rideService *service.RideService, receiptService *service.ReceiptService) *RideHandler {
	return &RideHandler{
		rideService:    rideService,
		receiptService: receiptService,
	}
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	PassengerID string `json:"passenger_id"`
	TripBody
}

// CancelRideRequest is the HTTP request body for cancelling a ride.
type CancelRideRequest struct {
	PassengerID string `json:"passenger_id,omitempty"`
}

// EstimateResponse is the fare preview shown before requesting.
type EstimateResponse struct {
	DistanceKm float64 `json:"distance_km"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	ETAMinutes int     `json:"eta_minutes"`
}

// ReceiptResponse is the fare breakdown of a completed ride.
type ReceiptResponse struct {
	RideID         string  `json:"ride_id"`
	DriverID       string  `json:"driver_id"`
	DistanceKm     float64 `json:"distance_km"`
	BaseFare       float64 `json:"base_fare"`
	DistanceCharge float64 `json:"distance_charge"`
	TotalFare      float64 `json:"total_fare"`
	Commission     float64 `json:"commission"`
	DriverEarnings float64 `json:"driver_earnings"`
	Currency       string  `json:"currency"`
	PaymentMethod  string  `json:"payment_method"`
	DurationMin    int     `json:"duration_minutes"`
	CompletedAt    string  `json:"completed_at"`
	Text           string  `json:"text"`
}

// EstimateFare handles POST /v1/rides/estimate
func (h *RideHandler) EstimateFare(c *gin.Context) {
	var req TripBody
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	est, err := h.rideService.EstimateFare(c.Request.Context(), req.toRequest())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, EstimateResponse{
		DistanceKm: est.DistanceKm,
		Price:      est.Price,
		Currency:   est.Currency,
		ETAMinutes: est.ETAMinutes,
	})
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	ride, err := h.rideService.RequestRide(c.Request.Context(), service.CreateRideRequest{
		PassengerID: req.PassengerID,
		TripRequest: req.toRequest(),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.rideService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ListRides handles GET /v1/rides?passenger_id=&limit=
func (h *RideHandler) ListRides(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	rides, err := h.rideService.ListRides(c.Request.Context(), c.Query("passenger_id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponses(rides))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	// An empty body is allowed.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c)
			return
		}
	}

	ride, err := h.rideService.CancelRide(c.Request.Context(), service.CancelRideRequest{
		RideID:      c.Param("id"),
		PassengerID: req.PassengerID,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// GetReceipt handles GET /v1/rides/:id/receipt
func (h *RideHandler) GetReceipt(c *gin.Context) {
	receipt, err := h.receiptService.GenerateReceipt(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, ReceiptResponse{
		RideID:         receipt.RideID,
		DriverID:       receipt.DriverID,
		DistanceKm:     receipt.DistanceKm,
		BaseFare:       receipt.BaseFare,
		DistanceCharge: receipt.DistanceCharge,
		TotalFare:      receipt.TotalFare,
		Commission:     receipt.Commission,
		DriverEarnings: receipt.DriverEarnings,
		Currency:       receipt.Currency,
		PaymentMethod:  string(receipt.PaymentMethod),
		DurationMin:    int(receipt.Duration.Minutes()),
		CompletedAt:    formatTime(receipt.CompletedAt),
		Text:           h.receiptService.FormatReceipt(receipt),
	})
}
