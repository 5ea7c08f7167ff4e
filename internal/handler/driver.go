package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/domain"
	"mototaxi/internal/geo"
	"mototaxi/internal/service"
)

// defaultNearbyRadiusKm bounds the passenger map view when no radius is given.
const defaultNearbyRadiusKm = 5.0

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// UpdateLocationRequest is the HTTP request body for updating driver location.
type UpdateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	VehicleClass string `json:"vehicle_class"`
}

// NearbyDriverResponse is one marker on the passenger map.
type NearbyDriverResponse struct {
	DriverID     string  `json:"driver_id"`
	VehicleClass string  `json:"vehicle_class"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Synthetic    bool    `json:"synthetic,omitempty"`
}

// Register handles POST /v1/drivers/register
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	driver, err := h.driverService.Register(c.Request.Context(), service.RegisterDriverRequest{
		Name:         req.Name,
		Phone:        req.Phone,
		VehicleClass: domain.VehicleClass(req.VehicleClass),
	})
	if errors.Is(err, service.ErrDriverAlreadyRegistered) {
		c.JSON(http.StatusConflict, gin.H{
			"message": "Driver already registered",
			"driver":  toDriverResponse(driver),
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetAll handles GET /v1/drivers
func (h *DriverHandler) GetAll(c *gin.Context) {
	drivers, err := h.driverService.ListDrivers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]DriverResponse, 0, len(drivers))
	for _, d := range drivers {
		response = append(response, toDriverResponse(d))
	}

	c.JSON(http.StatusOK, response)
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.driverService.GetDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// GoOnline handles POST /v1/drivers/:id/online
func (h *DriverHandler) GoOnline(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	driver, err := h.driverService.GoOnline(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: c.Param("id"),
		Position: geo.Coordinate{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// GoOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	if err := h.driverService.GoOffline(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	err := h.driverService.UpdateLocation(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: c.Param("id"),
		Position: geo.Coordinate{Lat: req.Lat, Lng: req.Lng},
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Nearby handles GET /v1/drivers/nearby?lat=&lng=&radius_km=
func (h *DriverHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		respondError(c, service.ErrInvalidLocation)
		return
	}
	radius := defaultNearbyRadiusKm
	if v := c.Query("radius_km"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r > 0 {
			radius = r
		}
	}

	candidates, err := h.driverService.Nearby(c.Request.Context(), geo.Coordinate{Lat: lat, Lng: lng}, radius)
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]NearbyDriverResponse, 0, len(candidates))
	for _, cand := range candidates {
		response = append(response, NearbyDriverResponse{
			DriverID:     cand.DriverID,
			VehicleClass: string(cand.VehicleClass),
			Lat:          cand.Position.Lat,
			Lng:          cand.Position.Lng,
			Synthetic:    cand.Synthetic,
		})
	}

	respondJSON(c, http.StatusOK, response)
}
