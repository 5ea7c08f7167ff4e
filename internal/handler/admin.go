package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/domain"
	"mototaxi/internal/service"
)

// AdminHandler serves pricing and driver approval.
type AdminHandler struct {
	pricingService *service.PricingService
	driverService  *service.DriverService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(pricingService *service.PricingService, driverService *service.DriverService) *AdminHandler {
	return &AdminHandler{
		pricingService: pricingService,
		driverService:  driverService,
	}
}

// SetDriverStatusRequest is the body for approving or rejecting a driver.
type SetDriverStatusRequest struct {
	Status string `json:"status"` // pending_approval, active, rejected
}

// GetPricing handles GET /v1/admin/pricing
func (h *AdminHandler) GetPricing(c *gin.Context) {
	policy, err := h.pricingService.Current(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPricingPolicyDTO(policy))
}

// UpdatePricing handles PUT /v1/admin/pricing
func (h *AdminHandler) UpdatePricing(c *gin.Context) {
	var req PricingPolicyDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	policy, err := h.pricingService.Update(c.Request.Context(), req.toDomain())
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toPricingPolicyDTO(policy))
}

// SetDriverStatus handles POST /v1/admin/drivers/:id/status
func (h *AdminHandler) SetDriverStatus(c *gin.Context) {
	var req SetDriverStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c)
		return
	}

	driver, err := h.driverService.SetStatus(c.Request.Context(), c.Param("id"), domain.DriverStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}
