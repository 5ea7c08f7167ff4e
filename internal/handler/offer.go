package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/service"
)

// OfferHandler handles a driver's incoming offers.
type OfferHandler struct {
	offerService *service.OfferService
}

// NewOfferHandler creates a new OfferHandler.
func NewOfferHandler(offerService *service.OfferService) *OfferHandler {
	return &OfferHandler{offerService: offerService}
}

// PendingOffers handles GET /v1/drivers/:id/offers
func (h *OfferHandler) PendingOffers(c *gin.Context) {
	offers, err := h.offerService.PendingOffers(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toOfferResponses(offers))
}

// AcceptOffer handles POST /v1/drivers/:id/offers/:rideId/accept
func (h *OfferHandler) AcceptOffer(c *gin.Context) {
	ride, err := h.offerService.AcceptOffer(c.Request.Context(), c.Param("id"), c.Param("rideId"))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// SkipOffer handles POST /v1/drivers/:id/offers/:rideId/skip
func (h *OfferHandler) SkipOffer(c *gin.Context) {
	if err := h.offerService.SkipOffer(c.Request.Context(), c.Param("id"), c.Param("rideId")); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
