package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"mototaxi/internal/repository"
	"mototaxi/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response with the appropriate HTTP status code.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)
	if code == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(code, ErrorResponse{Error: err.Error()})
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// badRequest rejects a body that did not decode.
func badRequest(c *gin.Context) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case service.IsValidation(err):
		return http.StatusBadRequest

	// Conflict errors
	case errors.Is(err, service.ErrRideAlreadyTaken),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrDispatchInProgress),
		errors.Is(err, repository.ErrNoMatch):
		return http.StatusConflict

	// Forbidden/Business rule errors
	case errors.Is(err, service.ErrDriverNotAssignedToRide),
		errors.Is(err, service.ErrDriverNotEligible),
		errors.Is(err, service.ErrRideNotOwned):
		return http.StatusForbidden

	// Service unavailable
	case errors.Is(err, service.ErrNoDriversAvailable):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}
