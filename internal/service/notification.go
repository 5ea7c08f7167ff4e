package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mototaxi/internal/domain"
)

// NotificationType represents the type of notification.
type NotificationType string

const (
	NotificationRideOffered    NotificationType = "RIDE_OFFERED"
	NotificationDriverFound    NotificationType = "DRIVER_FOUND"
	NotificationNoDrivers      NotificationType = "NO_DRIVERS_AVAILABLE"
	NotificationDriverEnRoute  NotificationType = "DRIVER_EN_ROUTE"
	NotificationTripStarted    NotificationType = "TRIP_STARTED"
	NotificationRideCompleted  NotificationType = "RIDE_COMPLETED"
	NotificationRideCancelled  NotificationType = "RIDE_CANCELLED"
	NotificationDriverApproved NotificationType = "DRIVER_APPROVED"
)

// Notification represents a notification to be sent.
type Notification struct {
	Type        NotificationType
	RecipientID string // passenger or driver ID
	Title       string
	Message     string
	Data        map[string]any
	CreatedAt   time.Time
}

// NotificationService records user-facing notifications. Realtime delivery
// happens over the event bus; this is the durable human-readable trail.
type NotificationService struct {
	log *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(log *slog.Logger) *NotificationService {
	return &NotificationService{log: log}
}

// NotifyRideOffered tells a driver they are the current candidate.
func (s *NotificationService) NotifyRideOffered(ctx context.Context, ride *domain.Ride, offer Offer) error {
	return s.send(ctx, Notification{
		Type:        NotificationRideOffered,
		RecipientID: offer.DriverID,
		Title:       "New Ride Request",
		Message: fmt.Sprintf("Pickup at %s, %.1f km away (about %d min). You earn %.2f.",
			ride.Pickup.Name, offer.PickupDistanceKm, offer.ArrivalMinutes, offer.DriverEarnings),
		Data: map[string]any{
			"ride_id":    ride.ID,
			"expires_at": offer.ExpiresAt,
		},
	})
}

// NotifyDriverFound tells the passenger a driver accepted.
func (s *NotificationService) NotifyDriverFound(ctx context.Context, ride *domain.Ride) error {
	return s.send(ctx, Notification{
		Type:        NotificationDriverFound,
		RecipientID: ride.PassengerID,
		Title:       "Driver Found",
		Message:     "A driver accepted your ride and is on the way.",
		Data: map[string]any{
			"ride_id":   ride.ID,
			"driver_id": ride.DriverID,
		},
	})
}

// NotifyNoDrivers tells the passenger dispatch gave up.
func (s *NotificationService) NotifyNoDrivers(ctx context.Context, ride *domain.Ride) error {
	return s.send(ctx, Notification{
		Type:        NotificationNoDrivers,
		RecipientID: ride.PassengerID,
		Title:       "No Drivers Available",
		Message:     "No driver is available right now. Please try again.",
		Data:        map[string]any{"ride_id": ride.ID},
	})
}

// NotifyProgress tells the passenger about driver-reported progress.
func (s *NotificationService) NotifyProgress(ctx context.Context, ride *domain.Ride) error {
	n := Notification{
		RecipientID: ride.PassengerID,
		Data:        map[string]any{"ride_id": ride.ID, "driver_id": ride.DriverID},
	}
	switch ride.Status {
	case domain.RideStatusEnRoute:
		n.Type, n.Title, n.Message = NotificationDriverEnRoute, "Driver En Route", "Your driver is heading to the pickup point."
	case domain.RideStatusInProgress:
		n.Type, n.Title, n.Message = NotificationTripStarted, "Trip Started", "Your trip has started."
	case domain.RideStatusCompleted:
		n.Type, n.Title = NotificationRideCompleted, "Ride Completed"
		n.Message = fmt.Sprintf("You have arrived. Fare: %.0f.", ride.FinalFare)
		n.Data["fare"] = ride.FinalFare
	default:
		return nil
	}
	return s.send(ctx, n)
}

// NotifyRideCancelled tells the assigned driver the passenger cancelled.
func (s *NotificationService) NotifyRideCancelled(ctx context.Context, ride *domain.Ride) error {
	if ride.DriverID == "" {
		return nil // No one to notify
	}
	return s.send(ctx, Notification{
		Type:        NotificationRideCancelled,
		RecipientID: ride.DriverID,
		Title:       "Ride Cancelled",
		Message:     "The passenger has cancelled the ride.",
		Data: map[string]any{
			"ride_id": ride.ID,
			"reason":  ride.CancelReason,
		},
	})
}

// NotifyDriverStatus tells a driver their approval changed.
func (s *NotificationService) NotifyDriverStatus(ctx context.Context, driver *domain.Driver) error {
	return s.send(ctx, Notification{
		Type:        NotificationDriverApproved,
		RecipientID: driver.ID,
		Title:       "Account Status Updated",
		Message:     fmt.Sprintf("Your driver account is now %s.", driver.Status),
		Data:        map[string]any{"status": driver.Status},
	})
}

func (s *NotificationService) send(ctx context.Context, n Notification) error {
	if s == nil || s.log == nil {
		return nil
	}
	n.CreatedAt = time.Now()
	s.log.InfoContext(ctx, "notification",
		"type", n.Type,
		"recipient_id", n.RecipientID,
		"title", n.Title,
		"message", n.Message,
	)
	return nil
}
