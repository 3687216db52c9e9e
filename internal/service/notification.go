package service

import (
	"context"
	"log/slog"
	"time"

	"dispatch/internal/domain"
)

// DriverNotifier pushes an offer to a connected driver app. Delivery is
// best effort; the driver app can always poll its active offer.
type DriverNotifier interface {
	NotifyDriverOfOffer(ctx context.Context, driverID, tripID string, deadline time.Time) error
}

// CustomerNotifier informs the customer-facing collaborator of a trip's
// terminal outcome.
type CustomerNotifier interface {
	NotifyCustomerOfOutcome(ctx context.Context, tripID string, state domain.TripState, driverID string) error
}

// NotificationService is the default log-only notifier. The real
// delivery mechanism (push, SMS) lives outside the dispatch engine; a
// websocket push notifier can be layered in front of this one.
type NotificationService struct {
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(logger *slog.Logger) *NotificationService {
	return &NotificationService{logger: logger}
}

var (
	_ DriverNotifier   = (*NotificationService)(nil)
	_ CustomerNotifier = (*NotificationService)(nil)
)

// NotifyDriverOfOffer logs the offer notification.
func (s *NotificationService) NotifyDriverOfOffer(ctx context.Context, driverID, tripID string, deadline time.Time) error {
	s.logger.Info("offer notification",
		"driver_id", driverID,
		"trip_id", tripID,
		"deadline", deadline,
	)
	return nil
}

// NotifyCustomerOfOutcome logs the outcome notification.
func (s *NotificationService) NotifyCustomerOfOutcome(ctx context.Context, tripID string, state domain.TripState, driverID string) error {
	s.logger.Info("outcome notification",
		"trip_id", tripID,
		"state", state,
		"driver_id", driverID,
	)
	return nil
}
