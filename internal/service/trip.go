package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/domain"
	"dispatch/internal/repository"
)

// TripService is the order-intake edge of the dispatch engine: it
// creates trip requests and hands them to the coordinator.
type TripService struct {
	tripRepo    repository.TripRepository
	ledger      repository.OfferLedger
	coordinator *Coordinator
}

// NewTripService creates a new TripService.
func NewTripService(tripRepo repository.TripRepository, ledger repository.OfferLedger, coordinator *Coordinator) *TripService {
	return &TripService{
		tripRepo:    tripRepo,
		ledger:      ledger,
		coordinator: coordinator,
	}
}

// CreateTripRequest contains the parameters for creating a trip.
type CreateTripRequest struct {
	CustomerID    string
	PickupLat     float64
	PickupLng     float64
	DeliveryLat   float64
	DeliveryLng   float64
	RequiredClass domain.VehicleClass
}

// CreateTrip persists a new trip request and starts its dispatch
// session.
func (s *TripService) CreateTrip(ctx context.Context, req CreateTripRequest) (*domain.TripRequest, error) {
	if req.CustomerID == "" {
		return nil, ErrInvalidCustomerID
	}
	if !isValidLatitude(req.PickupLat) || !isValidLongitude(req.PickupLng) {
		return nil, ErrInvalidPickupLocation
	}
	if !isValidLatitude(req.DeliveryLat) || !isValidLongitude(req.DeliveryLng) {
		return nil, ErrInvalidDeliveryLocation
	}

	switch req.RequiredClass {
	case domain.VehicleClassBike, domain.VehicleClassCar, domain.VehicleClassVan, domain.VehicleClassTruck:
	case "":
		req.RequiredClass = domain.VehicleClassBike
	default:
		return nil, ErrInvalidVehicleClass
	}

	trip := &domain.TripRequest{
		ID:            uuid.New().String(),
		CustomerID:    req.CustomerID,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
		DeliveryLat:   req.DeliveryLat,
		DeliveryLng:   req.DeliveryLng,
		RequiredClass: req.RequiredClass,
		State:         domain.TripStateCreated,
		CreatedAt:     time.Now(),
	}

	if err := s.tripRepo.Create(ctx, trip); err != nil {
		return nil, err
	}

	if err := s.coordinator.StartDispatch(trip); err != nil {
		return nil, err
	}

	return trip, nil
}

// TripStatus is the customer-facing view of a trip.
type TripStatus struct {
	Trip   *domain.TripRequest
	Offers []*domain.Offer
}

// GetTripStatus returns the trip's state, assignee and offer history.
func (s *TripService) GetTripStatus(ctx context.Context, tripID string) (*TripStatus, error) {
	if tripID == "" {
		return nil, ErrInvalidTripID
	}

	trip, err := s.tripRepo.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	offers, err := s.ledger.History(ctx, tripID)
	if err != nil {
		return nil, err
	}

	return &TripStatus{Trip: trip, Offers: offers}, nil
}

// CancelTrip cancels a trip on behalf of the customer.
func (s *TripService) CancelTrip(ctx context.Context, tripID, reason string) error {
	return s.coordinator.CancelTrip(ctx, tripID, reason)
}
