package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// TripHandler handles HTTP requests for trips.
type TripHandler struct {
	tripService *service.TripService
}

// NewTripHandler creates a new TripHandler.
func NewTripHandler(tripService *service.TripService) *TripHandler {
	return &TripHandler{tripService: tripService}
}

// CreateTripRequest is the HTTP request body for creating a trip.
type CreateTripRequest struct {
	CustomerID    string  `json:"customer_id"`
	PickupLat     float64 `json:"pickup_lat"`
	PickupLng     float64 `json:"pickup_lng"`
	DeliveryLat   float64 `json:"delivery_lat"`
	DeliveryLng   float64 `json:"delivery_lng"`
	RequiredClass string  `json:"required_class,omitempty"` // BIKE, CAR, VAN, TRUCK
}

// CancelTripRequest is the HTTP request body for cancelling a trip.
type CancelTripRequest struct {
	Reason string `json:"reason,omitempty"`
}

// TripResponse is the HTTP response for trip data.
type TripResponse struct {
	ID               string    `json:"id"`
	CustomerID       string    `json:"customer_id"`
	PickupLat        float64   `json:"pickup_lat"`
	PickupLng        float64   `json:"pickup_lng"`
	DeliveryLat      float64   `json:"delivery_lat"`
	DeliveryLng      float64   `json:"delivery_lng"`
	RequiredClass    string    `json:"required_class"`
	State            string    `json:"state"`
	AssignedDriverID string    `json:"assigned_driver_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// OfferHistoryEntry is one resolved or pending offer in a trip's history.
type OfferHistoryEntry struct {
	DriverID  string    `json:"driver_id"`
	Version   int64     `json:"version"`
	Outcome   string    `json:"outcome"`
	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
}

// TripStatusResponse is the HTTP response for trip status.
type TripStatusResponse struct {
	Trip   TripResponse        `json:"trip"`
	Offers []OfferHistoryEntry `json:"offers"`
}

// CreateTrip handles POST /v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	var req CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.tripService.CreateTrip(c.Request.Context(), service.CreateTripRequest{
		CustomerID:    req.CustomerID,
		PickupLat:     req.PickupLat,
		PickupLng:     req.PickupLng,
		DeliveryLat:   req.DeliveryLat,
		DeliveryLng:   req.DeliveryLng,
		RequiredClass: domain.VehicleClass(req.RequiredClass),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toTripResponse(trip))
}

// GetTrip handles GET /v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	status, err := h.tripService.GetTripStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	offers := make([]OfferHistoryEntry, 0, len(status.Offers))
	for _, o := range status.Offers {
		offers = append(offers, OfferHistoryEntry{
			DriverID:  o.DriverID,
			Version:   o.Version,
			Outcome:   string(o.Outcome),
			CreatedAt: o.CreatedAt,
			Deadline:  o.Deadline,
		})
	}

	c.JSON(http.StatusOK, TripStatusResponse{
		Trip:   toTripResponse(status.Trip),
		Offers: offers,
	})
}

// CancelTrip handles POST /v1/trips/:id/cancel
func (h *TripHandler) CancelTrip(c *gin.Context) {
	var req CancelTripRequest
	// The body is optional; an empty cancel reason is fine.
	_ = c.ShouldBindJSON(&req)

	if err := h.tripService.CancelTrip(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func toTripResponse(trip *domain.TripRequest) TripResponse {
	return TripResponse{
		ID:               trip.ID,
		CustomerID:       trip.CustomerID,
		PickupLat:        trip.PickupLat,
		PickupLng:        trip.PickupLng,
		DeliveryLat:      trip.DeliveryLat,
		DeliveryLng:      trip.DeliveryLng,
		RequiredClass:    string(trip.RequiredClass),
		State:            string(trip.State),
		AssignedDriverID: trip.AssignedDriverID,
		CreatedAt:        trip.CreatedAt,
	}
}
