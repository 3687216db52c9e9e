package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dispatch/internal/domain"
	"dispatch/internal/notify"
	"dispatch/internal/repository"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for drivers: registration, the
// location/eligibility feeds, and offer responses.
type DriverHandler struct {
	driverService *service.DriverService
	coordinator   *service.Coordinator
	driverRepo    repository.DriverRepository
	ledger        repository.OfferLedger
	wsNotifier    *notify.WSNotifier
	logger        *slog.Logger
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(
	driverService *service.DriverService,
	coordinator *service.Coordinator,
	driverRepo repository.DriverRepository,
	ledger repository.OfferLedger,
	wsNotifier *notify.WSNotifier,
	logger *slog.Logger,
) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		coordinator:   coordinator,
		driverRepo:    driverRepo,
		ledger:        ledger,
		wsNotifier:    wsNotifier,
		logger:        logger,
	}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	Capabilities []string `json:"capabilities"` // BIKE, CAR, VAN, TRUCK
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Phone        string   `json:"phone"`
	Status       string   `json:"status"`
	Approved     bool     `json:"approved"`
	Capabilities []string `json:"capabilities"`
}

// UpdateLocationRequest is the HTTP request body for a location ping.
type UpdateLocationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// UpdateAvailabilityRequest is the HTTP request body for the
// eligibility feed.
type UpdateAvailabilityRequest struct {
	Available    bool     `json:"available"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// OfferResponseRequest is the HTTP request body for accepting or
// declining an offer. The offer version is the concurrency token the
// driver app received with the offer and must round-trip unchanged.
type OfferResponseRequest struct {
	TripID       string `json:"trip_id"`
	OfferVersion int64  `json:"offer_version"`
}

// ActiveOfferResponse is the HTTP response for a driver's active offer.
type ActiveOfferResponse struct {
	TripID   string    `json:"trip_id"`
	Version  int64     `json:"version"`
	Deadline time.Time `json:"deadline"`
}

// Register handles POST /v1/drivers/register
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if req.Name == "" || req.Phone == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "name and phone are required"})
		return
	}

	capabilities, ok := parseCapabilities(req.Capabilities)
	if !ok {
		respondError(c, service.ErrInvalidVehicleClass)
		return
	}

	existing, err := h.driverRepo.GetByPhone(c.Request.Context(), req.Phone)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		respondError(c, err)
		return
	}

	if existing != nil {
		c.JSON(http.StatusConflict, gin.H{
			"message": "Driver already registered",
			"driver":  toDriverResponse(existing),
		})
		return
	}

	// New drivers start unapproved; the matcher never ranks them until
	// approval is granted.
	driver := &domain.Driver{
		ID:           uuid.New().String(),
		Name:         req.Name,
		Phone:        req.Phone,
		Status:       domain.DriverStatusOffline,
		Approved:     false,
		Capabilities: capabilities,
	}

	if err := h.driverRepo.Create(c.Request.Context(), driver); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toDriverResponse(driver))
}

// UpdateLocation handles POST /v1/drivers/:id/location
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.driverService.UpdateLocation(c.Request.Context(), service.UpdateLocationRequest{
		DriverID: c.Param("id"),
		Lat:      req.Lat,
		Lng:      req.Lng,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UpdateAvailability handles POST /v1/drivers/:id/availability
func (h *DriverHandler) UpdateAvailability(c *gin.Context) {
	var req UpdateAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	capabilities, ok := parseCapabilities(req.Capabilities)
	if !ok {
		respondError(c, service.ErrInvalidVehicleClass)
		return
	}

	if err := h.driverService.UpdateEligibility(c.Request.Context(), c.Param("id"), req.Available, capabilities); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AcceptOffer handles POST /v1/drivers/:id/accept
func (h *DriverHandler) AcceptOffer(c *gin.Context) {
	var req OfferResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	trip, err := h.coordinator.AcceptOffer(c.Request.Context(), req.TripID, c.Param("id"), req.OfferVersion)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toTripResponse(trip))
}

// DeclineOffer handles POST /v1/drivers/:id/decline
func (h *DriverHandler) DeclineOffer(c *gin.Context) {
	var req OfferResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.coordinator.DeclineOffer(c.Request.Context(), req.TripID, c.Param("id"), req.OfferVersion); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

// GetActiveOffer handles GET /v1/drivers/:id/offer
func (h *DriverHandler) GetActiveOffer(c *gin.Context) {
	offer, err := h.ledger.ActiveOfferForDriver(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, ActiveOfferResponse{
		TripID:   offer.TripID,
		Version:  offer.Version,
		Deadline: offer.Deadline,
	})
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Connect handles GET /v1/drivers/:id/ws, upgrading to a websocket used
// to push offers to the driver app.
func (h *DriverHandler) Connect(c *gin.Context) {
	driverID := c.Param("id")

	conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "driver_id", driverID, "error", err)
		return
	}

	h.wsNotifier.Attach(driverID, conn)

	// Drain the read side so pings and close frames are processed; the
	// connection is push-only from our end.
	go func() {
		defer func() {
			h.wsNotifier.Detach(driverID, conn)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func parseCapabilities(raw []string) ([]domain.VehicleClass, bool) {
	capabilities := make([]domain.VehicleClass, 0, len(raw))
	for _, s := range raw {
		switch c := domain.VehicleClass(s); c {
		case domain.VehicleClassBike, domain.VehicleClassCar, domain.VehicleClassVan, domain.VehicleClassTruck:
			capabilities = append(capabilities, c)
		default:
			return nil, false
		}
	}
	return capabilities, true
}

func toDriverResponse(driver *domain.Driver) DriverResponse {
	capabilities := make([]string, len(driver.Capabilities))
	for i, c := range driver.Capabilities {
		capabilities[i] = string(c)
	}
	return DriverResponse{
		ID:           driver.ID,
		Name:         driver.Name,
		Phone:        driver.Phone,
		Status:       string(driver.Status),
		Approved:     driver.Approved,
		Capabilities: capabilities,
	}
}
