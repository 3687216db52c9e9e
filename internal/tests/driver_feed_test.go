package tests

import (
	"context"
	"testing"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// ──────────────────────────────────────────────
// 5. DRIVER FEED EDGE CASES
// ──────────────────────────────────────────────

func TestLocationPing_StoresAndFlipsOfflineDriverOnline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locations := NewMockLocationStore()
	driverRepo := NewMockDriverRepository()
	driverRepo.AddDriver(&domain.Driver{
		ID:     "driver-1",
		Status: domain.DriverStatusOffline,
	})

	driverService := service.NewDriverService(locations, driverRepo)

	err := driverService.UpdateLocation(ctx, service.UpdateLocationRequest{
		DriverID: "driver-1",
		Lat:      12.9716,
		Lng:      77.5946,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if locations.UpdateLocationCallCount != 1 {
		t.Errorf("expected 1 location write, got %d", locations.UpdateLocationCallCount)
	}
	if !locations.HasLocation("driver-1") {
		t.Error("expected driver location stored")
	}

	driver, err := driverRepo.GetByID(ctx, "driver-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.Status != domain.DriverStatusOnline {
		t.Errorf("expected driver ONLINE after ping, got %s", driver.Status)
	}
}

func TestLocationPing_OnJobDriverKeepsStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locations := NewMockLocationStore()
	driverRepo := NewMockDriverRepository()
	driverRepo.AddDriver(&domain.Driver{
		ID:     "driver-1",
		Status: domain.DriverStatusOnJob,
	})

	driverService := service.NewDriverService(locations, driverRepo)

	err := driverService.UpdateLocation(ctx, service.UpdateLocationRequest{
		DriverID: "driver-1",
		Lat:      12.9716,
		Lng:      77.5946,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	driver, err := driverRepo.GetByID(ctx, "driver-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.Status != domain.DriverStatusOnJob {
		t.Errorf("expected driver still ON_JOB, got %s", driver.Status)
	}
}

func TestLocationPing_InvalidCoordinates_Rejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locations := NewMockLocationStore()
	driverRepo := NewMockDriverRepository()
	driverService := service.NewDriverService(locations, driverRepo)

	testCases := []struct {
		name string
		lat  float64
		lng  float64
	}{
		{name: "latitude too high", lat: 91.0, lng: 77.5946},
		{name: "latitude too low", lat: -91.0, lng: 77.5946},
		{name: "longitude too high", lat: 12.9716, lng: 181.0},
		{name: "longitude too low", lat: 12.9716, lng: -181.0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := driverService.UpdateLocation(ctx, service.UpdateLocationRequest{
				DriverID: "driver-1",
				Lat:      tc.lat,
				Lng:      tc.lng,
			})
			if err != service.ErrInvalidLocation {
				t.Errorf("expected ErrInvalidLocation, got %v", err)
			}
		})
	}

	if locations.UpdateLocationCallCount != 0 {
		t.Errorf("expected no location writes, got %d", locations.UpdateLocationCallCount)
	}
}

func TestEligibility_GoingUnavailable_RemovesLocation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locations := NewMockLocationStore()
	driverRepo := NewMockDriverRepository()
	driverRepo.AddDriver(&domain.Driver{
		ID:           "driver-1",
		Status:       domain.DriverStatusOnline,
		Approved:     true,
		Capabilities: []domain.VehicleClass{domain.VehicleClassBike},
	})
	_ = locations.UpdateLocation(ctx, "driver-1", 12.9716, 77.5946)

	driverService := service.NewDriverService(locations, driverRepo)

	err := driverService.UpdateEligibility(ctx, "driver-1", false, []domain.VehicleClass{domain.VehicleClassBike})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	driver, err := driverRepo.GetByID(ctx, "driver-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.Status != domain.DriverStatusOffline {
		t.Errorf("expected driver OFFLINE, got %s", driver.Status)
	}
	if locations.HasLocation("driver-1") {
		t.Error("expected location removed when driver goes unavailable")
	}
}

func TestEligibility_CapabilityChange_SingleWrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	locations := NewMockLocationStore()
	driverRepo := NewMockDriverRepository()
	driverRepo.AddDriver(&domain.Driver{
		ID:           "driver-1",
		Status:       domain.DriverStatusOffline,
		Capabilities: []domain.VehicleClass{domain.VehicleClassBike},
	})

	driverService := service.NewDriverService(locations, driverRepo)

	classes := []domain.VehicleClass{domain.VehicleClassCar, domain.VehicleClassVan}
	if err := driverService.UpdateEligibility(ctx, "driver-1", true, classes); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	driver, err := driverRepo.GetByID(ctx, "driver-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if driver.Status != domain.DriverStatusOnline {
		t.Errorf("expected driver ONLINE, got %s", driver.Status)
	}
	if len(driver.Capabilities) != 2 || driver.Capabilities[0] != domain.VehicleClassCar {
		t.Errorf("expected capabilities replaced, got %v", driver.Capabilities)
	}
}
