package domain

// VehicleClass represents a delivery vehicle capability.
type VehicleClass string

const (
	VehicleClassBike  VehicleClass = "BIKE"
	VehicleClassCar   VehicleClass = "CAR"
	VehicleClassVan   VehicleClass = "VAN"
	VehicleClassTruck VehicleClass = "TRUCK"
)

// DriverStatus represents a driver's availability.
type DriverStatus string

const (
	DriverStatusOffline DriverStatus = "OFFLINE"
	DriverStatusOnline  DriverStatus = "ONLINE"
	DriverStatusOnJob   DriverStatus = "ON_JOB"
)

// Driver represents a delivery driver in the registry.
type Driver struct {
	ID       string
	Name     string
	Phone    string
	Status   DriverStatus
	Approved bool
	// Capabilities lists the vehicle classes this driver can serve.
	Capabilities []VehicleClass
}

// CanServe reports whether the driver's capability set covers class.
func (d *Driver) CanServe(class VehicleClass) bool {
	for _, c := range d.Capabilities {
		if c == class {
			return true
		}
	}
	return false
}

// Candidate is one ranked driver in a dispatch session's queue.
// Candidates are ephemeral; the queue is recomputed from a fresh
// snapshot whenever it is exhausted mid-session.
type Candidate struct {
	DriverID   string
	DistanceKm float64
}
