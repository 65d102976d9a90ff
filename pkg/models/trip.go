package models

import "time"

// Stop is one visit on a trip
type Stop struct {
	Address         string  `json:"address"`
	Order           int     `json:"order"`
	Notes           string  `json:"notes,omitempty"`
	Earnings        float64 `json:"earnings"`
	AppointmentTime string  `json:"appointmentTime,omitempty"`
	Type            JobType `json:"type,omitempty"`
	Duration        int     `json:"duration"`
	OrderID         string  `json:"orderId,omitempty"`
}

// SupplyItem is a consumable cost aggregated across a trip
type SupplyItem struct {
	Type string  `json:"type"`
	Cost float64 `json:"cost"`
}

// Trip is the per-day route record written for a user
type Trip struct {
	ID            string       `json:"id"`
	UserID        string       `json:"userId"`
	Date          string       `json:"date"`
	StartTime     string       `json:"startTime"`
	EndTime       string       `json:"endTime"`
	EstimatedTime int          `json:"estimatedTime"`
	TotalTime     string       `json:"totalTime"`
	HoursWorked   float64      `json:"hoursWorked"`
	StartAddress  string       `json:"startAddress"`
	EndAddress    string       `json:"endAddress"`
	TotalMiles    float64      `json:"totalMiles"`
	MPG           float64      `json:"mpg"`
	GasPrice      float64      `json:"gasPrice"`
	FuelCost      float64      `json:"fuelCost"`
	SuppliesCost  float64      `json:"suppliesCost"`
	SupplyItems   []SupplyItem `json:"supplyItems"`
	Stops         []Stop       `json:"stops"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	// SyncedAt is the last time the sync engine wrote this trip. A later
	// UpdatedAt means the user edited it by hand.
	SyncedAt time.Time `json:"syncedAt,omitempty"`
}

// EditedByUser reports whether the trip changed after the engine last wrote it
func (t *Trip) EditedByUser() bool {
	return !t.SyncedAt.IsZero() && t.UpdatedAt.After(t.SyncedAt)
}

// Leg is the routing result for one origin/destination pair
type Leg struct {
	DistanceMeters  float64 `json:"distanceMeters"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// TripSettings bundles the routing and cost configuration used to build trips
type TripSettings struct {
	Routing RoutingConfig `json:"routing" yaml:"routing"`
	Cost    CostConfig    `json:"cost" yaml:"cost"`
}

// RoutingConfig holds the default start and end of a working day
type RoutingConfig struct {
	StartAddress string `json:"startAddress" yaml:"start_address"`
	EndAddress   string `json:"endAddress" yaml:"end_address"`
}

// CostConfig holds pay rates and consumable prices
type CostConfig struct {
	MPG          float64 `json:"mpg" yaml:"mpg"`
	GasPrice     float64 `json:"gasPrice" yaml:"gas_price"`
	InstallPay   float64 `json:"installPay" yaml:"install_pay"`
	RepairPay    float64 `json:"repairPay" yaml:"repair_pay"`
	UpgradePay   float64 `json:"upgradePay" yaml:"upgrade_pay"`
	PoleCharge   float64 `json:"poleCharge" yaml:"pole_charge"`
	PoleCost     float64 `json:"poleCost" yaml:"pole_cost"`
	ConcreteCost float64 `json:"concreteCost" yaml:"concrete_cost"`
}

// PayFor returns the configured rate for a job type
func (c CostConfig) PayFor(t JobType) float64 {
	switch t {
	case JobInstall:
		return c.InstallPay
	case JobUpgrade:
		return c.UpgradePay
	default:
		return c.RepairPay
	}
}
