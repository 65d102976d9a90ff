package models

import (
	"errors"
	"strings"
	"time"
)

// JobType classifies a work order by the kind of visit it requires
type JobType string

const (
	JobRepair  JobType = "Repair"
	JobInstall JobType = "Install"
	JobUpgrade JobType = "Upgrade"
)

// DefaultDuration returns the on-site minutes assumed for a job type
func (t JobType) DefaultDuration() int {
	switch t {
	case JobInstall:
		return 90
	case JobUpgrade:
		return 60
	default:
		return 60
	}
}

// OrderStatus tracks how far an order has progressed through detail fetching
type OrderStatus string

const (
	// StatusPending means the id was harvested but its detail page was never requested
	StatusPending OrderStatus = "pending"
	// StatusFetched means the detail page was parsed and the order carries an address
	StatusFetched OrderStatus = "fetched"
	// StatusFailed means a detail fetch was attempted and must be retried on a later run
	StatusFailed OrderStatus = "failed"
)

// ErrMissingAddress is returned when promoting an order whose parsed page had no address
var ErrMissingAddress = errors.New("order has no address")

// Order represents one work order harvested from the portal
type Order struct {
	ID                  string      `json:"id"`
	Address             string      `json:"address,omitempty"`
	City                string      `json:"city,omitempty"`
	State               string      `json:"state,omitempty"`
	Zip                 string      `json:"zip,omitempty"`
	ConfirmScheduleDate string      `json:"confirmScheduleDate,omitempty"`
	BeginTime           string      `json:"beginTime,omitempty"`
	Type                JobType     `json:"type,omitempty"`
	JobDuration         int         `json:"jobDuration,omitempty"`
	HasPoleMount        bool        `json:"hasPoleMount,omitempty"`
	DepartureIncomplete bool        `json:"departureIncomplete,omitempty"`
	Status              OrderStatus `json:"_status,omitempty"`
	Attempts            int         `json:"attempts,omitempty"`
	LastError           string      `json:"lastError,omitempty"`
	FetchedAt           time.Time   `json:"fetchedAt,omitempty"`
}

// NewStub creates the bare pending record stored as soon as an id is harvested
func NewStub(id string) *Order {
	return &Order{ID: id, Status: StatusPending}
}

// ParsedOrder is the parser's view of a detail page before it is accepted
type ParsedOrder struct {
	Address             string
	City                string
	State               string
	Zip                 string
	ConfirmScheduleDate string
	BeginTime           string
	Type                JobType
	JobDuration         int
	HasPoleMount        bool
	DepartureIncomplete bool
}

// NeedsDetail reports whether the order still has to be fetched
func (o *Order) NeedsDetail() bool {
	return o.Status != StatusFetched || strings.TrimSpace(o.Address) == ""
}

// Ready reports whether the order can take part in trip synthesis
func (o *Order) Ready() bool {
	return o.Status == StatusFetched && strings.TrimSpace(o.Address) != "" && o.ConfirmScheduleDate != ""
}

// Promote moves an order to the fetched state. Pages without an address are
// recorded as a retryable failure and the order keeps its previous data.
func (o *Order) Promote(p ParsedOrder, at time.Time) error {
	o.Attempts++
	if strings.TrimSpace(p.Address) == "" {
		o.Status = StatusFailed
		o.LastError = ErrMissingAddress.Error()
		return ErrMissingAddress
	}

	o.Address = strings.TrimSpace(p.Address)
	o.City = p.City
	o.State = p.State
	o.Zip = p.Zip
	o.ConfirmScheduleDate = p.ConfirmScheduleDate
	o.BeginTime = p.BeginTime
	o.Type = p.Type
	o.JobDuration = p.JobDuration
	o.HasPoleMount = p.HasPoleMount
	o.DepartureIncomplete = p.DepartureIncomplete
	o.Status = StatusFetched
	o.LastError = ""
	o.FetchedAt = at
	return nil
}

// Fail records a retryable fetch failure
func (o *Order) Fail(err error) {
	o.Attempts++
	o.Status = StatusFailed
	if err != nil {
		o.LastError = err.Error()
	}
}

// FullAddress joins street, city, state and zip into one routable line
func (o *Order) FullAddress() string {
	parts := []string{strings.TrimSpace(o.Address)}
	if o.City != "" {
		parts = append(parts, strings.TrimSpace(o.City))
	}
	stateZip := strings.TrimSpace(strings.TrimSpace(o.State) + " " + strings.TrimSpace(o.Zip))
	if stateZip != "" {
		parts = append(parts, stateZip)
	}
	return strings.Join(parts, ", ")
}
