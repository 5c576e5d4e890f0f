// README: Order aggregate and status definitions.
package order

import (
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusPickedUp  Status = "picked_up"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Actor types recorded on order_state_events.
const (
	ActorPassenger  = "passenger"
	ActorDriver     = "driver"
	ActorFleetAdmin = "fleet-admin"
	ActorSuperAdmin = "super-admin"
	ActorSystem     = "system"
)

type Order struct {
	ID             types.ID     `json:"id"`
	OrderNumber    string       `json:"orderNumber"`
	FleetID        types.ID     `json:"fleetId"`
	PassengerID    types.ID     `json:"passengerId"`
	PassengerPhone string       `json:"passengerPhone"`
	DriverID       *types.ID    `json:"driverId"`
	PickupAddress  string       `json:"pickupAddress"`
	DropoffAddress string       `json:"dropoffAddress"`
	EstimatedFare  types.Money  `json:"estimatedFare"`
	ActualFare     *types.Money `json:"actualFare,omitempty"`
	PaymentMethod  string       `json:"paymentMethod,omitempty"`
	Note           string       `json:"note,omitempty"`
	Status         Status       `json:"status"`
	StatusVersion  int          `json:"-"`
	RequestedAt    time.Time    `json:"requestedAt"`
	AcceptedAt     *time.Time   `json:"acceptedAt,omitempty"`
	PickedUpAt     *time.Time   `json:"pickedUpAt,omitempty"`
	CompletedAt    *time.Time   `json:"completedAt,omitempty"`
	CancelledAt    *time.Time   `json:"cancelledAt,omitempty"`
	CancelReason   *string      `json:"cancelReason,omitempty"`
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAccepted, StatusCancelled},
	StatusAccepted: {StatusPickedUp, StatusCancelled},
	StatusPickedUp: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusAccepted, StatusPickedUp, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}

// RequiresDriver reports whether an order in status s must carry a driver binding.
func RequiresDriver(s Status) bool {
	switch s {
	case StatusAccepted, StatusPickedUp, StatusCompleted:
		return true
	}
	return false
}

// Fare is the amount charged for the trip: the actual fare once set, the estimate otherwise.
func (o *Order) Fare() types.Money {
	if o.ActualFare != nil {
		return *o.ActualFare
	}
	return o.EstimatedFare
}

func (o *Order) BoundTo(driverID types.ID) bool {
	return o.DriverID != nil && *o.DriverID == driverID
}

func (o *Order) clone() *Order {
	c := *o
	if o.DriverID != nil {
		d := *o.DriverID
		c.DriverID = &d
	}
	if o.ActualFare != nil {
		f := *o.ActualFare
		c.ActualFare = &f
	}
	if o.CancelReason != nil {
		r := *o.CancelReason
		c.CancelReason = &r
	}
	c.AcceptedAt = cloneTime(o.AcceptedAt)
	c.PickedUpAt = cloneTime(o.PickedUpAt)
	c.CompletedAt = cloneTime(o.CompletedAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
