// README: Latest-known positions: per driver, and per order while a driver is bound.
package location

import (
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type DriverLocation struct {
	DriverID  types.ID    `json:"driverId"`
	Position  types.Point `json:"position"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// OrderTracking is the position of the driver bound to an order. DistanceKm
// accumulates the great-circle distance between consecutive applied pings.
type OrderTracking struct {
	OrderID    types.ID    `json:"orderId"`
	DriverID   types.ID    `json:"driverId"`
	Position   types.Point `json:"position"`
	DistanceKm float64     `json:"distanceKm"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Source tells where a reported position came from.
type Source string

const (
	SourceOrder  Source = "order"
	SourceDriver Source = "driver"
)

type Position struct {
	Point     types.Point `json:"position"`
	UpdatedAt time.Time   `json:"updatedAt"`
	Source    Source      `json:"source"`
}
