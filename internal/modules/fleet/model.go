// README: Fleet and driver records consulted by dispatch.
package fleet

import (
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// AccountStatus is the administrative state shared by fleets and drivers.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountPending   AccountStatus = "pending"
	AccountSuspended AccountStatus = "suspended"
)

type OnlineStatus string

const (
	Online  OnlineStatus = "online"
	Offline OnlineStatus = "offline"
)

type Fleet struct {
	ID     types.ID      `json:"id"`
	Code   string        `json:"code"`
	Name   string        `json:"name"`
	Status AccountStatus `json:"status"`
}

type Driver struct {
	ID           types.ID      `json:"id"`
	FleetID      types.ID      `json:"fleetId"`
	Name         string        `json:"name"`
	Phone        string        `json:"phone"`
	LicensePlate string        `json:"licensePlate"`
	CarInfo      string        `json:"carInfo,omitempty"`
	Status       AccountStatus `json:"status"`
	OnlineStatus OnlineStatus  `json:"onlineStatus"`
	TotalTrips   int           `json:"totalTrips"`
	TotalIncome  types.Money   `json:"totalIncome"`
	Rating       float64       `json:"rating"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Available reports whether the driver can take work right now.
func (d *Driver) Available() bool {
	return d.Status == AccountActive && d.OnlineStatus == Online
}
