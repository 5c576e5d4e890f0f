// README: Rooms, event names and the payloads pushed to realtime subscribers.
package realtime

import (
	"encoding/json"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// Room is a named broadcast group.
type Room string

const SuperAdminRoom Room = "super-admin"

func DriverRoom(id types.ID) Room         { return Room("driver:" + string(id)) }
func FleetRoom(id types.ID) Room          { return Room("fleet:" + string(id)) }
func PassengerRoom(orderID types.ID) Room { return Room("passenger:" + string(orderID)) }

const (
	EventOrderNew       = "order:new"
	EventOrderAccepted  = "order:accepted"
	EventOrderClaimed   = "order:claimed"
	EventOrderStatus    = "order:status-update"
	EventOrderCancelled = "order:cancelled"
	EventDriverLocation = "driver:location-update"
	EventDriverStatus   = "driver:status"
	EventFleetStats     = "fleet:stats"
	EventPlatformStats  = "platform:stats"
	EventError          = "error"
)

// Inbound frame names sent by clients over the websocket.
const (
	FrameDriverOnline   = "driver:online"
	FrameDriverOffline  = "driver:offline"
	FrameDriverLocation = "driver:location"
	FrameOrderClaim     = "order:claim"
	FrameOrderAdvance   = "order:advance"
)

// Event is one outbound frame.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Inbound is one frame received from a client; Data is decoded by the frame handler.
type Inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type OrderNew struct {
	OrderID        types.ID    `json:"orderId"`
	OrderNumber    string      `json:"orderNumber"`
	PickupAddress  string      `json:"pickupAddress"`
	DropoffAddress string      `json:"dropoffAddress"`
	EstimatedFare  types.Money `json:"estimatedFare"`
	PassengerPhone string      `json:"passengerPhone"`
	Note           string      `json:"note,omitempty"`
}

type DriverCard struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	LicensePlate string `json:"licensePlate"`
	CarInfo      string `json:"carInfo,omitempty"`
}

type OrderAccepted struct {
	OrderID types.ID   `json:"orderId"`
	Driver  DriverCard `json:"driver"`
}

type OrderClaimed struct {
	OrderID  types.ID `json:"orderId"`
	DriverID types.ID `json:"driverId"`
}

type OrderStatus struct {
	OrderID    types.ID     `json:"orderId"`
	Status     string       `json:"status"`
	ActualFare *types.Money `json:"actualFare,omitempty"`
}

type OrderCancelled struct {
	OrderID     types.ID `json:"orderId"`
	OrderNumber string   `json:"orderNumber"`
	Reason      string   `json:"reason,omitempty"`
}

type DriverLocation struct {
	OrderID   types.ID  `json:"orderId"`
	DriverID  types.ID  `json:"driverId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type DriverStatus struct {
	DriverID types.ID `json:"driverId"`
	Status   string   `json:"status"`
}

type FleetStats struct {
	FleetID       types.ID `json:"fleetId"`
	OnlineDrivers int      `json:"onlineDrivers"`
	ActiveOrders  int      `json:"activeOrders"`
}

type PlatformStats struct {
	OnlineDrivers int `json:"onlineDrivers"`
	ActiveOrders  int `json:"activeOrders"`
	Connections   int `json:"connections"`
}

type ErrorPayload struct {
	Frame   string `json:"frame,omitempty"`
	Message string `json:"message"`
}
