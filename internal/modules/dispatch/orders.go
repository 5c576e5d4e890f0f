// README: Order operations of the coordinator: booking, claim, advance, cancel, lookups.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type CreateInput struct {
	PassengerID    types.ID
	PassengerPhone string
	// FleetID wins over FleetCode when both are set.
	FleetID        types.ID
	FleetCode      string
	PickupAddress  string
	DropoffAddress string
	EstimatedFare  *types.Money
	Note           string
}

type CreateResult struct {
	Order *order.Order `json:"order"`
	// Driver is set when auto-match bound a driver during the booking.
	Driver *fleet.Driver `json:"driver,omitempty"`
}

func (c *Coordinator) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	fleetID := in.FleetID
	if fleetID == "" {
		if in.FleetCode == "" {
			return nil, order.ErrBadRequest
		}
		f, err := c.fleets.GetFleetByCode(ctx, in.FleetCode)
		if err != nil {
			return nil, err
		}
		fleetID = f.ID
	}

	var res *CreateResult
	err := c.do(ctx, string(fleetID), func(ctx context.Context) error {
		if _, err := c.fleets.EnsureBookable(ctx, fleetID); err != nil {
			return err
		}
		fare := types.TWD(c.cfg.BaseFare)
		if in.EstimatedFare != nil {
			fare = *in.EstimatedFare
		}
		o, err := c.orders.Create(ctx, order.CreateCommand{
			FleetID:        fleetID,
			PassengerID:    in.PassengerID,
			PassengerPhone: in.PassengerPhone,
			PickupAddress:  in.PickupAddress,
			DropoffAddress: in.DropoffAddress,
			EstimatedFare:  fare,
			Note:           in.Note,
		})
		if err != nil {
			return err
		}
		c.metrics.OrderCreated(string(fleetID))
		c.bcast.Emit(ctx, realtime.FleetRoom(fleetID), realtime.Event{
			Name: realtime.EventOrderNew,
			Data: realtime.OrderNew{
				OrderID:        o.ID,
				OrderNumber:    o.OrderNumber,
				PickupAddress:  o.PickupAddress,
				DropoffAddress: o.DropoffAddress,
				EstimatedFare:  o.EstimatedFare,
				PassengerPhone: o.PassengerPhone,
				Note:           o.Note,
			},
		})

		res = &CreateResult{Order: o}
		if c.cfg.AutoMatchWindow > 0 {
			c.scheduleAutoMatch(o.ID)
			return nil
		}
		if matched, d := c.autoMatch(ctx, o.ID); matched != nil {
			res.Order, res.Driver = matched, d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// autoMatch makes one claim attempt for the first idle online driver of the fleet.
// Losing to a manual claim or a cancel is not an error.
func (c *Coordinator) autoMatch(ctx context.Context, orderID types.ID) (*order.Order, *fleet.Driver) {
	log := c.log.With().Str("order", string(orderID)).Logger()
	o, err := c.orders.Get(ctx, orderID)
	if err != nil || o.Status != order.StatusPending {
		return nil, nil
	}
	candidates, err := c.fleets.ListOnline(ctx, o.FleetID, c.cfg.TaskHallLimit)
	if err != nil {
		log.Warn().Err(err).Msg("auto-match candidates")
		return nil, nil
	}
	for _, d := range candidates {
		_, busy, err := c.orders.ActiveOrderID(ctx, d.ID)
		if err != nil {
			log.Warn().Err(err).Str("driver", string(d.ID)).Msg("auto-match busy check")
			return nil, nil
		}
		if busy {
			continue
		}
		claimed, err := c.orders.Claim(ctx, order.ClaimCommand{
			OrderID:   orderID,
			DriverID:  d.ID,
			FleetID:   o.FleetID,
			ActorType: order.ActorSystem,
		})
		c.metrics.ClaimResult(claimOutcome("auto", err))
		if err != nil {
			if !errors.Is(err, order.ErrAlreadyClaimed) && !errors.Is(err, order.ErrInvalidState) {
				log.Warn().Err(err).Str("driver", string(d.ID)).Msg("auto-match claim")
			}
			return nil, nil
		}
		log.Info().Str("driver", string(d.ID)).Msg("auto-matched")
		c.notifyClaimed(ctx, claimed, d)
		return claimed, d
	}
	return nil, nil
}

func (c *Coordinator) scheduleAutoMatch(orderID types.ID) {
	time.AfterFunc(c.cfg.AutoMatchWindow, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := c.do(ctx, string(orderID), func(ctx context.Context) error {
			c.autoMatch(ctx, orderID)
			return nil
		})
		if err != nil && !errors.Is(err, ErrStopped) {
			c.log.Warn().Err(err).Str("order", string(orderID)).Msg("delayed auto-match")
		}
	})
}

// Claim binds the driver to a pending order of its own fleet. Concurrent claims for one
// order run one after another on the order's lane; the store's conditional write decides.
func (c *Coordinator) Claim(ctx context.Context, driverID, orderID types.ID) (*order.Order, error) {
	var out *order.Order
	err := c.do(ctx, string(orderID), func(ctx context.Context) error {
		d, err := c.fleets.AvailableDriver(ctx, driverID)
		if err != nil {
			return err
		}
		o, err := c.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if o.FleetID != d.FleetID {
			c.metrics.ClaimResult("fleet_mismatch")
			return order.ErrFleetMismatch
		}
		claimed, err := c.orders.Claim(ctx, order.ClaimCommand{
			OrderID:   orderID,
			DriverID:  driverID,
			FleetID:   d.FleetID,
			ActorType: order.ActorDriver,
		})
		c.metrics.ClaimResult(claimOutcome("manual", err))
		if err != nil {
			return err
		}
		c.notifyClaimed(ctx, claimed, d)
		out = claimed
		return nil
	})
	return out, err
}

func claimOutcome(kind string, err error) string {
	switch {
	case err == nil:
		return kind + "_won"
	case errors.Is(err, order.ErrAlreadyClaimed):
		return kind + "_already_claimed"
	case errors.Is(err, order.ErrInvalidState):
		return kind + "_invalid_state"
	default:
		return kind + "_error"
	}
}

func (c *Coordinator) notifyClaimed(ctx context.Context, o *order.Order, d *fleet.Driver) {
	c.metrics.Transition(string(order.StatusAccepted))
	c.bcast.Emit(ctx, realtime.PassengerRoom(o.ID), realtime.Event{
		Name: realtime.EventOrderAccepted,
		Data: realtime.OrderAccepted{
			OrderID: o.ID,
			Driver: realtime.DriverCard{
				Name:         d.Name,
				Phone:        d.Phone,
				LicensePlate: d.LicensePlate,
				CarInfo:      d.CarInfo,
			},
		},
	})
	c.bcast.Emit(ctx, realtime.FleetRoom(o.FleetID), realtime.Event{
		Name: realtime.EventOrderClaimed,
		Data: realtime.OrderClaimed{OrderID: o.ID, DriverID: d.ID},
	})
}

type AdvanceInput struct {
	DriverID      types.ID
	OrderID       types.ID
	Next          order.Status
	ActualFare    *types.Money
	PaymentMethod string
}

func (c *Coordinator) Advance(ctx context.Context, in AdvanceInput) (*order.Order, error) {
	var out *order.Order
	err := c.do(ctx, string(in.OrderID), func(ctx context.Context) error {
		o, err := c.orders.Advance(ctx, order.AdvanceCommand{
			OrderID:       in.OrderID,
			DriverID:      in.DriverID,
			Next:          in.Next,
			ActualFare:    in.ActualFare,
			PaymentMethod: in.PaymentMethod,
		})
		if err != nil {
			return err
		}
		c.afterAdvance(ctx, o)
		out = o
		return nil
	})
	return out, err
}

// RideCompletion is the passenger's end-of-trip confirmation, the only place a rating
// enters the driver's statistics.
type RideCompletion struct {
	Passenger     infra.Identity
	OrderID       types.ID
	Rating        *float64
	PaymentMethod string
}

// CompleteRide lets the passenger who booked a picked-up order finish it.
func (c *Coordinator) CompleteRide(ctx context.Context, in RideCompletion) (*order.Order, error) {
	var out *order.Order
	err := c.do(ctx, string(in.OrderID), func(ctx context.Context) error {
		o, err := c.orders.Get(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if in.Passenger.Role != infra.RolePassenger || o.PassengerID != in.Passenger.ID {
			return ErrForbidden
		}
		if o.DriverID == nil {
			return order.ErrInvalidState
		}
		done, err := c.orders.Complete(ctx, order.AdvanceCommand{
			OrderID:       o.ID,
			DriverID:      *o.DriverID,
			Next:          order.StatusCompleted,
			PaymentMethod: in.PaymentMethod,
			Rating:        in.Rating,
			ActorType:     order.ActorPassenger,
			ActorID:       in.Passenger.ID,
		})
		if err != nil {
			return err
		}
		c.afterAdvance(ctx, done)
		c.bcast.Emit(ctx, realtime.DriverRoom(*o.DriverID), realtime.Event{
			Name: realtime.EventOrderStatus,
			Data: realtime.OrderStatus{OrderID: done.ID, Status: string(done.Status), ActualFare: done.ActualFare},
		})
		out = done
		return nil
	})
	return out, err
}

func (c *Coordinator) afterAdvance(ctx context.Context, o *order.Order) {
	c.metrics.Transition(string(o.Status))
	c.bcast.Emit(ctx, realtime.PassengerRoom(o.ID), realtime.Event{
		Name: realtime.EventOrderStatus,
		Data: realtime.OrderStatus{OrderID: o.ID, Status: string(o.Status), ActualFare: o.ActualFare},
	})
	if order.IsTerminal(o.Status) {
		if err := c.locations.ClearTracking(ctx, o.ID); err != nil {
			c.log.Warn().Err(err).Str("order", string(o.ID)).Msg("clear tracking")
		}
	}
}

type CancelInput struct {
	Actor   infra.Identity
	OrderID types.ID
	Reason  string
}

func (c *Coordinator) Cancel(ctx context.Context, in CancelInput) (*order.Order, error) {
	var out *order.Order
	err := c.do(ctx, string(in.OrderID), func(ctx context.Context) error {
		o, err := c.orders.Get(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !canCancel(in.Actor, o) {
			return ErrForbidden
		}
		actorID := in.Actor.ID
		cancelled, prevDriver, err := c.orders.Cancel(ctx, order.CancelCommand{
			OrderID:   in.OrderID,
			ActorType: actorType(in.Actor.Role),
			ActorID:   &actorID,
			Reason:    in.Reason,
		})
		if err != nil {
			return err
		}
		c.afterCancel(ctx, cancelled, prevDriver)
		out = cancelled
		return nil
	})
	return out, err
}

func (c *Coordinator) afterCancel(ctx context.Context, o *order.Order, prevDriver *types.ID) {
	c.metrics.Transition(string(order.StatusCancelled))
	reason := ""
	if o.CancelReason != nil {
		reason = *o.CancelReason
	}
	notice := realtime.Event{
		Name: realtime.EventOrderCancelled,
		Data: realtime.OrderCancelled{OrderID: o.ID, OrderNumber: o.OrderNumber, Reason: reason},
	}
	if prevDriver != nil {
		c.bcast.Emit(ctx, realtime.DriverRoom(*prevDriver), notice)
	} else {
		c.bcast.Emit(ctx, realtime.FleetRoom(o.FleetID), notice)
	}
	c.bcast.Emit(ctx, realtime.PassengerRoom(o.ID), realtime.Event{
		Name: realtime.EventOrderStatus,
		Data: realtime.OrderStatus{OrderID: o.ID, Status: string(o.Status)},
	})
	if err := c.locations.ClearTracking(ctx, o.ID); err != nil {
		c.log.Warn().Err(err).Str("order", string(o.ID)).Msg("clear tracking")
	}
}

func canCancel(actor infra.Identity, o *order.Order) bool {
	switch actor.Role {
	case infra.RoleSuperAdmin, infra.RoleSystem:
		return true
	case infra.RolePassenger:
		return o.PassengerID == actor.ID
	case infra.RoleFleetAdmin:
		return o.FleetID == actor.FleetID
	case infra.RoleDriver:
		return o.BoundTo(actor.ID)
	}
	return false
}

// canView reports whether the caller may read the order and its tracking.
func canView(caller infra.Identity, o *order.Order) bool {
	switch caller.Role {
	case infra.RoleDriver:
		return o.BoundTo(caller.ID) || (o.Status == order.StatusPending && o.FleetID == caller.FleetID)
	default:
		return canCancel(caller, o)
	}
}

func actorType(r infra.Role) string {
	switch r {
	case infra.RolePassenger:
		return order.ActorPassenger
	case infra.RoleDriver:
		return order.ActorDriver
	case infra.RoleFleetAdmin:
		return order.ActorFleetAdmin
	case infra.RoleSuperAdmin:
		return order.ActorSuperAdmin
	default:
		return order.ActorSystem
	}
}

func (c *Coordinator) GetOrder(ctx context.Context, caller infra.Identity, id types.ID) (*order.Order, error) {
	o, err := c.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(caller, o) {
		return nil, ErrForbidden
	}
	return o, nil
}

// Tracking returns the live position for the order, falling back to the bound driver's
// last known location.
func (c *Coordinator) Tracking(ctx context.Context, caller infra.Identity, id types.ID) (*order.Order, *location.Position, error) {
	o, err := c.GetOrder(ctx, caller, id)
	if err != nil {
		return nil, nil, err
	}
	if o.DriverID == nil || order.IsTerminal(o.Status) {
		return o, nil, nil
	}
	pos, err := c.locations.Position(ctx, o.ID, o.DriverID)
	if errors.Is(err, location.ErrNoPosition) {
		return o, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return o, pos, nil
}

// AvailableTasks is the task hall: the oldest pending orders of the driver's fleet.
func (c *Coordinator) AvailableTasks(ctx context.Context, driverID types.ID) ([]*order.Order, error) {
	d, err := c.fleets.AvailableDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	return c.orders.ListPendingByFleet(ctx, d.FleetID, c.cfg.TaskHallLimit)
}

type MyTasks struct {
	Tasks  []*order.Order `json:"tasks"`
	Driver *fleet.Driver  `json:"driver"`
}

func (c *Coordinator) MyTasks(ctx context.Context, driverID types.ID, status order.Status, limit int) (*MyTasks, error) {
	d, err := c.fleets.GetDriver(ctx, driverID)
	if err != nil {
		return nil, err
	}
	var statuses []order.Status
	if status != "" {
		statuses = []order.Status{status}
	}
	if limit <= 0 || limit > 100 {
		limit = c.cfg.TaskHallLimit
	}
	tasks, err := c.orders.ListByDriver(ctx, driverID, statuses, limit)
	if err != nil {
		return nil, err
	}
	return &MyTasks{Tasks: tasks, Driver: d}, nil
}
