// README: Driver-side operations: pings, availability, realtime connect and disconnect.
package dispatch

import (
	"context"
	"strconv"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// Ping stores the driver's position and forwards it to the passenger of the bound order.
func (c *Coordinator) Ping(ctx context.Context, driverID types.ID, p types.Point, at time.Time) (*location.PingResult, error) {
	var out *location.PingResult
	err := c.do(ctx, string(driverID), func(ctx context.Context) error {
		res, err := c.locations.Ping(ctx, location.PingCommand{DriverID: driverID, Position: p, At: at})
		if err != nil {
			return err
		}
		c.metrics.Ping(res.Applied)
		if tr := res.Tracking; tr != nil {
			c.bcast.Emit(ctx, realtime.PassengerRoom(tr.OrderID), realtime.Event{
				Name: realtime.EventDriverLocation,
				Data: realtime.DriverLocation{
					OrderID:   tr.OrderID,
					DriverID:  tr.DriverID,
					Latitude:  tr.Position.Lat,
					Longitude: tr.Position.Lng,
					UpdatedAt: tr.UpdatedAt,
				},
			})
		}
		out = res
		return nil
	})
	return out, err
}

// SetOnline toggles availability and tells the rest of the fleet. origin, when set, is the
// connection that asked and does not get its own notice back.
func (c *Coordinator) SetOnline(ctx context.Context, driverID types.ID, status fleet.OnlineStatus, origin *realtime.Connection) (*fleet.Driver, error) {
	var out *fleet.Driver
	err := c.do(ctx, string(driverID), func(ctx context.Context) error {
		d, err := c.fleets.SetOnlineStatus(ctx, driverID, status)
		if err != nil {
			return err
		}
		c.bcast.EmitExcept(ctx, realtime.FleetRoom(d.FleetID), realtime.Event{
			Name: realtime.EventDriverStatus,
			Data: realtime.DriverStatus{DriverID: d.ID, Status: string(status)},
		}, origin)
		out = d
		return nil
	})
	return out, err
}

// Connect authenticates a realtime client and joins its rooms. A passenger may only follow
// its own order. The superseded connection of the same participant, if any, is returned
// for the caller to close.
func (c *Coordinator) Connect(ctx context.Context, token string, orderID types.ID, ch realtime.Channel) (conn, superseded *realtime.Connection, err error) {
	ident, err := c.registry.Authenticate(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	if ident.Role == infra.RolePassenger && orderID != "" {
		o, err := c.orders.Get(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
		if o.PassengerID != ident.ID {
			return nil, nil, ErrForbidden
		}
	}
	conn, superseded = c.registry.Register(*ident, orderID, ch)
	c.metrics.Connections(string(ident.Role), c.registry.CountRole(ident.Role))
	c.log.Debug().
		Str("role", string(ident.Role)).
		Str("id", string(ident.ID)).
		Bool("superseded", superseded != nil).
		Msg("realtime connected")
	return conn, superseded, nil
}

// Disconnect drops the connection. For a driver's current connection it also forgets the
// last known location and tells the fleet the driver went offline. Orders are untouched.
func (c *Coordinator) Disconnect(ctx context.Context, conn *realtime.Connection) error {
	key := "conn:" + strconv.FormatUint(conn.ID, 10)
	if conn.Identity.Role == infra.RoleDriver {
		key = string(conn.Identity.ID)
	}
	return c.do(ctx, key, func(ctx context.Context) error {
		current := c.registry.Disconnect(conn)
		role := conn.Identity.Role
		c.metrics.Connections(string(role), c.registry.CountRole(role))
		if !current || role != infra.RoleDriver {
			return nil
		}
		if err := c.locations.ClearDriver(ctx, conn.Identity.ID); err != nil {
			c.log.Warn().Err(err).Str("driver", string(conn.Identity.ID)).Msg("clear driver location")
		}
		c.bcast.Emit(ctx, realtime.FleetRoom(conn.Identity.FleetID), realtime.Event{
			Name: realtime.EventDriverStatus,
			Data: realtime.DriverStatus{DriverID: conn.Identity.ID, Status: string(fleet.Offline)},
		})
		return nil
	})
}

// ActiveOrder is the accepted or picked-up order of the driver, if any.
func (c *Coordinator) ActiveOrder(ctx context.Context, driverID types.ID) (*order.Order, error) {
	return c.orders.ActiveByDriver(ctx, driverID)
}
