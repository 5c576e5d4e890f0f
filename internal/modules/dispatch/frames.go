// README: Inbound realtime frames translated into coordinator calls.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var ErrUnknownFrame = errors.New("unknown frame")

type locationFrame struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

type claimFrame struct {
	OrderID types.ID `json:"orderId"`
}

type advanceFrame struct {
	OrderID       types.ID     `json:"orderId"`
	Status        order.Status `json:"status"`
	ActualFare    *int64       `json:"actualFare"`
	PaymentMethod string       `json:"paymentMethod"`
}

// HandleFrame runs one client frame. Failures are reported back on the same connection
// as an error event and returned.
func (c *Coordinator) HandleFrame(ctx context.Context, conn *realtime.Connection, in realtime.Inbound) error {
	err := c.handleFrame(ctx, conn, in)
	if err != nil {
		conn.Send(realtime.Event{
			Name: realtime.EventError,
			Data: realtime.ErrorPayload{Frame: in.Event, Message: err.Error()},
		})
	}
	return err
}

func (c *Coordinator) handleFrame(ctx context.Context, conn *realtime.Connection, in realtime.Inbound) error {
	ident := conn.Identity
	if ident.Role != infra.RoleDriver {
		return ErrForbidden
	}
	switch in.Event {
	case realtime.FrameDriverOnline:
		_, err := c.SetOnline(ctx, ident.ID, fleet.Online, conn)
		return err
	case realtime.FrameDriverOffline:
		_, err := c.SetOnline(ctx, ident.ID, fleet.Offline, conn)
		return err
	case realtime.FrameDriverLocation:
		var f locationFrame
		if err := decode(in.Data, &f); err != nil {
			return err
		}
		_, err := c.Ping(ctx, ident.ID, types.Point{Lat: f.Latitude, Lng: f.Longitude}, f.Timestamp)
		return err
	case realtime.FrameOrderClaim:
		var f claimFrame
		if err := decode(in.Data, &f); err != nil {
			return err
		}
		_, err := c.Claim(ctx, ident.ID, f.OrderID)
		return err
	case realtime.FrameOrderAdvance:
		var f advanceFrame
		if err := decode(in.Data, &f); err != nil {
			return err
		}
		adv := AdvanceInput{
			DriverID:      ident.ID,
			OrderID:       f.OrderID,
			Next:          f.Status,
			PaymentMethod: f.PaymentMethod,
		}
		if f.ActualFare != nil {
			fare := types.TWD(*f.ActualFare)
			adv.ActualFare = &fare
		}
		_, err := c.Advance(ctx, adv)
		return err
	default:
		return ErrUnknownFrame
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return order.ErrBadRequest
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Join(order.ErrBadRequest, err)
	}
	return nil
}
