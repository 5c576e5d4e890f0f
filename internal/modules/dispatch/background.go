// README: Periodic work: pending-order expiry and fleet/platform statistics.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
)

const sweepBatch = 100

func (c *Coordinator) runSweeper(ctx context.Context) {
	if c.cfg.PendingTTL <= 0 {
		return
	}
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := c.SweepPending(ctx); err != nil {
				c.log.Warn().Err(err).Msg("pending sweep")
			} else if n > 0 {
				c.log.Info().Int("expired", n).Msg("pending sweep")
			}
		}
	}
}

// SweepPending cancels orders pending for longer than the configured TTL. Orders that
// changed state in the meantime are skipped.
func (c *Coordinator) SweepPending(ctx context.Context) (int, error) {
	if c.cfg.PendingTTL <= 0 {
		return 0, nil
	}
	stale, err := c.orders.ListStalePending(ctx, c.now().Add(-c.cfg.PendingTTL), sweepBatch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, o := range stale {
		_, err := c.Cancel(ctx, CancelInput{
			Actor:   infra.Identity{Role: infra.RoleSystem, ID: "sweeper"},
			OrderID: o.ID,
			Reason:  "expired",
		})
		switch {
		case err == nil:
			expired++
		case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict):
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (c *Coordinator) runStats(ctx context.Context) {
	fleetTick := time.NewTicker(c.cfg.FleetStatsInterval)
	platformTick := time.NewTicker(c.cfg.PlatformStatsInterval)
	defer fleetTick.Stop()
	defer platformTick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-fleetTick.C:
			c.EmitFleetStats(ctx)
		case <-platformTick.C:
			c.EmitPlatformStats(ctx)
		}
	}
}

// EmitFleetStats pushes online-driver and active-order counts to the admins of each
// fleet that has one connected.
func (c *Coordinator) EmitFleetStats(ctx context.Context) {
	for _, fleetID := range c.registry.AdminFleets() {
		online, err := c.fleets.CountOnline(ctx, fleetID)
		if err != nil {
			c.log.Warn().Err(err).Str("fleet", string(fleetID)).Msg("fleet stats")
			continue
		}
		active, err := c.orders.CountActive(ctx, fleetID)
		if err != nil {
			c.log.Warn().Err(err).Str("fleet", string(fleetID)).Msg("fleet stats")
			continue
		}
		c.bcast.EmitRole(ctx, realtime.FleetRoom(fleetID), infra.RoleFleetAdmin, realtime.Event{
			Name: realtime.EventFleetStats,
			Data: realtime.FleetStats{FleetID: fleetID, OnlineDrivers: online, ActiveOrders: active},
		})
	}
}

func (c *Coordinator) EmitPlatformStats(ctx context.Context) {
	if len(c.registry.Members(realtime.SuperAdminRoom)) == 0 {
		return
	}
	online, err := c.fleets.CountOnline(ctx, "")
	if err != nil {
		c.log.Warn().Err(err).Msg("platform stats")
		return
	}
	active, err := c.orders.CountActive(ctx, "")
	if err != nil {
		c.log.Warn().Err(err).Msg("platform stats")
		return
	}
	c.bcast.Emit(ctx, realtime.SuperAdminRoom, realtime.Event{
		Name: realtime.EventPlatformStats,
		Data: realtime.PlatformStats{OnlineDrivers: online, ActiveOrders: active, Connections: c.registry.Count()},
	})
}
