// README: Location service applies driver pings and answers tracking lookups.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var (
	ErrBadCoordinates = errors.New("coordinates out of range")
	ErrBadRequest     = errors.New("bad request")
	ErrNoPosition     = errors.New("no position known")
)

// ActiveOrders resolves the order a driver is currently bound to. The order
// store is authoritative; the cache never decides binding on its own.
type ActiveOrders interface {
	ActiveOrderID(ctx context.Context, driverID types.ID) (types.ID, bool, error)
}

type Service struct {
	cache  Cache
	orders ActiveOrders
	now    func() time.Time
}

func NewService(cache Cache, orders ActiveOrders) *Service {
	return &Service{cache: cache, orders: orders, now: time.Now}
}

type PingCommand struct {
	DriverID types.ID
	Position types.Point
	// At is the client's sample time; zero means the time the ping is applied.
	At time.Time
}

type PingResult struct {
	Applied  bool           `json:"applied"`
	Location DriverLocation `json:"location"`
	// Tracking is set when the driver is bound to an active order.
	Tracking *OrderTracking `json:"tracking,omitempty"`
}

// Ping records the driver position and, when the driver is bound to an active
// order, the order's tracking row. A ping older than the stored one is dropped,
// so the newest sample wins regardless of arrival order.
func (s *Service) Ping(ctx context.Context, cmd PingCommand) (*PingResult, error) {
	if cmd.DriverID == "" {
		return nil, ErrBadRequest
	}
	if !cmd.Position.Valid() {
		return nil, ErrBadCoordinates
	}
	now := s.now()
	at := cmd.At
	if at.IsZero() || at.After(now) {
		at = now
	}

	loc := DriverLocation{DriverID: cmd.DriverID, Position: cmd.Position, UpdatedAt: at}
	applied, err := s.cache.SetDriver(ctx, loc)
	if err != nil {
		return nil, err
	}
	res := &PingResult{Applied: applied, Location: loc}
	if !applied {
		return res, nil
	}

	orderID, bound, err := s.orders.ActiveOrderID(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !bound {
		return res, nil
	}

	tr := OrderTracking{OrderID: orderID, DriverID: cmd.DriverID, Position: cmd.Position, UpdatedAt: at}
	prev, err := s.cache.Tracking(ctx, orderID)
	switch {
	case err == nil && prev.DriverID == cmd.DriverID:
		tr.DistanceKm = prev.DistanceKm + distanceKm(prev.Position, cmd.Position)
	case err != nil && !errors.Is(err, ErrNoPosition):
		return nil, err
	}
	ok, err := s.cache.SetTracking(ctx, tr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return res, nil
	}
	// The order may have gone terminal, and cleared its row, since the lookup above.
	current, still, err := s.orders.ActiveOrderID(ctx, cmd.DriverID)
	if err != nil {
		return nil, err
	}
	if !still || current != orderID {
		if err := s.cache.ClearTracking(ctx, orderID); err != nil {
			return nil, err
		}
		return res, nil
	}
	res.Tracking = &tr
	return res, nil
}

// Position returns the order's tracking row, falling back to the bound driver's
// last known location when the order has not been tracked yet.
func (s *Service) Position(ctx context.Context, orderID types.ID, driverID *types.ID) (*Position, error) {
	tr, err := s.cache.Tracking(ctx, orderID)
	if err == nil {
		return &Position{Point: tr.Position, UpdatedAt: tr.UpdatedAt, Source: SourceOrder}, nil
	}
	if !errors.Is(err, ErrNoPosition) {
		return nil, err
	}
	if driverID == nil {
		return nil, ErrNoPosition
	}
	loc, err := s.cache.Driver(ctx, *driverID)
	if err != nil {
		return nil, err
	}
	return &Position{Point: loc.Position, UpdatedAt: loc.UpdatedAt, Source: SourceDriver}, nil
}

func (s *Service) Driver(ctx context.Context, driverID types.ID) (*DriverLocation, error) {
	return s.cache.Driver(ctx, driverID)
}

func (s *Service) Tracking(ctx context.Context, orderID types.ID) (*OrderTracking, error) {
	return s.cache.Tracking(ctx, orderID)
}

func (s *Service) ClearDriver(ctx context.Context, driverID types.ID) error {
	return s.cache.ClearDriver(ctx, driverID)
}

func (s *Service) ClearTracking(ctx context.Context, orderID types.ID) error {
	return s.cache.ClearTracking(ctx, orderID)
}
