// README: Fleet service answers booking and claim preconditions and toggles driver availability.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var (
	ErrFleetNotFound    = errors.New("fleet not found")
	ErrFleetUnavailable = errors.New("fleet is not accepting bookings")
	ErrNoDriversOnline  = errors.New("no drivers online in fleet")
	ErrDriverNotFound   = errors.New("driver not found")
	ErrDriverInactive   = errors.New("driver account is not active")
	ErrDriverOffline    = errors.New("driver is offline")
	ErrBadStatus        = errors.New("online status must be online or offline")
)

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// EnsureBookable fails unless the fleet is active and has at least one available driver.
func (s *Service) EnsureBookable(ctx context.Context, fleetID types.ID) (*Fleet, error) {
	f, err := s.store.GetFleet(ctx, fleetID)
	if err != nil {
		return nil, err
	}
	if f.Status != AccountActive {
		return nil, ErrFleetUnavailable
	}
	n, err := s.store.CountOnline(ctx, fleetID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoDriversOnline
	}
	return f, nil
}

func (s *Service) GetFleet(ctx context.Context, id types.ID) (*Fleet, error) {
	return s.store.GetFleet(ctx, id)
}

func (s *Service) GetFleetByCode(ctx context.Context, code string) (*Fleet, error) {
	return s.store.GetFleetByCode(ctx, code)
}

func (s *Service) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	return s.store.GetDriver(ctx, id)
}

// AvailableDriver loads the driver and checks it may take work.
func (s *Service) AvailableDriver(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := s.store.GetDriver(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != AccountActive {
		return nil, ErrDriverInactive
	}
	if d.OnlineStatus != Online {
		return nil, ErrDriverOffline
	}
	return d, nil
}

func (s *Service) SetOnlineStatus(ctx context.Context, id types.ID, status OnlineStatus) (*Driver, error) {
	if status != Online && status != Offline {
		return nil, ErrBadStatus
	}
	d, err := s.store.GetDriver(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != AccountActive {
		return nil, ErrDriverInactive
	}
	if err := s.store.SetOnlineStatus(ctx, id, status, s.now()); err != nil {
		return nil, err
	}
	d.OnlineStatus = status
	return d, nil
}

func (s *Service) ListOnline(ctx context.Context, fleetID types.ID, limit int) ([]*Driver, error) {
	return s.store.ListOnline(ctx, fleetID, limit)
}

func (s *Service) CountOnline(ctx context.Context, fleetID types.ID) (int, error) {
	return s.store.CountOnline(ctx, fleetID)
}
