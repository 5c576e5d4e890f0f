// README: Order service implements state transitions and persistence.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

var (
	ErrInvalidState   = errors.New("invalid state transition")
	ErrNotFound       = errors.New("order not found")
	ErrConflict       = errors.New("order state conflict")
	ErrAlreadyClaimed = errors.New("order already claimed")
	ErrNotBoundDriver = errors.New("driver is not bound to this order")
	ErrFleetMismatch  = errors.New("driver belongs to another fleet")
	ErrBadRequest     = errors.New("bad request")
)

// maxCASAttempts bounds re-reads after losing a version check to a concurrent writer.
const maxCASAttempts = 3

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

type CreateCommand struct {
	FleetID        types.ID
	PassengerID    types.ID
	PassengerPhone string
	PickupAddress  string
	DropoffAddress string
	EstimatedFare  types.Money
	Note           string
}

type ClaimCommand struct {
	OrderID   types.ID
	DriverID  types.ID
	FleetID   types.ID
	ActorType string
}

// AdvanceCommand moves a trip forward. DriverID is always the bound driver; ActorType
// defaults to the driver. Only a passenger may attach a Rating.
type AdvanceCommand struct {
	OrderID       types.ID
	DriverID      types.ID
	Next          Status
	ActualFare    *types.Money
	PaymentMethod string
	Rating        *float64
	ActorType     string
	ActorID       types.ID
}

func (cmd AdvanceCommand) actor() string {
	if cmd.ActorType == "" {
		return ActorDriver
	}
	return cmd.ActorType
}

func (cmd AdvanceCommand) actorID() *types.ID {
	if cmd.ActorID == "" {
		return &cmd.DriverID
	}
	return &cmd.ActorID
}

type CancelCommand struct {
	OrderID   types.ID
	ActorType string
	ActorID   *types.ID
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if cmd.FleetID == "" || cmd.PassengerID == "" {
		return nil, ErrBadRequest
	}
	if strings.TrimSpace(cmd.PickupAddress) == "" || strings.TrimSpace(cmd.DropoffAddress) == "" {
		return nil, ErrBadRequest
	}
	if cmd.EstimatedFare.Amount < 0 {
		return nil, ErrBadRequest
	}

	now := s.now()
	id := newID()
	o := &Order{
		ID:             id,
		OrderNumber:    orderNumber(now, id),
		FleetID:        cmd.FleetID,
		PassengerID:    cmd.PassengerID,
		PassengerPhone: cmd.PassengerPhone,
		PickupAddress:  cmd.PickupAddress,
		DropoffAddress: cmd.DropoffAddress,
		EstimatedFare:  cmd.EstimatedFare.Normalize(),
		Note:           cmd.Note,
		Status:         StatusPending,
		StatusVersion:  0,
		RequestedAt:    now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    id,
		FromStatus: StatusNone,
		ToStatus:   StatusPending,
		ActorType:  ActorPassenger,
		ActorID:    &cmd.PassengerID,
		CreatedAt:  now,
	})
	return o, nil
}

// Claim binds the driver with a single conditional write. A caller that loses the
// write re-reads the order only to report why it lost.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Order, error) {
	if cmd.OrderID == "" || cmd.DriverID == "" || cmd.FleetID == "" {
		return nil, ErrBadRequest
	}
	now := s.now()
	ok, err := s.store.Claim(ctx, Claim{OrderID: cmd.OrderID, DriverID: cmd.DriverID, FleetID: cmd.FleetID, At: now})
	if err != nil {
		return nil, err
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, claimLoss(o, cmd.FleetID)
	}
	actor := cmd.ActorType
	if actor == "" {
		actor = ActorDriver
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: StatusPending,
		ToStatus:   StatusAccepted,
		ActorType:  actor,
		ActorID:    &cmd.DriverID,
		CreatedAt:  now,
	})
	return o, nil
}

func claimLoss(o *Order, fleetID types.ID) error {
	switch {
	case o.FleetID != fleetID:
		return ErrFleetMismatch
	case o.DriverID != nil:
		return ErrAlreadyClaimed
	default:
		return ErrInvalidState
	}
}

func (s *Service) Advance(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	switch cmd.Next {
	case StatusPickedUp:
		return s.PickUp(ctx, cmd)
	case StatusCompleted:
		return s.Complete(ctx, cmd)
	default:
		return nil, ErrInvalidState
	}
}

func (s *Service) PickUp(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(o.Status, StatusPickedUp) {
			return nil, ErrInvalidState
		}
		if !o.BoundTo(cmd.DriverID) {
			return nil, ErrNotBoundDriver
		}
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, Transition{
			OrderID: o.ID,
			From:    o.Status,
			To:      StatusPickedUp,
			Version: o.StatusVersion,
			At:      now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		_ = s.store.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: o.Status,
			ToStatus:   StatusPickedUp,
			ActorType:  cmd.actor(),
			ActorID:    cmd.actorID(),
			CreatedAt:  now,
		})
		return s.store.Get(ctx, o.ID)
	}
	return nil, ErrConflict
}

// Complete charges the actual fare (the estimate when none is supplied) and lets the
// store apply the driver's statistics together with the status write.
func (s *Service) Complete(ctx context.Context, cmd AdvanceCommand) (*Order, error) {
	if cmd.Rating != nil && (cmd.actor() != ActorPassenger || *cmd.Rating < 0 || *cmd.Rating > 5) {
		return nil, ErrBadRequest
	}
	if cmd.ActualFare != nil && cmd.ActualFare.Amount < 0 {
		return nil, ErrBadRequest
	}
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, err
		}
		if !CanTransition(o.Status, StatusCompleted) {
			return nil, ErrInvalidState
		}
		if !o.BoundTo(cmd.DriverID) {
			return nil, ErrNotBoundDriver
		}
		fare := o.EstimatedFare
		if cmd.ActualFare != nil {
			fare = types.Money{Amount: cmd.ActualFare.Amount, Currency: o.EstimatedFare.Currency}
		}
		payment := cmd.PaymentMethod
		if payment == "" {
			payment = "cash"
		}
		now := s.now()
		ok, err := s.store.Complete(ctx, Completion{
			OrderID:       o.ID,
			DriverID:      cmd.DriverID,
			Version:       o.StatusVersion,
			Fare:          fare,
			PaymentMethod: payment,
			Rating:        cmd.Rating,
			At:            now,
		})
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		_ = s.store.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: o.Status,
			ToStatus:   StatusCompleted,
			ActorType:  cmd.actor(),
			ActorID:    cmd.actorID(),
			CreatedAt:  now,
		})
		return s.store.Get(ctx, o.ID)
	}
	return nil, ErrConflict
}

// Cancel returns the cancelled order together with the driver that was bound
// before the cancel, if any.
func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Order, *types.ID, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		o, err := s.store.Get(ctx, cmd.OrderID)
		if err != nil {
			return nil, nil, err
		}
		if !CanTransition(o.Status, StatusCancelled) {
			return nil, nil, ErrInvalidState
		}
		var reason *string
		if cmd.Reason != "" {
			reason = &cmd.Reason
		}
		now := s.now()
		ok, err := s.store.UpdateStatus(ctx, Transition{
			OrderID:     o.ID,
			From:        o.Status,
			To:          StatusCancelled,
			Version:     o.StatusVersion,
			ClearDriver: true,
			Reason:      reason,
			At:          now,
		})
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		_ = s.store.AppendEvent(ctx, &Event{
			OrderID:    o.ID,
			FromStatus: o.Status,
			ToStatus:   StatusCancelled,
			ActorType:  cmd.ActorType,
			ActorID:    cmd.ActorID,
			CreatedAt:  now,
		})
		updated, err := s.store.Get(ctx, o.ID)
		if err != nil {
			return nil, nil, err
		}
		return updated, o.DriverID, nil
	}
	return nil, nil, ErrConflict
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListPendingByFleet(ctx context.Context, fleetID types.ID, limit int) ([]*Order, error) {
	return s.store.ListPendingByFleet(ctx, fleetID, limit)
}

func (s *Service) ListByDriver(ctx context.Context, driverID types.ID, statuses []Status, limit int) ([]*Order, error) {
	return s.store.ListByDriver(ctx, driverID, statuses, limit)
}

func (s *Service) ActiveByDriver(ctx context.Context, driverID types.ID) (*Order, error) {
	return s.store.ActiveByDriver(ctx, driverID)
}

// ActiveOrderID reports the accepted or picked-up order bound to the driver.
func (s *Service) ActiveOrderID(ctx context.Context, driverID types.ID) (types.ID, bool, error) {
	o, err := s.store.ActiveByDriver(ctx, driverID)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return o.ID, true, nil
}

func (s *Service) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	return s.store.ListStalePending(ctx, before, limit)
}

func (s *Service) CountActive(ctx context.Context, fleetID types.ID) (int, error) {
	return s.store.CountActive(ctx, fleetID)
}

func newID() types.ID {
	return types.ID(uuid.NewString())
}

// orderNumber renders the human-facing ORD-YYYYMMDD-XXXXXX reference.
func orderNumber(at time.Time, id types.ID) string {
	suffix := strings.ToUpper(strings.ReplaceAll(string(id), "-", ""))
	if len(suffix) > 6 {
		suffix = suffix[:6]
	}
	return fmt.Sprintf("ORD-%s-%s", at.Format("20060102"), suffix)
}
