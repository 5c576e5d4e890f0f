// README: In-memory authoritative order store (single process, dev mode and tests).
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// TripRecorder applies a finished trip to the driver's aggregate statistics.
type TripRecorder interface {
	RecordTrip(ctx context.Context, driverID types.ID, fare types.Money, rating *float64) error
}

type MemoryStore struct {
	mu       sync.Mutex
	orders   map[types.ID]*Order
	events   []Event
	nextID   int64
	recorder TripRecorder
}

func NewMemoryStore(recorder TripRecorder) *MemoryStore {
	return &MemoryStore{
		orders:   make(map[types.ID]*Order),
		recorder: recorder,
	}
}

func (s *MemoryStore) Create(_ context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return ErrConflict
	}
	s.orders[o.ID] = o.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return o.clone(), nil
}

func (s *MemoryStore) Claim(_ context.Context, c Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[c.OrderID]
	if !ok || o.Status != StatusPending || o.DriverID != nil || o.FleetID != c.FleetID {
		return false, nil
	}
	d := c.DriverID
	at := c.At
	o.DriverID = &d
	o.Status = StatusAccepted
	o.AcceptedAt = &at
	o.StatusVersion++
	return true, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, t Transition) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[t.OrderID]
	if !ok || o.Status != t.From || o.StatusVersion != t.Version {
		return false, nil
	}
	at := t.At
	o.Status = t.To
	o.StatusVersion++
	if t.ClearDriver {
		o.DriverID = nil
	}
	switch t.To {
	case StatusPickedUp:
		o.PickedUpAt = &at
	case StatusCancelled:
		o.CancelledAt = &at
	}
	if t.Reason != nil {
		r := *t.Reason
		o.CancelReason = &r
	}
	return true, nil
}

// Complete holds the order lock while the recorder runs so a failed statistics
// write leaves the order untouched.
func (s *MemoryStore) Complete(ctx context.Context, c Completion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[c.OrderID]
	if !ok || o.Status != StatusPickedUp || o.StatusVersion != c.Version || !o.BoundTo(c.DriverID) {
		return false, nil
	}
	if s.recorder != nil {
		if err := s.recorder.RecordTrip(ctx, c.DriverID, c.Fare, c.Rating); err != nil {
			return false, err
		}
	}
	fare := c.Fare
	at := c.At
	o.Status = StatusCompleted
	o.StatusVersion++
	o.ActualFare = &fare
	o.PaymentMethod = c.PaymentMethod
	o.CompletedAt = &at
	return true, nil
}

func (s *MemoryStore) ListPendingByFleet(_ context.Context, fleetID types.ID, limit int) ([]*Order, error) {
	out := s.filter(func(o *Order) bool {
		return o.FleetID == fleetID && o.Status == StatusPending && o.DriverID == nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ListByDriver(_ context.Context, driverID types.ID, statuses []Status, limit int) ([]*Order, error) {
	out := s.filter(func(o *Order) bool {
		if !o.BoundTo(driverID) {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if o.Status == st {
				return true
			}
		}
		return false
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) ActiveByDriver(_ context.Context, driverID types.ID) (*Order, error) {
	out := s.filter(func(o *Order) bool {
		return o.BoundTo(driverID) && (o.Status == StatusAccepted || o.Status == StatusPickedUp)
	})
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.After(*out[j].AcceptedAt) })
	return out[0], nil
}

func (s *MemoryStore) ListStalePending(_ context.Context, before time.Time, limit int) ([]*Order, error) {
	out := s.filter(func(o *Order) bool {
		return o.Status == StatusPending && o.RequestedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return truncate(out, limit), nil
}

func (s *MemoryStore) CountActive(_ context.Context, fleetID types.ID) (int, error) {
	out := s.filter(func(o *Order) bool {
		return !IsTerminal(o.Status) && (fleetID == "" || o.FleetID == fleetID)
	})
	return len(out), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev := *e
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

// Events returns the audit trail of one order in insertion order.
func (s *MemoryStore) Events(orderID types.ID) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (s *MemoryStore) filter(keep func(*Order) bool) []*Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o.clone())
		}
	}
	return out
}

func truncate(in []*Order, limit int) []*Order {
	if limit > 0 && len(in) > limit {
		return in[:limit]
	}
	return in
}
