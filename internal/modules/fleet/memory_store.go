// README: In-memory fleet/driver store; also records trip statistics for the memory order store.
package fleet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type MemoryStore struct {
	mu      sync.RWMutex
	fleets  map[types.ID]*Fleet
	drivers map[types.ID]*Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		fleets:  make(map[types.ID]*Fleet),
		drivers: make(map[types.ID]*Driver),
	}
}

func (s *MemoryStore) PutFleet(f Fleet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fleets[f.ID] = &f
}

func (s *MemoryStore) PutDriver(d Driver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Rating == 0 && d.TotalTrips == 0 {
		d.Rating = 5
	}
	d.TotalIncome = d.TotalIncome.Normalize()
	s.drivers[d.ID] = &d
}

func (s *MemoryStore) GetFleet(_ context.Context, id types.ID) (*Fleet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.fleets[id]
	if !ok {
		return nil, ErrFleetNotFound
	}
	c := *f
	return &c, nil
}

func (s *MemoryStore) GetFleetByCode(_ context.Context, code string) (*Fleet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.fleets {
		if f.Code == code {
			c := *f
			return &c, nil
		}
	}
	return nil, ErrFleetNotFound
}

func (s *MemoryStore) GetDriver(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, ErrDriverNotFound
	}
	c := *d
	return &c, nil
}

func (s *MemoryStore) SetOnlineStatus(_ context.Context, id types.ID, status OnlineStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[id]
	if !ok {
		return ErrDriverNotFound
	}
	d.OnlineStatus = status
	d.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListOnline(_ context.Context, fleetID types.ID, limit int) ([]*Driver, error) {
	s.mu.RLock()
	var out []*Driver
	for _, d := range s.drivers {
		if d.FleetID == fleetID && d.Available() {
			c := *d
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CountOnline(_ context.Context, fleetID types.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.drivers {
		if d.Available() && (fleetID == "" || d.FleetID == fleetID) {
			n++
		}
	}
	return n, nil
}

// RecordTrip applies one completed trip: count +1, income += fare and, when a
// rating is given, the running mean over the previous trip count.
func (s *MemoryStore) RecordTrip(_ context.Context, driverID types.ID, fare types.Money, rating *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.drivers[driverID]
	if !ok {
		return ErrDriverNotFound
	}
	if rating != nil {
		d.Rating = (d.Rating*float64(d.TotalTrips) + *rating) / float64(d.TotalTrips+1)
	}
	d.TotalTrips++
	d.TotalIncome = d.TotalIncome.Add(fare)
	d.UpdatedAt = time.Now()
	return nil
}
