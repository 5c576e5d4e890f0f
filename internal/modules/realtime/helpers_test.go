package realtime

import (
	"sync"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// fakeChannel records what it was sent; capacity 0 means unbounded.
type fakeChannel struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	closed   bool
}

func (f *fakeChannel) Send(ev Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed || (f.capacity > 0 && len(f.events) >= f.capacity) {
		return false
	}
	f.events = append(f.events, ev)
	return true
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChannel) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Name)
	}
	return out
}

func driver(id, fleet string) infra.Identity {
	return infra.Identity{Role: infra.RoleDriver, ID: types.ID(id), FleetID: types.ID(fleet)}
}

func passenger(id string) infra.Identity {
	return infra.Identity{Role: infra.RolePassenger, ID: types.ID(id)}
}

func fleetAdmin(id, fleet string) infra.Identity {
	return infra.Identity{Role: infra.RoleFleetAdmin, ID: types.ID(id), FleetID: types.ID(fleet)}
}
