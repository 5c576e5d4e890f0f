package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/modules/fleet"
	"github.com/if929hong-bot/baba-taxi/internal/modules/location"
	"github.com/if929hong-bot/baba-taxi/internal/modules/order"
	"github.com/if929hong-bot/baba-taxi/internal/modules/realtime"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

const testSecret = "dispatch-test"

type recorder struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (r *recorder) Send(ev realtime.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) Close() error { return nil }

func (r *recorder) named(name string) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []realtime.Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

type harness struct {
	coord     *Coordinator
	orders    *order.Service
	fleets    *fleet.MemoryStore
	locations *location.Service
	registry  *realtime.Registry
}

// newHarness builds a coordinator over memory stores with fleet f1 (drivers d0..d7
// online) and fleet f2 (driver x1 online).
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	fleets := fleet.NewMemoryStore()
	fleets.PutFleet(fleet.Fleet{ID: "f1", Code: "TPE01", Name: "Taipei Cabs", Status: fleet.AccountActive})
	fleets.PutFleet(fleet.Fleet{ID: "f2", Code: "KHH01", Name: "Kaohsiung Cabs", Status: fleet.AccountActive})
	fleets.PutFleet(fleet.Fleet{ID: "f3", Code: "OFF01", Name: "Suspended", Status: fleet.AccountSuspended})
	for i := 0; i < 8; i++ {
		fleets.PutDriver(fleet.Driver{
			ID:           types.ID(fmt.Sprintf("d%d", i)),
			FleetID:      "f1",
			Name:         fmt.Sprintf("Driver %d", i),
			Phone:        fmt.Sprintf("0912-000-00%d", i),
			LicensePlate: fmt.Sprintf("ABC-%04d", i),
			Status:       fleet.AccountActive,
			OnlineStatus: fleet.Online,
		})
	}
	fleets.PutDriver(fleet.Driver{ID: "x1", FleetID: "f2", Name: "Other", Status: fleet.AccountActive, OnlineStatus: fleet.Online})

	orders := order.NewService(order.NewMemoryStore(fleets))
	locations := location.NewService(location.NewMemoryCache(), orders)
	registry := realtime.NewRegistry(infra.NewJWTVerifier(testSecret))
	bcast := realtime.NewBroadcaster(registry, zerolog.Nop())
	if cfg.Lanes == 0 {
		cfg.Lanes = 4
	}
	coord := New(Deps{
		Orders:    orders,
		Fleets:    fleet.NewService(fleets),
		Locations: locations,
		Registry:  registry,
		Bcast:     bcast,
		Log:       zerolog.Nop(),
	}, cfg)
	t.Cleanup(coord.Stop)
	return &harness{coord: coord, orders: orders, fleets: fleets, locations: locations, registry: registry}
}

// manual is a config whose auto-match never fires during a test.
func manual() Config { return Config{AutoMatchWindow: time.Hour} }

func (h *harness) listen(ident infra.Identity, orderID types.ID) (*realtime.Connection, *recorder) {
	rec := &recorder{}
	conn, _ := h.registry.Register(ident, orderID, rec)
	return conn, rec
}

func (h *harness) book(t *testing.T, passengerID types.ID) *CreateResult {
	t.Helper()
	res, err := h.coord.Create(context.Background(), CreateInput{
		PassengerID:    passengerID,
		PassengerPhone: "0988-123-456",
		FleetID:        "f1",
		PickupAddress:  "Taipei 101",
		DropoffAddress: "Taipei Main Station",
	})
	require.NoError(t, err)
	return res
}

func driverIdent(id types.ID, fleetID types.ID) infra.Identity {
	return infra.Identity{Role: infra.RoleDriver, ID: id, FleetID: fleetID}
}

func passengerIdent(id types.ID) infra.Identity {
	return infra.Identity{Role: infra.RolePassenger, ID: id}
}

func requireBinding(t *testing.T, o *order.Order) {
	t.Helper()
	require.Equal(t, order.RequiresDriver(o.Status), o.DriverID != nil,
		"status %s with driver %v", o.Status, o.DriverID)
}
