// README: Shared fixtures for order tests: memory and Postgres backends.
package order

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/if929hong-bot/baba-taxi/internal/infra"
	"github.com/if929hong-bot/baba-taxi/internal/types"
)

const testFleet = types.ID("f1")

type tripStats struct {
	Trips  int
	Income int64
	Rating float64
}

// statsRecorder stands in for the driver registry in memory-backed tests.
type statsRecorder struct {
	mu    sync.Mutex
	stats map[types.ID]*tripStats
	fail  error
}

func newStatsRecorder() *statsRecorder {
	return &statsRecorder{stats: make(map[types.ID]*tripStats)}
}

func (r *statsRecorder) RecordTrip(_ context.Context, driverID types.ID, fare types.Money, rating *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	s, ok := r.stats[driverID]
	if !ok {
		s = &tripStats{Rating: 5}
		r.stats[driverID] = s
	}
	if rating != nil {
		s.Rating = (s.Rating*float64(s.Trips) + *rating) / float64(s.Trips+1)
	}
	s.Trips++
	s.Income += fare.Amount
	return nil
}

type backend struct {
	name  string
	store Store
	stats func(t *testing.T, driverID types.ID) tripStats
}

// forEachBackend runs fn against the memory store and, when a database is
// reachable, against PostgreSQL.
func forEachBackend(t *testing.T, fn func(t *testing.T, b backend)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) {
		rec := newStatsRecorder()
		fn(t, backend{
			name:  "memory",
			store: NewMemoryStore(rec),
			stats: func(_ *testing.T, driverID types.ID) tripStats {
				rec.mu.Lock()
				defer rec.mu.Unlock()
				if s, ok := rec.stats[driverID]; ok {
					return *s
				}
				return tripStats{Rating: 5}
			},
		})
	})
	t.Run("postgres", func(t *testing.T) {
		db := setupTestDB(t)
		fn(t, backend{
			name:  "postgres",
			store: NewPgStore(db),
			stats: func(t *testing.T, driverID types.ID) tripStats {
				var s tripStats
				err := db.QueryRow(context.Background(),
					`SELECT total_trips, total_income, rating FROM drivers WHERE id = $1`, string(driverID),
				).Scan(&s.Trips, &s.Income, &s.Rating)
				if err != nil {
					t.Fatalf("read driver stats: %v", err)
				}
				return s
			},
		})
	})
}

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("BABA_TEST_DSN")
	if dsn == "" && os.Getenv("BABA_TEST_CONTAINERS") != "" {
		dsn = startPostgres(t)
	}
	if dsn == "" {
		t.Skip("BABA_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	if err := infra.Migrate(dsn, migrationsDir(t)); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	db, err := infra.NewDB(ctx, dsn, 20)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(ctx, "TRUNCATE TABLE order_state_events, orders, drivers, fleets"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}
	if _, err := db.Exec(ctx, `INSERT INTO fleets (id, code, name, status) VALUES ($1, 'F1', 'Fleet One', 'active'), ('f2', 'F2', 'Fleet Two', 'active')`, string(testFleet)); err != nil {
		t.Fatalf("seed fleet: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := db.Exec(ctx, `
			INSERT INTO drivers (id, fleet_id, name, status, online_status)
			VALUES ($1, $2, $3, 'active', 'online')`,
			fmt.Sprintf("d%d", i), string(testFleet), fmt.Sprintf("Driver %d", i),
		); err != nil {
			t.Fatalf("seed driver: %v", err)
		}
	}
	return db
}

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "baba",
				"POSTGRES_PASSWORD": "baba",
				"POSTGRES_DB":       "baba_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return fmt.Sprintf("postgres://baba:baba@%s:%s/baba_test?sslmode=disable", host, port.Port())
}

func migrationsDir(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	t.Fatalf("repo root not found")
	return ""
}

func mustCreateOrder(t *testing.T, svc *Service, passengerID types.ID, fare int64) *Order {
	t.Helper()
	o, err := svc.Create(context.Background(), CreateCommand{
		FleetID:        testFleet,
		PassengerID:    passengerID,
		PassengerPhone: "0912345678",
		PickupAddress:  "Taipei 101",
		DropoffAddress: "Taipei Main Station",
		EstimatedFare:  types.TWD(fare),
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func mustClaim(t *testing.T, svc *Service, orderID, driverID types.ID) *Order {
	t.Helper()
	o, err := svc.Claim(context.Background(), ClaimCommand{OrderID: orderID, DriverID: driverID, FleetID: testFleet})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return o
}

func assertStatus(t *testing.T, svc *Service, orderID types.ID, want Status) *Order {
	t.Helper()
	o, err := svc.Get(context.Background(), orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if o.Status != want {
		t.Fatalf("expected status %s, got %s", want, o.Status)
	}
	assertBindingInvariant(t, o)
	return o
}

func assertBindingInvariant(t *testing.T, o *Order) {
	t.Helper()
	if (o.DriverID != nil) != RequiresDriver(o.Status) {
		t.Fatalf("driver binding invariant broken: status=%s driver=%v", o.Status, o.DriverID)
	}
}
