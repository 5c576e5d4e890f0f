// README: Fleet/driver store contract and its PostgreSQL implementation.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

type Store interface {
	GetFleet(ctx context.Context, id types.ID) (*Fleet, error)
	GetFleetByCode(ctx context.Context, code string) (*Fleet, error)
	GetDriver(ctx context.Context, id types.ID) (*Driver, error)
	SetOnlineStatus(ctx context.Context, id types.ID, status OnlineStatus, at time.Time) error
	// ListOnline returns active, online drivers of the fleet ordered by id.
	ListOnline(ctx context.Context, fleetID types.ID, limit int) ([]*Driver, error)
	// CountOnline counts active, online drivers; an empty fleetID counts all fleets.
	CountOnline(ctx context.Context, fleetID types.ID) (int, error)
}

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const driverColumns = `id, fleet_id, name, phone, license_plate, car_info, status, online_status,
	total_trips, total_income, rating, updated_at`

func (s *PgStore) GetFleet(ctx context.Context, id types.ID) (*Fleet, error) {
	return s.fleet(ctx, `SELECT id, code, name, status FROM fleets WHERE id = $1`, string(id))
}

func (s *PgStore) GetFleetByCode(ctx context.Context, code string) (*Fleet, error) {
	return s.fleet(ctx, `SELECT id, code, name, status FROM fleets WHERE code = $1`, code)
}

func (s *PgStore) fleet(ctx context.Context, q string, arg any) (*Fleet, error) {
	var f Fleet
	err := s.db.QueryRow(ctx, q, arg).Scan(&f.ID, &f.Code, &f.Name, &f.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFleetNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PgStore) GetDriver(ctx context.Context, id types.ID) (*Driver, error) {
	d, err := scanDriver(s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDriverNotFound
	}
	return d, err
}

func (s *PgStore) SetOnlineStatus(ctx context.Context, id types.ID, status OnlineStatus, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE drivers SET online_status = $2, updated_at = $3
		WHERE id = $1`, string(id), string(status), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrDriverNotFound
	}
	return nil
}

func (s *PgStore) ListOnline(ctx context.Context, fleetID types.ID, limit int) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, `SELECT `+driverColumns+` FROM drivers
		WHERE fleet_id = $1 AND status = 'active' AND online_status = 'online'
		ORDER BY id
		LIMIT $2`, string(fleetID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Driver
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PgStore) CountOnline(ctx context.Context, fleetID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM drivers
		WHERE status = 'active' AND online_status = 'online'
		  AND ($1 = '' OR fleet_id = $1)`, string(fleetID),
	).Scan(&n)
	return n, err
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var d Driver
	err := row.Scan(
		&d.ID, &d.FleetID, &d.Name, &d.Phone, &d.LicensePlate, &d.CarInfo, &d.Status, &d.OnlineStatus,
		&d.TotalTrips, &d.TotalIncome.Amount, &d.Rating, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.TotalIncome = d.TotalIncome.Normalize()
	return &d, nil
}
