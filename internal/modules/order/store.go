// README: Order store contract and its PostgreSQL implementation.
package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// Store persists orders. Every status write is a conditional update; the bool
// result reports whether this caller won the compare-and-set.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id types.ID) (*Order, error)
	Claim(ctx context.Context, c Claim) (bool, error)
	UpdateStatus(ctx context.Context, t Transition) (bool, error)
	Complete(ctx context.Context, c Completion) (bool, error)
	ListPendingByFleet(ctx context.Context, fleetID types.ID, limit int) ([]*Order, error)
	ListByDriver(ctx context.Context, driverID types.ID, statuses []Status, limit int) ([]*Order, error)
	ActiveByDriver(ctx context.Context, driverID types.ID) (*Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error)
	CountActive(ctx context.Context, fleetID types.ID) (int, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// Claim binds a driver to a pending, unbound order of the same fleet.
type Claim struct {
	OrderID  types.ID
	DriverID types.ID
	FleetID  types.ID
	At       time.Time
}

// Transition moves an order between two non-claim statuses under a version check.
type Transition struct {
	OrderID     types.ID
	From        Status
	To          Status
	Version     int
	ClearDriver bool
	Reason      *string
	At          time.Time
}

// Completion finishes a picked-up trip and applies the driver's statistics in the same unit of work.
type Completion struct {
	OrderID       types.ID
	DriverID      types.ID
	Version       int
	Fare          types.Money
	PaymentMethod string
	Rating        *float64
	At            time.Time
}

var errCompletionLost = errors.New("completion lost")

type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

const orderColumns = `
	id, order_number, fleet_id, passenger_id, passenger_phone, driver_id,
	pickup_address, dropoff_address, estimated_fare, actual_fare, currency,
	payment_method, note, status, status_version,
	requested_at, accepted_at, picked_up_at, completed_at, cancelled_at, cancel_reason`

func (s *PgStore) Create(ctx context.Context, o *Order) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, fleet_id, passenger_id, passenger_phone, driver_id,
			pickup_address, dropoff_address, estimated_fare, actual_fare, currency,
			payment_method, note, status, status_version, requested_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16
		)`,
		string(o.ID),
		o.OrderNumber,
		string(o.FleetID),
		string(o.PassengerID),
		o.PassengerPhone,
		toStringPtr(o.DriverID),
		o.PickupAddress,
		o.DropoffAddress,
		o.EstimatedFare.Amount,
		toIntPtr(o.ActualFare),
		o.EstimatedFare.Normalize().Currency,
		o.PaymentMethod,
		o.Note,
		string(o.Status),
		o.StatusVersion,
		o.RequestedAt,
	)
	return err
}

func (s *PgStore) Get(ctx context.Context, id types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PgStore) Claim(ctx context.Context, c Claim) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = 'accepted',
			driver_id = $2,
			accepted_at = $4,
			status_version = status_version + 1
		WHERE id = $1
		  AND fleet_id = $3
		  AND status = 'pending'
		  AND driver_id IS NULL`,
		string(c.OrderID),
		string(c.DriverID),
		string(c.FleetID),
		c.At,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) UpdateStatus(ctx context.Context, t Transition) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orders
		SET status = $1,
			status_version = status_version + 1,
			driver_id = CASE WHEN $5::boolean THEN NULL ELSE driver_id END,
			picked_up_at = CASE WHEN $1 = 'picked_up' THEN $6 ELSE picked_up_at END,
			cancelled_at = CASE WHEN $1 = 'cancelled' THEN $6 ELSE cancelled_at END,
			cancel_reason = COALESCE($7, cancel_reason)
		WHERE id = $2 AND status = $3 AND status_version = $4`,
		string(t.To),
		string(t.OrderID),
		string(t.From),
		t.Version,
		t.ClearDriver,
		t.At,
		t.Reason,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the completed status and the driver's trip statistics in one transaction.
// The rating expression reads the pre-update trip count, so the mean is over the old total.
func (s *PgStore) Complete(ctx context.Context, c Completion) (bool, error) {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE orders
			SET status = 'completed',
				actual_fare = $2,
				payment_method = $3,
				completed_at = $4,
				status_version = status_version + 1
			WHERE id = $1 AND status = 'picked_up' AND status_version = $5 AND driver_id = $6`,
			string(c.OrderID),
			c.Fare.Amount,
			c.PaymentMethod,
			c.At,
			c.Version,
			string(c.DriverID),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return errCompletionLost
		}
		tag, err = tx.Exec(ctx, `
			UPDATE drivers
			SET total_trips = total_trips + 1,
				total_income = total_income + $2,
				rating = CASE WHEN $3::double precision IS NULL THEN rating
					ELSE (rating * total_trips + $3::double precision) / (total_trips + 1) END,
				updated_at = $4
			WHERE id = $1`,
			string(c.DriverID),
			c.Fare.Amount,
			c.Rating,
			c.At,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("driver %s: %w", c.DriverID, ErrNotFound)
		}
		return nil
	})
	if errors.Is(err, errCompletionLost) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *PgStore) ListPendingByFleet(ctx context.Context, fleetID types.ID, limit int) ([]*Order, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE fleet_id = $1 AND status = 'pending' AND driver_id IS NULL
		ORDER BY requested_at ASC
		LIMIT $2`, string(fleetID), limit)
}

func (s *PgStore) ListByDriver(ctx context.Context, driverID types.ID, statuses []Status, limit int) ([]*Order, error) {
	if len(statuses) == 0 {
		return s.query(ctx, `SELECT `+orderColumns+` FROM orders
			WHERE driver_id = $1
			ORDER BY requested_at DESC
			LIMIT $2`, string(driverID), limit)
	}
	names := make([]string, 0, len(statuses))
	for _, st := range statuses {
		names = append(names, string(st))
	}
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE driver_id = $1 AND status = ANY($2)
		ORDER BY requested_at DESC
		LIMIT $3`, string(driverID), names, limit)
}

func (s *PgStore) ActiveByDriver(ctx context.Context, driverID types.ID) (*Order, error) {
	row := s.db.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE driver_id = $1 AND status IN ('accepted', 'picked_up')
		ORDER BY accepted_at DESC
		LIMIT 1`, string(driverID))
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *PgStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	return s.query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = 'pending' AND requested_at < $1
		ORDER BY requested_at ASC
		LIMIT $2`, before, limit)
}

// CountActive counts non-terminal orders; an empty fleetID counts across all fleets.
func (s *PgStore) CountActive(ctx context.Context, fleetID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM orders
		WHERE status IN ('pending', 'accepted', 'picked_up')
		  AND ($1 = '' OR fleet_id = $1)`, string(fleetID),
	).Scan(&n)
	return n, err
}

func (s *PgStore) AppendEvent(ctx context.Context, e *Event) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO order_state_events (
			order_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorType,
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

func (s *PgStore) query(ctx context.Context, q string, args ...any) ([]*Order, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var driverID sql.NullString
	var actualFare sql.NullInt64
	var currency string
	var acceptedAt, pickedUpAt, completedAt, cancelledAt sql.NullTime
	var cancelReason sql.NullString

	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.FleetID, &o.PassengerID, &o.PassengerPhone, &driverID,
		&o.PickupAddress, &o.DropoffAddress, &o.EstimatedFare.Amount, &actualFare, &currency,
		&o.PaymentMethod, &o.Note, &o.Status, &o.StatusVersion,
		&o.RequestedAt, &acceptedAt, &pickedUpAt, &completedAt, &cancelledAt, &cancelReason,
	)
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		o.DriverID = &d
	}
	o.EstimatedFare.Currency = currency
	o.EstimatedFare = o.EstimatedFare.Normalize()
	if actualFare.Valid {
		v := types.Money{Amount: actualFare.Int64, Currency: o.EstimatedFare.Currency}
		o.ActualFare = &v
	}
	o.AcceptedAt = toTimePtr(acceptedAt)
	o.PickedUpAt = toTimePtr(pickedUpAt)
	o.CompletedAt = toTimePtr(completedAt)
	o.CancelledAt = toTimePtr(cancelledAt)
	if cancelReason.Valid {
		o.CancelReason = &cancelReason.String
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIntPtr(v *types.Money) *int64 {
	if v == nil {
		return nil
	}
	n := v.Amount
	return &n
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
