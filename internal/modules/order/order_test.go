// README: Order service tests (flow + invalid requests).
package order

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/if929hong-bot/baba-taxi/internal/types"
)

// TestCanTransition verifies the state machine transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		// happy-path forward transitions
		{StatusPending, StatusAccepted, true},
		{StatusAccepted, StatusPickedUp, true},
		{StatusPickedUp, StatusCompleted, true},
		// cancels before pickup
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusCancelled, true},
		// no cancel once the passenger is on board
		{StatusPickedUp, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusPending, false},
		{StatusCancelled, StatusAccepted, false},
		// skipping or regressing
		{StatusPending, StatusPickedUp, false},
		{StatusPending, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusAccepted, StatusPending, false},
		{StatusPickedUp, StatusAccepted, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestOrderFlowHappyPath(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_happy", 250)
		assertStatus(t, svc, o.ID, StatusPending)
		if !strings.HasPrefix(o.OrderNumber, "ORD-") {
			t.Fatalf("unexpected order number %q", o.OrderNumber)
		}

		claimed := mustClaim(t, svc, o.ID, "d1")
		if claimed.Status != StatusAccepted || !claimed.BoundTo("d1") {
			t.Fatalf("claim result: status=%s driver=%v", claimed.Status, claimed.DriverID)
		}

		if _, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1", Next: StatusPickedUp}); err != nil {
			t.Fatalf("pick up: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusPickedUp)

		done, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1", Next: StatusCompleted})
		if err != nil {
			t.Fatalf("complete: %v", err)
		}
		assertStatus(t, svc, o.ID, StatusCompleted)

		if done.ActualFare == nil || done.ActualFare.Amount != 250 {
			t.Fatalf("expected actual fare to default to estimate 250, got %v", done.ActualFare)
		}
		if done.PaymentMethod != "cash" {
			t.Fatalf("expected default payment method cash, got %q", done.PaymentMethod)
		}
		stats := b.stats(t, "d1")
		if stats.Trips != 1 || stats.Income != 250 {
			t.Fatalf("expected 1 trip / 250 income, got %d / %d", stats.Trips, stats.Income)
		}
	})
}

func TestCompleteWithActualFareAndRating(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		rating := 3.0
		for i, fare := range []int64{100, 300} {
			o := mustCreateOrder(t, svc, types.ID("p_rating"), 90)
			mustClaim(t, svc, o.ID, "d2")
			if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d2"}); err != nil {
				t.Fatalf("pick up %d: %v", i, err)
			}
			actual := types.TWD(fare)
			cmd := AdvanceCommand{OrderID: o.ID, DriverID: "d2", ActualFare: &actual, PaymentMethod: "card"}
			if i == 1 {
				cmd.Rating = &rating
				cmd.ActorType = ActorPassenger
				cmd.ActorID = "p_rating"
			}
			done, err := svc.Complete(ctx, cmd)
			if err != nil {
				t.Fatalf("complete %d: %v", i, err)
			}
			if done.ActualFare.Amount != fare || done.PaymentMethod != "card" {
				t.Fatalf("unexpected completion %+v", done)
			}
		}

		stats := b.stats(t, "d2")
		if stats.Trips != 2 || stats.Income != 400 {
			t.Fatalf("expected 2 trips / 400 income, got %d / %d", stats.Trips, stats.Income)
		}
		// (5*1 + 3) / 2
		if math.Abs(stats.Rating-4.0) > 1e-9 {
			t.Fatalf("expected naive running mean 4.0, got %v", stats.Rating)
		}
	})
}

func TestCompleteRejectsDriverRating(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_self_rate", 150)
		mustClaim(t, svc, o.ID, "d3")
		if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d3"}); err != nil {
			t.Fatalf("pick up: %v", err)
		}

		rating := 5.0
		_, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d3", Rating: &rating})
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest for a driver rating, got %v", err)
		}
		_, err = svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d3", Rating: &rating, ActorType: ActorDriver})
		if !errors.Is(err, ErrBadRequest) {
			t.Fatalf("expected ErrBadRequest for an explicit driver actor, got %v", err)
		}
		assertStatus(t, svc, o.ID, StatusPickedUp)
		if stats := b.stats(t, "d3"); stats.Trips != 0 {
			t.Fatalf("rejected completion must not record a trip, got %d", stats.Trips)
		}

		if _, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d3", Rating: &rating, ActorType: ActorPassenger, ActorID: "p_self_rate"}); err != nil {
			t.Fatalf("passenger completion: %v", err)
		}
		if stats := b.stats(t, "d3"); stats.Trips != 1 || math.Abs(stats.Rating-5.0) > 1e-9 {
			t.Fatalf("expected 1 trip rated 5, got %+v", stats)
		}
	})
}

func TestOrderFlowCancelPending(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_cancel_pending", 120)
		cancelled, prev, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorPassenger, Reason: "user_cancel"})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if prev != nil {
			t.Fatalf("expected no previous driver, got %s", *prev)
		}
		if cancelled.CancelReason == nil || *cancelled.CancelReason != "user_cancel" {
			t.Fatalf("expected cancel reason to be stored")
		}
		assertStatus(t, svc, o.ID, StatusCancelled)

		if _, err := svc.Claim(ctx, ClaimCommand{OrderID: o.ID, DriverID: "d1", FleetID: testFleet}); err != ErrInvalidState {
			t.Fatalf("claim after cancel: expected ErrInvalidState, got %v", err)
		}
	})
}

func TestOrderFlowCancelAcceptedClearsDriver(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_cancel_accepted", 120)
		mustClaim(t, svc, o.ID, "d3")

		cancelled, prev, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorPassenger})
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if prev == nil || *prev != "d3" {
			t.Fatalf("expected previous driver d3, got %v", prev)
		}
		if cancelled.DriverID != nil {
			t.Fatalf("expected driver binding cleared, got %s", *cancelled.DriverID)
		}
		assertStatus(t, svc, o.ID, StatusCancelled)
	})
}

func TestCancelAfterPickupRejected(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_cancel_picked", 120)
		mustClaim(t, svc, o.ID, "d1")
		if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
			t.Fatalf("pick up: %v", err)
		}

		if _, _, err := svc.Cancel(ctx, CancelCommand{OrderID: o.ID, ActorType: ActorPassenger}); err != ErrInvalidState {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
		after := assertStatus(t, svc, o.ID, StatusPickedUp)
		if !after.BoundTo("d1") {
			t.Fatalf("expected driver d1 still bound")
		}
	})
}

func TestOrderInvalidTransitions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_invalid", 100)

		if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrInvalidState {
			t.Fatalf("pick up before claim: expected ErrInvalidState, got %v", err)
		}
		if _, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrInvalidState {
			t.Fatalf("complete before claim: expected ErrInvalidState, got %v", err)
		}
		if _, err := svc.Advance(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1", Next: StatusCancelled}); err != ErrInvalidState {
			t.Fatalf("advance to cancelled: expected ErrInvalidState, got %v", err)
		}

		mustClaim(t, svc, o.ID, "d1")
		if _, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != ErrInvalidState {
			t.Fatalf("complete before pickup: expected ErrInvalidState, got %v", err)
		}
		if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d2"}); err != ErrNotBoundDriver {
			t.Fatalf("pick up by other driver: expected ErrNotBoundDriver, got %v", err)
		}
		if _, err := svc.Claim(ctx, ClaimCommand{OrderID: o.ID, DriverID: "d2", FleetID: testFleet}); err != ErrAlreadyClaimed {
			t.Fatalf("second claim: expected ErrAlreadyClaimed, got %v", err)
		}
		assertStatus(t, svc, o.ID, StatusAccepted)
	})
}

func TestClaimFleetMismatchAndMissing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		o := mustCreateOrder(t, svc, "p_fleet", 100)
		if _, err := svc.Claim(ctx, ClaimCommand{OrderID: o.ID, DriverID: "d1", FleetID: "f2"}); err != ErrFleetMismatch {
			t.Fatalf("expected ErrFleetMismatch, got %v", err)
		}
		assertStatus(t, svc, o.ID, StatusPending)

		if _, err := svc.Claim(ctx, ClaimCommand{OrderID: "missing", DriverID: "d1", FleetID: testFleet}); err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestCreateValidation(t *testing.T) {
	svc := NewService(NewMemoryStore(nil))
	ctx := context.Background()

	cases := map[string]CreateCommand{
		"missing fleet":     {PassengerID: "p", PickupAddress: "a", DropoffAddress: "b"},
		"missing passenger": {FleetID: testFleet, PickupAddress: "a", DropoffAddress: "b"},
		"missing pickup":    {FleetID: testFleet, PassengerID: "p", PickupAddress: "  ", DropoffAddress: "b"},
		"missing dropoff":   {FleetID: testFleet, PassengerID: "p", PickupAddress: "a"},
		"negative fare":     {FleetID: testFleet, PassengerID: "p", PickupAddress: "a", DropoffAddress: "b", EstimatedFare: types.TWD(-1)},
	}
	for name, cmd := range cases {
		if _, err := svc.Create(ctx, cmd); err != ErrBadRequest {
			t.Errorf("%s: expected ErrBadRequest, got %v", name, err)
		}
	}

	o, err := svc.Create(ctx, CreateCommand{FleetID: testFleet, PassengerID: "p", PickupAddress: "a", DropoffAddress: "b"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.EstimatedFare.Currency != types.DefaultCurrency {
		t.Fatalf("expected default currency, got %q", o.EstimatedFare.Currency)
	}
}

func TestCompleteStatsFailureLeavesOrderPickedUp(t *testing.T) {
	rec := newStatsRecorder()
	store := NewMemoryStore(rec)
	svc := NewService(store)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "p_stats_fail", 100)
	mustClaim(t, svc, o.ID, "d1")
	if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("pick up: %v", err)
	}

	rec.fail = errors.New("stats unavailable")
	if _, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err == nil {
		t.Fatalf("expected completion to fail")
	}
	after := assertStatus(t, svc, o.ID, StatusPickedUp)
	if after.ActualFare != nil {
		t.Fatalf("expected no actual fare after failed completion")
	}
}

func TestEventsRecordEveryTransition(t *testing.T) {
	store := NewMemoryStore(nil)
	svc := NewService(store)
	ctx := context.Background()

	o := mustCreateOrder(t, svc, "p_events", 100)
	mustClaim(t, svc, o.ID, "d1")
	if _, err := svc.PickUp(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if _, err := svc.Complete(ctx, AdvanceCommand{OrderID: o.ID, DriverID: "d1"}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	want := []Status{StatusPending, StatusAccepted, StatusPickedUp, StatusCompleted}
	events := store.Events(o.ID)
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, e := range events {
		if e.ToStatus != want[i] {
			t.Fatalf("event %d: expected %s, got %s", i, want[i], e.ToStatus)
		}
	}
}

func TestListingQueries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b backend) {
		svc := NewService(b.store)
		ctx := context.Background()

		first := mustCreateOrder(t, svc, "p_list_1", 100)
		second := mustCreateOrder(t, svc, "p_list_2", 100)
		third := mustCreateOrder(t, svc, "p_list_3", 100)
		mustClaim(t, svc, second.ID, "d4")

		pending, err := svc.ListPendingByFleet(ctx, testFleet, 20)
		if err != nil {
			t.Fatalf("list pending: %v", err)
		}
		got := ids(pending)
		if len(got) != 2 || !containsID(got, first.ID) || !containsID(got, third.ID) {
			t.Fatalf("unexpected pending list: %v", got)
		}

		active, ok, err := svc.ActiveOrderID(ctx, "d4")
		if err != nil || !ok || active != second.ID {
			t.Fatalf("active order for d4: %v %v %v", active, ok, err)
		}
		if _, ok, err := svc.ActiveOrderID(ctx, "d5"); err != nil || ok {
			t.Fatalf("expected no active order for d5, got ok=%v err=%v", ok, err)
		}

		mine, err := svc.ListByDriver(ctx, "d4", []Status{StatusAccepted}, 10)
		if err != nil || len(mine) != 1 {
			t.Fatalf("list by driver: %v %v", ids(mine), err)
		}

		n, err := svc.CountActive(ctx, testFleet)
		if err != nil || n != 3 {
			t.Fatalf("count active: %d %v", n, err)
		}
	})
}

func ids(orders []*Order) []types.ID {
	out := make([]types.ID, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.ID)
	}
	return out
}

func containsID(list []types.ID, id types.ID) bool {
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}
