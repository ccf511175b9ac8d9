package escrow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/store/memory"
)

func newLedger() (*escrow.Ledger, *memory.Store) {
	s := memory.New()
	return escrow.NewLedger(s), s
}

func hold(t *testing.T, l *escrow.Ledger, amount string) *escrow.Escrow {
	t.Helper()
	e, err := l.Hold(context.Background(), id.NewJobID(), id.NewEmployerID(),
		decimal.RequireFromString(amount), decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Hold: %v", err)
	}
	return e
}

func TestHold(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	e := hold(t, l, "45.50")
	if e.Status != escrow.StatusHeld {
		t.Errorf("Status = %q, want held", e.Status)
	}
	if !e.Amount.Equal(decimal.RequireFromString("45.50")) {
		t.Errorf("Amount = %s, want 45.50", e.Amount)
	}
	if len(e.Events) != 1 || e.Events[0].Type != escrow.EventHold {
		t.Fatalf("opening ledger entry missing: %+v", e.Events)
	}
}

func TestHoldNegativeAmount(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	_, err := l.Hold(context.Background(), id.NewJobID(), id.NewEmployerID(),
		decimal.NewFromInt(-5), decimal.Zero)
	if !errors.Is(err, rush.ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()
	worker := id.NewCandidateID()

	e := hold(t, l, "40")
	released, err := l.Release(context.Background(), e.ID, worker)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != escrow.StatusReleased {
		t.Errorf("Status = %q, want released", released.Status)
	}
	if released.WorkerID.String() != worker.String() {
		t.Errorf("WorkerID = %s, want %s", released.WorkerID, worker)
	}

	// The full amount moved exactly once.
	if !released.Debited().Equal(e.Amount) {
		t.Errorf("Debited = %s, want %s", released.Debited(), e.Amount)
	}

	// A second release is a silent no-op.
	again, err := l.Release(context.Background(), e.ID, worker)
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if len(again.Events) != len(released.Events) {
		t.Error("second release appended a ledger entry")
	}
}

func TestRefund(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	e := hold(t, l, "40")
	refunded, err := l.Refund(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if refunded.Status != escrow.StatusRefunded {
		t.Errorf("Status = %q, want refunded", refunded.Status)
	}
	if !refunded.Debited().Equal(e.Amount) {
		t.Errorf("Debited = %s, want %s", refunded.Debited(), e.Amount)
	}

	// Refund after refund is a no-op, never a double move.
	again, err := l.Refund(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("second Refund: %v", err)
	}
	if !again.Debited().Equal(e.Amount) {
		t.Errorf("Debited after second refund = %s, want %s", again.Debited(), e.Amount)
	}
}

func TestPenalize(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	e := hold(t, l, "40")
	penalized, fee, err := l.Penalize(context.Background(), e.ID, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Penalize: %v", err)
	}
	if !fee.Equal(decimal.RequireFromString("4")) {
		t.Errorf("fee = %s, want 4", fee)
	}
	if penalized.Status != escrow.StatusPenalized {
		t.Errorf("Status = %q, want penalized", penalized.Status)
	}

	// Fee plus remainder refund: everything moved, nothing more.
	if !penalized.Debited().Equal(e.Amount) {
		t.Errorf("Debited = %s, want %s", penalized.Debited(), e.Amount)
	}
	if len(penalized.Events) != 3 {
		t.Fatalf("len(Events) = %d, want hold+penalty+refund", len(penalized.Events))
	}

	// A second penalize is rejected, not silently absorbed.
	if _, _, err := l.Penalize(context.Background(), e.ID, decimal.NewFromInt(10)); !errors.Is(err, rush.ErrInvalidState) {
		t.Errorf("second Penalize err = %v, want ErrInvalidState", err)
	}
}

func TestReleaseAfterPenalizeMovesNothing(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	e := hold(t, l, "40")
	if _, _, err := l.Penalize(context.Background(), e.ID, decimal.NewFromInt(25)); err != nil {
		t.Fatalf("Penalize: %v", err)
	}

	// Penalized escrows stay settleable, but the remainder was already
	// refunded: releasing moves zero.
	released, err := l.Release(context.Background(), e.ID, id.NewCandidateID())
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Debited().GreaterThan(released.Amount) {
		t.Errorf("Debited %s exceeds Amount %s", released.Debited(), released.Amount)
	}
}

func TestPenalizeRoundsFee(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	e := hold(t, l, "33.33")
	_, fee, err := l.Penalize(context.Background(), e.ID, decimal.NewFromInt(10))
	if err != nil {
		t.Fatalf("Penalize: %v", err)
	}
	if !fee.Equal(decimal.RequireFromString("3.33")) {
		t.Errorf("fee = %s, want 3.33", fee)
	}
}

func TestRefundMissingEscrow(t *testing.T) {
	t.Parallel()
	l, _ := newLedger()

	if _, err := l.Refund(context.Background(), id.NewEscrowID()); !errors.Is(err, rush.ErrEscrowNotFound) {
		t.Errorf("err = %v, want ErrEscrowNotFound", err)
	}
}
