package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/id"
)

// Emitter emits escrow lifecycle hooks.
// hook.Registry satisfies this interface via EmitEscrowSettled.
type Emitter interface {
	EmitEscrowSettled(ctx context.Context, e *Escrow)
}

// Ledger exposes the money-safe operations on escrows. All amount
// arithmetic is decimal, rounded to 2 places; status guards make every
// operation idempotent against double settlement.
type Ledger struct {
	store   Store
	emitter Emitter
	logger  *slog.Logger
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithEmitter sets the hook emitter notified on settlements.
func WithEmitter(e Emitter) LedgerOption {
	return func(l *Ledger) { l.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) LedgerOption {
	return func(l *Ledger) { l.logger = lg }
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store Store, opts ...LedgerOption) *Ledger {
	l := &Ledger{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hold creates a new escrow in held state with the opening ledger entry.
// The amount must be non-negative.
func (l *Ledger) Hold(ctx context.Context, jobID id.JobID, employerID id.EmployerID, amount, feePercent decimal.Decimal) (*Escrow, error) {
	if amount.IsNegative() {
		return nil, rush.ErrInvalidAmount
	}

	now := time.Now().UTC()
	e := &Escrow{
		Entity:     rush.NewEntity(),
		ID:         id.NewEscrowID(),
		JobID:      jobID,
		EmployerID: employerID,
		Amount:     amount.Round(2),
		FeePercent: feePercent,
		Status:     StatusHeld,
	}
	e.append(EventHold, e.Amount, "funds held", now)

	if err := l.store.CreateEscrow(ctx, e); err != nil {
		return nil, err
	}

	l.logger.Info("escrow held",
		slog.String("escrow_id", e.ID.String()),
		slog.String("job_id", jobID.String()),
		slog.String("amount", e.Amount.String()),
	)
	return e, nil
}

// Release settles the escrow to the worker. A no-op returning the
// current state unless the escrow is still settleable.
func (l *Ledger) Release(ctx context.Context, escrowID id.EscrowID, workerID id.CandidateID) (*Escrow, error) {
	e, err := l.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !e.Settleable() {
		return e, nil
	}

	// Only the undebited remainder can move; after a penalty the
	// remainder was already refunded, so this keeps debits ≤ amount.
	remaining := e.Amount.Sub(e.Debited())
	e.Status = StatusReleased
	e.WorkerID = workerID
	e.append(EventRelease, remaining, "released to worker", time.Now().UTC())

	if err := l.store.UpdateEscrow(ctx, e); err != nil {
		return nil, err
	}
	l.settled(ctx, e)
	return e, nil
}

// Refund settles the escrow back to the employer. A no-op returning the
// current state unless the escrow is still settleable.
func (l *Ledger) Refund(ctx context.Context, escrowID id.EscrowID) (*Escrow, error) {
	e, err := l.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if !e.Settleable() {
		return e, nil
	}

	remaining := e.Amount.Sub(e.Debited())
	e.Status = StatusRefunded
	e.append(EventRefund, remaining, "refunded to employer", time.Now().UTC())

	if err := l.store.UpdateEscrow(ctx, e); err != nil {
		return nil, err
	}
	l.settled(ctx, e)
	return e, nil
}

// Penalize deducts a cancellation fee and immediately refunds the
// remainder. Guarded on held status only, so repeated calls cannot
// double-penalize. This is the one operation that appends two ledger
// entries atomically. Returns the updated escrow and the computed fee.
func (l *Ledger) Penalize(ctx context.Context, escrowID id.EscrowID, penaltyPercent decimal.Decimal) (*Escrow, decimal.Decimal, error) {
	e, err := l.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if e.Status != StatusHeld {
		return nil, decimal.Zero, rush.ErrInvalidState
	}

	fee := e.Amount.Mul(penaltyPercent).Div(decimal.NewFromInt(100)).Round(2)
	remainder := e.Amount.Sub(fee)

	now := time.Now().UTC()
	e.Status = StatusPenalized
	e.append(EventPenalty, fee, "cancellation fee", now)
	if remainder.IsPositive() {
		e.append(EventRefund, remainder, "refunded after penalty", now)
	}

	if err := l.store.UpdateEscrow(ctx, e); err != nil {
		return nil, decimal.Zero, err
	}

	l.logger.Info("escrow penalized",
		slog.String("escrow_id", e.ID.String()),
		slog.String("fee", fee.String()),
		slog.String("remainder", remainder.String()),
	)
	l.settled(ctx, e)
	return e, fee, nil
}

// Get retrieves an escrow by ID.
func (l *Ledger) Get(ctx context.Context, escrowID id.EscrowID) (*Escrow, error) {
	return l.store.GetEscrow(ctx, escrowID)
}

func (l *Ledger) settled(ctx context.Context, e *Escrow) {
	if l.emitter != nil {
		l.emitter.EmitEscrowSettled(ctx, e)
	}
}
