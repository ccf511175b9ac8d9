// Package escrow implements the per-job funds ledger: a small state
// machine (held → released | refunded | penalized) over an append-only
// event log, with decimal-exact fee and refund arithmetic.
package escrow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/id"
)

// Status represents the funds state of an escrow.
type Status string

const (
	// StatusHeld means the employer's funds are held against the job.
	StatusHeld Status = "held"
	// StatusReleased means the full amount went to the worker.
	StatusReleased Status = "released"
	// StatusRefunded means the full remaining amount went back to the employer.
	StatusRefunded Status = "refunded"
	// StatusPenalized means a cancellation fee was deducted; the remainder
	// has already been refunded. Transitions only to released or refunded.
	StatusPenalized Status = "penalized"
)

// EventType tags one ledger entry.
type EventType string

const (
	EventHold    EventType = "hold"
	EventRelease EventType = "release"
	EventRefund  EventType = "refund"
	EventPenalty EventType = "penalty"
)

// Event is one append-only ledger entry. The event log is the ledger of
// truth: the current Status is always derivable as "last terminal-ish
// event wins".
type Event struct {
	Type   EventType       `json:"type"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
	At     time.Time       `json:"at"`
}

// Escrow holds one job's funds until released, refunded, or penalized.
type Escrow struct {
	rush.Entity

	ID         id.EscrowID     `json:"id"`
	JobID      id.JobID        `json:"job_id"`
	EmployerID id.EmployerID   `json:"employer_id"`
	WorkerID   id.CandidateID  `json:"worker_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	FeePercent decimal.Decimal `json:"fee_percent"`
	Status     Status          `json:"status"`
	Events     []Event         `json:"events"`
}

// append adds a ledger entry stamped with now.
func (e *Escrow) append(t EventType, amount decimal.Decimal, note string, at time.Time) {
	e.Events = append(e.Events, Event{Type: t, Amount: amount, Note: note, At: at})
}

// Debited returns the sum of all non-hold ledger entries. The invariant
// Debited() ≤ Amount holds at all times.
func (e *Escrow) Debited() decimal.Decimal {
	total := decimal.Zero
	for _, ev := range e.Events {
		if ev.Type == EventHold {
			continue
		}
		total = total.Add(ev.Amount)
	}
	return total
}

// Settleable reports whether release or refund is still possible.
func (e *Escrow) Settleable() bool {
	return e.Status == StatusHeld || e.Status == StatusPenalized
}
