package candidate

import (
	"context"
	"time"

	"github.com/quickgig/rush/id"
)

// Store defines the persistence contract for the candidate directory.
type Store interface {
	// PutCandidate creates or replaces a candidate record.
	PutCandidate(ctx context.Context, c *Candidate) error

	// GetCandidate retrieves a candidate by ID.
	GetCandidate(ctx context.Context, candID id.CandidateID) (*Candidate, error)

	// ListDispatchable returns every candidate currently flagged
	// available for dispatch, in no particular order. Ranking and the
	// remaining eligibility filters are the matcher's job.
	ListDispatchable(ctx context.Context) ([]*Candidate, error)

	// SetCooldown stamps the candidate's cooldown-until timestamp.
	SetCooldown(ctx context.Context, candID id.CandidateID, until time.Time) error

	// ApplyPenalty sets the candidate's ban-until timestamp and adjusts
	// reputation by delta in one write.
	ApplyPenalty(ctx context.Context, candID id.CandidateID, banUntil time.Time, delta int) error

	// ListLapsedAvailability returns candidates still flagged available
	// whose availability window ended before now.
	ListLapsedAvailability(ctx context.Context, now time.Time) ([]*Candidate, error)

	// ClearAvailability drops the available-for-dispatch and online
	// flags for a candidate whose window has lapsed.
	ClearAvailability(ctx context.Context, candID id.CandidateID) error
}
