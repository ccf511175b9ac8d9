package escrow

import (
	"context"

	"github.com/quickgig/rush/id"
)

// Store defines the persistence contract for escrows.
type Store interface {
	// CreateEscrow persists a new escrow. Fails with
	// rush.ErrEscrowAlreadyExists if the ID is already present.
	CreateEscrow(ctx context.Context, e *Escrow) error

	// GetEscrow retrieves an escrow by ID.
	GetEscrow(ctx context.Context, escrowID id.EscrowID) (*Escrow, error)

	// GetEscrowByJob retrieves the escrow held against a job.
	GetEscrowByJob(ctx context.Context, jobID id.JobID) (*Escrow, error)

	// UpdateEscrow persists the status and the full event log of an
	// existing escrow in one write.
	UpdateEscrow(ctx context.Context, e *Escrow) error
}
