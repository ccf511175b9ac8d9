package penalty

import (
	"context"

	"github.com/quickgig/rush/id"
)

// Store defines the persistence contract for penalty records.
type Store interface {
	// AppendPenalty persists a new penalty record on the actor's history.
	AppendPenalty(ctx context.Context, r *Record) error

	// ListPenalties returns all penalty records for an actor, ordered by
	// AppliedAt ascending.
	ListPenalties(ctx context.Context, actorID id.AnyID) ([]*Record, error)
}
