// Package store defines the aggregate persistence interface. Each
// subsystem (job, candidate, escrow, penalty, event) defines its own
// store interface; the composite Store composes them all. Backends:
// Redis and Memory.
package store

import (
	"context"

	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/penalty"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// implements all of them.
type Store interface {
	job.Store
	candidate.Store
	escrow.Store
	penalty.Store
	event.Store

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
