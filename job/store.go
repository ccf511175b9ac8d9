package job

import (
	"context"
	"time"

	"github.com/quickgig/rush/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// Store defines the persistence contract for jobs.
//
// Every mutation goes through UpdateJob, which is a compare-and-swap on
// Job.Version: the update succeeds only if the stored version equals the
// caller's, and bumps it by one. Racing writers observe rush.ErrConflict
// instead of silently overwriting each other.
type Store interface {
	// CreateJob persists a new job. Fails with rush.ErrJobAlreadyExists
	// if the ID is already present.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job if and only if the
	// stored Version matches j.Version. On success the stored Version is
	// incremented; on mismatch it fails with rush.ErrConflict.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByStatus returns jobs matching the given status, ordered by
	// CreatedAt ascending.
	ListJobsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Job, error)

	// ListExpiredLocks returns locked jobs whose LockExpiresAt has passed
	// and that have no confirmed worker.
	ListExpiredLocks(ctx context.Context, now time.Time) ([]*Job, error)

	// ListExpiredJobs returns unresolved jobs (pending, dispatching or
	// locked) past their deadline with no confirmed worker. Locked jobs
	// are included only once the grace allowance has also run out.
	ListExpiredJobs(ctx context.Context, now time.Time, lockGrace time.Duration) ([]*Job, error)
}
