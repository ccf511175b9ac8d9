// Package hook defines the extension system for Rush.
// Extensions are notified of dispatch lifecycle events (dispatch started,
// wave sent, locked, confirmed, failed, etc.) and can react to them with
// logging, metrics, or audit trails.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"

	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/penalty"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Dispatch lifecycle hooks
// ──────────────────────────────────────────────────

// DispatchStarted is called when wave dispatch begins for a job.
type DispatchStarted interface {
	OnDispatchStarted(ctx context.Context, j *job.Job) error
}

// WaveSent is called after a wave of offers goes out.
type WaveSent interface {
	OnWaveSent(ctx context.Context, j *job.Job, wave int, notified []id.CandidateID) error
}

// JobLocked is called when a candidate's claim is granted.
type JobLocked interface {
	OnJobLocked(ctx context.Context, j *job.Job, candID id.CandidateID) error
}

// JobConfirmed is called when the employer confirms the lock holder.
type JobConfirmed interface {
	OnJobConfirmed(ctx context.Context, j *job.Job, candID id.CandidateID) error
}

// JobUnlocked is called when a claim is released and dispatch resumes.
type JobUnlocked interface {
	OnJobUnlocked(ctx context.Context, j *job.Job) error
}

// JobFailed is called when dispatch exhausts all waves.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, reason string) error
}

// JobExpired is called when the reaper force-expires a job.
type JobExpired interface {
	OnJobExpired(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// EscrowSettled is called when an escrow leaves held state.
type EscrowSettled interface {
	OnEscrowSettled(ctx context.Context, e *escrow.Escrow) error
}

// PenaltyApplied is called when a penalty record is appended.
type PenaltyApplied interface {
	OnPenaltyApplied(ctx context.Context, r *penalty.Record) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
