// Package lock grants and revokes the single exclusive, time-boxed claim
// a candidate may hold on a job while waiting for employer confirmation.
// At most one lock can be active per job, and an expired lock is treated
// as absent by every reader even before a writer physically clears it.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/sched"
)

// casAttempts is how many times a guarded write is retried when a racing
// writer bumps the job version first. Each retry re-reads and re-checks
// every guard.
const casAttempts = 3

// Emitter emits lock lifecycle hooks.
// hook.Registry satisfies this interface.
type Emitter interface {
	EmitJobLocked(ctx context.Context, j *job.Job, candID id.CandidateID)
	EmitJobConfirmed(ctx context.Context, j *job.Job, candID id.CandidateID)
	EmitJobUnlocked(ctx context.Context, j *job.Job)
}

// Manager owns every lock transition on jobs.
type Manager struct {
	jobs    job.Store
	sink    event.Sink
	timers  sched.Scheduler
	emitter Emitter
	logger  *slog.Logger
	ttl     time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter sets the hook emitter.
func WithEmitter(e Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(m *Manager) { m.logger = lg }
}

// NewManager creates a lock Manager. ttl is the exclusive claim duration
// granted on acquire.
func NewManager(jobs job.Store, sink event.Sink, timers sched.Scheduler, ttl time.Duration, opts ...Option) *Manager {
	m := &Manager{
		jobs:   jobs,
		sink:   sink,
		timers: timers,
		logger: slog.Default(),
		ttl:    ttl,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire grants the exclusive claim on a job to a candidate.
//
// The same candidate re-acquiring, or acquiring over an expired lock, is
// treated as a fresh grant. A job past its own deadline may still be
// locked unless its status is already expired or failed: an in-flight
// acceptance takes priority over the deadline sweep.
func (m *Manager) Acquire(ctx context.Context, jobID id.JobID, candID id.CandidateID) (*job.Job, error) {
	var j *job.Job

	for attempt := 0; attempt < casAttempts; attempt++ {
		var err error
		j, err = m.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		if err := acquireGuard(j, candID, now); err != nil {
			return nil, err
		}

		j.LockHolder = candID
		j.LockedAt = &now
		expires := now.Add(m.ttl)
		j.LockExpiresAt = &expires
		j.Status = job.StatusLocked

		err = m.jobs.UpdateJob(ctx, j)
		if err == nil {
			break
		}
		if !errors.Is(err, rush.ErrConflict) {
			return nil, err
		}
		if attempt == casAttempts-1 {
			return nil, err
		}
	}

	m.publish(ctx, event.JobLocked{
		Envelope:      event.NewEnvelope(j.ID, string(j.Status)),
		LockExpiresAt: *j.LockExpiresAt,
	})
	m.publish(ctx, event.LockAssigned{
		Envelope:      event.NewEnvelope(j.ID, string(j.Status)),
		CandidateID:   candID,
		LockExpiresAt: *j.LockExpiresAt,
	})
	m.publish(ctx, event.StudentAssigned{
		Envelope:      event.NewEnvelope(j.ID, string(j.Status)),
		EmployerID:    j.EmployerID,
		CandidateID:   candID,
		LockExpiresAt: *j.LockExpiresAt,
	})

	if m.emitter != nil {
		m.emitter.EmitJobLocked(ctx, j, candID)
	}

	m.logger.Info("lock granted",
		slog.String("job_id", jobID.String()),
		slog.String("candidate_id", candID.String()),
		slog.Time("lock_expires_at", *j.LockExpiresAt),
	)
	return j, nil
}

// acquireGuard checks every condition that forbids granting the lock.
func acquireGuard(j *job.Job, candID id.CandidateID, now time.Time) error {
	switch j.Status {
	case job.StatusInProgress, job.StatusCompleted:
		return rush.ErrAlreadyResolved
	case job.StatusFailed:
		return rush.ErrAlreadyFailed
	case job.StatusExpired, job.StatusCancelled:
		return rush.ErrInvalidState
	}
	if !j.ConfirmedWorker.IsNil() {
		return rush.ErrAlreadyAssigned
	}
	if j.LockActive(now) && j.LockHolder.String() != candID.String() {
		return rush.ErrLockHeld
	}
	return nil
}

// Release clears the lock sub-record. Idempotent: releasing an unlocked
// or already-resolved job is silent. When the job was in locked status it
// reverts to dispatching and job:unlocked is published so still-live
// dispatch resumes. A job with a confirmed worker is never touched; its
// lock belongs to the worker until the execution phase takes over.
func (m *Manager) Release(ctx context.Context, jobID id.JobID) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		j, err := m.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}

		if !j.ConfirmedWorker.IsNil() {
			return nil
		}
		if j.LockHolder.IsNil() && j.LockExpiresAt == nil {
			return nil
		}

		holder := j.LockHolder
		wasLocked := j.Status == job.StatusLocked
		j.ClearLock()
		if wasLocked {
			j.Status = job.StatusDispatching
		}

		err = m.jobs.UpdateJob(ctx, j)
		if errors.Is(err, rush.ErrConflict) && attempt < casAttempts-1 {
			continue
		}
		if err != nil {
			return err
		}

		if wasLocked {
			m.publish(ctx, event.JobUnlocked{
				Envelope: event.NewEnvelope(j.ID, string(j.Status)),
			})
			if !holder.IsNil() {
				m.publish(ctx, event.LockReleased{
					Envelope:    event.NewEnvelope(j.ID, string(j.Status)),
					CandidateID: holder,
				})
			}
			if m.emitter != nil {
				m.emitter.EmitJobUnlocked(ctx, j)
			}
			m.logger.Info("lock released", slog.String("job_id", jobID.String()))
		}
		return nil
	}
	return rush.ErrConflict
}

// Confirm promotes the lock holder to confirmed worker on behalf of the
// job's employer. A confirm against an expired lock implicitly releases
// it (the job resumes dispatching) and fails with rush.ErrLockExpired.
//
// On success any pending dispatch timer is cancelled, the wave counter
// resets, and the job stays locked until the execution phase separately
// confirms arrival.
func (m *Manager) Confirm(ctx context.Context, jobID id.JobID, employerID id.EmployerID) (*job.Job, error) {
	var j *job.Job

	for attempt := 0; attempt < casAttempts; attempt++ {
		var err error
		j, err = m.jobs.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if j.EmployerID.String() != employerID.String() {
			return nil, rush.ErrUnauthorized
		}
		// A repeated confirm is a client retry; the promotion already
		// happened. It must not fall through to the expiry branch, which
		// would release a lock the confirmed worker still holds.
		if !j.ConfirmedWorker.IsNil() {
			return j, nil
		}
		if j.LockHolder.IsNil() {
			return nil, rush.ErrNotLocked
		}
		now := time.Now().UTC()
		if j.LockExpiresAt != nil && now.After(*j.LockExpiresAt) {
			if relErr := m.Release(ctx, jobID); relErr != nil {
				m.logger.Warn("implicit release failed",
					slog.String("job_id", jobID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			return nil, rush.ErrLockExpired
		}

		// Stop the pending wave before promoting, so no timer can fire
		// between the promotion and its persistence.
		m.timers.Cancel(jobID)

		j.ConfirmedWorker = j.LockHolder
		j.ConfirmedAt = &now
		j.CurrentWave = 0

		err = m.jobs.UpdateJob(ctx, j)
		if err == nil {
			break
		}
		if !errors.Is(err, rush.ErrConflict) {
			return nil, err
		}
		if attempt == casAttempts-1 {
			return nil, err
		}
	}

	if m.emitter != nil {
		m.emitter.EmitJobConfirmed(ctx, j, j.ConfirmedWorker)
	}

	m.logger.Info("worker confirmed",
		slog.String("job_id", jobID.String()),
		slog.String("candidate_id", j.ConfirmedWorker.String()),
	)
	return j, nil
}

// publish logs and swallows sink failures; delivery is best-effort and
// never blocks a state transition.
func (m *Manager) publish(ctx context.Context, p event.Payload) {
	if err := m.sink.Publish(ctx, p); err != nil {
		m.logger.Warn("event publish failed",
			slog.String("event", p.EventName()),
			slog.String("error", err.Error()),
		)
	}
}
