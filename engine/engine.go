// Package engine wires all Rush subsystems together and drives the job
// status state machine end to end: it runs the wave loop (schedule →
// notify → wait → next wave), reacts to accept/confirm/reject calls, and
// settles escrow on terminal outcomes.
//
// This package sits above all subsystem packages and below the
// application layer, mirroring the composable store pattern: the
// application hands it one backend implementing every subsystem store.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/fanout"
	"github.com/quickgig/rush/hook"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/lock"
	"github.com/quickgig/rush/match"
	"github.com/quickgig/rush/sched"
)

// casAttempts bounds guarded-write retries when racing writers bump the
// job version first.
const casAttempts = 3

// dispatchState is the engine's in-memory bookkeeping for one active
// dispatch: the rejected-candidate exclusion set accumulated across
// employer rejections.
type dispatchState struct {
	rejected []id.CandidateID
}

// Engine is the dispatch coordinator.
type Engine struct {
	cfg     rush.Config
	jobs    job.Store
	ledger  *escrow.Ledger
	matcher *match.Matcher
	fan     *fanout.Fanout
	locks   *lock.Manager
	sink    event.Sink
	timers  sched.Scheduler
	hooks   *hook.Registry
	logger  *slog.Logger

	mu     sync.Mutex
	active map[string]*dispatchState
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig overrides the default dispatch parameters.
func WithConfig(cfg rush.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(e *Engine) { e.logger = lg }
}

// WithHooks sets the extension registry notified of lifecycle events.
func WithHooks(r *hook.Registry) Option {
	return func(e *Engine) { e.hooks = r }
}

// New creates an Engine over the given subsystems.
func New(
	jobs job.Store,
	ledger *escrow.Ledger,
	matcher *match.Matcher,
	fan *fanout.Fanout,
	locks *lock.Manager,
	sink event.Sink,
	timers sched.Scheduler,
	opts ...Option,
) *Engine {
	e := &Engine{
		cfg:     rush.DefaultConfig(),
		jobs:    jobs,
		ledger:  ledger,
		matcher: matcher,
		fan:     fan,
		locks:   locks,
		sink:    sink,
		timers:  timers,
		logger:  slog.Default(),
		active:  make(map[string]*dispatchState),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Locks returns the lock manager, for callers that settle outcomes
// directly against it.
func (e *Engine) Locks() *lock.Manager { return e.locks }

// ──────────────────────────────────────────────────
// Entry points
// ──────────────────────────────────────────────────

// StartDispatch begins the wave loop for a pending job. Valid only from
// pending or dispatching status, with no dispatch already active and no
// locked or confirmed worker.
func (e *Engine) StartDispatch(ctx context.Context, jobID id.JobID) error {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	if j.Status != job.StatusPending && j.Status != job.StatusDispatching {
		return rush.ErrInvalidState
	}
	if !j.ConfirmedWorker.IsNil() {
		return rush.ErrAlreadyAssigned
	}
	if j.LockActive(time.Now().UTC()) {
		return rush.ErrLockHeld
	}

	e.mu.Lock()
	if _, dup := e.active[jobID.String()]; dup {
		e.mu.Unlock()
		return rush.ErrInvalidState
	}
	e.active[jobID.String()] = &dispatchState{}
	e.mu.Unlock()

	j.Status = job.StatusDispatching
	j.CurrentWave = 0
	if err := e.jobs.UpdateJob(ctx, j); err != nil {
		e.deactivate(jobID)
		return err
	}

	e.publish(ctx, event.JobDispatching{Envelope: event.NewEnvelope(j.ID, string(j.Status))})
	if e.hooks != nil {
		e.hooks.EmitDispatchStarted(ctx, j)
	}
	e.logger.Info("dispatch started", slog.String("job_id", jobID.String()))

	// Wave 1 fires immediately.
	e.timers.Schedule(jobID, 0, func() {
		e.runWave(context.Background(), jobID, 1)
	})
	return nil
}

// StudentAccept handles a candidate accepting an offer. It cancels any
// pending wave timer for the job, the synchronization point that
// prevents a wave firing after the lock is granted, then delegates to
// the lock manager.
func (e *Engine) StudentAccept(ctx context.Context, jobID id.JobID, candID id.CandidateID) (*job.Job, error) {
	e.timers.Cancel(jobID)

	j, err := e.locks.Acquire(ctx, jobID, candID)
	if err != nil {
		// The lock was refused; if dispatch is still live, rearm the
		// wave loop the cancel above disarmed.
		e.rearmIfDispatching(ctx, jobID)
		return nil, err
	}
	return j, nil
}

// EmployerConfirm resolves the employer's decision on the lock holder.
// With accept=true the lock is promoted to a confirmed worker; a stale
// lock fails with rush.ErrLockExpired and the job resumes dispatch.
// With accept=false the lock is released and one immediate re-match pass
// runs, bypassing the wave delay, before falling back to the normal
// schedule.
func (e *Engine) EmployerConfirm(ctx context.Context, jobID id.JobID, employerID id.EmployerID, accept bool) (*job.Job, error) {
	if !accept {
		return e.employerReject(ctx, jobID, employerID)
	}

	j, err := e.locks.Confirm(ctx, jobID, employerID)
	if err != nil {
		if errors.Is(err, rush.ErrLockExpired) {
			// The implicit release put the job back in dispatching;
			// pick the wave loop back up.
			e.resumeDispatch(ctx, jobID, e.cfg.WaveDelay)
		}
		return nil, err
	}

	e.deactivate(jobID)
	return j, nil
}

// employerReject releases the holder and immediately attempts one more
// matcher and fanout pass. The employer is actively present and
// waiting, so the wave delay is skipped.
func (e *Engine) employerReject(ctx context.Context, jobID id.JobID, employerID id.EmployerID) (*job.Job, error) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.EmployerID.String() != employerID.String() {
		return nil, rush.ErrUnauthorized
	}
	// Once a worker is confirmed the holder can no longer be rejected
	// through dispatch; backing out is a cancellation with penalties.
	if !j.ConfirmedWorker.IsNil() {
		return nil, rush.ErrAlreadyAssigned
	}
	if j.LockHolder.IsNil() {
		return nil, rush.ErrNotLocked
	}

	rejected := j.LockHolder
	e.mu.Lock()
	st, ok := e.active[jobID.String()]
	if !ok {
		st = &dispatchState{}
		e.active[jobID.String()] = st
	}
	st.rejected = append(st.rejected, rejected)
	e.mu.Unlock()

	if err := e.locks.Release(ctx, jobID); err != nil {
		return nil, err
	}

	// Immediate re-match. runWave falls back to the delayed schedule on
	// its own when nobody is found, and fails the job at the wave limit.
	e.runWave(ctx, jobID, j.CurrentWave+1)

	return e.jobs.GetJob(ctx, jobID)
}

// StopDispatch cancels the pending wave timer for a job. It is a pure
// cancellation primitive: it never mutates job status, since transitions
// belong exclusively to the lock manager and the wave loop. Safe to call
// redundantly.
func (e *Engine) StopDispatch(jobID id.JobID) {
	e.timers.Cancel(jobID)
	e.deactivate(jobID)
}

// ResumeDispatch re-arms the wave loop for a job that reverted to
// dispatching outside the normal reject path (e.g. after the reaper
// released an expired lock). The next wave fires after delay.
func (e *Engine) ResumeDispatch(ctx context.Context, jobID id.JobID, delay time.Duration) {
	e.resumeDispatch(ctx, jobID, delay)
}

// Shutdown cancels all pending timers and notifies extensions.
func (e *Engine) Shutdown(ctx context.Context) {
	e.timers.Stop()
	e.mu.Lock()
	e.active = make(map[string]*dispatchState)
	e.mu.Unlock()
	if e.hooks != nil {
		e.hooks.EmitShutdown(ctx)
	}
	e.logger.Info("dispatch engine stopped")
}

// ──────────────────────────────────────────────────
// Wave loop
// ──────────────────────────────────────────────────

// runWave executes wave n for a job. It re-reads the job at entry and,
// when notifications went out, once more before scheduling the next
// wave, closing the race where an accept lands during fanout.
func (e *Engine) runWave(ctx context.Context, jobID id.JobID, n int) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		e.logger.Warn("wave read failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	// Stale-timer guard: another actor resolved or claimed the job.
	if j.Status.IsFrozen() || !j.ConfirmedWorker.IsNil() {
		e.deactivate(jobID)
		return
	}
	if j.Status == job.StatusLocked {
		return
	}

	if n > e.cfg.MaxWaves {
		e.failJob(ctx, j, "wave limit exceeded")
		return
	}

	exclude := j.NotifiedSoFar()
	e.mu.Lock()
	if st, ok := e.active[jobID.String()]; ok {
		exclude = append(exclude, st.rejected...)
	}
	e.mu.Unlock()

	ranked, err := e.matcher.Eligible(ctx, j, exclude, e.cfg.WaveSize)
	if err != nil {
		e.logger.Error("matcher failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		// Treat as an empty wave; the next attempt may succeed.
		ranked = nil
	}

	notified := e.fan.Notify(ctx, j, ranked, n)
	if len(notified) == 0 {
		if n < e.cfg.MaxWaves {
			e.logger.Info("no candidates for wave",
				slog.String("job_id", jobID.String()),
				slog.Int("wave", n),
			)
			e.timers.Schedule(jobID, e.cfg.WaveDelay, func() {
				e.runWave(context.Background(), jobID, n+1)
			})
			return
		}
		e.failJob(ctx, j, "no candidates across all waves")
		return
	}

	if err := e.recordWave(ctx, jobID, n, notified); err != nil {
		e.logger.Error("wave record failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if e.hooks != nil {
		e.hooks.EmitWaveSent(ctx, j, n, notified)
	}
	e.logger.Info("wave sent",
		slog.String("job_id", jobID.String()),
		slog.Int("wave", n),
		slog.Int("notified", len(notified)),
	)

	// Second guard: an accept may have landed while offers were going
	// out. Only schedule the follow-up if the job is still dispatching.
	j, err = e.jobs.GetJob(ctx, jobID)
	if err != nil || j.Status != job.StatusDispatching || !j.ConfirmedWorker.IsNil() {
		return
	}

	if n < e.cfg.MaxWaves {
		e.timers.Schedule(jobID, e.cfg.WaveDelay, func() {
			e.runWave(context.Background(), jobID, n+1)
		})
		return
	}

	// Final wave went out; give it one more delay, then fail the job if
	// nobody was accepted or confirmed in the meantime.
	e.timers.Schedule(jobID, e.cfg.WaveDelay, func() {
		e.finalCheck(context.Background(), jobID)
	})
}

// recordWave appends the wave record and bumps the wave counter under
// the usual version guard, re-reading on conflict. It aborts silently
// when a racing writer moved the job out of dispatching.
func (e *Engine) recordWave(ctx context.Context, jobID id.JobID, n int, notified []id.CandidateID) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		j, err := e.jobs.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status != job.StatusDispatching {
			return nil
		}

		j.Waves = append(j.Waves, job.Wave{
			Number:   n,
			Notified: notified,
			SentAt:   time.Now().UTC(),
		})
		j.CurrentWave = n

		err = e.jobs.UpdateJob(ctx, j)
		if err == nil {
			return nil
		}
		if !errors.Is(err, rush.ErrConflict) {
			return err
		}
	}
	return rush.ErrConflict
}

// finalCheck fails the job if the last wave produced no accepted or
// confirmed worker within the delay.
func (e *Engine) finalCheck(ctx context.Context, jobID id.JobID) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	if j.Status != job.StatusDispatching || !j.ConfirmedWorker.IsNil() {
		return
	}
	e.failJob(ctx, j, "no acceptance after final wave")
}

// failJob transitions the job to failed, refunds any held escrow, and
// publishes the failure.
func (e *Engine) failJob(ctx context.Context, j *job.Job, reason string) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		j.Status = job.StatusFailed
		err := e.jobs.UpdateJob(ctx, j)
		if err == nil {
			break
		}
		if !errors.Is(err, rush.ErrConflict) || attempt == casAttempts-1 {
			e.logger.Error("fail transition not persisted",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		fresh, getErr := e.jobs.GetJob(ctx, j.ID)
		if getErr != nil {
			return
		}
		if fresh.Status.IsFrozen() || !fresh.ConfirmedWorker.IsNil() {
			// Someone resolved the job first; failing no longer applies.
			return
		}
		j = fresh
	}

	e.deactivate(j.ID)

	if !j.EscrowID.IsNil() {
		if _, err := e.ledger.Refund(ctx, j.EscrowID); err != nil {
			e.logger.Error("failure refund error",
				slog.String("job_id", j.ID.String()),
				slog.String("escrow_id", j.EscrowID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	e.publish(ctx, event.JobFailed{
		Envelope: event.NewEnvelope(j.ID, string(j.Status)),
		Reason:   reason,
	})
	if e.hooks != nil {
		e.hooks.EmitJobFailed(ctx, j, reason)
	}
	e.logger.Info("job failed",
		slog.String("job_id", j.ID.String()),
		slog.String("reason", reason),
	)
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// resumeDispatch schedules the next wave for a job that is (still) in
// dispatching status.
func (e *Engine) resumeDispatch(ctx context.Context, jobID id.JobID, delay time.Duration) {
	j, err := e.jobs.GetJob(ctx, jobID)
	if err != nil || j.Status != job.StatusDispatching {
		return
	}
	next := j.CurrentWave + 1
	e.timers.Schedule(jobID, delay, func() {
		e.runWave(context.Background(), jobID, next)
	})
}

// rearmIfDispatching restores the wave timer after a failed accept
// cancelled it.
func (e *Engine) rearmIfDispatching(ctx context.Context, jobID id.JobID) {
	e.resumeDispatch(ctx, jobID, e.cfg.WaveDelay)
}

func (e *Engine) deactivate(jobID id.JobID) {
	e.mu.Lock()
	delete(e.active, jobID.String())
	e.mu.Unlock()
}

func (e *Engine) publish(ctx context.Context, p event.Payload) {
	if err := e.sink.Publish(ctx, p); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("event", p.EventName()),
			slog.String("error", err.Error()),
		)
	}
}
