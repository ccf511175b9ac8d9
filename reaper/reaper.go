// Package reaper runs the background sweeps that keep dispatch state
// honest: releasing expired exclusive locks, force-expiring jobs past
// their deadline, and clearing lapsed candidate availability windows.
// Each sweep runs on its own schedule; all of them are idempotent and
// safe to re-run over the same rows.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/lock"
)

// sweepConcurrency bounds how many expired jobs one job sweep settles
// in parallel.
const sweepConcurrency = 4

// casAttempts bounds guarded-write retries against racing writers.
const casAttempts = 3

// Resumer re-arms the wave loop for a job whose lock the reaper
// released. engine.Engine satisfies this interface.
type Resumer interface {
	ResumeDispatch(ctx context.Context, jobID id.JobID, delay time.Duration)
}

// Emitter emits reaper lifecycle events.
// hook.Registry satisfies this interface via EmitJobExpired.
type Emitter interface {
	EmitJobExpired(ctx context.Context, j *job.Job)
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Option configures a Reaper.
type Option func(*Reaper)

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(r *Reaper) { r.logger = lg }
}

// WithEmitter sets the extension emitter notified on job expiry.
func WithEmitter(e Emitter) Option {
	return func(r *Reaper) { r.emitter = e }
}

// WithResumer sets the dispatch resumer invoked after an expired lock
// is released on a still-live job.
func WithResumer(res Resumer) Option {
	return func(r *Reaper) { r.resumer = res }
}

// Reaper owns the three background sweeps. Start launches one goroutine
// per sweep; Stop signals them and waits.
type Reaper struct {
	cfg        rush.Config
	jobs       job.Store
	candidates candidate.Store
	locks      *lock.Manager
	ledger     *escrow.Ledger
	sink       event.Sink
	resumer    Resumer
	emitter    Emitter
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Reaper over the given subsystems.
func New(
	cfg rush.Config,
	jobs job.Store,
	candidates candidate.Store,
	locks *lock.Manager,
	ledger *escrow.Ledger,
	sink event.Sink,
	opts ...Option,
) *Reaper {
	r := &Reaper{
		cfg:        cfg,
		jobs:       jobs,
		candidates: candidates,
		locks:      locks,
		ledger:     ledger,
		sink:       sink,
		logger:     slog.Default(),
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the sweep goroutines.
func (r *Reaper) Start(_ context.Context) error {
	loops := []struct {
		name     string
		schedule string
		sweep    func(context.Context)
	}{
		{"lock_sweep", every(r.cfg.LockSweepInterval), r.SweepLocks},
		{"job_sweep", every(r.cfg.JobSweepInterval), r.SweepJobs},
		{"availability_sweep", every(r.cfg.AvailabilitySweepInterval), r.SweepAvailability},
	}

	for _, loop := range loops {
		sched, err := cronParser.Parse(loop.schedule)
		if err != nil {
			return err
		}
		r.wg.Add(1)
		go r.run(loop.name, sched, loop.sweep)
	}

	r.logger.Info("reaper started",
		slog.Duration("lock_sweep", r.cfg.LockSweepInterval),
		slog.Duration("job_sweep", r.cfg.JobSweepInterval),
		slog.Duration("availability_sweep", r.cfg.AvailabilitySweepInterval),
	)
	return nil
}

// Stop signals the sweeps to stop and waits for them to finish.
func (r *Reaper) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("reaper stopped")
	return nil
}

// run fires one sweep on its cron schedule until stopped.
func (r *Reaper) run(name string, sched cronlib.Schedule, sweep func(context.Context)) {
	defer r.wg.Done()

	for {
		now := time.Now().UTC()
		timer := time.NewTimer(sched.Next(now).Sub(now))
		select {
		case <-r.stopCh:
			timer.Stop()
			return
		case <-timer.C:
			r.logger.Debug("sweep firing", slog.String("sweep", name))
			sweep(context.Background())
		}
	}
}

// ──────────────────────────────────────────────────
// Lock sweep
// ──────────────────────────────────────────────────

// SweepLocks releases every lock past its TTL whose holder was never
// confirmed, putting each job back into dispatch. Exported so callers
// can force a pass outside the schedule.
func (r *Reaper) SweepLocks(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := r.jobs.ListExpiredLocks(ctx, now)
	if err != nil {
		r.logger.Error("expired lock scan failed", slog.String("error", err.Error()))
		return
	}

	for _, j := range stale {
		if err := r.locks.Release(ctx, j.ID); err != nil {
			r.logger.Error("expired lock release failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("expired lock released",
			slog.String("job_id", j.ID.String()),
			slog.String("holder", j.LockHolder.String()),
		)
		if r.resumer != nil {
			r.resumer.ResumeDispatch(ctx, j.ID, 0)
		}
	}
}

// ──────────────────────────────────────────────────
// Job sweep
// ──────────────────────────────────────────────────

// SweepJobs force-expires unresolved jobs past their deadline and
// refunds any held escrow. Locked jobs get a grace allowance past the
// deadline so an in-flight employer confirmation is not cut off.
func (r *Reaper) SweepJobs(ctx context.Context) {
	now := time.Now().UTC()
	stale, err := r.jobs.ListExpiredJobs(ctx, now, r.cfg.LockGrace)
	if err != nil {
		r.logger.Error("expired job scan failed", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, j := range stale {
		g.Go(func() error {
			r.expireJob(gctx, j.ID)
			return nil
		})
	}
	_ = g.Wait()
}

// expireJob moves one job to expired under the version guard and
// settles its escrow. A second sweep finding the job already expired is
// a no-op.
func (r *Reaper) expireJob(ctx context.Context, jobID id.JobID) {
	var expired *job.Job
	for attempt := 0; attempt < casAttempts; attempt++ {
		j, err := r.jobs.GetJob(ctx, jobID)
		if err != nil {
			return
		}
		// The job may have resolved between scan and settle.
		if j.Status.IsTerminal() || j.Status == job.StatusInProgress || !j.ConfirmedWorker.IsNil() {
			return
		}

		j.Status = job.StatusExpired
		j.ClearLock()

		err = r.jobs.UpdateJob(ctx, j)
		if err == nil {
			expired = j
			break
		}
		if !errors.Is(err, rush.ErrConflict) {
			r.logger.Error("job expiry not persisted",
				slog.String("job_id", jobID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	if expired == nil {
		return
	}

	if !expired.EscrowID.IsNil() {
		if _, err := r.ledger.Refund(ctx, expired.EscrowID); err != nil {
			r.logger.Error("expiry refund error",
				slog.String("job_id", expired.ID.String()),
				slog.String("escrow_id", expired.EscrowID.String()),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := r.sink.Publish(ctx, event.JobExpired{
		Envelope: event.NewEnvelope(expired.ID, string(expired.Status)),
	}); err != nil {
		r.logger.Warn("expiry publish failed",
			slog.String("job_id", expired.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	if r.emitter != nil {
		r.emitter.EmitJobExpired(ctx, expired)
	}
	r.logger.Info("job expired", slog.String("job_id", expired.ID.String()))
}

// ──────────────────────────────────────────────────
// Availability sweep
// ──────────────────────────────────────────────────

// SweepAvailability turns off the dispatchable flag for candidates
// whose availability window lapsed.
func (r *Reaper) SweepAvailability(ctx context.Context) {
	now := time.Now().UTC()
	lapsed, err := r.candidates.ListLapsedAvailability(ctx, now)
	if err != nil {
		r.logger.Error("lapsed availability scan failed", slog.String("error", err.Error()))
		return
	}

	for _, c := range lapsed {
		if err := r.candidates.ClearAvailability(ctx, c.ID); err != nil {
			r.logger.Error("clear availability failed",
				slog.String("candidate_id", c.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
	}
	if len(lapsed) > 0 {
		r.logger.Info("availability windows cleared", slog.Int("count", len(lapsed)))
	}
}

// every formats a duration as a cron descriptor.
func every(d time.Duration) string {
	return "@every " + d.String()
}
