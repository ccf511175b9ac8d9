package hook

import (
	"context"
	"log/slog"

	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/penalty"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type dispatchStartedEntry struct {
	name string
	hook DispatchStarted
}

type waveSentEntry struct {
	name string
	hook WaveSent
}

type jobLockedEntry struct {
	name string
	hook JobLocked
}

type jobConfirmedEntry struct {
	name string
	hook JobConfirmed
}

type jobUnlockedEntry struct {
	name string
	hook JobUnlocked
}

type jobFailedEntry struct {
	name string
	hook JobFailed
}

type jobExpiredEntry struct {
	name string
	hook JobExpired
}

type escrowSettledEntry struct {
	name string
	hook EscrowSettled
}

type penaltyAppliedEntry struct {
	name string
	hook PenaltyApplied
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	dispatchStarted []dispatchStartedEntry
	waveSent        []waveSentEntry
	jobLocked       []jobLockedEntry
	jobConfirmed    []jobConfirmedEntry
	jobUnlocked     []jobUnlockedEntry
	jobFailed       []jobFailedEntry
	jobExpired      []jobExpiredEntry
	escrowSettled   []escrowSettledEntry
	penaltyApplied  []penaltyAppliedEntry
	shutdown        []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(DispatchStarted); ok {
		r.dispatchStarted = append(r.dispatchStarted, dispatchStartedEntry{name, h})
	}
	if h, ok := e.(WaveSent); ok {
		r.waveSent = append(r.waveSent, waveSentEntry{name, h})
	}
	if h, ok := e.(JobLocked); ok {
		r.jobLocked = append(r.jobLocked, jobLockedEntry{name, h})
	}
	if h, ok := e.(JobConfirmed); ok {
		r.jobConfirmed = append(r.jobConfirmed, jobConfirmedEntry{name, h})
	}
	if h, ok := e.(JobUnlocked); ok {
		r.jobUnlocked = append(r.jobUnlocked, jobUnlockedEntry{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, jobFailedEntry{name, h})
	}
	if h, ok := e.(JobExpired); ok {
		r.jobExpired = append(r.jobExpired, jobExpiredEntry{name, h})
	}
	if h, ok := e.(EscrowSettled); ok {
		r.escrowSettled = append(r.escrowSettled, escrowSettledEntry{name, h})
	}
	if h, ok := e.(PenaltyApplied); ok {
		r.penaltyApplied = append(r.penaltyApplied, penaltyAppliedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Emitters
// ──────────────────────────────────────────────────

// EmitDispatchStarted notifies all extensions that implement DispatchStarted.
func (r *Registry) EmitDispatchStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.dispatchStarted {
		if err := e.hook.OnDispatchStarted(ctx, j); err != nil {
			r.logHookError("OnDispatchStarted", e.name, err)
		}
	}
}

// EmitWaveSent notifies all extensions that implement WaveSent.
func (r *Registry) EmitWaveSent(ctx context.Context, j *job.Job, wave int, notified []id.CandidateID) {
	for _, e := range r.waveSent {
		if err := e.hook.OnWaveSent(ctx, j, wave, notified); err != nil {
			r.logHookError("OnWaveSent", e.name, err)
		}
	}
}

// EmitJobLocked notifies all extensions that implement JobLocked.
func (r *Registry) EmitJobLocked(ctx context.Context, j *job.Job, candID id.CandidateID) {
	for _, e := range r.jobLocked {
		if err := e.hook.OnJobLocked(ctx, j, candID); err != nil {
			r.logHookError("OnJobLocked", e.name, err)
		}
	}
}

// EmitJobConfirmed notifies all extensions that implement JobConfirmed.
func (r *Registry) EmitJobConfirmed(ctx context.Context, j *job.Job, candID id.CandidateID) {
	for _, e := range r.jobConfirmed {
		if err := e.hook.OnJobConfirmed(ctx, j, candID); err != nil {
			r.logHookError("OnJobConfirmed", e.name, err)
		}
	}
}

// EmitJobUnlocked notifies all extensions that implement JobUnlocked.
func (r *Registry) EmitJobUnlocked(ctx context.Context, j *job.Job) {
	for _, e := range r.jobUnlocked {
		if err := e.hook.OnJobUnlocked(ctx, j); err != nil {
			r.logHookError("OnJobUnlocked", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, reason string) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, reason); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobExpired notifies all extensions that implement JobExpired.
func (r *Registry) EmitJobExpired(ctx context.Context, j *job.Job) {
	for _, e := range r.jobExpired {
		if err := e.hook.OnJobExpired(ctx, j); err != nil {
			r.logHookError("OnJobExpired", e.name, err)
		}
	}
}

// EmitEscrowSettled notifies all extensions that implement EscrowSettled.
func (r *Registry) EmitEscrowSettled(ctx context.Context, es *escrow.Escrow) {
	for _, e := range r.escrowSettled {
		if err := e.hook.OnEscrowSettled(ctx, es); err != nil {
			r.logHookError("OnEscrowSettled", e.name, err)
		}
	}
}

// EmitPenaltyApplied notifies all extensions that implement PenaltyApplied.
func (r *Registry) EmitPenaltyApplied(ctx context.Context, rec *penalty.Record) {
	for _, e := range r.penaltyApplied {
		if err := e.hook.OnPenaltyApplied(ctx, rec); err != nil {
			r.logHookError("OnPenaltyApplied", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs and swallows a hook error. A misbehaving extension
// must never abort the state transition it is observing.
func (r *Registry) logHookError(hookName, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hookName),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
