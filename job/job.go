package job

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/id"
)

// Status represents the lifecycle state of a dispatched job.
type Status string

const (
	// StatusPending means the job exists but dispatch has not started.
	StatusPending Status = "pending"
	// StatusDispatching means candidate waves are being notified.
	StatusDispatching Status = "dispatching"
	// StatusLocked means one candidate holds an exclusive time-boxed claim.
	StatusLocked Status = "locked"
	// StatusInProgress means the confirmed worker has begun the job.
	StatusInProgress Status = "in_progress"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusExpired means the job's deadline passed before anyone was assigned.
	StatusExpired Status = "expired"
	// StatusFailed means dispatch exhausted all waves without an assignment.
	StatusFailed Status = "failed"
	// StatusCancelled means an actor cancelled the job.
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsFrozen reports whether automated writers (wave timers, the reaper)
// must leave this status untouched. In-progress and completed jobs are
// frozen in addition to the terminal states.
func (s Status) IsFrozen() bool {
	return s.IsTerminal() || s == StatusInProgress
}

// Origin is the job's dispatch center point.
type Origin struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Wave records one batch notification attempt. Waves are append-only and
// their numbers are strictly increasing per job.
type Wave struct {
	Number   int              `json:"number"`
	Notified []id.CandidateID `json:"notified"`
	SentAt   time.Time        `json:"sent_at"`
}

// Job is the unit of dispatch.
type Job struct {
	rush.Entity

	ID         id.JobID        `json:"id"`
	EmployerID id.EmployerID   `json:"employer_id"`
	Title      string          `json:"title"`
	Origin     Origin          `json:"origin"`
	RadiusKm   float64         `json:"radius_km"`
	Skills     []string        `json:"skills,omitempty"`
	Pay        decimal.Decimal `json:"pay"`
	Duration   time.Duration   `json:"duration,omitempty"`
	Status     Status          `json:"status"`

	CurrentWave int    `json:"current_wave"`
	Waves       []Wave `json:"waves,omitempty"`

	LockHolder    id.CandidateID `json:"lock_holder,omitempty"`
	LockedAt      *time.Time     `json:"locked_at,omitempty"`
	LockExpiresAt *time.Time     `json:"lock_expires_at,omitempty"`

	ConfirmedWorker id.CandidateID `json:"confirmed_worker,omitempty"`
	ConfirmedAt     *time.Time     `json:"confirmed_at,omitempty"`

	ExpiresAt time.Time   `json:"expires_at"`
	EscrowID  id.EscrowID `json:"escrow_id,omitempty"`

	// Version is a monotonic sequence number. Every guarded write is a
	// compare-and-swap on it; a mismatch surfaces as rush.ErrConflict.
	Version int64 `json:"version"`
}

// LockActive reports whether a non-expired lock is outstanding at the
// given instant. An expired lock is logically absent to every reader,
// even before a writer physically clears it.
func (j *Job) LockActive(now time.Time) bool {
	return !j.LockHolder.IsNil() && j.LockExpiresAt != nil && now.Before(*j.LockExpiresAt)
}

// ClearLock removes the lock sub-record. It does not touch Status.
func (j *Job) ClearLock() {
	j.LockHolder = id.Nil
	j.LockedAt = nil
	j.LockExpiresAt = nil
}

// NotifiedSoFar returns every candidate recorded in any wave so far.
func (j *Job) NotifiedSoFar() []id.CandidateID {
	var all []id.CandidateID
	for _, w := range j.Waves {
		all = append(all, w.Notified...)
	}
	return all
}
