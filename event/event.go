// Package event provides the outbound event layer for the dispatch
// engine. State changes are published as a closed set of tagged payload
// variants, one struct per event type, through a Sink backed by an
// event Store, so consumers get compile-time guarantees about payload
// shape. Delivery is best-effort, at most once per call.
package event

import (
	"time"

	"github.com/quickgig/rush/id"
)

// SchemaVersion is stamped into every published envelope.
const SchemaVersion = 1

// Event is the persisted form of a published payload.
type Event struct {
	ID        id.EventID `json:"id"`
	Name      string     `json:"name"`
	Payload   []byte     `json:"payload,omitempty"`
	Acked     bool       `json:"acked"`
	CreatedAt time.Time  `json:"created_at"`
}

// Payload is implemented by every event variant.
type Payload interface {
	// EventName returns the wire name, e.g. "job:locked".
	EventName() string
}

// Envelope carries the fields common to every job-scoped event.
type Envelope struct {
	JobID         id.JobID  `json:"job_id"`
	Status        string    `json:"status"`
	At            time.Time `json:"timestamp"`
	SchemaVersion int       `json:"schema_version"`
}

// NewEnvelope builds the common envelope for a job-scoped event.
func NewEnvelope(jobID id.JobID, status string) Envelope {
	return Envelope{
		JobID:         jobID,
		Status:        status,
		At:            time.Now().UTC(),
		SchemaVersion: SchemaVersion,
	}
}

// ──────────────────────────────────────────────────
// Job-scoped events
// ──────────────────────────────────────────────────

// JobDispatching announces that candidate waves have started.
type JobDispatching struct {
	Envelope
}

// EventName implements Payload.
func (JobDispatching) EventName() string { return "job:dispatching" }

// JobLocked announces that a candidate holds the exclusive claim.
type JobLocked struct {
	Envelope
	LockExpiresAt time.Time `json:"lock_expires_at"`
}

// EventName implements Payload.
func (JobLocked) EventName() string { return "job:locked" }

// JobUnlocked announces that the claim was released and dispatch resumed.
type JobUnlocked struct {
	Envelope
}

// EventName implements Payload.
func (JobUnlocked) EventName() string { return "job:unlocked" }

// JobFailed announces that dispatch exhausted all waves.
type JobFailed struct {
	Envelope
	Reason string `json:"reason,omitempty"`
}

// EventName implements Payload.
func (JobFailed) EventName() string { return "job:failed" }

// JobExpired announces that the job passed its deadline with no
// confirmed worker.
type JobExpired struct {
	Envelope
}

// EventName implements Payload.
func (JobExpired) EventName() string { return "job:expired" }

// ──────────────────────────────────────────────────
// Candidate-targeted events
// ──────────────────────────────────────────────────

// StudentPing is the time-boxed offer sent to one candidate.
type StudentPing struct {
	Envelope
	CandidateID id.CandidateID `json:"candidate_id"`
	JobTitle    string         `json:"job_title"`
	DistanceKm  float64        `json:"distance_km"`
	Pay         string         `json:"pay"`
	ExpiresIn   time.Duration  `json:"expires_in"`
	Wave        int            `json:"wave"`
}

// EventName implements Payload.
func (StudentPing) EventName() string { return "student:ping" }

// LockAssigned tells the accepting candidate their claim was granted.
type LockAssigned struct {
	Envelope
	CandidateID   id.CandidateID `json:"candidate_id"`
	LockExpiresAt time.Time      `json:"lock_expires_at"`
}

// EventName implements Payload.
func (LockAssigned) EventName() string { return "student:lock_assigned" }

// LockReleased tells the former holder their claim is gone.
type LockReleased struct {
	Envelope
	CandidateID id.CandidateID `json:"candidate_id"`
}

// EventName implements Payload.
func (LockReleased) EventName() string { return "student:lock_released" }

// ──────────────────────────────────────────────────
// Employer-targeted events
// ──────────────────────────────────────────────────

// StudentAssigned tells the employer a candidate accepted and awaits
// confirmation before the lock expires.
type StudentAssigned struct {
	Envelope
	EmployerID    id.EmployerID  `json:"employer_id"`
	CandidateID   id.CandidateID `json:"candidate_id"`
	LockExpiresAt time.Time      `json:"lock_expires_at"`
}

// EventName implements Payload.
func (StudentAssigned) EventName() string { return "employer:student_assigned" }
