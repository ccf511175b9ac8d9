// Package penalty applies reputation and ban consequences to candidates
// and cancellation fees to employers, recording each as an immutable
// penalty record on the actor's history.
package penalty

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush/id"
)

// Type tags the cause of a penalty.
type Type string

const (
	// TypeStudentCancel is a candidate backing out after confirmation.
	TypeStudentCancel Type = "student_cancel"
	// TypeStudentNoShow is a confirmed candidate who never arrived.
	TypeStudentNoShow Type = "student_no_show"
	// TypeEmployerCancel is an employer cancelling a job with held funds.
	TypeEmployerCancel Type = "employer_cancel"
)

// Record is one applied penalty. Records are append-only and never
// mutated after creation.
type Record struct {
	ID         id.PenaltyID    `json:"id"`
	Type       Type            `json:"type"`
	JobID      id.JobID        `json:"job_id"`
	ActorID    id.AnyID        `json:"actor_id"`
	AppliedAt  time.Time       `json:"applied_at"`
	BanUntil   *time.Time      `json:"ban_until,omitempty"`
	FeeAmount  decimal.Decimal `json:"fee_amount,omitempty"`
	TrustDelta int             `json:"trust_delta,omitempty"`
	Note       string          `json:"note,omitempty"`
}
