package job_test

import (
	"testing"
	"time"

	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
)

func TestStatusIsTerminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status job.Status
		want   bool
	}{
		{job.StatusPending, false},
		{job.StatusDispatching, false},
		{job.StatusLocked, false},
		{job.StatusInProgress, false},
		{job.StatusCompleted, true},
		{job.StatusExpired, true},
		{job.StatusFailed, true},
		{job.StatusCancelled, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%q.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusIsFrozen(t *testing.T) {
	t.Parallel()

	// In-progress is the one non-terminal status automated writers must
	// not touch.
	if !job.StatusInProgress.IsFrozen() {
		t.Error("in_progress should be frozen")
	}
	if job.StatusLocked.IsFrozen() {
		t.Error("locked should not be frozen")
	}
	for _, s := range []job.Status{job.StatusCompleted, job.StatusExpired, job.StatusFailed, job.StatusCancelled} {
		if !s.IsFrozen() {
			t.Errorf("%q should be frozen", s)
		}
	}
}

func TestLockActive(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	tests := []struct {
		name string
		mut  func(*job.Job)
		want bool
	}{
		{"live lock", func(j *job.Job) {
			j.LockHolder = id.NewCandidateID()
			j.LockExpiresAt = &future
		}, true},
		{"expired lock", func(j *job.Job) {
			j.LockHolder = id.NewCandidateID()
			j.LockExpiresAt = &past
		}, false},
		{"no holder", func(j *job.Job) {
			j.LockExpiresAt = &future
		}, false},
		{"no expiry", func(j *job.Job) {
			j.LockHolder = id.NewCandidateID()
		}, false},
		{"no lock at all", func(*job.Job) {}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			j := &job.Job{ID: id.NewJobID()}
			tt.mut(j)
			if got := j.LockActive(now); got != tt.want {
				t.Errorf("LockActive = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClearLock(t *testing.T) {
	t.Parallel()
	now := time.Now().UTC()
	j := &job.Job{
		ID:            id.NewJobID(),
		Status:        job.StatusLocked,
		LockHolder:    id.NewCandidateID(),
		LockedAt:      &now,
		LockExpiresAt: &now,
	}

	j.ClearLock()

	if !j.LockHolder.IsNil() || j.LockedAt != nil || j.LockExpiresAt != nil {
		t.Error("lock fields not cleared")
	}
	if j.Status != job.StatusLocked {
		t.Error("ClearLock must not touch Status")
	}
}

func TestNotifiedSoFar(t *testing.T) {
	t.Parallel()
	a, b, c := id.NewCandidateID(), id.NewCandidateID(), id.NewCandidateID()
	j := &job.Job{
		ID: id.NewJobID(),
		Waves: []job.Wave{
			{Number: 1, Notified: []id.CandidateID{a, b}},
			{Number: 2, Notified: []id.CandidateID{c}},
		},
	}

	got := j.NotifiedSoFar()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	want := []id.CandidateID{a, b, c}
	for i := range want {
		if got[i].String() != want[i].String() {
			t.Errorf("got[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	if empty := (&job.Job{}).NotifiedSoFar(); len(empty) != 0 {
		t.Errorf("empty job NotifiedSoFar = %v, want none", empty)
	}
}
