package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/lock"
	"github.com/quickgig/rush/sched"
	"github.com/quickgig/rush/store/memory"
)

const ttl = 60 * time.Second

func newManager(s *memory.Store) *lock.Manager {
	return lock.NewManager(s, event.NewBus(s), sched.New(), ttl)
}

func seedJob(t *testing.T, s *memory.Store, status job.Status) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:     rush.NewEntity(),
		ID:         id.NewJobID(),
		EmployerID: id.NewEmployerID(),
		Title:      "stack chairs",
		Pay:        decimal.NewFromInt(30),
		Status:     status,
		ExpiresAt:  time.Now().UTC().Add(time.Hour),
	}
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func TestAcquire(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	cand := id.NewCandidateID()

	before := time.Now().UTC()
	locked, err := m.Acquire(context.Background(), j.ID, cand)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if locked.Status != job.StatusLocked {
		t.Errorf("Status = %q, want locked", locked.Status)
	}
	if locked.LockHolder.String() != cand.String() {
		t.Errorf("LockHolder = %s, want %s", locked.LockHolder, cand)
	}

	// The claim lasts exactly the configured TTL from the grant.
	if locked.LockedAt == nil || locked.LockExpiresAt == nil {
		t.Fatal("lock timestamps not set")
	}
	if got := locked.LockExpiresAt.Sub(*locked.LockedAt); got != ttl {
		t.Errorf("lock window = %v, want %v", got, ttl)
	}
	if locked.LockExpiresAt.Before(before.Add(ttl)) {
		t.Errorf("LockExpiresAt = %v, too early", locked.LockExpiresAt)
	}
}

func TestAcquireSecondCandidateRefused(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	first := id.NewCandidateID()
	if _, err := m.Acquire(context.Background(), j.ID, first); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	_, err := m.Acquire(context.Background(), j.ID, id.NewCandidateID())
	if !errors.Is(err, rush.ErrLockHeld) {
		t.Errorf("err = %v, want ErrLockHeld", err)
	}

	// The holder re-acquiring gets a fresh grant, not a refusal.
	if _, err := m.Acquire(context.Background(), j.ID, first); err != nil {
		t.Errorf("holder re-acquire: %v", err)
	}
}

func TestAcquireOverExpiredLock(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)

	// Seed a stale lock directly: expired claims are absent to readers.
	past := time.Now().UTC().Add(-time.Minute)
	earlier := past.Add(-ttl)
	j.Status = job.StatusLocked
	j.LockHolder = id.NewCandidateID()
	j.LockedAt = &earlier
	j.LockExpiresAt = &past
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	cand := id.NewCandidateID()
	locked, err := m.Acquire(context.Background(), j.ID, cand)
	if err != nil {
		t.Fatalf("Acquire over expired lock: %v", err)
	}
	if locked.LockHolder.String() != cand.String() {
		t.Errorf("LockHolder = %s, want %s", locked.LockHolder, cand)
	}
}

func TestAcquireGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  job.Status
		wantErr error
	}{
		{"in progress", job.StatusInProgress, rush.ErrAlreadyResolved},
		{"completed", job.StatusCompleted, rush.ErrAlreadyResolved},
		{"failed", job.StatusFailed, rush.ErrAlreadyFailed},
		{"expired", job.StatusExpired, rush.ErrInvalidState},
		{"cancelled", job.StatusCancelled, rush.ErrInvalidState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := memory.New()
			m := newManager(s)
			j := seedJob(t, s, tt.status)

			_, err := m.Acquire(context.Background(), j.ID, id.NewCandidateID())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAcquireConfirmedJobRefused(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusLocked)
	j.ConfirmedWorker = id.NewCandidateID()
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	_, err := m.Acquire(context.Background(), j.ID, id.NewCandidateID())
	if !errors.Is(err, rush.ErrAlreadyAssigned) {
		t.Errorf("err = %v, want ErrAlreadyAssigned", err)
	}
}

func TestReleaseRevertsToDispatching(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	if _, err := m.Acquire(context.Background(), j.ID, id.NewCandidateID()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if err := m.Release(context.Background(), j.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusDispatching {
		t.Errorf("Status = %q, want dispatching", got.Status)
	}
	if !got.LockHolder.IsNil() || got.LockExpiresAt != nil {
		t.Error("lock sub-record not cleared")
	}

	// Releasing again is silent.
	if err := m.Release(context.Background(), j.ID); err != nil {
		t.Errorf("second Release: %v", err)
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	cand := id.NewCandidateID()
	if _, err := m.Acquire(context.Background(), j.ID, cand); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	confirmed, err := m.Confirm(context.Background(), j.ID, j.EmployerID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.ConfirmedWorker.String() != cand.String() {
		t.Errorf("ConfirmedWorker = %s, want %s", confirmed.ConfirmedWorker, cand)
	}
	if confirmed.ConfirmedAt == nil {
		t.Error("ConfirmedAt not set")
	}
	if confirmed.CurrentWave != 0 {
		t.Errorf("CurrentWave = %d, want 0", confirmed.CurrentWave)
	}
	if confirmed.Status != job.StatusLocked {
		t.Errorf("Status = %q, want locked until execution starts", confirmed.Status)
	}
}

func TestConfirmWrongEmployer(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	if _, err := m.Acquire(context.Background(), j.ID, id.NewCandidateID()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err := m.Confirm(context.Background(), j.ID, id.NewEmployerID())
	if !errors.Is(err, rush.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestConfirmNoHolder(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	_, err := m.Confirm(context.Background(), j.ID, j.EmployerID)
	if !errors.Is(err, rush.ErrNotLocked) {
		t.Errorf("err = %v, want ErrNotLocked", err)
	}
}

func TestConfirmExpiredLockImplicitlyReleases(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)

	past := time.Now().UTC().Add(-time.Second)
	earlier := past.Add(-ttl)
	j.Status = job.StatusLocked
	j.LockHolder = id.NewCandidateID()
	j.LockedAt = &earlier
	j.LockExpiresAt = &past
	if err := s.UpdateJob(context.Background(), j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	_, err := m.Confirm(context.Background(), j.ID, j.EmployerID)
	if !errors.Is(err, rush.ErrLockExpired) {
		t.Fatalf("err = %v, want ErrLockExpired", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusDispatching {
		t.Errorf("Status = %q, want dispatching after implicit release", got.Status)
	}
	if !got.LockHolder.IsNil() {
		t.Error("expired lock not cleared")
	}
}

func TestConfirmRepeatedAfterLockWindow(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	cand := id.NewCandidateID()
	if _, err := m.Acquire(context.Background(), j.ID, cand); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Confirm(context.Background(), j.ID, j.EmployerID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	// A retried confirm can arrive after the lock window has run out.
	// It must not take the expiry branch and knock the confirmed job
	// back into dispatching.
	aged, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	past := time.Now().UTC().Add(-time.Second)
	aged.LockExpiresAt = &past
	if err := s.UpdateJob(context.Background(), aged); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	again, err := m.Confirm(context.Background(), j.ID, j.EmployerID)
	if err != nil {
		t.Fatalf("repeated Confirm: %v", err)
	}
	if again.ConfirmedWorker.String() != cand.String() {
		t.Errorf("ConfirmedWorker = %s, want %s", again.ConfirmedWorker, cand)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusLocked {
		t.Errorf("Status = %q, want locked", got.Status)
	}
	if got.ConfirmedWorker.String() != cand.String() {
		t.Errorf("ConfirmedWorker = %s, want %s", got.ConfirmedWorker, cand)
	}
	if got.LockHolder.IsNil() {
		t.Error("confirmed worker lost the lock")
	}
}

func TestReleaseLeavesConfirmedJob(t *testing.T) {
	t.Parallel()
	s := memory.New()
	m := newManager(s)

	j := seedJob(t, s, job.StatusDispatching)
	cand := id.NewCandidateID()
	if _, err := m.Acquire(context.Background(), j.ID, cand); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := m.Confirm(context.Background(), j.ID, j.EmployerID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	if err := m.Release(context.Background(), j.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	got, err := s.GetJob(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != job.StatusLocked {
		t.Errorf("Status = %q, want locked", got.Status)
	}
	if got.ConfirmedWorker.IsNil() || got.LockHolder.IsNil() {
		t.Error("release stripped a confirmed job")
	}
}
