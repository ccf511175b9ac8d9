// Package sched provides the keyed timer registry that drives wave
// progression. It maintains the invariant that at most one live timer
// handle exists per job id: scheduling replaces any prior handle, and
// cancellation is an idempotent pure operation with no state side
// effects. The scheduler is an injected dependency so tests can
// substitute a manual implementation.
package sched

import (
	"sync"
	"time"

	"github.com/quickgig/rush/id"
)

// Scheduler schedules at most one pending callback per job id.
type Scheduler interface {
	// Schedule arms fn to run after delay, replacing any pending timer
	// for the same job id.
	Schedule(jobID id.JobID, delay time.Duration, fn func())

	// Cancel disarms the pending timer for the job id, if any. Safe to
	// call redundantly; an already-fired timer is a no-op.
	Cancel(jobID id.JobID)

	// Stop cancels every pending timer.
	Stop()
}

// TimerScheduler implements Scheduler on time.AfterFunc with a
// concurrency-safe keyed handle map.
type TimerScheduler struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// Compile-time interface check.
var _ Scheduler = (*TimerScheduler)(nil)

// New creates an empty TimerScheduler.
func New() *TimerScheduler {
	return &TimerScheduler{timers: make(map[string]*time.Timer)}
}

// Schedule arms fn after delay, replacing any pending timer for jobID.
func (s *TimerScheduler) Schedule(jobID id.JobID, delay time.Duration, fn func()) {
	key := jobID.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		// Self-remove before running so the callback may reschedule.
		s.mu.Lock()
		if s.timers[key] == timer {
			delete(s.timers, key)
		}
		s.mu.Unlock()
		fn()
	})
	s.timers[key] = timer
}

// Cancel disarms the pending timer for jobID, if any.
func (s *TimerScheduler) Cancel(jobID id.JobID) {
	key := jobID.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

// Stop cancels every pending timer.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
}

// Pending reports whether a timer is currently armed for jobID.
func (s *TimerScheduler) Pending(jobID id.JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.timers[jobID.String()]
	return ok
}
