package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/penalty"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ job.Store       = (*Store)(nil)
	_ candidate.Store = (*Store)(nil)
	_ escrow.Store    = (*Store)(nil)
	_ penalty.Store   = (*Store)(nil)
	_ event.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
// Safe for concurrent access. Intended for unit testing and development.
type Store struct {
	mu sync.RWMutex

	jobs       map[string]*job.Job
	candidates map[string]*candidate.Candidate
	escrows    map[string]*escrow.Escrow
	penalties  map[string][]*penalty.Record // key: actor ID
	events     map[string]*event.Event
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[string]*job.Job),
		candidates: make(map[string]*candidate.Candidate),
		escrows:    make(map[string]*escrow.Escrow),
		penalties:  make(map[string][]*penalty.Record),
		events:     make(map[string]*event.Event),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// cloneJob copies a job including its wave log, so callers can mutate
// their copy without racing with the store.
func cloneJob(j *job.Job) *job.Job {
	cp := *j
	if j.Waves != nil {
		cp.Waves = make([]job.Wave, len(j.Waves))
		copy(cp.Waves, j.Waves)
	}
	return &cp
}

// CreateJob persists a new job.
func (m *Store) CreateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return rush.ErrJobAlreadyExists
	}
	m.jobs[key] = cloneJob(j)
	return nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, rush.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// UpdateJob persists changes to an existing job if and only if the
// stored version matches. On success the stored version is bumped and
// mirrored back into the caller's struct.
func (m *Store) UpdateJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cur, ok := m.jobs[key]
	if !ok {
		return rush.ErrJobNotFound
	}
	if cur.Version != j.Version {
		return rush.ErrConflict
	}

	cp := cloneJob(j)
	cp.Version++
	cp.UpdatedAt = time.Now().UTC()
	m.jobs[key] = cp

	j.Version = cp.Version
	j.UpdatedAt = cp.UpdatedAt
	return nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	if _, ok := m.jobs[key]; !ok {
		return rush.ErrJobNotFound
	}
	delete(m.jobs, key)
	return nil
}

// ListJobsByStatus returns jobs matching the given status.
func (m *Store) ListJobsByStatus(_ context.Context, status job.Status, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		result = append(result, cloneJob(j))
	}

	// Sort by CreatedAt for deterministic output.
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ListExpiredLocks returns locked jobs whose lock deadline has passed
// and that have no confirmed worker.
func (m *Store) ListExpiredLocks(_ context.Context, now time.Time) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusLocked || !j.ConfirmedWorker.IsNil() {
			continue
		}
		if j.LockExpiresAt == nil || j.LockExpiresAt.After(now) {
			continue
		}
		stale = append(stale, cloneJob(j))
	}
	return stale, nil
}

// ListExpiredJobs returns unresolved jobs past their deadline. Locked
// jobs are included only once the grace allowance has also run out.
func (m *Store) ListExpiredJobs(_ context.Context, now time.Time, lockGrace time.Duration) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stale []*job.Job
	for _, j := range m.jobs {
		switch j.Status {
		case job.StatusPending, job.StatusDispatching, job.StatusLocked:
		default:
			continue
		}
		if !j.ConfirmedWorker.IsNil() || j.ExpiresAt.IsZero() {
			continue
		}
		deadline := j.ExpiresAt
		if j.Status == job.StatusLocked {
			deadline = deadline.Add(lockGrace)
		}
		if deadline.After(now) {
			continue
		}
		stale = append(stale, cloneJob(j))
	}
	return stale, nil
}

// ──────────────────────────────────────────────────
// Candidate Store
// ──────────────────────────────────────────────────

func cloneCandidate(c *candidate.Candidate) *candidate.Candidate {
	cp := *c
	if c.Skills != nil {
		cp.Skills = make([]string, len(c.Skills))
		copy(cp.Skills, c.Skills)
	}
	return &cp
}

// PutCandidate creates or replaces a candidate record.
func (m *Store) PutCandidate(_ context.Context, c *candidate.Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := cloneCandidate(c)
	cp.UpdatedAt = time.Now().UTC()
	m.candidates[c.ID.String()] = cp
	return nil
}

// GetCandidate retrieves a candidate by ID.
func (m *Store) GetCandidate(_ context.Context, candID id.CandidateID) (*candidate.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.candidates[candID.String()]
	if !ok {
		return nil, rush.ErrCandidateNotFound
	}
	return cloneCandidate(c), nil
}

// ListDispatchable returns every candidate flagged available for dispatch.
func (m *Store) ListDispatchable(_ context.Context) ([]*candidate.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*candidate.Candidate
	for _, c := range m.candidates {
		if !c.AvailableForDispatch {
			continue
		}
		result = append(result, cloneCandidate(c))
	}
	return result, nil
}

// SetCooldown stamps the candidate's cooldown-until timestamp.
func (m *Store) SetCooldown(_ context.Context, candID id.CandidateID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[candID.String()]
	if !ok {
		return rush.ErrCandidateNotFound
	}
	c.CooldownUntil = until
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ApplyPenalty sets the ban timestamp and adjusts reputation in one write.
func (m *Store) ApplyPenalty(_ context.Context, candID id.CandidateID, banUntil time.Time, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[candID.String()]
	if !ok {
		return rush.ErrCandidateNotFound
	}
	c.BannedUntil = banUntil
	c.Reputation += delta
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ListLapsedAvailability returns available candidates whose window ended.
func (m *Store) ListLapsedAvailability(_ context.Context, now time.Time) ([]*candidate.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lapsed []*candidate.Candidate
	for _, c := range m.candidates {
		if !c.AvailableForDispatch || c.AvailableUntil.IsZero() {
			continue
		}
		if c.AvailableUntil.After(now) {
			continue
		}
		lapsed = append(lapsed, cloneCandidate(c))
	}
	return lapsed, nil
}

// ClearAvailability drops the available and online flags.
func (m *Store) ClearAvailability(_ context.Context, candID id.CandidateID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.candidates[candID.String()]
	if !ok {
		return rush.ErrCandidateNotFound
	}
	c.AvailableForDispatch = false
	c.Online = false
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// ──────────────────────────────────────────────────
// Escrow Store
// ──────────────────────────────────────────────────

func cloneEscrow(e *escrow.Escrow) *escrow.Escrow {
	cp := *e
	if e.Events != nil {
		cp.Events = make([]escrow.Event, len(e.Events))
		copy(cp.Events, e.Events)
	}
	return &cp
}

// CreateEscrow persists a new escrow.
func (m *Store) CreateEscrow(_ context.Context, e *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, exists := m.escrows[key]; exists {
		return rush.ErrEscrowAlreadyExists
	}
	m.escrows[key] = cloneEscrow(e)
	return nil
}

// GetEscrow retrieves an escrow by ID.
func (m *Store) GetEscrow(_ context.Context, escrowID id.EscrowID) (*escrow.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.escrows[escrowID.String()]
	if !ok {
		return nil, rush.ErrEscrowNotFound
	}
	return cloneEscrow(e), nil
}

// GetEscrowByJob retrieves the escrow held against a job.
func (m *Store) GetEscrowByJob(_ context.Context, jobID id.JobID) (*escrow.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.escrows {
		if e.JobID.String() == jobID.String() {
			return cloneEscrow(e), nil
		}
	}
	return nil, rush.ErrEscrowNotFound
}

// UpdateEscrow persists the status and event log of an existing escrow.
func (m *Store) UpdateEscrow(_ context.Context, e *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := e.ID.String()
	if _, ok := m.escrows[key]; !ok {
		return rush.ErrEscrowNotFound
	}
	cp := cloneEscrow(e)
	cp.UpdatedAt = time.Now().UTC()
	m.escrows[key] = cp
	return nil
}

// ──────────────────────────────────────────────────
// Penalty Store
// ──────────────────────────────────────────────────

// AppendPenalty persists a new penalty record on the actor's history.
func (m *Store) AppendPenalty(_ context.Context, r *penalty.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *r
	key := r.ActorID.String()
	m.penalties[key] = append(m.penalties[key], &cp)
	return nil
}

// ListPenalties returns all penalty records for an actor, oldest first.
func (m *Store) ListPenalties(_ context.Context, actorID id.AnyID) ([]*penalty.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.penalties[actorID.String()]
	result := make([]*penalty.Record, 0, len(records))
	for _, r := range records {
		cp := *r
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].AppliedAt.Before(result[k].AppliedAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Event Store
// ──────────────────────────────────────────────────

// PublishEvent persists a new event.
func (m *Store) PublishEvent(_ context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.events[evt.ID.String()] = evt
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based: loops with 10ms sleep until an event is available or timeout.
func (m *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		m.mu.RLock()
		for _, evt := range m.events {
			if evt.Name == name && !evt.Acked {
				m.mu.RUnlock()
				return evt, nil
			}
		}
		m.mu.RUnlock()

		// Brief sleep to avoid busy-waiting.
		time.Sleep(10 * time.Millisecond)
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (m *Store) AckEvent(_ context.Context, eventID id.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	evt, ok := m.events[eventID.String()]
	if !ok {
		return rush.ErrEventNotFound
	}
	evt.Acked = true
	return nil
}
