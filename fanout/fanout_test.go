package fanout_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quickgig/rush"
	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/fanout"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/match"
	"github.com/quickgig/rush/store/memory"
)

const (
	cooldown = 30 * time.Second
	offerTTL = 10 * time.Second
)

// sinkSpy records published payloads and can fail selectively.
type sinkSpy struct {
	mu      sync.Mutex
	pings   []event.StudentPing
	failFor map[string]bool
}

func (s *sinkSpy) Publish(_ context.Context, p event.Payload) error {
	ping, ok := p.(event.StudentPing)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[ping.CandidateID.String()] {
		return errors.New("push gateway down")
	}
	s.pings = append(s.pings, ping)
	return nil
}

func (s *sinkSpy) sent() []event.StudentPing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.StudentPing(nil), s.pings...)
}

func testJob() *job.Job {
	return &job.Job{
		Entity:     rush.NewEntity(),
		ID:         id.NewJobID(),
		EmployerID: id.NewEmployerID(),
		Title:      "unload truck",
		Pay:        decimal.NewFromInt(25),
		Status:     job.StatusDispatching,
	}
}

func seedRanked(t *testing.T, s *memory.Store, n int) []match.Ranked {
	t.Helper()
	ranked := make([]match.Ranked, 0, n)
	for i := 0; i < n; i++ {
		c := &candidate.Candidate{
			Entity:               rush.NewEntity(),
			ID:                   id.NewCandidateID(),
			HasLocation:          true,
			Online:               true,
			AvailableForDispatch: true,
		}
		if err := s.PutCandidate(context.Background(), c); err != nil {
			t.Fatalf("PutCandidate: %v", err)
		}
		ranked = append(ranked, match.Ranked{Candidate: c, DistanceKm: float64(i)})
	}
	return ranked
}

func TestNotify(t *testing.T) {
	t.Parallel()
	s := memory.New()
	spy := &sinkSpy{}
	f := fanout.New(s, spy, cooldown, offerTTL)

	j := testJob()
	ranked := seedRanked(t, s, 3)

	notified := f.Notify(context.Background(), j, ranked, 2)
	if len(notified) != 3 {
		t.Fatalf("len(notified) = %d, want 3", len(notified))
	}

	pings := spy.sent()
	if len(pings) != 3 {
		t.Fatalf("len(pings) = %d, want 3", len(pings))
	}
	for i, p := range pings {
		if p.Wave != 2 {
			t.Errorf("ping %d wave = %d, want 2", i, p.Wave)
		}
		if p.ExpiresIn != offerTTL {
			t.Errorf("ping %d ExpiresIn = %v, want %v", i, p.ExpiresIn, offerTTL)
		}
		if p.JobTitle != j.Title {
			t.Errorf("ping %d title = %q, want %q", i, p.JobTitle, j.Title)
		}
	}

	// Each notified candidate got their cooldown stamped.
	now := time.Now().UTC()
	for _, cid := range notified {
		c, err := s.GetCandidate(context.Background(), cid)
		if err != nil {
			t.Fatalf("GetCandidate: %v", err)
		}
		if !c.InCooldown(now) {
			t.Errorf("candidate %s has no cooldown", cid)
		}
	}
}

func TestNotifySkipsCooldown(t *testing.T) {
	t.Parallel()
	s := memory.New()
	spy := &sinkSpy{}
	f := fanout.New(s, spy, cooldown, offerTTL)

	j := testJob()
	ranked := seedRanked(t, s, 2)

	// First candidate is still cooling down from a previous offer.
	cooling := ranked[0].Candidate.ID
	if err := s.SetCooldown(context.Background(), cooling, time.Now().UTC().Add(time.Minute)); err != nil {
		t.Fatalf("SetCooldown: %v", err)
	}
	ranked[0].Candidate.CooldownUntil = time.Now().UTC().Add(time.Minute)

	notified := f.Notify(context.Background(), j, ranked, 1)
	if len(notified) != 1 {
		t.Fatalf("len(notified) = %d, want 1", len(notified))
	}
	if notified[0].String() == cooling.String() {
		t.Error("cooling candidate was notified")
	}
}

func TestNotifyPartialFailure(t *testing.T) {
	t.Parallel()
	s := memory.New()

	j := testJob()
	ranked := seedRanked(t, s, 3)
	spy := &sinkSpy{failFor: map[string]bool{ranked[1].Candidate.ID.String(): true}}
	f := fanout.New(s, spy, cooldown, offerTTL)

	notified := f.Notify(context.Background(), j, ranked, 1)
	if len(notified) != 2 {
		t.Fatalf("len(notified) = %d, want 2", len(notified))
	}
	for _, cid := range notified {
		if cid.String() == ranked[1].Candidate.ID.String() {
			t.Error("failed candidate reported as notified")
		}
	}
}

func TestNotifyEmptyBatch(t *testing.T) {
	t.Parallel()
	s := memory.New()
	spy := &sinkSpy{}
	f := fanout.New(s, spy, cooldown, offerTTL)

	notified := f.Notify(context.Background(), testJob(), nil, 1)
	if len(notified) != 0 {
		t.Errorf("len(notified) = %d, want 0", len(notified))
	}
}

func TestNotifyRateLimited(t *testing.T) {
	t.Parallel()
	s := memory.New()
	spy := &sinkSpy{}
	// High rate: the limiter must not drop anyone, only pace them.
	f := fanout.New(s, spy, cooldown, offerTTL, fanout.WithRateLimit(1000, 5))

	j := testJob()
	ranked := seedRanked(t, s, 5)
	notified := f.Notify(context.Background(), j, ranked, 1)
	if len(notified) != 5 {
		t.Fatalf("len(notified) = %d, want 5", len(notified))
	}
}
