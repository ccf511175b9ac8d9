// Package fanout pushes time-boxed offers to a ranked batch of
// candidates and stamps each one's per-candidate cooldown. Fanout is
// partial-failure tolerant: one candidate's publish failure never stops
// the rest of the batch.
package fanout

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/quickgig/rush/candidate"
	"github.com/quickgig/rush/event"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/match"
)

// Fanout notifies candidates of an offer through the event sink.
type Fanout struct {
	candidates candidate.Store
	sink       event.Sink
	logger     *slog.Logger

	cooldown time.Duration
	offerTTL time.Duration
	limiter  *rate.Limiter
}

// Option configures a Fanout.
type Option func(*Fanout)

// WithLogger sets the structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(f *Fanout) { f.logger = lg }
}

// WithRateLimit caps sustained offer publishes per second with the given
// burst. Zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(f *Fanout) {
		if perSecond > 0 {
			if burst <= 0 {
				burst = 1
			}
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// New creates a Fanout. cooldown is the per-candidate minimum gap between
// offers; offerTTL is the countdown carried in each ping.
func New(candidates candidate.Store, sink event.Sink, cooldown, offerTTL time.Duration, opts ...Option) *Fanout {
	f := &Fanout{
		candidates: candidates,
		sink:       sink,
		logger:     slog.Default(),
		cooldown:   cooldown,
		offerTTL:   offerTTL,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notify offers the job to each ranked candidate in order, skipping any
// whose cooldown has not elapsed, and returns the candidates actually
// notified. The returned list, not the batch requested, is what the
// coordinator records into the job's wave history.
func (f *Fanout) Notify(ctx context.Context, j *job.Job, ranked []match.Ranked, wave int) []id.CandidateID {
	now := time.Now().UTC()
	notified := make([]id.CandidateID, 0, len(ranked))

	for _, r := range ranked {
		c := r.Candidate
		if c.InCooldown(now) {
			continue
		}

		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				// Context cancelled mid-batch; whoever was already
				// notified stays notified.
				return notified
			}
		}

		if err := f.candidates.SetCooldown(ctx, c.ID, now.Add(f.cooldown)); err != nil {
			f.logger.Warn("cooldown stamp failed",
				slog.String("candidate_id", c.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		ping := event.StudentPing{
			Envelope:    event.NewEnvelope(j.ID, string(j.Status)),
			CandidateID: c.ID,
			JobTitle:    j.Title,
			DistanceKm:  r.DistanceKm,
			Pay:         j.Pay.String(),
			ExpiresIn:   f.offerTTL,
			Wave:        wave,
		}
		if err := f.sink.Publish(ctx, ping); err != nil {
			f.logger.Warn("offer publish failed",
				slog.String("candidate_id", c.ID.String()),
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		notified = append(notified, c.ID)
	}

	return notified
}
