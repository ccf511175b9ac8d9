// Package observability ships a metrics extension built on OpenTelemetry.
// Register it on the hook registry to track dispatch rates, wave fanout,
// lock churn, confirmations, failures, expiries, and settlement outcomes.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quickgig/rush/escrow"
	"github.com/quickgig/rush/hook"
	"github.com/quickgig/rush/id"
	"github.com/quickgig/rush/job"
	"github.com/quickgig/rush/penalty"
)

// Compile-time interface checks.
var (
	_ hook.Extension       = (*MetricsExtension)(nil)
	_ hook.DispatchStarted = (*MetricsExtension)(nil)
	_ hook.WaveSent        = (*MetricsExtension)(nil)
	_ hook.JobLocked       = (*MetricsExtension)(nil)
	_ hook.JobConfirmed    = (*MetricsExtension)(nil)
	_ hook.JobUnlocked     = (*MetricsExtension)(nil)
	_ hook.JobFailed       = (*MetricsExtension)(nil)
	_ hook.JobExpired      = (*MetricsExtension)(nil)
	_ hook.EscrowSettled   = (*MetricsExtension)(nil)
	_ hook.PenaltyApplied  = (*MetricsExtension)(nil)
)

// MetricsExtension records dispatch lifecycle metrics through an OTel
// meter. Counter creation errors are surfaced at construction rather
// than at emit time.
type MetricsExtension struct {
	dispatchStarted metric.Int64Counter
	wavesSent       metric.Int64Counter
	offersSent      metric.Int64Counter
	locksGranted    metric.Int64Counter
	locksReleased   metric.Int64Counter
	jobsConfirmed   metric.Int64Counter
	jobsFailed      metric.Int64Counter
	jobsExpired     metric.Int64Counter
	escrowsSettled  metric.Int64Counter
	penaltiesIssued metric.Int64Counter
}

// New creates a MetricsExtension on the global meter provider.
func New() (*MetricsExtension, error) {
	return NewWithMeter(otel.Meter("github.com/quickgig/rush/observability"))
}

// NewWithMeter creates a MetricsExtension on the given meter.
func NewWithMeter(meter metric.Meter) (*MetricsExtension, error) {
	m := &MetricsExtension{}
	for _, c := range []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.dispatchStarted, "rush.dispatch.started", "Jobs entering wave dispatch"},
		{&m.wavesSent, "rush.dispatch.waves", "Candidate waves sent"},
		{&m.offersSent, "rush.dispatch.offers", "Individual offer pings sent"},
		{&m.locksGranted, "rush.lock.granted", "Exclusive claims granted"},
		{&m.locksReleased, "rush.lock.released", "Exclusive claims released"},
		{&m.jobsConfirmed, "rush.job.confirmed", "Workers confirmed by employers"},
		{&m.jobsFailed, "rush.job.failed", "Jobs failed after exhausting waves"},
		{&m.jobsExpired, "rush.job.expired", "Jobs force-expired past deadline"},
		{&m.escrowsSettled, "rush.escrow.settled", "Escrows leaving held state"},
		{&m.penaltiesIssued, "rush.penalty.issued", "Penalty records appended"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Dispatch lifecycle hooks ────────────────────────

// OnDispatchStarted implements hook.DispatchStarted.
func (m *MetricsExtension) OnDispatchStarted(ctx context.Context, _ *job.Job) error {
	m.dispatchStarted.Add(ctx, 1)
	return nil
}

// OnWaveSent implements hook.WaveSent.
func (m *MetricsExtension) OnWaveSent(ctx context.Context, _ *job.Job, wave int, notified []id.CandidateID) error {
	m.wavesSent.Add(ctx, 1, metric.WithAttributes(attribute.Int("wave", wave)))
	m.offersSent.Add(ctx, int64(len(notified)))
	return nil
}

// OnJobLocked implements hook.JobLocked.
func (m *MetricsExtension) OnJobLocked(ctx context.Context, _ *job.Job, _ id.CandidateID) error {
	m.locksGranted.Add(ctx, 1)
	return nil
}

// OnJobUnlocked implements hook.JobUnlocked.
func (m *MetricsExtension) OnJobUnlocked(ctx context.Context, _ *job.Job) error {
	m.locksReleased.Add(ctx, 1)
	return nil
}

// OnJobConfirmed implements hook.JobConfirmed.
func (m *MetricsExtension) OnJobConfirmed(ctx context.Context, _ *job.Job, _ id.CandidateID) error {
	m.jobsConfirmed.Add(ctx, 1)
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, _ *job.Job, reason string) error {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}

// OnJobExpired implements hook.JobExpired.
func (m *MetricsExtension) OnJobExpired(ctx context.Context, _ *job.Job) error {
	m.jobsExpired.Add(ctx, 1)
	return nil
}

// ── Settlement hooks ────────────────────────────────

// OnEscrowSettled implements hook.EscrowSettled.
func (m *MetricsExtension) OnEscrowSettled(ctx context.Context, e *escrow.Escrow) error {
	m.escrowsSettled.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(e.Status))))
	return nil
}

// OnPenaltyApplied implements hook.PenaltyApplied.
func (m *MetricsExtension) OnPenaltyApplied(ctx context.Context, r *penalty.Record) error {
	m.penaltiesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(r.Type))))
	return nil
}
